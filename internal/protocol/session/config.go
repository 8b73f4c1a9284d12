package session

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidPort         = errors.New("session: invalid port")
	ErrInvalidTimeout      = errors.New("session: invalid timeout")
	ErrInvalidIdleStrategy = errors.New("session: invalid idle timeout strategy")
	ErrInvalidBufferSize   = errors.New("session: invalid buffer size")
	ErrInvalidConsumers    = errors.New("session: invalid max concurrent consumers")
)

// IdleStrategy selects how an idle connection is torn down.
type IdleStrategy string

const (
	IdleClose IdleStrategy = "close"
	IdleReset IdleStrategy = "reset"
)

// SecurityMode gates how strictly TLS settings are enforced.
type SecurityMode string

const (
	SecurityModeDevelopment SecurityMode = "development"
	SecurityModeProduction  SecurityMode = "production"
)

// TLSConfig is the optional TLS layer under the MLLP stream.
type TLSConfig struct {
	Enabled            bool
	Mutual             bool
	CertFile           string
	KeyFile            string
	CAFile             string
	ServerName         string
	InsecureSkipVerify bool
	HandshakeTimeout   time.Duration
}

// Config holds the per-connection tunables shared by the listener and the
// client producer.
type Config struct {
	Hostname string
	Port     int
	// Backlog sizes the listener's accept queue on unix platforms. The
	// kernel caps it at somaxconn.
	Backlog int

	BindTimeout       time.Duration
	BindRetryInterval time.Duration
	LenientBind       bool
	AcceptTimeout     time.Duration
	ConnectTimeout    time.Duration
	// ReceiveTimeout bounds the wait for the first byte of a frame.
	ReceiveTimeout time.Duration
	// ReadTimeout bounds every read once a frame has started.
	ReadTimeout time.Duration
	SendTimeout time.Duration

	IdleTimeout         time.Duration
	IdleTimeoutStrategy IdleStrategy

	KeepAlive         bool
	TCPNoDelay        bool
	ReuseAddress      bool
	ReceiveBufferSize int
	SendBufferSize    int

	AutoAck          bool
	HL7Headers       bool
	RequireEndOfData bool
	ValidatePayload  bool
	Charset          string

	MaxConcurrentConsumers int
	LivenessProbeTimeout   time.Duration

	LogSensitiveData     bool
	LogSensitiveMaxBytes int

	SecurityMode SecurityMode
	TLS          TLSConfig
}

func DefaultConfig() Config {
	return Config{
		Hostname:               "0.0.0.0",
		Port:                   2575,
		Backlog:                5,
		BindTimeout:            30 * time.Second,
		BindRetryInterval:      5 * time.Second,
		AcceptTimeout:          60 * time.Second,
		ConnectTimeout:         30 * time.Second,
		ReceiveTimeout:         15 * time.Second,
		ReadTimeout:            5 * time.Second,
		SendTimeout:            15 * time.Second,
		IdleTimeoutStrategy:    IdleReset,
		KeepAlive:              true,
		TCPNoDelay:             true,
		ReuseAddress:           false,
		ReceiveBufferSize:      8192,
		SendBufferSize:         8192,
		AutoAck:                true,
		HL7Headers:             true,
		RequireEndOfData:       true,
		ValidatePayload:        false,
		MaxConcurrentConsumers: 5,
		LivenessProbeTimeout:   250 * time.Millisecond,
		LogSensitiveMaxBytes:   1024,
		SecurityMode:           SecurityModeDevelopment,
		TLS: TLSConfig{
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

// WithDefaults fills zero-valued numeric, duration and enum fields. Boolean
// switches are left as given.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if strings.TrimSpace(c.Hostname) == "" {
		c.Hostname = d.Hostname
	}
	if c.Backlog <= 0 {
		c.Backlog = d.Backlog
	}
	if c.BindTimeout <= 0 {
		c.BindTimeout = d.BindTimeout
	}
	if c.BindRetryInterval <= 0 {
		c.BindRetryInterval = d.BindRetryInterval
	}
	if c.AcceptTimeout <= 0 {
		c.AcceptTimeout = d.AcceptTimeout
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.ReceiveTimeout <= 0 {
		c.ReceiveTimeout = d.ReceiveTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = d.ReadTimeout
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = d.SendTimeout
	}
	if strings.TrimSpace(string(c.IdleTimeoutStrategy)) == "" {
		c.IdleTimeoutStrategy = d.IdleTimeoutStrategy
	}
	if c.ReceiveBufferSize <= 0 {
		c.ReceiveBufferSize = d.ReceiveBufferSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	if c.MaxConcurrentConsumers <= 0 {
		c.MaxConcurrentConsumers = d.MaxConcurrentConsumers
	}
	if c.LivenessProbeTimeout <= 0 {
		c.LivenessProbeTimeout = d.LivenessProbeTimeout
	}
	if c.LogSensitiveMaxBytes <= 0 {
		c.LogSensitiveMaxBytes = d.LogSensitiveMaxBytes
	}
	if c.TLS.HandshakeTimeout <= 0 {
		c.TLS.HandshakeTimeout = d.TLS.HandshakeTimeout
	}
	c.SecurityMode = NormalizeSecurityMode(c.SecurityMode)
	c.IdleTimeoutStrategy = IdleStrategy(strings.ToLower(strings.TrimSpace(string(c.IdleTimeoutStrategy))))
	return c
}

// Validate checks option ranges. Transport security is checked separately by
// ValidateClientTransport / ValidateServerTransport.
func (c Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPort, c.Port)
	}
	timeouts := []struct {
		name string
		v    time.Duration
	}{
		{"bind_timeout", c.BindTimeout},
		{"bind_retry_interval", c.BindRetryInterval},
		{"accept_timeout", c.AcceptTimeout},
		{"connect_timeout", c.ConnectTimeout},
		{"receive_timeout", c.ReceiveTimeout},
		{"read_timeout", c.ReadTimeout},
		{"send_timeout", c.SendTimeout},
		{"liveness_probe_timeout", c.LivenessProbeTimeout},
	}
	for _, tc := range timeouts {
		if tc.v <= 0 {
			return fmt.Errorf("%w: %s=%s", ErrInvalidTimeout, tc.name, tc.v)
		}
	}
	if c.IdleTimeout < 0 {
		return fmt.Errorf("%w: idle_timeout=%s", ErrInvalidTimeout, c.IdleTimeout)
	}
	switch c.IdleTimeoutStrategy {
	case IdleClose, IdleReset:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidIdleStrategy, c.IdleTimeoutStrategy)
	}
	if c.ReceiveBufferSize <= 0 || c.SendBufferSize <= 0 {
		return fmt.Errorf("%w: receive=%d send=%d", ErrInvalidBufferSize, c.ReceiveBufferSize, c.SendBufferSize)
	}
	if c.MaxConcurrentConsumers <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidConsumers, c.MaxConcurrentConsumers)
	}
	return nil
}

// Address is the host:port the listener binds or the client dials.
func (c Config) Address() string {
	return net.JoinHostPort(c.Hostname, strconv.Itoa(c.Port))
}
