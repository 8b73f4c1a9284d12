// Package config loads mllpctl TOML files onto the engine defaults. Only keys
// present in the file override a default.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/danmuck/mllp/internal/logging"
	"github.com/danmuck/mllp/internal/protocol/hl7"
	"github.com/danmuck/mllp/internal/protocol/session"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is one mllpctl process: the MLLP connection settings plus the
// optional admin surface and log level.
type Config struct {
	Session  session.Config
	Admin    AdminConfig
	LogLevel string
}

type AdminConfig struct {
	// Addr enables the admin HTTP surface when non-empty.
	Addr        string
	Name        string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on control routes.
	Token string
}

func Default() Config {
	return Config{
		Session: session.DefaultConfig(),
		Admin: AdminConfig{
			Name: "mllpctl",
		},
		LogLevel: "info",
	}
}

type fileConfig struct {
	LogLevel string      `toml:"log_level"`
	MLLP     mllpSection `toml:"mllp"`
	TLS      tlsSection  `toml:"tls"`
	Admin    adminFile   `toml:"admin"`
}

type mllpSection struct {
	Hostname               string `toml:"hostname"`
	Port                   int    `toml:"port"`
	Backlog                int    `toml:"backlog"`
	BindTimeout            string `toml:"bind_timeout"`
	BindRetryInterval      string `toml:"bind_retry_interval"`
	LenientBind            bool   `toml:"lenient_bind"`
	AcceptTimeout          string `toml:"accept_timeout"`
	ConnectTimeout         string `toml:"connect_timeout"`
	ReceiveTimeout         string `toml:"receive_timeout"`
	ReadTimeout            string `toml:"read_timeout"`
	SendTimeout            string `toml:"send_timeout"`
	IdleTimeout            string `toml:"idle_timeout"`
	IdleTimeoutStrategy    string `toml:"idle_timeout_strategy"`
	KeepAlive              bool   `toml:"keep_alive"`
	TCPNoDelay             bool   `toml:"tcp_no_delay"`
	ReuseAddress           bool   `toml:"reuse_address"`
	ReceiveBufferSize      int    `toml:"receive_buffer_size"`
	SendBufferSize         int    `toml:"send_buffer_size"`
	AutoAck                bool   `toml:"auto_ack"`
	HL7Headers             bool   `toml:"hl7_headers"`
	RequireEndOfData       bool   `toml:"require_end_of_data"`
	ValidatePayload        bool   `toml:"validate_payload"`
	Charset                string `toml:"charset"`
	MaxConcurrentConsumers int    `toml:"max_concurrent_consumers"`
	LivenessProbeTimeout   string `toml:"liveness_probe_timeout"`
	LogSensitiveData       bool   `toml:"log_sensitive_data"`
	LogSensitiveMaxBytes   int    `toml:"log_sensitive_max_bytes"`
	SecurityMode           string `toml:"security_mode"`
}

type tlsSection struct {
	Enabled            bool   `toml:"enabled"`
	Mutual             bool   `toml:"mutual"`
	CertFile           string `toml:"cert_file"`
	KeyFile            string `toml:"key_file"`
	CAFile             string `toml:"ca_file"`
	ServerName         string `toml:"server_name"`
	InsecureSkipVerify bool   `toml:"insecure_skip_verify"`
	HandshakeTimeout   string `toml:"handshake_timeout"`
}

type adminFile struct {
	Addr        string   `toml:"addr"`
	Name        string   `toml:"name"`
	CorsOrigins []string `toml:"cors_origins"`
	Token       string   `toml:"token"`
}

// Load decodes path over Default(), fills remaining defaults and validates.
func Load(path string) (Config, error) {
	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		return Config{}, fmt.Errorf("%w: unknown keys in %s: %s", ErrInvalidConfig, path, strings.Join(keys, ", "))
	}
	cfg, err := overlay(Default(), meta, raw)
	if err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

func overlay(cfg Config, meta toml.MetaData, raw fileConfig) (Config, error) {
	s := &cfg.Session
	m, t := raw.MLLP, raw.TLS

	set(meta, &cfg.LogLevel, strings.TrimSpace(raw.LogLevel), "log_level")

	set(meta, &s.Hostname, strings.TrimSpace(m.Hostname), "mllp", "hostname")
	set(meta, &s.Port, m.Port, "mllp", "port")
	set(meta, &s.Backlog, m.Backlog, "mllp", "backlog")
	set(meta, &s.LenientBind, m.LenientBind, "mllp", "lenient_bind")
	set(meta, &s.IdleTimeoutStrategy, session.IdleStrategy(strings.TrimSpace(m.IdleTimeoutStrategy)), "mllp", "idle_timeout_strategy")
	set(meta, &s.KeepAlive, m.KeepAlive, "mllp", "keep_alive")
	set(meta, &s.TCPNoDelay, m.TCPNoDelay, "mllp", "tcp_no_delay")
	set(meta, &s.ReuseAddress, m.ReuseAddress, "mllp", "reuse_address")
	set(meta, &s.ReceiveBufferSize, m.ReceiveBufferSize, "mllp", "receive_buffer_size")
	set(meta, &s.SendBufferSize, m.SendBufferSize, "mllp", "send_buffer_size")
	set(meta, &s.AutoAck, m.AutoAck, "mllp", "auto_ack")
	set(meta, &s.HL7Headers, m.HL7Headers, "mllp", "hl7_headers")
	set(meta, &s.RequireEndOfData, m.RequireEndOfData, "mllp", "require_end_of_data")
	set(meta, &s.ValidatePayload, m.ValidatePayload, "mllp", "validate_payload")
	set(meta, &s.Charset, strings.TrimSpace(m.Charset), "mllp", "charset")
	set(meta, &s.MaxConcurrentConsumers, m.MaxConcurrentConsumers, "mllp", "max_concurrent_consumers")
	set(meta, &s.LogSensitiveData, m.LogSensitiveData, "mllp", "log_sensitive_data")
	set(meta, &s.LogSensitiveMaxBytes, m.LogSensitiveMaxBytes, "mllp", "log_sensitive_max_bytes")
	set(meta, &s.SecurityMode, session.SecurityMode(strings.TrimSpace(m.SecurityMode)), "mllp", "security_mode")

	set(meta, &s.TLS.Enabled, t.Enabled, "tls", "enabled")
	set(meta, &s.TLS.Mutual, t.Mutual, "tls", "mutual")
	set(meta, &s.TLS.CertFile, strings.TrimSpace(t.CertFile), "tls", "cert_file")
	set(meta, &s.TLS.KeyFile, strings.TrimSpace(t.KeyFile), "tls", "key_file")
	set(meta, &s.TLS.CAFile, strings.TrimSpace(t.CAFile), "tls", "ca_file")
	set(meta, &s.TLS.ServerName, strings.TrimSpace(t.ServerName), "tls", "server_name")
	set(meta, &s.TLS.InsecureSkipVerify, t.InsecureSkipVerify, "tls", "insecure_skip_verify")

	set(meta, &cfg.Admin.Addr, strings.TrimSpace(raw.Admin.Addr), "admin", "addr")
	set(meta, &cfg.Admin.Name, strings.TrimSpace(raw.Admin.Name), "admin", "name")
	set(meta, &cfg.Admin.CorsOrigins, raw.Admin.CorsOrigins, "admin", "cors_origins")
	set(meta, &cfg.Admin.Token, strings.TrimSpace(raw.Admin.Token), "admin", "token")

	durations := []struct {
		dst  *time.Duration
		raw  string
		keys []string
	}{
		{&s.BindTimeout, m.BindTimeout, []string{"mllp", "bind_timeout"}},
		{&s.BindRetryInterval, m.BindRetryInterval, []string{"mllp", "bind_retry_interval"}},
		{&s.AcceptTimeout, m.AcceptTimeout, []string{"mllp", "accept_timeout"}},
		{&s.ConnectTimeout, m.ConnectTimeout, []string{"mllp", "connect_timeout"}},
		{&s.ReceiveTimeout, m.ReceiveTimeout, []string{"mllp", "receive_timeout"}},
		{&s.ReadTimeout, m.ReadTimeout, []string{"mllp", "read_timeout"}},
		{&s.SendTimeout, m.SendTimeout, []string{"mllp", "send_timeout"}},
		{&s.IdleTimeout, m.IdleTimeout, []string{"mllp", "idle_timeout"}},
		{&s.LivenessProbeTimeout, m.LivenessProbeTimeout, []string{"mllp", "liveness_probe_timeout"}},
		{&s.TLS.HandshakeTimeout, t.HandshakeTimeout, []string{"tls", "handshake_timeout"}},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.keys...) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, strings.Join(d.keys, "."), err)
		}
		*d.dst = v
	}

	cfg.Session = cfg.Session.WithDefaults()
	return cfg, nil
}

func set[T any](meta toml.MetaData, dst *T, v T, keys ...string) {
	if meta.IsDefined(keys...) {
		*dst = v
	}
}

// Validate checks the session options, the charset name and the log level.
func (c Config) Validate() error {
	if err := c.Session.Validate(); err != nil {
		return err
	}
	if c.Session.Charset != "" {
		if _, err := hl7.LookupCharset(c.Session.Charset); err != nil {
			return fmt.Errorf("%w: charset: %w", ErrInvalidConfig, err)
		}
	}
	if c.LogLevel != "" && !logging.ValidLevel(c.LogLevel) {
		return fmt.Errorf("%w: log_level %q", ErrInvalidConfig, c.LogLevel)
	}
	return nil
}
