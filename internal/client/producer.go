// Package client is the MLLP producer: one logical connection per Producer,
// one send, receive, classify cycle per exchange, no background goroutines.
package client

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mllp/internal/exchange"
	"github.com/danmuck/mllp/internal/observability"
	"github.com/danmuck/mllp/internal/protocol"
	"github.com/danmuck/mllp/internal/protocol/frame"
	"github.com/danmuck/mllp/internal/protocol/hl7"
	"github.com/danmuck/mllp/internal/protocol/session"
)

var ErrNilExchange = errors.New("client: exchange is nil")

type Producer struct {
	cfg session.Config
	log zerolog.Logger

	mu       sync.Mutex
	conn     net.Conn
	r        *frame.Reader
	w        *frame.Writer
	lastUsed time.Time
}

func New(cfg session.Config) (*Producer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateClientTransport(); err != nil {
		return nil, err
	}
	return &Producer{
		cfg: cfg,
		log: observability.Component("client").With().Str("addr", cfg.Address()).Logger(),
	}, nil
}

func (p *Producer) Config() session.Config {
	return p.cfg
}

// Connected reports whether the producer currently holds a socket.
func (p *Producer) Connected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn != nil
}

// SendMessage wraps payload in a new exchange and sends it.
func (p *Producer) SendMessage(ctx context.Context, payload []byte) (*exchange.Exchange, error) {
	ex := exchange.New(payload)
	return ex, p.Send(ctx, ex)
}

// Send writes ex.Payload and waits for its acknowledgement. The received
// ack and its code are recorded on ex even when the code is negative. Any
// failure other than a negative acknowledgement resets the connection; a
// pre-send control skips the write and returns nil.
func (p *Producer) Send(ctx context.Context, ex *exchange.Exchange) error {
	if ex == nil {
		return ErrNilExchange
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	log := p.log.With().Str("exchange_id", ex.ID).Str("control_id", hl7.MessageControlID(ex.Payload)).Logger()

	p.expireIdleLocked()
	if err := p.ensureConnectedLocked(ctx); err != nil {
		return p.failedLocked(log, err)
	}
	ex.LocalAddr = p.conn.LocalAddr().String()
	ex.RemoteAddr = p.conn.RemoteAddr().String()

	switch ex.Control.BeforeSend() {
	case exchange.ActionReset:
		log.Info().Msg("client.Producer.Send reset before send")
		p.resetLocked()
		return nil
	case exchange.ActionClose:
		log.Info().Msg("client.Producer.Send close before send")
		p.closeLocked()
		return nil
	}

	if err := p.w.WriteMessage(ex.Payload, p.cfg.SendTimeout); err != nil {
		return p.failedLocked(log, err)
	}
	ack, err := p.r.ReadFrame(p.cfg.ReceiveTimeout, p.cfg.ReadTimeout, p.cfg.RequireEndOfData)
	if err != nil {
		return p.failedLocked(log, ackReadError(ex.Payload, err))
	}
	p.lastUsed = time.Now()
	ex.Ack = ack

	if p.cfg.ValidatePayload {
		if err := hl7.ValidateAck(ex.Payload, ack); err != nil {
			return p.failedLocked(log, err)
		}
	}
	code, err := hl7.ClassifyAck(ex.Payload, ack)
	if err != nil {
		pe, ok := protocol.AsError(err)
		if !ok || !pe.NegativeAck() {
			return p.failedLocked(log, err)
		}
		code = hl7.AckCode(pe.AckCode())
		pe.WithPayloadLogging(p.cfg.LogSensitiveData, p.cfg.LogSensitiveMaxBytes)
		log.Warn().Str("ack_code", string(code)).Err(err).Msg("client.Producer.Send negative acknowledgement")
	}
	ex.AckCode = code
	observability.RecordExchange(observability.RoleClient, string(code), time.Since(started))
	log.Debug().Str("ack_code", string(code)).Msg("client.Producer.Send acknowledged")

	switch ex.Control.AfterSend() {
	case exchange.ActionReset:
		log.Info().Msg("client.Producer.Send reset after send")
		p.resetLocked()
	case exchange.ActionClose:
		log.Info().Msg("client.Producer.Send close after send")
		p.closeLocked()
	}
	if err != nil {
		ex.Err = err
	}
	return err
}

// ackReadError maps a failed acknowledgement read onto the ack phase.
func ackReadError(message []byte, err error) error {
	pe, ok := protocol.AsError(err)
	if !ok {
		return protocol.NewReceive(nil, err).WithMessage(message)
	}
	if errors.Is(err, protocol.ErrStartTimeout) {
		return protocol.NewTimeout(protocol.PhaseAck, nil, pe.Cause).WithMessage(message)
	}
	return pe.WithMessage(message)
}

func (p *Producer) failedLocked(log zerolog.Logger, err error) error {
	if pe, ok := protocol.AsError(err); ok {
		pe.WithPayloadLogging(p.cfg.LogSensitiveData, p.cfg.LogSensitiveMaxBytes)
	}
	observability.RecordError(observability.RoleClient, protocol.KindOf(err).Label())
	log.Error().Err(err).Msg("client.Producer.Send failed; resetting connection")
	p.resetLocked()
	return err
}

// expireIdleLocked drops a connection left unused for IdleTimeout.
func (p *Producer) expireIdleLocked() {
	if p.conn == nil || p.cfg.IdleTimeout <= 0 || time.Since(p.lastUsed) < p.cfg.IdleTimeout {
		return
	}
	p.log.Info().
		Dur("idle_timeout", p.cfg.IdleTimeout).
		Str("strategy", string(p.cfg.IdleTimeoutStrategy)).
		Msg("client.Producer idle timeout")
	if p.cfg.IdleTimeoutStrategy == session.IdleClose {
		p.closeLocked()
		return
	}
	p.resetLocked()
}

// ensureConnectedLocked reuses a live socket or dials a new one. A socket
// the peer has closed, or one holding unsolicited bytes, is replaced.
func (p *Producer) ensureConnectedLocked(ctx context.Context) error {
	if p.conn != nil {
		result, err := p.r.Probe(0)
		// A peer that ends frames late leaves END_OF_DATA behind the last
		// acknowledgement when it is optional.
		if err == nil && result == frame.ProbeData && !p.cfg.RequireEndOfData && p.r.DropStrayEndOfData() > 0 {
			result, err = p.r.Probe(0)
		}
		switch {
		case err != nil || result == frame.ProbeClosed:
			p.log.Debug().Err(err).Msg("client.Producer peer closed connection; redialing")
			p.closeLocked()
		case result == frame.ProbeData:
			p.log.Warn().Int("buffered", p.r.Buffered()).Msg("client.Producer unsolicited data on idle connection; resetting")
			p.resetLocked()
		default:
			return nil
		}
	}

	conn, err := session.Dial(ctx, p.cfg)
	if err != nil {
		observability.RecordConnection(observability.RoleClient, observability.OutcomeFailed)
		return protocol.NewConnect(p.cfg.Address(), err)
	}
	observability.RecordConnection(observability.RoleClient, observability.OutcomeDialed)
	observability.ConnectionOpened(observability.RoleClient)
	p.conn = conn
	p.r = frame.NewReader(conn, p.cfg.ReceiveBufferSize)
	p.w = frame.NewWriter(conn, p.cfg.SendBufferSize)
	p.lastUsed = time.Now()
	p.log.Debug().Str("local", conn.LocalAddr().String()).Msg("client.Producer connected")
	return nil
}

func (p *Producer) closeLocked() {
	p.dropLocked(session.Close)
}

func (p *Producer) resetLocked() {
	p.dropLocked(session.Reset)
}

func (p *Producer) dropLocked(teardown func(net.Conn) error) {
	if p.conn == nil {
		return
	}
	_ = teardown(p.conn)
	p.conn, p.r, p.w = nil, nil, nil
	observability.ConnectionClosed(observability.RoleClient)
}

// Close shuts the connection down gracefully. The next Send redials.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closeLocked()
	return nil
}

// Reset aborts the connection. The next Send redials.
func (p *Producer) Reset() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}
