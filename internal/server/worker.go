package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/mllp/internal/exchange"
	"github.com/danmuck/mllp/internal/observability"
	"github.com/danmuck/mllp/internal/protocol"
	"github.com/danmuck/mllp/internal/protocol/frame"
	"github.com/danmuck/mllp/internal/protocol/hl7"
	"github.com/danmuck/mllp/internal/protocol/session"
)

// worker owns one accepted connection for its whole life.
type worker struct {
	srv *Server
	c   *connection
	r   *frame.Reader
	w   *frame.Writer
	log zerolog.Logger
}

func (s *Server) runWorker(ctx context.Context, c *connection) {
	wk := &worker{
		srv: s,
		c:   c,
		r:   frame.NewReader(c.conn, s.cfg.ReceiveBufferSize),
		w:   frame.NewWriter(c.conn, s.cfg.SendBufferSize),
		log: s.log.With().
			Str("remote", addrString(c.conn.RemoteAddr())).
			Str("local", addrString(c.conn.LocalAddr())).
			Logger(),
	}
	if err := session.Handshake(ctx, c.conn, s.cfg.TLS.HandshakeTimeout); err != nil {
		wk.log.Warn().Err(err).Msg("server.worker tls handshake failed")
		observability.RecordError(observability.RoleServer, protocol.KindConnect.Label())
		_ = session.Reset(c.conn)
		return
	}
	wk.probe()
	wk.loop(ctx)
}

// probe separates real clients from connect-only health checks. Either way
// the worker runs; a peeked byte stays buffered in the Reader.
func (wk *worker) probe() {
	result, err := wk.r.Probe(0)
	if err == nil && result == frame.ProbeIdle {
		result, err = wk.r.Probe(wk.srv.cfg.LivenessProbeTimeout)
	}
	if err != nil {
		wk.log.Debug().Err(err).Msg("server.worker probe failed")
		return
	}
	switch result {
	case frame.ProbeClosed:
		wk.log.Debug().Msg("server.worker connect-only probe")
	default:
		wk.log.Debug().Str("probe", result.String()).Msg("server.worker connected")
	}
}

func (wk *worker) loop(ctx context.Context) {
	cfg := wk.srv.cfg
	for {
		// Checked between exchanges as well as on receive timeouts.
		if ctx.Err() != nil {
			wk.log.Debug().Msg("server.worker shutdown")
			_ = session.Close(wk.c.conn)
			return
		}
		wait := cfg.ReceiveTimeout
		if cfg.IdleTimeout > 0 {
			if remaining := cfg.IdleTimeout - time.Since(wk.c.lastActivity()); remaining < wait {
				wait = max(remaining, frame.PollWait)
			}
		}

		payload, err := wk.r.ReadFrame(wait, cfg.ReadTimeout, cfg.RequireEndOfData)
		if err != nil {
			if errors.Is(err, protocol.ErrStartTimeout) {
				if ctx.Err() != nil {
					wk.log.Debug().Msg("server.worker shutdown")
					_ = session.Close(wk.c.conn)
					return
				}
				if cfg.IdleTimeout > 0 && time.Since(wk.c.lastActivity()) >= cfg.IdleTimeout {
					wk.idle()
					return
				}
				continue
			}
			if peerGone(err) {
				wk.log.Debug().Msg("server.worker connection closed")
				_ = session.Close(wk.c.conn)
				return
			}
			wk.fail("receive", err)
			return
		}
		wk.c.touch()
		if !wk.handle(ctx, payload) {
			return
		}
	}
}

// peerGone is a clean end of stream between frames, or a socket closed
// under the worker by the registry or shutdown.
func peerGone(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	pe, ok := protocol.AsError(err)
	return ok && pe.Kind == protocol.KindCorruptFrame && len(pe.Partial) == 0 && errors.Is(err, io.EOF)
}

func (wk *worker) idle() {
	cfg := wk.srv.cfg
	wk.log.Info().
		Dur("idle_timeout", cfg.IdleTimeout).
		Str("strategy", string(cfg.IdleTimeoutStrategy)).
		Msg("server.worker idle timeout")
	if cfg.IdleTimeoutStrategy == session.IdleClose {
		_ = session.Close(wk.c.conn)
		return
	}
	_ = session.Reset(wk.c.conn)
}

// fail logs err and resets the connection. The worker never reuses a socket
// after a failure.
func (wk *worker) fail(step string, err error) {
	cfg := wk.srv.cfg
	kind := protocol.KindOf(err)
	if pe, ok := protocol.AsError(err); ok {
		pe.WithPayloadLogging(cfg.LogSensitiveData, cfg.LogSensitiveMaxBytes)
	}
	observability.RecordError(observability.RoleServer, kind.Label())
	wk.log.Error().Str("step", step).Err(err).Msg("server.worker resetting connection")
	_ = session.Reset(wk.c.conn)
}

// handle runs one exchange. It reports whether the connection stays open.
func (wk *worker) handle(ctx context.Context, payload []byte) bool {
	cfg := wk.srv.cfg
	started := time.Now()
	ex := wk.newExchange(payload)
	log := wk.log.With().Str("exchange_id", ex.ID).Logger()

	if err := wk.process(ctx, ex); err != nil {
		wk.fail("process", err)
		return false
	}

	ack, code, err := wk.acknowledgement(ex)
	if err != nil {
		wk.fail("acknowledge", err)
		return false
	}

	switch ex.Control.BeforeSend() {
	case exchange.ActionReset:
		log.Info().Msg("server.worker reset before send")
		_ = session.Reset(wk.c.conn)
		return false
	case exchange.ActionClose:
		log.Info().Msg("server.worker close before send")
		_ = session.Close(wk.c.conn)
		return false
	}

	if err := wk.w.WriteAck(payload, ack, cfg.SendTimeout); err != nil {
		wk.fail("send", err)
		return false
	}
	wk.c.touch()
	wk.c.exchanges.Add(1)
	observability.RecordExchange(observability.RoleServer, string(code), time.Since(started))
	log.Debug().Str("ack_code", string(code)).Msg("server.worker acknowledged")

	switch ex.Control.AfterSend() {
	case exchange.ActionReset:
		log.Info().Msg("server.worker reset after send")
		_ = session.Reset(wk.c.conn)
		return false
	case exchange.ActionClose:
		log.Info().Msg("server.worker close after send")
		_ = session.Close(wk.c.conn)
		return false
	}
	return true
}

func (wk *worker) newExchange(payload []byte) *exchange.Exchange {
	cfg := wk.srv.cfg
	ex := exchange.New(payload)
	ex.LocalAddr = addrString(wk.c.conn.LocalAddr())
	ex.RemoteAddr = addrString(wk.c.conn.RemoteAddr())
	cs := hl7.ResolveCharset(cfg.Charset, payload)
	ex.Charset = cs.Name
	if cfg.ValidatePayload {
		if err := hl7.Validate(payload); err != nil {
			ex.Err = err
		}
	}
	if cfg.HL7Headers && ex.Err == nil {
		ex.Headers = hl7.ExtractHeaders(payload, cs, cfg.Charset)
	}
	return ex
}

// process runs the processor. A returned error is recorded on the exchange
// and answered with AE; a panic is a failure of the connection.
func (wk *worker) process(ctx context.Context, ex *exchange.Exchange) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("server: processor panic: %v", r)
		}
	}()
	if perr := wk.srv.processor.Process(ctx, ex); perr != nil && ex.Err == nil {
		ex.Err = perr
	}
	return nil
}

// acknowledgement picks the explicit ack or generates one.
func (wk *worker) acknowledgement(ex *exchange.Exchange) ([]byte, hl7.AckCode, error) {
	cfg := wk.srv.cfg
	if len(ex.Ack) > 0 {
		if cfg.ValidatePayload {
			if err := hl7.ValidateAck(ex.Payload, ex.Ack); err != nil {
				return nil, "", err
			}
		}
		found, err := hl7.FindAckCode(ex.Ack)
		if err != nil {
			wk.log.Warn().Str("exchange_id", ex.ID).Err(err).Msg("server.worker explicit acknowledgement has no MSA-1")
		} else if ex.AckCode != "" && string(ex.AckCode) != found {
			wk.log.Warn().
				Str("exchange_id", ex.ID).
				Str("requested", string(ex.AckCode)).
				Str("found", found).
				Msg("server.worker acknowledgement code mismatch; using value in message")
		}
		return ex.Ack, hl7.AckCode(found), nil
	}

	if !cfg.AutoAck {
		return nil, "", protocol.NewInvalidAck(
			"automatic acknowledgement is disabled and no acknowledgement was supplied",
			ex.Payload,
			nil,
		)
	}

	code := ex.AckCode
	text := ex.AckText
	if code == "" {
		code = hl7.ApplicationAccept
		if ex.Failed() {
			code = hl7.ApplicationError
		}
	}
	switch code {
	case hl7.ApplicationAccept, hl7.ApplicationError, hl7.ApplicationReject:
	default:
		return nil, "", protocol.NewAckGeneration(
			fmt.Sprintf("unsupported acknowledgement type %q", code),
			ex.Payload,
		)
	}
	if code != hl7.ApplicationAccept && text == "" && ex.Failed() {
		text = errorText(ex.Err)
	}
	ack, err := hl7.GenerateAckIn(ex.Payload, code, text, hl7.ResolveCharset(cfg.Charset, ex.Payload))
	if err != nil {
		return nil, "", err
	}
	ex.Ack = ack
	ex.AckCode = code
	return ack, code, nil
}

// errorText is the MSA-3 rendering of a processing error. Protocol errors
// contribute their detail only, never payload bytes.
func errorText(err error) string {
	if pe, ok := protocol.AsError(err); ok && pe.Detail != "" {
		return pe.Detail
	}
	return err.Error()
}
