// Package server is the MLLP consumer: it binds the listening socket,
// accepts connections under a concurrency cap and runs one worker per
// connection driving the receive, process, acknowledge loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/danmuck/mllp/internal/exchange"
	"github.com/danmuck/mllp/internal/observability"
	"github.com/danmuck/mllp/internal/protocol"
	"github.com/danmuck/mllp/internal/protocol/frame"
	"github.com/danmuck/mllp/internal/protocol/session"
)

var (
	ErrNilProcessor   = errors.New("server: processor is nil")
	ErrBind           = errors.New("server: bind failed")
	ErrAlreadyServing = errors.New("server: already serving")
)

type Server struct {
	cfg       session.Config
	processor exchange.Processor
	log       zerolog.Logger
	sem       *semaphore.Weighted

	mu      sync.Mutex
	ln      *session.Listener
	serving bool
	conns   map[*connection]struct{}
	workers sync.WaitGroup
}

// New validates cfg (after filling defaults) and returns an unbound server.
func New(cfg session.Config, processor exchange.Processor) (*Server, error) {
	if processor == nil {
		return nil, ErrNilProcessor
	}
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.ValidateServerTransport(); err != nil {
		return nil, err
	}
	return &Server{
		cfg:       cfg,
		processor: processor,
		log:       observability.Component("server"),
		sem:       semaphore.NewWeighted(int64(cfg.MaxConcurrentConsumers)),
		conns:     make(map[*connection]struct{}),
	}, nil
}

func (s *Server) Config() session.Config {
	return s.cfg
}

// Addr returns the bound address, or nil before Bind succeeds.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Listening reports whether the server currently holds a bound socket.
func (s *Server) Listening() bool {
	return s.Addr() != nil
}

// Bind opens the listening socket, retrying every BindRetryInterval until
// BindTimeout has elapsed. With LenientBind the retry window repeats until
// ctx is done. Calling Bind on a bound server is a no-op.
func (s *Server) Bind(ctx context.Context) error {
	if s.Listening() {
		return nil
	}
	attempts := uint(s.cfg.BindTimeout / s.cfg.BindRetryInterval)
	if attempts == 0 {
		attempts = 1
	}
	addr := s.cfg.Address()
	bind := func() error {
		ln, err := session.Listen(ctx, s.cfg)
		if err != nil {
			return err
		}
		s.mu.Lock()
		s.ln = ln
		s.mu.Unlock()
		return nil
	}

	for {
		err := retry.Do(
			bind,
			retry.Context(ctx),
			retry.Attempts(attempts),
			retry.Delay(s.cfg.BindRetryInterval),
			retry.DelayType(retry.FixedDelay),
			retry.LastErrorOnly(true),
			retry.OnRetry(func(n uint, err error) {
				s.log.Warn().Str("addr", addr).Uint("attempt", n+1).Err(err).Msg("server.Server.Bind retrying")
			}),
		)
		if err == nil {
			s.log.Info().Str("addr", s.Addr().String()).Msg("server.Server.Bind listening")
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s: %w", ErrBind, addr, ctx.Err())
		}
		if !s.cfg.LenientBind {
			return fmt.Errorf("%w: %s after %s: %w", ErrBind, addr, s.cfg.BindTimeout, err)
		}
		s.log.Warn().Str("addr", addr).Dur("bind_timeout", s.cfg.BindTimeout).Err(err).
			Msg("server.Server.Bind still unbound; lenient bind keeps trying")
	}
}

// Serve binds if needed and runs the accept loop until ctx is done. The
// listening socket is closed on return and Serve waits for every worker to
// exit; workers notice shutdown at their next receive timeout.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	if s.serving {
		s.mu.Unlock()
		return ErrAlreadyServing
	}
	s.serving = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.serving = false
		s.mu.Unlock()
	}()

	if err := s.Bind(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	ln := s.ln
	s.mu.Unlock()

	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		_ = ln.Close()
	}()

	err := s.acceptLoop(ctx, ln)
	close(stop)
	s.mu.Lock()
	s.ln = nil
	s.mu.Unlock()

	s.workers.Wait()
	s.log.Info().Str("addr", s.cfg.Address()).Msg("server.Server.Serve stopped")
	return err
}

func (s *Server) acceptLoop(ctx context.Context, ln *session.Listener) error {
	for {
		conn, err := ln.Accept(s.cfg.AcceptTimeout)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if frame.IsTimeout(err) {
				s.log.Trace().Int("active", s.activeCount()).Msg("server.Server.accept timeout")
				continue
			}
			observability.RecordError(observability.RoleServer, protocol.KindConnect.Label())
			return fmt.Errorf("server: accept: %w", err)
		}

		if !s.sem.TryAcquire(1) {
			observability.RecordConnection(observability.RoleServer, observability.OutcomeRejected)
			s.log.Warn().
				Str("remote", conn.RemoteAddr().String()).
				Int("max_concurrent_consumers", s.cfg.MaxConcurrentConsumers).
				Msg("server.Server.accept connection cap reached; resetting")
			_ = session.Reset(conn)
			continue
		}
		observability.RecordConnection(observability.RoleServer, observability.OutcomeAccepted)
		s.spawn(ctx, conn)
	}
}

func (s *Server) spawn(ctx context.Context, conn net.Conn) {
	c := newConnection(conn)
	s.track(c)
	s.workers.Add(1)
	go func() {
		defer s.workers.Done()
		defer s.sem.Release(1)
		defer s.untrack(c)
		s.runWorker(ctx, c)
	}()
}
