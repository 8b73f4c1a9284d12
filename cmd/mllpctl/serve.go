package main

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/danmuck/mllp/internal/admin"
	"github.com/danmuck/mllp/internal/config"
	"github.com/danmuck/mllp/internal/exchange"
	"github.com/danmuck/mllp/internal/observability"
	"github.com/danmuck/mllp/internal/protocol/hl7"
	"github.com/danmuck/mllp/internal/server"
)

func newServeCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "run an MLLP listener",
		Long:  `Bind the configured address, log and acknowledge every message, and serve the admin API when admin.addr is set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, path)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, nil)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "server.toml", "server config file")
	return cmd
}

// serve runs the listener and the optional admin surface until ctx is done.
// bound, when set, is called with the server once it is listening.
func serve(ctx context.Context, cfg config.Config, bound func(*server.Server)) error {
	observability.RegisterMetrics()
	srv, err := server.New(cfg.Session, loggingProcessor(observability.Component("mllpctl")))
	if err != nil {
		return err
	}
	if err := srv.Bind(ctx); err != nil {
		return err
	}
	if bound != nil {
		bound(srv)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	if cfg.Admin.Addr != "" {
		a := admin.New(cfg.Admin, srv)
		g.Go(func() error {
			return a.Serve(gctx)
		})
	}
	return g.Wait()
}

// loggingProcessor records each received message and leaves the engine to
// acknowledge it.
func loggingProcessor(log zerolog.Logger) exchange.Processor {
	return exchange.ProcessorFunc(func(_ context.Context, ex *exchange.Exchange) error {
		evt := log.Info().
			Str("exchange_id", ex.ID).
			Str("remote", ex.RemoteAddr).
			Str("charset", ex.Charset).
			Int("bytes", len(ex.Payload))
		if ex.Headers != nil {
			evt = evt.
				Str("message_type", ex.Header(hl7.HeaderMessageType)).
				Str("trigger_event", ex.Header(hl7.HeaderTriggerEvent)).
				Str("control_id", ex.Header(hl7.HeaderMessageControlID))
		}
		if ex.Err != nil {
			evt = evt.AnErr("invalid", ex.Err)
		}
		evt.Msg("mllpctl received message")
		return nil
	})
}
