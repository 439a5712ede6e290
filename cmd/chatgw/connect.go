package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/Rajchodisetti/chatgw/internal/gateway"
	"github.com/Rajchodisetti/chatgw/internal/journal"
	"github.com/Rajchodisetti/chatgw/internal/observ"
)

func newConnectCmd(opts *rootOptions) *cobra.Command {
	var metricsAddr, record string
	cmd := &cobra.Command{
		Use:   "connect",
		Short: "Open a session and log every gateway event until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			a, err := newApp(cfg)
			if err != nil {
				return err
			}
			defer a.close()

			if record != "" {
				if a.rec, err = journal.Open(record); err != nil {
					return err
				}
			}
			ctx := cmd.Context()
			if metricsAddr != "" {
				srv := serveMetrics(metricsAddr)
				defer func() {
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdownCtx)
				}()
			}

			events := a.watch()
			if err := a.start(ctx, opts.token); err != nil {
				return err
			}
			tail(ctx, events)
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve /metrics and /health on this address")
	cmd.Flags().StringVar(&record, "record", "", "append every dispatch to this JSON-lines journal")
	return cmd
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observ.Handler())
	mux.Handle("/health", observ.Health())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			observ.Warn("metrics_server_failed", map[string]any{"addr": addr, "error": err.Error()})
		}
	}()
	observ.Log("metrics_server_started", map[string]any{"addr": addr})
	return srv
}

// tail logs events until the stream ends or ctx is done
func tail(ctx context.Context, events <-chan gateway.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev := ev.(type) {
			case gateway.Dispatch:
				observ.Log("event", map[string]any{"type": ev.Type, "seq": ev.Sequence, "bytes": len(ev.Data)})
			case gateway.TransportError:
				observ.Warn("connection_lost", map[string]any{"error": ev.Error()})
			case gateway.InvalidSession:
				observ.Warn("invalid_session", map[string]any{"resumable": ev.Resumable})
			}
		}
	}
}
