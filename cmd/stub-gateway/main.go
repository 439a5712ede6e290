package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Rajchodisetti/chatgw/internal/observ"
	"github.com/Rajchodisetti/chatgw/internal/stubs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	var (
		addr      string
		fixtures  string
		heartbeat time.Duration
	)
	cmd := &cobra.Command{
		Use:          "stub-gateway",
		Short:        "Serve a scripted gateway socket and REST history for local runs",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fx := stubs.DefaultFixtures()
			if fixtures != "" {
				var err error
				if fx, err = stubs.LoadFixtures(fixtures); err != nil {
					return err
				}
			}
			return run(cmd.Context(), addr, stubs.AutoOptions{HeartbeatInterval: heartbeat, Fixtures: fx})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8090", "listen address")
	cmd.Flags().StringVar(&fixtures, "fixtures", "", "JSON fixtures file (built-in guild when empty)")
	cmd.Flags().DurationVar(&heartbeat, "heartbeat", 0, "heartbeat interval sent in hello")
	return cmd
}

func run(ctx context.Context, addr string, opts stubs.AutoOptions) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	g := stubs.NewGateway()
	srv := &http.Server{Handler: g, ReadHeaderTimeout: 5 * time.Second}

	observ.Log("stub_gateway_listening", map[string]any{
		"gateway": "ws://" + ln.Addr().String() + "/gateway",
		"api":     "http://" + ln.Addr().String() + "/api",
		"token":   opts.Fixtures.Token,
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		if err := srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return stubs.RunAuto(ctx, g, opts)
	})
	group.Go(func() error {
		<-ctx.Done()
		g.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
