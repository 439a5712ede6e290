package main

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/Rajchodisetti/chatgw/internal/api"
	"github.com/Rajchodisetti/chatgw/internal/bridge"
	"github.com/Rajchodisetti/chatgw/internal/config"
	"github.com/Rajchodisetti/chatgw/internal/gateway"
	"github.com/Rajchodisetti/chatgw/internal/journal"
	"github.com/Rajchodisetti/chatgw/internal/observ"
	"github.com/Rajchodisetti/chatgw/internal/persist"
	"github.com/Rajchodisetti/chatgw/internal/state"
	"github.com/Rajchodisetti/chatgw/internal/transport"
)

var errNeedToken = errors.New("no token: pass --token or log in once")

// app is one gateway session feeding one state store
type app struct {
	cfg    config.Root
	tokens *persist.Store
	client *api.Client
	gw     gateway.Gateway
	store  *state.Store
	rec    *journal.Journal // optional dispatch recorder

	unsub  func() // ends the watch subscription
	group  *errgroup.Group
	stop   context.CancelFunc
	worker func() // waits for the isolated worker
}

func newApp(cfg config.Root) (*app, error) {
	tokens, err := persist.Open(cfg.Persist.Path)
	if err != nil {
		return nil, err
	}
	tr := transport.New(transport.Config{Timeout: cfg.API.Timeout()})
	client := api.NewClient(api.Config{
		Endpoint:      cfg.API.Endpoint,
		RatePerSecond: cfg.API.RatePerSecond,
	}, tr)

	gcfg := gatewayConfig(cfg)
	a := &app{cfg: cfg, tokens: tokens, client: client, worker: func() {}}
	if cfg.Isolated {
		local, remote := bridge.Pipe()
		w := gateway.NewWorker(remote, func(props gateway.IdentifyProperties) *gateway.Session {
			c := gcfg
			c.Properties = props
			return gateway.NewSession(c, tr, nil, nil)
		})
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := w.Run(context.Background()); err != nil {
				observ.Warn("gateway_worker_stopped", map[string]any{"error": err.Error()})
			}
		}()
		a.gw = gateway.NewRemote(local, gcfg, tokens, client)
		a.worker = func() { <-done }
	} else {
		a.gw = gateway.NewSession(gcfg, tr, tokens, client)
	}
	a.store = state.New(a.gw, client, state.Options{MessageLimit: cfg.State.MessageLimit})
	return a, nil
}

func gatewayConfig(cfg config.Root) gateway.Config {
	props := gateway.DefaultIdentifyProperties()
	props.OS = cfg.Identify.OS
	props.Browser = cfg.Identify.Browser
	props.Device = cfg.Identify.Device
	return gateway.Config{
		URL:                cfg.Gateway.URL,
		Properties:         props,
		Capabilities:       cfg.Gateway.Capabilities,
		Backoff:            gateway.Backoff{Base: cfg.Gateway.BackoffBase(), Step: cfg.Gateway.BackoffStep()},
		AttemptTimeout:     cfg.Gateway.AttemptTimeout(),
		StrictHeartbeatAck: cfg.Gateway.StrictHeartbeatAck,
		SendRatePerMinute:  cfg.Gateway.SendRatePerMinute,
		TokenKey:           cfg.Persist.TokenKey(),
		EventBuffer:        cfg.Gateway.EventBuffer,
	}
}

// watch subscribes to the raw event stream. The caller must drain it, since
// a full subscriber holds up every other one. Call it before start to see
// READY.
func (a *app) watch() <-chan gateway.Event {
	events, unsub := a.gw.Events()
	a.unsub = unsub
	return events
}

// start opens the session and folds its events in the background. The
// subscriptions are taken before Open so READY is never missed.
func (a *app) start(ctx context.Context, token string) error {
	storeEvents, unsubStore := a.gw.Events()

	ctx, a.stop = context.WithCancel(ctx)
	a.group, ctx = errgroup.WithContext(ctx)
	a.group.Go(func() error {
		defer unsubStore()
		err := a.store.Run(ctx, storeEvents)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
	if a.rec != nil {
		recEvents, unsubRec := a.gw.Events()
		a.group.Go(func() error {
			defer unsubRec()
			return a.rec.Record(ctx, recEvents)
		})
	}

	ok, err := a.gw.Open(ctx, token)
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	if !ok {
		return errNeedToken
	}
	return nil
}

// ready blocks until the store has folded READY
func (a *app) ready(ctx context.Context) error {
	changed, cancel := a.store.Subscribe()
	defer cancel()
	for a.store.Self().ID == "" {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-changed:
		}
	}
	return nil
}

func (a *app) close() error {
	if a.unsub != nil {
		a.unsub()
	}
	err := a.gw.Close()
	if a.stop != nil {
		a.stop()
	}
	if a.group != nil {
		if gerr := a.group.Wait(); gerr != nil && err == nil {
			err = gerr
		}
	}
	a.worker()
	if a.rec != nil {
		if rerr := a.rec.Close(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}
