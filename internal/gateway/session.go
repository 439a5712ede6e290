package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/chatgw/internal/observ"
	"github.com/Rajchodisetti/chatgw/internal/transport"
)

// Config for a gateway session
type Config struct {
	URL                string
	Properties         IdentifyProperties
	Capabilities       int
	Backoff            Backoff
	AttemptTimeout     time.Duration // bound on socket open through handshake completion
	StrictHeartbeatAck bool          // close the socket when a heartbeat goes unacked
	SendRatePerMinute  int
	TokenKey           string
	EventBuffer        int
}

// DefaultURL is the production gateway endpoint
const DefaultURL = "wss://gateway.discord.gg/?v=9&encoding=json"

func (c *Config) applyDefaults() {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Properties == (IdentifyProperties{}) {
		c.Properties = DefaultIdentifyProperties()
	}
	if c.Capabilities == 0 {
		c.Capabilities = DefaultCapabilities
	}
	if c.Backoff == (Backoff{}) {
		c.Backoff = DefaultBackoff
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 60 * time.Second
	}
	if c.SendRatePerMinute <= 0 {
		c.SendRatePerMinute = 120
	}
	if c.TokenKey == "" {
		c.TokenKey = "gw_state_token"
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 256
	}
}

// TokenStore persists the session token between runs
type TokenStore interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
}

// TokenSink receives the token once a session opens, so REST calls can
// authenticate with it
type TokenSink interface {
	SetToken(token string)
}

// Gateway is the contract shared by an in-process Session and a Remote
// session hosted behind the bridge.
type Gateway interface {
	Open(ctx context.Context, token string) (bool, error)
	Send(ctx context.Context, cmd Command) error
	Events() (<-chan Event, func())
	Close() error
}

var _ Gateway = (*Session)(nil)

// Session is the connection state machine for one gateway session. It owns
// at most one socket at a time and emits a single ordered event stream.
type Session struct {
	config  Config
	dialer  transport.Dialer
	tokens  TokenStore
	sink    TokenSink
	limiter *rate.Limiter

	openMu sync.Mutex // serializes Open

	mu          sync.Mutex
	state       State
	status      string
	data        *SessionData
	conn        *conn
	waiter      chan Event
	life        context.Context
	cancel      context.CancelFunc
	supervising bool
	wg          sync.WaitGroup

	deliverMu sync.Mutex // one event delivered at a time
	lost      chan struct{}
	events    *broadcast[Event]
	statuses  *broadcast[string]
}

// NewSession creates an idle session. tokens and sink may be nil.
func NewSession(config Config, dialer transport.Dialer, tokens TokenStore, sink TokenSink) *Session {
	config.applyDefaults()
	perMinute := rate.Limit(float64(config.SendRatePerMinute) / 60)
	return &Session{
		config:   config,
		dialer:   dialer,
		tokens:   tokens,
		sink:     sink,
		limiter:  rate.NewLimiter(perMinute, config.SendRatePerMinute),
		lost:     make(chan struct{}, 1),
		events:   newBroadcast[Event](config.EventBuffer),
		statuses: newBroadcast[string](16),
	}
}

// Open connects and completes the handshake. It returns false with a nil
// error when no token is available. It retries transport faults until the
// session opens, the gateway rejects the token (ErrAuthenticationFailed), ctx
// is done, or the session is closed.
func (s *Session) Open(ctx context.Context, token string) (bool, error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.mu.Lock()
	switch s.state {
	case StateOpen:
		s.mu.Unlock()
		return true, nil
	case StateClosed:
		s.mu.Unlock()
		return false, ErrClosed
	}
	if s.data == nil {
		if token == "" && s.tokens != nil {
			token, _ = s.tokens.Get(s.config.TokenKey)
		}
		if token == "" {
			s.mu.Unlock()
			observ.Debug("gateway_no_token", nil)
			s.setStatus(statusNeedToken)
			return false, nil
		}
		s.data = &SessionData{Token: token}
	}
	if s.life == nil {
		s.life, s.cancel = context.WithCancel(context.Background())
	}
	life := s.life
	s.mu.Unlock()

	ctx, stop := mergeContext(ctx, life)
	defer stop()

	ok, err := s.connect(ctx, 0)
	if !ok {
		return false, err
	}
	s.opened()
	return true, nil
}

// OpenSession opens with a full resume cursor, as handed over by a Remote
func (s *Session) OpenSession(ctx context.Context, data SessionData) (bool, error) {
	s.mu.Lock()
	if s.data == nil && data.Token != "" {
		d := data
		s.data = &d
	}
	s.mu.Unlock()
	return s.Open(ctx, "")
}

// opened persists the token and starts the supervisor
func (s *Session) opened() {
	s.mu.Lock()
	var token string
	if s.data != nil {
		token = s.data.Token
	}
	start := !s.supervising
	s.supervising = true
	life := s.life
	s.mu.Unlock()

	if s.tokens != nil && token != "" {
		if err := s.tokens.Set(s.config.TokenKey, token); err != nil {
			observ.Warn("gateway_token_persist_failed", map[string]any{"error": err.Error()})
		}
	}
	if s.sink != nil && token != "" {
		s.sink.SetToken(token)
	}
	s.setStatus(statusOpened)
	observ.Log("gateway_session_opened", nil)

	if start {
		s.wg.Add(1)
		go s.supervise(life)
	}
}

// supervise reconnects after the socket drops while open
func (s *Session) supervise(ctx context.Context) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		s.supervising = false
		s.mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.lost:
		}

		observ.IncCounter("gateway_reconnects_total", nil)
		s.setStatus(statusRetrying)
		if err := sleep(ctx, s.config.Backoff.Delay(0)); err != nil {
			return
		}

		// openMu keeps an Open call from racing this loop with a second one
		s.openMu.Lock()
		s.mu.Lock()
		open := s.state == StateOpen
		s.mu.Unlock()
		if open {
			s.openMu.Unlock()
			continue
		}
		ok, err := s.connect(ctx, 1)
		s.openMu.Unlock()
		if !ok {
			if !errors.Is(err, ErrClosed) {
				observ.Warn("gateway_reconnect_failed", map[string]any{"error": fmt.Sprint(err)})
			}
			return
		}
		observ.Log("gateway_session_resumed", nil)
	}
}

type outcome int

const (
	outcomeRetry outcome = iota
	outcomeOpen
	outcomeRejected
)

// connect loops over handshake attempts starting at the given attempt count
func (s *Session) connect(ctx context.Context, attempt int) (bool, error) {
	for ; ; attempt++ {
		s.setStatus(statusOpening)
		res, err := s.attempt(ctx)
		switch res {
		case outcomeOpen:
			return true, nil
		case outcomeRejected:
			s.mu.Lock()
			s.data = nil
			s.mu.Unlock()
			s.setState(StateFailed)
			observ.Warn("gateway_identify_rejected", nil)
			return false, ErrAuthenticationFailed
		}

		if ctx.Err() != nil {
			return false, s.abortErr(ctx)
		}
		if err != nil {
			observ.Debug("gateway_connect_failed", map[string]any{"attempt": attempt, "error": err.Error()})
		}
		s.setStatus(statusRetrying)
		if err := sleep(ctx, s.config.Backoff.Delay(attempt)); err != nil {
			return false, s.abortErr(ctx)
		}
	}
}

// abortErr reports why connect stopped early
func (s *Session) abortErr(ctx context.Context) error {
	s.mu.Lock()
	closed := s.state == StateClosed
	s.mu.Unlock()
	if closed {
		return ErrClosed
	}
	s.setState(StateIdle)
	return ctx.Err()
}

// attempt runs one socket open through handshake completion
func (s *Session) attempt(ctx context.Context) (outcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.AttemptTimeout)
	defer cancel()

	waiter := make(chan Event, 64)
	c := newConn(s.config.StrictHeartbeatAck, s.sequence, s.handle)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return outcomeRetry, ErrClosed
	}
	old := s.conn
	s.conn = c
	s.waiter = waiter
	s.mu.Unlock()
	s.setState(StateConnecting)

	if old != nil {
		old.close()
	}

	success := false
	defer func() {
		s.mu.Lock()
		if s.waiter == waiter {
			s.waiter = nil
		}
		s.mu.Unlock()
		if !success {
			c.close()
		}
	}()

	if err := c.open(ctx, s.dialer, s.config.URL); err != nil {
		return outcomeRetry, fmt.Errorf("dial gateway: %w", err)
	}
	s.setState(StateAwaitingHello)

	if _, err := await(ctx, waiter, func(ev Event) (bool, error) {
		switch ev := ev.(type) {
		case Hello:
			return true, nil
		case TransportError:
			return false, ev
		}
		return false, nil
	}); err != nil {
		return outcomeRetry, err
	}
	s.setStatus(statusHello)

	s.mu.Lock()
	if s.data == nil {
		s.mu.Unlock()
		return outcomeRetry, ErrClosed
	}
	data := *s.data
	s.mu.Unlock()

	resuming := data.SessionID != ""
	var cmd Command
	if resuming {
		observ.Debug("gateway_resume", map[string]any{"session_id": data.SessionID, "seq": data.Sequence})
		s.setState(StateResuming)
		cmd = Resume{SessionData: data}
	} else {
		observ.Debug("gateway_identify", nil)
		s.setState(StateIdentifying)
		cmd = Identify{
			Token:        data.Token,
			Properties:   s.config.Properties,
			Capabilities: s.config.Capabilities,
		}
	}
	if err := c.send(cmd); err != nil {
		return outcomeRetry, fmt.Errorf("send handshake: %w", err)
	}
	s.setStatus(statusWaiting)

	res, err := await(ctx, waiter, func(ev Event) (bool, error) {
		switch ev := ev.(type) {
		case Dispatch:
			return ev.Type == EventReady || ev.Type == EventResumed, nil
		case InvalidSession:
			return true, nil
		case TransportError:
			return false, ev
		}
		return false, nil
	})
	if err != nil {
		return outcomeRetry, err
	}

	if inv, ok := res.(InvalidSession); ok {
		switch {
		case inv.Resumable:
			return outcomeRetry, errors.New("session invalidated, resumable")
		case resuming:
			// the session id is stale but the token may still be good
			s.mu.Lock()
			if s.data != nil {
				s.data.SessionID = ""
				s.data.Sequence = 0
			}
			s.mu.Unlock()
			return outcomeRetry, errors.New("resume rejected")
		default:
			return outcomeRejected, nil
		}
	}

	// handle has already moved the state to open, or on to connecting if
	// the socket dropped since
	success = true
	return outcomeOpen, nil
}

// await returns the first event match accepts, or match's error
func await(ctx context.Context, events <-chan Event, match func(Event) (bool, error)) (Event, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case ev := <-events:
			ok, err := match(ev)
			if err != nil {
				return nil, err
			}
			if ok {
				return ev, nil
			}
		}
	}
}

// handle is called by the current socket's read loop for every event
func (s *Session) handle(c *conn, ev Event) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	s.mu.Lock()
	if c != s.conn {
		s.mu.Unlock()
		return
	}
	lost, opened := false, false
	switch ev := ev.(type) {
	case Dispatch:
		// the socket is open from the handshake reply on, so a drop that
		// follows it at once is still seen as a loss
		if (ev.Type == EventReady || ev.Type == EventResumed) &&
			(s.state == StateIdentifying || s.state == StateResuming) {
			s.state = StateOpen
			opened = true
		}
		if s.data != nil {
			s.data.Sequence = ev.Sequence
			if ev.Type == EventReady {
				var ready struct {
					SessionID string `json:"session_id"`
				}
				if err := ev.Decode(&ready); err == nil {
					s.data.SessionID = ready.SessionID
				}
			}
		}
	case TransportError:
		if s.state == StateOpen {
			lost = true
		}
	}
	waiter := s.waiter
	s.mu.Unlock()

	if opened {
		observ.SetGauge("gateway_state", float64(StateOpen), nil)
	}
	if lost {
		s.setState(StateConnecting)
	}
	if waiter != nil {
		select {
		case waiter <- ev:
		default:
			observ.Warn("gateway_handshake_event_dropped", map[string]any{"type": fmt.Sprintf("%T", ev)})
		}
	}
	s.events.publish(ev)
	if lost {
		select {
		case s.lost <- struct{}{}:
		default:
		}
	}
}

func (s *Session) sequence() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return 0
	}
	return s.data.Sequence
}

// Send hands one command to the open socket
func (s *Session) Send(ctx context.Context, cmd Command) error {
	s.mu.Lock()
	c := s.conn
	s.mu.Unlock()
	if c == nil {
		return ErrNotConnected
	}
	switch c.state.Load() {
	case connConnecting:
		return ErrNotReady
	case connClosed:
		return ErrNotConnected
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return c.send(cmd)
}

// Events subscribes to the event stream. The first value is Init. The
// channel closes when the session is closed; call cancel to stop early.
func (s *Session) Events() (<-chan Event, func()) {
	return s.events.subscribe(Init{})
}

// Statuses subscribes to human-readable progress lines
func (s *Session) Statuses() (<-chan string, func()) {
	return s.statuses.subscribe(s.Status())
}

// Status returns the latest progress line
func (s *Session) Status() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SessionData returns a copy of the resume cursor
func (s *Session) SessionData() (SessionData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.data == nil {
		return SessionData{}, false
	}
	return *s.data, true
}

// Close tears down the socket and timers. Subscribers' channels are closed.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	cancel := s.cancel
	c := s.conn
	s.conn = nil
	s.mu.Unlock()
	observ.SetGauge("gateway_state", float64(StateClosed), nil)

	if cancel != nil {
		cancel()
	}
	s.events.close()
	if c != nil {
		c.finish()
	}
	s.wg.Wait()

	s.setStatus(statusClosed)
	s.statuses.close()
	observ.Log("gateway_session_closed", nil)
	return nil
}

// Logout closes the session and forgets the token
func (s *Session) Logout() error {
	if err := s.Close(); err != nil {
		return err
	}
	s.mu.Lock()
	s.data = nil
	s.mu.Unlock()
	if s.tokens != nil {
		if err := s.tokens.Delete(s.config.TokenKey); err != nil {
			return fmt.Errorf("delete token: %w", err)
		}
	}
	return nil
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()
	observ.SetGauge("gateway_state", float64(state), nil)
}

func (s *Session) setStatus(status string) {
	s.mu.Lock()
	s.status = status
	s.mu.Unlock()
	observ.Debug("gateway_status", map[string]any{"status": status})
	s.statuses.publish(status)
}

// mergeContext returns a context done when either parent or life is done
func mergeContext(parent, life context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(life, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
