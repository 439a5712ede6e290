package gateway

import "errors"

// State of a session's connection state machine
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateAwaitingHello
	StateIdentifying
	StateResuming
	StateOpen
	StateClosed // terminal, after Close or Logout
	StateFailed // terminal until Open is called with a new token
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateAwaitingHello:
		return "awaiting_hello"
	case StateIdentifying:
		return "identifying"
	case StateResuming:
		return "resuming"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Handshaking reports whether an identify or resume is in flight
func (s State) Handshaking() bool {
	return s == StateIdentifying || s == StateResuming
}

var (
	// ErrNotConnected is returned by Send when no socket is open
	ErrNotConnected = errors.New("gateway: not connected")
	// ErrNotReady is returned by Send while the socket is still opening
	ErrNotReady = errors.New("gateway: socket not ready")
	// ErrAuthenticationFailed means the gateway rejected identify; a new
	// token is required
	ErrAuthenticationFailed = errors.New("gateway: authentication failed")
	// ErrClosed is returned once the session has been closed
	ErrClosed = errors.New("gateway: session closed")
)

// Status strings published while opening
const (
	statusOpening   = "trying to open session..."
	statusHello     = "websocket connected, hello received"
	statusWaiting   = "waiting for session to open..."
	statusRetrying  = "cannot connect to websocket, retrying..."
	statusOpened    = "session opened"
	statusClosed    = "session closed"
	statusNeedToken = "token required"
)
