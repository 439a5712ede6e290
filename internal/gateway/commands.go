package gateway

import (
	"encoding/json"
	"runtime"

	"github.com/Rajchodisetti/chatgw/internal/api"
)

// Gateway op codes
const (
	OpDispatch            = 0
	OpHeartbeat           = 1
	OpIdentify            = 2
	OpResume              = 6
	OpReconnect           = 7
	OpRequestGuildMembers = 8
	OpInvalidSession      = 9
	OpHello               = 10
	OpHeartbeatAck        = 11
	OpUpdateSubscriptions = 14
)

// DefaultCapabilities is the capability bitfield sent on identify
const DefaultCapabilities = 253

// SessionData is the resume cursor for one authenticated session. A zero
// Sequence means no dispatch has been seen yet.
type SessionData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id,omitempty"`
	Sequence  int64  `json:"seq,omitempty"`
}

// IdentifyProperties describe the client to the gateway
type IdentifyProperties struct {
	OS               string `json:"os"`
	Browser          string `json:"browser"`
	Device           string `json:"device"`
	BrowserUserAgent string `json:"browser_user_agent,omitempty"`
	BrowserVersion   string `json:"browser_version,omitempty"`
	OSVersion        string `json:"os_version,omitempty"`
}

// DefaultIdentifyProperties describes this process
func DefaultIdentifyProperties() IdentifyProperties {
	return IdentifyProperties{
		OS:               runtime.GOOS,
		Browser:          "chatgw",
		Device:           "chatgw",
		BrowserUserAgent: "chatgw (" + runtime.GOOS + "; " + runtime.GOARCH + ")",
	}
}

// Command is an outbound gateway frame payload
type Command interface {
	Op() int
}

// Heartbeat carries the latest dispatch sequence, or null when none was seen
type Heartbeat struct {
	Sequence *int64
}

func (Heartbeat) Op() int { return OpHeartbeat }

func (h Heartbeat) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Sequence)
}

func (h *Heartbeat) UnmarshalJSON(data []byte) error {
	return json.Unmarshal(data, &h.Sequence)
}

type Identify struct {
	Token        string             `json:"token"`
	Properties   IdentifyProperties `json:"properties"`
	Capabilities int                `json:"capabilities,omitempty"`
}

func (Identify) Op() int { return OpIdentify }

// Resume reattaches to a prior session
type Resume struct {
	SessionData
}

func (Resume) Op() int { return OpResume }

// RequestGuildMembers asks for a GUILD_MEMBERS_CHUNK. Either UserIDs or Query
// should be set.
type RequestGuildMembers struct {
	GuildID   api.ID   `json:"guild_id"`
	UserIDs   []api.ID `json:"user_ids,omitempty"`
	Query     *string  `json:"query,omitempty"`
	Limit     int      `json:"limit"`
	Presences bool     `json:"presences"`
}

func (RequestGuildMembers) Op() int { return OpRequestGuildMembers }

// UpdateSubscriptions subscribes to a guild's live events
type UpdateSubscriptions struct {
	GuildID    api.ID `json:"guild_id"`
	Typing     bool   `json:"typing"`
	Threads    bool   `json:"threads"`
	Activities bool   `json:"activities"`
}

func (UpdateSubscriptions) Op() int { return OpUpdateSubscriptions }
