package gateway

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Rajchodisetti/chatgw/internal/api"
)

// Event is one item of the ordered stream a session emits. It is one of
// Init, TransportError, Dispatch, InvalidSession, Hello or HeartbeatAck.
type Event interface {
	event()
}

// Init is the first event every subscriber sees
type Init struct{}

// TransportError reports that the socket closed or failed
type TransportError struct {
	Cause error
}

// Dispatch is an application event. Sequence is the resume cursor.
type Dispatch struct {
	Sequence int64
	Type     string
	Data     json.RawMessage
}

// Decode unmarshals the dispatch payload into v
func (d Dispatch) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("decode %s: %w", d.Type, err)
	}
	return nil
}

type InvalidSession struct {
	Resumable bool
}

type Hello struct {
	HeartbeatInterval time.Duration
}

type HeartbeatAck struct{}

// heartbeatRequest and reconnectRequest are handled by the socket itself and
// never reach subscribers.
type heartbeatRequest struct{}

type reconnectRequest struct{}

func (Init) event()             {}
func (TransportError) event()   {}
func (Dispatch) event()         {}
func (InvalidSession) event()   {}
func (Hello) event()            {}
func (HeartbeatAck) event()     {}
func (heartbeatRequest) event() {}
func (reconnectRequest) event() {}

func (e TransportError) Error() string {
	if e.Cause == nil {
		return "websocket closed"
	}
	return e.Cause.Error()
}

func (e TransportError) Unwrap() error { return e.Cause }

// Dispatch types
const (
	EventReady             = "READY"
	EventResumed           = "RESUMED"
	EventGuildCreate       = "GUILD_CREATE"
	EventGuildUpdate       = "GUILD_UPDATE"
	EventGuildDelete       = "GUILD_DELETE"
	EventGuildMembersChunk = "GUILD_MEMBERS_CHUNK"
	EventChannelCreate     = "CHANNEL_CREATE"
	EventChannelUpdate     = "CHANNEL_UPDATE"
	EventChannelDelete     = "CHANNEL_DELETE"
	EventThreadCreate      = "THREAD_CREATE"
	EventThreadUpdate      = "THREAD_UPDATE"
	EventThreadDelete      = "THREAD_DELETE"
	EventThreadListSync    = "THREAD_LIST_SYNC"
	EventMessageCreate     = "MESSAGE_CREATE"
	EventMessageUpdate     = "MESSAGE_UPDATE"
	EventMessageDelete     = "MESSAGE_DELETE"
	EventTypingStart       = "TYPING_START"
)

type ReadyData struct {
	Version         int               `json:"v"`
	User            api.User          `json:"user"`
	SessionID       string            `json:"session_id"`
	PrivateChannels []api.Channel     `json:"private_channels"`
	Guilds          []GuildCreateData `json:"guilds"`
	Users           []api.User        `json:"users"`
}

type GuildCreateData struct {
	api.Guild
	Members  []api.Member  `json:"members,omitempty"`
	Channels []api.Channel `json:"channels,omitempty"`
	Threads  []api.Channel `json:"threads,omitempty"`
}

// GuildUpdateData is a partial guild; nil fields were absent
type GuildUpdateData struct {
	ID    api.ID      `json:"id"`
	Name  *string     `json:"name,omitempty"`
	Icon  *string     `json:"icon,omitempty"`
	Roles *[]api.Role `json:"roles,omitempty"`
}

type GuildDeleteData struct {
	ID          api.ID `json:"id"`
	Unavailable bool   `json:"unavailable"`
}

type GuildMembersChunkData struct {
	GuildID api.ID       `json:"guild_id"`
	Members []api.Member `json:"members"`
}

type ThreadDeleteData struct {
	ID       api.ID `json:"id"`
	GuildID  api.ID `json:"guild_id,omitempty"`
	ParentID api.ID `json:"parent_id,omitempty"`
}

type ThreadListSyncData struct {
	GuildID    api.ID        `json:"guild_id"`
	ChannelIDs []api.ID      `json:"channel_ids,omitempty"`
	Threads    []api.Channel `json:"threads"`
}

// MessageCreateData is a message plus the author's guild membership, which
// arrives without its nested user.
type MessageCreateData struct {
	api.Message
	Member *api.Member `json:"member,omitempty"`
}

// MessageUpdateData is a partial message; nil fields were absent
type MessageUpdateData struct {
	ID              api.ID            `json:"id"`
	ChannelID       api.ID            `json:"channel_id"`
	GuildID         api.ID            `json:"guild_id,omitempty"`
	Content         *string           `json:"content,omitempty"`
	Attachments     *[]api.Attachment `json:"attachments,omitempty"`
	Embeds          *[]api.Embed      `json:"embeds,omitempty"`
	EditedTimestamp *string           `json:"edited_timestamp,omitempty"`
}

type MessageDeleteData struct {
	ID        api.ID `json:"id"`
	ChannelID api.ID `json:"channel_id"`
	GuildID   api.ID `json:"guild_id,omitempty"`
}
