package state

import (
	"slices"
	"time"

	"github.com/Rajchodisetti/chatgw/internal/api"
)

// Graph is the reconciled view of one authenticated session. It is owned by
// the Store; readers reach it through View and must not mutate it.
type Graph struct {
	Self            api.User
	Guilds          map[api.ID]*Guild
	Friends         map[api.ID]*api.User // users met outside any guild
	PrivateChannels map[api.ID]*Channel
}

func newGraph() *Graph {
	return &Graph{
		Guilds:          make(map[api.ID]*Guild),
		Friends:         make(map[api.ID]*api.User),
		PrivateChannels: make(map[api.ID]*Channel),
	}
}

type Guild struct {
	ID   api.ID
	Name string
	Icon string
	// Roles are sorted by position, lowest first
	Roles    []api.Role
	Members  map[api.ID]*Member
	Channels map[api.ID]*Channel // threads included
}

// Member is a guild membership. RoleIDs may name roles the guild no longer
// has; MemberRoles drops those.
type Member struct {
	User    api.User
	GuildID api.ID
	RoleIDs []api.ID
	Nick    string
}

// Channel is a guild channel, a thread (ParentID set) or a private channel
// (GuildID empty).
type Channel struct {
	ID       api.ID
	Type     api.ChannelType
	Name     string
	Topic    string
	NSFW     bool
	Position int
	GuildID  api.ID
	ParentID api.ID
	// Threads lists known thread ids of a parent channel; nil if never synced
	Threads []api.ID
	// Recipients are the user ids of a private channel, in order
	Recipients []api.ID
}

type Message struct {
	ID              api.ID
	Type            api.MessageType
	ChannelID       api.ID
	GuildID         api.ID
	Author          api.User
	WebhookID       api.ID
	Content         string
	Timestamp       time.Time
	EditedTimestamp time.Time // zero if never edited
	Attachments     []Attachment
	Embeds          []api.Embed
	Reference       *Reference
}

type Attachment struct {
	ID       api.ID
	Filename string
	Type     string // MIME type, may be empty
	Size     int64
	URL      string
	ProxyURL string
	Width    int
	Height   int
}

// Reference points at the message being replied to. Message is set when the
// referenced message was delivered inline.
type Reference struct {
	MessageID api.ID
	ChannelID api.ID
	GuildID   api.ID
	Message   *Message
}

func convertGuild(g api.Guild) *Guild {
	return &Guild{
		ID:       g.ID,
		Name:     g.Name,
		Icon:     g.Icon,
		Roles:    sortRoles(g.Roles),
		Members:  make(map[api.ID]*Member),
		Channels: make(map[api.ID]*Channel),
	}
}

// sortRoles orders by position; array order on the wire is not meaningful
func sortRoles(roles []api.Role) []api.Role {
	out := slices.Clone(roles)
	slices.SortStableFunc(out, func(a, b api.Role) int {
		if a.Position != b.Position {
			return a.Position - b.Position
		}
		return compareIDs(a.ID, b.ID)
	})
	return out
}

func convertMember(guildID api.ID, m api.Member, user api.User) *Member {
	return &Member{
		User:    user,
		GuildID: guildID,
		RoleIDs: slices.Clone(m.Roles),
		Nick:    m.Nick,
	}
}

func convertChannel(c api.Channel) *Channel {
	ch := &Channel{
		ID:       c.ID,
		Type:     c.Type,
		Name:     c.Name,
		Topic:    c.Topic,
		NSFW:     c.NSFW,
		Position: c.Position,
		GuildID:  c.GuildID,
		ParentID: c.ParentID,
	}
	if c.Type.IsDM() {
		ch.GuildID = ""
		ch.ParentID = ""
		ch.Recipients = slices.Clone(c.RecipientIDs)
		for _, u := range c.Recipients {
			if !slices.Contains(ch.Recipients, u.ID) {
				ch.Recipients = append(ch.Recipients, u.ID)
			}
		}
	}
	return ch
}

func convertMessage(m api.Message) Message {
	out := Message{
		ID:              m.ID,
		Type:            m.Type,
		ChannelID:       m.ChannelID,
		GuildID:         m.GuildID,
		Author:          m.Author,
		WebhookID:       m.WebhookID,
		Content:         m.Content,
		Timestamp:       parseTime(m.Timestamp),
		EditedTimestamp: parseTime(m.EditedTimestamp),
		Attachments:     convertAttachments(m.Attachments),
		Embeds:          slices.Clone(m.Embeds),
	}
	switch {
	case m.ReferencedMessage != nil:
		ref := convertMessage(*m.ReferencedMessage)
		out.Reference = &Reference{
			MessageID: ref.ID,
			ChannelID: ref.ChannelID,
			GuildID:   ref.GuildID,
			Message:   &ref,
		}
	case m.MessageReference != nil:
		out.Reference = &Reference{
			MessageID: m.MessageReference.MessageID,
			ChannelID: m.MessageReference.ChannelID,
			GuildID:   m.MessageReference.GuildID,
		}
	}
	return out
}

func convertAttachments(in []api.Attachment) []Attachment {
	if len(in) == 0 {
		return nil
	}
	out := make([]Attachment, len(in))
	for i, a := range in {
		out[i] = Attachment{
			ID:       a.ID,
			Filename: a.Filename,
			Type:     a.ContentType,
			Size:     a.Size,
			URL:      a.URL,
			ProxyURL: a.ProxyURL,
			Width:    a.Width,
			Height:   a.Height,
		}
	}
	return out
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// compareIDs orders snowflakes numerically, which is creation order
func compareIDs(a, b api.ID) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
