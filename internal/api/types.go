package api

// ID is a snowflake identifier in its decimal string form
type ID = string

// ChannelType enumerates channel kinds as numbered on the wire
type ChannelType int

const (
	ChannelGuildText ChannelType = iota
	ChannelDirectMessage
	ChannelGuildVoice
	ChannelGroupDM
	ChannelGuildCategory
	ChannelGuildNews
	ChannelGuildStore
	_
	_
	_
	ChannelGuildNewsThread
	ChannelGuildPublicThread
	ChannelGuildPrivateThread
	ChannelGuildStageVoice
	ChannelGuildDirectory
	ChannelGuildForum
)

// IsDM reports whether the channel lives outside any guild
func (t ChannelType) IsDM() bool {
	return t == ChannelDirectMessage || t == ChannelGroupDM
}

// IsThread reports whether the channel is a thread under a parent channel
func (t ChannelType) IsThread() bool {
	switch t {
	case ChannelGuildNewsThread, ChannelGuildPublicThread, ChannelGuildPrivateThread:
		return true
	}
	return false
}

// IsText reports whether messages can be read from the channel. Voice
// channels carry a text chat too.
func (t ChannelType) IsText() bool {
	switch t {
	case ChannelDirectMessage, ChannelGroupDM, ChannelGuildText, ChannelGuildNews,
		ChannelGuildStore, ChannelGuildNewsThread, ChannelGuildPublicThread,
		ChannelGuildPrivateThread, ChannelGuildVoice:
		return true
	}
	return false
}

// MessageType enumerates message kinds
type MessageType int

const (
	MessageDefault MessageType = iota
	MessageRecipientAdd
	MessageRecipientRemove
	MessageCall
	MessageChannelNameChange
	MessageChannelIconChange
	MessageChannelPinned
	MessageGuildMemberJoin
	MessageNitroBoost
	MessageNitroTier1
	MessageNitroTier2
	MessageNitroTier3
	MessageChannelFollowAdd
	_
	MessageGuildDiscoveryDisqualified
	MessageGuildDiscoveryRequalified
	MessageGuildDiscoveryGracePeriodInitialWarning
	MessageGuildDiscoveryGracePeriodFinalWarning
	MessageThreadCreated
	MessageInlinedReply
	MessageChatInputCommand
	MessageThreadStarter
	MessageGuildInviteReminder
	MessageContextMenuCommand
	MessageAutoModerationAction
)

type User struct {
	ID            ID     `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar,omitempty"`
	Bot           bool   `json:"bot,omitempty"`
}

// Member is a guild membership. User is absent on member objects nested in
// message events.
type Member struct {
	User   *User  `json:"user,omitempty"`
	Nick   string `json:"nick,omitempty"`
	Roles  []ID   `json:"roles"`
	Avatar string `json:"avatar,omitempty"`
}

type Role struct {
	ID       ID     `json:"id"`
	Name     string `json:"name"`
	Color    int    `json:"color"`
	Position int    `json:"position"`
}

type Guild struct {
	ID     ID     `json:"id"`
	Name   string `json:"name"`
	Icon   string `json:"icon,omitempty"`
	Banner string `json:"banner,omitempty"`
	Roles  []Role `json:"roles"`
}

type Channel struct {
	ID           ID          `json:"id"`
	Type         ChannelType `json:"type"`
	Name         string      `json:"name,omitempty"`
	Topic        string      `json:"topic,omitempty"`
	NSFW         bool        `json:"nsfw,omitempty"`
	GuildID      ID          `json:"guild_id,omitempty"`
	ParentID     ID          `json:"parent_id,omitempty"`
	Position     int         `json:"position,omitempty"`
	Recipients   []User      `json:"recipients,omitempty"`
	RecipientIDs []ID        `json:"recipient_ids,omitempty"`
}

type Attachment struct {
	ID          ID     `json:"id"`
	Filename    string `json:"filename"`
	Description string `json:"description,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size"`
	URL         string `json:"url"`
	ProxyURL    string `json:"proxy_url"`
	Width       int    `json:"width,omitempty"`
	Height      int    `json:"height,omitempty"`
}

// EmbedMedia covers embed image, thumbnail and video objects
type EmbedMedia struct {
	URL      string `json:"url,omitempty"`
	ProxyURL string `json:"proxy_url,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
}

type EmbedFooter struct {
	Text         string `json:"text"`
	IconURL      string `json:"icon_url,omitempty"`
	ProxyIconURL string `json:"proxy_icon_url,omitempty"`
}

type EmbedProvider struct {
	Name string `json:"name,omitempty"`
	URL  string `json:"url,omitempty"`
}

type EmbedAuthor struct {
	Name         string `json:"name,omitempty"`
	URL          string `json:"url,omitempty"`
	IconURL      string `json:"icon_url,omitempty"`
	ProxyIconURL string `json:"proxy_icon_url,omitempty"`
}

type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

type Embed struct {
	Title       string         `json:"title,omitempty"`
	Type        string         `json:"type,omitempty"` // rich, image, video, gifv, article, link
	Description string         `json:"description,omitempty"`
	URL         string         `json:"url,omitempty"`
	Timestamp   string         `json:"timestamp,omitempty"`
	Color       int            `json:"color,omitempty"`
	Footer      *EmbedFooter   `json:"footer,omitempty"`
	Image       *EmbedMedia    `json:"image,omitempty"`
	Thumbnail   *EmbedMedia    `json:"thumbnail,omitempty"`
	Video       *EmbedMedia    `json:"video,omitempty"`
	Provider    *EmbedProvider `json:"provider,omitempty"`
	Author      *EmbedAuthor   `json:"author,omitempty"`
	Fields      []EmbedField   `json:"fields,omitempty"`
}

type MessageReference struct {
	MessageID ID `json:"message_id,omitempty"`
	ChannelID ID `json:"channel_id,omitempty"`
	GuildID   ID `json:"guild_id,omitempty"`
}

type Message struct {
	ID                ID                `json:"id"`
	Type              MessageType       `json:"type"`
	Content           string            `json:"content"`
	ChannelID         ID                `json:"channel_id"`
	GuildID           ID                `json:"guild_id,omitempty"`
	Author            User              `json:"author"`
	Timestamp         string            `json:"timestamp"`
	EditedTimestamp   string            `json:"edited_timestamp,omitempty"`
	WebhookID         ID                `json:"webhook_id,omitempty"`
	Attachments       []Attachment      `json:"attachments"`
	Embeds            []Embed           `json:"embeds,omitempty"`
	MessageReference  *MessageReference `json:"message_reference,omitempty"`
	ReferencedMessage *Message          `json:"referenced_message,omitempty"`
}
