package state

import (
	"slices"

	"github.com/Rajchodisetti/chatgw/internal/api"
	"github.com/Rajchodisetti/chatgw/internal/gateway"
)

// Fold handlers run with s.mu held.

func (s *Store) foldReady(d gateway.Dispatch) error {
	var r gateway.ReadyData
	if err := d.Decode(&r); err != nil {
		return err
	}

	g := newGraph()
	g.Self = r.User
	for _, u := range r.Users {
		g.Friends[u.ID] = &u
	}
	for _, c := range r.PrivateChannels {
		addPrivateChannel(g, c)
	}
	for _, gc := range r.Guilds {
		g.Guilds[gc.ID] = buildGuild(d, gc)
	}

	s.graph = g
	s.windows = make(map[api.ID]*window)
	s.subscribed = make(map[api.ID]bool)
	return nil
}

func buildGuild(d gateway.Dispatch, gc gateway.GuildCreateData) *Guild {
	g := convertGuild(gc.Guild)
	for _, m := range gc.Members {
		if m.User == nil {
			continue
		}
		g.Members[m.User.ID] = convertMember(g.ID, m, *m.User)
	}
	for _, c := range gc.Channels {
		ch := convertChannel(c)
		ch.GuildID = g.ID
		g.Channels[ch.ID] = ch
	}
	for _, t := range gc.Threads {
		if attachThread(g, t) == nil {
			miss(d, "thread_parent", t.ParentID)
		}
	}
	return g
}

// attachThread stores t under its parent, returning nil if the parent is
// unknown
func attachThread(g *Guild, t api.Channel) *Channel {
	parent, ok := g.Channels[t.ParentID]
	if !ok || parent.Type.IsThread() {
		return nil
	}
	th := convertChannel(t)
	th.GuildID = g.ID
	if old, ok := g.Channels[th.ID]; ok && old.ParentID != th.ParentID {
		detachThread(g, old)
	}
	g.Channels[th.ID] = th
	if !slices.Contains(parent.Threads, th.ID) {
		parent.Threads = append(parent.Threads, th.ID)
	}
	return th
}

func detachThread(g *Guild, th *Channel) {
	if parent, ok := g.Channels[th.ParentID]; ok {
		parent.Threads = slices.DeleteFunc(parent.Threads, func(id api.ID) bool { return id == th.ID })
	}
}

// addPrivateChannel stores a DM channel and remembers any recipient users
// delivered with it
func addPrivateChannel(g *Graph, c api.Channel) {
	g.PrivateChannels[c.ID] = convertChannel(c)
	for _, u := range c.Recipients {
		if _, ok := g.Friends[u.ID]; !ok {
			g.Friends[u.ID] = &u
		}
	}
}

func (s *Store) foldGuildCreate(d gateway.Dispatch) error {
	var gc gateway.GuildCreateData
	if err := d.Decode(&gc); err != nil {
		return err
	}
	if old, ok := s.graph.Guilds[gc.ID]; ok {
		s.dropWindows(old)
	}
	s.graph.Guilds[gc.ID] = buildGuild(d, gc)
	return nil
}

func (s *Store) foldGuildUpdate(d gateway.Dispatch) error {
	var u gateway.GuildUpdateData
	if err := d.Decode(&u); err != nil {
		return err
	}
	g, ok := s.graph.Guilds[u.ID]
	if !ok {
		return miss(d, "guild", u.ID)
	}
	if u.Name != nil {
		g.Name = *u.Name
	}
	if u.Icon != nil {
		g.Icon = *u.Icon
	}
	if u.Roles != nil {
		g.Roles = sortRoles(*u.Roles)
	}
	return nil
}

func (s *Store) foldGuildDelete(d gateway.Dispatch) error {
	var gd gateway.GuildDeleteData
	if err := d.Decode(&gd); err != nil {
		return err
	}
	g, ok := s.graph.Guilds[gd.ID]
	if !ok {
		return miss(d, "guild", gd.ID)
	}
	s.dropWindows(g)
	delete(s.graph.Guilds, gd.ID)
	delete(s.subscribed, gd.ID)
	return nil
}

func (s *Store) dropWindows(g *Guild) {
	for id := range g.Channels {
		delete(s.windows, id)
	}
}

func (s *Store) foldMembersChunk(d gateway.Dispatch) error {
	var chunk gateway.GuildMembersChunkData
	if err := d.Decode(&chunk); err != nil {
		return err
	}
	g, ok := s.graph.Guilds[chunk.GuildID]
	if !ok {
		// deleted while the request was in flight
		return miss(d, "guild", chunk.GuildID)
	}
	for _, m := range chunk.Members {
		if m.User == nil {
			continue
		}
		g.Members[m.User.ID] = convertMember(g.ID, m, *m.User)
	}
	return nil
}

func (s *Store) foldChannelUpsert(d gateway.Dispatch) error {
	var c api.Channel
	if err := d.Decode(&c); err != nil {
		return err
	}

	if c.GuildID == "" {
		if !c.Type.IsDM() {
			return miss(d, "guild_for_channel", c.ID)
		}
		addPrivateChannel(s.graph, c)
		return nil
	}
	if c.Type.IsDM() {
		return miss(d, "dm_channel_with_guild", c.ID)
	}

	g, ok := s.graph.Guilds[c.GuildID]
	if !ok {
		return miss(d, "guild", c.GuildID)
	}
	if c.Type.IsThread() {
		if attachThread(g, c) == nil {
			return miss(d, "thread_parent", c.ParentID)
		}
		return nil
	}
	ch := convertChannel(c)
	ch.GuildID = g.ID
	if old, ok := g.Channels[ch.ID]; ok {
		ch.Threads = old.Threads
	}
	g.Channels[ch.ID] = ch
	return nil
}

func (s *Store) foldChannelDelete(d gateway.Dispatch) error {
	var c api.Channel
	if err := d.Decode(&c); err != nil {
		return err
	}

	if c.GuildID == "" {
		if _, ok := s.graph.PrivateChannels[c.ID]; !ok {
			return miss(d, "channel", c.ID)
		}
		delete(s.graph.PrivateChannels, c.ID)
		delete(s.windows, c.ID)
		return nil
	}
	if c.Type.IsDM() {
		return miss(d, "dm_channel_with_guild", c.ID)
	}

	g, ok := s.graph.Guilds[c.GuildID]
	if !ok {
		return miss(d, "guild", c.GuildID)
	}
	ch, ok := g.Channels[c.ID]
	if !ok {
		return miss(d, "channel", c.ID)
	}
	s.removeGuildChannel(g, ch)
	return nil
}

// removeGuildChannel drops a channel or thread, and a parent's threads with it
func (s *Store) removeGuildChannel(g *Guild, ch *Channel) {
	if ch.Type.IsThread() {
		detachThread(g, ch)
	}
	for _, id := range ch.Threads {
		delete(g.Channels, id)
		delete(s.windows, id)
	}
	delete(g.Channels, ch.ID)
	delete(s.windows, ch.ID)
}

func (s *Store) foldThreadUpsert(d gateway.Dispatch) error {
	var t api.Channel
	if err := d.Decode(&t); err != nil {
		return err
	}
	g, ok := s.graph.Guilds[t.GuildID]
	if !ok {
		return miss(d, "guild", t.GuildID)
	}
	if attachThread(g, t) == nil {
		return miss(d, "thread_parent", t.ParentID)
	}
	return nil
}

func (s *Store) foldThreadDelete(d gateway.Dispatch) error {
	var td gateway.ThreadDeleteData
	if err := d.Decode(&td); err != nil {
		return err
	}
	g, ok := s.graph.Guilds[td.GuildID]
	if !ok {
		return miss(d, "guild", td.GuildID)
	}
	th, ok := g.Channels[td.ID]
	if !ok || !th.Type.IsThread() {
		return miss(d, "thread", td.ID)
	}
	s.removeGuildChannel(g, th)
	return nil
}

func (s *Store) foldThreadListSync(d gateway.Dispatch) error {
	var ls gateway.ThreadListSyncData
	if err := d.Decode(&ls); err != nil {
		return err
	}
	g, ok := s.graph.Guilds[ls.GuildID]
	if !ok {
		return miss(d, "guild", ls.GuildID)
	}

	parents := make(map[api.ID]*Channel)
	if len(ls.ChannelIDs) > 0 {
		for _, id := range ls.ChannelIDs {
			if ch, ok := g.Channels[id]; ok && !ch.Type.IsThread() {
				parents[id] = ch
			} else {
				miss(d, "channel", id)
			}
		}
	} else {
		for id, ch := range g.Channels {
			if !ch.Type.IsThread() {
				parents[id] = ch
			}
		}
	}

	for _, parent := range parents {
		for _, id := range parent.Threads {
			delete(g.Channels, id)
			delete(s.windows, id)
		}
		parent.Threads = []api.ID{}
	}
	for _, t := range ls.Threads {
		if _, ok := parents[t.ParentID]; !ok {
			miss(d, "thread_parent", t.ParentID)
			continue
		}
		attachThread(g, t)
	}
	return nil
}

// resolveChannel finds a message's channel through its guild, or among the
// private channels when the event has no guild id
func (s *Store) resolveChannel(d gateway.Dispatch, guildID, channelID api.ID) (*Channel, error) {
	if guildID != "" {
		g, ok := s.graph.Guilds[guildID]
		if !ok {
			return nil, miss(d, "guild", guildID)
		}
		ch, ok := g.Channels[channelID]
		if !ok {
			return nil, miss(d, "channel", channelID)
		}
		return ch, nil
	}
	ch, ok := s.graph.PrivateChannels[channelID]
	if !ok {
		return nil, miss(d, "channel", channelID)
	}
	return ch, nil
}

func (s *Store) foldMessageCreate(d gateway.Dispatch) error {
	var m gateway.MessageCreateData
	if err := d.Decode(&m); err != nil {
		return err
	}
	ch, err := s.resolveChannel(d, m.GuildID, m.ChannelID)
	if err != nil {
		return err
	}
	w, ok := s.windows[ch.ID]
	if !ok {
		// never fetched; the window is created by the first fetch
		return errIgnored
	}

	if m.Member != nil && m.GuildID != "" && m.WebhookID == "" {
		if g, ok := s.graph.Guilds[m.GuildID]; ok {
			// the member arrives without its user; splice in the author
			g.Members[m.Author.ID] = convertMember(g.ID, *m.Member, m.Author)
		}
	}

	msg := convertMessage(m.Message)
	if msg.GuildID == "" {
		msg.GuildID = ch.GuildID
	}
	if !w.prepend(msg) {
		return errIgnored
	}
	return nil
}

func (s *Store) foldMessageUpdate(d gateway.Dispatch) error {
	var u gateway.MessageUpdateData
	if err := d.Decode(&u); err != nil {
		return err
	}
	ch, err := s.resolveChannel(d, u.GuildID, u.ChannelID)
	if err != nil {
		return err
	}
	w, ok := s.windows[ch.ID]
	if !ok {
		return errIgnored
	}
	i := w.index(u.ID)
	if i < 0 {
		// scrolled out, or older than the fetch
		return errIgnored
	}

	m := &w.messages[i]
	if u.Content != nil {
		m.Content = *u.Content
	}
	if u.Attachments != nil {
		m.Attachments = convertAttachments(*u.Attachments)
	}
	if u.Embeds != nil {
		m.Embeds = slices.Clone(*u.Embeds)
	}
	if u.EditedTimestamp != nil {
		m.EditedTimestamp = parseTime(*u.EditedTimestamp)
	}
	return nil
}

func (s *Store) foldMessageDelete(d gateway.Dispatch) error {
	var md gateway.MessageDeleteData
	if err := d.Decode(&md); err != nil {
		return err
	}
	ch, err := s.resolveChannel(d, md.GuildID, md.ChannelID)
	if err != nil {
		return err
	}
	w, ok := s.windows[ch.ID]
	if !ok || !w.remove(md.ID) {
		return errIgnored
	}
	return nil
}
