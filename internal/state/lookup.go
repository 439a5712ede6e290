package state

import (
	"cmp"
	"slices"
	"strings"

	"github.com/Rajchodisetti/chatgw/internal/api"
)

// Derived views are computed from the graph on every read and returned by
// value.

// GuildInfo is a guild without its members and channels
type GuildInfo struct {
	ID   api.ID
	Name string
	Icon string
}

// lookupChannel searches guild channels, then private channels. Caller
// holds s.mu.
func (s *Store) lookupChannel(id api.ID) (*Channel, bool) {
	for _, g := range s.graph.Guilds {
		if ch, ok := g.Channels[id]; ok {
			return ch, true
		}
	}
	ch, ok := s.graph.PrivateChannels[id]
	return ch, ok
}

// Self is the authenticated user
func (s *Store) Self() api.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.graph.Self
}

func (s *Store) Channel(id api.ID) (Channel, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.lookupChannel(id)
	if !ok {
		return Channel{}, false
	}
	return cloneChannel(ch), true
}

func (s *Store) Guild(id api.ID) (GuildInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graph.Guilds[id]
	if !ok {
		return GuildInfo{}, false
	}
	return GuildInfo{ID: g.ID, Name: g.Name, Icon: g.Icon}, true
}

// Guilds lists guilds by name
func (s *Store) Guilds() []GuildInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]GuildInfo, 0, len(s.graph.Guilds))
	for _, g := range s.graph.Guilds {
		out = append(out, GuildInfo{ID: g.ID, Name: g.Name, Icon: g.Icon})
	}
	slices.SortFunc(out, func(a, b GuildInfo) int {
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return compareIDs(a.ID, b.ID)
	})
	return out
}

// GuildChannels lists a guild's non-thread channels by position
func (s *Store) GuildChannels(guildID api.ID) []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graph.Guilds[guildID]
	if !ok {
		return nil
	}
	var out []Channel
	for _, ch := range g.Channels {
		if !ch.Type.IsThread() {
			out = append(out, cloneChannel(ch))
		}
	}
	sortChannels(out)
	return out
}

// Threads lists the known threads of a channel
func (s *Store) Threads(channelID api.ID) []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, ok := s.lookupChannel(channelID)
	if !ok || parent.GuildID == "" {
		return nil
	}
	g := s.graph.Guilds[parent.GuildID]
	var out []Channel
	for _, id := range parent.Threads {
		if th, ok := g.Channels[id]; ok {
			out = append(out, cloneChannel(th))
		}
	}
	sortChannels(out)
	return out
}

// PrivateChannels lists DM channels, newest first
func (s *Store) PrivateChannels() []Channel {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Channel, 0, len(s.graph.PrivateChannels))
	for _, ch := range s.graph.PrivateChannels {
		out = append(out, cloneChannel(ch))
	}
	slices.SortFunc(out, func(a, b Channel) int { return compareIDs(b.ID, a.ID) })
	return out
}

// Friends lists users known outside any guild
func (s *Store) Friends() []api.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]api.User, 0, len(s.graph.Friends))
	for _, u := range s.graph.Friends {
		out = append(out, *u)
	}
	slices.SortFunc(out, func(a, b api.User) int { return compareIDs(a.ID, b.ID) })
	return out
}

func (s *Store) Member(guildID, userID api.ID) (Member, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graph.Guilds[guildID]
	if !ok {
		return Member{}, false
	}
	m, ok := g.Members[userID]
	if !ok {
		return Member{}, false
	}
	out := *m
	out.RoleIDs = slices.Clone(m.RoleIDs)
	return out, true
}

// MemberRoles resolves a member's role ids against the guild's current
// roles, lowest position first. Ids of deleted roles are dropped.
func (s *Store) MemberRoles(guildID, userID api.ID) []api.Role {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.graph.Guilds[guildID]
	if !ok {
		return nil
	}
	m, ok := g.Members[userID]
	if !ok {
		return nil
	}
	var out []api.Role
	for _, r := range g.Roles {
		if slices.Contains(m.RoleIDs, r.ID) {
			out = append(out, r)
		}
	}
	return out
}

// User finds a user as a guild member when guildID is set, otherwise among
// friends and the self user
func (s *Store) User(guildID, userID api.ID) (api.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user(guildID, userID)
}

func (s *Store) user(guildID, userID api.ID) (api.User, bool) {
	if guildID != "" {
		g, ok := s.graph.Guilds[guildID]
		if !ok {
			return api.User{}, false
		}
		m, ok := g.Members[userID]
		if !ok {
			return api.User{}, false
		}
		return m.User, true
	}
	if u, ok := s.graph.Friends[userID]; ok {
		return *u, true
	}
	if s.graph.Self.ID != "" && s.graph.Self.ID == userID {
		return s.graph.Self, true
	}
	return api.User{}, false
}

// Recipients resolves a private channel's recipients in order. Unknown users
// are skipped.
func (s *Store) Recipients(channelID api.ID) []api.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ch, ok := s.graph.PrivateChannels[channelID]
	if !ok {
		return nil
	}
	out := make([]api.User, 0, len(ch.Recipients))
	for _, id := range ch.Recipients {
		if u, ok := s.user("", id); ok {
			out = append(out, u)
		}
	}
	return out
}

// Author is the freshest known user behind a message, falling back to the
// author the message carried
func (s *Store) Author(m Message) api.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.user(m.GuildID, m.Author.ID); ok {
		return u
	}
	if m.GuildID != "" {
		if u, ok := s.user("", m.Author.ID); ok {
			return u
		}
	}
	return m.Author
}

func cloneChannel(ch *Channel) Channel {
	out := *ch
	out.Threads = slices.Clone(ch.Threads)
	out.Recipients = slices.Clone(ch.Recipients)
	return out
}

func sortChannels(chs []Channel) {
	slices.SortFunc(chs, func(a, b Channel) int {
		return cmp.Or(cmp.Compare(a.Position, b.Position), compareIDs(a.ID, b.ID))
	})
}
