package state

import (
	"context"
	"fmt"

	"github.com/Rajchodisetti/chatgw/internal/api"
	"github.com/Rajchodisetti/chatgw/internal/gateway"
	"github.com/Rajchodisetti/chatgw/internal/observ"
)

// Messages returns the message window of a channel, newest first. The first
// request for a channel fetches its history; later requests return the live
// window without a network call.
func (s *Store) Messages(ctx context.Context, channelID api.ID) ([]Message, error) {
	s.mu.RLock()
	if w, ok := s.windows[channelID]; ok {
		out := w.snapshot()
		s.mu.RUnlock()
		return out, nil
	}
	_, known := s.lookupChannel(channelID)
	s.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}

	v, err, _ := s.flight.Do(channelID, func() (any, error) {
		return s.populate(ctx, channelID)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Message), nil
}

// populate fetches history and installs the window, then sends the fetch's
// follow-up commands outside the lock
func (s *Store) populate(ctx context.Context, channelID api.ID) ([]Message, error) {
	raw, err := s.fetcher.Messages(ctx, api.FetchMessages{
		ChannelID: channelID,
		Limit:     min(100, s.limit),
	})
	if err != nil {
		return nil, err
	}
	msgs := make([]Message, 0, len(raw))
	for _, m := range raw {
		msgs = append(msgs, convertMessage(m))
	}

	s.mu.Lock()
	if w, ok := s.windows[channelID]; ok {
		out := w.snapshot()
		s.mu.Unlock()
		return out, nil
	}
	ch, ok := s.lookupChannel(channelID)
	if !ok {
		// deleted, or a new READY replaced the graph, while fetching
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, channelID)
	}

	for i := range msgs {
		if msgs[i].GuildID == "" {
			msgs[i].GuildID = ch.GuildID
		}
	}
	w := newWindow(s.limit, msgs)
	s.windows[channelID] = w
	cmds := s.followUps(ch, w)
	s.version++
	out := w.snapshot()
	s.mu.Unlock()

	s.notify()
	if s.sender != nil {
		for _, cmd := range cmds {
			if err := s.sender.Send(ctx, cmd); err != nil {
				observ.Warn("state_follow_up_failed", map[string]any{"op": cmd.Op(), "error": err.Error()})
			}
		}
	}
	return out, nil
}

// followUps subscribes to the channel's guild once per session and asks for
// members behind unknown authors. Caller holds s.mu.
func (s *Store) followUps(ch *Channel, w *window) []gateway.Command {
	if ch.GuildID == "" {
		return nil
	}
	g, ok := s.graph.Guilds[ch.GuildID]
	if !ok {
		return nil
	}

	var cmds []gateway.Command
	if !s.subscribed[g.ID] {
		s.subscribed[g.ID] = true
		cmds = append(cmds, gateway.UpdateSubscriptions{
			GuildID:    g.ID,
			Typing:     true,
			Threads:    true,
			Activities: true,
		})
	}

	var missing []api.ID
	seen := make(map[api.ID]bool)
	for _, m := range w.messages {
		id := m.Author.ID
		if id == "" || m.WebhookID != "" || seen[id] {
			continue
		}
		seen[id] = true
		if _, ok := g.Members[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		cmds = append(cmds, gateway.RequestGuildMembers{
			GuildID: g.ID,
			UserIDs: missing,
			Limit:   len(missing),
		})
	}
	return cmds
}
