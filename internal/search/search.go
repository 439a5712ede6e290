// Package search ranks channels against a typed query with fuzzy matching.
// It only reads the store's public listings.
package search

import (
	"strings"
	"sync"

	"github.com/sahilm/fuzzy"

	"github.com/Rajchodisetti/chatgw/internal/api"
	"github.com/Rajchodisetti/chatgw/internal/state"
)

// DefaultLimit caps the number of results
const DefaultLimit = 35

// Source is the read side of state.Store the index is built from
type Source interface {
	Version() uint64
	Guilds() []state.GuildInfo
	GuildChannels(guildID api.ID) []state.Channel
	PrivateChannels() []state.Channel
	Recipients(channelID api.ID) []api.User
}

// Result is one matched channel. Matched holds byte offsets into Text.
type Result struct {
	Channel state.Channel
	Guild   *state.GuildInfo // nil for private channels
	Text    string
	Matched []int
	Score   int
}

type entry struct {
	channel state.Channel
	guild   *state.GuildInfo
	text    string
}

type entries []entry

func (e entries) String(i int) string { return e[i].text }
func (e entries) Len() int            { return len(e) }

// Searcher keeps an index of text channels and rebuilds it when the source
// version moves.
type Searcher struct {
	src   Source
	limit int

	mu      sync.Mutex
	version uint64
	built   bool
	index   entries
}

// New returns a searcher over src. limit <= 0 means DefaultLimit.
func New(src Source, limit int) *Searcher {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Searcher{src: src, limit: limit}
}

// Search returns the best matches first. An empty query matches nothing.
func (s *Searcher) Search(input string) []Result {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil
	}
	idx := s.current()

	matches := fuzzy.FindFrom(input, idx)
	if len(matches) > s.limit {
		matches = matches[:s.limit]
	}
	out := make([]Result, len(matches))
	for i, m := range matches {
		e := idx[m.Index]
		out[i] = Result{
			Channel: e.channel,
			Guild:   e.guild,
			Text:    e.text,
			Matched: m.MatchedIndexes,
			Score:   m.Score,
		}
	}
	return out
}

func (s *Searcher) current() entries {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.src.Version()
	if !s.built || v != s.version {
		s.index = build(s.src)
		s.version = v
		s.built = true
	}
	return s.index
}

func build(src Source) entries {
	var idx entries
	for _, g := range src.Guilds() {
		for _, ch := range src.GuildChannels(g.ID) {
			if !ch.Type.IsText() {
				continue
			}
			idx = append(idx, entry{channel: ch, guild: &g, text: g.Name + " " + ch.Name})
		}
	}
	for _, ch := range src.PrivateChannels() {
		names := make([]string, 0, 4)
		if ch.Name != "" {
			names = append(names, ch.Name)
		}
		for _, u := range src.Recipients(ch.ID) {
			names = append(names, u.Username)
		}
		if len(names) == 0 {
			continue
		}
		idx = append(idx, entry{channel: ch, text: strings.Join(names, " ")})
	}
	return idx
}
