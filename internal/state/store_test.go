package state

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/Rajchodisetti/chatgw/internal/api"
	"github.com/Rajchodisetti/chatgw/internal/gateway"
	"github.com/Rajchodisetti/chatgw/internal/observ"
	"github.com/Rajchodisetti/chatgw/internal/stubs"
)

func TestMain(m *testing.M) {
	observ.SetLogger(zap.NewNop())
	goleak.VerifyTestMain(m)
}

type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	msgs  map[api.ID][]api.Message
	gate  chan struct{} // blocks each fetch until closed when set
	err   error
}

func (f *fakeFetcher) Messages(ctx context.Context, req api.FetchMessages) ([]api.Message, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	msgs := f.msgs[req.ChannelID]
	if len(msgs) > req.Limit {
		msgs = msgs[:req.Limit]
	}
	return msgs, nil
}

func (f *fakeFetcher) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSender struct {
	mu   sync.Mutex
	cmds []gateway.Command
}

func (s *fakeSender) Send(_ context.Context, cmd gateway.Command) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cmds = append(s.cmds, cmd)
	return nil
}

func (s *fakeSender) Commands() []gateway.Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]gateway.Command(nil), s.cmds...)
}

var seq atomic.Int64

func dispatch(t *testing.T, typ string, data any) gateway.Dispatch {
	t.Helper()
	b, err := json.Marshal(data)
	require.NoError(t, err)
	return gateway.Dispatch{Sequence: seq.Add(1), Type: typ, Data: b}
}

type fixture struct {
	store   *Store
	fetcher *fakeFetcher
	sender  *fakeSender
	data    stubs.Fixtures
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	data := stubs.DefaultFixtures()
	f := &fixture{
		fetcher: &fakeFetcher{msgs: data.Messages},
		sender:  &fakeSender{},
		data:    data,
	}
	f.store = New(f.sender, f.fetcher, opts)
	f.store.Fold(dispatch(t, gateway.EventReady, data.Ready))
	return f
}

func msg(id, channelID, guildID string, author api.User, content string) gateway.MessageCreateData {
	return gateway.MessageCreateData{Message: api.Message{
		ID:        id,
		ChannelID: channelID,
		GuildID:   guildID,
		Author:    author,
		Content:   content,
		Timestamp: "2024-05-01T13:00:00Z",
	}}
}

func ids(msgs []Message) []api.ID {
	out := make([]api.ID, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestReadyBuildsGraph(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.store

	assert.Equal(t, "100", s.Self().ID)
	require.Len(t, s.Guilds(), 1)
	assert.Equal(t, "gophers", s.Guilds()[0].Name)

	chs := s.GuildChannels("200")
	require.Len(t, chs, 3)
	assert.Equal(t, []api.ID{"300", "301", "302"}, []api.ID{chs[0].ID, chs[1].ID, chs[2].ID})

	threads := s.Threads("301")
	require.Len(t, threads, 1)
	assert.Equal(t, "310", threads[0].ID)
	assert.Equal(t, "301", threads[0].ParentID)

	dms := s.PrivateChannels()
	require.Len(t, dms, 1)
	rec := s.Recipients("400")
	require.Len(t, rec, 1)
	assert.Equal(t, "bob", rec[0].Username)

	u, ok := s.User("200", "101")
	require.True(t, ok)
	assert.Equal(t, "alice", u.Username)
	_, ok = s.User("200", "102")
	assert.False(t, ok, "bob is not a member")
}

func TestReadyReplacesEverything(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.store.Messages(context.Background(), "301")
	require.NoError(t, err)

	f.store.Fold(dispatch(t, gateway.EventReady, gateway.ReadyData{
		User: api.User{ID: "900", Username: "other"},
	}))

	assert.Equal(t, "900", f.store.Self().ID)
	assert.Empty(t, f.store.Guilds())
	assert.Empty(t, f.store.PrivateChannels())
	f.store.View(func(g *Graph) { assert.Empty(t, g.Friends) })

	_, err = f.store.Messages(context.Background(), "301")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestGuildCreateDropsOrphanThreads(t *testing.T) {
	f := newFixture(t, Options{})
	f.store.Fold(dispatch(t, gateway.EventGuildCreate, gateway.GuildCreateData{
		Guild: api.Guild{ID: "700", Name: "another"},
		Channels: []api.Channel{
			{ID: "701", Type: api.ChannelGuildText, Name: "lobby"},
		},
		Threads: []api.Channel{
			{ID: "710", Type: api.ChannelGuildPublicThread, ParentID: "701"},
			{ID: "711", Type: api.ChannelGuildPublicThread, ParentID: "799"},
		},
	}))

	require.Len(t, f.store.Guilds(), 2)
	threads := f.store.Threads("701")
	require.Len(t, threads, 1)
	assert.Equal(t, "710", threads[0].ID)
	_, ok := f.store.Channel("711")
	assert.False(t, ok)
}

func TestGuildDeleteDropsWindows(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.store.Messages(context.Background(), "301")
	require.NoError(t, err)

	f.store.Fold(dispatch(t, gateway.EventGuildDelete, gateway.GuildDeleteData{ID: "200"}))
	assert.Empty(t, f.store.Guilds())

	// the same message now resolves nowhere
	before := f.store.Version()
	f.store.Fold(dispatch(t, gateway.EventMessageCreate, msg("504", "301", "200", f.data.Ready.User, "late")))
	assert.Equal(t, before, f.store.Version())
}

func TestGuildUpdateRemovesRole(t *testing.T) {
	f := newFixture(t, Options{})
	roles := f.store.MemberRoles("200", "101")
	require.Len(t, roles, 2)
	assert.Equal(t, "regulars", roles[0].Name, "position order")
	assert.Equal(t, "mods", roles[1].Name)

	name := "gophers2"
	remaining := []api.Role{
		{ID: "200", Name: "@everyone", Position: 0},
		{ID: "211", Name: "regulars", Position: 1},
	}
	f.store.Fold(dispatch(t, gateway.EventGuildUpdate, gateway.GuildUpdateData{ID: "200", Name: &name, Roles: &remaining}))

	roles = f.store.MemberRoles("200", "101")
	require.Len(t, roles, 1)
	assert.Equal(t, "211", roles[0].ID)

	member, ok := f.store.Member("200", "101")
	require.True(t, ok)
	assert.Equal(t, []api.ID{"210", "211"}, member.RoleIDs, "ids kept, lookup drops stale ones")

	g, _ := f.store.Guild("200")
	assert.Equal(t, "gophers2", g.Name)
}

func TestMembersChunkUnknownGuild(t *testing.T) {
	f := newFixture(t, Options{})
	before := f.store.Version()
	f.store.Fold(dispatch(t, gateway.EventGuildMembersChunk, gateway.GuildMembersChunkData{
		GuildID: "999",
		Members: []api.Member{{User: &api.User{ID: "102"}}},
	}))
	assert.Equal(t, before, f.store.Version())

	f.store.Fold(dispatch(t, gateway.EventGuildMembersChunk, gateway.GuildMembersChunkData{
		GuildID: "200",
		Members: []api.Member{{User: &api.User{ID: "102", Username: "bob"}, Nick: "bobby"}},
	}))
	m, ok := f.store.Member("200", "102")
	require.True(t, ok)
	assert.Equal(t, "bobby", m.Nick)
}

func TestChannelRouting(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.store

	s.Fold(dispatch(t, gateway.EventChannelCreate, api.Channel{ID: "303", Type: api.ChannelGuildText, GuildID: "200", Name: "new", Position: 3}))
	s.Fold(dispatch(t, gateway.EventChannelCreate, api.Channel{ID: "401", Type: api.ChannelGroupDM, RecipientIDs: []api.ID{"101", "102"}}))

	before := s.Version()
	s.Fold(dispatch(t, gateway.EventChannelCreate, api.Channel{ID: "402", Type: api.ChannelDirectMessage, GuildID: "200"}))
	s.Fold(dispatch(t, gateway.EventChannelCreate, api.Channel{ID: "304", Type: api.ChannelGuildText}))
	s.Fold(dispatch(t, gateway.EventChannelCreate, api.Channel{ID: "305", Type: api.ChannelGuildText, GuildID: "999"}))
	assert.Equal(t, before, s.Version(), "invalid channels change nothing")

	assert.Len(t, s.GuildChannels("200"), 4)
	assert.Len(t, s.PrivateChannels(), 2)
	_, ok := s.Channel("402")
	assert.False(t, ok)

	// updating a parent keeps its threads
	s.Fold(dispatch(t, gateway.EventChannelUpdate, api.Channel{ID: "301", Type: api.ChannelGuildText, GuildID: "200", Name: "general-chat", Position: 1}))
	ch, ok := s.Channel("301")
	require.True(t, ok)
	assert.Equal(t, "general-chat", ch.Name)
	assert.Equal(t, []api.ID{"310"}, ch.Threads)

	// deleting a parent removes its threads
	s.Fold(dispatch(t, gateway.EventChannelDelete, api.Channel{ID: "301", Type: api.ChannelGuildText, GuildID: "200"}))
	_, ok = s.Channel("310")
	assert.False(t, ok)
}

func TestThreadLifecycle(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.store

	s.Fold(dispatch(t, gateway.EventThreadCreate, api.Channel{ID: "311", Type: api.ChannelGuildPublicThread, GuildID: "200", ParentID: "302", Name: "t"}))
	require.Len(t, s.Threads("302"), 1)

	before := s.Version()
	s.Fold(dispatch(t, gateway.EventThreadCreate, api.Channel{ID: "312", Type: api.ChannelGuildPublicThread, GuildID: "200", ParentID: "399"}))
	assert.Equal(t, before, s.Version())

	s.Fold(dispatch(t, gateway.EventThreadDelete, gateway.ThreadDeleteData{ID: "311", GuildID: "200", ParentID: "302"}))
	assert.Empty(t, s.Threads("302"))
}

func TestThreadListSync(t *testing.T) {
	f := newFixture(t, Options{})
	s := f.store

	s.Fold(dispatch(t, gateway.EventThreadListSync, gateway.ThreadListSyncData{
		GuildID:    "200",
		ChannelIDs: []api.ID{"301"},
		Threads: []api.Channel{
			{ID: "320", Type: api.ChannelGuildPublicThread, GuildID: "200", ParentID: "301"},
			{ID: "321", Type: api.ChannelGuildPublicThread, GuildID: "200", ParentID: "302"},
		},
	}))

	got := s.Threads("301")
	require.Len(t, got, 1)
	assert.Equal(t, "320", got[0].ID, "old thread replaced")
	_, ok := s.Channel("310")
	assert.False(t, ok)
	assert.Empty(t, s.Threads("302"), "302 was not part of the sync")

	// omitted channel ids sync the whole guild
	s.Fold(dispatch(t, gateway.EventThreadListSync, gateway.ThreadListSyncData{GuildID: "200"}))
	assert.Empty(t, s.Threads("301"))
}

func TestMessageWithoutWindowIsDropped(t *testing.T) {
	f := newFixture(t, Options{})
	before := f.store.Version()
	f.store.Fold(dispatch(t, gateway.EventMessageCreate, msg("504", "301", "200", f.data.Ready.User, "hi")))
	assert.Equal(t, before, f.store.Version())

	got, err := f.store.Messages(context.Background(), "301")
	require.NoError(t, err)
	assert.Equal(t, []api.ID{"503", "502", "501"}, ids(got))
}

func TestFetchOnceThenLive(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	got, err := f.store.Messages(ctx, "301")
	require.NoError(t, err)
	assert.Equal(t, []api.ID{"503", "502", "501"}, ids(got))
	assert.Equal(t, "200", got[0].GuildID)

	f.store.Fold(dispatch(t, gateway.EventMessageCreate, msg("504", "301", "200", f.data.Ready.User, "live")))

	got, err = f.store.Messages(ctx, "301")
	require.NoError(t, err)
	assert.Equal(t, []api.ID{"504", "503", "502", "501"}, ids(got))
	assert.Equal(t, 1, f.fetcher.Calls())
}

func TestConcurrentFetchIsShared(t *testing.T) {
	f := newFixture(t, Options{})
	gate := make(chan struct{})
	f.fetcher.gate = gate

	var wg sync.WaitGroup
	results := make([][]Message, 4)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := f.store.Messages(context.Background(), "301")
			assert.NoError(t, err)
			results[i] = got
		}()
	}
	require.Eventually(t, func() bool { return f.fetcher.Calls() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, 1, f.fetcher.Calls())
	for _, got := range results {
		assert.Len(t, got, 3)
	}
}

func TestFetchSideEffects(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()

	_, err := f.store.Messages(ctx, "301")
	require.NoError(t, err)
	_, err = f.store.Messages(ctx, "302")
	require.NoError(t, err)
	_, err = f.store.Messages(ctx, "400")
	require.NoError(t, err)

	cmds := f.sender.Commands()
	require.Len(t, cmds, 2)
	assert.Equal(t, gateway.UpdateSubscriptions{GuildID: "200", Typing: true, Threads: true, Activities: true}, cmds[0])
	assert.Equal(t, gateway.RequestGuildMembers{GuildID: "200", UserIDs: []api.ID{"102"}, Limit: 1}, cmds[1])
}

func TestFetchUnknownChannel(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.store.Messages(context.Background(), "999")
	assert.ErrorIs(t, err, ErrUnknownChannel)
	assert.Zero(t, f.fetcher.Calls())
}

func TestFetchErrorLeavesNoWindow(t *testing.T) {
	f := newFixture(t, Options{})
	f.fetcher.err = &api.HTTPError{Status: 500, StatusText: "Internal Server Error"}

	_, err := f.store.Messages(context.Background(), "301")
	var httpErr *api.HTTPError
	require.ErrorAs(t, err, &httpErr)

	f.fetcher.err = nil
	got, err := f.store.Messages(context.Background(), "301")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, 2, f.fetcher.Calls())
}

func TestMessageLimitEvicts(t *testing.T) {
	f := newFixture(t, Options{MessageLimit: 3})
	_, err := f.store.Messages(context.Background(), "301")
	require.NoError(t, err)

	f.store.Fold(dispatch(t, gateway.EventMessageCreate, msg("504", "301", "200", f.data.Ready.User, "a")))
	f.store.Fold(dispatch(t, gateway.EventMessageCreate, msg("505", "301", "200", f.data.Ready.User, "b")))
	// duplicate delivery is a no-op
	f.store.Fold(dispatch(t, gateway.EventMessageCreate, msg("505", "301", "200", f.data.Ready.User, "b")))

	got, err := f.store.Messages(context.Background(), "301")
	require.NoError(t, err)
	assert.Equal(t, []api.ID{"505", "504", "503"}, ids(got))
}

func TestMessageCreateMergesMember(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.store.Messages(context.Background(), "301")
	require.NoError(t, err)

	carol := api.User{ID: "103", Username: "carol"}
	m := msg("504", "301", "200", carol, "hi")
	m.Member = &api.Member{Nick: "caz", Roles: []api.ID{"211"}}
	f.store.Fold(dispatch(t, gateway.EventMessageCreate, m))

	member, ok := f.store.Member("200", "103")
	require.True(t, ok)
	assert.Equal(t, "caz", member.Nick)
	assert.Equal(t, "carol", member.User.Username)

	got, _ := f.store.Messages(context.Background(), "301")
	assert.Equal(t, "carol", f.store.Author(got[0]).Username)

	// webhooks carry no real member
	hook := msg("505", "301", "200", api.User{ID: "104", Username: "ci"}, "build ok")
	hook.WebhookID = "800"
	hook.Member = &api.Member{Nick: "ignored"}
	f.store.Fold(dispatch(t, gateway.EventMessageCreate, hook))
	_, ok = f.store.Member("200", "104")
	assert.False(t, ok)
}

func TestMessageUpdateAndDelete(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.store.Messages(context.Background(), "301")
	require.NoError(t, err)

	content := "edited"
	edited := "2024-05-01T14:00:00Z"
	f.store.Fold(dispatch(t, gateway.EventMessageUpdate, gateway.MessageUpdateData{
		ID: "502", ChannelID: "301", GuildID: "200", Content: &content, EditedTimestamp: &edited,
	}))
	// embed-only update keeps content
	embeds := []api.Embed{{Title: "link"}}
	f.store.Fold(dispatch(t, gateway.EventMessageUpdate, gateway.MessageUpdateData{
		ID: "502", ChannelID: "301", GuildID: "200", Embeds: &embeds,
	}))

	got, _ := f.store.Messages(context.Background(), "301")
	assert.Equal(t, "edited", got[1].Content)
	assert.Len(t, got[1].Embeds, 1)
	assert.False(t, got[1].EditedTimestamp.IsZero())

	before := f.store.Version()
	f.store.Fold(dispatch(t, gateway.EventMessageUpdate, gateway.MessageUpdateData{ID: "999", ChannelID: "301", GuildID: "200", Content: &content}))
	f.store.Fold(dispatch(t, gateway.EventMessageDelete, gateway.MessageDeleteData{ID: "999", ChannelID: "301", GuildID: "200"}))
	assert.Equal(t, before, f.store.Version(), "unknown ids are no-ops")

	f.store.Fold(dispatch(t, gateway.EventMessageDelete, gateway.MessageDeleteData{ID: "502", ChannelID: "301", GuildID: "200"}))
	got, _ = f.store.Messages(context.Background(), "301")
	assert.Equal(t, []api.ID{"503", "501"}, ids(got))
}

func TestPrivateMessages(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.store.Messages(context.Background(), "400")
	require.NoError(t, err)

	bob := api.User{ID: "102", Username: "bob"}
	f.store.Fold(dispatch(t, gateway.EventMessageCreate, msg("602", "400", "", bob, "again")))
	got, _ := f.store.Messages(context.Background(), "400")
	assert.Equal(t, []api.ID{"602", "601"}, ids(got))
	assert.Equal(t, "bob", f.store.Author(got[0]).Username)
}

func TestBadPayloadDoesNotStopRun(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.store.Messages(context.Background(), "301")
	require.NoError(t, err)

	events := make(chan gateway.Event, 4)
	events <- gateway.Dispatch{Sequence: 10, Type: gateway.EventGuildUpdate, Data: json.RawMessage(`{"id": 5}`)}
	events <- gateway.Dispatch{Sequence: 11, Type: gateway.EventMessageCreate, Data: json.RawMessage(`[]`)}
	events <- dispatch(t, gateway.EventMessageCreate, msg("504", "301", "200", f.data.Ready.User, "still here"))
	close(events)

	require.NoError(t, f.store.Run(context.Background(), events))
	got, _ := f.store.Messages(context.Background(), "301")
	assert.Equal(t, "504", got[0].ID)
}

func TestResumeIsTransparent(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.store.Messages(context.Background(), "301")
	require.NoError(t, err)
	before := f.store.Version()

	events := make(chan gateway.Event, 4)
	events <- gateway.TransportError{Cause: errors.New("reset")}
	events <- dispatch(t, gateway.EventResumed, map[string]any{})
	events <- dispatch(t, gateway.EventMessageCreate, msg("504", "301", "200", f.data.Ready.User, "missed"))
	close(events)
	require.NoError(t, f.store.Run(context.Background(), events))

	assert.Equal(t, before+1, f.store.Version())
	got, _ := f.store.Messages(context.Background(), "301")
	assert.Len(t, got, 4)
	assert.Equal(t, 1, f.fetcher.Calls())
	assert.Len(t, f.store.Guilds(), 1)
}

func TestSubscribeCoalesces(t *testing.T) {
	f := newFixture(t, Options{})
	ch, cancel := f.store.Subscribe()
	defer cancel()

	f.store.Fold(dispatch(t, gateway.EventChannelCreate, api.Channel{ID: "303", Type: api.ChannelGuildText, GuildID: "200"}))
	f.store.Fold(dispatch(t, gateway.EventChannelCreate, api.Channel{ID: "304", Type: api.ChannelGuildText, GuildID: "200"}))

	select {
	case <-ch:
	default:
		t.Fatal("expected a notification")
	}
	select {
	case <-ch:
		t.Fatal("notifications should coalesce")
	default:
	}
}

func TestRunStopsOnContext(t *testing.T) {
	f := newFixture(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.store.Run(ctx, make(chan gateway.Event)) }()
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
