package monitor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xIceArcher/go-livewatch/cache"
	"github.com/xIceArcher/go-livewatch/config"
	"github.com/xIceArcher/go-livewatch/credential"
	"github.com/xIceArcher/go-livewatch/notify"
	"github.com/xIceArcher/go-livewatch/ratelimit"
	"github.com/xIceArcher/go-livewatch/stream"
	"go.uber.org/zap"
)

type fakeAdapter struct {
	platform stream.Platform

	mu      sync.Mutex
	live    map[string]stream.Metadata
	calls   int
	called  chan struct{}
	release chan struct{}
}

func (a *fakeAdapter) Platform() stream.Platform { return a.platform }
func (a *fakeAdapter) BatchSize() int            { return 100 }
func (a *fakeAdapter) RequestCost(n int) int     { return 1 }
func (a *fakeAdapter) RequiresAuth() bool        { return false }

func (a *fakeAdapter) setLive(username string, metadata stream.Metadata) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.live[username] = metadata
}

func (a *fakeAdapter) CheckLiveBatch(ctx context.Context, token string, usernames []string) (map[string]stream.Metadata, error) {
	a.mu.Lock()
	a.calls++
	called, release := a.called, a.release
	ret := make(map[string]stream.Metadata, len(a.live))
	for k, v := range a.live {
		ret[k] = v
	}
	a.mu.Unlock()

	if called != nil {
		called <- struct{}{}
	}
	if release != nil {
		<-release
	}

	return ret, nil
}

type fakeSink struct {
	mu      sync.Mutex
	renders []notify.RenderRequest
	updates []string
	closes  []string
}

func (s *fakeSink) Render(ctx context.Context, req notify.RenderRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.renders = append(s.renders, req)
	return fmt.Sprintf("%s/%d", req.Streamer.ChannelID, len(s.renders)), nil
}

func (s *fakeSink) Update(ctx context.Context, handle string, metadata stream.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates = append(s.updates, handle)
	return nil
}

func (s *fakeSink) Close(ctx context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = append(s.closes, handle)
	return nil
}

func (s *fakeSink) renderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.renders)
}

type fakeSubscriptions struct {
	mu       sync.Mutex
	acquired []string
	released []string
	loaded   bool
	pruned   bool
}

func (f *fakeSubscriptions) Acquire(platform stream.Platform, username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.acquired = append(f.acquired, fmt.Sprintf("%s/%s", platform, username))
}

func (f *fakeSubscriptions) Release(platform stream.Platform, username string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released = append(f.released, fmt.Sprintf("%s/%s", platform, username))
}

func (f *fakeSubscriptions) Load(ctx context.Context) error {
	f.loaded = true
	return nil
}

func (f *fakeSubscriptions) Prune() {
	f.pruned = true
}

func (f *fakeSubscriptions) Wait() {}

type testEngine struct {
	*Engine
	adapter *fakeAdapter
	sink    *fakeSink
	subs    *fakeSubscriptions
	clock   clockwork.FakeClock
	store   *cache.MemoryStore
}

var startedAt = time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

func newTestEngine(t *testing.T, store *cache.MemoryStore) *testEngine {
	if store == nil {
		store = cache.NewMemoryStore()
	}

	clock := clockwork.NewFakeClockAt(startedAt)
	logger := zap.NewNop().Sugar()
	sink := &fakeSink{}

	e := New(config.MonitorConfig{
		RetryDelaysSecs:     []int{0},
		CleanupIntervalMins: 60,
		StaleSessionHours:   24,
		UpdateIntervalMins:  5,
	}, Deps{
		Store:   store,
		Limiter: ratelimit.New(clock),
		Tokens:  credential.NewManager(clock, credential.DefaultSafetyMargin, logger),
		Sink:    sink,
		Clock:   clock,
	}, logger)

	adapter := &fakeAdapter{platform: stream.PlatformTwitch, live: make(map[string]stream.Metadata)}
	e.AddPlatform(adapter, config.PollConfig{IntervalSecs: 60})

	subs := &fakeSubscriptions{}
	e.SetSubscriptions(subs)

	return &testEngine{Engine: e, adapter: adapter, sink: sink, subs: subs, clock: clock, store: store}
}

func (te *testEngine) add(t *testing.T, guildID string, username string) *stream.Streamer {
	s, err := te.AddStreamer(context.Background(), AddRequest{
		GuildID:         guildID,
		Platform:        "twitch",
		Username:        username,
		ChannelID:       "chan-" + guildID,
		NotifyOnOffline: true,
	})
	require.NoError(t, err)
	return s
}

func (te *testEngine) observe(username string, live bool, title string, source stream.Source) {
	te.Observe(context.Background(), stream.Observation{
		Platform:   stream.PlatformTwitch,
		Username:   username,
		IsLive:     live,
		Metadata:   stream.Metadata{Title: title, StartedAt: startedAt},
		Source:     source,
		ObservedAt: te.clock.Now(),
	})
}

func TestAddStreamer(t *testing.T) {
	te := newTestEngine(t, nil)
	ctx := context.Background()

	s := te.add(t, "guild1", "Ninja")
	assert.Equal(t, "ninja", s.Username)
	assert.Equal(t, startedAt, s.CreatedAt)
	assert.Equal(t, []string{"twitch/ninja"}, te.subs.acquired)

	_, err := te.AddStreamer(ctx, AddRequest{GuildID: "guild1", Platform: "twitch", Username: "ninja", ChannelID: "c"})
	assert.ErrorIs(t, err, stream.ErrAlreadyMonitored)

	_, err = te.AddStreamer(ctx, AddRequest{GuildID: "guild1", Platform: "mixer", Username: "ninja", ChannelID: "c"})
	assert.ErrorIs(t, err, stream.ErrInvalidPlatform)

	_, err = te.AddStreamer(ctx, AddRequest{GuildID: "guild1", Platform: "kick", Username: "xqc", ChannelID: "c"})
	assert.ErrorIs(t, err, stream.ErrUnsupportedPlatform)

	_, err = te.AddStreamer(ctx, AddRequest{GuildID: "guild1", Platform: "twitch", Username: "shroud"})
	assert.ErrorIs(t, err, stream.ErrInvalidStreamer)

	assert.Len(t, te.ListStreamers("guild1"), 1)
	assert.Len(t, te.subs.acquired, 1)
}

func TestObserve_FansOutToEveryGuild(t *testing.T) {
	te := newTestEngine(t, nil)
	te.add(t, "guild1", "ninja")
	te.add(t, "guild2", "ninja")

	te.observe("ninja", true, "victory royales", stream.SourcePoll)
	assert.Equal(t, 2, te.sink.renderCount())

	te.observe("ninja", true, "victory royales", stream.SourcePoll)
	assert.Equal(t, 2, te.sink.renderCount())

	stats := te.Stats("guild1")
	assert.Equal(t, 1, stats.TotalStreamers)
	assert.Equal(t, 1, stats.CurrentlyLive)
	assert.Equal(t, 1, stats.NotificationsSent)
	assert.Equal(t, 2, te.Stats("").CurrentlyLive)

	te.observe("ninja", false, "", stream.SourcePoll)
	assert.Equal(t, 0, te.Stats("").CurrentlyLive)
	assert.Len(t, te.sink.closes, 2)
}

func TestObserve_WebhookAfterPollIsNotANewSession(t *testing.T) {
	te := newTestEngine(t, nil)
	s := te.add(t, "guild1", "ninja")

	te.observe("ninja", true, "victory royales", stream.SourcePoll)
	te.clock.Advance(time.Second)
	te.observe("ninja", true, "victory royales", stream.SourceWebhook)

	assert.Equal(t, 1, te.sink.renderCount())

	session, ok := te.tracker.Get(s.Key())
	require.True(t, ok)
	assert.Equal(t, "chan-guild1/1", session.NotificationHandle)
}

func TestObserve_TitleChangeEditsNotification(t *testing.T) {
	te := newTestEngine(t, nil)
	te.add(t, "guild1", "ninja")

	te.observe("ninja", true, "victory royales", stream.SourcePoll)
	te.observe("ninja", true, "zero build", stream.SourcePoll)

	assert.Equal(t, []string{"chan-guild1/1"}, te.sink.updates)
}

func TestObserve_UnwatchedAccount(t *testing.T) {
	te := newTestEngine(t, nil)

	te.observe("nobody", true, "hello", stream.SourceWebhook)
	assert.Equal(t, 0, te.sink.renderCount())
	assert.Equal(t, 0, te.Stats("").CurrentlyLive)
}

func TestRemoveStreamer(t *testing.T) {
	te := newTestEngine(t, nil)
	s := te.add(t, "guild1", "ninja")
	te.observe("ninja", true, "victory royales", stream.SourcePoll)

	require.NoError(t, te.RemoveStreamer(context.Background(), "guild1", "Twitch", "NINJA"))

	_, ok := te.tracker.Get(s.Key())
	assert.False(t, ok)
	assert.Empty(t, te.ListStreamers("guild1"))
	assert.Equal(t, []string{"twitch/ninja"}, te.subs.released)

	assert.ErrorIs(t, te.RemoveStreamer(context.Background(), "guild1", "twitch", "ninja"), stream.ErrNotFound)
	assert.ErrorIs(t, te.RemoveStreamer(context.Background(), "guild1", "mixer", "ninja"), stream.ErrInvalidPlatform)
}

func TestRemoveStreamer_DuringInFlightPoll(t *testing.T) {
	te := newTestEngine(t, nil)
	s := te.add(t, "guild1", "ninja")

	te.adapter.setLive("ninja", stream.Metadata{Title: "victory royales"})
	te.observe("ninja", true, "victory royales", stream.SourcePoll)
	require.Equal(t, 1, te.sink.renderCount())

	te.adapter.called = make(chan struct{})
	te.adapter.release = make(chan struct{})

	poller, ok := te.scheduler.Poller(stream.PlatformTwitch)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		defer close(done)
		poller.RunCycle(context.Background())
	}()

	<-te.adapter.called
	require.NoError(t, te.RemoveStreamer(context.Background(), "guild1", "twitch", "ninja"))
	close(te.adapter.release)
	<-done

	_, ok = te.tracker.Get(s.Key())
	assert.False(t, ok)
	assert.Equal(t, 0, te.tracker.LiveCount())
	assert.Equal(t, 1, te.sink.renderCount())
}

func TestStart_RestoresState(t *testing.T) {
	store := cache.NewMemoryStore()

	first := newTestEngine(t, store)
	s := first.add(t, "guild1", "ninja")
	first.add(t, "guild1", "shroud")
	first.observe("ninja", true, "victory royales", stream.SourcePoll)

	second := newTestEngine(t, store)
	second.adapter.setLive("ninja", stream.Metadata{Title: "victory royales"})
	require.NoError(t, second.Start(context.Background()))
	defer second.Stop()

	assert.Len(t, second.ListStreamers("guild1"), 2)
	assert.True(t, second.subs.loaded)
	assert.True(t, second.subs.pruned)
	assert.ElementsMatch(t, []string{"twitch/ninja", "twitch/shroud"}, second.subs.acquired)

	session, ok := second.tracker.Get(s.Key())
	require.True(t, ok)
	assert.Equal(t, "chan-guild1/1", session.NotificationHandle)
	assert.Equal(t, 0, second.sink.renderCount())
}

func TestStart_DropsSessionsOfRemovedStreamers(t *testing.T) {
	store := cache.NewMemoryStore()

	first := newTestEngine(t, store)
	s := first.add(t, "guild1", "ninja")
	first.observe("ninja", true, "victory royales", stream.SourcePoll)

	// The streamer record is gone but its session survived
	require.NoError(t, store.Delete(context.Background(), "livewatch/streamer/"+s.Key().String()))

	second := newTestEngine(t, store)
	require.NoError(t, second.Start(context.Background()))
	defer second.Stop()

	_, ok := second.tracker.Get(s.Key())
	assert.False(t, ok)
}

func TestCleanup_PrunesStaleSessions(t *testing.T) {
	te := newTestEngine(t, nil)
	s := te.add(t, "guild1", "ninja")
	te.observe("ninja", true, "victory royales", stream.SourcePoll)

	te.clock.Advance(23 * time.Hour)
	te.cleanup(context.Background())
	_, ok := te.tracker.Get(s.Key())
	assert.True(t, ok)

	te.clock.Advance(2 * time.Hour)
	te.cleanup(context.Background())
	_, ok = te.tracker.Get(s.Key())
	assert.False(t, ok)

	// A reading after pruning starts a fresh session
	te.observe("ninja", true, "victory royales", stream.SourcePoll)
	assert.Equal(t, 2, te.sink.renderCount())
}

func TestStats_PerPlatform(t *testing.T) {
	te := newTestEngine(t, nil)
	te.add(t, "guild1", "ninja")
	te.add(t, "guild2", "shroud")

	stats := te.Stats("guild1")
	assert.Equal(t, 1, stats.PerPlatform[stream.PlatformTwitch])
	assert.Equal(t, 0, stats.PerPlatform[stream.PlatformKick])
	assert.True(t, stats.LastCheck.IsZero())

	poller, _ := te.scheduler.Poller(stream.PlatformTwitch)
	poller.RunCycle(context.Background())
	assert.Equal(t, startedAt, te.Stats("").LastCheck)
	assert.Equal(t, 2, te.Stats("").TotalStreamers)
}
