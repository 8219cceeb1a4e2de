package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xIceArcher/go-livewatch/stream"
	"go.uber.org/zap"
)

type fakeSink struct {
	mu        sync.Mutex
	renders   []RenderRequest
	updates   []string
	closes    []string
	renderErr error
	block     chan struct{}
}

func (s *fakeSink) Render(ctx context.Context, req RenderRequest) (string, error) {
	if s.block != nil {
		<-s.block
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.renderErr != nil {
		return "", s.renderErr
	}
	s.renders = append(s.renders, req)
	return fmt.Sprintf("%s/msg%d", req.Streamer.ChannelID, len(s.renders)), nil
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

func (s *fakeSink) counts() (int, int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.renders), len(s.updates), len(s.closes)
}

type fakeHandles struct {
	mu       sync.Mutex
	attached map[string]string
	ended    bool
}

func (h *fakeHandles) AttachHandle(ctx context.Context, key stream.Key, sessionID string, handle string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.ended {
		return false
	}
	if h.attached == nil {
		h.attached = make(map[string]string)
	}
	h.attached[sessionID] = handle
	return true
}

var ninja = &stream.Streamer{
	Platform:      stream.PlatformTwitch,
	Username:      "ninja",
	GuildID:       "g1",
	ChannelID:     "c1",
	MentionRoleID: "r1",
}

func session(title string, handle string) *stream.LiveSession {
	return &stream.LiveSession{
		Key:                ninja.Key(),
		ID:                 "session-1",
		Metadata:           stream.Metadata{Title: title, Category: "Fortnite", URL: "https://twitch.tv/ninja"},
		NotificationHandle: handle,
	}
}

func newTestDispatcher() (*Dispatcher, *fakeSink, *fakeHandles, clockwork.FakeClock) {
	sink := &fakeSink{}
	handles := &fakeHandles{}
	clock := clockwork.NewFakeClock()
	return NewDispatcher(sink, handles, clock, 5*time.Minute, "", zap.NewNop().Sugar()), sink, handles, clock
}

func TestDispatch_StartedRenders(t *testing.T) {
	d, sink, handles, _ := newTestDispatcher()
	ctx := context.Background()

	d.Dispatch(ctx, ninja, stream.Transition{Kind: stream.TransitionStarted, Session: session("hello", "")})

	require.Len(t, sink.renders, 1)
	assert.Equal(t, "<@&r1> ninja is now live: hello", sink.renders[0].Content)
	assert.Equal(t, "c1/msg1", handles.attached["session-1"])
	assert.Equal(t, 1, d.NotificationsSent("g1"))
	assert.Equal(t, 0, d.NotificationsSent("g2"))
	assert.Equal(t, 1, d.NotificationsSent(""))
}

func TestDispatch_UpdatedCoalesces(t *testing.T) {
	d, sink, _, clock := newTestDispatcher()
	ctx := context.Background()

	d.Dispatch(ctx, ninja, stream.Transition{Kind: stream.TransitionStarted, Session: session("hello", "")})

	// Same title inside the interval is not worth an edit
	d.Dispatch(ctx, ninja, stream.Transition{Kind: stream.TransitionUpdated, Session: session("hello", "c1/msg1")})
	_, updates, _ := sink.counts()
	assert.Equal(t, 0, updates)

	d.Dispatch(ctx, ninja, stream.Transition{Kind: stream.TransitionUpdated, Session: session("new title", "c1/msg1")})
	_, updates, _ = sink.counts()
	assert.Equal(t, 1, updates)

	clock.Advance(5 * time.Minute)
	d.Dispatch(ctx, ninja, stream.Transition{Kind: stream.TransitionUpdated, Session: session("new title", "c1/msg1")})
	renders, updates, _ := sink.counts()
	assert.Equal(t, 2, updates)
	assert.Equal(t, 1, renders)
}

func TestDispatch_UpdatedRetriesFailedRender(t *testing.T) {
	d, sink, handles, _ := newTestDispatcher()
	ctx := context.Background()

	sink.renderErr = errors.New("discord down")
	d.Dispatch(ctx, ninja, stream.Transition{Kind: stream.TransitionStarted, Session: session("hello", "")})
	assert.Equal(t, 0, d.NotificationsSent(""))

	sink.renderErr = nil
	d.Dispatch(ctx, ninja, stream.Transition{Kind: stream.TransitionUpdated, Session: session("hello", "")})
	renders, _, _ := sink.counts()
	assert.Equal(t, 1, renders)
	assert.Equal(t, "c1/msg1", handles.attached["session-1"])
	assert.Equal(t, 1, d.NotificationsSent("g1"))
}

func TestDispatch_UpdatedDuringRenderDoesNotDuplicate(t *testing.T) {
	d, sink, _, _ := newTestDispatcher()
	sink.block = make(chan struct{})
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		d.Dispatch(ctx, ninja, stream.Transition{Kind: stream.TransitionStarted, Session: session("hello", "")})
	}()

	require.Eventually(t, func() bool {
		d.mu.Lock()
		defer d.mu.Unlock()
		st, ok := d.states["session-1"]
		return ok && st.rendering
	}, time.Second, time.Millisecond)

	d.Dispatch(ctx, ninja, stream.Transition{Kind: stream.TransitionUpdated, Session: session("hello", "")})
	close(sink.block)
	<-done

	// A stale snapshot without the handle must not trigger a second render
	d.Dispatch(ctx, ninja, stream.Transition{Kind: stream.TransitionUpdated, Session: session("hello", "")})

	renders, _, _ := sink.counts()
	assert.Equal(t, 1, renders)
}

func TestDispatch_Ended(t *testing.T) {
	ctx := context.Background()

	t.Run("closes when notifying on offline", func(t *testing.T) {
		d, sink, _, _ := newTestDispatcher()
		s := ninja.Clone()
		s.NotifyOnOffline = true

		d.Dispatch(ctx, s, stream.Transition{Kind: stream.TransitionStarted, Session: session("hello", "")})
		d.Dispatch(ctx, s, stream.Transition{Kind: stream.TransitionEnded, Session: session("hello", "c1/msg1")})
		assert.Equal(t, []string{"c1/msg1"}, sink.closes)
	})

	t.Run("silent otherwise", func(t *testing.T) {
		d, sink, _, _ := newTestDispatcher()

		d.Dispatch(ctx, ninja, stream.Transition{Kind: stream.TransitionStarted, Session: session("hello", "")})
		d.Dispatch(ctx, ninja, stream.Transition{Kind: stream.TransitionEnded, Session: session("hello", "c1/msg1")})
		assert.Empty(t, sink.closes)
	})

	t.Run("nothing to close without a handle", func(t *testing.T) {
		d, sink, _, _ := newTestDispatcher()
		s := ninja.Clone()
		s.NotifyOnOffline = true

		d.Dispatch(ctx, s, stream.Transition{Kind: stream.TransitionEnded, Session: session("hello", "")})
		assert.Empty(t, sink.closes)
	})
}

func TestDispatch_RenderOutlivesSession(t *testing.T) {
	d, sink, handles, _ := newTestDispatcher()
	handles.ended = true
	s := ninja.Clone()
	s.NotifyOnOffline = true

	d.Dispatch(context.Background(), s, stream.Transition{Kind: stream.TransitionStarted, Session: session("hello", "")})
	assert.Equal(t, []string{"c1/msg1"}, sink.closes)
}

func TestDispatch_None(t *testing.T) {
	d, sink, _, _ := newTestDispatcher()

	d.Dispatch(context.Background(), ninja, stream.Transition{Kind: stream.TransitionNone})
	renders, updates, closes := sink.counts()
	assert.Zero(t, renders+updates+closes)
}
