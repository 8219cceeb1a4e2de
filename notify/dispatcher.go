package notify

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/xIceArcher/go-livewatch/metrics"
	"github.com/xIceArcher/go-livewatch/stream"
	"go.uber.org/zap"
)

const DefaultUpdateInterval = 5 * time.Minute

// Dispatcher turns transitions into sink calls.
type Dispatcher struct {
	sink    Sink
	handles HandleStore
	clock   clockwork.Clock
	logger  *zap.SugaredLogger

	updateInterval  time.Duration
	defaultTemplate string

	mu     sync.Mutex
	states map[string]*sessionState
	sent   map[string]int
}

// sessionState is what the dispatcher knows about the notification of one live session.
type sessionState struct {
	handle    string
	rendering bool

	lastEdit     time.Time
	lastTitle    string
	lastCategory string
}

func NewDispatcher(sink Sink, handles HandleStore, clock clockwork.Clock, updateInterval time.Duration, defaultTemplate string, logger *zap.SugaredLogger) *Dispatcher {
	if updateInterval <= 0 {
		updateInterval = DefaultUpdateInterval
	}
	if defaultTemplate == "" {
		defaultTemplate = DefaultTemplate
	}

	return &Dispatcher{
		sink:    sink,
		handles: handles,
		clock:   clock,
		logger:  logger,

		updateInterval:  updateInterval,
		defaultTemplate: defaultTemplate,

		states: make(map[string]*sessionState),
		sent:   make(map[string]int),
	}
}

func (d *Dispatcher) Dispatch(ctx context.Context, s *stream.Streamer, t stream.Transition) {
	if t.Session == nil {
		return
	}

	logger := d.logger.With(
		zap.String("key", s.Key().String()),
		zap.String("session", t.Session.ID),
		zap.String("transition", t.Kind.String()),
	)

	switch t.Kind {
	case stream.TransitionStarted:
		d.render(ctx, s, t.Session, logger)
	case stream.TransitionUpdated:
		d.update(ctx, s, t.Session, logger)
	case stream.TransitionEnded:
		d.end(ctx, s, t.Session, logger)
	}
}

// NotificationsSent counts successful renders for one guild, or all guilds if guildID is empty.
func (d *Dispatcher) NotificationsSent(guildID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	if guildID != "" {
		return d.sent[guildID]
	}

	total := 0
	for _, n := range d.sent {
		total += n
	}
	return total
}

// Forget drops what is known about a session that ended without an Ended transition.
func (d *Dispatcher) Forget(sessionID string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.states, sessionID)
}

func (d *Dispatcher) render(ctx context.Context, s *stream.Streamer, session *stream.LiveSession, logger *zap.SugaredLogger) {
	d.mu.Lock()
	st, ok := d.states[session.ID]
	if !ok {
		st = &sessionState{}
		d.states[session.ID] = st
	}
	if st.rendering || st.handle != "" {
		d.mu.Unlock()
		return
	}
	st.rendering = true
	d.mu.Unlock()

	template := s.MessageTemplate
	if template == "" {
		template = d.defaultTemplate
	}

	handle, err := d.sink.Render(ctx, RenderRequest{
		Streamer: s.Clone(),
		Metadata: session.Metadata,
		Content:  RenderContent(template, s, session.Metadata),
	})
	if err != nil {
		d.mu.Lock()
		st.rendering = false
		d.mu.Unlock()

		metrics.NotificationsTotal.WithLabelValues("render", "error").Inc()
		logger.With(zap.Error(err)).Error("Failed to render notification")
		return
	}
	metrics.NotificationsTotal.WithLabelValues("render", "success").Inc()

	d.mu.Lock()
	d.sent[s.GuildID]++
	_, stillLive := d.states[session.ID]
	st.rendering = false
	st.handle = handle
	st.lastEdit = d.clock.Now()
	st.lastTitle = session.Metadata.Title
	st.lastCategory = session.Metadata.Category
	d.mu.Unlock()

	if stillLive && d.handles.AttachHandle(ctx, s.Key(), session.ID, handle) {
		logger.With(zap.String("handle", handle)).Info("Sent live notification")
		return
	}

	// The session ended while the notification was being sent
	logger.With(zap.String("handle", handle)).Info("Live notification outlived its session")
	if s.NotifyOnOffline {
		d.close(ctx, handle, logger)
	}
}

func (d *Dispatcher) update(ctx context.Context, s *stream.Streamer, session *stream.LiveSession, logger *zap.SugaredLogger) {
	d.mu.Lock()
	st, ok := d.states[session.ID]
	if !ok {
		// Restored after a restart: the session already carries its handle
		st = &sessionState{handle: session.NotificationHandle}
		d.states[session.ID] = st
	}
	if st.rendering {
		d.mu.Unlock()
		return
	}
	if st.handle == "" {
		d.mu.Unlock()
		d.render(ctx, s, session, logger)
		return
	}

	now := d.clock.Now()
	changed := session.Metadata.Title != st.lastTitle || session.Metadata.Category != st.lastCategory
	if !changed && now.Sub(st.lastEdit) < d.updateInterval {
		d.mu.Unlock()
		return
	}

	handle := st.handle
	st.lastEdit = now
	st.lastTitle = session.Metadata.Title
	st.lastCategory = session.Metadata.Category
	d.mu.Unlock()

	if err := d.sink.Update(ctx, handle, session.Metadata); err != nil {
		metrics.NotificationsTotal.WithLabelValues("update", "error").Inc()
		logger.With(zap.Error(err), zap.String("handle", handle)).Warn("Failed to update notification")
		return
	}
	metrics.NotificationsTotal.WithLabelValues("update", "success").Inc()
}

func (d *Dispatcher) end(ctx context.Context, s *stream.Streamer, session *stream.LiveSession, logger *zap.SugaredLogger) {
	d.mu.Lock()
	handle := session.NotificationHandle
	if st, ok := d.states[session.ID]; ok && handle == "" {
		handle = st.handle
	}
	delete(d.states, session.ID)
	d.mu.Unlock()

	if !s.NotifyOnOffline || handle == "" {
		return
	}
	d.close(ctx, handle, logger)
}

func (d *Dispatcher) close(ctx context.Context, handle string, logger *zap.SugaredLogger) {
	if err := d.sink.Close(ctx, handle); err != nil {
		metrics.NotificationsTotal.WithLabelValues("close", "error").Inc()
		logger.With(zap.Error(err), zap.String("handle", handle)).Warn("Failed to close notification")
		return
	}

	metrics.NotificationsTotal.WithLabelValues("close", "success").Inc()
	logger.With(zap.String("handle", handle)).Info("Closed live notification")
}
