package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/xIceArcher/go-livewatch/cache"
	"github.com/xIceArcher/go-livewatch/config"
	"github.com/xIceArcher/go-livewatch/credential"
	"github.com/xIceArcher/go-livewatch/metrics"
	"github.com/xIceArcher/go-livewatch/notify"
	"github.com/xIceArcher/go-livewatch/ratelimit"
	"github.com/xIceArcher/go-livewatch/registry"
	"github.com/xIceArcher/go-livewatch/scheduler"
	"github.com/xIceArcher/go-livewatch/stream"
	"github.com/xIceArcher/go-livewatch/tracker"
	"go.uber.org/zap"
)

const (
	DefaultCleanupInterval = time.Hour
	DefaultStaleSessionAge = 24 * time.Hour
)

// Subscriptions keeps push subscriptions in step with the registry.
type Subscriptions interface {
	Acquire(platform stream.Platform, username string)
	Release(platform stream.Platform, username string)
	Load(ctx context.Context) error
	Prune()
	Wait()
}

// refreshable is implemented by adapters whose API needs an app token.
type refreshable interface {
	Refresher() stream.TokenRefresher
}

type Deps struct {
	Store   cache.Store
	Limiter *ratelimit.Limiter
	Tokens  *credential.Manager
	Sink    notify.Sink
	Clock   clockwork.Clock
}

// Engine ties the registry, pollers, tracker and dispatcher together.
// Both pollers and webhooks feed Observe.
type Engine struct {
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cfg    config.MonitorConfig
	clock  clockwork.Clock
	logger *zap.SugaredLogger

	registry   *registry.Registry
	tracker    *tracker.Tracker
	dispatcher *notify.Dispatcher
	scheduler  *scheduler.Scheduler
	limiter    *ratelimit.Limiter
	tokens     *credential.Manager

	subscriptions Subscriptions
}

func New(cfg config.MonitorConfig, deps Deps, logger *zap.SugaredLogger) *Engine {
	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	e := &Engine{
		cfg:    cfg,
		clock:  clock,
		logger: logger,

		registry:  registry.New(deps.Store, logger.Named("registry")),
		tracker:   tracker.New(clock, deps.Store, logger.Named("tracker")),
		scheduler: scheduler.New(),
		limiter:   deps.Limiter,
		tokens:    deps.Tokens,
	}
	e.dispatcher = notify.NewDispatcher(deps.Sink, e.tracker, clock, cfg.UpdateInterval(), cfg.DefaultTemplate, logger.Named("notify"))

	return e
}

// AddPlatform starts polling a platform once the engine starts.
func (e *Engine) AddPlatform(adapter stream.Adapter, poll config.PollConfig) {
	platform := adapter.Platform()

	if poll.RateLimit > 0 {
		e.limiter.Configure(platform, poll.RateLimit, poll.RateLimitWindow())
	}
	if r, ok := adapter.(refreshable); ok && adapter.RequiresAuth() {
		e.tokens.Register(platform, r.Refresher())
	}

	e.scheduler.Add(scheduler.NewPoller(adapter, scheduler.Deps{
		Streamers: e.registry,
		Tokens:    e.tokens,
		Limiter:   e.limiter,
		Observer:  e,
		Clock:     e.clock,
	}, poll.Interval(), e.cfg.RetryDelays(), e.logger.Named("poller")))
}

// SetSubscriptions enables push subscriptions. Must be called before Start.
func (e *Engine) SetSubscriptions(s Subscriptions) {
	e.subscriptions = s
}

func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	if err := e.registry.Load(ctx); err != nil {
		e.logger.With(zap.Error(err)).Error("Failed to restore some streamers")
	}
	if err := e.tracker.Load(ctx); err != nil {
		e.logger.With(zap.Error(err)).Error("Failed to restore some live sessions")
	}

	// Sessions outlive their streamer if it was removed while the store was unreachable
	for _, session := range e.tracker.Live() {
		if !e.registry.Contains(session.Key) {
			e.tracker.Forget(ctx, session.Key)
		}
	}
	metrics.LiveSessions.Set(float64(e.tracker.LiveCount()))

	if e.subscriptions != nil {
		if err := e.subscriptions.Load(ctx); err != nil {
			e.logger.With(zap.Error(err)).Error("Failed to restore some subscriptions")
		}
		for _, s := range e.registry.List("") {
			e.subscriptions.Acquire(s.Platform, s.Username)
		}
		e.subscriptions.Prune()
	}

	e.scheduler.Start(e.ctx)

	e.wg.Add(1)
	go e.cleanupTask(e.ctx)

	e.logger.With(zap.Int("streamers", e.registry.Count("")), zap.Int("live", e.tracker.LiveCount())).Info("Engine started")
	return nil
}

func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}

	e.scheduler.Stop()
	e.wg.Wait()

	if e.subscriptions != nil {
		e.subscriptions.Wait()
	}

	e.logger.Info("Engine stopped")
}

type AddRequest struct {
	GuildID         string
	Platform        string
	Username        string
	ChannelID       string
	MentionRoleID   string
	MessageTemplate string
	NotifyOnOffline bool
}

func (e *Engine) AddStreamer(ctx context.Context, req AddRequest) (*stream.Streamer, error) {
	platform, err := stream.ParsePlatform(req.Platform)
	if err != nil {
		return nil, err
	}
	if _, ok := e.scheduler.Poller(platform); !ok {
		return nil, fmt.Errorf("%w: %s is not enabled", stream.ErrUnsupportedPlatform, platform)
	}

	s, err := e.registry.Add(ctx, &stream.Streamer{
		Platform:        platform,
		Username:        req.Username,
		GuildID:         req.GuildID,
		ChannelID:       req.ChannelID,
		MentionRoleID:   req.MentionRoleID,
		MessageTemplate: req.MessageTemplate,
		NotifyOnOffline: req.NotifyOnOffline,
		CreatedAt:       e.clock.Now(),
	})
	if err != nil {
		return nil, err
	}

	if e.subscriptions != nil {
		e.subscriptions.Acquire(s.Platform, s.Username)
	}

	e.logger.With(zap.String("key", s.Key().String())).Info("Added streamer")
	return s, nil
}

// RemoveStreamer takes effect immediately. Poll results still in flight for the streamer are discarded.
func (e *Engine) RemoveStreamer(ctx context.Context, guildID string, platform string, username string) error {
	p, err := stream.ParsePlatform(platform)
	if err != nil {
		return err
	}

	s, err := e.registry.Remove(ctx, stream.NewKey(p, guildID, username))
	if err != nil {
		return err
	}

	if session := e.tracker.Forget(ctx, s.Key()); session != nil {
		e.dispatcher.Forget(session.ID)
		metrics.LiveSessions.Set(float64(e.tracker.LiveCount()))
	}

	if e.subscriptions != nil {
		e.subscriptions.Release(s.Platform, s.Username)
	}

	e.logger.With(zap.String("key", s.Key().String())).Info("Removed streamer")
	return nil
}

func (e *Engine) ListStreamers(guildID string) []*stream.Streamer {
	return e.registry.List(guildID)
}

func (e *Engine) UpdateStreamer(ctx context.Context, key stream.Key, update stream.DeliveryUpdate) (*stream.Streamer, error) {
	return e.registry.UpdateDelivery(ctx, key, update)
}

type Stats struct {
	TotalStreamers    int
	CurrentlyLive     int
	PerPlatform       map[stream.Platform]int
	NotificationsSent int
	LastCheck         time.Time
}

// Stats summarizes one guild, or every guild if guildID is empty.
func (e *Engine) Stats(guildID string) Stats {
	live := 0
	for _, session := range e.tracker.Live() {
		if _, sessionGuild, _, ok := session.Key.Parse(); ok && (guildID == "" || sessionGuild == guildID) {
			live++
		}
	}

	return Stats{
		TotalStreamers:    e.registry.Count(guildID),
		CurrentlyLive:     live,
		PerPlatform:       e.registry.CountByPlatform(guildID),
		NotificationsSent: e.dispatcher.NotificationsSent(guildID),
		LastCheck:         e.scheduler.LastCheck(),
	}
}

// Observe applies one reading to every guild watching the account.
func (e *Engine) Observe(ctx context.Context, obs stream.Observation) {
	metrics.ObservationsTotal.WithLabelValues(obs.Platform.String(), string(obs.Source)).Inc()

	for _, s := range e.registry.Watchers(obs.Platform, obs.Username) {
		t := e.tracker.Observe(ctx, s.Key(), obs, e.registry.Contains)
		if t.Kind == stream.TransitionNone {
			continue
		}

		metrics.TransitionsTotal.WithLabelValues(obs.Platform.String(), t.Kind.String()).Inc()
		if t.Kind != stream.TransitionUpdated {
			e.logger.With(
				zap.String("key", s.Key().String()),
				zap.String("transition", t.Kind.String()),
				zap.String("source", string(obs.Source)),
			).Info("Live state changed")
		}

		e.dispatcher.Dispatch(ctx, s, t)
	}

	metrics.LiveSessions.Set(float64(e.tracker.LiveCount()))
}

func (e *Engine) cleanupTask(ctx context.Context) {
	defer e.wg.Done()

	interval := e.cfg.CleanupInterval()
	if interval <= 0 {
		interval = DefaultCleanupInterval
	}

	ticker := e.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			e.cleanup(ctx)
		}
	}
}

func (e *Engine) cleanup(ctx context.Context) {
	maxAge := e.cfg.StaleSessionAge()
	if maxAge <= 0 {
		maxAge = DefaultStaleSessionAge
	}

	windows := e.limiter.Prune()

	pruned := e.tracker.PruneStale(ctx, maxAge)
	for _, session := range pruned {
		e.dispatcher.Forget(session.ID)
	}
	metrics.LiveSessions.Set(float64(e.tracker.LiveCount()))

	if windows > 0 || len(pruned) > 0 {
		e.logger.With(zap.Int("windows", windows), zap.Int("sessions", len(pruned))).Info("Pruned stale state")
	}
}
