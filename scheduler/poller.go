package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/xIceArcher/go-livewatch/metrics"
	"github.com/xIceArcher/go-livewatch/retry"
	"github.com/xIceArcher/go-livewatch/stream"
	"go.uber.org/zap"
)

type Observer interface {
	Observe(ctx context.Context, obs stream.Observation)
}

type StreamerSource interface {
	Usernames(platform stream.Platform) []string
}

type TokenSource interface {
	GetValidToken(ctx context.Context, platform stream.Platform) (string, error)
	Invalidate(platform stream.Platform)
}

type Budget interface {
	TryAcquire(platform stream.Platform, cost int) bool
}

type Deps struct {
	Streamers StreamerSource
	Tokens    TokenSource
	Limiter   Budget
	Observer  Observer
	Clock     clockwork.Clock
}

// Poller periodically checks every registered account of one platform.
type Poller struct {
	adapter  stream.Adapter
	deps     Deps
	interval time.Duration
	policy   retry.Policy
	logger   *zap.SugaredLogger

	mu        sync.Mutex
	lastCheck time.Time
	cancel    context.CancelFunc
	done      chan struct{}
}

func NewPoller(adapter stream.Adapter, deps Deps, interval time.Duration, retryDelays []time.Duration, logger *zap.SugaredLogger) *Poller {
	logger = logger.With(zap.String("platform", adapter.Platform().String()))

	return &Poller{
		adapter:  adapter,
		deps:     deps,
		interval: interval,
		policy: retry.Policy{
			Delays: retryDelays,
			Clock:  deps.Clock,
			OnRetry: func(attempt int, err error, delay time.Duration) {
				logger.With(zap.Error(err), zap.Int("attempt", attempt), zap.Duration("delay", delay)).Warn("Batch failed, retrying")
			},
		},
		logger: logger,
	}
}

func (p *Poller) Platform() stream.Platform {
	return p.adapter.Platform()
}

// Start runs one cycle immediately and then one per interval until Stop is called.
func (p *Poller) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cancel != nil {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	p.done = make(chan struct{})

	go p.loop(ctx, p.done)
	p.logger.With(zap.Duration("interval", p.interval)).Info("Poller started")
}

func (p *Poller) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done
	p.logger.Info("Poller stopped")
}

func (p *Poller) LastCheck() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.lastCheck
}

func (p *Poller) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := p.deps.Clock.NewTicker(p.interval)
	defer ticker.Stop()

	p.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			p.RunCycle(ctx)
		}
	}
}

// RunCycle checks every registered account once. Failures are contained to this cycle.
func (p *Poller) RunCycle(ctx context.Context) {
	platform := p.adapter.Platform()
	start := p.deps.Clock.Now()
	defer func() {
		metrics.PollCycleDuration.WithLabelValues(platform.String()).Observe(p.deps.Clock.Since(start).Seconds())

		p.mu.Lock()
		p.lastCheck = start
		p.mu.Unlock()
	}()

	usernames := p.deps.Streamers.Usernames(platform)
	if len(usernames) == 0 {
		return
	}

	if p.adapter.RequiresAuth() {
		if _, err := p.deps.Tokens.GetValidToken(ctx, platform); err != nil {
			metrics.BatchFailuresTotal.WithLabelValues(platform.String(), "auth").Inc()
			p.logger.With(zap.Error(err)).Warn("No valid token, skipping cycle")
			return
		}
	}

	for _, batch := range chunk(usernames, p.adapter.BatchSize()) {
		if ctx.Err() != nil {
			return
		}
		if err := p.runBatch(ctx, batch); stream.IsAuthError(err) {
			// Every remaining batch would be rejected the same way
			return
		}
	}
}

func (p *Poller) runBatch(ctx context.Context, batch []string) error {
	platform := p.adapter.Platform()
	cost := p.adapter.RequestCost(len(batch))

	live, err := retry.Do(ctx, p.policy, retry.ClassifyPlatformError, func(attempt int) (map[string]stream.Metadata, error) {
		if !p.deps.Limiter.TryAcquire(platform, cost) {
			return nil, stream.ErrRateLimited
		}

		token := ""
		if p.adapter.RequiresAuth() {
			var err error
			if token, err = p.deps.Tokens.GetValidToken(ctx, platform); err != nil {
				return nil, err
			}
		}

		return p.adapter.CheckLiveBatch(ctx, token, batch)
	})

	logger := p.logger.With(zap.Int("batchSize", len(batch)))
	switch {
	case err == nil:
	case errors.Is(err, stream.ErrRateLimited):
		metrics.RateLimitDeferralsTotal.WithLabelValues(platform.String()).Inc()
		logger.Info("Rate limit reached, deferring batch to the next cycle")
		return err
	case stream.IsAuthError(err):
		p.deps.Tokens.Invalidate(platform)
		metrics.BatchFailuresTotal.WithLabelValues(platform.String(), "auth").Inc()
		logger.With(zap.Error(err)).Warn("Platform rejected credentials, pausing until next cycle")
		return err
	case stream.IsTransient(err):
		metrics.BatchFailuresTotal.WithLabelValues(platform.String(), "transient").Inc()
		logger.With(zap.Error(err)).Error("Failed to check batch after retries")
		return err
	default:
		metrics.BatchFailuresTotal.WithLabelValues(platform.String(), "permanent").Inc()
		logger.With(zap.Error(err)).Error("Failed to check batch")
		return err
	}

	now := p.deps.Clock.Now()
	for _, username := range batch {
		metadata, isLive := live[username]
		p.deps.Observer.Observe(ctx, stream.Observation{
			Platform:   platform,
			Username:   username,
			IsLive:     isLive,
			Metadata:   metadata,
			Source:     stream.SourcePoll,
			ObservedAt: now,
		})
	}

	return nil
}

func chunk(items []string, size int) [][]string {
	if size <= 0 {
		size = len(items)
	}

	ret := make([][]string, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		ret = append(ret, items[start:end])
	}

	return ret
}
