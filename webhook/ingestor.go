package webhook

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/xIceArcher/go-livewatch/metrics"
	"github.com/xIceArcher/go-livewatch/stream"
	"go.uber.org/zap"
)

const processingTimeout = 30 * time.Second

var ErrMalformedPayload = errors.New("malformed webhook payload")

type Observer interface {
	Observe(ctx context.Context, obs stream.Observation)
}

type TokenSource interface {
	GetValidToken(ctx context.Context, platform stream.Platform) (string, error)
}

type Budget interface {
	TryAcquire(platform stream.Platform, cost int) bool
}

type RevocationHandler interface {
	Revoked(ctx context.Context, platform stream.Platform, username string, subscriptionID string)
}

type Response struct {
	StatusCode int
	Body       string
}

// Ingestor verifies and decodes push notifications and feeds them to the same entry point as polling.
type Ingestor struct {
	observer    Observer
	tokens      TokenSource
	limiter     Budget
	revocations RevocationHandler
	logger      *zap.SugaredLogger

	mu       sync.RWMutex
	adapters map[stream.Platform]stream.WebhookAdapter

	wg sync.WaitGroup
}

func NewIngestor(observer Observer, tokens TokenSource, limiter Budget, revocations RevocationHandler, logger *zap.SugaredLogger) *Ingestor {
	return &Ingestor{
		observer:    observer,
		tokens:      tokens,
		limiter:     limiter,
		revocations: revocations,
		logger:      logger,
		adapters:    make(map[stream.Platform]stream.WebhookAdapter),
	}
}

func (i *Ingestor) Register(a stream.WebhookAdapter) {
	i.mu.Lock()
	defer i.mu.Unlock()

	i.adapters[a.Platform()] = a
}

func (i *Ingestor) adapter(platform stream.Platform) (stream.WebhookAdapter, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	a, ok := i.adapters[platform]
	if !ok {
		return nil, stream.ErrUnsupportedPlatform
	}
	return a, nil
}

// Handle processes one POSTed notification. The signature is checked before the body is parsed.
func (i *Ingestor) Handle(ctx context.Context, platform stream.Platform, header http.Header, body []byte) (*Response, error) {
	a, err := i.adapter(platform)
	if err != nil {
		return nil, err
	}

	logger := i.logger.With(zap.String("platform", platform.String()))

	if err := a.VerifyWebhook(header, body); err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues(platform.String(), "rejected").Inc()
		logger.With(zap.Error(err)).Warn("Rejected webhook with invalid signature")

		if !errors.Is(err, stream.ErrSignatureInvalid) {
			err = fmt.Errorf("%w: %v", stream.ErrSignatureInvalid, err)
		}
		return nil, err
	}

	event, err := a.ParseWebhook(header, body)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues(platform.String(), "malformed").Inc()
		logger.With(zap.Error(err)).Warn("Failed to parse webhook")
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return i.handleEvent(ctx, a, event, logger), nil
}

// HandleChallenge answers a GET verification request from a push hub.
func (i *Ingestor) HandleChallenge(ctx context.Context, platform stream.Platform, query url.Values) (*Response, error) {
	a, err := i.adapter(platform)
	if err != nil {
		return nil, err
	}

	cp, ok := a.(stream.ChallengeParser)
	if !ok {
		return nil, stream.ErrUnsupportedPlatform
	}

	logger := i.logger.With(zap.String("platform", platform.String()))

	event, err := cp.ParseChallenge(query)
	if err != nil {
		metrics.WebhookRequestsTotal.WithLabelValues(platform.String(), "malformed").Inc()
		logger.With(zap.Error(err)).Warn("Failed to parse webhook challenge")
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	return i.handleEvent(ctx, a, event, logger), nil
}

// Wait blocks until every notification accepted so far has been processed.
func (i *Ingestor) Wait() {
	i.wg.Wait()
}

func (i *Ingestor) handleEvent(ctx context.Context, a stream.WebhookAdapter, event *stream.WebhookEvent, logger *zap.SugaredLogger) *Response {
	platform := a.Platform()
	if event.MessageID != "" {
		logger = logger.With(zap.String("messageID", event.MessageID))
	}

	switch event.Kind {
	case stream.WebhookEventChallenge:
		metrics.WebhookRequestsTotal.WithLabelValues(platform.String(), "challenge").Inc()
		logger.With(zap.String("username", event.Username)).Info("Answered webhook verification challenge")
		return &Response{StatusCode: http.StatusOK, Body: event.Challenge}

	case stream.WebhookEventRevocation:
		metrics.WebhookRequestsTotal.WithLabelValues(platform.String(), "revocation").Inc()
		logger.With(zap.String("username", event.Username), zap.String("subscriptionID", event.SubscriptionID)).Warn("Push subscription revoked, falling back to polling")
		if i.revocations != nil {
			i.revocations.Revoked(ctx, platform, event.Username, event.SubscriptionID)
		}
		return &Response{StatusCode: http.StatusOK}

	case stream.WebhookEventObservation:
		metrics.WebhookRequestsTotal.WithLabelValues(platform.String(), "accepted").Inc()

		i.wg.Add(1)
		go i.process(context.WithoutCancel(ctx), a, event, logger)
		return &Response{StatusCode: http.StatusOK}

	default:
		metrics.WebhookRequestsTotal.WithLabelValues(platform.String(), "ignored").Inc()
		return &Response{StatusCode: http.StatusOK}
	}
}

func (i *Ingestor) process(ctx context.Context, a stream.WebhookAdapter, event *stream.WebhookEvent, logger *zap.SugaredLogger) {
	defer i.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, processingTimeout)
	defer cancel()

	observations := event.Observations
	if len(event.Lookups) > 0 {
		if resolved, ok := i.resolve(ctx, a, event.Lookups, logger); ok {
			observations = merge(observations, resolved)
		}
	}

	for _, obs := range observations {
		obs.Source = stream.SourceWebhook
		i.observer.Observe(ctx, obs)
	}
}

func (i *Ingestor) resolve(ctx context.Context, a stream.WebhookAdapter, ids []string, logger *zap.SugaredLogger) ([]stream.Observation, bool) {
	platform := a.Platform()

	if i.limiter != nil && !i.limiter.TryAcquire(platform, a.RequestCost(len(ids))) {
		metrics.RateLimitDeferralsTotal.WithLabelValues(platform.String()).Inc()
		logger.Info("Rate limit reached, skipping webhook lookup")
		return nil, false
	}

	token := ""
	if a.RequiresAuth() {
		var err error
		if token, err = i.tokens.GetValidToken(ctx, platform); err != nil {
			logger.With(zap.Error(err)).Warn("No valid token, skipping webhook lookup")
			return nil, false
		}
	}

	resolved, err := a.ResolveLookups(ctx, token, ids)
	if err != nil {
		logger.With(zap.Error(err), zap.Strings("ids", ids)).Error("Failed to resolve webhook lookup")
		return nil, false
	}

	return resolved, true
}

// merge overlays resolved observations on the sparse ones from the payload.
// Sparse observations without a resolved counterpart are kept as they are.
func merge(sparse []stream.Observation, resolved []stream.Observation) []stream.Observation {
	byUsername := make(map[string]stream.Observation, len(resolved))
	order := make([]string, 0, len(resolved))
	for _, obs := range resolved {
		username := stream.NormalizeUsername(obs.Platform, obs.Username)
		if _, ok := byUsername[username]; !ok {
			order = append(order, username)
		}
		byUsername[username] = obs
	}

	ret := make([]stream.Observation, 0, len(sparse)+len(resolved))
	for _, obs := range sparse {
		username := stream.NormalizeUsername(obs.Platform, obs.Username)
		if r, ok := byUsername[username]; ok {
			// A lookup that lags behind the push keeps the push's verdict
			if r.IsLive == obs.IsLive {
				obs.Metadata = obs.Metadata.Merge(r.Metadata)
			}
			delete(byUsername, username)
		}
		ret = append(ret, obs)
	}

	for _, username := range order {
		if r, ok := byUsername[username]; ok {
			ret = append(ret, r)
		}
	}

	return ret
}
