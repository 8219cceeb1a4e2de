package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xIceArcher/go-livewatch/cache"
	"github.com/xIceArcher/go-livewatch/consts"
	"github.com/xIceArcher/go-livewatch/metrics"
	"github.com/xIceArcher/go-livewatch/stream"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const DefaultSubscribeTimeout = 30 * time.Second

type account struct {
	platform stream.Platform
	username string
}

func (a account) storeKey() string {
	return fmt.Sprintf("%s%s/%s", consts.KeyPrefixSubscription, a.platform, a.username)
}

type subscription struct {
	refs    int
	ids     []string
	pending bool
}

// Subscriptions keeps one push subscription per watched external account,
// however many guilds watch it. Failures leave the account on polling only.
type Subscriptions struct {
	tokens  TokenSource
	store   cache.Store
	timeout time.Duration
	logger  *zap.SugaredLogger

	mu          sync.Mutex
	subscribers map[stream.Platform]stream.Subscriber
	subs        map[account]*subscription

	wg sync.WaitGroup
}

func NewSubscriptions(tokens TokenSource, store cache.Store, timeout time.Duration, logger *zap.SugaredLogger) *Subscriptions {
	if timeout <= 0 {
		timeout = DefaultSubscribeTimeout
	}

	return &Subscriptions{
		tokens:      tokens,
		store:       store,
		timeout:     timeout,
		logger:      logger,
		subscribers: make(map[stream.Platform]stream.Subscriber),
		subs:        make(map[account]*subscription),
	}
}

func (s *Subscriptions) Register(sub stream.Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.subscribers[sub.Platform()] = sub
}

// Acquire records one more watcher of an account and subscribes in the background on the first.
func (s *Subscriptions) Acquire(platform stream.Platform, username string) {
	acct := account{platform: platform, username: stream.NormalizeUsername(platform, username)}

	s.mu.Lock()
	defer s.mu.Unlock()

	subscriber, ok := s.subscribers[platform]
	if !ok {
		return
	}

	sub, ok := s.subs[acct]
	if !ok {
		sub = &subscription{}
		s.subs[acct] = sub
	}
	sub.refs++

	if sub.refs == 1 && len(sub.ids) == 0 && !sub.pending {
		sub.pending = true
		s.wg.Add(1)
		go s.subscribe(subscriber, acct)
	}
}

// Release drops one watcher of an account and unsubscribes in the background after the last.
func (s *Subscriptions) Release(platform stream.Platform, username string) {
	acct := account{platform: platform, username: stream.NormalizeUsername(platform, username)}

	s.mu.Lock()
	defer s.mu.Unlock()

	subscriber, ok := s.subscribers[platform]
	if !ok {
		return
	}

	sub, ok := s.subs[acct]
	if !ok {
		return
	}
	if sub.refs > 0 {
		sub.refs--
	}
	if sub.refs > 0 || sub.pending {
		// A pending subscribe notices the missing watchers when it finishes
		return
	}

	ids := sub.ids
	delete(s.subs, acct)
	metrics.SubscriptionsCurrent.WithLabelValues(platform.String()).Set(float64(s.countLocked(platform)))
	if len(ids) == 0 {
		return
	}

	s.wg.Add(1)
	go s.unsubscribe(subscriber, acct, ids)
}

// Revoked forgets a subscription the platform cancelled on its own.
// The account is found by username, or by subscription id when the platform only sends that.
func (s *Subscriptions) Revoked(ctx context.Context, platform stream.Platform, username string, subscriptionID string) {
	s.mu.Lock()
	acct, ok := s.findLocked(platform, username, subscriptionID)
	if ok {
		s.subs[acct].ids = nil
	}
	metrics.SubscriptionsCurrent.WithLabelValues(platform.String()).Set(float64(s.countLocked(platform)))
	s.mu.Unlock()

	if !ok {
		return
	}

	if err := s.store.Delete(ctx, acct.storeKey()); err != nil {
		s.logger.With(zap.Error(err), zap.String("key", acct.storeKey())).Error("Failed to delete subscription")
	}
}

// Must be called with s.mu held.
func (s *Subscriptions) findLocked(platform stream.Platform, username string, subscriptionID string) (account, bool) {
	if username != "" {
		acct := account{platform: platform, username: stream.NormalizeUsername(platform, username)}
		_, ok := s.subs[acct]
		return acct, ok
	}

	for acct, sub := range s.subs {
		if acct.platform != platform {
			continue
		}
		for _, id := range sub.ids {
			if id == subscriptionID {
				return acct, true
			}
		}
	}

	return account{}, false
}

// Active reports whether an account currently has a push subscription.
func (s *Subscriptions) Active(platform stream.Platform, username string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.subs[account{platform: platform, username: stream.NormalizeUsername(platform, username)}]
	return ok && len(sub.ids) > 0
}

// Load restores subscription ids so a restart does not subscribe again.
// Must run before the first Acquire.
// TODO: WebSub leases expire after youtube.LeaseSeconds; re-subscribe restored YouTube topics before then.
func (s *Subscriptions) Load(ctx context.Context) error {
	records, err := s.store.Scan(ctx, consts.KeyPrefixSubscription)
	if err != nil {
		return err
	}

	var errs error

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, val := range records {
		parts := strings.SplitN(strings.TrimPrefix(k, consts.KeyPrefixSubscription), "/", 2)
		if len(parts) != 2 {
			errs = multierr.Append(errs, fmt.Errorf("malformed subscription key %s", k))
			continue
		}

		ids := []string{}
		if err := json.Unmarshal([]byte(val), &ids); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("decode %s: %w", k, err))
			continue
		}

		s.subs[account{platform: stream.Platform(parts[0]), username: parts[1]}] = &subscription{ids: ids}
	}

	for platform := range s.subscribers {
		metrics.SubscriptionsCurrent.WithLabelValues(platform.String()).Set(float64(s.countLocked(platform)))
	}

	return errs
}

// Prune unsubscribes restored accounts that no watcher acquired.
func (s *Subscriptions) Prune() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for acct, sub := range s.subs {
		subscriber, ok := s.subscribers[acct.platform]
		if sub.refs > 0 || sub.pending || !ok {
			continue
		}

		delete(s.subs, acct)
		s.wg.Add(1)
		go s.unsubscribe(subscriber, acct, sub.ids)
	}
}

// Wait blocks until every background subscribe and unsubscribe has finished.
func (s *Subscriptions) Wait() {
	s.wg.Wait()
}

func (s *Subscriptions) subscribe(subscriber stream.Subscriber, acct account) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	logger := s.logger.With(zap.String("platform", acct.platform.String()), zap.String("username", acct.username))

	ids, err := s.doSubscribe(ctx, subscriber, acct)

	s.mu.Lock()
	sub := s.subs[acct]
	sub.pending = false
	if err != nil {
		if sub.refs == 0 {
			delete(s.subs, acct)
		}
		s.mu.Unlock()

		logger.With(zap.Error(err)).Warn("Failed to subscribe to push notifications, polling only")
		return
	}

	if sub.refs == 0 {
		// Every watcher left while the subscription was being created
		delete(s.subs, acct)
		s.mu.Unlock()

		s.wg.Add(1)
		s.unsubscribe(subscriber, acct, ids)
		return
	}

	sub.ids = ids
	metrics.SubscriptionsCurrent.WithLabelValues(acct.platform.String()).Set(float64(s.countLocked(acct.platform)))
	s.mu.Unlock()

	b, err := json.Marshal(ids)
	if err == nil {
		err = s.store.Put(ctx, acct.storeKey(), string(b))
	}
	if err != nil {
		logger.With(zap.Error(err)).Error("Failed to persist subscription")
	}

	logger.With(zap.Strings("ids", ids)).Info("Subscribed to push notifications")
}

func (s *Subscriptions) doSubscribe(ctx context.Context, subscriber stream.Subscriber, acct account) ([]string, error) {
	token, err := s.token(ctx, subscriber)
	if err != nil {
		return nil, err
	}

	return subscriber.Subscribe(ctx, token, acct.username)
}

func (s *Subscriptions) unsubscribe(subscriber stream.Subscriber, acct account, ids []string) {
	defer s.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	logger := s.logger.With(zap.String("platform", acct.platform.String()), zap.String("username", acct.username))

	if err := s.store.Delete(ctx, acct.storeKey()); err != nil {
		logger.With(zap.Error(err)).Error("Failed to delete subscription")
	}

	token, err := s.token(ctx, subscriber)
	if err == nil {
		err = subscriber.Unsubscribe(ctx, token, acct.username, ids)
	}
	if err != nil {
		logger.With(zap.Error(err)).Warn("Failed to unsubscribe from push notifications")
		return
	}

	logger.Info("Unsubscribed from push notifications")
}

func (s *Subscriptions) token(ctx context.Context, subscriber stream.Subscriber) (string, error) {
	if !subscriber.RequiresAuth() {
		return "", nil
	}
	return s.tokens.GetValidToken(ctx, subscriber.Platform())
}

// Must be called with s.mu held.
func (s *Subscriptions) countLocked(platform stream.Platform) int {
	count := 0
	for acct, sub := range s.subs {
		if acct.platform == platform && len(sub.ids) > 0 {
			count++
		}
	}
	return count
}
