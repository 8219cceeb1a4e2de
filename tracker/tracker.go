package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/xIceArcher/go-livewatch/cache"
	"github.com/xIceArcher/go-livewatch/consts"
	"github.com/xIceArcher/go-livewatch/stream"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	DefaultShards   = 64
	DefaultStaleAge = 24 * time.Hour
)

// Guard is evaluated under the key's lock before an observation is applied.
// Returning false discards the observation.
type Guard func(key stream.Key) bool

// Tracker is the authoritative record of which streamers are live.
type Tracker struct {
	clock  clockwork.Clock
	store  cache.Store
	logger *zap.SugaredLogger

	shards []*shard
}

type shard struct {
	mu       sync.Mutex
	sessions map[stream.Key]*stream.LiveSession
}

func New(clock clockwork.Clock, store cache.Store, logger *zap.SugaredLogger) *Tracker {
	shards := make([]*shard, DefaultShards)
	for i := range shards {
		shards[i] = &shard{sessions: make(map[stream.Key]*stream.LiveSession)}
	}

	return &Tracker{
		clock:  clock,
		store:  store,
		logger: logger,
		shards: shards,
	}
}

// Observe classifies one observation for a key and applies it atomically.
func (t *Tracker) Observe(ctx context.Context, key stream.Key, obs stream.Observation, guard Guard) stream.Transition {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if guard != nil && !guard(key) {
		return stream.Transition{Kind: stream.TransitionNone}
	}

	now := t.clock.Now()
	session, isLive := s.sessions[key]

	switch {
	case obs.IsLive && !isLive:
		session = &stream.LiveSession{
			Key:        key,
			ID:         uuid.NewString(),
			Metadata:   obs.Metadata,
			LastSeenAt: now,
		}
		if session.Metadata.StartedAt.IsZero() {
			session.Metadata.StartedAt = now
		}

		s.sessions[key] = session
		t.persist(ctx, session)

		return stream.Transition{Kind: stream.TransitionStarted, Session: session.Clone()}

	case obs.IsLive && isLive:
		prev := session.Metadata
		session.Metadata = prev.Merge(obs.Metadata)
		session.LastSeenAt = now
		t.persist(ctx, session)

		return stream.Transition{Kind: stream.TransitionUpdated, Session: session.Clone(), Previous: prev}

	case !obs.IsLive && isLive:
		delete(s.sessions, key)
		t.unpersist(ctx, key)

		return stream.Transition{Kind: stream.TransitionEnded, Session: session.Clone()}

	default:
		return stream.Transition{Kind: stream.TransitionNone}
	}
}

// AttachHandle stores a notification handle on the session it was rendered for.
// It reports false if that session has since ended or been replaced.
func (t *Tracker) AttachHandle(ctx context.Context, key stream.Key, sessionID string, handle string) bool {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[key]
	if !ok || session.ID != sessionID {
		return false
	}

	session.NotificationHandle = handle
	t.persist(ctx, session)

	return true
}

// Forget drops the session for a key without producing a transition.
func (t *Tracker) Forget(ctx context.Context, key stream.Key) *stream.LiveSession {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[key]
	if !ok {
		return nil
	}

	delete(s.sessions, key)
	t.unpersist(ctx, key)

	return session
}

func (t *Tracker) Get(key stream.Key) (*stream.LiveSession, bool) {
	s := t.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[key]
	return session.Clone(), ok
}

func (t *Tracker) Live() []*stream.LiveSession {
	ret := make([]*stream.LiveSession, 0)
	for _, s := range t.shards {
		s.mu.Lock()
		for _, session := range s.sessions {
			ret = append(ret, session.Clone())
		}
		s.mu.Unlock()
	}

	return ret
}

func (t *Tracker) LiveCount() int {
	count := 0
	for _, s := range t.shards {
		s.mu.Lock()
		count += len(s.sessions)
		s.mu.Unlock()
	}

	return count
}

// PruneStale removes sessions that have not been observed for longer than maxAge.
func (t *Tracker) PruneStale(ctx context.Context, maxAge time.Duration) []*stream.LiveSession {
	if maxAge <= 0 {
		maxAge = DefaultStaleAge
	}
	cutoff := t.clock.Now().Add(-maxAge)

	pruned := make([]*stream.LiveSession, 0)
	for _, s := range t.shards {
		s.mu.Lock()
		for key, session := range s.sessions {
			if session.LastSeenAt.Before(cutoff) {
				delete(s.sessions, key)
				t.unpersist(ctx, key)
				pruned = append(pruned, session)
			}
		}
		s.mu.Unlock()
	}

	if len(pruned) > 0 {
		t.logger.With(zap.Int("count", len(pruned))).Info("Pruned stale live sessions")
	}

	return pruned
}

// Restore installs previously persisted sessions, replacing any for the same key.
func (t *Tracker) Restore(sessions []*stream.LiveSession) {
	for _, session := range sessions {
		s := t.shardFor(session.Key)
		s.mu.Lock()
		s.sessions[session.Key] = session.Clone()
		s.mu.Unlock()
	}
}

// Load restores sessions from the store. Undecodable records are skipped and reported together.
func (t *Tracker) Load(ctx context.Context) error {
	records, err := t.store.Scan(ctx, consts.KeyPrefixSession)
	if err != nil {
		return err
	}

	var errs error
	sessions := make([]*stream.LiveSession, 0, len(records))
	for storeKey, val := range records {
		session := &stream.LiveSession{}
		if err := json.Unmarshal([]byte(val), session); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("decode %s: %w", storeKey, err))
			continue
		}
		if session.Key == "" {
			session.Key = stream.Key(strings.TrimPrefix(storeKey, consts.KeyPrefixSession))
		}
		sessions = append(sessions, session)
	}

	t.Restore(sessions)
	t.logger.With(zap.Int("count", len(sessions))).Info("Restored live sessions")

	return errs
}

func (t *Tracker) shardFor(key stream.Key) *shard {
	return t.shards[xxhash.Sum64String(string(key))%uint64(len(t.shards))]
}

// Store writes happen under the shard lock so they land in the same order as the mutations.
func (t *Tracker) persist(ctx context.Context, session *stream.LiveSession) {
	b, err := json.Marshal(session)
	if err != nil {
		t.logger.With(zap.Error(err)).Error("Failed to encode live session")
		return
	}

	if err := t.store.Put(ctx, sessionStoreKey(session.Key), string(b)); err != nil {
		t.logger.With(zap.Error(err), zap.String("key", session.Key.String())).Error("Failed to persist live session")
	}
}

func (t *Tracker) unpersist(ctx context.Context, key stream.Key) {
	if err := t.store.Delete(ctx, sessionStoreKey(key)); err != nil {
		t.logger.With(zap.Error(err), zap.String("key", key.String())).Error("Failed to delete live session")
	}
}

func sessionStoreKey(key stream.Key) string {
	return consts.KeyPrefixSession + string(key)
}
