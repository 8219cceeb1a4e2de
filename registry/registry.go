package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xIceArcher/go-livewatch/cache"
	"github.com/xIceArcher/go-livewatch/consts"
	"github.com/xIceArcher/go-livewatch/stream"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// Registry owns the set of monitored streamers. Every mutation is persisted before it is visible.
type Registry struct {
	store  cache.Store
	logger *zap.SugaredLogger

	mu        sync.RWMutex
	streamers map[stream.Key]*stream.Streamer

	// watchers indexes keys by external account so one observation can fan out to every guild.
	watchers map[accountID]map[stream.Key]struct{}
}

type accountID struct {
	platform stream.Platform
	username string
}

func New(store cache.Store, logger *zap.SugaredLogger) *Registry {
	return &Registry{
		store:     store,
		logger:    logger,
		streamers: make(map[stream.Key]*stream.Streamer),
		watchers:  make(map[accountID]map[stream.Key]struct{}),
	}
}

func (r *Registry) Add(ctx context.Context, s *stream.Streamer) (*stream.Streamer, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	s = s.Clone()
	s.Username = stream.NormalizeUsername(s.Platform, s.Username)
	key := s.Key()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.streamers[key]; ok {
		return nil, stream.ErrAlreadyMonitored
	}

	if err := r.persist(ctx, s); err != nil {
		return nil, err
	}
	r.insert(s)

	return s.Clone(), nil
}

func (r *Registry) Remove(ctx context.Context, key stream.Key) (*stream.Streamer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streamers[key]
	if !ok {
		return nil, stream.ErrNotFound
	}

	if err := r.store.Delete(ctx, storeKey(key)); err != nil {
		return nil, fmt.Errorf("delete %s: %w", key, err)
	}
	r.delete(s)

	return s.Clone(), nil
}

// UpdateDelivery changes where notifications for a streamer go. Identity fields cannot change.
func (r *Registry) UpdateDelivery(ctx context.Context, key stream.Key, update stream.DeliveryUpdate) (*stream.Streamer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.streamers[key]
	if !ok {
		return nil, stream.ErrNotFound
	}

	updated := s.Clone()
	update.Apply(updated)
	if err := updated.Validate(); err != nil {
		return nil, err
	}

	if err := r.persist(ctx, updated); err != nil {
		return nil, err
	}
	r.streamers[key] = updated

	return updated.Clone(), nil
}

func (r *Registry) Get(key stream.Key) (*stream.Streamer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.streamers[key]
	if !ok {
		return nil, false
	}
	return s.Clone(), true
}

func (r *Registry) Contains(key stream.Key) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.streamers[key]
	return ok
}

// List returns the streamers of one guild, or of every guild if guildID is empty,
// ordered by platform then username.
func (r *Registry) List(guildID string) []*stream.Streamer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]*stream.Streamer, 0)
	for _, s := range r.streamers {
		if guildID == "" || s.GuildID == guildID {
			ret = append(ret, s.Clone())
		}
	}

	slices.SortFunc(ret, func(a, b *stream.Streamer) bool {
		if a.Platform != b.Platform {
			return a.Platform < b.Platform
		}
		if a.Username != b.Username {
			return a.Username < b.Username
		}
		return a.GuildID < b.GuildID
	})

	return ret
}

func (r *Registry) ByPlatform(platform stream.Platform) []*stream.Streamer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]*stream.Streamer, 0)
	for _, s := range r.streamers {
		if s.Platform == platform {
			ret = append(ret, s.Clone())
		}
	}

	return ret
}

// Usernames returns each external account on a platform once, however many guilds watch it.
func (r *Registry) Usernames(platform stream.Platform) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ret := make([]string, 0)
	for account := range r.watchers {
		if account.platform == platform {
			ret = append(ret, account.username)
		}
	}
	slices.Sort(ret)

	return ret
}

// Watchers returns every guild's registration for one external account.
func (r *Registry) Watchers(platform stream.Platform, username string) []*stream.Streamer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	keys := r.watchers[accountID{platform: platform, username: stream.NormalizeUsername(platform, username)}]
	ret := make([]*stream.Streamer, 0, len(keys))
	for key := range keys {
		ret = append(ret, r.streamers[key].Clone())
	}

	return ret
}

func (r *Registry) Count(guildID string) int {
	if guildID == "" {
		r.mu.RLock()
		defer r.mu.RUnlock()
		return len(r.streamers)
	}

	return len(r.List(guildID))
}

func (r *Registry) CountByPlatform(guildID string) map[stream.Platform]int {
	ret := make(map[stream.Platform]int, len(stream.Platforms))
	for _, p := range stream.Platforms {
		ret[p] = 0
	}

	for _, s := range r.List(guildID) {
		ret[s.Platform]++
	}

	return ret
}

// Load replaces the in-memory set with what is persisted.
// Undecodable records are skipped and reported together.
func (r *Registry) Load(ctx context.Context) error {
	records, err := r.store.Scan(ctx, consts.KeyPrefixStreamer)
	if err != nil {
		return err
	}

	var errs error
	loaded := make([]*stream.Streamer, 0, len(records))
	for _, k := range sortedKeys(records) {
		s := &stream.Streamer{}
		if err := json.Unmarshal([]byte(records[k]), s); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("decode %s: %w", k, err))
			continue
		}
		if err := s.Validate(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("validate %s: %w", k, err))
			continue
		}
		loaded = append(loaded, s)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.streamers = make(map[stream.Key]*stream.Streamer, len(loaded))
	r.watchers = make(map[accountID]map[stream.Key]struct{})
	for _, s := range loaded {
		r.insert(s)
	}

	r.logger.With(zap.Int("count", len(loaded))).Info("Restored streamers")
	return errs
}

// Must be called with r.mu held.
func (r *Registry) persist(ctx context.Context, s *stream.Streamer) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}

	if err := r.store.Put(ctx, storeKey(s.Key()), string(b)); err != nil {
		return fmt.Errorf("persist %s: %w", s.Key(), err)
	}
	return nil
}

// Must be called with r.mu held.
func (r *Registry) insert(s *stream.Streamer) {
	key := s.Key()
	r.streamers[key] = s

	account := accountID{platform: s.Platform, username: stream.NormalizeUsername(s.Platform, s.Username)}
	if _, ok := r.watchers[account]; !ok {
		r.watchers[account] = make(map[stream.Key]struct{})
	}
	r.watchers[account][key] = struct{}{}
}

// Must be called with r.mu held.
func (r *Registry) delete(s *stream.Streamer) {
	key := s.Key()
	delete(r.streamers, key)

	account := accountID{platform: s.Platform, username: stream.NormalizeUsername(s.Platform, s.Username)}
	delete(r.watchers[account], key)
	if len(r.watchers[account]) == 0 {
		delete(r.watchers, account)
	}
}

func storeKey(key stream.Key) string {
	return consts.KeyPrefixStreamer + string(key)
}

func sortedKeys(m map[string]string) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
