package credential

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/xIceArcher/go-livewatch/metrics"
	"github.com/xIceArcher/go-livewatch/stream"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultSafetyMargin = 60 * time.Second

	refreshTimeout = 30 * time.Second
)

var ErrNoCredentials = errors.New("no credentials configured for platform")

// Credential is a bearer token and the moment it stops being valid.
type Credential struct {
	AccessToken string
	ExpiresAt   time.Time
}

type entry struct {
	cred   *Credential
	paused bool
}

// Manager caches one app token per platform and refreshes it lazily.
type Manager struct {
	clock        clockwork.Clock
	safetyMargin time.Duration
	logger       *zap.SugaredLogger

	mu         sync.Mutex
	refreshers map[stream.Platform]stream.TokenRefresher
	entries    map[stream.Platform]*entry

	group singleflight.Group
}

func NewManager(clock clockwork.Clock, safetyMargin time.Duration, logger *zap.SugaredLogger) *Manager {
	if safetyMargin <= 0 {
		safetyMargin = DefaultSafetyMargin
	}

	return &Manager{
		clock:        clock,
		safetyMargin: safetyMargin,
		logger:       logger,

		refreshers: make(map[stream.Platform]stream.TokenRefresher),
		entries:    make(map[stream.Platform]*entry),
	}
}

func (m *Manager) Register(platform stream.Platform, refresher stream.TokenRefresher) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshers[platform] = refresher
	m.entries[platform] = &entry{}
}

// GetValidToken returns a token that stays valid for at least the safety margin,
// refreshing synchronously first if needed. Concurrent callers share one refresh.
func (m *Manager) GetValidToken(ctx context.Context, platform stream.Platform) (string, error) {
	m.mu.Lock()
	e, ok := m.entries[platform]
	if !ok {
		m.mu.Unlock()
		return "", &stream.AuthError{Platform: platform, Err: ErrNoCredentials}
	}
	if m.isFresh(e.cred) {
		token := e.cred.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	ch := m.group.DoChan(string(platform), func() (interface{}, error) {
		// The flight is shared, so one caller giving up must not fail the others
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		return m.refresh(refreshCtx, platform)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Invalidate drops the cached token, e.g. after the platform answered 401.
func (m *Manager) Invalidate(platform stream.Platform) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[platform]; ok {
		e.cred = nil
	}
}

// Paused reports whether the last refresh for the platform failed.
func (m *Manager) Paused(platform stream.Platform) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[platform]
	return ok && e.paused
}

// Snapshot returns a copy of the platform's current credential.
func (m *Manager) Snapshot(platform stream.Platform) (Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[platform]
	if !ok || e.cred == nil {
		return Credential{}, false
	}
	return *e.cred, true
}

func (m *Manager) refresh(ctx context.Context, platform stream.Platform) (string, error) {
	m.mu.Lock()
	e := m.entries[platform]
	refresher := m.refreshers[platform]

	// Another flight may have finished between our check and this one starting
	if m.isFresh(e.cred) {
		token := e.cred.AccessToken
		m.mu.Unlock()
		return token, nil
	}
	m.mu.Unlock()

	logger := m.logger.With(zap.String("platform", platform.String()))

	tok, err := refresher.RefreshToken(ctx)
	if err == nil && (tok == nil || tok.AccessToken == "") {
		err = errors.New("empty access token")
	}
	if err != nil {
		m.mu.Lock()
		e.paused = true
		m.mu.Unlock()
		metrics.TokenRefreshesTotal.WithLabelValues(platform.String(), "error").Inc()

		logger.With(zap.Error(err)).Error("Failed to refresh token, pausing platform")
		return "", &stream.AuthError{Platform: platform, Err: err}
	}

	cred := &Credential{
		AccessToken: tok.AccessToken,
		ExpiresAt:   m.expiry(tok),
	}

	m.mu.Lock()
	wasPaused := e.paused
	e.cred = cred
	e.paused = false
	m.mu.Unlock()
	metrics.TokenRefreshesTotal.WithLabelValues(platform.String(), "success").Inc()

	if wasPaused {
		logger.Info("Token refreshed, resuming platform")
	} else {
		logger.With(zap.Time("expiresAt", cred.ExpiresAt)).Info("Token refreshed")
	}

	return cred.AccessToken, nil
}

// Tokens without an expiry are treated as valid for an hour so they still get rotated.
func (m *Manager) expiry(tok *oauth2.Token) time.Time {
	if tok.Expiry.IsZero() {
		return m.clock.Now().Add(time.Hour)
	}
	return tok.Expiry
}

// Must be called with m.mu held.
func (m *Manager) isFresh(cred *Credential) bool {
	return cred != nil && m.clock.Now().Add(m.safetyMargin).Before(cred.ExpiresAt)
}
