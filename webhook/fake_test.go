package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"sync"

	"github.com/xIceArcher/go-livewatch/stream"
)

const testSecret = "s3cret"

// fakeAdapter speaks a tiny JSON push protocol signed with HMAC-SHA256.
type fakeAdapter struct {
	platform stream.Platform
	auth     bool

	mu          sync.Mutex
	resolved    []stream.Observation
	resolveErr  error
	resolveIDs  [][]string
	subscribeFn func(username string) ([]string, error)
	subscribed  []string
	unsubbed    [][]string
}

type fakePayload struct {
	Type     string   `json:"type"`
	Username string   `json:"username"`
	Live     bool     `json:"live"`
	Title    string   `json:"title"`
	Lookups  []string `json:"lookups"`
}

func sign(body []byte) string {
	mac := hmac.New(sha256.New, []byte(testSecret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func (a *fakeAdapter) Platform() stream.Platform { return a.platform }
func (a *fakeAdapter) BatchSize() int            { return 10 }
func (a *fakeAdapter) RequestCost(n int) int     { return 1 }
func (a *fakeAdapter) RequiresAuth() bool        { return a.auth }

func (a *fakeAdapter) CheckLiveBatch(ctx context.Context, token string, usernames []string) (map[string]stream.Metadata, error) {
	return nil, nil
}

func (a *fakeAdapter) VerifyWebhook(header http.Header, body []byte) error {
	if !hmac.Equal([]byte(header.Get("X-Test-Signature")), []byte(sign(body))) {
		return stream.ErrSignatureInvalid
	}
	return nil
}

func (a *fakeAdapter) ParseWebhook(header http.Header, body []byte) (*stream.WebhookEvent, error) {
	p := fakePayload{}
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, err
	}

	switch p.Type {
	case "challenge":
		return &stream.WebhookEvent{Kind: stream.WebhookEventChallenge, Challenge: p.Title}, nil
	case "revocation":
		return &stream.WebhookEvent{Kind: stream.WebhookEventRevocation, Username: p.Username}, nil
	case "stream":
		event := &stream.WebhookEvent{Kind: stream.WebhookEventObservation, Lookups: p.Lookups}
		if p.Username != "" {
			event.Observations = []stream.Observation{{
				Platform: a.platform,
				Username: p.Username,
				IsLive:   p.Live,
				Metadata: stream.Metadata{Title: p.Title},
			}}
		}
		return event, nil
	default:
		return &stream.WebhookEvent{Kind: stream.WebhookEventUnknown}, nil
	}
}

func (a *fakeAdapter) ParseChallenge(query url.Values) (*stream.WebhookEvent, error) {
	if query.Get("hub.challenge") == "" {
		return nil, errors.New("missing challenge")
	}
	return &stream.WebhookEvent{Kind: stream.WebhookEventChallenge, Challenge: query.Get("hub.challenge")}, nil
}

func (a *fakeAdapter) ResolveLookups(ctx context.Context, token string, ids []string) ([]stream.Observation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.resolveIDs = append(a.resolveIDs, ids)
	return a.resolved, a.resolveErr
}

func (a *fakeAdapter) Subscribe(ctx context.Context, token string, username string) ([]string, error) {
	a.mu.Lock()
	a.subscribed = append(a.subscribed, username)
	fn := a.subscribeFn
	a.mu.Unlock()

	if fn != nil {
		return fn(username)
	}
	return []string{"sub-" + username}, nil
}

func (a *fakeAdapter) Unsubscribe(ctx context.Context, token string, username string, ids []string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.unsubbed = append(a.unsubbed, ids)
	return nil
}

func (a *fakeAdapter) subscribeCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.subscribed)
}

type recorder struct {
	mu  sync.Mutex
	obs []stream.Observation
}

func (r *recorder) Observe(ctx context.Context, obs stream.Observation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, obs)
}

func (r *recorder) observations() []stream.Observation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]stream.Observation(nil), r.obs...)
}

type staticTokens struct{}

func (staticTokens) GetValidToken(ctx context.Context, platform stream.Platform) (string, error) {
	return "app-token", nil
}

type denyBudget struct{}

func (denyBudget) TryAcquire(stream.Platform, int) bool { return false }

type revocations struct {
	mu    sync.Mutex
	names []string
}

func (r *revocations) Revoked(ctx context.Context, platform stream.Platform, username string, subscriptionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.names = append(r.names, username+subscriptionID)
}
