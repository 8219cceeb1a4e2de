package stream

import (
	"context"
	"net/http"
	"net/url"

	"golang.org/x/oauth2"
)

// Adapter is the polling capability every platform provides.
type Adapter interface {
	Platform() Platform

	// BatchSize is the largest number of usernames CheckLiveBatch accepts at once.
	BatchSize() int

	// RequestCost is the rate-limit budget one CheckLiveBatch call of n usernames consumes.
	RequestCost(n int) int

	RequiresAuth() bool

	// CheckLiveBatch returns metadata keyed by normalized username for every account that is live.
	// Accounts missing from the result are offline.
	CheckLiveBatch(ctx context.Context, token string, usernames []string) (map[string]Metadata, error)
}

// TokenRefresher is implemented by adapters whose API requires an app token.
type TokenRefresher interface {
	RefreshToken(ctx context.Context) (*oauth2.Token, error)
}

type WebhookEventKind int

const (
	WebhookEventUnknown WebhookEventKind = iota
	WebhookEventChallenge
	WebhookEventRevocation
	WebhookEventObservation
)

type WebhookEvent struct {
	Kind WebhookEventKind

	// Challenge is echoed back verbatim for subscription verification.
	Challenge string

	// Username is set for revocations and observations.
	Username string

	// MessageID identifies a delivery so redeliveries can be recognized.
	MessageID string

	// SubscriptionID is set for revocations that only name the subscription.
	SubscriptionID string

	Observations []Observation

	// Lookups are video or stream ids that must be resolved before they can be observed.
	Lookups []string
}

// WebhookAdapter is implemented by platforms that push state changes on top of being polled.
type WebhookAdapter interface {
	Adapter

	VerifyWebhook(header http.Header, body []byte) error
	ParseWebhook(header http.Header, body []byte) (*WebhookEvent, error)

	// ResolveLookups turns ids from a push payload into observations.
	ResolveLookups(ctx context.Context, token string, ids []string) ([]Observation, error)
}

// ChallengeParser is implemented by push protocols that verify the callback with a GET request.
type ChallengeParser interface {
	ParseChallenge(query url.Values) (*WebhookEvent, error)
}

// Subscriber is implemented by platforms that need a push subscription per account.
type Subscriber interface {
	WebhookAdapter

	Subscribe(ctx context.Context, token string, username string) ([]string, error)
	Unsubscribe(ctx context.Context, token string, username string, subscriptionIDs []string) error
}
