package twitch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nicklaw5/helix"
	"github.com/xIceArcher/go-livewatch/stream"
	"github.com/xIceArcher/go-livewatch/utils"
	"go.uber.org/multierr"
)

// MaxMessageAge is how old a notification may be before it is treated as a replay.
const MaxMessageAge = 10 * time.Minute

func (a *Adapter) VerifyWebhook(header http.Header, body []byte) error {
	if a.cfg.WebhookSecret == "" {
		return fmt.Errorf("%w: no webhook secret configured", stream.ErrSignatureInvalid)
	}

	if !helix.VerifyEventSubNotification(a.cfg.WebhookSecret, header, string(body)) {
		return stream.ErrSignatureInvalid
	}

	sentAt, ok := utils.ParseISOTime(header.Get(headerMessageTimestamp))
	if !ok {
		return fmt.Errorf("%w: bad message timestamp", stream.ErrSignatureInvalid)
	}
	if a.clock.Since(sentAt) > MaxMessageAge {
		return fmt.Errorf("%w: message older than %v", stream.ErrSignatureInvalid, MaxMessageAge)
	}

	return nil
}

func (a *Adapter) ParseWebhook(header http.Header, body []byte) (*stream.WebhookEvent, error) {
	msg := &eventSubMessage{}
	if err := json.Unmarshal(body, msg); err != nil {
		return nil, err
	}

	event := &stream.WebhookEvent{
		MessageID:      header.Get(headerMessageID),
		SubscriptionID: msg.Subscription.ID,
	}

	switch header.Get(headerMessageType) {
	case messageTypeVerification:
		if msg.Challenge == "" {
			return nil, errors.New("verification without challenge")
		}
		event.Kind = stream.WebhookEventChallenge
		event.Challenge = msg.Challenge

	case messageTypeRevocation:
		event.Kind = stream.WebhookEventRevocation

	case messageTypeNotification:
		return a.parseNotification(msg, event)
	}

	return event, nil
}

func (a *Adapter) parseNotification(msg *eventSubMessage, event *stream.WebhookEvent) (*stream.WebhookEvent, error) {
	login := stream.NormalizeUsername(stream.PlatformTwitch, msg.Event.BroadcasterUserLogin)

	obs := stream.Observation{
		Platform:   stream.PlatformTwitch,
		Username:   login,
		Source:     stream.SourceWebhook,
		ObservedAt: a.clock.Now(),
	}

	switch msg.Subscription.Type {
	case helix.EventSubTypeStreamOnline:
		if msg.Event.Type != "" && msg.Event.Type != "live" {
			return event, nil
		}

		obs.IsLive = true
		obs.Metadata = stream.Metadata{
			DisplayName: msg.Event.BroadcasterUserName,
			URL:         UserURL(login),
		}
		if startedAt, ok := utils.ParseISOTime(msg.Event.StartedAt); ok {
			obs.Metadata.StartedAt = startedAt
		}

		// The payload has no title or category, so ask for them
		event.Lookups = []string{login}

	case helix.EventSubTypeStreamOffline:
		obs.IsLive = false

	default:
		return event, nil
	}

	if login == "" {
		return nil, errors.New("notification without broadcaster login")
	}

	event.Kind = stream.WebhookEventObservation
	event.Username = login
	event.Observations = []stream.Observation{obs}

	return event, nil
}

// ResolveLookups fetches full stream metadata for the given logins. Offline logins are omitted.
func (a *Adapter) ResolveLookups(ctx context.Context, token string, logins []string) ([]stream.Observation, error) {
	live, err := a.CheckLiveBatch(ctx, token, logins)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	ret := make([]stream.Observation, 0, len(live))
	for _, login := range logins {
		metadata, ok := live[stream.NormalizeUsername(stream.PlatformTwitch, login)]
		if !ok {
			continue
		}

		ret = append(ret, stream.Observation{
			Platform:   stream.PlatformTwitch,
			Username:   stream.NormalizeUsername(stream.PlatformTwitch, login),
			IsLive:     true,
			Metadata:   metadata,
			Source:     stream.SourceWebhook,
			ObservedAt: now,
		})
	}

	return ret, nil
}

// Subscribe creates stream.online and stream.offline subscriptions for a login.
func (a *Adapter) Subscribe(ctx context.Context, token string, login string) ([]string, error) {
	if a.callbackURL == "" || a.cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook callback not configured", stream.ErrUnsupportedPlatform)
	}

	userID, err := a.GetUserID(token, login)
	if err != nil {
		return nil, err
	}

	client, err := a.client(token)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, 2)
	for _, eventType := range []string{helix.EventSubTypeStreamOnline, helix.EventSubTypeStreamOffline} {
		resp, err := client.CreateEventSubSubscription(&helix.EventSubSubscription{
			Type:    eventType,
			Version: "1",
			Condition: helix.EventSubCondition{
				BroadcasterUserID: userID,
			},
			Transport: helix.EventSubTransport{
				Method:   "webhook",
				Callback: a.callbackURL,
				Secret:   a.cfg.WebhookSecret,
			},
		})
		if err == nil {
			err = a.checkResponse(&resp.ResponseCommon)
		}
		if err != nil {
			// Leave nothing half-subscribed behind
			if len(ids) > 0 {
				_ = a.Unsubscribe(ctx, token, login, ids)
			}
			return nil, fmt.Errorf("create %s subscription: %w", eventType, err)
		}

		for _, sub := range resp.Data.EventSubSubscriptions {
			ids = append(ids, sub.ID)
		}
	}

	return ids, nil
}

func (a *Adapter) Unsubscribe(ctx context.Context, token string, login string, ids []string) error {
	client, err := a.client(token)
	if err != nil {
		return err
	}

	var errs error
	for _, id := range ids {
		resp, err := client.RemoveEventSubSubscription(id)
		if err == nil && resp.StatusCode != http.StatusNotFound {
			err = a.checkResponse(&resp.ResponseCommon)
		}
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove subscription %s: %w", id, err))
		}
	}

	return errs
}
