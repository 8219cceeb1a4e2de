package youtube

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"encoding/xml"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/xIceArcher/go-livewatch/stream"
)

const (
	headerHubSignature = "X-Hub-Signature"

	hubModeSubscribe   = "subscribe"
	hubModeUnsubscribe = "unsubscribe"
	hubModeDenied      = "denied"

	topicURLFormat = "https://www.youtube.com/xml/feeds/videos.xml?channel_id=%s"

	// LeaseSeconds is the longest lease the hub grants.
	LeaseSeconds = 10 * 24 * 60 * 60
)

// Deleted videos arrive as at:deleted-entry elements, which have no Atom entry and are skipped.
type feed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Entries []feedEntry `xml:"http://www.w3.org/2005/Atom entry"`
}

type feedEntry struct {
	VideoID   string `xml:"http://www.youtube.com/xml/schemas/2015 videoId"`
	ChannelID string `xml:"http://www.youtube.com/xml/schemas/2015 channelId"`
}

func TopicURL(channelID string) string {
	return fmt.Sprintf(topicURLFormat, url.QueryEscape(channelID))
}

func (a *Adapter) VerifyWebhook(header http.Header, body []byte) error {
	if a.cfg.WebhookSecret == "" {
		return fmt.Errorf("%w: no webhook secret configured", stream.ErrSignatureInvalid)
	}

	algo, sig, ok := strings.Cut(header.Get(headerHubSignature), "=")
	if !ok || algo != "sha1" {
		return stream.ErrSignatureInvalid
	}

	expected, err := hex.DecodeString(sig)
	if err != nil {
		return stream.ErrSignatureInvalid
	}

	mac := hmac.New(sha1.New, []byte(a.cfg.WebhookSecret))
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), expected) {
		return stream.ErrSignatureInvalid
	}

	return nil
}

// ParseWebhook reads the Atom feed the hub pushes. Every entry is a video that has to be looked up,
// since the feed carries no liveness.
func (a *Adapter) ParseWebhook(header http.Header, body []byte) (*stream.WebhookEvent, error) {
	f := &feed{}
	if err := xml.Unmarshal(body, f); err != nil {
		return nil, err
	}

	event := &stream.WebhookEvent{}
	for _, entry := range f.Entries {
		if entry.VideoID == "" {
			continue
		}

		event.Lookups = append(event.Lookups, entry.VideoID)
		if event.Username == "" {
			event.Username = entry.ChannelID
		}
	}

	if len(event.Lookups) > 0 {
		event.Kind = stream.WebhookEventObservation
	}

	return event, nil
}

// ParseChallenge answers the hub's intent verification for subscribe and unsubscribe.
// A denied subscription is reported as a revocation.
func (a *Adapter) ParseChallenge(query url.Values) (*stream.WebhookEvent, error) {
	event := &stream.WebhookEvent{
		Username: channelFromTopic(query.Get("hub.topic")),
	}

	switch query.Get("hub.mode") {
	case hubModeSubscribe, hubModeUnsubscribe:
		challenge := query.Get("hub.challenge")
		if challenge == "" {
			return nil, errors.New("verification without challenge")
		}
		event.Kind = stream.WebhookEventChallenge
		event.Challenge = challenge

	case hubModeDenied:
		event.Kind = stream.WebhookEventRevocation

	default:
		return nil, fmt.Errorf("unknown hub mode %q", query.Get("hub.mode"))
	}

	return event, nil
}

func channelFromTopic(topic string) string {
	u, err := url.Parse(topic)
	if err != nil {
		return ""
	}
	return u.Query().Get("channel_id")
}

// ResolveLookups turns pushed video ids into observations. Uploads, premieres and finished
// broadcasts are not live and are dropped.
func (a *Adapter) ResolveLookups(ctx context.Context, token string, videoIDs []string) ([]stream.Observation, error) {
	videos, err := a.liveVideos(ctx, videoIDs)
	if err != nil {
		return nil, err
	}

	now := a.clock.Now()
	ret := make([]stream.Observation, 0, len(videos))
	for _, v := range videos {
		ret = append(ret, stream.Observation{
			Platform:   stream.PlatformYouTube,
			Username:   v.Snippet.ChannelId,
			IsLive:     true,
			Metadata:   metadataFromVideo(v),
			Source:     stream.SourceWebhook,
			ObservedAt: now,
		})
	}

	return ret, nil
}

// Subscribe asks the hub to push the channel's feed. The topic URL doubles as the subscription id.
func (a *Adapter) Subscribe(ctx context.Context, token string, channelID string) ([]string, error) {
	if a.callbackURL == "" || a.cfg.HubURL == "" {
		return nil, fmt.Errorf("%w: webhook callback not configured", stream.ErrUnsupportedPlatform)
	}

	topic := TopicURL(channelID)
	if err := a.hubRequest(ctx, hubModeSubscribe, topic); err != nil {
		return nil, err
	}

	return []string{topic}, nil
}

func (a *Adapter) Unsubscribe(ctx context.Context, token string, channelID string, ids []string) error {
	if a.cfg.HubURL == "" {
		return nil
	}

	topic := TopicURL(channelID)
	if len(ids) > 0 {
		topic = ids[0]
	}

	return a.hubRequest(ctx, hubModeUnsubscribe, topic)
}

func (a *Adapter) hubRequest(ctx context.Context, mode string, topic string) error {
	form := map[string]string{
		"hub.mode":     mode,
		"hub.topic":    topic,
		"hub.callback": a.callbackURL,
		"hub.verify":   "async",
	}
	if mode == hubModeSubscribe {
		form["hub.lease_seconds"] = fmt.Sprint(LeaseSeconds)
		if a.cfg.WebhookSecret != "" {
			form["hub.secret"] = a.cfg.WebhookSecret
		}
	}

	resp, err := a.hub.R().
		SetContext(ctx).
		SetFormData(form).
		Post(a.cfg.HubURL)
	if err != nil {
		return &stream.TransientError{Platform: stream.PlatformYouTube, Err: err}
	}

	switch {
	case resp.IsSuccess():
		return nil
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
		return &stream.TransientError{Platform: stream.PlatformYouTube, StatusCode: resp.StatusCode(), Err: errors.New(resp.String())}
	default:
		return fmt.Errorf("hub %s failed with status %d: %s", mode, resp.StatusCode(), resp.String())
	}
}
