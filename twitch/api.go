package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jonboulle/clockwork"
	"github.com/nicklaw5/helix"
	"github.com/xIceArcher/go-livewatch/config"
	"github.com/xIceArcher/go-livewatch/credential"
	lwhttp "github.com/xIceArcher/go-livewatch/http"
	"github.com/xIceArcher/go-livewatch/stream"
)

// MaxBatchSize is the most logins Get Streams accepts in one call.
const MaxBatchSize = 100

var ErrNotFound = errors.New("resource not found")

// Adapter talks to the Helix API and EventSub.
type Adapter struct {
	cfg         config.TwitchConfig
	callbackURL string
	httpClient  *http.Client
	clock       clockwork.Clock
}

func NewAdapter(cfg config.TwitchConfig, callbackURL string, httpClient *http.Client, clock clockwork.Clock) *Adapter {
	if httpClient == nil {
		httpClient = lwhttp.NewClient(nil)
	}

	return &Adapter{
		cfg:         cfg,
		callbackURL: callbackURL,
		httpClient:  httpClient,
		clock:       clock,
	}
}

func (a *Adapter) Platform() stream.Platform {
	return stream.PlatformTwitch
}

func (a *Adapter) BatchSize() int {
	if a.cfg.Poll.BatchSize <= 0 || a.cfg.Poll.BatchSize > MaxBatchSize {
		return MaxBatchSize
	}
	return a.cfg.Poll.BatchSize
}

func (a *Adapter) RequestCost(n int) int {
	return 1
}

func (a *Adapter) RequiresAuth() bool {
	return true
}

// Refresher exchanges the client credentials for an app access token.
func (a *Adapter) Refresher() stream.TokenRefresher {
	return credential.NewClientCredentialsRefresher(a.cfg.ClientID, a.cfg.ClientSecret, a.cfg.TokenURL, a.httpClient)
}

func (a *Adapter) CheckLiveBatch(ctx context.Context, token string, usernames []string) (map[string]stream.Metadata, error) {
	client, err := a.client(token)
	if err != nil {
		return nil, err
	}

	resp, err := client.GetStreams(&helix.StreamsParams{
		UserLogins: usernames,
		First:      len(usernames),
	})
	if err != nil {
		return nil, &stream.TransientError{Platform: stream.PlatformTwitch, Err: err}
	}
	if err := a.checkResponse(&resp.ResponseCommon); err != nil {
		return nil, err
	}

	ret := make(map[string]stream.Metadata, len(resp.Data.Streams))
	for _, s := range resp.Data.Streams {
		if s.Type != "" && s.Type != "live" {
			continue
		}
		ret[stream.NormalizeUsername(stream.PlatformTwitch, s.UserLogin)] = metadataFromStream(s)
	}

	return ret, nil
}

func (a *Adapter) GetUserID(token string, loginName string) (string, error) {
	client, err := a.client(token)
	if err != nil {
		return "", err
	}

	resp, err := client.GetUsers(&helix.UsersParams{
		Logins: []string{loginName},
	})
	if err != nil {
		return "", &stream.TransientError{Platform: stream.PlatformTwitch, Err: err}
	}
	if err := a.checkResponse(&resp.ResponseCommon); err != nil {
		return "", err
	}
	if len(resp.Data.Users) == 0 {
		return "", ErrNotFound
	}

	return resp.Data.Users[0].ID, nil
}

// Helix clients carry the token, so one is built per call.
func (a *Adapter) client(token string) (*helix.Client, error) {
	return helix.NewClient(&helix.Options{
		ClientID:       a.cfg.ClientID,
		AppAccessToken: token,
		HTTPClient:     a.httpClient,
		APIBaseURL:     a.cfg.APIBaseURL,
	})
}

func (a *Adapter) checkResponse(resp *helix.ResponseCommon) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		return &stream.AuthError{Platform: stream.PlatformTwitch, Err: errors.New(resp.ErrorMessage)}
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &stream.TransientError{Platform: stream.PlatformTwitch, StatusCode: resp.StatusCode, Err: errors.New(resp.ErrorMessage)}
	default:
		return fmt.Errorf("twitch request failed with status %d: %s", resp.StatusCode, resp.ErrorMessage)
	}
}
