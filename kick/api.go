package kick

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/go-resty/resty/v2"
	"github.com/xIceArcher/go-livewatch/config"
	"github.com/xIceArcher/go-livewatch/credential"
	"github.com/xIceArcher/go-livewatch/stream"
	"github.com/xIceArcher/go-livewatch/utils"
)

// MaxBatchSize is the most slugs the channels endpoint accepts in one call.
const MaxBatchSize = 50

// Adapter polls the public channels API. Kick has no push support.
type Adapter struct {
	cfg        config.KickConfig
	httpClient *http.Client
	client     *resty.Client
}

func NewAdapter(cfg config.KickConfig, httpClient *http.Client) *Adapter {
	client := resty.New()
	if httpClient != nil {
		client = resty.NewWithClient(httpClient)
	}

	return &Adapter{
		cfg:        cfg,
		httpClient: httpClient,
		client:     client.SetHostURL(cfg.APIBaseURL),
	}
}

func (a *Adapter) Platform() stream.Platform {
	return stream.PlatformKick
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

func (a *Adapter) Refresher() stream.TokenRefresher {
	return credential.NewClientCredentialsRefresher(a.cfg.ClientID, a.cfg.ClientSecret, a.cfg.TokenURL, a.httpClient)
}

func (a *Adapter) CheckLiveBatch(ctx context.Context, token string, slugs []string) (map[string]stream.Metadata, error) {
	resp, err := a.client.R().
		SetContext(ctx).
		SetAuthToken(token).
		SetQueryParamsFromValues(url.Values{"slug": slugs}).
		SetResult(&ChannelsResponse{}).
		Get("/public/v1/channels")
	if err != nil {
		return nil, &stream.TransientError{Platform: stream.PlatformKick, Err: err}
	}

	switch {
	case resp.IsSuccess():
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden:
		return nil, &stream.AuthError{Platform: stream.PlatformKick, Err: errors.New(resp.String())}
	case resp.StatusCode() == http.StatusTooManyRequests || resp.StatusCode() >= 500:
		return nil, &stream.TransientError{Platform: stream.PlatformKick, StatusCode: resp.StatusCode(), Err: errors.New(resp.String())}
	default:
		return nil, fmt.Errorf("kick request failed with status %d: %s", resp.StatusCode(), resp.String())
	}

	channels := resp.Result().(*ChannelsResponse)

	ret := make(map[string]stream.Metadata, len(channels.Data))
	for _, c := range channels.Data {
		if !c.Stream.IsLive {
			continue
		}
		ret[stream.NormalizeUsername(stream.PlatformKick, c.Slug)] = metadataFromChannel(c)
	}

	return ret, nil
}

func metadataFromChannel(c Channel) stream.Metadata {
	metadata := stream.Metadata{
		Title:        c.StreamTitle,
		Category:     c.Category.Name,
		ViewerCount:  c.Stream.ViewerCount,
		ThumbnailURL: c.Stream.Thumbnail,
		DisplayName:  c.Slug,
		URL:          ChannelURL(c.Slug),
	}

	if startedAt, ok := utils.ParseISOTime(c.Stream.StartTime); ok {
		metadata.StartedAt = startedAt
	}

	return metadata
}

func ChannelURL(slug string) string {
	return fmt.Sprintf("https://kick.com/%s", slug)
}
