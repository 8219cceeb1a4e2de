package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-resty/resty/v2"
	"github.com/jonboulle/clockwork"
	"github.com/xIceArcher/go-livewatch/config"
	"github.com/xIceArcher/go-livewatch/stream"
	"github.com/xIceArcher/go-livewatch/utils"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

const (
	PartID                   = "id"
	PartLiveStreamingDetails = "liveStreamingDetails"
	PartSnippet              = "snippet"

	LiveBroadcastContentNone     = "none"
	LiveBroadcastContentUpcoming = "upcoming"
	LiveBroadcastContentLive     = "live"

	// MaxBatchSize is the most ids videos.list accepts in one call.
	MaxBatchSize = 50
)

var ErrNotFound = errors.New("resource not found")

// Adapter polls channels through the Data API and receives pushes through WebSub.
type Adapter struct {
	cfg         config.GoogleConfig
	callbackURL string

	service *youtube.Service
	hub     *resty.Client
	clock   clockwork.Clock
}

// NewAdapter builds the Data API service from the API key. httpClient is only used to talk to the WebSub hub.
func NewAdapter(ctx context.Context, cfg config.GoogleConfig, callbackURL string, httpClient *http.Client, clock clockwork.Clock) (*Adapter, error) {
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	service, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, err
	}

	hub := resty.New()
	if httpClient != nil {
		hub = resty.NewWithClient(httpClient)
	}

	return &Adapter{
		cfg:         cfg,
		callbackURL: callbackURL,
		service:     service,
		hub:         hub,
		clock:       clock,
	}, nil
}

func (a *Adapter) Platform() stream.Platform {
	return stream.PlatformYouTube
}

func (a *Adapter) BatchSize() int {
	if a.cfg.Poll.BatchSize <= 0 || a.cfg.Poll.BatchSize > MaxBatchSize {
		return MaxBatchSize
	}
	return a.cfg.Poll.BatchSize
}

// RequestCost is one search per channel plus the videos.list call that fills in metadata.
func (a *Adapter) RequestCost(n int) int {
	return n + 1
}

func (a *Adapter) RequiresAuth() bool {
	return false
}

// CheckLiveBatch finds the live broadcast of each channel, then fetches all of them in one videos.list call.
func (a *Adapter) CheckLiveBatch(ctx context.Context, token string, channelIDs []string) (map[string]stream.Metadata, error) {
	videoIDs := make([]string, 0, len(channelIDs))
	for _, channelID := range channelIDs {
		resp, err := a.service.Search.List([]string{PartID}).
			ChannelId(channelID).
			EventType(LiveBroadcastContentLive).
			Type("video").
			MaxResults(1).
			Context(ctx).
			Do()
		if err != nil {
			return nil, classifyError(err)
		}

		for _, item := range resp.Items {
			if item.Id != nil && item.Id.VideoId != "" {
				videoIDs = append(videoIDs, item.Id.VideoId)
			}
		}
	}

	if len(videoIDs) == 0 {
		return map[string]stream.Metadata{}, nil
	}

	videos, err := a.liveVideos(ctx, videoIDs)
	if err != nil {
		return nil, err
	}

	ret := make(map[string]stream.Metadata, len(videos))
	for _, v := range videos {
		ret[stream.NormalizeUsername(stream.PlatformYouTube, v.Snippet.ChannelId)] = metadataFromVideo(v)
	}

	return ret, nil
}

// liveVideos returns the videos among ids that are broadcasting right now.
func (a *Adapter) liveVideos(ctx context.Context, ids []string) ([]*youtube.Video, error) {
	ret := make([]*youtube.Video, 0, len(ids))

	for start := 0; start < len(ids); start += MaxBatchSize {
		end := start + MaxBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		resp, err := a.service.Videos.List([]string{PartSnippet, PartLiveStreamingDetails}).
			Id(ids[start:end]...).
			Context(ctx).
			Do()
		if err != nil {
			return nil, classifyError(err)
		}

		for _, v := range resp.Items {
			if v.Snippet == nil || v.Snippet.LiveBroadcastContent != LiveBroadcastContentLive {
				continue
			}
			ret = append(ret, v)
		}
	}

	return ret, nil
}

func metadataFromVideo(v *youtube.Video) stream.Metadata {
	metadata := stream.Metadata{
		Title:       v.Snippet.Title,
		DisplayName: v.Snippet.ChannelTitle,
		URL:         VideoURL(v.Id),
	}

	if thumbnail, err := getBestThumbnail(v.Snippet.Thumbnails); err == nil {
		metadata.ThumbnailURL = thumbnail.Url
	}

	if details := v.LiveStreamingDetails; details != nil {
		metadata.ViewerCount = int(details.ConcurrentViewers)
		if startedAt, ok := utils.ParseISOTime(details.ActualStartTime); ok {
			metadata.StartedAt = startedAt
		}
	}

	return metadata
}

func getBestThumbnail(details *youtube.ThumbnailDetails) (*youtube.Thumbnail, error) {
	if details == nil {
		return nil, errors.New("no thumbnails")
	}

	thumbnails := []*youtube.Thumbnail{
		details.Default, details.High, details.Maxres, details.Medium, details.Standard,
	}

	currMaxPixels := int64(0)
	currMaxIdx := -1
	for i, thumbnail := range thumbnails {
		if thumbnail == nil {
			continue
		}

		currPixels := thumbnail.Height * thumbnail.Width
		if currPixels > currMaxPixels {
			currMaxPixels = currPixels
			currMaxIdx = i
		}
	}

	if currMaxIdx == -1 {
		return nil, errors.New("no valid thumbnails")
	}

	return thumbnails[currMaxIdx], nil
}

// Quota exhaustion comes back as 403, which is not an auth failure for an API key.
func classifyError(err error) error {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return &stream.TransientError{Platform: stream.PlatformYouTube, Err: err}
	}

	switch {
	case apiErr.Code == http.StatusUnauthorized:
		return &stream.AuthError{Platform: stream.PlatformYouTube, Err: err}
	case apiErr.Code == http.StatusForbidden && isQuotaError(apiErr):
		return fmt.Errorf("%w: %v", stream.ErrRateLimited, err)
	case apiErr.Code == http.StatusForbidden:
		return &stream.AuthError{Platform: stream.PlatformYouTube, Err: err}
	case apiErr.Code == http.StatusTooManyRequests || apiErr.Code >= 500:
		return &stream.TransientError{Platform: stream.PlatformYouTube, StatusCode: apiErr.Code, Err: err}
	default:
		return err
	}
}

func isQuotaError(err *googleapi.Error) bool {
	for _, item := range err.Errors {
		switch item.Reason {
		case "quotaExceeded", "rateLimitExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}

func VideoURL(id string) string {
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", id)
}

func ChannelURL(id string) string {
	return fmt.Sprintf("https://www.youtube.com/channel/%s", id)
}
