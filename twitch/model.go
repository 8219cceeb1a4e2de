package twitch

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nicklaw5/helix"
	"github.com/xIceArcher/go-livewatch/stream"
)

const (
	headerMessageID        = "Twitch-Eventsub-Message-Id"
	headerMessageType      = "Twitch-Eventsub-Message-Type"
	headerMessageTimestamp = "Twitch-Eventsub-Message-Timestamp"
	headerMessageSignature = "Twitch-Eventsub-Message-Signature"

	messageTypeVerification = "webhook_callback_verification"
	messageTypeNotification = "notification"
	messageTypeRevocation   = "revocation"
)

type eventSubMessage struct {
	Challenge    string               `json:"challenge"`
	Subscription eventSubSubscription `json:"subscription"`
	Event        streamEvent          `json:"event"`
}

type eventSubSubscription struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Condition struct {
		BroadcasterUserID string `json:"broadcaster_user_id"`
	} `json:"condition"`
}

// streamEvent covers both stream.online and stream.offline payloads.
type streamEvent struct {
	BroadcasterUserID    string `json:"broadcaster_user_id"`
	BroadcasterUserLogin string `json:"broadcaster_user_login"`
	BroadcasterUserName  string `json:"broadcaster_user_name"`
	Type                 string `json:"type"`
	StartedAt            string `json:"started_at"`
}

func metadataFromStream(s helix.Stream) stream.Metadata {
	return stream.Metadata{
		Title:        s.Title,
		Category:     s.GameName,
		ViewerCount:  s.ViewerCount,
		ThumbnailURL: FormatThumbnailURL(s.ThumbnailURL, 1920, 1080),
		StartedAt:    s.StartedAt,
		DisplayName:  s.UserName,
		URL:          UserURL(s.UserLogin),
	}
}

func FormatThumbnailURL(url string, width int, height int) string {
	url = strings.ReplaceAll(url, "{width}", strconv.Itoa(width))
	return strings.ReplaceAll(url, "{height}", strconv.Itoa(height))
}

func UserURL(loginName string) string {
	return fmt.Sprintf("https://twitch.tv/%s", loginName)
}
