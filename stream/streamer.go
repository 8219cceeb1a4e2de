package stream

import (
	"fmt"
	"strings"
	"time"
)

// Key identifies one streamer watched in one guild.
type Key string

func NewKey(platform Platform, guildID string, username string) Key {
	return Key(fmt.Sprintf("%s/%s/%s", platform, guildID, NormalizeUsername(platform, username)))
}

func (k Key) String() string {
	return string(k)
}

// Parse splits a key back into its identity parts.
func (k Key) Parse() (platform Platform, guildID string, username string, ok bool) {
	parts := strings.SplitN(string(k), "/", 3)
	if len(parts) != 3 {
		return "", "", "", false
	}

	return Platform(parts[0]), parts[1], parts[2], true
}

// NormalizeUsername trims an external id. Logins and slugs are case-insensitive
// but YouTube channel ids are not.
func NormalizeUsername(platform Platform, username string) string {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if platform == PlatformYouTube {
		return username
	}
	return strings.ToLower(username)
}

type Streamer struct {
	Platform Platform `json:"platform"`
	Username string   `json:"username"`
	GuildID  string   `json:"guildID"`

	ChannelID       string `json:"channelID"`
	MentionRoleID   string `json:"mentionRoleID,omitempty"`
	MessageTemplate string `json:"messageTemplate,omitempty"`
	NotifyOnOffline bool   `json:"notifyOnOffline"`

	CreatedAt time.Time `json:"createdAt"`
}

func (s *Streamer) Key() Key {
	return NewKey(s.Platform, s.GuildID, s.Username)
}

func (s *Streamer) Validate() error {
	if !s.Platform.IsValid() {
		return ErrInvalidPlatform
	}
	if NormalizeUsername(s.Platform, s.Username) == "" {
		return fmt.Errorf("%w: empty username", ErrInvalidStreamer)
	}
	if strings.Contains(s.Username, "/") || strings.Contains(s.GuildID, "/") {
		return fmt.Errorf("%w: identity must not contain '/'", ErrInvalidStreamer)
	}
	if s.GuildID == "" {
		return fmt.Errorf("%w: empty guild ID", ErrInvalidStreamer)
	}
	if s.ChannelID == "" {
		return fmt.Errorf("%w: empty channel ID", ErrInvalidStreamer)
	}

	return nil
}

func (s *Streamer) Clone() *Streamer {
	c := *s
	return &c
}

// DeliveryUpdate changes where and how a streamer's notifications are delivered.
// Nil fields are left untouched.
type DeliveryUpdate struct {
	ChannelID       *string
	MentionRoleID   *string
	MessageTemplate *string
	NotifyOnOffline *bool
}

func (u DeliveryUpdate) Apply(s *Streamer) {
	if u.ChannelID != nil {
		s.ChannelID = *u.ChannelID
	}
	if u.MentionRoleID != nil {
		s.MentionRoleID = *u.MentionRoleID
	}
	if u.MessageTemplate != nil {
		s.MessageTemplate = *u.MessageTemplate
	}
	if u.NotifyOnOffline != nil {
		s.NotifyOnOffline = *u.NotifyOnOffline
	}
}
