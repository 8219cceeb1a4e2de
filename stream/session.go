package stream

import (
	"time"
)

type Metadata struct {
	Title        string    `json:"title,omitempty"`
	Category     string    `json:"category,omitempty"`
	ViewerCount  int       `json:"viewerCount"`
	ThumbnailURL string    `json:"thumbnailURL,omitempty"`
	StartedAt    time.Time `json:"startedAt"`

	DisplayName string `json:"displayName,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Merge overlays the non-zero fields of other on top of m.
// Viewer counts are always taken from other since zero viewers is a valid reading.
func (m Metadata) Merge(other Metadata) Metadata {
	if other.Title != "" {
		m.Title = other.Title
	}
	if other.Category != "" {
		m.Category = other.Category
	}
	if other.ThumbnailURL != "" {
		m.ThumbnailURL = other.ThumbnailURL
	}
	if !other.StartedAt.IsZero() {
		m.StartedAt = other.StartedAt
	}
	if other.DisplayName != "" {
		m.DisplayName = other.DisplayName
	}
	if other.URL != "" {
		m.URL = other.URL
	}
	m.ViewerCount = other.ViewerCount

	return m
}

type Source string

const (
	SourcePoll    Source = "poll"
	SourceWebhook Source = "webhook"
)

// Observation is one raw liveness reading for an external account, independent of guild.
type Observation struct {
	Platform   Platform
	Username   string
	IsLive     bool
	Metadata   Metadata
	Source     Source
	ObservedAt time.Time
}

type LiveSession struct {
	Key                Key       `json:"key"`
	ID                 string    `json:"id"`
	Metadata           Metadata  `json:"metadata"`
	NotificationHandle string    `json:"notificationHandle,omitempty"`
	LastSeenAt         time.Time `json:"lastSeenAt"`
}

func (s *LiveSession) Clone() *LiveSession {
	if s == nil {
		return nil
	}

	c := *s
	return &c
}

type TransitionKind int

const (
	TransitionNone TransitionKind = iota
	TransitionStarted
	TransitionUpdated
	TransitionEnded
)

func (k TransitionKind) String() string {
	switch k {
	case TransitionStarted:
		return "started"
	case TransitionUpdated:
		return "updated"
	case TransitionEnded:
		return "ended"
	default:
		return "none"
	}
}

type Transition struct {
	Kind TransitionKind

	// Session is a snapshot taken after the transition was applied.
	// For Ended it is the session as it was just before removal.
	Session *LiveSession

	// Previous holds the metadata before an Updated merge.
	Previous Metadata
}
