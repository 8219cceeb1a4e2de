package notify

import (
	"context"

	"github.com/xIceArcher/go-livewatch/stream"
)

// Sink delivers notifications. The engine never builds chat messages itself.
type Sink interface {
	// Render posts a new notification and returns a handle that identifies it for later edits.
	Render(ctx context.Context, req RenderRequest) (string, error)
	Update(ctx context.Context, handle string, metadata stream.Metadata) error
	Close(ctx context.Context, handle string) error
}

type RenderRequest struct {
	Streamer *stream.Streamer
	Metadata stream.Metadata

	// Content is the streamer's message template with placeholders filled in.
	Content string
}

// HandleStore remembers which notification belongs to which live session.
type HandleStore interface {
	AttachHandle(ctx context.Context, key stream.Key, sessionID string, handle string) bool
}
