package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/xIceArcher/go-livewatch/stream"
)

func TestRenderContent(t *testing.T) {
	s := &stream.Streamer{Platform: stream.PlatformKick, Username: "xqc", GuildID: "g", ChannelID: "c"}
	metadata := stream.Metadata{
		Title:       "react andy",
		Category:    "Just Chatting",
		URL:         "https://kick.com/xqc",
		ViewerCount: 12345,
		DisplayName: "xQc",
	}

	tests := []struct {
		name     string
		template string
		mention  string
		want     string
	}{
		{"default template without mention", "", "", "xQc is now live: react andy"},
		{"default template with mention", "", "42", "<@&42> xQc is now live: react andy"},
		{"all placeholders", "{username} | {title} | {category} | {url} | {viewers}", "", "xQc | react andy | Just Chatting | https://kick.com/xqc | 12345"},
		{"unknown placeholder left alone", "{username} {game}", "", "xQc {game}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := s.Clone()
			s.MentionRoleID = tt.mention
			assert.Equal(t, tt.want, RenderContent(tt.template, s, metadata))
		})
	}
}

func TestRenderContent_FallsBackToUsername(t *testing.T) {
	s := &stream.Streamer{Username: "ninja"}
	assert.Equal(t, "ninja went live", RenderContent("{username} went live", s, stream.Metadata{}))
}
