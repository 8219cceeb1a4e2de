package notify

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xIceArcher/go-livewatch/stream"
)

const DefaultTemplate = "{mention} {username} is now live: {title}"

// RenderContent fills the placeholders of a message template.
// Supported: {username} {title} {category} {url} {viewers} {mention}
func RenderContent(template string, s *stream.Streamer, metadata stream.Metadata) string {
	if template == "" {
		template = DefaultTemplate
	}

	name := metadata.DisplayName
	if name == "" {
		name = s.Username
	}

	mention := ""
	if s.MentionRoleID != "" {
		mention = fmt.Sprintf("<@&%s>", s.MentionRoleID)
	}

	r := strings.NewReplacer(
		"{username}", name,
		"{title}", metadata.Title,
		"{category}", metadata.Category,
		"{url}", metadata.URL,
		"{viewers}", strconv.Itoa(metadata.ViewerCount),
		"{mention}", mention,
	)

	return strings.TrimSpace(r.Replace(template))
}
