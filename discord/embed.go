package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/xIceArcher/go-livewatch/consts"
	"github.com/xIceArcher/go-livewatch/stream"
	"github.com/xIceArcher/go-livewatch/utils"
)

const (
	maxTitleRunes   = 256
	maxContentRunes = 2000

	fieldCategory = "Category"
	fieldViewers  = "Viewers"
	fieldStarted  = "Started"
	fieldEnded    = "Ended"
	fieldDuration = "Duration"
)

type platformStyle struct {
	name    string
	color   string
	iconURL string
}

var platformStyles = map[stream.Platform]platformStyle{
	stream.PlatformTwitch: {
		name:    "Twitch",
		color:   consts.ColorTwitch,
		iconURL: "https://static.twitchcdn.net/assets/favicon-32-e29e246c157142c94346.png",
	},
	stream.PlatformYouTube: {
		name:    "YouTube",
		color:   consts.ColorYouTube,
		iconURL: "https://cdn4.iconfinder.com/data/icons/social-media-2210/24/Youtube-512.png",
	},
	stream.PlatformKick: {
		name:    "Kick",
		color:   consts.ColorKick,
		iconURL: "https://kick.com/favicon.ico",
	},
}

func styleFor(platform stream.Platform) platformStyle {
	if style, ok := platformStyles[platform]; ok {
		return style
	}
	return platformStyle{name: platform.String(), color: consts.ColorNone}
}

// LiveEmbed renders a live session.
func LiveEmbed(s *stream.Streamer, metadata stream.Metadata) *discordgo.MessageEmbed {
	style := styleFor(s.Platform)

	displayName := metadata.DisplayName
	if displayName == "" {
		displayName = s.Username
	}

	embed := &discordgo.MessageEmbed{
		URL:   metadata.URL,
		Title: utils.Truncate(metadata.Title, maxTitleRunes),
		Author: &discordgo.MessageEmbedAuthor{
			Name: displayName,
			URL:  metadata.URL,
		},
		Color: utils.ParseHexColor(style.color),
		Footer: &discordgo.MessageEmbedFooter{
			Text:    style.name,
			IconURL: style.iconURL,
		},
	}
	if embed.Title == "" {
		embed.Title = fmt.Sprintf("%s is live", displayName)
	}
	if metadata.URL != "" {
		embed.Description = fmt.Sprintf("Watch on %s", GetNamedLink(style.name, metadata.URL))
	}

	applyMetadata(embed, metadata)
	return embed
}

// applyMetadata refreshes the parts of a live embed that change during a broadcast.
func applyMetadata(embed *discordgo.MessageEmbed, metadata stream.Metadata) {
	if metadata.Title != "" {
		embed.Title = utils.Truncate(metadata.Title, maxTitleRunes)
	}
	if metadata.ThumbnailURL != "" {
		embed.Image = &discordgo.MessageEmbedImage{URL: metadata.ThumbnailURL}
	}

	fields := make([]*discordgo.MessageEmbedField, 0, 3)
	if metadata.Category != "" {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   fieldCategory,
			Value:  metadata.Category,
			Inline: true,
		})
	}
	if metadata.ViewerCount > 0 {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   fieldViewers,
			Value:  fmt.Sprint(metadata.ViewerCount),
			Inline: true,
		})
	}
	if !metadata.StartedAt.IsZero() {
		embed.Timestamp = metadata.StartedAt.Format(time.RFC3339)
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   fieldStarted,
			Value:  utils.FormatDiscordRelativeTime(metadata.StartedAt),
			Inline: true,
		})
	}
	embed.Fields = fields
}

// closeEmbed turns a live embed into its offline form.
func closeEmbed(embed *discordgo.MessageEmbed, endedAt time.Time) {
	embed.Color = utils.ParseHexColor(consts.ColorOffline)
	embed.Image = nil

	fields := make([]*discordgo.MessageEmbedField, 0, 3)
	for _, field := range embed.Fields {
		if field.Name == fieldCategory {
			fields = append(fields, field)
		}
	}

	fields = append(fields, &discordgo.MessageEmbedField{
		Name:   fieldEnded,
		Value:  utils.FormatDiscordRelativeTime(endedAt),
		Inline: true,
	})

	if startedAt, ok := utils.ParseISOTime(embed.Timestamp); ok && endedAt.After(startedAt) {
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:   fieldDuration,
			Value:  utils.FormatDuration(endedAt.Sub(startedAt)),
			Inline: true,
		})
	}

	embed.Fields = fields
}
