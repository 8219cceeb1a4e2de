package discord

import (
	"context"
	"errors"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
	"github.com/xIceArcher/go-livewatch/notify"
	"github.com/xIceArcher/go-livewatch/stream"
	"github.com/xIceArcher/go-livewatch/utils"
	"go.uber.org/zap"
)

// Sink posts notifications as embeds and edits them in place as the session changes.
type Sink struct {
	api    MessageAPI
	clock  clockwork.Clock
	logger *zap.SugaredLogger
}

var _ notify.Sink = (*Sink)(nil)

func NewSink(api MessageAPI, clock clockwork.Clock, logger *zap.SugaredLogger) *Sink {
	return &Sink{
		api:    api,
		clock:  clock,
		logger: logger,
	}
}

func (s *Sink) Render(ctx context.Context, req notify.RenderRequest) (string, error) {
	if req.Streamer == nil {
		return "", errors.New("render without streamer")
	}

	msg := &discordgo.MessageSend{
		Content: utils.Truncate(req.Content, maxContentRunes),
		Embeds:  []*discordgo.MessageEmbed{LiveEmbed(req.Streamer, req.Metadata)},
		AllowedMentions: &discordgo.MessageAllowedMentions{
			Roles: []string{},
		},
	}
	if req.Streamer.MentionRoleID != "" {
		msg.AllowedMentions.Roles = []string{req.Streamer.MentionRoleID}
	}

	m, err := s.api.ChannelMessageSendComplex(req.Streamer.ChannelID, msg)
	if err != nil {
		return "", wrapRESTError(err)
	}

	return Handle(m.ChannelID, m.ID), nil
}

func (s *Sink) Update(ctx context.Context, handle string, metadata stream.Metadata) error {
	return s.editEmbed(handle, func(embed *discordgo.MessageEmbed) {
		applyMetadata(embed, metadata)
	})
}

func (s *Sink) Close(ctx context.Context, handle string) error {
	endedAt := s.clock.Now()
	return s.editEmbed(handle, func(embed *discordgo.MessageEmbed) {
		closeEmbed(embed, endedAt)
	})
}

// editEmbed rewrites the first embed of a posted notification, keeping any others.
func (s *Sink) editEmbed(handle string, edit func(*discordgo.MessageEmbed)) error {
	channelID, messageID, err := ParseHandle(handle)
	if err != nil {
		return err
	}

	m, err := s.api.ChannelMessage(channelID, messageID)
	if err != nil {
		return wrapRESTError(err)
	}
	if len(m.Embeds) == 0 {
		s.logger.With(zap.String("handle", handle)).Warn("Notification has no embed to edit")
		return nil
	}

	edit(m.Embeds[0])

	if _, err := s.api.ChannelMessageEditEmbeds(channelID, messageID, m.Embeds); err != nil {
		return wrapRESTError(err)
	}
	return nil
}
