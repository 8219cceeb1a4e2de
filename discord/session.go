package discord

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"
)

var (
	ErrMissingPermissions = errors.New("missing permissions")
	ErrMessageNotFound    = errors.New("message not found")
	ErrInvalidHandle      = errors.New("invalid message handle")
)

// MessageAPI is the part of a discordgo session the sink needs.
type MessageAPI interface {
	ChannelMessage(channelID string, messageID string) (*discordgo.Message, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend) (*discordgo.Message, error)
	ChannelMessageEditEmbeds(channelID string, id string, embeds []*discordgo.MessageEmbed) (*discordgo.Message, error)
}

var _ MessageAPI = (*discordgo.Session)(nil)

// Handle identifies a posted notification as channelID/messageID.
func Handle(channelID string, messageID string) string {
	return fmt.Sprintf("%s/%s", channelID, messageID)
}

func ParseHandle(handle string) (channelID string, messageID string, err error) {
	channelID, messageID, ok := strings.Cut(handle, "/")
	if !ok || channelID == "" || messageID == "" || strings.Contains(messageID, "/") {
		return "", "", fmt.Errorf("%w: %q", ErrInvalidHandle, handle)
	}
	return channelID, messageID, nil
}

func wrapRESTError(err error) error {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) || restErr.Response == nil {
		return err
	}

	switch restErr.Response.StatusCode {
	case http.StatusForbidden:
		return fmt.Errorf("%w: %v", ErrMissingPermissions, err)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %v", ErrMessageNotFound, err)
	default:
		return err
	}
}
