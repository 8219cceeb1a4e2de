package bot

import (
	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"

	"github.com/xIceArcher/go-livewatch/config"
)

// DiscordBot owns the gateway connection notifications are posted through.
type DiscordBot struct {
	session *discordgo.Session
	logger  *zap.SugaredLogger
}

func New(cfg config.DiscordConfig, intents discordgo.Intent, logger *zap.SugaredLogger) (bot *DiscordBot, err error) {
	bot = &DiscordBot{
		logger: logger,
	}

	if bot.session, err = discordgo.New(cfg.Token); err != nil {
		return nil, err
	}

	bot.session.Identify.Intents = intents
	return bot, nil
}

// Session is used to send and edit messages.
func (b *DiscordBot) Session() *discordgo.Session {
	return b.session
}

func (b *DiscordBot) Run() error {
	b.logger.Info("Starting bot...")

	b.session.AddHandler(func(s *discordgo.Session, r *discordgo.Ready) {
		b.logger.With(zap.String("user", r.User.Username), zap.Int("guilds", len(r.Guilds))).Info("Connected to gateway")
	})

	if err := b.session.Open(); err != nil {
		return err
	}

	b.logger.Info("Bot started")
	return nil
}

func (b *DiscordBot) Close() {
	b.logger.Info("Shutting down bot...")
	if err := b.session.Close(); err != nil {
		b.logger.With(zap.Error(err)).Warn("Failed to close session")
	}
	b.logger.Info("Bot shut down")
}
