package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/xIceArcher/go-livewatch/bot"
	"github.com/xIceArcher/go-livewatch/cache"
	"github.com/xIceArcher/go-livewatch/config"
	"github.com/xIceArcher/go-livewatch/credential"
	"github.com/xIceArcher/go-livewatch/discord"
	lwhttp "github.com/xIceArcher/go-livewatch/http"
	"github.com/xIceArcher/go-livewatch/kick"
	"github.com/xIceArcher/go-livewatch/logger"
	"github.com/xIceArcher/go-livewatch/monitor"
	"github.com/xIceArcher/go-livewatch/ratelimit"
	"github.com/xIceArcher/go-livewatch/stream"
	"github.com/xIceArcher/go-livewatch/twitch"
	"github.com/xIceArcher/go-livewatch/webhook"
	"github.com/xIceArcher/go-livewatch/youtube"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./config.yaml", "Path of configuration file")
	flag.Parse()

	cfg := &config.Config{}
	if err := cfg.LoadConfig(configPath); err != nil {
		log.Fatal(err)
	}

	logger, err := logger.Init(cfg.Logger)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()

	var store cache.Store = cache.NewMemoryStore()
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedisStore(&cfg.Redis)
		if err != nil {
			logger.With(zap.Error(err)).Fatal("Failed to connect to redis")
		}
		defer redisStore.Close()
		store = redisStore
	} else {
		logger.Warn("Redis disabled, streamers will only be kept in memory")
	}

	bot, err := bot.New(cfg.Discord, discordgo.IntentsGuilds, logger.Named("bot"))
	if err != nil {
		logger.With(zap.Error(err)).Fatal("Failed to initialize bot")
	}
	if err := bot.Run(); err != nil {
		logger.With(zap.Error(err)).Fatal("Failed to start bot")
	}
	defer bot.Close()

	limiter := ratelimit.New(clock)
	tokens := credential.NewManager(clock, cfg.Monitor.TokenSafetyMargin(), logger.Named("credential"))

	engine := monitor.New(cfg.Monitor, monitor.Deps{
		Store:   store,
		Limiter: limiter,
		Tokens:  tokens,
		Sink:    discord.NewSink(bot.Session(), clock, logger.Named("discord")),
		Clock:   clock,
	}, logger.Named("monitor"))

	httpClient := lwhttp.NewClient(nil)
	webhookAdapters := make([]stream.WebhookAdapter, 0, 2)

	if !cfg.Twitch.Poll.Disabled {
		a := twitch.NewAdapter(cfg.Twitch, callbackURL(cfg.Webhook, stream.PlatformTwitch), httpClient, clock)
		engine.AddPlatform(a, cfg.Twitch.Poll)
		webhookAdapters = append(webhookAdapters, a)
	}

	if !cfg.Google.Poll.Disabled {
		a, err := youtube.NewAdapter(ctx, cfg.Google, callbackURL(cfg.Webhook, stream.PlatformYouTube), httpClient, clock)
		if err != nil {
			logger.With(zap.Error(err)).Fatal("Failed to initialize YouTube API")
		}
		engine.AddPlatform(a, cfg.Google.Poll)
		webhookAdapters = append(webhookAdapters, a)
	}

	if !cfg.Kick.Poll.Disabled {
		engine.AddPlatform(kick.NewAdapter(cfg.Kick, httpClient), cfg.Kick.Poll)
	}

	var server *webhook.Server
	var ingestor *webhook.Ingestor
	if cfg.Webhook.Enabled {
		subscriptions := webhook.NewSubscriptions(tokens, store, cfg.Webhook.SubscribeTimeout(), logger.Named("subscriptions"))
		ingestor = webhook.NewIngestor(engine, tokens, limiter, subscriptions, logger.Named("webhook"))

		for _, a := range webhookAdapters {
			ingestor.Register(a)
			if sub, ok := a.(stream.Subscriber); ok {
				subscriptions.Register(sub)
			}
		}
		engine.SetSubscriptions(subscriptions)

		server = webhook.NewServer(cfg.Webhook.ListenAddr, ingestor, logger.Named("server"))
		go func() {
			if err := server.Start(); err != nil {
				logger.With(zap.Error(err)).Fatal("Webhook server failed")
			}
		}()
	}

	if err := engine.Start(ctx); err != nil {
		logger.With(zap.Error(err)).Fatal("Failed to start engine")
	}

	logger.Info("Running")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	<-sc
	logger.Info("Shutting down...")

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.With(zap.Error(err)).Warn("Failed to shut down webhook server")
		}
		shutdownCancel()
		ingestor.Wait()
	}

	cancel()
	engine.Stop()
}

// Push callbacks are only advertised when the server is reachable from outside.
func callbackURL(cfg config.WebhookConfig, platform stream.Platform) string {
	if !cfg.Enabled || cfg.CallbackURL == "" {
		return ""
	}
	return cfg.CallbackURLFor(platform.String())
}
