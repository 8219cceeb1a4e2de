package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jinzhu/configor"
)

type Config struct {
	Twitch  TwitchConfig  `yaml:"twitch"`
	Google  GoogleConfig  `yaml:"google"`
	Kick    KickConfig    `yaml:"kick"`
	Discord DiscordConfig `yaml:"discord"`
	Redis   RedisConfig   `yaml:"redis"`
	Webhook WebhookConfig `yaml:"webhook"`
	Monitor MonitorConfig `yaml:"monitor"`

	Logger LogConfig `yaml:"logger"`
}

// PollConfig is shared by every polled platform.
type PollConfig struct {
	Disabled            bool `yaml:"disabled"`
	IntervalSecs        int  `yaml:"intervalSecs"`
	RateLimit           int  `yaml:"rateLimit"`
	RateLimitWindowSecs int  `yaml:"rateLimitWindowSecs"`
	BatchSize           int  `yaml:"batchSize"`
}

func (c PollConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSecs) * time.Second
}

func (c PollConfig) RateLimitWindow() time.Duration {
	return time.Duration(c.RateLimitWindowSecs) * time.Second
}

type TwitchConfig struct {
	ClientID      string `yaml:"clientID"`
	ClientSecret  string `yaml:"clientSecret"`
	TokenURL      string `yaml:"tokenURL" default:"https://id.twitch.tv/oauth2/token"`
	APIBaseURL    string `yaml:"apiBaseURL" default:"https://api.twitch.tv/helix"`
	WebhookSecret string `yaml:"webhookSecret"`

	Poll PollConfig `yaml:"poll"`
}

type GoogleConfig struct {
	APIKey        string `yaml:"apiKey"`
	Endpoint      string `yaml:"endpoint"`
	HubURL        string `yaml:"hubURL" default:"https://pubsubhubbub.appspot.com/subscribe"`
	WebhookSecret string `yaml:"webhookSecret"`

	Poll PollConfig `yaml:"poll"`
}

type KickConfig struct {
	ClientID     string `yaml:"clientID"`
	ClientSecret string `yaml:"clientSecret"`
	TokenURL     string `yaml:"tokenURL" default:"https://id.kick.com/oauth/token"`
	APIBaseURL   string `yaml:"apiBaseURL" default:"https://api.kick.com"`

	Poll PollConfig `yaml:"poll"`
}

type DiscordConfig struct {
	Token string `yaml:"token"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host" default:"localhost"`
	Port     int    `yaml:"port" default:"6379"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type WebhookConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ListenAddr  string `yaml:"listenAddr" default:":8080"`
	CallbackURL string `yaml:"callbackURL"`

	SubscribeTimeoutSecs int `yaml:"subscribeTimeoutSecs" default:"30"`
}

// CallbackURLFor is the public URL a platform pushes events for it to.
func (c WebhookConfig) CallbackURLFor(platform string) string {
	return fmt.Sprintf("%s/webhook/%s", c.CallbackURL, platform)
}

func (c WebhookConfig) SubscribeTimeout() time.Duration {
	return time.Duration(c.SubscribeTimeoutSecs) * time.Second
}

type MonitorConfig struct {
	RetryDelaysSecs       []int  `yaml:"retryDelaysSecs"`
	CleanupIntervalMins   int    `yaml:"cleanupIntervalMins" default:"60"`
	StaleSessionHours     int    `yaml:"staleSessionHours" default:"24"`
	UpdateIntervalMins    int    `yaml:"updateIntervalMins" default:"5"`
	TokenSafetyMarginSecs int    `yaml:"tokenSafetyMarginSecs" default:"60"`
	DefaultTemplate       string `yaml:"defaultTemplate" default:"{mention} {username} is now live: {title}"`
}

var DefaultRetryDelays = []time.Duration{1 * time.Second, 5 * time.Second, 15 * time.Second, 30 * time.Second}

func (c MonitorConfig) RetryDelays() []time.Duration {
	if len(c.RetryDelaysSecs) == 0 {
		return DefaultRetryDelays
	}

	delays := make([]time.Duration, 0, len(c.RetryDelaysSecs))
	for _, secs := range c.RetryDelaysSecs {
		delays = append(delays, time.Duration(secs)*time.Second)
	}
	return delays
}

func (c MonitorConfig) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalMins) * time.Minute
}

func (c MonitorConfig) StaleSessionAge() time.Duration {
	return time.Duration(c.StaleSessionHours) * time.Hour
}

func (c MonitorConfig) UpdateInterval() time.Duration {
	return time.Duration(c.UpdateIntervalMins) * time.Minute
}

func (c MonitorConfig) TokenSafetyMargin() time.Duration {
	return time.Duration(c.TokenSafetyMarginSecs) * time.Second
}

type LogConfig struct {
	LogPath string `yaml:"logPath" default:"logs"`
	Level   string `yaml:"level" default:"info"`
	JSON    bool   `yaml:"json"`
}

// Default returns a config with every default applied, as if loaded from an empty file.
func Default() (*Config, error) {
	c := &Config{}
	if err := configor.Load(c); err != nil {
		return nil, err
	}

	c.applyPlatformDefaults()
	return c, nil
}

func (c *Config) LoadConfig(path string) error {
	_, err := os.Stat(path)
	if err != nil {
		return err
	}

	if err := configor.Load(c, path); err != nil {
		return err
	}

	c.applyPlatformDefaults()
	return nil
}

// Platform budgets differ, so they can't be expressed as default tags on the shared PollConfig.
func (c *Config) applyPlatformDefaults() {
	c.Twitch.Poll.fill(60, 800, 60, 100)
	c.Google.Poll.fill(120, 100, 100, 50)
	c.Kick.Poll.fill(60, 60, 60, 50)
}

func (c *PollConfig) fill(intervalSecs, rateLimit, windowSecs, batchSize int) {
	if c.IntervalSecs <= 0 {
		c.IntervalSecs = intervalSecs
	}
	if c.RateLimit <= 0 {
		c.RateLimit = rateLimit
	}
	if c.RateLimitWindowSecs <= 0 {
		c.RateLimitWindowSecs = windowSecs
	}
	if c.BatchSize <= 0 {
		c.BatchSize = batchSize
	}
}
