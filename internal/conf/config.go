package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const EnvPrefix = "SSLMON"

type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	MongoDB   MongoConfig     `mapstructure:"mongodb"`
	SQL       SQLConfig       `mapstructure:"sql"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Retention RetentionConfig `mapstructure:"retention"`
	Notifier  NotifierConfig  `mapstructure:"notifier"`
	Log       LogConfig       `mapstructure:"log"`
}

type ServerConfig struct {
	Port        string   `mapstructure:"port"`
	JWTSecret   string   `mapstructure:"jwt_secret"`
	CORSOrigins []string `mapstructure:"cors_origins"`
}

type StorageConfig struct {
	// mongo | postgres | sqlite | memory
	Driver string `mapstructure:"driver"`
}

type MongoConfig struct {
	URI      string `mapstructure:"uri"`
	Database string `mapstructure:"database"`
}

type SQLConfig struct {
	DSN string `mapstructure:"dsn"`
}

type RedisConfig struct {
	// Empty Addr disables Redis; the manual-check cooldown then lives in memory.
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type SchedulerConfig struct {
	CheckInterval  time.Duration `mapstructure:"check_interval"`
	Tick           time.Duration `mapstructure:"tick"`
	Workers        int           `mapstructure:"workers"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	MaxAttempts    int           `mapstructure:"max_attempts"`
	BaseDelay      time.Duration `mapstructure:"base_delay"`
	MaxDelay       time.Duration `mapstructure:"max_delay"`
	ManualCooldown time.Duration `mapstructure:"manual_cooldown"`
}

type RetentionConfig struct {
	Days     int    `mapstructure:"days"`
	Schedule string `mapstructure:"schedule"`
}

type NotifierConfig struct {
	Telegram     TelegramConfig `mapstructure:"telegram"`
	Slack        SlackConfig    `mapstructure:"slack"`
	Webhook      WebhookConfig  `mapstructure:"webhook"`
	RateInterval time.Duration  `mapstructure:"rate_interval"`
	QueueSize    int            `mapstructure:"queue_size"`
}

type TelegramConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	// Per-user chat overrides, keyed by user id.
	UserChats map[string]string `mapstructure:"user_chats"`
	Template  string            `mapstructure:"template"`
}

type SlackConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Token    string `mapstructure:"token"`
	Channel  string `mapstructure:"channel"`
	Template string `mapstructure:"template"`
}

type WebhookConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	URL      string `mapstructure:"url"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// setDefaults registers every key, which also lets AutomaticEnv see keys absent from the file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.jwt_secret", "")
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("storage.driver", "mongo")
	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "ssl_monitor")
	v.SetDefault("sql.dsn", "")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("scheduler.check_interval", time.Hour)
	v.SetDefault("scheduler.tick", time.Minute)
	v.SetDefault("scheduler.workers", 10)
	v.SetDefault("scheduler.probe_timeout", 10*time.Second)
	v.SetDefault("scheduler.max_attempts", 3)
	v.SetDefault("scheduler.base_delay", 2*time.Second)
	v.SetDefault("scheduler.max_delay", 30*time.Second)
	v.SetDefault("scheduler.manual_cooldown", 10*time.Second) // 0 disables

	v.SetDefault("retention.days", 90)
	v.SetDefault("retention.schedule", "0 2 * * *") // daily 02:00

	v.SetDefault("notifier.telegram.enabled", false)
	v.SetDefault("notifier.telegram.bot_token", "")
	v.SetDefault("notifier.telegram.chat_id", "")
	v.SetDefault("notifier.telegram.template", "")
	v.SetDefault("notifier.slack.enabled", false)
	v.SetDefault("notifier.slack.token", "")
	v.SetDefault("notifier.slack.channel", "")
	v.SetDefault("notifier.slack.template", "")
	v.SetDefault("notifier.webhook.enabled", false)
	v.SetDefault("notifier.webhook.url", "")
	v.SetDefault("notifier.webhook.user", "")
	v.SetDefault("notifier.webhook.password", "")
	v.SetDefault("notifier.rate_interval", 2*time.Second)
	v.SetDefault("notifier.queue_size", 100)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// LoadConfig reads ./config/config.yaml (optional), .env (optional) and SSLMON_* variables,
// in increasing order of precedence.
func LoadConfig() (*Config, error) {
	return Load("./config")
}

func Load(dir string) (*Config, error) {
	// .env only fills variables that are not already set
	if err := godotenv.Load(); err != nil {
		logrus.Debug("no .env file loaded")
	}

	// 1. File
	v := viper.New()
	v.AddConfigPath(dir)
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// 2. Environment, e.g. SSLMON_SCHEDULER_WORKERS
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		logrus.Info("📄 no config file found, using defaults and environment")
	}

	// 3. Decode (durations parse from "10s" strings)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// 4. Validate
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logrus.Infof("📄 config loaded (storage=%s)", cfg.Storage.Driver)
	return &cfg, nil
}

// Validate rejects settings the service cannot run with.
func (c *Config) Validate() error {
	var errs []error // every problem at once

	// 1. Storage
	switch c.Storage.Driver {
	case "mongo":
		if c.MongoDB.URI == "" {
			errs = append(errs, errors.New("mongodb.uri is required for the mongo driver"))
		}
	case "postgres", "sqlite":
		if c.SQL.DSN == "" {
			errs = append(errs, fmt.Errorf("sql.dsn is required for the %s driver", c.Storage.Driver))
		}
	case "memory":
	default:
		errs = append(errs, fmt.Errorf("unknown storage.driver %q", c.Storage.Driver))
	}

	// 2. Scheduler
	s := c.Scheduler
	if s.Workers < 1 {
		errs = append(errs, errors.New("scheduler.workers must be at least 1"))
	}
	if s.MaxAttempts < 1 {
		errs = append(errs, errors.New("scheduler.max_attempts must be at least 1"))
	}
	if s.CheckInterval <= 0 || s.Tick <= 0 || s.ProbeTimeout <= 0 {
		errs = append(errs, errors.New("scheduler.check_interval, tick and probe_timeout must be positive"))
	}
	if s.BaseDelay <= 0 || s.MaxDelay < s.BaseDelay {
		errs = append(errs, errors.New("scheduler.base_delay must be positive and not above max_delay"))
	}
	if s.ManualCooldown < 0 {
		errs = append(errs, errors.New("scheduler.manual_cooldown must not be negative"))
	}

	// 3. Retention + notifier
	if c.Retention.Days < 1 {
		errs = append(errs, errors.New("retention.days must be at least 1"))
	}
	if c.Notifier.QueueSize < 1 {
		errs = append(errs, errors.New("notifier.queue_size must be at least 1"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
