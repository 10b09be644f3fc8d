package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Nera26/pokerhub-sub001/holdem"
	"github.com/spf13/viper"
)

const (
	envPrefix          = "POKERHUB"
	defaultHTTPAddress = "0.0.0.0:8080"
	defaultLogLevel    = "info"
	minDeckSecret      = 16
)

// legacyEnv maps keys to the bare environment names older deployments set.
var legacyEnv = map[string]string{
	"gateway.queue_limit":           "GATEWAY_QUEUE_LIMIT",
	"gateway.queue_alert_threshold": "WS_OUTBOUND_QUEUE_ALERT_THRESHOLD",
	"gateway.global_limit":          "GATEWAY_GLOBAL_LIMIT",
	"gateway.socket_limit":          "GATEWAY_SOCKET_LIMIT",
	"timer.action_timeout_ms":       "ACTION_TIMEOUT_MS",
}

type AppConfig struct {
	HTTPAddress string
	LogLevel    string

	CoordDriver   string
	CoordRedisURL string
	CoordBoltPath string

	StorageDriver      string
	StorageSQLitePath  string
	StoragePostgresDSN string

	QueueLimit          int
	QueueAlertThreshold int
	SocketLimit         int
	GlobalLimit         int
	RateWindow          time.Duration

	ActionTimeout time.Duration
	TickInterval  time.Duration
	DefaultAction holdem.ActionType

	SnapshotInterval time.Duration

	Followers       bool
	RecoveryTimeout time.Duration
	DeckSecret      string
	DevMode         bool

	SigningSecret string
	OTelEndpoint  string
}

func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	for key, legacy := range legacyEnv {
		prefixed := envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		_ = configViper.BindEnv(key, prefixed, legacy)
	}

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("coord.driver", "memory")
	configViper.SetDefault("coord.bolt_path", "pokerhub-coord.db")
	configViper.SetDefault("storage.driver", "memory")
	configViper.SetDefault("storage.sqlite_path", "pokerhub.db")
	configViper.SetDefault("gateway.queue_limit", 100)
	configViper.SetDefault("gateway.queue_alert_threshold", 80)
	configViper.SetDefault("gateway.socket_limit", 30)
	configViper.SetDefault("gateway.global_limit", 10000)
	configViper.SetDefault("gateway.rate_window", "10s")
	configViper.SetDefault("timer.action_timeout", "30s")
	configViper.SetDefault("timer.tick_interval", "1s")
	configViper.SetDefault("timer.default_action", string(holdem.ActionFold))
	configViper.SetDefault("snapshot.interval", "5s")
	configViper.SetDefault("room.followers", true)
	configViper.SetDefault("room.recovery_timeout", "5s")
	configViper.SetDefault("room.dev_mode", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:         configViper.GetString("http.address"),
		LogLevel:            configViper.GetString("log.level"),
		CoordDriver:         strings.ToLower(configViper.GetString("coord.driver")),
		CoordRedisURL:       configViper.GetString("coord.redis_url"),
		CoordBoltPath:       configViper.GetString("coord.bolt_path"),
		StorageDriver:       strings.ToLower(configViper.GetString("storage.driver")),
		StorageSQLitePath:   configViper.GetString("storage.sqlite_path"),
		StoragePostgresDSN:  configViper.GetString("storage.postgres_dsn"),
		QueueLimit:          configViper.GetInt("gateway.queue_limit"),
		QueueAlertThreshold: configViper.GetInt("gateway.queue_alert_threshold"),
		SocketLimit:         configViper.GetInt("gateway.socket_limit"),
		GlobalLimit:         configViper.GetInt("gateway.global_limit"),
		RateWindow:          configViper.GetDuration("gateway.rate_window"),
		ActionTimeout:       configViper.GetDuration("timer.action_timeout"),
		TickInterval:        configViper.GetDuration("timer.tick_interval"),
		DefaultAction:       holdem.ActionType(configViper.GetString("timer.default_action")),
		SnapshotInterval:    configViper.GetDuration("snapshot.interval"),
		Followers:           configViper.GetBool("room.followers"),
		RecoveryTimeout:     configViper.GetDuration("room.recovery_timeout"),
		DeckSecret:          configViper.GetString("room.deck_secret"),
		DevMode:             configViper.GetBool("room.dev_mode"),
		SigningSecret:       configViper.GetString("auth.signing_secret"),
		OTelEndpoint:        configViper.GetString("otel.endpoint"),
	}
	if ms := configViper.GetInt64("timer.action_timeout_ms"); ms > 0 {
		cfg.ActionTimeout = time.Duration(ms) * time.Millisecond
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

func (c AppConfig) validate() error {
	switch c.CoordDriver {
	case "memory", "bolt":
	case "redis":
		if strings.TrimSpace(c.CoordRedisURL) == "" {
			return fmt.Errorf("coord.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("coord.driver %q is not supported", c.CoordDriver)
	}
	switch c.StorageDriver {
	case "memory", "sqlite":
	case "postgres":
		if strings.TrimSpace(c.StoragePostgresDSN) == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.StorageDriver)
	}
	if c.QueueLimit <= 0 {
		return fmt.Errorf("gateway.queue_limit must be positive")
	}
	if c.QueueAlertThreshold < 0 || c.QueueAlertThreshold > c.QueueLimit {
		return fmt.Errorf("gateway.queue_alert_threshold must be between 0 and gateway.queue_limit")
	}
	if c.SocketLimit < 0 || c.GlobalLimit < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.RateWindow <= 0 {
		return fmt.Errorf("gateway.rate_window must be positive")
	}
	if c.ActionTimeout < 0 {
		return fmt.Errorf("timer.action_timeout must not be negative")
	}
	switch c.DefaultAction {
	case holdem.ActionFold, holdem.ActionCheck, holdem.ActionCall:
	default:
		return fmt.Errorf("timer.default_action must be fold, check or call, got %q", c.DefaultAction)
	}
	if c.RecoveryTimeout <= 0 {
		return fmt.Errorf("room.recovery_timeout must be positive")
	}
	switch n := len(c.DeckSecret); {
	case n > holdem.MaxDeckSecret:
		return fmt.Errorf("room.deck_secret must be at most %d bytes", holdem.MaxDeckSecret)
	case n < minDeckSecret && !c.DevMode:
		return fmt.Errorf("room.deck_secret of at least %d bytes is required unless room.dev_mode is set", minDeckSecret)
	}
	return nil
}
