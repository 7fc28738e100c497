package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Server    ServerConfig    `mapstructure:"server"`
	Log       LogConfig       `mapstructure:"log"`
	DB        DBConfig        `mapstructure:"db"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	AgentFeed AgentFeedConfig `mapstructure:"agent_feed"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Reconcile ReconcileConfig `mapstructure:"reconcile"`
	Follow    FollowConfig    `mapstructure:"follow"`
	Cron      CronConfig      `mapstructure:"cron"`
}

type AppConfig struct {
	Env string `mapstructure:"env"`
}

type ServerConfig struct {
	HTTPAddr string `mapstructure:"http_addr"`
}

type LogConfig struct {
	Level             string `mapstructure:"level"`
	Encoding          string `mapstructure:"encoding"`
	Development       bool   `mapstructure:"development"`
	Sampling          bool   `mapstructure:"sampling"`
	DisableCaller     bool   `mapstructure:"disable_caller"`
	DisableStacktrace bool   `mapstructure:"disable_stacktrace"`
}

type DBConfig struct {
	DSN             string        `mapstructure:"dsn"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	Timezone        string        `mapstructure:"timezone"`
}

type BrokerConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	APISecret  string        `mapstructure:"api_secret"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RecvWindow time.Duration `mapstructure:"recv_window"`
}

type AgentFeedConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type StreamConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	URL     string   `mapstructure:"url"`
	Symbols []string `mapstructure:"symbols"`
}

type ReconcileConfig struct {
	PriceTolerance  float64 `mapstructure:"price_tolerance"`
	QuantityEpsilon float64 `mapstructure:"quantity_epsilon"`
}

// FollowConfig holds process-wide defaults applied when a task omits an option.
type FollowConfig struct {
	DefaultPriceTolerance float64 `mapstructure:"default_price_tolerance"`
	DefaultMaxLeverage    int     `mapstructure:"default_max_leverage"`
	QuantityEpsilon       float64 `mapstructure:"quantity_epsilon"`
}

type CronConfig struct {
	Enabled            bool          `mapstructure:"enabled"`
	PortfolioSnapshot  string        `mapstructure:"portfolio_snapshot"`
	ReconcilePrune     string        `mapstructure:"reconcile_prune"`
	ReconcileRetention time.Duration `mapstructure:"reconcile_retention"`
}

func Load(path string, envOnly bool) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("FT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetDefault("app.env", "dev")
	v.SetDefault("server.http_addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.encoding", "console")
	v.SetDefault("log.development", true)
	v.SetDefault("log.sampling", false)
	v.SetDefault("log.disable_caller", false)
	v.SetDefault("log.disable_stacktrace", false)
	v.SetDefault("db.max_open_conns", 20)
	v.SetDefault("db.max_idle_conns", 5)
	v.SetDefault("db.conn_max_lifetime", "30m")
	v.SetDefault("db.conn_max_idle_time", "5m")
	v.SetDefault("db.timezone", "UTC")
	v.SetDefault("broker.base_url", "https://fapi.binance.com")
	v.SetDefault("broker.timeout", "15s")
	v.SetDefault("broker.recv_window", "5s")
	v.SetDefault("agent_feed.base_url", "")
	v.SetDefault("agent_feed.timeout", "15s")
	v.SetDefault("stream.enabled", false)
	v.SetDefault("stream.url", "wss://fstream.binance.com/ws")
	v.SetDefault("reconcile.price_tolerance", 0.05)
	v.SetDefault("reconcile.quantity_epsilon", 0.05)
	v.SetDefault("follow.default_price_tolerance", 0.01)
	v.SetDefault("follow.default_max_leverage", 20)
	v.SetDefault("follow.quantity_epsilon", 0.001)
	v.SetDefault("cron.enabled", true)
	v.SetDefault("cron.portfolio_snapshot", "@every 1h")
	v.SetDefault("cron.reconcile_prune", "@every 6h")
	v.SetDefault("cron.reconcile_retention", "720h")

	if !envOnly {
		if err := v.ReadInConfig(); err != nil {
			return Config{}, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	return cfg, nil
}
