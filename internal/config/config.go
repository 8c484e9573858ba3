package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store       StoreConfig       `yaml:"store" mapstructure:"store"`
	Waterfall   WaterfallConfig   `yaml:"waterfall" mapstructure:"waterfall"`
	Apollo      ProviderAPIConfig `yaml:"apollo" mapstructure:"apollo"`
	Hunter      ProviderAPIConfig `yaml:"hunter" mapstructure:"hunter"`
	Prospeo     ProviderAPIConfig `yaml:"prospeo" mapstructure:"prospeo"`
	Clearbit    ProviderAPIConfig `yaml:"clearbit" mapstructure:"clearbit"`
	NeverBounce ProviderAPIConfig `yaml:"neverbounce" mapstructure:"neverbounce"`
	Proxies     ProxyConfig       `yaml:"proxies" mapstructure:"proxies"`
	Verify      VerifyConfig      `yaml:"verify" mapstructure:"verify"`
	Salesforce  SalesforceConfig  `yaml:"salesforce" mapstructure:"salesforce"`
	Batch       BatchConfig       `yaml:"batch" mapstructure:"batch"`
	Server      ServerConfig      `yaml:"server" mapstructure:"server"`
	Monitoring  MonitoringConfig  `yaml:"monitoring" mapstructure:"monitoring"`
	Log         LogConfig         `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// WaterfallConfig points at the tier definition file and holds global knobs.
type WaterfallConfig struct {
	ConfigPath          string  `yaml:"config_path" mapstructure:"config_path"`
	CacheFreshThreshold float64 `yaml:"cache_fresh_threshold" mapstructure:"cache_fresh_threshold"`
	CacheTTLHours       int     `yaml:"cache_ttl_hours" mapstructure:"cache_ttl_hours"`
	VolumeWindowMins    int     `yaml:"volume_window_mins" mapstructure:"volume_window_mins"`
}

// ProviderAPIConfig holds credentials and endpoint settings for one provider.
type ProviderAPIConfig struct {
	Key         string  `yaml:"key" mapstructure:"key"`
	BaseURL     string  `yaml:"base_url" mapstructure:"base_url"`
	TimeoutSecs int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RatePerSec  float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec"`
}

// ProxyConfig holds the rotation pool for identity escalation.
type ProxyConfig struct {
	Endpoints  []string `yaml:"endpoints" mapstructure:"endpoints"`
	UserAgents []string `yaml:"user_agents" mapstructure:"user_agents"`
}

// VerifyConfig configures the asynchronous verification worker.
type VerifyConfig struct {
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
	LeaseSecs        int `yaml:"lease_secs" mapstructure:"lease_secs"`
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
}

// SalesforceConfig holds Salesforce JWT auth settings for CRM export.
type SalesforceConfig struct {
	Domain         string `yaml:"domain" mapstructure:"domain"`
	ConsumerKey    string `yaml:"consumer_key" mapstructure:"consumer_key"`
	ConsumerSecret string `yaml:"consumer_secret" mapstructure:"consumer_secret"`
}

// BatchConfig configures batch enrichment.
type BatchConfig struct {
	MaxConcurrentLeads int `yaml:"max_concurrent_leads" mapstructure:"max_concurrent_leads"`
}

// ServerConfig configures the webhook server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// MonitoringConfig configures the background health checker and alerting.
type MonitoringConfig struct {
	CheckIntervalSecs    int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	SpendThresholdUSD    float64 `yaml:"spend_threshold_usd" mapstructure:"spend_threshold_usd"`
	QueueDepthThreshold  int     `yaml:"queue_depth_threshold" mapstructure:"queue_depth_threshold"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("ENRICH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "enrich.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("batch.max_concurrent_leads", 8)
	v.SetDefault("waterfall.config_path", "waterfall.yaml")
	v.SetDefault("waterfall.cache_fresh_threshold", 0.85)
	v.SetDefault("waterfall.cache_ttl_hours", 720)
	v.SetDefault("waterfall.volume_window_mins", 60)
	v.SetDefault("apollo.base_url", "https://api.apollo.io/api/v1")
	v.SetDefault("apollo.timeout_secs", 20)
	v.SetDefault("apollo.rate_per_sec", 2)
	v.SetDefault("hunter.base_url", "https://api.hunter.io/v2")
	v.SetDefault("hunter.timeout_secs", 20)
	v.SetDefault("hunter.rate_per_sec", 2)
	v.SetDefault("prospeo.base_url", "https://api.prospeo.io")
	v.SetDefault("prospeo.timeout_secs", 20)
	v.SetDefault("prospeo.rate_per_sec", 2)
	v.SetDefault("clearbit.base_url", "https://person.clearbit.com/v2")
	v.SetDefault("clearbit.timeout_secs", 30)
	v.SetDefault("clearbit.rate_per_sec", 1)
	v.SetDefault("neverbounce.base_url", "https://api.neverbounce.com/v4")
	v.SetDefault("neverbounce.timeout_secs", 45)
	v.SetDefault("neverbounce.rate_per_sec", 1)
	v.SetDefault("verify.poll_interval_secs", 15)
	v.SetDefault("verify.batch_size", 25)
	v.SetDefault("verify.lease_secs", 120)
	v.SetDefault("verify.max_attempts", 5)
	v.SetDefault("salesforce.domain", "https://login.salesforce.com")
	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.queue_depth_threshold", 1000)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
