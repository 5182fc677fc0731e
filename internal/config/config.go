package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Config holds all configuration for the sync engine
type Config struct {
	// Server
	Port        string `mapstructure:"port"`
	Environment string `mapstructure:"environment"`

	// Database
	DatabaseURL string `mapstructure:"database_url" validate:"required"`

	// GCP project for gcp-secret:// credential references
	GCPProjectID string `mapstructure:"gcp_project_id"`

	// Logging
	LogLevel  string `mapstructure:"log_level" validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json console"`

	// Sync engine tuning
	Sync SyncConfig `mapstructure:"sync"`

	// Per-marketplace credentials and endpoints
	AuctionHouse AuctionHouseConfig `mapstructure:"auction_house"`
	GearExchange GearExchangeConfig `mapstructure:"gear_exchange"`
	WebStore     WebStoreConfig     `mapstructure:"web_store"`
	VintageMart  VintageMartConfig  `mapstructure:"vintage_mart"`
}

// SyncConfig tunes the detection, reconciliation and dispatch phases
type SyncConfig struct {
	// DefaultPriceAuthority decides which side wins a price drift:
	// canonical restores the local price outward, last_writer_wins adopts
	// the remote price, per_platform trusts one named marketplace
	DefaultPriceAuthority string `mapstructure:"default_price_authority" validate:"oneof=canonical last_writer_wins per_platform"`

	// PriceAuthorityPlatform names the trusted marketplace when the policy
	// is per_platform
	PriceAuthorityPlatform string `mapstructure:"price_authority_platform"`

	DetectionConcurrency int `mapstructure:"detection_concurrency" validate:"gte=1"`
	DispatchConcurrency  int `mapstructure:"dispatch_concurrency" validate:"gte=1"`

	PerCallTimeoutSeconds      int `mapstructure:"per_call_timeout_seconds" validate:"gte=1"`
	PerDetectionTimeoutSeconds int `mapstructure:"per_detection_timeout_seconds" validate:"gte=1"`
	RunTimeoutSeconds          int `mapstructure:"run_timeout_seconds" validate:"gte=1"`

	// PriceMatchEpsilon is the absolute GBP difference below which two
	// prices are considered equal
	PriceMatchEpsilon float64 `mapstructure:"price_match_epsilon" validate:"gte=0"`

	// MatcherConfidenceThreshold is the minimum score (0-100) at which a
	// rogue listing is auto-linked to a product
	MatcherConfidenceThreshold int `mapstructure:"matcher_confidence_threshold" validate:"gte=0,lte=100"`
}

// AuctionHouseConfig configures the auction marketplace adapter
type AuctionHouseConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	APIURL      string `mapstructure:"api_url"`
	AppID       string `mapstructure:"app_id"`
	CertID      string `mapstructure:"cert_id"`
	DevID       string `mapstructure:"dev_id"`
	AuthToken   string `mapstructure:"auth_token"`
	SiteID      string `mapstructure:"site_id"`
	RateLimitPS int    `mapstructure:"rate_limit_per_second"`
}

// GearExchangeConfig configures the gear marketplace adapter
type GearExchangeConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	APIURL   string `mapstructure:"api_url"`
	APIToken string `mapstructure:"api_token"`
	ShopSlug string `mapstructure:"shop_slug"`
}

// WebStoreConfig configures the storefront adapter
type WebStoreConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	GraphQLURL string `mapstructure:"graphql_url"`
	AdminToken string `mapstructure:"admin_token"`
}

// VintageMartConfig configures the form-post marketplace adapter
type VintageMartConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	BaseURL       string `mapstructure:"base_url"`
	Username      string `mapstructure:"username"`
	Password      string `mapstructure:"password"`
	SessionCookie string `mapstructure:"session_cookie"`
	// UseBrowser switches the adapter to headless-browser mode for pages
	// that render listings client-side
	UseBrowser bool `mapstructure:"use_browser"`
}

// Load reads configuration from the optional config file and GEARSYNC_*
// environment variables, applies defaults and validates the result
func Load(configFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "8099")
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "console")

	v.SetDefault("sync.default_price_authority", "canonical")
	v.SetDefault("sync.detection_concurrency", 4)
	v.SetDefault("sync.dispatch_concurrency", 8)
	v.SetDefault("sync.per_call_timeout_seconds", 60)
	v.SetDefault("sync.per_detection_timeout_seconds", 900)
	v.SetDefault("sync.run_timeout_seconds", 3600)
	v.SetDefault("sync.price_match_epsilon", 0.01)
	v.SetDefault("sync.matcher_confidence_threshold", 50)

	v.SetDefault("auction_house.rate_limit_per_second", 5)
	v.SetDefault("auction_house.site_id", "3")

	v.SetEnvPrefix("GEARSYNC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	} else {
		v.SetConfigName("gearsync")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/gearsync")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// EnabledPlatforms returns the tags of every marketplace switched on in
// configuration
func (c *Config) EnabledPlatforms() []string {
	var tags []string
	if c.AuctionHouse.Enabled {
		tags = append(tags, "AUCTION_HOUSE")
	}
	if c.GearExchange.Enabled {
		tags = append(tags, "GEAR_EXCHANGE")
	}
	if c.WebStore.Enabled {
		tags = append(tags, "WEB_STORE")
	}
	if c.VintageMart.Enabled {
		tags = append(tags, "VINTAGE_MART")
	}
	return tags
}
