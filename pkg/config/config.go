package config

// Package config provides a reusable loader for sidechannel-node
// configuration files and environment variables. It is versioned so that
// applications can depend on a stable API contract.
//
// Version: v0.2.0

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"sidechannel-node/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.2.0"

// Config represents the unified configuration for a sidechannel-node peer.
// It mirrors the structure of the YAML files under cmd/sidechannel-node/config.
type Config struct {
	Network struct {
		ListenAddr     string   `mapstructure:"listen_addr" json:"listen_addr"`
		DiscoveryTag   string   `mapstructure:"discovery_tag" json:"discovery_tag"`
		BootstrapPeers []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
	} `mapstructure:"network" json:"network"`

	Sidechannel struct {
		EntryChannel            string            `mapstructure:"entry_channel" json:"entry_channel"`
		MaxMessageBytes         int               `mapstructure:"max_message_bytes" json:"max_message_bytes"`
		AllowRemoteOpen         bool              `mapstructure:"allow_remote_open" json:"allow_remote_open"`
		AutoJoinOnOpen          bool              `mapstructure:"auto_join_on_open" json:"auto_join_on_open"`
		RelayEnabled            bool              `mapstructure:"relay_enabled" json:"relay_enabled"`
		RelayTTL                int               `mapstructure:"relay_ttl" json:"relay_ttl"`
		MaxSeen                 int               `mapstructure:"max_seen" json:"max_seen"`
		SeenTTLMs               int64             `mapstructure:"seen_ttl_ms" json:"seen_ttl_ms"`
		RateBytesPerSecond      float64           `mapstructure:"rate_bytes_per_second" json:"rate_bytes_per_second"`
		RateBurstBytes          float64           `mapstructure:"rate_burst_bytes" json:"rate_burst_bytes"`
		MaxStrikes              int               `mapstructure:"max_strikes" json:"max_strikes"`
		StrikeWindowMs          int64             `mapstructure:"strike_window_ms" json:"strike_window_ms"`
		BlockMs                 int64             `mapstructure:"block_ms" json:"block_ms"`
		PowEnabled              bool              `mapstructure:"pow_enabled" json:"pow_enabled"`
		PowDifficulty           int               `mapstructure:"pow_difficulty" json:"pow_difficulty"`
		PowRequireEntry         bool              `mapstructure:"pow_require_entry" json:"pow_require_entry"`
		PowRequiredChannels     []string          `mapstructure:"pow_required_channels" json:"pow_required_channels"`
		InviteRequired          bool              `mapstructure:"invite_required" json:"invite_required"`
		InviteRequiredChannels  []string          `mapstructure:"invite_required_channels" json:"invite_required_channels"`
		InviteRequiredPrefixes  []string          `mapstructure:"invite_required_prefixes" json:"invite_required_prefixes"`
		InviterKeys             []string          `mapstructure:"inviter_keys" json:"inviter_keys"`
		InviteTTLMs             int64             `mapstructure:"invite_ttl_ms" json:"invite_ttl_ms"`
		OwnerWriteOnly          bool              `mapstructure:"owner_write_only" json:"owner_write_only"`
		OwnerWriteChannels      []string          `mapstructure:"owner_write_channels" json:"owner_write_channels"`
		OwnerKeys               map[string]string `mapstructure:"owner_keys" json:"owner_keys"`
		DefaultOwnerKey         string            `mapstructure:"default_owner_key" json:"default_owner_key"`
		WelcomeRequired         bool              `mapstructure:"welcome_required" json:"welcome_required"`
		WelcomeByChannel        map[string]bool   `mapstructure:"welcome_by_channel" json:"welcome_by_channel"`
	} `mapstructure:"sidechannel" json:"sidechannel"`

	Oracle struct {
		PollMs            int64             `mapstructure:"poll_ms" json:"poll_ms"`
		Pairs             []string          `mapstructure:"pairs" json:"pairs"`
		Providers         []string          `mapstructure:"providers" json:"providers"`
		RequiredProviders int               `mapstructure:"required_providers" json:"required_providers"`
		MinOk             int               `mapstructure:"min_ok" json:"min_ok"`
		MinAgree          int               `mapstructure:"min_agree" json:"min_agree"`
		MaxDeviationBps   float64           `mapstructure:"max_deviation_bps" json:"max_deviation_bps"`
		TimeoutMs         int64             `mapstructure:"timeout_ms" json:"timeout_ms"`
		StaticPrices      map[string]float64 `mapstructure:"static_prices" json:"static_prices"`
		StaticCount       int               `mapstructure:"static_count" json:"static_count"`
	} `mapstructure:"oracle" json:"oracle"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	_ = godotenv.Load()

	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/sidechannel-node/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the SCN_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("SCN_ENV", ""))
}

// Defaults returns a Config populated with the fallback values spec.md §6
// defines for options a deployment does not override.
func Defaults() Config {
	var c Config
	c.Sidechannel.EntryChannel = "lobby"
	c.Sidechannel.MaxMessageBytes = 1_000_000
	c.Sidechannel.AllowRemoteOpen = true
	c.Sidechannel.RelayEnabled = true
	c.Sidechannel.RelayTTL = 3
	c.Sidechannel.MaxSeen = 5000
	c.Sidechannel.SeenTTLMs = 120_000
	c.Sidechannel.RateBytesPerSecond = 64_000
	c.Sidechannel.RateBurstBytes = 256_000
	c.Sidechannel.MaxStrikes = 3
	c.Sidechannel.StrikeWindowMs = 5_000
	c.Sidechannel.BlockMs = 30_000
	c.Sidechannel.WelcomeRequired = true
	c.Sidechannel.InviteTTLMs = 24 * 3600 * 1000
	return c
}
