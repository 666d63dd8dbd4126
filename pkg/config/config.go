// Package config loads a single node's runtime configuration from a YAML
// scenario/node file merged with environment overrides, adapted from the
// teacher's pkg/config/config.go loader. Unlike the teacher, Load never
// writes a package-level AppConfig singleton: every caller receives its
// own *Config value, matching §9's "no process-wide singleton" rule.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"agentworld/internal/worldutil"
)

// ValidatorConfig is one entry of the --node-validator repeatable flag or
// the validators: list of a scenario file.
type ValidatorConfig struct {
	ID    string `mapstructure:"id" json:"id" yaml:"id"`
	Stake uint64 `mapstructure:"stake" json:"stake" yaml:"stake"`
}

// RewardConfig configures the periodic settlement epoch (§4.2, §8).
type RewardConfig struct {
	RuntimeEnable       bool  `mapstructure:"runtime_enable" json:"runtime_enable" yaml:"runtime_enable"`
	EpochDurationSecs   int   `mapstructure:"epoch_duration_secs" json:"epoch_duration_secs" yaml:"epoch_duration_secs"`
	PointsPerCredit     int64 `mapstructure:"points_per_credit" json:"points_per_credit" yaml:"points_per_credit"`
}

// Config is the unified configuration for one agentworldd node, mirroring
// the CLI surface spec.md §6 names.
type Config struct {
	Bind          string            `mapstructure:"bind" json:"bind" yaml:"bind"`
	NodeID        string            `mapstructure:"node_id" json:"node_id" yaml:"node_id"`
	NodeRole      string            `mapstructure:"node_role" json:"node_role" yaml:"node_role"`
	Validators    []ValidatorConfig `mapstructure:"validators" json:"validators" yaml:"validators"`
	GossipPeers   []string          `mapstructure:"gossip_peers" json:"gossip_peers" yaml:"gossip_peers"`
	Reward        RewardConfig      `mapstructure:"reward" json:"reward" yaml:"reward"`
	StateDir      string            `mapstructure:"state_dir" json:"state_dir" yaml:"state_dir"`
	LogLevel      string            `mapstructure:"log_level" json:"log_level" yaml:"log_level"`
	MetricsBind   string            `mapstructure:"metrics_bind" json:"metrics_bind" yaml:"metrics_bind"`
}

// validNodeRoles are the three recognized --node-role values (§6).
var validNodeRoles = map[string]bool{"sequencer": true, "storage": true, "observer": true}

// Load reads a YAML scenario/node file at path (if non-empty) and merges
// environment variable overrides on top, mirroring the teacher's
// viper.ReadInConfig + viper.AutomaticEnv layering. loadEnvFile controls
// whether a .env file in the working directory is also merged, matching
// godotenv's role in the ambient stack.
func Load(path string, loadEnvFile bool) (*Config, error) {
	if loadEnvFile {
		// A missing .env is routine: most nodes configure purely via flags
		// and environment variables, so only a read/parse failure on an
		// existing file is surfaced.
		if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
			return nil, worldutil.Wrap(err, "config: load .env")
		}
	}

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetDefault("bind", "0.0.0.0:7700")
	v.SetDefault("node_role", "observer")
	v.SetDefault("log_level", "info")
	v.SetDefault("state_dir", "./agentworld-state")
	v.SetDefault("reward.points_per_credit", 100)
	v.SetDefault("reward.epoch_duration_secs", 60)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, worldutil.Wrapf(err, "config: read %s", path)
		}
	}

	v.SetEnvPrefix("AGENT_WORLD")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, worldutil.Wrap(err, "config: unmarshal")
	}
	if !validNodeRoles[cfg.NodeRole] {
		return nil, fmt.Errorf("config: node_role must be one of sequencer|storage|observer, got %q", cfg.NodeRole)
	}
	return &cfg, nil
}
