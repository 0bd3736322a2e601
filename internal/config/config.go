// Package config loads peerd's daemon configuration from a layered source:
// defaults, an optional YAML file, and environment variables, giving every
// timing-sensitive subsystem an explicit knob rather than a hardcoded
// constant.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/infinidb/clusterd/internal/clustertypes"
	"github.com/infinidb/clusterd/internal/wal"
)

// Config is the fully-resolved daemon configuration.
type Config struct {
	NodeName       string `mapstructure:"node_name"`
	Role           string `mapstructure:"role"` // "leader", "follower", "learner"
	PeerServerIP   string `mapstructure:"peer_server_ip"`
	PeerServerPort int64  `mapstructure:"peer_server_port"`

	// LeaderIP/LeaderPort are required when Role is follower/learner.
	LeaderIP   string `mapstructure:"leader_ip"`
	LeaderPort int64  `mapstructure:"leader_port"`

	HeartbeatIntervalMS  int64         `mapstructure:"heartbeat_interval_ms"`
	FollowerCount        uint          `mapstructure:"follower_count"`
	DialTimeout          time.Duration `mapstructure:"dial_timeout"`
	ReconnectMaxAttempts uint          `mapstructure:"reconnect_max_attempts"`
	ReaderInitPhase      string        `mapstructure:"reader_init_phase"` // "phase1", "phase2"
}

// configKeys lists every field Config can be populated from. AutomaticEnv
// alone only affects direct v.Get lookups; Unmarshal only sees keys viper
// already knows about, so each one needs an explicit BindEnv (or a
// default) to be visible to the final decode below.
var configKeys = []string{
	"node_name", "role", "peer_server_ip", "peer_server_port",
	"leader_ip", "leader_port", "heartbeat_interval_ms", "follower_count",
	"dial_timeout", "reconnect_max_attempts", "reader_init_phase",
}

// setDefaults mirrors the package-level defaults clustertypes/env already
// assume, so a config file only needs to override what differs.
func setDefaults(v *viper.Viper) {
	v.SetDefault("peer_server_port", 23851)
	v.SetDefault("heartbeat_interval_ms", clustertypes.DefaultHeartbeatIntervalMS)
	v.SetDefault("follower_count", 0)
	v.SetDefault("dial_timeout", "5s")
	v.SetDefault("reconnect_max_attempts", 5)
	v.SetDefault("reader_init_phase", "phase1")

	for _, key := range configKeys {
		_ = v.BindEnv(key)
	}
}

// Load resolves configuration from (in ascending priority) built-in
// defaults, an optional YAML file at path (skipped if empty or missing),
// and PEERD_-prefixed environment variables.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetEnvPrefix("peerd")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	decodeHook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook)); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.NodeName == "" {
		return nil, fmt.Errorf("node_name is required")
	}
	if cfg.Role != "leader" && cfg.Role != "follower" && cfg.Role != "learner" {
		return nil, fmt.Errorf("role must be one of leader/follower/learner, got %q", cfg.Role)
	}
	if cfg.Role != "leader" && (cfg.LeaderIP == "" || cfg.LeaderPort == 0) {
		return nil, fmt.Errorf("leader_ip and leader_port are required for role %q", cfg.Role)
	}
	if cfg.FollowerCount > clustertypes.MaxFollowerCount {
		return nil, fmt.Errorf("follower_count must be <= %d", clustertypes.MaxFollowerCount)
	}

	return &cfg, nil
}

// ReaderInitPhaseValue converts the configured string into the wal package's
// enum, defaulting to phase 1 on an unrecognized value.
func (c *Config) ReaderInitPhaseValue() wal.ReaderInitPhase {
	if c.ReaderInitPhase == "phase2" {
		return wal.ReaderInitPhase2
	}
	return wal.ReaderInitPhase1
}
