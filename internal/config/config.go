// Package config loads kasdex's runtime configuration from CLI flags,
// environment variables and an optional file, following the precedence
// chain and viper wiring conventions the project has used since its first
// daemon (flags > env KASDEX_* > config file > defaults).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the resolved set of options the pipeline and CLI read from.
// Field names track the CLI surface in spec.md §6.
type Config struct {
	RPCURL           string
	Network          string
	DatabaseURL      string
	BatchScale       float64
	CacheTTL         time.Duration
	IgnoreCheckpoint string // "p", "v", or a hash
	UpgradeDB        bool
	InitializeDB     bool
	Disable          []string
	ExcludeFields    []string
	FilterConfig     string
	HTTPListen       string
	EnableSeqCom     bool
	VCPWaitForSync   bool
	LogPath          string
}

var v *viper.Viper

// Initialize sets up the viper singleton and binds the given flag set.
// Must be called once at process startup before Load.
func Initialize(flags *pflag.FlagSet) error {
	v = viper.New()
	v.SetConfigType("yaml")

	if path := os.Getenv("KASDEX_CONFIG"); path != "" {
		v.SetConfigFile(path)
	} else if cwd, err := os.Getwd(); err == nil {
		candidate := filepath.Join(cwd, "kasdex.yaml")
		if _, statErr := os.Stat(candidate); statErr == nil {
			v.SetConfigFile(candidate)
		}
	}

	v.SetEnvPrefix("KASDEX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("rpc-url", "127.0.0.1:17110")
	v.SetDefault("network", "mainnet")
	v.SetDefault("database-url", "")
	v.SetDefault("batch-scale", 1.0)
	v.SetDefault("cache-ttl", "60s")
	v.SetDefault("ignore-checkpoint", "")
	v.SetDefault("upgrade-db", false)
	v.SetDefault("initialize-db", false)
	v.SetDefault("disable", []string{})
	v.SetDefault("exclude-fields", []string{})
	v.SetDefault("filter-config", "filter-config.yaml")
	v.SetDefault("http-listen", "0.0.0.0:8090")
	v.SetDefault("enable-seqcom", false)
	v.SetDefault("vcp-wait-for-sync", true)
	v.SetDefault("log-path", "kasdex.log")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return fmt.Errorf("bind flags: %w", err)
		}
	}

	if v.ConfigFileUsed() != "" {
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("read config file %s: %w", v.ConfigFileUsed(), err)
		}
	}

	return nil
}

// Load resolves a Config from whatever Initialize bound. Validates the
// batch-scale range and the database-url requirement per spec §6.
func Load() (*Config, error) {
	if v == nil {
		return nil, fmt.Errorf("config: Initialize was not called")
	}

	cfg := &Config{
		RPCURL:           v.GetString("rpc-url"),
		Network:          v.GetString("network"),
		DatabaseURL:      v.GetString("database-url"),
		BatchScale:       v.GetFloat64("batch-scale"),
		CacheTTL:         v.GetDuration("cache-ttl"),
		IgnoreCheckpoint: v.GetString("ignore-checkpoint"),
		UpgradeDB:        v.GetBool("upgrade-db"),
		InitializeDB:     v.GetBool("initialize-db"),
		Disable:          v.GetStringSlice("disable"),
		ExcludeFields:    v.GetStringSlice("exclude-fields"),
		FilterConfig:     v.GetString("filter-config"),
		HTTPListen:       v.GetString("http-listen"),
		EnableSeqCom:     v.GetBool("enable-seqcom"),
		VCPWaitForSync:   v.GetBool("vcp-wait-for-sync"),
		LogPath:          v.GetString("log-path"),
	}

	if cfg.BatchScale < 0.1 || cfg.BatchScale > 10 {
		return nil, fmt.Errorf("batch-scale must be in [0.1, 10], got %v", cfg.BatchScale)
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database-url is required")
	}

	return cfg, nil
}

// Disabled reports whether a named feature ("vcp", "transaction_processing",
// or a table name) appears in the --disable list.
func (c *Config) Disabled(name string) bool {
	for _, d := range c.Disable {
		if strings.EqualFold(d, name) {
			return true
		}
	}
	return false
}

// FieldExcluded reports whether a named optional Block field was excluded
// via --exclude-fields.
func (c *Config) FieldExcluded(name string) bool {
	for _, f := range c.ExcludeFields {
		if strings.EqualFold(f, name) {
			return true
		}
	}
	return false
}
