// Package config merges CLI flags with an optional YAML file into the
// proxy's effective configuration, the same two-layer approach
// tunedev-warpgate's internal/config uses, adapted onto the teacher's
// jnovack/flag flag set instead of a bare os.Args parse.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/jnovack/flag"
	"gopkg.in/yaml.v3"
)

// Config is the effective, fully-defaulted configuration for one proxy
// process.
type Config struct {
	ListenAddr      string        `yaml:"listenAddr"`
	Backlog         int           `yaml:"backlog"`
	AdminAddr       string        `yaml:"adminAddr"`
	CacheMaxEntries int           `yaml:"cacheMaxEntries"`
	LogLevel        string        `yaml:"logLevel"`
	ConnectTimeout  time.Duration `yaml:"connectTimeout"`
	Linger          time.Duration `yaml:"linger"`
}

// Defaults matches the spec's literal constants (port 12345, backlog 10).
func Defaults() Config {
	return Config{
		ListenAddr:      ":12345",
		Backlog:         10,
		AdminAddr:       ":9090",
		CacheMaxEntries: 1000,
		LogLevel:        "info",
		ConnectTimeout:  10 * time.Second,
		Linger:          300 * time.Millisecond,
	}
}

// Load parses CLI flags (using args, typically os.Args[1:]), applies an
// optional YAML file named by -config over the defaults, then lets any
// explicitly-set flag override the file — the same precedence
// tunedev-warpgate's config.Load documents implicitly by loading the
// file first and defaulting missing fields afterward.
func Load(args []string) (Config, error) {
	cfg := Defaults()

	fs := flag.NewFlagSet("cacherelay", flag.ContinueOnError)
	configPath := fs.String("config", "", "optional YAML config file")
	listenAddr := fs.String("listen", cfg.ListenAddr, "TCP listen address")
	backlog := fs.Int("backlog", cfg.Backlog, "listen backlog")
	adminAddr := fs.String("admin-addr", cfg.AdminAddr, "admin HTTP listen address")
	cacheMax := fs.Int("cache-max-entries", cfg.CacheMaxEntries, "maximum cache entries before eviction")
	logLevel := fs.String("log-level", cfg.LogLevel, "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Config{}, fmt.Errorf("parse flags: %w", err)
	}

	if *configPath != "" {
		data, err := os.ReadFile(*configPath)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", *configPath, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("unmarshal config %s: %w", *configPath, err)
		}
	}

	setIfChanged(fs, "listen", listenAddr, &cfg.ListenAddr)
	setIfChangedInt(fs, "backlog", backlog, &cfg.Backlog)
	setIfChanged(fs, "admin-addr", adminAddr, &cfg.AdminAddr)
	setIfChangedInt(fs, "cache-max-entries", cacheMax, &cfg.CacheMaxEntries)
	setIfChanged(fs, "log-level", logLevel, &cfg.LogLevel)

	return cfg, nil
}

func setIfChanged(fs *flag.FlagSet, name string, val *string, dst *string) {
	changed := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			changed = true
		}
	})
	if changed || *dst == "" {
		*dst = *val
	}
}

func setIfChangedInt(fs *flag.FlagSet, name string, val *int, dst *int) {
	changed := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			changed = true
		}
	})
	if changed || *dst == 0 {
		*dst = *val
	}
}
