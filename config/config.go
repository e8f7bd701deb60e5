// Package config loads the substrate's configuration with the
// teacher's three-layer priority: explicit struct field (highest),
// then environment variable, then built-in default (lowest).
//
// Grounded on core/config.go's NewConfig layering pattern (described,
// not copied — that struct's own fields are gomind's HTTP-framework
// concerns: ports, CORS, Redis URLs, none of which this module has a
// use for). The file format itself uses the teacher's own
// gopkg.in/yaml.v3 dependency instead of gomind's bespoke env-tag
// reflection walker, since a flat field set this small doesn't need
// one.
package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/repr0bated/substrate/cachestore"
	"github.com/repr0bated/substrate/eventlog"
	"github.com/repr0bated/substrate/patterns"
	"github.com/repr0bated/substrate/pipeline"
	"github.com/repr0bated/substrate/xerrors"
)

// Config is the substrate's top-level configuration (spec §6).
type Config struct {
	BasePath                string                  `yaml:"base_path"`
	SnapshotIntervalSeconds int64                   `yaml:"snapshot_interval_seconds"`
	SnapshotPrefix          string                  `yaml:"snapshot_prefix"`
	Retention               eventlog.RetentionPolicy `yaml:"retention"`
	DefaultTTLSeconds       int64                   `yaml:"default_ttl_seconds"`
	MaxCacheSizeBytes       int64                   `yaml:"max_cache_size_bytes"`
	CacheCompress           bool                    `yaml:"cache_compress"`
	HotWindowSeconds        int64                   `yaml:"hot_window_seconds"`
	PromotionThreshold      int                     `yaml:"promotion_threshold"`
	NumaPinning             bool                    `yaml:"numa_pinning"`
	WorkstackThreshold      int                     `yaml:"workstack_threshold"`
	BootstrapAgents         []string                `yaml:"bootstrap_agents"`
}

// Default returns the substrate's built-in defaults, the bottom layer
// of the three-layer priority.
func Default() Config {
	return Config{
		BasePath:                "./substrate-data",
		SnapshotIntervalSeconds: 3600,
		SnapshotPrefix:          "snapshot",
		Retention:               eventlog.DefaultRetentionPolicy(),
		DefaultTTLSeconds:       cachestore.DefaultConfig().DefaultTTLSeconds,
		MaxCacheSizeBytes:       cachestore.DefaultConfig().MaxSizeBytes,
		CacheCompress:           true,
		HotWindowSeconds:        cachestore.DefaultConfig().HotWindowSeconds,
		PromotionThreshold:      patterns.DefaultConfig().PromotionThreshold,
		NumaPinning:             false,
		WorkstackThreshold:      pipeline.DefaultConfig().WorkstackThreshold,
		BootstrapAgents:         nil,
	}
}

// Load builds a Config by layering, in increasing priority: built-in
// defaults, a YAML file at path (skipped entirely if path is empty or
// the file does not exist; any other read error is returned — a
// missing config file is not an error, matching the
// teacher's "functional options override nothing if not given"
// posture), then environment variables via ApplyEnv.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, xerrors.NewFrameworkError("config.Load", "config", path, err)
			}
		} else if !os.IsNotExist(err) {
			return Config{}, xerrors.NewFrameworkError("config.Load", "config", path, err)
		}
	}

	cfg.ApplyEnv()
	return cfg, nil
}

// envPrefix matches spec §6's "<PREFIX>_STATE_SNAPSHOT_PREFIX"
// environment override convention, generalized to every field.
const envPrefix = "SUBSTRATE_"

// ApplyEnv overrides each field from its SUBSTRATE_<FIELD> environment
// variable when present, the top (highest-priority) layer of the
// three-layer load order.
func (c *Config) ApplyEnv() {
	if v, ok := lookupEnv("BASE_PATH"); ok {
		c.BasePath = v
	}
	if v, ok := lookupEnvInt64("SNAPSHOT_INTERVAL_SECONDS"); ok {
		c.SnapshotIntervalSeconds = v
	}
	if v, ok := lookupEnv("STATE_SNAPSHOT_PREFIX"); ok {
		c.SnapshotPrefix = v
	}
	if v, ok := lookupEnvInt("RETENTION_HOURLY"); ok {
		c.Retention.Hourly = v
	}
	if v, ok := lookupEnvInt("RETENTION_DAILY"); ok {
		c.Retention.Daily = v
	}
	if v, ok := lookupEnvInt("RETENTION_WEEKLY"); ok {
		c.Retention.Weekly = v
	}
	if v, ok := lookupEnvInt("RETENTION_QUARTERLY"); ok {
		c.Retention.Quarterly = v
	}
	if v, ok := lookupEnvInt64("DEFAULT_TTL_SECONDS"); ok {
		c.DefaultTTLSeconds = v
	}
	if v, ok := lookupEnvInt64("MAX_CACHE_SIZE_BYTES"); ok {
		c.MaxCacheSizeBytes = v
	}
	if v, ok := lookupEnvBool("CACHE_COMPRESS"); ok {
		c.CacheCompress = v
	}
	if v, ok := lookupEnvInt64("HOT_WINDOW_SECONDS"); ok {
		c.HotWindowSeconds = v
	}
	if v, ok := lookupEnvInt("PROMOTION_THRESHOLD"); ok {
		c.PromotionThreshold = v
	}
	if v, ok := lookupEnvBool("NUMA_PINNING"); ok {
		c.NumaPinning = v
	}
	if v, ok := lookupEnvInt("WORKSTACK_THRESHOLD"); ok {
		c.WorkstackThreshold = v
	}
	if v, ok := lookupEnv("BOOTSTRAP_AGENTS"); ok {
		c.BootstrapAgents = splitNonEmpty(v, ",")
	}
}

func lookupEnv(field string) (string, bool) {
	v, ok := os.LookupEnv(envPrefix + field)
	return v, ok
}

func lookupEnvInt(field string) (int, bool) {
	v, ok := lookupEnv(field)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupEnvInt64(field string) (int64, bool) {
	v, ok := lookupEnv(field)
	if !ok {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func lookupEnvBool(field string) (bool, bool) {
	v, ok := lookupEnv(field)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CacheConfig derives a cachestore.Config from the loaded settings.
func (c Config) CacheConfig() cachestore.Config {
	return cachestore.Config{
		DefaultTTLSeconds: c.DefaultTTLSeconds,
		MaxSizeBytes:      c.MaxCacheSizeBytes,
		Compress:          c.CacheCompress,
		HotWindowSeconds:  c.HotWindowSeconds,
	}
}

// EventLogConfig derives an eventlog.Config from the loaded settings.
func (c Config) EventLogConfig() eventlog.Config {
	return eventlog.Config{
		BasePath:       c.BasePath,
		SnapshotPrefix: c.SnapshotPrefix,
		Retention:      c.Retention,
	}
}

// PatternsConfig derives a patterns.Config from the loaded settings.
func (c Config) PatternsConfig() patterns.Config {
	cfg := patterns.DefaultConfig()
	cfg.PromotionThreshold = c.PromotionThreshold
	return cfg
}

// PipelineConfig derives a pipeline.Config from the loaded settings.
func (c Config) PipelineConfig() pipeline.Config {
	cfg := pipeline.DefaultConfig()
	cfg.WorkstackThreshold = c.WorkstackThreshold
	cfg.NumaPinning = c.NumaPinning
	return cfg
}
