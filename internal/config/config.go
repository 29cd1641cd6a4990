// Package config loads the engine's YAML configuration, substituting
// ${VAR} / ${VAR:-default} environment references before unmarshalling.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for a semsql process.
type Config struct {
	Cache    CacheConfig    `json:"cache" yaml:"cache"`
	Prewarm  PrewarmConfig  `json:"prewarm" yaml:"prewarm"`
	Tracker  TrackerConfig  `json:"tracker" yaml:"tracker"`
	Registry RegistryConfig `json:"registry" yaml:"registry"`
}

// CacheConfig controls the two-tier cache (C10).
type CacheConfig struct {
	L1MaxSize       int           `json:"l1_max_size" yaml:"l1_max_size"`
	L1EvictFraction float64       `json:"l1_evict_fraction" yaml:"l1_evict_fraction"`
	DefaultTTL      time.Duration `json:"default_ttl" yaml:"default_ttl"`
	PruneInterval   time.Duration `json:"prune_interval" yaml:"prune_interval"`
	L2Backend       string        `json:"l2_backend" yaml:"l2_backend"` // "clickhouse" | "sqlite" | "none"
	ClickHouseDSN   string        `json:"clickhouse_dsn" yaml:"clickhouse_dsn"`
	SQLitePath      string        `json:"sqlite_path" yaml:"sqlite_path"`
}

// PrewarmConfig controls the prewarm analyzer/sidecar (C12/C13).
type PrewarmConfig struct {
	DefaultWorkers     int `json:"default_workers" yaml:"default_workers"`
	DistinctQueryLimit int `json:"distinct_query_limit" yaml:"distinct_query_limit"`
	MinDistinct        int `json:"min_distinct" yaml:"min_distinct"`
	MaxDistinct        int `json:"max_distinct" yaml:"max_distinct"`
}

// TrackerConfig controls the query lifecycle tracker (C14).
type TrackerConfig struct {
	Backend       string        `json:"backend" yaml:"backend"` // "clickhouse" | "memory"
	ClickHouseDSN string        `json:"clickhouse_dsn" yaml:"clickhouse_dsn"`
	OrphanAfter   time.Duration `json:"orphan_after" yaml:"orphan_after"`
}

// RegistryConfig names cascade source directories, scanned in priority
// order: a later directory's function name overrides an earlier one's.
type RegistryConfig struct {
	CascadeDirs []string `json:"cascade_dirs" yaml:"cascade_dirs"`
	TraitsDir   string   `json:"traits_dir" yaml:"traits_dir"`
}

// Default returns a Config with the same defaults the original source hard-codes.
func Default() Config {
	return Config{
		Cache: CacheConfig{
			L1MaxSize:       10000,
			L1EvictFraction: 0.10,
			DefaultTTL:      0,
			PruneInterval:   10 * time.Minute,
			L2Backend:       "sqlite",
			SQLitePath:      "semsql_cache.db",
		},
		Prewarm: PrewarmConfig{
			DefaultWorkers:     5,
			DistinctQueryLimit: 500,
			MinDistinct:        10,
			MaxDistinct:        500,
		},
		Tracker: TrackerConfig{
			Backend:     "memory",
			OrphanAfter: 30 * time.Minute,
		},
	}
}

// Load reads a YAML (falling back to JSON) config file at path, applying
// environment substitution first, and overlays it onto Default().
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	content := SubstituteEnvVars(string(data))

	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		if jerr := json.Unmarshal([]byte(content), &cfg); jerr != nil {
			return cfg, fmt.Errorf("decode config file (tried YAML and JSON): %w", err)
		}
	}
	return cfg, nil
}

var envRegex = regexp.MustCompile(`\${(\w+)(?::-([^}]*))?}`)

// SubstituteEnvVars replaces ${VAR} and ${VAR:-default} references with the
// environment value, or the default when VAR is unset.
func SubstituteEnvVars(input string) string {
	return envRegex.ReplaceAllStringFunc(input, func(m string) string {
		matches := envRegex.FindStringSubmatch(m)
		if len(matches) < 2 {
			return m
		}
		envVar := matches[1]
		if val, ok := os.LookupEnv(envVar); ok {
			return val
		}
		if len(matches) > 2 && strings.Contains(m, ":-") {
			return matches[2]
		}
		return m
	})
}
