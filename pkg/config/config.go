// Package config provides environment-driven configuration for the
// orchestrator. Each concern (store, pipeline, queue, index, cache, models)
// has its own record with typed defaults; LoadFromEnv overrides defaults
// from the process environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates all component configurations.
type Config struct {
	Store     StoreConfig
	Pipeline  PipelineConfig
	Queue     QueueConfig
	Index     IndexConfig
	Cache     CacheConfig
	Models    ModelsConfig
	Provider  ProviderConfig
	Tools     ToolsConfig
	Retention RetentionConfig
}

// LoadFromEnv builds a Config from defaults overridden by environment
// variables. It never fails on missing variables — only on unparseable ones.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Store:     DefaultStoreConfig(),
		Pipeline:  DefaultPipelineConfig(),
		Queue:     DefaultQueueConfig(),
		Index:     DefaultIndexConfig(),
		Cache:     DefaultCacheConfig(),
		Models:    DefaultModelsConfig(),
		Provider:  DefaultProviderConfig(),
		Tools:     DefaultToolsConfig(),
		Retention: DefaultRetentionConfig(),
	}

	if err := cfg.Store.loadEnv(); err != nil {
		return nil, fmt.Errorf("store config: %w", err)
	}
	if err := cfg.Pipeline.loadEnv(); err != nil {
		return nil, fmt.Errorf("pipeline config: %w", err)
	}
	if err := cfg.Queue.loadEnv(); err != nil {
		return nil, fmt.Errorf("queue config: %w", err)
	}
	if err := cfg.Index.loadEnv(); err != nil {
		return nil, fmt.Errorf("index config: %w", err)
	}
	if err := cfg.Cache.loadEnv(); err != nil {
		return nil, fmt.Errorf("cache config: %w", err)
	}
	cfg.Models.loadEnv()
	cfg.Provider.loadEnv()
	if err := cfg.Tools.loadEnv(); err != nil {
		return nil, fmt.Errorf("tools config: %w", err)
	}
	if err := cfg.Retention.loadEnv(); err != nil {
		return nil, fmt.Errorf("retention config: %w", err)
	}

	return cfg, nil
}

// --- env helpers ---

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes"
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// envList parses a comma-separated list, trimming whitespace and dropping
// empty elements.
func envList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	return out
}
