// Package config loads layered JSON configuration: defaults, then the global
// file, then the project file, each overriding the last.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.deepscout/config.json
// Project: .deepscout/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, ".deepscout", "config.json")
	projectPath := filepath.Join(".deepscout", "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges its non-zero fields
// into the base config. Missing files are silently skipped; malformed JSON
// returns an error.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	mergeScheduler(&base.Scheduler, loaded.Scheduler)
	mergeResearch(&base.Research, loaded.Research)
	mergeProvider(&base.Provider, loaded.Provider)
	if loaded.NATSURL != "" {
		base.NATSURL = loaded.NATSURL
	}
	if loaded.SnapshotPath != "" {
		base.SnapshotPath = loaded.SnapshotPath
	}

	return nil
}

func mergeScheduler(base *SchedulerConfig, in SchedulerConfig) {
	if in.MaxConcurrentTasks > 0 {
		base.MaxConcurrentTasks = in.MaxConcurrentTasks
	}
	if in.WorkerPoolSize > 0 {
		base.WorkerPoolSize = in.WorkerPoolSize
	}
	if in.DefaultMaxRetries != 0 {
		base.DefaultMaxRetries = in.DefaultMaxRetries
	}
	if in.DefaultRetryDelayMS > 0 {
		base.DefaultRetryDelayMS = in.DefaultRetryDelayMS
	}
	if in.DefaultTimeoutMS > 0 {
		base.DefaultTimeoutMS = in.DefaultTimeoutMS
	}
}

func mergeResearch(base *ResearchConfig, in ResearchConfig) {
	if in.MaxConcurrentResearch > 0 {
		base.MaxConcurrentResearch = in.MaxConcurrentResearch
	}
	if in.DefaultMode != "" {
		base.DefaultMode = in.DefaultMode
	}
	if in.SectionCount > 0 {
		base.SectionCount = in.SectionCount
	}
	if in.Depth > 0 {
		base.Depth = in.Depth
	}
	if in.SubAgents > 0 {
		base.SubAgents = in.SubAgents
	}
	if in.SearchResults > 0 {
		base.SearchResults = in.SearchResults
	}
}

func mergeProvider(base *ProviderConfig, in ProviderConfig) {
	if in.APIKeyEnv != "" {
		base.APIKeyEnv = in.APIKeyEnv
	}
	if in.Model != "" {
		base.Model = in.Model
	}
	if in.BaseURL != "" {
		base.BaseURL = in.BaseURL
	}
	if in.SearchEndpoint != "" {
		base.SearchEndpoint = in.SearchEndpoint
	}
	if in.SearchKeyEnv != "" {
		base.SearchKeyEnv = in.SearchKeyEnv
	}
}

// RetryDelay converts the configured millisecond delay into a duration.
func (c SchedulerConfig) RetryDelay() time.Duration {
	return time.Duration(c.DefaultRetryDelayMS) * time.Millisecond
}

// Timeout converts the configured millisecond timeout into a duration.
func (c SchedulerConfig) Timeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMS) * time.Millisecond
}
