package config

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxConcurrentTasks:  10,
			WorkerPoolSize:      4,
			DefaultMaxRetries:   3,
			DefaultRetryDelayMS: 1000,
			DefaultTimeoutMS:    0,
		},
		Research: ResearchConfig{
			MaxConcurrentResearch: 2,
			DefaultMode:           "linear",
			SectionCount:          3,
			Depth:                 2,
			SubAgents:             3,
			SearchResults:         5,
		},
		Provider: ProviderConfig{
			APIKeyEnv:    "OPENAI_API_KEY",
			SearchKeyEnv: "SEARCH_API_KEY",
		},
	}
}
