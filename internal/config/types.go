package config

// SchedulerConfig tunes the task manager.
type SchedulerConfig struct {
	MaxConcurrentTasks  int `json:"max_concurrent_tasks"`   // Concurrency ceiling across all executors
	WorkerPoolSize      int `json:"worker_pool_size"`       // Workers for the pooled executor
	DefaultMaxRetries   int `json:"default_max_retries"`    // Retries for tasks that don't set their own
	DefaultRetryDelayMS int `json:"default_retry_delay_ms"` // Base retry delay, doubled per attempt
	DefaultTimeoutMS    int `json:"default_timeout_ms"`     // Per-attempt timeout, 0 means none
}

// ResearchConfig tunes research workflows.
type ResearchConfig struct {
	MaxConcurrentResearch int    `json:"max_concurrent_research"` // Research-specific ceiling, on top of the scheduler's
	DefaultMode           string `json:"default_mode"`            // "linear", "graph", or "multi_agent"
	SectionCount          int    `json:"section_count"`           // Report sections for the linear workflow
	Depth                 int    `json:"depth"`                   // Deepening rounds for the graph workflow
	SubAgents             int    `json:"sub_agents"`              // Concurrent sub-researchers for multi-agent
	SearchResults         int    `json:"search_results"`          // Results requested per search call
}

// ProviderConfig defines the external model and search services.
type ProviderConfig struct {
	APIKeyEnv      string `json:"api_key_env"`               // Environment variable holding the LLM API key
	Model          string `json:"model,omitempty"`           // Model override
	BaseURL        string `json:"base_url,omitempty"`        // OpenAI-compatible endpoint override
	SearchEndpoint string `json:"search_endpoint,omitempty"` // Search API endpoint
	SearchKeyEnv   string `json:"search_key_env,omitempty"`  // Environment variable holding the search API key
}

// Config is the top-level configuration.
type Config struct {
	Scheduler    SchedulerConfig `json:"scheduler"`
	Research     ResearchConfig  `json:"research"`
	Provider     ProviderConfig  `json:"provider"`
	NATSURL      string          `json:"nats_url,omitempty"`      // Empty disables event forwarding
	SnapshotPath string          `json:"snapshot_path,omitempty"` // Empty disables snapshot persistence
}
