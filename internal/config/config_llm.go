package config

// LLMConfig configures model-to-provider routing and each provider's
// credentials, mirroring llmadapter.Router's wiring.
type LLMConfig struct {
	// Routes maps a model_id (e.g. "claude-sonnet-4-6") to a provider name.
	Routes map[string]string `yaml:"routes"`
	// Fallback names the provider used when a model_id has no route.
	Fallback string `yaml:"fallback"`

	Providers map[string]LLMProviderConfig `yaml:"providers"`
}

// LLMProviderConfig configures a single provider's credentials and retry
// policy.
type LLMProviderConfig struct {
	APIKey     string `yaml:"api_key"`
	BaseURL    string `yaml:"base_url"`
	MaxRetries int    `yaml:"max_retries"`
}
