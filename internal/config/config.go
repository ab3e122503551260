package config

import "fmt"

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// DefaultProviderBaseURL is the Groq OpenAI-compatible endpoint.
const DefaultProviderBaseURL = "https://api.groq.com/openai/v1"

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Provider: ProviderConfig{
			BaseURL:        DefaultProviderBaseURL,
			APIKey:         "${GROQ_API_KEY}",
			TimeoutSeconds: 120,
		},
		History: HistoryConfig{
			BaseURL: "http://127.0.0.1:18990",
			Port:    18990,
			Bind:    "loopback",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}
