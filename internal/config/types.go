package config

// Config is the root configuration for chatstudio.
type Config struct {
	Provider ProviderConfig `yaml:"provider,omitempty"`
	History  HistoryConfig  `yaml:"history,omitempty"`
	Store    StoreConfig    `yaml:"store,omitempty"`
	User     UserConfig     `yaml:"user,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty"`
}

// ProviderConfig points at the completion provider (an OpenAI-compatible API).
type ProviderConfig struct {
	BaseURL        string `yaml:"baseUrl,omitempty"`
	APIKey         string `yaml:"apiKey,omitempty"` // supports ${ENV_VAR} references
	Model          string `yaml:"model,omitempty"`  // preferred model; must appear in the catalog
	TimeoutSeconds int    `yaml:"timeoutSeconds,omitempty"`
}

// HistoryConfig controls both the history API server and the client that
// talks to it.
type HistoryConfig struct {
	BaseURL        string   `yaml:"baseUrl,omitempty"` // remote history API consumed by the chat client
	Port           int      `yaml:"port,omitempty"`    // listen port for `history serve`
	Bind           string   `yaml:"bind,omitempty"`    // "loopback" | "lan" | "custom"
	CustomBindHost string   `yaml:"customBindHost,omitempty"`
	DBPath         string   `yaml:"dbPath,omitempty"` // sqlite file; empty means <data>/history.db
	AllowedOrigins []string `yaml:"allowedOrigins,omitempty"`
}

// StoreConfig controls the client-local conversation store.
type StoreConfig struct {
	Path string `yaml:"path,omitempty"` // bolt file; empty means <data>/conversations.db
}

// UserConfig identifies the owner of uploaded history records.
// The ID is supplied by whatever signed the user in; chatstudio only
// forwards it.
type UserConfig struct {
	ID string `yaml:"id,omitempty"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
}
