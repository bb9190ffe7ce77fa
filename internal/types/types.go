package types

// ConfigManager defines the interface for configuration management
type ConfigManager interface {
	GetAuthConfig() AuthConfig
	GetCORSConfig() CORSConfig
	GetLogConfig() LogConfig
	GetDatabaseConfig() DatabaseConfig
	GetEffectiveServerConfig() ServerConfig
	GetGenerationConfig() GenerationConfig
	GetEngineConfigs() []EngineConfig
	GetRemoteBackends() []RemoteBackendConfig
	Validate() error
	DisplayServerConfig()
	ReloadConfig() error
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Port                    int    `json:"port"`
	Host                    string `json:"host"`
	ReadTimeout             int    `json:"read_timeout"`
	WriteTimeout            int    `json:"write_timeout"`
	IdleTimeout             int    `json:"idle_timeout"`
	GracefulShutdownTimeout int    `json:"graceful_shutdown_timeout"`
}

// AuthConfig represents authentication configuration. An empty Key disables
// request authentication, which is the default for a local serving daemon.
type AuthConfig struct {
	Key string `json:"key"`
}

// CORSConfig represents CORS configuration
type CORSConfig struct {
	Enabled          bool     `json:"enabled"`
	AllowedOrigins   []string `json:"allowed_origins"`
	AllowedMethods   []string `json:"allowed_methods"`
	AllowedHeaders   []string `json:"allowed_headers"`
	AllowCredentials bool     `json:"allow_credentials"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	EnableFile bool   `json:"enable_file"`
	FilePath   string `json:"file_path"`
}

// DatabaseConfig represents the request-log database configuration.
// An empty DSN disables request logging entirely.
type DatabaseConfig struct {
	DSN                  string `json:"dsn"`
	LogRetentionDays     int    `json:"log_retention_days"`
	LogWriteIntervalSecs int    `json:"log_write_interval_secs"`
}

// SamplingDefaults holds the server-level default sampling parameters applied
// to generation requests that do not set them explicitly.
type SamplingDefaults struct {
	Temperature       float64 `json:"temperature"`
	TopP              float64 `json:"top_p"`
	TopK              int     `json:"top_k"`
	MinP              float64 `json:"min_p"`
	RepetitionPenalty float64 `json:"repetition_penalty"`
	PresencePenalty   float64 `json:"presence_penalty"`
	MaxTokens         int     `json:"max_tokens"`
}

// GenerationConfig groups the serving defaults that shape the generation
// response pipeline.
type GenerationConfig struct {
	Sampling SamplingDefaults `json:"sampling"`
	// DefaultStopSequences are merged with per-request stop strings.
	DefaultStopSequences []string `json:"default_stop_sequences"`
	// ThinkOpenTag / ThinkCloseTag delimit the hidden reasoning channel.
	ThinkOpenTag  string `json:"think_open_tag"`
	ThinkCloseTag string `json:"think_close_tag"`
	// ToolCallFormat overrides per-model format inference when non-empty.
	ToolCallFormat string `json:"tool_call_format"`
	// MaxTopLogprobs is the ceiling for the top_logprobs request field.
	MaxTopLogprobs int `json:"max_top_logprobs"`
}

// EngineConfig describes one local token-generating engine.
type EngineConfig struct {
	// Name identifies the engine instance; it is part of the prefix cache key.
	Name string `json:"name"`
	// Driver selects the engine implementation ("llamacpp" or "scripted").
	Driver string `json:"driver"`
	// BaseURL is the runtime endpoint for HTTP-backed drivers.
	BaseURL string `json:"base_url,omitempty"`
	// Models lists the model ids this engine serves.
	Models []string `json:"models"`
	// ModelType drives tool-call format inference (e.g. "glm4", "lfm2").
	ModelType string `json:"model_type,omitempty"`
}

// RemoteBackendConfig describes one remote OpenAI-compatible backend used in
// gateway mode.
type RemoteBackendConfig struct {
	Name    string `json:"name"`
	BaseURL string `json:"base_url"`
	APIKey  string `json:"-"`
}
