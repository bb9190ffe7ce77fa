// Package config provides environment-driven configuration management.
package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"fm-serve/internal/types"
	"fm-serve/internal/utils"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

// Manager implements types.ConfigManager on top of process environment
// variables, optionally seeded from a .env file.
type Manager struct {
	serverConfig   types.ServerConfig
	authConfig     types.AuthConfig
	corsConfig     types.CORSConfig
	logConfig      types.LogConfig
	databaseConfig types.DatabaseConfig
	generation     types.GenerationConfig
	engineConfigs  []types.EngineConfig
	remoteBackends []types.RemoteBackendConfig
}

// NewManager creates a new configuration manager and loads the configuration.
func NewManager() (types.ConfigManager, error) {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using environment variables")
	}

	manager := &Manager{}
	if err := manager.ReloadConfig(); err != nil {
		return nil, err
	}
	return manager, nil
}

// ReloadConfig re-reads every configuration value from the environment.
func (m *Manager) ReloadConfig() error {
	m.serverConfig = types.ServerConfig{
		Port:                    utils.ParseInteger(utils.GetEnvOrDefault("PORT", ""), 9999),
		Host:                    utils.GetEnvOrDefault("HOST", "127.0.0.1"),
		ReadTimeout:             utils.ParseInteger(utils.GetEnvOrDefault("SERVER_READ_TIMEOUT", ""), 120),
		WriteTimeout:            utils.ParseInteger(utils.GetEnvOrDefault("SERVER_WRITE_TIMEOUT", ""), 1800),
		IdleTimeout:             utils.ParseInteger(utils.GetEnvOrDefault("SERVER_IDLE_TIMEOUT", ""), 120),
		GracefulShutdownTimeout: utils.ParseInteger(utils.GetEnvOrDefault("SERVER_GRACEFUL_SHUTDOWN_TIMEOUT", ""), 30),
	}

	m.authConfig = types.AuthConfig{
		Key: utils.GetEnvOrDefault("AUTH_KEY", ""),
	}

	m.corsConfig = types.CORSConfig{
		Enabled:          utils.ParseBoolean(utils.GetEnvOrDefault("ENABLE_CORS", "true"), true),
		AllowedOrigins:   utils.ParseArray(utils.GetEnvOrDefault("ALLOWED_ORIGINS", "*"), ","),
		AllowedMethods:   utils.ParseArray(utils.GetEnvOrDefault("ALLOWED_METHODS", "GET,POST,OPTIONS"), ","),
		AllowedHeaders:   utils.ParseArray(utils.GetEnvOrDefault("ALLOWED_HEADERS", "*"), ","),
		AllowCredentials: utils.ParseBoolean(utils.GetEnvOrDefault("ALLOW_CREDENTIALS", "false"), false),
	}

	m.logConfig = types.LogConfig{
		Level:      utils.GetEnvOrDefault("LOG_LEVEL", "info"),
		Format:     utils.GetEnvOrDefault("LOG_FORMAT", "text"),
		EnableFile: utils.ParseBoolean(utils.GetEnvOrDefault("LOG_ENABLE_FILE", "false"), false),
		FilePath:   utils.GetEnvOrDefault("LOG_FILE_PATH", "./data/logs/fm-serve.log"),
	}

	m.databaseConfig = types.DatabaseConfig{
		DSN:                  utils.GetEnvOrDefault("DATABASE_DSN", ""),
		LogRetentionDays:     utils.ParseInteger(utils.GetEnvOrDefault("REQUEST_LOG_RETENTION_DAYS", ""), 7),
		LogWriteIntervalSecs: utils.ParseInteger(utils.GetEnvOrDefault("REQUEST_LOG_WRITE_INTERVAL_SECONDS", ""), 60),
	}

	m.generation = types.GenerationConfig{
		Sampling: types.SamplingDefaults{
			Temperature:       utils.ParseFloat(utils.GetEnvOrDefault("DEFAULT_TEMPERATURE", ""), 0.7),
			TopP:              utils.ParseFloat(utils.GetEnvOrDefault("DEFAULT_TOP_P", ""), 0.9),
			TopK:              utils.ParseInteger(utils.GetEnvOrDefault("DEFAULT_TOP_K", ""), 40),
			MinP:              utils.ParseFloat(utils.GetEnvOrDefault("DEFAULT_MIN_P", ""), 0),
			RepetitionPenalty: utils.ParseFloat(utils.GetEnvOrDefault("DEFAULT_REPETITION_PENALTY", ""), 1.0),
			PresencePenalty:   utils.ParseFloat(utils.GetEnvOrDefault("DEFAULT_PRESENCE_PENALTY", ""), 0),
			MaxTokens:         utils.ParseInteger(utils.GetEnvOrDefault("DEFAULT_MAX_TOKENS", ""), 2048),
		},
		DefaultStopSequences: utils.ParseArray(utils.GetEnvOrDefault("DEFAULT_STOP_SEQUENCES", ""), ","),
		ThinkOpenTag:         utils.GetEnvOrDefault("THINK_OPEN_TAG", "<think>"),
		ThinkCloseTag:        utils.GetEnvOrDefault("THINK_CLOSE_TAG", "</think>"),
		ToolCallFormat:       utils.GetEnvOrDefault("TOOL_CALL_FORMAT", ""),
		MaxTopLogprobs:       utils.ParseInteger(utils.GetEnvOrDefault("MAX_TOP_LOGPROBS", ""), 20),
	}

	remotes, err := parseRemoteBackends(utils.GetEnvOrDefault("REMOTE_BACKENDS", ""))
	if err != nil {
		return err
	}
	m.remoteBackends = remotes

	engines, err := parseEngineConfigs(utils.GetEnvOrDefault("LOCAL_ENGINES", ""))
	if err != nil {
		return err
	}
	m.engineConfigs = engines

	return m.Validate()
}

// parseEngineConfigs parses the LOCAL_ENGINES env value, a JSON array of
// engine definitions, e.g.
//
//	[{"name":"mlx","driver":"llamacpp","base_url":"http://127.0.0.1:8081",
//	  "models":["qwen3-4b"],"model_type":"qwen3_moe"}]
//
// When unset, a single deterministic scripted engine is configured so the
// server is usable out of the box.
func parseEngineConfigs(raw string) ([]types.EngineConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return []types.EngineConfig{{
			Name:   "native",
			Driver: "scripted",
			Models: []string{"foundation-default"},
		}}, nil
	}

	var configs []types.EngineConfig
	if err := json.Unmarshal([]byte(raw), &configs); err != nil {
		return nil, fmt.Errorf("invalid LOCAL_ENGINES JSON: %w", err)
	}
	for i, cfg := range configs {
		if cfg.Name == "" {
			return nil, fmt.Errorf("LOCAL_ENGINES[%d]: name is required", i)
		}
		if cfg.Driver == "" {
			return nil, fmt.Errorf("LOCAL_ENGINES[%d]: driver is required", i)
		}
		if len(cfg.Models) == 0 {
			return nil, fmt.Errorf("LOCAL_ENGINES[%d]: at least one model is required", i)
		}
	}
	return configs, nil
}

// parseRemoteBackends parses the REMOTE_BACKENDS env value. The format is a
// comma-separated list of name=baseURL or name=baseURL|apiKey entries, e.g.
// "openai=https://api.openai.com|sk-xxx,local=http://127.0.0.1:8080".
func parseRemoteBackends(raw string) ([]types.RemoteBackendConfig, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}

	var backends []types.RemoteBackendConfig
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rest, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("invalid REMOTE_BACKENDS entry %q: expected name=baseURL", entry)
		}
		baseURL, apiKey, _ := strings.Cut(rest, "|")
		baseURL = strings.TrimSpace(baseURL)
		if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
			return nil, fmt.Errorf("invalid REMOTE_BACKENDS entry %q: base URL must be http(s)", entry)
		}
		backends = append(backends, types.RemoteBackendConfig{
			Name:    strings.TrimSpace(name),
			BaseURL: strings.TrimRight(baseURL, "/"),
			APIKey:  strings.TrimSpace(apiKey),
		})
	}
	return backends, nil
}

// Validate checks the loaded configuration for invalid values.
func (m *Manager) Validate() error {
	if m.serverConfig.Port < 1 || m.serverConfig.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got: %d", m.serverConfig.Port)
	}

	gen := m.generation
	if gen.MaxTopLogprobs < 0 {
		return fmt.Errorf("MAX_TOP_LOGPROBS cannot be negative, got: %d", gen.MaxTopLogprobs)
	}
	if gen.Sampling.Temperature < 0 {
		return fmt.Errorf("DEFAULT_TEMPERATURE cannot be negative, got: %v", gen.Sampling.Temperature)
	}
	if gen.Sampling.TopP < 0 || gen.Sampling.TopP > 1 {
		return fmt.Errorf("DEFAULT_TOP_P must be within [0,1], got: %v", gen.Sampling.TopP)
	}
	if gen.Sampling.MaxTokens < 1 {
		return fmt.Errorf("DEFAULT_MAX_TOKENS cannot be less than 1, got: %d", gen.Sampling.MaxTokens)
	}
	if gen.ThinkOpenTag == "" || gen.ThinkCloseTag == "" {
		return fmt.Errorf("think tags cannot be empty")
	}

	seen := make(map[string]struct{}, len(m.remoteBackends))
	for _, b := range m.remoteBackends {
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("duplicate remote backend name: %s", b.Name)
		}
		seen[b.Name] = struct{}{}
	}

	engineNames := make(map[string]struct{}, len(m.engineConfigs))
	for _, e := range m.engineConfigs {
		if _, dup := engineNames[e.Name]; dup {
			return fmt.Errorf("duplicate engine name: %s", e.Name)
		}
		engineNames[e.Name] = struct{}{}
	}

	return nil
}

// GetAuthConfig returns authentication configuration
func (m *Manager) GetAuthConfig() types.AuthConfig {
	return m.authConfig
}

// GetCORSConfig returns CORS configuration
func (m *Manager) GetCORSConfig() types.CORSConfig {
	return m.corsConfig
}

// GetLogConfig returns logging configuration
func (m *Manager) GetLogConfig() types.LogConfig {
	return m.logConfig
}

// GetDatabaseConfig returns the request-log database configuration
func (m *Manager) GetDatabaseConfig() types.DatabaseConfig {
	return m.databaseConfig
}

// GetEffectiveServerConfig returns the server configuration
func (m *Manager) GetEffectiveServerConfig() types.ServerConfig {
	return m.serverConfig
}

// GetGenerationConfig returns the generation pipeline defaults
func (m *Manager) GetGenerationConfig() types.GenerationConfig {
	return m.generation
}

// GetEngineConfigs returns the configured local engines
func (m *Manager) GetEngineConfigs() []types.EngineConfig {
	return m.engineConfigs
}

// GetRemoteBackends returns the configured remote OpenAI-compatible backends
func (m *Manager) GetRemoteBackends() []types.RemoteBackendConfig {
	return m.remoteBackends
}

// DisplayServerConfig logs the effective configuration at startup.
func (m *Manager) DisplayServerConfig() {
	logrus.Info("")
	logrus.Info("======= fm-serve configuration =======")
	logrus.Infof("  Listen:          %s:%d", m.serverConfig.Host, m.serverConfig.Port)
	logrus.Infof("  Log level:       %s (%s)", m.logConfig.Level, m.logConfig.Format)
	if m.authConfig.Key != "" {
		logrus.Infof("  Auth key:        %s", utils.MaskAPIKey(m.authConfig.Key))
	} else {
		logrus.Info("  Auth key:        disabled")
	}
	if m.databaseConfig.DSN != "" {
		logrus.Infof("  Request logs:    enabled (retention %dd)", m.databaseConfig.LogRetentionDays)
	} else {
		logrus.Info("  Request logs:    disabled")
	}
	if len(m.generation.DefaultStopSequences) > 0 {
		logrus.Infof("  Default stops:   %v", m.generation.DefaultStopSequences)
	}
	if m.generation.ToolCallFormat != "" {
		logrus.Infof("  Tool-call fmt:   %s (forced)", m.generation.ToolCallFormat)
	}
	for _, e := range m.engineConfigs {
		logrus.Infof("  Local engine:    %s (%s) models=%v", e.Name, e.Driver, e.Models)
	}
	for _, b := range m.remoteBackends {
		logrus.Infof("  Remote backend:  %s -> %s", b.Name, b.BaseURL)
	}
	logrus.Info("======================================")
	logrus.Info("")
}
