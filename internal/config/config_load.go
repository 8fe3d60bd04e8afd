package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		DataDir:  "~/.quoroom",
		LogLevel: "info",
		API: APIConfig{
			Host: "127.0.0.1",
		},
		Rooms: RoomDefaults{
			QuorumThreshold:    "majority",
			TieBreak:           "expire",
			VoteTimeoutMinutes: 60,
			CycleGapMs:         30000,
			MaxTurnsPerCycle:   10,
			MaxConcurrentTasks: 3,
			Autonomy:           "semi",
		},
		Executor: ExecutorConfig{
			Default:        "api",
			Model:          "claude-sonnet-4-5-20250929",
			MaxTokens:      8192,
			TimeoutMinutes: 30,
			CLI: CLIExecutorConfig{
				Command: "claude",
			},
		},
		Tasks: TasksConfig{
			ErrorCountCap:    10,
			LearnAfterRuns:   3,
			LearnEveryRuns:   5,
			LearnWindow:      5,
			LearnedMemoChars: 2000,
			WebhookBodyLimit: 64 * 1024,
			WatchDebounceMs:  200,
		},
		Memory: MemoryConfig{
			FTSWeight:      0.6,
			SemanticWeight: 0.4,
			MaxResults:     8,
			EmbeddingModel: "text-embedding-3-small",
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
			Browser: BrowserToolConfig{
				Enabled:  true,
				Headless: true,
			},
		},
		Cloud: CloudConfig{
			SyncSeconds: 60,
		},
		Update: UpdateConfig{
			IntervalHours: 6,
		},
	}
}

// DefaultPath returns the config file location inside the data directory.
func DefaultPath() string {
	if v := os.Getenv("QUOROOM_DATA_DIR"); v != "" {
		return filepath.Join(ExpandHome(v), "config.json")
	}
	return ExpandHome("~/.quoroom/config.json")
}

// Load reads config from a JSON5 file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("QUOROOM_DATA_DIR", &c.DataDir)
	envStr("QUOROOM_DB_PATH", &c.DBPath)
	envStr("QUOROOM_RESULTS_DIR", &c.ResultsDir)
	envStr("QUOROOM_SOURCE", &c.Source)
	envStr("QUOROOM_LOG_LEVEL", &c.LogLevel)

	envStr("QUOROOM_API_TOKEN", &c.API.Token)
	if v := os.Getenv("QUOROOM_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port >= 0 {
			c.API.Port = port
		}
	}

	envStr("QUOROOM_EXECUTOR", &c.Executor.Default)
	envStr("QUOROOM_MODEL", &c.Executor.Model)
	envStr("QUOROOM_ANTHROPIC_API_KEY", &c.Executor.APIKey)
	envStr("QUOROOM_CLI_COMMAND", &c.Executor.CLI.Command)

	envStr("QUOROOM_WALLET_SECRET", &c.Wallet.Secret)
	envStr("QUOROOM_EMBEDDING_API_KEY", &c.Memory.EmbeddingAPIKey)
	envStr("QUOROOM_EMBEDDING_API_BASE", &c.Memory.EmbeddingAPIBase)
	envStr("QUOROOM_BRAVE_API_KEY", &c.Tools.Web.Brave.APIKey)
	if c.Tools.Web.Brave.APIKey != "" {
		c.Tools.Web.Brave.Enabled = true
	}

	envStr("QUOROOM_CLOUD_API", &c.Cloud.APIBase)
	envStr("QUOROOM_STATION_API", &c.Station.APIBase)
	envStr("QUOROOM_UPDATE_SOURCE_URL", &c.Update.SourceURL)
	envStr("QUOROOM_UPDATE_SOURCE_TOKEN", &c.Update.SourceToken)

	envStr("QUOROOM_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("QUOROOM_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	if v := os.Getenv("QUOROOM_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
}

// ApplyEnvOverrides re-applies environment variable overrides onto the
// config. Call after mutating config to restore runtime secrets from env.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
}

// Validate rejects configurations the engine cannot start with.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.DataDir == "" && c.DBPath == "" {
		return fmt.Errorf("data_dir or db_path required")
	}
	switch c.Rooms.QuorumThreshold {
	case "", "majority", "supermajority", "unanimous":
	default:
		return fmt.Errorf("invalid rooms.quorum_threshold %q", c.Rooms.QuorumThreshold)
	}
	switch c.Rooms.TieBreak {
	case "", "expire", "queen_tiebreak":
	default:
		return fmt.Errorf("invalid rooms.tie_break %q", c.Rooms.TieBreak)
	}
	switch c.Executor.Default {
	case "", "api", "cli":
	default:
		return fmt.Errorf("invalid executor.default %q", c.Executor.Default)
	}
	if c.Memory.FTSWeight < 0 || c.Memory.SemanticWeight < 0 {
		return fmt.Errorf("memory weights must be non-negative")
	}
	return nil
}

// Save writes the config to a JSON file. Secret fields (json:"-") never
// reach disk.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

const secretMask = "***"

// MaskedCopy returns a deep copy of the config with all secret fields masked.
// Used by the status endpoint so secrets never leave the process.
func (c *Config) MaskedCopy() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data, err := json.Marshal(c)
	if err != nil {
		return &Config{}
	}
	cp := Default()
	if err := json.Unmarshal(data, cp); err != nil {
		return &Config{}
	}

	maskNonEmpty(&cp.API.Token)
	maskNonEmpty(&cp.Executor.APIKey)
	maskNonEmpty(&cp.Wallet.Secret)
	maskNonEmpty(&cp.Memory.EmbeddingAPIKey)
	maskNonEmpty(&cp.Tools.Web.Brave.APIKey)
	maskNonEmpty(&cp.Update.SourceToken)

	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
