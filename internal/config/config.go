package config

import (
	"path/filepath"
	"sync"
)

// Config is the root configuration for the quoroom engine.
type Config struct {
	DataDir    string          `json:"data_dir,omitempty"`    // default ~/.quoroom
	DBPath     string          `json:"db_path,omitempty"`     // default <dataDir>/quoroom.db
	ResultsDir string          `json:"results_dir,omitempty"` // default <dataDir>/results
	Source     string          `json:"source,omitempty"`      // free-text install tag, propagated into task trigger config
	LogLevel   string          `json:"log_level,omitempty"`   // "debug", "info" (default), "warn", "error"
	API        APIConfig       `json:"api"`
	Rooms      RoomDefaults    `json:"rooms"`
	Executor   ExecutorConfig  `json:"executor"`
	Tasks      TasksConfig     `json:"tasks"`
	Wallet     WalletConfig    `json:"wallet"`
	Memory     MemoryConfig    `json:"memory"`
	Tools      ToolsConfig     `json:"tools"`
	Cloud      CloudConfig     `json:"cloud,omitempty"`
	Station    StationConfig   `json:"station,omitempty"`
	Update     UpdateConfig    `json:"update,omitempty"`
	Telemetry  TelemetryConfig `json:"telemetry,omitempty"`
	mu         sync.RWMutex
}

// APIConfig configures the local HTTP surface (hooks + status).
type APIConfig struct {
	Host  string `json:"host,omitempty"` // default "127.0.0.1"
	Port  int    `json:"port,omitempty"` // 0 = ephemeral; chosen port written to <dataDir>/api.port
	Token string `json:"-"`              // from env QUOROOM_API_TOKEN only; generated + persisted to api.token when empty
}

// RoomDefaults seed the config blob of newly created rooms. Every field can
// be changed per room afterwards via configure_room.
type RoomDefaults struct {
	QuorumThreshold      string `json:"quorum_threshold,omitempty"`       // "majority" (default), "supermajority", "unanimous"
	TieBreak             string `json:"tie_break,omitempty"`              // "expire" (default) or "queen_tiebreak"
	VoteTimeoutMinutes   int    `json:"vote_timeout_minutes,omitempty"`   // default 60
	MinVoters            int    `json:"min_voters,omitempty"`             // 0 = no participation floor
	CycleGapMs           int    `json:"cycle_gap_ms,omitempty"`           // default 30000, clamped to >= 1000
	MaxTurnsPerCycle     int    `json:"max_turns_per_cycle,omitempty"`    // default 10
	MaxConcurrentTasks   int    `json:"max_concurrent_tasks,omitempty"`   // default 3
	QuietFrom            string `json:"quiet_from,omitempty"`             // "HH:MM", empty = no quiet hours
	QuietUntil           string `json:"quiet_until,omitempty"`            // "HH:MM"
	Autonomy             string `json:"autonomy,omitempty"`               // "semi" (default) or "auto"
	AutoApproveLowImpact bool   `json:"auto_approve_low_impact,omitempty"`
}

// ExecutorConfig selects and tunes the agent executor backends.
type ExecutorConfig struct {
	Default        string            `json:"default,omitempty"` // "api" (default) or "cli"
	Model          string            `json:"model,omitempty"`   // default model tag for the api backend
	APIKey         string            `json:"-"`                 // from env QUOROOM_ANTHROPIC_API_KEY only
	MaxTokens      int               `json:"max_tokens,omitempty"`      // default 8192
	TimeoutMinutes int               `json:"timeout_minutes,omitempty"` // default 30, per run
	CLI            CLIExecutorConfig `json:"cli,omitempty"`
}

// CLIExecutorConfig drives a subscription-based agent CLI as a subprocess.
type CLIExecutorConfig struct {
	Command string   `json:"command,omitempty"` // binary on PATH, e.g. "claude"
	Args    []string `json:"args,omitempty"`    // extra args prepended before the prompt
}

// TasksConfig tunes the task runner.
type TasksConfig struct {
	ErrorCountCap     int `json:"error_count_cap,omitempty"`     // pause a task after this many failures (default 10)
	LearnAfterRuns    int `json:"learn_after_runs,omitempty"`    // distill learned context after the Nth success (default 3)
	LearnEveryRuns    int `json:"learn_every_runs,omitempty"`    // and every Mth success thereafter (default 5)
	LearnWindow       int `json:"learn_window,omitempty"`        // number of recent results submitted (default 5)
	LearnedMemoChars  int `json:"learned_memo_chars,omitempty"`  // memo length cap (default 2000)
	WebhookBodyLimit  int `json:"webhook_body_limit,omitempty"`  // payload cap in bytes (default 65536)
	WatchDebounceMs   int `json:"watch_debounce_ms,omitempty"`   // FS event quiescence window (default 200)
}

// WalletConfig holds the key-custody secret and the chain table.
type WalletConfig struct {
	Secret   string                   `json:"-"` // from env QUOROOM_WALLET_SECRET only
	Networks map[string]NetworkConfig `json:"networks,omitempty"`
}

// NetworkConfig names a chain RPC endpoint and its supported tokens.
type NetworkConfig struct {
	RPCURL string                 `json:"rpc_url"`
	Tokens map[string]TokenConfig `json:"tokens,omitempty"` // token tag -> contract
}

// TokenConfig identifies a token contract. The engine only knows the address
// and decimals; chain semantics stay behind the RPC.
type TokenConfig struct {
	Address  string `json:"address"`
	Decimals int    `json:"decimals"`
}

// MemoryConfig tunes hybrid recall and the optional embedding backend.
type MemoryConfig struct {
	FTSWeight        float64 `json:"fts_weight,omitempty"`      // default 0.6
	SemanticWeight   float64 `json:"semantic_weight,omitempty"` // default 0.4
	MaxResults       int     `json:"max_results,omitempty"`     // default 8
	EmbeddingAPIBase string  `json:"embedding_api_base,omitempty"` // OpenAI-compatible endpoint; empty = FTS only
	EmbeddingModel   string  `json:"embedding_model,omitempty"`    // default "text-embedding-3-small"
	EmbeddingAPIKey  string  `json:"-"`                            // from env QUOROOM_EMBEDDING_API_KEY only
}

// ToolsConfig configures the built-in web and browser tools.
type ToolsConfig struct {
	Web     WebToolsConfig    `json:"web"`
	Browser BrowserToolConfig `json:"browser"`
}

// WebToolsConfig configures search providers for the web_search tool.
type WebToolsConfig struct {
	DuckDuckGo DuckDuckGoConfig `json:"duckduckgo"`
	Brave      BraveConfig      `json:"brave,omitempty"`
}

type DuckDuckGoConfig struct {
	Enabled    bool `json:"enabled"`
	MaxResults int  `json:"max_results,omitempty"` // default 5
}

type BraveConfig struct {
	Enabled    bool   `json:"enabled,omitempty"`
	APIKey     string `json:"-"` // from env QUOROOM_BRAVE_API_KEY only
	MaxResults int    `json:"max_results,omitempty"`
}

// BrowserToolConfig configures the rod-driven browser tool.
type BrowserToolConfig struct {
	Enabled  bool `json:"enabled"`
	Headless bool `json:"headless"`
}

// CloudConfig points at the optional cloud relay.
type CloudConfig struct {
	APIBase      string `json:"api_base,omitempty"` // empty = cloud disabled
	SyncSeconds  int    `json:"sync_seconds,omitempty"` // inbox poll interval (default 60)
}

// StationConfig points at the optional station provisioning service.
type StationConfig struct {
	APIBase string `json:"api_base,omitempty"` // empty = stations not configured
}

// UpdateConfig configures the update-source checker. The engine only reports
// diagnostics; it never applies updates itself.
type UpdateConfig struct {
	SourceURL     string `json:"source_url,omitempty"`
	SourceToken   string `json:"-"` // from env QUOROOM_UPDATE_SOURCE_TOKEN only
	IntervalHours int    `json:"interval_hours,omitempty"` // default 6
}

// TelemetryConfig configures OpenTelemetry trace export.
type TelemetryConfig struct {
	Enabled     bool              `json:"enabled,omitempty"`
	Endpoint    string            `json:"endpoint,omitempty"`     // e.g. "localhost:4317"
	Protocol    string            `json:"protocol,omitempty"`     // "grpc" (default) or "http"
	Insecure    bool              `json:"insecure,omitempty"`
	ServiceName string            `json:"service_name,omitempty"` // default "quoroom"
	Headers     map[string]string `json:"headers,omitempty"`
}

// DatabasePath returns the expanded path of the SQLite database file.
func (c *Config) DatabasePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.DBPath != "" {
		return ExpandHome(c.DBPath)
	}
	return filepath.Join(ExpandHome(c.DataDir), "quoroom.db")
}

// ResultsPath returns the expanded run-artifact directory.
func (c *Config) ResultsPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.ResultsDir != "" {
		return ExpandHome(c.ResultsDir)
	}
	return filepath.Join(ExpandHome(c.DataDir), "results")
}

// SessionsPath returns the directory holding executor session transcripts.
func (c *Config) SessionsPath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filepath.Join(ExpandHome(c.DataDir), "sessions")
}

// SidecarPath returns the path of a sidecar file (api.port, api.token,
// cloud-room-tokens.json) inside the data directory.
func (c *Config) SidecarPath(name string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return filepath.Join(ExpandHome(c.DataDir), name)
}

// ReplaceFrom copies all data fields from src into c, preserving c's mutex.
func (c *Config) ReplaceFrom(src *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.DataDir = src.DataDir
	c.DBPath = src.DBPath
	c.ResultsDir = src.ResultsDir
	c.Source = src.Source
	c.LogLevel = src.LogLevel
	c.API = src.API
	c.Rooms = src.Rooms
	c.Executor = src.Executor
	c.Tasks = src.Tasks
	c.Wallet = src.Wallet
	c.Memory = src.Memory
	c.Tools = src.Tools
	c.Cloud = src.Cloud
	c.Station = src.Station
	c.Update = src.Update
	c.Telemetry = src.Telemetry
}
