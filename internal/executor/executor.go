package executor

import (
	"context"
	"time"

	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/errs"
)

const defaultMaxTurns = 10

// Request describes one agent invocation: a prompt executed with a tool
// surface, optionally resuming an earlier session.
type Request struct {
	Prompt          string
	SystemPrompt    string
	Model           string        // "" = backend default
	MaxTurns        int           // 0 = backend default
	Timeout         time.Duration // 0 = backend default
	SessionID       string        // "" = fresh session
	AllowedTools    []string      // empty = all registered tools
	DisallowedTools []string
}

// Usage tracks token consumption across the whole invocation.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Result is the outcome of a Run. Infrastructure failures come back as
// errors; model-visible failures (timeouts, bad exits) live on the result.
type Result struct {
	Text      string
	ExitCode  int
	Duration  time.Duration
	SessionID string
	TimedOut  bool
	Usage     Usage
}

// Callbacks stream run internals to the caller. Both are optional and must
// not block.
type Callbacks struct {
	OnLog      func(entryType, content string)
	OnToolCall func(name string, args map[string]any)
}

// ToolDefinition describes one tool offered to the model.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON schema
}

// Dispatcher resolves and executes tool calls. Scope (room, worker, run)
// travels on the context.
type Dispatcher interface {
	Definitions(allowed, disallowed []string) []ToolDefinition
	Dispatch(ctx context.Context, name string, args map[string]any) (string, error)
}

// Executor runs one prompt to completion, driving the tool loop.
type Executor interface {
	Run(ctx context.Context, req Request, cb Callbacks) (*Result, error)
	Name() string
}

// New builds the executor backend named by the config.
func New(cfg *config.Config, sessions *SessionStore, tools Dispatcher) (Executor, error) {
	timeout := time.Duration(cfg.Executor.TimeoutMinutes) * time.Minute
	switch cfg.Executor.Default {
	case "", "api":
		if cfg.Executor.APIKey == "" {
			return nil, errs.New(errs.KindInvalidInput, "api executor requires an anthropic api key")
		}
		return NewAPIExecutor(APIOptions{
			APIKey:    cfg.Executor.APIKey,
			Model:     cfg.Executor.Model,
			MaxTokens: int64(cfg.Executor.MaxTokens),
			Timeout:   timeout,
		}, sessions, tools), nil
	case "cli":
		return NewCLIExecutor(CLIOptions{
			Command: cfg.Executor.CLI.Command,
			Args:    cfg.Executor.CLI.Args,
			Model:   cfg.Executor.Model,
			Timeout: timeout,
		}), nil
	default:
		return nil, errs.New(errs.KindInvalidInput, "unknown executor %q", cfg.Executor.Default)
	}
}
