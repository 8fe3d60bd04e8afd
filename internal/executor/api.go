package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/google/uuid"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

const defaultMaxTokens = 8192

// APIOptions configures the direct Anthropic API backend.
type APIOptions struct {
	APIKey    string
	Model     string
	MaxTokens int64
	Timeout   time.Duration
}

// APIExecutor runs the agent loop in-process against the Messages API.
// Tool calls returned by the model are dispatched locally and fed back as
// tool results until the model stops asking or the turn budget runs out.
type APIExecutor struct {
	client   sdk.Client
	opts     APIOptions
	sessions *SessionStore
	tools    Dispatcher
}

func NewAPIExecutor(opts APIOptions, sessions *SessionStore, tools Dispatcher) *APIExecutor {
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	return &APIExecutor{
		client:   sdk.NewClient(option.WithAPIKey(opts.APIKey)),
		opts:     opts,
		sessions: sessions,
		tools:    tools,
	}
}

func (e *APIExecutor) Name() string { return "api" }

// Run executes one agent turn. A non-empty req.SessionID resumes the stored
// transcript; otherwise a fresh session is minted and persisted so the next
// run can continue the conversation.
func (e *APIExecutor) Run(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	start := time.Now()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	sess, err := e.loadOrMintSession(req.SessionID)
	if err != nil {
		return nil, err
	}

	messages := historyToParams(sess.Messages)
	messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)))
	sess.Messages = append(sess.Messages, SessionMessage{Role: "user", Content: req.Prompt})

	params := sdk.MessageNewParams{
		MaxTokens: e.opts.MaxTokens,
		Model:     sdk.Model(e.model(req)),
	}
	if req.SystemPrompt != "" {
		params.System = []sdk.TextBlockParam{{Text: req.SystemPrompt}}
	}
	if e.tools != nil {
		params.Tools = toolParams(e.tools.Definitions(req.AllowedTools, req.DisallowedTools))
	}

	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = defaultMaxTurns
	}

	var (
		finalText strings.Builder
		usage     Usage
	)
	for turn := 0; turn < maxTurns; turn++ {
		params.Messages = messages
		msg, err := e.client.Messages.New(ctx, params)
		if err != nil {
			if res := e.timedOutResult(ctx, sess, start, usage); res != nil {
				return res, nil
			}
			return nil, mapAPIError(err)
		}
		usage.InputTokens += msg.Usage.InputTokens
		usage.OutputTokens += msg.Usage.OutputTokens

		assistantBlocks, toolUses, text := splitContent(msg)
		if text != "" {
			if finalText.Len() > 0 {
				finalText.WriteString("\n")
			}
			finalText.WriteString(text)
			sess.Messages = append(sess.Messages, SessionMessage{Role: "assistant", Content: text})
			if cb.OnLog != nil {
				cb.OnLog("assistant", text)
			}
		}
		if len(toolUses) == 0 || e.tools == nil {
			break
		}

		messages = append(messages, sdk.NewAssistantMessage(assistantBlocks...))
		results := make([]sdk.ContentBlockParamUnion, 0, len(toolUses))
		for _, tu := range toolUses {
			results = append(results, e.dispatchTool(ctx, tu, cb))
		}
		messages = append(messages, sdk.NewUserMessage(results...))
	}

	if err := e.sessions.Save(sess); err != nil {
		slog.Warn("executor.session_save_failed", "session", sess.ID, "error", err)
	}
	return &Result{
		Text:      finalText.String(),
		ExitCode:  0,
		Duration:  time.Since(start),
		SessionID: sess.ID,
		Usage:     usage,
	}, nil
}

func (e *APIExecutor) model(req Request) string {
	if req.Model != "" {
		return req.Model
	}
	return e.opts.Model
}

func (e *APIExecutor) loadOrMintSession(id string) (*Session, error) {
	if id != "" {
		sess, err := e.sessions.Load(id)
		if err != nil {
			return nil, errs.Wrap(errs.KindExecutorFailed, err, "load session %s", id)
		}
		if sess != nil {
			return sess, nil
		}
		// Stale id from a wiped sessions dir; start over under the same id.
		return &Session{ID: id}, nil
	}
	return &Session{ID: uuid.NewString()}, nil
}

// timedOutResult converts a deadline expiry into a partial result instead of
// an error, so the run finalizes as timed_out with whatever was produced.
func (e *APIExecutor) timedOutResult(ctx context.Context, sess *Session, start time.Time, usage Usage) *Result {
	if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil
	}
	if err := e.sessions.Save(sess); err != nil {
		slog.Warn("executor.session_save_failed", "session", sess.ID, "error", err)
	}
	return &Result{
		ExitCode:  1,
		Duration:  time.Since(start),
		SessionID: sess.ID,
		TimedOut:  true,
		Usage:     usage,
	}
}

type toolUse struct {
	id    string
	name  string
	input json.RawMessage
}

func splitContent(msg *sdk.Message) ([]sdk.ContentBlockParamUnion, []toolUse, string) {
	var (
		blocks []sdk.ContentBlockParamUnion
		uses   []toolUse
		texts  []string
	)
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			blocks = append(blocks, sdk.NewTextBlock(block.Text))
			texts = append(texts, block.Text)
		case "tool_use":
			blocks = append(blocks, sdk.NewToolUseBlock(block.ID, block.Input, block.Name))
			uses = append(uses, toolUse{id: block.ID, name: block.Name, input: block.Input})
		}
	}
	return blocks, uses, strings.Join(texts, "\n")
}

func (e *APIExecutor) dispatchTool(ctx context.Context, tu toolUse, cb Callbacks) sdk.ContentBlockParamUnion {
	var args map[string]any
	if len(tu.input) > 0 {
		if err := json.Unmarshal(tu.input, &args); err != nil {
			return sdk.NewToolResultBlock(tu.id, fmt.Sprintf("malformed tool input: %v", err), true)
		}
	}
	if cb.OnToolCall != nil {
		cb.OnToolCall(tu.name, args)
	}
	out, err := e.tools.Dispatch(ctx, tu.name, args)
	if err != nil {
		if cb.OnLog != nil {
			cb.OnLog("tool_error", fmt.Sprintf("%s: %v", tu.name, err))
		}
		return sdk.NewToolResultBlock(tu.id, err.Error(), true)
	}
	if cb.OnLog != nil {
		cb.OnLog("tool_result", fmt.Sprintf("%s: %s", tu.name, truncate(out, 500)))
	}
	return sdk.NewToolResultBlock(tu.id, out, false)
}

func toolParams(defs []ToolDefinition) []sdk.ToolUnionParam {
	params := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, d := range defs {
		u := sdk.ToolUnionParamOfTool(sdk.ToolInputSchemaParam{ExtraFields: d.Parameters}, d.Name)
		if d.Description != "" {
			u.OfTool.Description = sdk.String(d.Description)
		}
		params = append(params, u)
	}
	return params
}

// historyToParams replays the stored transcript as plain text turns.
func historyToParams(history []SessionMessage) []sdk.MessageParam {
	params := make([]sdk.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case "assistant":
			params = append(params, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			params = append(params, sdk.NewUserMessage(sdk.NewTextBlock(m.Content)))
		}
	}
	return params
}

func mapAPIError(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		switch apierr.StatusCode {
		case 401, 403:
			return errs.Wrap(errs.KindUnauthorized, err, "anthropic api rejected credentials")
		case 429:
			return errs.Wrap(errs.KindRateLimited, err, "anthropic api rate limit")
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errs.Wrap(errs.KindTimeout, err, "anthropic api call timed out")
	}
	return errs.Wrap(errs.KindExecutorFailed, err, "anthropic api call failed")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
