package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

// CLIOptions configures the subprocess backend.
type CLIOptions struct {
	Command string
	Args    []string
	Model   string
	Timeout time.Duration
}

// CLIExecutor shells out to an agent CLI that owns its own tool loop and
// session files. Stdout is a stream of JSON lines; the final "result" line
// carries the answer text and the session id for later resumes.
type CLIExecutor struct {
	opts CLIOptions
}

func NewCLIExecutor(opts CLIOptions) *CLIExecutor {
	return &CLIExecutor{opts: opts}
}

func (e *CLIExecutor) Name() string { return "cli" }

// streamEvent is the subset of the CLI's JSON-line protocol the engine
// cares about. Unknown event types pass through to the console log.
type streamEvent struct {
	Type      string `json:"type"`
	Subtype   string `json:"subtype"`
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
	IsError   bool   `json:"is_error"`
	Message   struct {
		Content []struct {
			Type  string          `json:"type"`
			Text  string          `json:"text"`
			Name  string          `json:"name"`
			Input json.RawMessage `json:"input"`
		} `json:"content"`
	} `json:"message"`
}

func (e *CLIExecutor) Run(ctx context.Context, req Request, cb Callbacks) (*Result, error) {
	start := time.Now()
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	args := e.buildArgs(req)
	cmd := exec.CommandContext(ctx, e.opts.Command, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindExecutorFailed, err, "open stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errs.Wrap(errs.KindExecutorFailed, err, "open stderr pipe")
	}
	if err := cmd.Start(); err != nil {
		return nil, errs.Wrap(errs.KindExecutorFailed, err, "start %s", e.opts.Command)
	}

	errDone := make(chan struct{})
	go func() {
		defer close(errDone)
		sc := bufio.NewScanner(stderr)
		sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for sc.Scan() {
			if cb.OnLog != nil {
				cb.OnLog("stderr", sc.Text())
			}
		}
	}()

	res := &Result{SessionID: req.SessionID}
	sc := bufio.NewScanner(stdout)
	sc.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		e.consumeLine(line, res, cb)
	}
	<-errDone

	waitErr := cmd.Wait()
	res.Duration = time.Since(start)

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		res.TimedOut = true
		res.ExitCode = 1
		return res, nil
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, errs.Wrap(errs.KindExecutorFailed, waitErr, "run %s", e.opts.Command)
	}
	return res, nil
}

func (e *CLIExecutor) buildArgs(req Request) []string {
	args := append([]string{}, e.opts.Args...)
	args = append(args, "-p", req.Prompt, "--output-format", "stream-json", "--verbose")
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	model := req.Model
	if model == "" {
		model = e.opts.Model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if req.MaxTurns > 0 {
		args = append(args, "--max-turns", strconv.Itoa(req.MaxTurns))
	}
	if req.SessionID != "" {
		args = append(args, "--resume", req.SessionID)
	}
	for _, t := range req.AllowedTools {
		args = append(args, "--allowedTools", t)
	}
	for _, t := range req.DisallowedTools {
		args = append(args, "--disallowedTools", t)
	}
	return args
}

func (e *CLIExecutor) consumeLine(line string, res *Result, cb Callbacks) {
	var ev streamEvent
	if err := json.Unmarshal([]byte(line), &ev); err != nil {
		// Not protocol output; surface it raw.
		if cb.OnLog != nil {
			cb.OnLog("stdout", line)
		}
		return
	}
	if ev.SessionID != "" {
		res.SessionID = ev.SessionID
	}
	switch ev.Type {
	case "assistant":
		for _, block := range ev.Message.Content {
			switch block.Type {
			case "text":
				if cb.OnLog != nil && block.Text != "" {
					cb.OnLog("assistant", block.Text)
				}
			case "tool_use":
				if cb.OnToolCall != nil {
					var args map[string]any
					if len(block.Input) > 0 {
						if err := json.Unmarshal(block.Input, &args); err != nil {
							slog.Debug("executor.cli_tool_input_unparsed", "tool", block.Name, "error", err)
						}
					}
					cb.OnToolCall(block.Name, args)
				}
			}
		}
	case "result":
		res.Text = ev.Result
		if ev.IsError && res.ExitCode == 0 {
			res.ExitCode = 1
		}
		if cb.OnLog != nil && ev.Subtype != "" && ev.Subtype != "success" {
			cb.OnLog("system", fmt.Sprintf("result: %s", ev.Subtype))
		}
	default:
		if cb.OnLog != nil {
			cb.OnLog("system", line)
		}
	}
}
