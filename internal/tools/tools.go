// Package tools is the closed tool surface offered to room agents. Every
// tool call coming back from an executor resolves here; unknown names are
// rejected rather than forwarded anywhere.
package tools

import (
	"context"
	"fmt"
	"sort"

	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/executor"
)

// Tool is one named operation the model may invoke.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any // JSON schema
	Execute(ctx context.Context, args map[string]any) (string, error)
}

// Registry holds the tool set and implements executor.Dispatcher.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Later registrations with the same name replace
// earlier ones.
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	if _, exists := r.tools[t.Name()]; !exists {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

// Names returns the registered tool names, registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Definitions returns the schema set after applying the allow and deny
// lists. An empty allow list means every registered tool.
func (r *Registry) Definitions(allowed, disallowed []string) []executor.ToolDefinition {
	allow := toSet(allowed)
	deny := toSet(disallowed)
	var defs []executor.ToolDefinition
	for _, name := range r.order {
		if len(allow) > 0 && !allow[name] {
			continue
		}
		if deny[name] {
			continue
		}
		t := r.tools[name]
		defs = append(defs, executor.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return defs
}

// Dispatch executes one tool call. The caller's scope (room, worker, run)
// rides on the context and is enforced by each tool.
func (r *Registry) Dispatch(ctx context.Context, name string, args map[string]any) (string, error) {
	t, ok := r.tools[name]
	if !ok {
		return "", errs.New(errs.KindInvalidInput, "unknown tool %q", name)
	}
	return t.Execute(ctx, args)
}

func toSet(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}

// --- argument decoding helpers ---

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func requireString(args map[string]any, key string) (string, error) {
	v, ok := args[key].(string)
	if !ok || v == "" {
		return "", errs.New(errs.KindInvalidInput, "%s is required", key)
	}
	return v, nil
}

func intArg(args map[string]any, key string, def int) int {
	if v, ok := args[key].(float64); ok {
		return int(v)
	}
	return def
}

func int64Arg(args map[string]any, key string) (int64, error) {
	v, ok := args[key].(float64)
	if !ok {
		return 0, errs.New(errs.KindInvalidInput, "%s is required", key)
	}
	return int64(v), nil
}

func floatArg(args map[string]any, key string) (*float64, bool) {
	if v, ok := args[key].(float64); ok {
		return &v, true
	}
	return nil, false
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, ok := args[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func schema(required []string, props map[string]any) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		sort.Strings(required)
		s["required"] = required
	}
	return s
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func formatCount(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
