package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/memory"
)

// RegisterMemoryTools wires remember and recall.
func RegisterMemoryTools(r *Registry, svc *memory.Service) {
	r.Register(&rememberTool{svc})
	r.Register(&recallTool{svc})
}

type rememberTool struct{ svc *memory.Service }

func (t *rememberTool) Name() string { return "remember" }
func (t *rememberTool) Description() string {
	return "Store observations about an entity in room memory. Creates the entity when it does not exist yet."
}
func (t *rememberTool) Parameters() map[string]any {
	return schema([]string{"name", "observations"}, map[string]any{
		"name":        prop("string", "Entity the observations attach to."),
		"entity_type": prop("string", "One of fact, preference, person, project, event. Default fact."),
		"category":    prop("string", "Free-form grouping label."),
		"observations": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "Observations to append.",
		},
		"relations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"to":   prop("string", "Target entity name."),
					"type": prop("string", "Relation label, e.g. 'depends_on'."),
				},
			},
			"description": "Optional links to other entities.",
		},
	})
}

func (t *rememberTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	name, err := requireString(args, "name")
	if err != nil {
		return "", err
	}
	observations := stringSliceArg(args, "observations")
	if len(observations) == 0 {
		return "", errs.New(errs.KindInvalidInput, "observations is required")
	}
	req := memory.RememberRequest{
		RoomID:       sc.RoomID,
		Name:         name,
		EntityType:   stringArg(args, "entity_type"),
		Category:     stringArg(args, "category"),
		Observations: observations,
		Source:       workerSource(sc),
	}
	if raw, ok := args["relations"].([]any); ok {
		for _, item := range raw {
			rel, ok := item.(map[string]any)
			if !ok {
				continue
			}
			to, _ := rel["to"].(string)
			relType, _ := rel["type"].(string)
			if to != "" && relType != "" {
				req.Relations = append(req.Relations, memory.RelationSpec{To: to, Type: relType})
			}
		}
	}
	entity, err := t.svc.Remember(ctx, req)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("remembered %s about %q (entity %d)",
		formatCount(len(observations), "observation"), entity.Name, entity.ID), nil
}

type recallTool struct{ svc *memory.Service }

func (t *recallTool) Name() string { return "recall" }
func (t *recallTool) Description() string {
	return "Search room memory. Combines keyword and semantic matching."
}
func (t *recallTool) Parameters() map[string]any {
	return schema([]string{"query"}, map[string]any{
		"query": prop("string", "What to look for."),
		"limit": prop("number", "Maximum results, default 8."),
	})
}

func (t *recallTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	query, err := requireString(args, "query")
	if err != nil {
		return "", err
	}
	hits, err := t.svc.Recall(ctx, sc.RoomID, query, intArg(args, "limit", 0))
	if err != nil {
		return "", err
	}
	if len(hits) == 0 {
		return "no memories match: " + query, nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s for %q:\n", formatCount(len(hits), "result"), query)
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, h.EntityName, h.Content)
	}
	return sb.String(), nil
}

func workerSource(sc Scope) string {
	if sc.WorkerID != nil {
		return fmt.Sprintf("worker:%d", *sc.WorkerID)
	}
	return "keeper"
}
