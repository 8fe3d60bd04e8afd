package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/goals"
	"github.com/quoroomlabs/quoroom/internal/store"
)

// RegisterGoalTools wires the goal-tree tools onto the registry.
func RegisterGoalTools(r *Registry, svc *goals.Service) {
	r.Register(&setGoalTool{svc})
	r.Register(&createSubgoalTool{svc})
	r.Register(&updateProgressTool{svc})
	r.Register(&goalTransitionTool{svc: svc, name: "complete_goal", verb: "completed",
		desc: "Mark a goal as completed. Progress is forced to 100% and parent goals re-roll."})
	r.Register(&goalTransitionTool{svc: svc, name: "abandon_goal", verb: "abandoned",
		desc: "Abandon a goal. It drops out of its parent's progress average."})
}

type setGoalTool struct{ svc *goals.Service }

func (t *setGoalTool) Name() string { return "set_goal" }
func (t *setGoalTool) Description() string {
	return "Create a new top-level goal for the room."
}
func (t *setGoalTool) Parameters() map[string]any {
	return schema([]string{"description"}, map[string]any{
		"description": prop("string", "What the goal is, in one sentence."),
	})
}

func (t *setGoalTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	desc, err := requireString(args, "description")
	if err != nil {
		return "", err
	}
	g, err := t.svc.SetObjective(ctx, sc.RoomID, desc, sc.WorkerID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("goal %d created: %s", g.ID, g.Description), nil
}

type createSubgoalTool struct{ svc *goals.Service }

func (t *createSubgoalTool) Name() string { return "create_subgoal" }
func (t *createSubgoalTool) Description() string {
	return "Decompose a goal into subgoals. Parent progress becomes the mean of its children."
}
func (t *createSubgoalTool) Parameters() map[string]any {
	return schema([]string{"parent_goal_id", "descriptions"}, map[string]any{
		"parent_goal_id": prop("number", "Goal to decompose."),
		"descriptions": map[string]any{
			"type":        "array",
			"items":       map[string]any{"type": "string"},
			"description": "One description per subgoal.",
		},
	})
}

func (t *createSubgoalTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	parentID, err := int64Arg(args, "parent_goal_id")
	if err != nil {
		return "", err
	}
	descs := stringSliceArg(args, "descriptions")
	if len(descs) == 0 {
		return "", errs.New(errs.KindInvalidInput, "descriptions is required")
	}
	created, err := t.svc.Decompose(ctx, sc.RoomID, parentID, descs, sc.WorkerID)
	if err != nil {
		return "", err
	}
	ids := make([]string, len(created))
	for i, g := range created {
		ids[i] = fmt.Sprintf("%d", g.ID)
	}
	return fmt.Sprintf("created %s under goal %d: ids %s",
		formatCount(len(created), "subgoal"), parentID, strings.Join(ids, ", ")), nil
}

type updateProgressTool struct{ svc *goals.Service }

func (t *updateProgressTool) Name() string { return "update_progress" }
func (t *updateProgressTool) Description() string {
	return "Record progress on a goal. Metric above 1 reads as a percentage (50 means 50%)."
}
func (t *updateProgressTool) Parameters() map[string]any {
	return schema([]string{"goal_id", "observation"}, map[string]any{
		"goal_id":     prop("number", "Goal being advanced."),
		"observation": prop("string", "What happened."),
		"metric":      prop("number", "Progress value: 0-1 fraction or 1-100 percentage."),
	})
}

func (t *updateProgressTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	goalID, err := int64Arg(args, "goal_id")
	if err != nil {
		return "", err
	}
	observation, err := requireString(args, "observation")
	if err != nil {
		return "", err
	}
	metric, _ := floatArg(args, "metric")
	changed, err := t.svc.UpdateProgress(ctx, sc.RoomID, goalID, observation, metric, sc.WorkerID)
	if err != nil {
		return "", err
	}
	return summarizeGoals(goalID, changed), nil
}

type goalTransitionTool struct {
	svc  *goals.Service
	name string
	verb string
	desc string
}

func (t *goalTransitionTool) Name() string        { return t.name }
func (t *goalTransitionTool) Description() string { return t.desc }
func (t *goalTransitionTool) Parameters() map[string]any {
	return schema([]string{"goal_id"}, map[string]any{
		"goal_id": prop("number", "Goal to transition."),
	})
}

func (t *goalTransitionTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	goalID, err := int64Arg(args, "goal_id")
	if err != nil {
		return "", err
	}
	var changed []store.Goal
	if t.verb == "completed" {
		changed, err = t.svc.Complete(ctx, sc.RoomID, goalID, sc.WorkerID)
	} else {
		changed, err = t.svc.Abandon(ctx, sc.RoomID, goalID, sc.WorkerID)
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("goal %d %s; %s", goalID, t.verb, summarizeGoals(goalID, changed)), nil
}

func summarizeGoals(goalID int64, changed []store.Goal) string {
	for _, g := range changed {
		if g.ID == goalID {
			return fmt.Sprintf("goal %d now %s at %.0f%% (%s updated in tree)",
				g.ID, g.Status, g.Progress*100, formatCount(len(changed), "goal"))
		}
	}
	return fmt.Sprintf("%s updated", formatCount(len(changed), "goal"))
}
