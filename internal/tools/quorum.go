package tools

import (
	"context"
	"fmt"

	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/quorum"
	"github.com/quoroomlabs/quoroom/internal/store"
)

// RegisterQuorumTools wires the proposal and voting tools.
func RegisterQuorumTools(r *Registry, svc *quorum.Service) {
	r.Register(&proposeTool{svc})
	r.Register(&voteTool{svc})
}

type proposeTool struct{ svc *quorum.Service }

func (t *proposeTool) Name() string { return "propose" }
func (t *proposeTool) Description() string {
	return "Open a decision for the room. Most types start a voting round; announcements take effect after a grace period unless objected to."
}
func (t *proposeTool) Parameters() map[string]any {
	return schema([]string{"proposal", "decision_type"}, map[string]any{
		"proposal": prop("string", "What is being decided."),
		"decision_type": map[string]any{
			"type": "string",
			"enum": []string{
				store.DecisionStrategy, store.DecisionResource, store.DecisionPersonnel,
				store.DecisionRuleChange, store.DecisionLowImpact,
			},
			"description": "Kind of decision; governs threshold handling.",
		},
		"announce": prop("boolean", "Announce instead of vote: effective after the grace window unless a worker objects."),
		"sealed":   prop("boolean", "Hide ballots until the round resolves."),
	})
}

func (t *proposeTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	proposal, err := requireString(args, "proposal")
	if err != nil {
		return "", err
	}
	decisionType, err := requireString(args, "decision_type")
	if err != nil {
		return "", err
	}
	req := quorum.ProposeRequest{
		RoomID:       sc.RoomID,
		ProposerID:   sc.WorkerID,
		Proposal:     proposal,
		DecisionType: decisionType,
		Sealed:       boolArg(args, "sealed"),
	}
	var d *store.Decision
	if boolArg(args, "announce") {
		d, err = t.svc.Announce(ctx, req)
	} else {
		d, err = t.svc.Propose(ctx, req)
	}
	if err != nil {
		return "", err
	}
	switch d.Status {
	case store.DecisionApproved:
		return fmt.Sprintf("decision %d auto-approved (%s)", d.ID, d.DecisionType), nil
	case store.DecisionAnnounced:
		return fmt.Sprintf("decision %d announced; effective unless objected to", d.ID), nil
	default:
		return fmt.Sprintf("decision %d open for voting, threshold %s", d.ID, d.Threshold), nil
	}
}

type voteTool struct{ svc *quorum.Service }

func (t *voteTool) Name() string { return "vote" }
func (t *voteTool) Description() string {
	return "Cast or change a ballot on an open decision. Voting no on an announcement objects to it and reopens voting."
}
func (t *voteTool) Parameters() map[string]any {
	return schema([]string{"decision_id", "value"}, map[string]any{
		"decision_id": prop("number", "Decision to vote on."),
		"value": map[string]any{
			"type":        "string",
			"enum":        []string{store.VoteYes, store.VoteNo, store.VoteAbstain},
			"description": "Ballot value.",
		},
		"reasoning": prop("string", "Short rationale, recorded with the ballot."),
	})
}

func (t *voteTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	if sc.WorkerID == nil {
		return "", errs.New(errs.KindInvalidState, "voting requires a worker identity")
	}
	decisionID, err := int64Arg(args, "decision_id")
	if err != nil {
		return "", err
	}
	value, err := requireString(args, "value")
	if err != nil {
		return "", err
	}
	d, err := t.svc.Vote(ctx, sc.RoomID, decisionID, *sc.WorkerID, value, stringArg(args, "reasoning"))
	if err != nil {
		return "", err
	}
	if store.DecisionTerminal(d.Status) {
		return fmt.Sprintf("ballot recorded; decision %d resolved: %s", d.ID, d.Result), nil
	}
	return fmt.Sprintf("ballot recorded; decision %d still %s", d.ID, d.Status), nil
}
