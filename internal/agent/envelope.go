package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkoukk/tiktoken-go"

	"github.com/quoroomlabs/quoroom/internal/store"
)

const (
	envelopeTokenBudget = 8000
	recentActivityCount = 15
)

// envelope is the per-cycle snapshot of room state a worker reasons over.
type envelope struct {
	goals     []store.Goal
	activity  []store.Activity
	decisions []store.Decision
	messages  []store.Message
	tasks     []store.Task
	wallet    *store.Wallet
	walletTxs []store.WalletTransaction
	wip       string
}

// buildEnvelope snapshots the room for one cycle. Unread messages are
// marked read once they are included; a message is delivered to a cycle
// exactly once.
func (m *Manager) buildEnvelope(ctx context.Context, roomID int64, w *store.Worker) (*envelope, error) {
	env := &envelope{wip: w.WIP}
	var err error

	if env.goals, err = m.store.ListOpenGoals(ctx, roomID); err != nil {
		return nil, err
	}
	if env.activity, err = m.store.ListActivity(ctx, roomID, 0, recentActivityCount); err != nil {
		return nil, err
	}
	if env.decisions, err = m.store.ListOpenDecisionsForVoter(ctx, roomID, w.ID); err != nil {
		return nil, err
	}
	if env.messages, err = m.store.ListUnreadForWorker(ctx, roomID, w.ID, 20); err != nil {
		return nil, err
	}
	if len(env.messages) > 0 {
		ids := make([]int64, len(env.messages))
		for i, msg := range env.messages {
			ids[i] = msg.ID
		}
		if err := m.store.MarkMessagesRead(ctx, ids); err != nil {
			return nil, err
		}
	}
	if env.tasks, err = m.store.ListTasks(ctx, roomID, store.TaskActive); err != nil {
		return nil, err
	}
	if env.wallet, err = m.store.GetWalletByRoom(ctx, roomID); err != nil {
		return nil, err
	}
	if env.wallet != nil {
		if env.walletTxs, err = m.store.ListWalletTransactions(ctx, env.wallet.ID, 5); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// render flattens the envelope to prompt text. When the result overruns the
// token budget, the activity trail is dropped first, then task detail.
func (env *envelope) render(room *store.Room) string {
	full := env.renderParts(room, true, true)
	if countTokens(full) <= envelopeTokenBudget {
		return full
	}
	trimmed := env.renderParts(room, false, true)
	if countTokens(trimmed) <= envelopeTokenBudget {
		return trimmed
	}
	return env.renderParts(room, false, false)
}

func (env *envelope) renderParts(room *store.Room, withActivity, withTasks bool) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "# Room: %s\nObjective: %s\n\n", room.Name, room.Objective)

	sb.WriteString("## Goals\n")
	if len(env.goals) == 0 {
		sb.WriteString("(none)\n")
	}
	for _, g := range env.goals {
		indent := ""
		if g.ParentGoalID != nil {
			indent = "  "
		}
		fmt.Fprintf(&sb, "%s- [%d] %s (%s, %.0f%%)\n", indent, g.ID, g.Description, g.Status, g.Progress*100)
	}

	if len(env.decisions) > 0 {
		sb.WriteString("\n## Decisions awaiting your vote\n")
		for _, d := range env.decisions {
			fmt.Fprintf(&sb, "- [%d] %s (%s, %s, threshold %s)\n", d.ID, d.Proposal, d.DecisionType, d.Status, d.Threshold)
		}
	}

	if len(env.messages) > 0 {
		sb.WriteString("\n## New messages\n")
		for _, msg := range env.messages {
			from := msg.Sender
			if msg.FromWorkerID != nil {
				from = fmt.Sprintf("worker %d", *msg.FromWorkerID)
			}
			fmt.Fprintf(&sb, "- from %s: %s\n", from, msg.Content)
		}
	}

	if withTasks && len(env.tasks) > 0 {
		sb.WriteString("\n## Delegated tasks\n")
		for _, t := range env.tasks {
			fmt.Fprintf(&sb, "- [%d] %s (%s, runs %d", t.ID, t.Name, t.TriggerType, t.RunCount)
			if t.ErrorCount > 0 {
				fmt.Fprintf(&sb, ", errors %d", t.ErrorCount)
			}
			sb.WriteString(")\n")
		}
	}

	if env.wallet != nil {
		fmt.Fprintf(&sb, "\n## Wallet\nAddress %s on %s\n", env.wallet.Address, env.wallet.Chain)
		for _, tx := range env.walletTxs {
			fmt.Fprintf(&sb, "- %s %s %s (%s)\n", tx.TxType, tx.Amount, tx.Counterparty, tx.Status)
		}
	}

	if withActivity && len(env.activity) > 0 {
		sb.WriteString("\n## Recent activity\n")
		for _, a := range env.activity {
			fmt.Fprintf(&sb, "- [%s] %s\n", a.EventType, a.Summary)
		}
	}

	if env.wip != "" {
		fmt.Fprintf(&sb, "\n## Your work in progress from last cycle\n%s\n", env.wip)
	}

	sb.WriteString("\nDecide what to do this cycle. Use tools to act; finish with a short note of where you left off.")
	return sb.String()
}

// countTokens measures prompt length. The encoder ships with the binary;
// if it is unavailable for any reason we estimate at four bytes per token.
func countTokens(text string) int {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return len(text) / 4
	}
	return len(enc.Encode(text, nil, nil))
}
