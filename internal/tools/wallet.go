package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/quoroomlabs/quoroom/internal/store"
	"github.com/quoroomlabs/quoroom/internal/wallet"
)

// RegisterWalletTools wires the wallet tools. wallet_send is queen-only by
// surface; balance and history are open to every worker.
func RegisterWalletTools(r *Registry, svc *wallet.Service) {
	r.Register(&walletBalanceTool{svc})
	r.Register(&walletSendTool{svc})
	r.Register(&walletHistoryTool{svc})
}

type walletBalanceTool struct{ svc *wallet.Service }

func (t *walletBalanceTool) Name() string { return "wallet_balance" }
func (t *walletBalanceTool) Description() string {
	return "Show the room wallet address, chain, and recent ledger entries."
}
func (t *walletBalanceTool) Parameters() map[string]any {
	return schema(nil, map[string]any{})
}

func (t *walletBalanceTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	sum, err := t.svc.Summarize(ctx, sc.RoomID, 5)
	if err != nil {
		return "", err
	}
	if sum == nil {
		return "this room has no wallet", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "wallet %s on %s\n", sum.Address, sum.Chain)
	if len(sum.Transactions) == 0 {
		sb.WriteString("no transactions yet")
	} else {
		for _, tx := range sum.Transactions {
			fmt.Fprintf(&sb, "- %s %s %s (%s)\n", tx.TxType, tx.Amount, tx.Counterparty, tx.Status)
		}
	}
	return sb.String(), nil
}

type walletSendTool struct{ svc *wallet.Service }

func (t *walletSendTool) Name() string { return "wallet_send" }
func (t *walletSendTool) Description() string {
	return "Send tokens from the room wallet. The transfer is recorded in the ledger either way; failures surface the chain error."
}
func (t *walletSendTool) Parameters() map[string]any {
	return schema([]string{"to", "amount", "token", "network"}, map[string]any{
		"to":          prop("string", "Destination address, 0x-prefixed."),
		"amount":      prop("string", "Decimal amount as a string."),
		"token":       prop("string", "Token tag from the wallet configuration."),
		"network":     prop("string", "Network name from the wallet configuration."),
		"description": prop("string", "Why this transfer happens."),
	})
}

func (t *walletSendTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	to, err := requireString(args, "to")
	if err != nil {
		return "", err
	}
	amount, err := requireString(args, "amount")
	if err != nil {
		return "", err
	}
	token, err := requireString(args, "token")
	if err != nil {
		return "", err
	}
	network, err := requireString(args, "network")
	if err != nil {
		return "", err
	}
	tx, err := t.svc.SendToken(ctx, wallet.SendRequest{
		RoomID:      sc.RoomID,
		To:          to,
		Amount:      amount,
		Token:       token,
		Network:     network,
		Description: stringArg(args, "description"),
		WorkerID:    sc.WorkerID,
	})
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("sent %s %s to %s, tx %s (%s)", amount, token, to, tx.TxHash, tx.Status), nil
}

type walletHistoryTool struct{ svc *wallet.Service }

func (t *walletHistoryTool) Name() string { return "wallet_history" }
func (t *walletHistoryTool) Description() string {
	return "List the room wallet ledger, newest first."
}
func (t *walletHistoryTool) Parameters() map[string]any {
	return schema(nil, map[string]any{
		"limit": prop("number", "Maximum entries, default 20."),
	})
}

func (t *walletHistoryTool) Execute(ctx context.Context, args map[string]any) (string, error) {
	sc, err := ScopeFromCtx(ctx)
	if err != nil {
		return "", err
	}
	txs, err := t.svc.History(ctx, sc.RoomID, intArg(args, "limit", 20))
	if err != nil {
		return "", err
	}
	if len(txs) == 0 {
		return "ledger is empty", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s:\n", formatCount(len(txs), "transaction"))
	for _, tx := range txs {
		sb.WriteString(formatTx(tx))
	}
	return sb.String(), nil
}

func formatTx(tx store.WalletTransaction) string {
	line := fmt.Sprintf("- #%d %s %s", tx.ID, tx.TxType, tx.Amount)
	if tx.Counterparty != "" {
		line += " -> " + tx.Counterparty
	}
	line += fmt.Sprintf(" [%s]", tx.Status)
	if tx.Description != "" {
		line += " " + tx.Description
	}
	return line + "\n"
}
