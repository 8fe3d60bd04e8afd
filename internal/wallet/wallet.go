// Package wallet owns key custody and the on-chain send path. Private keys
// live encrypted in the store and are decrypted only inside SendToken's
// scope; they never reach logs, activity payloads, or prompt envelopes.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/quoroomlabs/quoroom/internal/bus"
	"github.com/quoroomlabs/quoroom/internal/config"
	"github.com/quoroomlabs/quoroom/internal/errs"
	"github.com/quoroomlabs/quoroom/internal/store"
)

// Service is the wallet control plane for all rooms.
type Service struct {
	store    *store.Store
	events   bus.EventPublisher
	secret   string
	networks map[string]config.NetworkConfig
	rpcs     map[string]ChainRPC

	// One lock per room so key handling never runs in parallel.
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func New(st *store.Store, events bus.EventPublisher, cfg config.WalletConfig) *Service {
	rpcs := make(map[string]ChainRPC, len(cfg.Networks))
	for name, net := range cfg.Networks {
		if net.RPCURL != "" {
			rpcs[name] = NewHTTPChainRPC(net.RPCURL)
		}
	}
	return &Service{
		store:    st,
		events:   events,
		secret:   cfg.Secret,
		networks: cfg.Networks,
		rpcs:     rpcs,
		locks:    make(map[int64]*sync.Mutex),
	}
}

// SetChainRPC overrides the RPC client for a network. Tests use this to
// substitute a fake gateway.
func (s *Service) SetChainRPC(network string, rpc ChainRPC) {
	s.rpcs[network] = rpc
}

func (s *Service) roomLock(roomID int64) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[roomID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[roomID] = l
	}
	return l
}

// NewWalletRow generates a keypair and returns an unsaved wallet row with
// the key already encrypted. Room creation inserts it inside the birth
// transaction.
func (s *Service) NewWalletRow(chain string) (*store.Wallet, error) {
	kp, err := GenerateKeypair()
	if err != nil {
		return nil, err
	}
	sealed, err := Encrypt(s.secret, kp.PrivateKeyHex)
	if err != nil {
		return nil, err
	}
	return &store.Wallet{Address: kp.Address, EncryptedKey: sealed, Chain: chain}, nil
}

// CreateRoomWallet provisions a wallet for a room that does not have one.
// A second call fails with already_exists and leaves the first row intact.
func (s *Service) CreateRoomWallet(ctx context.Context, roomID int64, chain string) (*store.Wallet, error) {
	w, err := s.NewWalletRow(chain)
	if err != nil {
		return nil, err
	}
	w.RoomID = roomID
	if err := s.store.CreateWallet(ctx, w); err != nil {
		if errs.IsKind(err, errs.KindAlreadyExists) {
			return nil, errs.New(errs.KindAlreadyExists, "room %d already has a wallet", roomID)
		}
		return nil, err
	}
	return w, nil
}

// SendRequest is one outbound transfer.
type SendRequest struct {
	RoomID      int64
	To          string
	Amount      string // decimal string
	Token       string // token tag from the config table
	Network     string
	Description string
	WorkerID    *int64
}

func (r *SendRequest) validate() error {
	if !strings.HasPrefix(r.To, "0x") || len(r.To) != 42 {
		return errs.New(errs.KindInvalidInput, "destination address %q is not a 42-char hex address", r.To)
	}
	amt, err := strconv.ParseFloat(r.Amount, 64)
	if err != nil || amt <= 0 {
		return errs.New(errs.KindInvalidInput, "amount %q is not a positive decimal", r.Amount)
	}
	return nil
}

// SendToken decrypts the room key, submits the transfer, and logs the
// ledger row: confirmed with the hash on success, failed with the original
// error surfaced on RPC failure. Sends for one room run serially.
func (s *Service) SendToken(ctx context.Context, req SendRequest) (*store.WalletTransaction, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	net, ok := s.networks[req.Network]
	if !ok {
		return nil, errs.New(errs.KindInvalidInput, "unknown network %q", req.Network)
	}
	token, ok := net.Tokens[req.Token]
	if !ok {
		return nil, errs.New(errs.KindInvalidInput, "token %q not configured on network %q", req.Token, req.Network)
	}
	rpc, ok := s.rpcs[req.Network]
	if !ok {
		return nil, errs.New(errs.KindInvalidState, "network %q has no rpc endpoint", req.Network)
	}
	w, err := s.store.GetWalletByRoom(ctx, req.RoomID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errs.New(errs.KindNotFound, "room %d has no wallet", req.RoomID)
	}

	lock := s.roomLock(req.RoomID)
	lock.Lock()
	defer lock.Unlock()

	txRow := &store.WalletTransaction{
		WalletID:     w.ID,
		TxType:       store.TxSend,
		Amount:       req.Amount,
		Counterparty: req.To,
		Description:  req.Description,
		Status:       store.TxPending,
	}
	if err := s.store.InsertWalletTransaction(ctx, txRow); err != nil {
		return nil, err
	}

	hash, sendErr := s.submit(ctx, rpc, w, req, token)
	if sendErr != nil {
		if err := s.store.SetWalletTransactionStatus(ctx, txRow.ID, store.TxFailed, ""); err != nil {
			slog.Warn("wallet.ledger_update_failed", "tx", txRow.ID, "error", err)
		}
		txRow.Status = store.TxFailed
		s.recordSend(ctx, req, txRow, sendErr)
		return txRow, errs.Wrap(errs.KindChainFailed, sendErr, "send %s %s to %s", req.Amount, req.Token, req.To)
	}

	if err := s.store.SetWalletTransactionStatus(ctx, txRow.ID, store.TxConfirmed, hash); err != nil {
		slog.Warn("wallet.ledger_update_failed", "tx", txRow.ID, "error", err)
	}
	txRow.Status = store.TxConfirmed
	txRow.TxHash = hash
	s.recordSend(ctx, req, txRow, nil)
	if s.events != nil {
		s.events.Broadcast(bus.Event{Name: bus.EventWalletSent, RoomID: req.RoomID, Payload: txRow.ID})
	}
	return txRow, nil
}

// submit keeps the cleartext key's lifetime to this one frame.
func (s *Service) submit(ctx context.Context, rpc ChainRPC, w *store.Wallet, req SendRequest, token config.TokenConfig) (string, error) {
	keyHex, err := Decrypt(s.secret, w.EncryptedKey)
	if err != nil {
		return "", err
	}
	return rpc.SendToken(ctx, TransferRequest{
		From:          w.Address,
		To:            req.To,
		Amount:        req.Amount,
		TokenAddress:  token.Address,
		TokenDecimals: token.Decimals,
		Network:       req.Network,
		PrivateKeyHex: keyHex,
	})
}

func (s *Service) recordSend(ctx context.Context, req SendRequest, tx *store.WalletTransaction, sendErr error) {
	summary := fmt.Sprintf("sent %s %s to %s", req.Amount, req.Token, req.To)
	if sendErr != nil {
		summary = fmt.Sprintf("send of %s %s to %s failed", req.Amount, req.Token, req.To)
	}
	payload, _ := json.Marshal(map[string]any{
		"transactionId": tx.ID,
		"status":        tx.Status,
		"txHash":        tx.TxHash,
	})
	if err := s.store.AppendActivity(ctx, &store.Activity{
		RoomID:    req.RoomID,
		WorkerID:  req.WorkerID,
		EventType: "wallet",
		Summary:   summary,
		Payload:   string(payload),
	}); err != nil {
		slog.Warn("wallet.activity_failed", "room", req.RoomID, "error", err)
	}
}

// Summary is the envelope- and tool-facing view of a room wallet: address
// and ledger only, no key material.
type Summary struct {
	Address      string
	Chain        string
	Transactions []store.WalletTransaction
}

// Summarize returns the room's wallet summary, or nil when the room has no
// wallet.
func (s *Service) Summarize(ctx context.Context, roomID int64, txLimit int) (*Summary, error) {
	w, err := s.store.GetWalletByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, nil
	}
	txs, err := s.store.ListWalletTransactions(ctx, w.ID, txLimit)
	if err != nil {
		return nil, err
	}
	return &Summary{Address: w.Address, Chain: w.Chain, Transactions: txs}, nil
}

// History returns the room's ledger, newest first.
func (s *Service) History(ctx context.Context, roomID int64, limit int) ([]store.WalletTransaction, error) {
	w, err := s.store.GetWalletByRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if w == nil {
		return nil, errs.New(errs.KindNotFound, "room %d has no wallet", roomID)
	}
	return s.store.ListWalletTransactions(ctx, w.ID, limit)
}
