package store

import (
	"context"
	"database/sql"

	"github.com/quoroomlabs/quoroom/internal/errs"
)

// CreateWallet inserts a room's wallet. The room_id unique index enforces
// one wallet per room; a second insert comes back already_exists.
func (s *Store) CreateWallet(ctx context.Context, w *Wallet) error {
	now := NowMs()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets (room_id, address, encrypted_key, chain, identity_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		w.RoomID, w.Address, w.EncryptedKey, w.Chain, w.IdentityID, now)
	if err != nil {
		return mapSQLErr(err)
	}
	w.ID, _ = res.LastInsertId()
	w.CreatedAt = now
	return nil
}

// GetWalletByRoom returns the room's wallet or (nil, nil).
func (s *Store) GetWalletByRoom(ctx context.Context, roomID int64) (*Wallet, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, room_id, address, encrypted_key, chain, identity_id, created_at
		 FROM wallets WHERE room_id = ?`, roomID)
	var w Wallet
	err := row.Scan(&w.ID, &w.RoomID, &w.Address, &w.EncryptedKey, &w.Chain, &w.IdentityID, &w.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, mapSQLErr(err)
	}
	return &w, nil
}

// SetWalletIdentity stores the cloud-issued identity for the wallet.
func (s *Store) SetWalletIdentity(ctx context.Context, walletID int64, identityID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE wallets SET identity_id = ? WHERE id = ?`, identityID, walletID)
	if err != nil {
		return mapSQLErr(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.KindNotFound, "wallet %d not found", walletID)
	}
	return nil
}

// InsertWalletTransaction appends to the wallet ledger.
func (s *Store) InsertWalletTransaction(ctx context.Context, t *WalletTransaction) error {
	now := NowMs()
	if t.Status == "" {
		t.Status = TxPending
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO wallet_transactions (wallet_id, tx_type, amount, counterparty, tx_hash, description, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.WalletID, t.TxType, t.Amount, t.Counterparty, t.TxHash, t.Description, t.Status, now)
	if err != nil {
		return mapSQLErr(err)
	}
	t.ID, _ = res.LastInsertId()
	t.CreatedAt = now
	return nil
}

// SetWalletTransactionStatus settles a pending ledger entry.
func (s *Store) SetWalletTransactionStatus(ctx context.Context, id int64, status, txHash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE wallet_transactions SET status = ?, tx_hash = ? WHERE id = ?`, status, txHash, id)
	if err != nil {
		return mapSQLErr(err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return errs.New(errs.KindNotFound, "wallet transaction %d not found", id)
	}
	return nil
}

// ListWalletTransactions returns the ledger, newest first.
func (s *Store) ListWalletTransactions(ctx context.Context, walletID int64, limit int) ([]WalletTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, wallet_id, tx_type, amount, counterparty, tx_hash, description, status, created_at
		 FROM wallet_transactions WHERE wallet_id = ? ORDER BY id DESC LIMIT ?`, walletID, limit)
	if err != nil {
		return nil, mapSQLErr(err)
	}
	defer rows.Close()

	var out []WalletTransaction
	for rows.Next() {
		var t WalletTransaction
		if err := rows.Scan(&t.ID, &t.WalletID, &t.TxType, &t.Amount, &t.Counterparty,
			&t.TxHash, &t.Description, &t.Status, &t.CreatedAt); err != nil {
			return nil, mapSQLErr(err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
