package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/talgya/hexturf/internal/contest"
)

// ErrNegativeAmount is returned when crediting a negative amount.
var ErrNegativeAmount = errors.New("persistence: negative amount")

// Credit adds amount to ownerID's wallet, creating it if needed.
// Balances saturate at contest.MaxScore.
func (db *DB) Credit(ctx context.Context, ownerID string, amount int64) (int64, error) {
	if amount < 0 {
		return 0, ErrNegativeAmount
	}
	amount = min(amount, contest.MaxScore)

	tx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO wallets (owner_id, balance) VALUES (?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET balance = MIN(wallets.balance + excluded.balance, ?)`,
		ownerID, amount, contest.MaxScore)
	if err != nil {
		return 0, fmt.Errorf("credit %s: %w", ownerID, err)
	}
	var balance int64
	if err := tx.GetContext(ctx, &balance, "SELECT balance FROM wallets WHERE owner_id = ?", ownerID); err != nil {
		return 0, err
	}
	return balance, tx.Commit()
}

// Balance returns ownerID's balance; an unknown wallet holds zero.
func (db *DB) Balance(ctx context.Context, ownerID string) (int64, error) {
	var balance int64
	err := db.conn.GetContext(ctx, &balance,
		"SELECT COALESCE((SELECT balance FROM wallets WHERE owner_id = ?), 0)", ownerID)
	return balance, err
}

// debit takes amount from ownerID if the balance covers it.
func debit(ctx context.Context, tx *sqlx.Tx, ownerID string, amount int64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		"UPDATE wallets SET balance = balance - ? WHERE owner_id = ? AND balance >= ?",
		amount, ownerID, amount)
	if err != nil {
		return false, fmt.Errorf("debit %s: %w", ownerID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
