package db

import (
	"context"
	"errors"
	"fmt"

	"ms-ledger/internal/database"
	"ms-ledger/internal/models"
)

// ---------------- LEDGER ----------------

// AppendTransaction writes one ledger entry. An entry whose idempotency key
// is already recorded for the wallet is not written again: the stored entry
// is returned with applied=true. When the duplicate only shows up as a
// constraint violation, ErrAlreadyApplied tells the caller to roll back and
// re-query.
func (d *DB) AppendTransaction(ctx context.Context, entry *models.Transaction) (*models.Transaction, bool, error) {
	if entry.IdempotencyKey != "" {
		existing, err := d.FindTransactionByKey(ctx, entry.WalletID, entry.IdempotencyKey)
		if err == nil {
			return existing, true, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, false, err
		}
	}

	_, err := d.conn(ctx).NewInsert().Model(entry).Exec(ctx)
	if err != nil {
		switch {
		case database.ViolatesUnique(err, "idempotency_key"):
			return nil, false, models.ErrAlreadyApplied
		case database.ViolatesUnique(err, "sequence"):
			return nil, false, models.ErrConcurrentModification
		}
		return nil, false, fmt.Errorf("insert transaction for wallet %s: %w", entry.WalletID, err)
	}
	return entry, false, nil
}

// FindTransactionByKey → the entry recorded under an idempotency key
func (d *DB) FindTransactionByKey(ctx context.Context, walletID, key string) (*models.Transaction, error) {
	var tx models.Transaction
	err := d.conn(ctx).NewSelect().
		Model(&tx).
		Where("wallet_id = ?", walletID).
		Where("idempotency_key = ?", key).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

// ListTransactions returns a wallet's entries newest first. limit <= 0 returns
// the whole history and ignores offset.
func (d *DB) ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]models.Transaction, error) {
	txs := []models.Transaction{}
	q := d.conn(ctx).NewSelect().
		Model(&txs).
		Where("wallet_id = ?", walletID).
		Order("sequence DESC")
	if limit > 0 {
		q = q.Limit(limit)
		if offset > 0 {
			q = q.Offset(offset)
		}
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return txs, nil
}

// ListTransactionsByOrder → every entry of a wallet that references orderID
func (d *DB) ListTransactionsByOrder(ctx context.Context, walletID, orderID string) ([]models.Transaction, error) {
	txs := []models.Transaction{}
	err := d.conn(ctx).NewSelect().
		Model(&txs).
		Where("wallet_id = ?", walletID).
		Where("order_id = ?", orderID).
		Order("sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return txs, nil
}

// CountTransactions → number of ledger entries for a wallet
func (d *DB) CountTransactions(ctx context.Context, walletID string) (int, error) {
	return d.conn(ctx).NewSelect().
		Model((*models.Transaction)(nil)).
		Where("wallet_id = ?", walletID).
		Count(ctx)
}
