package db

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"ms-ledger/internal/database"
	"ms-ledger/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func New(bunDB *bun.DB) *DB {
	return &DB{Bun: bunDB}
}

// conn joins the caller's transaction when ctx carries one.
func (d *DB) conn(ctx context.Context) bun.IDB {
	return database.Conn(ctx, d.Bun)
}

// ---------------- WALLETS ----------------

// GetWallet → fetch one wallet by its (normalized) code
func (d *DB) GetWallet(ctx context.Context, code string) (*models.Wallet, error) {
	var w models.Wallet
	err := d.conn(ctx).NewSelect().
		Model(&w).
		Where("code = ?", code).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

// CreateWallet → insert a new wallet
func (d *DB) CreateWallet(ctx context.Context, w *models.Wallet) error {
	_, err := d.conn(ctx).NewInsert().Model(w).Exec(ctx)
	if err != nil {
		if database.ViolatesUnique(err, "code") {
			return models.ErrDuplicateCode
		}
		return fmt.Errorf("insert wallet %s: %w", w.Code, err)
	}
	return nil
}

// UpdateWalletStatus moves a wallet to status, optionally replacing its expiry.
// The write only lands if the status is still the one that was read.
func (d *DB) UpdateWalletStatus(ctx context.Context, code string, status models.WalletStatus, expiresAt *time.Time) (*models.Wallet, error) {
	w, err := d.GetWallet(ctx, code)
	if err != nil {
		return nil, err
	}
	if w.Status == status && expiresAt == nil {
		return w, nil
	}

	now := time.Now().UTC()
	q := d.conn(ctx).NewUpdate().
		Model((*models.Wallet)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", now).
		Where("id = ?", w.ID).
		Where("status = ?", w.Status)
	if expiresAt != nil {
		q = q.Set("expires_at = ?", expiresAt.UTC())
	}

	res, err := q.Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("update wallet status %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, models.ErrConcurrentModification
	}

	w.Status = status
	w.UpdatedAt = now
	if expiresAt != nil {
		t := expiresAt.UTC()
		w.ExpiresAt = &t
	}
	return w, nil
}

// ApplyBalanceDelta adds delta to the remaining credit if it still equals
// expectedBefore and the wallet is active. The row version guards the write,
// so a concurrent change between read and update is reported as
// ErrConcurrentModification and nothing is written.
func (d *DB) ApplyBalanceDelta(ctx context.Context, code string, delta, expectedBefore decimal.Decimal) (*models.Wallet, error) {
	w, err := d.GetWallet(ctx, code)
	if err != nil {
		return nil, err
	}
	if !w.RemainingCredit.Equal(expectedBefore) || w.Status != models.WalletStatusActive {
		return nil, models.ErrConcurrentModification
	}

	remaining := w.RemainingCredit.Add(delta)
	if remaining.IsNegative() {
		return nil, models.ErrInsufficientCredit
	}

	now := time.Now().UTC()
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.Wallet)(nil)).
		Set("remaining_credit = ?", remaining).
		Set("version = version + 1").
		Set("updated_at = ?", now).
		Where("id = ?", w.ID).
		Where("version = ?", w.Version).
		Where("status = ?", models.WalletStatusActive).
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("apply balance delta %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, models.ErrConcurrentModification
	}

	w.RemainingCredit = remaining
	w.Version++
	w.UpdatedAt = now
	return w, nil
}

// BindElement ties the wallet to a floor element once. Binding again to the
// same element is a no-op.
func (d *DB) BindElement(ctx context.Context, code, elementID string) (*models.Wallet, error) {
	w, err := d.GetWallet(ctx, code)
	if err != nil {
		return nil, err
	}
	switch w.BoundElementID {
	case elementID:
		return w, nil
	case "":
	default:
		return nil, models.ErrAlreadyBound
	}

	now := time.Now().UTC()
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.Wallet)(nil)).
		Set("bound_element_id = ?", elementID).
		Set("updated_at = ?", now).
		Where("id = ?", w.ID).
		Where("bound_element_id IS NULL").
		Exec(ctx)
	if err != nil {
		return nil, fmt.Errorf("bind wallet %s: %w", code, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost the race: someone bound it first.
		current, err := d.GetWallet(ctx, code)
		if err != nil {
			return nil, err
		}
		if current.BoundElementID == elementID {
			return current, nil
		}
		return nil, models.ErrAlreadyBound
	}

	w.BoundElementID = elementID
	w.UpdatedAt = now
	return w, nil
}

// ListWalletsByElements → wallets bound to any of the given floor elements
func (d *DB) ListWalletsByElements(ctx context.Context, elementIDs []string) ([]models.Wallet, error) {
	wallets := []models.Wallet{}
	if len(elementIDs) == 0 {
		return wallets, nil
	}
	err := d.conn(ctx).NewSelect().
		Model(&wallets).
		Where("bound_element_id IN (?)", bun.In(elementIDs)).
		Order("code ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return wallets, nil
}

// ListExpiredWallets → live wallets whose expiry is at or before now
func (d *DB) ListExpiredWallets(ctx context.Context, now time.Time) ([]models.Wallet, error) {
	wallets := []models.Wallet{}
	err := d.conn(ctx).NewSelect().
		Model(&wallets).
		Where("expires_at IS NOT NULL").
		Where("expires_at <= ?", now.UTC()).
		Where("status IN (?)", bun.In([]models.WalletStatus{models.WalletStatusActive, models.WalletStatusSuspended})).
		Order("expires_at ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return wallets, nil
}
