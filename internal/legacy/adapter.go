package legacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
	"ms-ledger/internal/utils"
)

// Wallets is the part of the wallet service a migration goes through.
type Wallets interface {
	Get(ctx context.Context, code string) (*models.Wallet, error)
	CreateWallet(ctx context.Context, spec models.WalletSpec) (*models.Wallet, error)
	Debit(ctx context.Context, code string, amount decimal.Decimal, opts models.DebitOptions) (*models.LedgerResult, error)
	BindElement(ctx context.Context, code, elementID string) (*models.Wallet, error)
	UpdateStatus(ctx context.Context, code string, status models.WalletStatus) (*models.Wallet, error)
}

// TxRunner runs fn in one database transaction carried by its ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Adapter brings pre-wallet codes into the wallet model. It is called once
// per code at the boundary; the services never see legacy records.
type Adapter struct {
	wallets Wallets
	tx      TxRunner
	logger  *logger.Logger
	now     func() time.Time
}

// NewAdapter needs the same TxRunner the wallet service uses, so the wallet
// calls join the migration transaction.
func NewAdapter(wallets Wallets, tx TxRunner, log *logger.Logger) *Adapter {
	return &Adapter{wallets: wallets, tx: tx, logger: log, now: time.Now}
}

// EnsureWallet returns the wallet for rec's code, creating it from the record
// if it does not exist yet. An existing wallet is returned untouched.
//
// The whole migration (create, carry over consumed, bind, status) commits as
// one transaction, so a wallet either exists fully migrated or not at all and
// a failed call can simply be repeated.
func (a *Adapter) EnsureWallet(ctx context.Context, rec models.LegacyRecord) (*models.Wallet, error) {
	code := models.NormalizeCode(rec.Code)
	if !utils.ValidCode(code) {
		return nil, models.ErrInvalidCode
	}

	plan, err := planFor(rec, a.now())
	if err != nil {
		return nil, fmt.Errorf("legacy record %s: %w", code, err)
	}

	var (
		w       *models.Wallet
		created bool
	)
	err = a.tx.RunInTx(ctx, func(ctx context.Context) error {
		// Already migrated: leave it as the ledger has it now
		existing, err := a.wallets.Get(ctx, code)
		if err == nil {
			w = existing
			return nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return err
		}

		w, err = a.migrate(ctx, code, rec, plan)
		created = err == nil
		return err
	})
	if errors.Is(err, models.ErrDuplicateCode) {
		// Another caller migrated it first; its transaction has committed.
		return a.wallets.Get(ctx, code)
	}
	if err != nil {
		return nil, err
	}

	if created {
		a.logger.LogWallet("MIGRATE", code, fmt.Sprintf("Legacy code migrated: initial %s, consumed %s, status %s",
			plan.initial.StringFixed(2), plan.consumed.StringFixed(2), w.Status))
	}
	return w, nil
}

// migrate creates the wallet and replays the legacy state onto it. It must
// run inside the caller's transaction.
func (a *Adapter) migrate(ctx context.Context, code string, rec models.LegacyRecord, plan migrationPlan) (*models.Wallet, error) {
	spec := models.WalletSpec{
		Code:          code,
		InitialCredit: plan.initial,
		Currency:      rec.Currency,
	}
	// An already expired record is created without expiry and expired below
	if plan.expiresAt != nil && !plan.expired {
		spec.ExpiresAt = plan.expiresAt
	}
	w, err := a.wallets.CreateWallet(ctx, spec)
	if err != nil {
		return nil, err
	}

	// Carry over what was spent before the migration
	if plan.consumed.IsPositive() {
		res, err := a.wallets.Debit(ctx, code, plan.consumed, models.DebitOptions{
			Source:         models.SourceMigration,
			IdempotencyKey: "legacy:" + code,
			Notes:          "consumed before migration",
		})
		if err != nil {
			return nil, fmt.Errorf("carry over consumed amount for %s: %w", code, err)
		}
		w = res.Wallet
	}

	if table := strings.TrimSpace(rec.TableID); table != "" {
		if w, err = a.wallets.BindElement(ctx, code, table); err != nil {
			return nil, fmt.Errorf("bind %s to %s: %w", code, table, err)
		}
	}

	// Map the legacy flags onto the lifecycle
	switch {
	case plan.expired:
		w, err = a.wallets.UpdateStatus(ctx, code, models.WalletStatusExpired)
	case !rec.Active:
		w, err = a.wallets.UpdateStatus(ctx, code, models.WalletStatusSuspended)
	}
	if err != nil {
		return nil, fmt.Errorf("set status of %s: %w", code, err)
	}
	return w, nil
}

// migrationPlan is a legacy record parsed into wallet terms.
type migrationPlan struct {
	initial   decimal.Decimal
	consumed  decimal.Decimal
	expiresAt *time.Time
	expired   bool
}

// planFor validates rec before anything is written.
func planFor(rec models.LegacyRecord, now time.Time) (migrationPlan, error) {
	var plan migrationPlan

	initial, err := decimal.NewFromString(strings.TrimSpace(rec.MinimumSpend))
	if err != nil {
		return plan, fmt.Errorf("%w: minimum spend %q", models.ErrInvalidAmount, rec.MinimumSpend)
	}
	if !initial.IsPositive() {
		return plan, models.ErrInvalidAmount
	}
	plan.initial = initial

	plan.consumed = decimal.Zero
	if raw := strings.TrimSpace(rec.Consumed); raw != "" {
		consumed, err := decimal.NewFromString(raw)
		if err != nil {
			return plan, fmt.Errorf("%w: consumed %q", models.ErrInvalidAmount, rec.Consumed)
		}
		// Records could over-consume; the wallet cannot go below zero.
		plan.consumed = decimal.Max(decimal.Zero, decimal.Min(consumed, initial))
	}

	// Blank expiry means the code never expired
	if rec.ExpiresAt != nil && strings.TrimSpace(*rec.ExpiresAt) != "" {
		t, err := utils.ParseTimestamp(*rec.ExpiresAt)
		if err != nil {
			return plan, fmt.Errorf("%w: %v", models.ErrInvalidExpiry, err)
		}
		plan.expiresAt = &t
		plan.expired = !t.After(now)
	}
	return plan, nil
}
