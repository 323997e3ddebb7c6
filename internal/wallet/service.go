package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"ms-ledger/internal/config"
	"ms-ledger/internal/database"
	"ms-ledger/internal/events"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/metrics"
	"ms-ledger/internal/models"
	"ms-ledger/internal/utils"
)

// Store is the wallet and ledger persistence the service needs.
type Store interface {
	GetWallet(ctx context.Context, code string) (*models.Wallet, error)
	CreateWallet(ctx context.Context, w *models.Wallet) error
	UpdateWalletStatus(ctx context.Context, code string, status models.WalletStatus, expiresAt *time.Time) (*models.Wallet, error)
	ApplyBalanceDelta(ctx context.Context, code string, delta, expectedBefore decimal.Decimal) (*models.Wallet, error)
	BindElement(ctx context.Context, code, elementID string) (*models.Wallet, error)
	ListWalletsByElements(ctx context.Context, elementIDs []string) ([]models.Wallet, error)
	ListExpiredWallets(ctx context.Context, now time.Time) ([]models.Wallet, error)

	AppendTransaction(ctx context.Context, entry *models.Transaction) (*models.Transaction, bool, error)
	FindTransactionByKey(ctx context.Context, walletID, key string) (*models.Transaction, error)
	ListTransactions(ctx context.Context, walletID string, limit, offset int) ([]models.Transaction, error)
	ListTransactionsByOrder(ctx context.Context, walletID, orderID string) ([]models.Transaction, error)
	CountTransactions(ctx context.Context, walletID string) (int, error)
}

// TxRunner runs fn in one database transaction carried by its ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ElementLister resolves the floor elements placed for an event.
type ElementLister interface {
	ListElementIDs(ctx context.Context, eventID string) ([]string, error)
}

// WalletService is the only writer of wallet balances and statuses.
type WalletService struct {
	store    Store
	tx       TxRunner
	emitter  events.Emitter
	elements ElementLister
	logger   *logger.Logger
	config   config.LedgerConfig
	now      func() time.Time
}

// NewWalletService builds the service. A nil emitter drops change events and
// MaxAttempts below 1 is raised to a single attempt.
func NewWalletService(store Store, tx TxRunner, emitter events.Emitter, elements ElementLister, log *logger.Logger, cfg config.LedgerConfig) *WalletService {
	if emitter == nil {
		emitter = events.Nop{}
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &WalletService{
		store:    store,
		tx:       tx,
		emitter:  emitter,
		elements: elements,
		logger:   log,
		config:   cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// ---------------- WALLETS ----------------

// CreateWallet opens a wallet with remaining credit equal to the initial
// credit. An empty code gets a generated one.
func (s *WalletService) CreateWallet(ctx context.Context, spec models.WalletSpec) (*models.Wallet, error) {
	if !spec.InitialCredit.IsPositive() {
		return nil, models.ErrInvalidAmount
	}

	currency := strings.ToUpper(strings.TrimSpace(spec.Currency))
	if currency == "" {
		currency = s.config.DefaultCurrency
	}
	if !validCurrency(currency) {
		return nil, models.ErrInvalidCurrency
	}

	now := s.now()
	if spec.ExpiresAt != nil && !spec.ExpiresAt.After(now) {
		return nil, models.ErrInvalidExpiry
	}

	code := models.NormalizeCode(spec.Code)
	generated := code == ""
	if !generated && !utils.ValidCode(code) {
		return nil, models.ErrInvalidCode
	}

	// A generated code can collide with an existing one; draw again a few times.
	for attempt := 0; attempt < 5; attempt++ {
		if generated {
			var err error
			if code, err = utils.GenerateCode(); err != nil {
				return nil, fmt.Errorf("generate code: %w", err)
			}
		}

		w := &models.Wallet{
			ID:              uuid.New().String(),
			Code:            code,
			Currency:        currency,
			InitialCredit:   spec.InitialCredit,
			RemainingCredit: spec.InitialCredit,
			Status:          models.WalletStatusActive,
			BoundElementID:  strings.TrimSpace(spec.BoundElementID),
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		if spec.ExpiresAt != nil {
			expiry := spec.ExpiresAt.UTC()
			w.ExpiresAt = &expiry
		}

		err := s.store.CreateWallet(ctx, w)
		if errors.Is(err, models.ErrDuplicateCode) && generated {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.logger.LogWallet("CREATE", w.Code, fmt.Sprintf("Wallet created with %s %s", w.InitialCredit.StringFixed(2), w.Currency))
		metrics.RecordWalletCreated()
		database.AfterCommit(ctx, func() {
			s.emitter.Emit(ctx, models.NewWalletChangedEvent("created", w, nil))
		})
		return w, nil
	}
	return nil, models.ErrDuplicateCode
}

// Get returns the wallet for code, expiring it first if its expiry has passed.
func (s *WalletService) Get(ctx context.Context, code string) (*models.Wallet, error) {
	code = models.NormalizeCode(code)
	if code == "" {
		return nil, models.ErrNotFound
	}

	w, err := s.store.GetWallet(ctx, code)
	if err != nil {
		return nil, err
	}
	if w.Status.Terminal() || !w.IsPastExpiry(s.now()) {
		return w, nil
	}

	// Lazy expiry; if another writer got there first, return what it wrote
	expired, err := s.store.UpdateWalletStatus(ctx, code, models.WalletStatusExpired, nil)
	if errors.Is(err, models.ErrConcurrentModification) {
		return s.store.GetWallet(ctx, code)
	}
	if err != nil {
		return nil, fmt.Errorf("expire wallet %s: %w", code, err)
	}
	s.afterStatusChange(ctx, w.Status, expired)
	return expired, nil
}

// Balance is the spend-tracking projection of a wallet.
func (s *WalletService) Balance(ctx context.Context, code string) (models.BalanceView, error) {
	w, err := s.Get(ctx, code)
	if err != nil {
		return models.BalanceView{}, err
	}
	return models.NewBalanceView(w), nil
}

// History returns ledger entries newest first. limit <= 0 returns all of them.
func (s *WalletService) History(ctx context.Context, code string, limit, offset int) ([]models.Transaction, error) {
	w, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, w.ID, limit, offset)
}

// HistorySize is the number of ledger entries of a wallet, for paging History.
func (s *WalletService) HistorySize(ctx context.Context, code string) (int, error) {
	w, err := s.Get(ctx, code)
	if err != nil {
		return 0, err
	}
	n, err := s.store.CountTransactions(ctx, w.ID)
	if err != nil {
		return 0, fmt.Errorf("count transactions for %s: %w", w.Code, err)
	}
	return n, nil
}

// UpdateStatus moves a wallet through its lifecycle. Moving to the current
// status changes nothing.
func (s *WalletService) UpdateStatus(ctx context.Context, code string, status models.WalletStatus) (*models.Wallet, error) {
	if !status.Valid() {
		return nil, models.ErrInvalidTransition
	}

	for attempt := 1; attempt <= s.config.MaxAttempts; attempt++ {
		w, err := s.Get(ctx, code)
		if err != nil {
			return nil, err
		}
		if w.Status == status {
			return w, nil
		}
		if !CanTransition(w.Status, status) {
			return nil, fmt.Errorf("%w: %s -> %s", models.ErrInvalidTransition, w.Status, status)
		}

		// The store only updates if the status is still the one read above
		updated, err := s.store.UpdateWalletStatus(ctx, w.Code, status, nil)
		if errors.Is(err, models.ErrConcurrentModification) {
			metrics.RecordLedgerRetry("status")
			continue
		}
		if err != nil {
			return nil, err
		}
		s.afterStatusChange(ctx, w.Status, updated)
		return updated, nil
	}
	return nil, models.ErrContention
}

// CanTransition reports whether a wallet may move from one status to another.
// Closed and expired are terminal; anything live can expire.
func CanTransition(from, to models.WalletStatus) bool {
	if to == models.WalletStatusExpired {
		return from != models.WalletStatusExpired
	}
	switch from {
	case models.WalletStatusActive:
		return to == models.WalletStatusSuspended || to == models.WalletStatusClosed
	case models.WalletStatusSuspended:
		return to == models.WalletStatusActive || to == models.WalletStatusClosed
	}
	return false
}

// afterStatusChange logs, counts and queues the change event for commit.
func (s *WalletService) afterStatusChange(ctx context.Context, from models.WalletStatus, w *models.Wallet) {
	s.logger.LogWallet("STATUS", w.Code, fmt.Sprintf("%s -> %s", from, w.Status))
	metrics.RecordStatusTransition(string(from), string(w.Status))
	database.AfterCommit(ctx, func() {
		s.emitter.Emit(ctx, models.NewWalletChangedEvent("status_changed", w, nil))
	})
}

// BindElement ties the wallet to a floor element. Binding twice to the same
// element is a no-op; a different element fails with ErrAlreadyBound.
func (s *WalletService) BindElement(ctx context.Context, code, elementID string) (*models.Wallet, error) {
	elementID = strings.TrimSpace(elementID)
	if elementID == "" {
		return nil, models.ErrElementNotFound
	}

	w, err := s.Get(ctx, code)
	if err != nil {
		return nil, err
	}
	if w.BoundElementID == elementID {
		return w, nil
	}

	// The store refuses to overwrite a binding to another element
	bound, err := s.store.BindElement(ctx, w.Code, elementID)
	if err != nil {
		return nil, err
	}
	s.logger.LogWallet("BIND", bound.Code, fmt.Sprintf("Bound to element %s", elementID))
	database.AfterCommit(ctx, func() {
		s.emitter.Emit(ctx, models.NewWalletChangedEvent("bound", bound, nil))
	})
	return bound, nil
}

// ExpireDue moves every live wallet past its expiry to expired and returns
// how many it moved.
func (s *WalletService) ExpireDue(ctx context.Context) (int, error) {
	due, err := s.store.ListExpiredWallets(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("list expired wallets: %w", err)
	}

	expired := 0
	for i := range due {
		w := &due[i]
		updated, err := s.store.UpdateWalletStatus(ctx, w.Code, models.WalletStatusExpired, nil)
		if errors.Is(err, models.ErrConcurrentModification) {
			// Someone else changed it; the next sweep re-evaluates.
			continue
		}
		if err != nil {
			return expired, fmt.Errorf("expire wallet %s: %w", w.Code, err)
		}
		s.afterStatusChange(ctx, w.Status, updated)
		expired++
	}

	if expired > 0 {
		s.logger.Info("WALLET", fmt.Sprintf("Expiry sweep moved %d wallet(s) to expired", expired))
	}
	return expired, nil
}

// validCurrency accepts three upper-case letters (ISO 4217 shape).
func validCurrency(c string) bool {
	if len(c) != 3 {
		return false
	}
	for i := 0; i < len(c); i++ {
		if c[i] < 'A' || c[i] > 'Z' {
			return false
		}
	}
	return true
}
