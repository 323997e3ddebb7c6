package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-ledger/internal/database"
	"ms-ledger/internal/events"
	"ms-ledger/internal/floor"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/metrics"
	"ms-ledger/internal/models"
	lockredis "ms-ledger/internal/reservation/redis"
)

// Store is the reservation persistence the manager needs.
type Store interface {
	CreateReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id string) (*models.Reservation, error)
	GetActiveByElement(ctx context.Context, eventID, elementID string) (*models.Reservation, error)
	GetActiveByUser(ctx context.Context, eventID, userID string) (*models.Reservation, error)
	ListByUser(ctx context.Context, userID string, includeCancelled bool) ([]models.Reservation, error)
	ListByEvent(ctx context.Context, eventID string) ([]models.Reservation, error)
	Cancel(ctx context.Context, id string) (*models.Reservation, bool, error)
}

// Wallets is the part of the wallet service a redeem goes through.
type Wallets interface {
	Get(ctx context.Context, code string) (*models.Wallet, error)
	BindElement(ctx context.Context, code, elementID string) (*models.Wallet, error)
}

// Locker hands out per-element locks. A nil Locker leaves exclusivity to the
// database constraints alone.
type Locker interface {
	Acquire(ctx context.Context, eventID, elementID string) (*lockredis.Lease, error)
}

// TxRunner runs fn in one database transaction carried by its ctx.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Manager owns reservations. Wallet changes go through Wallets.
type Manager struct {
	store   Store
	wallets Wallets
	floor   floor.Directory
	locks   Locker
	tx      TxRunner
	emitter events.Emitter
	logger  *logger.Logger
}

func NewManager(store Store, wallets Wallets, dir floor.Directory, locks Locker, tx TxRunner, emitter events.Emitter, log *logger.Logger) *Manager {
	if emitter == nil {
		emitter = events.Nop{}
	}
	return &Manager{
		store:   store,
		wallets: wallets,
		floor:   dir,
		locks:   locks,
		tx:      tx,
		emitter: emitter,
		logger:  log,
	}
}

// Redeem claims a floor element for userID with a wallet code. At most one
// active reservation exists per element and per user in an event; a code
// stays bound to the first element it was redeemed on.
func (m *Manager) Redeem(ctx context.Context, eventID, elementID, code, userID string) (*models.Reservation, error) {
	eventID, elementID, userID = strings.TrimSpace(eventID), strings.TrimSpace(elementID), strings.TrimSpace(userID)
	if eventID == "" || elementID == "" {
		return nil, models.ErrElementNotFound
	}
	if userID == "" {
		return nil, models.ErrForbidden
	}

	r, err := m.redeem(ctx, eventID, elementID, code, userID)
	if err != nil {
		metrics.RecordReservation(string(models.KindOf(err)))
		if models.KindOf(err) == models.KindInternal {
			m.logger.Error("RESERVATION", fmt.Sprintf("Redeem of %s/%s failed: %v", eventID, elementID, err))
		}
		return nil, err
	}

	metrics.RecordReservation("created")
	m.logger.LogReservation("REDEEM", r.ID, fmt.Sprintf("User %s holds %s in event %s with %s", userID, elementID, eventID, r.WalletCode))
	return r, nil
}

func (m *Manager) redeem(ctx context.Context, eventID, elementID, code, userID string) (*models.Reservation, error) {
	// Step 1: The element must exist and be a table or booth
	if err := m.checkElement(ctx, eventID, elementID); err != nil {
		return nil, err
	}

	// Step 2: Serialize redeems on this element across replicas
	if m.locks != nil {
		lease, err := m.locks.Acquire(ctx, eventID, elementID)
		if err != nil {
			return nil, err
		}
		defer func() {
			// The lock TTL covers a failed release.
			if err := lease.Release(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("REDIS", fmt.Sprintf("Failed to release lock on %s: %v", elementID, err))
			}
		}()
	}

	// Step 3: The code must name a live wallet not bound to another element
	w, err := m.wallets.Get(ctx, code)
	if errors.Is(err, models.ErrNotFound) {
		return nil, models.ErrCodeInvalid
	}
	if err != nil {
		return nil, err
	}
	if w.Status != models.WalletStatusActive {
		return nil, fmt.Errorf("%w: wallet is %s", models.ErrCodeInvalid, w.Status)
	}
	if w.BoundElementID != "" && w.BoundElementID != elementID {
		return nil, &models.ConflictError{
			Err:            models.ErrCodeBoundToOtherElement,
			EventID:        eventID,
			ElementID:      elementID,
			BoundElementID: w.BoundElementID,
		}
	}

	// Step 4: Neither the element nor the user may already hold a reservation
	if err := m.checkFree(ctx, eventID, elementID, userID); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r := &models.Reservation{
		ID:             uuid.New().String(),
		EventID:        eventID,
		FloorElementID: elementID,
		UserID:         userID,
		WalletID:       w.ID,
		WalletCode:     w.Code,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	// Step 5: Bind and insert together; the unique indexes catch a redeem that
	// slipped past the lock
	err = m.tx.RunInTx(ctx, func(ctx context.Context) error {
		if _, err := m.wallets.BindElement(ctx, w.Code, elementID); err != nil {
			if errors.Is(err, models.ErrAlreadyBound) {
				// Bound elsewhere since we read it.
				return &models.ConflictError{Err: models.ErrCodeBoundToOtherElement, EventID: eventID, ElementID: elementID}
			}
			return err
		}
		if err := m.store.CreateReservation(ctx, r); err != nil {
			return err
		}
		database.AfterCommit(ctx, func() {
			m.emitter.Emit(ctx, models.NewReservationChangedEvent("created", r))
		})
		return nil
	})
	if err != nil {
		// A failed statement can leave the transaction unusable, so the
		// details are read with the outer ctx once it has rolled back.
		return nil, m.explainConflict(ctx, err, w.Code, userID)
	}
	return r, nil
}

// checkElement rejects elements the floor directory does not know or that
// cannot be reserved. Without a directory every element passes.
func (m *Manager) checkElement(ctx context.Context, eventID, elementID string) error {
	if m.floor == nil {
		return nil
	}
	t, err := m.floor.ElementType(ctx, eventID, elementID)
	if err != nil {
		return err
	}
	if !t.Reservable() {
		return fmt.Errorf("%w: %s is a %s", models.ErrElementNotReservable, elementID, t)
	}
	return nil
}

// checkFree fails when the element or the user already has an active
// reservation in the event.
func (m *Manager) checkFree(ctx context.Context, eventID, elementID, userID string) error {
	held, err := m.store.GetActiveByElement(ctx, eventID, elementID)
	if err == nil {
		return &models.ConflictError{
			Err:           models.ErrElementAlreadyReserved,
			EventID:       eventID,
			ElementID:     elementID,
			ReservationID: held.ID,
			ReservedByYou: held.UserID == userID,
		}
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	mine, err := m.store.GetActiveByUser(ctx, eventID, userID)
	if err == nil {
		return &models.ConflictError{
			Err:           models.ErrUserAlreadyReserved,
			EventID:       eventID,
			ElementID:     mine.FloorElementID,
			ReservationID: mine.ID,
			ReservedByYou: true,
		}
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}
	return nil
}

// explainConflict fills in who holds the element, or where the code is bound,
// when the write lost to a concurrent redeem.
func (m *Manager) explainConflict(ctx context.Context, err error, code, userID string) error {
	var conflict *models.ConflictError
	if !errors.As(err, &conflict) {
		return err
	}
	switch {
	case errors.Is(conflict.Err, models.ErrCodeBoundToOtherElement):
		if w, lookupErr := m.wallets.Get(ctx, code); lookupErr == nil {
			conflict.BoundElementID = w.BoundElementID
		}
	case errors.Is(conflict.Err, models.ErrElementAlreadyReserved):
		if held, lookupErr := m.store.GetActiveByElement(ctx, conflict.EventID, conflict.ElementID); lookupErr == nil {
			conflict.ReservationID = held.ID
			conflict.ReservedByYou = held.UserID == userID
		}
	case errors.Is(conflict.Err, models.ErrUserAlreadyReserved):
		if mine, lookupErr := m.store.GetActiveByUser(ctx, conflict.EventID, userID); lookupErr == nil {
			conflict.ElementID = mine.FloorElementID
			conflict.ReservationID = mine.ID
			conflict.ReservedByYou = true
		}
	}
	return conflict
}

// Cancel voids a reservation. Only its owner or an organizer may cancel, and
// the wallet keeps its balance, status and binding.
func (m *Manager) Cancel(ctx context.Context, id string, who models.Identity) (*models.Reservation, error) {
	r, err := m.store.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}
	if r.UserID != who.UserID && !who.IsOrganizer {
		m.logger.LogSecurity("CANCEL_DENIED", fmt.Sprintf("User %s tried to cancel reservation %s of %s", who.UserID, id, r.UserID))
		return nil, models.ErrForbidden
	}
	// Cancelling twice is not an error
	if !r.IsActive() {
		return r, nil
	}

	cancelled, changed, err := m.store.Cancel(ctx, id)
	if err != nil {
		return nil, err
	}
	// Lost the race to another cancel; it already emitted the event
	if !changed {
		return cancelled, nil
	}

	metrics.RecordReservationCancellation()
	m.logger.LogReservation("CANCEL", id, fmt.Sprintf("Cancelled by %s, element %s freed", who.UserID, r.FloorElementID))
	database.AfterCommit(ctx, func() {
		m.emitter.Emit(ctx, models.NewReservationChangedEvent("cancelled", cancelled))
	})
	return cancelled, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*models.Reservation, error) {
	return m.store.GetReservation(ctx, id)
}

// GetByElement returns the active reservation on an element, or nil.
func (m *Manager) GetByElement(ctx context.Context, eventID, elementID string) (*models.Reservation, error) {
	r, err := m.store.GetActiveByElement(ctx, eventID, elementID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	return r, err
}

// ListByUser returns active reservations, or all of them with includeCancelled.
func (m *Manager) ListByUser(ctx context.Context, userID string, includeCancelled bool) ([]models.Reservation, error) {
	return m.store.ListByUser(ctx, userID, includeCancelled)
}

func (m *Manager) ListByEvent(ctx context.Context, eventID string) ([]models.Reservation, error) {
	return m.store.ListByEvent(ctx, eventID)
}
