package db

import (
	"context"
	"fmt"
	"time"

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

func (d *DB) conn(ctx context.Context) bun.IDB {
	return database.Conn(ctx, d.Bun)
}

// CreateReservation inserts an active reservation. The arbiter columns turn a
// second active reservation for the element or the user into a conflict.
func (d *DB) CreateReservation(ctx context.Context, r *models.Reservation) error {
	r.Activate()
	_, err := d.conn(ctx).NewInsert().Model(r).Exec(ctx)
	if err != nil {
		switch {
		case database.ViolatesUnique(err, "active_element_key"):
			return &models.ConflictError{Err: models.ErrElementAlreadyReserved, EventID: r.EventID, ElementID: r.FloorElementID}
		case database.ViolatesUnique(err, "active_user_key"):
			return &models.ConflictError{Err: models.ErrUserAlreadyReserved, EventID: r.EventID}
		}
		return fmt.Errorf("insert reservation %s: %w", r.ID, err)
	}
	return nil
}

// GetReservation → one reservation by id
func (d *DB) GetReservation(ctx context.Context, id string) (*models.Reservation, error) {
	var r models.Reservation
	err := d.conn(ctx).NewSelect().
		Model(&r).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// GetActiveByElement returns the active reservation on an element, or
// ErrNotFound.
func (d *DB) GetActiveByElement(ctx context.Context, eventID, elementID string) (*models.Reservation, error) {
	return d.getActive(ctx, "active_element_key = ?", models.ElementKey(eventID, elementID))
}

// GetActiveByUser returns the user's active reservation in an event, or
// ErrNotFound.
func (d *DB) GetActiveByUser(ctx context.Context, eventID, userID string) (*models.Reservation, error) {
	return d.getActive(ctx, "active_user_key = ?", models.UserKey(eventID, userID))
}

func (d *DB) getActive(ctx context.Context, where string, key string) (*models.Reservation, error) {
	var r models.Reservation
	err := d.conn(ctx).NewSelect().
		Model(&r).
		Where(where, key).
		Where("status = ?", models.ReservationActive).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if database.IsNoRows(err) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

// ListByUser → the user's reservations across events, newest first
func (d *DB) ListByUser(ctx context.Context, userID string, includeCancelled bool) ([]models.Reservation, error) {
	reservations := []models.Reservation{}
	q := d.conn(ctx).NewSelect().
		Model(&reservations).
		Where("user_id = ?", userID)
	if !includeCancelled {
		q = q.Where("status = ?", models.ReservationActive)
	}
	if err := q.Order("created_at DESC").Scan(ctx); err != nil {
		return nil, err
	}
	return reservations, nil
}

// ListByEvent → active reservations of an event ordered by element
func (d *DB) ListByEvent(ctx context.Context, eventID string) ([]models.Reservation, error) {
	reservations := []models.Reservation{}
	err := d.conn(ctx).NewSelect().
		Model(&reservations).
		Where("event_id = ?", eventID).
		Where("status = ?", models.ReservationActive).
		Order("floor_element_id ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return reservations, nil
}

// Cancel marks an active reservation cancelled and frees its arbiter keys.
// It reports false when the reservation was no longer active.
func (d *DB) Cancel(ctx context.Context, id string) (*models.Reservation, bool, error) {
	now := time.Now().UTC()
	res, err := d.conn(ctx).NewUpdate().
		Model((*models.Reservation)(nil)).
		Set("status = ?", models.ReservationCancelled).
		Set("active_element_key = NULL").
		Set("active_user_key = NULL").
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.ReservationActive).
		Exec(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("cancel reservation %s: %w", id, err)
	}
	n, _ := res.RowsAffected()

	r, err := d.GetReservation(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return r, n > 0, nil
}
