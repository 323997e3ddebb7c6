package db_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ledger/internal/models"
	"ms-ledger/internal/reservation/db"
	"ms-ledger/internal/testutil"
)

func setupTestDB(t *testing.T) *db.DB {
	return db.New(testutil.NewSQLiteDB(t))
}

func newReservation(eventID, elementID, userID string) *models.Reservation {
	now := time.Now().UTC()
	return &models.Reservation{
		ID:             uuid.New().String(),
		EventID:        eventID,
		FloorElementID: elementID,
		UserID:         userID,
		WalletID:       uuid.New().String(),
		WalletCode:     "ABC123",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestCreateAndGetReservation(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	r := newReservation("ev1", "table-1", "alice")
	require.NoError(t, store.CreateReservation(ctx, r))
	assert.Equal(t, models.ReservationActive, r.Status)

	got, err := store.GetReservation(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "table-1", got.FloorElementID)
	assert.True(t, got.IsActive())

	byElement, err := store.GetActiveByElement(ctx, "ev1", "table-1")
	require.NoError(t, err)
	assert.Equal(t, r.ID, byElement.ID)

	byUser, err := store.GetActiveByUser(ctx, "ev1", "alice")
	require.NoError(t, err)
	assert.Equal(t, r.ID, byUser.ID)

	_, err = store.GetActiveByUser(ctx, "ev2", "alice")
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = store.GetReservation(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestArbiterColumnsRejectSecondActiveReservation(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()
	require.NoError(t, store.CreateReservation(ctx, newReservation("ev1", "table-1", "alice")))

	err := store.CreateReservation(ctx, newReservation("ev1", "table-1", "bob"))
	assert.ErrorIs(t, err, models.ErrElementAlreadyReserved)
	var conflict *models.ConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, "table-1", conflict.ElementID)

	err = store.CreateReservation(ctx, newReservation("ev1", "table-2", "alice"))
	assert.ErrorIs(t, err, models.ErrUserAlreadyReserved)

	// Other events are independent.
	assert.NoError(t, store.CreateReservation(ctx, newReservation("ev2", "table-1", "alice")))
}

func TestCancelFreesElementAndUser(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	r := newReservation("ev1", "sofa-1", "alice")
	require.NoError(t, store.CreateReservation(ctx, r))

	cancelled, changed, err := store.Cancel(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.ReservationCancelled, cancelled.Status)

	_, changed, err = store.Cancel(ctx, r.ID)
	require.NoError(t, err)
	assert.False(t, changed, "second cancel changes nothing")

	_, err = store.GetActiveByElement(ctx, "ev1", "sofa-1")
	assert.ErrorIs(t, err, models.ErrNotFound)

	// Both the element and the user can be reserved again.
	require.NoError(t, store.CreateReservation(ctx, newReservation("ev1", "sofa-1", "alice")))

	_, _, err = store.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestListReservations(t *testing.T) {
	store := setupTestDB(t)
	ctx := context.Background()

	first := newReservation("ev1", "table-2", "alice")
	require.NoError(t, store.CreateReservation(ctx, first))
	_, _, err := store.Cancel(ctx, first.ID)
	require.NoError(t, err)

	second := newReservation("ev1", "table-1", "alice")
	second.CreatedAt = second.CreatedAt.Add(time.Second)
	require.NoError(t, store.CreateReservation(ctx, second))
	require.NoError(t, store.CreateReservation(ctx, newReservation("ev1", "bed-1", "bob")))
	require.NoError(t, store.CreateReservation(ctx, newReservation("ev2", "table-1", "alice")))

	active, err := store.ListByUser(ctx, "alice", false)
	require.NoError(t, err)
	assert.Len(t, active, 2)

	all, err := store.ListByUser(ctx, "alice", true)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	byEvent, err := store.ListByEvent(ctx, "ev1")
	require.NoError(t, err)
	require.Len(t, byEvent, 2)
	assert.Equal(t, "bed-1", byEvent[0].FloorElementID)
	assert.Equal(t, "table-1", byEvent[1].FloorElementID)

	none, err := store.ListByEvent(ctx, "ev9")
	require.NoError(t, err)
	assert.Empty(t, none)
}
