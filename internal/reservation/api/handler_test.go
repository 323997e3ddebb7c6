package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ledger/internal/auth"
	"ms-ledger/internal/config"
	"ms-ledger/internal/database"
	"ms-ledger/internal/events"
	"ms-ledger/internal/floor"
	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
	"ms-ledger/internal/reservation"
	reservationdb "ms-ledger/internal/reservation/db"
	"ms-ledger/internal/sse"
	"ms-ledger/internal/testutil"
	"ms-ledger/internal/wallet"
	walletdb "ms-ledger/internal/wallet/db"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Kind    string          `json:"kind"`
	Detail  json.RawMessage `json:"detail"`
}

func fakeAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := models.Identity{UserID: r.Header.Get("X-User"), IsOrganizer: r.Header.Get("X-Organizer") == "true"}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

func setupRouter(t *testing.T) http.Handler {
	bunDB := testutil.NewSQLiteDB(t)
	runner := database.NewRunner(bunDB)
	log := logger.NewDiscard()
	dir := floor.NewStaticDirectory(
		models.FloorElement{ID: "table-1", EventID: "ev1", Type: models.ElementTable},
		models.FloorElement{ID: "sofa-1", EventID: "ev1", Type: models.ElementSofa},
	)
	wallets := wallet.NewWalletService(walletdb.New(bunDB), runner, events.Nop{}, dir, log,
		config.LedgerConfig{MaxAttempts: 5, RetryBackoff: time.Millisecond, DefaultCurrency: "EUR"})
	for _, code := range []string{"ABC123", "XYZ999"} {
		_, err := wallets.CreateWallet(context.Background(), models.WalletSpec{Code: code, InitialCredit: decimal.NewFromInt(100)})
		require.NoError(t, err)
	}

	manager := reservation.NewManager(reservationdb.New(bunDB), wallets, dir, nil, runner, events.Nop{}, log)
	h := NewHandler(manager, sse.NewHub(), log)

	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		r.Use(fakeAuth)
		h.RegisterRoutes(r)
	})
	return r
}

func do(t *testing.T, router http.Handler, method, path, user string, body interface{}) (int, envelope) {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("X-User", user)
	if user == "organizer" {
		req.Header.Set("X-Organizer", "true")
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	var env envelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return rec.Code, env
}

func TestRedeemAndConflictOverHTTP(t *testing.T) {
	router := setupRouter(t)

	status, env := do(t, router, http.MethodPost, "/api/events/ev1/reservations", "user1",
		map[string]string{"element_id": "table-1", "code": "abc123"})
	require.Equal(t, http.StatusCreated, status)
	var res models.Reservation
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, "user1", res.UserID)

	status, env = do(t, router, http.MethodPost, "/api/events/ev1/reservations", "user2",
		map[string]string{"element_id": "table-1", "code": "XYZ999"})
	assert.Equal(t, http.StatusConflict, status)
	var detail models.ConflictError
	require.NoError(t, json.Unmarshal(env.Detail, &detail))
	assert.Equal(t, "table-1", detail.ElementID)
	assert.False(t, detail.ReservedByYou)

	status, _ = do(t, router, http.MethodPost, "/api/events/ev1/reservations", "user2",
		map[string]string{"element_id": "sofa-1", "code": "ABC123"})
	assert.Equal(t, http.StatusConflict, status, "code is bound to table-1")

	status, _ = do(t, router, http.MethodPost, "/api/events/ev1/reservations", "user2",
		map[string]string{"element_id": "sofa-1", "code": "NOPE00"})
	assert.Equal(t, http.StatusNotFound, status)

	status, env = do(t, router, http.MethodGet, "/api/events/ev1/elements/table-1/reservation", "user2", nil)
	require.Equal(t, http.StatusOK, status)
	var held models.Reservation
	require.NoError(t, json.Unmarshal(env.Data, &held))
	assert.Equal(t, res.ID, held.ID)

	status, env = do(t, router, http.MethodGet, "/api/events/ev1/elements/sofa-1/reservation", "user2", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, env.Data, "a free element has no reservation")
}

func TestCancelOverHTTP(t *testing.T) {
	router := setupRouter(t)

	_, env := do(t, router, http.MethodPost, "/api/events/ev1/reservations", "user1",
		map[string]string{"element_id": "table-1", "code": "ABC123"})
	var res models.Reservation
	require.NoError(t, json.Unmarshal(env.Data, &res))

	status, _ := do(t, router, http.MethodDelete, "/api/reservations/"+res.ID, "user2", nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = do(t, router, http.MethodDelete, "/api/reservations/"+res.ID, "organizer", nil)
	require.Equal(t, http.StatusOK, status)

	status, env = do(t, router, http.MethodGet, "/api/me/reservations", "user1", nil)
	require.Equal(t, http.StatusOK, status)
	var mine []models.Reservation
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	assert.Empty(t, mine)

	status, env = do(t, router, http.MethodGet, "/api/me/reservations?all=true", "user1", nil)
	require.Equal(t, http.StatusOK, status)
	require.NoError(t, json.Unmarshal(env.Data, &mine))
	assert.Len(t, mine, 1)

	status, _ = do(t, router, http.MethodPost, "/api/events/ev1/reservations", "user2",
		map[string]string{"element_id": "table-1", "code": "XYZ999"})
	assert.Equal(t, http.StatusCreated, status, "cancelled element can be redeemed again")

	status, env = do(t, router, http.MethodGet, "/api/events/ev1/reservations", "organizer", nil)
	require.Equal(t, http.StatusOK, status)
	var all []models.Reservation
	require.NoError(t, json.Unmarshal(env.Data, &all))
	assert.Len(t, all, 1)
}
