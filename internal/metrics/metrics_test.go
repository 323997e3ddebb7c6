package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHTTPRequest(t *testing.T) {
	HTTPRequestsTotal.Reset()
	HTTPRequestDuration.Reset()

	RecordHTTPRequest("POST", "/api/wallets/{code}/debit", "200", 0.05)
	RecordHTTPRequest("POST", "/api/wallets/{code}/debit", "200", 0.07)
	RecordHTTPRequest("POST", "/api/wallets/{code}/debit", "422", 0.01)

	assert.Equal(t, float64(2), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/wallets/{code}/debit", "200")))
	assert.Equal(t, float64(1), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/api/wallets/{code}/debit", "422")))
}

func TestRecordLedgerOperation(t *testing.T) {
	LedgerOperationsTotal.Reset()
	LedgerRetriesTotal.Reset()

	RecordLedgerOperation("debit", "applied")
	RecordLedgerOperation("debit", "replayed")
	RecordLedgerRetry("debit")

	assert.Equal(t, float64(1), testutil.ToFloat64(LedgerOperationsTotal.WithLabelValues("debit", "applied")))
	assert.Equal(t, float64(1), testutil.ToFloat64(LedgerOperationsTotal.WithLabelValues("debit", "replayed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(LedgerRetriesTotal.WithLabelValues("debit")))
}

func TestRecordReservation(t *testing.T) {
	ReservationsTotal.Reset()

	RecordReservation("created")
	RecordReservation("element_conflict")
	RecordReservation("created")

	assert.Equal(t, float64(2), testutil.ToFloat64(ReservationsTotal.WithLabelValues("created")))
	assert.Equal(t, float64(1), testutil.ToFloat64(ReservationsTotal.WithLabelValues("element_conflict")))
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	HTTPRequestsTotal.Reset()

	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/api/wallets/{code}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	for _, code := range []string{"AAAAAA", "BBBBBB"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/wallets/"+code, nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}

	assert.Equal(t, float64(2), testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "/api/wallets/{code}", "404")))
}

func TestHandlerServesMetrics(t *testing.T) {
	RecordWalletCreated()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "ledger_wallets_created_total")
}
