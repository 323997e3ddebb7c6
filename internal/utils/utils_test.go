package utils

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ledger/internal/models"
)

func TestGenerateCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		code, err := GenerateCode()
		require.NoError(t, err)
		assert.True(t, ValidCode(code), code)
		seen[code] = true
	}
	assert.Greater(t, len(seen), 190)
}

func TestValidCode(t *testing.T) {
	assert.True(t, ValidCode("ABC123"))
	assert.False(t, ValidCode("abc123"))
	assert.False(t, ValidCode("ABC12"))
	assert.False(t, ValidCode("ABC-12"))
	assert.False(t, ValidCode("ABC1234"))
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		models.ErrInvalidAmount:          http.StatusBadRequest,
		models.ErrCodeInvalid:            http.StatusNotFound,
		models.ErrElementAlreadyReserved: http.StatusConflict,
		models.ErrForbidden:              http.StatusForbidden,
		models.ErrContention:             http.StatusServiceUnavailable,
		models.ErrInsufficientCredit:     http.StatusUnprocessableEntity,
		errors.New("boom"):               http.StatusInternalServerError,
	}
	for err, status := range cases {
		assert.Equal(t, status, StatusFor(fmt.Errorf("wrapped: %w", err)), err.Error())
	}
}

func TestWriteErrorCarriesConflictDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	err := &models.ConflictError{Err: models.ErrElementAlreadyReserved, ElementID: "table-1", ReservedByYou: true}

	WriteError(rec, "Failed to redeem code", err)

	assert.Equal(t, http.StatusConflict, rec.Code)
	var body struct {
		Kind   string                 `json:"kind"`
		Detail map[string]interface{} `json:"detail"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "conflict", body.Kind)
	assert.Equal(t, "table-1", body.Detail["element_id"])
	assert.Equal(t, true, body.Detail["reserved_by_you"])
}

func TestWriteErrorHidesInternal(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, "Failed", errors.New("pq: password authentication failed"))

	var resp APIResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "internal error", resp.Error)
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2025-06-01T22:00:00+02:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 1, 20, 0, 0, 0, time.UTC), ts)

	ts, err = ParseTimestamp("2025-06-01")
	require.NoError(t, err)
	assert.Equal(t, 2025, ts.Year())

	ts, err = ParseTimestamp("1700000000")
	require.NoError(t, err)
	assert.Equal(t, int64(1700000000), ts.Unix())

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}
