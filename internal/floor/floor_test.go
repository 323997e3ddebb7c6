package floor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
)

type staticToken string

func (s staticToken) Token(context.Context) (string, error) { return string(s), nil }

func floorService(t *testing.T) *httptest.Server {
	elements := []models.FloorElement{
		{ID: "table-1", EventID: "evt-1", Type: models.ElementTable},
		{ID: "stage", EventID: "evt-1", Type: "stage"},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events/evt-1/floor/elements", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(elements)
	})
	mux.HandleFunc("/api/events/evt-1/floor/elements/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/api/events/evt-1/floor/elements/"):]
		for _, e := range elements {
			if e.ID == id {
				json.NewEncoder(w).Encode(e)
				return
			}
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/api/events/broken/floor/elements", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})
	return httptest.NewServer(mux)
}

func TestClient(t *testing.T) {
	srv := floorService(t)
	defer srv.Close()
	c := NewClient(srv.URL+"/", time.Second, staticToken("svc-token"), logger.NewDiscard())
	ctx := context.Background()

	ok, err := c.ElementExists(ctx, "evt-1", "table-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.ElementExists(ctx, "evt-1", "table-9")
	require.NoError(t, err)
	assert.False(t, ok)

	typ, err := c.ElementType(ctx, "evt-1", "stage")
	require.NoError(t, err)
	assert.False(t, typ.Reservable())

	_, err = c.ElementType(ctx, "evt-1", "table-9")
	assert.ErrorIs(t, err, models.ErrElementNotFound)

	ids, err := c.ListElementIDs(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"table-1", "stage"}, ids)

	ids, err = c.ListElementIDs(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = c.ListElementIDs(ctx, "broken")
	assert.Error(t, err)
}

func TestStaticDirectory(t *testing.T) {
	d := NewStaticDirectory(
		models.FloorElement{ID: "bed-2", EventID: "evt-1", Type: models.ElementBed},
		models.FloorElement{ID: "bed-1", EventID: "evt-1", Type: models.ElementBed},
	)
	ctx := context.Background()

	ok, _ := d.ElementExists(ctx, "evt-1", "bed-1")
	assert.True(t, ok)
	ok, _ = d.ElementExists(ctx, "evt-2", "bed-1")
	assert.False(t, ok)

	typ, err := d.ElementType(ctx, "evt-1", "bed-2")
	require.NoError(t, err)
	assert.Equal(t, models.ElementBed, typ)

	ids, _ := d.ListElementIDs(ctx, "evt-1")
	assert.Equal(t, []string{"bed-1", "bed-2"}, ids)
}
