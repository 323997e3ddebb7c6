package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"ms-ledger/internal/logger"
	"ms-ledger/internal/models"
)

type stubVerifier map[string]*Claims

func (s stubVerifier) Verify(_ context.Context, raw string) (*Claims, error) {
	if c, ok := s[raw]; ok {
		return c, nil
	}
	return nil, errors.New("signature invalid")
}

func organizerClaims() *Claims {
	c := &Claims{Sub: "org-1"}
	c.RealmAccess.Roles = []string{"offline_access", "organizer"}
	return c
}

func newProtected() (http.Handler, *models.Identity) {
	var seen models.Identity
	verifier := stubVerifier{
		"client-token": {Sub: "user-1", Roles: []string{"client"}},
		"org-token":    organizerClaims(),
		"anon-token":   {},
	}
	h := Middleware(verifier, "organizer", logger.NewDiscard())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = IdentityFrom(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))
	return h, &seen
}

func TestMiddlewareSetsIdentity(t *testing.T) {
	h, seen := newProtected()

	req := httptest.NewRequest(http.MethodGet, "/api/me/reservations", nil)
	req.Header.Set("Authorization", "Bearer client-token")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.Identity{UserID: "user-1"}, *seen)

	req = httptest.NewRequest(http.MethodGet, "/api/me/reservations", nil)
	req.Header.Set("Authorization", "bearer org-token")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, models.Identity{UserID: "org-1", IsOrganizer: true}, *seen)
}

func TestMiddlewareRejects(t *testing.T) {
	h, _ := newProtected()

	cases := map[string]string{
		"missing header": "",
		"wrong scheme":   "Basic abc",
		"bad token":      "Bearer forged",
		"no subject":     "Bearer anon-token",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestRequireOrganizer(t *testing.T) {
	h := RequireOrganizer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/wallets", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(WithIdentity(req.Context(), models.Identity{UserID: "u"})))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req.WithContext(WithIdentity(req.Context(), models.Identity{UserID: "o", IsOrganizer: true})))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUserIDWithoutIdentity(t *testing.T) {
	assert.Empty(t, UserID(context.Background()))
}
