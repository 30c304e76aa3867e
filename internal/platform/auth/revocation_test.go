package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

func TestRevocationStore_RevokeAndCheck(t *testing.T) {
	store := NewTokenRevocationStore(time.Minute)
	defer store.Close()

	store.Revoke("jti-1", "user-42", time.Now().Add(time.Hour))
	if !store.IsRevoked("jti-1") {
		t.Error("expected jti-1 to be revoked")
	}
	if store.IsRevoked("jti-2") {
		t.Error("expected jti-2 to not be revoked")
	}
	if store.Count() != 1 {
		t.Errorf("expected count 1, got %d", store.Count())
	}
}

func TestRevocationStore_CleanupDropsExpired(t *testing.T) {
	store := NewTokenRevocationStore(time.Hour)
	defer store.Close()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }
	store.Revoke("old", "", now.Add(-time.Second))
	store.Revoke("live", "", now.Add(time.Minute))

	store.cleanup()

	if store.IsRevoked("old") {
		t.Error("expected expired entry to be dropped")
	}
	if !store.IsRevoked("live") {
		t.Error("expected live entry to remain")
	}
}

func TestRevocationStore_ConcurrentAccess(t *testing.T) {
	store := NewTokenRevocationStore(time.Minute)
	defer store.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			store.Revoke(string(rune('a'+i%26))+"-jti", "u", time.Now().Add(time.Hour))
		}(i)
		go func() {
			defer wg.Done()
			store.IsRevoked("a-jti")
		}()
	}
	wg.Wait()
	store.Close()
	store.Close()
}

func TestLogout_RevokesCurrentToken(t *testing.T) {
	store := NewTokenRevocationStore(time.Minute)
	defer store.Close()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/logout", nil)
	claims := &Claims{RegisteredClaims: jwt.RegisteredClaims{
		ID:        "jti-9",
		Subject:   "user-9",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	req = req.WithContext(WithClaims(req.Context(), claims))
	rec := httptest.NewRecorder()

	if err := handleLogout(store)(e.NewContext(req, rec)); err != nil {
		t.Fatal(err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	if !store.IsRevoked("jti-9") {
		t.Error("expected token to be revoked")
	}
}

func TestLogout_WithoutClaims(t *testing.T) {
	store := NewTokenRevocationStore(time.Minute)
	defer store.Close()

	c := echo.New().NewContext(httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder())
	assertStatus(t, handleLogout(store)(c), http.StatusUnauthorized)
}

func TestListRevocations(t *testing.T) {
	store := NewTokenRevocationStore(time.Minute)
	defer store.Close()
	store.Revoke("jti-1", "user-1", time.Now().Add(time.Hour))

	rec := httptest.NewRecorder()
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	if err := handleListRevocations(store)(c); err != nil {
		t.Fatal(err)
	}
	var body revocationListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || body.Entries[0].JTI != "jti-1" {
		t.Errorf("unexpected body %+v", body)
	}
}
