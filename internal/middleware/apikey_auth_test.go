package middleware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/chordwave/backend/internal/models"
	"github.com/chordwave/backend/internal/repository"
)

type mockAPIKeyRepo struct {
	byHash map[string]*repository.APIKeyWithUser
}

func (m *mockAPIKeyRepo) FindByKeyHash(_ context.Context, keyHash string) (*repository.APIKeyWithUser, error) {
	k, ok := m.byHash[keyHash]
	if !ok {
		return nil, fmt.Errorf("not found")
	}
	return k, nil
}

func TestAPIKeyAuth_ValidKey(t *testing.T) {
	rawKey := "cwav_testkey123"
	user := models.User{ID: uuid.New(), Email: "a@b.c", Credits: 500}
	repo := &mockAPIKeyRepo{byHash: map[string]*repository.APIKeyWithUser{
		HashKey(rawKey): {APIKey: models.APIKey{ID: uuid.New(), UserID: user.ID}, User: user},
	}}

	var gotUser *models.User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser = UserFromCtx(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	rec := httptest.NewRecorder()

	APIKeyAuth(repo)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if gotUser == nil || gotUser.ID != user.ID {
		t.Errorf("user in context = %+v, want %v", gotUser, user.ID)
	}
}

func TestAPIKeyAuth_MissingHeader(t *testing.T) {
	repo := &mockAPIKeyRepo{byHash: map[string]*repository.APIKeyWithUser{}}
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("next handler must not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
	rec := httptest.NewRecorder()

	APIKeyAuth(repo)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestAPIKeyAuth_UnknownKey(t *testing.T) {
	repo := &mockAPIKeyRepo{byHash: map[string]*repository.APIKeyWithUser{}}
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		t.Error("next handler must not run")
	})

	req := httptest.NewRequest(http.MethodGet, "/v1/credits", nil)
	req.Header.Set("Authorization", "Bearer cwav_nope")
	rec := httptest.NewRecorder()

	APIKeyAuth(repo)(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if _, err := io.ReadAll(rec.Body); err != nil {
		t.Fatalf("read body: %v", err)
	}
}
