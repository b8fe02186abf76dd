package services

import (
	"context"
	"errors"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/chordwave/backend/internal/models"
)

func schemasDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot determine test file path")
	}
	return filepath.Join(filepath.Dir(file), "..", "..", "schemas")
}

func newTestValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := NewValidator(context.Background(), schemasDir(t))
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	return v
}

func TestValidateParams(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	if err := v.ValidateParams(ctx, models.KindMusic, []byte(`{"prompt":"synthwave","style":"retro"}`)); err != nil {
		t.Errorf("valid music params rejected: %v", err)
	}

	err := v.ValidateParams(ctx, models.KindMusic, []byte(`{"style":"retro"}`))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("missing prompt: got %v, want ErrValidation", err)
	}

	err = v.ValidateParams(ctx, models.KindImage, []byte(`{"prompt":"cover","n":12}`))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("n above maximum: got %v, want ErrValidation", err)
	}

	if err := v.ValidateParams(ctx, "hologram", []byte(`{}`)); err == nil {
		t.Error("unknown kind must be rejected")
	}
}

func TestValidateOutput(t *testing.T) {
	v := newTestValidator(t)
	ctx := context.Background()

	if err := v.ValidateOutput(ctx, models.KindMusic, []byte(`{"audio_url":"https://cdn.example.com/a.mp3","duration_seconds":182}`)); err != nil {
		t.Errorf("valid music output flagged: %v", err)
	}

	err := v.ValidateOutput(ctx, models.KindMusic, []byte(`{"duration_seconds":182}`))
	if !errors.Is(err, ErrValidation) {
		t.Errorf("missing audio_url: got %v, want ErrValidation", err)
	}
}

func TestCost(t *testing.T) {
	tests := []struct {
		name   string
		kind   string
		params string
		want   int
		ok     bool
	}{
		{"music flat", models.KindMusic, `{"prompt":"x"}`, 100, true},
		{"image default count", models.KindImage, `{"prompt":"x"}`, 50, true},
		{"image four", models.KindImage, `{"prompt":"x","n":4}`, 200, true},
		{"image max", models.KindImage, `{"n":8}`, 400, true},
		{"image over max", models.KindImage, `{"n":9}`, 0, false},
		{"video default seconds", models.KindVideo, `{"prompt":"x"}`, 150, true},
		{"video ten seconds", models.KindVideo, `{"duration_seconds":10}`, 150, true},
		{"video max", models.KindVideo, `{"duration_seconds":20}`, 300, true},
		{"video over max", models.KindVideo, `{"duration_seconds":21}`, 0, false},
		{"unknown kind", "hologram", `{}`, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Cost(tt.kind, []byte(tt.params))
			if tt.ok && err != nil {
				t.Fatalf("Cost: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected error")
			}
			if got != tt.want {
				t.Errorf("Cost = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCost_EmptyParams(t *testing.T) {
	if got, err := Cost(models.KindImage, nil); err != nil || got != ImageCostPerItem {
		t.Errorf("image nil params: %d, %v", got, err)
	}
	if got, err := Cost(models.KindVideo, nil); err != nil || got != DefaultVideoSeconds*VideoCostPerSecond {
		t.Errorf("video nil params: %d, %v", got, err)
	}
}
