package config

import (
	"os"
	"path/filepath"
	"testing"

	"blend-studio/internal/domain"
	"blend-studio/internal/genai"
	"blend-studio/internal/jobs"
)

// TestDefaultSettings verifies baseline defaults are present.
func TestDefaultSettings(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", " env-key ")

	cfg := DefaultSettings()
	if cfg.APIKey != "env-key" {
		t.Fatalf("api key = %q, want trimmed env value", cfg.APIKey)
	}
	if cfg.Model != genai.DefaultModel {
		t.Fatalf("model = %q, want %q", cfg.Model, genai.DefaultModel)
	}
	if cfg.ImageModel != genai.DefaultImageModel {
		t.Fatalf("image model = %q, want %q", cfg.ImageModel, genai.DefaultImageModel)
	}
	if cfg.MaxConcurrentJobs != jobs.DefaultMaxConcurrent {
		t.Fatalf("max concurrent = %d, want %d", cfg.MaxConcurrentJobs, jobs.DefaultMaxConcurrent)
	}
}

// TestNormalizeFillsGaps checks trimming and default substitution.
func TestNormalizeFillsGaps(t *testing.T) {
	got := Normalize(domain.Settings{
		APIKey:            "  key  ",
		Model:             "   ",
		ImageModel:        "",
		MaxConcurrentJobs: -3,
	})

	if got.APIKey != "key" {
		t.Fatalf("api key = %q, want key", got.APIKey)
	}
	if got.Model != genai.DefaultModel {
		t.Fatalf("model = %q, want default", got.Model)
	}
	if got.ImageModel != genai.DefaultImageModel {
		t.Fatalf("image model = %q, want default", got.ImageModel)
	}
	if got.MaxConcurrentJobs != jobs.DefaultMaxConcurrent {
		t.Fatalf("max concurrent = %d, want default", got.MaxConcurrentJobs)
	}
}

// TestJSONStoreLoadMissingReturnsDefaults checks first-run behavior.
func TestJSONStoreLoadMissingReturnsDefaults(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "missing", "settings.json")
	store := NewJSONStore(path)

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.Model != genai.DefaultModel {
		t.Fatalf("model = %q, want default", got.Model)
	}
}

// TestJSONStoreSaveAndLoadRoundTrip checks persisted settings fidelity.
func TestJSONStoreSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	store := NewJSONStore(path)
	want := domain.Settings{
		APIKey:            "secret",
		Model:             "gemini-2.5-pro",
		ImageModel:        "gemini-2.5-flash-image",
		MaxConcurrentJobs: 2,
	}

	if err := store.Save(want); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != want {
		t.Fatalf("settings = %+v, want %+v", got, want)
	}
}

// TestJSONStoreLoadInvalidJSON checks parse error handling.
func TestJSONStoreLoadInvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg", "settings.json")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("{not-json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	store := NewJSONStore(path)
	if _, err := store.Load(); err == nil {
		t.Fatal("expected json parse error")
	}
}
