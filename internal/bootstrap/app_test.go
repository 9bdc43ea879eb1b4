package bootstrap

import "testing"

// TestDetectMimeType checks extension mapping and the binary fallback.
func TestDetectMimeType(t *testing.T) {
	cases := []struct {
		path string
		want string
	}{
		{"art.png", "image/png"},
		{"page.html", "text/html"},
		{"unknown.zzz-ext", "application/octet-stream"},
		{"noextension", "application/octet-stream"},
	}
	for _, tc := range cases {
		if got := detectMimeType(tc.path); got != tc.want {
			t.Fatalf("detectMimeType(%q) = %q, want %q", tc.path, got, tc.want)
		}
	}
}

// TestListModelsReturnsCopy verifies callers cannot mutate the catalog.
func TestListModelsReturnsCopy(t *testing.T) {
	app := &App{}

	models := app.ListModels()
	if len(models) == 0 {
		t.Fatal("expected a non-empty model catalog")
	}

	var hasText, hasImage bool
	for _, model := range models {
		switch model.Kind {
		case "text":
			hasText = true
		case "image":
			hasImage = true
		}
	}
	if !hasText || !hasImage {
		t.Fatalf("catalog = %+v, want both text and image models", models)
	}

	models[0].ID = "mutated"
	if app.ListModels()[0].ID == "mutated" {
		t.Fatal("catalog mutated through returned slice")
	}
}
