package whisper

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	if _, err := New(DefaultConfig()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

func TestCheckUpload(t *testing.T) {
	tests := []struct {
		name        string
		size        int64
		contentType string
		want        error
	}{
		{"ok", 1024, "audio/webm", nil},
		{"empty", 0, "audio/webm", ErrEmptyAudio},
		{"too large", 11 * 1024 * 1024, "audio/wav", ErrTooLarge},
		{"not audio", 1024, "video/mp4", ErrUnsupportedMedia},
		{"no type", 1024, "", ErrUnsupportedMedia},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckUpload(tt.size, 10*1024*1024, tt.contentType)
			if !errors.Is(err, tt.want) {
				t.Errorf("CheckUpload() = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestTranscribe(t *testing.T) {
	var gotPath, gotModel, gotLang, gotAudio string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		gotModel = r.FormValue("model")
		gotLang = r.FormValue("language")
		if f, _, err := r.FormFile("file"); err == nil {
			b, _ := io.ReadAll(f)
			gotAudio = string(b)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"text":"  go to cart  "}`)
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = srv.URL + "/v1/"
	cfg.Language = "en"
	tr, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	audio := "RIFF....WAVE"
	text, err := tr.Transcribe(context.Background(), strings.NewReader(audio), "clip.wav", "audio/wav", int64(len(audio)), Options{})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if text != "go to cart" {
		t.Errorf("expected trimmed text, got %q", text)
	}
	if gotPath != "/v1/audio/transcriptions" {
		t.Errorf("unexpected path %s", gotPath)
	}
	if gotModel != "whisper-1" || gotLang != "en" {
		t.Errorf("unexpected form values model=%q language=%q", gotModel, gotLang)
	}
	if gotAudio != audio {
		t.Errorf("server received %q", gotAudio)
	}
}

func TestTranscribe_RejectsBeforeUpload(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	tr, err := New(Config{APIKey: "k", BaseURL: srv.URL + "/", MaxBytes: 4})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = tr.Transcribe(context.Background(), strings.NewReader("12345"), "a.wav", "audio/wav", 5, Options{})
	if !errors.Is(err, ErrTooLarge) {
		t.Errorf("expected ErrTooLarge, got %v", err)
	}
	if called {
		t.Error("oversized upload must not reach the API")
	}
}
