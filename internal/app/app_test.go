package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"voice-commerce-service/internal/config"
	"voice-commerce-service/internal/store/auth"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Load()
	cfg.Storage.DataDir = t.TempDir()
	cfg.Storage.CatalogFile = ""
	cfg.HTTP.Port = "0"
	cfg.Service.GRPCPort = "0"
	cfg.Observability.MetricsPort = "0"
	cfg.Auth.BcryptCost = 4
	cfg.Whisper.APIKey = ""
	cfg.Kafka.Enabled = false
	cfg.STT.Provider = "mock"
	return cfg
}

func TestNew_WiresStores(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Voice.StopAll()

	if a.Catalog.Len() == 0 {
		t.Error("expected the default catalog")
	}
	if a.Publisher.Enabled() {
		t.Error("publisher should be log-only without brokers")
	}

	u, err := a.Auth.Register(auth.Registration{FirstName: "Ada", LastName: "L", Email: "ada@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	s := a.Voice.Start(u.ID)
	if _, err := a.Voice.GetForUser(s.ID(), u.ID); err != nil {
		t.Errorf("voice session not found: %v", err)
	}
}

func TestNew_BadCatalogFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.CatalogFile = "/nonexistent/catalog.yaml"
	if _, err := New(cfg); err == nil {
		t.Error("expected an error for a missing catalog file")
	}
}

func TestAdapterFactory_DefaultsToMock(t *testing.T) {
	adapter, err := adapterFactory(config.STTConfig{Provider: "mock"})(context.Background())
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	if adapter == nil {
		t.Fatal("expected an adapter")
	}
	adapter.Close()
}

func TestRun_ReadyUntilCancelled(t *testing.T) {
	a, err := New(testConfig(t))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	ready := func() int {
		rec := httptest.NewRecorder()
		a.observability.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}
	deadline := time.Now().Add(5 * time.Second)
	for ready() != http.StatusOK && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if code := ready(); code != http.StatusOK {
		t.Fatalf("expected ready, /readyz returned %d", code)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(15 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
	if code := ready(); code != http.StatusServiceUnavailable {
		t.Errorf("expected not ready after shutdown, got %d", code)
	}
}
