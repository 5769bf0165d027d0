package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"voice-commerce-service/internal/service/catalog"
	"voice-commerce-service/internal/service/dispatcher"
	"voice-commerce-service/internal/service/stt/whisper"
	"voice-commerce-service/internal/service/voice"
	"voice-commerce-service/internal/store/auth"
	"voice-commerce-service/internal/store/cart"
)

type fakeTranscriber struct {
	text     string
	gotBytes []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, audio io.Reader, _, _ string, _ int64, _ whisper.Options) (string, error) {
	f.gotBytes, _ = io.ReadAll(audio)
	return f.text, nil
}

func (f *fakeTranscriber) MaxBytes() int64 { return 1024 }

type testAPI struct {
	handler http.Handler
	deps    Deps
}

func newTestAPI(t *testing.T, tr Transcriber) *testAPI {
	t.Helper()
	users, err := auth.Open("", "", auth.WithBcryptCost(bcrypt.MinCost))
	if err != nil {
		t.Fatal(err)
	}
	carts, err := cart.Open("")
	if err != nil {
		t.Fatal(err)
	}
	cat := catalog.Default()
	manager := voice.NewManager(dispatcher.New(cat, carts), nil, voice.DefaultConfig())
	t.Cleanup(manager.StopAll)

	deps := Deps{
		Auth:           users,
		Carts:          carts,
		Catalog:        cat,
		Voice:          manager,
		Transcriber:    tr,
		AllowedOrigins: []string{"http://shop.local"},
	}
	return &testAPI{handler: NewRouter(deps), deps: deps}
}

func (ta *testAPI) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)

	var out map[string]any
	_ = json.Unmarshal(rec.Body.Bytes(), &out)
	return rec, out
}

// signIn registers and logs in a user, returning the token.
func (ta *testAPI) signIn(t *testing.T, email string) string {
	t.Helper()
	rec, _ := ta.do(t, http.MethodPost, "/api/register", "", map[string]string{
		"firstName": "Ada", "lastName": "Lovelace", "email": email, "password": "secret",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("register: %d %s", rec.Code, rec.Body)
	}
	rec, body := ta.do(t, http.MethodPost, "/api/login", "", map[string]string{"email": email, "password": "secret"})
	if rec.Code != http.StatusOK {
		t.Fatalf("login: %d %s", rec.Code, rec.Body)
	}
	return body["token"].(string)
}

func TestRouter_NotFound(t *testing.T) {
	ta := newTestAPI(t, nil)

	rec, body := ta.do(t, http.MethodGet, "/api/nope", "", nil)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if body["success"] != false || body["message"] != "Route not found" {
		t.Errorf("unexpected body %v", body)
	}
}

func TestRouter_HealthAndLiveness(t *testing.T) {
	ta := newTestAPI(t, nil)

	rec, body := ta.do(t, http.MethodGet, "/api/health", "", nil)
	if rec.Code != http.StatusOK || body["status"] != "ok" || body["whisper"] != "unavailable" {
		t.Errorf("unexpected health %d %v", rec.Code, body)
	}
	if rec, _ := ta.do(t, http.MethodGet, "/v1/liveness", "", nil); rec.Code != http.StatusOK {
		t.Errorf("liveness = %d", rec.Code)
	}
}

func TestAuthFlow(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.signIn(t, "ada@example.com")

	rec, body := ta.do(t, http.MethodGet, "/api/validate-session", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("validate-session: %d", rec.Code)
	}
	user := body["user"].(map[string]any)
	if user["email"] != "ada@example.com" {
		t.Errorf("unexpected user %v", user)
	}
	if _, ok := user["password"]; ok {
		t.Error("password hash must not be exposed")
	}

	rec, body = ta.do(t, http.MethodPut, "/api/profile", token, map[string]any{"firstName": "Augusta"})
	if rec.Code != http.StatusOK || body["user"].(map[string]any)["firstName"] != "Augusta" {
		t.Errorf("update profile: %d %v", rec.Code, body)
	}

	rec, _ = ta.do(t, http.MethodPut, "/api/change-password", token, map[string]string{"currentPassword": "wrong", "newPassword": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("change password with wrong current = %d, want 400", rec.Code)
	}

	if rec, _ := ta.do(t, http.MethodPost, "/api/logout", token, nil); rec.Code != http.StatusOK {
		t.Fatalf("logout: %d", rec.Code)
	}
	rec, body = ta.do(t, http.MethodGet, "/api/profile", token, nil)
	if rec.Code != http.StatusUnauthorized || body["message"] != "Invalid or expired token" {
		t.Errorf("expected 401 after logout, got %d %v", rec.Code, body)
	}
}

func TestAuth_Errors(t *testing.T) {
	ta := newTestAPI(t, nil)
	ta.signIn(t, "ada@example.com")

	tests := []struct {
		name    string
		method  string
		path    string
		token   string
		body    any
		status  int
		message string
	}{
		{"no token", http.MethodGet, "/api/profile", "", nil, http.StatusUnauthorized, "No token provided"},
		{"bad token", http.MethodGet, "/api/users", "nope", nil, http.StatusUnauthorized, "Invalid or expired token"},
		{"duplicate email", http.MethodPost, "/api/register", "", map[string]string{
			"firstName": "A", "lastName": "B", "email": "ADA@example.com", "password": "p",
		}, http.StatusBadRequest, auth.ErrUserExists.Error()},
		{"missing fields", http.MethodPost, "/api/register", "", map[string]string{"email": "x@y.z"}, http.StatusBadRequest, auth.ErrMissingFields.Error()},
		{"bad password", http.MethodPost, "/api/login", "", map[string]string{"email": "ada@example.com", "password": "no"}, http.StatusUnauthorized, auth.ErrInvalidCredentials.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, body := ta.do(t, tt.method, tt.path, tt.token, tt.body)
			if rec.Code != tt.status || body["message"] != tt.message {
				t.Errorf("got %d %v, want %d %q", rec.Code, body["message"], tt.status, tt.message)
			}
		})
	}
}

func TestDeleteAccount(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.signIn(t, "ada@example.com")
	ta.do(t, http.MethodPost, "/api/cart/items", token, map[string]int{"productId": 1})

	rec, body := ta.do(t, http.MethodDelete, "/api/account", token, map[string]string{"password": "nope"})
	if rec.Code != http.StatusUnauthorized || body["message"] != "Invalid password" {
		t.Fatalf("expected 401 for wrong password, got %d %v", rec.Code, body)
	}

	if rec, _ := ta.do(t, http.MethodDelete, "/api/account", token, map[string]string{"password": "secret"}); rec.Code != http.StatusOK {
		t.Fatalf("delete: %d", rec.Code)
	}
	if rec, _ := ta.do(t, http.MethodGet, "/api/profile", token, nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("sessions of a deleted user must be invalid, got %d", rec.Code)
	}
	if users := ta.deps.Auth.ListUsers(); len(users) != 0 {
		t.Errorf("expected no users, got %d", len(users))
	}
}

func TestProducts_Search(t *testing.T) {
	ta := newTestAPI(t, nil)

	rec, body := ta.do(t, http.MethodGet, "/api/products?search=sunglasses", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("products: %d", rec.Code)
	}
	if body["count"] != float64(2) {
		t.Errorf("expected 2 matches, got %v", body["count"])
	}
	if body["filterPattern"] != `(?i)\bsunglasses\b` {
		t.Errorf("unexpected filter pattern %v", body["filterPattern"])
	}

	_, body = ta.do(t, http.MethodGet, "/api/products", "", nil)
	if body["count"] != float64(44) {
		t.Errorf("expected full catalog, got %v", body["count"])
	}
}

func TestCart(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.signIn(t, "ada@example.com")

	rec, body := ta.do(t, http.MethodPost, "/api/cart/items", token, map[string]int{"productId": 3, "quantity": 2})
	if rec.Code != http.StatusOK || body["count"] != float64(2) {
		t.Fatalf("add: %d %v", rec.Code, body)
	}
	_, body = ta.do(t, http.MethodPost, "/api/cart/items", token, map[string]int{"productId": 3})
	if body["count"] != float64(3) {
		t.Errorf("adding the same product should increment, got %v", body["count"])
	}

	if rec, _ := ta.do(t, http.MethodPost, "/api/cart/items", token, map[string]int{"productId": 99}); rec.Code != http.StatusNotFound {
		t.Errorf("unknown product = %d, want 404", rec.Code)
	}
	if rec, _ := ta.do(t, http.MethodPost, "/api/cart/items", token, map[string]int{"productId": 1, "quantity": -1}); rec.Code != http.StatusBadRequest {
		t.Errorf("negative quantity = %d, want 400", rec.Code)
	}

	rec, body = ta.do(t, http.MethodPatch, "/api/cart/items/3", token, map[string]int{"delta": -3})
	if rec.Code != http.StatusOK || body["removed"] != true {
		t.Errorf("decrement to zero should remove, got %d %v", rec.Code, body)
	}
	if rec, _ := ta.do(t, http.MethodDelete, "/api/cart/items/3", token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("removing a missing item = %d, want 404", rec.Code)
	}
	if rec, _ := ta.do(t, http.MethodPatch, "/api/cart/items/abc", token, map[string]int{"delta": 1}); rec.Code != http.StatusBadRequest {
		t.Errorf("bad product id = %d, want 400", rec.Code)
	}

	_, body = ta.do(t, http.MethodGet, "/api/cart", token, nil)
	if c := body["cart"].(map[string]any); c["count"] != float64(0) {
		t.Errorf("expected empty cart, got %v", c)
	}
}

func TestVoiceSessionEvents(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.signIn(t, "ada@example.com")

	rec, body := ta.do(t, http.MethodPost, "/api/voice/sessions", token, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("start: %d", rec.Code)
	}
	id := body["session"].(map[string]any)["id"].(string)
	events := "/api/voice/sessions/" + id + "/events"

	rec, body = ta.do(t, http.MethodPost, events, token, map[string]any{"text": "add", "isFinal": false})
	if rec.Code != http.StatusOK || body["outcome"].(map[string]any)["interim"] != true {
		t.Fatalf("interim: %d %v", rec.Code, body)
	}

	_, body = ta.do(t, http.MethodPost, events, token, map[string]any{"text": "Add 1 quantity 2.", "isFinal": true})
	out := body["outcome"].(map[string]any)
	if out["action"] != string(dispatcher.ActionAddToCart) || out["cartCount"] != float64(2) {
		t.Errorf("unexpected outcome %v", out)
	}

	// Another user cannot see the session.
	other := ta.signIn(t, "bob@example.com")
	if rec, _ := ta.do(t, http.MethodPost, events, other, map[string]any{"text": "add 2", "isFinal": true}); rec.Code != http.StatusNotFound {
		t.Errorf("foreign session = %d, want 404", rec.Code)
	}

	_, body = ta.do(t, http.MethodPost, events, token, map[string]any{"text": "go to cart", "isFinal": true})
	out = body["outcome"].(map[string]any)
	if out["action"] != string(dispatcher.ActionNavigate) || out["page"] != "/cart.html" || out["stopListening"] != true {
		t.Errorf("unexpected navigate outcome %v", out)
	}

	// Navigation ends the session.
	if rec, _ := ta.do(t, http.MethodPost, events, token, map[string]any{"text": "add 2", "isFinal": true}); rec.Code != http.StatusNotFound {
		t.Errorf("event after navigation = %d, want 404", rec.Code)
	}
}

func TestVoiceSession_Stop(t *testing.T) {
	ta := newTestAPI(t, nil)
	token := ta.signIn(t, "ada@example.com")

	_, body := ta.do(t, http.MethodPost, "/api/voice/sessions", token, nil)
	id := body["session"].(map[string]any)["id"].(string)

	if rec, _ := ta.do(t, http.MethodDelete, "/api/voice/sessions/"+id, token, nil); rec.Code != http.StatusOK {
		t.Fatalf("stop: %d", rec.Code)
	}
	if rec, _ := ta.do(t, http.MethodDelete, "/api/voice/sessions/"+id, token, nil); rec.Code != http.StatusNotFound {
		t.Errorf("second stop = %d, want 404", rec.Code)
	}
	if n := ta.deps.Voice.Active(); n != 0 {
		t.Errorf("expected no active sessions, got %d", n)
	}
}

func TestCORS_Preflight(t *testing.T) {
	ta := newTestAPI(t, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/cart", nil)
	req.Header.Set("Origin", "http://shop.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight = %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://shop.local" {
		t.Errorf("allow origin = %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/products", nil)
	req.Header.Set("Origin", "http://evil.local")
	rec = httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("unexpected allow origin %q for unlisted origin", got)
	}
}

func multipartAudio(t *testing.T, contentType string, audio []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		_ = mw.WriteField(k, v)
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="audio"; filename="clip.webm"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = part.Write(audio)
	_ = mw.Close()
	return &buf, mw.FormDataContentType()
}

func TestTranscribe(t *testing.T) {
	tr := &fakeTranscriber{text: "search for sunglasses"}
	ta := newTestAPI(t, tr)
	token := ta.signIn(t, "ada@example.com")
	_, body := ta.do(t, http.MethodPost, "/api/voice/sessions", token, nil)
	id := body["session"].(map[string]any)["id"].(string)

	buf, ct := multipartAudio(t, "audio/webm", []byte("webm-bytes"), map[string]string{"sessionId": id})
	req := httptest.NewRequest(http.MethodPost, "/api/transcribe", buf)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("transcribe: %d %s", rec.Code, rec.Body)
	}
	var out struct {
		Text     string             `json:"text"`
		Language string             `json:"language"`
		Outcome  dispatcher.Outcome `json:"outcome"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatal(err)
	}
	if out.Text != "search for sunglasses" || out.Language != "en" {
		t.Errorf("unexpected response %+v", out)
	}
	if out.Outcome.Action != dispatcher.ActionSearch || len(out.Outcome.Products) != 2 {
		t.Errorf("expected search outcome, got %+v", out.Outcome)
	}
	if string(tr.gotBytes) != "webm-bytes" {
		t.Errorf("transcriber received %q", tr.gotBytes)
	}
}

func TestTranscribe_Rejections(t *testing.T) {
	tests := []struct {
		name        string
		tr          Transcriber
		contentType string
		audio       []byte
		status      int
		message     string
	}{
		{"not configured", nil, "audio/webm", []byte("x"), http.StatusServiceUnavailable, whisper.ErrNotConfigured.Error()},
		{"not audio", &fakeTranscriber{}, "text/plain", []byte("x"), http.StatusBadRequest, "Only audio files are allowed"},
		{"too large", &fakeTranscriber{}, "audio/wav", bytes.Repeat([]byte("x"), 2048), http.StatusBadRequest, "File too large"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestAPI(t, tt.tr)
			buf, ct := multipartAudio(t, tt.contentType, tt.audio, nil)
			req := httptest.NewRequest(http.MethodPost, "/api/transcribe", buf)
			req.Header.Set("Content-Type", ct)
			rec := httptest.NewRecorder()
			ta.handler.ServeHTTP(rec, req)

			if rec.Code != tt.status || !strings.Contains(rec.Body.String(), tt.message) {
				t.Errorf("got %d %s, want %d %q", rec.Code, rec.Body, tt.status, tt.message)
			}
		})
	}
}
