package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smb-ledger/internal/config"
	"smb-ledger/internal/csrf"
	"smb-ledger/internal/metrics"

	"golang.org/x/crypto/bcrypt"
)

func testConfig() *config.Config {
	secret := strings.Repeat("k", config.MinSecretLength)
	return &config.Config{
		Server:   config.ServerConfig{Address: "127.0.0.1", Port: 0, Mode: "test"},
		Database: config.DatabaseConfig{Driver: "sqlite", DSN: ":memory:"},
		Security: config.SecurityConfig{
			AccessTokenSecret:  secret,
			RefreshTokenSecret: secret + "r",
			SessionSecret:      secret + "s",
			EncryptionKey:      secret + "e",
			BcryptCost:         bcrypt.MinCost,
			AccessTokenTTL:     time.Minute,
			RefreshTokenTTL:    time.Hour,
		},
		Session:   config.SessionConfig{CookieName: "sid", MaxAge: time.Hour, SweepInterval: time.Hour},
		RateLimit: config.RateLimitConfig{Window: time.Minute, MaxRequests: 100, LoginMax: 5},
		Upload:    config.UploadConfig{Dir: "", AllowedMimeTypes: config.DefaultAllowedMimeTypes, MaxFileSize: 1024},
		Backup:    config.BackupConfig{MaxBackups: 3},
		Admin:     config.AdminConfig{Username: "admin", Password: "Admin-pass-1"},
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Security.SessionSecret = "short"

	_, err := New(cfg)
	var verr *config.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("New() error = %v, want *config.ValidationError", err)
	}
}

func do(app *App, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	app.Engine.ServeHTTP(rec, req)
	return rec
}

func TestApp_AdminSessionFlow(t *testing.T) {
	app, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(app.close)

	if rec := do(app, http.MethodGet, "/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz status = %d", rec.Code)
	}

	rec := do(app, http.MethodPost, "/api/auth/login", `{"username":"ADMIN","password":"Admin-pass-1"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d, body %s", rec.Code, rec.Body.String())
	}
	var body struct {
		CSRFToken string `json:"csrf_token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if body.CSRFToken == "" || rec.Header().Get(csrf.HeaderName) != body.CSRFToken {
		t.Fatalf("csrf token missing or mismatched: body %q header %q", body.CSRFToken, rec.Header().Get(csrf.HeaderName))
	}
	cookies := rec.Result().Cookies()
	if len(cookies) == 0 {
		t.Fatal("no session cookie set")
	}
	withCookie := http.Header{"Cookie": {cookies[0].Name + "=" + cookies[0].Value}}

	account := `{"type":"receivable","description":"Consulting","amount":"150.00","due_date":"2024-06-01"}`
	if rec := do(app, http.MethodPost, "/api/accounts", account, withCookie); rec.Code != http.StatusForbidden {
		t.Fatalf("create without csrf status = %d, want 403", rec.Code)
	}

	withToken := withCookie.Clone()
	withToken.Set(csrf.HeaderName, body.CSRFToken)
	if rec := do(app, http.MethodPost, "/api/accounts", account, withToken); rec.Code != http.StatusCreated {
		t.Fatalf("create with csrf status = %d, body %s", rec.Code, rec.Body.String())
	}

	if rec := do(app, http.MethodGet, "/api/admin/audit-logs/verify", "", withCookie); rec.Code != http.StatusOK ||
		!strings.Contains(rec.Body.String(), `"valid":true`) {
		t.Fatalf("verify = %d %s", rec.Code, rec.Body.String())
	}

	rec = do(app, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", rec.Code)
	}
	for _, name := range []string{metrics.MetricLoginAttemptsTotal, metrics.MetricCSRFRejectedTotal, metrics.MetricAuditEntriesTotal} {
		if !strings.Contains(rec.Body.String(), name) {
			t.Errorf("metrics output missing %s", name)
		}
	}
}

func TestApp_UnauthenticatedAPI(t *testing.T) {
	app, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(app.close)

	if rec := do(app, http.MethodGet, "/api/accounts", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec := do(app, http.MethodGet, "/api/admin/users", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("admin status = %d, want 401", rec.Code)
	}
}

func TestApp_RunStopsOnCancel(t *testing.T) {
	app, err := New(testConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run() = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
