package server

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/GoCodeAlone/pciledger/metrics"
	"github.com/GoCodeAlone/pciledger/server/ws"
)

func TestSignAndParseToken(t *testing.T) {
	secret := []byte("my-test-secret")
	now := time.Now()
	token, err := signToken(secret, "alice", now, time.Hour)
	if err != nil {
		t.Fatalf("signToken: %v", err)
	}
	if token == "" {
		t.Fatal("expected non-empty token")
	}

	subject, err := parseToken(secret, token, now)
	if err != nil {
		t.Fatalf("parseToken: %v", err)
	}
	if subject != "alice" {
		t.Errorf("expected subject 'alice', got %q", subject)
	}
}

func TestParseToken_Expired(t *testing.T) {
	secret := []byte("my-test-secret")
	issued := time.Now().Add(-2 * time.Hour)
	token, err := signToken(secret, "alice", issued, time.Hour)
	if err != nil {
		t.Fatalf("signToken: %v", err)
	}
	if _, err := parseToken(secret, token, time.Now()); err == nil {
		t.Fatal("expected error for expired token")
	}
}

func TestParseToken_BadSignature(t *testing.T) {
	token, _ := signToken([]byte("correct-secret"), "alice", time.Now(), time.Hour)
	if _, err := parseToken([]byte("wrong-secret"), token, time.Now()); err == nil {
		t.Fatal("expected error for wrong secret")
	}
}

func TestParseToken_RejectsOtherAlgorithms(t *testing.T) {
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		Subject:   "alice",
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := parseToken([]byte("secret"), token, time.Now()); err == nil {
		t.Fatal("expected alg=none token to be rejected")
	}
}

func login(t *testing.T, h http.Handler, user, pass string) *httptest.ResponseRecorder {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Username: user, Password: pass})
	req := httptest.NewRequest(http.MethodPost, "/api/auth/login", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func loginToken(t *testing.T, h http.Handler) string {
	t.Helper()
	rr := login(t, h, "admin", "secret")
	if rr.Code != http.StatusOK {
		t.Fatalf("login failed: %d %s", rr.Code, rr.Body.String())
	}
	var resp loginResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Token == "" {
		t.Fatal("expected non-empty token in response")
	}
	return resp.Token
}

func TestHandleLogin_Success(t *testing.T) {
	s := newTestServer(t)
	loginToken(t, s.Handler())
}

func TestHandleLogin_WrongPassword(t *testing.T) {
	s := newTestServer(t)
	for _, c := range []struct{ user, pass string }{
		{"admin", "wrong"},
		{"root", "secret"},
		{"", ""},
	} {
		if rr := login(t, s.Handler(), c.user, c.pass); rr.Code != http.StatusUnauthorized {
			t.Errorf("%s/%s: expected 401, got %d", c.user, c.pass, rr.Code)
		}
	}
}

func TestHandleLogin_NoPasswordConfigured(t *testing.T) {
	h, _ := newHandlers(t)
	cfg := testConfig(t)
	cfg.Auth.AdminPass = ""
	s := New(cfg, h, nil)
	if rr := login(t, s.Handler(), "admin", ""); rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s.Handler())

	req := httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var me map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&me); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if me["username"] != "admin" {
		t.Errorf("expected admin, got %q", me["username"])
	}
}

func TestAuthMiddleware_SubjectIsAuditUser(t *testing.T) {
	s := newTestServer(t)
	token := loginToken(t, s.Handler())

	req := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"name":"Audited"}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	entries, err := s.handlers.Audit.ListByUser(context.Background(), "admin")
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry by admin, got %d", len(entries))
	}
}

func TestStatusIsPublic(t *testing.T) {
	s := newTestServer(t)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rr.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h, _ := newHandlers(t)
	s := New(testConfig(t), h, nil)
	reg, m := metrics.NewRegistry()
	s.SetMetrics(m, reg)
	token := loginToken(t, s.Handler())

	req := httptest.NewRequest(http.MethodGet, "/api/tasks", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	s.Handler().ServeHTTP(httptest.NewRecorder(), req)

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `pciledger_http_requests_total{code="200",method="GET"} 1`) {
		t.Errorf("request counter missing from scrape:\n%s", rr.Body.String())
	}
}

func TestSSE_RequiresToken(t *testing.T) {
	s := newTestServer(t)
	s.SetHub(ws.NewHub(nil))

	for _, path := range []string{"/events", "/events?token=garbage"} {
		rr := httptest.NewRecorder()
		s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("%s: expected 401, got %d", path, rr.Code)
		}
	}
}

func TestSSE_StreamsAuditEntries(t *testing.T) {
	h, rec := newHandlers(t)
	s := New(testConfig(t), h, nil)
	hub := ws.NewHub(nil)
	defer hub.Attach(rec)()
	s.SetHub(hub)

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()
	token := loginToken(t, s.Handler())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/events?token="+token, nil)
	resp, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	br := bufio.NewReader(resp.Body)
	next := func() map[string]any {
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if data, ok := strings.CutPrefix(strings.TrimSpace(line), "data: "); ok {
				var ev map[string]any
				if err := json.Unmarshal([]byte(data), &ev); err != nil {
					t.Fatalf("decode %q: %v", data, err)
				}
				return ev
			}
		}
	}
	if ev := next(); ev["type"] != "connected" {
		t.Fatalf("expected connected, got %v", ev)
	}
	for hub.Clients() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	create := httptest.NewRequest(http.MethodPost, "/api/tasks", strings.NewReader(`{"name":"Live"}`))
	create.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, create)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: %d %s", rr.Code, rr.Body.String())
	}

	ev := next()
	if ev["type"] != ws.EventAudit {
		t.Fatalf("expected audit event, got %v", ev)
	}
	payload, _ := ev["payload"].(map[string]any)
	if payload["action"] != "create" || payload["userId"] != "admin" {
		t.Errorf("unexpected payload %v", payload)
	}
}
