package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/pismenka-api/internal/config"
	"github.com/pismenka-api/internal/domain"
	"github.com/pismenka-api/internal/service"
	"github.com/pismenka-api/internal/storage"
)

const adminPassword = "tajne"

var testNow = time.Date(2024, time.January, 1, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestRouter(t *testing.T, limiter *OriginLimiter) http.Handler {
	t.Helper()
	cfg := config.DefaultConfig().Game
	cfg.AdminPassword = adminPassword

	svc := service.NewGameService(storage.NewMemoryStore(), &cfg, discardLogger())
	svc.SetClock(func() time.Time { return testNow })
	return NewHandler(svc, nil, limiter, discardLogger()).Router()
}

func do(t *testing.T, router http.Handler, method, target, body string, headers map[string]string) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	decoded := map[string]interface{}{}
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &decoded); err != nil {
			t.Fatalf("decode %s: %v", rec.Body.String(), err)
		}
	}
	return rec, decoded
}

func submitBody(word string, moves, seconds interface{}) string {
	payload, _ := json.Marshal(map[string]interface{}{
		"action":      ActionSubmitResult,
		"word":        word,
		"moves":       moves,
		"time":        seconds,
		"player_name": "Eva",
	})
	return string(payload)
}

func TestGetCurrentWord(t *testing.T) {
	router := newTestRouter(t, nil)

	rec, body := do(t, router, http.MethodGet, "/api/game?action=get_current_word", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["word"] != "VELBLOUD" || body["date"] != "2024-01-01" || body["success"] != true {
		t.Fatalf("unexpected body %v", body)
	}
	if body["auto_generated"] != true {
		t.Fatalf("expected auto_generated on first call, got %v", body)
	}

	_, again := do(t, router, http.MethodGet, "/api/v1/word", "", nil)
	if _, ok := again["auto_generated"]; ok {
		t.Fatalf("auto_generated should be omitted for a stored game, got %v", again)
	}
}

func TestSubmitResultAcceptsNumericStrings(t *testing.T) {
	router := newTestRouter(t, nil)

	rec, body := do(t, router, http.MethodPost, "/api/game", submitBody("VELBLOUD", "12", "95"), nil)
	if rec.Code != http.StatusOK || body["success"] != true {
		t.Fatalf("expected success, got %d %v", rec.Code, body)
	}

	_, board := do(t, router, http.MethodGet, "/api/game?action=get_leaderboard", "", nil)
	entries := board["leaderboard"].([]interface{})
	if len(entries) != 1 {
		t.Fatalf("expected one entry, got %v", board)
	}
	first := entries[0].(map[string]interface{})
	if first["moves"] != float64(12) || first["time"] != float64(95) || first["rank"] != float64(1) {
		t.Fatalf("unexpected entry %v", first)
	}
}

func TestSubmitResultRejections(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"zero moves", submitBody("VELBLOUD", 0, 30), http.StatusBadRequest},
		{"non numeric", submitBody("VELBLOUD", "many", 30), http.StatusBadRequest},
		{"implausible", submitBody("VELBLOUD", 2000, 30), http.StatusBadRequest},
		{"wrong word", submitBody("PRAVOPIS", 5, 30), http.StatusBadRequest},
		{"malformed body", `{"action": "submit_result", "moves":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := newTestRouter(t, nil)
			rec, body := do(t, router, http.MethodPost, "/api/game", tt.body, nil)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d (%v)", tt.status, rec.Code, body)
			}
			if body["success"] != false || body["error"] == "" {
				t.Fatalf("expected error body, got %v", body)
			}
		})
	}
}

func TestSubmitResultRateLimitedPerOrigin(t *testing.T) {
	router := newTestRouter(t, nil)
	headers := map[string]string{"X-Forwarded-For": "203.0.113.7, 10.0.0.1"}

	for i := 0; i < 10; i++ {
		rec, body := do(t, router, http.MethodPost, "/api/v1/results", submitBody("VELBLOUD", 5, 30+i), headers)
		if rec.Code != http.StatusOK {
			t.Fatalf("submission %d: got %d %v", i+1, rec.Code, body)
		}
	}

	rec, _ := do(t, router, http.MethodPost, "/api/v1/results", submitBody("VELBLOUD", 5, 30), headers)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}

	other := map[string]string{"X-Forwarded-For": "198.51.100.1"}
	if rec, _ := do(t, router, http.MethodPost, "/api/v1/results", submitBody("VELBLOUD", 5, 30), other); rec.Code != http.StatusOK {
		t.Fatalf("other origin should pass, got %d", rec.Code)
	}
}

func TestAdminSetWord(t *testing.T) {
	router := newTestRouter(t, nil)

	rec, body := do(t, router, http.MethodPost, "/api/game",
		`{"action":"admin_set_word","admin_password":"wrong","word":"PRAVOPIS"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %v", rec.Code, body)
	}

	rec, body = do(t, router, http.MethodPost, "/api/v1/admin/word",
		`{"admin_password":"tajne","word":"abcdefg1"}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %v", rec.Code, body)
	}

	rec, body = do(t, router, http.MethodPost, "/api/game",
		`{"action":"admin_set_word","admin_password":"tajne","word":" pravopis "}`, nil)
	if rec.Code != http.StatusOK || body["word"] != "PRAVOPIS" || body["success"] != true {
		t.Fatalf("unexpected response %d %v", rec.Code, body)
	}
	if msg, _ := body["message"].(string); !strings.Contains(msg, "PRAVOPIS") {
		t.Fatalf("unexpected message %q", msg)
	}

	_, current := do(t, router, http.MethodGet, "/api/game?action=get_current_word", "", nil)
	if current["word"] != "PRAVOPIS" {
		t.Fatalf("expected PRAVOPIS to be active, got %v", current)
	}
}

func TestAdminStats(t *testing.T) {
	router := newTestRouter(t, nil)
	do(t, router, http.MethodPost, "/api/game", submitBody("VELBLOUD", 5, 30), nil)

	rec, _ := do(t, router, http.MethodPost, "/api/v1/admin/stats", `{"admin_password":"nope"}`, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	rec, body := do(t, router, http.MethodPost, "/api/game", `{"action":"admin_get_stats","admin_password":"tajne"}`, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body["total_games"] != float64(1) || body["top_player"] != "Eva" || body["using_redis"] != false {
		t.Fatalf("unexpected stats %v", body)
	}
}

func TestArchiveEmptyIsList(t *testing.T) {
	router := newTestRouter(t, nil)

	rec, body := do(t, router, http.MethodGet, "/api/game?action=get_archive", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	archive, ok := body["archive"].([]interface{})
	if !ok || len(archive) != 0 {
		t.Fatalf("expected empty archive list, got %v", body["archive"])
	}
}

func TestLeaderboardDateParameter(t *testing.T) {
	router := newTestRouter(t, nil)

	rec, body := do(t, router, http.MethodGet, "/api/v1/leaderboard?date=2023-12-31", "", nil)
	if rec.Code != http.StatusOK || body["date"] != "2023-12-31" || body["total_players"] != float64(0) {
		t.Fatalf("unexpected response %d %v", rec.Code, body)
	}

	rec, _ = do(t, router, http.MethodGet, "/api/v1/leaderboard?date=yesterday", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad date, got %d", rec.Code)
	}
}

func TestUnknownAction(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, target := range []string{"/api/game?action=delete_everything", "/api/game"} {
		rec, body := do(t, router, http.MethodGet, target, "", nil)
		if rec.Code != http.StatusBadRequest || body["error"] != domain.ErrUnknownAction.Error() {
			t.Fatalf("%s: unexpected response %d %v", target, rec.Code, body)
		}
	}
}

func TestHealthCheck(t *testing.T) {
	router := newTestRouter(t, nil)

	for _, target := range []string{"/health", "/api/game?action=health_check"} {
		rec, body := do(t, router, http.MethodGet, target, "", nil)
		if rec.Code != http.StatusOK || body["status"] != "OK" || body["version"] != "2.0.0" {
			t.Fatalf("%s: unexpected response %d %v", target, rec.Code, body)
		}
		db := body["database"].(map[string]interface{})
		if db["database"] != domain.BackendMemory || db["connected"] != true {
			t.Fatalf("unexpected database health %v", db)
		}
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t, nil)

	rec, _ := do(t, router, http.MethodOptions, "/api/game", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard origin, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Methods"); got != "GET, POST, OPTIONS" {
		t.Fatalf("unexpected methods %q", got)
	}
}

func TestWebSocketDisabledWithoutHub(t *testing.T) {
	router := newTestRouter(t, nil)

	rec, _ := do(t, router, http.MethodGet, "/ws", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	_, stats := do(t, router, http.MethodGet, "/api/v1/ws/stats", "", nil)
	if stats["total_connections"] != float64(0) {
		t.Fatalf("unexpected stats %v", stats)
	}
}

func TestThrottleMiddleware(t *testing.T) {
	limiter := NewOriginLimiter(config.RateLimitConfig{RPS: 0.001, Burst: 2, TTL: time.Minute}, discardLogger())
	router := newTestRouter(t, limiter)
	headers := map[string]string{"X-Real-IP": "192.0.2.10"}

	for i := 0; i < 2; i++ {
		if rec, _ := do(t, router, http.MethodGet, "/api/v1/word", "", headers); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}
	rec, body := do(t, router, http.MethodGet, "/api/v1/word", "", headers)
	if rec.Code != http.StatusTooManyRequests || body["success"] != false {
		t.Fatalf("expected throttled 429, got %d %v", rec.Code, body)
	}

	if rec, _ := do(t, router, http.MethodGet, "/health", "", headers); rec.Code != http.StatusOK {
		t.Fatalf("health must not be throttled, got %d", rec.Code)
	}
}

func TestOriginLimiterCleanup(t *testing.T) {
	limiter := NewOriginLimiter(config.RateLimitConfig{RPS: 1, Burst: 1, TTL: time.Minute}, discardLogger())
	now := testNow
	limiter.now = func() time.Time { return now }

	limiter.Allow("a")
	now = now.Add(2 * time.Minute)
	limiter.Allow("b")

	if removed := limiter.Cleanup(); removed != 1 {
		t.Fatalf("expected 1 removed, got %d", removed)
	}
	if _, ok := limiter.limiters["b"]; !ok {
		t.Fatal("recent limiter was removed")
	}
}

func TestOriginAddress(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": " 203.0.113.7 , 10.0.0.1"}, "10.0.0.9:1234", "203.0.113.7"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.4"}, "10.0.0.9:1234", "198.51.100.4"},
		{"remote host", nil, "192.0.2.1:5555", "192.0.2.1"},
		{"remote without port", nil, "192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := originAddress(req); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestFlexInt(t *testing.T) {
	tests := []struct {
		raw  string
		want int
	}{
		{`12`, 12},
		{`"12"`, 12},
		{`" 7 "`, 7},
		{`3.9`, 3},
		{`null`, 0},
		{`""`, 0},
		{`"abc"`, 0},
		{`-4`, -4},
	}
	for _, tt := range tests {
		var n flexInt
		if err := json.Unmarshal([]byte(tt.raw), &n); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.raw, err)
		}
		if int(n) != tt.want {
			t.Errorf("flexInt(%s) = %d, want %d", tt.raw, n, tt.want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrValidation, http.StatusBadRequest},
		{fmt.Errorf("%w: detail", domain.ErrImplausibleValue), http.StatusBadRequest},
		{domain.ErrWordMismatch, http.StatusBadRequest},
		{domain.ErrInvalidFormat, http.StatusBadRequest},
		{domain.ErrInvalidRequest, http.StatusBadRequest},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{domain.ErrUnauthorized, http.StatusUnauthorized},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
