package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/bigkaa/gosds/retrieval-module/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		realIP     string
		forwarded  string
		remoteAddr string
		want       string
	}{
		{"X-Real-IP приоритетен", "1.2.3.4", "5.6.7.8", "9.9.9.9:1234", "1.2.3.4"},
		{"X-Forwarded-For без X-Real-IP", "", "5.6.7.8", "9.9.9.9:1234", "5.6.7.8"},
		{"X-Forwarded-For с цепочкой", "", "5.6.7.8, 10.0.0.1", "9.9.9.9:1234", "5.6.7.8"},
		{"RemoteAddr без заголовков", "", "", "9.9.9.9:1234", "9.9.9.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/sds/pull", nil)
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}
			if tt.forwarded != "" {
				r.Header.Set("X-Forwarded-For", tt.forwarded)
			}
			r.RemoteAddr = tt.remoteAddr

			if got := ClientIP(r); got != tt.want {
				t.Errorf("ClientIP() = %q, хотели %q", got, tt.want)
			}
		})
	}
}

func TestPullMissingParams(t *testing.T) {
	h := NewPullHandler(nil, testLogger())

	tests := []struct {
		name string
		url  string
	}{
		{"без параметров", "/sds/pull"},
		{"без uid", "/sds/pull?p=/archive/data.tar"},
		{"без p", "/sds/pull?uid=user@example.edu"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			h.Pull(w, r)

			if w.Code != http.StatusBadRequest {
				t.Errorf("статус = %d, хотели 400", w.Code)
			}
		})
	}
}

func TestOpsLoginAndSession(t *testing.T) {
	sessions := session.NewStore(time.Minute, 16)
	h := NewOpsHandler(sessions, nil, nil, "operator-secret", testLogger())

	// Неверный код
	r := httptest.NewRequest(http.MethodPost, "/ops/login", strings.NewReader(`{"secret":"wrong"}`))
	w := httptest.NewRecorder()
	h.Login(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("статус при неверном коде = %d, хотели 401", w.Code)
	}

	// Верный код
	r = httptest.NewRequest(http.MethodPost, "/ops/login", strings.NewReader(`{"secret":"operator-secret"}`))
	w = httptest.NewRecorder()
	h.Login(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("статус при верном коде = %d, хотели 200", w.Code)
	}
	if sessions.Count() != 1 {
		t.Errorf("Count() = %d, хотели 1", sessions.Count())
	}
}

func TestOpsLoginDisabled(t *testing.T) {
	sessions := session.NewStore(time.Minute, 16)
	// Пустой секрет отключает консоль
	h := NewOpsHandler(sessions, nil, nil, "", testLogger())

	r := httptest.NewRequest(http.MethodPost, "/ops/login", strings.NewReader(`{"secret":""}`))
	w := httptest.NewRecorder()
	h.Login(w, r)

	if w.Code != http.StatusForbidden {
		t.Errorf("статус = %d, хотели 403", w.Code)
	}
}

func TestRequireSession(t *testing.T) {
	sessions := session.NewStore(time.Minute, 16)
	h := NewOpsHandler(sessions, nil, nil, "operator-secret", testLogger())

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	protected := h.RequireSession(next)

	// Без токена
	r := httptest.NewRequest(http.MethodGet, "/ops/jobs", nil)
	w := httptest.NewRecorder()
	protected.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("статус без токена = %d, хотели 401", w.Code)
	}

	// С живой сессией
	token, err := sessions.Create()
	if err != nil {
		t.Fatalf("Create() вернул ошибку: %v", err)
	}
	r = httptest.NewRequest(http.MethodGet, "/ops/jobs", nil)
	r.Header.Set(headerSessionToken, token)
	w = httptest.NewRecorder()
	protected.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("статус с токеном = %d, хотели 200", w.Code)
	}
}

func TestHealthLive(t *testing.T) {
	h := NewHealthHandler(readyFunc(func(context.Context) error { return nil }), testLogger())

	r := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	w := httptest.NewRecorder()
	h.Live(w, r)

	if w.Code != http.StatusOK {
		t.Errorf("статус = %d, хотели 200", w.Code)
	}
}

func TestHealthReady(t *testing.T) {
	h := NewHealthHandler(readyFunc(func(context.Context) error { return nil }), testLogger())

	r := httptest.NewRequest(http.MethodGet, "/health/ready", nil)
	w := httptest.NewRecorder()
	h.Ready(w, r)
	if w.Code != http.StatusOK {
		t.Errorf("статус = %d, хотели 200", w.Code)
	}

	h = NewHealthHandler(readyFunc(func(context.Context) error { return errors.New("db down") }), testLogger())
	w = httptest.NewRecorder()
	h.Ready(w, r)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("статус при недоступной БД = %d, хотели 503", w.Code)
	}
}

// readyFunc — адаптер функции к интерфейсу ReadyChecker.
type readyFunc func(ctx context.Context) error

func (f readyFunc) Ready(ctx context.Context) error {
	return f(ctx)
}
