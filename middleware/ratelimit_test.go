package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type fakeCounterStore struct {
	counts  map[string]int64
	started map[string]time.Time
	err     error
}

func newFakeCounterStore() *fakeCounterStore {
	return &fakeCounterStore{
		counts:  make(map[string]int64),
		started: make(map[string]time.Time),
	}
}

func (f *fakeCounterStore) IncrWindow(ctx context.Context, key string, window time.Duration) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	if start, ok := f.started[key]; ok && time.Since(start) > window {
		delete(f.counts, key)
		delete(f.started, key)
	}
	if _, ok := f.started[key]; !ok {
		f.started[key] = time.Now()
	}
	f.counts[key]++
	return f.counts[key], nil
}

func setupLimiterRouter(store CounterStore, points int64, window time.Duration, t *testing.T) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(RateLimit(store, points, window, zaptest.NewLogger(t)))
	router.GET("/menu", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return router
}

func TestRateLimit_DeniesSixthRequest(t *testing.T) {
	store := newFakeCounterStore()
	router := setupLimiterRouter(store, 5, time.Minute, t)

	for i := 1; i <= 5; i++ {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/menu", nil)
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected status %d, got %d", i, http.StatusOK, w.Code)
		}
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/menu", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("6th request: expected status %d, got %d", http.StatusTooManyRequests, w.Code)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
}

func TestRateLimit_NewWindowAllows(t *testing.T) {
	store := newFakeCounterStore()
	router := setupLimiterRouter(store, 2, 50*time.Millisecond, t)

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/menu", nil))
	}

	time.Sleep(60 * time.Millisecond)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/menu", nil))
	if w.Code != http.StatusOK {
		t.Errorf("after window elapsed: expected status %d, got %d", http.StatusOK, w.Code)
	}
}

func TestRateLimit_FailsOpenOnStoreError(t *testing.T) {
	store := newFakeCounterStore()
	store.err = errors.New("connection refused")
	router := setupLimiterRouter(store, 1, time.Minute, t)

	for i := 0; i < 10; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/menu", nil))
		if w.Code != http.StatusOK {
			t.Fatalf("expected fail-open status %d, got %d", http.StatusOK, w.Code)
		}
	}
}

func TestRateLimit_SetsQuotaHeaders(t *testing.T) {
	store := newFakeCounterStore()
	router := setupLimiterRouter(store, 5, time.Minute, t)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/menu", nil))

	if got := w.Header().Get("X-RateLimit-Limit"); got != "5" {
		t.Errorf("expected X-RateLimit-Limit 5, got %q", got)
	}
	if got := w.Header().Get("X-RateLimit-Remaining"); got != "4" {
		t.Errorf("expected X-RateLimit-Remaining 4, got %q", got)
	}
}
