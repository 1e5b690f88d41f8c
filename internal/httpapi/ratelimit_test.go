package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func newLimitedRouter(t *testing.T, limiter *RateLimiter) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(limiter.Middleware())
	router.GET("/api/calendar", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

func hit(router *gin.Engine) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodGet, "/api/calendar", nil)
	request.RemoteAddr = "203.0.113.7:4321"
	router.ServeHTTP(recorder, request)
	return recorder
}

func TestRateLimiterBlocksAfterCapacityAndRefills(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := NewRateLimiter(client, RateLimitConfig{Capacity: 2, RefillTokens: 1, RefillInterval: time.Second}, zap.NewNop())
	if err != nil {
		t.Fatalf("limiter init failed: %v", err)
	}
	current := time.Date(2024, time.May, 1, 9, 30, 0, 0, time.UTC)
	limiter.now = func() time.Time { return current }
	router := newLimitedRouter(t, limiter)

	first := hit(router)
	if first.Code != http.StatusOK || first.Header().Get("X-RateLimit-Remaining") != "1" {
		t.Fatalf("unexpected first response: %d remaining=%s", first.Code, first.Header().Get("X-RateLimit-Remaining"))
	}
	if second := hit(router); second.Code != http.StatusOK {
		t.Fatalf("expected second request to pass, got %d", second.Code)
	}
	blocked := hit(router)
	if blocked.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", blocked.Code)
	}
	if blocked.Header().Get("Retry-After") != "1" || blocked.Header().Get("X-RateLimit-Limit") != "2" {
		t.Fatalf("unexpected throttle headers: %v", blocked.Header())
	}

	current = current.Add(time.Second)
	if refilled := hit(router); refilled.Code != http.StatusOK {
		t.Fatalf("expected refill after one interval, got %d", refilled.Code)
	}
}

func TestRateLimiterFailsOpenWhenRedisIsDown(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })

	limiter, err := NewRateLimiter(client, RateLimitConfig{Capacity: 1}, zap.NewNop())
	if err != nil {
		t.Fatalf("limiter init failed: %v", err)
	}
	router := newLimitedRouter(t, limiter)
	server.Close()

	for attempt := 0; attempt < 3; attempt++ {
		if recorder := hit(router); recorder.Code != http.StatusOK {
			t.Fatalf("expected request to pass while redis is down, got %d", recorder.Code)
		}
	}
}

func TestNewRateLimiterRequiresClient(t *testing.T) {
	if _, err := NewRateLimiter(nil, RateLimitConfig{}, nil); err == nil {
		t.Fatalf("expected error for missing client")
	}
}
