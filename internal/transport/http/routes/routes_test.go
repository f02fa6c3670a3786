package routes_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	red "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/arklim/academy-sessions/internal/infra/config"
	"github.com/arklim/academy-sessions/internal/infra/security"
	"github.com/arklim/academy-sessions/internal/repository/memory"
	redisrepo "github.com/arklim/academy-sessions/internal/repository/redis"
	"github.com/arklim/academy-sessions/internal/transport/http/middleware"
	httproutes "github.com/arklim/academy-sessions/internal/transport/http/routes"
	"github.com/arklim/academy-sessions/internal/usecase"
)

type downChecker struct{}

func (downChecker) Ping(context.Context) error { return errors.New("connection refused") }

func TestHealthEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	logger, _ := zap.NewDevelopment()
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	r := httproutes.Register(httproutes.Dependencies{
		Config: cfg,
		Logger: logger,
	})
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/healthz", nil)

	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestReadinessReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test"}}

	r := httproutes.Register(httproutes.Dependencies{
		Config:   cfg,
		Logger:   zaptest.NewLogger(t),
		Database: downChecker{},
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"database":"unavailable"`) {
		t.Fatalf("expected database check in body, got %s", w.Body.String())
	}
}

func TestCORSPreflight(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cfg := &config.AppConfig{App: config.AppSettings{Env: "test", AllowedOrigins: []string{"https://academy.example.com"}}}

	r := httproutes.Register(httproutes.Dependencies{Config: cfg, Logger: zaptest.NewLogger(t)})
	req := httptest.NewRequest(http.MethodOptions, "/v1/sessions", nil)
	req.Header.Set("Origin", "https://academy.example.com")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "https://academy.example.com" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

func newLimitedRouter(t *testing.T, limits config.RateLimitSettings) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	server := miniredis.RunT(t)
	client := red.NewClient(&red.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	codec, err := security.NewTokenCodec(security.CodecOptions{
		AccessSecret:  []byte("routes-access-secret-00000000001"),
		RefreshSecret: []byte("routes-refresh-secret-0000000001"),
		Issuer:        "academy-sessions",
		Audience:      "academy-api",
		AccessTTL:     time.Minute,
		RefreshTTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("NewTokenCodec returned error: %v", err)
	}
	manager, err := usecase.NewSessionManager(usecase.SessionManagerConfig{}, usecase.SessionManagerDeps{
		Codec:     codec,
		Blacklist: memory.NewBlacklist(memory.BlacklistOptions{}),
		Refresh:   memory.NewRefreshRegistry(),
		Sessions:  memory.NewSessionStore(),
		Devices:   memory.NewDeviceTracker(memory.DeviceTrackerOptions{}),
	})
	if err != nil {
		t.Fatalf("NewSessionManager returned error: %v", err)
	}

	logger := zaptest.NewLogger(t)
	limiter := middleware.NewRateLimiter(redisrepo.NewRateLimitRepository(client, redisrepo.SlidingWindowConfig{
		KeyPrefix: "sessions:rl",
		TTL:       time.Minute,
	}), logger)

	limits.WindowDuration = time.Minute
	cfg := &config.AppConfig{
		App:       config.AppSettings{Env: "test"},
		RateLimit: limits,
	}
	return httproutes.Register(httproutes.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Manager:     manager,
		RateLimiter: limiter,
	})
}

func postCodes(r *gin.Engine, path, body string, attempts int) []int {
	codes := make([]int, 0, attempts)
	for i := 0; i < attempts; i++ {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}
	return codes
}

func TestRefreshIsRateLimited(t *testing.T) {
	r := newLimitedRouter(t, config.RateLimitSettings{RefreshMaxAttempts: 2})

	codes := postCodes(r, "/v1/tokens/refresh", `{"refresh_token":"bogus"}`, 3)
	if codes[0] != http.StatusUnauthorized || codes[1] != http.StatusUnauthorized {
		t.Fatalf("expected the first attempts to reach the handler, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected the third attempt to be limited, got %v", codes)
	}
}

func TestValidateRequiresAuthAndIsRateLimited(t *testing.T) {
	r := newLimitedRouter(t, config.RateLimitSettings{ValidateMaxAttempts: 2})

	codes := postCodes(r, "/v1/tokens/validate", `{"access_token":"a.b.c"}`, 3)
	if codes[0] != http.StatusUnauthorized || codes[1] != http.StatusUnauthorized {
		t.Fatalf("expected anonymous introspection to be rejected, got %v", codes)
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Fatalf("expected the third attempt to be limited, got %v", codes)
	}
}
