package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stockledger/internal/auth"
	"github.com/odyssey-erp/stockledger/internal/observability"
	"github.com/odyssey-erp/stockledger/internal/stock"
	"github.com/odyssey-erp/stockledger/jobs"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, ,kafka-2:9092")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.AppAddr)
	require.Equal(t, 30*time.Second, cfg.StockCacheTTL)
	require.Equal(t, 3, cfg.StockTxMaxRetries)
	require.True(t, cfg.StockLowStockAlerts)
	require.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.KafkaBrokers)
	require.True(t, cfg.KafkaEnabled())
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsInvalid(t *testing.T) {
	t.Setenv("JWT_SECRET", "   ")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("STOCK_TX_MAX_RETRIES", "-1")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestRouterWiresRoutes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tokens, err := auth.NewTokens("s3cret", "stockledger")
	require.NoError(t, err)
	svc := stock.NewService(nil, stock.Dependencies{Logger: logger}, stock.ServiceConfig{})
	router := NewRouter(RouterParams{
		Logger:       logger,
		Config:       &Config{AppEnv: "test", AppRateLimit: 1000},
		Tokens:       tokens,
		StockHandler: stock.NewHandler(logger, svc, 1000),
		JobHandler:   jobs.NewHandler(nil, logger),
		Metrics:      observability.NewMetrics(),
	})

	get := func(path, bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr
	}

	rr := get("/healthz", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))

	rr = get("/stock/reasons", "")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := tokens.Issue(12, time.Minute)
	require.NoError(t, err)
	rr = get("/stock/reasons", token)
	require.Equal(t, http.StatusOK, rr.Code)
	var reasons []stock.ReasonInfo
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &reasons))
	require.NotEmpty(t, reasons)

	require.Equal(t, http.StatusOK, get("/jobs/health", "").Code)
	require.Equal(t, http.StatusNotFound, get("/nope", "").Code)

	rr = get("/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), `stockledger_http_requests_total{code="200",route="/healthz"} 1`)
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "")
	RefreshTestMode()
	require.False(t, InTestMode())
}
