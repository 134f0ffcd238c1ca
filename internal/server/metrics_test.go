package server

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/smallbiznis/flowline/internal/config"
	"github.com/smallbiznis/flowline/internal/telemetry"
)

func TestMetricsEndpoint_GathersAppAndRuntimeFamilies(t *testing.T) {
	registry := telemetry.NewRegistry()
	metrics := telemetry.NewMetrics(registry)
	metrics.RecordLedgerTransaction("usage_event_processed")

	engine := NewEngine(config.Config{}, zap.NewNop(), registry)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.True(t, strings.Contains(body, "flowline_ledger_transactions_total"))
	assert.True(t, strings.Contains(body, "go_goroutines"))
}
