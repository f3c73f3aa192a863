package observability_test

import (
	"CoverLedger/internal/observability"
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
)

// ============================================================================
// Test: logging
// ============================================================================

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.InfoLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"warn", zerolog.WarnLevel},
		{"off", zerolog.Disabled},
		{"disabled", zerolog.Disabled},
		{"loud", zerolog.InfoLevel},
	}
	for _, tc := range tests {
		if got := observability.ParseLogLevel(tc.in); got != tc.want {
			t.Errorf("ParseLogLevel(%q): got %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestForCommand(t *testing.T) {
	var buf bytes.Buffer
	l := observability.NewLoggerTo(&buf, "core", zerolog.InfoLevel)
	cmdLogger := observability.ForCommand(l, "EpochSettle", "settle-3")
	cmdLogger.Info().Msg("applied")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["component"] != "core" || line["event_type"] != "EpochSettle" || line["key"] != "settle-3" {
		t.Errorf("log line: got %v", line)
	}
}

// ============================================================================
// Test: health
// ============================================================================

func TestHealthChecker_Readiness(t *testing.T) {
	h := observability.NewHealthChecker()

	get := func() int {
		rec := httptest.NewRecorder()
		h.ReadinessHandler(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
		return rec.Code
	}

	if got := get(); got != http.StatusServiceUnavailable {
		t.Errorf("before ready: got %d, want 503", got)
	}
	h.SetReady(true)
	if got := get(); got != http.StatusOK {
		t.Errorf("ready: got %d, want 200", got)
	}

	h.AddCheck("postgres", func() error { return errors.New("down") })
	if got := get(); got != http.StatusServiceUnavailable {
		t.Errorf("failing check: got %d, want 503", got)
	}

	rec := httptest.NewRecorder()
	h.LivenessHandler(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("liveness: got %d, want 200", rec.Code)
	}
}

// ============================================================================
// Test: metrics
// ============================================================================

func TestMetrics_ChannelUtilization(t *testing.T) {
	m := observability.NewMetricsWith(prometheus.NewRegistry())
	m.SetChannelMetrics("persist", 256, 1024)

	var out dto.Metric
	if err := m.ChannelUtilization.WithLabelValues("persist").Write(&out); err != nil {
		t.Fatalf("write gauge: %v", err)
	}
	if got := out.GetGauge().GetValue(); got != 0.25 {
		t.Errorf("utilization: got %v, want 0.25", got)
	}
}
