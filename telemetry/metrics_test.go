package telemetry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// setupTestMetrics creates a Metrics instance backed by a ManualReader for testing.
func setupTestMetrics(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	m, err := newMetrics(mp.Meter(meterName))
	require.NoError(t, err)
	m.meterProvider = mp
	globalMetrics = m

	t.Cleanup(func() {
		_ = mp.Shutdown(context.Background())
		globalMetrics = nil
	})

	return reader
}

// collectMetrics reads all metrics from the ManualReader.
func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	return rm
}

// findCounter finds a counter metric by name and returns its data points.
func findCounter(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
					return sum.DataPoints
				}
			}
		}
	}
	return nil
}

// findGauge finds a gauge metric by name and returns its data points.
func findGauge(rm metricdata.ResourceMetrics, name string) []metricdata.DataPoint[int64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if g, ok := m.Data.(metricdata.Gauge[int64]); ok {
					return g.DataPoints
				}
			}
		}
	}
	return nil
}

// findHistogram finds a histogram metric by name and returns its data points.
func findHistogram(rm metricdata.ResourceMetrics, name string) []metricdata.HistogramDataPoint[float64] {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				if hist, ok := m.Data.(metricdata.Histogram[float64]); ok {
					return hist.DataPoints
				}
			}
		}
	}
	return nil
}

// hasAttr checks if a data point's attribute set contains the given key-value pair.
func hasAttr(attrs attribute.Set, key, value string) bool {
	v, ok := attrs.Value(attribute.Key(key))
	return ok && v.AsString() == value
}

func TestRecordHTTP_WithEndpoint(t *testing.T) {
	reader := setupTestMetrics(t)

	r := httptest.NewRequest(http.MethodPost, "/cache/music/clear", nil)
	r = InjectTags(r)
	SetEndpoint(r, "clear")

	RecordHTTP(context.Background(), r, http.StatusOK, 50*time.Millisecond)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "player_cache_http_requests_total")
	require.Len(t, dps, 1)
	require.EqualValues(t, 1, dps[0].Value)
	require.True(t, hasAttr(dps[0].Attributes, "endpoint", "clear"))
	require.True(t, hasAttr(dps[0].Attributes, "status_class", "2xx"))

	histDps := findHistogram(rm, "player_cache_http_request_duration_seconds")
	require.Len(t, histDps, 1)
	require.Equal(t, uint64(1), histDps[0].Count)
}

func TestRecordHTTP_DefaultsWhenNoTags(t *testing.T) {
	reader := setupTestMetrics(t)

	r := httptest.NewRequest(http.MethodGet, "/unknown", nil)

	RecordHTTP(context.Background(), r, http.StatusNotFound, time.Millisecond)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "player_cache_http_requests_total")
	require.Len(t, dps, 1)
	require.True(t, hasAttr(dps[0].Attributes, "endpoint", "unknown"))
	require.True(t, hasAttr(dps[0].Attributes, "status_class", "4xx"))
}

func TestRecordHTTP_NilGlobalMetrics(t *testing.T) {
	globalMetrics = nil

	r := httptest.NewRequest(http.MethodGet, "/test", nil)
	r = InjectTags(r)

	// Should not panic
	RecordHTTP(context.Background(), r, http.StatusOK, time.Millisecond)
	RecordRefresh(context.Background(), OutcomeSuccess, time.Millisecond)
	RecordEviction(context.Background(), "music", 1, 10)
	UpdateCacheSize(context.Background(), "music", 10)
}

func TestRecordRefreshAndSizes(t *testing.T) {
	reader := setupTestMetrics(t)
	ctx := context.Background()

	RecordRefresh(ctx, OutcomeSuccess, 5*time.Millisecond)
	RecordRefresh(ctx, OutcomeError, time.Millisecond)
	UpdateCacheSize(ctx, "music", 2048)
	UpdateCacheSize(ctx, "lyric", 64)
	UpdateCacheSize(ctx, "music", 4096)

	rm := collectMetrics(t, reader)

	dps := findCounter(rm, "player_cache_size_refresh_total")
	require.Len(t, dps, 2)
	for _, dp := range dps {
		require.EqualValues(t, 1, dp.Value)
	}

	require.Len(t, findHistogram(rm, "player_cache_size_refresh_duration_seconds"), 2)

	gauges := findGauge(rm, "player_cache_size_bytes")
	require.Len(t, gauges, 2)
	for _, g := range gauges {
		switch {
		case hasAttr(g.Attributes, "category", "music"):
			require.EqualValues(t, 4096, g.Value)
		case hasAttr(g.Attributes, "category", "lyric"):
			require.EqualValues(t, 64, g.Value)
		default:
			t.Fatalf("unexpected gauge attributes %v", g.Attributes)
		}
	}
}

func TestRecordClearAndEviction(t *testing.T) {
	reader := setupTestMetrics(t)
	ctx := context.Background()

	RecordClear(ctx, "image", OutcomeSuccess)
	RecordEviction(ctx, "music", 3, 3000)
	RecordEviction(ctx, "music", 0, 0)

	rm := collectMetrics(t, reader)

	clears := findCounter(rm, "player_cache_clear_total")
	require.Len(t, clears, 1)
	require.True(t, hasAttr(clears[0].Attributes, "category", "image"))
	require.True(t, hasAttr(clears[0].Attributes, "outcome", "success"))

	ev := findCounter(rm, "player_cache_evictions_total")
	require.Len(t, ev, 1)
	require.EqualValues(t, 3, ev[0].Value)

	evBytes := findCounter(rm, "player_cache_eviction_bytes_total")
	require.Len(t, evBytes, 1)
	require.EqualValues(t, 3000, evBytes[0].Value)
}

func TestRecordFillAndNotification(t *testing.T) {
	reader := setupTestMetrics(t)
	ctx := context.Background()

	RecordFill(ctx, "lyric", OutcomeSuccess, false)
	RecordFill(ctx, "lyric", OutcomeSuccess, true)
	RecordNotification(ctx, "success")

	rm := collectMetrics(t, reader)

	fills := findCounter(rm, "player_cache_fill_total")
	require.Len(t, fills, 2)

	notes := findCounter(rm, "player_cache_notifications_total")
	require.Len(t, notes, 1)
	require.True(t, hasAttr(notes[0].Attributes, "level", "success"))
}

func TestPrometheusHandler_NotFoundWhenDisabled(t *testing.T) {
	globalMetrics = nil

	rec := httptest.NewRecorder()
	PrometheusHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatusClass(t *testing.T) {
	tests := []struct {
		status int
		want   string
	}{
		{200, "2xx"},
		{201, "2xx"},
		{299, "2xx"},
		{301, "3xx"},
		{304, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
		{100, "unknown"},
		{0, "unknown"},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, StatusClass(tt.status), "StatusClass(%d)", tt.status)
	}
}
