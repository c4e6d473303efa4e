package telemetry

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

const (
	meterName = "github.com/wolfeidau/player-cache"
)

// Outcome labels shared by the record functions.
const (
	OutcomeSuccess  = "success"
	OutcomeError    = "error"
	OutcomeNotFound = "not_found"
	OutcomeHit      = "hit"
)

// MetricsConfig configures the metrics system.
type MetricsConfig struct {
	// ServiceName is the name of the service for resource attributes.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// OTLPEndpoint is the OTLP gRPC endpoint (e.g., "localhost:4317").
	// If empty, OTLP export is disabled.
	OTLPEndpoint string

	// EnablePrometheus enables the Prometheus /metrics endpoint.
	EnablePrometheus bool

	// FlushInterval is how often to export metrics (default: 10s).
	FlushInterval time.Duration
}

// Metrics holds the OpenTelemetry metric instruments.
type Metrics struct {
	requestsTotal   metric.Int64Counter
	requestDuration metric.Float64Histogram

	backendRequestDuration metric.Float64Histogram
	backendRequestsTotal   metric.Int64Counter
	backendBytesTotal      metric.Int64Counter

	// Cache size coordinator
	refreshTotal    metric.Int64Counter
	refreshDuration metric.Float64Histogram
	clearTotal      metric.Int64Counter
	cacheSizeBytes  metric.Int64Gauge

	// Cache fill and limit enforcement
	fillTotal          metric.Int64Counter
	fillBytesTotal     metric.Int64Counter
	upstreamDuration   metric.Float64Histogram
	evictionsTotal     metric.Int64Counter
	evictionBytesTotal metric.Int64Counter

	notificationsTotal metric.Int64Counter

	meterProvider *sdkmetric.MeterProvider
	promHandler   http.Handler
}

var (
	globalMetrics *Metrics
	initOnce      sync.Once
	initErr       error
)

// InitMetrics initializes the OpenTelemetry metrics system.
// Returns a shutdown function that should be called on application exit.
// Uses sync.Once to ensure single initialisation.
func InitMetrics(ctx context.Context, cfg MetricsConfig) (shutdown func(context.Context) error, err error) {
	initOnce.Do(func() {
		initErr = doInitMetrics(ctx, cfg)
	})

	if initErr != nil {
		return nil, initErr
	}

	return shutdownMetrics, nil
}

func doInitMetrics(ctx context.Context, cfg MetricsConfig) error {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "player-cache"
	}
	if cfg.FlushInterval == 0 {
		cfg.FlushInterval = 10 * time.Second
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return err
	}

	var readers []sdkmetric.Reader
	var promHandler http.Handler

	if cfg.OTLPEndpoint != "" {
		otlpExporter, err := otlpmetricgrpc.New(ctx,
			otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint),
			otlpmetricgrpc.WithInsecure(),
		)
		if err != nil {
			return err
		}
		readers = append(readers, sdkmetric.NewPeriodicReader(otlpExporter,
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	if cfg.EnablePrometheus {
		promExp, err := promexporter.New()
		if err != nil {
			return err
		}
		readers = append(readers, promExp)
		promHandler = promhttp.Handler()
	}

	// If no exporters configured, use a no-op periodic reader to still collect metrics
	if len(readers) == 0 {
		readers = append(readers, sdkmetric.NewPeriodicReader(noopExporter{},
			sdkmetric.WithInterval(cfg.FlushInterval),
		))
	}

	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}
	for _, r := range readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}

	mp := sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(mp)

	m, err := newMetrics(mp.Meter(meterName))
	if err != nil {
		return err
	}
	m.meterProvider = mp
	m.promHandler = promHandler
	globalMetrics = m

	return nil
}

// newMetrics creates every instrument on the given meter.
func newMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	if m.requestsTotal, err = meter.Int64Counter(
		"player_cache_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.requestDuration, err = meter.Float64Histogram(
		"player_cache_http_request_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}

	if m.backendRequestDuration, err = meter.Float64Histogram(
		"player_cache_backend_request_duration_seconds",
		metric.WithDescription("Duration of backend storage operations"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5),
	); err != nil {
		return nil, err
	}

	if m.backendRequestsTotal, err = meter.Int64Counter(
		"player_cache_backend_requests_total",
		metric.WithDescription("Total number of backend storage operations"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}

	if m.backendBytesTotal, err = meter.Int64Counter(
		"player_cache_backend_bytes_total",
		metric.WithDescription("Total bytes transferred in backend operations"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.refreshTotal, err = meter.Int64Counter(
		"player_cache_size_refresh_total",
		metric.WithDescription("Total cache size refreshes by outcome"),
		metric.WithUnit("{refresh}"),
	); err != nil {
		return nil, err
	}

	if m.refreshDuration, err = meter.Float64Histogram(
		"player_cache_size_refresh_duration_seconds",
		metric.WithDescription("Duration of a full cache size refresh"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	); err != nil {
		return nil, err
	}

	if m.clearTotal, err = meter.Int64Counter(
		"player_cache_clear_total",
		metric.WithDescription("Total category clears by outcome"),
		metric.WithUnit("{clear}"),
	); err != nil {
		return nil, err
	}

	if m.cacheSizeBytes, err = meter.Int64Gauge(
		"player_cache_size_bytes",
		metric.WithDescription("Last refreshed cache size per category"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.fillTotal, err = meter.Int64Counter(
		"player_cache_fill_total",
		metric.WithDescription("Total cache fills by outcome"),
		metric.WithUnit("{fill}"),
	); err != nil {
		return nil, err
	}

	if m.fillBytesTotal, err = meter.Int64Counter(
		"player_cache_fill_bytes_total",
		metric.WithDescription("Total bytes fetched from sources"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.upstreamDuration, err = meter.Float64Histogram(
		"player_cache_source_fetch_duration_seconds",
		metric.WithDescription("Duration of source fetch requests"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 60),
	); err != nil {
		return nil, err
	}

	if m.evictionsTotal, err = meter.Int64Counter(
		"player_cache_evictions_total",
		metric.WithDescription("Total entries evicted to honour the cache limit"),
		metric.WithUnit("{entry}"),
	); err != nil {
		return nil, err
	}

	if m.evictionBytesTotal, err = meter.Int64Counter(
		"player_cache_eviction_bytes_total",
		metric.WithDescription("Total bytes freed by limit eviction"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	if m.notificationsTotal, err = meter.Int64Counter(
		"player_cache_notifications_total",
		metric.WithDescription("Total user notifications emitted"),
		metric.WithUnit("{notification}"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// shutdownMetrics shuts down the metrics provider and clears the global state.
func shutdownMetrics(ctx context.Context) error {
	if globalMetrics == nil {
		return nil
	}
	err := globalMetrics.meterProvider.Shutdown(ctx)
	globalMetrics = nil
	return err
}

// RecordHTTP records HTTP request metrics.
// The endpoint is read from request tags set by handlers.
func RecordHTTP(ctx context.Context, r *http.Request, status int, duration time.Duration) {
	if globalMetrics == nil {
		return
	}

	endpoint := "unknown"
	if tags := GetTags(r); tags != nil && tags.Endpoint != "" {
		endpoint = tags.Endpoint
	}

	attrs := metric.WithAttributes(
		attribute.String("endpoint", endpoint),
		attribute.String("status_class", StatusClass(status)),
	)
	globalMetrics.requestsTotal.Add(ctx, 1, attrs)
	globalMetrics.requestDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordBackendOp records backend operation metrics.
func RecordBackendOp(ctx context.Context, backend, op, outcome string, duration time.Duration, bytes int64) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("backend", backend),
		attribute.String("op", op),
		attribute.String("outcome", outcome),
	)
	globalMetrics.backendRequestDuration.Record(ctx, duration.Seconds(), attrs)
	globalMetrics.backendRequestsTotal.Add(ctx, 1, attrs)
	if bytes > 0 {
		globalMetrics.backendBytesTotal.Add(ctx, bytes, attrs)
	}
}

// RecordRefresh records one cache size refresh.
func RecordRefresh(ctx context.Context, outcome string, duration time.Duration) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	globalMetrics.refreshTotal.Add(ctx, 1, attrs)
	globalMetrics.refreshDuration.Record(ctx, duration.Seconds(), attrs)
}

// RecordClear records one category clear.
func RecordClear(ctx context.Context, category, outcome string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.clearTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("outcome", outcome),
	))
}

// UpdateCacheSize sets the size gauge for a category.
func UpdateCacheSize(ctx context.Context, category string, bytes int64) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.cacheSizeBytes.Record(ctx, bytes, metric.WithAttributes(attribute.String("category", category)))
}

// RecordFill records a cache fill. shared is true when the caller joined
// a fill already in flight for the same source.
func RecordFill(ctx context.Context, category, outcome string, shared bool) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.fillTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("outcome", outcome),
		attribute.Bool("shared", shared),
	))
}

// RecordSourceFetch records a fetch from an entry's source.
func RecordSourceFetch(ctx context.Context, category string, duration time.Duration, bytesRead int64, outcome string) {
	if globalMetrics == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("category", category),
		attribute.String("outcome", outcome),
	)
	globalMetrics.upstreamDuration.Record(ctx, duration.Seconds(), attrs)
	if bytesRead > 0 {
		globalMetrics.fillBytesTotal.Add(ctx, bytesRead, attrs)
	}
}

// RecordEviction records entries evicted from a category to honour its limit.
func RecordEviction(ctx context.Context, category string, entries int, bytes int64) {
	if globalMetrics == nil || entries == 0 {
		return
	}
	attrs := metric.WithAttributes(attribute.String("category", category))
	globalMetrics.evictionsTotal.Add(ctx, int64(entries), attrs)
	globalMetrics.evictionBytesTotal.Add(ctx, bytes, attrs)
}

// RecordNotification records a user notification by level.
func RecordNotification(ctx context.Context, level string) {
	if globalMetrics == nil {
		return
	}
	globalMetrics.notificationsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("level", level)))
}

// PrometheusHandler returns the Prometheus metrics HTTP handler.
// Returns a handler that returns 404 if Prometheus export is not enabled,
// allowing safe registration regardless of initialization order.
func PrometheusHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if globalMetrics == nil || globalMetrics.promHandler == nil {
			http.NotFound(w, r)
			return
		}
		globalMetrics.promHandler.ServeHTTP(w, r)
	})
}

// StatusClass returns the HTTP status class (2xx, 3xx, 4xx, 5xx).
func StatusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}

// noopExporter is a no-op metrics exporter for when no exporters are configured.
type noopExporter struct{}

func (noopExporter) Temporality(_ sdkmetric.InstrumentKind) metricdata.Temporality {
	return metricdata.CumulativeTemporality
}

func (noopExporter) Aggregation(_ sdkmetric.InstrumentKind) sdkmetric.Aggregation {
	return nil
}

func (noopExporter) Export(_ context.Context, _ *metricdata.ResourceMetrics) error {
	return nil
}

func (noopExporter) ForceFlush(_ context.Context) error {
	return nil
}

func (noopExporter) Shutdown(_ context.Context) error {
	return nil
}
