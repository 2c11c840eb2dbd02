// Package datadog implements a Datadog backend for the internal/metrics package.
//
// The backend buffers metric events in memory, submits them on a periodic
// Flush() ticker (default once per minute), and flushes one final time on
// Close(). Ingestion runs are usually short, so most submissions happen at
// shutdown, but the periodic flush keeps dashboards alive when an operator
// loops the command or runs it against many endpoints.
//
// Concurrency model:
//   - pipeline goroutines call IncCounter/ObserveHistogram at any time
//   - Flush snapshots+resets buffers under a mutex, then submits out-of-lock
//   - the flush loop calls Flush() periodically; Close() stops the loop
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"marketstats/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "ingest".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:ingest"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// Unexported test seams. Production code never sets them; unit tests use
	// them to avoid real network submission and nondeterministic clocks.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal slice of the Datadog SDK this backend needs.
// The SDK exposes a concrete *datadogV2.MetricsApi; depending on this
// interface instead lets tests substitute a fake.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	// Buffered pipeline metrics. Keys combine two label values with a NUL
	// separator; see statusKey.
	endpointCounts map[string]float64
	stepCounts     map[string]float64 // step x status
	rowCounts      map[string]float64 // table -> appended rows
	endpointDur    map[string][]float64

	httpReqCounts map[string]float64
	httpErrCounts map[string]float64
	httpReqDur    map[string][]float64
	httpRespDur   map[string][]float64
	httpDownloadB map[string][]float64
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// NewBackend constructs a Datadog backend using the official client.
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "ingest".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
//
// Errors:
//   - Client construction is not expected to fail under normal conditions;
//     network errors surface from Flush().
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "ingest"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		cfg := dd.NewConfiguration()
		client := dd.NewAPIClient(cfg)
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,

		endpointCounts: make(map[string]float64),
		stepCounts:     make(map[string]float64),
		rowCounts:      make(map[string]float64),
		endpointDur:    make(map[string][]float64),

		httpReqCounts: make(map[string]float64),
		httpErrCounts: make(map[string]float64),
		httpReqDur:    make(map[string][]float64),
		httpRespDur:   make(map[string][]float64),
		httpDownloadB: make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
// Close must be called at most once; a second call panics on the closed
// stop channel, the usual Go close-once contract.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "ingest_endpoint_total":
		k := statusKey(labels["endpoint"], labels["status"])
		b.endpointCounts[k] += delta

	case "ingest_step_total":
		k := statusKey(labels["step"], labels["status"])
		b.stepCounts[k] += delta

	case "ingest_rows_total":
		table := labels["table"]
		if table == "" {
			return
		}
		b.rowCounts[table] += delta

	case "ingest_http_requests_total":
		b.httpReqCounts[httpKey(labels)] += delta

	case "ingest_http_errors_total":
		b.httpErrCounts[httpKey(labels)] += delta

	default:
		// Unknown metrics are ignored.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "ingest_endpoint_duration_seconds":
		k := statusKey(labels["endpoint"], labels["status"])
		b.endpointDur[k] = append(b.endpointDur[k], value)

	case "ingest_http_request_duration_seconds":
		k := httpKey(labels)
		b.httpReqDur[k] = append(b.httpReqDur[k], value)

	case "ingest_http_response_duration_seconds":
		k := httpKey(labels)
		b.httpRespDur[k] = append(b.httpRespDur[k], value)

	case "ingest_http_download_bytes":
		k := httpKey(labels)
		b.httpDownloadB[k] = append(b.httpDownloadB[k], value)

	default:
		// Unknown histograms are ignored.
	}
}

// snapshot is the detached buffered state a Flush submits. Flush must reset
// buffers under the lock but submit out-of-lock, so the two phases hand off
// through this value.
type snapshot struct {
	endpointCounts map[string]float64
	stepCounts     map[string]float64
	rowCounts      map[string]float64
	endpointDur    map[string][]float64

	httpReqCounts map[string]float64
	httpErrCounts map[string]float64
	httpReqDur    map[string][]float64
	httpRespDur   map[string][]float64
	httpDownloadB map[string][]float64
}

func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		endpointCounts: b.endpointCounts,
		stepCounts:     b.stepCounts,
		rowCounts:      b.rowCounts,
		endpointDur:    b.endpointDur,

		httpReqCounts: b.httpReqCounts,
		httpErrCounts: b.httpErrCounts,
		httpReqDur:    b.httpReqDur,
		httpRespDur:   b.httpRespDur,
		httpDownloadB: b.httpDownloadB,
	}

	b.endpointCounts = make(map[string]float64)
	b.stepCounts = make(map[string]float64)
	b.rowCounts = make(map[string]float64)
	b.endpointDur = make(map[string][]float64)

	b.httpReqCounts = make(map[string]float64)
	b.httpErrCounts = make(map[string]float64)
	b.httpReqDur = make(map[string][]float64)
	b.httpRespDur = make(map[string][]float64)
	b.httpDownloadB = make(map[string][]float64)

	return s
}

func (s snapshot) isEmpty() bool {
	return len(s.endpointCounts) == 0 &&
		len(s.stepCounts) == 0 &&
		len(s.rowCounts) == 0 &&
		len(s.endpointDur) == 0 &&
		len(s.httpReqCounts) == 0 &&
		len(s.httpErrCounts) == 0 &&
		len(s.httpReqDur) == 0 &&
		len(s.httpRespDur) == 0 &&
		len(s.httpDownloadB) == 0
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Edge cases:
//   - Safe to call concurrently with IncCounter/ObserveHistogram.
//   - Returns nil without submitting when there is nothing buffered.
//   - Buffers reset even when submission fails, so a broken Datadog intake
//     never backs up into the pipeline.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(snap, b.now().Unix())}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs Datadog series for a snapshot at a fixed timestamp.
// It is pure (no locks, no network, no clocks), which keeps the naming and
// tagging contract unit-testable.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	series := make([]datadogV2.MetricSeries, 0, len(s.endpointCounts)+len(s.rowCounts)+64)

	for k, v := range s.endpointCounts {
		if v == 0 {
			continue
		}
		endpoint, status := splitStatusKey(k)
		tags := withTags(b.baseTags, "endpoint:"+endpoint, "status:"+status)
		series = append(series, countSeries("ingest.endpoints.total", v, tags, nowUnix))
	}

	for k, v := range s.stepCounts {
		if v == 0 {
			continue
		}
		stepName, status := splitStatusKey(k)
		tags := withTags(b.baseTags, "step:"+stepName, "status:"+status)
		series = append(series, countSeries("ingest.steps.total", v, tags, nowUnix))
	}

	for table, v := range s.rowCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "table:"+table)
		series = append(series, countSeries("ingest.rows.total", v, tags, nowUnix))
	}

	for k, samples := range s.endpointDur {
		endpoint, status := splitStatusKey(k)
		tags := withTags(b.baseTags, "endpoint:"+endpoint, "status:"+status)
		addPercentiles(&series, "ingest.endpoint.duration_seconds", samples, tags, nowUnix)
	}

	for k, v := range s.httpReqCounts {
		if v == 0 {
			continue
		}
		series = append(series, countSeries("ingest.http.requests.total", v, httpTags(b.baseTags, k), nowUnix))
	}
	for k, v := range s.httpErrCounts {
		if v == 0 {
			continue
		}
		series = append(series, countSeries("ingest.http.errors.total", v, httpTags(b.baseTags, k), nowUnix))
	}

	for k, samples := range s.httpReqDur {
		addPercentiles(&series, "ingest.http.request_duration_seconds", samples, httpTags(b.baseTags, k), nowUnix)
	}
	for k, samples := range s.httpRespDur {
		addPercentiles(&series, "ingest.http.response_duration_seconds", samples, httpTags(b.baseTags, k), nowUnix)
	}
	for k, samples := range s.httpDownloadB {
		addPercentiles(&series, "ingest.http.download_bytes", samples, httpTags(b.baseTags, k), nowUnix)
	}

	return series
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges for one sample
// set. Empty sets produce nothing; samples are sorted on a copy.
func addPercentiles(series *[]datadogV2.MetricSeries, metricPrefix string, samples []float64, tags []string, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func countSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func statusKey(name, status string) string {
	if name == "" {
		name = "unknown"
	}
	if status == "" {
		status = "unknown"
	}
	return name + "\x00" + status
}

func splitStatusKey(k string) (name, status string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func httpKey(labels metrics.Labels) string {
	return statusKey(labels["endpoint"], labels["status"])
}

func httpTags(base []string, key string) []string {
	endpoint, status := splitStatusKey(key)
	return withTags(base, "endpoint:"+endpoint, "status:"+status)
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:ingest".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
