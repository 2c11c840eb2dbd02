// Package ingest runs the pipeline: for each configured endpoint, fetch the
// JSON snapshot, unwrap the record list, map raw field names onto the
// canonical schema, build rows, and reconcile them into the sink. Endpoints
// run strictly one at a time and fail independently.
package ingest

import (
	"context"
	"fmt"
	"log"
	"time"

	"marketstats/internal/config"
	"marketstats/internal/envelope"
	"marketstats/internal/mapper"
	"marketstats/internal/metrics"
	"marketstats/internal/reconcile"
	"marketstats/internal/rows"
	"marketstats/internal/schema"
)

// Fetcher retrieves one endpoint's payload.
type Fetcher interface {
	Fetch(ctx context.Context, endpoint, url string) ([]byte, error)
}

// Logger is the minimal logging dependency.
type Logger interface {
	Printf(format string, v ...any)
}

// Outcome is the per-endpoint result accumulated for final reporting.
type Outcome struct {
	Endpoint string
	Table    string

	// Rows is the count of newly persisted rows on success.
	Rows int64

	// Err is the failure reason; nil means success. A payload with no usable
	// record list counts as a failure here, though it is not a transport or
	// decode error.
	Err error
}

// Runner executes one pipeline run.
type Runner struct {
	Fetcher    Fetcher
	Reconciler *reconcile.Reconciler
	Log        Logger

	// now stamps each batch; overridable in tests.
	now func() time.Time
}

// New wires a Runner. A nil logger falls back to the stdlib default.
func New(f Fetcher, r *reconcile.Reconciler, logger Logger) *Runner {
	if logger == nil {
		logger = log.Default()
	}
	return &Runner{Fetcher: f, Reconciler: r, Log: logger, now: time.Now}
}

// Run processes every configured endpoint in order and returns one Outcome
// per endpoint, in config order. A failing endpoint never stops the rest;
// errors are carried in its Outcome. Run itself only returns an error via
// the outcomes, never directly.
func (r *Runner) Run(ctx context.Context, cfg config.Pipeline) []Outcome {
	outcomes := make([]Outcome, 0, len(cfg.Endpoints))
	for _, ep := range cfg.Endpoints {
		start := r.now()
		out := r.runEndpoint(ctx, ep)
		outcomes = append(outcomes, out)

		status := "ok"
		if out.Err != nil {
			status = "error"
			r.Log.Printf("stage=endpoint endpoint=%s table=%s status=error err=%v", ep.Name, ep.Table, out.Err)
		} else {
			r.Log.Printf("stage=endpoint endpoint=%s table=%s status=ok rows=%d", ep.Name, ep.Table, out.Rows)
		}
		labels := metrics.Labels{"endpoint": ep.Name, "status": status}
		metrics.IncCounter("ingest_endpoint_total", 1, labels)
		metrics.ObserveHistogram("ingest_endpoint_duration_seconds", time.Since(start).Seconds(), labels)
	}
	return outcomes
}

func (r *Runner) runEndpoint(ctx context.Context, ep config.Endpoint) Outcome {
	out := Outcome{Endpoint: ep.Name, Table: ep.Table}

	// One counter per pipeline step so a stuck endpoint shows where it
	// stops, not just that it stopped.
	step := func(name string, err error) {
		status := "ok"
		if err != nil {
			status = "error"
		}
		metrics.IncCounter("ingest_step_total", 1, metrics.Labels{
			"endpoint": ep.Name,
			"step":     name,
			"status":   status,
		})
	}

	s, err := schema.ByName(ep.Schema)
	if err != nil {
		out.Err = err
		return out
	}

	body, err := r.Fetcher.Fetch(ctx, ep.Name, ep.URL)
	step("fetch", err)
	if err != nil {
		out.Err = fmt.Errorf("fetch: %w", err)
		return out
	}

	res, derr := envelope.Unwrap(body)
	var unwrapErr error
	switch {
	case derr != nil:
		unwrapErr = fmt.Errorf("decode: %w", derr)
	case res.Shape == envelope.None:
		unwrapErr = fmt.Errorf("no usable record list in response")
	}
	step("unwrap", unwrapErr)
	if unwrapErr != nil {
		out.Err = unwrapErr
		return out
	}
	r.Log.Printf("stage=unwrap endpoint=%s shape=%s records=%d", ep.Name, res.Shape, len(res.Records))

	fieldMap := mapper.Resolve(res.Fields, s)
	batch, warnings := rows.Build(res.Records, s, fieldMap, r.now())
	for _, w := range warnings {
		r.Log.Printf("stage=build endpoint=%s status=field_missing field=%s count=%d", ep.Name, w.Field, w.Count)
	}
	step("build", nil)

	added, err := r.Reconciler.Reconcile(ctx, s, ep.Table, batch)
	step("reconcile", err)
	if err != nil {
		out.Err = fmt.Errorf("reconcile: %w", err)
		return out
	}
	out.Rows = added
	metrics.IncCounter("ingest_rows_total", float64(added), metrics.Labels{"table": ep.Table})
	return out
}
