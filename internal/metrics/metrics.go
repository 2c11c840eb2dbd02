// Package metrics is a tiny facade between the ingestion pipeline and whatever
// metrics backend the operator configured. Pipeline code emits counters and
// histogram samples by name; the process wires a concrete backend at startup
// (or leaves the nop default, which discards everything).
package metrics

import (
	"fmt"
	"sync"
	"time"
)

// Labels are metric dimensions, e.g. {"endpoint": "indices", "status": "ok"}.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

// Flusher is implemented by backends that buffer locally and submit in bulk.
type Flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	current Backend = nopBackend{}
)

// SetBackend installs b as the process-wide backend. Passing nil restores the
// nop default.
func SetBackend(b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if b == nil {
		current = nopBackend{}
		return
	}
	current = b
}

func backend() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return current
}

// IncCounter increments a named counter on the installed backend.
func IncCounter(name string, delta float64, labels Labels) {
	backend().IncCounter(name, delta, labels)
}

// ObserveHistogram records one histogram sample on the installed backend.
func ObserveHistogram(name string, value float64, labels Labels) {
	backend().ObserveHistogram(name, value, labels)
}

// Flush asks a buffering backend to submit now. Nop for backends that do not
// implement Flusher.
func Flush() error {
	if f, ok := backend().(Flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordHTTP records one endpoint fetch attempt: request/error counters plus
// request duration, response duration and payload size samples, all tagged
// with the HTTP status (or "error" when the attempt never got a status).
func RecordHTTP(endpoint string, status int, err error, reqDur, respDur time.Duration, downloadBytes int64) {
	st := "error"
	if status > 0 {
		st = fmt.Sprintf("%d", status)
	}
	labels := Labels{"endpoint": endpoint, "status": st}

	IncCounter("ingest_http_requests_total", 1, labels)
	if err != nil || status >= 400 {
		IncCounter("ingest_http_errors_total", 1, labels)
	}
	if reqDur > 0 {
		ObserveHistogram("ingest_http_request_duration_seconds", reqDur.Seconds(), labels)
	}
	if respDur > 0 {
		ObserveHistogram("ingest_http_response_duration_seconds", respDur.Seconds(), labels)
	}
	if downloadBytes > 0 {
		ObserveHistogram("ingest_http_download_bytes", float64(downloadBytes), labels)
	}
}
