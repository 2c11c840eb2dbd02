// Package config defines the pipeline configuration surface: the static
// endpoint set, the HTTP knobs, and the sink location.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"marketstats/internal/schema"
)

// Pipeline is the user-provided JSON config.
type Pipeline struct {
	Job       string     `json:"job"`
	HTTP      HTTP       `json:"http"`
	Endpoints []Endpoint `json:"endpoints"`
	Sink      Sink       `json:"sink"`
}

// Endpoint binds one remote JSON data source to one logical table.
type Endpoint struct {
	// Name identifies the endpoint in logs and metrics.
	Name string `json:"name"`

	// Table is the sink table (or sheet) the endpoint's rows land in.
	Table string `json:"table"`

	URL string `json:"url"`

	// Schema names the canonical column set: "index_summary" or
	// "sector_activity".
	Schema string `json:"schema"`
}

// HTTP controls the fetch client.
type HTTP struct {
	// TimeoutSeconds bounds each request. 0 means the default (30).
	TimeoutSeconds int `json:"timeout_seconds"`

	// Headers are merged over the built-in browser-like defaults; an empty
	// value removes a default header.
	Headers map[string]string `json:"headers,omitempty"`
}

// Timeout returns the effective per-request timeout.
func (h HTTP) Timeout() time.Duration {
	if h.TimeoutSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(h.TimeoutSeconds) * time.Second
}

// Sink names the storage backend and its location.
type Sink struct {
	// Kind: "workbook" | "sqlite" | "postgres" | "mssql".
	Kind string `json:"kind"`

	// DSN is a file path for workbook/sqlite, a connection string otherwise.
	// Environment variables in $VAR or ${VAR} form are expanded, so secrets
	// can stay out of the config file.
	DSN string `json:"dsn"`
}

// Default is the built-in pipeline: the two exchange statistics feeds into a
// workbook next to the binary.
func Default() Pipeline {
	return Pipeline{
		Job: "psx-daily",
		Endpoints: []Endpoint{
			{
				Name:   "indices",
				Table:  "DailyActivity_1",
				URL:    "https://www.scstrade.com/MarketStatistics/MS_DailyActivity.aspx/chartind",
				Schema: "index_summary",
			},
			{
				Name:   "sectors",
				Table:  "DailyActivity_2",
				URL:    "https://www.scstrade.com/MarketStatistics/MS_DailyActivity.aspx/chartact",
				Schema: "sector_activity",
			},
		},
		Sink: Sink{Kind: "workbook", DSN: "PSX_DailyActivity.xlsx"},
	}
}

// Load reads and decodes a pipeline config file, expanding environment
// variables in the sink DSN.
func Load(path string) (Pipeline, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Pipeline{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	var p Pipeline
	dec := json.NewDecoder(strings.NewReader(string(b)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return Pipeline{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	p.Sink.DSN = os.ExpandEnv(p.Sink.DSN)
	return p, nil
}

// Severity classifies a validation issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one validation finding, located by a dotted config path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue is an error.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

var sinkKinds = map[string]bool{
	"workbook": true,
	"sqlite":   true,
	"postgres": true,
	"mssql":    true,
}

// ValidatePipeline checks a pipeline config and returns every issue found.
// Errors make the config unusable; warnings are advisory.
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue
	errf := func(path, format string, v ...any) {
		issues = append(issues, Issue{Severity: SeverityError, Path: path, Message: fmt.Sprintf(format, v...)})
	}
	warnf := func(path, format string, v ...any) {
		issues = append(issues, Issue{Severity: SeverityWarning, Path: path, Message: fmt.Sprintf(format, v...)})
	}

	if strings.TrimSpace(p.Job) == "" {
		warnf("job", "empty job name; metrics will be tagged job:ingest")
	}

	if len(p.Endpoints) == 0 {
		errf("endpoints", "no endpoints configured")
	}
	seenTables := map[string]int{}
	for i, e := range p.Endpoints {
		path := fmt.Sprintf("endpoints[%d]", i)
		if strings.TrimSpace(e.Name) == "" {
			errf(path+".name", "endpoint name is required")
		}
		if strings.TrimSpace(e.Table) == "" {
			errf(path+".table", "table name is required")
		}
		if strings.TrimSpace(e.URL) == "" {
			errf(path+".url", "url is required")
		} else if !strings.HasPrefix(e.URL, "http://") && !strings.HasPrefix(e.URL, "https://") {
			errf(path+".url", "url must be http(s), got %q", e.URL)
		}
		if _, err := schema.ByName(e.Schema); err != nil {
			errf(path+".schema", "unknown schema %q", e.Schema)
		}
		if prev, dup := seenTables[e.Table]; dup {
			errf(path+".table", "table %q already used by endpoints[%d]; two endpoints may not share a table", e.Table, prev)
		} else if e.Table != "" {
			seenTables[e.Table] = i
		}
	}

	if !sinkKinds[p.Sink.Kind] {
		errf("sink.kind", "unknown sink kind %q", p.Sink.Kind)
	}
	if strings.TrimSpace(p.Sink.DSN) == "" {
		errf("sink.dsn", "sink dsn is required")
	}

	if p.HTTP.TimeoutSeconds < 0 {
		errf("http.timeout_seconds", "timeout must not be negative")
	}

	return issues
}
