package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault_IsValid(t *testing.T) {
	t.Parallel()

	issues := ValidatePipeline(Default())
	if HasErrors(issues) {
		t.Fatalf("Default() has validation errors: %v", issues)
	}
}

func TestLoad_ExpandsDSNEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json")
	body := `{
  "job": "psx-daily",
  "endpoints": [
    {"name": "indices", "table": "DailyActivity_1", "url": "https://example.com/chartind", "schema": "index_summary"}
  ],
  "sink": {"kind": "postgres", "dsn": "postgres://ingest:${INGEST_PW}@db/stats"}
}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("INGEST_PW", "s3cret")

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load() err=%v", err)
	}
	if p.Sink.DSN != "postgres://ingest:s3cret@db/stats" {
		t.Fatalf("DSN=%q, env not expanded", p.Sink.DSN)
	}
	if len(p.Endpoints) != 1 || p.Endpoints[0].Schema != "index_summary" {
		t.Fatalf("endpoints=%+v", p.Endpoints)
	}
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pipeline.json")
	if err := os.WriteFile(path, []byte(`{"job": "x", "endpionts": []}`), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("Load() accepted a misspelled field")
	}
}

func TestHTTPTimeout(t *testing.T) {
	t.Parallel()

	if got := (HTTP{}).Timeout(); got != 30*time.Second {
		t.Errorf("default timeout=%s, want 30s", got)
	}
	if got := (HTTP{TimeoutSeconds: 5}).Timeout(); got != 5*time.Second {
		t.Errorf("timeout=%s, want 5s", got)
	}
}

func TestValidatePipeline(t *testing.T) {
	t.Parallel()

	base := func() Pipeline {
		p := Default()
		return p
	}

	tests := []struct {
		name     string
		mutate   func(*Pipeline)
		wantPath string
	}{
		{
			name:     "no_endpoints",
			mutate:   func(p *Pipeline) { p.Endpoints = nil },
			wantPath: "endpoints",
		},
		{
			name:     "missing_url",
			mutate:   func(p *Pipeline) { p.Endpoints[0].URL = "" },
			wantPath: "endpoints[0].url",
		},
		{
			name:     "non_http_url",
			mutate:   func(p *Pipeline) { p.Endpoints[0].URL = "ftp://x" },
			wantPath: "endpoints[0].url",
		},
		{
			name:     "unknown_schema",
			mutate:   func(p *Pipeline) { p.Endpoints[1].Schema = "mystery" },
			wantPath: "endpoints[1].schema",
		},
		{
			name:     "duplicate_table",
			mutate:   func(p *Pipeline) { p.Endpoints[1].Table = p.Endpoints[0].Table },
			wantPath: "endpoints[1].table",
		},
		{
			name:     "unknown_sink_kind",
			mutate:   func(p *Pipeline) { p.Sink.Kind = "oracle" },
			wantPath: "sink.kind",
		},
		{
			name:     "empty_dsn",
			mutate:   func(p *Pipeline) { p.Sink.DSN = " " },
			wantPath: "sink.dsn",
		},
		{
			name:     "negative_timeout",
			mutate:   func(p *Pipeline) { p.HTTP.TimeoutSeconds = -1 },
			wantPath: "http.timeout_seconds",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			p := base()
			tc.mutate(&p)
			issues := ValidatePipeline(p)
			if !HasErrors(issues) {
				t.Fatalf("no errors reported, want error at %s", tc.wantPath)
			}
			var found bool
			for _, i := range issues {
				if i.Severity == SeverityError && i.Path == tc.wantPath {
					found = true
				}
			}
			if !found {
				t.Fatalf("no error at %s; issues=%v", tc.wantPath, issues)
			}
		})
	}
}

func TestValidatePipeline_EmptyJobIsWarningOnly(t *testing.T) {
	t.Parallel()

	p := Default()
	p.Job = ""
	issues := ValidatePipeline(p)
	if HasErrors(issues) {
		t.Fatalf("empty job produced errors: %v", issues)
	}
	var warned bool
	for _, i := range issues {
		if i.Severity == SeverityWarning && i.Path == "job" {
			warned = true
		}
	}
	if !warned {
		t.Fatal("expected a warning for empty job")
	}
}

func TestIssueString(t *testing.T) {
	t.Parallel()

	i := Issue{Severity: SeverityError, Path: "sink.dsn", Message: "sink dsn is required"}
	if got := i.String(); !strings.Contains(got, "error: sink.dsn:") {
		t.Fatalf("Issue.String()=%q", got)
	}
}
