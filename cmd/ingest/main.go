package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"marketstats/internal/config"
	"marketstats/internal/fetch"
	"marketstats/internal/ingest"
	"marketstats/internal/metrics"
	"marketstats/internal/metrics/datadog"
	"marketstats/internal/reconcile"
	"marketstats/internal/sink"

	// register all sink backends with the factory.
	// config specifies which to use but we need to build in support for all of them.
	_ "marketstats/internal/sink/all"
)

// main is the entry point for the ingest binary. It loads the pipeline
// config, optionally initializes a metrics backend, acquires the sink once,
// and runs every configured endpoint.
func main() {
	os.Exit(run())
}

func run() int {
	var (
		cfgPath           string
		metricsBackendFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "", "pipeline config JSON path (empty: built-in PSX daily pipeline)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (datadog, none)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable verbose logs")

	flag.Parse()

	p := config.Default()
	if cfgPath != "" {
		var err error
		p, err = config.Load(cfgPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
	}

	issues := config.ValidatePipeline(p)
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s\n", iss)
	}
	if config.HasErrors(issues) {
		log.Printf("configuration is invalid: %v", cfgPath)
		return 1
	}
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		return 0
	}

	// Decide metrics backend: flag → env → default (none).
	backendName := metricsBackendFlg
	if backendName == "" {
		backendName = os.Getenv("METRICS_BACKEND")
	}
	switch backendName {
	case "datadog":
		jobName := p.Job
		if jobName == "" {
			jobName = "ingest"
		}
		extraTags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))

		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName: jobName,
			Tags:    extraTags,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
		} else {
			log.Printf("metrics: backend=%v job_name=%v tags=%v", backendName, jobName, extraTags)
			metrics.SetBackend(b)

			// Close() stops the periodic flush loop and then performs a final
			// Flush(); this is the clean shutdown path.
			defer func() {
				if err := b.Close(); err != nil {
					log.Printf("metrics: datadog close/flush error: %v", err)
				}
			}()
		}

	case "", "none":
		if *verbose {
			log.Printf("metrics: disabled (backend=%q)", backendName)
		}

	default:
		log.Printf("metrics: unknown backend %q; metrics disabled", backendName)
	}

	ctx := context.Background()
	start := time.Now()

	// The sink is the one run-level resource: if it cannot be acquired the
	// run fails outright. It is acquired once and released on every exit
	// path; per-endpoint failures never close it early.
	repo, err := sink.New(ctx, sink.Config{Kind: p.Sink.Kind, DSN: p.Sink.DSN})
	if err != nil {
		log.Printf("sink: acquire %s: %v", p.Sink.Kind, err)
		return 1
	}
	defer repo.Close()

	client := fetch.New(
		fetch.WithTimeout(p.HTTP.Timeout()),
		fetch.WithHeaders(p.HTTP.Headers),
	)
	runner := ingest.New(client, reconcile.New(repo, log.Default()), log.Default())

	outcomes := runner.Run(ctx, p)
	reportOutcomes(os.Stdout, outcomes)

	if *verbose {
		log.Printf("completed in %s", time.Since(start).Truncate(time.Millisecond))
	}

	// Per-endpoint failures are part of a normal run; only config and sink
	// acquisition failures change the exit code.
	return 0
}

// reportOutcomes prints the final per-endpoint summary.
func reportOutcomes(w io.Writer, outcomes []ingest.Outcome) {
	for _, o := range outcomes {
		if o.Err != nil {
			fmt.Fprintf(w, "endpoint=%s table=%s result=failed reason=%q\n", o.Endpoint, o.Table, o.Err)
			continue
		}
		fmt.Fprintf(w, "endpoint=%s table=%s result=ok rows_added=%d\n", o.Endpoint, o.Table, o.Rows)
	}
}
