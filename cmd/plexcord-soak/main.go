// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Command plexcord-soak drives a running plexcord instance through its HTTP
// API and checks the playback guarantees under concurrent load.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"
)

// Report is the JSON output of a run.
type Report struct {
	RunID           string           `json:"run_id"`
	StartedAt       time.Time        `json:"started_at"`
	EndedAt         time.Time        `json:"ended_at"`
	DurationSeconds float64          `json:"duration_s"`
	ScenarioResults []ScenarioResult `json:"scenario_results"`
	Summary         Summary          `json:"summary"`
}

// ScenarioResult holds the outcome of a single scenario.
type ScenarioResult struct {
	Name         string           `json:"name"`
	Pass         bool             `json:"pass"`
	Observations map[string]int64 `json:"observations"`
	Failures     []Failure        `json:"failures"`
}

// Failure captures one violated rule.
type Failure struct {
	Time    time.Time `json:"time"`
	Rule    string    `json:"rule"`
	Message string    `json:"message"`
}

// Summary is the aggregate verdict.
type Summary struct {
	Passed  int    `json:"passed"`
	Failed  int    `json:"failed"`
	Verdict string `json:"verdict"`
}

// Config holds command-line configuration.
type Config struct {
	BaseURL     string
	Query       string
	Concurrency int
	Rounds      int
	RateLimit   int
	QueueDepth  int
	Timeout     time.Duration
	ArtifactDir string
	Profile     string
}

func main() {
	cfg := parseFlags(os.Args[1:])

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(run(ctx, cfg, os.Stdout))
}

func parseFlags(args []string) Config {
	cfg := Config{}
	fs := flag.NewFlagSet("plexcord-soak", flag.ExitOnError)
	fs.StringVar(&cfg.BaseURL, "base-url", "http://localhost:8080", "plexcord API endpoint")
	fs.StringVar(&cfg.Query, "query", "big buck bunny", "media query used for every request")
	fs.IntVar(&cfg.Concurrency, "concurrency", 8, "concurrent requests per contention round")
	fs.IntVar(&cfg.Rounds, "rounds", 3, "contention rounds")
	fs.IntVar(&cfg.RateLimit, "rate-limit", 5, "configured per-requester request limit")
	fs.IntVar(&cfg.QueueDepth, "queue-depth", 4, "entries enqueued by the queue scenario")
	fs.DurationVar(&cfg.Timeout, "timeout", 30*time.Second, "per-request timeout")
	fs.StringVar(&cfg.ArtifactDir, "artifact-dir", "./soak-artifacts", "output directory")
	fs.StringVar(&cfg.Profile, "profile", "full", "profile: smoke|full")
	_ = fs.Parse(args)
	return cfg
}

func run(ctx context.Context, cfg Config, out io.Writer) int {
	client := NewClient(cfg.BaseURL, cfg.Timeout)
	report := Report{
		RunID:     fmt.Sprintf("soak-%d", time.Now().Unix()),
		StartedAt: time.Now(),
	}

	fmt.Fprintf(out, "plexcord-soak against %s (profile %s)\n", cfg.BaseURL, cfg.Profile)

	switch cfg.Profile {
	case "smoke":
		report.ScenarioResults = []ScenarioResult{runConnectivity(ctx, client)}
	case "full":
		report.ScenarioResults = []ScenarioResult{
			runConnectivity(ctx, client),
			runContention(ctx, client, cfg),
			runRateLimit(ctx, client, cfg),
			runQueueOrder(ctx, client, cfg),
		}
	default:
		fmt.Fprintf(out, "Unknown profile: %s\n", cfg.Profile)
		return 2
	}

	report.EndedAt = time.Now()
	report.DurationSeconds = report.EndedAt.Sub(report.StartedAt).Seconds()
	report.Summary = summarize(report.ScenarioResults)

	if cfg.ArtifactDir != "" {
		if err := writeReport(cfg.ArtifactDir, report); err != nil {
			fmt.Fprintf(out, "Failed to write report: %v\n", err)
			return 1
		}
	}

	for _, sr := range report.ScenarioResults {
		status := "PASS"
		if !sr.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(out, "  %-12s %s\n", sr.Name, status)
		for _, f := range sr.Failures {
			fmt.Fprintf(out, "    [%s] %s\n", f.Rule, f.Message)
		}
	}
	fmt.Fprintf(out, "\nVerdict: %s (%d passed, %d failed)\n", report.Summary.Verdict, report.Summary.Passed, report.Summary.Failed)

	if report.Summary.Verdict != "PASS" {
		return 1
	}
	return 0
}

func summarize(results []ScenarioResult) Summary {
	var s Summary
	for _, sr := range results {
		if sr.Pass {
			s.Passed++
		} else {
			s.Failed++
		}
	}
	s.Verdict = "PASS"
	if s.Failed > 0 || s.Passed == 0 {
		s.Verdict = "FAIL"
	}
	return s
}

func writeReport(dir string, report Report) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "report.json"), data, 0o600)
}
