// Package main is a smoke-test harness for the flagcore evaluation
// engine, not a product front end — spec.md's Non-goals explicitly place
// CLI tooling and network transport out of scope for the engine itself.
//
// The bootstrap sequence is:
//  1. Load configuration from environment variables / argv.
//  2. Construct a FlagEvaluator with a JSON logger and Prometheus metrics.
//  3. Read the flag configuration file and call UpdateState.
//  4. Read one evaluation context from stdin (or "{}" if stdin is empty).
//  5. Evaluate the requested flag key and print the EvaluationResult.
//  6. If METRICS_ADDR is set, serve /metrics instead of exiting.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/matt-riley/flagcore/evaluator"
	"github.com/matt-riley/flagcore/internal/config"
	"github.com/matt-riley/flagcore/internal/logging"
	"github.com/matt-riley/flagcore/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		log.Printf("flagcoreload failed: %v", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := logging.New(cfg.LogLevel)
	m := metrics.New()

	e, err := evaluator.NewFlagEvaluator(
		evaluator.WithLogger(logger),
		evaluator.WithMetrics(m),
	)
	if err != nil {
		return fmt.Errorf("init evaluator: %w", err)
	}
	defer e.Close()
	e.SetValidationMode(cfg.ValidationMode)

	flagConfigJSON, err := os.ReadFile(cfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("read flag config: %w", err)
	}

	updateResult, err := e.UpdateState(string(flagConfigJSON))
	if err != nil {
		return fmt.Errorf("update_state: %w", err)
	}
	logger.Info("loaded flag configuration", "generation", e.Generation(), "flag_count", len(updateResult.FlagIndices))

	if cfg.MetricsAddr != "" {
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
		http.Handle("/metrics", m.Handler())
		return http.ListenAndServe(cfg.MetricsAddr, nil)
	}

	args := os.Args[1:]
	if len(args) < 2 {
		return fmt.Errorf("usage: flagcoreload <config-path> <flag-key>")
	}
	flagKey := args[1]

	evalContext, err := readContext(os.Stdin)
	if err != nil {
		return fmt.Errorf("read context: %w", err)
	}

	result := e.EvaluateFlag(flagKey, evalContext)
	out, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	fmt.Println(string(out))

	if cfg.MetricsAddr != "" {
		logger.Info("serving metrics", "addr", cfg.MetricsAddr)
		http.Handle("/metrics", m.Handler())
		return http.ListenAndServe(cfg.MetricsAddr, nil)
	}
	return nil
}

func readContext(r io.Reader) (map[string]any, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return map[string]any{}, nil
	}
	var ctx map[string]any
	if err := json.Unmarshal(raw, &ctx); err != nil {
		return nil, err
	}
	return ctx, nil
}
