package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/brunobiangulo/schemacanon"
	"github.com/brunobiangulo/schemacanon/source"
)

// canonicalizer is the slice of *schemacanon.Canonicalizer the batch
// runner needs.
type canonicalizer interface {
	Canonicalize(ctx context.Context, inputText string, triplet schemacanon.Triplet, definitions map[string]string, enrich bool) (*schemacanon.Result, error)
}

// outputLine is one JSONL row written per input record.
type outputLine struct {
	ID     string              `json:"id"`
	Input  schemacanon.Triplet `json:"input"`
	Result *schemacanon.Result `json:"result,omitempty"`
	Error  string              `json:"error,omitempty"`
}

// batchSummary counts outcomes over a run.
type batchSummary struct {
	Records int
	Failed  int
	States  map[schemacanon.State]int
}

func runOne(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := schemacanon.NewFromConfig(ctx, cfg)
	if err != nil {
		return err
	}
	defer c.Close()

	var defs map[string]string
	if oneDefinition != "" {
		defs = map[string]string{oneRelation: oneDefinition}
	}
	res, err := c.Canonicalize(ctx, oneText, schemacanon.Triplet{oneSubject, oneRelation, oneObject}, defs, enrich)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(res)
}

func runBatchCommand(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	records, err := source.NewRegistry().ReadFile(ctx, args[0])
	if err != nil {
		return err
	}
	slog.Info("source: batch loaded", "path", args[0], "records", len(records))

	if paths := source.DocumentPaths(records); len(paths) > 0 {
		docs, err := source.LoadDocuments(ctx, paths, docWorkers)
		if err != nil {
			return err
		}
		source.ResolveText(records, docs, passageChars)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	metrics := schemacanon.NewMetrics(reg)
	if metricsAddr != "" {
		srv := serveMetrics(metricsAddr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	c, err := schemacanon.NewFromConfig(ctx, cfg, schemacanon.WithMetrics(metrics))
	if err != nil {
		return err
	}
	defer c.Close()

	out := cmd.OutOrStdout()
	if outputPath != "" {
		f, err := os.Create(outputPath)
		if err != nil {
			return fmt.Errorf("creating output: %w", err)
		}
		defer f.Close()
		out = f
	}

	start := time.Now()
	sum, err := runBatch(ctx, c, records, out, enrich)
	slog.Info("run: finished",
		"records", sum.Records,
		"failed", sum.Failed,
		"states", sum.States,
		"elapsed", time.Since(start).String())
	return err
}

// runBatch canonicalizes records in order and writes one line per record.
// Backend failures are reported in the line and the run continues; a
// cancelled context or a write failure stops it.
func runBatch(ctx context.Context, c canonicalizer, records []source.Record, w io.Writer, enrich bool) (batchSummary, error) {
	sum := batchSummary{States: make(map[schemacanon.State]int)}
	enc := json.NewEncoder(w)

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		sum.Records++

		line := outputLine{ID: rec.ID, Input: schemacanon.Triplet(rec.Triplet)}
		res, err := c.Canonicalize(ctx, rec.Text, line.Input, rec.RelationDefinitions(), enrich)
		switch {
		case err != nil && errors.Is(err, context.Canceled):
			return sum, err
		case err != nil:
			sum.Failed++
			line.Error = err.Error()
			slog.Warn("run: record failed", "id", rec.ID, "error", err)
		default:
			line.Result = res
			sum.States[res.State]++
		}

		if err := enc.Encode(line); err != nil {
			return sum, fmt.Errorf("writing output: %w", err)
		}
	}
	return sum, nil
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("metrics server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server error", "error", err)
		}
	}()
	return srv
}
