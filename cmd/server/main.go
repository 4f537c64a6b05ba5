// Command server exposes a Canonicalizer over HTTP.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/brunobiangulo/schemacanon"
)

func main() {
	configPath := flag.String("config", "", "Path to config file (YAML or JSON)")
	addr := flag.String("addr", ":8080", "Listen address")
	flag.Parse()

	// Structured JSON logging.
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg := schemacanon.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = schemacanon.LoadConfig(*configPath)
		if err != nil {
			slog.Error("loading config", "error", err)
			os.Exit(1)
		}
	}
	cfg.ApplyEnv(os.Getenv)

	apiKey := os.Getenv("SCHEMACANON_SERVER_API_KEY")
	corsOrigins := os.Getenv("SCHEMACANON_CORS_ORIGINS")

	traceExporter := os.Getenv("SCHEMACANON_TRACE_EXPORTER")
	if traceExporter == "" {
		traceExporter = os.Getenv("OTEL_TRACES_EXPORTER")
	}
	shutdownTracing, err := initTracing(traceExporter, os.Stderr)
	if err != nil {
		slog.Error("initializing tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			slog.Warn("flushing traces", "error", err)
		}
	}()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	canon, err := schemacanon.NewFromConfig(ctx, cfg, schemacanon.WithMetrics(schemacanon.NewMetrics(reg)))
	if err != nil {
		slog.Error("creating canonicalizer", "error", err)
		os.Exit(1)
	}
	defer canon.Close()

	srv := &http.Server{
		Addr:        *addr,
		Handler:     newRouter(canon, reg, apiKey, corsOrigins),
		ReadTimeout: 30 * time.Second,
		// Verification with chain-of-thought can take minutes.
		WriteTimeout: 6 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		slog.Info("server starting", "addr", *addr, "variant", canon.Variant(), "relations", len(canon.Relations()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	slog.Info("server stopped")
}

// newRouter wires routes and the middleware chain:
// recovery -> cors -> auth -> logging -> mux.
func newRouter(svc service, reg *prometheus.Registry, apiKey, corsOrigins string) http.Handler {
	h := newHandler(svc)
	mux := http.NewServeMux()

	mux.HandleFunc("POST /canonicalize", h.handleCanonicalize)
	mux.HandleFunc("POST /retrieve", h.handleRetrieve)
	mux.HandleFunc("GET /relations", h.handleRelations)
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	var handler http.Handler = mux
	handler = logMiddleware(newHTTPMetrics(reg), handler)
	handler = authMiddleware(apiKey, handler)
	handler = corsMiddleware(corsOrigins, handler)
	handler = recoveryMiddleware(handler)
	return handler
}
