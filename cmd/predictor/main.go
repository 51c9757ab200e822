// Command predictor serves next-word predictions from a published model.
//
// It loads every prefix row of the configured sink into memory and answers
// GET /api/v1/predict?q=<text> with the top continuations of the longest
// stored context at the end of the text, plus GET /api/v1/complete for
// prefix completion. POST /api/v1/reload re-reads the sink after a rebuild.
//
// Usage:
//
//	go run ./cmd/predictor [-config configs/lm.yaml]
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/predict"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/internal/sink"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/ngram-language-model/pkg/middleware"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	lazy := flag.Bool("lazy", false, "look prefixes up in the sink per request instead of loading an index")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting predictor", "port", cfg.Server.Port, "sink", cfg.Sink.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := sink.Open(cfg, false)
	if err != nil {
		slog.Error("failed to open sink", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	m := metrics.New(prometheus.DefaultRegisterer)
	svc := predict.NewService(store, cfg.Pipeline.MaxOrder, m)
	if !*lazy {
		if err := svc.Reload(ctx); err != nil {
			slog.Error("failed to load model", "error", err)
			os.Exit(1)
		}
	}

	checker := health.NewChecker()
	checker.Register("sink", health.PingCheck(func(ctx context.Context) error {
		_, err := store.Get(ctx, "\x00health")
		if errors.Is(err, apperrors.ErrPrefixNotFound) {
			return nil
		}
		return err
	}))
	if !*lazy {
		checker.Register("index", health.ConditionCheck(svc.Ready, "index not loaded"))
	}

	mux := http.NewServeMux()
	predict.NewHandler(svc, cfg.Pipeline.TopK, cfg.Pipeline.TopK).Routes(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())
	mux.Handle("GET /metrics", metrics.Handler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		limiter := middleware.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateWindow)
		go limiter.Sweep(ctx, 5*time.Minute)
		chain = middleware.RateLimit(limiter)(chain)
	}
	chain = middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.AllowOrigins))(chain)
	chain = middleware.Metrics(m)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("predictor listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("predictor stopped")
}
