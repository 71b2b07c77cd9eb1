package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/efreitasn/matchingengine/internal/config"
	"github.com/efreitasn/matchingengine/internal/engine"
	"github.com/efreitasn/matchingengine/internal/handler"
	"github.com/efreitasn/matchingengine/internal/logging"
	"github.com/efreitasn/matchingengine/internal/metrics"
	"github.com/efreitasn/matchingengine/internal/publisher"
	"github.com/efreitasn/matchingengine/internal/service"
	"github.com/efreitasn/matchingengine/internal/stream"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	flag.Parse()

	// Handle -healthcheck flag: HTTP GET to localhost:PORT/health, exit 0/1.
	if *healthcheck {
		port := os.Getenv("MATCHING_ENGINE_PORT")
		if port == "" {
			port = "6001"
		}
		resp, err := http.Get(fmt.Sprintf("http://localhost:%s/health", port))
		if err != nil || resp.StatusCode != http.StatusOK {
			os.Exit(1)
		}
		os.Exit(0)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger, syncLogs, err := logging.New(cfg.LogLevel)
	if err != nil {
		slog.Error("failed to build logger", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = syncLogs() }()
	slog.SetDefault(logger)

	eng := engine.NewMatchingEngine(engine.WithLogger(logger))

	// Risk engine is optional: without it orders skip pre-trade checks.
	var approver service.Approver
	var notifier *service.PositionNotifier
	if cfg.Risk.Enabled() {
		risk := service.NewRiskClient(cfg.Risk.URL, cfg.Risk.Timeout, logger)
		approver = risk
		notifier = service.NewPositionNotifier(eng, risk, cfg.Risk.Timeout, logger)
		logger.Info("risk engine enabled", slog.String("url", cfg.Risk.URL))
	}
	orderSvc := service.NewOrderService(eng, approver, logger)

	events := stream.NewHub[service.EventMessage]()
	stopBridge := handler.BridgeEvents(eng, events)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	stopMetrics, err := metrics.Register(reg, eng)
	if err != nil {
		logger.Error("failed to register metrics", slog.String("error", err.Error()))
		os.Exit(1)
	}

	var sink *publisher.KafkaSink
	if cfg.Kafka.Enabled() {
		sink = publisher.NewKafkaSink(publisher.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), cfg.Kafka.Buffer, logger)
		sink.Attach(eng)
		logger.Info("kafka sink enabled", slog.String("topic", cfg.Kafka.Topic))
	}

	done := make(chan struct{})
	router := handler.NewRouter(orderSvc, events, handler.Options{
		DepthLevels:       cfg.DepthLevels,
		DepthPushInterval: cfg.DepthPushInterval,
		StreamBuffer:      cfg.StreamBuffer,
		Metrics:           metrics.Handler(reg),
		Done:              done,
	}, logger)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		logger.Info("server starting", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutdown signal received", slog.String("signal", sig.String()))

	// Streams are closed first so Shutdown does not wait on hijacked
	// websocket connections.
	close(done)
	stopBridge()
	events.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.String("error", err.Error()))
	}

	eng.Close()
	stopMetrics()
	if notifier != nil {
		notifier.Close()
	}
	if sink != nil {
		if err := sink.Close(); err != nil {
			logger.Error("kafka sink close error", slog.String("error", err.Error()))
		}
	}

	logger.Info("server stopped")
}
