package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/irisforge/emissary/internal/audit"
	"github.com/irisforge/emissary/internal/auth"
	"github.com/irisforge/emissary/internal/config"
	"github.com/irisforge/emissary/internal/httpserver"
	"github.com/irisforge/emissary/internal/logging"
	"github.com/irisforge/emissary/internal/model"
	"github.com/irisforge/emissary/internal/schema"
	"github.com/irisforge/emissary/internal/tracectx"
	"github.com/irisforge/emissary/internal/transport"
)

func main() {
	probe := flag.Bool("probe", false, "publish a synthetic diagnostic message through the configured transport and exit")
	flag.Parse()

	cfg := config.LoadFromEnv()
	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	if *probe {
		if err := runProbe(cfg, logger); err != nil {
			logger.Error("transport probe failed", "error", err)
			os.Exit(1)
		}
		return
	}

	gate, err := schema.Load(cfg.ContractsDir, cfg.SchemaStrict, logger)
	if err != nil {
		logger.Error("schema gate init failed", "error", err)
		os.Exit(1)
	}
	verifier, err := auth.NewVerifier(cfg.AuthKeysFile, cfg.DevAllowLocal)
	if err != nil {
		logger.Error("auth init failed", "error", err)
		os.Exit(1)
	}

	var store audit.Store
	var pg *audit.PGStore
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			logger.Error("db open failed", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(30 * time.Minute)
		if err := db.Ping(); err != nil {
			logger.Error("db ping failed", "error", err)
			os.Exit(1)
		}
		pg = audit.NewPGStore(db)
		store = pg
	} else {
		logger.Info("no database configured, using file-backed trace store", "dir", cfg.ArchiveDir)
		store = audit.NewFileStore(cfg.ArchiveDir)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if pg != nil && len(cfg.KafkaBrokers) > 0 {
		streamer, err := buildStreamer(ctx, cfg, pg, logger)
		if err != nil {
			logger.Error("streamer init failed", "error", err)
			os.Exit(1)
		}
		go func() {
			if err := streamer.Run(ctx); err != nil {
				logger.Error("trace streamer stopped", "error", err)
			}
		}()
	}

	server := httpserver.New(store, gate, verifier, logger)
	httpServer := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: server.Router(),
	}

	go func() {
		logger.Info("emissary listening", "addr", cfg.ListenAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	waitForShutdown(cancel, httpServer, logger)
}

func buildStreamer(ctx context.Context, cfg *config.Config, pg *audit.PGStore, logger *slog.Logger) (*audit.Streamer, error) {
	producer, err := audit.NewKafkaProducer(audit.KafkaProducerConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.KafkaTopic,
	})
	if err != nil {
		return nil, err
	}
	var archiver audit.Archiver
	if cfg.S3Bucket != "" {
		archiver, err = audit.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			return nil, err
		}
	}
	return audit.NewStreamer(pg, producer, archiver, audit.StreamerConfig{}, logger), nil
}

// runProbe pushes one synthetic diagnostic message through the configured
// transport so a deployment can verify connectivity end to end.
func runProbe(cfg *config.Config, logger *slog.Logger) error {
	tr, err := buildTransport(cfg, logger)
	if err != nil {
		return err
	}
	ctx, id := tracectx.Ensure(context.Background())
	now := time.Now().UTC()
	msg, err := model.NewMessage(ctx, model.Message{
		Timestamp:   now.Format("01/02/06-15:04:05") + fmt.Sprintf(":%03d", now.Nanosecond()/1e6),
		ProcessID:   os.Getpid(),
		Severity:    0,
		Category:    "connectivity",
		MessageText: "emissary transport probe",
	})
	if err != nil {
		return err
	}
	if _, err := tr.Publish(ctx, msg); err != nil {
		return err
	}
	logger.Info("transport probe published", "transport", cfg.TransportType, "trace_id", id.String())
	return nil
}

func buildTransport(cfg *config.Config, logger *slog.Logger) (transport.Transport, error) {
	if cfg.TransportType == "file" {
		return transport.NewFileTransport(cfg.OutputDir, cfg.InputDir, logger), nil
	}
	return transport.NewHTTPTransport(transport.HTTPConfig{
		BaseURL:            cfg.EndpointURL,
		Timeout:            cfg.EndpointTimeout,
		RetryMaxAttempts:   cfg.RetryMaxAttempts,
		RetryBackoffFactor: cfg.RetryBackoffFactor,
		Logger:             logger,
	})
}

func waitForShutdown(cancel context.CancelFunc, srv *http.Server, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	cancel()
	ctx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	logger.Info("emissary stopped")
}
