package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"certledger/internal/certificate/handler"
	certmetrics "certledger/internal/certificate/metrics"
	"certledger/internal/certificate/reconcile"
	"certledger/internal/certificate/service"
	jwttoken "certledger/internal/jwt_token"
	"certledger/internal/platform/config"
	"certledger/internal/platform/httpserver"
	"certledger/internal/platform/logger"
	"certledger/internal/platform/metrics"
	httptransport "certledger/internal/transport/http"
	"certledger/pkg/platform/audit/publisher"
	"certledger/pkg/platform/circuit"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// server lifecycle small. Business logic lives in internal services packages.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	infra, err := openInfra(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer infra.close()

	auditPublisher := publisher.NewPublisher(infra.stores.audit, publisher.WithLogger(log))
	defer auditPublisher.Close()

	certMetrics := certmetrics.New()
	ledgerBreaker := circuit.New("ledger",
		circuit.WithFailureThreshold(cfg.Verification.BreakerFailures),
		circuit.WithCooldown(cfg.Verification.BreakerCooldown),
	)

	certService := service.New(
		infra.stores.certificates,
		infra.stores.users,
		infra.stores.requests,
		infra.ledger,
		infra.content,
		service.Config{
			BatchWorkers:         cfg.Issuance.BatchWorkers,
			ContentStoreTimeout:  cfg.Issuance.ContentStoreTimeout,
			LedgerTimeout:        cfg.Issuance.LedgerTimeout,
			PersistTimeout:       cfg.Issuance.PersistTimeout,
			RequireLedger:        cfg.Verification.RequireLedger,
			VerifyLedgerTimeout:  cfg.Verification.LedgerTimeout,
			VerifyPayloadTimeout: cfg.Verification.PayloadTimeout,
		},
		service.WithLogger(log),
		service.WithAuditPublisher(auditPublisher),
		service.WithMetrics(certMetrics),
		service.WithTxRunner(infra.stores.tx),
		service.WithLedgerBreaker(ledgerBreaker),
	)

	sweeper := reconcile.New(
		infra.stores.certificates,
		infra.stores.requests,
		infra.stores.users,
		infra.ledger,
		reconcile.WithLogger(log),
		reconcile.WithAuditPublisher(auditPublisher),
		reconcile.WithMetrics(certMetrics),
		reconcile.WithTxRunner(infra.stores.tx),
		reconcile.WithBatchSize(cfg.Reconcile.Batch),
		reconcile.WithLedgerTimeout(cfg.Issuance.LedgerTimeout),
	)
	if cfg.Reconcile.Enabled {
		if err := sweeper.Start(cfg.Reconcile.Schedule); err != nil {
			return err
		}
	}

	if err := infra.startRelay(ctx, cfg, log); err != nil {
		return err
	}

	jwtValidator := jwttoken.NewJWTServiceAdapter(jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer))
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:       log,
		Metrics:      metrics.New(),
		Gatherer:     prometheus.DefaultGatherer,
		Certificates: handler.New(certService, log),
		Reconcile:    handler.NewReconcile(sweeper, log),
		JWTValidator: jwtValidator,
		AdminToken:   cfg.Server.AdminToken,
		Checks:       infra.checks,
	})

	srv := httpserver.New(cfg.Server.Addr, router)
	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting certledger", "addr", cfg.Server.Addr, "mock_ledger", cfg.Ledger.UseMock())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
		log.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	sweeper.Stop(shutdownCtx)
	return nil
}
