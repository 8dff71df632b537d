package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"certledger/internal/certificate/reconcile"
	"certledger/internal/certificate/service"
	certstore "certledger/internal/certificate/store/certificate"
	requeststore "certledger/internal/certificate/store/request"
	userstore "certledger/internal/certificate/store/user"
	"certledger/internal/contentstore"
	"certledger/internal/contentstore/cache"
	"certledger/internal/contentstore/local"
	"certledger/internal/contentstore/pinata"
	"certledger/internal/ledger"
	"certledger/internal/platform/config"
	"certledger/internal/platform/kafka"
	"certledger/internal/platform/postgres"
	"certledger/internal/platform/redis"
	httptransport "certledger/internal/transport/http"
	"certledger/pkg/platform/audit"
	"certledger/pkg/platform/audit/outbox"
	auditmemory "certledger/pkg/platform/audit/store/memory"
	auditpg "certledger/pkg/platform/audit/store/postgres"
	txcontext "certledger/pkg/platform/tx"
)

type certificateStore interface {
	service.CertificateStore
	reconcile.CertificateStore
}

type requestStore interface {
	service.RequestStore
	reconcile.RequestStore
}

type stores struct {
	certificates certificateStore
	users        service.UserStore
	requests     requestStore
	audit        audit.Store
	outbox       outbox.Source
	tx           txcontext.Runner
}

// infra owns every external resource the process opens. close releases them
// in reverse order.
type infra struct {
	stores  stores
	ledger  ledger.Client
	content contentstore.Client
	checks  map[string]httptransport.HealthCheck
	closers []func()
}

func openInfra(ctx context.Context, cfg config.Config, log *slog.Logger) (_ *infra, err error) {
	in := &infra{checks: map[string]httptransport.HealthCheck{}}
	defer func() {
		if err != nil {
			in.close()
		}
	}()

	if err = in.openStores(ctx, cfg, log); err != nil {
		return nil, err
	}
	if err = in.openLedger(ctx, cfg, log); err != nil {
		return nil, err
	}
	if err = in.openContentStore(ctx, cfg, log); err != nil {
		return nil, err
	}
	return in, nil
}

func (in *infra) openStores(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Database.URL == "" {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		in.stores = stores{
			certificates: certstore.NewInMemory(),
			users:        userstore.NewInMemory(),
			requests:     requeststore.NewInMemory(),
			audit:        auditmemory.NewInMemoryStore(),
			tx:           txcontext.NoopRunner{},
		}
		return nil
	}

	db, err := postgres.Open(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	in.closers = append(in.closers, func() { _ = db.Close() })
	if err := postgres.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	auditStore := auditpg.New(db)
	in.stores = stores{
		certificates: certstore.NewPostgres(db),
		users:        userstore.NewPostgres(db),
		requests:     requeststore.NewPostgres(db),
		audit:        auditStore,
		outbox:       auditStore,
		tx:           txcontext.NewPostgresRunner(db, cfg.Issuance.PersistTimeout),
	}
	in.checks["database"] = pingCheck(db)
	log.Info("connected to postgres")
	return nil
}

func (in *infra) openLedger(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.Ledger.UseMock() {
		log.Warn("ledger RPC not configured, using mock ledger; certificates written before a restart read back as ledger unavailable")
		in.ledger = ledger.NewMock()
		return nil
	}
	eth, err := ledger.NewEthereum(ctx, ledger.EthereumConfig{
		RPCURL:          cfg.Ledger.RPCURL,
		ContractAddress: cfg.Ledger.ContractAddress,
		PrivateKey:      cfg.Ledger.PrivateKey,
		ChainID:         cfg.Ledger.ChainID,
		ReceiptTimeout:  cfg.Ledger.ReceiptTimeout,
	}, log)
	if err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}
	in.closers = append(in.closers, eth.Close)
	in.ledger = eth
	return nil
}

func (in *infra) openContentStore(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	var next contentstore.Client
	switch cfg.ContentStore.Backend {
	case "pinata":
		next = pinata.New(pinata.Config{
			BaseURL:    cfg.ContentStore.PinataBaseURL,
			GatewayURL: cfg.ContentStore.PinataGateway,
			JWT:        cfg.ContentStore.PinataJWT,
			Timeout:    cfg.ContentStore.RequestTimeout,
		})
	case "local", "":
		store, err := local.Open(cfg.ContentStore.LocalPath)
		if err != nil {
			return fmt.Errorf("open local content store: %w", err)
		}
		in.closers = append(in.closers, func() { _ = store.Close() })
		next = store
	default:
		return fmt.Errorf("unknown content store backend %q", cfg.ContentStore.Backend)
	}

	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	if client == nil {
		in.content = next
		return nil
	}
	in.closers = append(in.closers, func() { _ = client.Close() })
	in.checks["redis"] = client.Health
	in.content = cache.New(next, client.Client, cache.WithTTL(cfg.Redis.PayloadTTL), cache.WithLogger(log))
	log.Info("payload cache enabled", "ttl", cfg.Redis.PayloadTTL)
	return nil
}

// startRelay forwards outbox rows to Kafka. It needs both brokers and the
// Postgres outbox; otherwise audit events stay local.
func (in *infra) startRelay(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if len(cfg.Kafka.Brokers) == 0 || in.stores.outbox == nil {
		return nil
	}
	producer, err := kafka.NewProducer(ctx, kafka.Config{
		Brokers:  cfg.Kafka.Brokers,
		ClientID: cfg.Kafka.ClientID,
	}, log)
	if err != nil {
		return fmt.Errorf("connect kafka: %w", err)
	}
	in.closers = append(in.closers, producer.Close)

	relay := outbox.NewRelay(in.stores.outbox, producer, cfg.Kafka.TopicPrefix,
		outbox.WithBatchSize(cfg.Kafka.RelayBatch),
		outbox.WithLogger(log),
	)
	if err := producer.EnsureTopics(ctx, 1, 1, relay.Topics()...); err != nil {
		return fmt.Errorf("ensure audit topics: %w", err)
	}
	go relay.Run(ctx, cfg.Kafka.RelayInterval)
	log.Info("audit outbox relay started", "brokers", cfg.Kafka.Brokers)
	return nil
}

func (in *infra) close() {
	for i := len(in.closers) - 1; i >= 0; i-- {
		in.closers[i]()
	}
}

func pingCheck(db *sql.DB) httptransport.HealthCheck {
	return func(ctx context.Context) error {
		return db.PingContext(ctx)
	}
}
