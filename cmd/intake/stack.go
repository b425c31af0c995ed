package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/Mindburn-Labs/intake/pkg/api"
	"github.com/Mindburn-Labs/intake/pkg/approval"
	"github.com/Mindburn-Labs/intake/pkg/config"
	"github.com/Mindburn-Labs/intake/pkg/contracts"
	"github.com/Mindburn-Labs/intake/pkg/delivery"
	"github.com/Mindburn-Labs/intake/pkg/observability"
	"github.com/Mindburn-Labs/intake/pkg/schema"
	"github.com/Mindburn-Labs/intake/pkg/store"
	"github.com/Mindburn-Labs/intake/pkg/submission"
)

const idempotencyTTL = 24 * time.Hour

// eventLister reads back the persisted history of one submission.
type eventLister interface {
	List(ctx context.Context, submissionID string) ([]contracts.Event, error)
}

// storage is the persistence selected by STORE_DRIVER.
type storage struct {
	store       submission.Store
	sink        submission.EventSink
	events      eventLister // nil when events only live in process memory
	outbox      delivery.Outbox
	idempotency api.IdempotencyStore
	cleanup     func(context.Context) error // periodic idempotency cleanup, may be nil
	// deliverable is set when the store outlives the in-memory outbox.
	deliverable delivery.DeliverableLister
	closers     []func() error
}

func (s *storage) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	return errors.Join(errs...)
}

func openStorage(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*storage, error) {
	s := &storage{}
	switch cfg.StoreDriver {
	case "memory":
		s.store = store.NewMemoryStore()
		s.sink = store.NewAuditLog()
		s.outbox = delivery.NewMemoryOutbox()
		s.idempotency = api.NewIdempotencyStore(ctx, idempotencyTTL)

	case "sqlite", "postgres":
		dialect, dsn := store.DialectPostgres, cfg.DatabaseURL
		if cfg.StoreDriver == "sqlite" {
			dialect, dsn = store.DialectSQLite, cfg.SQLitePath
			if err := os.MkdirAll(filepath.Dir(dsn), 0o750); err != nil {
				return nil, fmt.Errorf("failed to create data dir: %w", err)
			}
		}
		db, err := sql.Open(dialect.DriverName(), dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", cfg.StoreDriver, err)
		}
		s.closers = append(s.closers, db.Close)
		if dialect == store.DialectSQLite {
			db.SetMaxOpenConns(1)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("%s ping failed: %w", cfg.StoreDriver, err)
		}
		if err := s.openSQL(ctx, db, dialect); err != nil {
			_ = s.Close()
			return nil, err
		}
		logger.InfoContext(ctx, "sql storage ready", "driver", cfg.StoreDriver)

	case "redis":
		client := store.DialRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		s.closers = append(s.closers, client.Close)
		if err := client.Ping(ctx).Err(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		redisStore := store.NewRedisStore(client, "intake")
		s.store, s.deliverable = redisStore, redisStore
		s.sink = store.NewAuditLog()
		s.outbox = delivery.NewMemoryOutbox()
		s.idempotency = api.NewIdempotencyStore(ctx, idempotencyTTL)
		logger.InfoContext(ctx, "redis storage ready", "addr", cfg.RedisAddr)

	case "badger":
		if err := os.MkdirAll(cfg.BadgerDir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create badger dir: %w", err)
		}
		db, err := store.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		badgerStore := store.NewBadgerStore(db)
		s.store, s.deliverable = badgerStore, badgerStore
		s.sink = store.NewAuditLog()
		s.outbox = delivery.NewMemoryOutbox()
		s.idempotency = api.NewIdempotencyStore(ctx, idempotencyTTL)
		logger.InfoContext(ctx, "badger storage ready", "dir", cfg.BadgerDir)

	default:
		return nil, fmt.Errorf("unsupported STORE_DRIVER %q", cfg.StoreDriver)
	}
	return s, nil
}

func (s *storage) openSQL(ctx context.Context, db *sql.DB, dialect store.Dialect) error {
	subs, err := store.NewSQLStore(ctx, db, dialect)
	if err != nil {
		return fmt.Errorf("failed to init submission store: %w", err)
	}
	sink, err := store.NewSQLEventSink(ctx, db, dialect)
	if err != nil {
		return fmt.Errorf("failed to init event sink: %w", err)
	}
	outbox, err := store.NewSQLOutbox(ctx, db, dialect)
	if err != nil {
		return fmt.Errorf("failed to init outbox: %w", err)
	}
	idem, err := api.NewSQLIdempotencyStore(ctx, db, dialect, idempotencyTTL)
	if err != nil {
		return fmt.Errorf("failed to init idempotency store: %w", err)
	}
	s.store, s.sink, s.events, s.outbox = subs, sink, sink, outbox
	s.idempotency, s.cleanup = idem, idem.Cleanup
	return nil
}

// stack is the fully wired runtime shared by serve and mcp.
type stack struct {
	*storage
	defs       *schema.Registry
	telemetry  *observability.Provider
	subs       *submission.Manager
	reviews    *approval.Manager
	dispatcher *delivery.Dispatcher
}

func openStack(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*stack, error) {
	defs, err := schema.LoadDir(cfg.DefinitionsDir)
	if err != nil {
		return nil, err
	}
	logger.InfoContext(ctx, "definitions loaded", "dir", cfg.DefinitionsDir, "ids", defs.IDs())

	st, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	otelCfg := observability.DefaultConfig()
	otelCfg.ServiceVersion = version
	otelCfg.Enabled = cfg.OTelEnabled
	otelCfg.OTLPEndpoint = cfg.OTelEndpoint
	otelCfg.Insecure = cfg.OTelInsecure
	telemetry, err := observability.New(ctx, otelCfg)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	st.closers = append(st.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return telemetry.Shutdown(shutdownCtx)
	})

	subs := submission.NewManager(st.store, st.sink, defs,
		submission.WithLogger(logger.With("component", "submission")),
		submission.WithTracker(telemetry),
		submission.WithDefaultTTL(cfg.DefaultTTL),
	)

	notifier := approval.NewRateLimitedNotifier(
		approval.LogNotifier{Logger: logger.With("component", "notify")},
		cfg.NotifyRPS, max(int(cfg.NotifyRPS), 1),
	)
	reviews := approval.NewManager(subs,
		approval.WithNotifier(notifier),
		approval.WithLogger(logger.With("component", "approval")),
	)

	var deliverer delivery.Deliverer
	if cfg.WebhookURL != "" {
		deliverer = &delivery.WebhookDeliverer{
			URL:    cfg.WebhookURL,
			Secret: []byte(cfg.WebhookSecret),
			Client: &http.Client{Timeout: 10 * time.Second},
		}
	}
	host, _ := os.Hostname()
	dispatcher := delivery.NewDispatcher(subs, st.outbox, deliverer,
		delivery.WithLogger(logger.With("component", "delivery")),
		delivery.WithWorkerID("delivery-"+host),
	)
	subs.AddObserver(dispatcher)

	if st.deliverable != nil {
		n, err := dispatcher.Recover(ctx, st.deliverable)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		logger.InfoContext(ctx, "pending deliveries rescheduled", "count", n)
	}

	return &stack{
		storage:    st,
		defs:       defs,
		telemetry:  telemetry,
		subs:       subs,
		reviews:    reviews,
		dispatcher: dispatcher,
	}, nil
}

// runDispatcher polls the outbox until ctx is done.
func (s *stack) runDispatcher(ctx context.Context, logger *slog.Logger) {
	if err := s.dispatcher.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "delivery dispatcher stopped", "error", err)
	}
}
