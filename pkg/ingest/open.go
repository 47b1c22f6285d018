package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"

	"github.com/AnarchoFatSats/comercial-mva/pkg/certification"
	"github.com/AnarchoFatSats/comercial-mva/pkg/config"
	"github.com/AnarchoFatSats/comercial-mva/pkg/notify"
	"github.com/AnarchoFatSats/comercial-mva/pkg/observability"
	"github.com/AnarchoFatSats/comercial-mva/pkg/store"
)

// Open builds a service from configuration. The returned cleanup closes the
// database and Redis connections it opened.
func Open(ctx context.Context, cfg *config.Config, metrics *observability.Metrics) (*Service, func() error, error) {
	var closers []func() error
	cleanup := func() error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i]())
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*Service, func() error, error) {
		_ = cleanup()
		return nil, nil, err
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return fail(err)
	}
	objects, err := store.NewObjectStore(ctx, cfg.ObjectStore())
	if err != nil {
		return fail(err)
	}
	if c, ok := objects.(interface{ Close() error }); ok {
		closers = append(closers, c.Close)
	}

	index, err := openIndex(ctx, cfg, &closers)
	if err != nil {
		return fail(err)
	}

	deps := Deps{
		Objects:         objects,
		Index:           index,
		Metrics:         metrics,
		ObjectURIPrefix: cfg.ObjectURIPrefix(),
	}

	var notifiers notify.Multi
	if cfg.Ingest.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Ingest.RedisAddr,
			Password: cfg.Ingest.RedisPassword,
			DB:       cfg.Ingest.RedisDB,
		})
		closers = append(closers, rdb.Close)
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fail(fmt.Errorf("redis: %w", err))
		}
		log.Println("[ingest] redis: connected")
		deps.Deduper = store.NewRedisDeduperWithClient(rdb, cfg.Ingest.DedupeWindow)
		if cfg.Ingest.RedisChannel != "" {
			notifiers = append(notifiers, notify.NewRedisPublisher(rdb, cfg.Ingest.RedisChannel))
		}
	} else {
		deps.Deduper = store.NewMemoryDeduper(cfg.Ingest.DedupeWindow)
	}

	if cfg.Ingest.SNSTopicARN != "" {
		sns, err := notify.NewSNSNotifier(ctx, cfg.Ingest.Region, cfg.Ingest.SNSTopicARN)
		if err != nil {
			return fail(err)
		}
		notifiers = append(notifiers, sns)
	}
	if cfg.Ingest.SlackToken != "" && cfg.Ingest.SlackChannel != "" {
		notifiers = append(notifiers, &notify.SlackClient{Token: cfg.Ingest.SlackToken, Channel: cfg.Ingest.SlackChannel})
	}
	if len(notifiers) > 0 {
		deps.Notifier = notifiers
	}

	if cfg.Ingest.VerifyTrustedForms {
		deps.Verifier = certification.NewVerifier(certification.VerifierConfig{APIKey: cfg.Ingest.TrustedFormAPIKey})
	}

	svc, err := New(deps)
	if err != nil {
		return fail(err)
	}
	return svc, cleanup, nil
}

func openIndex(ctx context.Context, cfg *config.Config, closers *[]func() error) (store.LeadIndex, error) {
	switch cfg.Ingest.IndexBackend {
	case config.IndexNone:
		return nil, nil
	case config.IndexDynamoDB:
		return store.NewDynamoIndex(ctx, cfg.Ingest.Region, cfg.Ingest.DynamoTable)
	case config.IndexPostgres, config.IndexSQLite:
	default:
		return nil, fmt.Errorf("unsupported lead index backend: %s", cfg.Ingest.IndexBackend)
	}

	driver, dsn := "postgres", cfg.Ingest.DatabaseURL
	if cfg.Ingest.IndexBackend == config.IndexSQLite {
		driver, dsn = "sqlite", cfg.SQLiteDSN()
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	*closers = append(*closers, db.Close)
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", driver, err)
	}

	var idx *store.SQLIndex
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
		idx = store.NewSQLiteIndex(db)
	} else {
		idx = store.NewPostgresIndex(db)
	}
	if err := idx.Migrate(ctx); err != nil {
		return nil, err
	}
	log.Printf("[ingest] %s: connected", driver)
	return idx, nil
}
