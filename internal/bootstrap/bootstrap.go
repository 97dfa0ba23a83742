// Package bootstrap wires configuration into a ready audit service. Both the
// API server and the auditor CLI start from here.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	appaudits "github.com/Bevor-Protocol/certaik-api/internal/application/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/config"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/audits"
	"github.com/Bevor-Protocol/certaik-api/internal/domain/prompts"
	"github.com/Bevor-Protocol/certaik-api/internal/infra/ai/openai"
	mysqlp "github.com/Bevor-Protocol/certaik-api/internal/infra/db/mysql"
	postgresp "github.com/Bevor-Protocol/certaik-api/internal/infra/db/postgres"
	"github.com/Bevor-Protocol/certaik-api/internal/infra/events"
	fileprompts "github.com/Bevor-Protocol/certaik-api/internal/infra/prompts"
	minioStore "github.com/Bevor-Protocol/certaik-api/internal/infra/storage"
	"github.com/Bevor-Protocol/certaik-api/internal/middleware"
)

// PromptStore is a database-backed prompt registry that accepts new versions
type PromptStore interface {
	prompts.Registry
	Publish(ctx context.Context, t audits.Type, version string, entries []prompts.Entry) error
}

// Store groups the repositories of one database driver
type Store struct {
	DB          *sql.DB
	Jobs        audits.JobRepository
	Checkpoints audits.CheckpointRepository
	Findings    audits.FindingRepository
	Prompts     PromptStore

	migrate func(ctx context.Context, db *sql.DB) error
	version func(db *sql.DB) (int64, error)
}

func (s *Store) Migrate(ctx context.Context) error { return s.migrate(ctx, s.DB) }

func (s *Store) SchemaVersion() (int64, error) { return s.version(s.DB) }

// OpenStore connects to the configured database. Migrations are not applied.
func OpenStore(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Store, error) {
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN(), postgresp.Pool{
			MaxOpen: cfg.Database.MaxOpenConns,
			MaxIdle: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres connect: %w", err)
		}
		return &Store{
			DB:          db,
			Jobs:        postgresp.NewJobRepository(db, log),
			Checkpoints: postgresp.NewCheckpointRepository(db),
			Findings:    postgresp.NewFindingRepository(db),
			Prompts:     postgresp.NewPromptRegistry(db),
			migrate:     postgresp.Migrate,
			version:     postgresp.SchemaVersion,
		}, nil
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN(), mysqlp.Pool{
			MaxOpen: cfg.Database.MaxOpenConns,
			MaxIdle: cfg.Database.MaxIdleConns,
		})
		if err != nil {
			return nil, fmt.Errorf("mysql connect: %w", err)
		}
		return &Store{
			DB:          db,
			Jobs:        mysqlp.NewJobRepository(db, log),
			Checkpoints: mysqlp.NewCheckpointRepository(db),
			Findings:    mysqlp.NewFindingRepository(db),
			Prompts:     mysqlp.NewPromptRegistry(db),
			migrate:     mysqlp.Migrate,
			version:     mysqlp.SchemaVersion,
		}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Database.Driver)
	}
}

// App is a fully wired audit service and the resources behind it
type App struct {
	Service  *appaudits.Service
	Store    *Store
	Redis    *redis.Client
	Checkers map[string]middleware.Checker
}

// Open connects every configured backend, applies migrations and builds the
// service. Redis and MinIO are skipped when their address is empty.
func Open(ctx context.Context, cfg *config.Config, log *zap.Logger) (*App, error) {
	store, err := OpenStore(ctx, cfg, log)
	if err != nil {
		return nil, err
	}
	app := &App{
		Store:    store,
		Checkers: map[string]middleware.Checker{"database": middleware.PingDB(store.DB)},
	}
	if err := store.Migrate(ctx); err != nil {
		app.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	registry, err := promptRegistry(cfg, store)
	if err != nil {
		app.Close()
		return nil, err
	}

	svc := &appaudits.Service{
		Jobs:           store.Jobs,
		CheckpointRepo: store.Checkpoints,
		FindingRepo:    store.Findings,
		Client:         openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.Pipeline.Model),
		Registry:       registry,
		Policy:         cfg.Policy(),
		EventsEnabled:  cfg.Pipeline.EventsEnabled,
		Lease:          cfg.Pipeline.Lease,
		Log:            log,
	}

	if cfg.Redis.Addr != "" {
		client, err := events.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("redis: %w", err)
		}
		app.Redis = client
		pub := events.NewPublisher(client)
		svc.Events = pub
		app.Checkers["redis"] = middleware.CheckerFunc(pub.Ping)
	} else {
		svc.EventsEnabled = false
		log.Info("redis not configured, progress events disabled")
	}

	if cfg.Minio.Endpoint != "" {
		archive, err := minioStore.New(ctx,
			cfg.Minio.Endpoint,
			cfg.Minio.Region,
			cfg.Minio.BucketName,
			cfg.Minio.AccessKey,
			cfg.Minio.SecretKey,
			cfg.Minio.UseSSL,
		)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("minio: %w", err)
		}
		svc.Archive = archive
	}

	app.Service = svc
	return app, nil
}

func promptRegistry(cfg *config.Config, store *Store) (prompts.Registry, error) {
	switch cfg.Prompts.Source {
	case "database":
		return store.Prompts, nil
	case "file":
		reg, err := fileprompts.Load(cfg.Prompts.Path)
		if err != nil {
			return nil, fmt.Errorf("load prompts: %w", err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("unknown prompt source %q", cfg.Prompts.Source)
	}
}

// Close releases every connection App holds
func (a *App) Close() error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Store != nil && a.Store.DB != nil {
		errs = append(errs, a.Store.DB.Close())
	}
	return errors.Join(errs...)
}
