package postgres

import (
	"context"
	"database/sql"
	"embed"
	"time"

	_ "github.com/lib/pq"

	"github.com/Bevor-Protocol/certaik-api/internal/infra/db/migrate"
)

const dialect = "postgres"

//go:embed migrations/*.sql
var migrations embed.FS

// Pool tunes the connection pool; zero values keep the defaults
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

func Connect(ctx context.Context, dsn string, pool Pool) (*sql.DB, error) {
	db, err := sql.Open(dialect, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(orDefault(pool.MaxOpen, 25))
	db.SetMaxIdleConns(orDefault(pool.MaxIdle, 10))
	if pool.MaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.MaxLifetime)
	} else {
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	ctx2, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx2); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func Migrate(ctx context.Context, db *sql.DB) error {
	return migrate.Up(ctx, db, dialect, migrations)
}

func SchemaVersion(db *sql.DB) (int64, error) {
	return migrate.Version(db, dialect, migrations)
}
