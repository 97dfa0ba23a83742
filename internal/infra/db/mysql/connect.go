package mysql

import (
	"context"
	"database/sql"
	"embed"
	"time"

	_ "github.com/go-sql-driver/mysql"

	"github.com/Bevor-Protocol/certaik-api/internal/infra/db/migrate"
)

const dialect = "mysql"

//go:embed migrations/*.sql
var migrations embed.FS

// Pool tunes the connection pool; zero values keep the defaults below
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
}

// Connect opens the pool and pings it. The DSN must carry parseTime=true.
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

// Migrate applies the embedded schema migrations
func Migrate(ctx context.Context, db *sql.DB) error {
	return migrate.Up(ctx, db, dialect, migrations)
}

// SchemaVersion reports the applied migration version
func SchemaVersion(db *sql.DB) (int64, error) {
	return migrate.Version(db, dialect, migrations)
}
