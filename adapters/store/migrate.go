package store

import (
	"context"
	"database/sql"
	"embed"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/pressly/goose/v3"

	"github.com/forge/poingest"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Open connects to MySQL and verifies the connection. The DSN must carry
// parseTime=true so date columns scan into time.Time.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "open database failed", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, poingest.NewIngestError(poingest.ErrCodeDbFail, "ping database failed", err)
	}
	return db, nil
}

// Migrate applies all pending embedded migrations.
func Migrate(ctx context.Context, db *sql.DB) error {
	goose.SetBaseFS(migrations)
	if err := goose.SetDialect("mysql"); err != nil {
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "set migration dialect failed", err)
	}
	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return poingest.NewIngestError(poingest.ErrCodeDbFail, "apply migrations failed", err)
	}
	return nil
}
