// Package pg — соединение с Postgres и DDL таблиц скомпилированных моделей.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // driver: pgx
	"github.com/pkg/errors"
)

// Pool — настройки пула database/sql.
type Pool struct {
	MaxOpen     int
	MaxIdle     int
	MaxLifetime time.Duration
	PingTimeout time.Duration
}

// DefaultPool хватает и серверу, и тестам.
var DefaultPool = Pool{
	MaxOpen:     10,
	MaxIdle:     5,
	MaxLifetime: 30 * time.Minute,
	PingTimeout: 5 * time.Second,
}

// Open открывает пул через драйвер pgx и проверяет его пингом.
func Open(ctx context.Context, dsn string, pool Pool) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "sql open")
	}
	db.SetConnMaxLifetime(pool.MaxLifetime)
	db.SetMaxOpenConns(pool.MaxOpen)
	db.SetMaxIdleConns(pool.MaxIdle)

	if pool.PingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, pool.PingTimeout)
		defer cancel()
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping")
	}
	return db, nil
}
