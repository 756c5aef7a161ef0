package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"horse.fit/linkwire/internal/config"
)

var ErrNoRows = sql.ErrNoRows

func IsNoRows(err error) bool {
	return errors.Is(err, ErrNoRows)
}

// Row is a single-row result. A nil Row scans as ErrNoRows.
type Row struct {
	row *sql.Row
}

func (r *Row) Scan(dest ...any) error {
	if r == nil || r.row == nil {
		return ErrNoRows
	}
	return r.row.Scan(dest...)
}

type Rows struct {
	*sql.Rows
}

func (r *Rows) Close() {
	if r != nil && r.Rows != nil {
		_ = r.Rows.Close()
	}
}

// conn runs raw SQL with $n placeholders on either the pool or a transaction.
type conn struct {
	gdb *gorm.DB
}

func (c conn) ready() error {
	if c.gdb == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return nil
}

func (c conn) QueryRow(ctx context.Context, query string, args ...any) *Row {
	if c.ready() != nil {
		return &Row{}
	}
	return &Row{row: c.gdb.WithContext(ctx).Raw(query, args...).Row()}
}

func (c conn) Query(ctx context.Context, query string, args ...any) (*Rows, error) {
	if err := c.ready(); err != nil {
		return nil, err
	}
	rows, err := c.gdb.WithContext(ctx).Raw(query, args...).Rows()
	if err != nil {
		return nil, err
	}
	return &Rows{Rows: rows}, nil
}

// Exec returns the number of affected rows.
func (c conn) Exec(ctx context.Context, query string, args ...any) (int64, error) {
	if err := c.ready(); err != nil {
		return 0, err
	}
	res := c.gdb.WithContext(ctx).Exec(query, args...)
	return res.RowsAffected, res.Error
}

// Tx is an open transaction. Callers normally go through Pool.withTx.
type Tx struct {
	conn
}

// Pool is the Postgres handle every pipeline store is implemented on.
type Pool struct {
	conn
	sqlDB *sql.DB
	log   zerolog.Logger
}

// NewPool connects, sizes the connection pool and migrates the schema.
func NewPool(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*Pool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	gdb, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{
		Logger:  newGormLogger(log, cfg.LogLevel),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql handle: %w", err)
	}

	sqlDB.SetMaxOpenConns(int(cfg.DBMaxConns))
	sqlDB.SetMaxIdleConns(max(1, int(cfg.DBMinConns)))
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pool := &Pool{conn: conn{gdb: gdb}, sqlDB: sqlDB, log: log}
	if err := pool.migrate(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return pool, nil
}

// withTx runs fn in a transaction, committing on nil error.
func (p *Pool) withTx(ctx context.Context, fn func(tx *Tx) error) error {
	if err := p.ready(); err != nil {
		return err
	}
	begun := p.gdb.WithContext(ctx).Begin()
	if begun.Error != nil {
		return fmt.Errorf("begin transaction: %w", begun.Error)
	}
	if err := fn(&Tx{conn: conn{gdb: begun}}); err != nil {
		_ = begun.Rollback().Error
		return err
	}
	if err := begun.Commit().Error; err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Ping checks that the database answers.
func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.sqlDB == nil {
		return fmt.Errorf("database pool is not initialized")
	}
	return p.sqlDB.PingContext(ctx)
}

func (p *Pool) Close() error {
	if p == nil || p.sqlDB == nil {
		return nil
	}
	return p.sqlDB.Close()
}
