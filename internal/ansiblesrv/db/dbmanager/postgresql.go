// Package dbmanager opens the PostgreSQL connection pool shared by the
// catalog.
package dbmanager

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/stdlib"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/rs/zerolog/log"
)

const (
	defaultStatementTimeout = 30 * time.Second
	lockTimeout             = 10 * time.Second
)

// NewPostgresqlDb opens a pool for cfg and waits for the server to answer.
// Every pooled connection carries the statement and lock timeouts.
func NewPostgresqlDb(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	connConfig, err := pgx.ParseConfig(cfg.DSN())
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("invalid database configuration")
		return nil, err
	}
	statementTimeout := cfg.StatementTimeout.Duration
	if statementTimeout <= 0 {
		statementTimeout = defaultStatementTimeout
	}
	if connConfig.RuntimeParams == nil {
		connConfig.RuntimeParams = map[string]string{}
	}
	connConfig.RuntimeParams["statement_timeout"] = fmt.Sprintf("%d", statementTimeout.Milliseconds())
	connConfig.RuntimeParams["lock_timeout"] = fmt.Sprintf("%d", lockTimeout.Milliseconds())
	connConfig.RuntimeParams["application_name"] = "pulp-ansible"

	sqlDB := stdlib.OpenDB(*connConfig)
	if cfg.MaxConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxConns)
		sqlDB.SetMaxIdleConns(cfg.MaxConns)
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)

	err = retry.Do(
		func() error {
			return sqlDB.PingContext(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Msg("database not ready")
		}),
	)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to ping db")
		sqlDB.Close()
		return nil, err
	}
	return sqlDB, nil
}
