// Package postgresql implements the catalog over PostgreSQL with
// hand-written SQL.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

type catalogDb struct {
	db *sql.DB
}

// New wraps an open pool.
func New(db *sql.DB) *catalogDb {
	return &catalogDb{db: db}
}

func (c *catalogDb) conn() *sql.DB {
	return c.db
}

func (c *catalogDb) Close(ctx context.Context) {
	if err := c.db.Close(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to close db")
	}
}

// Migrate applies pending schema migrations in order under an advisory
// lock so that concurrently starting servers do not race.
func (c *catalogDb) Migrate(ctx context.Context) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('pulp_ansible_migrations', 0))`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		version integer PRIMARY KEY,
		applied_at timestamptz NOT NULL DEFAULT now()
	)`); err != nil {
		return err
	}
	var current int
	if err := tx.QueryRowContext(ctx, `SELECT coalesce(max(version), 0) FROM schema_migrations`).Scan(&current); err != nil {
		return err
	}
	for i := current; i < len(migrations); i++ {
		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			log.Ctx(ctx).Error().Err(err).Int("version", i+1).Msg("migration failed")
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, i+1); err != nil {
			return err
		}
		log.Ctx(ctx).Info().Int("version", i+1).Msg("applied migration")
	}
	return tx.Commit()
}

func domainFromContext(ctx context.Context) (uuid.UUID, apperrors.Error) {
	domainID := catcommon.DomainIdFromContext(ctx)
	if domainID == uuid.Nil {
		log.Ctx(ctx).Error().Msg("no domain in context")
		return uuid.Nil, dberror.ErrMissingDomain
	}
	return domainID, nil
}

// withTx runs fn in a read committed transaction and commits when fn
// returns nil.
func (c *catalogDb) withTx(ctx context.Context, fn func(tx *sql.Tx) apperrors.Error) apperrors.Error {
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to begin transaction")
		return dberror.ErrDatabase.Err(err)
	}
	if aerr := fn(tx); aerr != nil {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			log.Ctx(ctx).Error().Err(err).Msg("failed to roll back transaction")
		}
		return aerr
	}
	if err := tx.Commit(); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to commit transaction")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func asPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func uuidArray(ids []uuid.UUID) interface{} {
	s := make([]string, len(ids))
	for i, id := range ids {
		s[i] = id.String()
	}
	return pq.Array(s)
}

func scanUUIDs(rows *sql.Rows) ([]uuid.UUID, error) {
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}
