package postgresql

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

const taskColumns = `task_id, domain_id, name, state, logging_cid, repository_id, remote_id, progress,
	error, created_version, created_at, started_at, finished_at`

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	err := row.Scan(&t.TaskID, &t.DomainID, &t.Name, &t.State, &t.LoggingCID, &t.RepositoryID, &t.RemoteID,
		&t.Progress, &t.Error, &t.CreatedVersion, &t.CreatedAt, &t.StartedAt, &t.FinishedAt)
	return t, err
}

func progressOrEmpty(p pgtype.JSONB) pgtype.JSONB {
	if p.Status != pgtype.Present {
		return pgtype.JSONB{Bytes: []byte("[]"), Status: pgtype.Present}
	}
	return p
}

func (c *catalogDb) CreateTask(ctx context.Context, t *models.Task) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	t.DomainID = domainID
	if t.Error.Status == pgtype.Undefined {
		t.Error = pgtype.JSONB{Status: pgtype.Null}
	}
	err := c.conn().QueryRowContext(ctx, `
		INSERT INTO tasks (task_id, domain_id, name, state, logging_cid, repository_id, remote_id, progress, error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`,
		t.TaskID, domainID, t.Name, t.State, t.LoggingCID, t.RepositoryID, t.RemoteID, progressOrEmpty(t.Progress), t.Error,
	).Scan(&t.CreatedAt)
	if err != nil {
		if pgErr, ok := asPgError(err); ok && pgErr.Code == "23505" {
			return dberror.ErrAlreadyExists.Msg("task already exists")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to create task")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (c *catalogDb) GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	t, err := scanTask(c.conn().QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = $1 AND domain_id = $2`, taskID, domainID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("task not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get task")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return t, nil
}

// UpdateTask writes the mutable fields of t: state, progress, error,
// the created version and timestamps.
func (c *catalogDb) UpdateTask(ctx context.Context, t *models.Task) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	if t.Error.Status == pgtype.Undefined {
		t.Error = pgtype.JSONB{Status: pgtype.Null}
	}
	result, err := c.conn().ExecContext(ctx, `
		UPDATE tasks SET state = $3, progress = $4, error = $5, created_version = $6,
			started_at = $7, finished_at = $8
		WHERE task_id = $1 AND domain_id = $2`,
		t.TaskID, domainID, t.State, progressOrEmpty(t.Progress), t.Error, t.CreatedVersion, t.StartedAt, t.FinishedAt)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("task_id", t.TaskID.String()).Msg("failed to update task")
		return dberror.ErrDatabase.Err(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("task not found")
	}
	return nil
}

func (c *catalogDb) ListTasks(ctx context.Context, limit, offset int) ([]*models.Task, int, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, 0, aerr
	}
	var count int
	if err := c.conn().QueryRowContext(ctx, `SELECT count(*) FROM tasks WHERE domain_id = $1`, domainID).Scan(&count); err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	rows, err := c.conn().QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE domain_id = $1
		ORDER BY created_at DESC, task_id LIMIT $2 OFFSET $3`, domainID, limit, offset)
	if err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()
	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, 0, dberror.ErrDatabase.Err(err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	return tasks, count, nil
}
