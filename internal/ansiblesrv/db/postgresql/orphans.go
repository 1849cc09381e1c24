package postgresql

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

const unheld = `NOT EXISTS (SELECT 1 FROM repository_content rc WHERE rc.content_id = c.content_id)`

// DeleteOrphanContent removes content older than olderThan that no
// repository version holds, then re-flags the highest version of every
// collection that lost one.
func (c *catalogDb) DeleteOrphanContent(ctx context.Context, olderThan time.Time) (int64, apperrors.Error) {
	return c.deleteUnheld(ctx, `c.created_at < $1 AND `+unheld, olderThan)
}

// DiscardContent removes the listed content created at or after since that
// no repository version holds.
func (c *catalogDb) DiscardContent(ctx context.Context, contentIDs []uuid.UUID, since time.Time) (int64, apperrors.Error) {
	if len(contentIDs) == 0 {
		return 0, nil
	}
	return c.deleteUnheld(ctx, `c.content_id = ANY($1::uuid[]) AND c.created_at >= $2 AND `+unheld, uuidArray(dedupe(contentIDs)), since)
}

func (c *catalogDb) deleteUnheld(ctx context.Context, where string, args ...any) (int64, apperrors.Error) {
	var n int64
	aerr := c.withTx(ctx, func(tx *sql.Tx) apperrors.Error {
		rows, err := tx.QueryContext(ctx, `
			SELECT DISTINCT cv.collection_id FROM collection_versions cv
			JOIN content c ON c.content_id = cv.content_id
			WHERE `+where, args...)
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		touched, err := scanUUIDs(rows)
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		result, err := tx.ExecContext(ctx, `DELETE FROM content c WHERE `+where, args...)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to delete unheld content")
			return dberror.ErrDatabase.Err(err)
		}
		n, _ = result.RowsAffected()
		for _, colID := range touched {
			if err := recomputeHighest(ctx, tx, colID); err != nil {
				return dberror.ErrDatabase.Err(err)
			}
		}
		return nil
	})
	if aerr != nil {
		return 0, aerr
	}
	return n, nil
}

func (c *catalogDb) DeleteEmptyCollections(ctx context.Context) (int64, apperrors.Error) {
	result, err := c.conn().ExecContext(ctx, `
		DELETE FROM collections col
		WHERE NOT EXISTS (SELECT 1 FROM collection_versions cv WHERE cv.collection_id = col.collection_id)`)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to delete empty collections")
		return 0, dberror.ErrDatabase.Err(err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

// ListOrphanArtifacts returns artifacts recorded before olderThan that no
// content references.
func (c *catalogDb) ListOrphanArtifacts(ctx context.Context, olderThan time.Time) ([]string, apperrors.Error) {
	rows, err := c.conn().QueryContext(ctx, `
		SELECT a.sha256 FROM artifacts a
		WHERE a.created_at < $1
		  AND NOT EXISTS (SELECT 1 FROM content c WHERE c.artifact_sha256 = a.sha256)
		  AND NOT EXISTS (SELECT 1 FROM collection_versions cv WHERE cv.sha256 = a.sha256)
		ORDER BY a.sha256`, olderThan)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var sha string
		if err := rows.Scan(&sha); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, sha)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

func (c *catalogDb) DeleteArtifact(ctx context.Context, sha256 string) apperrors.Error {
	_, err := c.conn().ExecContext(ctx, `
		DELETE FROM artifacts a WHERE a.sha256 = $1
		  AND NOT EXISTS (SELECT 1 FROM content c WHERE c.artifact_sha256 = a.sha256)`, sha256)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

// IsArtifactReferenced backs the artifact store's reference check.
func (c *catalogDb) IsArtifactReferenced(ctx context.Context, sha256 string) (bool, error) {
	var referenced bool
	err := c.conn().QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM content WHERE artifact_sha256 = $1)`, sha256).Scan(&referenced)
	if err != nil {
		return true, err
	}
	return referenced, nil
}
