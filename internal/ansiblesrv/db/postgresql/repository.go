package postgresql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/index"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

const repositoryColumns = `repository_id, domain_id, name, description, latest_version_number,
	autopublish, keyring, remote_id, created_at`

func scanRepository(row rowScanner) (*models.Repository, error) {
	r := &models.Repository{}
	err := row.Scan(&r.RepositoryID, &r.DomainID, &r.Name, &r.Description, &r.LatestVersionNumber,
		&r.Autopublish, &r.Keyring, &r.RemoteID, &r.CreatedAt)
	return r, err
}

// checkRemoteDomain rejects a remote that lives in another domain.
func checkRemoteDomain(ctx context.Context, q queryer, domainID uuid.UUID, remoteID uuid.NullUUID) apperrors.Error {
	if !remoteID.Valid {
		return nil
	}
	var remoteDomain uuid.UUID
	err := q.QueryRowContext(ctx, `SELECT domain_id FROM remotes WHERE remote_id = $1`, remoteID.UUID).Scan(&remoteDomain)
	if err == sql.ErrNoRows {
		return dberror.ErrNotFound.Msg("remote not found")
	} else if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if remoteDomain != domainID {
		return ansibleerrors.CrossDomain("remote")
	}
	return nil
}

// CreateRepository inserts the repository together with its empty,
// complete version 0.
func (c *catalogDb) CreateRepository(ctx context.Context, repo *models.Repository) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	repo.DomainID = domainID
	return c.withTx(ctx, func(tx *sql.Tx) apperrors.Error {
		if aerr := checkRemoteDomain(ctx, tx, domainID, repo.RemoteID); aerr != nil {
			return aerr
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO repositories (domain_id, name, description, autopublish, keyring, remote_id)
			VALUES ($1, $2, $3, $4, $5, $6)
			RETURNING repository_id, latest_version_number, created_at`,
			domainID, repo.Name, repo.Description, repo.Autopublish, repo.Keyring, repo.RemoteID,
		).Scan(&repo.RepositoryID, &repo.LatestVersionNumber, &repo.CreatedAt)
		if err != nil {
			if pgErr, ok := asPgError(err); ok && pgErr.Code == "23505" && pgErr.ConstraintName == "repositories_domain_id_name_key" {
				log.Ctx(ctx).Info().Str("repository", repo.Name).Msg("repository already exists")
				return dberror.ErrAlreadyExists.Msg("repository already exists")
			}
			log.Ctx(ctx).Error().Err(err).Str("repository", repo.Name).Msg("failed to create repository")
			return dberror.ErrDatabase.Err(err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO repository_versions (repository_id, number, complete) VALUES ($1, 0, true)`,
			repo.RepositoryID); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to create version 0")
			return dberror.ErrDatabase.Err(err)
		}
		return nil
	})
}

func (c *catalogDb) getRepository(ctx context.Context, q queryer, where string, args ...interface{}) (*models.Repository, apperrors.Error) {
	r, err := scanRepository(q.QueryRowContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE `+where, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			log.Ctx(ctx).Info().Msg("repository not found")
			return nil, dberror.ErrNotFound.Msg("repository not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get repository")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return r, nil
}

func (c *catalogDb) GetRepository(ctx context.Context, repoID uuid.UUID) (*models.Repository, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	return c.getRepository(ctx, c.conn(), `repository_id = $1 AND domain_id = $2`, repoID, domainID)
}

func (c *catalogDb) GetRepositoryByName(ctx context.Context, name string) (*models.Repository, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	return c.getRepository(ctx, c.conn(), `name = $1 AND domain_id = $2`, name, domainID)
}

func (c *catalogDb) ListRepositories(ctx context.Context) ([]*models.Repository, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	rows, err := c.conn().QueryContext(ctx, `SELECT `+repositoryColumns+` FROM repositories WHERE domain_id = $1 ORDER BY name`, domainID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list repositories")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()
	var repos []*models.Repository
	for rows.Next() {
		r, err := scanRepository(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		repos = append(repos, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return repos, nil
}

// UpdateRepository changes the mutable settings of a repository. Version
// numbers are only moved by CommitVersion.
func (c *catalogDb) UpdateRepository(ctx context.Context, repo *models.Repository) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	if aerr := checkRemoteDomain(ctx, c.conn(), domainID, repo.RemoteID); aerr != nil {
		return aerr
	}
	result, err := c.conn().ExecContext(ctx, `
		UPDATE repositories SET name = $3, description = $4, autopublish = $5, keyring = $6, remote_id = $7
		WHERE repository_id = $1 AND domain_id = $2`,
		repo.RepositoryID, domainID, repo.Name, repo.Description, repo.Autopublish, repo.Keyring, repo.RemoteID)
	if err != nil {
		if pgErr, ok := asPgError(err); ok && pgErr.Code == "23505" {
			return dberror.ErrAlreadyExists.Msg("repository already exists")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to update repository")
		return dberror.ErrDatabase.Err(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("repository not found")
	}
	return nil
}

func (c *catalogDb) DeleteRepository(ctx context.Context, repoID uuid.UUID) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	result, err := c.conn().ExecContext(ctx, `DELETE FROM repositories WHERE repository_id = $1 AND domain_id = $2`, repoID, domainID)
	if err != nil {
		if pgErr, ok := asPgError(err); ok && pgErr.Code == "23503" {
			log.Ctx(ctx).Info().Str("repository_id", repoID.String()).Msg("repository is still distributed")
			return dberror.ErrInUse.Msg("repository is referenced by a distribution")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to delete repository")
		return dberror.ErrDatabase.Err(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("repository not found")
	}
	return nil
}

// repositoryDomain checks that repoID belongs to the domain in ctx.
func (c *catalogDb) repositoryDomain(ctx context.Context, q queryer, repoID uuid.UUID) (uuid.UUID, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return uuid.Nil, aerr
	}
	var repoDomain uuid.UUID
	err := q.QueryRowContext(ctx, `SELECT domain_id FROM repositories WHERE repository_id = $1`, repoID).Scan(&repoDomain)
	if err == sql.ErrNoRows || (err == nil && repoDomain != domainID) {
		log.Ctx(ctx).Info().Str("repository_id", repoID.String()).Msg("repository not found in domain")
		return uuid.Nil, dberror.ErrNotFound.Msg("repository not found")
	}
	if err != nil {
		return uuid.Nil, dberror.ErrDatabase.Err(err)
	}
	return domainID, nil
}

func scanRepositoryVersion(row rowScanner) (*models.RepositoryVersion, error) {
	v := &models.RepositoryVersion{}
	err := row.Scan(&v.RepositoryID, &v.Number, &v.Complete, &v.CreatedAt)
	return v, err
}

func (c *catalogDb) GetRepositoryVersion(ctx context.Context, repoID uuid.UUID, number int64) (*models.RepositoryVersion, apperrors.Error) {
	if _, aerr := c.repositoryDomain(ctx, c.conn(), repoID); aerr != nil {
		return nil, aerr
	}
	v, err := scanRepositoryVersion(c.conn().QueryRowContext(ctx, `
		SELECT repository_id, number, complete, created_at FROM repository_versions
		WHERE repository_id = $1 AND number = $2`, repoID, number))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("repository version not found")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}
	return v, nil
}

func (c *catalogDb) ListRepositoryVersions(ctx context.Context, repoID uuid.UUID) ([]*models.RepositoryVersion, apperrors.Error) {
	if _, aerr := c.repositoryDomain(ctx, c.conn(), repoID); aerr != nil {
		return nil, aerr
	}
	rows, err := c.conn().QueryContext(ctx, `
		SELECT repository_id, number, complete, created_at FROM repository_versions
		WHERE repository_id = $1 AND complete ORDER BY number DESC`, repoID)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()
	var versions []*models.RepositoryVersion
	for rows.Next() {
		v, err := scanRepositoryVersion(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		versions = append(versions, v)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return versions, nil
}

// BeginVersion opens the draft latest+1. The draft starts with the
// membership of the latest version since open rows carry forward.
func (c *catalogDb) BeginVersion(ctx context.Context, repoID uuid.UUID) (*models.RepositoryVersion, apperrors.Error) {
	if _, aerr := c.repositoryDomain(ctx, c.conn(), repoID); aerr != nil {
		return nil, aerr
	}
	v, err := scanRepositoryVersion(c.conn().QueryRowContext(ctx, `
		INSERT INTO repository_versions (repository_id, number, complete)
		SELECT repository_id, latest_version_number + 1, false FROM repositories WHERE repository_id = $1
		RETURNING repository_id, number, complete, created_at`, repoID))
	if err != nil {
		if pgErr, ok := asPgError(err); ok && pgErr.Code == "23505" {
			log.Ctx(ctx).Info().Str("repository_id", repoID.String()).Msg("repository already has a draft version")
			return nil, ansibleerrors.ErrRepositoryBusy
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to begin repository version")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return v, nil
}

// lockDraft checks that draft exists and is still open.
func lockDraft(ctx context.Context, tx *sql.Tx, draft *models.RepositoryVersion) (bool, apperrors.Error) {
	var complete bool
	err := tx.QueryRowContext(ctx, `
		SELECT complete FROM repository_versions WHERE repository_id = $1 AND number = $2 FOR UPDATE`,
		draft.RepositoryID, draft.Number).Scan(&complete)
	if err == sql.ErrNoRows {
		return false, dberror.ErrNotFound.Msg("repository version not found")
	} else if err != nil {
		return false, dberror.ErrDatabase.Err(err)
	}
	return complete, nil
}

func dedupe(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// AddContent places contentIDs in the draft. Content removed earlier in
// the same draft gets its row reopened instead of a second row.
func (c *catalogDb) AddContent(ctx context.Context, draft *models.RepositoryVersion, contentIDs []uuid.UUID) apperrors.Error {
	contentIDs = dedupe(contentIDs)
	if len(contentIDs) == 0 {
		return nil
	}
	return c.withTx(ctx, func(tx *sql.Tx) apperrors.Error {
		domainID, aerr := c.repositoryDomain(ctx, tx, draft.RepositoryID)
		if aerr != nil {
			return aerr
		}
		complete, aerr := lockDraft(ctx, tx, draft)
		if aerr != nil {
			return aerr
		}
		if complete {
			return dberror.ErrVersionComplete
		}
		var found, foreign int
		err := tx.QueryRowContext(ctx, `
			SELECT count(*), count(*) FILTER (WHERE domain_id <> $2)
			FROM content WHERE content_id = ANY($1::uuid[])`,
			uuidArray(contentIDs), domainID).Scan(&found, &foreign)
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		if foreign > 0 {
			log.Ctx(ctx).Info().Int("count", foreign).Msg("refusing content from another domain")
			return ansibleerrors.CrossDomain("content")
		}
		if found != len(contentIDs) {
			return dberror.ErrNotFound.Msg("content not found")
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE repository_content rc SET version_removed = NULL
			WHERE rc.repository_id = $1 AND rc.content_id = ANY($2::uuid[]) AND rc.version_removed = $3
			  AND NOT EXISTS (
				SELECT 1 FROM repository_content o
				WHERE o.repository_id = rc.repository_id AND o.content_id = rc.content_id AND o.version_removed IS NULL)`,
			draft.RepositoryID, uuidArray(contentIDs), draft.Number); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to reopen repository content")
			return dberror.ErrDatabase.Err(err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO repository_content (repository_id, content_id, version_added)
			SELECT $1, id, $3 FROM unnest($2::uuid[]) AS id
			ON CONFLICT (repository_id, content_id) WHERE version_removed IS NULL DO NOTHING`,
			draft.RepositoryID, uuidArray(contentIDs), draft.Number); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to add repository content")
			return dberror.ErrDatabase.Err(err)
		}
		return nil
	})
}

// RemoveContent drops contentIDs from the draft: rows opened by the draft
// itself are deleted, older rows are closed at the draft number.
func (c *catalogDb) RemoveContent(ctx context.Context, draft *models.RepositoryVersion, contentIDs []uuid.UUID) apperrors.Error {
	contentIDs = dedupe(contentIDs)
	if len(contentIDs) == 0 {
		return nil
	}
	return c.withTx(ctx, func(tx *sql.Tx) apperrors.Error {
		if _, aerr := c.repositoryDomain(ctx, tx, draft.RepositoryID); aerr != nil {
			return aerr
		}
		complete, aerr := lockDraft(ctx, tx, draft)
		if aerr != nil {
			return aerr
		}
		if complete {
			return dberror.ErrVersionComplete
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM repository_content
			WHERE repository_id = $1 AND content_id = ANY($2::uuid[]) AND version_added = $3 AND version_removed IS NULL`,
			draft.RepositoryID, uuidArray(contentIDs), draft.Number); err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE repository_content SET version_removed = $3
			WHERE repository_id = $1 AND content_id = ANY($2::uuid[]) AND version_added < $3 AND version_removed IS NULL`,
			draft.RepositoryID, uuidArray(contentIDs), draft.Number); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to remove repository content")
			return dberror.ErrDatabase.Err(err)
		}
		return nil
	})
}

func draftChanges(ctx context.Context, tx *sql.Tx, repoID uuid.UUID, number int64) (*models.VersionChanges, error) {
	changes := &models.VersionChanges{}
	rows, err := tx.QueryContext(ctx, `
		SELECT content_id FROM repository_content WHERE repository_id = $1 AND version_added = $2`, repoID, number)
	if err != nil {
		return nil, err
	}
	if changes.Added, err = scanUUIDs(rows); err != nil {
		return nil, err
	}
	rows, err = tx.QueryContext(ctx, `
		SELECT content_id FROM repository_content WHERE repository_id = $1 AND version_removed = $2`, repoID, number)
	if err != nil {
		return nil, err
	}
	if changes.Removed, err = scanUUIDs(rows); err != nil {
		return nil, err
	}
	return changes, nil
}

// CommitVersion completes the draft under the repository's advisory lock.
// A draft that changed nothing is discarded and the latest version is
// returned. Committing an already complete version returns it unchanged.
func (c *catalogDb) CommitVersion(ctx context.Context, draft *models.RepositoryVersion) (*models.RepositoryVersion, apperrors.Error) {
	var result *models.RepositoryVersion
	aerr := c.withTx(ctx, func(tx *sql.Tx) apperrors.Error {
		domainID, aerr := c.repositoryDomain(ctx, tx, draft.RepositoryID)
		if aerr != nil {
			return aerr
		}
		if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1::text, 0))`, draft.RepositoryID.String()); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to take repository lock")
			return dberror.ErrDatabase.Err(err)
		}
		complete, aerr := lockDraft(ctx, tx, draft)
		if aerr != nil {
			return aerr
		}
		if complete {
			v, err := scanRepositoryVersion(tx.QueryRowContext(ctx, `
				SELECT repository_id, number, complete, created_at FROM repository_versions
				WHERE repository_id = $1 AND number = $2`, draft.RepositoryID, draft.Number))
			if err != nil {
				return dberror.ErrDatabase.Err(err)
			}
			result = v
			return nil
		}

		changes, err := draftChanges(ctx, tx, draft.RepositoryID, draft.Number)
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		if len(changes.Added) == 0 && len(changes.Removed) == 0 {
			if _, err := tx.ExecContext(ctx, `
				DELETE FROM repository_versions WHERE repository_id = $1 AND number = $2 AND NOT complete`,
				draft.RepositoryID, draft.Number); err != nil {
				return dberror.ErrDatabase.Err(err)
			}
			v, err := scanRepositoryVersion(tx.QueryRowContext(ctx, `
				SELECT v.repository_id, v.number, v.complete, v.created_at
				FROM repository_versions v JOIN repositories r
				  ON r.repository_id = v.repository_id AND r.latest_version_number = v.number
				WHERE v.repository_id = $1`, draft.RepositoryID))
			if err != nil {
				return dberror.ErrDatabase.Err(err)
			}
			log.Ctx(ctx).Info().Int64("version", v.Number).Msg("draft made no changes; keeping latest version")
			result = v
			return nil
		}

		v, err := scanRepositoryVersion(tx.QueryRowContext(ctx, `
			UPDATE repository_versions SET complete = true
			WHERE repository_id = $1 AND number = $2
			RETURNING repository_id, number, complete, created_at`, draft.RepositoryID, draft.Number))
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		var autopublish bool
		if err := tx.QueryRowContext(ctx, `
			UPDATE repositories SET latest_version_number = $2 WHERE repository_id = $1
			RETURNING autopublish`, draft.RepositoryID, draft.Number).Scan(&autopublish); err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		if err := applyCrossRepoDelta(ctx, tx, domainID, draft.RepositoryID, draft.Number, changes); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to update cross repository index")
			return dberror.ErrDatabase.Err(err)
		}
		if autopublish {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO publications (repository_id, version_number) VALUES ($1, $2)`,
				draft.RepositoryID, draft.Number); err != nil {
				return dberror.ErrDatabase.Err(err)
			}
		}
		log.Ctx(ctx).Info().
			Str("repository_id", draft.RepositoryID.String()).
			Int64("version", draft.Number).
			Int("added", len(changes.Added)).
			Int("removed", len(changes.Removed)).
			Msg("committed repository version")
		result = v
		return nil
	})
	if aerr != nil {
		return nil, aerr
	}
	return result, nil
}

// applyCrossRepoDelta moves the cross repository index from version n-1 to
// n using only the rows the commit touched, then refreshes the per
// repository highest and deprecation flags of the affected collections.
func applyCrossRepoDelta(ctx context.Context, tx *sql.Tx, domainID, repoID uuid.UUID, number int64, changes *models.VersionChanges) error {
	if len(changes.Removed) > 0 {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM cross_repo_collection_index
			WHERE repository_id = $1 AND collection_version_id = ANY($2::uuid[])`,
			repoID, uuidArray(changes.Removed)); err != nil {
			return err
		}
	}
	if len(changes.Added) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cross_repo_collection_index
				(domain_id, repository_id, collection_version_id, collection_id, namespace, name, version)
			SELECT $1, $2, cv.content_id, cv.collection_id, cv.namespace, cv.name, cv.version
			FROM collection_versions cv WHERE cv.content_id = ANY($3::uuid[])
			ON CONFLICT (repository_id, collection_version_id) DO NOTHING`,
			domainID, repoID, uuidArray(changes.Added)); err != nil {
			return err
		}
	}

	touched := append(append([]uuid.UUID{}, changes.Added...), changes.Removed...)
	rows, err := tx.QueryContext(ctx, `
		SELECT DISTINCT cv.collection_id FROM collection_versions cv WHERE cv.content_id = ANY($1::uuid[])
		UNION
		SELECT DISTINCT col.collection_id FROM deprecation_markers dm
		JOIN collections col ON col.domain_id = dm.domain_id AND col.namespace = dm.namespace AND col.name = dm.name
		WHERE dm.content_id = ANY($1::uuid[])`, uuidArray(touched))
	if err != nil {
		return err
	}
	collections, err := scanUUIDs(rows)
	if err != nil {
		return err
	}
	if len(collections) == 0 {
		return nil
	}

	rows, err = tx.QueryContext(ctx, `
		SELECT collection_id, collection_version_id, version FROM cross_repo_collection_index
		WHERE repository_id = $1 AND collection_id = ANY($2::uuid[])`, repoID, uuidArray(collections))
	if err != nil {
		return err
	}
	type member struct {
		id      uuid.UUID
		version string
	}
	byCollection := map[uuid.UUID][]member{}
	for rows.Next() {
		var colID uuid.UUID
		var m member
		if err := rows.Scan(&colID, &m.id, &m.version); err != nil {
			rows.Close()
			return err
		}
		byCollection[colID] = append(byCollection[colID], m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	var highest []uuid.UUID
	for _, members := range byCollection {
		versions := make([]string, len(members))
		for i, m := range members {
			versions[i] = m.version
		}
		if i, ok := index.PickHighest(versions); ok {
			highest = append(highest, members[i].id)
		}
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE cross_repo_collection_index SET is_highest = (collection_version_id = ANY($3::uuid[]))
		WHERE repository_id = $1 AND collection_id = ANY($2::uuid[])`,
		repoID, uuidArray(collections), uuidArray(highest)); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE cross_repo_collection_index x SET is_deprecated = EXISTS (
			SELECT 1 FROM deprecation_markers dm
			WHERE dm.domain_id = x.domain_id AND dm.namespace = x.namespace AND dm.name = x.name
			  AND `+memberOf("dm.content_id", "$1", "$3")+`)
		WHERE x.repository_id = $1 AND x.collection_id = ANY($2::uuid[])`,
		repoID, uuidArray(collections), number)
	return err
}

// DiscardVersion rolls the draft back and frees the draft slot.
func (c *catalogDb) DiscardVersion(ctx context.Context, draft *models.RepositoryVersion) apperrors.Error {
	return c.withTx(ctx, func(tx *sql.Tx) apperrors.Error {
		if _, aerr := c.repositoryDomain(ctx, tx, draft.RepositoryID); aerr != nil {
			return aerr
		}
		complete, aerr := lockDraft(ctx, tx, draft)
		if aerr != nil {
			if errors.Is(aerr, dberror.ErrNotFound) {
				return nil
			}
			return aerr
		}
		if complete {
			return dberror.ErrVersionComplete
		}
		stmts := []string{
			`DELETE FROM repository_content WHERE repository_id = $1 AND version_added = $2`,
			`UPDATE repository_content SET version_removed = NULL WHERE repository_id = $1 AND version_removed = $2`,
			`DELETE FROM repository_versions WHERE repository_id = $1 AND number = $2 AND NOT complete`,
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, draft.RepositoryID, draft.Number); err != nil {
				log.Ctx(ctx).Error().Err(err).Msg("failed to discard repository version")
				return dberror.ErrDatabase.Err(err)
			}
		}
		log.Ctx(ctx).Info().Str("repository_id", draft.RepositoryID.String()).Int64("version", draft.Number).Msg("discarded draft version")
		return nil
	})
}

func (c *catalogDb) ListPublications(ctx context.Context, repoID uuid.UUID) ([]*models.Publication, apperrors.Error) {
	if _, aerr := c.repositoryDomain(ctx, c.conn(), repoID); aerr != nil {
		return nil, aerr
	}
	rows, err := c.conn().QueryContext(ctx, `
		SELECT publication_id, repository_id, version_number, created_at FROM publications
		WHERE repository_id = $1 ORDER BY version_number DESC`, repoID)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()
	var pubs []*models.Publication
	for rows.Next() {
		p := &models.Publication{}
		if err := rows.Scan(&p.PublicationID, &p.RepositoryID, &p.VersionNumber, &p.CreatedAt); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		pubs = append(pubs, p)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return pubs, nil
}

func (c *catalogDb) GetSyncState(ctx context.Context, repoID uuid.UUID) (*models.SyncState, apperrors.Error) {
	if _, aerr := c.repositoryDomain(ctx, c.conn(), repoID); aerr != nil {
		return nil, aerr
	}
	st := &models.SyncState{}
	err := c.conn().QueryRowContext(ctx, `
		SELECT repository_id, remote_id, remote_url, credentials_sha256, plan_sha256,
		       upstream_last_modified, version_number, synced_at
		FROM repository_sync_state WHERE repository_id = $1`, repoID).
		Scan(&st.RepositoryID, &st.RemoteID, &st.RemoteURL, &st.CredentialsSha256, &st.PlanSha256,
			&st.UpstreamLastModified, &st.VersionNumber, &st.SyncedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("repository has not been synced")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}
	return st, nil
}

func (c *catalogDb) SetSyncState(ctx context.Context, st *models.SyncState) apperrors.Error {
	if _, aerr := c.repositoryDomain(ctx, c.conn(), st.RepositoryID); aerr != nil {
		return aerr
	}
	_, err := c.conn().ExecContext(ctx, `
		INSERT INTO repository_sync_state (repository_id, remote_id, remote_url, credentials_sha256,
			plan_sha256, upstream_last_modified, version_number, synced_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (repository_id) DO UPDATE SET
			remote_id = EXCLUDED.remote_id, remote_url = EXCLUDED.remote_url,
			credentials_sha256 = EXCLUDED.credentials_sha256, plan_sha256 = EXCLUDED.plan_sha256,
			upstream_last_modified = EXCLUDED.upstream_last_modified,
			version_number = EXCLUDED.version_number, synced_at = now()`,
		st.RepositoryID, st.RemoteID, st.RemoteURL, st.CredentialsSha256, st.PlanSha256,
		st.UpstreamLastModified, st.VersionNumber)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to record sync state")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}
