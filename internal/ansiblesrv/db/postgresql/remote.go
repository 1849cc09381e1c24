package postgresql

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

const remoteColumns = `remote_id, domain_id, name, remote_type, url, token, auth_url, proxy_url,
	proxy_username, proxy_password, requirements_file, sync_dependencies, signed_only, policy,
	git_ref, metadata_only, download_concurrency, created_at, updated_at`

func scanRemote(row rowScanner) (*models.Remote, error) {
	r := &models.Remote{}
	err := row.Scan(&r.RemoteID, &r.DomainID, &r.Name, &r.Type, &r.URL, &r.Token, &r.AuthURL, &r.ProxyURL,
		&r.ProxyUsername, &r.ProxyPassword, &r.RequirementsFile, &r.SyncDependencies, &r.SignedOnly, &r.Policy,
		&r.GitRef, &r.MetadataOnly, &r.DownloadConcurrency, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func mapRemoteError(ctx context.Context, err error, r *models.Remote) apperrors.Error {
	if pgErr, ok := asPgError(err); ok {
		switch {
		case pgErr.Code == "23505" && pgErr.ConstraintName == "remotes_domain_id_name_key":
			log.Ctx(ctx).Info().Str("remote", r.Name).Msg("remote already exists")
			return dberror.ErrAlreadyExists.Msg("remote already exists")
		case pgErr.Code == "23514":
			log.Ctx(ctx).Info().Str("remote", r.Name).Str("constraint", pgErr.ConstraintName).Msg("invalid remote")
			return dberror.ErrInvalidInput.Msg("invalid remote type or policy")
		}
	}
	log.Ctx(ctx).Error().Err(err).Str("remote", r.Name).Msg("failed to write remote")
	return dberror.ErrDatabase.Err(err)
}

// CreateRemote stores r. Field validation happens before this call.
func (c *catalogDb) CreateRemote(ctx context.Context, r *models.Remote) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	r.DomainID = domainID
	if r.Policy == "" {
		r.Policy = catcommon.PolicyImmediate
	}
	err := c.conn().QueryRowContext(ctx, `
		INSERT INTO remotes (domain_id, name, remote_type, url, token, auth_url, proxy_url, proxy_username,
			proxy_password, requirements_file, sync_dependencies, signed_only, policy, git_ref, metadata_only,
			download_concurrency)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		RETURNING remote_id, created_at, updated_at`,
		domainID, r.Name, r.Type, r.URL, r.Token, r.AuthURL, r.ProxyURL, r.ProxyUsername,
		r.ProxyPassword, r.RequirementsFile, r.SyncDependencies, r.SignedOnly, r.Policy, r.GitRef, r.MetadataOnly,
		r.DownloadConcurrency,
	).Scan(&r.RemoteID, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return mapRemoteError(ctx, err, r)
	}
	return nil
}

func (c *catalogDb) getRemote(ctx context.Context, where string, args ...interface{}) (*models.Remote, apperrors.Error) {
	r, err := scanRemote(c.conn().QueryRowContext(ctx, `SELECT `+remoteColumns+` FROM remotes WHERE `+where, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			log.Ctx(ctx).Info().Msg("remote not found")
			return nil, dberror.ErrNotFound.Msg("remote not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get remote")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return r, nil
}

func (c *catalogDb) GetRemote(ctx context.Context, remoteID uuid.UUID) (*models.Remote, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	return c.getRemote(ctx, `remote_id = $1 AND domain_id = $2`, remoteID, domainID)
}

func (c *catalogDb) GetRemoteByName(ctx context.Context, name string) (*models.Remote, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	return c.getRemote(ctx, `name = $1 AND domain_id = $2`, name, domainID)
}

func (c *catalogDb) ListRemotes(ctx context.Context) ([]*models.Remote, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	rows, err := c.conn().QueryContext(ctx, `SELECT `+remoteColumns+` FROM remotes WHERE domain_id = $1 ORDER BY name`, domainID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list remotes")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()
	var remotes []*models.Remote
	for rows.Next() {
		r, err := scanRemote(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		remotes = append(remotes, r)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return remotes, nil
}

func (c *catalogDb) UpdateRemote(ctx context.Context, r *models.Remote) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	err := c.conn().QueryRowContext(ctx, `
		UPDATE remotes SET name = $3, remote_type = $4, url = $5, token = $6, auth_url = $7, proxy_url = $8,
			proxy_username = $9, proxy_password = $10, requirements_file = $11, sync_dependencies = $12,
			signed_only = $13, policy = $14, git_ref = $15, metadata_only = $16, download_concurrency = $17,
			updated_at = now()
		WHERE remote_id = $1 AND domain_id = $2
		RETURNING updated_at`,
		r.RemoteID, domainID, r.Name, r.Type, r.URL, r.Token, r.AuthURL, r.ProxyURL,
		r.ProxyUsername, r.ProxyPassword, r.RequirementsFile, r.SyncDependencies,
		r.SignedOnly, r.Policy, r.GitRef, r.MetadataOnly, r.DownloadConcurrency,
	).Scan(&r.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return dberror.ErrNotFound.Msg("remote not found")
		}
		return mapRemoteError(ctx, err, r)
	}
	return nil
}

func (c *catalogDb) DeleteRemote(ctx context.Context, remoteID uuid.UUID) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	result, err := c.conn().ExecContext(ctx, `DELETE FROM remotes WHERE remote_id = $1 AND domain_id = $2`, remoteID, domainID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to delete remote")
		return dberror.ErrDatabase.Err(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("remote not found")
	}
	return nil
}
