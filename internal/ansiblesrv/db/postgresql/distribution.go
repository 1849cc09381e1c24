package postgresql

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

const distributionColumns = `distribution_id, domain_id, name, base_path, repository_id,
	version_repository_id, version_number, created_at`

func scanDistribution(row rowScanner) (*models.Distribution, error) {
	d := &models.Distribution{}
	err := row.Scan(&d.DistributionID, &d.DomainID, &d.Name, &d.BasePath, &d.RepositoryID,
		&d.VersionRepositoryID, &d.VersionNumber, &d.CreatedAt)
	return d, err
}

// checkDistributionTarget enforces the repository XOR version rule and
// keeps the target inside the caller's domain.
func (c *catalogDb) checkDistributionTarget(ctx context.Context, domainID uuid.UUID, d *models.Distribution) apperrors.Error {
	if !d.Valid() {
		return dberror.ErrInvalidInput.Msg("exactly one of repository or repository_version must be set")
	}
	var repoDomain uuid.UUID
	err := c.conn().QueryRowContext(ctx, `SELECT domain_id FROM repositories WHERE repository_id = $1`, d.TargetRepository()).Scan(&repoDomain)
	if err == sql.ErrNoRows {
		return dberror.ErrNotFound.Msg("repository not found")
	} else if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if repoDomain != domainID {
		log.Ctx(ctx).Info().Str("base_path", d.BasePath).Msg("distribution target is in another domain")
		return ansibleerrors.CrossDomain("repository")
	}
	return nil
}

func mapDistributionError(ctx context.Context, err error, d *models.Distribution) apperrors.Error {
	if pgErr, ok := asPgError(err); ok {
		switch {
		case pgErr.Code == "23505" && pgErr.ConstraintName == "distributions_domain_id_base_path_key":
			log.Ctx(ctx).Info().Str("base_path", d.BasePath).Msg("base path already in use")
			return dberror.ErrAlreadyExists.Msg("base_path already in use in this domain")
		case pgErr.Code == "23505" && pgErr.ConstraintName == "distributions_domain_id_name_key":
			return dberror.ErrAlreadyExists.Msg("distribution already exists")
		case pgErr.Code == "23514" && pgErr.ConstraintName == "distributions_repository_xor_version_check":
			return dberror.ErrInvalidInput.Msg("exactly one of repository or repository_version must be set")
		case pgErr.Code == "23503" && pgErr.ConstraintName == "distributions_version_fkey":
			return dberror.ErrNotFound.Msg("repository version not found")
		}
	}
	log.Ctx(ctx).Error().Err(err).Str("base_path", d.BasePath).Msg("failed to write distribution")
	return dberror.ErrDatabase.Err(err)
}

func (c *catalogDb) CreateDistribution(ctx context.Context, d *models.Distribution) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	if aerr := c.checkDistributionTarget(ctx, domainID, d); aerr != nil {
		return aerr
	}
	d.DomainID = domainID
	err := c.conn().QueryRowContext(ctx, `
		INSERT INTO distributions (domain_id, name, base_path, repository_id, version_repository_id, version_number)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING distribution_id, created_at`,
		domainID, d.Name, d.BasePath, d.RepositoryID, d.VersionRepositoryID, d.VersionNumber,
	).Scan(&d.DistributionID, &d.CreatedAt)
	if err != nil {
		return mapDistributionError(ctx, err, d)
	}
	return nil
}

func (c *catalogDb) getDistribution(ctx context.Context, where string, args ...interface{}) (*models.Distribution, apperrors.Error) {
	d, err := scanDistribution(c.conn().QueryRowContext(ctx, `SELECT `+distributionColumns+` FROM distributions WHERE `+where, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("distribution not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get distribution")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return d, nil
}

func (c *catalogDb) GetDistribution(ctx context.Context, distributionID uuid.UUID) (*models.Distribution, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	return c.getDistribution(ctx, `distribution_id = $1 AND domain_id = $2`, distributionID, domainID)
}

func (c *catalogDb) GetDistributionByBasePath(ctx context.Context, basePath string) (*models.Distribution, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	return c.getDistribution(ctx, `base_path = $1 AND domain_id = $2`, basePath, domainID)
}

func (c *catalogDb) ListDistributions(ctx context.Context) ([]*models.Distribution, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	rows, err := c.conn().QueryContext(ctx, `SELECT `+distributionColumns+` FROM distributions WHERE domain_id = $1 ORDER BY base_path`, domainID)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()
	var out []*models.Distribution
	for rows.Next() {
		d, err := scanDistribution(rows)
		if err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

// UpdateDistribution writes name, base path and target. Callers switch
// targets through SetRepository or SetRepositoryVersion so the other side
// is cleared.
func (c *catalogDb) UpdateDistribution(ctx context.Context, d *models.Distribution) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	if aerr := c.checkDistributionTarget(ctx, domainID, d); aerr != nil {
		return aerr
	}
	result, err := c.conn().ExecContext(ctx, `
		UPDATE distributions SET name = $3, base_path = $4, repository_id = $5,
			version_repository_id = $6, version_number = $7
		WHERE distribution_id = $1 AND domain_id = $2`,
		d.DistributionID, domainID, d.Name, d.BasePath, d.RepositoryID, d.VersionRepositoryID, d.VersionNumber)
	if err != nil {
		return mapDistributionError(ctx, err, d)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("distribution not found")
	}
	return nil
}

func (c *catalogDb) DeleteDistribution(ctx context.Context, distributionID uuid.UUID) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	result, err := c.conn().ExecContext(ctx, `DELETE FROM distributions WHERE distribution_id = $1 AND domain_id = $2`, distributionID, domainID)
	if err != nil {
		return dberror.ErrDatabase.Err(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("distribution not found")
	}
	return nil
}
