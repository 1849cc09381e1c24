package postgresql

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

func (c *catalogDb) CreateDomain(ctx context.Context, d *models.Domain) apperrors.Error {
	query := `
		INSERT INTO domains (name, description)
		VALUES ($1, $2)
		RETURNING domain_id, created_at;
	`
	err := c.conn().QueryRowContext(ctx, query, d.Name, d.Description).Scan(&d.DomainID, &d.CreatedAt)
	if err != nil {
		if pgErr, ok := asPgError(err); ok {
			switch {
			case pgErr.Code == "23505" && pgErr.ConstraintName == "domains_name_key":
				log.Ctx(ctx).Info().Str("domain", d.Name).Msg("domain already exists")
				return dberror.ErrAlreadyExists.Msg("domain already exists")
			case pgErr.Code == "23514" && pgErr.ConstraintName == "domains_name_check":
				log.Ctx(ctx).Info().Str("domain", d.Name).Msg("invalid domain name")
				return dberror.ErrInvalidInput.Msg("invalid domain name")
			}
		}
		log.Ctx(ctx).Error().Err(err).Str("domain", d.Name).Msg("failed to create domain")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (c *catalogDb) getDomain(ctx context.Context, where string, arg interface{}) (*models.Domain, apperrors.Error) {
	query := `SELECT domain_id, name, description, created_at FROM domains WHERE ` + where
	d := &models.Domain{}
	err := c.conn().QueryRowContext(ctx, query, arg).Scan(&d.DomainID, &d.Name, &d.Description, &d.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			log.Ctx(ctx).Info().Interface("domain", arg).Msg("domain not found")
			return nil, dberror.ErrNotFound.Msg("domain not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get domain")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return d, nil
}

func (c *catalogDb) GetDomain(ctx context.Context, domainID uuid.UUID) (*models.Domain, apperrors.Error) {
	return c.getDomain(ctx, "domain_id = $1", domainID)
}

func (c *catalogDb) GetDomainByName(ctx context.Context, name string) (*models.Domain, apperrors.Error) {
	return c.getDomain(ctx, "name = $1", name)
}

func (c *catalogDb) ListDomains(ctx context.Context) ([]*models.Domain, apperrors.Error) {
	rows, err := c.conn().QueryContext(ctx, `SELECT domain_id, name, description, created_at FROM domains ORDER BY name`)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list domains")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()
	var domains []*models.Domain
	for rows.Next() {
		d := &models.Domain{}
		if err := rows.Scan(&d.DomainID, &d.Name, &d.Description, &d.CreatedAt); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		domains = append(domains, d)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return domains, nil
}

// DeleteDomain removes a domain and, through cascades, everything in it.
// The default domain cannot be deleted.
func (c *catalogDb) DeleteDomain(ctx context.Context, name string) apperrors.Error {
	if name == "default" {
		return dberror.ErrInvalidInput.Msg("the default domain cannot be deleted")
	}
	result, err := c.conn().ExecContext(ctx, `DELETE FROM domains WHERE name = $1`, name)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("domain", name).Msg("failed to delete domain")
		return dberror.ErrDatabase.Err(err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return dberror.ErrNotFound.Msg("domain not found")
	}
	return nil
}
