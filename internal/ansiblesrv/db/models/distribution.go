package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

/*
                     Table "public.distributions"
        Column         |           Type           | Nullable |      Default
-----------------------+--------------------------+----------+-------------------
 distribution_id       | uuid                     | not null | gen_random_uuid()
 domain_id             | uuid                     | not null |
 name                  | character varying(128)   | not null |
 base_path             | character varying(256)   | not null |
 repository_id         | uuid                     |          |
 version_repository_id | uuid                     |          |
 version_number        | bigint                   |          |
 created_at            | timestamp with time zone | not null | now()
Indexes:
    "distributions_pkey" PRIMARY KEY, btree (distribution_id)
    "distributions_domain_id_base_path_key" UNIQUE CONSTRAINT, btree (domain_id, base_path)
    "distributions_domain_id_name_key" UNIQUE CONSTRAINT, btree (domain_id, name)
Check constraints:
    "distributions_repository_xor_version_check"
*/

// Distribution serves either the latest version of RepositoryID or the
// pinned version (VersionRepositoryID, VersionNumber). Exactly one is set.
type Distribution struct {
	DistributionID      uuid.UUID     `db:"distribution_id"`
	DomainID            uuid.UUID     `db:"domain_id"`
	Name                string        `db:"name"`
	BasePath            string        `db:"base_path"`
	RepositoryID        uuid.NullUUID `db:"repository_id"`
	VersionRepositoryID uuid.NullUUID `db:"version_repository_id"`
	VersionNumber       sql.NullInt64 `db:"version_number"`
	CreatedAt           time.Time     `db:"created_at"`
}

// SetRepository points d at the latest version of repo and clears any pin.
func (d *Distribution) SetRepository(repo uuid.UUID) {
	d.RepositoryID = uuid.NullUUID{UUID: repo, Valid: true}
	d.VersionRepositoryID = uuid.NullUUID{}
	d.VersionNumber = sql.NullInt64{}
}

// SetRepositoryVersion pins d to one version and clears the repository.
func (d *Distribution) SetRepositoryVersion(repo uuid.UUID, number int64) {
	d.RepositoryID = uuid.NullUUID{}
	d.VersionRepositoryID = uuid.NullUUID{UUID: repo, Valid: true}
	d.VersionNumber = sql.NullInt64{Int64: number, Valid: true}
}

// Valid reports whether exactly one of repository or repository version is set.
func (d *Distribution) Valid() bool {
	pinned := d.VersionRepositoryID.Valid && d.VersionNumber.Valid
	if d.VersionRepositoryID.Valid != d.VersionNumber.Valid {
		return false
	}
	return d.RepositoryID.Valid != pinned
}

// TargetRepository returns the repository whose content d serves.
func (d *Distribution) TargetRepository() uuid.UUID {
	if d.RepositoryID.Valid {
		return d.RepositoryID.UUID
	}
	return d.VersionRepositoryID.UUID
}
