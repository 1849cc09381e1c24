package models

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

/*
                       Table "public.repositories"
        Column         |           Type           | Nullable |      Default
-----------------------+--------------------------+----------+-------------------
 repository_id         | uuid                     | not null | gen_random_uuid()
 domain_id             | uuid                     | not null |
 name                  | character varying(128)   | not null |
 description           | text                     | not null | ''
 latest_version_number | bigint                   | not null | 0
 autopublish           | boolean                  | not null | false
 keyring               | text                     | not null | ''
 remote_id             | uuid                     |          |
 created_at            | timestamp with time zone | not null | now()
Indexes:
    "repositories_pkey" PRIMARY KEY, btree (repository_id)
    "repositories_domain_id_name_key" UNIQUE CONSTRAINT, btree (domain_id, name)
*/

type Repository struct {
	RepositoryID        uuid.UUID     `db:"repository_id" json:"id"`
	DomainID            uuid.UUID     `db:"domain_id" json:"-"`
	Name                string        `db:"name" json:"name"`
	Description         string        `db:"description" json:"description"`
	LatestVersionNumber int64         `db:"latest_version_number" json:"latest_version"`
	Autopublish         bool          `db:"autopublish" json:"autopublish"`
	Keyring             string        `db:"keyring" json:"keyring,omitempty"`
	RemoteID            uuid.NullUUID `db:"remote_id" json:"remote,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
}

/*
             Table "public.repository_versions"
    Column     |           Type           | Nullable | Default
---------------+--------------------------+----------+---------
 repository_id | uuid                     | not null |
 number        | bigint                   | not null |
 complete      | boolean                  | not null | false
 created_at    | timestamp with time zone | not null | now()
Indexes:
    "repository_versions_pkey" PRIMARY KEY, btree (repository_id, number)
    "repository_versions_one_draft_idx" UNIQUE, btree (repository_id) WHERE NOT complete
*/

type RepositoryVersion struct {
	RepositoryID uuid.UUID `db:"repository_id" json:"repository"`
	Number       int64     `db:"number" json:"number"`
	Complete     bool      `db:"complete" json:"complete"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

/*
         Table "public.repository_content"
     Column      |  Type  | Nullable | Default
-----------------+--------+----------+---------
 repository_id   | uuid   | not null |
 content_id      | uuid   | not null |
 version_added   | bigint | not null |
 version_removed | bigint |          |
Indexes:
    "repository_content_membership_idx" btree (repository_id, content_id, version_added, version_removed)
    "repository_content_one_open_idx" UNIQUE, btree (repository_id, content_id) WHERE version_removed IS NULL
*/

// RepositoryContent is a membership edge valid over [VersionAdded, VersionRemoved).
type RepositoryContent struct {
	RepositoryID   uuid.UUID     `db:"repository_id"`
	ContentID      uuid.UUID     `db:"content_id"`
	VersionAdded   int64         `db:"version_added"`
	VersionRemoved sql.NullInt64 `db:"version_removed"`
}

// InVersion reports whether the edge places its content in version n.
func (rc *RepositoryContent) InVersion(n int64) bool {
	if rc.VersionAdded > n {
		return false
	}
	return !rc.VersionRemoved.Valid || rc.VersionRemoved.Int64 > n
}

type Publication struct {
	PublicationID uuid.UUID `db:"publication_id" json:"id"`
	RepositoryID  uuid.UUID `db:"repository_id" json:"repository"`
	VersionNumber int64     `db:"version_number" json:"version"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// SyncState is what the last successful sync of a repository saw. Optimized
// syncs compare against it.
type SyncState struct {
	RepositoryID         uuid.UUID    `db:"repository_id"`
	RemoteID             uuid.UUID    `db:"remote_id"`
	RemoteURL            string       `db:"remote_url"`
	CredentialsSha256    string       `db:"credentials_sha256"`
	PlanSha256           string       `db:"plan_sha256"`
	UpstreamLastModified sql.NullTime `db:"upstream_last_modified"`
	VersionNumber        int64        `db:"version_number"`
	SyncedAt             time.Time    `db:"synced_at"`
}

// VersionChanges is the membership delta a commit applied.
type VersionChanges struct {
	Added   []uuid.UUID
	Removed []uuid.UUID
}

/*
              Table "public.cross_repo_collection_index"
        Column         |          Type          | Nullable | Default
-----------------------+------------------------+----------+---------
 domain_id             | uuid                   | not null |
 repository_id         | uuid                   | not null |
 collection_version_id | uuid                   | not null |
 collection_id         | uuid                   | not null |
 namespace             | character varying(64)  | not null |
 name                  | character varying(64)  | not null |
 version               | character varying(128) | not null |
 is_highest            | boolean                | not null | false
 is_deprecated         | boolean                | not null | false
Indexes:
    "cross_repo_collection_index_pkey" PRIMARY KEY, btree (repository_id, collection_version_id)
*/

type CrossRepoEntry struct {
	DomainID            uuid.UUID `db:"domain_id" json:"-"`
	RepositoryID        uuid.UUID `db:"repository_id" json:"repository"`
	RepositoryName      string    `db:"-" json:"repository_name"`
	CollectionVersionID uuid.UUID `db:"collection_version_id" json:"collection_version"`
	CollectionID        uuid.UUID `db:"collection_id" json:"collection"`
	Namespace           string    `db:"namespace" json:"namespace"`
	Name                string    `db:"name" json:"name"`
	Version             string    `db:"version" json:"version"`
	IsHighest           bool      `db:"is_highest" json:"is_highest"`
	IsDeprecated        bool      `db:"is_deprecated" json:"is_deprecated"`
}

type CrossRepoFilter struct {
	Namespace    string
	Name         string
	Keywords     string
	RepositoryID uuid.UUID
	HighestOnly  bool
	Deprecated   *bool
}
