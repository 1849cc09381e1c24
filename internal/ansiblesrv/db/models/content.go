package models

import (
	"time"

	"github.com/google/uuid"
)

/*
                          Table "public.content"
     Column      |           Type           | Nullable |      Default
-----------------+--------------------------+----------+-------------------
 content_id      | uuid                     | not null |
 domain_id       | uuid                     | not null |
 content_type    | character varying(64)    | not null |
 artifact_sha256 | character(64)            |          |
 created_at      | timestamp with time zone | not null | now()
Indexes:
    "content_pkey" PRIMARY KEY, btree (content_id)
    "content_artifact_sha256_idx" btree (artifact_sha256)
    "content_domain_type_idx" btree (domain_id, content_type)
*/

// Content is the header shared by every content unit. The payload lives in
// the table named by ContentType.
type Content struct {
	ContentID      uuid.UUID `db:"content_id"`
	DomainID       uuid.UUID `db:"domain_id"`
	ContentType    string    `db:"content_type"`
	ArtifactSha256 string    `db:"artifact_sha256"`
	CreatedAt      time.Time `db:"created_at"`
}

/*
                     Table "public.artifacts"
    Column    |           Type           | Nullable | Default
--------------+--------------------------+----------+---------
 sha256       | character(64)            | not null |
 size         | bigint                   | not null |
 storage_path | text                     | not null |
 created_at   | timestamp with time zone | not null | now()
Indexes:
    "artifacts_pkey" PRIMARY KEY, btree (sha256)
*/

type Artifact struct {
	Sha256      string    `db:"sha256"`
	Size        int64     `db:"size"`
	StoragePath string    `db:"storage_path"`
	CreatedAt   time.Time `db:"created_at"`
}

// RemoteArtifact records where content synced with a deferred policy can
// be fetched from.
type RemoteArtifact struct {
	ContentID uuid.UUID `db:"content_id"`
	RemoteID  uuid.UUID `db:"remote_id"`
	URL       string    `db:"url"`
	Sha256    string    `db:"sha256"`
	Size      int64     `db:"size"`
}

type Role struct {
	ContentID      uuid.UUID `db:"content_id"`
	DomainID       uuid.UUID `db:"domain_id"`
	Namespace      string    `db:"namespace"`
	Name           string    `db:"name"`
	Version        string    `db:"version"`
	ArtifactSha256 string    `db:"-"`
	CreatedAt      time.Time `db:"-"`
}

type SignatureRecord struct {
	ContentID           uuid.UUID `db:"content_id"`
	DomainID            uuid.UUID `db:"domain_id"`
	CollectionVersionID uuid.UUID `db:"collection_version_id"`
	Digest              string    `db:"digest"`
	Data                []byte    `db:"data"`
}

type DeprecationMarker struct {
	ContentID uuid.UUID `db:"content_id"`
	DomainID  uuid.UUID `db:"domain_id"`
	Namespace string    `db:"namespace"`
	Name      string    `db:"name"`
}

type DownloadCount struct {
	DomainID  uuid.UUID `db:"domain_id"`
	Namespace string    `db:"namespace"`
	Name      string    `db:"name"`
	Count     int64     `db:"count"`
}
