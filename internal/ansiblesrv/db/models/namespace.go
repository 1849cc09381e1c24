package models

import (
	"time"

	"github.com/google/uuid"
)

type Namespace struct {
	NamespaceID uuid.UUID `db:"namespace_id"`
	DomainID    uuid.UUID `db:"domain_id"`
	Name        string    `db:"name"`
	CreatedAt   time.Time `db:"created_at"`
}

/*
                 Table "public.namespace_metadata"
     Column      |          Type          | Nullable | Default
-----------------+------------------------+----------+---------
 content_id      | uuid                   | not null |
 domain_id       | uuid                   | not null |
 namespace       | character varying(64)  | not null |
 metadata_sha256 | character(64)          | not null |
 company         | character varying(64)  | not null | ''
 email           | character varying(256) | not null | ''
 description     | character varying(256) | not null | ''
 resources       | text                   | not null | ''
 links           | jsonb                  | not null | '{}'
 avatar_sha256   | character(64)          |          |
Indexes:
    "namespace_metadata_pkey" PRIMARY KEY, btree (content_id)
    "namespace_metadata_domain_ns_sha_key" UNIQUE CONSTRAINT, btree (domain_id, namespace, metadata_sha256)
*/

type NamespaceMetadata struct {
	ContentID      uuid.UUID         `db:"content_id"`
	DomainID       uuid.UUID         `db:"domain_id"`
	Namespace      string            `db:"namespace"`
	MetadataSha256 string            `db:"metadata_sha256"`
	Company        string            `db:"company" json:"company"`
	Email          string            `db:"email" json:"email"`
	Description    string            `db:"description" json:"description"`
	Resources      string            `db:"resources" json:"resources"`
	Links          map[string]string `db:"links" json:"links"`
	AvatarSha256   string            `db:"avatar_sha256" json:"avatar_sha256,omitempty"`
}
