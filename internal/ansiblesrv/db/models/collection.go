package models

import (
	"time"

	"github.com/google/uuid"
)

/*
                  Table "public.collections"
    Column     |           Type           | Nullable |      Default
---------------+--------------------------+----------+-------------------
 collection_id | uuid                     | not null | gen_random_uuid()
 domain_id     | uuid                     | not null |
 namespace     | character varying(64)    | not null |
 name          | character varying(64)    | not null |
 created_at    | timestamp with time zone | not null | now()
 updated_at    | timestamp with time zone | not null | now()
Indexes:
    "collections_pkey" PRIMARY KEY, btree (collection_id)
    "collections_domain_id_namespace_name_key" UNIQUE CONSTRAINT, btree (domain_id, namespace, name)
*/

type Collection struct {
	CollectionID uuid.UUID `db:"collection_id"`
	DomainID     uuid.UUID `db:"domain_id"`
	Namespace    string    `db:"namespace"`
	Name         string    `db:"name"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

// ContentEntry is one element of a collection version's contents list.
type ContentEntry struct {
	Name        string `json:"name"`
	ContentType string `json:"content_type"`
	Description string `json:"description,omitempty"`
}

/*
                       Table "public.collection_versions"
       Column       |           Type           | Nullable |   Default
--------------------+--------------------------+----------+--------------
 content_id         | uuid                     | not null |
 domain_id          | uuid                     | not null |
 collection_id      | uuid                     | not null |
 namespace          | character varying(64)    | not null |
 name               | character varying(64)    | not null |
 version            | character varying(128)   | not null |
 version_major      | bigint                   | not null |
 version_minor      | bigint                   | not null |
 version_patch      | bigint                   | not null |
 version_prerelease | character varying(128)   | not null | ''
 sha256             | character(64)            | not null |
 contents           | jsonb                    | not null | '[]'
 dependencies       | jsonb                    | not null | '{}'
 description        | text                     | not null | ''
 tags               | text[]                   | not null | '{}'
 authors            | text[]                   | not null | '{}'
 license            | text[]                   | not null | '{}'
 homepage           | text                     | not null | ''
 repository         | text                     | not null | ''
 documentation      | text                     | not null | ''
 issues             | text                     | not null | ''
 requires_ansible   | character varying(255)   | not null | ''
 files              | bytea                    |          |
 search_vector      | tsvector                 | not null | ''::tsvector
 is_highest         | boolean                  | not null | false
Indexes:
    "collection_versions_pkey" PRIMARY KEY, btree (content_id)
    "collection_versions_collection_id_version_key" UNIQUE CONSTRAINT, btree (collection_id, version)
    "collection_versions_one_highest_idx" UNIQUE, btree (collection_id) WHERE is_highest
    "collection_versions_search_idx" gin (search_vector)
Triggers:
    collection_versions_search_vector_trigger BEFORE INSERT OR UPDATE ON collection_versions
*/

type CollectionVersion struct {
	ContentID         uuid.UUID         `db:"content_id"`
	DomainID          uuid.UUID         `db:"domain_id"`
	CollectionID      uuid.UUID         `db:"collection_id"`
	Namespace         string            `db:"namespace"`
	Name              string            `db:"name"`
	Version           string            `db:"version"`
	VersionMajor      int64             `db:"version_major"`
	VersionMinor      int64             `db:"version_minor"`
	VersionPatch      int64             `db:"version_patch"`
	VersionPrerelease string            `db:"version_prerelease"`
	Sha256            string            `db:"sha256"`
	Size              int64             `db:"-"`
	Contents          []ContentEntry    `db:"contents"`
	Dependencies      map[string]string `db:"dependencies"`
	Description       string            `db:"description"`
	Tags              []string          `db:"tags"`
	Authors           []string          `db:"authors"`
	License           []string          `db:"license"`
	Homepage          string            `db:"homepage"`
	Repository        string            `db:"repository"`
	Documentation     string            `db:"documentation"`
	Issues            string            `db:"issues"`
	RequiresAnsible   string            `db:"requires_ansible"`
	Files             []byte            `db:"files"`
	SearchVector      string            `db:"search_vector"`
	IsHighest         bool              `db:"is_highest"`
	CreatedAt         time.Time         `db:"-"`
}

// FullName returns "<namespace>.<name>".
func (cv *CollectionVersion) FullName() string {
	return cv.Namespace + "." + cv.Name
}

// CollectionVersionFilter narrows collection version listings. Zero values
// do not filter.
type CollectionVersionFilter struct {
	Namespace    string
	Name         string
	Version      string
	Keywords     string
	Tags         []string
	HighestOnly  bool
	Deprecated   *bool
	RepositoryID uuid.UUID
}

// CollectionSummary is a collection as seen from one repository version:
// the highest of its versions in that version, plus per-collection flags.
type CollectionSummary struct {
	Collection
	Highest       *CollectionVersion
	VersionCount  int
	Deprecated    bool
	DownloadCount int64
}
