package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
)

/*
                          Table "public.remotes"
        Column        |           Type           | Nullable |      Default
----------------------+--------------------------+----------+-------------------
 remote_id            | uuid                     | not null | gen_random_uuid()
 domain_id            | uuid                     | not null |
 name                 | character varying(128)   | not null |
 remote_type          | character varying(16)    | not null |
 url                  | text                     | not null |
 token                | text                     | not null | ''
 auth_url             | text                     | not null | ''
 proxy_url            | text                     | not null | ''
 proxy_username       | text                     | not null | ''
 proxy_password       | text                     | not null | ''
 requirements_file    | text                     | not null | ''
 sync_dependencies    | boolean                  | not null | true
 signed_only          | boolean                  | not null | false
 policy               | character varying(16)    | not null | 'immediate'
 git_ref              | text                     | not null | ''
 metadata_only        | boolean                  | not null | false
 download_concurrency | integer                  | not null | 0
 created_at           | timestamp with time zone | not null | now()
 updated_at           | timestamp with time zone | not null | now()
Indexes:
    "remotes_pkey" PRIMARY KEY, btree (remote_id)
    "remotes_domain_id_name_key" UNIQUE CONSTRAINT, btree (domain_id, name)
*/

type Remote struct {
	RemoteID            uuid.UUID            `db:"remote_id" json:"id"`
	DomainID            uuid.UUID            `db:"domain_id" json:"-"`
	Name                string               `db:"name" json:"name"`
	Type                catcommon.RemoteType `db:"remote_type" json:"type"`
	URL                 string               `db:"url" json:"url"`
	Token               string               `db:"token" json:"-"`
	AuthURL             string               `db:"auth_url" json:"auth_url,omitempty"`
	ProxyURL            string               `db:"proxy_url" json:"proxy_url,omitempty"`
	ProxyUsername       string               `db:"proxy_username" json:"-"`
	ProxyPassword       string               `db:"proxy_password" json:"-"`
	RequirementsFile    string               `db:"requirements_file" json:"requirements_file,omitempty"`
	SyncDependencies    bool                 `db:"sync_dependencies" json:"sync_dependencies"`
	SignedOnly          bool                 `db:"signed_only" json:"signed_only"`
	Policy              catcommon.Policy     `db:"policy" json:"policy"`
	GitRef              string               `db:"git_ref" json:"git_ref,omitempty"`
	MetadataOnly        bool                 `db:"metadata_only" json:"metadata_only"`
	DownloadConcurrency int                  `db:"download_concurrency" json:"download_concurrency,omitempty"`
	CreatedAt           time.Time            `db:"created_at" json:"created_at"`
	UpdatedAt           time.Time            `db:"updated_at" json:"updated_at"`
}
