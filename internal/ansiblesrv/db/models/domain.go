package models

import (
	"time"

	"github.com/google/uuid"
)

/*
                    Table "public.domains"
   Column    |           Type           | Nullable |      Default
-------------+--------------------------+----------+-------------------
 domain_id   | uuid                     | not null | gen_random_uuid()
 name        | character varying(128)   | not null |
 description | text                     | not null | ''
 created_at  | timestamp with time zone | not null | now()
Indexes:
    "domains_pkey" PRIMARY KEY, btree (domain_id)
    "domains_name_key" UNIQUE CONSTRAINT, btree (name)
Check constraints:
    "domains_name_check" CHECK (name ~ '^[A-Za-z0-9_-]+$')
*/

type Domain struct {
	DomainID    uuid.UUID `db:"domain_id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
