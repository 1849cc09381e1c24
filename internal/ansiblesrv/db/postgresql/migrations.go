package postgresql

// migrations are applied in order; the index of each entry plus one is its
// schema version.
var migrations = []string{
	migration1,
	migration2,
}

const migration1 = `
CREATE TABLE IF NOT EXISTS domains (
	domain_id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	name varchar(128) NOT NULL UNIQUE CHECK (name ~ '^[A-Za-z0-9_-]+$'),
	description text NOT NULL DEFAULT '',
	created_at timestamptz NOT NULL DEFAULT now()
);

INSERT INTO domains (name, description) VALUES ('default', 'default domain')
ON CONFLICT (name) DO NOTHING;

CREATE TABLE IF NOT EXISTS artifacts (
	sha256 char(64) PRIMARY KEY,
	size bigint NOT NULL CHECK (size >= 0),
	storage_path text NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now()
);

--- content is the common header of every content unit; the payload lives
--- in one table per content type keyed by content_id.
CREATE TABLE IF NOT EXISTS content (
	content_id uuid PRIMARY KEY,
	domain_id uuid NOT NULL REFERENCES domains(domain_id) ON DELETE CASCADE,
	content_type varchar(64) NOT NULL,
	artifact_sha256 char(64),
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS content_artifact_sha256_idx ON content (artifact_sha256);
CREATE INDEX IF NOT EXISTS content_domain_type_idx ON content (domain_id, content_type);

CREATE TABLE IF NOT EXISTS namespaces (
	namespace_id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	domain_id uuid NOT NULL REFERENCES domains(domain_id) ON DELETE CASCADE,
	name varchar(64) NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT namespaces_domain_id_name_key UNIQUE (domain_id, name)
);

CREATE TABLE IF NOT EXISTS namespace_metadata (
	content_id uuid PRIMARY KEY REFERENCES content(content_id) ON DELETE CASCADE,
	domain_id uuid NOT NULL,
	namespace varchar(64) NOT NULL,
	metadata_sha256 char(64) NOT NULL,
	company varchar(64) NOT NULL DEFAULT '',
	email varchar(256) NOT NULL DEFAULT '',
	description varchar(256) NOT NULL DEFAULT '',
	resources text NOT NULL DEFAULT '',
	links jsonb NOT NULL DEFAULT '{}',
	avatar_sha256 char(64),
	CONSTRAINT namespace_metadata_domain_ns_sha_key UNIQUE (domain_id, namespace, metadata_sha256)
);

CREATE TABLE IF NOT EXISTS collections (
	collection_id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	domain_id uuid NOT NULL REFERENCES domains(domain_id) ON DELETE CASCADE,
	namespace varchar(64) NOT NULL,
	name varchar(64) NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT collections_domain_id_namespace_name_key UNIQUE (domain_id, namespace, name)
);

CREATE TABLE IF NOT EXISTS collection_versions (
	content_id uuid PRIMARY KEY REFERENCES content(content_id) ON DELETE CASCADE,
	domain_id uuid NOT NULL,
	collection_id uuid NOT NULL REFERENCES collections(collection_id) ON DELETE CASCADE,
	namespace varchar(64) NOT NULL,
	name varchar(64) NOT NULL,
	version varchar(128) NOT NULL,
	version_major bigint NOT NULL,
	version_minor bigint NOT NULL,
	version_patch bigint NOT NULL,
	version_prerelease varchar(128) NOT NULL DEFAULT '',
	sha256 char(64) NOT NULL,
	contents jsonb NOT NULL DEFAULT '[]',
	dependencies jsonb NOT NULL DEFAULT '{}',
	description text NOT NULL DEFAULT '',
	tags text[] NOT NULL DEFAULT '{}',
	authors text[] NOT NULL DEFAULT '{}',
	license text[] NOT NULL DEFAULT '{}',
	homepage text NOT NULL DEFAULT '',
	repository text NOT NULL DEFAULT '',
	documentation text NOT NULL DEFAULT '',
	issues text NOT NULL DEFAULT '',
	requires_ansible varchar(255) NOT NULL DEFAULT '',
	files bytea,
	search_vector tsvector NOT NULL DEFAULT ''::tsvector,
	is_highest boolean NOT NULL DEFAULT false,
	CONSTRAINT collection_versions_collection_id_version_key UNIQUE (collection_id, version)
);
CREATE UNIQUE INDEX IF NOT EXISTS collection_versions_one_highest_idx
	ON collection_versions (collection_id) WHERE is_highest;
CREATE INDEX IF NOT EXISTS collection_versions_search_idx
	ON collection_versions USING gin (search_vector);
CREATE INDEX IF NOT EXISTS collection_versions_domain_ns_name_idx
	ON collection_versions (domain_id, namespace, name);

CREATE OR REPLACE FUNCTION collection_versions_search_vector_update() RETURNS trigger AS $$
BEGIN
	NEW.search_vector :=
		setweight(to_tsvector('simple', coalesce(NEW.namespace, '')), 'A') ||
		setweight(to_tsvector('simple', coalesce(NEW.name, '')), 'A') ||
		setweight(to_tsvector('simple', coalesce(array_to_string(NEW.tags, ' '), '')), 'B') ||
		setweight(to_tsvector('simple', coalesce((
			SELECT string_agg(elem->>'name', ' ')
			FROM jsonb_array_elements(NEW.contents) AS elem
		), '')), 'C') ||
		setweight(to_tsvector('simple', coalesce(NEW.description, '')), 'D');
	RETURN NEW;
END
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS collection_versions_search_vector_trigger ON collection_versions;
CREATE TRIGGER collection_versions_search_vector_trigger
	BEFORE INSERT OR UPDATE ON collection_versions
	FOR EACH ROW EXECUTE FUNCTION collection_versions_search_vector_update();

UPDATE collection_versions SET namespace = namespace;

CREATE TABLE IF NOT EXISTS roles (
	content_id uuid PRIMARY KEY REFERENCES content(content_id) ON DELETE CASCADE,
	domain_id uuid NOT NULL,
	namespace varchar(64) NOT NULL,
	name varchar(64) NOT NULL,
	version varchar(128) NOT NULL,
	CONSTRAINT roles_domain_ns_name_version_key UNIQUE (domain_id, namespace, name, version)
);

CREATE TABLE IF NOT EXISTS deprecation_markers (
	content_id uuid PRIMARY KEY REFERENCES content(content_id) ON DELETE CASCADE,
	domain_id uuid NOT NULL,
	namespace varchar(64) NOT NULL,
	name varchar(64) NOT NULL,
	CONSTRAINT deprecation_markers_domain_ns_name_key UNIQUE (domain_id, namespace, name)
);

CREATE TABLE IF NOT EXISTS signature_records (
	content_id uuid PRIMARY KEY REFERENCES content(content_id) ON DELETE CASCADE,
	domain_id uuid NOT NULL,
	collection_version_id uuid NOT NULL REFERENCES collection_versions(content_id) ON DELETE CASCADE,
	digest char(64) NOT NULL,
	data bytea NOT NULL,
	CONSTRAINT signature_records_cv_digest_key UNIQUE (collection_version_id, digest)
);

CREATE TABLE IF NOT EXISTS remote_artifacts (
	content_id uuid NOT NULL REFERENCES content(content_id) ON DELETE CASCADE,
	remote_id uuid NOT NULL,
	url text NOT NULL,
	sha256 char(64) NOT NULL,
	size bigint NOT NULL DEFAULT 0,
	created_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (content_id, remote_id)
);

CREATE TABLE IF NOT EXISTS download_counts (
	domain_id uuid NOT NULL REFERENCES domains(domain_id) ON DELETE CASCADE,
	namespace varchar(64) NOT NULL,
	name varchar(64) NOT NULL,
	count bigint NOT NULL DEFAULT 0,
	PRIMARY KEY (domain_id, namespace, name)
);

CREATE TABLE IF NOT EXISTS remotes (
	remote_id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	domain_id uuid NOT NULL REFERENCES domains(domain_id) ON DELETE CASCADE,
	name varchar(128) NOT NULL,
	remote_type varchar(16) NOT NULL CHECK (remote_type IN ('collection', 'role', 'git')),
	url text NOT NULL,
	token text NOT NULL DEFAULT '',
	auth_url text NOT NULL DEFAULT '',
	proxy_url text NOT NULL DEFAULT '',
	proxy_username text NOT NULL DEFAULT '',
	proxy_password text NOT NULL DEFAULT '',
	requirements_file text NOT NULL DEFAULT '',
	sync_dependencies boolean NOT NULL DEFAULT true,
	signed_only boolean NOT NULL DEFAULT false,
	policy varchar(16) NOT NULL DEFAULT 'immediate' CHECK (policy IN ('immediate', 'on_demand', 'streamed')),
	git_ref text NOT NULL DEFAULT '',
	metadata_only boolean NOT NULL DEFAULT false,
	download_concurrency integer NOT NULL DEFAULT 0,
	created_at timestamptz NOT NULL DEFAULT now(),
	updated_at timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT remotes_domain_id_name_key UNIQUE (domain_id, name)
);

CREATE TABLE IF NOT EXISTS repositories (
	repository_id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	domain_id uuid NOT NULL REFERENCES domains(domain_id) ON DELETE CASCADE,
	name varchar(128) NOT NULL,
	description text NOT NULL DEFAULT '',
	latest_version_number bigint NOT NULL DEFAULT 0,
	autopublish boolean NOT NULL DEFAULT false,
	keyring text NOT NULL DEFAULT '',
	remote_id uuid REFERENCES remotes(remote_id) ON DELETE SET NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT repositories_domain_id_name_key UNIQUE (domain_id, name)
);

CREATE TABLE IF NOT EXISTS repository_versions (
	repository_id uuid NOT NULL REFERENCES repositories(repository_id) ON DELETE CASCADE,
	number bigint NOT NULL CHECK (number >= 0),
	complete boolean NOT NULL DEFAULT false,
	created_at timestamptz NOT NULL DEFAULT now(),
	PRIMARY KEY (repository_id, number)
);
CREATE UNIQUE INDEX IF NOT EXISTS repository_versions_one_draft_idx
	ON repository_versions (repository_id) WHERE NOT complete;

--- membership interval [version_added, version_removed)
CREATE TABLE IF NOT EXISTS repository_content (
	repository_id uuid NOT NULL REFERENCES repositories(repository_id) ON DELETE CASCADE,
	content_id uuid NOT NULL REFERENCES content(content_id) ON DELETE CASCADE,
	version_added bigint NOT NULL,
	version_removed bigint,
	CHECK (version_removed IS NULL OR version_removed > version_added)
);
CREATE INDEX IF NOT EXISTS repository_content_membership_idx
	ON repository_content (repository_id, content_id, version_added, version_removed);
CREATE UNIQUE INDEX IF NOT EXISTS repository_content_one_open_idx
	ON repository_content (repository_id, content_id) WHERE version_removed IS NULL;

CREATE TABLE IF NOT EXISTS publications (
	publication_id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	repository_id uuid NOT NULL,
	version_number bigint NOT NULL,
	created_at timestamptz NOT NULL DEFAULT now(),
	FOREIGN KEY (repository_id, version_number) REFERENCES repository_versions(repository_id, number) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS repository_sync_state (
	repository_id uuid PRIMARY KEY REFERENCES repositories(repository_id) ON DELETE CASCADE,
	remote_id uuid NOT NULL,
	remote_url text NOT NULL,
	credentials_sha256 char(64) NOT NULL,
	plan_sha256 char(64) NOT NULL,
	upstream_last_modified timestamptz,
	version_number bigint NOT NULL,
	synced_at timestamptz NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS distributions (
	distribution_id uuid PRIMARY KEY DEFAULT gen_random_uuid(),
	domain_id uuid NOT NULL REFERENCES domains(domain_id) ON DELETE CASCADE,
	name varchar(128) NOT NULL,
	base_path varchar(256) NOT NULL,
	repository_id uuid REFERENCES repositories(repository_id),
	version_repository_id uuid,
	version_number bigint,
	created_at timestamptz NOT NULL DEFAULT now(),
	CONSTRAINT distributions_domain_id_base_path_key UNIQUE (domain_id, base_path),
	CONSTRAINT distributions_domain_id_name_key UNIQUE (domain_id, name),
	CONSTRAINT distributions_repository_xor_version_check CHECK (
		(repository_id IS NULL) <> (version_repository_id IS NULL)
		AND (version_repository_id IS NULL) = (version_number IS NULL)
	),
	CONSTRAINT distributions_version_fkey FOREIGN KEY (version_repository_id, version_number)
		REFERENCES repository_versions(repository_id, number)
);

CREATE TABLE IF NOT EXISTS cross_repo_collection_index (
	domain_id uuid NOT NULL,
	repository_id uuid NOT NULL REFERENCES repositories(repository_id) ON DELETE CASCADE,
	collection_version_id uuid NOT NULL REFERENCES collection_versions(content_id) ON DELETE CASCADE,
	collection_id uuid NOT NULL,
	namespace varchar(64) NOT NULL,
	name varchar(64) NOT NULL,
	version varchar(128) NOT NULL,
	is_highest boolean NOT NULL DEFAULT false,
	is_deprecated boolean NOT NULL DEFAULT false,
	PRIMARY KEY (repository_id, collection_version_id)
);
CREATE INDEX IF NOT EXISTS cross_repo_collection_index_domain_idx
	ON cross_repo_collection_index (domain_id, namespace, name);

CREATE TABLE IF NOT EXISTS tasks (
	task_id uuid PRIMARY KEY,
	domain_id uuid NOT NULL REFERENCES domains(domain_id) ON DELETE CASCADE,
	name varchar(128) NOT NULL,
	state varchar(16) NOT NULL,
	logging_cid varchar(32) NOT NULL DEFAULT '',
	repository_id uuid,
	remote_id uuid,
	progress jsonb NOT NULL DEFAULT '[]',
	error jsonb,
	created_version bigint,
	created_at timestamptz NOT NULL DEFAULT now(),
	started_at timestamptz,
	finished_at timestamptz
);
CREATE INDEX IF NOT EXISTS tasks_domain_created_idx ON tasks (domain_id, created_at DESC);
`

// migration2 keeps collections.updated_at current when versions are added.
const migration2 = `
CREATE OR REPLACE FUNCTION collections_touch() RETURNS trigger AS $$
BEGIN
	UPDATE collections SET updated_at = now() WHERE collection_id = NEW.collection_id;
	RETURN NEW;
END
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS collection_versions_touch_collection ON collection_versions;
CREATE TRIGGER collection_versions_touch_collection
	AFTER INSERT ON collection_versions
	FOR EACH ROW EXECUTE FUNCTION collections_touch();
`
