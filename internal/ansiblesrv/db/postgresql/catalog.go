package postgresql

import (
	"context"
	"database/sql"
	"sort"
	"strings"

	"github.com/golang/snappy"
	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/lib/pq"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/index"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/versionutil"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	ids "github.com/pulp/pulp-ansible-sub001/internal/common/uuid"
	"github.com/rs/zerolog/log"
)

const collectionVersionColumns = `
	cv.content_id, cv.domain_id, cv.collection_id, cv.namespace, cv.name, cv.version,
	cv.version_major, cv.version_minor, cv.version_patch, cv.version_prerelease, cv.sha256,
	cv.contents, cv.dependencies, cv.description, cv.tags, cv.authors, cv.license,
	cv.homepage, cv.repository, cv.documentation, cv.issues, cv.requires_ansible, cv.files,
	cv.search_vector::text, cv.is_highest, c.created_at,
	coalesce(a.size, (SELECT max(ra.size) FROM remote_artifacts ra WHERE ra.content_id = cv.content_id), 0)`

const collectionVersionFrom = `
	collection_versions cv
	JOIN content c ON c.content_id = cv.content_id
	LEFT JOIN artifacts a ON a.sha256 = cv.sha256`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCollectionVersion(row rowScanner) (*models.CollectionVersion, error) {
	cv := &models.CollectionVersion{}
	var (
		contents, deps         pgtype.JSONB
		tags, authors, license pq.StringArray
		files                  []byte
	)
	err := row.Scan(
		&cv.ContentID, &cv.DomainID, &cv.CollectionID, &cv.Namespace, &cv.Name, &cv.Version,
		&cv.VersionMajor, &cv.VersionMinor, &cv.VersionPatch, &cv.VersionPrerelease, &cv.Sha256,
		&contents, &deps, &cv.Description, &tags, &authors, &license,
		&cv.Homepage, &cv.Repository, &cv.Documentation, &cv.Issues, &cv.RequiresAnsible, &files,
		&cv.SearchVector, &cv.IsHighest, &cv.CreatedAt, &cv.Size,
	)
	if err != nil {
		return nil, err
	}
	if err := contents.AssignTo(&cv.Contents); err != nil {
		return nil, err
	}
	if err := deps.AssignTo(&cv.Dependencies); err != nil {
		return nil, err
	}
	cv.Tags, cv.Authors, cv.License = tags, authors, license
	if len(files) > 0 {
		if cv.Files, err = snappy.Decode(nil, files); err != nil {
			return nil, err
		}
	}
	return cv, nil
}

func scanCollectionVersions(rows *sql.Rows) ([]*models.CollectionVersion, error) {
	defer rows.Close()
	var cvs []*models.CollectionVersion
	for rows.Next() {
		cv, err := scanCollectionVersion(rows)
		if err != nil {
			return nil, err
		}
		cvs = append(cvs, cv)
	}
	return cvs, rows.Err()
}

func textArray(s []string) interface{} {
	if s == nil {
		s = []string{}
	}
	return pq.Array(s)
}

func jsonb(v interface{}) (pgtype.JSONB, error) {
	var j pgtype.JSONB
	err := j.Set(v)
	return j, err
}

// ensureCollection creates the namespace and collection rows if needed and
// returns the collection locked for update. The lock serializes version
// inserts and highest recomputation per collection.
func ensureCollection(ctx context.Context, tx *sql.Tx, domainID uuid.UUID, namespace, name string) (uuid.UUID, error) {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO namespaces (domain_id, name) VALUES ($1, $2)
		ON CONFLICT ON CONSTRAINT namespaces_domain_id_name_key DO NOTHING`,
		domainID, namespace); err != nil {
		return uuid.Nil, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO collections (domain_id, namespace, name) VALUES ($1, $2, $3)
		ON CONFLICT ON CONSTRAINT collections_domain_id_namespace_name_key DO NOTHING`,
		domainID, namespace, name); err != nil {
		return uuid.Nil, err
	}
	var collectionID uuid.UUID
	err := tx.QueryRowContext(ctx, `
		SELECT collection_id FROM collections
		WHERE domain_id = $1 AND namespace = $2 AND name = $3
		FOR UPDATE`, domainID, namespace, name).Scan(&collectionID)
	return collectionID, err
}

func insertContentHeader(ctx context.Context, tx *sql.Tx, domainID uuid.UUID, contentType, artifactSha string) (uuid.UUID, error) {
	contentID := ids.New()
	sha := sql.NullString{String: artifactSha, Valid: artifactSha != ""}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO content (content_id, domain_id, content_type, artifact_sha256)
		VALUES ($1, $2, $3, $4)`, contentID, domainID, contentType, sha)
	return contentID, err
}

func deleteContentHeader(ctx context.Context, tx *sql.Tx, contentID uuid.UUID) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM content WHERE content_id = $1`, contentID)
	return err
}

// recomputeHighest sets is_highest on the semver maximum of the collection
// and clears it everywhere else. Clearing runs first so the partial unique
// index never sees two flagged rows.
func recomputeHighest(ctx context.Context, tx *sql.Tx, collectionID uuid.UUID) error {
	rows, err := tx.QueryContext(ctx, `SELECT content_id, version FROM collection_versions WHERE collection_id = $1`, collectionID)
	if err != nil {
		return err
	}
	var (
		contentIDs []uuid.UUID
		versions   []string
	)
	for rows.Next() {
		var id uuid.UUID
		var v string
		if err := rows.Scan(&id, &v); err != nil {
			rows.Close()
			return err
		}
		contentIDs = append(contentIDs, id)
		versions = append(versions, v)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}
	highest := uuid.Nil
	if i, ok := index.PickHighest(versions); ok {
		highest = contentIDs[i]
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE collection_versions SET is_highest = false
		WHERE collection_id = $1 AND is_highest AND content_id <> $2`, collectionID, highest); err != nil {
		return err
	}
	if highest == uuid.Nil {
		return nil
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE collection_versions SET is_highest = true
		WHERE content_id = $1 AND NOT is_highest`, highest)
	return err
}

func selectCollectionVersion(ctx context.Context, q queryer, where string, args ...interface{}) (*models.CollectionVersion, error) {
	query := `SELECT ` + collectionVersionColumns + ` FROM ` + collectionVersionFrom + ` WHERE ` + where
	return scanCollectionVersion(q.QueryRowContext(ctx, query, args...))
}

// UpsertCollectionVersion inserts cv unless (collection, version) already
// exists. An existing row with the same sha256 is returned untouched; a
// different sha256 fails with DuplicateVersion.
func (c *catalogDb) UpsertCollectionVersion(ctx context.Context, cv *models.CollectionVersion) (*models.CollectionVersion, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	v, err := versionutil.Parse(cv.Version)
	if err != nil {
		return nil, ansibleerrors.ErrInvalidVersion.Msg(err.Error())
	}
	if cv.Sha256 == "" {
		return nil, dberror.ErrInvalidInput.Msg("collection version requires a sha256")
	}
	cv.DomainID = domainID
	cv.VersionMajor, cv.VersionMinor, cv.VersionPatch, cv.VersionPrerelease = v.Major, v.Minor, v.Patch, v.Prerelease

	contents, err := jsonb(nonNilContents(cv.Contents))
	if err != nil {
		return nil, dberror.ErrInvalidInput.Err(err)
	}
	deps, err := jsonb(nonNilDeps(cv.Dependencies))
	if err != nil {
		return nil, dberror.ErrInvalidInput.Err(err)
	}
	var files []byte
	if len(cv.Files) > 0 {
		files = snappy.Encode(nil, cv.Files)
	}

	var result *models.CollectionVersion
	aerr = c.withTx(ctx, func(tx *sql.Tx) apperrors.Error {
		collectionID, err := ensureCollection(ctx, tx, domainID, cv.Namespace, cv.Name)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("collection", cv.FullName()).Msg("failed to create collection")
			return dberror.ErrDatabase.Err(err)
		}
		cv.CollectionID = collectionID

		existing, err := selectCollectionVersion(ctx, tx, `cv.collection_id = $1 AND cv.version = $2`, collectionID, cv.Version)
		if err == nil {
			if existing.Sha256 != cv.Sha256 {
				log.Ctx(ctx).Info().Str("collection", cv.FullName()).Str("version", cv.Version).Msg("version exists with a different artifact")
				return ansibleerrors.DuplicateVersion(cv.FullName(), cv.Version, existing.Sha256)
			}
			result = existing
			return nil
		}
		if err != sql.ErrNoRows {
			log.Ctx(ctx).Error().Err(err).Msg("failed to look up collection version")
			return dberror.ErrDatabase.Err(err)
		}

		contentID, err := insertContentHeader(ctx, tx, domainID, catcommon.ContentTypeCollectionVersion, cv.Sha256)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to insert content")
			return dberror.ErrDatabase.Err(err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO collection_versions (
				content_id, domain_id, collection_id, namespace, name, version,
				version_major, version_minor, version_patch, version_prerelease, sha256,
				contents, dependencies, description, tags, authors, license,
				homepage, repository, documentation, issues, requires_ansible, files)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
			ON CONFLICT ON CONSTRAINT collection_versions_collection_id_version_key DO NOTHING`,
			contentID, domainID, collectionID, cv.Namespace, cv.Name, cv.Version,
			cv.VersionMajor, cv.VersionMinor, cv.VersionPatch, cv.VersionPrerelease, cv.Sha256,
			contents, deps, cv.Description, textArray(cv.Tags), textArray(cv.Authors), textArray(cv.License),
			cv.Homepage, cv.Repository, cv.Documentation, cv.Issues, cv.RequiresAnsible, files,
		)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("collection", cv.FullName()).Msg("failed to insert collection version")
			return dberror.ErrDatabase.Err(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			// lost the race; compare against the winner
			if err := deleteContentHeader(ctx, tx, contentID); err != nil {
				return dberror.ErrDatabase.Err(err)
			}
			winner, err := selectCollectionVersion(ctx, tx, `cv.collection_id = $1 AND cv.version = $2`, collectionID, cv.Version)
			if err != nil {
				return dberror.ErrDatabase.Err(err)
			}
			if winner.Sha256 != cv.Sha256 {
				return ansibleerrors.DuplicateVersion(cv.FullName(), cv.Version, winner.Sha256)
			}
			result = winner
			return nil
		}
		if err := recomputeHighest(ctx, tx, collectionID); err != nil {
			log.Ctx(ctx).Error().Err(err).Str("collection", cv.FullName()).Msg("failed to recompute highest version")
			return dberror.ErrDatabase.Err(err)
		}
		result, err = selectCollectionVersion(ctx, tx, `cv.content_id = $1`, contentID)
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		return nil
	})
	if aerr != nil {
		return nil, aerr
	}
	return result, nil
}

func nonNilContents(c []models.ContentEntry) []models.ContentEntry {
	if c == nil {
		return []models.ContentEntry{}
	}
	return c
}

func nonNilDeps(d map[string]string) map[string]string {
	if d == nil {
		return map[string]string{}
	}
	return d
}

func (c *catalogDb) GetCollectionVersion(ctx context.Context, namespace, name, version string) (*models.CollectionVersion, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	cv, err := selectCollectionVersion(ctx, c.conn(),
		`cv.domain_id = $1 AND cv.namespace = $2 AND cv.name = $3 AND cv.version = $4`,
		domainID, namespace, name, version)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("collection version not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get collection version")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return cv, nil
}

func (c *catalogDb) GetCollectionVersionByID(ctx context.Context, contentID uuid.UUID) (*models.CollectionVersion, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	cv, err := selectCollectionVersion(ctx, c.conn(), `cv.domain_id = $1 AND cv.content_id = $2`, domainID, contentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("collection version not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get collection version")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return cv, nil
}

func (c *catalogDb) ListCollectionVersions(ctx context.Context, namespace, name string) ([]*models.CollectionVersion, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	query := `SELECT ` + collectionVersionColumns + ` FROM ` + collectionVersionFrom + `
		WHERE cv.domain_id = $1 AND cv.namespace = $2 AND cv.name = $3
		ORDER BY cv.version_major DESC, cv.version_minor DESC, cv.version_patch DESC, cv.version`
	rows, err := c.conn().QueryContext(ctx, query, domainID, namespace, name)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list collection versions")
		return nil, dberror.ErrDatabase.Err(err)
	}
	cvs, err := scanCollectionVersions(rows)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	sortVersionsDesc(cvs)
	return cvs, nil
}

// sortVersionsDesc applies semver precedence, which SQL ordering on the
// stored triple cannot express for prereleases.
func sortVersionsDesc(cvs []*models.CollectionVersion) {
	sort.SliceStable(cvs, func(i, j int) bool {
		return versionutil.Compare(cvs[i].Version, cvs[j].Version) > 0
	})
}

func (c *catalogDb) GetCollection(ctx context.Context, namespace, name string) (*models.Collection, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	col := &models.Collection{}
	err := c.conn().QueryRowContext(ctx, `
		SELECT collection_id, domain_id, namespace, name, created_at, updated_at
		FROM collections WHERE domain_id = $1 AND namespace = $2 AND name = $3`,
		domainID, namespace, name).Scan(&col.CollectionID, &col.DomainID, &col.Namespace, &col.Name, &col.CreatedAt, &col.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("collection not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get collection")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return col, nil
}

// RefreshSearchVectors rewrites every row of the domain so the trigger
// recomputes its vector.
func (c *catalogDb) RefreshSearchVectors(ctx context.Context) (int64, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return 0, aerr
	}
	res, err := c.conn().ExecContext(ctx, `UPDATE collection_versions SET namespace = namespace WHERE domain_id = $1`, domainID)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to refresh search vectors")
		return 0, dberror.ErrDatabase.Err(err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (c *catalogDb) GetNamespace(ctx context.Context, name string) (*models.Namespace, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	ns := &models.Namespace{}
	err := c.conn().QueryRowContext(ctx, `
		SELECT namespace_id, domain_id, name, created_at FROM namespaces
		WHERE domain_id = $1 AND name = $2`, domainID, name).Scan(&ns.NamespaceID, &ns.DomainID, &ns.Name, &ns.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("namespace not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to get namespace")
		return nil, dberror.ErrDatabase.Err(err)
	}
	return ns, nil
}

const namespaceMetadataColumns = `content_id, domain_id, namespace, metadata_sha256, company, email,
	description, resources, links, coalesce(avatar_sha256, '')`

func scanNamespaceMetadata(row rowScanner) (*models.NamespaceMetadata, error) {
	md := &models.NamespaceMetadata{}
	var links pgtype.JSONB
	if err := row.Scan(&md.ContentID, &md.DomainID, &md.Namespace, &md.MetadataSha256, &md.Company, &md.Email,
		&md.Description, &md.Resources, &links, &md.AvatarSha256); err != nil {
		return nil, err
	}
	if err := links.AssignTo(&md.Links); err != nil {
		return nil, err
	}
	return md, nil
}

// UpsertNamespaceMetadata stores md keyed by its MetadataSha256. Storing
// the same payload twice returns the first record.
func (c *catalogDb) UpsertNamespaceMetadata(ctx context.Context, md *models.NamespaceMetadata) (*models.NamespaceMetadata, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	if md.MetadataSha256 == "" {
		return nil, dberror.ErrInvalidInput.Msg("namespace metadata requires a digest")
	}
	links := md.Links
	if links == nil {
		links = map[string]string{}
	}
	linksJSON, err := jsonb(links)
	if err != nil {
		return nil, dberror.ErrInvalidInput.Err(err)
	}
	avatar := sql.NullString{String: md.AvatarSha256, Valid: md.AvatarSha256 != ""}

	var result *models.NamespaceMetadata
	aerr = c.withTx(ctx, func(tx *sql.Tx) apperrors.Error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO namespaces (domain_id, name) VALUES ($1, $2)
			ON CONFLICT ON CONSTRAINT namespaces_domain_id_name_key DO NOTHING`, domainID, md.Namespace); err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		selectQuery := `SELECT ` + namespaceMetadataColumns + ` FROM namespace_metadata
			WHERE domain_id = $1 AND namespace = $2 AND metadata_sha256 = $3`
		existing, err := scanNamespaceMetadata(tx.QueryRowContext(ctx, selectQuery, domainID, md.Namespace, md.MetadataSha256))
		if err == nil {
			result = existing
			return nil
		}
		if err != sql.ErrNoRows {
			log.Ctx(ctx).Error().Err(err).Msg("failed to look up namespace metadata")
			return dberror.ErrDatabase.Err(err)
		}
		contentID, err := insertContentHeader(ctx, tx, domainID, catcommon.ContentTypeNamespace, md.AvatarSha256)
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO namespace_metadata (content_id, domain_id, namespace, metadata_sha256, company, email,
				description, resources, links, avatar_sha256)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT ON CONSTRAINT namespace_metadata_domain_ns_sha_key DO NOTHING`,
			contentID, domainID, md.Namespace, md.MetadataSha256, md.Company, md.Email,
			md.Description, md.Resources, linksJSON, avatar)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("namespace", md.Namespace).Msg("failed to insert namespace metadata")
			return dberror.ErrDatabase.Err(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if err := deleteContentHeader(ctx, tx, contentID); err != nil {
				return dberror.ErrDatabase.Err(err)
			}
		}
		result, err = scanNamespaceMetadata(tx.QueryRowContext(ctx, selectQuery, domainID, md.Namespace, md.MetadataSha256))
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		return nil
	})
	if aerr != nil {
		return nil, aerr
	}
	return result, nil
}

func (c *catalogDb) UpsertRole(ctx context.Context, r *models.Role) (*models.Role, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	r.DomainID = domainID
	selectQuery := `
		SELECT r.content_id, r.domain_id, r.namespace, r.name, r.version, coalesce(c.artifact_sha256, ''), c.created_at
		FROM roles r JOIN content c ON c.content_id = r.content_id
		WHERE r.domain_id = $1 AND r.namespace = $2 AND r.name = $3 AND r.version = $4`
	scan := func(row rowScanner) (*models.Role, error) {
		out := &models.Role{}
		err := row.Scan(&out.ContentID, &out.DomainID, &out.Namespace, &out.Name, &out.Version, &out.ArtifactSha256, &out.CreatedAt)
		return out, err
	}
	var result *models.Role
	aerr = c.withTx(ctx, func(tx *sql.Tx) apperrors.Error {
		existing, err := scan(tx.QueryRowContext(ctx, selectQuery, domainID, r.Namespace, r.Name, r.Version))
		if err == nil {
			result = existing
			return nil
		}
		if err != sql.ErrNoRows {
			return dberror.ErrDatabase.Err(err)
		}
		contentID, err := insertContentHeader(ctx, tx, domainID, catcommon.ContentTypeRole, r.ArtifactSha256)
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO roles (content_id, domain_id, namespace, name, version) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT ON CONSTRAINT roles_domain_ns_name_version_key DO NOTHING`,
			contentID, domainID, r.Namespace, r.Name, r.Version)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to insert role")
			return dberror.ErrDatabase.Err(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if err := deleteContentHeader(ctx, tx, contentID); err != nil {
				return dberror.ErrDatabase.Err(err)
			}
		}
		if result, err = scan(tx.QueryRowContext(ctx, selectQuery, domainID, r.Namespace, r.Name, r.Version)); err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		return nil
	})
	if aerr != nil {
		return nil, aerr
	}
	return result, nil
}

func (c *catalogDb) UpsertSignature(ctx context.Context, s *models.SignatureRecord) (*models.SignatureRecord, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	selectQuery := `
		SELECT content_id, domain_id, collection_version_id, digest, data FROM signature_records
		WHERE collection_version_id = $1 AND digest = $2`
	scan := func(row rowScanner) (*models.SignatureRecord, error) {
		out := &models.SignatureRecord{}
		err := row.Scan(&out.ContentID, &out.DomainID, &out.CollectionVersionID, &out.Digest, &out.Data)
		return out, err
	}
	var result *models.SignatureRecord
	aerr = c.withTx(ctx, func(tx *sql.Tx) apperrors.Error {
		var cvDomain uuid.UUID
		err := tx.QueryRowContext(ctx, `SELECT domain_id FROM collection_versions WHERE content_id = $1`, s.CollectionVersionID).Scan(&cvDomain)
		if err == sql.ErrNoRows {
			return dberror.ErrNotFound.Msg("collection version not found")
		} else if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		if cvDomain != domainID {
			return ansibleerrors.CrossDomain("signed collection version")
		}
		existing, err := scan(tx.QueryRowContext(ctx, selectQuery, s.CollectionVersionID, s.Digest))
		if err == nil {
			result = existing
			return nil
		}
		if err != sql.ErrNoRows {
			return dberror.ErrDatabase.Err(err)
		}
		contentID, err := insertContentHeader(ctx, tx, domainID, catcommon.ContentTypeSignature, "")
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO signature_records (content_id, domain_id, collection_version_id, digest, data)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT ON CONSTRAINT signature_records_cv_digest_key DO NOTHING`,
			contentID, domainID, s.CollectionVersionID, s.Digest, s.Data)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to insert signature")
			return dberror.ErrDatabase.Err(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if err := deleteContentHeader(ctx, tx, contentID); err != nil {
				return dberror.ErrDatabase.Err(err)
			}
		}
		if result, err = scan(tx.QueryRowContext(ctx, selectQuery, s.CollectionVersionID, s.Digest)); err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		return nil
	})
	if aerr != nil {
		return nil, aerr
	}
	return result, nil
}

func (c *catalogDb) UpsertDeprecationMarker(ctx context.Context, namespace, name string) (*models.DeprecationMarker, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	selectQuery := `SELECT content_id, domain_id, namespace, name FROM deprecation_markers
		WHERE domain_id = $1 AND namespace = $2 AND name = $3`
	scan := func(row rowScanner) (*models.DeprecationMarker, error) {
		out := &models.DeprecationMarker{}
		err := row.Scan(&out.ContentID, &out.DomainID, &out.Namespace, &out.Name)
		return out, err
	}
	var result *models.DeprecationMarker
	aerr = c.withTx(ctx, func(tx *sql.Tx) apperrors.Error {
		existing, err := scan(tx.QueryRowContext(ctx, selectQuery, domainID, namespace, name))
		if err == nil {
			result = existing
			return nil
		}
		if err != sql.ErrNoRows {
			return dberror.ErrDatabase.Err(err)
		}
		contentID, err := insertContentHeader(ctx, tx, domainID, catcommon.ContentTypeDeprecation, "")
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO deprecation_markers (content_id, domain_id, namespace, name) VALUES ($1, $2, $3, $4)
			ON CONFLICT ON CONSTRAINT deprecation_markers_domain_ns_name_key DO NOTHING`,
			contentID, domainID, namespace, name)
		if err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			if err := deleteContentHeader(ctx, tx, contentID); err != nil {
				return dberror.ErrDatabase.Err(err)
			}
		}
		if result, err = scan(tx.QueryRowContext(ctx, selectQuery, domainID, namespace, name)); err != nil {
			return dberror.ErrDatabase.Err(err)
		}
		return nil
	})
	if aerr != nil {
		return nil, aerr
	}
	return result, nil
}

func (c *catalogDb) GetContent(ctx context.Context, contentID uuid.UUID) (*models.Content, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	ct := &models.Content{}
	err := c.conn().QueryRowContext(ctx, `
		SELECT content_id, domain_id, content_type, coalesce(artifact_sha256, ''), created_at
		FROM content WHERE content_id = $1`, contentID).
		Scan(&ct.ContentID, &ct.DomainID, &ct.ContentType, &ct.ArtifactSha256, &ct.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("content not found")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}
	if ct.DomainID != domainID {
		log.Ctx(ctx).Info().Str("content_id", contentID.String()).Msg("content belongs to another domain")
		return nil, dberror.ErrNotFound.Msg("content not found")
	}
	return ct, nil
}

func (c *catalogDb) CreateArtifact(ctx context.Context, a *models.Artifact) apperrors.Error {
	if len(a.Sha256) != 64 {
		return dberror.ErrInvalidInput.Msg("invalid artifact digest")
	}
	err := c.conn().QueryRowContext(ctx, `
		INSERT INTO artifacts (sha256, size, storage_path) VALUES ($1, $2, $3)
		ON CONFLICT (sha256) DO UPDATE SET sha256 = EXCLUDED.sha256
		RETURNING size, storage_path, created_at`,
		strings.ToLower(a.Sha256), a.Size, a.StoragePath).Scan(&a.Size, &a.StoragePath, &a.CreatedAt)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("sha256", a.Sha256).Msg("failed to record artifact")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (c *catalogDb) GetArtifact(ctx context.Context, sha256 string) (*models.Artifact, apperrors.Error) {
	a := &models.Artifact{}
	err := c.conn().QueryRowContext(ctx, `SELECT sha256, size, storage_path, created_at FROM artifacts WHERE sha256 = $1`, sha256).
		Scan(&a.Sha256, &a.Size, &a.StoragePath, &a.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("artifact not found")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}
	return a, nil
}

func (c *catalogDb) UpsertRemoteArtifact(ctx context.Context, ra *models.RemoteArtifact) apperrors.Error {
	_, err := c.conn().ExecContext(ctx, `
		INSERT INTO remote_artifacts (content_id, remote_id, url, sha256, size) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (content_id, remote_id) DO UPDATE SET url = EXCLUDED.url, sha256 = EXCLUDED.sha256, size = EXCLUDED.size`,
		ra.ContentID, ra.RemoteID, ra.URL, ra.Sha256, ra.Size)
	if err != nil {
		if pgErr, ok := asPgError(err); ok && pgErr.Code == "23503" {
			return dberror.ErrNotFound.Msg("content not found")
		}
		log.Ctx(ctx).Error().Err(err).Msg("failed to record remote artifact")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (c *catalogDb) GetRemoteArtifact(ctx context.Context, contentID uuid.UUID) (*models.RemoteArtifact, apperrors.Error) {
	ra := &models.RemoteArtifact{}
	err := c.conn().QueryRowContext(ctx, `
		SELECT content_id, remote_id, url, sha256, size FROM remote_artifacts
		WHERE content_id = $1 ORDER BY created_at DESC LIMIT 1`, contentID).
		Scan(&ra.ContentID, &ra.RemoteID, &ra.URL, &ra.Sha256, &ra.Size)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("no remote artifact")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}
	return ra, nil
}

func (c *catalogDb) IncrementDownloadCount(ctx context.Context, namespace, name string) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	_, err := c.conn().ExecContext(ctx, `
		INSERT INTO download_counts (domain_id, namespace, name, count) VALUES ($1, $2, $3, 1)
		ON CONFLICT (domain_id, namespace, name) DO UPDATE SET count = download_counts.count + 1`,
		domainID, namespace, name)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to increment download count")
		return dberror.ErrDatabase.Err(err)
	}
	return nil
}

func (c *catalogDb) GetDownloadCount(ctx context.Context, namespace, name string) (int64, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return 0, aerr
	}
	var n int64
	err := c.conn().QueryRowContext(ctx, `
		SELECT count FROM download_counts WHERE domain_id = $1 AND namespace = $2 AND name = $3`,
		domainID, namespace, name).Scan(&n)
	if err != nil && err != sql.ErrNoRows {
		return 0, dberror.ErrDatabase.Err(err)
	}
	return n, nil
}
