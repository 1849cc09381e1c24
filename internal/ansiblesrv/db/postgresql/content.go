package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/index"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

// memberOf is the version membership predicate as a semi-join:
// version_added <= n AND (version_removed IS NULL OR version_removed > n).
func memberOf(contentCol, repoParam, numberParam string) string {
	return `EXISTS (SELECT 1 FROM repository_content rc
		WHERE rc.repository_id = ` + repoParam + ` AND rc.content_id = ` + contentCol + `
		  AND rc.version_added <= ` + numberParam + `
		  AND (rc.version_removed IS NULL OR rc.version_removed > ` + numberParam + `))`
}

// whereBuilder accumulates numbered placeholders.
type whereBuilder struct {
	clauses []string
	args    []interface{}
}

func (w *whereBuilder) arg(v interface{}) string {
	w.args = append(w.args, v)
	return fmt.Sprintf("$%d", len(w.args))
}

func (w *whereBuilder) add(clause string) {
	w.clauses = append(w.clauses, clause)
}

func (w *whereBuilder) String() string {
	return strings.Join(w.clauses, " AND ")
}

func (c *catalogDb) ContentIn(ctx context.Context, repoID uuid.UUID, number int64, contentType string) ([]*models.Content, apperrors.Error) {
	if _, aerr := c.repositoryDomain(ctx, c.conn(), repoID); aerr != nil {
		return nil, aerr
	}
	w := &whereBuilder{}
	repo, n := w.arg(repoID), w.arg(number)
	w.add(memberOf("c.content_id", repo, n))
	if contentType != "" {
		w.add("c.content_type = " + w.arg(contentType))
	}
	rows, err := c.conn().QueryContext(ctx, `
		SELECT c.content_id, c.domain_id, c.content_type, coalesce(c.artifact_sha256, ''), c.created_at
		FROM content c WHERE `+w.String()+` ORDER BY c.created_at, c.content_id`, w.args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list repository content")
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()
	var out []*models.Content
	for rows.Next() {
		ct := &models.Content{}
		if err := rows.Scan(&ct.ContentID, &ct.DomainID, &ct.ContentType, &ct.ArtifactSha256, &ct.CreatedAt); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		out = append(out, ct)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return out, nil
}

// collectionVersionWhere renders the filters that SQL can evaluate.
func collectionVersionWhere(w *whereBuilder, domainID, repoID uuid.UUID, number int64, f models.CollectionVersionFilter) {
	w.add("cv.domain_id = " + w.arg(domainID))
	repo, n := w.arg(repoID), w.arg(number)
	w.add(memberOf("cv.content_id", repo, n))
	if f.Namespace != "" {
		w.add("cv.namespace = " + w.arg(f.Namespace))
	}
	if f.Name != "" {
		w.add("cv.name = " + w.arg(f.Name))
	}
	if f.Version != "" {
		w.add("cv.version = " + w.arg(f.Version))
	}
	if f.Keywords != "" {
		w.add("cv.search_vector @@ websearch_to_tsquery('simple', " + w.arg(f.Keywords) + ")")
	}
	if len(f.Tags) > 0 {
		w.add("cv.tags @> " + w.arg(textArray(f.Tags)) + "::text[]")
	}
	if f.Deprecated != nil {
		clause := `EXISTS (SELECT 1 FROM deprecation_markers dm
			WHERE dm.domain_id = cv.domain_id AND dm.namespace = cv.namespace AND dm.name = cv.name
			  AND ` + memberOf("dm.content_id", repo, n) + `)`
		if !*f.Deprecated {
			clause = "NOT " + clause
		}
		w.add(clause)
	}
}

const collectionVersionOrder = ` ORDER BY cv.namespace, cv.name, cv.version_major DESC, cv.version_minor DESC,
	cv.version_patch DESC, (cv.version_prerelease = '') DESC, cv.version_prerelease DESC`

// ListCollectionVersionsIn returns one page of the versions in the
// repository version and the total number matching f.
func (c *catalogDb) ListCollectionVersionsIn(ctx context.Context, repoID uuid.UUID, number int64, f models.CollectionVersionFilter, limit, offset int) ([]*models.CollectionVersion, int, apperrors.Error) {
	domainID, aerr := c.repositoryDomain(ctx, c.conn(), repoID)
	if aerr != nil {
		return nil, 0, aerr
	}
	w := &whereBuilder{}
	collectionVersionWhere(w, domainID, repoID, number, f)

	if f.HighestOnly {
		// highest within this repository version is decided in Go
		rows, err := c.conn().QueryContext(ctx, `SELECT `+collectionVersionColumns+` FROM `+collectionVersionFrom+
			` WHERE `+w.String()+collectionVersionOrder, w.args...)
		if err != nil {
			return nil, 0, dberror.ErrDatabase.Err(err)
		}
		all, err := scanCollectionVersions(rows)
		if err != nil {
			return nil, 0, dberror.ErrDatabase.Err(err)
		}
		highest := highestPerCollection(all)
		return pageOf(highest, limit, offset), len(highest), nil
	}

	var count int
	if err := c.conn().QueryRowContext(ctx, `SELECT count(*) FROM collection_versions cv WHERE `+w.String(), w.args...).Scan(&count); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to count collection versions")
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	lim, off := w.arg(limit), w.arg(offset)
	rows, err := c.conn().QueryContext(ctx, `SELECT `+collectionVersionColumns+` FROM `+collectionVersionFrom+
		` WHERE `+w.String()+collectionVersionOrder+` LIMIT `+lim+` OFFSET `+off, w.args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list collection versions")
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	cvs, err := scanCollectionVersions(rows)
	if err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	return cvs, count, nil
}

// highestPerCollection keeps the highest version of each collection and
// preserves the input order of the survivors.
func highestPerCollection(cvs []*models.CollectionVersion) []*models.CollectionVersion {
	groups := map[uuid.UUID][]int{}
	var order []uuid.UUID
	for i, cv := range cvs {
		if _, ok := groups[cv.CollectionID]; !ok {
			order = append(order, cv.CollectionID)
		}
		groups[cv.CollectionID] = append(groups[cv.CollectionID], i)
	}
	out := make([]*models.CollectionVersion, 0, len(order))
	for _, colID := range order {
		idxs := groups[colID]
		versions := make([]string, len(idxs))
		for j, i := range idxs {
			versions[j] = cvs[i].Version
		}
		if j, ok := index.PickHighest(versions); ok {
			out = append(out, cvs[idxs[j]])
		}
	}
	return out
}

func pageOf[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

// ListCollectionsIn pages the collections that have at least one version
// in the repository version.
func (c *catalogDb) ListCollectionsIn(ctx context.Context, repoID uuid.UUID, number int64, f models.CollectionVersionFilter, limit, offset int) ([]*models.CollectionSummary, int, apperrors.Error) {
	domainID, aerr := c.repositoryDomain(ctx, c.conn(), repoID)
	if aerr != nil {
		return nil, 0, aerr
	}
	inner := &whereBuilder{}
	vf := f
	vf.HighestOnly = false
	collectionVersionWhere(inner, domainID, repoID, number, vf)
	inner.add("cv.collection_id = col.collection_id")
	where := `col.domain_id = $1 AND EXISTS (SELECT 1 FROM collection_versions cv WHERE ` + inner.String() + `)`
	args := inner.args

	var count int
	if err := c.conn().QueryRowContext(ctx, `SELECT count(*) FROM collections col WHERE `+where, args...).Scan(&count); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to count collections")
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	pageArgs := append(append([]interface{}{}, args...), limit, offset)
	rows, err := c.conn().QueryContext(ctx, fmt.Sprintf(`
		SELECT col.collection_id, col.domain_id, col.namespace, col.name, col.created_at, col.updated_at,
		       coalesce(dc.count, 0)
		FROM collections col
		LEFT JOIN download_counts dc ON dc.domain_id = col.domain_id AND dc.namespace = col.namespace AND dc.name = col.name
		WHERE %s ORDER BY col.namespace, col.name LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2), pageArgs...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to list collections")
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	var summaries []*models.CollectionSummary
	byID := map[uuid.UUID]*models.CollectionSummary{}
	for rows.Next() {
		s := &models.CollectionSummary{}
		if err := rows.Scan(&s.CollectionID, &s.DomainID, &s.Namespace, &s.Name, &s.CreatedAt, &s.UpdatedAt, &s.DownloadCount); err != nil {
			rows.Close()
			return nil, 0, dberror.ErrDatabase.Err(err)
		}
		summaries = append(summaries, s)
		byID[s.CollectionID] = s
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	if len(summaries) == 0 {
		return []*models.CollectionSummary{}, count, nil
	}

	colIDs := make([]uuid.UUID, 0, len(summaries))
	for _, s := range summaries {
		colIDs = append(colIDs, s.CollectionID)
	}
	rows, err = c.conn().QueryContext(ctx, `SELECT `+collectionVersionColumns+` FROM `+collectionVersionFrom+`
		WHERE cv.collection_id = ANY($1::uuid[]) AND `+memberOf("cv.content_id", "$2", "$3")+collectionVersionOrder,
		uuidArray(colIDs), repoID, number)
	if err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	versions, err := scanCollectionVersions(rows)
	if err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	for _, cv := range versions {
		byID[cv.CollectionID].VersionCount++
	}
	for _, cv := range highestPerCollection(versions) {
		byID[cv.CollectionID].Highest = cv
	}

	rows, err = c.conn().QueryContext(ctx, `
		SELECT col.collection_id FROM collections col
		JOIN deprecation_markers dm ON dm.domain_id = col.domain_id AND dm.namespace = col.namespace AND dm.name = col.name
		WHERE col.collection_id = ANY($1::uuid[]) AND `+memberOf("dm.content_id", "$2", "$3"),
		uuidArray(colIDs), repoID, number)
	if err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	deprecated, err := scanUUIDs(rows)
	if err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	for _, id := range deprecated {
		byID[id].Deprecated = true
	}
	return summaries, count, nil
}

func (c *catalogDb) ListRolesIn(ctx context.Context, repoID uuid.UUID, number int64, limit, offset int) ([]*models.Role, int, apperrors.Error) {
	if _, aerr := c.repositoryDomain(ctx, c.conn(), repoID); aerr != nil {
		return nil, 0, aerr
	}
	where := memberOf("r.content_id", "$1", "$2")
	var count int
	if err := c.conn().QueryRowContext(ctx, `SELECT count(*) FROM roles r WHERE `+where, repoID, number).Scan(&count); err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	rows, err := c.conn().QueryContext(ctx, `
		SELECT r.content_id, r.domain_id, r.namespace, r.name, r.version, coalesce(c.artifact_sha256, ''), c.created_at
		FROM roles r JOIN content c ON c.content_id = r.content_id
		WHERE `+where+` ORDER BY r.namespace, r.name, r.version LIMIT $3 OFFSET $4`, repoID, number, limit, offset)
	if err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()
	var roles []*models.Role
	for rows.Next() {
		r := &models.Role{}
		if err := rows.Scan(&r.ContentID, &r.DomainID, &r.Namespace, &r.Name, &r.Version, &r.ArtifactSha256, &r.CreatedAt); err != nil {
			return nil, 0, dberror.ErrDatabase.Err(err)
		}
		roles = append(roles, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	return roles, count, nil
}

// GetNamespaceMetadataIn returns the newest metadata of namespace that is a
// member of the repository version.
func (c *catalogDb) GetNamespaceMetadataIn(ctx context.Context, repoID uuid.UUID, number int64, namespace string) (*models.NamespaceMetadata, apperrors.Error) {
	domainID, aerr := c.repositoryDomain(ctx, c.conn(), repoID)
	if aerr != nil {
		return nil, aerr
	}
	md, err := scanNamespaceMetadata(c.conn().QueryRowContext(ctx, `
		SELECT nm.content_id, nm.domain_id, nm.namespace, nm.metadata_sha256, nm.company, nm.email,
		       nm.description, nm.resources, nm.links, coalesce(nm.avatar_sha256, '')
		FROM namespace_metadata nm JOIN content c ON c.content_id = nm.content_id
		WHERE nm.domain_id = $3 AND nm.namespace = $4 AND `+memberOf("nm.content_id", "$1", "$2")+`
		ORDER BY c.created_at DESC LIMIT 1`, repoID, number, domainID, namespace))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, dberror.ErrNotFound.Msg("namespace not found")
		}
		return nil, dberror.ErrDatabase.Err(err)
	}
	return md, nil
}

func (c *catalogDb) ListSignaturesIn(ctx context.Context, repoID uuid.UUID, number int64, collectionVersionID uuid.UUID) ([]*models.SignatureRecord, apperrors.Error) {
	if _, aerr := c.repositoryDomain(ctx, c.conn(), repoID); aerr != nil {
		return nil, aerr
	}
	rows, err := c.conn().QueryContext(ctx, `
		SELECT s.content_id, s.domain_id, s.collection_version_id, s.digest, s.data
		FROM signature_records s
		WHERE s.collection_version_id = $3 AND `+memberOf("s.content_id", "$1", "$2")+`
		ORDER BY s.digest`, repoID, number, collectionVersionID)
	if err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()
	var sigs []*models.SignatureRecord
	for rows.Next() {
		s := &models.SignatureRecord{}
		if err := rows.Scan(&s.ContentID, &s.DomainID, &s.CollectionVersionID, &s.Digest, &s.Data); err != nil {
			return nil, dberror.ErrDatabase.Err(err)
		}
		sigs = append(sigs, s)
	}
	if err := rows.Err(); err != nil {
		return nil, dberror.ErrDatabase.Err(err)
	}
	return sigs, nil
}

func (c *catalogDb) IsDeprecatedIn(ctx context.Context, repoID uuid.UUID, number int64, namespace, name string) (bool, apperrors.Error) {
	domainID, aerr := c.repositoryDomain(ctx, c.conn(), repoID)
	if aerr != nil {
		return false, aerr
	}
	var deprecated bool
	err := c.conn().QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM deprecation_markers dm
			WHERE dm.domain_id = $3 AND dm.namespace = $4 AND dm.name = $5 AND `+memberOf("dm.content_id", "$1", "$2")+`)`,
		repoID, number, domainID, namespace, name).Scan(&deprecated)
	if err != nil {
		return false, dberror.ErrDatabase.Err(err)
	}
	return deprecated, nil
}

// ListCrossRepo searches the cross repository index of the domain.
func (c *catalogDb) ListCrossRepo(ctx context.Context, f models.CrossRepoFilter, limit, offset int) ([]*models.CrossRepoEntry, int, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, 0, aerr
	}
	w := &whereBuilder{}
	w.add("x.domain_id = " + w.arg(domainID))
	if f.Namespace != "" {
		w.add("x.namespace = " + w.arg(f.Namespace))
	}
	if f.Name != "" {
		w.add("x.name = " + w.arg(f.Name))
	}
	if f.RepositoryID != uuid.Nil {
		w.add("x.repository_id = " + w.arg(f.RepositoryID))
	}
	if f.HighestOnly {
		w.add("x.is_highest")
	}
	if f.Deprecated != nil {
		w.add("x.is_deprecated = " + w.arg(*f.Deprecated))
	}
	if f.Keywords != "" {
		w.add("cv.search_vector @@ websearch_to_tsquery('simple', " + w.arg(f.Keywords) + ")")
	}
	from := ` FROM cross_repo_collection_index x
		JOIN repositories r ON r.repository_id = x.repository_id
		JOIN collection_versions cv ON cv.content_id = x.collection_version_id`

	var count int
	if err := c.conn().QueryRowContext(ctx, `SELECT count(*)`+from+` WHERE `+w.String(), w.args...).Scan(&count); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to count cross repository index")
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	order := ` ORDER BY x.namespace, x.name, cv.version_major DESC, cv.version_minor DESC, cv.version_patch DESC,
		(cv.version_prerelease = '') DESC, cv.version_prerelease DESC, r.name`
	if f.Keywords != "" {
		order = ` ORDER BY ts_rank(cv.search_vector, websearch_to_tsquery('simple', ` + w.arg(f.Keywords) + `)) DESC,
			x.namespace, x.name, r.name`
	}
	lim, off := w.arg(limit), w.arg(offset)
	rows, err := c.conn().QueryContext(ctx, `
		SELECT x.domain_id, x.repository_id, r.name, x.collection_version_id, x.collection_id,
		       x.namespace, x.name, x.version, x.is_highest, x.is_deprecated`+from+
		` WHERE `+w.String()+order+` LIMIT `+lim+` OFFSET `+off, w.args...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to search cross repository index")
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	defer rows.Close()
	var entries []*models.CrossRepoEntry
	for rows.Next() {
		e := &models.CrossRepoEntry{}
		if err := rows.Scan(&e.DomainID, &e.RepositoryID, &e.RepositoryName, &e.CollectionVersionID, &e.CollectionID,
			&e.Namespace, &e.Name, &e.Version, &e.IsHighest, &e.IsDeprecated); err != nil {
			return nil, 0, dberror.ErrDatabase.Err(err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, dberror.ErrDatabase.Err(err)
	}
	return entries, count, nil
}
