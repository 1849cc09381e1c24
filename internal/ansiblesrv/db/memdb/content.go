package memdb

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/index"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/versionutil"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
)

func (m *memDb) ContentIn(ctx context.Context, repoID uuid.UUID, number int64, contentType string) ([]*models.Content, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, aerr := m.repositoryDomain(ctx, repoID); aerr != nil {
		return nil, aerr
	}
	var out []*models.Content
	for _, id := range m.members(repoID, number) {
		c, ok := m.content[id]
		if !ok || (contentType != "" && c.ContentType != contentType) {
			continue
		}
		cp := *c
		out = append(out, &cp)
	}
	sortBy(out, func(a, b *models.Content) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return strings.Compare(a.ContentID.String(), b.ContentID.String()) < 0
	})
	return out, nil
}

func (m *memDb) isDeprecatedIn(repoID uuid.UUID, n int64, domainID uuid.UUID, namespace, name string) bool {
	for _, id := range m.members(repoID, n) {
		if dm, ok := m.deprecations[id]; ok && dm.DomainID == domainID && dm.Namespace == namespace && dm.Name == name {
			return true
		}
	}
	return false
}

func containsAll(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

// matchingVersions returns the collection versions of version n that pass
// every filter of f except HighestOnly, in listing order.
func (m *memDb) matchingVersions(domainID, repoID uuid.UUID, n int64, f models.CollectionVersionFilter) []*models.CollectionVersion {
	var out []*models.CollectionVersion
	for _, id := range m.members(repoID, n) {
		cv, ok := m.versions[id]
		if !ok || cv.DomainID != domainID {
			continue
		}
		if f.Namespace != "" && cv.Namespace != f.Namespace {
			continue
		}
		if f.Name != "" && cv.Name != f.Name {
			continue
		}
		if f.Version != "" && cv.Version != f.Version {
			continue
		}
		if f.Keywords != "" {
			if _, ok := m.vectors[id].Match(f.Keywords); !ok {
				continue
			}
		}
		if len(f.Tags) > 0 && !containsAll(cv.Tags, f.Tags) {
			continue
		}
		if f.Deprecated != nil && m.isDeprecatedIn(repoID, n, domainID, cv.Namespace, cv.Name) != *f.Deprecated {
			continue
		}
		out = append(out, m.collectionVersionOut(cv))
	}
	sortBy(out, versionLess)
	return out
}

// highestPerCollection keeps the highest version of each collection in
// input order.
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

func (m *memDb) ListCollectionVersionsIn(ctx context.Context, repoID uuid.UUID, number int64, f models.CollectionVersionFilter, limit, offset int) ([]*models.CollectionVersion, int, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	domainID, aerr := m.repositoryDomain(ctx, repoID)
	if aerr != nil {
		return nil, 0, aerr
	}
	cvs := m.matchingVersions(domainID, repoID, number, f)
	if f.HighestOnly {
		cvs = highestPerCollection(cvs)
	}
	return pageOf(cvs, limit, offset), len(cvs), nil
}

func (m *memDb) ListCollectionsIn(ctx context.Context, repoID uuid.UUID, number int64, f models.CollectionVersionFilter, limit, offset int) ([]*models.CollectionSummary, int, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	domainID, aerr := m.repositoryDomain(ctx, repoID)
	if aerr != nil {
		return nil, 0, aerr
	}
	vf := f
	vf.HighestOnly = false
	seen := map[uuid.UUID]struct{}{}
	var summaries []*models.CollectionSummary
	for _, cv := range m.matchingVersions(domainID, repoID, number, vf) {
		if _, ok := seen[cv.CollectionID]; ok {
			continue
		}
		seen[cv.CollectionID] = struct{}{}
		col := m.collections[cv.CollectionID]
		summaries = append(summaries, &models.CollectionSummary{
			Collection:    *col,
			DownloadCount: m.downloads[collectionKey{domainID, col.Namespace, col.Name}],
		})
	}
	total := len(summaries)
	page := pageOf(summaries, limit, offset)
	if len(page) == 0 {
		return page, total, nil
	}

	all := m.matchingVersions(domainID, repoID, number, models.CollectionVersionFilter{})
	byID := make(map[uuid.UUID]*models.CollectionSummary, len(page))
	for _, s := range page {
		byID[s.CollectionID] = s
	}
	var inPage []*models.CollectionVersion
	for _, cv := range all {
		if s, ok := byID[cv.CollectionID]; ok {
			s.VersionCount++
			inPage = append(inPage, cv)
		}
	}
	for _, cv := range highestPerCollection(inPage) {
		byID[cv.CollectionID].Highest = cv
	}
	for _, s := range page {
		s.Deprecated = m.isDeprecatedIn(repoID, number, domainID, s.Namespace, s.Name)
	}
	return page, total, nil
}

func (m *memDb) ListRolesIn(ctx context.Context, repoID uuid.UUID, number int64, limit, offset int) ([]*models.Role, int, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, aerr := m.repositoryDomain(ctx, repoID); aerr != nil {
		return nil, 0, aerr
	}
	var roles []*models.Role
	for _, id := range m.members(repoID, number) {
		if r, ok := m.roles[id]; ok {
			roles = append(roles, m.roleOut(r))
		}
	}
	sortBy(roles, func(a, b *models.Role) bool {
		if a.Namespace != b.Namespace {
			return a.Namespace < b.Namespace
		}
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		return a.Version < b.Version
	})
	return pageOf(roles, limit, offset), len(roles), nil
}

func (m *memDb) GetNamespaceMetadataIn(ctx context.Context, repoID uuid.UUID, number int64, namespace string) (*models.NamespaceMetadata, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	domainID, aerr := m.repositoryDomain(ctx, repoID)
	if aerr != nil {
		return nil, aerr
	}
	var newest *models.NamespaceMetadata
	for _, id := range m.members(repoID, number) {
		md, ok := m.nsMetadata[id]
		if !ok || md.DomainID != domainID || md.Namespace != namespace {
			continue
		}
		if newest == nil || !m.content[id].CreatedAt.Before(m.content[newest.ContentID].CreatedAt) {
			newest = md
		}
	}
	if newest == nil {
		return nil, dberror.ErrNotFound.Msg("namespace not found")
	}
	return copyNamespaceMetadata(newest), nil
}

func (m *memDb) ListSignaturesIn(ctx context.Context, repoID uuid.UUID, number int64, collectionVersionID uuid.UUID) ([]*models.SignatureRecord, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, aerr := m.repositoryDomain(ctx, repoID); aerr != nil {
		return nil, aerr
	}
	var sigs []*models.SignatureRecord
	for _, id := range m.members(repoID, number) {
		if s, ok := m.signatures[id]; ok && s.CollectionVersionID == collectionVersionID {
			cp := *s
			sigs = append(sigs, &cp)
		}
	}
	sortBy(sigs, func(a, b *models.SignatureRecord) bool { return a.Digest < b.Digest })
	return sigs, nil
}

func (m *memDb) IsDeprecatedIn(ctx context.Context, repoID uuid.UUID, number int64, namespace, name string) (bool, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	domainID, aerr := m.repositoryDomain(ctx, repoID)
	if aerr != nil {
		return false, aerr
	}
	return m.isDeprecatedIn(repoID, number, domainID, namespace, name), nil
}

func (m *memDb) ListCrossRepo(ctx context.Context, f models.CrossRepoFilter, limit, offset int) ([]*models.CrossRepoEntry, int, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, 0, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	type ranked struct {
		entry *models.CrossRepoEntry
		rank  float64
	}
	var hits []ranked
	for _, e := range m.crossRepo {
		if e.DomainID != domainID {
			continue
		}
		if f.Namespace != "" && e.Namespace != f.Namespace {
			continue
		}
		if f.Name != "" && e.Name != f.Name {
			continue
		}
		if f.RepositoryID != uuid.Nil && e.RepositoryID != f.RepositoryID {
			continue
		}
		if f.HighestOnly && !e.IsHighest {
			continue
		}
		if f.Deprecated != nil && e.IsDeprecated != *f.Deprecated {
			continue
		}
		var rank float64
		if f.Keywords != "" {
			var ok bool
			if rank, ok = m.vectors[e.CollectionVersionID].Match(f.Keywords); !ok {
				continue
			}
		}
		cp := *e
		cp.RepositoryName = m.repos[e.RepositoryID].Name
		hits = append(hits, ranked{&cp, rank})
	}
	sortBy(hits, func(a, b ranked) bool {
		if f.Keywords != "" && a.rank != b.rank {
			return a.rank > b.rank
		}
		if a.entry.Namespace != b.entry.Namespace {
			return a.entry.Namespace < b.entry.Namespace
		}
		if a.entry.Name != b.entry.Name {
			return a.entry.Name < b.entry.Name
		}
		if f.Keywords == "" {
			if c := versionutil.Compare(a.entry.Version, b.entry.Version); c != 0 {
				return c > 0
			}
		}
		return a.entry.RepositoryName < b.entry.RepositoryName
	})
	out := make([]*models.CrossRepoEntry, 0, len(hits))
	for _, h := range pageOf(hits, limit, offset) {
		out = append(out, h.entry)
	}
	return out, len(hits), nil
}
