package memdb

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
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

func sortBy[T any](s []T, less func(a, b T) bool) {
	sort.SliceStable(s, func(i, j int) bool { return less(s[i], s[j]) })
}

// versionLess orders collection versions by namespace and name, newest
// version first.
func versionLess(a, b *models.CollectionVersion) bool {
	if a.Namespace != b.Namespace {
		return a.Namespace < b.Namespace
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return versionutil.Compare(a.Version, b.Version) > 0
}

func searchDoc(cv *models.CollectionVersion) index.SearchDoc {
	names := make([]string, 0, len(cv.Contents))
	for _, c := range cv.Contents {
		names = append(names, c.Name)
	}
	return index.SearchDoc{
		Namespace:    cv.Namespace,
		Name:         cv.Name,
		Tags:         cv.Tags,
		ContentNames: names,
		Description:  cv.Description,
	}
}

func (m *memDb) newContent(domainID uuid.UUID, contentType, artifactSha string) *models.Content {
	c := &models.Content{
		ContentID:      ids.New(),
		DomainID:       domainID,
		ContentType:    contentType,
		ArtifactSha256: artifactSha,
		CreatedAt:      time.Now(),
	}
	m.content[c.ContentID] = c
	return c
}

func (m *memDb) ensureNamespace(domainID uuid.UUID, name string) {
	k := nsKey{domainID, name}
	if _, ok := m.namespaces[k]; !ok {
		m.namespaces[k] = &models.Namespace{NamespaceID: ids.New(), DomainID: domainID, Name: name, CreatedAt: time.Now()}
	}
}

func (m *memDb) ensureCollection(domainID uuid.UUID, namespace, name string) *models.Collection {
	m.ensureNamespace(domainID, namespace)
	k := collectionKey{domainID, namespace, name}
	if id, ok := m.collectionIndex[k]; ok {
		return m.collections[id]
	}
	now := time.Now()
	col := &models.Collection{
		CollectionID: ids.New(),
		DomainID:     domainID,
		Namespace:    namespace,
		Name:         name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	m.collections[col.CollectionID] = col
	m.collectionIndex[k] = col.CollectionID
	m.versionIndex[col.CollectionID] = map[string]uuid.UUID{}
	return col
}

// recomputeHighest flags the semver maximum of the collection.
func (m *memDb) recomputeHighest(collectionID uuid.UUID) {
	var (
		contentIDs []uuid.UUID
		versions   []string
	)
	for version, id := range m.versionIndex[collectionID] {
		contentIDs = append(contentIDs, id)
		versions = append(versions, version)
	}
	highest := uuid.Nil
	if i, ok := index.PickHighest(versions); ok {
		highest = contentIDs[i]
	}
	for _, id := range contentIDs {
		m.versions[id].IsHighest = id == highest
	}
}

// collectionVersionOut copies cv and fills the fields joined from other
// tables.
func (m *memDb) collectionVersionOut(cv *models.CollectionVersion) *models.CollectionVersion {
	out := *cv
	if c, ok := m.content[cv.ContentID]; ok {
		out.CreatedAt = c.CreatedAt
	}
	if a, ok := m.artifacts[cv.Sha256]; ok {
		out.Size = a.Size
	} else {
		for _, ra := range m.remoteArtifacts[cv.ContentID] {
			if ra.Size > out.Size {
				out.Size = ra.Size
			}
		}
	}
	return &out
}

func (m *memDb) UpsertCollectionVersion(ctx context.Context, cv *models.CollectionVersion) (*models.CollectionVersion, apperrors.Error) {
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

	m.mu.Lock()
	defer m.mu.Unlock()
	col := m.ensureCollection(domainID, cv.Namespace, cv.Name)
	if id, ok := m.versionIndex[col.CollectionID][cv.Version]; ok {
		existing := m.versions[id]
		if existing.Sha256 != cv.Sha256 {
			log.Ctx(ctx).Info().Str("collection", cv.FullName()).Str("version", cv.Version).Msg("version exists with a different artifact")
			return nil, ansibleerrors.DuplicateVersion(cv.FullName(), cv.Version, existing.Sha256)
		}
		return m.collectionVersionOut(existing), nil
	}

	c := m.newContent(domainID, catcommon.ContentTypeCollectionVersion, cv.Sha256)
	stored := *cv
	stored.ContentID = c.ContentID
	stored.DomainID = domainID
	stored.CollectionID = col.CollectionID
	stored.VersionMajor, stored.VersionMinor, stored.VersionPatch, stored.VersionPrerelease = v.Major, v.Minor, v.Patch, v.Prerelease
	stored.Size = 0
	stored.IsHighest = false
	if stored.Contents == nil {
		stored.Contents = []models.ContentEntry{}
	}
	if stored.Dependencies == nil {
		stored.Dependencies = map[string]string{}
	}
	if len(cv.Files) > 0 {
		stored.Files = append([]byte(nil), cv.Files...)
	}
	vector := index.BuildVector(searchDoc(&stored))
	stored.SearchVector = vector.String()

	m.versions[stored.ContentID] = &stored
	m.vectors[stored.ContentID] = vector
	m.versionIndex[col.CollectionID][stored.Version] = stored.ContentID
	col.UpdatedAt = time.Now()
	m.recomputeHighest(col.CollectionID)
	return m.collectionVersionOut(&stored), nil
}

func (m *memDb) GetCollectionVersion(ctx context.Context, namespace, name, version string) (*models.CollectionVersion, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	colID, ok := m.collectionIndex[collectionKey{domainID, namespace, name}]
	if ok {
		if id, ok := m.versionIndex[colID][version]; ok {
			return m.collectionVersionOut(m.versions[id]), nil
		}
	}
	return nil, dberror.ErrNotFound.Msg("collection version not found")
}

func (m *memDb) GetCollectionVersionByID(ctx context.Context, contentID uuid.UUID) (*models.CollectionVersion, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	cv, ok := m.versions[contentID]
	if !ok || cv.DomainID != domainID {
		return nil, dberror.ErrNotFound.Msg("collection version not found")
	}
	return m.collectionVersionOut(cv), nil
}

func (m *memDb) ListCollectionVersions(ctx context.Context, namespace, name string) ([]*models.CollectionVersion, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.CollectionVersion
	colID, ok := m.collectionIndex[collectionKey{domainID, namespace, name}]
	if !ok {
		return out, nil
	}
	for _, id := range m.versionIndex[colID] {
		out = append(out, m.collectionVersionOut(m.versions[id]))
	}
	sortBy(out, versionLess)
	return out, nil
}

func (m *memDb) GetCollection(ctx context.Context, namespace, name string) (*models.Collection, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.collectionIndex[collectionKey{domainID, namespace, name}]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("collection not found")
	}
	out := *m.collections[id]
	return &out, nil
}

func (m *memDb) RefreshSearchVectors(ctx context.Context) (int64, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return 0, aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, cv := range m.versions {
		if cv.DomainID != domainID {
			continue
		}
		vector := index.BuildVector(searchDoc(cv))
		cv.SearchVector = vector.String()
		m.vectors[id] = vector
		n++
	}
	return n, nil
}

func (m *memDb) GetNamespace(ctx context.Context, name string) (*models.Namespace, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[nsKey{domainID, name}]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("namespace not found")
	}
	out := *ns
	return &out, nil
}

func copyNamespaceMetadata(md *models.NamespaceMetadata) *models.NamespaceMetadata {
	out := *md
	out.Links = make(map[string]string, len(md.Links))
	for k, v := range md.Links {
		out.Links[k] = v
	}
	return &out
}

func (m *memDb) UpsertNamespaceMetadata(ctx context.Context, md *models.NamespaceMetadata) (*models.NamespaceMetadata, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	if md.MetadataSha256 == "" {
		return nil, dberror.ErrInvalidInput.Msg("namespace metadata requires a digest")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ensureNamespace(domainID, md.Namespace)
	for _, existing := range m.nsMetadata {
		if existing.DomainID == domainID && existing.Namespace == md.Namespace && existing.MetadataSha256 == md.MetadataSha256 {
			return copyNamespaceMetadata(existing), nil
		}
	}
	c := m.newContent(domainID, catcommon.ContentTypeNamespace, md.AvatarSha256)
	stored := copyNamespaceMetadata(md)
	stored.ContentID = c.ContentID
	stored.DomainID = domainID
	m.nsMetadata[stored.ContentID] = stored
	return copyNamespaceMetadata(stored), nil
}

func (m *memDb) roleOut(r *models.Role) *models.Role {
	out := *r
	if c, ok := m.content[r.ContentID]; ok {
		out.ArtifactSha256 = c.ArtifactSha256
		out.CreatedAt = c.CreatedAt
	}
	return &out
}

func (m *memDb) UpsertRole(ctx context.Context, r *models.Role) (*models.Role, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.DomainID == domainID && existing.Namespace == r.Namespace && existing.Name == r.Name && existing.Version == r.Version {
			return m.roleOut(existing), nil
		}
	}
	c := m.newContent(domainID, catcommon.ContentTypeRole, r.ArtifactSha256)
	stored := &models.Role{ContentID: c.ContentID, DomainID: domainID, Namespace: r.Namespace, Name: r.Name, Version: r.Version}
	m.roles[stored.ContentID] = stored
	return m.roleOut(stored), nil
}

func (m *memDb) UpsertSignature(ctx context.Context, s *models.SignatureRecord) (*models.SignatureRecord, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cv, ok := m.versions[s.CollectionVersionID]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("collection version not found")
	}
	if cv.DomainID != domainID {
		return nil, ansibleerrors.CrossDomain("signed collection version")
	}
	for _, existing := range m.signatures {
		if existing.CollectionVersionID == s.CollectionVersionID && existing.Digest == s.Digest {
			out := *existing
			return &out, nil
		}
	}
	c := m.newContent(domainID, catcommon.ContentTypeSignature, "")
	stored := &models.SignatureRecord{
		ContentID:           c.ContentID,
		DomainID:            domainID,
		CollectionVersionID: s.CollectionVersionID,
		Digest:              s.Digest,
		Data:                append([]byte(nil), s.Data...),
	}
	m.signatures[stored.ContentID] = stored
	out := *stored
	return &out, nil
}

func (m *memDb) UpsertDeprecationMarker(ctx context.Context, namespace, name string) (*models.DeprecationMarker, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.deprecations {
		if existing.DomainID == domainID && existing.Namespace == namespace && existing.Name == name {
			out := *existing
			return &out, nil
		}
	}
	c := m.newContent(domainID, catcommon.ContentTypeDeprecation, "")
	stored := &models.DeprecationMarker{ContentID: c.ContentID, DomainID: domainID, Namespace: namespace, Name: name}
	m.deprecations[stored.ContentID] = stored
	out := *stored
	return &out, nil
}

func (m *memDb) GetContent(ctx context.Context, contentID uuid.UUID) (*models.Content, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.content[contentID]
	if !ok || c.DomainID != domainID {
		return nil, dberror.ErrNotFound.Msg("content not found")
	}
	out := *c
	return &out, nil
}

// CreateArtifact records a stored blob. Recording a digest twice keeps the
// first row and fills a from it.
func (m *memDb) CreateArtifact(ctx context.Context, a *models.Artifact) apperrors.Error {
	if len(a.Sha256) != 64 {
		return dberror.ErrInvalidInput.Msg("invalid artifact digest")
	}
	sha := strings.ToLower(a.Sha256)
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.artifacts[sha]; ok {
		a.Size, a.StoragePath, a.CreatedAt = existing.Size, existing.StoragePath, existing.CreatedAt
		return nil
	}
	a.CreatedAt = time.Now()
	stored := *a
	stored.Sha256 = sha
	m.artifacts[sha] = &stored
	return nil
}

func (m *memDb) GetArtifact(ctx context.Context, sha256 string) (*models.Artifact, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.artifacts[sha256]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("artifact not found")
	}
	out := *a
	return &out, nil
}

func (m *memDb) UpsertRemoteArtifact(ctx context.Context, ra *models.RemoteArtifact) apperrors.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.content[ra.ContentID]; !ok {
		return dberror.ErrNotFound.Msg("content not found")
	}
	for _, existing := range m.remoteArtifacts[ra.ContentID] {
		if existing.RemoteID == ra.RemoteID {
			existing.URL, existing.Sha256, existing.Size = ra.URL, ra.Sha256, ra.Size
			return nil
		}
	}
	m.remoteArtifacts[ra.ContentID] = append(m.remoteArtifacts[ra.ContentID], &remoteArtifact{RemoteArtifact: *ra, createdAt: time.Now()})
	return nil
}

// GetRemoteArtifact returns the most recently recorded source of contentID.
func (m *memDb) GetRemoteArtifact(ctx context.Context, contentID uuid.UUID) (*models.RemoteArtifact, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var latest *remoteArtifact
	for _, ra := range m.remoteArtifacts[contentID] {
		if latest == nil || !ra.createdAt.Before(latest.createdAt) {
			latest = ra
		}
	}
	if latest == nil {
		return nil, dberror.ErrNotFound.Msg("no remote artifact")
	}
	out := latest.RemoteArtifact
	return &out, nil
}

func (m *memDb) IncrementDownloadCount(ctx context.Context, namespace, name string) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloads[collectionKey{domainID, namespace, name}]++
	return nil
}

func (m *memDb) GetDownloadCount(ctx context.Context, namespace, name string) (int64, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return 0, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.downloads[collectionKey{domainID, namespace, name}], nil
}
