// Package memdb is an in-process catalog with the same semantics as the
// postgresql catalog. It backs tests and single node development servers;
// nothing survives a restart.
package memdb

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/index"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	ids "github.com/pulp/pulp-ansible-sub001/internal/common/uuid"
	"github.com/rs/zerolog/log"
)

type nsKey struct {
	domain uuid.UUID
	name   string
}

type collectionKey struct {
	domain          uuid.UUID
	namespace, name string
}

type crossKey struct {
	repo, cv uuid.UUID
}

type remoteArtifact struct {
	models.RemoteArtifact
	createdAt time.Time
}

type memDb struct {
	mu sync.RWMutex

	domains         map[uuid.UUID]*models.Domain
	content         map[uuid.UUID]*models.Content
	namespaces      map[nsKey]*models.Namespace
	collections     map[uuid.UUID]*models.Collection
	collectionIndex map[collectionKey]uuid.UUID
	versions        map[uuid.UUID]*models.CollectionVersion
	versionIndex    map[uuid.UUID]map[string]uuid.UUID
	vectors         map[uuid.UUID]index.Vector
	nsMetadata      map[uuid.UUID]*models.NamespaceMetadata
	roles           map[uuid.UUID]*models.Role
	signatures      map[uuid.UUID]*models.SignatureRecord
	deprecations    map[uuid.UUID]*models.DeprecationMarker
	artifacts       map[string]*models.Artifact
	remoteArtifacts map[uuid.UUID][]*remoteArtifact
	downloads       map[collectionKey]int64

	remotes       map[uuid.UUID]*models.Remote
	repos         map[uuid.UUID]*models.Repository
	repoVersions  map[uuid.UUID]map[int64]*models.RepositoryVersion
	membership    map[uuid.UUID][]*models.RepositoryContent
	publications  []*models.Publication
	syncStates    map[uuid.UUID]*models.SyncState
	distributions map[uuid.UUID]*models.Distribution
	crossRepo     map[crossKey]*models.CrossRepoEntry
	tasks         map[uuid.UUID]*models.Task
}

// New returns an empty catalog holding only the default domain.
func New() *memDb {
	m := &memDb{
		domains:         map[uuid.UUID]*models.Domain{},
		content:         map[uuid.UUID]*models.Content{},
		namespaces:      map[nsKey]*models.Namespace{},
		collections:     map[uuid.UUID]*models.Collection{},
		collectionIndex: map[collectionKey]uuid.UUID{},
		versions:        map[uuid.UUID]*models.CollectionVersion{},
		versionIndex:    map[uuid.UUID]map[string]uuid.UUID{},
		vectors:         map[uuid.UUID]index.Vector{},
		nsMetadata:      map[uuid.UUID]*models.NamespaceMetadata{},
		roles:           map[uuid.UUID]*models.Role{},
		signatures:      map[uuid.UUID]*models.SignatureRecord{},
		deprecations:    map[uuid.UUID]*models.DeprecationMarker{},
		artifacts:       map[string]*models.Artifact{},
		remoteArtifacts: map[uuid.UUID][]*remoteArtifact{},
		downloads:       map[collectionKey]int64{},
		remotes:         map[uuid.UUID]*models.Remote{},
		repos:           map[uuid.UUID]*models.Repository{},
		repoVersions:    map[uuid.UUID]map[int64]*models.RepositoryVersion{},
		membership:      map[uuid.UUID][]*models.RepositoryContent{},
		syncStates:      map[uuid.UUID]*models.SyncState{},
		distributions:   map[uuid.UUID]*models.Distribution{},
		crossRepo:       map[crossKey]*models.CrossRepoEntry{},
		tasks:           map[uuid.UUID]*models.Task{},
	}
	d := &models.Domain{
		DomainID:    ids.New(),
		Name:        catcommon.DefaultDomainName,
		Description: "default domain",
		CreatedAt:   time.Now(),
	}
	m.domains[d.DomainID] = d
	return m
}

func (m *memDb) Migrate(ctx context.Context) error {
	return nil
}

func (m *memDb) Close(ctx context.Context) {}

func domainFromContext(ctx context.Context) (uuid.UUID, apperrors.Error) {
	domainID := catcommon.DomainIdFromContext(ctx)
	if domainID == uuid.Nil {
		log.Ctx(ctx).Error().Msg("no domain in context")
		return uuid.Nil, dberror.ErrMissingDomain
	}
	return domainID, nil
}

var domainNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func (m *memDb) CreateDomain(ctx context.Context, d *models.Domain) apperrors.Error {
	if len(d.Name) > 128 || !domainNameRegex.MatchString(d.Name) {
		log.Ctx(ctx).Info().Str("domain", d.Name).Msg("invalid domain name")
		return dberror.ErrInvalidInput.Msg("invalid domain name")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.domains {
		if existing.Name == d.Name {
			log.Ctx(ctx).Info().Str("domain", d.Name).Msg("domain already exists")
			return dberror.ErrAlreadyExists.Msg("domain already exists")
		}
	}
	d.DomainID = ids.New()
	d.CreatedAt = time.Now()
	stored := *d
	m.domains[d.DomainID] = &stored
	return nil
}

func (m *memDb) GetDomain(ctx context.Context, domainID uuid.UUID) (*models.Domain, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.domains[domainID]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("domain not found")
	}
	out := *d
	return &out, nil
}

func (m *memDb) GetDomainByName(ctx context.Context, name string) (*models.Domain, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.domains {
		if d.Name == name {
			out := *d
			return &out, nil
		}
	}
	return nil, dberror.ErrNotFound.Msg("domain not found")
}

func (m *memDb) ListDomains(ctx context.Context) ([]*models.Domain, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.Domain, 0, len(m.domains))
	for _, d := range m.domains {
		cp := *d
		out = append(out, &cp)
	}
	sortBy(out, func(a, b *models.Domain) bool { return a.Name < b.Name })
	return out, nil
}

// DeleteDomain drops the domain and everything scoped to it.
func (m *memDb) DeleteDomain(ctx context.Context, name string) apperrors.Error {
	if name == catcommon.DefaultDomainName {
		return dberror.ErrInvalidInput.Msg("the default domain cannot be deleted")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var domainID uuid.UUID
	for id, d := range m.domains {
		if d.Name == name {
			domainID = id
		}
	}
	if domainID == uuid.Nil {
		return dberror.ErrNotFound.Msg("domain not found")
	}
	for id, r := range m.repos {
		if r.DomainID == domainID {
			m.dropRepository(id)
		}
	}
	for id, c := range m.content {
		if c.DomainID == domainID {
			m.dropContent(id)
		}
	}
	for id, col := range m.collections {
		if col.DomainID == domainID {
			m.dropCollection(id)
		}
	}
	for k := range m.namespaces {
		if k.domain == domainID {
			delete(m.namespaces, k)
		}
	}
	for k := range m.downloads {
		if k.domain == domainID {
			delete(m.downloads, k)
		}
	}
	for id, r := range m.remotes {
		if r.DomainID == domainID {
			delete(m.remotes, id)
		}
	}
	for id, d := range m.distributions {
		if d.DomainID == domainID {
			delete(m.distributions, id)
		}
	}
	for id, t := range m.tasks {
		if t.DomainID == domainID {
			delete(m.tasks, id)
		}
	}
	delete(m.domains, domainID)
	log.Ctx(ctx).Info().Str("domain", name).Msg("deleted domain")
	return nil
}

// dropContent removes a content unit and the rows that hang off it.
func (m *memDb) dropContent(id uuid.UUID) {
	delete(m.content, id)
	if cv, ok := m.versions[id]; ok {
		delete(m.versions, id)
		delete(m.vectors, id)
		if byVersion := m.versionIndex[cv.CollectionID]; byVersion != nil {
			delete(byVersion, cv.Version)
		}
		for sid, s := range m.signatures {
			if s.CollectionVersionID == id {
				delete(m.signatures, sid)
			}
		}
		for k := range m.crossRepo {
			if k.cv == id {
				delete(m.crossRepo, k)
			}
		}
	}
	delete(m.nsMetadata, id)
	delete(m.roles, id)
	delete(m.signatures, id)
	delete(m.deprecations, id)
	delete(m.remoteArtifacts, id)
	for repoID, rows := range m.membership {
		kept := rows[:0]
		for _, rc := range rows {
			if rc.ContentID != id {
				kept = append(kept, rc)
			}
		}
		m.membership[repoID] = kept
	}
}

func (m *memDb) dropCollection(id uuid.UUID) {
	col, ok := m.collections[id]
	if !ok {
		return
	}
	for vid, cv := range m.versions {
		if cv.CollectionID == id {
			m.dropContent(vid)
		}
	}
	delete(m.collectionIndex, collectionKey{col.DomainID, col.Namespace, col.Name})
	delete(m.versionIndex, id)
	delete(m.collections, id)
}

func dedupe(in []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(in))
	out := make([]uuid.UUID, 0, len(in))
	for _, id := range in {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
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
