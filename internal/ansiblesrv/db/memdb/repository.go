package memdb

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/index"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	ids "github.com/pulp/pulp-ansible-sub001/internal/common/uuid"
	"github.com/rs/zerolog/log"
)

func (m *memDb) checkRemoteDomain(domainID uuid.UUID, remoteID uuid.NullUUID) apperrors.Error {
	if !remoteID.Valid {
		return nil
	}
	r, ok := m.remotes[remoteID.UUID]
	if !ok {
		return dberror.ErrNotFound.Msg("remote not found")
	}
	if r.DomainID != domainID {
		return ansibleerrors.CrossDomain("remote")
	}
	return nil
}

func (m *memDb) repositoryNameTaken(domainID uuid.UUID, name string, except uuid.UUID) bool {
	for id, r := range m.repos {
		if id != except && r.DomainID == domainID && r.Name == name {
			return true
		}
	}
	return false
}

func (m *memDb) CreateRepository(ctx context.Context, repo *models.Repository) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if aerr := m.checkRemoteDomain(domainID, repo.RemoteID); aerr != nil {
		return aerr
	}
	if m.repositoryNameTaken(domainID, repo.Name, uuid.Nil) {
		log.Ctx(ctx).Info().Str("repository", repo.Name).Msg("repository already exists")
		return dberror.ErrAlreadyExists.Msg("repository already exists")
	}
	now := time.Now()
	repo.RepositoryID = ids.New()
	repo.DomainID = domainID
	repo.LatestVersionNumber = 0
	repo.CreatedAt = now
	stored := *repo
	m.repos[repo.RepositoryID] = &stored
	m.repoVersions[repo.RepositoryID] = map[int64]*models.RepositoryVersion{
		0: {RepositoryID: repo.RepositoryID, Number: 0, Complete: true, CreatedAt: now},
	}
	return nil
}

func (m *memDb) GetRepository(ctx context.Context, repoID uuid.UUID) (*models.Repository, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repos[repoID]
	if !ok || r.DomainID != domainID {
		return nil, dberror.ErrNotFound.Msg("repository not found")
	}
	out := *r
	return &out, nil
}

func (m *memDb) GetRepositoryByName(ctx context.Context, name string) (*models.Repository, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.repos {
		if r.DomainID == domainID && r.Name == name {
			out := *r
			return &out, nil
		}
	}
	return nil, dberror.ErrNotFound.Msg("repository not found")
}

func (m *memDb) ListRepositories(ctx context.Context) ([]*models.Repository, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Repository
	for _, r := range m.repos {
		if r.DomainID == domainID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortBy(out, func(a, b *models.Repository) bool { return a.Name < b.Name })
	return out, nil
}

func (m *memDb) UpdateRepository(ctx context.Context, repo *models.Repository) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if aerr := m.checkRemoteDomain(domainID, repo.RemoteID); aerr != nil {
		return aerr
	}
	stored, ok := m.repos[repo.RepositoryID]
	if !ok || stored.DomainID != domainID {
		return dberror.ErrNotFound.Msg("repository not found")
	}
	if m.repositoryNameTaken(domainID, repo.Name, repo.RepositoryID) {
		return dberror.ErrAlreadyExists.Msg("repository already exists")
	}
	stored.Name = repo.Name
	stored.Description = repo.Description
	stored.Autopublish = repo.Autopublish
	stored.Keyring = repo.Keyring
	stored.RemoteID = repo.RemoteID
	return nil
}

func (m *memDb) DeleteRepository(ctx context.Context, repoID uuid.UUID) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[repoID]
	if !ok || r.DomainID != domainID {
		return dberror.ErrNotFound.Msg("repository not found")
	}
	for _, d := range m.distributions {
		if d.TargetRepository() == repoID {
			log.Ctx(ctx).Info().Str("repository_id", repoID.String()).Msg("repository is still distributed")
			return dberror.ErrInUse.Msg("repository is referenced by a distribution")
		}
	}
	m.dropRepository(repoID)
	return nil
}

func (m *memDb) dropRepository(repoID uuid.UUID) {
	delete(m.repos, repoID)
	delete(m.repoVersions, repoID)
	delete(m.membership, repoID)
	delete(m.syncStates, repoID)
	kept := m.publications[:0]
	for _, p := range m.publications {
		if p.RepositoryID != repoID {
			kept = append(kept, p)
		}
	}
	m.publications = kept
	for k := range m.crossRepo {
		if k.repo == repoID {
			delete(m.crossRepo, k)
		}
	}
}

// repositoryDomain checks that repoID belongs to the domain in ctx. The
// caller holds the lock.
func (m *memDb) repositoryDomain(ctx context.Context, repoID uuid.UUID) (uuid.UUID, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return uuid.Nil, aerr
	}
	r, ok := m.repos[repoID]
	if !ok || r.DomainID != domainID {
		log.Ctx(ctx).Info().Str("repository_id", repoID.String()).Msg("repository not found in domain")
		return uuid.Nil, dberror.ErrNotFound.Msg("repository not found")
	}
	return domainID, nil
}

func (m *memDb) GetRepositoryVersion(ctx context.Context, repoID uuid.UUID, number int64) (*models.RepositoryVersion, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, aerr := m.repositoryDomain(ctx, repoID); aerr != nil {
		return nil, aerr
	}
	v, ok := m.repoVersions[repoID][number]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("repository version not found")
	}
	out := *v
	return &out, nil
}

func (m *memDb) ListRepositoryVersions(ctx context.Context, repoID uuid.UUID) ([]*models.RepositoryVersion, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, aerr := m.repositoryDomain(ctx, repoID); aerr != nil {
		return nil, aerr
	}
	var out []*models.RepositoryVersion
	for _, v := range m.repoVersions[repoID] {
		if v.Complete {
			cp := *v
			out = append(out, &cp)
		}
	}
	sortBy(out, func(a, b *models.RepositoryVersion) bool { return a.Number > b.Number })
	return out, nil
}

func (m *memDb) BeginVersion(ctx context.Context, repoID uuid.UUID) (*models.RepositoryVersion, apperrors.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, aerr := m.repositoryDomain(ctx, repoID); aerr != nil {
		return nil, aerr
	}
	for _, v := range m.repoVersions[repoID] {
		if !v.Complete {
			log.Ctx(ctx).Info().Str("repository_id", repoID.String()).Msg("repository already has a draft version")
			return nil, ansibleerrors.ErrRepositoryBusy
		}
	}
	draft := &models.RepositoryVersion{
		RepositoryID: repoID,
		Number:       m.repos[repoID].LatestVersionNumber + 1,
		CreatedAt:    time.Now(),
	}
	m.repoVersions[repoID][draft.Number] = draft
	out := *draft
	return &out, nil
}

// openDraft looks up the stored row of draft within the domain in ctx.
func (m *memDb) openDraft(ctx context.Context, draft *models.RepositoryVersion) (uuid.UUID, *models.RepositoryVersion, apperrors.Error) {
	domainID, aerr := m.repositoryDomain(ctx, draft.RepositoryID)
	if aerr != nil {
		return uuid.Nil, nil, aerr
	}
	v, ok := m.repoVersions[draft.RepositoryID][draft.Number]
	if !ok {
		return uuid.Nil, nil, dberror.ErrNotFound.Msg("repository version not found")
	}
	return domainID, v, nil
}

func (m *memDb) AddContent(ctx context.Context, draft *models.RepositoryVersion, contentIDs []uuid.UUID) apperrors.Error {
	contentIDs = dedupe(contentIDs)
	if len(contentIDs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	domainID, v, aerr := m.openDraft(ctx, draft)
	if aerr != nil {
		return aerr
	}
	if v.Complete {
		return dberror.ErrVersionComplete
	}
	for _, id := range contentIDs {
		c, ok := m.content[id]
		if !ok {
			return dberror.ErrNotFound.Msg("content not found")
		}
		if c.DomainID != domainID {
			log.Ctx(ctx).Info().Str("content_id", id.String()).Msg("refusing content from another domain")
			return ansibleerrors.CrossDomain("content")
		}
	}
	rows := m.membership[draft.RepositoryID]
	for _, id := range contentIDs {
		var open, closedHere *models.RepositoryContent
		for _, rc := range rows {
			if rc.ContentID != id {
				continue
			}
			if !rc.VersionRemoved.Valid {
				open = rc
			} else if rc.VersionRemoved.Int64 == draft.Number {
				closedHere = rc
			}
		}
		switch {
		case open != nil:
		case closedHere != nil:
			closedHere.VersionRemoved = sql.NullInt64{}
		default:
			rows = append(rows, &models.RepositoryContent{
				RepositoryID: draft.RepositoryID,
				ContentID:    id,
				VersionAdded: draft.Number,
			})
		}
	}
	m.membership[draft.RepositoryID] = rows
	return nil
}

func (m *memDb) RemoveContent(ctx context.Context, draft *models.RepositoryVersion, contentIDs []uuid.UUID) apperrors.Error {
	contentIDs = dedupe(contentIDs)
	if len(contentIDs) == 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, v, aerr := m.openDraft(ctx, draft)
	if aerr != nil {
		return aerr
	}
	if v.Complete {
		return dberror.ErrVersionComplete
	}
	remove := make(map[uuid.UUID]struct{}, len(contentIDs))
	for _, id := range contentIDs {
		remove[id] = struct{}{}
	}
	rows := m.membership[draft.RepositoryID]
	kept := rows[:0]
	for _, rc := range rows {
		if _, ok := remove[rc.ContentID]; ok && !rc.VersionRemoved.Valid {
			if rc.VersionAdded == draft.Number {
				continue
			}
			rc.VersionRemoved = sql.NullInt64{Int64: draft.Number, Valid: true}
		}
		kept = append(kept, rc)
	}
	m.membership[draft.RepositoryID] = kept
	return nil
}

// members returns the content of version n of the repository.
func (m *memDb) members(repoID uuid.UUID, n int64) []uuid.UUID {
	var out []uuid.UUID
	for _, rc := range m.membership[repoID] {
		if rc.InVersion(n) {
			out = append(out, rc.ContentID)
		}
	}
	return out
}

func (m *memDb) memberSet(repoID uuid.UUID, n int64) map[uuid.UUID]struct{} {
	set := map[uuid.UUID]struct{}{}
	for _, id := range m.members(repoID, n) {
		set[id] = struct{}{}
	}
	return set
}

func (m *memDb) latestVersion(repoID uuid.UUID) *models.RepositoryVersion {
	return m.repoVersions[repoID][m.repos[repoID].LatestVersionNumber]
}

func (m *memDb) CommitVersion(ctx context.Context, draft *models.RepositoryVersion) (*models.RepositoryVersion, apperrors.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	domainID, v, aerr := m.openDraft(ctx, draft)
	if aerr != nil {
		return nil, aerr
	}
	if v.Complete {
		out := *v
		return &out, nil
	}
	repo := m.repos[draft.RepositoryID]
	added, removed := index.Delta(m.members(repo.RepositoryID, repo.LatestVersionNumber), m.members(repo.RepositoryID, draft.Number))
	if len(added) == 0 && len(removed) == 0 {
		delete(m.repoVersions[repo.RepositoryID], draft.Number)
		latest := *m.latestVersion(repo.RepositoryID)
		log.Ctx(ctx).Info().Int64("version", latest.Number).Msg("draft made no changes; keeping latest version")
		return &latest, nil
	}
	v.Complete = true
	repo.LatestVersionNumber = draft.Number
	m.applyCrossRepoDelta(domainID, repo.RepositoryID, draft.Number, &models.VersionChanges{Added: added, Removed: removed})
	if repo.Autopublish {
		m.publications = append(m.publications, &models.Publication{
			PublicationID: ids.New(),
			RepositoryID:  repo.RepositoryID,
			VersionNumber: draft.Number,
			CreatedAt:     time.Now(),
		})
	}
	log.Ctx(ctx).Info().
		Str("repository_id", repo.RepositoryID.String()).
		Int64("version", draft.Number).
		Int("added", len(added)).
		Int("removed", len(removed)).
		Msg("committed repository version")
	out := *v
	return &out, nil
}

// applyCrossRepoDelta brings the cross repository index of repoID in line
// with version n.
func (m *memDb) applyCrossRepoDelta(domainID, repoID uuid.UUID, n int64, changes *models.VersionChanges) {
	touched := map[uuid.UUID]struct{}{}
	for _, id := range changes.Removed {
		if cv, ok := m.versions[id]; ok {
			touched[cv.CollectionID] = struct{}{}
		}
		delete(m.crossRepo, crossKey{repoID, id})
	}
	for _, id := range changes.Added {
		cv, ok := m.versions[id]
		if !ok {
			continue
		}
		touched[cv.CollectionID] = struct{}{}
		m.crossRepo[crossKey{repoID, id}] = &models.CrossRepoEntry{
			DomainID:            domainID,
			RepositoryID:        repoID,
			CollectionVersionID: id,
			CollectionID:        cv.CollectionID,
			Namespace:           cv.Namespace,
			Name:                cv.Name,
			Version:             cv.Version,
		}
	}
	for _, id := range append(append([]uuid.UUID{}, changes.Added...), changes.Removed...) {
		if dm, ok := m.deprecations[id]; ok {
			if colID, ok := m.collectionIndex[collectionKey{dm.DomainID, dm.Namespace, dm.Name}]; ok {
				touched[colID] = struct{}{}
			}
		}
	}

	for colID := range touched {
		var entries []*models.CrossRepoEntry
		for k, e := range m.crossRepo {
			if k.repo == repoID && e.CollectionID == colID {
				entries = append(entries, e)
			}
		}
		versions := make([]string, len(entries))
		for i, e := range entries {
			versions[i] = e.Version
		}
		highest, ok := index.PickHighest(versions)
		for i, e := range entries {
			e.IsHighest = ok && i == highest
			e.IsDeprecated = m.isDeprecatedIn(repoID, n, e.DomainID, e.Namespace, e.Name)
		}
	}
}

// DiscardVersion rolls the draft back. Discarding a draft that no longer
// exists is a no-op.
func (m *memDb) DiscardVersion(ctx context.Context, draft *models.RepositoryVersion) apperrors.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, aerr := m.repositoryDomain(ctx, draft.RepositoryID); aerr != nil {
		return aerr
	}
	v, ok := m.repoVersions[draft.RepositoryID][draft.Number]
	if !ok {
		return nil
	}
	if v.Complete {
		return dberror.ErrVersionComplete
	}
	rows := m.membership[draft.RepositoryID]
	kept := rows[:0]
	for _, rc := range rows {
		if rc.VersionAdded == draft.Number {
			continue
		}
		if rc.VersionRemoved.Valid && rc.VersionRemoved.Int64 == draft.Number {
			rc.VersionRemoved = sql.NullInt64{}
		}
		kept = append(kept, rc)
	}
	m.membership[draft.RepositoryID] = kept
	delete(m.repoVersions[draft.RepositoryID], draft.Number)
	log.Ctx(ctx).Info().Str("repository_id", draft.RepositoryID.String()).Int64("version", draft.Number).Msg("discarded draft version")
	return nil
}

func (m *memDb) ListPublications(ctx context.Context, repoID uuid.UUID) ([]*models.Publication, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, aerr := m.repositoryDomain(ctx, repoID); aerr != nil {
		return nil, aerr
	}
	var out []*models.Publication
	for _, p := range m.publications {
		if p.RepositoryID == repoID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sortBy(out, func(a, b *models.Publication) bool { return a.VersionNumber > b.VersionNumber })
	return out, nil
}

func (m *memDb) GetSyncState(ctx context.Context, repoID uuid.UUID) (*models.SyncState, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, aerr := m.repositoryDomain(ctx, repoID); aerr != nil {
		return nil, aerr
	}
	st, ok := m.syncStates[repoID]
	if !ok {
		return nil, dberror.ErrNotFound.Msg("repository has not been synced")
	}
	out := *st
	return &out, nil
}

func (m *memDb) SetSyncState(ctx context.Context, st *models.SyncState) apperrors.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, aerr := m.repositoryDomain(ctx, st.RepositoryID); aerr != nil {
		return aerr
	}
	stored := *st
	stored.SyncedAt = time.Now()
	m.syncStates[st.RepositoryID] = &stored
	return nil
}
