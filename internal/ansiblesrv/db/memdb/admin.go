package memdb

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgtype"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	ids "github.com/pulp/pulp-ansible-sub001/internal/common/uuid"
	"github.com/rs/zerolog/log"
)

func validRemote(r *models.Remote) bool {
	switch r.Type {
	case catcommon.RemoteTypeCollection, catcommon.RemoteTypeRole, catcommon.RemoteTypeGit:
	default:
		return false
	}
	return r.Policy.Valid()
}

func (m *memDb) remoteNameTaken(domainID uuid.UUID, name string, except uuid.UUID) bool {
	for id, r := range m.remotes {
		if id != except && r.DomainID == domainID && r.Name == name {
			return true
		}
	}
	return false
}

func (m *memDb) CreateRemote(ctx context.Context, r *models.Remote) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	if r.Policy == "" {
		r.Policy = catcommon.PolicyImmediate
	}
	if !validRemote(r) {
		return dberror.ErrInvalidInput.Msg("invalid remote type or policy")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.remoteNameTaken(domainID, r.Name, uuid.Nil) {
		log.Ctx(ctx).Info().Str("remote", r.Name).Msg("remote already exists")
		return dberror.ErrAlreadyExists.Msg("remote already exists")
	}
	now := time.Now()
	r.RemoteID = ids.New()
	r.DomainID = domainID
	r.CreatedAt, r.UpdatedAt = now, now
	stored := *r
	m.remotes[r.RemoteID] = &stored
	return nil
}

func (m *memDb) GetRemote(ctx context.Context, remoteID uuid.UUID) (*models.Remote, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.remotes[remoteID]
	if !ok || r.DomainID != domainID {
		return nil, dberror.ErrNotFound.Msg("remote not found")
	}
	out := *r
	return &out, nil
}

func (m *memDb) GetRemoteByName(ctx context.Context, name string) (*models.Remote, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.remotes {
		if r.DomainID == domainID && r.Name == name {
			out := *r
			return &out, nil
		}
	}
	return nil, dberror.ErrNotFound.Msg("remote not found")
}

func (m *memDb) ListRemotes(ctx context.Context) ([]*models.Remote, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Remote
	for _, r := range m.remotes {
		if r.DomainID == domainID {
			cp := *r
			out = append(out, &cp)
		}
	}
	sortBy(out, func(a, b *models.Remote) bool { return a.Name < b.Name })
	return out, nil
}

func (m *memDb) UpdateRemote(ctx context.Context, r *models.Remote) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	if !validRemote(r) {
		return dberror.ErrInvalidInput.Msg("invalid remote type or policy")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.remotes[r.RemoteID]
	if !ok || stored.DomainID != domainID {
		return dberror.ErrNotFound.Msg("remote not found")
	}
	if m.remoteNameTaken(domainID, r.Name, r.RemoteID) {
		return dberror.ErrAlreadyExists.Msg("remote already exists")
	}
	r.DomainID = domainID
	r.CreatedAt = stored.CreatedAt
	r.UpdatedAt = time.Now()
	*stored = *r
	return nil
}

// DeleteRemote detaches the remote from any repository that named it.
func (m *memDb) DeleteRemote(ctx context.Context, remoteID uuid.UUID) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.remotes[remoteID]
	if !ok || r.DomainID != domainID {
		return dberror.ErrNotFound.Msg("remote not found")
	}
	for _, repo := range m.repos {
		if repo.RemoteID.Valid && repo.RemoteID.UUID == remoteID {
			repo.RemoteID = uuid.NullUUID{}
		}
	}
	delete(m.remotes, remoteID)
	return nil
}

func (m *memDb) checkDistribution(ctx context.Context, domainID uuid.UUID, d *models.Distribution) apperrors.Error {
	if !d.Valid() {
		return dberror.ErrInvalidInput.Msg("exactly one of repository or repository_version must be set")
	}
	repo, ok := m.repos[d.TargetRepository()]
	if !ok {
		return dberror.ErrNotFound.Msg("repository not found")
	}
	if repo.DomainID != domainID {
		log.Ctx(ctx).Info().Str("base_path", d.BasePath).Msg("distribution target is in another domain")
		return ansibleerrors.CrossDomain("repository")
	}
	if d.VersionNumber.Valid {
		if _, ok := m.repoVersions[repo.RepositoryID][d.VersionNumber.Int64]; !ok {
			return dberror.ErrNotFound.Msg("repository version not found")
		}
	}
	for id, other := range m.distributions {
		if id == d.DistributionID || other.DomainID != domainID {
			continue
		}
		if other.BasePath == d.BasePath {
			log.Ctx(ctx).Info().Str("base_path", d.BasePath).Msg("base path already in use")
			return dberror.ErrAlreadyExists.Msg("base_path already in use in this domain")
		}
		if other.Name == d.Name {
			return dberror.ErrAlreadyExists.Msg("distribution already exists")
		}
	}
	return nil
}

func (m *memDb) CreateDistribution(ctx context.Context, d *models.Distribution) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d.DistributionID = uuid.Nil
	if aerr := m.checkDistribution(ctx, domainID, d); aerr != nil {
		return aerr
	}
	d.DistributionID = ids.New()
	d.DomainID = domainID
	d.CreatedAt = time.Now()
	stored := *d
	m.distributions[d.DistributionID] = &stored
	return nil
}

func (m *memDb) GetDistribution(ctx context.Context, distributionID uuid.UUID) (*models.Distribution, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.distributions[distributionID]
	if !ok || d.DomainID != domainID {
		return nil, dberror.ErrNotFound.Msg("distribution not found")
	}
	out := *d
	return &out, nil
}

func (m *memDb) GetDistributionByBasePath(ctx context.Context, basePath string) (*models.Distribution, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, d := range m.distributions {
		if d.DomainID == domainID && d.BasePath == basePath {
			out := *d
			return &out, nil
		}
	}
	return nil, dberror.ErrNotFound.Msg("distribution not found")
}

func (m *memDb) ListDistributions(ctx context.Context) ([]*models.Distribution, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Distribution
	for _, d := range m.distributions {
		if d.DomainID == domainID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sortBy(out, func(a, b *models.Distribution) bool { return a.BasePath < b.BasePath })
	return out, nil
}

func (m *memDb) UpdateDistribution(ctx context.Context, d *models.Distribution) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.distributions[d.DistributionID]
	if !ok || stored.DomainID != domainID {
		return dberror.ErrNotFound.Msg("distribution not found")
	}
	if aerr := m.checkDistribution(ctx, domainID, d); aerr != nil {
		return aerr
	}
	stored.Name = d.Name
	stored.BasePath = d.BasePath
	stored.RepositoryID = d.RepositoryID
	stored.VersionRepositoryID = d.VersionRepositoryID
	stored.VersionNumber = d.VersionNumber
	return nil
}

func (m *memDb) DeleteDistribution(ctx context.Context, distributionID uuid.UUID) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.distributions[distributionID]
	if !ok || d.DomainID != domainID {
		return dberror.ErrNotFound.Msg("distribution not found")
	}
	delete(m.distributions, distributionID)
	return nil
}

func copyTask(t *models.Task) *models.Task {
	out := *t
	out.Progress.Bytes = append([]byte(nil), t.Progress.Bytes...)
	out.Error.Bytes = append([]byte(nil), t.Error.Bytes...)
	return &out
}

func (m *memDb) CreateTask(ctx context.Context, t *models.Task) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.TaskID]; ok {
		return dberror.ErrAlreadyExists.Msg("task already exists")
	}
	t.DomainID = domainID
	t.CreatedAt = time.Now()
	if t.Progress.Status != pgtype.Present {
		t.Progress = pgtype.JSONB{Bytes: []byte("[]"), Status: pgtype.Present}
	}
	if t.Error.Status == pgtype.Undefined {
		t.Error = pgtype.JSONB{Status: pgtype.Null}
	}
	m.tasks[t.TaskID] = copyTask(t)
	return nil
}

func (m *memDb) GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok || t.DomainID != domainID {
		return nil, dberror.ErrNotFound.Msg("task not found")
	}
	return copyTask(t), nil
}

func (m *memDb) UpdateTask(ctx context.Context, t *models.Task) apperrors.Error {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return aerr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.tasks[t.TaskID]
	if !ok || stored.DomainID != domainID {
		return dberror.ErrNotFound.Msg("task not found")
	}
	updated := copyTask(t)
	stored.State = updated.State
	stored.Progress = updated.Progress
	stored.Error = updated.Error
	if stored.Error.Status == pgtype.Undefined {
		stored.Error = pgtype.JSONB{Status: pgtype.Null}
	}
	stored.CreatedVersion = updated.CreatedVersion
	stored.StartedAt = updated.StartedAt
	stored.FinishedAt = updated.FinishedAt
	return nil
}

func (m *memDb) ListTasks(ctx context.Context, limit, offset int) ([]*models.Task, int, apperrors.Error) {
	domainID, aerr := domainFromContext(ctx)
	if aerr != nil {
		return nil, 0, aerr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var tasks []*models.Task
	for _, t := range m.tasks {
		if t.DomainID == domainID {
			tasks = append(tasks, copyTask(t))
		}
	}
	sortBy(tasks, func(a, b *models.Task) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.TaskID.String() < b.TaskID.String()
	})
	return pageOf(tasks, limit, offset), len(tasks), nil
}

func (m *memDb) referenced(id uuid.UUID) bool {
	for _, rows := range m.membership {
		for _, rc := range rows {
			if rc.ContentID == id {
				return true
			}
		}
	}
	return false
}

// DeleteOrphanContent removes content older than olderThan that no
// repository version holds, then re-flags the highest version of every
// collection that lost one.
func (m *memDb) DeleteOrphanContent(ctx context.Context, olderThan time.Time) (int64, apperrors.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	touched := map[uuid.UUID]struct{}{}
	for id, c := range m.content {
		if !c.CreatedAt.Before(olderThan) || m.referenced(id) {
			continue
		}
		if cv, ok := m.versions[id]; ok {
			touched[cv.CollectionID] = struct{}{}
		}
		m.dropContent(id)
		n++
	}
	for colID := range touched {
		m.recomputeHighest(colID)
	}
	return n, nil
}

// DiscardContent removes the listed content created at or after since that
// no repository version holds.
func (m *memDb) DiscardContent(ctx context.Context, contentIDs []uuid.UUID, since time.Time) (int64, apperrors.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	touched := map[uuid.UUID]struct{}{}
	for _, id := range dedupe(contentIDs) {
		c, ok := m.content[id]
		if !ok || c.CreatedAt.Before(since) || m.referenced(id) {
			continue
		}
		if cv, ok := m.versions[id]; ok {
			touched[cv.CollectionID] = struct{}{}
		}
		m.dropContent(id)
		n++
	}
	for colID := range touched {
		m.recomputeHighest(colID)
	}
	return n, nil
}

func (m *memDb) DeleteEmptyCollections(ctx context.Context) (int64, apperrors.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id := range m.collections {
		if len(m.versionIndex[id]) == 0 {
			m.dropCollection(id)
			n++
		}
	}
	return n, nil
}

func (m *memDb) artifactReferenced(sha string) bool {
	for _, c := range m.content {
		if c.ArtifactSha256 == sha {
			return true
		}
	}
	return false
}

func (m *memDb) ListOrphanArtifacts(ctx context.Context, olderThan time.Time) ([]string, apperrors.Error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for sha, a := range m.artifacts {
		if a.CreatedAt.Before(olderThan) && !m.artifactReferenced(sha) {
			out = append(out, sha)
		}
	}
	sortBy(out, func(a, b string) bool { return a < b })
	return out, nil
}

func (m *memDb) DeleteArtifact(ctx context.Context, sha256 string) apperrors.Error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.artifactReferenced(sha256) {
		delete(m.artifacts, sha256)
	}
	return nil
}

func (m *memDb) IsArtifactReferenced(ctx context.Context, sha256 string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.artifactReferenced(sha256), nil
}
