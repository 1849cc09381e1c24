package db

import (
	"context"
	"database/sql"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v4/stdlib"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/memdb"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/postgresql"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDSNEnv names a PostgreSQL database the suite may write to. Without
// it only the in-memory catalog is exercised.
const testDSNEnv = "PULP_ANSIBLE_TEST_DSN"

type backend struct {
	name string
	db   DB_
}

func backends(t *testing.T) []backend {
	ctx := log.Logger.WithContext(context.Background())
	out := []backend{{name: "memory", db: memdb.New()}}
	if dsn := os.Getenv(testDSNEnv); dsn != "" {
		sqlDB, err := sql.Open("pgx", dsn)
		require.NoError(t, err)
		pg := postgresql.New(sqlDB)
		require.NoError(t, pg.Migrate(ctx))
		t.Cleanup(func() { pg.Close(ctx) })
		out = append(out, backend{name: "postgresql", db: pg})
	}
	return out
}

// forEachBackend runs fn once per catalog, each time inside a fresh domain.
func forEachBackend(t *testing.T, fn func(t *testing.T, ctx context.Context, d DB_)) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := newDomain(t, b.db)
			fn(t, ctx, b.db)
		})
	}
}

func newDomain(t *testing.T, d DB_) context.Context {
	ctx := log.Logger.WithContext(context.Background())
	dom := &models.Domain{Name: "test-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]}
	require.NoError(t, d.CreateDomain(ctx, dom))
	t.Cleanup(func() { d.DeleteDomain(ctx, dom.Name) })
	return catcommon.SetDomainInContext(ctx, &catcommon.DomainContext{DomainId: dom.DomainID, Name: dom.Name})
}

func sha(c byte) string {
	return strings.Repeat(string(c), 64)
}

func addVersion(t *testing.T, ctx context.Context, d DB_, namespace, name, version string, shaChar byte) *models.CollectionVersion {
	cv, err := d.UpsertCollectionVersion(ctx, &models.CollectionVersion{
		Namespace:   namespace,
		Name:        name,
		Version:     version,
		Sha256:      sha(shaChar),
		Description: "collection " + namespace + "." + name,
		Tags:        []string{"testing"},
	})
	require.NoError(t, err)
	return cv
}

func commit(t *testing.T, ctx context.Context, d DB_, repoID uuid.UUID, add, remove []uuid.UUID) *models.RepositoryVersion {
	draft, err := d.BeginVersion(ctx, repoID)
	require.NoError(t, err)
	require.NoError(t, d.AddContent(ctx, draft, add))
	require.NoError(t, d.RemoveContent(ctx, draft, remove))
	v, err := d.CommitVersion(ctx, draft)
	require.NoError(t, err)
	return v
}

func contentIDs(t *testing.T, ctx context.Context, d DB_, repoID uuid.UUID, n int64) []uuid.UUID {
	content, err := d.ContentIn(ctx, repoID, n, "")
	require.NoError(t, err)
	out := make([]uuid.UUID, 0, len(content))
	for _, c := range content {
		out = append(out, c.ContentID)
	}
	return out
}

func TestDomains(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := log.Logger.WithContext(context.Background())
			name := "dom-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
			d := &models.Domain{Name: name}
			assert.NoError(t, b.db.CreateDomain(ctx, d))
			defer b.db.DeleteDomain(ctx, name)
			assert.NotEqual(t, uuid.Nil, d.DomainID)

			err := b.db.CreateDomain(ctx, &models.Domain{Name: name})
			assert.ErrorIs(t, err, dberror.ErrAlreadyExists)

			err = b.db.CreateDomain(ctx, &models.Domain{Name: "has space"})
			assert.ErrorIs(t, err, dberror.ErrInvalidInput)

			got, err := b.db.GetDomainByName(ctx, name)
			assert.NoError(t, err)
			assert.Equal(t, d.DomainID, got.DomainID)

			_, err = b.db.GetDomainByName(ctx, catcommon.DefaultDomainName)
			assert.NoError(t, err)
			assert.Error(t, b.db.DeleteDomain(ctx, catcommon.DefaultDomainName))
		})
	}
}

func TestMissingDomain(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctx := log.Logger.WithContext(context.Background())
			_, err := b.db.ListRepositories(ctx)
			assert.ErrorIs(t, err, dberror.ErrMissingDomain)
		})
	}
}

func TestUpsertCollectionVersion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ctx context.Context, d DB_) {
		v1 := addVersion(t, ctx, d, "acme", "demo", "1.0.0", 'a')
		assert.True(t, v1.IsHighest)
		assert.Equal(t, int64(1), v1.VersionMajor)

		again := addVersion(t, ctx, d, "acme", "demo", "1.0.0", 'a')
		assert.Equal(t, v1.ContentID, again.ContentID)

		_, err := d.UpsertCollectionVersion(ctx, &models.CollectionVersion{
			Namespace: "acme", Name: "demo", Version: "1.0.0", Sha256: sha('b'),
		})
		assert.ErrorIs(t, err, ansibleerrors.ErrDuplicateVersion)

		_, err = d.UpsertCollectionVersion(ctx, &models.CollectionVersion{
			Namespace: "acme", Name: "demo", Version: "1.0", Sha256: sha('b'),
		})
		assert.ErrorIs(t, err, ansibleerrors.ErrInvalidVersion)

		addVersion(t, ctx, d, "acme", "demo", "1.10.0", 'c')
		addVersion(t, ctx, d, "acme", "demo", "2.0.0-rc.1", 'd')
		addVersion(t, ctx, d, "acme", "demo", "1.9.0", 'e')

		versions, err := d.ListCollectionVersions(ctx, "acme", "demo")
		require.NoError(t, err)
		require.Len(t, versions, 4)
		assert.Equal(t, "2.0.0-rc.1", versions[0].Version)
		var highest []string
		for _, cv := range versions {
			if cv.IsHighest {
				highest = append(highest, cv.Version)
			}
		}
		assert.Equal(t, []string{"1.10.0"}, highest)

		_, err = d.GetCollection(ctx, "acme", "demo")
		assert.NoError(t, err)
		_, err = d.GetNamespace(ctx, "acme")
		assert.NoError(t, err)
	})
}

func TestRepositoryVersionMembership(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ctx context.Context, d DB_) {
		repo := &models.Repository{Name: "rpm"}
		require.NoError(t, d.CreateRepository(ctx, repo))
		assert.Equal(t, int64(0), repo.LatestVersionNumber)
		assert.ErrorIs(t, d.CreateRepository(ctx, &models.Repository{Name: "rpm"}), dberror.ErrAlreadyExists)

		a := addVersion(t, ctx, d, "acme", "a", "1.0.0", 'a')
		b := addVersion(t, ctx, d, "acme", "b", "1.0.0", 'b')
		c := addVersion(t, ctx, d, "acme", "c", "1.0.0", 'c')

		draft, err := d.BeginVersion(ctx, repo.RepositoryID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), draft.Number)
		_, err = d.BeginVersion(ctx, repo.RepositoryID)
		assert.ErrorIs(t, err, ansibleerrors.ErrRepositoryBusy)

		require.NoError(t, d.AddContent(ctx, draft, []uuid.UUID{a.ContentID, b.ContentID, a.ContentID}))
		v1, err := d.CommitVersion(ctx, draft)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v1.Number)
		assert.True(t, v1.Complete)

		again, err := d.CommitVersion(ctx, draft)
		require.NoError(t, err)
		assert.Equal(t, int64(1), again.Number)
		assert.ErrorIs(t, d.AddContent(ctx, draft, []uuid.UUID{c.ContentID}), dberror.ErrVersionComplete)

		v2 := commit(t, ctx, d, repo.RepositoryID, []uuid.UUID{c.ContentID}, []uuid.UUID{a.ContentID})
		assert.Equal(t, int64(2), v2.Number)

		assert.Empty(t, contentIDs(t, ctx, d, repo.RepositoryID, 0))
		assert.ElementsMatch(t, []uuid.UUID{a.ContentID, b.ContentID}, contentIDs(t, ctx, d, repo.RepositoryID, 1))
		assert.ElementsMatch(t, []uuid.UUID{b.ContentID, c.ContentID}, contentIDs(t, ctx, d, repo.RepositoryID, 2))

		versions, err := d.ListRepositoryVersions(ctx, repo.RepositoryID)
		require.NoError(t, err)
		require.Len(t, versions, 3)
		assert.Equal(t, int64(2), versions[0].Number)

		got, err := d.GetRepository(ctx, repo.RepositoryID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.LatestVersionNumber)
	})
}

func TestCommitWithoutChanges(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ctx context.Context, d DB_) {
		repo := &models.Repository{Name: "noop"}
		require.NoError(t, d.CreateRepository(ctx, repo))
		a := addVersion(t, ctx, d, "acme", "a", "1.0.0", 'a')
		commit(t, ctx, d, repo.RepositoryID, []uuid.UUID{a.ContentID}, nil)

		// removing and re-adding the same content nets out to nothing
		draft, err := d.BeginVersion(ctx, repo.RepositoryID)
		require.NoError(t, err)
		require.NoError(t, d.RemoveContent(ctx, draft, []uuid.UUID{a.ContentID}))
		require.NoError(t, d.AddContent(ctx, draft, []uuid.UUID{a.ContentID}))
		v, err := d.CommitVersion(ctx, draft)
		require.NoError(t, err)
		assert.Equal(t, int64(1), v.Number)

		next, err := d.BeginVersion(ctx, repo.RepositoryID)
		require.NoError(t, err)
		assert.Equal(t, int64(2), next.Number)
		require.NoError(t, d.DiscardVersion(ctx, next))
	})
}

func TestDiscardVersion(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ctx context.Context, d DB_) {
		repo := &models.Repository{Name: "discard"}
		require.NoError(t, d.CreateRepository(ctx, repo))
		a := addVersion(t, ctx, d, "acme", "a", "1.0.0", 'a')
		b := addVersion(t, ctx, d, "acme", "b", "1.0.0", 'b')
		commit(t, ctx, d, repo.RepositoryID, []uuid.UUID{a.ContentID}, nil)

		draft, err := d.BeginVersion(ctx, repo.RepositoryID)
		require.NoError(t, err)
		require.NoError(t, d.RemoveContent(ctx, draft, []uuid.UUID{a.ContentID}))
		require.NoError(t, d.AddContent(ctx, draft, []uuid.UUID{b.ContentID}))
		require.NoError(t, d.DiscardVersion(ctx, draft))
		require.NoError(t, d.DiscardVersion(ctx, draft))

		assert.Equal(t, []uuid.UUID{a.ContentID}, contentIDs(t, ctx, d, repo.RepositoryID, 1))
		_, err = d.GetRepositoryVersion(ctx, repo.RepositoryID, 2)
		assert.ErrorIs(t, err, dberror.ErrNotFound)

		v := commit(t, ctx, d, repo.RepositoryID, []uuid.UUID{b.ContentID}, nil)
		assert.Equal(t, int64(2), v.Number)
	})
}

func TestCrossDomainContent(t *testing.T) {
	for _, b := range backends(t) {
		t.Run(b.name, func(t *testing.T) {
			ctxA := newDomain(t, b.db)
			ctxB := newDomain(t, b.db)
			cv := addVersion(t, ctxA, b.db, "acme", "a", "1.0.0", 'a')

			repo := &models.Repository{Name: "other"}
			require.NoError(t, b.db.CreateRepository(ctxB, repo))
			draft, err := b.db.BeginVersion(ctxB, repo.RepositoryID)
			require.NoError(t, err)
			err = b.db.AddContent(ctxB, draft, []uuid.UUID{cv.ContentID})
			require.ErrorIs(t, err, ansibleerrors.ErrCrossDomain)
			assert.Contains(t, err.Error(), "content belongs to a different domain")
			assert.NotContains(t, err.Error(), "another domain")
			require.NoError(t, b.db.DiscardVersion(ctxB, draft))

			_, err = b.db.GetRepository(ctxA, repo.RepositoryID)
			assert.ErrorIs(t, err, dberror.ErrNotFound)
			_, err = b.db.GetCollectionVersionByID(ctxB, cv.ContentID)
			assert.ErrorIs(t, err, dberror.ErrNotFound)
		})
	}
}

func TestListCollectionVersionsIn(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ctx context.Context, d DB_) {
		repo := &models.Repository{Name: "listing"}
		require.NoError(t, d.CreateRepository(ctx, repo))
		a1 := addVersion(t, ctx, d, "acme", "net", "1.0.0", 'a')
		a2 := addVersion(t, ctx, d, "acme", "net", "1.1.0", 'b')
		outside := addVersion(t, ctx, d, "acme", "net", "3.0.0", 'c')
		b1, err := d.UpsertCollectionVersion(ctx, &models.CollectionVersion{
			Namespace: "zeta",
			Name:      "cloud",
			Version:   "0.1.0",
			Sha256:    sha('d'),
			Tags:      []string{"cloud"},
			Contents:  []models.ContentEntry{{Name: "instance_info", ContentType: "module"}},
		})
		require.NoError(t, err)
		marker, err := d.UpsertDeprecationMarker(ctx, "zeta", "cloud")
		require.NoError(t, err)
		v := commit(t, ctx, d, repo.RepositoryID, []uuid.UUID{a1.ContentID, a2.ContentID, b1.ContentID, marker.ContentID}, nil)

		all, total, err := d.ListCollectionVersionsIn(ctx, repo.RepositoryID, v.Number, models.CollectionVersionFilter{}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		assert.Equal(t, "1.1.0", all[0].Version)
		assert.Equal(t, "1.0.0", all[1].Version)
		assert.Equal(t, "zeta", all[2].Namespace)

		// highest is decided within the repository version, not globally
		highest, total, err := d.ListCollectionVersionsIn(ctx, repo.RepositoryID, v.Number, models.CollectionVersionFilter{HighestOnly: true}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		assert.Equal(t, a2.ContentID, highest[0].ContentID)
		assert.NotEqual(t, outside.ContentID, highest[0].ContentID)

		page, total, err := d.ListCollectionVersionsIn(ctx, repo.RepositoryID, v.Number, models.CollectionVersionFilter{}, 1, 1)
		require.NoError(t, err)
		assert.Equal(t, 3, total)
		require.Len(t, page, 1)
		assert.Equal(t, a1.ContentID, page[0].ContentID)

		found, _, err := d.ListCollectionVersionsIn(ctx, repo.RepositoryID, v.Number, models.CollectionVersionFilter{Keywords: "instance_info"}, 10, 0)
		require.NoError(t, err)
		require.Len(t, found, 1)
		assert.Equal(t, b1.ContentID, found[0].ContentID)

		tagged, _, err := d.ListCollectionVersionsIn(ctx, repo.RepositoryID, v.Number, models.CollectionVersionFilter{Tags: []string{"testing"}}, 10, 0)
		require.NoError(t, err)
		assert.Len(t, tagged, 2)

		deprecated := true
		dep, _, err := d.ListCollectionVersionsIn(ctx, repo.RepositoryID, v.Number, models.CollectionVersionFilter{Deprecated: &deprecated}, 10, 0)
		require.NoError(t, err)
		require.Len(t, dep, 1)
		assert.Equal(t, "cloud", dep[0].Name)

		isDep, err := d.IsDeprecatedIn(ctx, repo.RepositoryID, v.Number, "zeta", "cloud")
		require.NoError(t, err)
		assert.True(t, isDep)
		isDep, err = d.IsDeprecatedIn(ctx, repo.RepositoryID, 0, "zeta", "cloud")
		require.NoError(t, err)
		assert.False(t, isDep)

		summaries, total, err := d.ListCollectionsIn(ctx, repo.RepositoryID, v.Number, models.CollectionVersionFilter{}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		require.Len(t, summaries, 2)
		assert.Equal(t, "net", summaries[0].Name)
		assert.Equal(t, 2, summaries[0].VersionCount)
		require.NotNil(t, summaries[0].Highest)
		assert.Equal(t, "1.1.0", summaries[0].Highest.Version)
		assert.False(t, summaries[0].Deprecated)
		assert.True(t, summaries[1].Deprecated)
	})
}

func TestCrossRepoIndex(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ctx context.Context, d DB_) {
		staging := &models.Repository{Name: "staging"}
		published := &models.Repository{Name: "published"}
		require.NoError(t, d.CreateRepository(ctx, staging))
		require.NoError(t, d.CreateRepository(ctx, published))
		v1 := addVersion(t, ctx, d, "acme", "demo", "1.0.0", 'a')
		v2 := addVersion(t, ctx, d, "acme", "demo", "2.0.0", 'b')

		commit(t, ctx, d, staging.RepositoryID, []uuid.UUID{v1.ContentID, v2.ContentID}, nil)
		commit(t, ctx, d, published.RepositoryID, []uuid.UUID{v1.ContentID}, nil)

		entries, total, err := d.ListCrossRepo(ctx, models.CrossRepoFilter{Namespace: "acme", Name: "demo", HighestOnly: true}, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
		byRepo := map[string]string{}
		for _, e := range entries {
			byRepo[e.RepositoryName] = e.Version
		}
		assert.Equal(t, map[string]string{"staging": "2.0.0", "published": "1.0.0"}, byRepo)

		marker, err := d.UpsertDeprecationMarker(ctx, "acme", "demo")
		require.NoError(t, err)
		commit(t, ctx, d, staging.RepositoryID, []uuid.UUID{marker.ContentID}, []uuid.UUID{v2.ContentID})

		entries, _, err = d.ListCrossRepo(ctx, models.CrossRepoFilter{RepositoryID: staging.RepositoryID}, 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "1.0.0", entries[0].Version)
		assert.True(t, entries[0].IsHighest)
		assert.True(t, entries[0].IsDeprecated)

		notDeprecated := false
		entries, _, err = d.ListCrossRepo(ctx, models.CrossRepoFilter{Deprecated: &notDeprecated}, 10, 0)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "published", entries[0].RepositoryName)
	})
}

func TestDistributions(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ctx context.Context, d DB_) {
		repo := &models.Repository{Name: "dist"}
		require.NoError(t, d.CreateRepository(ctx, repo))

		bad := &models.Distribution{Name: "bad", BasePath: "bad"}
		bad.SetRepository(repo.RepositoryID)
		bad.VersionRepositoryID = uuid.NullUUID{UUID: repo.RepositoryID, Valid: true}
		bad.VersionNumber = sql.NullInt64{Int64: 0, Valid: true}
		assert.ErrorIs(t, d.CreateDistribution(ctx, bad), dberror.ErrInvalidInput)

		latest := &models.Distribution{Name: "latest", BasePath: "content/latest"}
		latest.SetRepository(repo.RepositoryID)
		require.NoError(t, d.CreateDistribution(ctx, latest))

		clash := &models.Distribution{Name: "clash", BasePath: "content/latest"}
		clash.SetRepositoryVersion(repo.RepositoryID, 0)
		assert.ErrorIs(t, d.CreateDistribution(ctx, clash), dberror.ErrAlreadyExists)

		missing := &models.Distribution{Name: "missing", BasePath: "content/missing"}
		missing.SetRepositoryVersion(repo.RepositoryID, 7)
		assert.Error(t, d.CreateDistribution(ctx, missing))

		got, err := d.GetDistributionByBasePath(ctx, "content/latest")
		require.NoError(t, err)
		got.SetRepositoryVersion(repo.RepositoryID, 0)
		require.NoError(t, d.UpdateDistribution(ctx, got))
		got, err = d.GetDistribution(ctx, latest.DistributionID)
		require.NoError(t, err)
		assert.False(t, got.RepositoryID.Valid)
		assert.Equal(t, int64(0), got.VersionNumber.Int64)

		assert.ErrorIs(t, d.DeleteRepository(ctx, repo.RepositoryID), dberror.ErrInUse)
		require.NoError(t, d.DeleteDistribution(ctx, latest.DistributionID))
		assert.NoError(t, d.DeleteRepository(ctx, repo.RepositoryID))
	})
}

func TestRemotes(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ctx context.Context, d DB_) {
		r := &models.Remote{Name: "galaxy", Type: catcommon.RemoteTypeCollection, URL: "https://galaxy.example.com/"}
		require.NoError(t, d.CreateRemote(ctx, r))
		assert.Equal(t, catcommon.PolicyImmediate, r.Policy)
		assert.ErrorIs(t, d.CreateRemote(ctx, &models.Remote{Name: "galaxy", Type: catcommon.RemoteTypeCollection, URL: "x"}), dberror.ErrAlreadyExists)

		repo := &models.Repository{Name: "synced", RemoteID: uuid.NullUUID{UUID: r.RemoteID, Valid: true}}
		require.NoError(t, d.CreateRepository(ctx, repo))

		r.Policy = catcommon.PolicyOnDemand
		require.NoError(t, d.UpdateRemote(ctx, r))
		got, err := d.GetRemoteByName(ctx, "galaxy")
		require.NoError(t, err)
		assert.Equal(t, catcommon.PolicyOnDemand, got.Policy)

		require.NoError(t, d.DeleteRemote(ctx, r.RemoteID))
		repoAfter, err := d.GetRepository(ctx, repo.RepositoryID)
		require.NoError(t, err)
		assert.False(t, repoAfter.RemoteID.Valid)
	})
}

func TestTasks(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ctx context.Context, d DB_) {
		task := &models.Task{TaskID: uuid.New(), Name: "sync", State: catcommon.TaskPending}
		require.NoError(t, d.CreateTask(ctx, task))

		task.State = catcommon.TaskFailed
		require.NoError(t, task.SetError(&models.TaskError{Code: "upstream_unavailable", Description: "503"}))
		require.NoError(t, task.SetProgress([]models.ProgressReport{{Message: "Parsing metadata", Code: "sync.parsing", Done: 3}}))
		task.FinishedAt = sql.NullTime{Time: time.Now(), Valid: true}
		require.NoError(t, d.UpdateTask(ctx, task))

		got, err := d.GetTask(ctx, task.TaskID)
		require.NoError(t, err)
		assert.Equal(t, catcommon.TaskFailed, got.State)
		require.NotNil(t, got.TaskError())
		assert.Equal(t, "upstream_unavailable", got.TaskError().Code)
		assert.Equal(t, 3, got.ProgressReports()[0].Done)

		tasks, total, err := d.ListTasks(ctx, 10, 0)
		require.NoError(t, err)
		assert.Equal(t, 1, total)
		assert.Len(t, tasks, 1)
	})
}

func TestOrphanCleanup(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ctx context.Context, d DB_) {
		repo := &models.Repository{Name: "orphans"}
		require.NoError(t, d.CreateRepository(ctx, repo))
		kept := addVersion(t, ctx, d, "orph", "kept", "1.0.0", '1')
		low := addVersion(t, ctx, d, "orph", "gone", "1.0.0", '2')
		high := addVersion(t, ctx, d, "orph", "gone", "2.0.0", '3')
		commit(t, ctx, d, repo.RepositoryID, []uuid.UUID{kept.ContentID, low.ContentID}, nil)

		art := &models.Artifact{Sha256: high.Sha256, Size: 10, StoragePath: "artifact/33/33"}
		require.NoError(t, d.CreateArtifact(ctx, art))
		referenced, err := d.IsArtifactReferenced(ctx, high.Sha256)
		require.NoError(t, err)
		assert.True(t, referenced)

		n, err := d.DeleteOrphanContent(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, n, int64(1))

		_, err = d.GetCollectionVersionByID(ctx, high.ContentID)
		assert.ErrorIs(t, err, dberror.ErrNotFound)
		remaining, err := d.GetCollectionVersionByID(ctx, low.ContentID)
		require.NoError(t, err)
		assert.True(t, remaining.IsHighest)

		orphans, err := d.ListOrphanArtifacts(ctx, time.Now().Add(time.Minute))
		require.NoError(t, err)
		assert.Contains(t, orphans, high.Sha256)
		require.NoError(t, d.DeleteArtifact(ctx, high.Sha256))
		_, err = d.GetArtifact(ctx, high.Sha256)
		assert.ErrorIs(t, err, dberror.ErrNotFound)
	})
}

func TestDiscardContent(t *testing.T) {
	forEachBackend(t, func(t *testing.T, ctx context.Context, d DB_) {
		repo := &models.Repository{Name: "discard"}
		require.NoError(t, d.CreateRepository(ctx, repo))
		before := addVersion(t, ctx, d, "disc", "col", "1.0.0", '4')
		held := addVersion(t, ctx, d, "disc", "other", "1.0.0", '5')
		commit(t, ctx, d, repo.RepositoryID, []uuid.UUID{held.ContentID}, nil)

		since := time.Now().Add(-time.Second)
		fresh := addVersion(t, ctx, d, "disc", "col", "2.0.0", '6')
		stale, err := d.GetCollectionVersionByID(ctx, before.ContentID)
		require.NoError(t, err)
		require.False(t, stale.IsHighest)

		n, err := d.DiscardContent(ctx, []uuid.UUID{fresh.ContentID, held.ContentID}, since)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		_, err = d.GetCollectionVersionByID(ctx, fresh.ContentID)
		assert.ErrorIs(t, err, dberror.ErrNotFound)
		_, err = d.GetCollectionVersionByID(ctx, held.ContentID)
		assert.NoError(t, err)
		restored, err := d.GetCollectionVersionByID(ctx, before.ContentID)
		require.NoError(t, err)
		assert.True(t, restored.IsHighest)

		n, err = d.DiscardContent(ctx, []uuid.UUID{before.ContentID}, time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}
