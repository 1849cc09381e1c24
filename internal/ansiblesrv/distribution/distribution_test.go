package distribution

import (
	"context"
	"testing"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/memdb"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeBasePath(t *testing.T) {
	tests := []struct {
		in, want string
		ok       bool
	}{
		{"p", "p", true},
		{"/a/b/", "a/b", true},
		{"my-repo_1.0", "my-repo_1.0", true},
		{"", "", false},
		{"/", "", false},
		{"a//b", "", false},
		{"a/../b", "", false},
		{"sp ace", "", false},
	}
	for _, tt := range tests {
		got, err := NormalizeBasePath(tt.in)
		if !tt.ok {
			assert.ErrorIs(t, err, ErrInvalidBasePath, tt.in)
			continue
		}
		require.Nil(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}

func TestClientURL(t *testing.T) {
	cfg := config.Defaults()
	cfg.APIHostname = "https://pulp.example/"
	cfg.URLNamespace = "/api/"
	assert.Equal(t, "https://pulp.example/api/pulp_ansible/galaxy/p/api/v3/", ClientURL(cfg, catcommon.DefaultDomainName, "p"))
	assert.Equal(t, "https://pulp.example/api/d1/pulp_ansible/galaxy/p/api/v3/", ClientURL(cfg, "d1", "p"))

	cfg.URLNamespace = ""
	assert.Equal(t, "https://pulp.example/pulp_ansible/galaxy/p/api/v3/", ClientURL(cfg, "", "p"))
}

func TestSameBasePathInTwoDomains(t *testing.T) {
	m := memdb.New()
	base := log.Logger.WithContext(context.Background())

	ctxFor := func(name string) context.Context {
		d := &models.Domain{Name: name}
		require.Nil(t, m.CreateDomain(base, d))
		return catcommon.SetDomainInContext(base, &catcommon.DomainContext{DomainId: d.DomainID, Name: d.Name})
	}
	ctx1, ctx2 := ctxFor("d1"), ctxFor("d2")

	repo1 := &models.Repository{Name: "r"}
	require.Nil(t, m.CreateRepository(ctx1, repo1))
	repo2 := &models.Repository{Name: "r"}
	require.Nil(t, m.CreateRepository(ctx2, repo2))

	d1 := &models.Distribution{BasePath: "/p/"}
	d1.SetRepository(repo1.RepositoryID)
	require.Nil(t, Create(ctx1, m, d1))
	assert.Equal(t, "p", d1.BasePath)
	assert.Equal(t, "p", d1.Name)

	d2 := &models.Distribution{BasePath: "p"}
	d2.SetRepository(repo2.RepositoryID)
	require.Nil(t, Create(ctx2, m, d2))

	cfg := config.Defaults()
	assert.NotEqual(t, ClientURL(cfg, "d1", "p"), ClientURL(cfg, "d2", "p"))

	t1, aerr := Resolve(ctx1, m, "p")
	require.Nil(t, aerr)
	assert.Equal(t, repo1.RepositoryID, t1.Repository.RepositoryID)
	t2, aerr := Resolve(ctx2, m, "p")
	require.Nil(t, aerr)
	assert.Equal(t, repo2.RepositoryID, t2.Repository.RepositoryID)

	dup := &models.Distribution{BasePath: "p", Name: "other"}
	dup.SetRepository(repo1.RepositoryID)
	assert.ErrorIs(t, Create(ctx1, m, dup), dberror.ErrAlreadyExists)

	cross := &models.Distribution{BasePath: "q"}
	cross.SetRepository(repo2.RepositoryID)
	assert.ErrorIs(t, Create(ctx1, m, cross), ansibleerrors.ErrCrossDomain)
}

func TestResolvePinnedVersion(t *testing.T) {
	m := memdb.New()
	ctx := log.Logger.WithContext(context.Background())
	dom, aerr := m.GetDomainByName(ctx, catcommon.DefaultDomainName)
	require.Nil(t, aerr)
	ctx = catcommon.SetDomainInContext(ctx, &catcommon.DomainContext{DomainId: dom.DomainID, Name: dom.Name})

	repo := &models.Repository{Name: "r"}
	require.Nil(t, m.CreateRepository(ctx, repo))

	d := &models.Distribution{BasePath: "pinned"}
	d.SetRepositoryVersion(repo.RepositoryID, 0)
	require.Nil(t, Create(ctx, m, d))

	target, aerr := Resolve(ctx, m, "pinned")
	require.Nil(t, aerr)
	assert.Equal(t, int64(0), target.Version)

	_, aerr = Resolve(ctx, m, "missing")
	assert.ErrorIs(t, aerr, dberror.ErrNotFound)
	_, aerr = Resolve(ctx, m, "../x")
	assert.ErrorIs(t, aerr, dberror.ErrNotFound)
}
