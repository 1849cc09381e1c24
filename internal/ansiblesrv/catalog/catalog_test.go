package catalog

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/memdb"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalog(t *testing.T) (context.Context, *Catalog) {
	d := memdb.New()
	ctx := log.Logger.WithContext(context.Background())
	dom, err := d.GetDomainByName(ctx, catcommon.DefaultDomainName)
	require.NoError(t, err)
	ctx = catcommon.SetDomainInContext(ctx, &catcommon.DomainContext{DomainId: dom.DomainID, Name: dom.Name})
	return ctx, New(d)
}

func TestNamespaceMetadataDigest(t *testing.T) {
	a, err := NamespaceMetadataDigest("acme", NamespaceFields{
		Company: "Acme",
		Links:   map[string]string{"b": "https://b.example", "a": "https://a.example"},
	})
	require.NoError(t, err)
	assert.Len(t, a, 64)

	b, err := NamespaceMetadataDigest("acme", NamespaceFields{
		Links:   map[string]string{"a": "https://a.example", "b": "https://b.example"},
		Company: "Acme",
	})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := NamespaceMetadataDigest("other", NamespaceFields{
		Company: "Acme",
		Links:   map[string]string{"b": "https://b.example", "a": "https://a.example"},
	})
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestUpsertNamespaceMetadata(t *testing.T) {
	ctx, c := newCatalog(t)
	f := NamespaceFields{Company: "Acme", Email: "ops@acme.example"}
	first, err := c.UpsertNamespaceMetadata(ctx, "acme", f)
	require.NoError(t, err)
	again, err := c.UpsertNamespaceMetadata(ctx, "acme", f)
	require.NoError(t, err)
	assert.Equal(t, first.ContentID, again.ContentID)

	f.Description = "changed"
	changed, err := c.UpsertNamespaceMetadata(ctx, "acme", f)
	require.NoError(t, err)
	assert.NotEqual(t, first.ContentID, changed.ContentID)
}

func TestModifyDiscardsOnError(t *testing.T) {
	ctx, c := newCatalog(t)
	repo := &models.Repository{Name: "r"}
	require.NoError(t, c.DB().CreateRepository(ctx, repo))

	boom := errors.New("boom")
	_, err := c.Modify(ctx, repo.RepositoryID, func(draft *models.RepositoryVersion) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)

	// the slot is free again
	_, err = c.AddContent(ctx, repo.RepositoryID)
	assert.NoError(t, err)

	_, err = c.AddContent(ctx, repo.RepositoryID, uuid.New())
	assert.Error(t, err)
	_, err = c.DB().BeginVersion(ctx, repo.RepositoryID)
	assert.NoError(t, err)
	_, err = c.AddContent(ctx, repo.RepositoryID)
	assert.ErrorIs(t, err, ansibleerrors.ErrRepositoryBusy)
}

func TestMarkDeprecated(t *testing.T) {
	ctx, c := newCatalog(t)
	repo := &models.Repository{Name: "r"}
	require.NoError(t, c.DB().CreateRepository(ctx, repo))
	cv, aerr := c.DB().UpsertCollectionVersion(ctx, &models.CollectionVersion{
		Namespace: "acme", Name: "demo", Version: "1.0.0", Sha256: "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef",
	})
	require.NoError(t, aerr)
	v1, err := c.AddContent(ctx, repo.RepositoryID, cv.ContentID)
	require.NoError(t, err)

	v2, err := c.MarkDeprecated(ctx, repo.RepositoryID, "acme", "demo", true)
	require.NoError(t, err)
	assert.Equal(t, v1.Number+1, v2.Number)
	dep, err := c.DB().IsDeprecatedIn(ctx, repo.RepositoryID, v2.Number, "acme", "demo")
	require.NoError(t, err)
	assert.True(t, dep)

	same, err := c.MarkDeprecated(ctx, repo.RepositoryID, "acme", "demo", true)
	require.NoError(t, err)
	assert.Equal(t, v2.Number, same.Number)

	v3, err := c.MarkDeprecated(ctx, repo.RepositoryID, "acme", "demo", false)
	require.NoError(t, err)
	dep, err = c.DB().IsDeprecatedIn(ctx, repo.RepositoryID, v3.Number, "acme", "demo")
	require.NoError(t, err)
	assert.False(t, dep)
	dep, err = c.DB().IsDeprecatedIn(ctx, repo.RepositoryID, v2.Number, "acme", "demo")
	require.NoError(t, err)
	assert.True(t, dep)
}
