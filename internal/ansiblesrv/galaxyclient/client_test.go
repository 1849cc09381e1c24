package galaxyclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/galaxyclient/galaxytest"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastOptions() Options {
	return Options{RetryAttempts: 3, RetryBaseDelay: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond}
}

func newClient(t *testing.T, remote *models.Remote) *Client {
	c, err := New(remote, fastOptions())
	require.NoError(t, err)
	return c
}

func testCtx() context.Context {
	return log.Logger.WithContext(context.Background())
}

func TestListingAndDetail(t *testing.T) {
	srv := galaxytest.New()
	defer srv.Close()
	for i := 0; i < 105; i++ {
		srv.Add(&galaxytest.Version{Namespace: "bulk", Name: fmt.Sprintf("c%03d", i), Version: "1.0.0", Tarball: []byte("x")})
	}
	srv.Add(&galaxytest.Version{Namespace: "testing", Name: "demo", Version: "1.0.0", Tarball: []byte("one"),
		Dependencies: map[string]string{"testing.base": ">=1.0.0"}})
	srv.Add(&galaxytest.Version{Namespace: "testing", Name: "demo", Version: "1.1.0", Tarball: []byte("two")})

	ctx := testCtx()
	c := newClient(t, &models.Remote{URL: srv.RemoteURL(), Type: catcommon.RemoteTypeCollection})

	v3, err := c.DiscoverV3(ctx)
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/api/v3/", v3)

	all, err := c.ListCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 106)

	versions, err := c.ListVersions(ctx, "testing", "demo")
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.Equal(t, "1.1.0", versions[0].Version)

	d, err := c.GetVersion(ctx, "testing", "demo", "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, ">=1.0.0", d.Metadata.Dependencies["testing.base"])
	assert.Equal(t, srv.URL+"/download/testing-demo-1.0.0.tar.gz", d.DownloadURL)
	assert.Len(t, d.Artifact.Sha256, 64)

	body, _, err := c.Download(ctx, d.DownloadURL)
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	body.Close()
	require.NoError(t, err)
	assert.Equal(t, "one", string(data))

	_, err = c.GetCollection(ctx, "testing", "missing")
	assert.ErrorIs(t, err, ansibleerrors.ErrCollectionNotFound)
	_, err = c.ListVersions(ctx, "testing", "missing")
	assert.ErrorIs(t, err, ansibleerrors.ErrCollectionNotFound)
}

func TestRetries(t *testing.T) {
	srv := galaxytest.New()
	defer srv.Close()
	srv.Add(&galaxytest.Version{Namespace: "testing", Name: "demo", Version: "1.0.0", Tarball: []byte("one")})
	ctx := testCtx()
	c := newClient(t, &models.Remote{URL: srv.RemoteURL()})

	srv.Fail("/api/v3/collections/testing/demo/", http.StatusTooManyRequests, 2)
	_, err := c.GetCollection(ctx, "testing", "demo")
	assert.NoError(t, err)

	srv.Fail("/api/v3/collections/testing/demo/", http.StatusServiceUnavailable, 10)
	_, err = c.GetCollection(ctx, "testing", "demo")
	assert.ErrorIs(t, err, ansibleerrors.ErrUpstreamUnavailable)
	assert.Contains(t, err.Error(), "503")

	srv.Fail("/api/v3/collections/testing/demo/", http.StatusBadRequest, 1)
	before := srv.Requests()
	_, err = c.GetCollection(ctx, "testing", "demo")
	assert.ErrorIs(t, err, ansibleerrors.ErrUpstreamUnavailable)
	assert.Equal(t, before+1, srv.Requests())
}

func TestProxyAuthRequired(t *testing.T) {
	var hits atomic.Int64
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusProxyAuthRequired)
	}))
	defer proxy.Close()

	ctx := testCtx()
	c := newClient(t, &models.Remote{URL: "http://galaxy.example/", ProxyURL: proxy.URL})
	_, err := c.DiscoverV3(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, ansibleerrors.ErrProxyAuthRequired)
	assert.Contains(t, err.Error(), "407, message='Proxy Authentication Required'")
	// one request per discovery candidate, none retried
	assert.Equal(t, int64(2), hits.Load())
}

func TestTokenAuth(t *testing.T) {
	var seen atomic.Value
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen.Store(r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"available_versions":{"v3":"v3/"}}`)
	}))
	defer upstream.Close()

	ctx := testCtx()
	c := newClient(t, &models.Remote{URL: upstream.URL + "/api/", Token: "secret"})
	_, err := c.DiscoverV3(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Token secret", seen.Load())

	var refreshes atomic.Int64
	access, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("k"))
	require.NoError(t, err)
	sso := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes.Add(1)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "offline", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"access_token":"`+access+`"}`)
	}))
	defer sso.Close()

	c = newClient(t, &models.Remote{URL: upstream.URL + "/", Token: "offline", AuthURL: sso.URL})
	for i := 0; i < 3; i++ {
		_, err := c.getRaw(ctx, upstream.URL+"/api/")
		require.NoError(t, err)
	}
	assert.Equal(t, "Bearer "+access, seen.Load())
	assert.Equal(t, int64(1), refreshes.Load())
}

func TestNamespaceAndRoles(t *testing.T) {
	srv := galaxytest.New()
	defer srv.Close()
	srv.SetNamespace("acme", map[string]any{
		"name":    "acme",
		"company": "Acme",
		"links":   []map[string]string{{"name": "home", "url": "https://acme.example"}},
	})
	srv.AddRole(map[string]any{
		"name":           "java",
		"github_user":    "geerlingguy",
		"github_repo":    "ansible-role-java",
		"summary_fields": map[string]any{"namespace": map[string]string{"name": "geerlingguy"}, "versions": []map[string]string{{"name": "1.9.6"}}},
	})
	ctx := testCtx()
	c := newClient(t, &models.Remote{URL: srv.RemoteURL()})

	ns, err := c.GetNamespace(ctx, "acme")
	require.NoError(t, err)
	require.NotNil(t, ns)
	assert.Equal(t, "Acme", ns.Company)
	assert.Equal(t, "https://acme.example", ns.Links["home"])

	missing, err := c.GetNamespace(ctx, "nobody")
	assert.NoError(t, err)
	assert.Nil(t, missing)

	rc := newClient(t, &models.Remote{URL: srv.URL + "/api/v1/roles/", Type: catcommon.RemoteTypeRole})
	roles, err := rc.ListRoles(ctx)
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "geerlingguy", roles[0].Namespace)
	assert.True(t, strings.HasSuffix(roles[0].DownloadURL(roles[0].Versions[0]), "/ansible-role-java/archive/1.9.6.tar.gz"))
}
