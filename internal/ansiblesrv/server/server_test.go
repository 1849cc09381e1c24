package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/apis"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/artifactstore"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/memdb"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/orphans"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/syncer"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/tasks"
	"github.com/pulp/pulp-ansible-sub001/internal/common/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func newTestServer(t *testing.T, cors bool) *AnsibleServer {
	d := memdb.New()
	store := artifactstore.NewMemory()
	store.SetReferenceChecker(d)
	cfg := config.Defaults()
	cfg.HandleCORS = cors
	runner := tasks.NewRunner(d, 1, 0)
	t.Cleanup(runner.Wait)

	s, err := CreateNewServer(d, &apis.Services{
		Config:  cfg,
		Store:   store,
		Tasks:   runner,
		Syncer:  syncer.New(d, store, syncer.Options{Workers: 1, WorkDir: t.TempDir()}),
		Orphans: orphans.New(d, store),
	})
	require.NoError(t, err)
	s.MountHandlers()
	return s
}

func executeRequest(s *AnsibleServer, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	s.Router.ServeHTTP(rr, req)
	return rr
}

func TestGetVersion(t *testing.T) {
	s := newTestServer(t, false)
	rr := executeRequest(s, httptest.NewRequest(http.MethodGet, "/version", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, ServerVersion, gjson.Get(rr.Body.String(), "serverVersion").String())
	assert.Equal(t, ApiVersion, gjson.Get(rr.Body.String(), "apiVersion").String())
	assert.NotEmpty(t, rr.Header().Get(middleware.RequestIdHeader))
}

func TestReady(t *testing.T) {
	s := newTestServer(t, false)
	rr := executeRequest(s, httptest.NewRequest(http.MethodGet, "/ready", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ready", gjson.Get(rr.Body.String(), "status").String())
}

func TestGalaxyRootMounted(t *testing.T) {
	s := newTestServer(t, false)
	rr := executeRequest(s, httptest.NewRequest(http.MethodGet, "/api/pulp/api/v3/domains/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "default", gjson.Get(rr.Body.String(), "data.0.name").String())

	rr = executeRequest(s, httptest.NewRequest(http.MethodGet, "/api/pulp_ansible/galaxy/missing/api/", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCORS(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/version", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rr := executeRequest(newTestServer(t, true), req)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = executeRequest(newTestServer(t, false), req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}
