package apis

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/artifactstore"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/collectionimport"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/memdb"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/galaxyclient"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/galaxyclient/galaxytest"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/orphans"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/syncer"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/tasks"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const mgmt = "/api/pulp/api/v3"

type testServer struct {
	t      *testing.T
	srv    *httptest.Server
	db     db.DB_
	runner *tasks.Runner
}

func newTestServer(t *testing.T) *testServer {
	d := memdb.New()
	store := artifactstore.NewMemory()
	store.SetReferenceChecker(d)
	cfg := config.Defaults()
	cfg.URLNamespace = "/api/"

	clientOpts := galaxyclient.Options{
		RetryAttempts:  1,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  time.Millisecond,
	}
	runner := tasks.NewRunner(d, 2, time.Minute)
	s := &Services{
		Config:  cfg,
		Store:   store,
		Tasks:   runner,
		Syncer:  syncer.New(d, store, syncer.Options{Workers: 2, WorkDir: t.TempDir(), Client: clientOpts}),
		Orphans: orphans.New(d, store),
		Client:  clientOpts,
	}

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(log.Logger.WithContext(r.Context())))
		})
	})
	r.Use(db.LoadDBMiddleware(d))
	r.Route(cfg.APIPrefix(), func(r chi.Router) {
		Router(r, s)
	})
	srv := httptest.NewServer(r)
	cfg.APIHostname = srv.URL
	cfg.ContentHostname = srv.URL
	t.Cleanup(func() {
		runner.Shutdown(context.Background())
		srv.Close()
	})
	return &testServer{t: t, srv: srv, db: d, runner: runner}
}

func (ts *testServer) do(method, path, body string) (int, string) {
	ts.t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	url := path
	if !strings.HasPrefix(path, "http") {
		url = ts.srv.URL + path
	}
	req, err := http.NewRequest(method, url, rdr)
	require.NoError(ts.t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rsp, err := http.DefaultClient.Do(req)
	require.NoError(ts.t, err)
	defer rsp.Body.Close()
	b, err := io.ReadAll(rsp.Body)
	require.NoError(ts.t, err)
	return rsp.StatusCode, string(b)
}

func (ts *testServer) mustDo(method, path, body string, want int) string {
	ts.t.Helper()
	code, rsp := ts.do(method, path, body)
	require.Equal(ts.t, want, code, rsp)
	return rsp
}

// waitTask polls the task at href until it finishes and returns its body.
func (ts *testServer) waitTask(href string) string {
	ts.t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rsp := ts.mustDo(http.MethodGet, href, "", http.StatusOK)
		switch gjson.Get(rsp, "state").String() {
		case "done", "failed", "canceled":
			return rsp
		}
		time.Sleep(5 * time.Millisecond)
	}
	ts.t.Fatalf("task %s did not finish", href)
	return ""
}

// setupDistribution creates a repository and a distribution serving it at
// basePath in the management API rooted at root.
func (ts *testServer) setupDistribution(root, basePath string) (repoID string) {
	ts.t.Helper()
	rsp := ts.mustDo(http.MethodPost, root+"/repositories/", `{"name":"`+strings.ReplaceAll(basePath, "/", "-")+`"}`, http.StatusCreated)
	repoID = gjson.Get(rsp, "id").String()
	rsp = ts.mustDo(http.MethodPost, root+"/distributions/", `{"base_path":"`+basePath+`","repository":"`+repoID+`"}`, http.StatusCreated)
	assert.Equal(ts.t, basePath, gjson.Get(rsp, "base_path").String())
	return repoID
}

func tarball(t *testing.T, namespace, name, version string) []byte {
	t.Helper()
	b, err := collectionimport.Build(collectionimport.CollectionInfo{
		Namespace:   namespace,
		Name:        name,
		Version:     version,
		Authors:     []string{"tester"},
		Description: namespace + "." + name,
		Tags:        []string{"testing"},
	}, map[string][]byte{
		"README.md":               []byte("# " + name + "\n"),
		"plugins/modules/ping.py": []byte("# ping " + version + "\n"),
	})
	require.NoError(t, err)
	return b
}

// upload posts a tarball to the galaxy root and waits for the import.
func (ts *testServer) upload(galaxyRoot string, data []byte) string {
	ts.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("file", "collection.tar.gz")
	require.NoError(ts.t, err)
	_, err = fw.Write(data)
	require.NoError(ts.t, err)
	require.NoError(ts.t, mw.Close())

	rsp, err := http.Post(ts.srv.URL+galaxyRoot+"v3/artifacts/collections/", mw.FormDataContentType(), &body)
	require.NoError(ts.t, err)
	defer rsp.Body.Close()
	b, _ := io.ReadAll(rsp.Body)
	require.Equal(ts.t, http.StatusAccepted, rsp.StatusCode, string(b))
	return ts.waitTask(gjson.GetBytes(b, "task").String())
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ts := newTestServer(t)
	ts.setupDistribution(mgmt, "dev")
	root := "/api/pulp_ansible/galaxy/dev/api/"

	data := tarball(t, "testing", "demo", "1.0.0")
	task := ts.upload(root, data)
	require.Equal(t, "done", gjson.Get(task, "state").String(), task)
	assert.Equal(t, int64(1), gjson.Get(task, "created_version").Int())

	detail := ts.mustDo(http.MethodGet, root+"v3/collections/testing/demo/versions/1.0.0/", "", http.StatusOK)
	sum := sha256.Sum256(data)
	assert.Equal(t, hex.EncodeToString(sum[:]), gjson.Get(detail, "artifact.sha256").String())
	assert.Equal(t, int64(len(data)), gjson.Get(detail, "artifact.size").Int())
	assert.Equal(t, "testing-demo-1.0.0.tar.gz", gjson.Get(detail, "artifact.filename").String())
	assert.Equal(t, "testing", gjson.Get(detail, "namespace.name").String())
	assert.Equal(t, "tester", gjson.Get(detail, "metadata.authors.0").String())

	downloadURL := gjson.Get(detail, "download_url").String()
	require.True(t, strings.HasPrefix(downloadURL, ts.srv.URL+root), downloadURL)
	rsp, err := http.Get(downloadURL)
	require.NoError(t, err)
	got, err := io.ReadAll(rsp.Body)
	rsp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, rsp.StatusCode)
	assert.True(t, bytes.Equal(data, got))

	col := ts.mustDo(http.MethodGet, root+"v3/collections/testing/demo/", "", http.StatusOK)
	assert.Equal(t, int64(1), gjson.Get(col, "download_count").Int())
	assert.Equal(t, "1.0.0", gjson.Get(col, "highest_version.version").String())

	// the same artifact again is not a new version
	task = ts.upload(root, data)
	assert.Equal(t, "done", gjson.Get(task, "state").String(), task)
	assert.Equal(t, int64(1), gjson.Get(task, "created_version").Int())
}

func TestUploadRejectsCorruptArtifact(t *testing.T) {
	ts := newTestServer(t)
	ts.setupDistribution(mgmt, "dev")
	task := ts.upload("/api/pulp_ansible/galaxy/dev/api/", []byte("not a tarball"))
	assert.Equal(t, "failed", gjson.Get(task, "state").String())
	assert.Equal(t, "invalid_collection", gjson.Get(task, "error.code").String())
}

func TestSameBasePathInTwoDomains(t *testing.T) {
	ts := newTestServer(t)
	ts.mustDo(http.MethodPost, mgmt+"/domains/", `{"name":"d1"}`, http.StatusCreated)

	ts.setupDistribution(mgmt, "p")
	ts.setupDistribution("/api/pulp/d1/api/v3", "p")

	// the same base path in one domain is a conflict
	rsp := ts.mustDo(http.MethodPost, mgmt+"/repositories/", `{"name":"other"}`, http.StatusCreated)
	code, _ := ts.do(http.MethodPost, mgmt+"/distributions/", `{"base_path":"p","name":"other","repository":"`+gjson.Get(rsp, "id").String()+`"}`)
	assert.Equal(t, http.StatusConflict, code)

	defaultRoot := "/api/pulp_ansible/galaxy/p/api/"
	d1Root := "/api/d1/pulp_ansible/galaxy/p/api/"
	ts.upload(defaultRoot, tarball(t, "testing", "indefault", "1.0.0"))
	ts.upload(d1Root, tarball(t, "testing", "ind1", "1.0.0"))

	rsp = ts.mustDo(http.MethodGet, defaultRoot+"v3/collections/", "", http.StatusOK)
	assert.Equal(t, int64(1), gjson.Get(rsp, "meta.count").Int())
	assert.Equal(t, "indefault", gjson.Get(rsp, "data.0.name").String())

	rsp = ts.mustDo(http.MethodGet, d1Root+"v3/collections/", "", http.StatusOK)
	assert.Equal(t, int64(1), gjson.Get(rsp, "meta.count").Int())
	assert.Equal(t, "ind1", gjson.Get(rsp, "data.0.name").String())
	assert.True(t, strings.HasPrefix(gjson.Get(rsp, "data.0.href").String(), d1Root))

	rsp = ts.mustDo(http.MethodGet, "/api/pulp/d1/api/v3/distributions/", "", http.StatusOK)
	assert.Equal(t, ts.srv.URL+d1Root+"v3/", gjson.Get(rsp, "data.0.client_url").String())

	ts.mustDo(http.MethodGet, "/api/nope/pulp_ansible/galaxy/p/api/v3/collections/", "", http.StatusNotFound)
	ts.mustDo(http.MethodGet, "/api/pulp_ansible/galaxy/missing/api/v3/collections/", "", http.StatusNotFound)
}

func TestCollectionPagination(t *testing.T) {
	ts := newTestServer(t)
	ts.setupDistribution(mgmt, "nested/path")
	root := "/api/pulp_ansible/galaxy/nested/path/api/"
	for _, name := range []string{"a", "b", "c"} {
		task := ts.upload(root, tarball(t, "paged", name, "1.0.0"))
		require.Equal(t, "done", gjson.Get(task, "state").String(), task)
	}

	rsp := ts.mustDo(http.MethodGet, root+"v3/collections/?limit=2", "", http.StatusOK)
	assert.Equal(t, int64(3), gjson.Get(rsp, "meta.count").Int())
	assert.Len(t, gjson.Get(rsp, "data").Array(), 2)
	assert.Equal(t, gjson.Type(gjson.Null), gjson.Get(rsp, "links.previous").Type)
	next := gjson.Get(rsp, "links.next").String()
	require.NotEmpty(t, next)

	rsp = ts.mustDo(http.MethodGet, next, "", http.StatusOK)
	assert.Len(t, gjson.Get(rsp, "data").Array(), 1)
	assert.Equal(t, gjson.Type(gjson.Null), gjson.Get(rsp, "links.next").Type)
	assert.NotEqual(t, gjson.Type(gjson.Null), gjson.Get(rsp, "links.previous").Type)

	ts.mustDo(http.MethodGet, root+"v3/collections/?limit=-1", "", http.StatusBadRequest)

	rsp = ts.mustDo(http.MethodGet, "/api/v3/plugin/ansible/search/collection-versions/?namespace=paged&limit=10", "", http.StatusOK)
	assert.Equal(t, int64(3), gjson.Get(rsp, "meta.count").Int())
	assert.Equal(t, "nested-path", gjson.Get(rsp, "data.0.repository_name").String())
}

func TestDeprecateCollection(t *testing.T) {
	ts := newTestServer(t)
	ts.setupDistribution(mgmt, "dev")
	root := "/api/pulp_ansible/galaxy/dev/api/"
	ts.upload(root, tarball(t, "testing", "old", "1.0.0"))

	rsp := ts.mustDo(http.MethodPatch, root+"v3/collections/testing/old/", `{"deprecated":true}`, http.StatusOK)
	assert.True(t, gjson.Get(rsp, "deprecated").Bool())

	rsp = ts.mustDo(http.MethodGet, root+"v3/collections/?deprecated=true", "", http.StatusOK)
	assert.Equal(t, int64(1), gjson.Get(rsp, "meta.count").Int())
	rsp = ts.mustDo(http.MethodGet, root+"v3/collections/?deprecated=false", "", http.StatusOK)
	assert.Equal(t, int64(0), gjson.Get(rsp, "meta.count").Int())

	ts.mustDo(http.MethodPatch, root+"v3/collections/testing/missing/", `{"deprecated":true}`, http.StatusNotFound)
	ts.mustDo(http.MethodPatch, root+"v3/collections/testing/old/", `{}`, http.StatusBadRequest)
}

func TestSyncThroughManagementAPI(t *testing.T) {
	ts := newTestServer(t)
	upstream := galaxytest.New()
	t.Cleanup(upstream.Close)
	data := tarball(t, "upstream", "tools", "2.1.0")
	upstream.Add(&galaxytest.Version{Namespace: "upstream", Name: "tools", Version: "2.1.0", Tarball: data})

	repoID := ts.setupDistribution(mgmt, "synced")
	rsp := ts.mustDo(http.MethodPost, mgmt+"/remotes/", `{"name":"up","url":"`+upstream.RemoteURL()+`","policy":"on_demand"}`, http.StatusCreated)
	remoteID := gjson.Get(rsp, "id").String()

	rsp = ts.mustDo(http.MethodPost, mgmt+"/repositories/"+repoID+"/sync/", `{"remote":"`+remoteID+`"}`, http.StatusAccepted)
	task := ts.waitTask(gjson.Get(rsp, "task").String())
	require.Equal(t, "done", gjson.Get(task, "state").String(), task)
	assert.Equal(t, repoID, gjson.Get(task, "repository").String())
	assert.NotEmpty(t, gjson.Get(task, "logging_cid").String())

	root := "/api/pulp_ansible/galaxy/synced/api/"
	detail := ts.mustDo(http.MethodGet, root+"v3/collections/upstream/tools/versions/2.1.0/", "", http.StatusOK)
	assert.Equal(t, int64(len(data)), gjson.Get(detail, "artifact.size").Int())

	// on_demand content is fetched on first download and stored
	for i := 0; i < 2; i++ {
		got := ts.mustDo(http.MethodGet, gjson.Get(detail, "download_url").String(), "", http.StatusOK)
		assert.Equal(t, string(data), got)
	}
	assert.Equal(t, int64(1), upstream.Downloads())

	rsp = ts.mustDo(http.MethodGet, mgmt+"/repositories/"+repoID+"/versions/", "", http.StatusOK)
	assert.Equal(t, int64(2), gjson.Get(rsp, "meta.count").Int())

	// a finished task cannot be canceled
	ts.mustDo(http.MethodPost, gjson.Get(task, "pulp_href").String()+"cancel/", "", http.StatusConflict)
}

func TestStreamedDownloadIsVerified(t *testing.T) {
	ts := newTestServer(t)
	upstream := galaxytest.New()
	t.Cleanup(upstream.Close)
	data := tarball(t, "upstream", "tools", "2.1.0")
	v := &galaxytest.Version{Namespace: "upstream", Name: "tools", Version: "2.1.0", Tarball: data}
	upstream.Add(v)

	repoID := ts.setupDistribution(mgmt, "streamed")
	rsp := ts.mustDo(http.MethodPost, mgmt+"/remotes/", `{"name":"up","url":"`+upstream.RemoteURL()+`","policy":"streamed"}`, http.StatusCreated)
	rsp = ts.mustDo(http.MethodPost, mgmt+"/repositories/"+repoID+"/sync/", `{"remote":"`+gjson.Get(rsp, "id").String()+`"}`, http.StatusAccepted)
	task := ts.waitTask(gjson.Get(rsp, "task").String())
	require.Equal(t, "done", gjson.Get(task, "state").String(), task)

	root := "/api/pulp_ansible/galaxy/streamed/api/"
	detail := ts.mustDo(http.MethodGet, root+"v3/collections/upstream/tools/versions/2.1.0/", "", http.StatusOK)
	downloadURL := gjson.Get(detail, "download_url").String()
	got := ts.mustDo(http.MethodGet, downloadURL, "", http.StatusOK)
	assert.Equal(t, string(data), got)

	// upstream now serves different bytes under the same name
	upstream.Add(&galaxytest.Version{Namespace: "upstream", Name: "tools", Version: "2.1.0", Tarball: tarball(t, "upstream", "tools", "2.1.1")})
	res, err := http.Get(downloadURL)
	if err == nil {
		_, err = io.ReadAll(res.Body)
		res.Body.Close()
	}
	assert.Error(t, err)
	assert.Equal(t, int64(2), upstream.Downloads())
}

// TestSyncFromDistribution syncs one repository from another distribution
// of the same server, exercising the served API as a galaxy upstream.
func TestSyncFromDistribution(t *testing.T) {
	ts := newTestServer(t)
	ts.setupDistribution(mgmt, "source")
	src := "/api/pulp_ansible/galaxy/source/api/"
	ts.upload(src, tarball(t, "chain", "one", "1.0.0"))
	ts.upload(src, tarball(t, "chain", "one", "1.1.0"))

	repoID := ts.setupDistribution(mgmt, "mirror")
	remoteURL := ts.srv.URL + "/api/pulp_ansible/galaxy/source/"
	rsp := ts.mustDo(http.MethodPost, mgmt+"/remotes/", `{"name":"self","url":"`+remoteURL+`"}`, http.StatusCreated)
	rsp = ts.mustDo(http.MethodPost, mgmt+"/repositories/"+repoID+"/sync/", `{"remote":"`+gjson.Get(rsp, "id").String()+`"}`, http.StatusAccepted)
	task := ts.waitTask(gjson.Get(rsp, "task").String())
	require.Equal(t, "done", gjson.Get(task, "state").String(), task)

	rsp = ts.mustDo(http.MethodGet, "/api/pulp_ansible/galaxy/mirror/api/v3/collections/chain/one/versions/", "", http.StatusOK)
	assert.Equal(t, int64(2), gjson.Get(rsp, "meta.count").Int())
}

func TestSyncRequiresRemote(t *testing.T) {
	ts := newTestServer(t)
	repoID := ts.setupDistribution(mgmt, "dev")
	ts.mustDo(http.MethodPost, mgmt+"/repositories/"+repoID+"/sync/", `{}`, http.StatusBadRequest)
	ts.mustDo(http.MethodPost, mgmt+"/repositories/not-a-uuid/sync/", `{}`, http.StatusNotFound)
}

func TestOrphanCleanupTask(t *testing.T) {
	ts := newTestServer(t)
	rsp := ts.mustDo(http.MethodPost, mgmt+"/orphans/cleanup/", `{"orphan_protection_time":0}`, http.StatusAccepted)
	task := ts.waitTask(gjson.Get(rsp, "task").String())
	assert.Equal(t, "done", gjson.Get(task, "state").String(), task)
	assert.Len(t, gjson.Get(task, "progress_reports").Array(), 3)

	ts.mustDo(http.MethodPost, mgmt+"/orphans/cleanup/", `{"orphan_protection_time":-1}`, http.StatusBadRequest)
}

func TestSplitFilename(t *testing.T) {
	tests := []struct {
		in                       string
		namespace, name, version string
		ok                       bool
	}{
		{"testing-demo-1.0.0.tar.gz", "testing", "demo", "1.0.0", true},
		{"testing-demo-1.0.0-beta.1.tar.gz", "testing", "demo", "1.0.0-beta.1", true},
		{"testing-demo.tar.gz", "", "", "", false},
		{"testing-demo-1.0.0.zip", "", "", "", false},
	}
	for _, tt := range tests {
		ns, name, version, ok := splitFilename(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.namespace, ns)
		assert.Equal(t, tt.name, name)
		assert.Equal(t, tt.version, version)
	}
}
