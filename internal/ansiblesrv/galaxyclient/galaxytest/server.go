// Package galaxytest runs a fake upstream Galaxy v3 server for tests.
package galaxytest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/versionutil"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Version struct {
	Namespace    string
	Name         string
	Version      string
	Tarball      []byte
	Dependencies map[string]string
	// Sha256 overrides the advertised digest when set.
	Sha256     string
	Signatures []string
}

func (v *Version) filename() string {
	return fmt.Sprintf("%s-%s-%s.tar.gz", v.Namespace, v.Name, v.Version)
}

func (v *Version) digest() string {
	if v.Sha256 != "" {
		return v.Sha256
	}
	sum := sha256.Sum256(v.Tarball)
	return hex.EncodeToString(sum[:])
}

type collection struct {
	namespace  string
	name       string
	deprecated bool
	updatedAt  time.Time
	versions   map[string]*Version
}

type failure struct {
	status    int
	remaining int
}

type Server struct {
	*httptest.Server

	mu          sync.Mutex
	collections map[string]*collection
	namespaces  map[string]map[string]any
	failures    map[string]*failure
	roles       []map[string]any
	downloads   atomic.Int64
	requests    atomic.Int64
	inflight    atomic.Int64
	peak        atomic.Int64

	// DownloadDelay holds every download open this long.
	DownloadDelay time.Duration
}

func New() *Server {
	s := &Server{
		collections: map[string]*collection{},
		namespaces:  map[string]map[string]any{},
		failures:    map[string]*failure{},
	}
	r := chi.NewRouter()
	r.Use(s.inject)
	r.Get("/api/", s.root)
	r.Get("/api/v3/collections/", s.listCollections)
	r.Get("/api/v3/collections/{ns}/{name}/", s.getCollection)
	r.Get("/api/v3/collections/{ns}/{name}/versions/", s.listVersions)
	r.Get("/api/v3/collections/{ns}/{name}/versions/{version}/", s.getVersion)
	r.Get("/api/v3/namespaces/{ns}/", s.getNamespace)
	r.Get("/api/v1/roles/", s.listRoles)
	r.Get("/download/{file}", s.download)
	r.Get("/signatures/{ns}/{name}/{version}/{i}", s.signature)
	s.Server = httptest.NewServer(r)
	return s
}

// URL of the remote pointing at this server, with the trailing slash.
func (s *Server) RemoteURL() string {
	return s.Server.URL + "/"
}

func (s *Server) Add(v *Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := v.Namespace + "." + v.Name
	c, ok := s.collections[key]
	if !ok {
		c = &collection{namespace: v.Namespace, name: v.Name, versions: map[string]*Version{}}
		s.collections[key] = c
	}
	c.versions[v.Version] = v
	c.updatedAt = time.Now().UTC().Truncate(time.Second)
}

func (s *Server) Deprecate(namespace, name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[namespace+"."+name]; ok {
		c.deprecated = true
		c.updatedAt = time.Now().UTC().Truncate(time.Second).Add(time.Second)
	}
}

func (s *Server) SetNamespace(name string, fields map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.namespaces[name] = fields
}

func (s *Server) AddRole(role map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles = append(s.roles, role)
}

// Fail makes the next n requests for path answer with status.
func (s *Server) Fail(path string, status, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[path] = &failure{status: status, remaining: n}
}

func (s *Server) Downloads() int64 {
	return s.downloads.Load()
}

// PeakDownloads is the highest number of downloads served at once.
func (s *Server) PeakDownloads() int64 {
	return s.peak.Load()
}

func (s *Server) Requests() int64 {
	return s.requests.Load()
}

func (s *Server) inject(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.requests.Add(1)
		s.mu.Lock()
		f, ok := s.failures[r.URL.Path]
		if ok && f.remaining > 0 {
			f.remaining--
			s.mu.Unlock()
			w.WriteHeader(f.status)
			return
		}
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) root(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"available_versions": map[string]string{"v1": "v1/", "v3": "v3/"},
	})
}

// paginate slices items per limit/offset and builds relative links.
func paginate(r *http.Request, items []any) map[string]any {
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 10
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	page := []any{}
	if offset < len(items) {
		page = items[offset:end]
	}
	link := func(off int) string {
		return fmt.Sprintf("%s?limit=%d&offset=%d", r.URL.Path, limit, off)
	}
	var next any
	if offset+limit < len(items) {
		next = link(offset + limit)
	}
	return map[string]any{
		"meta":  map[string]int{"count": len(items)},
		"links": map[string]any{"first": link(0), "previous": nil, "next": next, "last": link(max(len(items)-limit, 0))},
		"data":  page,
	}
}

func (s *Server) collectionJSON(c *collection) map[string]any {
	versions := make([]string, 0, len(c.versions))
	for v := range c.versions {
		versions = append(versions, v)
	}
	highest := ""
	if len(versions) > 0 {
		sort.Slice(versions, func(i, j int) bool { return versionutil.Compare(versions[i], versions[j]) < 0 })
		highest = versions[len(versions)-1]
	}
	return map[string]any{
		"namespace":       c.namespace,
		"name":            c.name,
		"deprecated":      c.deprecated,
		"updated_at":      c.updatedAt.Format(time.RFC3339),
		"versions_url":    fmt.Sprintf("/api/v3/collections/%s/%s/versions/", c.namespace, c.name),
		"highest_version": map[string]string{"version": highest},
	}
}

func (s *Server) listCollections(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	keys := make([]string, 0, len(s.collections))
	for k := range s.collections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	items := make([]any, 0, len(keys))
	for _, k := range keys {
		items = append(items, s.collectionJSON(s.collections[k]))
	}
	s.mu.Unlock()
	writeJSON(w, paginate(r, items))
}

func (s *Server) lookup(r *http.Request) *collection {
	return s.collections[chi.URLParam(r, "ns")+"."+chi.URLParam(r, "name")]
}

func (s *Server) getCollection(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.lookup(r)
	if c == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, s.collectionJSON(c))
}

func (s *Server) listVersions(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	c := s.lookup(r)
	if c == nil {
		s.mu.Unlock()
		http.NotFound(w, r)
		return
	}
	versions := make([]string, 0, len(c.versions))
	for v := range c.versions {
		versions = append(versions, v)
	}
	s.mu.Unlock()
	sort.Slice(versions, func(i, j int) bool { return versionutil.Compare(versions[i], versions[j]) > 0 })
	items := make([]any, 0, len(versions))
	for _, v := range versions {
		items = append(items, map[string]string{
			"version": v,
			"href":    fmt.Sprintf("%s%s/", r.URL.Path, v),
		})
	}
	writeJSON(w, paginate(r, items))
}

func (s *Server) getVersion(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.lookup(r)
	if c == nil {
		http.NotFound(w, r)
		return
	}
	v, ok := c.versions[chi.URLParam(r, "version")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	deps := v.Dependencies
	if deps == nil {
		deps = map[string]string{}
	}
	sigs := make([]map[string]string, 0, len(v.Signatures))
	for _, sig := range v.Signatures {
		sigs = append(sigs, map[string]string{"signature": sig, "pubkey_fingerprint": "0000"})
	}
	writeJSON(w, map[string]any{
		"namespace":    map[string]string{"name": v.Namespace},
		"name":         v.Name,
		"version":      v.Version,
		"download_url": "/download/" + v.filename(),
		"artifact": map[string]any{
			"filename": v.filename(),
			"sha256":   v.digest(),
			"size":     len(v.Tarball),
		},
		"metadata": map[string]any{
			"dependencies": deps,
			"tags":         []string{},
			"description":  v.Namespace + "." + v.Name,
		},
		"signatures": sigs,
		"updated_at": c.updatedAt.Format(time.RFC3339),
	})
}

func (s *Server) getNamespace(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ns, ok := s.namespaces[chi.URLParam(r, "ns")]
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, ns)
}

func (s *Server) listRoles(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	roles := make([]any, 0, len(s.roles))
	for _, role := range s.roles {
		roles = append(roles, role)
	}
	s.mu.Unlock()
	writeJSON(w, map[string]any{"count": len(roles), "next": nil, "previous": nil, "results": roles})
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	file := chi.URLParam(r, "file")
	s.mu.Lock()
	var found *Version
	for _, c := range s.collections {
		for _, v := range c.versions {
			if v.filename() == file {
				found = v
			}
		}
	}
	s.mu.Unlock()
	if found == nil {
		http.NotFound(w, r)
		return
	}
	s.downloads.Add(1)
	n := s.inflight.Add(1)
	defer s.inflight.Add(-1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if s.DownloadDelay > 0 {
		time.Sleep(s.DownloadDelay)
	}
	w.Header().Set("Content-Type", "application/gzip")
	w.Header().Set("Content-Length", strconv.Itoa(len(found.Tarball)))
	_, _ = w.Write(found.Tarball)
}

func (s *Server) signature(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.lookup(r)
	if c == nil {
		http.NotFound(w, r)
		return
	}
	v, ok := c.versions[chi.URLParam(r, "version")]
	i, err := strconv.Atoi(chi.URLParam(r, "i"))
	if !ok || err != nil || i < 0 || i >= len(v.Signatures) {
		http.NotFound(w, r)
		return
	}
	_, _ = w.Write([]byte(v.Signatures[i]))
}
