// Package apis serves the galaxy v3 and v1 APIs of every distribution and
// the JSON management API.
package apis

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/artifactstore"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/distribution"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/galaxyclient"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/orphans"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/syncer"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/tasks"
	"github.com/pulp/pulp-ansible-sub001/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

// Services are the long lived collaborators the handlers share.
type Services struct {
	Config  *config.ConfigParam
	Store   *artifactstore.Store
	Tasks   *tasks.Runner
	Syncer  *syncer.Engine
	Orphans *orphans.Cleaner
	Client  galaxyclient.Options
}

type api struct {
	*Services
	galaxy chi.Router
}

// Router mounts every handler on r, which is rooted at the configured url
// namespace.
func Router(r chi.Router, s *Services) {
	a := &api{Services: s}
	a.galaxy = a.galaxyRouter()

	r.Route("/pulp_ansible/galaxy", a.mountDistributions)
	r.Route("/{domain}/pulp_ansible/galaxy", a.mountDistributions)
	r.Route("/pulp/api/v3", a.mountManagement)
	r.Route("/pulp/{domain}/api/v3", a.mountManagement)
	r.Route("/v3/plugin/ansible/search", a.mountSearch)
	r.Route("/{domain}/v3/plugin/ansible/search", a.mountSearch)
	if bp := s.Config.DefaultDistributionPath; bp != "" {
		r.With(loadDomain).Handle("/*", a.serveDefaultDistribution(bp))
	}
}

func (a *api) mountDistributions(r chi.Router) {
	r.Use(loadDomain)
	r.Handle("/*", http.HandlerFunc(a.serveDistribution))
}

func (a *api) mountManagement(r chi.Router) {
	r.Use(loadDomain)
	for _, h := range a.managementHandlers() {
		r.Method(h.Method, h.Path, httpx.WrapHttpRsp(h.Handler))
	}
}

func (a *api) mountSearch(r chi.Router) {
	r.Use(loadDomain)
	r.Method(http.MethodGet, "/collection-versions/", httpx.WrapHttpRsp(a.searchCollectionVersions))
}

func (a *api) galaxyRouter() chi.Router {
	r := chi.NewRouter()
	for _, h := range a.galaxyHandlers() {
		r.Method(h.Method, h.Path, httpx.WrapHttpRsp(h.Handler))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.ErrNotFound().Send(w)
	})
	return r
}

type ctxKeyType string

const ctxTargetKey ctxKeyType = "AnsibleDistributionTarget"

type servedTarget struct {
	*distribution.Target
	domain string
	// root is the path galaxy clients use as the api root; it ends in a
	// slash and v3/ is below it.
	root string
}

func targetFromContext(ctx context.Context) *servedTarget {
	t, _ := ctx.Value(ctxTargetKey).(*servedTarget)
	return t
}

// serveDistribution splits <base_path>/api/<rest> and hands /api/<rest> to
// the galaxy router with the distribution's target in the context.
func (a *api) serveDistribution(w http.ResponseWriter, r *http.Request) {
	rest := chi.URLParam(r, "*")
	i := strings.Index(rest, "/api/")
	if i <= 0 {
		httpx.ErrInvalidBasePath().Send(w)
		return
	}
	a.serveTarget(w, r, rest[:i], rest[i:], "")
}

// serveDefaultDistribution serves basePath directly under the url
// namespace, so <namespace>/v3/collections/ reaches it.
func (a *api) serveDefaultDistribution(basePath string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.serveTarget(w, r, basePath, "/api/"+chi.URLParam(r, "*"), a.Config.APIPrefix()+"/")
	})
}

func (a *api) serveTarget(w http.ResponseWriter, r *http.Request, basePath, route, root string) {
	ctx := r.Context()
	t, aerr := distribution.Resolve(ctx, db.DB(ctx), basePath)
	if aerr != nil {
		log.Ctx(ctx).Info().Str("base_path", basePath).Msg("unknown distribution")
		httpx.ErrInvalidBasePath().Send(w)
		return
	}
	domain := catcommon.DomainFromContext(ctx).Name
	if root == "" {
		root = distribution.Root(a.Config, domain) + "/" + t.Distribution.BasePath + "/api/"
	}
	st := &servedTarget{Target: t, domain: domain, root: root}
	ctx = context.WithValue(ctx, ctxTargetKey, st)
	if rctx := chi.RouteContext(ctx); rctx != nil {
		rctx.RoutePath = route
	}
	a.galaxy.ServeHTTP(w, r.WithContext(ctx))
}

// loadDomain resolves the {domain} url parameter, defaulting to the
// default domain, into the request context.
func loadDomain(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		name := chi.URLParam(r, "domain")
		if name == "" {
			name = catcommon.DefaultDomainName
		}
		d := db.DB(ctx)
		if d == nil {
			httpx.ErrApplicationError("unable to service request at this time").Send(w)
			return
		}
		dom, aerr := d.GetDomainByName(ctx, name)
		if aerr != nil {
			log.Ctx(ctx).Info().Str("domain", name).Msg("unknown domain")
			httpx.ErrInvalidDomain().Send(w)
			return
		}
		ctx = catcommon.SetDomainInContext(ctx, &catcommon.DomainContext{DomainId: dom.DomainID, Name: dom.Name})
		ctx = log.Ctx(ctx).With().Str("domain", dom.Name).Logger().WithContext(ctx)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
