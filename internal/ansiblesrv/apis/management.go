package apis

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catalog"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/distribution"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/pagination"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/remotes"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/syncer"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/tasks"
	"github.com/pulp/pulp-ansible-sub001/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

func (a *api) managementHandlers() []httpx.ResponseHandlerParam {
	return []httpx.ResponseHandlerParam{
		{Method: http.MethodGet, Path: "/domains/", Handler: a.listDomains},
		{Method: http.MethodPost, Path: "/domains/", Handler: a.createDomain},
		{Method: http.MethodDelete, Path: "/domains/{name}/", Handler: a.deleteDomain},

		{Method: http.MethodGet, Path: "/remotes/", Handler: a.listRemotes},
		{Method: http.MethodPost, Path: "/remotes/", Handler: a.createRemote},
		{Method: http.MethodGet, Path: "/remotes/{id}/", Handler: a.getRemote},
		{Method: http.MethodPut, Path: "/remotes/{id}/", Handler: a.updateRemote},
		{Method: http.MethodDelete, Path: "/remotes/{id}/", Handler: a.deleteRemote},

		{Method: http.MethodGet, Path: "/repositories/", Handler: a.listRepositories},
		{Method: http.MethodPost, Path: "/repositories/", Handler: a.createRepository},
		{Method: http.MethodGet, Path: "/repositories/{id}/", Handler: a.getRepository},
		{Method: http.MethodDelete, Path: "/repositories/{id}/", Handler: a.deleteRepository},
		{Method: http.MethodGet, Path: "/repositories/{id}/versions/", Handler: a.listRepositoryVersions},
		{Method: http.MethodPost, Path: "/repositories/{id}/sync/", Handler: a.syncRepository},
		{Method: http.MethodPost, Path: "/repositories/{id}/modify/", Handler: a.modifyRepository},

		{Method: http.MethodGet, Path: "/distributions/", Handler: a.listDistributions},
		{Method: http.MethodPost, Path: "/distributions/", Handler: a.createDistribution},
		{Method: http.MethodGet, Path: "/distributions/{id}/", Handler: a.getDistribution},
		{Method: http.MethodPut, Path: "/distributions/{id}/", Handler: a.updateDistribution},
		{Method: http.MethodDelete, Path: "/distributions/{id}/", Handler: a.deleteDistribution},

		{Method: http.MethodGet, Path: "/tasks/", Handler: a.listTasks},
		{Method: http.MethodGet, Path: "/tasks/{id}/", Handler: a.getTask},
		{Method: http.MethodPost, Path: "/tasks/{id}/cancel/", Handler: a.cancelTask},

		{Method: http.MethodPost, Path: "/orphans/cleanup/", Handler: a.cleanupOrphans},
	}
}

// managementRoot is the path of the management API of domain.
func (a *api) managementRoot(domain string) string {
	root := a.Config.APIPrefix() + "/pulp"
	if domain != "" && domain != catcommon.DefaultDomainName {
		root += "/" + domain
	}
	return root + "/api/v3"
}

func (a *api) taskHref(domain string, id uuid.UUID) string {
	return a.managementRoot(domain) + "/tasks/" + id.String() + "/"
}

func domainName(ctx context.Context) string {
	if d := catcommon.DomainFromContext(ctx); d != nil {
		return d.Name
	}
	return catcommon.DefaultDomainName
}

func idParam(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, httpx.ErrNotFound()
	}
	return id, nil
}

// pageOf answers a paginated listing from a slice the store returns whole.
func pageOf[T any](r *http.Request, all []T) (*httpx.Response, error) {
	page, aerr := pagination.Parse(r.URL.Query())
	if aerr != nil {
		return nil, aerr
	}
	start := min(page.Offset, len(all))
	end := min(start+page.Limit, len(all))
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   pagination.NewResponse(r.URL, len(all), page, all[start:end]),
	}, nil
}

func created(href string, v any) *httpx.Response {
	return &httpx.Response{StatusCode: http.StatusCreated, Location: href, Response: v}
}

func noContent() *httpx.Response {
	return &httpx.Response{StatusCode: http.StatusNoContent}
}

// Domains

func (a *api) listDomains(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	domains, aerr := db.DB(ctx).ListDomains(ctx)
	if aerr != nil {
		return nil, aerr
	}
	return pageOf(r, domains)
}

func (a *api) createDomain(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var req domainReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	d := &models.Domain{Name: req.Name, Description: req.Description}
	if aerr := db.DB(ctx).CreateDomain(ctx, d); aerr != nil {
		return nil, aerr
	}
	log.Ctx(ctx).Info().Str("name", d.Name).Msg("domain created")
	return created(a.managementRoot(d.Name), d), nil
}

func (a *api) deleteDomain(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	if aerr := db.DB(ctx).DeleteDomain(ctx, chi.URLParam(r, "name")); aerr != nil {
		return nil, aerr
	}
	return noContent(), nil
}

// Remotes

type remoteRsp struct {
	Href string `json:"pulp_href"`
	*models.Remote
}

func (a *api) remoteOf(ctx context.Context, m *models.Remote) *remoteRsp {
	return &remoteRsp{Href: a.managementRoot(domainName(ctx)) + "/remotes/" + m.RemoteID.String() + "/", Remote: m}
}

func (a *api) listRemotes(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	list, aerr := db.DB(ctx).ListRemotes(ctx)
	if aerr != nil {
		return nil, aerr
	}
	out := make([]*remoteRsp, 0, len(list))
	for _, m := range list {
		out = append(out, a.remoteOf(ctx, m))
	}
	return pageOf(r, out)
}

func (a *api) createRemote(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var req remoteReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	m := &models.Remote{}
	req.apply(m)
	if aerr := remotes.Create(ctx, db.DB(ctx), m); aerr != nil {
		return nil, aerr
	}
	rsp := a.remoteOf(ctx, m)
	return created(rsp.Href, rsp), nil
}

func (a *api) getRemote(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	m, aerr := db.DB(ctx).GetRemote(ctx, id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: a.remoteOf(ctx, m)}, nil
}

func (a *api) updateRemote(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	m, aerr := db.DB(ctx).GetRemote(ctx, id)
	if aerr != nil {
		return nil, aerr
	}
	var req remoteReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	req.apply(m)
	if aerr := remotes.Update(ctx, db.DB(ctx), m); aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: a.remoteOf(ctx, m)}, nil
}

func (a *api) deleteRemote(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	if aerr := db.DB(ctx).DeleteRemote(ctx, id); aerr != nil {
		return nil, aerr
	}
	return noContent(), nil
}

// Repositories

type repositoryRsp struct {
	Href         string `json:"pulp_href"`
	VersionsHref string `json:"versions_href"`
	*models.Repository
}

func (a *api) repositoryHref(ctx context.Context, id uuid.UUID) string {
	return a.managementRoot(domainName(ctx)) + "/repositories/" + id.String() + "/"
}

func (a *api) repositoryOf(ctx context.Context, m *models.Repository) *repositoryRsp {
	href := a.repositoryHref(ctx, m.RepositoryID)
	return &repositoryRsp{Href: href, VersionsHref: href + "versions/", Repository: m}
}

func (a *api) listRepositories(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	list, aerr := db.DB(ctx).ListRepositories(ctx)
	if aerr != nil {
		return nil, aerr
	}
	out := make([]*repositoryRsp, 0, len(list))
	for _, m := range list {
		out = append(out, a.repositoryOf(ctx, m))
	}
	return pageOf(r, out)
}

func (a *api) createRepository(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var req repositoryReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	if req.Name == "" {
		return nil, httpx.ErrInvalidRequest("name is required")
	}
	m := &models.Repository{
		Name:        req.Name,
		Description: req.Description,
		Autopublish: req.Autopublish,
		Keyring:     req.Keyring,
	}
	if req.Remote != nil {
		if _, aerr := db.DB(ctx).GetRemote(ctx, *req.Remote); aerr != nil {
			return nil, aerr
		}
		m.RemoteID = uuid.NullUUID{UUID: *req.Remote, Valid: true}
	}
	if aerr := db.DB(ctx).CreateRepository(ctx, m); aerr != nil {
		return nil, aerr
	}
	rsp := a.repositoryOf(ctx, m)
	return created(rsp.Href, rsp), nil
}

func (a *api) repositoryFromParam(r *http.Request) (*models.Repository, error) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	m, aerr := db.DB(ctx).GetRepository(ctx, id)
	if aerr != nil {
		return nil, aerr
	}
	return m, nil
}

func (a *api) getRepository(r *http.Request) (*httpx.Response, error) {
	m, err := a.repositoryFromParam(r)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: a.repositoryOf(r.Context(), m)}, nil
}

func (a *api) deleteRepository(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	if aerr := db.DB(ctx).DeleteRepository(ctx, id); aerr != nil {
		return nil, aerr
	}
	return noContent(), nil
}

type repositoryVersionRsp struct {
	Href string `json:"pulp_href"`
	*models.RepositoryVersion
}

func (a *api) listRepositoryVersions(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	m, err := a.repositoryFromParam(r)
	if err != nil {
		return nil, err
	}
	versions, aerr := db.DB(ctx).ListRepositoryVersions(ctx, m.RepositoryID)
	if aerr != nil {
		return nil, aerr
	}
	href := a.repositoryHref(ctx, m.RepositoryID)
	out := make([]*repositoryVersionRsp, 0, len(versions))
	for _, v := range versions {
		out = append(out, &repositoryVersionRsp{Href: fmt.Sprintf("%sversions/%d/", href, v.Number), RepositoryVersion: v})
	}
	return pageOf(r, out)
}

// submitted answers a request whose work continues in task.
func (a *api) submitted(ctx context.Context, task *models.Task) *httpx.Response {
	return &httpx.Response{
		StatusCode: http.StatusAccepted,
		Response:   &taskRefRsp{Task: a.taskHref(domainName(ctx), task.TaskID)},
	}
}

func (a *api) syncRepository(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	repo, err := a.repositoryFromParam(r)
	if err != nil {
		return nil, err
	}
	var req syncReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	remoteID := repo.RemoteID
	if req.Remote != nil {
		remoteID = uuid.NullUUID{UUID: *req.Remote, Valid: true}
	}
	if !remoteID.Valid {
		return nil, httpx.ErrInvalidRequest("a remote must be given or set on the repository")
	}
	remote, aerr := db.DB(ctx).GetRemote(ctx, remoteID.UUID)
	if aerr != nil {
		if aerr.Is(dberror.ErrNotFound) {
			return nil, httpx.ErrInvalidRequest("remote not found")
		}
		return nil, aerr
	}
	opts := syncer.SyncOptions{Mirror: req.Mirror, Optimize: true}
	if req.Optimize != nil {
		opts.Optimize = *req.Optimize
	}
	t := &models.Task{
		Name:         "sync",
		RepositoryID: uuid.NullUUID{UUID: repo.RepositoryID, Valid: true},
		RemoteID:     uuid.NullUUID{UUID: remote.RemoteID, Valid: true},
	}
	task, aerr := a.Tasks.Submit(ctx, t, a.Syncer.Job(repo, remote, opts))
	if aerr != nil {
		return nil, aerr
	}
	log.Ctx(ctx).Info().
		Str("repository", repo.Name).
		Str("remote", remote.Name).
		Str("task_id", task.TaskID.String()).
		Msg("sync submitted")
	return a.submitted(ctx, task), nil
}

func (a *api) modifyRepository(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	repo, err := a.repositoryFromParam(r)
	if err != nil {
		return nil, err
	}
	var req modifyReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	for _, id := range append(append([]uuid.UUID{}, req.AddContentUnits...), req.RemoveContentUnits...) {
		if _, aerr := db.DB(ctx).GetContent(ctx, id); aerr != nil {
			return nil, aerr
		}
	}
	t := &models.Task{Name: "modify", RepositoryID: uuid.NullUUID{UUID: repo.RepositoryID, Valid: true}}
	task, aerr := a.Tasks.Submit(ctx, t, func(ctx context.Context, h *tasks.Handle) error {
		d := db.DB(ctx)
		if err := h.Phase(ctx, catcommon.TaskCommitting); err != nil {
			return err
		}
		v, err := catalog.New(d).Modify(ctx, repo.RepositoryID, func(draft *models.RepositoryVersion) error {
			if len(req.RemoveContentUnits) > 0 {
				if aerr := d.RemoveContent(ctx, draft, req.RemoveContentUnits); aerr != nil {
					return aerr
				}
			}
			if len(req.AddContentUnits) > 0 {
				if aerr := d.AddContent(ctx, draft, req.AddContentUnits); aerr != nil {
					return aerr
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		h.SetCreatedVersion(v.Number)
		return nil
	})
	if aerr != nil {
		return nil, aerr
	}
	return a.submitted(ctx, task), nil
}

// Distributions

func (a *api) distributionOf(ctx context.Context, d *models.Distribution) *distributionRsp {
	domain := domainName(ctx)
	rsp := &distributionRsp{
		Href:      a.managementRoot(domain) + "/distributions/" + d.DistributionID.String() + "/",
		ID:        d.DistributionID,
		Name:      d.Name,
		BasePath:  d.BasePath,
		ClientURL: distribution.ClientURL(a.Config, domain, d.BasePath),
		CreatedAt: d.CreatedAt,
	}
	repo := d.TargetRepository()
	rsp.Repository = &repo
	if d.VersionNumber.Valid {
		n := d.VersionNumber.Int64
		rsp.RepositoryVersion = &n
	}
	return rsp
}

func (req *distributionReq) apply(d *models.Distribution) error {
	if req.Repository == nil {
		return httpx.ErrInvalidRequest("repository is required")
	}
	d.Name = req.Name
	d.BasePath = req.BasePath
	if req.RepositoryVersion != nil {
		d.SetRepositoryVersion(*req.Repository, *req.RepositoryVersion)
	} else {
		d.SetRepository(*req.Repository)
	}
	return nil
}

func (a *api) listDistributions(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	list, aerr := db.DB(ctx).ListDistributions(ctx)
	if aerr != nil {
		return nil, aerr
	}
	out := make([]*distributionRsp, 0, len(list))
	for _, d := range list {
		out = append(out, a.distributionOf(ctx, d))
	}
	return pageOf(r, out)
}

func (a *api) createDistribution(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var req distributionReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	d := &models.Distribution{}
	if err := req.apply(d); err != nil {
		return nil, err
	}
	if aerr := distribution.Create(ctx, db.DB(ctx), d); aerr != nil {
		return nil, aerr
	}
	rsp := a.distributionOf(ctx, d)
	log.Ctx(ctx).Info().Str("base_path", d.BasePath).Str("client_url", rsp.ClientURL).Msg("distribution created")
	return created(rsp.Href, rsp), nil
}

func (a *api) getDistribution(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	d, aerr := db.DB(ctx).GetDistribution(ctx, id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: a.distributionOf(ctx, d)}, nil
}

func (a *api) updateDistribution(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	d, aerr := db.DB(ctx).GetDistribution(ctx, id)
	if aerr != nil {
		return nil, aerr
	}
	var req distributionReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	if err := req.apply(d); err != nil {
		return nil, err
	}
	bp, aerr := distribution.NormalizeBasePath(d.BasePath)
	if aerr != nil {
		return nil, aerr
	}
	d.BasePath = bp
	if d.Name == "" {
		d.Name = bp
	}
	if aerr := db.DB(ctx).UpdateDistribution(ctx, d); aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: a.distributionOf(ctx, d)}, nil
}

func (a *api) deleteDistribution(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	if aerr := db.DB(ctx).DeleteDistribution(ctx, id); aerr != nil {
		return nil, aerr
	}
	return noContent(), nil
}

// Tasks

func (a *api) taskOf(ctx context.Context, t *models.Task) *taskRsp {
	rsp := &taskRsp{
		Href:       a.taskHref(domainName(ctx), t.TaskID),
		ID:         t.TaskID,
		Name:       t.Name,
		State:      t.State,
		LoggingCID: t.LoggingCID,
		Progress:   t.ProgressReports(),
		Error:      t.TaskError(),
		CreatedAt:  t.CreatedAt,
	}
	if rsp.Progress == nil {
		rsp.Progress = []models.ProgressReport{}
	}
	if t.RepositoryID.Valid {
		rsp.Repository = &t.RepositoryID.UUID
	}
	if t.RemoteID.Valid {
		rsp.Remote = &t.RemoteID.UUID
	}
	if t.CreatedVersion.Valid {
		rsp.CreatedVersion = &t.CreatedVersion.Int64
	}
	if t.StartedAt.Valid {
		rsp.StartedAt = &t.StartedAt.Time
	}
	if t.FinishedAt.Valid {
		rsp.FinishedAt = &t.FinishedAt.Time
	}
	return rsp
}

func (a *api) listTasks(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	page, aerr := pagination.Parse(r.URL.Query())
	if aerr != nil {
		return nil, aerr
	}
	list, count, aerr := db.DB(ctx).ListTasks(ctx, page.Limit, page.Offset)
	if aerr != nil {
		return nil, aerr
	}
	out := make([]*taskRsp, 0, len(list))
	for _, t := range list {
		out = append(out, a.taskOf(ctx, t))
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   pagination.NewResponse(r.URL, count, page, out),
	}, nil
}

func (a *api) getTask(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	t, aerr := db.DB(ctx).GetTask(ctx, id)
	if aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: a.taskOf(ctx, t)}, nil
}

// cancelTask stops a running task. Tasks that already finished answer 409.
func (a *api) cancelTask(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	id, err := idParam(r)
	if err != nil {
		return nil, err
	}
	t, aerr := db.DB(ctx).GetTask(ctx, id)
	if aerr != nil {
		return nil, aerr
	}
	if t.State.Final() {
		return nil, &httpx.Error{
			Description: fmt.Sprintf("task is already %s", t.State),
			StatusCode:  http.StatusConflict,
		}
	}
	if aerr := a.Tasks.Cancel(ctx, id); aerr != nil {
		return nil, aerr
	}
	if t, aerr = db.DB(ctx).GetTask(ctx, id); aerr != nil {
		return nil, aerr
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: a.taskOf(ctx, t)}, nil
}

// Orphans

func (a *api) cleanupOrphans(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	var req orphansReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	grace := a.Config.Orphans.Grace.Duration
	if req.ProtectionTime != nil {
		if *req.ProtectionTime < 0 {
			return nil, httpx.ErrInvalidRequest("orphan_protection_time must not be negative")
		}
		grace = time.Duration(*req.ProtectionTime) * time.Minute
	}
	task, aerr := a.Tasks.Submit(ctx, &models.Task{Name: "orphan_cleanup"}, func(ctx context.Context, h *tasks.Handle) error {
		res, err := a.Orphans.Cleanup(ctx, grace)
		if err != nil {
			return err
		}
		for _, p := range []struct {
			code  string
			msg   string
			count int64
		}{
			{"clean-up.content", "Clean up orphan Content", res.Content},
			{"clean-up.collections", "Clean up empty Collections", res.Collections},
			{"clean-up.artifacts", "Clean up orphan Artifacts", res.Artifacts},
		} {
			h.Progress(ctx, models.ProgressReport{Message: p.msg, Code: p.code, State: "completed", Done: int(p.count), Total: int(p.count)})
		}
		return nil
	})
	if aerr != nil {
		return nil, aerr
	}
	return a.submitted(ctx, task), nil
}
