package apis

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catalog"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/collectionimport"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/pagination"
	"github.com/pulp/pulp-ansible-sub001/internal/common/httpx"
	"github.com/rs/zerolog/log"
)

func (a *api) galaxyHandlers() []httpx.ResponseHandlerParam {
	return []httpx.ResponseHandlerParam{
		{Method: http.MethodGet, Path: "/api/", Handler: a.apiRoot},
		{Method: http.MethodGet, Path: "/api/v3/", Handler: a.v3Root},
		{Method: http.MethodGet, Path: "/api/v3/collections/", Handler: a.listCollections},
		{Method: http.MethodGet, Path: "/api/v3/collections/{namespace}/{name}/", Handler: a.getCollection},
		{Method: http.MethodPatch, Path: "/api/v3/collections/{namespace}/{name}/", Handler: a.deprecateCollection},
		{Method: http.MethodGet, Path: "/api/v3/collections/{namespace}/{name}/versions/", Handler: a.listVersions},
		{Method: http.MethodGet, Path: "/api/v3/collections/{namespace}/{name}/versions/{version}/", Handler: a.getVersion},
		{Method: http.MethodGet, Path: "/api/v3/namespaces/{namespace}/", Handler: a.getNamespace},
		{Method: http.MethodGet, Path: "/api/v3/artifacts/collections/{filename}", Handler: a.downloadArtifact},
		{Method: http.MethodPost, Path: "/api/v3/artifacts/collections/", Handler: a.uploadArtifact},
		{Method: http.MethodGet, Path: "/api/v1/roles/", Handler: a.listRoles},
	}
}

func (st *servedTarget) collectionHref(namespace, name string) string {
	return st.root + "v3/collections/" + url.PathEscape(namespace) + "/" + url.PathEscape(name) + "/"
}

func (st *servedTarget) versionHref(namespace, name, version string) string {
	return st.collectionHref(namespace, name) + "versions/" + url.PathEscape(version) + "/"
}

func (a *api) downloadURL(st *servedTarget, filename string) string {
	return strings.TrimRight(a.Config.ContentHostname, "/") + st.root + "v3/artifacts/collections/" + filename
}

func (a *api) apiRoot(r *http.Request) (*httpx.Response, error) {
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: &apiRootRsp{
			Description:       "GALAXY REST API",
			CurrentVersion:    "v3",
			AvailableVersions: map[string]string{"v3": "v3/", "v1": "v1/"},
		},
	}, nil
}

func (a *api) v3Root(r *http.Request) (*httpx.Response, error) {
	st := targetFromContext(r.Context())
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response: map[string]string{
			"collections": st.root + "v3/collections/",
			"namespaces":  st.root + "v3/namespaces/",
			"artifacts":   st.root + "v3/artifacts/collections/",
		},
	}, nil
}

func filterFromQuery(q url.Values) (models.CollectionVersionFilter, error) {
	f := models.CollectionVersionFilter{
		Namespace: q.Get("namespace"),
		Name:      q.Get("name"),
		Keywords:  q.Get("keywords"),
		Tags:      q["tags"],
	}
	if s := q.Get("deprecated"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return f, httpx.ErrInvalidRequest("deprecated must be a boolean")
		}
		f.Deprecated = &b
	}
	return f, nil
}

func (a *api) collectionOf(st *servedTarget, s *models.CollectionSummary) *collectionRsp {
	rsp := &collectionRsp{
		Href:          st.collectionHref(s.Namespace, s.Name),
		Namespace:     s.Namespace,
		Name:          s.Name,
		Deprecated:    s.Deprecated,
		VersionsURL:   st.collectionHref(s.Namespace, s.Name) + "versions/",
		DownloadCount: s.DownloadCount,
		CreatedAt:     s.CreatedAt,
		UpdatedAt:     s.UpdatedAt,
	}
	if s.Highest != nil {
		rsp.HighestVersion = highestVersion{
			Href:    st.versionHref(s.Namespace, s.Name, s.Highest.Version),
			Version: s.Highest.Version,
		}
	}
	return rsp
}

func (a *api) listCollections(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	st := targetFromContext(ctx)
	page, aerr := pagination.Parse(r.URL.Query())
	if aerr != nil {
		return nil, aerr
	}
	f, err := filterFromQuery(r.URL.Query())
	if err != nil {
		return nil, err
	}
	summaries, count, aerr := db.DB(ctx).ListCollectionsIn(ctx, st.Repository.RepositoryID, st.Version, f, page.Limit, page.Offset)
	if aerr != nil {
		return nil, aerr
	}
	data := make([]*collectionRsp, 0, len(summaries))
	for _, s := range summaries {
		data = append(data, a.collectionOf(st, s))
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   pagination.NewResponse(r.URL, count, page, data),
	}, nil
}

// collectionIn finds namespace.name among the collections of the served
// version.
func collectionIn(r *http.Request, st *servedTarget) (*models.CollectionSummary, error) {
	ctx := r.Context()
	namespace, name := chi.URLParam(r, "namespace"), chi.URLParam(r, "name")
	f := models.CollectionVersionFilter{Namespace: namespace, Name: name}
	summaries, _, aerr := db.DB(ctx).ListCollectionsIn(ctx, st.Repository.RepositoryID, st.Version, f, 1, 0)
	if aerr != nil {
		return nil, aerr
	}
	if len(summaries) == 0 {
		return nil, httpx.ErrNotFound()
	}
	return summaries[0], nil
}

func (a *api) getCollection(r *http.Request) (*httpx.Response, error) {
	st := targetFromContext(r.Context())
	s, err := collectionIn(r, st)
	if err != nil {
		return nil, err
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: a.collectionOf(st, s)}, nil
}

// deprecateCollection commits a new version of the distribution's
// repository with the deprecation toggled. Pinned distributions serve a
// fixed version and cannot be changed through.
func (a *api) deprecateCollection(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	st := targetFromContext(ctx)
	if st.Distribution.VersionNumber.Valid {
		return nil, httpx.ErrInvalidRequest("distribution serves a pinned repository version")
	}
	var req deprecateReq
	if err := httpx.GetRequestData(r, &req); err != nil {
		return nil, err
	}
	if req.Deprecated == nil {
		return nil, httpx.ErrInvalidRequest("deprecated is required")
	}
	s, err := collectionIn(r, st)
	if err != nil {
		return nil, err
	}
	v, err := catalog.New(db.DB(ctx)).MarkDeprecated(ctx, st.Repository.RepositoryID, s.Namespace, s.Name, *req.Deprecated)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Info().
		Str("collection", s.Namespace+"."+s.Name).
		Bool("deprecated", *req.Deprecated).
		Int64("version", v.Number).
		Msg("collection deprecation changed")
	s.Deprecated = *req.Deprecated
	return &httpx.Response{StatusCode: http.StatusOK, Response: a.collectionOf(st, s)}, nil
}

func (a *api) listVersions(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	st := targetFromContext(ctx)
	page, aerr := pagination.Parse(r.URL.Query())
	if aerr != nil {
		return nil, aerr
	}
	if _, err := collectionIn(r, st); err != nil {
		return nil, err
	}
	f := models.CollectionVersionFilter{Namespace: chi.URLParam(r, "namespace"), Name: chi.URLParam(r, "name")}
	versions, count, aerr := db.DB(ctx).ListCollectionVersionsIn(ctx, st.Repository.RepositoryID, st.Version, f, page.Limit, page.Offset)
	if aerr != nil {
		return nil, aerr
	}
	data := make([]*versionListRsp, 0, len(versions))
	for _, cv := range versions {
		data = append(data, &versionListRsp{
			Version:         cv.Version,
			Href:            st.versionHref(cv.Namespace, cv.Name, cv.Version),
			CreatedAt:       cv.CreatedAt,
			UpdatedAt:       cv.CreatedAt,
			RequiresAnsible: cv.RequiresAnsible,
			Marks:           []string{},
		})
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   pagination.NewResponse(r.URL, count, page, data),
	}, nil
}

// versionIn finds one collection version among the content of the served
// version.
func versionIn(r *http.Request, st *servedTarget, namespace, name, version string) (*models.CollectionVersion, error) {
	ctx := r.Context()
	f := models.CollectionVersionFilter{Namespace: namespace, Name: name, Version: version}
	versions, _, aerr := db.DB(ctx).ListCollectionVersionsIn(ctx, st.Repository.RepositoryID, st.Version, f, 1, 0)
	if aerr != nil {
		return nil, aerr
	}
	if len(versions) == 0 {
		return nil, httpx.ErrNotFound()
	}
	return versions[0], nil
}

// artifactSize is the size of the stored artifact or, for content synced
// on demand, the size the upstream advertised.
func artifactSize(r *http.Request, cv *models.CollectionVersion) int64 {
	ctx := r.Context()
	if art, aerr := db.DB(ctx).GetArtifact(ctx, cv.Sha256); aerr == nil {
		return art.Size
	}
	if ra, aerr := db.DB(ctx).GetRemoteArtifact(ctx, cv.ContentID); aerr == nil {
		return ra.Size
	}
	return cv.Size
}

func (a *api) getVersion(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	st := targetFromContext(ctx)
	cv, err := versionIn(r, st, chi.URLParam(r, "namespace"), chi.URLParam(r, "name"), chi.URLParam(r, "version"))
	if err != nil {
		return nil, err
	}
	sigs, aerr := db.DB(ctx).ListSignaturesIn(ctx, st.Repository.RepositoryID, st.Version, cv.ContentID)
	if aerr != nil {
		return nil, aerr
	}
	filename := collectionimport.Filename(cv.Namespace, cv.Name, cv.Version)
	rsp := &versionRsp{
		Version:   cv.Version,
		Href:      st.versionHref(cv.Namespace, cv.Name, cv.Version),
		Namespace: namespaceRef{Name: cv.Namespace},
		Name:      cv.Name,
		Collection: collectionRef{
			ID:   cv.CollectionID,
			Name: cv.Name,
			Href: st.collectionHref(cv.Namespace, cv.Name),
		},
		DownloadURL: a.downloadURL(st, filename),
		Artifact: artifactRsp{
			Filename: filename,
			Sha256:   cv.Sha256,
			Size:     artifactSize(r, cv),
		},
		Metadata: versionMetadata{
			Dependencies:  cv.Dependencies,
			Contents:      cv.Contents,
			Tags:          nonNil(cv.Tags),
			Description:   cv.Description,
			Authors:       nonNil(cv.Authors),
			License:       nonNil(cv.License),
			Homepage:      cv.Homepage,
			Repository:    cv.Repository,
			Documentation: cv.Documentation,
			Issues:        cv.Issues,
		},
		RequiresAnsible: cv.RequiresAnsible,
		Signatures:      make([]signatureRsp, 0, len(sigs)),
		CreatedAt:       cv.CreatedAt,
		UpdatedAt:       cv.CreatedAt,
	}
	if rsp.Metadata.Dependencies == nil {
		rsp.Metadata.Dependencies = map[string]string{}
	}
	if rsp.Metadata.Contents == nil {
		rsp.Metadata.Contents = []models.ContentEntry{}
	}
	if md, aerr := db.DB(ctx).GetNamespaceMetadataIn(ctx, st.Repository.RepositoryID, st.Version, cv.Namespace); aerr == nil {
		rsp.Namespace.MetadataSha256 = md.MetadataSha256
	}
	for _, s := range sigs {
		rsp.Signatures = append(rsp.Signatures, signatureRsp{Signature: string(s.Data)})
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (a *api) getNamespace(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	st := targetFromContext(ctx)
	md, aerr := db.DB(ctx).GetNamespaceMetadataIn(ctx, st.Repository.RepositoryID, st.Version, chi.URLParam(r, "namespace"))
	if aerr != nil {
		if aerr.Is(dberror.ErrNotFound) {
			return nil, httpx.ErrNotFound()
		}
		return nil, aerr
	}
	rsp := &namespaceRsp{
		Name:           md.Namespace,
		Company:        md.Company,
		Email:          md.Email,
		Description:    md.Description,
		Resources:      md.Resources,
		Links:          make([]namespaceLink, 0, len(md.Links)),
		MetadataSha256: md.MetadataSha256,
		AvatarSha256:   md.AvatarSha256,
	}
	for name, u := range md.Links {
		rsp.Links = append(rsp.Links, namespaceLink{Name: name, URL: u})
	}
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}

func (a *api) listRoles(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	st := targetFromContext(ctx)
	q := r.URL.Query()
	// v1 clients page with page and page_size
	if size := q.Get("page_size"); size != "" && q.Get("limit") == "" {
		q.Set("limit", size)
		if p, err := strconv.Atoi(q.Get("page")); err == nil && p > 1 {
			if n, err := strconv.Atoi(size); err == nil {
				q.Set("offset", strconv.Itoa((p-1)*n))
			}
		}
	}
	page, aerr := pagination.Parse(q)
	if aerr != nil {
		return nil, aerr
	}
	roles, count, aerr := db.DB(ctx).ListRolesIn(ctx, st.Repository.RepositoryID, st.Version, page.Limit, page.Offset)
	if aerr != nil {
		return nil, aerr
	}
	rsp := &roleListRsp{Count: count, Results: []roleRsp{}}
	byName := map[string]int{}
	for _, role := range roles {
		key := role.Namespace + "." + role.Name
		i, ok := byName[key]
		if !ok {
			i = len(rsp.Results)
			byName[key] = i
			rsp.Results = append(rsp.Results, roleRsp{
				ID:            role.ContentID,
				Name:          role.Name,
				Namespace:     role.Namespace,
				GithubUser:    role.Namespace,
				SummaryFields: roleSummary{Versions: []roleVersionRsp{}},
			})
		}
		rsp.Results[i].SummaryFields.Versions = append(rsp.Results[i].SummaryFields.Versions, roleVersionRsp{Name: role.Version})
	}
	links := pagination.NewLinks(r.URL, count, page)
	rsp.Next, rsp.Previous = links.Next, links.Previous
	return &httpx.Response{StatusCode: http.StatusOK, Response: rsp}, nil
}
