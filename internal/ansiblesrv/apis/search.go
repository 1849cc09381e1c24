package apis

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/pagination"
	"github.com/pulp/pulp-ansible-sub001/internal/common/httpx"
)

// searchCollectionVersions lists collection versions across every
// repository of the domain. Keyword hits are ranked by relevance.
func (a *api) searchCollectionVersions(r *http.Request) (*httpx.Response, error) {
	ctx := r.Context()
	q := r.URL.Query()
	page, aerr := pagination.Parse(q)
	if aerr != nil {
		return nil, aerr
	}
	f := models.CrossRepoFilter{
		Namespace: q.Get("namespace"),
		Name:      q.Get("name"),
		Keywords:  q.Get("keywords"),
	}
	if s := q.Get("repository"); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, httpx.ErrInvalidRequest("repository must be a uuid")
		}
		f.RepositoryID = id
	}
	if s := q.Get("is_highest"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, httpx.ErrInvalidRequest("is_highest must be a boolean")
		}
		f.HighestOnly = b
	}
	if s := q.Get("is_deprecated"); s != "" {
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, httpx.ErrInvalidRequest("is_deprecated must be a boolean")
		}
		f.Deprecated = &b
	}
	entries, count, aerr := db.DB(ctx).ListCrossRepo(ctx, f, page.Limit, page.Offset)
	if aerr != nil {
		return nil, aerr
	}
	if entries == nil {
		entries = []*models.CrossRepoEntry{}
	}
	return &httpx.Response{
		StatusCode: http.StatusOK,
		Response:   pagination.NewResponse(r.URL, count, page, entries),
	}, nil
}
