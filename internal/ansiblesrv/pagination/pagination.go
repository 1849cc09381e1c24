// Package pagination implements the limit/offset pages of the galaxy API.
package pagination

import (
	"net/url"
	"strconv"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
)

const (
	DefaultLimit = 10
	MaxLimit     = 100
)

var ErrInvalidPage = dberror.ErrInvalidInput.New("invalid pagination parameters")

type Page struct {
	Limit  int
	Offset int
}

// Parse reads limit and offset from q. A missing or zero limit is the
// default and limits above MaxLimit are clamped.
func Parse(q url.Values) (Page, apperrors.Error) {
	p := Page{Limit: DefaultLimit}
	if s := q.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return p, ErrInvalidPage.Msg("limit must be a non-negative integer")
		}
		if n > 0 {
			p.Limit = n
		}
	}
	if p.Limit > MaxLimit {
		p.Limit = MaxLimit
	}
	if s := q.Get("offset"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return p, ErrInvalidPage.Msg("offset must be a non-negative integer")
		}
		p.Offset = n
	}
	return p, nil
}

type Meta struct {
	Count int `json:"count"`
}

type Links struct {
	First    *string `json:"first"`
	Previous *string `json:"previous"`
	Next     *string `json:"next"`
	Last     *string `json:"last"`
}

// Response is the envelope of every paginated listing.
type Response struct {
	Meta  Meta  `json:"meta"`
	Links Links `json:"links"`
	Data  any   `json:"data"`
}

// NewLinks builds the page links relative to base, keeping its other query
// parameters.
func NewLinks(base *url.URL, count int, p Page) Links {
	last := count - p.Limit
	if last < 0 {
		last = 0
	}
	l := Links{
		First: link(base, p.Limit, 0, true),
		Last:  link(base, p.Limit, last, true),
	}
	if p.Offset+p.Limit < count {
		l.Next = link(base, p.Limit, p.Offset+p.Limit, true)
	}
	if p.Offset > 0 {
		prev := p.Offset - p.Limit
		if prev < 0 {
			prev = 0
		}
		l.Previous = link(base, p.Limit, prev, prev > 0)
	}
	return l
}

func NewResponse(base *url.URL, count int, p Page, data any) *Response {
	return &Response{
		Meta:  Meta{Count: count},
		Links: NewLinks(base, count, p),
		Data:  data,
	}
}

func link(base *url.URL, limit, offset int, withOffset bool) *string {
	q := base.Query()
	q.Set("limit", strconv.Itoa(limit))
	if withOffset {
		q.Set("offset", strconv.Itoa(offset))
	} else {
		q.Del("offset")
	}
	u := url.URL{Path: base.Path, RawQuery: q.Encode()}
	s := u.String()
	return &s
}
