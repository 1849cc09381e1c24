package httpx

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

func TestWrapHttpRsp(t *testing.T) {
	tests := []struct {
		name       string
		handler    RequestHandler
		wantStatus int
		check      func(t *testing.T, body string, hdr http.Header)
	}{
		{
			name: "json response",
			handler: func(r *http.Request) (*Response, error) {
				return &Response{StatusCode: http.StatusCreated, Location: "/x/", Response: map[string]any{"name": "demo"}}, nil
			},
			wantStatus: http.StatusCreated,
			check: func(t *testing.T, body string, hdr http.Header) {
				assert.Equal(t, "demo", gjson.Get(body, "name").String())
				assert.Equal(t, "/x/", hdr.Get("Location"))
				assert.Equal(t, "application/json", hdr.Get("Content-Type"))
			},
		},
		{
			name: "app error with code",
			handler: func(r *http.Request) (*Response, error) {
				return nil, apperrors.New("repository busy").SetStatusCode(http.StatusConflict).SetCode("repository_busy")
			},
			wantStatus: http.StatusConflict,
			check: func(t *testing.T, body string, hdr http.Header) {
				assert.Equal(t, "repository_busy", gjson.Get(body, "errors.0.code").String())
				assert.Equal(t, "409", gjson.Get(body, "errors.0.status").String())
				assert.Equal(t, "repository busy", gjson.Get(body, "errors.0.title").String())
			},
		},
		{
			name: "http error",
			handler: func(r *http.Request) (*Response, error) {
				return nil, ErrNotFound()
			},
			wantStatus: http.StatusNotFound,
			check: func(t *testing.T, body string, hdr http.Header) {
				assert.Equal(t, "not_found", gjson.Get(body, "errors.0.code").String())
			},
		},
		{
			name: "stream",
			handler: func(r *http.Request) (*Response, error) {
				return &Response{
					Stream:        io.NopCloser(strings.NewReader("tarball")),
					ContentType:   "application/gzip",
					ContentLength: 7,
					Filename:      "testing-demo-1.0.0.tar.gz",
				}, nil
			},
			wantStatus: http.StatusOK,
			check: func(t *testing.T, body string, hdr http.Header) {
				assert.Equal(t, "tarball", body)
				assert.Equal(t, "application/gzip", hdr.Get("Content-Type"))
				assert.Contains(t, hdr.Get("Content-Disposition"), "testing-demo-1.0.0.tar.gz")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rr := httptest.NewRecorder()
			WrapHttpRsp(tt.handler).ServeHTTP(rr, req)
			require.Equal(t, tt.wantStatus, rr.Code)
			tt.check(t, rr.Body.String(), rr.Header())
		})
	}
}

func TestGetRequestData(t *testing.T) {
	var v struct {
		Name string `json:"name"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"r1"}`))
	require.NoError(t, GetRequestData(req, &v))
	assert.Equal(t, "r1", v.Name)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Error(t, GetRequestData(req, &v))

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{`))
	assert.Error(t, GetRequestData(req, &v))
}
