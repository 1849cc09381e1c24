package httpclient

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticConfig string

func (s staticConfig) GetServerURL() string { return string(s) }

func echoHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/pulp/api/v3/remotes/":
			body, _ := io.ReadAll(r.Body)
			w.Header().Set("Location", r.URL.Path+"abc/")
			w.WriteHeader(http.StatusCreated)
			w.Write(body)
		case "/api/query":
			w.Write([]byte(r.URL.Query().Get("limit")))
		case "/api/plain":
			w.WriteHeader(http.StatusBadGateway)
		default:
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":[{"status":"404","code":"not_found","title":"Not found."}]}`))
		}
	})
}

func TestClients(t *testing.T) {
	srv := httptest.NewServer(echoHandler())
	defer srv.Close()

	clients := map[string]HTTPClientInterface{
		"network":   NewClient(staticConfig(srv.URL + "/api")),
		"in-memory": NewTestClient(staticConfig("http://localhost/api"), echoHandler()),
	}
	for name, c := range clients {
		t.Run(name, func(t *testing.T) {
			body, loc, err := c.DoRequest(RequestOptions{
				Method: http.MethodPost,
				Path:   "/pulp/api/v3/remotes/",
				Body:   []byte(`{"name":"r"}`),
			})
			require.NoError(t, err)
			assert.JSONEq(t, `{"name":"r"}`, string(body))
			assert.Equal(t, "/api/pulp/api/v3/remotes/abc/", loc)

			body, _, err = c.DoRequest(RequestOptions{
				Method:      http.MethodGet,
				Path:        "query",
				QueryParams: map[string]string{"limit": "5"},
			})
			require.NoError(t, err)
			assert.Equal(t, "5", string(body))

			_, _, err = c.DoRequest(RequestOptions{Method: http.MethodGet, Path: "/missing/"})
			var herr *HTTPError
			require.True(t, errors.As(err, &herr))
			assert.Equal(t, http.StatusNotFound, herr.StatusCode)
			assert.Equal(t, "not_found", herr.Code)
			assert.Equal(t, "Not found. (not_found)", herr.Error())

			_, _, err = c.DoRequest(RequestOptions{Method: http.MethodGet, Path: "plain"})
			require.True(t, errors.As(err, &herr))
			assert.Equal(t, http.StatusText(http.StatusBadGateway), herr.Message)
		})
	}
}
