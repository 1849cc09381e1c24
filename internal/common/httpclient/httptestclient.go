package httpclient

import (
	"net/http"
	"net/http/httptest"
)

// TestHTTPClient serves requests directly from a handler without a network
// round trip.
type TestHTTPClient struct {
	config  Configurator
	handler http.Handler
}

func NewTestClient(config Configurator, handler http.Handler) *TestHTTPClient {
	return &TestHTTPClient{
		config:  config,
		handler: handler,
	}
}

func (c *TestHTTPClient) DoRequest(opts RequestOptions) ([]byte, string, error) {
	req, err := newRequest(c.config, opts)
	if err != nil {
		return nil, "", err
	}
	rr := httptest.NewRecorder()
	c.handler.ServeHTTP(rr, req)

	body := rr.Body.Bytes()
	if rr.Code >= 400 {
		return nil, "", decodeError(rr.Code, body)
	}
	return body, rr.Header().Get("Location"), nil
}
