package httpclient

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Configurator supplies the server a client talks to.
type Configurator interface {
	GetServerURL() string
}

// RequestOptions contains options for making HTTP requests
type RequestOptions struct {
	Method      string
	Path        string
	QueryParams map[string]string
	Body        []byte
	// ContentType defaults to application/json.
	ContentType string
}

// HTTPError represents an error response from the server with a status code
type HTTPError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s (%s)", e.Message, e.Code)
	}
	return e.Message
}

// HTTPClient makes requests to a running server.
type HTTPClient struct {
	config     Configurator
	httpClient *http.Client
}

func NewClient(config Configurator) *HTTPClient {
	return &HTTPClient{
		config:     config,
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *HTTPClient) DoRequest(opts RequestOptions) ([]byte, string, error) {
	req, err := newRequest(c.config, opts)
	if err != nil {
		return nil, "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %v", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("failed to read response body: %v", err)
	}
	if resp.StatusCode >= 400 {
		return nil, "", decodeError(resp.StatusCode, body)
	}
	return body, resp.Header.Get("Location"), nil
}

func newRequest(config Configurator, opts RequestOptions) (*http.Request, error) {
	u, err := url.Parse(config.GetServerURL())
	if err != nil {
		return nil, fmt.Errorf("invalid server URL: %v", err)
	}
	p := path.Join(u.Path, opts.Path)
	// the galaxy and pulp APIs address collections with a trailing slash
	if strings.HasSuffix(opts.Path, "/") && !strings.HasSuffix(p, "/") {
		p += "/"
	}
	u.Path = p

	q := u.Query()
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequest(opts.Method, u.String(), bytes.NewReader(opts.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %v", err)
	}
	contentType := opts.ContentType
	if contentType == "" {
		contentType = "application/json"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func decodeError(status int, body []byte) error {
	title := gjson.GetBytes(body, "errors.0.title")
	if title.Exists() {
		return &HTTPError{
			StatusCode: status,
			Code:       gjson.GetBytes(body, "errors.0.code").String(),
			Message:    title.String(),
		}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &HTTPError{StatusCode: status, Message: msg}
}
