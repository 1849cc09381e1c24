package httpclient

// HTTPClientInterface defines the interface for HTTP client implementations
type HTTPClientInterface interface {
	// DoRequest makes an HTTP request and returns the body and the Location header.
	DoRequest(opts RequestOptions) ([]byte, string, error)
}

var _ HTTPClientInterface = &HTTPClient{}
var _ HTTPClientInterface = &TestHTTPClient{}
