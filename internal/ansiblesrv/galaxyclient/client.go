// Package galaxyclient talks to upstream Galaxy servers: API root
// discovery, paginated v3 listings, version detail and artifact download.
package galaxyclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/golang-jwt/jwt/v5"
	jsoniter "github.com/json-iterator/go"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxMetadataBody = 32 << 20

// Options are the transport settings shared by every client of a sync.
type Options struct {
	UserAgent          string
	ConnectTimeout     time.Duration
	ReadTimeout        time.Duration
	MaxConnsPerHost    int
	RetryAttempts      uint
	RetryBaseDelay     time.Duration
	RetryMaxDelay      time.Duration
	InsecureSkipVerify bool
	CertsDir           string
}

func OptionsFromConfig(cfg *config.ConfigParam) Options {
	return Options{
		UserAgent:          cfg.Sync.UserAgent,
		ConnectTimeout:     cfg.Sync.ConnectTimeout.Duration,
		ReadTimeout:        cfg.Sync.ReadTimeout.Duration,
		MaxConnsPerHost:    cfg.Sync.MaxConnsPerHost,
		RetryAttempts:      cfg.Sync.RetryAttempts,
		RetryBaseDelay:     cfg.Sync.RetryBaseDelay.Duration,
		RetryMaxDelay:      cfg.Sync.RetryMaxDelay.Duration,
		InsecureSkipVerify: cfg.Sync.InsecureSkipVerify,
		CertsDir:           cfg.CertsDir,
	}
}

func (o *Options) setDefaults() {
	if o.UserAgent == "" {
		o.UserAgent = "pulp-ansible"
	}
	if o.ConnectTimeout == 0 {
		o.ConnectTimeout = 60 * time.Second
	}
	if o.ReadTimeout == 0 {
		o.ReadTimeout = 600 * time.Second
	}
	if o.MaxConnsPerHost == 0 {
		o.MaxConnsPerHost = 10
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 5
	}
	if o.RetryBaseDelay == 0 {
		o.RetryBaseDelay = time.Second
	}
	if o.RetryMaxDelay == 0 {
		o.RetryMaxDelay = 60 * time.Second
	}
}

type Client struct {
	base    *url.URL
	http    *http.Client
	opts    Options
	token   string
	authURL string

	mu          sync.Mutex
	accessToken string
	expiry      time.Time
	v3          string
}

// New builds a client for remote r.
func New(r *models.Remote, opts Options) (*Client, error) {
	opts.setDefaults()
	base, err := url.Parse(r.URL)
	if err != nil {
		return nil, ansibleerrors.InvalidRemote("url is not a valid URL: " + err.Error())
	}
	tlsConfig := &tls.Config{InsecureSkipVerify: opts.InsecureSkipVerify}
	if opts.CertsDir != "" {
		pool, err := loadCertPool(opts.CertsDir)
		if err != nil {
			return nil, err
		}
		tlsConfig.RootCAs = pool
	}
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   opts.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsConfig,
		TLSHandshakeTimeout:   opts.ConnectTimeout,
		ResponseHeaderTimeout: opts.ReadTimeout,
		MaxConnsPerHost:       opts.MaxConnsPerHost,
		MaxIdleConnsPerHost:   opts.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
	}
	if r.ProxyURL != "" {
		proxy, err := url.Parse(r.ProxyURL)
		if err != nil {
			return nil, ansibleerrors.InvalidRemote("proxy_url is not a valid URL: " + err.Error())
		}
		if r.ProxyUsername != "" {
			proxy.User = url.UserPassword(r.ProxyUsername, r.ProxyPassword)
		}
		transport.Proxy = http.ProxyURL(proxy)
	}
	return &Client{
		base:    base,
		http:    &http.Client{Transport: transport},
		opts:    opts,
		token:   r.Token,
		authURL: r.AuthURL,
	}, nil
}

func loadCertPool(dir string) (*x509.CertPool, error) {
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("unable to read certs_dir: %w", err)
	}
	for _, e := range entries {
		ext := filepath.Ext(e.Name())
		if e.IsDir() || (ext != ".pem" && ext != ".crt") {
			continue
		}
		pem, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("unable to read %s: %w", e.Name(), err)
		}
		pool.AppendCertsFromPEM(pem)
	}
	return pool, nil
}

// Resolve returns ref resolved against the remote URL.
func (c *Client) Resolve(ref string) string {
	u, err := c.base.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// authorization returns the Authorization header value, refreshing the
// access token from auth_url when it is about to expire.
func (c *Client) authorization(ctx context.Context) (string, error) {
	if c.token == "" {
		return "", nil
	}
	if c.authURL == "" {
		return "Token " + c.token, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Add(30*time.Second).Before(c.expiry) {
		return "Bearer " + c.accessToken, nil
	}
	form := url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {"cloud-services"},
		"refresh_token": {c.token},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.authURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rsp, err := c.http.Do(req)
	if err != nil {
		return "", ansibleerrors.UpstreamUnavailable(c.authURL, 0, err)
	}
	defer rsp.Body.Close()
	if rsp.StatusCode != http.StatusOK {
		return "", ansibleerrors.UpstreamUnavailable(c.authURL, rsp.StatusCode, nil)
	}
	var body struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(io.LimitReader(rsp.Body, maxMetadataBody)).Decode(&body); err != nil {
		return "", ansibleerrors.UpstreamUnavailable(c.authURL, 0, err)
	}
	c.accessToken = body.AccessToken
	c.expiry = tokenExpiry(body.AccessToken, body.ExpiresIn)
	return "Bearer " + c.accessToken, nil
}

// tokenExpiry reads exp from the access token without verifying it; the
// issuer verifies, the client only needs to know when to refresh.
func tokenExpiry(token string, expiresIn int) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	if expiresIn > 0 {
		return time.Now().Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Now().Add(5 * time.Minute)
}

// statusError carries a non-2xx upstream status through the retry loop.
type statusError struct {
	status int
	url    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("%d, message='%s', url='%s'", e.status, http.StatusText(e.status), e.url)
}

func retryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !isProxyAuth(err)
}

func isProxyAuth(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusProxyAuthRequired
	}
	return err != nil && strings.Contains(err.Error(), http.StatusText(http.StatusProxyAuthRequired))
}

// open issues a GET with retries and returns the successful response. The
// caller closes the body.
func (c *Client) open(ctx context.Context, rawURL string) (*http.Response, error) {
	var rsp *http.Response
	err := retry.Do(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return retry.Unrecoverable(err)
		}
		req.Header.Set("User-Agent", c.opts.UserAgent)
		req.Header.Set("Accept", "application/json")
		auth, err := c.authorization(ctx)
		if err != nil {
			return err
		}
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		r, err := c.http.Do(req)
		if err != nil {
			return err
		}
		if r.StatusCode >= 200 && r.StatusCode < 300 {
			rsp = r
			return nil
		}
		io.Copy(io.Discard, io.LimitReader(r.Body, 64<<10))
		r.Body.Close()
		return &statusError{status: r.StatusCode, url: rawURL}
	},
		retry.Context(ctx),
		retry.Attempts(c.opts.RetryAttempts),
		retry.Delay(c.opts.RetryBaseDelay),
		retry.MaxDelay(c.opts.RetryMaxDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryable),
		retry.OnRetry(func(n uint, err error) {
			log.Ctx(ctx).Warn().Err(err).Uint("attempt", n+1).Str("url", rawURL).Msg("retrying upstream request")
		}),
	)
	if err != nil {
		return nil, c.classify(ctx, rawURL, err)
	}
	return rsp, nil
}

// classify maps a failed request onto the upstream error kinds. 404s are
// left to the caller, which knows what was missing.
func (c *Client) classify(ctx context.Context, rawURL string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	var ae apperrors.Error
	if errors.As(err, &ae) {
		return ae
	}
	if isProxyAuth(err) {
		return ansibleerrors.ProxyAuthRequired(rawURL)
	}
	var se *statusError
	if errors.As(err, &se) {
		if se.status == http.StatusNotFound {
			return err
		}
		return ansibleerrors.UpstreamUnavailable(rawURL, se.status, nil)
	}
	return ansibleerrors.UpstreamUnavailable(rawURL, 0, err)
}

func isNotFound(err error) bool {
	var se *statusError
	return errors.As(err, &se) && se.status == http.StatusNotFound
}

func (c *Client) getJSON(ctx context.Context, rawURL string, v any) error {
	rsp, err := c.open(ctx, rawURL)
	if err != nil {
		return err
	}
	defer rsp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(rsp.Body, maxMetadataBody))
	if err != nil {
		return ansibleerrors.UpstreamUnavailable(rawURL, 0, err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return ansibleerrors.UpstreamUnavailable(rawURL, 0, fmt.Errorf("invalid JSON: %w", err))
	}
	return nil
}

// Download opens the artifact at rawURL. The caller closes the stream.
func (c *Client) Download(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	rsp, err := c.open(ctx, c.Resolve(rawURL))
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ansibleerrors.UpstreamUnavailable(rawURL, http.StatusNotFound, nil)
		}
		return nil, 0, err
	}
	return rsp.Body, rsp.ContentLength, nil
}

// Fetch reads a small document such as a detached signature.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	body, _, err := c.Download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return io.ReadAll(io.LimitReader(body, maxMetadataBody))
}
