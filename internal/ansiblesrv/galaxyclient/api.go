package galaxyclient

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/tidwall/gjson"
)

const pageSize = 100

type CollectionRef struct {
	Namespace   string    `json:"namespace"`
	Name        string    `json:"name"`
	Deprecated  bool      `json:"deprecated"`
	VersionsURL string    `json:"versions_url"`
	UpdatedAt   time.Time `json:"updated_at"`
	Highest     struct {
		Version string `json:"version"`
	} `json:"highest_version"`
}

type VersionRef struct {
	Version string `json:"version"`
	Href    string `json:"href"`
}

type Artifact struct {
	Filename string `json:"filename"`
	Sha256   string `json:"sha256"`
	Size     int64  `json:"size"`
}

type VersionMetadata struct {
	Dependencies  map[string]string `json:"dependencies"`
	Tags          []string          `json:"tags"`
	Description   string            `json:"description"`
	Authors       []string          `json:"authors"`
	License       []string          `json:"license"`
	Homepage      string            `json:"homepage"`
	Repository    string            `json:"repository"`
	Documentation string            `json:"documentation"`
	Issues        string            `json:"issues"`
	Contents      []struct {
		Name        string `json:"name"`
		ContentType string `json:"content_type"`
		Description string `json:"description"`
	} `json:"contents"`
}

type Signature struct {
	Signature         string `json:"signature"`
	PubkeyFingerprint string `json:"pubkey_fingerprint"`
}

type VersionDetail struct {
	Namespace struct {
		Name string `json:"name"`
	} `json:"namespace"`
	Name            string          `json:"name"`
	Version         string          `json:"version"`
	DownloadURL     string          `json:"download_url"`
	Artifact        Artifact        `json:"artifact"`
	Metadata        VersionMetadata `json:"metadata"`
	RequiresAnsible string          `json:"requires_ansible"`
	Signatures      []Signature     `json:"signatures"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type NamespaceInfo struct {
	Name        string            `json:"name"`
	Company     string            `json:"company"`
	Email       string            `json:"email"`
	Description string            `json:"description"`
	Resources   string            `json:"resources"`
	Links       map[string]string `json:"-"`
}

type RoleVersion struct {
	Name   string
	Source string
}

type RoleRef struct {
	Namespace  string
	Name       string
	GithubUser string
	GithubRepo string
	Versions   []RoleVersion
}

// DownloadURL is where the role archive for version lives.
func (r RoleRef) DownloadURL(version RoleVersion) string {
	if version.Source != "" {
		return version.Source
	}
	return fmt.Sprintf("https://github.com/%s/%s/archive/%s.tar.gz", r.GithubUser, r.GithubRepo, version.Name)
}

func (c *Client) getRaw(ctx context.Context, rawURL string) ([]byte, error) {
	rsp, err := c.open(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	defer rsp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(rsp.Body, maxMetadataBody))
	if err != nil {
		return nil, ansibleerrors.UpstreamUnavailable(rawURL, 0, err)
	}
	return body, nil
}

// DiscoverV3 finds the v3 API root from the remote URL, trying the URL
// itself and then <url>api/.
func (c *Client) DiscoverV3(ctx context.Context) (string, error) {
	c.mu.Lock()
	cached := c.v3
	c.mu.Unlock()
	if cached != "" {
		return cached, nil
	}
	var lastErr error
	for _, candidate := range []string{c.base.String(), c.Resolve("api/")} {
		body, err := c.getRaw(ctx, candidate)
		if err != nil {
			if !isNotFound(err) {
				lastErr = err
			}
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		v3 := gjson.GetBytes(body, "available_versions.v3")
		if !v3.Exists() {
			continue
		}
		root, err := url.Parse(candidate)
		if err != nil {
			continue
		}
		ref, err := root.Parse(v3.String())
		if err != nil {
			continue
		}
		c.mu.Lock()
		c.v3 = ref.String()
		c.mu.Unlock()
		return ref.String(), nil
	}
	if lastErr != nil {
		return "", lastErr
	}
	return "", ansibleerrors.UpstreamUnavailable(c.base.String(), 0, fmt.Errorf("no v3 API advertised"))
}

// walk follows links.next from first and decodes every data element.
func walk[T any](ctx context.Context, c *Client, first string) ([]T, error) {
	var out []T
	next := first
	for next != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var page struct {
			Meta struct {
				Count int `json:"count"`
			} `json:"meta"`
			Links struct {
				Next *string `json:"next"`
			} `json:"links"`
			Data []T `json:"data"`
		}
		if err := c.getJSON(ctx, next, &page); err != nil {
			return nil, err
		}
		out = append(out, page.Data...)
		if page.Links.Next == nil || *page.Links.Next == "" || len(page.Data) == 0 {
			break
		}
		cur, _ := url.Parse(next)
		ref, err := cur.Parse(*page.Links.Next)
		if err != nil {
			return nil, ansibleerrors.UpstreamUnavailable(next, 0, err)
		}
		next = ref.String()
	}
	return out, nil
}

func (c *Client) v3URL(ctx context.Context, path string, query url.Values) (string, error) {
	v3, err := c.DiscoverV3(ctx)
	if err != nil {
		return "", err
	}
	root, _ := url.Parse(v3)
	u, err := root.Parse(path)
	if err != nil {
		return "", err
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func pageQuery() url.Values {
	return url.Values{"limit": {fmt.Sprint(pageSize)}, "offset": {"0"}}
}

// ListCollections walks the upstream collection index.
func (c *Client) ListCollections(ctx context.Context) ([]CollectionRef, error) {
	first, err := c.v3URL(ctx, "collections/", pageQuery())
	if err != nil {
		return nil, err
	}
	return walk[CollectionRef](ctx, c, first)
}

func (c *Client) collectionURL(ctx context.Context, namespace, name, suffix string, q url.Values) (string, error) {
	return c.v3URL(ctx, "collections/"+url.PathEscape(namespace)+"/"+url.PathEscape(name)+"/"+suffix, q)
}

// GetCollection fails with CollectionNotFound when the upstream has no
// such collection.
func (c *Client) GetCollection(ctx context.Context, namespace, name string) (*CollectionRef, error) {
	u, err := c.collectionURL(ctx, namespace, name, "", nil)
	if err != nil {
		return nil, err
	}
	var ref CollectionRef
	if err := c.getJSON(ctx, u, &ref); err != nil {
		if isNotFound(err) {
			return nil, ansibleerrors.CollectionNotFound(namespace, name, u)
		}
		return nil, err
	}
	return &ref, nil
}

func (c *Client) ListVersions(ctx context.Context, namespace, name string) ([]VersionRef, error) {
	u, err := c.collectionURL(ctx, namespace, name, "versions/", pageQuery())
	if err != nil {
		return nil, err
	}
	versions, err := walk[VersionRef](ctx, c, u)
	if err != nil {
		if isNotFound(err) {
			return nil, ansibleerrors.CollectionNotFound(namespace, name, u)
		}
		return nil, err
	}
	return versions, nil
}

func (c *Client) GetVersion(ctx context.Context, namespace, name, version string) (*VersionDetail, error) {
	u, err := c.collectionURL(ctx, namespace, name, "versions/"+url.PathEscape(version)+"/", nil)
	if err != nil {
		return nil, err
	}
	var d VersionDetail
	if err := c.getJSON(ctx, u, &d); err != nil {
		if isNotFound(err) {
			return nil, ansibleerrors.CollectionNotFound(namespace, name, u)
		}
		return nil, err
	}
	if d.DownloadURL != "" {
		d.DownloadURL = c.resolveFrom(u, d.DownloadURL)
	}
	return &d, nil
}

func (c *Client) resolveFrom(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	u, err := b.Parse(ref)
	if err != nil {
		return ref
	}
	return u.String()
}

// GetNamespace returns nil without error when the upstream does not
// publish namespace metadata.
func (c *Client) GetNamespace(ctx context.Context, namespace string) (*NamespaceInfo, error) {
	u, err := c.v3URL(ctx, "namespaces/"+url.PathEscape(namespace)+"/", nil)
	if err != nil {
		return nil, err
	}
	body, err := c.getRaw(ctx, u)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	info := &NamespaceInfo{Links: map[string]string{}}
	if err := json.Unmarshal(body, info); err != nil {
		return nil, ansibleerrors.UpstreamUnavailable(u, 0, err)
	}
	// links are a list of {name, url} on galaxy and a mapping on older servers
	links := gjson.GetBytes(body, "links")
	if links.IsArray() {
		for _, l := range links.Array() {
			info.Links[l.Get("name").String()] = l.Get("url").String()
		}
	} else if links.IsObject() {
		links.ForEach(func(k, v gjson.Result) bool {
			info.Links[k.String()] = v.String()
			return true
		})
	}
	return info, nil
}

// ListRoles walks a v1 role listing rooted at the remote URL.
func (c *Client) ListRoles(ctx context.Context) ([]RoleRef, error) {
	next := c.base.String()
	if u, err := url.Parse(next); err == nil && u.RawQuery == "" {
		u.RawQuery = url.Values{"page_size": {fmt.Sprint(pageSize)}}.Encode()
		next = u.String()
	}
	var out []RoleRef
	for next != "" {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		body, err := c.getRaw(ctx, next)
		if err != nil {
			return nil, err
		}
		results := gjson.GetBytes(body, "results")
		for _, r := range results.Array() {
			ns := r.Get("summary_fields.namespace.name").String()
			if ns == "" {
				ns = r.Get("namespace").String()
			}
			role := RoleRef{
				Namespace:  ns,
				Name:       r.Get("name").String(),
				GithubUser: r.Get("github_user").String(),
				GithubRepo: r.Get("github_repo").String(),
			}
			for _, v := range r.Get("summary_fields.versions").Array() {
				role.Versions = append(role.Versions, RoleVersion{Name: v.Get("name").String(), Source: v.Get("source").String()})
			}
			out = append(out, role)
		}
		nextRef := gjson.GetBytes(body, "next")
		if !nextRef.Exists() || nextRef.Type == gjson.Null || nextRef.String() == "" || len(results.Array()) == 0 {
			break
		}
		next = c.resolveFrom(next, nextRef.String())
	}
	return out, nil
}
