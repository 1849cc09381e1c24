package syncer

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/artifactstore"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/galaxyclient"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/gitremote"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/requirements"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/versionutil"
	"github.com/rs/zerolog/log"
)

// request asks for the versions of one collection matching rng. A nil rng
// asks for every version.
type request struct {
	namespace  string
	name       string
	rng        *versionutil.Range
	client     *galaxyclient.Client
	signatures []string
}

func (q *request) fullName() string {
	return q.namespace + "." + q.name
}

// unit is one collection version the sync will place in the new version.
type unit struct {
	namespace string
	name      string
	version   string
	sha256    string

	client        *galaxyclient.Client
	detail        *galaxyclient.VersionDetail
	git           *gitremote.Collection
	signatureURLs []string

	existing  *models.CollectionVersion
	artifact  *artifactstore.PutResult
	signature [][]byte
	cv        *models.CollectionVersion
}

func (u *unit) String() string {
	return u.namespace + "." + u.name + "==" + u.version
}

type upstreamCollection struct {
	ref      *galaxyclient.CollectionRef
	versions []string
}

type collectionKey struct {
	client   *galaxyclient.Client
	fullName string
}

type run struct {
	e      *Engine
	repo   *models.Repository
	remote *models.Remote
	opts   SyncOptions
	rep    Reporter

	client      *galaxyclient.Client
	sources     map[string]*galaxyclient.Client
	collections map[collectionKey]*upstreamCollection

	units        []*unit
	roles        []galaxyclient.RoleRef
	deprecated   map[string]bool
	lastModified time.Time
	commitSha    string

	planned     []uuid.UUID
	undeprecate []uuid.UUID
}

func newRun(e *Engine, repo *models.Repository, remote *models.Remote, opts SyncOptions, rep Reporter) *run {
	return &run{
		e:           e,
		repo:        repo,
		remote:      remote,
		opts:        opts,
		rep:         rep,
		sources:     map[string]*galaxyclient.Client{},
		collections: map[collectionKey]*upstreamCollection{},
		deprecated:  map[string]bool{},
	}
}

func (r *run) touch(t time.Time) {
	if t.After(r.lastModified) {
		r.lastModified = t
	}
}

// clientFor returns the client for a requirements entry source, sharing
// the remote's credentials and proxy.
func (r *run) clientFor(source string) (*galaxyclient.Client, error) {
	if source == "" || source == r.remote.URL {
		return r.client, nil
	}
	if !strings.HasSuffix(source, "/") {
		source += "/"
	}
	if c, ok := r.sources[source]; ok {
		return c, nil
	}
	alt := *r.remote
	alt.URL = source
	c, err := galaxyclient.New(&alt, r.e.opts.Client)
	if err != nil {
		return nil, err
	}
	r.sources[source] = c
	return c, nil
}

// plan turns the remote into the collection requests to resolve. Git and
// role remotes produce their units directly.
func (r *run) plan(ctx context.Context) ([]*request, error) {
	switch r.remote.Type {
	case catcommon.RemoteTypeGit:
		return nil, r.planGit(ctx)
	case catcommon.RemoteTypeRole:
		return nil, r.planRoles(ctx)
	}

	c, err := galaxyclient.New(r.remote, r.e.opts.Client)
	if err != nil {
		return nil, err
	}
	r.client = c

	if strings.TrimSpace(r.remote.RequirementsFile) != "" {
		file, aerr := requirements.Parse(r.remote.RequirementsFile)
		if aerr != nil {
			return nil, aerr
		}
		var reqs []*request
		for _, col := range file.Collections {
			client, err := r.clientFor(col.Source)
			if err != nil {
				return nil, err
			}
			reqs = append(reqs, &request{
				namespace:  col.Namespace,
				name:       col.Name,
				rng:        col.Range,
				client:     client,
				signatures: col.Signatures,
			})
		}
		log.Ctx(ctx).Info().Int("collections", len(reqs)).Msg("planned sync from requirements")
		return reqs, nil
	}

	refs, err := c.ListCollections(ctx)
	if err != nil {
		return nil, err
	}
	reqs := make([]*request, 0, len(refs))
	for i := range refs {
		ref := &refs[i]
		reqs = append(reqs, &request{namespace: ref.Namespace, name: ref.Name, client: c})
		r.collections[collectionKey{c, ref.Namespace + "." + ref.Name}] = &upstreamCollection{ref: ref}
	}
	log.Ctx(ctx).Info().Int("collections", len(reqs)).Msg("planned sync from upstream listing")
	return reqs, nil
}

func (r *run) planGit(ctx context.Context) error {
	cols, err := gitremote.Collections(ctx, r.remote, r.e.opts.WorkDir)
	if err != nil {
		return err
	}
	for _, col := range cols {
		cv := col.CollectionVersion()
		r.commitSha = col.Commit
		r.units = append(r.units, &unit{
			namespace: cv.Namespace,
			name:      cv.Name,
			version:   cv.Version,
			sha256:    cv.Sha256,
			git:       col,
		})
	}
	return nil
}

func (r *run) planRoles(ctx context.Context) error {
	c, err := galaxyclient.New(r.remote, r.e.opts.Client)
	if err != nil {
		return err
	}
	r.client = c
	roles, err := c.ListRoles(ctx)
	if err != nil {
		return err
	}
	r.roles = roles
	log.Ctx(ctx).Info().Int("roles", len(roles)).Msg("planned role sync")
	return nil
}

func (r *run) upstream(ctx context.Context, q *request) (*upstreamCollection, error) {
	key := collectionKey{q.client, q.fullName()}
	uc, ok := r.collections[key]
	if !ok {
		ref, err := q.client.GetCollection(ctx, q.namespace, q.name)
		if err != nil {
			return nil, err
		}
		uc = &upstreamCollection{ref: ref}
		r.collections[key] = uc
	}
	if uc.versions == nil {
		refs, err := q.client.ListVersions(ctx, q.namespace, q.name)
		if err != nil {
			return nil, err
		}
		uc.versions = make([]string, 0, len(refs))
		for _, v := range refs {
			uc.versions = append(uc.versions, v.Version)
		}
		r.deprecated[q.fullName()] = uc.ref.Deprecated
		r.touch(uc.ref.UpdatedAt)
	}
	return uc, nil
}

// pick selects the versions of available that q asks for: all of them for
// a nil range, else the highest one the range allows. Prereleases only win
// when the range names one.
func pick(q *request, available []string) []string {
	if q.rng == nil {
		return available
	}
	if exact, ok := q.rng.Exact(); ok {
		for _, v := range available {
			if versionutil.Compare(v, exact) == 0 {
				return []string{v}
			}
		}
		return nil
	}
	best, ok := q.rng.Highest(available)
	if !ok {
		return nil
	}
	return []string{best.String()}
}

func splitName(full string) (string, string, bool) {
	ns, name, ok := strings.Cut(full, ".")
	if !ok || ns == "" || name == "" || strings.Contains(name, ".") {
		return "", "", false
	}
	return ns, name, true
}

// resolve expands requests breadth first over the dependency graph. The
// visited set on namespace, name and version terminates cycles.
func (r *run) resolve(ctx context.Context, queue []*request) error {
	visited := map[string]*unit{}
	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := queue[0]
		queue = queue[1:]

		uc, err := r.upstream(ctx, q)
		if err != nil {
			return err
		}
		versions := pick(q, uc.versions)
		if len(versions) == 0 {
			if q.rng == nil {
				continue
			}
			return ansibleerrors.ErrCollectionNotFound.Msg(fmt.Sprintf("no version of %s matches %q", q.fullName(), q.rng.String()))
		}
		for _, v := range versions {
			key := q.fullName() + "@" + v
			if u, ok := visited[key]; ok {
				u.signatureURLs = append(u.signatureURLs, q.signatures...)
				continue
			}
			detail, err := q.client.GetVersion(ctx, q.namespace, q.name, v)
			if err != nil {
				return err
			}
			r.touch(detail.UpdatedAt)
			u := &unit{
				namespace:     q.namespace,
				name:          q.name,
				version:       v,
				sha256:        strings.ToLower(detail.Artifact.Sha256),
				client:        q.client,
				detail:        detail,
				signatureURLs: append([]string(nil), q.signatures...),
			}
			visited[key] = u
			r.units = append(r.units, u)

			if !r.remote.SyncDependencies {
				continue
			}
			deps := make([]string, 0, len(detail.Metadata.Dependencies))
			for dep := range detail.Metadata.Dependencies {
				deps = append(deps, dep)
			}
			sort.Strings(deps)
			for _, dep := range deps {
				ns, name, ok := splitName(dep)
				if !ok {
					log.Ctx(ctx).Warn().Str("collection", u.String()).Str("dependency", dep).Msg("ignoring malformed dependency")
					continue
				}
				rng, err := versionutil.ParseRange(detail.Metadata.Dependencies[dep])
				if err != nil {
					return err
				}
				queue = append(queue, &request{namespace: ns, name: name, rng: rng, client: q.client})
			}
		}
	}
	if r.signedOnly() {
		r.dropUnsigned(ctx)
	}
	log.Ctx(ctx).Info().Int("versions", len(r.units)).Msg("resolved sync plan")
	r.rep.Progress(ctx, models.ProgressReport{Message: "Parsing CollectionVersion Metadata", Code: "sync.parsing.metadata", State: "completed", Done: len(r.units), Total: len(r.units)})
	return nil
}

// hasSignatures reports whether the upstream publishes a signature for u,
// inline or through a requirements entry.
func (u *unit) hasSignatures() bool {
	if len(u.signatureURLs) > 0 {
		return true
	}
	if u.detail == nil {
		return false
	}
	for _, s := range u.detail.Signatures {
		if s.Signature != "" {
			return true
		}
	}
	return false
}

func (r *run) signedOnly() bool {
	return r.remote.SignedOnly && r.remote.Type == catcommon.RemoteTypeCollection
}

// dropUnsigned keeps only the versions that come with a signature.
func (r *run) dropUnsigned(ctx context.Context) {
	kept := r.units[:0]
	for _, u := range r.units {
		if u.hasSignatures() {
			kept = append(kept, u)
			continue
		}
		log.Ctx(ctx).Debug().Str("collection", u.String()).Msg("skipping unsigned collection version")
	}
	if dropped := len(r.units) - len(kept); dropped > 0 {
		log.Ctx(ctx).Info().Int("skipped", dropped).Msg("signed only remote skipped unsigned versions")
	}
	r.units = kept
}
