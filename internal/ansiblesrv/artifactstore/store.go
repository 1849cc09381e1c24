// Package artifactstore is the content-addressed blob store. Blobs are
// keyed by their SHA-256 under artifact/<first two hex>/<rest>, staged
// before they become visible and never rewritten once stored.
package artifactstore

import (
	"context"
	"io"
	"net/http"
	"path"
	"sync/atomic"

	"github.com/opencontainers/go-digest"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

var (
	ErrArtifactStore    = apperrors.New("artifact store error").SetStatusCode(http.StatusInternalServerError)
	ErrArtifactNotFound = ErrArtifactStore.New("artifact not found").SetStatusCode(http.StatusNotFound).SetCode("artifact_not_found")
	ErrInvalidDigest    = ErrArtifactStore.New("invalid sha256").SetStatusCode(http.StatusBadRequest)
)

// ReferenceChecker tells the store whether any content unit still points at
// an artifact.
type ReferenceChecker interface {
	IsArtifactReferenced(ctx context.Context, sha256 string) (bool, error)
}

type PutResult struct {
	Sha256 string
	Size   int64
	// Stored is the number of bytes newly allocated; 0 when the blob
	// already existed.
	Stored int64
}

// stagedBlob is a blob being written that is not yet visible.
type stagedBlob interface {
	io.Writer
	// commit publishes the blob under key and reports false when the key
	// already existed, in which case the staged copy is dropped.
	commit(ctx context.Context, key string) (bool, error)
	discard()
}

type backend interface {
	stage(ctx context.Context) (stagedBlob, error)
	open(ctx context.Context, key string) (io.ReadCloser, error)
	exists(ctx context.Context, key string) (bool, error)
	remove(ctx context.Context, key string) error
	name() string
}

type Store struct {
	b      backend
	refs   ReferenceChecker
	puts   atomic.Int64
	stored atomic.Int64
}

func newStore(b backend) *Store {
	return &Store{b: b}
}

// SetReferenceChecker installs the checker consulted by Unlink.
func (s *Store) SetReferenceChecker(rc ReferenceChecker) {
	s.refs = rc
}

func (s *Store) Backend() string {
	return s.b.name()
}

// RelativePath is the storage path recorded on the Artifact row.
func RelativePath(sha256 string) string {
	return path.Join("artifact", sha256[:2], sha256[2:])
}

func validate(sha256 string) error {
	d := digest.NewDigestFromEncoded(digest.SHA256, sha256)
	if err := d.Validate(); err != nil {
		return ErrInvalidDigest.Msg("invalid sha256 " + sha256)
	}
	return nil
}

type putOptions struct {
	expected string
}

type PutOption func(*putOptions)

// WithExpectedSha256 makes Put fail with ArtifactCorrupt, leaving nothing
// behind, when the content hashes to anything else.
func WithExpectedSha256(sha256 string) PutOption {
	return func(o *putOptions) {
		o.expected = sha256
	}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Put stores the content of r. It is idempotent on the digest.
func (s *Store) Put(ctx context.Context, r io.Reader, opts ...PutOption) (*PutResult, error) {
	var o putOptions
	for _, opt := range opts {
		opt(&o)
	}
	st, err := s.b.stage(ctx)
	if err != nil {
		return nil, ErrArtifactStore.MsgErr("unable to stage artifact", err)
	}
	digester := digest.SHA256.Digester()
	n, err := io.Copy(io.MultiWriter(st, digester.Hash()), ctxReader{ctx: ctx, r: r})
	if err != nil {
		st.discard()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, ErrArtifactStore.MsgErr("unable to write artifact", err)
	}
	sha := digester.Digest().Encoded()
	if o.expected != "" && o.expected != sha {
		st.discard()
		return nil, ansibleerrors.ArtifactCorrupt(o.expected, sha)
	}
	created, err := st.commit(ctx, RelativePath(sha))
	if err != nil {
		return nil, ErrArtifactStore.MsgErr("unable to commit artifact", err)
	}
	res := &PutResult{Sha256: sha, Size: n}
	if created {
		res.Stored = n
		s.puts.Add(1)
		s.stored.Add(n)
		log.Ctx(ctx).Debug().Str("sha256", sha).Int64("size", n).Str("backend", s.b.name()).Msg("artifact stored")
	}
	return res, nil
}

func (s *Store) Open(ctx context.Context, sha256 string) (io.ReadCloser, error) {
	if err := validate(sha256); err != nil {
		return nil, err
	}
	return s.b.open(ctx, RelativePath(sha256))
}

func (s *Store) Exists(ctx context.Context, sha256 string) (bool, error) {
	if err := validate(sha256); err != nil {
		return false, err
	}
	return s.b.exists(ctx, RelativePath(sha256))
}

// Unlink deletes the blob unless a content unit still references it. It
// reports whether anything was removed.
func (s *Store) Unlink(ctx context.Context, sha256 string) (bool, error) {
	if err := validate(sha256); err != nil {
		return false, err
	}
	if s.refs != nil {
		referenced, err := s.refs.IsArtifactReferenced(ctx, sha256)
		if err != nil {
			return false, err
		}
		if referenced {
			log.Ctx(ctx).Info().Str("sha256", sha256).Msg("artifact still referenced, not unlinking")
			return false, nil
		}
	}
	if err := s.b.remove(ctx, RelativePath(sha256)); err != nil {
		return false, err
	}
	return true, nil
}

// Stats returns the number of blobs written and bytes allocated by this
// process.
func (s *Store) Stats() (puts, bytes int64) {
	return s.puts.Load(), s.stored.Load()
}
