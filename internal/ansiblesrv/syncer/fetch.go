package syncer

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/artifactstore"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

func (r *run) downloads() bool {
	return r.remote.Type == catcommon.RemoteTypeGit || r.remote.Policy.Downloads()
}

// diff matches units against the catalog. Known versions are only
// referenced; the rest, and known versions whose artifact is missing under
// an immediate policy, are returned for download.
func (r *run) diff(ctx context.Context) ([]*unit, error) {
	var pending []*unit
	for _, u := range r.units {
		existing, aerr := r.e.db.GetCollectionVersion(ctx, u.namespace, u.name, u.version)
		if aerr != nil && !errors.Is(aerr, dberror.ErrNotFound) {
			return nil, aerr
		}
		if existing != nil {
			if u.sha256 != "" && existing.Sha256 != u.sha256 {
				return nil, ansibleerrors.DuplicateVersion(u.namespace+"."+u.name, u.version, existing.Sha256)
			}
			u.existing = existing
			u.sha256 = existing.Sha256
		}
		if !r.downloads() || (u.git != nil && u.git.Tarball == nil) {
			continue
		}
		if existing != nil {
			if _, aerr := r.e.db.GetArtifact(ctx, existing.Sha256); aerr == nil {
				continue
			}
		}
		pending = append(pending, u)
	}
	log.Ctx(ctx).Info().
		Int("planned", len(r.units)).
		Int("known", len(r.units)-len(pending)).
		Int("to_fetch", len(pending)).
		Msg("diffed plan against catalog")
	return pending, nil
}

// workers is the download concurrency of the remote, or the engine
// default when the remote sets none.
func (r *run) workers() int {
	if r.remote.DownloadConcurrency > 0 {
		return r.remote.DownloadConcurrency
	}
	return r.e.opts.Workers
}

// fetch downloads the artifacts of pending over the worker pool. The first
// failure cancels the remaining downloads. Signature documents are fetched
// alongside and only ever warn.
func (r *run) fetch(ctx context.Context, pending []*unit) error {
	total := len(pending)
	var done atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers())
	for _, u := range pending {
		u := u
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if err := r.download(gctx, u); err != nil {
				return err
			}
			n := done.Add(1)
			r.rep.Progress(ctx, models.ProgressReport{Message: "Downloading Artifacts", Code: "sync.downloading.artifacts", State: "running", Done: int(n), Total: total})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.rep.Progress(ctx, models.ProgressReport{Message: "Downloading Artifacts", Code: "sync.downloading.artifacts", State: "completed", Done: total, Total: total})
	r.fetchSignatures(ctx)
	return nil
}

func (r *run) download(ctx context.Context, u *unit) error {
	if u.git != nil {
		res, err := r.e.store.Put(ctx, bytes.NewReader(u.git.Tarball), artifactstore.WithExpectedSha256(u.sha256))
		if err != nil {
			return err
		}
		u.artifact = res
		return nil
	}
	body, _, err := u.client.Download(ctx, u.detail.DownloadURL)
	if err != nil {
		return err
	}
	defer body.Close()
	var opts []artifactstore.PutOption
	if u.sha256 != "" {
		opts = append(opts, artifactstore.WithExpectedSha256(u.sha256))
	}
	res, err := r.e.store.Put(ctx, body, opts...)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("collection", u.String()).Str("url", u.detail.DownloadURL).Msg("artifact download failed")
		return err
	}
	u.artifact = res
	u.sha256 = res.Sha256
	log.Ctx(ctx).Debug().Str("collection", u.String()).Int64("size", res.Size).Msg("artifact downloaded")
	return nil
}

// fetchSignatures collects the signatures of every unit: the ones the
// upstream publishes inline and the documents a requirements entry points
// at.
func (r *run) fetchSignatures(ctx context.Context) {
	sem := semaphore.NewWeighted(int64(r.e.opts.SigningLimit))
	g, gctx := errgroup.WithContext(ctx)
	var mu sync.Mutex
	results := make([][][]byte, len(r.units))
	for i, u := range r.units {
		i, u := i, u
		if u.detail != nil {
			for _, s := range u.detail.Signatures {
				if s.Signature != "" {
					u.signature = append(u.signature, []byte(s.Signature))
				}
			}
		}
		for _, ref := range u.signatureURLs {
			ref := ref
			if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
				log.Ctx(ctx).Warn().Str("collection", u.String()).Str("signature", ref).Msg("skipping signature that is not a URL")
				continue
			}
			if err := sem.Acquire(gctx, 1); err != nil {
				break
			}
			g.Go(func() error {
				defer sem.Release(1)
				data, err := u.client.Fetch(gctx, ref)
				if err != nil {
					log.Ctx(gctx).Warn().Err(err).Str("collection", u.String()).Str("signature", ref).Msg("unable to fetch signature")
					r.rep.Progress(gctx, models.ProgressReport{Message: "Signature download failed: " + ref, Code: "sync.signature.warning", State: "failed"})
					return nil
				}
				mu.Lock()
				results[i] = append(results[i], data)
				mu.Unlock()
				return nil
			})
		}
	}
	_ = g.Wait()
	for i, sigs := range results {
		r.units[i].signature = append(r.units[i].signature, sigs...)
	}
}
