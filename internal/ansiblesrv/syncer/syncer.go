// Package syncer brings an upstream source into a new repository version.
// A sync runs plan, resolve, diff, fetch, ingest and commit in order and
// checks for cancellation between phases and between downloads.
package syncer

import (
	"context"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/artifactstore"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catalog"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/galaxyclient"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/tasks"
	"github.com/rs/zerolog/log"
)

type Options struct {
	// Workers bounds concurrent artifact downloads of one sync.
	Workers int
	// SigningLimit bounds concurrent signature downloads.
	SigningLimit int
	Client       galaxyclient.Options
	// WorkDir holds git checkouts while they are scanned.
	WorkDir string
}

func OptionsFromConfig(cfg *config.ConfigParam) Options {
	return Options{
		Workers:      cfg.Sync.Workers,
		SigningLimit: cfg.SigningTaskLimiter,
		Client:       galaxyclient.OptionsFromConfig(cfg),
	}
}

type SyncOptions struct {
	// Mirror removes content the remote no longer lists.
	Mirror bool
	// Optimize skips the sync when nothing changed since the last one.
	Optimize bool
}

// Reporter follows a sync. Phase is called on every state transition and
// a non-nil error stops the sync.
type Reporter interface {
	Phase(ctx context.Context, state catcommon.TaskState) error
	Progress(ctx context.Context, report models.ProgressReport)
}

type nopReporter struct{}

func (nopReporter) Phase(ctx context.Context, state catcommon.TaskState) error { return nil }
func (nopReporter) Progress(ctx context.Context, report models.ProgressReport) {}

type Engine struct {
	db    db.DB_
	cat   *catalog.Catalog
	store *artifactstore.Store
	opts  Options
}

func New(d db.DB_, store *artifactstore.Store, opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 10
	}
	if opts.SigningLimit < 1 {
		opts.SigningLimit = 10
	}
	if opts.WorkDir == "" {
		opts.WorkDir = os.TempDir()
	}
	return &Engine{db: d, cat: catalog.New(d), store: store, opts: opts}
}

// Sync brings the content of remote into a new version of repo and returns
// it. When nothing changed the latest version is returned instead.
func (e *Engine) Sync(ctx context.Context, repo *models.Repository, remote *models.Remote, opts SyncOptions, rep Reporter) (*models.RepositoryVersion, error) {
	if rep == nil {
		rep = nopReporter{}
	}
	current, aerr := e.db.GetRepository(ctx, repo.RepositoryID)
	if aerr != nil {
		return nil, aerr
	}
	ctx = log.Ctx(ctx).With().
		Str("repository", current.Name).
		Str("remote", remote.Name).
		Logger().WithContext(ctx)

	r := newRun(e, current, remote, opts, rep)
	v, err := r.execute(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("sync failed")
		return nil, err
	}
	log.Ctx(ctx).Info().Int64("version", v.Number).Msg("sync complete")
	return v, nil
}

func (r *run) execute(ctx context.Context) (*models.RepositoryVersion, error) {
	if err := r.phase(ctx, catcommon.TaskPlanning); err != nil {
		return nil, err
	}
	reqs, err := r.plan(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.phase(ctx, catcommon.TaskResolving); err != nil {
		return nil, err
	}
	if err := r.resolve(ctx, reqs); err != nil {
		return nil, err
	}
	if r.opts.Optimize {
		if v, ok := r.unchanged(ctx); ok {
			log.Ctx(ctx).Info().Int64("version", v.Number).Msg("remote unchanged since last sync; skipping")
			return v, nil
		}
	}
	pending, err := r.diff(ctx)
	if err != nil {
		return nil, err
	}

	if err := r.phase(ctx, catcommon.TaskFetching); err != nil {
		return nil, err
	}
	if err := r.fetch(ctx, pending); err != nil {
		return nil, err
	}

	if err := r.phase(ctx, catcommon.TaskIngesting); err != nil {
		return nil, err
	}
	v, err := r.ingestAndCommit(ctx)
	if err != nil {
		return nil, err
	}
	r.recordState(ctx, v)
	return v, nil
}

// ingestAndCommit records the plan in the catalog and commits it. On any
// failure the catalog rows this run created are discarded again.
func (r *run) ingestAndCommit(ctx context.Context) (*models.RepositoryVersion, error) {
	since := time.Now()
	if err := r.ingest(ctx); err != nil {
		r.discard(ctx, since)
		return nil, err
	}
	if err := r.phase(ctx, catcommon.TaskCommitting); err != nil {
		r.discard(ctx, since)
		return nil, err
	}
	v, err := r.commit(ctx)
	if err != nil {
		r.discard(ctx, since)
		return nil, err
	}
	return v, nil
}

// discard drops the content this run stored that no repository version
// took, which also re-flags the highest version of its collections.
func (r *run) discard(ctx context.Context, since time.Time) {
	touched := append([]uuid.UUID(nil), r.planned...)
	touched = append(touched, r.undeprecate...)
	for _, u := range r.units {
		if u.cv != nil {
			touched = append(touched, u.cv.ContentID)
		}
	}
	if len(touched) == 0 {
		return
	}
	// a cancelled sync still cleans up
	n, aerr := r.e.db.DiscardContent(context.WithoutCancel(ctx), touched, since)
	if aerr != nil {
		log.Ctx(ctx).Error().Err(aerr).Msg("unable to discard content of failed sync")
		return
	}
	if n > 0 {
		log.Ctx(ctx).Info().Int64("content", n).Msg("discarded content of failed sync")
	}
}

// phase is a cancellation checkpoint.
func (r *run) phase(ctx context.Context, state catcommon.TaskState) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	log.Ctx(ctx).Debug().Str("phase", string(state)).Msg("sync phase")
	return r.rep.Phase(ctx, state)
}

// Job wraps a sync of remote into repo as a background task body.
func (e *Engine) Job(repo *models.Repository, remote *models.Remote, opts SyncOptions) tasks.Job {
	return func(ctx context.Context, h *tasks.Handle) error {
		v, err := e.Sync(ctx, repo, remote, opts, h)
		if err != nil {
			return err
		}
		h.SetCreatedVersion(v.Number)
		return nil
	}
}
