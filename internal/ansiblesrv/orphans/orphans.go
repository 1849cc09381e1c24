// Package orphans removes content, collections and artifacts that no
// repository version holds any more.
package orphans

import (
	"context"
	"time"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/artifactstore"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/rs/zerolog/log"
)

type Result struct {
	Content     int64 `json:"content"`
	Collections int64 `json:"collections"`
	Artifacts   int64 `json:"artifacts"`
}

type Cleaner struct {
	db    db.OrphanManager
	store *artifactstore.Store
	now   func() time.Time
}

func New(d db.OrphanManager, store *artifactstore.Store) *Cleaner {
	return &Cleaner{db: d, store: store, now: time.Now}
}

// Cleanup deletes orphaned content created before the grace period, then
// empty collections, then artifacts nothing references. A blob is unlinked
// before its row is dropped so a failure leaves a row to retry from.
func (c *Cleaner) Cleanup(ctx context.Context, grace time.Duration) (Result, error) {
	var res Result
	cutoff := c.now().Add(-grace)

	n, aerr := c.db.DeleteOrphanContent(ctx, cutoff)
	if aerr != nil {
		return res, aerr
	}
	res.Content = n

	n, aerr = c.db.DeleteEmptyCollections(ctx)
	if aerr != nil {
		return res, aerr
	}
	res.Collections = n

	shas, aerr := c.db.ListOrphanArtifacts(ctx, cutoff)
	if aerr != nil {
		return res, aerr
	}
	for _, sha := range shas {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		removed, err := c.store.Unlink(ctx, sha)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Str("sha256", sha).Msg("failed to unlink artifact")
			continue
		}
		if !removed {
			continue
		}
		if aerr := c.db.DeleteArtifact(ctx, sha); aerr != nil {
			log.Ctx(ctx).Error().Err(aerr).Str("sha256", sha).Msg("failed to delete artifact row")
			continue
		}
		res.Artifacts++
	}
	log.Ctx(ctx).Info().
		Int64("content", res.Content).
		Int64("collections", res.Collections).
		Int64("artifacts", res.Artifacts).
		Msg("orphan cleanup complete")
	return res, nil
}

// Run calls Cleanup every interval until ctx is done.
func (c *Cleaner) Run(ctx context.Context, interval, grace time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := c.Cleanup(ctx, grace); err != nil && ctx.Err() == nil {
				log.Ctx(ctx).Error().Err(err).Msg("orphan cleanup failed")
			}
		case <-ctx.Done():
			return
		}
	}
}
