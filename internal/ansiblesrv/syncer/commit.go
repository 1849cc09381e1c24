package syncer

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/rs/zerolog/log"
)

// commit opens a draft holding every planned unit, drops what the remote
// no longer lists when mirroring, and commits it. A failed commit leaves
// no draft behind. Known versions that orphan cleanup removed since the
// diff are stored again, once.
func (r *run) commit(ctx context.Context) (*models.RepositoryVersion, error) {
	if _, err := r.revive(ctx); err != nil {
		return nil, err
	}
	v, err := r.modify(ctx)
	if err == nil || !errors.Is(err, dberror.ErrNotFound) {
		return v, err
	}
	revived, rerr := r.revive(ctx)
	if rerr != nil {
		return nil, rerr
	}
	if !revived {
		return nil, err
	}
	return r.modify(ctx)
}

// revive finds units whose catalog row disappeared after ingest and
// ingests the plan again with them treated as new.
func (r *run) revive(ctx context.Context) (bool, error) {
	var lost []*unit
	for _, u := range r.units {
		if u.cv == nil {
			continue
		}
		_, aerr := r.e.db.GetContent(ctx, u.cv.ContentID)
		if aerr == nil {
			continue
		}
		if !errors.Is(aerr, dberror.ErrNotFound) {
			return false, aerr
		}
		lost = append(lost, u)
	}
	if len(lost) == 0 {
		return false, nil
	}
	log.Ctx(ctx).Warn().Int("versions", len(lost)).Msg("known collection versions were removed during sync; storing them again")
	for _, u := range lost {
		u.existing, u.cv = nil, nil
		if !r.downloads() || (u.git != nil && u.git.Tarball == nil) {
			continue
		}
		ok, err := r.e.store.Exists(ctx, u.sha256)
		if err != nil {
			return false, err
		}
		if ok {
			continue
		}
		u.artifact = nil
		if err := r.download(ctx, u); err != nil {
			return false, err
		}
	}
	r.planned, r.undeprecate = nil, nil
	return true, r.ingest(ctx)
}

func (r *run) modify(ctx context.Context) (*models.RepositoryVersion, error) {
	keep := make(map[uuid.UUID]struct{}, len(r.planned))
	for _, id := range r.planned {
		keep[id] = struct{}{}
	}
	return r.e.cat.Modify(ctx, r.repo.RepositoryID, func(draft *models.RepositoryVersion) error {
		if r.opts.Mirror {
			current, aerr := r.e.db.ContentIn(ctx, r.repo.RepositoryID, draft.Number, "")
			if aerr != nil {
				return aerr
			}
			var stale []uuid.UUID
			for _, c := range current {
				if _, ok := keep[c.ContentID]; !ok {
					stale = append(stale, c.ContentID)
				}
			}
			if aerr := r.e.db.RemoveContent(ctx, draft, stale); aerr != nil {
				return aerr
			}
			log.Ctx(ctx).Info().Int("removed", len(stale)).Msg("mirror removed unlisted content")
		}
		if aerr := r.e.db.AddContent(ctx, draft, r.planned); aerr != nil {
			return aerr
		}
		if aerr := r.e.db.RemoveContent(ctx, draft, r.undeprecate); aerr != nil {
			return aerr
		}
		return ctx.Err()
	})
}

// credentialsDigest changes whenever anything used to authenticate
// against the remote changes.
func credentialsDigest(remote *models.Remote) string {
	h := sha256.New()
	for _, s := range []string{remote.Token, remote.AuthURL, remote.ProxyURL, remote.ProxyUsername, remote.ProxyPassword} {
		fmt.Fprintf(h, "%d:%s\n", len(s), s)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// planDigest identifies the resolved plan together with the settings that
// shape the resulting version.
func (r *run) planDigest() string {
	lines := make([]string, 0, len(r.units)+len(r.roles))
	for _, u := range r.units {
		lines = append(lines, fmt.Sprintf("collection %s %s", u, u.sha256))
	}
	for _, role := range r.roles {
		for _, v := range role.Versions {
			lines = append(lines, fmt.Sprintf("role %s.%s %s", role.Namespace, role.Name, v.Name))
		}
	}
	for full, dep := range r.deprecated {
		lines = append(lines, fmt.Sprintf("deprecated %s %t", full, dep))
	}
	sort.Strings(lines)
	h := sha256.New()
	fmt.Fprintf(h, "policy=%s mirror=%t deps=%t commit=%s\n", r.remote.Policy, r.opts.Mirror, r.remote.SyncDependencies, r.commitSha)
	h.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(h.Sum(nil))
}

// unchanged reports whether the last successful sync of the repository
// saw the same remote, credentials and plan, with no upstream change since
// and no other change to the repository.
func (r *run) unchanged(ctx context.Context) (*models.RepositoryVersion, bool) {
	st, aerr := r.e.db.GetSyncState(ctx, r.repo.RepositoryID)
	if aerr != nil {
		return nil, false
	}
	switch {
	case st.RemoteID != r.remote.RemoteID,
		st.RemoteURL != r.remote.URL,
		st.CredentialsSha256 != credentialsDigest(r.remote),
		st.PlanSha256 != r.planDigest(),
		st.VersionNumber != r.repo.LatestVersionNumber:
		return nil, false
	}
	if st.UpstreamLastModified.Valid && r.lastModified.After(st.UpstreamLastModified.Time) {
		return nil, false
	}
	v, aerr := r.e.db.GetRepositoryVersion(ctx, r.repo.RepositoryID, r.repo.LatestVersionNumber)
	if aerr != nil {
		return nil, false
	}
	return v, true
}

func (r *run) recordState(ctx context.Context, v *models.RepositoryVersion) {
	st := &models.SyncState{
		RepositoryID:      r.repo.RepositoryID,
		RemoteID:          r.remote.RemoteID,
		RemoteURL:         r.remote.URL,
		CredentialsSha256: credentialsDigest(r.remote),
		PlanSha256:        r.planDigest(),
		UpstreamLastModified: sql.NullTime{
			Time:  r.lastModified,
			Valid: !r.lastModified.IsZero(),
		},
		VersionNumber: v.Number,
		SyncedAt:      time.Now(),
	}
	if aerr := r.e.db.SetSyncState(ctx, st); aerr != nil {
		log.Ctx(ctx).Error().Err(aerr).Msg("unable to record sync state")
	}
}
