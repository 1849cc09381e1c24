package syncer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/ansibleerrors"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/artifactstore"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catalog"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/collectionimport"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/rs/zerolog/log"
)

// ingest records every unit in the catalog and collects the content ids
// the new version will hold.
func (r *run) ingest(ctx context.Context) error {
	for i, u := range r.units {
		if err := ctx.Err(); err != nil {
			return err
		}
		if r.signedOnly() && len(u.signature) == 0 {
			log.Ctx(ctx).Warn().Str("collection", u.String()).Msg("no signature could be fetched; skipping")
			if u.artifact != nil {
				// leave the blob to orphan cleanup
				a := &models.Artifact{Sha256: u.artifact.Sha256, Size: u.artifact.Size, StoragePath: artifactstore.RelativePath(u.artifact.Sha256)}
				if aerr := r.e.db.CreateArtifact(ctx, a); aerr != nil {
					log.Ctx(ctx).Warn().Err(aerr).Str("sha256", a.Sha256).Msg("unable to record unused artifact")
				}
			}
			continue
		}
		if err := r.ingestUnit(ctx, u); err != nil {
			return err
		}
		r.planned = append(r.planned, u.cv.ContentID)
		for _, data := range u.signature {
			sum := sha256.Sum256(data)
			sig, aerr := r.e.db.UpsertSignature(ctx, &models.SignatureRecord{
				CollectionVersionID: u.cv.ContentID,
				Digest:              hex.EncodeToString(sum[:]),
				Data:                data,
			})
			if aerr != nil {
				log.Ctx(ctx).Warn().Err(aerr).Str("collection", u.String()).Msg("unable to store signature")
				continue
			}
			r.planned = append(r.planned, sig.ContentID)
		}
		r.rep.Progress(ctx, models.ProgressReport{Message: "Importing Collections", Code: "sync.importing.collections", State: "running", Done: i + 1, Total: len(r.units)})
	}
	if err := r.ingestRoles(ctx); err != nil {
		return err
	}
	if r.client != nil {
		r.ingestNamespaces(ctx)
	}
	return r.ingestDeprecations(ctx)
}

func (r *run) ingestUnit(ctx context.Context, u *unit) error {
	if u.artifact != nil {
		a := &models.Artifact{
			Sha256:      u.artifact.Sha256,
			Size:        u.artifact.Size,
			StoragePath: artifactstore.RelativePath(u.artifact.Sha256),
		}
		if aerr := r.e.db.CreateArtifact(ctx, a); aerr != nil {
			return aerr
		}
	}
	if u.existing != nil {
		u.cv = u.existing
		return nil
	}

	var cv *models.CollectionVersion
	switch {
	case u.git != nil:
		cv = u.git.CollectionVersion()
	case u.artifact != nil:
		imp, err := r.read(ctx, u)
		if err != nil {
			return err
		}
		cv = imp.CollectionVersion(u.artifact.Sha256)
		if cv.RequiresAnsible == "" {
			cv.RequiresAnsible = u.detail.RequiresAnsible
		}
	default:
		if u.sha256 == "" {
			return ansibleerrors.ErrInvalidCollection.Msg(fmt.Sprintf("upstream publishes no sha256 for %s", u))
		}
		cv = fromDetail(u)
	}

	stored, aerr := r.e.db.UpsertCollectionVersion(ctx, cv)
	if aerr != nil {
		return aerr
	}
	u.cv = stored
	if u.detail != nil && !r.downloads() {
		aerr := r.e.db.UpsertRemoteArtifact(ctx, &models.RemoteArtifact{
			ContentID: stored.ContentID,
			RemoteID:  r.remote.RemoteID,
			URL:       u.detail.DownloadURL,
			Sha256:    u.sha256,
			Size:      u.detail.Artifact.Size,
		})
		if aerr != nil {
			return aerr
		}
	}
	return nil
}

// read parses the stored artifact of u and checks that it is the
// collection version the upstream described.
func (r *run) read(ctx context.Context, u *unit) (*collectionimport.Collection, error) {
	rc, err := r.e.store.Open(ctx, u.artifact.Sha256)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	imp, aerr := collectionimport.Read(rc)
	if aerr != nil {
		return nil, aerr
	}
	info := imp.Manifest.CollectionInfo
	if info.Namespace != u.namespace || info.Name != u.name || info.Version != u.version {
		return nil, ansibleerrors.ErrInvalidCollection.Msg(fmt.Sprintf("artifact for %s holds %s.%s==%s", u, info.Namespace, info.Name, info.Version))
	}
	return imp, nil
}

// fromDetail builds the catalog row of a version that is not downloaded
// from the metadata the upstream publishes.
func fromDetail(u *unit) *models.CollectionVersion {
	d := u.detail
	md := d.Metadata
	contents := make([]models.ContentEntry, 0, len(md.Contents))
	for _, c := range md.Contents {
		contents = append(contents, models.ContentEntry{Name: c.Name, ContentType: c.ContentType, Description: c.Description})
	}
	deps := md.Dependencies
	if deps == nil {
		deps = map[string]string{}
	}
	return &models.CollectionVersion{
		Namespace:       u.namespace,
		Name:            u.name,
		Version:         u.version,
		Sha256:          u.sha256,
		Contents:        contents,
		Dependencies:    deps,
		Description:     md.Description,
		Tags:            md.Tags,
		Authors:         md.Authors,
		License:         md.License,
		Homepage:        md.Homepage,
		Repository:      md.Repository,
		Documentation:   md.Documentation,
		Issues:          md.Issues,
		RequiresAnsible: d.RequiresAnsible,
	}
}

func (r *run) ingestRoles(ctx context.Context) error {
	for _, ref := range r.roles {
		for _, v := range ref.Versions {
			role, aerr := r.e.db.UpsertRole(ctx, &models.Role{Namespace: ref.Namespace, Name: ref.Name, Version: v.Name})
			if aerr != nil {
				return aerr
			}
			r.planned = append(r.planned, role.ContentID)
		}
	}
	return nil
}

// ingestNamespaces stores the metadata of every namespace touched by the
// sync. Upstreams without namespace metadata are skipped.
func (r *run) ingestNamespaces(ctx context.Context) {
	seen := map[string]bool{}
	var names []string
	for _, u := range r.units {
		if u.client == nil || seen[u.namespace] {
			continue
		}
		seen[u.namespace] = true
		names = append(names, u.namespace)
	}
	sort.Strings(names)
	for _, ns := range names {
		info, err := r.client.GetNamespace(ctx, ns)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Str("namespace", ns).Msg("unable to fetch namespace metadata")
			continue
		}
		if info == nil {
			continue
		}
		md, aerr := r.e.cat.UpsertNamespaceMetadata(ctx, ns, catalog.NamespaceFields{
			Company:     info.Company,
			Email:       info.Email,
			Description: info.Description,
			Resources:   info.Resources,
			Links:       info.Links,
		})
		if aerr != nil {
			log.Ctx(ctx).Warn().Err(aerr).Str("namespace", ns).Msg("unable to store namespace metadata")
			continue
		}
		r.planned = append(r.planned, md.ContentID)
	}
}

// ingestDeprecations mirrors the upstream deprecation flag of every
// collection the sync touched.
func (r *run) ingestDeprecations(ctx context.Context) error {
	names := make([]string, 0, len(r.deprecated))
	for full := range r.deprecated {
		names = append(names, full)
	}
	sort.Strings(names)
	for _, full := range names {
		ns, name, _ := splitName(full)
		if r.deprecated[full] {
			marker, aerr := r.e.db.UpsertDeprecationMarker(ctx, ns, name)
			if aerr != nil {
				return aerr
			}
			r.planned = append(r.planned, marker.ContentID)
			continue
		}
		current, aerr := r.e.db.IsDeprecatedIn(ctx, r.repo.RepositoryID, r.repo.LatestVersionNumber, ns, name)
		if aerr != nil {
			return aerr
		}
		if current {
			marker, aerr := r.e.db.UpsertDeprecationMarker(ctx, ns, name)
			if aerr != nil {
				return aerr
			}
			r.undeprecate = append(r.undeprecate, marker.ContentID)
		}
	}
	return nil
}
