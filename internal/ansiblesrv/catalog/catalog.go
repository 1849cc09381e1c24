// Package catalog holds the catalog operations that span more than one
// store call: namespace metadata keyed by its canonical digest, deprecation
// toggles and draft-scoped repository edits.
package catalog

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/anand-gl/jsoncanonicalizer"
	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

type Catalog struct {
	db db.DB_
}

func New(d db.DB_) *Catalog {
	return &Catalog{db: d}
}

func (c *Catalog) DB() db.DB_ {
	return c.db
}

// NamespaceFields are the user supplied parts of namespace metadata.
type NamespaceFields struct {
	Company      string            `json:"company"`
	Email        string            `json:"email"`
	Description  string            `json:"description"`
	Resources    string            `json:"resources"`
	Links        map[string]string `json:"links"`
	AvatarSha256 string            `json:"avatar_sha256,omitempty"`
}

// NamespaceMetadataDigest is the sha256 of the RFC 8785 canonical JSON of
// the fields together with the namespace name.
func NamespaceMetadataDigest(namespace string, f NamespaceFields) (string, error) {
	if f.Links == nil {
		f.Links = map[string]string{}
	}
	raw, err := json.Marshal(struct {
		Name string `json:"name"`
		NamespaceFields
	}{Name: namespace, NamespaceFields: f})
	if err != nil {
		return "", err
	}
	canonical, err := jsoncanonicalizer.Transform(raw)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// UpsertNamespaceMetadata stores the metadata unit for namespace, returning
// the existing unit when identical metadata was stored before.
func (c *Catalog) UpsertNamespaceMetadata(ctx context.Context, namespace string, f NamespaceFields) (*models.NamespaceMetadata, apperrors.Error) {
	digest, err := NamespaceMetadataDigest(namespace, f)
	if err != nil {
		return nil, dberror.ErrInvalidInput.MsgErr("unable to canonicalize namespace metadata", err)
	}
	return c.db.UpsertNamespaceMetadata(ctx, &models.NamespaceMetadata{
		Namespace:      namespace,
		MetadataSha256: digest,
		Company:        f.Company,
		Email:          f.Email,
		Description:    f.Description,
		Resources:      f.Resources,
		Links:          f.Links,
		AvatarSha256:   f.AvatarSha256,
	})
}

// Modify runs fn against a fresh draft of repoID and commits it. The draft
// is discarded when fn or the commit fails.
func (c *Catalog) Modify(ctx context.Context, repoID uuid.UUID, fn func(draft *models.RepositoryVersion) error) (*models.RepositoryVersion, error) {
	draft, aerr := c.db.BeginVersion(ctx, repoID)
	if aerr != nil {
		return nil, aerr
	}
	if err := fn(draft); err != nil {
		c.discard(ctx, draft)
		return nil, err
	}
	v, aerr := c.db.CommitVersion(ctx, draft)
	if aerr != nil {
		c.discard(ctx, draft)
		return nil, aerr
	}
	return v, nil
}

func (c *Catalog) discard(ctx context.Context, draft *models.RepositoryVersion) {
	// the draft outlives a canceled request context
	if err := c.db.DiscardVersion(context.WithoutCancel(ctx), draft); err != nil {
		log.Ctx(ctx).Error().Err(err).
			Str("repository_id", draft.RepositoryID.String()).
			Int64("number", draft.Number).
			Msg("unable to discard draft")
	}
}

// MarkDeprecated sets or clears the deprecation of namespace.name in the
// next version of repoID.
func (c *Catalog) MarkDeprecated(ctx context.Context, repoID uuid.UUID, namespace, name string, deprecated bool) (*models.RepositoryVersion, error) {
	repo, aerr := c.db.GetRepository(ctx, repoID)
	if aerr != nil {
		return nil, aerr
	}
	current, aerr := c.db.IsDeprecatedIn(ctx, repoID, repo.LatestVersionNumber, namespace, name)
	if aerr != nil {
		return nil, aerr
	}
	if current == deprecated {
		return c.db.GetRepositoryVersion(ctx, repoID, repo.LatestVersionNumber)
	}
	marker, aerr := c.db.UpsertDeprecationMarker(ctx, namespace, name)
	if aerr != nil {
		return nil, aerr
	}
	return c.Modify(ctx, repoID, func(draft *models.RepositoryVersion) error {
		ids := []uuid.UUID{marker.ContentID}
		if deprecated {
			return c.db.AddContent(ctx, draft, ids)
		}
		return c.db.RemoveContent(ctx, draft, ids)
	})
}

// AddContent commits a new version of repoID with ids added.
func (c *Catalog) AddContent(ctx context.Context, repoID uuid.UUID, ids ...uuid.UUID) (*models.RepositoryVersion, error) {
	return c.Modify(ctx, repoID, func(draft *models.RepositoryVersion) error {
		return c.db.AddContent(ctx, draft, ids)
	})
}

// RemoveContent commits a new version of repoID with ids removed.
func (c *Catalog) RemoveContent(ctx context.Context, repoID uuid.UUID, ids ...uuid.UUID) (*models.RepositoryVersion, error) {
	return c.Modify(ctx, repoID, func(draft *models.RepositoryVersion) error {
		return c.db.RemoveContent(ctx, draft, ids)
	})
}
