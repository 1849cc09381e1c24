// Package db defines the catalog persistence contract. Every method except
// the domain and orphan operations is scoped to the domain carried in ctx.
package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
)

type DomainManager interface {
	CreateDomain(ctx context.Context, d *models.Domain) apperrors.Error
	GetDomain(ctx context.Context, domainID uuid.UUID) (*models.Domain, apperrors.Error)
	GetDomainByName(ctx context.Context, name string) (*models.Domain, apperrors.Error)
	ListDomains(ctx context.Context) ([]*models.Domain, apperrors.Error)
	DeleteDomain(ctx context.Context, name string) apperrors.Error
}

type CatalogManager interface {
	// Collection versions
	UpsertCollectionVersion(ctx context.Context, cv *models.CollectionVersion) (*models.CollectionVersion, apperrors.Error)
	GetCollectionVersion(ctx context.Context, namespace, name, version string) (*models.CollectionVersion, apperrors.Error)
	GetCollectionVersionByID(ctx context.Context, contentID uuid.UUID) (*models.CollectionVersion, apperrors.Error)
	ListCollectionVersions(ctx context.Context, namespace, name string) ([]*models.CollectionVersion, apperrors.Error)
	GetCollection(ctx context.Context, namespace, name string) (*models.Collection, apperrors.Error)
	RefreshSearchVectors(ctx context.Context) (int64, apperrors.Error)

	// Other content kinds
	UpsertNamespaceMetadata(ctx context.Context, md *models.NamespaceMetadata) (*models.NamespaceMetadata, apperrors.Error)
	GetNamespace(ctx context.Context, name string) (*models.Namespace, apperrors.Error)
	UpsertRole(ctx context.Context, r *models.Role) (*models.Role, apperrors.Error)
	UpsertSignature(ctx context.Context, s *models.SignatureRecord) (*models.SignatureRecord, apperrors.Error)
	UpsertDeprecationMarker(ctx context.Context, namespace, name string) (*models.DeprecationMarker, apperrors.Error)
	GetContent(ctx context.Context, contentID uuid.UUID) (*models.Content, apperrors.Error)

	// Artifacts are global; their identity is the sha256.
	CreateArtifact(ctx context.Context, a *models.Artifact) apperrors.Error
	GetArtifact(ctx context.Context, sha256 string) (*models.Artifact, apperrors.Error)
	UpsertRemoteArtifact(ctx context.Context, ra *models.RemoteArtifact) apperrors.Error
	GetRemoteArtifact(ctx context.Context, contentID uuid.UUID) (*models.RemoteArtifact, apperrors.Error)

	IncrementDownloadCount(ctx context.Context, namespace, name string) apperrors.Error
	GetDownloadCount(ctx context.Context, namespace, name string) (int64, apperrors.Error)
}

type RepositoryManager interface {
	CreateRepository(ctx context.Context, repo *models.Repository) apperrors.Error
	GetRepository(ctx context.Context, repoID uuid.UUID) (*models.Repository, apperrors.Error)
	GetRepositoryByName(ctx context.Context, name string) (*models.Repository, apperrors.Error)
	ListRepositories(ctx context.Context) ([]*models.Repository, apperrors.Error)
	UpdateRepository(ctx context.Context, repo *models.Repository) apperrors.Error
	DeleteRepository(ctx context.Context, repoID uuid.UUID) apperrors.Error

	// Versions
	GetRepositoryVersion(ctx context.Context, repoID uuid.UUID, number int64) (*models.RepositoryVersion, apperrors.Error)
	ListRepositoryVersions(ctx context.Context, repoID uuid.UUID) ([]*models.RepositoryVersion, apperrors.Error)
	BeginVersion(ctx context.Context, repoID uuid.UUID) (*models.RepositoryVersion, apperrors.Error)
	AddContent(ctx context.Context, draft *models.RepositoryVersion, contentIDs []uuid.UUID) apperrors.Error
	RemoveContent(ctx context.Context, draft *models.RepositoryVersion, contentIDs []uuid.UUID) apperrors.Error
	CommitVersion(ctx context.Context, draft *models.RepositoryVersion) (*models.RepositoryVersion, apperrors.Error)
	DiscardVersion(ctx context.Context, draft *models.RepositoryVersion) apperrors.Error
	ListPublications(ctx context.Context, repoID uuid.UUID) ([]*models.Publication, apperrors.Error)

	// Membership
	ContentIn(ctx context.Context, repoID uuid.UUID, number int64, contentType string) ([]*models.Content, apperrors.Error)
	ListCollectionVersionsIn(ctx context.Context, repoID uuid.UUID, number int64, f models.CollectionVersionFilter, limit, offset int) ([]*models.CollectionVersion, int, apperrors.Error)
	ListCollectionsIn(ctx context.Context, repoID uuid.UUID, number int64, f models.CollectionVersionFilter, limit, offset int) ([]*models.CollectionSummary, int, apperrors.Error)
	ListRolesIn(ctx context.Context, repoID uuid.UUID, number int64, limit, offset int) ([]*models.Role, int, apperrors.Error)
	GetNamespaceMetadataIn(ctx context.Context, repoID uuid.UUID, number int64, namespace string) (*models.NamespaceMetadata, apperrors.Error)
	ListSignaturesIn(ctx context.Context, repoID uuid.UUID, number int64, collectionVersionID uuid.UUID) ([]*models.SignatureRecord, apperrors.Error)
	IsDeprecatedIn(ctx context.Context, repoID uuid.UUID, number int64, namespace, name string) (bool, apperrors.Error)
	ListCrossRepo(ctx context.Context, f models.CrossRepoFilter, limit, offset int) ([]*models.CrossRepoEntry, int, apperrors.Error)

	GetSyncState(ctx context.Context, repoID uuid.UUID) (*models.SyncState, apperrors.Error)
	SetSyncState(ctx context.Context, st *models.SyncState) apperrors.Error
}

type RemoteManager interface {
	CreateRemote(ctx context.Context, r *models.Remote) apperrors.Error
	GetRemote(ctx context.Context, remoteID uuid.UUID) (*models.Remote, apperrors.Error)
	GetRemoteByName(ctx context.Context, name string) (*models.Remote, apperrors.Error)
	ListRemotes(ctx context.Context) ([]*models.Remote, apperrors.Error)
	UpdateRemote(ctx context.Context, r *models.Remote) apperrors.Error
	DeleteRemote(ctx context.Context, remoteID uuid.UUID) apperrors.Error
}

type DistributionManager interface {
	CreateDistribution(ctx context.Context, d *models.Distribution) apperrors.Error
	GetDistribution(ctx context.Context, distributionID uuid.UUID) (*models.Distribution, apperrors.Error)
	GetDistributionByBasePath(ctx context.Context, basePath string) (*models.Distribution, apperrors.Error)
	ListDistributions(ctx context.Context) ([]*models.Distribution, apperrors.Error)
	UpdateDistribution(ctx context.Context, d *models.Distribution) apperrors.Error
	DeleteDistribution(ctx context.Context, distributionID uuid.UUID) apperrors.Error
}

type TaskManager interface {
	CreateTask(ctx context.Context, t *models.Task) apperrors.Error
	GetTask(ctx context.Context, taskID uuid.UUID) (*models.Task, apperrors.Error)
	UpdateTask(ctx context.Context, t *models.Task) apperrors.Error
	ListTasks(ctx context.Context, limit, offset int) ([]*models.Task, int, apperrors.Error)
}

// OrphanManager operates across domains.
type OrphanManager interface {
	DeleteOrphanContent(ctx context.Context, olderThan time.Time) (int64, apperrors.Error)
	// DiscardContent drops the listed units created at or after since
	// that no repository version holds.
	DiscardContent(ctx context.Context, contentIDs []uuid.UUID, since time.Time) (int64, apperrors.Error)
	DeleteEmptyCollections(ctx context.Context) (int64, apperrors.Error)
	ListOrphanArtifacts(ctx context.Context, olderThan time.Time) ([]string, apperrors.Error)
	DeleteArtifact(ctx context.Context, sha256 string) apperrors.Error
	IsArtifactReferenced(ctx context.Context, sha256 string) (bool, error)
}

type ConnectionManager interface {
	Migrate(ctx context.Context) error
	Close(ctx context.Context)
}

type DB_ interface {
	DomainManager
	CatalogManager
	RepositoryManager
	RemoteManager
	DistributionManager
	TaskManager
	OrphanManager
	ConnectionManager
}
