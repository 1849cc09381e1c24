package apis

import (
	"time"

	"github.com/google/uuid"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
)

type apiRootRsp struct {
	Description       string            `json:"description"`
	CurrentVersion    string            `json:"current_version"`
	AvailableVersions map[string]string `json:"available_versions"`
}

type highestVersion struct {
	Href    string `json:"href"`
	Version string `json:"version"`
}

type collectionRsp struct {
	Href           string         `json:"href"`
	Namespace      string         `json:"namespace"`
	Name           string         `json:"name"`
	Deprecated     bool           `json:"deprecated"`
	VersionsURL    string         `json:"versions_url"`
	HighestVersion highestVersion `json:"highest_version"`
	DownloadCount  int64          `json:"download_count"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

type versionListRsp struct {
	Version         string    `json:"version"`
	Href            string    `json:"href"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	RequiresAnsible string    `json:"requires_ansible"`
	Marks           []string  `json:"marks"`
}

type namespaceRef struct {
	Name           string `json:"name"`
	MetadataSha256 string `json:"metadata_sha256,omitempty"`
}

type collectionRef struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name"`
	Href string    `json:"href"`
}

type artifactRsp struct {
	Filename string `json:"filename"`
	Sha256   string `json:"sha256"`
	Size     int64  `json:"size"`
}

type versionMetadata struct {
	Dependencies  map[string]string     `json:"dependencies"`
	Contents      []models.ContentEntry `json:"contents"`
	Tags          []string              `json:"tags"`
	Description   string                `json:"description"`
	Authors       []string              `json:"authors"`
	License       []string              `json:"license"`
	Homepage      string                `json:"homepage"`
	Repository    string                `json:"repository"`
	Documentation string                `json:"documentation"`
	Issues        string                `json:"issues"`
}

type signatureRsp struct {
	Signature         string `json:"signature"`
	PubkeyFingerprint string `json:"pubkey_fingerprint"`
	SigningService    string `json:"signing_service"`
}

type versionRsp struct {
	Version         string          `json:"version"`
	Href            string          `json:"href"`
	Namespace       namespaceRef    `json:"namespace"`
	Name            string          `json:"name"`
	Collection      collectionRef   `json:"collection"`
	DownloadURL     string          `json:"download_url"`
	Artifact        artifactRsp     `json:"artifact"`
	Metadata        versionMetadata `json:"metadata"`
	RequiresAnsible string          `json:"requires_ansible"`
	Signatures      []signatureRsp  `json:"signatures"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

type namespaceLink struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type namespaceRsp struct {
	Name           string          `json:"name"`
	Company        string          `json:"company"`
	Email          string          `json:"email"`
	Description    string          `json:"description"`
	Resources      string          `json:"resources"`
	Links          []namespaceLink `json:"links"`
	MetadataSha256 string          `json:"metadata_sha256"`
	AvatarSha256   string          `json:"avatar_sha256,omitempty"`
}

type deprecateReq struct {
	Deprecated *bool `json:"deprecated"`
}

// v1 role listings use the older count/next/previous/results envelope.
type roleListRsp struct {
	Count    int       `json:"count"`
	Next     *string   `json:"next"`
	Previous *string   `json:"previous"`
	Results  []roleRsp `json:"results"`
}

type roleSummary struct {
	Versions []roleVersionRsp `json:"versions"`
}

type roleVersionRsp struct {
	Name string `json:"name"`
}

type roleRsp struct {
	ID            uuid.UUID   `json:"id"`
	Name          string      `json:"name"`
	Namespace     string      `json:"namespace"`
	GithubUser    string      `json:"github_user"`
	SummaryFields roleSummary `json:"summary_fields"`
}

type taskRefRsp struct {
	Task string `json:"task"`
}

type taskRsp struct {
	Href           string                  `json:"pulp_href"`
	ID             uuid.UUID               `json:"id"`
	Name           string                  `json:"name"`
	State          catcommon.TaskState     `json:"state"`
	LoggingCID     string                  `json:"logging_cid"`
	Repository     *uuid.UUID              `json:"repository,omitempty"`
	Remote         *uuid.UUID              `json:"remote,omitempty"`
	CreatedVersion *int64                  `json:"created_version,omitempty"`
	Progress       []models.ProgressReport `json:"progress_reports"`
	Error          *models.TaskError       `json:"error"`
	CreatedAt      time.Time               `json:"pulp_created"`
	StartedAt      *time.Time              `json:"started_at"`
	FinishedAt     *time.Time              `json:"finished_at"`
}

type distributionReq struct {
	Name              string     `json:"name"`
	BasePath          string     `json:"base_path"`
	Repository        *uuid.UUID `json:"repository"`
	RepositoryVersion *int64     `json:"repository_version"`
}

type distributionRsp struct {
	Href              string     `json:"pulp_href"`
	ID                uuid.UUID  `json:"id"`
	Name              string     `json:"name"`
	BasePath          string     `json:"base_path"`
	Repository        *uuid.UUID `json:"repository"`
	RepositoryVersion *int64     `json:"repository_version"`
	ClientURL         string     `json:"client_url"`
	CreatedAt         time.Time  `json:"pulp_created"`
}

type remoteReq struct {
	Name                string               `json:"name"`
	Type                catcommon.RemoteType `json:"type"`
	URL                 string               `json:"url"`
	Token               string               `json:"token"`
	AuthURL             string               `json:"auth_url"`
	ProxyURL            string               `json:"proxy_url"`
	ProxyUsername       string               `json:"proxy_username"`
	ProxyPassword       string               `json:"proxy_password"`
	RequirementsFile    string               `json:"requirements_file"`
	SyncDependencies    *bool                `json:"sync_dependencies"`
	SignedOnly          bool                 `json:"signed_only"`
	Policy              catcommon.Policy     `json:"policy"`
	GitRef              string               `json:"git_ref"`
	MetadataOnly        bool                 `json:"metadata_only"`
	DownloadConcurrency int                  `json:"download_concurrency"`
}

func (r *remoteReq) apply(m *models.Remote) {
	m.Name = r.Name
	m.Type = r.Type
	if m.Type == "" {
		m.Type = catcommon.RemoteTypeCollection
	}
	m.URL = r.URL
	m.Token = r.Token
	m.AuthURL = r.AuthURL
	m.ProxyURL = r.ProxyURL
	m.ProxyUsername = r.ProxyUsername
	m.ProxyPassword = r.ProxyPassword
	m.RequirementsFile = r.RequirementsFile
	m.SyncDependencies = true
	if r.SyncDependencies != nil {
		m.SyncDependencies = *r.SyncDependencies
	}
	m.SignedOnly = r.SignedOnly
	m.Policy = r.Policy
	m.GitRef = r.GitRef
	m.MetadataOnly = r.MetadataOnly
	m.DownloadConcurrency = r.DownloadConcurrency
}

type repositoryReq struct {
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Autopublish bool       `json:"autopublish"`
	Keyring     string     `json:"keyring"`
	Remote      *uuid.UUID `json:"remote"`
}

type syncReq struct {
	Remote   *uuid.UUID `json:"remote"`
	Mirror   bool       `json:"mirror"`
	Optimize *bool      `json:"optimize"`
}

type modifyReq struct {
	AddContentUnits    []uuid.UUID `json:"add_content_units"`
	RemoveContentUnits []uuid.UUID `json:"remove_content_units"`
}

type orphansReq struct {
	ProtectionTime *int `json:"orphan_protection_time"`
}

type domainReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}
