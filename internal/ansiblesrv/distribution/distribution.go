// Package distribution binds base paths to repository content and builds
// the URLs clients use to reach it.
package distribution

import (
	"context"
	"regexp"
	"strings"

	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/catcommon"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/config"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/dberror"
	"github.com/pulp/pulp-ansible-sub001/internal/ansiblesrv/db/models"
	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/rs/zerolog/log"
)

var basePathRe = regexp.MustCompile(`^[A-Za-z0-9_.-]+(/[A-Za-z0-9_.-]+)*$`)

var ErrInvalidBasePath = dberror.ErrInvalidInput.New("invalid base_path")

type Store interface {
	db.DistributionManager
	db.RepositoryManager
}

// NormalizeBasePath strips surrounding slashes and rejects empty, dot and
// non url-safe segments.
func NormalizeBasePath(p string) (string, apperrors.Error) {
	p = strings.Trim(p, "/")
	if len(p) == 0 || len(p) > 256 || !basePathRe.MatchString(p) {
		return "", ErrInvalidBasePath.Msg("invalid base_path: " + p)
	}
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return "", ErrInvalidBasePath.Msg("base_path must not contain dot segments")
		}
	}
	return p, nil
}

// Root returns the path, without host, under which distributions of the
// domain are served.
func Root(cfg *config.ConfigParam, domain string) string {
	root := cfg.APIPrefix()
	if domain != "" && domain != catcommon.DefaultDomainName {
		root += "/" + domain
	}
	return root + "/pulp_ansible/galaxy"
}

// ClientURL is the galaxy v3 root clients configure for basePath.
func ClientURL(cfg *config.ConfigParam, domain, basePath string) string {
	return strings.TrimRight(cfg.APIHostname, "/") + Root(cfg, domain) + "/" + basePath + "/api/v3/"
}

// Create normalizes the base path, defaults the name and stores d in the
// domain in ctx.
func Create(ctx context.Context, s Store, d *models.Distribution) apperrors.Error {
	bp, err := NormalizeBasePath(d.BasePath)
	if err != nil {
		log.Ctx(ctx).Info().Str("base_path", d.BasePath).Msg("invalid base path")
		return err
	}
	d.BasePath = bp
	if d.Name == "" {
		d.Name = bp
	}
	return s.CreateDistribution(ctx, d)
}

// Target is what a distribution serves at the time it was resolved.
type Target struct {
	Distribution *models.Distribution
	Repository   *models.Repository
	Version      int64
}

// Resolve finds the distribution at basePath in the domain in ctx and the
// repository version it currently serves.
func Resolve(ctx context.Context, s Store, basePath string) (*Target, apperrors.Error) {
	bp, aerr := NormalizeBasePath(basePath)
	if aerr != nil {
		return nil, dberror.ErrNotFound.Msg("distribution not found")
	}
	d, aerr := s.GetDistributionByBasePath(ctx, bp)
	if aerr != nil {
		return nil, aerr
	}
	repo, aerr := s.GetRepository(ctx, d.TargetRepository())
	if aerr != nil {
		log.Ctx(ctx).Error().Err(aerr).Str("base_path", bp).Msg("distribution points at a missing repository")
		return nil, aerr
	}
	t := &Target{Distribution: d, Repository: repo, Version: repo.LatestVersionNumber}
	if d.VersionNumber.Valid {
		t.Version = d.VersionNumber.Int64
	}
	return t, nil
}
