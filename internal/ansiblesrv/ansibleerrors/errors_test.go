package ansibleerrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
	"github.com/stretchr/testify/assert"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		err      apperrors.Error
		sentinel apperrors.Error
		code     string
		contains string
	}{
		{CollectionNotFound("testing", "demo", "https://galaxy.example/"), ErrCollectionNotFound, "collection_not_found", "testing.demo"},
		{ArtifactCorrupt("aaa", "bbb"), ErrArtifactCorrupt, "artifact_corrupt", "expected sha256 aaa, got bbb"},
		{DuplicateVersion("testing.demo", "1.0.0", "abc"), ErrDuplicateVersion, "duplicate_version", "1.0.0"},
		{ProxyAuthRequired("https://galaxy.example/api/"), ErrProxyAuthRequired, "proxy_auth_required", "407, message='Proxy Authentication Required'"},
		{UpstreamUnavailable("https://g/", http.StatusBadGateway, nil), ErrUpstreamUnavailable, "upstream_unavailable", "502"},
		{InvalidRemote("url must end with /"), ErrInvalidRemote, "invalid_remote", "end with /"},
		{CrossDomain("repository"), ErrCrossDomain, "cross_domain", "repository belongs to a different domain"},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.ErrorIs(t, tt.err, ErrAnsible)
			assert.Equal(t, tt.code, tt.err.Code())
			assert.Contains(t, tt.err.Error(), tt.contains)
			assert.Equal(t, tt.code, apperrors.CodeOf(fmt.Errorf("sync: %w", tt.err)))
		})
	}
}

func TestUpstreamUnavailableWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := UpstreamUnavailable("https://g/", 0, cause)
	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrUpstreamUnavailable)
}
