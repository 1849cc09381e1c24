// Package ansibleerrors defines the error kinds surfaced by sync, the
// catalog and the remote validators. Each kind carries a stable code that
// is recorded on failed tasks.
package ansibleerrors

import (
	"fmt"
	"net/http"

	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
)

var ErrAnsible = apperrors.New("ansible content error")

var (
	ErrCollectionNotFound  = ErrAnsible.New("collection not found").SetStatusCode(http.StatusNotFound).SetCode("collection_not_found")
	ErrArtifactCorrupt     = ErrAnsible.New("artifact corrupt").SetStatusCode(http.StatusUnprocessableEntity).SetCode("artifact_corrupt")
	ErrDuplicateVersion    = ErrAnsible.New("duplicate collection version").SetStatusCode(http.StatusConflict).SetCode("duplicate_version")
	ErrRepositoryBusy      = ErrAnsible.New("repository has an uncommitted version").SetStatusCode(http.StatusConflict).SetCode("repository_busy")
	ErrProxyAuthRequired   = ErrAnsible.New("proxy authentication required").SetStatusCode(http.StatusBadGateway).SetCode("proxy_auth_required")
	ErrUpstreamUnavailable = ErrAnsible.New("upstream unavailable").SetStatusCode(http.StatusBadGateway).SetCode("upstream_unavailable")
	ErrInvalidRemote       = ErrAnsible.New("invalid remote").SetStatusCode(http.StatusBadRequest).SetCode("invalid_remote")
	ErrCrossDomain         = ErrAnsible.New("cross domain reference").SetStatusCode(http.StatusBadRequest).SetCode("cross_domain")
	ErrInvalidCollection   = ErrAnsible.New("invalid collection artifact").SetStatusCode(http.StatusBadRequest).SetCode("invalid_collection")
	ErrInvalidRequirements = ErrAnsible.New("invalid requirements file").SetStatusCode(http.StatusBadRequest).SetCode("invalid_requirements")
	ErrInvalidVersion      = ErrAnsible.New("invalid version").SetStatusCode(http.StatusBadRequest).SetCode("invalid_version")
	ErrCanceled            = ErrAnsible.New("task canceled").SetCode("canceled")
)

func CollectionNotFound(namespace, name, url string) apperrors.Error {
	return ErrCollectionNotFound.Msg(fmt.Sprintf("collection %s.%s not found at %s", namespace, name, url))
}

func ArtifactCorrupt(expected, actual string) apperrors.Error {
	return ErrArtifactCorrupt.Msg(fmt.Sprintf("artifact checksum mismatch: expected sha256 %s, got %s", expected, actual))
}

func DuplicateVersion(collection, version, existingSha string) apperrors.Error {
	return ErrDuplicateVersion.Msg(fmt.Sprintf("collection %s version %s already exists with sha256 %s", collection, version, existingSha))
}

// ProxyAuthRequired keeps the status text of the proxy response in the
// message, which clients match on.
func ProxyAuthRequired(url string) apperrors.Error {
	return ErrProxyAuthRequired.Msg(fmt.Sprintf("407, message='Proxy Authentication Required', url='%s'", url))
}

func UpstreamUnavailable(url string, status int, err error) apperrors.Error {
	if err != nil {
		return ErrUpstreamUnavailable.MsgErr(fmt.Sprintf("%s: %v", url, err), err)
	}
	return ErrUpstreamUnavailable.Msg(fmt.Sprintf("%d, message='%s', url='%s'", status, http.StatusText(status), url))
}

func InvalidRemote(reason string) apperrors.Error {
	return ErrInvalidRemote.Msg("invalid remote: " + reason)
}

func CrossDomain(what string) apperrors.Error {
	return ErrCrossDomain.Msg(what + " belongs to a different domain")
}
