package dberror

import (
	"net/http"

	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
)

var (
	ErrDatabase          apperrors.Error = apperrors.New("db error").SetStatusCode(http.StatusInternalServerError).SetCode("database_error")
	ErrAlreadyExists     apperrors.Error = ErrDatabase.New("already exists").SetStatusCode(http.StatusConflict).SetCode("already_exists")
	ErrNotFound          apperrors.Error = ErrDatabase.New("not found").SetStatusCode(http.StatusNotFound).SetCode("not_found")
	ErrInvalidInput      apperrors.Error = ErrDatabase.New("invalid input").SetStatusCode(http.StatusBadRequest).SetCode("invalid")
	ErrMissingDomain     apperrors.Error = ErrInvalidInput.New("missing domain").SetStatusCode(http.StatusBadRequest)
	ErrInvalidDomain     apperrors.Error = ErrInvalidInput.New("invalid domain")
	ErrInvalidRepository apperrors.Error = ErrInvalidInput.New("invalid repository")
	ErrVersionComplete   apperrors.Error = ErrInvalidInput.New("repository version is complete").SetStatusCode(http.StatusConflict)
	ErrInUse             apperrors.Error = ErrDatabase.New("still referenced").SetStatusCode(http.StatusConflict).SetCode("in_use")
)
