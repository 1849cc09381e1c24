package httpx

import (
	"net/http"
	"strconv"

	"github.com/pulp/pulp-ansible-sub001/internal/common/apperrors"
)

type Error struct {
	Description string `json:"description"`
	StatusCode  int    `json:"http_status_code"`
	Code        string `json:"code,omitempty"`
}

type errorDetail struct {
	Status string `json:"status"`
	Code   string `json:"code"`
	Title  string `json:"title"`
}

type errorRsp struct {
	Errors []errorDetail `json:"errors"`
}

func (e *Error) Send(w http.ResponseWriter) {
	if w == nil {
		return
	}
	code := e.Code
	if code == "" {
		code = codeForStatus(e.StatusCode)
	}
	rsp := &errorRsp{
		Errors: []errorDetail{{
			Status: strconv.Itoa(e.StatusCode),
			Code:   code,
			Title:  e.Description,
		}},
	}
	rspJson, err := json.Marshal(rsp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("Unable to parse error"))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.StatusCode)
	w.Write(rspJson)
}

func (e *Error) Error() string {
	return e.Description
}

func (current Error) Is(other error) bool {
	return other != nil && current.Error() == other.Error()
}

func codeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "invalid"
	case http.StatusUnauthorized:
		return "not_authenticated"
	case http.StatusForbidden:
		return "permission_denied"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case http.StatusConflict:
		return "conflict"
	default:
		return "error"
	}
}

func SendError(w http.ResponseWriter, err apperrors.Error) {
	if err == nil {
		return
	}
	statusCode := err.StatusCode()
	if statusCode == 0 {
		statusCode = http.StatusInternalServerError
	}
	httperror := &Error{
		StatusCode:  statusCode,
		Description: err.ErrorAll(),
		Code:        err.Code(),
	}
	httperror.Send(w)
}

// Common Errors

func ErrReqMethodNotSupported() *Error {
	return &Error{
		Description: "Request Method Not Supported",
		StatusCode:  http.StatusMethodNotAllowed,
	}
}

func ErrUnableToParseReqData() *Error {
	return &Error{
		Description: "Unable to parse request",
		StatusCode:  http.StatusBadRequest,
	}
}

func ErrApplicationError(err ...string) *Error {
	var s string
	if len(err) > 0 {
		s = err[0]
	} else {
		s = "Unable to process request"
	}
	return &Error{
		Description: s,
		StatusCode:  http.StatusInternalServerError,
	}
}

func ErrInvalidRequest(str ...string) *Error {
	var s string
	if len(str) > 0 {
		s = str[0]
	} else {
		s = "empty request values or invalid request"
	}
	return &Error{
		Description: s,
		StatusCode:  http.StatusBadRequest,
	}
}

func ErrNotFound(str ...string) *Error {
	s := "Not found."
	if len(str) > 0 {
		s = str[0]
	}
	return &Error{
		Description: s,
		StatusCode:  http.StatusNotFound,
	}
}

func ErrInvalidDomain() *Error {
	return &Error{
		Description: "Empty or invalid domain",
		StatusCode:  http.StatusNotFound,
	}
}

func ErrInvalidBasePath() *Error {
	return &Error{
		Description: "Empty or invalid distribution base path",
		StatusCode:  http.StatusNotFound,
	}
}

func ErrInvalidVersion() *Error {
	return &Error{
		Description: "Empty or invalid collection version",
		StatusCode:  http.StatusBadRequest,
	}
}
