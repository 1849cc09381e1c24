package apperrors

import "errors"

// Error is a chainable application error. Derived errors keep a link to the
// error they were derived from so errors.Is matches every ancestor.
type Error interface {
	Error() string
	ErrorAll() string
	New(msg string) Error
	MsgErr(msg string, err ...error) Error
	Msg(msg string) Error
	Prefix(prefix string) Error
	Suffix(suffix string) Error
	Err(err ...error) Error
	Unwrap() []error
	Is(target error) bool
	SetExpandError(expand bool) Error
	SetStatusCode(code int) Error
	StatusCode() int
	SetCode(code string) Error
	Code() string
}

// CodeOf returns the machine code of the first apperrors.Error in err's
// chain, or "" when there is none.
func CodeOf(err error) string {
	var ae Error
	if errors.As(err, &ae) {
		return ae.Code()
	}
	return ""
}
