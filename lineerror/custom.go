package lineerror

import (
	"errors"
	"fmt"
)

// Error codes, grouped by hundreds so that the class of an error can be
// checked without enumerating every code.
const (
	// 1xx: local validation, nothing was appended to the buffer
	CodeInvalidName  = 100
	CodeInvalidValue = 101
	CodeRowOrder     = 102

	// 2xx: buffer capacity
	CodeBufferOverflow = 200

	// 3xx: authentication
	CodeAuthRejected = 300
	CodeBadKey       = 301

	// 4xx: transport
	CodeConnect      = 400
	CodeWriteAbort   = 401
	CodeTLS          = 402
	CodeRetryTimeout = 403

	// 5xx: server rejected the request, retrying will not help
	CodeServerRejected = 500
)

// Custom error type is needed to be able to distinguish different error types.
type Custom struct {
	Code  int32
	Resp  string
	Descr string
}

func NewCustom(code int32, resp string, descr string) *Custom {
	return &Custom{Code: code, Resp: resp, Descr: descr}
}

func (e *Custom) Error() string {
	if e.Descr == "" {
		return fmt.Sprintf(`Error %d: "%s"`, e.Code, e.Resp)
	}
	return fmt.Sprintf(`Error %d: "%s" %s`, e.Code, e.Resp, e.Descr)
}

func (e *Custom) GetCode() int32 {
	return e.Code
}

func (e *Custom) GetResp() string {
	return e.Resp
}

func (e *Custom) GetDescr() string {
	return e.Descr
}

func codeClass(err error) int32 {
	var e *Custom
	if !errors.As(err, &e) {
		return 0
	}
	return e.Code / 100
}

// IsValidation reports whether err was caused by invalid caller input.
// Such errors never leave any bytes in the buffer.
func IsValidation(err error) bool {
	return codeClass(err) == 1
}

// IsOverflow reports whether err was caused by exceeding the buffer size cap.
func IsOverflow(err error) bool {
	return codeClass(err) == 2
}

// IsAuth reports whether err means the credential or the signature was
// rejected. Not retried automatically.
func IsAuth(err error) bool {
	return codeClass(err) == 3
}

// IsTransport reports whether err was a connection-level failure.
func IsTransport(err error) bool {
	return codeClass(err) == 4
}

// IsServerRejected reports whether the server answered with a non-retryable
// status.
func IsServerRejected(err error) bool {
	return codeClass(err) == 5
}
