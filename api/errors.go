package api

import (
	"fmt"
	"net/http"
	"net/url"
)

// Error is a type that allows for error constants below
type Error string

// Error returns a string representation of the error
func (e Error) Error() string { return string(e) }

const (
	// ErrNotAuthenticated - a call other than the token exchange was attempted without a token
	ErrNotAuthenticated = Error("no auth token set")

	// ErrInvalidArgument - UploadChunk requires a content length and pre-populated headers
	ErrInvalidArgument = Error("contentLength and headers are required")
)

// ResultOK is the provider's success result code.
const ResultOK = 0

// Provider result and error codes. The same numeric space is used for the
// `result` field of 200 responses and the `error.code` field of non-2xx
// responses.
const (
	CodeLoginRequired  = 1000
	CodeLoginFailed    = 2000
	CodeInvalidName    = 2001
	CodeParentNotFound = 2002
	CodeAlreadyExists  = 2004
	CodeDirNotFound    = 2005
	CodeFileNotFound   = 2009
	CodeInvalidPath    = 2010
	CodeInvalidToken   = 2094
	CodeRateLimited    = 4000
	CodeInternalError  = 5000
	CodeUploadError    = 5001
	CodeNoServers      = 5002
	CodeModified       = 6021
)

// IsAuthExpired reports whether code indicates the current token is no
// longer accepted.
func IsAuthExpired(code int) bool {
	switch code {
	case CodeLoginRequired, CodeLoginFailed, CodeInvalidToken:
		return true
	}
	return false
}

// IsTransient reports whether code indicates a server-side condition worth
// retrying after a delay.
func IsTransient(code int) bool {
	switch code {
	case CodeInternalError, CodeUploadError, CodeNoServers, CodeModified:
		return true
	}
	return false
}

// IsNotFound reports whether code indicates the addressed item does not
// exist.
func IsNotFound(code int) bool {
	switch code {
	case CodeDirNotFound, CodeFileNotFound, CodeInvalidPath:
		return true
	}
	return false
}

// IsParentNotFound reports whether code indicates a missing ancestor rather
// than a missing leaf.
func IsParentNotFound(code int) bool {
	return code == CodeParentNotFound || code == CodeDirNotFound
}

// ResponseError is a provider error parsed from the body of a non-2xx
// response.
type ResponseError struct {
	Code    int
	Message string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("provider error %d: %s", e.Code, e.Message)
}

// RequestError is a fatal failure carrying the full request context for
// diagnosis.
type RequestError struct {
	Method  string
	URL     string
	Query   url.Values
	Body    string
	Status  int
	Headers http.Header
	Err     error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s %s failed with status %d: %v", e.Method, e.URL, e.Status, e.Err)
}

func (e *RequestError) Unwrap() error { return e.Err }

// MalformedResponseError is returned when a successful response body cannot
// be parsed. It carries the offending raw body text for diagnostics.
type MalformedResponseError struct {
	Body string
	Err  error
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed response body: %v: %q", e.Err, e.Body)
}

func (e *MalformedResponseError) Unwrap() error { return e.Err }

// ExhaustedError is returned when the retry budget runs out without a
// classified fatal failure.
type ExhaustedError struct {
	Method   string
	URL      string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s %s: no success after %d attempts: %v", e.Method, e.URL, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }
