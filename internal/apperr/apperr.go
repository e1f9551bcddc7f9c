// Package apperr defines the error taxonomy shared by the HTTP layer and the
// storage backends. Every failure crossing the request boundary is one of
// these kinds so handlers can map it to a status code and a JSON body.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies a failure for status mapping and retry semantics.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthentication
	KindPayloadTooLarge
	KindUnsupportedMedia
	KindNotFound
	KindStoreUnavailable
	KindSchemaMissing
)

// Error carries a kind plus a message safe to return to clients. The wrapped
// cause, when present, stays server-side (logs) and never leaks into the body.
type Error struct {
	kind Kind
	msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// Message is the client-facing text.
func (e *Error) Message() string { return e.msg }

// Status maps the kind onto an HTTP status code.
func (e *Error) Status() int {
	switch e.kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case KindUnsupportedMedia:
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

func Validation(msg string) *Error     { return &Error{kind: KindValidation, msg: msg} }
func Authentication(msg string) *Error { return &Error{kind: KindAuthentication, msg: msg} }
func PayloadTooLarge(msg string) *Error {
	return &Error{kind: KindPayloadTooLarge, msg: msg}
}
func UnsupportedMedia(msg string) *Error {
	return &Error{kind: KindUnsupportedMedia, msg: msg}
}
func NotFound(msg string) *Error      { return &Error{kind: KindNotFound, msg: msg} }
func SchemaMissing(msg string) *Error { return &Error{kind: KindSchemaMissing, msg: msg} }

func StoreUnavailable(msg string, err error) *Error {
	return &Error{kind: KindStoreUnavailable, msg: msg, err: err}
}

func Internal(msg string, err error) *Error {
	return &Error{kind: KindInternal, msg: msg, err: err}
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.kind == kind
}
