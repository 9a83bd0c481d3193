// Package apperr classifies domain errors into the HTTP error taxonomy and
// renders them as {"error": code, "message": text} bodies.
package apperr

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/blueprintstore/internal/logging"
)

// Kind is the error category. It decides the status code and whether the
// cause may be shown to the caller.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
	KindUpstream     Kind = "upstream"
	KindConfig       Kind = "config"
)

// Error is a classified error with a stable machine-readable code.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on kind and code so a wrapped copy of a sentinel still compares
// equal to it.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// WithMessage returns a copy of e with a caller-facing message.
func (e *Error) WithMessage(msg string) *Error {
	cp := *e
	cp.Message = msg
	return &cp
}

// Internal reports whether details must be hidden from the caller.
func (e *Error) Internal() bool {
	return e.Status >= http.StatusInternalServerError
}

func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg, Status: http.StatusBadRequest}
}

func NotFound(code, msg string) *Error {
	return &Error{Kind: KindNotFound, Code: code, Message: msg, Status: http.StatusNotFound}
}

func Unauthorized(code, msg string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: msg, Status: http.StatusUnauthorized}
}

func Forbidden(code, msg string) *Error {
	return &Error{Kind: KindForbidden, Code: code, Message: msg, Status: http.StatusForbidden}
}

// Upstream wraps a failure of an external dependency (payment processor,
// storage, database). Rendered as a generic 500.
func Upstream(code string, cause error) *Error {
	return &Error{Kind: KindUpstream, Code: code, Message: "upstream service failed", Status: http.StatusInternalServerError, Err: cause}
}

// BadGateway is an upstream failure that is reported as such to the caller.
func BadGateway(code string, cause error) *Error {
	return &Error{Kind: KindUpstream, Code: code, Message: "upstream service failed", Status: http.StatusBadGateway, Err: cause}
}

// Unconfigured is a configuration gap the caller triggered, such as buying a
// blueprint that has no processor price. Rendered as 400.
func Unconfigured(code, msg string) *Error {
	return &Error{Kind: KindConfig, Code: code, Message: msg, Status: http.StatusBadRequest}
}

// Misconfigured is a server-side configuration gap. Rendered as 500.
func Misconfigured(code, msg string) *Error {
	return &Error{Kind: KindConfig, Code: code, Message: msg, Status: http.StatusInternalServerError}
}

// As extracts the classified error from err.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// StatusOf returns the HTTP status err maps to.
func StatusOf(err error) int {
	if ae, ok := As(err); ok {
		return ae.Status
	}
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

// Respond writes err as a JSON error body and aborts the gin chain. Errors
// that map to 5xx are logged with the request id and collapsed to a generic
// message.
func Respond(c *gin.Context, err error) {
	ctx := c.Request.Context()

	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) {
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{
			"error":   "request_too_large",
			"message": "request body too large",
		})
		return
	}

	ae, ok := As(err)
	if !ok {
		logging.L(ctx).Error("unclassified error", "error", err, "path", c.FullPath())
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
		return
	}

	if ae.Internal() {
		logging.L(ctx).Error("request failed",
			"code", ae.Code,
			"kind", string(ae.Kind),
			"error", ae.Err,
			"path", c.FullPath(),
		)
		msg := "An unexpected error occurred"
		if ae.Kind == KindConfig || ae.Status == http.StatusBadGateway {
			msg = ae.Message
		}
		c.AbortWithStatusJSON(ae.Status, gin.H{"error": ae.Code, "message": msg})
		return
	}

	c.AbortWithStatusJSON(ae.Status, gin.H{"error": ae.Code, "message": ae.Message})
}
