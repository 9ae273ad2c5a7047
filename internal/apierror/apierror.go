// Package apierror maps internal errors onto client-facing error payloads.
package apierror

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/registry/completion"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/gin-gonic/gin"
)

var (
	// ErrUnauthenticated reports a missing, invalid or expired bearer credential.
	ErrUnauthenticated = errors.New("authentication required")
	// ErrInvalidCredentials reports a login with an unknown email or wrong password.
	ErrInvalidCredentials = fmt.Errorf("invalid credentials: %w", ErrUnauthenticated)
	// ErrRateLimited reports a request rejected by a rate limiter.
	ErrRateLimited = errors.New("too many requests, please try again later")
)

// Problem is the stable, client-presentable form of an error.
type Problem struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Field   string `json:"field,omitempty"`
}

// Classify maps err onto a Problem. Unrecognized errors become a generic
// internal error; their detail is logged, never returned.
func Classify(err error) Problem {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var failure *completion.FailureError

	switch {
	case errors.As(err, &validation):
		return Problem{Status: http.StatusBadRequest, Code: "validation_error", Message: validation.Message, Field: validation.Field}
	case errors.As(err, &notFound):
		return Problem{Status: http.StatusNotFound, Code: "not_found", Message: notFound.Error()}
	case errors.As(err, &conflict):
		return Problem{Status: http.StatusConflict, Code: "conflict", Message: conflict.Message, Field: conflict.Field}
	case errors.Is(err, ErrInvalidCredentials):
		return Problem{Status: http.StatusUnauthorized, Code: "unauthenticated", Message: "Invalid credentials"}
	case errors.Is(err, ErrUnauthenticated):
		return Problem{Status: http.StatusUnauthorized, Code: "unauthenticated", Message: ErrUnauthenticated.Error()}
	case errors.Is(err, ErrRateLimited):
		return Problem{Status: http.StatusTooManyRequests, Code: "rate_limited", Message: ErrRateLimited.Error()}
	case errors.As(err, &failure):
		return Problem{Status: http.StatusBadGateway, Code: "gateway_failure", Message: failure.Kind.Message(), Kind: string(failure.Kind)}
	default:
		log.Error("Internal error", "err", err)
		return Problem{Status: http.StatusInternalServerError, Code: "internal_error", Message: "internal server error"}
	}
}

// Respond writes the classified error as the JSON response.
func Respond(c *gin.Context, err error) {
	p := Classify(err)
	c.AbortWithStatusJSON(p.Status, p)
}

// Validation is a shorthand for a request validation failure.
func Validation(field, message string) error {
	return &registrystore.ValidationError{Field: field, Message: message}
}
