package store

import "fmt"

// NotFoundError reports a missing resource. Conversations owned by someone
// else are reported the same way.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ValidationError rejects client input. Field names the request field at fault.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// ConflictError reports a uniqueness violation. Field is empty when the
// backend cannot tell which unique value collided.
type ConflictError struct {
	Field   string
	Message string
}

func (e *ConflictError) Error() string {
	return e.Message
}

// UserTaken reports a registration whose email or username is already in use.
func UserTaken(field string) *ConflictError {
	if field == "" {
		return &ConflictError{Message: "User already exists with this email or username"}
	}
	return &ConflictError{Field: field, Message: fmt.Sprintf("A user with this %s already exists", field)}
}
