package store

import (
	"strings"
	"time"

	"github.com/chirino/chat-service/internal/model"
)

// NormalizeTitle prepares a user supplied title for a rename.
func NormalizeTitle(title string) (string, error) {
	t := model.TruncateTitle(title)
	if t == "" {
		return "", &ValidationError{Field: "title", Message: "Title cannot be empty"}
	}
	return t, nil
}

// InitialMessage returns the trimmed initial message, or "" when it is absent or blank.
func InitialMessage(initialMessage *string) string {
	if initialMessage == nil {
		return ""
	}
	return strings.TrimSpace(*initialMessage)
}

// NextTimestamp returns now truncated to resolution, bumped past prev when the
// clock has not advanced. Backends pass their storage resolution so the
// ordering survives a round trip.
func NextTimestamp(prev, now time.Time, resolution time.Duration) time.Time {
	next := now.UTC().Truncate(resolution)
	if prev.IsZero() {
		return next
	}
	floor := prev.UTC().Truncate(resolution).Add(resolution)
	if next.Before(floor) {
		return floor
	}
	return next
}
