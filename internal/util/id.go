package util

import "github.com/google/uuid"

// NewID returns a time-ordered UUID string, falling back to a random one.
func NewID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
