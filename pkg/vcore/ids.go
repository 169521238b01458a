package vcore

import "github.com/google/uuid"

// newID mints an id for Insert callers that don't supply their own.
func newID() string {
	return uuid.New().String()
}
