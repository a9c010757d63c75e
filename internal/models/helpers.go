package models

import "github.com/google/uuid"

// NewRecordID returns a fresh record identifier.
func NewRecordID() string {
	return uuid.NewString()
}

// NewSessionID returns a short session identifier: the first 8 characters of a UUID.
func NewSessionID() string {
	return uuid.NewString()[:8]
}
