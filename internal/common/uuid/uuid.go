package uuid

import (
	"github.com/google/uuid"
)

// UUID represents a UUID
type UUID = uuid.UUID

// New returns a new time ordered (version 7) UUID.
func New() UUID {
	uuidv7, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return uuidv7
}

// Parse parses a UUID string
func Parse(s string) (UUID, error) {
	return uuid.Parse(s)
}

// MustParse parses a UUID string and panics if the string is not a valid UUID
func MustParse(s string) UUID {
	return uuid.MustParse(s)
}

// Nil is the zero UUID
var Nil = uuid.Nil
