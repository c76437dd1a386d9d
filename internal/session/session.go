// Package session derives the stable identity of a recording session.
package session

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// Session names the logical recording session every record is attributed to.
type Session struct {
	Name string
	ID   uuid.UUID
}

// New returns the session for name with its derived ID.
func New(name string) Session {
	return Session{Name: name, ID: DeriveID(name)}
}

// DeriveID maps name to a version 4, RFC 4122 variant UUID taken from the
// first 16 bytes of SHA-256(name). The same name always yields the same ID,
// so restarts with unchanged configuration resume the same session.
func DeriveID(name string) uuid.UUID {
	sum := sha256.Sum256([]byte(name))

	var id uuid.UUID
	copy(id[:], sum[:16])
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id
}
