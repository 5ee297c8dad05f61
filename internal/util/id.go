package util

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/google/uuid"
)

func NewID(prefix string) string {
	bytes := make([]byte, 16)
	_, _ = rand.Read(bytes)
	if prefix == "" {
		return hex.EncodeToString(bytes)
	}
	return prefix + "_" + hex.EncodeToString(bytes)
}

// ValidAnnotationToken reports whether the client-supplied token is a
// well-formed UUID. Clients generate the token when they place the
// annotation; the server only ever validates it.
func ValidAnnotationToken(token string) bool {
	_, err := uuid.Parse(token)
	return err == nil
}
