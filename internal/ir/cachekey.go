package ir

import (
	"crypto/sha256"
	"encoding/hex"
)

// LogicVersion identifies the IR construction logic. Any change to
// normalization, path canonicalization, or operation inference must bump it,
// so a stored IR can never be served after the logic that built it changed.
const LogicVersion = "ir-build/7"

// CacheKey derives the cache key for a requirements document: the hash of the
// spec content joined with the hash of the construction logic version.
func CacheKey(specContent []byte) string {
	specHash := sha256.Sum256(specContent)
	logicHash := sha256.Sum256([]byte(LogicVersion))
	return hex.EncodeToString(specHash[:8]) + "-" + hex.EncodeToString(logicHash[:8])
}
