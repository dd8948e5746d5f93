package brain

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DeterministicID derives the id for a keyed entry: the first 8 hex chars
// of sha256("<type>:<naturalKey>"). Two entries with the same key always
// collide on id, which is what makes keyed upsert work.
func DeterministicID(entryType, naturalKey string) string {
	sum := sha256.Sum256([]byte(entryType + ":" + naturalKey))
	return hex.EncodeToString(sum[:])[:8]
}

// RandomID returns 4 random bytes as 8 hex chars. Used by all non-keyed
// types and by every tombstone.
func RandomID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failure is effectively unrecoverable; fall back to
		// a counter-free panic rather than silently reusing ids.
		panic(fmt.Sprintf("brain: random id: %v", err))
	}
	return hex.EncodeToString(b[:])
}

// IDFor assigns the correct id for a new entry: deterministic for keyed
// types, random otherwise.
func IDFor(e *Entry) string {
	if IsKeyedType(e.Type) && e.Type != TypeTombstone {
		return DeterministicID(e.Type, e.NaturalKey())
	}
	return RandomID()
}
