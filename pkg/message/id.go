package message

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewID generates a message identifier: a ULID, lexicographically
// sortable and monotonic within a millisecond.
func NewID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// ValidID reports whether s parses as a message identifier.
func ValidID(s string) bool {
	_, err := ulid.ParseStrict(s)
	return err == nil
}
