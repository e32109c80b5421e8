package storage

import (
	"strconv"
	"sync"

	"github.com/owlmail/owlmail/pkg/stringutil"
)

// HashLock provides a fixed pool of read-write mutexes indexed by the
// leading bits of a hex hash.  Distinct folders may share a lock, but a
// folder always maps to the same one, which is sufficient for mutual
// exclusion per sender.
type HashLock [4096]sync.RWMutex

// Get returns the lock for the given hex hash, nil if the hash is too
// short or not hex.
func (h *HashLock) Get(hash string) *sync.RWMutex {
	if len(hash) < 3 {
		return nil
	}
	i, err := strconv.ParseInt(hash[0:3], 16, 0)
	if err != nil {
		return nil
	}
	return &h[i]
}

// ForFolder returns the lock guarding a sender folder name.
func (h *HashLock) ForFolder(folder string) *sync.RWMutex {
	return h.Get(stringutil.HashMailboxName(folder))
}
