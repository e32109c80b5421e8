package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
)

// AttachmentStore keeps attachment blobs for one list under a shared
// directory, named "<sha256>__<original name>".  Content addressing
// dedupes identical payloads stored under the same name.
type AttachmentStore struct {
	dir string
}

// StoredAttachment describes a blob after a Put.
type StoredAttachment struct {
	Path   string
	SHA256 string
}

func NewAttachmentStore(dir string) *AttachmentStore {
	return &AttachmentStore{dir: dir}
}

func (s *AttachmentStore) Dir() string { return s.dir }

// Put writes the blob unless a file for the same digest and name
// already exists, in which case the existing blob is left untouched.
func (s *AttachmentStore) Put(name string, data []byte) (StoredAttachment, error) {
	if err := os.MkdirAll(s.dir, 0o770); err != nil {
		return StoredAttachment{}, err
	}
	sum := sha256.Sum256(data)
	digest := hex.EncodeToString(sum[:])
	path := filepath.Join(s.dir, digest+"__"+name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := WriteAtomic(path, data); err != nil {
			return StoredAttachment{}, err
		}
	}
	return StoredAttachment{Path: path, SHA256: digest}, nil
}

// Get reads a blob by its full stored filename.
func (s *AttachmentStore) Get(name string) ([]byte, error) {
	return os.ReadFile(filepath.Join(s.dir, name))
}

// Sweep deletes blobs whose digest does not appear in referenced and
// returns the removed filenames.  Callers gather the referenced set
// from every sidecar in the list before sweeping, so a blob shared by
// several messages survives as long as any of them does.
func (s *AttachmentStore) Sweep(referenced map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var removed []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		digest, _, ok := strings.Cut(name, "__")
		if ok && referenced[digest] {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}
