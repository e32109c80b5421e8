// Package stringutil contains string helpers shared by the storage and
// pipeline packages.
package stringutil

import (
	"crypto/sha1"
	"fmt"
	"io"
	"net/mail"
	"strings"
	"unicode"
)

// SlugFallback is used when a subject reduces to nothing.
const SlugFallback = "no subject"

// slugMaxRunes caps slug length in code points, not bytes, so a
// multi-byte rune is never split.
const slugMaxRunes = 80

// Slug converts a message subject into a filesystem-legal file name
// fragment.  Control characters and characters that are illegal in
// Windows file names are removed, runs of whitespace collapse to a
// single space, and the result is capped at 80 runes.  Never returns
// an empty string.
func Slug(subject string) string {
	var b strings.Builder
	lastSpace := true
	for _, r := range subject {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteByte(' ')
				lastSpace = true
			}
		case unicode.IsControl(r):
			// Dropped.
		case strings.ContainsRune(`/\:*?"<>|`, r):
			// Dropped; illegal in file names.
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	slug := strings.TrimSpace(b.String())
	if runes := []rune(slug); len(runes) > slugMaxRunes {
		slug = strings.TrimSpace(string(runes[:slugMaxRunes]))
	}
	if slug == "" {
		return SlugFallback
	}
	return slug
}

// HashMailboxName accepts a sender folder name and hashes it.  The
// storage layer uses this to key per-folder locks.
func HashMailboxName(mailbox string) string {
	h := sha1.New()
	if _, err := io.WriteString(h, mailbox); err != nil {
		// This shouldn't ever happen
		return ""
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// StringAddressList converts a list of addresses to a list of strings.
func StringAddressList(addrs []*mail.Address) []string {
	s := make([]string, len(addrs))
	for i, a := range addrs {
		if a != nil {
			s[i] = a.String()
		}
	}
	return s
}
