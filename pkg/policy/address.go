// Package policy implements sender address canonicalization and the
// list routing rules.
package policy

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/text/unicode/norm"
)

// ErrInvalidAddress reports a sender address that cannot be
// canonicalized.  Such input is rejected and never persisted.
var ErrInvalidAddress = errors.New("invalid address")

// Address is a parsed, canonicalized email address.  The canonical
// form keys the sender folder: local part lowercased, domain lowercased
// and IDNA encoded, optional +tag stripped.
type Address struct {
	Original  string
	Local     string
	Domain    string
	Canonical string
}

// Addressing holds address canonicalization policy.
type Addressing struct {
	// KeepPlusTags preserves the +tag suffix of the local part when
	// set; by default tags are stripped so bob+news@ and bob@ share a
	// sender folder.
	KeepPlusTags bool
}

// Canonicalize parses a raw address into its canonical form.
// Canonicalization is idempotent: feeding the canonical form back in
// yields the same result.
func (a *Addressing) Canonicalize(raw string) (Address, error) {
	cleaned := strings.TrimSpace(raw)
	local, domain, found := strings.Cut(cleaned, "@")
	if !found {
		return Address{}, fmt.Errorf("%w: missing @ in %q", ErrInvalidAddress, raw)
	}
	local = strings.ToLower(norm.NFC.String(strings.TrimSpace(local)))
	if !a.KeepPlusTags {
		if base, _, tagged := strings.Cut(local, "+"); tagged {
			local = base
		}
	}
	if local == "" {
		return Address{}, fmt.Errorf("%w: empty local part in %q", ErrInvalidAddress, raw)
	}
	domain = strings.ToLower(strings.TrimSpace(domain))
	if domain == "" {
		return Address{}, fmt.Errorf("%w: empty domain in %q", ErrInvalidAddress, raw)
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return Address{}, fmt.Errorf("%w: domain %q: %v", ErrInvalidAddress, domain, err)
	}
	return Address{
		Original:  cleaned,
		Local:     local,
		Domain:    ascii,
		Canonical: local + "@" + ascii,
	}, nil
}

// String returns the canonical form.
func (a Address) String() string {
	return a.Canonical
}
