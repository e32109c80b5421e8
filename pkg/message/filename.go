package message

import (
	"fmt"
	"strings"

	"github.com/owlmail/owlmail/pkg/stringutil"
)

// On-disk names derive from the subject slug and the message id.  The
// sidecar and render artifacts are dot-prefixed siblings of the .eml
// so directory listings show only the message itself.

// Filename returns the primary message file name.
func Filename(subject, id string) string {
	return fmt.Sprintf("%s (%s).eml", stringutil.Slug(subject), id)
}

// SidecarFilename returns the hidden metadata file name.
func SidecarFilename(subject, id string) string {
	return fmt.Sprintf(".%s (%s).yml", stringutil.Slug(subject), id)
}

// HTMLFilename returns the hidden sanitized HTML artifact name.
func HTMLFilename(subject, id string) string {
	return fmt.Sprintf(".%s (%s).html", stringutil.Slug(subject), id)
}

// TextFilename returns the hidden plaintext artifact name.
func TextFilename(subject, id string) string {
	return fmt.Sprintf(".%s (%s).txt", stringutil.Slug(subject), id)
}

// OutboxFilename returns the message file name for an outbox entry.
// Outbox and sent names carry only the id; the subject lives in the
// sidecar headers cache.
func OutboxFilename(id string) string {
	return id + ".eml"
}

// OutboxSidecarFilename returns the sidecar name for an outbox entry.
func OutboxSidecarFilename(id string) string {
	return "." + id + ".yml"
}

// SidecarFor converts a message file name into its sidecar name.
func SidecarFor(emlName string) string {
	base := strings.TrimSuffix(emlName, ".eml")
	return "." + base + ".yml"
}

// BaseFor strips the sidecar decorations from a sidecar file name,
// returning the shared base of the .eml/.html/.txt siblings.
func BaseFor(sidecarName string) string {
	return strings.TrimSuffix(strings.TrimPrefix(sidecarName, "."), ".yml")
}
