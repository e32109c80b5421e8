// Package message defines the sidecar metadata record paired with
// every stored message, and the naming of message files on disk.
package message

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/owlmail/owlmail/pkg/storage"
	"gopkg.in/yaml.v3"
)

// SchemaVersion is the sidecar schema this build reads and writes.
const SchemaVersion = 1

var (
	// ErrCorrupt reports a sidecar that cannot be decoded.  Corrupt
	// records are left on disk for inspection, never repaired.
	ErrCorrupt = errors.New("corrupt sidecar")

	// ErrSchema reports a sidecar with an unexpected schema version.
	// No silent migration is attempted.
	ErrSchema = errors.New("sidecar schema mismatch")
)

// Sidecar is the YAML metadata record stored next to a message.
type Sidecar struct {
	Schema       int          `yaml:"schema"`
	ID           string       `yaml:"ulid"`
	Filename     string       `yaml:"filename"`
	StatusShadow string       `yaml:"status_shadow"`
	Read         bool         `yaml:"read"`
	Starred      bool         `yaml:"starred"`
	Pinned       bool         `yaml:"pinned"`
	HashSHA256   string       `yaml:"hash_sha256"`
	ReceivedAt   time.Time    `yaml:"received_at"`
	LastActivity time.Time    `yaml:"last_activity"`
	Render       RenderInfo   `yaml:"render"`
	Attachments  []Attachment `yaml:"attachments"`
	HeadersCache HeadersCache `yaml:"headers_cache"`
	History      []string     `yaml:"history,omitempty"`
	Spam         *SpamSummary `yaml:"rspamd,omitempty"`
	Outbound     *Outbound    `yaml:"outbound,omitempty"`
}

// RenderInfo records how the message body was rendered for display.
type RenderInfo struct {
	Mode  string `yaml:"mode"`
	HTML  string `yaml:"html"`
	Plain string `yaml:"plain,omitempty"`
}

// Attachment references a content-addressed blob by hash and original
// file name.
type Attachment struct {
	SHA256 string `yaml:"sha256"`
	Name   string `yaml:"name"`
}

// HeadersCache is the subset of parsed headers kept for listing
// without re-opening the .eml.
type HeadersCache struct {
	From    string   `yaml:"from"`
	To      []string `yaml:"to"`
	Cc      []string `yaml:"cc"`
	Subject string   `yaml:"subject"`
	Date    string   `yaml:"date"`
}

// SpamSummary carries the content-score annotation from the SMTP
// front door, when present.
type SpamSummary struct {
	Score   float64  `yaml:"score"`
	Symbols []string `yaml:"symbols,omitempty"`
}

// OutboundStatus is the delivery state of an outbox entry.
type OutboundStatus string

// Outbox entry states.  Failed entries stay on disk for manual
// resend; they are never retried automatically.
const (
	StatusPending OutboundStatus = "pending"
	StatusSent    OutboundStatus = "sent"
	StatusFailed  OutboundStatus = "failed"
)

// Outbound records the retry state machine of an outbox entry.  Every
// attempt mutates this record durably before the next one runs.
type Outbound struct {
	Status        OutboundStatus `yaml:"status"`
	Attempts      int            `yaml:"attempts"`
	LastError     string         `yaml:"last_error,omitempty"`
	NextAttemptAt *time.Time     `yaml:"next_attempt_at,omitempty"`
}

// New creates a sidecar for freshly stored message bytes.
func New(id, filename, statusShadow, renderMode, htmlName string, body []byte, headers HeadersCache) *Sidecar {
	now := time.Now().UTC().Truncate(time.Second)
	return &Sidecar{
		Schema:       SchemaVersion,
		ID:           id,
		Filename:     filename,
		StatusShadow: statusShadow,
		HashSHA256:   HashBytes(body),
		ReceivedAt:   now,
		LastActivity: now,
		Render:       RenderInfo{Mode: renderMode, HTML: htmlName},
		Attachments:  []Attachment{},
		HeadersCache: headers,
	}
}

// HashBytes returns the hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Load reads and validates a sidecar.  Undecodable files return
// ErrCorrupt; a schema field other than SchemaVersion returns
// ErrSchema.
func Load(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s := &Sidecar{}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrCorrupt, path, err)
	}
	if s.Schema != SchemaVersion {
		return nil, fmt.Errorf("%w: %s: schema %d, want %d", ErrSchema, path, s.Schema, SchemaVersion)
	}
	return s, nil
}

// Save writes the sidecar atomically: temp file in the same
// directory, fsync, rename.  A crash mid-write never leaves a partial
// record.
func (s *Sidecar) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	return storage.WriteAtomic(path, data)
}

// Touch updates last_activity.  Called by every mutating operation.
func (s *Sidecar) Touch() {
	s.LastActivity = time.Now().UTC().Truncate(time.Second)
}

// MarkRead flags the message as read.
func (s *Sidecar) MarkRead() {
	if s.Read {
		return
	}
	s.Read = true
	s.Touch()
}

// AddAttachment appends a blob reference.
func (s *Sidecar) AddAttachment(sha256Hex, name string) {
	s.Attachments = append(s.Attachments, Attachment{SHA256: sha256Hex, Name: name})
}

// AddHistory appends an audit line.  Only called when verbose logging
// is enabled.
func (s *Sidecar) AddHistory(event string) {
	s.History = append(s.History, fmt.Sprintf("%s %s",
		time.Now().UTC().Format(time.RFC3339), event))
}

// OutboundState returns the outbound record, creating it on first use.
func (s *Sidecar) OutboundState() *Outbound {
	if s.Outbound == nil {
		s.Outbound = &Outbound{Status: StatusPending}
	}
	return s.Outbound
}

// VerifyHash checks the stored hash against the current message
// bytes.  A mismatch is a corruption signal.
func (s *Sidecar) VerifyHash(body []byte) error {
	if got := HashBytes(body); got != s.HashSHA256 {
		return fmt.Errorf("%w: hash mismatch for %s: sidecar %s, message %s",
			ErrCorrupt, s.Filename, s.HashSHA256, got)
	}
	return nil
}

