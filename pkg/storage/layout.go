package storage

import (
	"fmt"
	"os"
	"path/filepath"
)

// ListDirs are the mail root directories holding routed messages, in
// classification precedence order.
var ListDirs = []string{"banned", "spam", "accepted", "quarantine"}

// Layout maps the mail root directory structure.  All paths are derived
// from a single root so the entire hub can be relocated by moving one
// directory.
type Layout struct {
	root string
}

func NewLayout(root string) *Layout {
	return &Layout{root: root}
}

func (l *Layout) Root() string       { return l.root }
func (l *Layout) Quarantine() string { return filepath.Join(l.root, "quarantine") }
func (l *Layout) Accepted() string   { return filepath.Join(l.root, "accepted") }
func (l *Layout) Spam() string       { return filepath.Join(l.root, "spam") }
func (l *Layout) Banned() string     { return filepath.Join(l.root, "banned") }
func (l *Layout) Drafts() string     { return filepath.Join(l.root, "drafts") }
func (l *Layout) Outbox() string     { return filepath.Join(l.root, "outbox") }
func (l *Layout) Sent() string       { return filepath.Join(l.root, "sent") }
func (l *Layout) LogsDir() string    { return filepath.Join(l.root, "logs") }
func (l *Layout) LogFile() string    { return filepath.Join(l.LogsDir(), "owlmail.log") }

// List returns the directory for a named list.
func (l *Layout) List(list string) string {
	return filepath.Join(l.root, list)
}

// Sender returns the per-sender folder inside a list.
func (l *Layout) Sender(list, sender string) string {
	return filepath.Join(l.root, list, sender)
}

// Attachments returns the shared attachment directory for a list.
func (l *Layout) Attachments(list string) string {
	return filepath.Join(l.root, list, "attachments")
}

func (l *Layout) DKIMDir() string { return filepath.Join(l.root, "dkim") }

func (l *Layout) DKIMPrivateKey(selector string) string {
	return filepath.Join(l.DKIMDir(), selector+".private")
}

func (l *Layout) DKIMPublicKey(selector string) string {
	return filepath.Join(l.DKIMDir(), selector+".public")
}

func (l *Layout) DKIMDNSRecord(selector string) string {
	return filepath.Join(l.DKIMDir(), selector+".dns")
}

// RulesFile returns the routing rules file for a list.
func (l *Layout) RulesFile(list string) string {
	return filepath.Join(l.root, list, ".rules")
}

// SettingsFile returns the settings file for a list.
func (l *Layout) SettingsFile(list string) string {
	return filepath.Join(l.root, list, ".settings")
}

// Ensure creates the mail root structure, seeding rule and settings
// files for the rule-bearing lists.  Existing files are never
// overwritten, so repeated calls are safe.
func (l *Layout) Ensure() error {
	if err := os.MkdirAll(l.root, 0o770); err != nil {
		return err
	}
	if err := os.MkdirAll(l.Quarantine(), 0o770); err != nil {
		return err
	}
	for _, list := range []string{"accepted", "spam", "banned"} {
		if err := l.ensureList(list); err != nil {
			return err
		}
	}
	for _, leaf := range []string{"drafts", "outbox", "sent", "logs", "dkim"} {
		if err := os.MkdirAll(filepath.Join(l.root, leaf), 0o770); err != nil {
			return err
		}
	}
	return nil
}

func (l *Layout) ensureList(list string) error {
	dir := l.List(list)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return err
	}
	if err := os.MkdirAll(l.Attachments(list), 0o770); err != nil {
		return err
	}
	rules := l.RulesFile(list)
	if _, err := os.Stat(rules); os.IsNotExist(err) {
		if err := os.WriteFile(rules, []byte("# owlmail routing rules\n"), 0o660); err != nil {
			return err
		}
	}
	settings := l.SettingsFile(list)
	if _, err := os.Stat(settings); os.IsNotExist(err) {
		if err := os.WriteFile(settings, defaultSettings(list), 0o660); err != nil {
			return err
		}
	}
	return nil
}

func defaultSettings(list string) []byte {
	status := "accepted"
	switch list {
	case "banned":
		status = "banned"
	case "spam":
		status = "rejected"
	}
	return []byte(fmt.Sprintf(
		"list_status=%s\ndelete_after=never\nfrom=\nreply_to=\nsignature=\nbody_format=both\ncollapse_signatures=true\n",
		status))
}
