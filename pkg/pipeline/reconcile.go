package pipeline

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/owlmail/owlmail/pkg/message"
	"github.com/owlmail/owlmail/pkg/policy"
	"github.com/owlmail/owlmail/pkg/storage"
)

// RetentionSummary reports what one list's sweep removed.
type RetentionSummary struct {
	MessagesRemoved    []string
	AttachmentsRemoved []string
}

// ConsistencyIssue flags on-disk state needing manual attention.
// Issues are reported, never repaired.
type ConsistencyIssue struct {
	Path    string
	Problem string
}

// Reconciler runs the periodic sweeps: retention per list settings,
// attachment garbage collection, and the consistency check.
type Reconciler struct {
	layout *storage.Layout
	rules  *policy.Loader
}

func NewReconciler(layout *storage.Layout, rules *policy.Loader) *Reconciler {
	return &Reconciler{layout: layout, rules: rules}
}

// EnforceRetention prunes expired messages from every rule-bearing
// list per its delete_after setting, then sweeps unreferenced
// attachment blobs.  Quarantine is never pruned automatically.
func (r *Reconciler) EnforceRetention(now time.Time) (map[string]RetentionSummary, error) {
	rules := r.rules.Current()
	results := make(map[string]RetentionSummary, 3)
	for _, entry := range []struct {
		list     policy.List
		settings policy.Settings
	}{
		{policy.ListAccepted, rules.Accepted.Settings},
		{policy.ListSpam, rules.Spam.Settings},
		{policy.ListBanned, rules.Banned.Settings},
	} {
		summary, err := r.pruneList(entry.list, entry.settings, now)
		if err != nil {
			return results, err
		}
		results[string(entry.list)] = summary
	}
	return results, nil
}

func (r *Reconciler) pruneList(list policy.List, settings policy.Settings, now time.Time) (RetentionSummary, error) {
	var summary RetentionSummary
	period, prune, err := settings.RetentionPeriod()
	if err != nil {
		return summary, err
	}

	listDir := r.layout.List(string(list))
	if prune {
		entries, err := os.ReadDir(listDir)
		if err != nil && !os.IsNotExist(err) {
			return summary, err
		}
		for _, entry := range entries {
			if !entry.IsDir() || entry.Name() == "attachments" {
				continue
			}
			removed := r.pruneDir(filepath.Join(listDir, entry.Name()), period, now)
			summary.MessagesRemoved = append(summary.MessagesRemoved, removed...)
		}
	}

	// Attachment GC is two-phase: collect every referenced digest
	// across the whole list, then sweep.  The sweep stays safe even
	// when retention itself is disabled.
	references, err := collectAttachmentReferences(listDir)
	if err != nil {
		return summary, err
	}
	store := storage.NewAttachmentStore(r.layout.Attachments(string(list)))
	removed, err := store.Sweep(references)
	if err != nil {
		return summary, err
	}
	summary.AttachmentsRemoved = removed
	return summary, nil
}

// pruneDir removes expired message units from one sender folder.
// Corrupt sidecars are logged and left untouched.
func (r *Reconciler) pruneDir(dir string, period time.Duration, now time.Time) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}
	var removed []string
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".yml") {
			continue
		}
		sidecarPath := filepath.Join(dir, name)
		sc, err := message.Load(sidecarPath)
		if err != nil {
			log.Warn().Str("module", "reconcile").Str("path", sidecarPath).Err(err).
				Msg("Skipping unreadable sidecar")
			continue
		}
		if !sc.LastActivity.Add(period).Before(now) {
			continue
		}
		if err := removeMessageUnit(sidecarPath); err != nil {
			log.Error().Str("module", "reconcile").Str("path", sidecarPath).Err(err).
				Msg("Failed to remove expired message")
			continue
		}
		removed = append(removed, sidecarPath)
	}
	return removed
}

// removeMessageUnit deletes a sidecar together with its .eml, .html,
// and .txt siblings.
func removeMessageUnit(sidecarPath string) error {
	dir := filepath.Dir(sidecarPath)
	base := message.BaseFor(filepath.Base(sidecarPath))
	for _, sibling := range []string{base + ".eml", "." + base + ".html", "." + base + ".txt"} {
		if err := os.Remove(filepath.Join(dir, sibling)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return os.Remove(sidecarPath)
}

func collectAttachmentReferences(listDir string) (map[string]bool, error) {
	references := make(map[string]bool)
	err := filepath.WalkDir(listDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), ".yml") {
			return nil
		}
		sc, err := message.Load(path)
		if err != nil {
			// Unreadable sidecars keep nothing alive; their issues
			// surface through the consistency check instead.
			return nil
		}
		for _, attachment := range sc.Attachments {
			references[attachment.SHA256] = true
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return references, nil
}

// CheckConsistency scans every message-bearing directory and reports
// message files without sidecars, undecodable sidecars, hash
// mismatches, and sent entries stranded in the outbox.  Nothing is
// modified.
func (r *Reconciler) CheckConsistency() ([]ConsistencyIssue, error) {
	var issues []ConsistencyIssue
	dirs := make([]string, 0, len(storage.ListDirs)+2)
	for _, list := range storage.ListDirs {
		dirs = append(dirs, r.layout.List(list))
	}
	dirs = append(dirs, r.layout.Outbox(), r.layout.Sent())

	for _, dir := range dirs {
		err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if d.IsDir() {
				if d.Name() == "attachments" {
					return filepath.SkipDir
				}
				return nil
			}
			switch {
			case strings.HasSuffix(d.Name(), ".eml"):
				sidecar := filepath.Join(filepath.Dir(path), message.SidecarFor(d.Name()))
				if _, err := os.Stat(sidecar); os.IsNotExist(err) {
					issues = append(issues, ConsistencyIssue{Path: path, Problem: "missing sidecar"})
				}
			case strings.HasSuffix(d.Name(), ".yml"):
				sc, err := message.Load(path)
				switch {
				case errors.Is(err, message.ErrSchema):
					issues = append(issues, ConsistencyIssue{Path: path, Problem: "schema mismatch"})
					return nil
				case errors.Is(err, message.ErrCorrupt):
					issues = append(issues, ConsistencyIssue{Path: path, Problem: "corrupt sidecar"})
					return nil
				case err != nil:
					return err
				}
				raw, err := os.ReadFile(filepath.Join(filepath.Dir(path), sc.Filename))
				if err != nil {
					issues = append(issues, ConsistencyIssue{Path: path, Problem: "missing message file"})
					return nil
				}
				if err := sc.VerifyHash(raw); err != nil {
					issues = append(issues, ConsistencyIssue{Path: path, Problem: "hash mismatch"})
				}
				// A sent-status entry still in the outbox means the
				// commit move was interrupted after the status flip.
				if dir == r.layout.Outbox() && sc.Outbound != nil &&
					sc.Outbound.Status == message.StatusSent {
					issues = append(issues, ConsistencyIssue{Path: path, Problem: "sent entry left in outbox"})
				}
			}
			return nil
		})
		if err != nil {
			return issues, err
		}
	}
	return issues, nil
}
