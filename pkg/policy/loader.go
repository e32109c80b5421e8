package policy

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// LoadedList bundles the rules and settings of one list.
type LoadedList struct {
	Rules    RuleSet
	Settings Settings
}

// Rules is a consistent snapshot of every rule-bearing list.
type Rules struct {
	Accepted LoadedList
	Spam     LoadedList
	Banned   LoadedList
}

// DefaultRules returns an empty snapshot with per-list default
// settings, used before the first successful load.
func DefaultRules() Rules {
	return Rules{
		Accepted: LoadedList{Settings: DefaultSettings(ListAccepted)},
		Spam:     LoadedList{Settings: DefaultSettings(ListSpam)},
		Banned:   LoadedList{Settings: DefaultSettings(ListBanned)},
	}
}

// Classify routes an address with the fixed list precedence, then
// applies the matched list's list_status disposition override.
func (r Rules) Classify(addr Address) (List, error) {
	route := Classify(addr, r.Accepted.Rules, r.Spam.Rules, r.Banned.Rules)
	switch route {
	case ListAccepted:
		return mapStatus(r.Accepted.Settings.ListStatus)
	case ListSpam:
		return mapStatus(r.Spam.Settings.ListStatus)
	case ListBanned:
		return mapStatus(r.Banned.Settings.ListStatus)
	}
	return ListQuarantine, nil
}

func mapStatus(status string) (List, error) {
	switch status {
	case "accepted":
		return ListAccepted, nil
	case "rejected":
		return ListSpam, nil
	case "banned":
		return ListBanned, nil
	}
	return "", fmt.Errorf("unknown list_status %q", status)
}

// Loader reads .rules and .settings files from the mail root.  Reload
// is transactional: on any parse error the previous snapshot stays
// active.
type Loader struct {
	root string

	mu      sync.RWMutex
	current Rules
	loaded  bool
}

// NewLoader creates a Loader rooted at the mail root directory.
func NewLoader(root string) *Loader {
	return &Loader{root: root, current: DefaultRules()}
}

// Current returns the active snapshot, loading it on first use.  A
// failed first load falls back to the default empty snapshot.
func (l *Loader) Current() Rules {
	l.mu.RLock()
	if l.loaded {
		defer l.mu.RUnlock()
		return l.current
	}
	l.mu.RUnlock()
	if _, err := l.Reload(); err != nil {
		log.Error().Str("module", "policy").Err(err).Msg("Initial ruleset load failed")
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.current
}

// Reload re-reads every list from disk.  On error the previously
// loaded snapshot remains active and is returned alongside the error.
func (l *Loader) Reload() (Rules, error) {
	fresh := Rules{}
	var err error
	if fresh.Accepted, err = l.loadList(ListAccepted); err == nil {
		if fresh.Spam, err = l.loadList(ListSpam); err == nil {
			fresh.Banned, err = l.loadList(ListBanned)
		}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		return l.current, err
	}
	l.current = fresh
	l.loaded = true
	return fresh, nil
}

func (l *Loader) loadList(list List) (LoadedList, error) {
	dir := filepath.Join(l.root, string(list))
	out := LoadedList{Settings: DefaultSettings(list)}

	data, err := os.ReadFile(filepath.Join(dir, ".rules"))
	switch {
	case err == nil:
		if out.Rules, err = ParseRuleSet(string(data)); err != nil {
			return LoadedList{}, fmt.Errorf("%s/.rules: %w", list, err)
		}
	case !os.IsNotExist(err):
		return LoadedList{}, fmt.Errorf("%s/.rules: %w", list, err)
	}

	data, err = os.ReadFile(filepath.Join(dir, ".settings"))
	switch {
	case err == nil:
		if out.Settings, err = ParseSettings(string(data), list); err != nil {
			return LoadedList{}, fmt.Errorf("%s/.settings: %w", list, err)
		}
	case !os.IsNotExist(err):
		return LoadedList{}, fmt.Errorf("%s/.settings: %w", list, err)
	}

	return out, nil
}
