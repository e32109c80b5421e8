package policy

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RetainForever is the delete_after value disabling retention.
const RetainForever = "never"

// Settings is the parsed .settings file of one list.  Quarantine has
// no settings file; its behavior is fixed.
type Settings struct {
	ListStatus         string
	DeleteAfter        string
	From               string
	ReplyTo            string
	Signature          string
	BodyFormat         string
	CollapseSignatures bool
}

// DefaultSettings returns the settings used when a list has no
// .settings file.
func DefaultSettings(list List) Settings {
	status := "accepted"
	switch list {
	case ListSpam:
		status = "rejected"
	case ListBanned:
		status = "banned"
	}
	return Settings{
		ListStatus:         status,
		DeleteAfter:        RetainForever,
		BodyFormat:         "both",
		CollapseSignatures: true,
	}
}

// ParseSettings parses a .settings file: one key=value per line, blank
// lines and '#' comments ignored.  Unknown keys are load errors.
func ParseSettings(data string, list List) (Settings, error) {
	s := DefaultSettings(list)
	for n, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			return Settings{}, fmt.Errorf("settings line %d: missing '='", n+1)
		}
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		switch key {
		case "list_status":
			if value != "" {
				s.ListStatus = value
			}
		case "delete_after":
			if value != "" {
				s.DeleteAfter = value
			}
		case "from":
			s.From = value
		case "reply_to":
			s.ReplyTo = value
		case "signature":
			s.Signature = value
		case "body_format":
			if value != "" {
				s.BodyFormat = value
			}
		case "collapse_signatures":
			s.CollapseSignatures = value == "true" || value == "1" || value == "yes"
		default:
			return Settings{}, fmt.Errorf("settings line %d: unknown key %q", n+1, key)
		}
	}
	switch s.BodyFormat {
	case "both", "plain", "html":
	default:
		return Settings{}, fmt.Errorf("unknown body_format %q", s.BodyFormat)
	}
	return s, nil
}

// RetentionPeriod parses the delete_after policy.  Returns ok=false
// for "never".  Grammar: <N>d days, <N>m thirty-day months, <N>y
// 365-day years.
func (s Settings) RetentionPeriod() (time.Duration, bool, error) {
	return ParseDeleteAfter(s.DeleteAfter)
}

// ParseDeleteAfter parses a delete_after value.
func ParseDeleteAfter(value string) (time.Duration, bool, error) {
	v := strings.TrimSpace(strings.ToLower(value))
	if v == "" || v == RetainForever {
		return 0, false, nil
	}
	if len(v) < 2 {
		return 0, false, fmt.Errorf("invalid delete_after %q", value)
	}
	n, err := strconv.Atoi(v[:len(v)-1])
	if err != nil || n < 0 {
		return 0, false, fmt.Errorf("invalid delete_after %q", value)
	}
	day := 24 * time.Hour
	switch v[len(v)-1] {
	case 'd':
		return time.Duration(n) * day, true, nil
	case 'm':
		return time.Duration(n) * 30 * day, true, nil
	case 'y':
		return time.Duration(n) * 365 * day, true, nil
	}
	return 0, false, fmt.Errorf("invalid delete_after %q", value)
}
