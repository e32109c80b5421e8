package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidRule reports a malformed .rules entry.  Ruleset loading is
// transactional: a single bad entry aborts the whole reload.
var ErrInvalidRule = errors.New("invalid rule")

// RuleKind discriminates the closed set of rule variants.
type RuleKind int

// Rule variants, in the order the .rules grammar introduces them.
const (
	KindExactAddress RuleKind = iota
	KindDomainSuffix
	KindDomainExact
	KindRegex
)

// Rule is one entry of a .rules file.
type Rule struct {
	Kind    RuleKind
	Pattern string
	re      *regexp.Regexp
}

// ParseRule parses a single non-blank, non-comment rules line.
// Grammar: "user@domain" exact address, "@domain" domain suffix,
// "@=domain" exact domain, "/expr/" POSIX extended regex.
func ParseRule(line string) (Rule, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Rule{}, fmt.Errorf("%w: empty rule", ErrInvalidRule)
	}
	if strings.HasPrefix(trimmed, "/") && strings.HasSuffix(trimmed, "/") && len(trimmed) > 1 {
		body := trimmed[1 : len(trimmed)-1]
		re, err := regexp.CompilePOSIX(body)
		if err != nil {
			return Rule{}, fmt.Errorf("%w: regex %q: %v", ErrInvalidRule, body, err)
		}
		return Rule{Kind: KindRegex, Pattern: body, re: re}, nil
	}
	if after, ok := strings.CutPrefix(trimmed, "@"); ok {
		if domain, exact := strings.CutPrefix(after, "="); exact {
			if domain == "" {
				return Rule{}, fmt.Errorf("%w: empty domain in %q", ErrInvalidRule, trimmed)
			}
			return Rule{Kind: KindDomainExact, Pattern: strings.ToLower(domain)}, nil
		}
		if after == "" {
			return Rule{}, fmt.Errorf("%w: empty domain in %q", ErrInvalidRule, trimmed)
		}
		return Rule{Kind: KindDomainSuffix, Pattern: strings.ToLower(after)}, nil
	}
	if strings.Contains(trimmed, "@") {
		return Rule{Kind: KindExactAddress, Pattern: strings.ToLower(trimmed)}, nil
	}
	return Rule{}, fmt.Errorf("%w: unsupported entry %q", ErrInvalidRule, trimmed)
}

// Matches reports whether the rule matches the canonicalized address.
func (r Rule) Matches(addr Address) bool {
	switch r.Kind {
	case KindExactAddress:
		return addr.Canonical == r.Pattern
	case KindDomainSuffix:
		suffix := strings.TrimPrefix(r.Pattern, ".")
		if addr.Domain == suffix {
			return true
		}
		return strings.HasSuffix(addr.Domain, "."+suffix)
	case KindDomainExact:
		return addr.Domain == r.Pattern
	case KindRegex:
		return r.re != nil && r.re.MatchString(addr.Canonical)
	}
	return false
}

// RuleSet is the ordered rule list of a single .rules file.
type RuleSet struct {
	rules []Rule
}

// ParseRuleSet parses a whole .rules file.  Blank lines and lines
// starting with '#' are ignored.  Any malformed entry fails the parse.
func ParseRuleSet(data string) (RuleSet, error) {
	var rs RuleSet
	for n, line := range strings.Split(data, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			continue
		}
		rule, err := ParseRule(trimmed)
		if err != nil {
			return RuleSet{}, fmt.Errorf("line %d: %w", n+1, err)
		}
		rs.rules = append(rs.rules, rule)
	}
	return rs, nil
}

// Match returns the first rule matching the address, in file order.
func (rs RuleSet) Match(addr Address) (Rule, bool) {
	for _, r := range rs.rules {
		if r.Matches(addr) {
			return r, true
		}
	}
	return Rule{}, false
}

// Rules returns the parsed entries in file order.
func (rs RuleSet) Rules() []Rule {
	return rs.rules
}

// List names the destination of a routed message.
type List string

// Fixed list precedence: banned outranks spam outranks accepted;
// quarantine is the default when nothing matches.
const (
	ListBanned     List = "banned"
	ListSpam       List = "spam"
	ListAccepted   List = "accepted"
	ListQuarantine List = "quarantine"
)

// Classify routes an address against the three rule-bearing lists.
func Classify(addr Address, accepted, spam, banned RuleSet) List {
	if _, ok := banned.Match(addr); ok {
		return ListBanned
	}
	if _, ok := spam.Match(addr); ok {
		return ListSpam
	}
	if _, ok := accepted.Match(addr); ok {
		return ListAccepted
	}
	return ListQuarantine
}
