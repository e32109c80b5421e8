package policy_test

import (
	"testing"

	"github.com/owlmail/owlmail/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustAddr(t *testing.T, raw string) policy.Address {
	t.Helper()
	addr, err := (&policy.Addressing{}).Canonicalize(raw)
	require.NoError(t, err)
	return addr
}

func mustRules(t *testing.T, data string) policy.RuleSet {
	t.Helper()
	rs, err := policy.ParseRuleSet(data)
	require.NoError(t, err)
	return rs
}

func TestParseRule(t *testing.T) {
	testCases := []struct {
		line string
		kind policy.RuleKind
		want string
	}{
		{line: "carol@example.org", kind: policy.KindExactAddress, want: "carol@example.org"},
		{line: "Carol@Example.Org", kind: policy.KindExactAddress, want: "carol@example.org"},
		{line: "@example.org", kind: policy.KindDomainSuffix, want: "example.org"},
		{line: "@=example.org", kind: policy.KindDomainExact, want: "example.org"},
		{line: "/^admin@/", kind: policy.KindRegex, want: "^admin@"},
	}
	for _, tc := range testCases {
		t.Run(tc.line, func(t *testing.T) {
			rule, err := policy.ParseRule(tc.line)
			require.NoError(t, err)
			assert.Equal(t, tc.kind, rule.Kind)
			assert.Equal(t, tc.want, rule.Pattern)
		})
	}
}

func TestParseRuleErrors(t *testing.T) {
	for _, line := range []string{"", "   ", "# comment", "no-at-sign", "/[/", "@", "@="} {
		t.Run(line, func(t *testing.T) {
			_, err := policy.ParseRule(line)
			require.Error(t, err)
			assert.ErrorIs(t, err, policy.ErrInvalidRule)
		})
	}
}

func TestRuleMatches(t *testing.T) {
	testCases := []struct {
		name string
		rule string
		addr string
		want bool
	}{
		{name: "exact address hit", rule: "carol@example.org", addr: "Carol@Example.org", want: true},
		{name: "exact address miss", rule: "carol@example.org", addr: "dave@example.org", want: false},
		{name: "suffix matches domain", rule: "@example.org", addr: "user@example.org", want: true},
		{name: "suffix matches subdomain", rule: "@example.org", addr: "user@sub.example.org", want: true},
		{name: "suffix rejects lookalike", rule: "@example.org", addr: "user@badexample.org", want: false},
		{name: "exact domain hit", rule: "@=example.org", addr: "user@example.org", want: true},
		{name: "exact domain rejects subdomain", rule: "@=example.org", addr: "user@sub.example.org", want: false},
		{name: "regex hit", rule: "/^admin@/", addr: "admin@anywhere.net", want: true},
		{name: "regex miss", rule: "/^admin@/", addr: "user@anywhere.net", want: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rule, err := policy.ParseRule(tc.rule)
			require.NoError(t, err)
			assert.Equal(t, tc.want, rule.Matches(mustAddr(t, tc.addr)))
		})
	}
}

func TestParseRuleSet(t *testing.T) {
	rs := mustRules(t, "# comment\n\n@example.org\ncarol@other.net\n/^spammer/\n")
	assert.Len(t, rs.Rules(), 3)
}

func TestParseRuleSetAbortsOnBadLine(t *testing.T) {
	_, err := policy.ParseRuleSet("@example.org\n/[bad regex/\n")
	require.Error(t, err)
	assert.ErrorIs(t, err, policy.ErrInvalidRule)
}

func TestRuleSetFirstMatchWins(t *testing.T) {
	rs := mustRules(t, "@example.org\ncarol@example.org\n")
	rule, ok := rs.Match(mustAddr(t, "carol@example.org"))
	require.True(t, ok)
	assert.Equal(t, policy.KindDomainSuffix, rule.Kind)
}

func TestClassifyPrecedence(t *testing.T) {
	addr := mustAddr(t, "user@example.org")
	accepted := mustRules(t, "@example.org")
	spam := mustRules(t, "user@example.org")
	banned := mustRules(t, "/user/")

	assert.Equal(t, policy.ListBanned, policy.Classify(addr, accepted, spam, banned))
	assert.Equal(t, policy.ListSpam, policy.Classify(addr, accepted, spam, policy.RuleSet{}))
	assert.Equal(t, policy.ListAccepted, policy.Classify(addr, accepted, policy.RuleSet{}, policy.RuleSet{}))
	assert.Equal(t, policy.ListQuarantine,
		policy.Classify(addr, policy.RuleSet{}, policy.RuleSet{}, policy.RuleSet{}))
}

func TestClassifySpamOutranksAccepted(t *testing.T) {
	// An address matched by both a spam regex and an accepted exact
	// entry files under spam.
	addr := mustAddr(t, "deals@shop.example")
	accepted := mustRules(t, "deals@shop.example")
	spam := mustRules(t, "/^deals@/")
	got := policy.Classify(addr, accepted, spam, policy.RuleSet{})
	assert.Equal(t, policy.ListSpam, got)
}
