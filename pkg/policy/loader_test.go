package policy_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/owlmail/owlmail/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeList(t *testing.T, root, list, rules, settings string) {
	t.Helper()
	dir := filepath.Join(root, list)
	require.NoError(t, os.MkdirAll(dir, 0o770))
	if rules != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".rules"), []byte(rules), 0o660))
	}
	if settings != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".settings"), []byte(settings), 0o660))
	}
}

func TestLoaderMissingFilesYieldDefaults(t *testing.T) {
	root := t.TempDir()
	loader := policy.NewLoader(root)
	rules, err := loader.Reload()
	require.NoError(t, err)
	assert.Empty(t, rules.Accepted.Rules.Rules())
	assert.Equal(t, "accepted", rules.Accepted.Settings.ListStatus)
	assert.Equal(t, "rejected", rules.Spam.Settings.ListStatus)
}

func TestLoaderReadsLists(t *testing.T) {
	root := t.TempDir()
	writeList(t, root, "accepted", "@example.org\n", "delete_after=30d\n")
	writeList(t, root, "spam", "/^promo@/\n", "")
	loader := policy.NewLoader(root)

	rules, err := loader.Reload()
	require.NoError(t, err)
	assert.Len(t, rules.Accepted.Rules.Rules(), 1)
	assert.Equal(t, "30d", rules.Accepted.Settings.DeleteAfter)
	assert.Len(t, rules.Spam.Rules.Rules(), 1)

	list, err := rules.Classify(mustAddr(t, "bob@example.org"))
	require.NoError(t, err)
	assert.Equal(t, policy.ListAccepted, list)
}

func TestLoaderReloadIsTransactional(t *testing.T) {
	root := t.TempDir()
	writeList(t, root, "accepted", "@example.org\n", "")
	loader := policy.NewLoader(root)
	_, err := loader.Reload()
	require.NoError(t, err)

	// Break the rules file; the previous snapshot must stay active.
	writeList(t, root, "accepted", "/[broken/\n", "")
	_, err = loader.Reload()
	require.Error(t, err)

	current := loader.Current()
	assert.Len(t, current.Accepted.Rules.Rules(), 1, "previous snapshot should survive a bad reload")
	list, err := current.Classify(mustAddr(t, "bob@example.org"))
	require.NoError(t, err)
	assert.Equal(t, policy.ListAccepted, list)
}

func TestRulesClassifyStatusOverride(t *testing.T) {
	root := t.TempDir()
	writeList(t, root, "accepted", "@example.org\n", "list_status=banned\n")
	loader := policy.NewLoader(root)
	rules, err := loader.Reload()
	require.NoError(t, err)

	list, err := rules.Classify(mustAddr(t, "bob@example.org"))
	require.NoError(t, err)
	assert.Equal(t, policy.ListBanned, list)
}

func TestRulesClassifyUnknownStatus(t *testing.T) {
	rules := policy.DefaultRules()
	rules.Accepted.Settings.ListStatus = "sideways"
	var err error
	rules.Accepted.Rules, err = policy.ParseRuleSet("@example.org")
	require.NoError(t, err)

	_, err = rules.Classify(mustAddr(t, "bob@example.org"))
	assert.Error(t, err)
}
