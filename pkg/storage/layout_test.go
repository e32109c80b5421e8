package storage_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlmail/owlmail/pkg/storage"
)

func TestLayoutPaths(t *testing.T) {
	l := storage.NewLayout("/var/mail")
	assert.Equal(t, "/var/mail/quarantine", l.Quarantine())
	assert.Equal(t, "/var/mail/accepted/attachments", l.Attachments("accepted"))
	assert.Equal(t, "/var/mail/spam/alice@example.org", l.Sender("spam", "alice@example.org"))
	assert.Equal(t, "/var/mail/accepted/.rules", l.RulesFile("accepted"))
	assert.Equal(t, "/var/mail/banned/.settings", l.SettingsFile("banned"))
	assert.Equal(t, "/var/mail/dkim/mail.private", l.DKIMPrivateKey("mail"))
	assert.Equal(t, "/var/mail/dkim/mail.dns", l.DKIMDNSRecord("mail"))
	assert.Equal(t, "/var/mail/logs/owlmail.log", l.LogFile())
}

func TestLayoutEnsure(t *testing.T) {
	root := t.TempDir()
	l := storage.NewLayout(root)
	require.NoError(t, l.Ensure())
	for _, leaf := range []string{
		"quarantine", "accepted", "spam", "banned", "drafts", "outbox", "sent", "logs", "dkim",
	} {
		info, err := os.Stat(filepath.Join(root, leaf))
		require.NoError(t, err, leaf)
		assert.True(t, info.IsDir(), leaf)
	}
	for _, list := range []string{"accepted", "spam", "banned"} {
		assert.FileExists(t, l.RulesFile(list))
		assert.FileExists(t, l.SettingsFile(list))
	}
	spam, err := os.ReadFile(l.SettingsFile("spam"))
	require.NoError(t, err)
	assert.Contains(t, string(spam), "list_status=rejected")
	banned, err := os.ReadFile(l.SettingsFile("banned"))
	require.NoError(t, err)
	assert.Contains(t, string(banned), "list_status=banned")
}

func TestLayoutEnsurePreservesEdits(t *testing.T) {
	root := t.TempDir()
	l := storage.NewLayout(root)
	require.NoError(t, l.Ensure())
	custom := "list_status=banned\ndelete_after=7d\n"
	require.NoError(t, os.WriteFile(l.SettingsFile("banned"), []byte(custom), 0o660))
	require.NoError(t, l.Ensure())
	got, err := os.ReadFile(l.SettingsFile("banned"))
	require.NoError(t, err)
	assert.Equal(t, custom, string(got))
}
