package pipeline_test

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/owlmail/owlmail/pkg/config"
	"github.com/owlmail/owlmail/pkg/message"
	"github.com/owlmail/owlmail/pkg/pipeline"
	"github.com/owlmail/owlmail/pkg/policy"
	"github.com/owlmail/owlmail/pkg/storage"
)

func testConfig(root string) *config.Root {
	return &config.Root{
		MailRoot: root,
		LogLevel: "info",
		Inbound: config.Inbound{
			MaxSizeQuarantine: "1K",
			MaxSizeApproved:   "1M",
			RenderMode:        pipeline.RenderModeStrict,
		},
		Outbound: config.Outbound{
			SMTPHost:     "127.0.0.1",
			SMTPPort:     25,
			DKIMSelector: "mail",
			RetryBackoff: []string{"1m", "5m"},
		},
		Daemon: config.Daemon{
			ReconcileInterval: time.Minute,
			DebounceWindow:    10 * time.Millisecond,
			MaxWorkers:        2,
			ShutdownGrace:     time.Second,
		},
	}
}

func newMailRoot(t *testing.T) (*storage.Layout, *policy.Loader) {
	t.Helper()
	layout := storage.NewLayout(t.TempDir())
	require.NoError(t, layout.Ensure())
	return layout, policy.NewLoader(layout.Root())
}

func setRules(t *testing.T, layout *storage.Layout, loader *policy.Loader, list, rules string) {
	t.Helper()
	require.NoError(t, os.WriteFile(layout.RulesFile(list), []byte(rules+"\n"), 0o660))
	_, err := loader.Reload()
	require.NoError(t, err)
}

func inboundMessage(subject, body string) []byte {
	return []byte(fmt.Sprintf(
		"From: Alice <alice@example.org>\r\nTo: Owl <owl@example.org>\r\nSubject: %s\r\nDate: Mon, 02 Jun 2025 10:00:00 +0000\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		subject, body))
}

func TestDeliverAccepted(t *testing.T) {
	layout, loader := newMailRoot(t)
	setRules(t, layout, loader, "accepted", "@example.org")
	inbound, err := pipeline.NewInbound(layout, loader, testConfig(layout.Root()))
	require.NoError(t, err)

	raw := inboundMessage("Hello", "hi there")
	emlPath, err := inbound.Deliver("alice@example.org", raw)
	require.NoError(t, err)

	senderDir := layout.Sender("accepted", "alice@example.org")
	assert.Equal(t, senderDir, filepath.Dir(emlPath))
	assert.FileExists(t, emlPath)

	sidecarPath := filepath.Join(senderDir, message.SidecarFor(filepath.Base(emlPath)))
	sc, err := message.Load(sidecarPath)
	require.NoError(t, err)
	assert.Equal(t, "accepted", sc.StatusShadow)
	assert.Equal(t, "alice@example.org", sc.HeadersCache.From)
	assert.Equal(t, "Hello", sc.HeadersCache.Subject)
	assert.NoError(t, sc.VerifyHash(raw))

	base := message.BaseFor(filepath.Base(sidecarPath))
	assert.FileExists(t, filepath.Join(senderDir, "."+base+".html"))
	assert.FileExists(t, filepath.Join(senderDir, "."+base+".txt"))
}

func TestDeliverUnmatchedGoesToQuarantine(t *testing.T) {
	layout, loader := newMailRoot(t)
	inbound, err := pipeline.NewInbound(layout, loader, testConfig(layout.Root()))
	require.NoError(t, err)

	emlPath, err := inbound.Deliver("stranger@unknown.example", inboundMessage("Hi", "hi"))
	require.NoError(t, err)
	assert.Contains(t, emlPath, filepath.Join("quarantine", "stranger@unknown.example"))
}

func TestDeliverBannedOutranksAccepted(t *testing.T) {
	layout, loader := newMailRoot(t)
	setRules(t, layout, loader, "accepted", "@example.org")
	setRules(t, layout, loader, "banned", "alice@example.org")
	inbound, err := pipeline.NewInbound(layout, loader, testConfig(layout.Root()))
	require.NoError(t, err)

	emlPath, err := inbound.Deliver("alice@example.org", inboundMessage("Hi", "hi"))
	require.NoError(t, err)
	assert.Contains(t, emlPath, string(filepath.Separator)+"banned"+string(filepath.Separator))
}

func TestDeliverOversizeRejected(t *testing.T) {
	layout, loader := newMailRoot(t)
	inbound, err := pipeline.NewInbound(layout, loader, testConfig(layout.Root()))
	require.NoError(t, err)

	// Over the 1K quarantine cap.
	raw := inboundMessage("Big", strings.Repeat("x", 2048))
	_, err = inbound.Deliver("stranger@unknown.example", raw)
	require.ErrorIs(t, err, pipeline.ErrTooLarge)

	entries, readErr := os.ReadDir(layout.Quarantine())
	require.NoError(t, readErr)
	assert.Empty(t, entries, "rejected message must not be persisted")
}

func TestDeliverInvalidSender(t *testing.T) {
	layout, loader := newMailRoot(t)
	inbound, err := pipeline.NewInbound(layout, loader, testConfig(layout.Root()))
	require.NoError(t, err)

	_, err = inbound.Deliver("not-an-address", inboundMessage("Hi", "hi"))
	assert.ErrorIs(t, err, policy.ErrInvalidAddress)
}

func TestDeliverStoresAttachments(t *testing.T) {
	layout, loader := newMailRoot(t)
	setRules(t, layout, loader, "accepted", "@example.org")
	inbound, err := pipeline.NewInbound(layout, loader, testConfig(layout.Root()))
	require.NoError(t, err)

	raw := []byte("From: alice@example.org\r\n" +
		"To: owl@example.org\r\n" +
		"Subject: Report\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/mixed; boundary=\"BOUNDARY\"\r\n" +
		"\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"see attached\r\n" +
		"--BOUNDARY\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=\"report.pdf\"\r\n" +
		"\r\n" +
		"fake pdf bytes\r\n" +
		"--BOUNDARY--\r\n")
	emlPath, err := inbound.Deliver("alice@example.org", raw)
	require.NoError(t, err)

	sc, err := message.Load(filepath.Join(filepath.Dir(emlPath), message.SidecarFor(filepath.Base(emlPath))))
	require.NoError(t, err)
	require.Len(t, sc.Attachments, 1)
	assert.Equal(t, "report.pdf", sc.Attachments[0].Name)

	blob := filepath.Join(layout.Attachments("accepted"), sc.Attachments[0].SHA256+"__report.pdf")
	assert.FileExists(t, blob)
}

func TestDeliverParsesSpamAnnotations(t *testing.T) {
	layout, loader := newMailRoot(t)
	setRules(t, layout, loader, "spam", "@spammy.example")
	inbound, err := pipeline.NewInbound(layout, loader, testConfig(layout.Root()))
	require.NoError(t, err)

	raw := []byte("From: junk@spammy.example\r\n" +
		"Subject: Offer\r\n" +
		"X-Spam-Score: 7.5\r\n" +
		"X-Spam-Symbols: BAYES_SPAM, URI_SUSPICIOUS\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"buy now\r\n")
	emlPath, err := inbound.Deliver("junk@spammy.example", raw)
	require.NoError(t, err)

	sc, err := message.Load(filepath.Join(filepath.Dir(emlPath), message.SidecarFor(filepath.Base(emlPath))))
	require.NoError(t, err)
	require.NotNil(t, sc.Spam)
	assert.InDelta(t, 7.5, sc.Spam.Score, 0.001)
	assert.Equal(t, []string{"BAYES_SPAM", "URI_SUSPICIOUS"}, sc.Spam.Symbols)
}

func TestDeliverListStatusOverride(t *testing.T) {
	layout, loader := newMailRoot(t)
	setRules(t, layout, loader, "accepted", "@example.org")
	require.NoError(t, os.WriteFile(layout.SettingsFile("accepted"),
		[]byte("list_status=banned\n"), 0o660))
	_, err := loader.Reload()
	require.NoError(t, err)

	inbound, err := pipeline.NewInbound(layout, loader, testConfig(layout.Root()))
	require.NoError(t, err)
	emlPath, err := inbound.Deliver("alice@example.org", inboundMessage("Hi", "hi"))
	require.NoError(t, err)
	assert.Contains(t, emlPath, string(filepath.Separator)+"banned"+string(filepath.Separator))
}
