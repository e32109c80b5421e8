package policy_test

import (
	"testing"
	"time"

	"github.com/owlmail/owlmail/pkg/policy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultSettings(t *testing.T) {
	assert.Equal(t, "accepted", policy.DefaultSettings(policy.ListAccepted).ListStatus)
	assert.Equal(t, "rejected", policy.DefaultSettings(policy.ListSpam).ListStatus)
	assert.Equal(t, "banned", policy.DefaultSettings(policy.ListBanned).ListStatus)

	s := policy.DefaultSettings(policy.ListAccepted)
	assert.Equal(t, "never", s.DeleteAfter)
	assert.Equal(t, "both", s.BodyFormat)
	assert.True(t, s.CollapseSignatures)
}

func TestParseSettings(t *testing.T) {
	data := `# list config
list_status = accepted
delete_after = 30d
from = Team <team@example.org>
reply_to = list@example.org
signature = ~/sig.txt
body_format = html
collapse_signatures = false
`
	s, err := policy.ParseSettings(data, policy.ListAccepted)
	require.NoError(t, err)
	assert.Equal(t, "accepted", s.ListStatus)
	assert.Equal(t, "30d", s.DeleteAfter)
	assert.Equal(t, "Team <team@example.org>", s.From)
	assert.Equal(t, "list@example.org", s.ReplyTo)
	assert.Equal(t, "~/sig.txt", s.Signature)
	assert.Equal(t, "html", s.BodyFormat)
	assert.False(t, s.CollapseSignatures)
}

func TestParseSettingsErrors(t *testing.T) {
	_, err := policy.ParseSettings("unknown=value", policy.ListAccepted)
	assert.Error(t, err)

	_, err = policy.ParseSettings("not a key value line", policy.ListAccepted)
	assert.Error(t, err)

	_, err = policy.ParseSettings("body_format=weird", policy.ListAccepted)
	assert.Error(t, err)
}

func TestParseSettingsEmptyValuesKeepDefaults(t *testing.T) {
	s, err := policy.ParseSettings("from=\ndelete_after=\nbody_format=\n", policy.ListSpam)
	require.NoError(t, err)
	assert.Equal(t, "never", s.DeleteAfter)
	assert.Equal(t, "both", s.BodyFormat)
	assert.Empty(t, s.From)
}

func TestParseDeleteAfter(t *testing.T) {
	day := 24 * time.Hour
	testCases := []struct {
		value string
		want  time.Duration
		ok    bool
	}{
		{value: "never", ok: false},
		{value: "", ok: false},
		{value: "10d", want: 10 * day, ok: true},
		{value: "6m", want: 6 * 30 * day, ok: true},
		{value: "2y", want: 2 * 365 * day, ok: true},
	}
	for _, tc := range testCases {
		t.Run(tc.value, func(t *testing.T) {
			got, ok, err := policy.ParseDeleteAfter(tc.value)
			require.NoError(t, err)
			assert.Equal(t, tc.ok, ok)
			if tc.ok {
				assert.Equal(t, tc.want, got)
			}
		})
	}
}

func TestParseDeleteAfterErrors(t *testing.T) {
	for _, value := range []string{"invalid", "1w", "d", "-1d", "1 2d"} {
		t.Run(value, func(t *testing.T) {
			_, _, err := policy.ParseDeleteAfter(value)
			assert.Error(t, err)
		})
	}
}
