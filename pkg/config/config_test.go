package config_test

import (
	"testing"
	"time"

	"github.com/owlmail/owlmail/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSize(t *testing.T) {
	testCases := []struct {
		input string
		want  int64
	}{
		{input: "512", want: 512},
		{input: "512b", want: 512},
		{input: "1K", want: 1024},
		{input: "1KiB", want: 1024},
		{input: "25M", want: 25 << 20},
		{input: "25MB", want: 25 << 20},
		{input: "2G", want: 2 << 30},
		{input: " 10m ", want: 10 << 20},
	}
	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			got, err := config.ParseSize(tc.input)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestParseSizeErrors(t *testing.T) {
	for _, input := range []string{"", "M", "10X", "abc", "10 20"} {
		t.Run(input, func(t *testing.T) {
			_, err := config.ParseSize(input)
			assert.Error(t, err)
		})
	}
}

func TestBackoffSchedule(t *testing.T) {
	c := &config.Root{}
	c.Outbound.RetryBackoff = []string{"1m", " 5m", "15m", "1h"}
	got, err := c.BackoffSchedule()
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{
		time.Minute, 5 * time.Minute, 15 * time.Minute, time.Hour,
	}, got)

	c.Outbound.RetryBackoff = []string{"nope"}
	_, err = c.BackoffSchedule()
	assert.Error(t, err)

	c.Outbound.RetryBackoff = nil
	_, err = c.BackoffSchedule()
	assert.Error(t, err)
}
