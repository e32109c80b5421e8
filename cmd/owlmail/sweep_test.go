package main

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/owlmail/owlmail/pkg/pipeline"
)

func TestWriteSweepText(t *testing.T) {
	report := sweepReport{
		Retention: map[string]pipeline.RetentionSummary{
			"accepted": {
				MessagesRemoved:    []string{"a.yml", "b.yml"},
				AttachmentsRemoved: []string{"blob"},
			},
			"spam": {},
		},
		Issues: []pipeline.ConsistencyIssue{
			{Path: "outbox/x.yml", Problem: "hash mismatch"},
		},
	}

	var b strings.Builder
	writeSweepText(&b, report)
	out := b.String()

	assert.Contains(t, out, "accepted: removed 2 messages, 1 attachments")
	assert.NotContains(t, out, "spam:")
	assert.Contains(t, out, "outbox/x.yml: hash mismatch")
}

func TestWriteSweepTextEmptyReport(t *testing.T) {
	var b strings.Builder
	writeSweepText(&b, sweepReport{})
	assert.Empty(t, b.String())
}
