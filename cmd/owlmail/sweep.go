package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/subcommands"

	"github.com/owlmail/owlmail/pkg/pipeline"
)

type sweepCmd struct {
	checkOnly bool
	jsonOut   bool
}

type sweepReport struct {
	Retention map[string]pipeline.RetentionSummary `json:"retention,omitempty"`
	Issues    []pipeline.ConsistencyIssue          `json:"issues"`
}

func (*sweepCmd) Name() string {
	return "sweep"
}

func (*sweepCmd) Synopsis() string {
	return "enforce retention and report consistency problems"
}

func (*sweepCmd) Usage() string {
	return `sweep [-check]:
	delete expired messages, garbage collect orphaned attachments, and
	report any corruption found; -check skips deletion
`
}

func (s *sweepCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.checkOnly, "check", false, "report problems without deleting anything")
	f.BoolVar(&s.jsonOut, "json", false, "emit JSON instead of text")
}

func (s *sweepCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	_, layout, loader, err := openMailRoot()
	if err != nil {
		return fatal("Couldn't open mail root", err)
	}
	reconciler := pipeline.NewReconciler(layout, loader)

	report := sweepReport{Issues: []pipeline.ConsistencyIssue{}}
	if !s.checkOnly {
		report.Retention, err = reconciler.EnforceRetention(time.Now())
		if err != nil {
			return fatal("Retention pass failed", err)
		}
	}
	issues, err := reconciler.CheckConsistency()
	if err != nil {
		return fatal("Consistency check failed", err)
	}
	report.Issues = append(report.Issues, issues...)

	if s.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return fatal("Couldn't encode output", err)
		}
	} else {
		writeSweepText(os.Stdout, report)
	}
	if len(report.Issues) > 0 {
		return subcommands.ExitFailure
	}

	return subcommands.ExitSuccess
}

func writeSweepText(w io.Writer, report sweepReport) {
	for list, summary := range report.Retention {
		if len(summary.MessagesRemoved) == 0 && len(summary.AttachmentsRemoved) == 0 {
			continue
		}
		fmt.Fprintf(w, "%s: removed %d messages, %d attachments\n",
			list, len(summary.MessagesRemoved), len(summary.AttachmentsRemoved))
	}
	for _, issue := range report.Issues {
		fmt.Fprintf(w, "%s: %s\n", issue.Path, issue.Problem)
	}
}
