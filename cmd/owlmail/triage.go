package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/subcommands"

	"github.com/owlmail/owlmail/pkg/message"
)

type triageCmd struct {
	unreadOnly bool
	jsonOut    bool
}

type triageEntry struct {
	ID         string    `json:"id"`
	ReceivedAt time.Time `json:"received_at"`
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	Read       bool      `json:"read"`
}

func (*triageCmd) Name() string {
	return "triage"
}

func (*triageCmd) Synopsis() string {
	return "list messages waiting in quarantine"
}

func (*triageCmd) Usage() string {
	return `triage:
	list quarantined messages with sender, subject, and arrival time
`
}

func (t *triageCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&t.unreadOnly, "unread", false, "only show unread messages")
	f.BoolVar(&t.jsonOut, "json", false, "emit JSON instead of a table")
}

func (t *triageCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	_, layout, _, err := openMailRoot()
	if err != nil {
		return fatal("Couldn't open mail root", err)
	}

	entries := []triageEntry{}
	err = filepath.WalkDir(layout.Quarantine(), func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".yml") {
			return err
		}
		sc, err := message.Load(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %s: %v\n", path, err)
			return nil
		}
		if t.unreadOnly && sc.Read {
			return nil
		}
		entries = append(entries, triageEntry{
			ID:         sc.ID,
			ReceivedAt: sc.ReceivedAt,
			From:       sc.HeadersCache.From,
			Subject:    sc.HeadersCache.Subject,
			Read:       sc.Read,
		})
		return nil
	})
	if err != nil {
		return fatal("Couldn't walk quarantine", err)
	}

	if t.jsonOut {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(entries); err != nil {
			return fatal("Couldn't encode output", err)
		}
		return subcommands.ExitSuccess
	}
	tabs := tabwriter.NewWriter(os.Stdout, 1, 0, 2, ' ', 0)
	for _, e := range entries {
		fmt.Fprintf(tabs, "%s\t%s\t%s\t%s\n",
			e.ID, e.ReceivedAt.Format("2006-01-02 15:04"), e.From, e.Subject)
	}
	tabs.Flush()
	if len(entries) == 0 {
		fmt.Println("quarantine is empty")
	}

	return subcommands.ExitSuccess
}
