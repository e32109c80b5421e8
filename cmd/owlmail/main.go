// Package main implements a command line client for an owlmail mail root
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"
	"github.com/rs/zerolog"

	"github.com/owlmail/owlmail/pkg/config"
	"github.com/owlmail/owlmail/pkg/policy"
	"github.com/owlmail/owlmail/pkg/storage"
)

var root = flag.String("root", "", "mail root directory, overrides OWLMAIL_MAILROOT")

func main() {
	// Command output goes to stdout, keep log noise out of the way.
	zerolog.SetGlobalLevel(zerolog.WarnLevel)

	// Important top-level flags
	subcommands.ImportantFlag("root")

	// Setup standard helpers
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(subcommands.CommandsCommand(), "")

	// Setup my commands
	subcommands.Register(&classifyCmd{}, "")
	subcommands.Register(&deliverCmd{}, "")
	subcommands.Register(&sendCmd{}, "")
	subcommands.Register(&triageCmd{}, "")
	subcommands.Register(&sweepCmd{}, "")

	// Parse and execute
	flag.Parse()
	ctx := context.Background()
	os.Exit(int(subcommands.Execute(ctx)))
}

// openMailRoot loads configuration and the mail root it points at.
func openMailRoot() (*config.Root, *storage.Layout, *policy.Loader, error) {
	conf, err := config.Process()
	if err != nil {
		return nil, nil, nil, err
	}
	if *root != "" {
		conf.MailRoot = *root
	}
	layout := storage.NewLayout(conf.MailRoot)
	if err := layout.Ensure(); err != nil {
		return nil, nil, nil, err
	}
	loader := policy.NewLoader(layout.Root())
	if _, err := loader.Reload(); err != nil {
		return nil, nil, nil, err
	}
	return conf, layout, loader, nil
}

func fatal(msg string, err error) subcommands.ExitStatus {
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	return subcommands.ExitFailure
}

func usage(msg string) subcommands.ExitStatus {
	fmt.Fprintln(os.Stderr, msg)
	return subcommands.ExitUsageError
}
