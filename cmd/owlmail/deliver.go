package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/subcommands"

	"github.com/owlmail/owlmail/pkg/pipeline"
)

type deliverCmd struct {
	from string
}

func (*deliverCmd) Name() string {
	return "deliver"
}

func (*deliverCmd) Synopsis() string {
	return "route a raw message into the mail root"
}

func (*deliverCmd) Usage() string {
	return `deliver -from <address> [file]:
	read an RFC 5322 message from file (or stdin) and deliver it as if
	it arrived from the given envelope sender
`
}

func (d *deliverCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&d.from, "from", "", "envelope sender address")
}

func (d *deliverCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if d.from == "" {
		return usage("-from required")
	}
	raw, err := readInput(f.Arg(0))
	if err != nil {
		return fatal("Couldn't read message", err)
	}

	conf, layout, loader, err := openMailRoot()
	if err != nil {
		return fatal("Couldn't open mail root", err)
	}
	inbound, err := pipeline.NewInbound(layout, loader, conf)
	if err != nil {
		return fatal("Couldn't build inbound pipeline", err)
	}

	path, err := inbound.Deliver(d.from, raw)
	if err != nil {
		return fatal("Delivery failed", err)
	}
	fmt.Println(path)

	return subcommands.ExitSuccess
}

func readInput(name string) ([]byte, error) {
	if name == "" || name == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(name)
}
