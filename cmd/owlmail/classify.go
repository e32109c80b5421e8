package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/owlmail/owlmail/pkg/policy"
)

type classifyCmd struct {
	keepTags bool
}

func (*classifyCmd) Name() string {
	return "classify"
}

func (*classifyCmd) Synopsis() string {
	return "resolve the destination list for a sender address"
}

func (*classifyCmd) Usage() string {
	return `classify <address>:
	print the canonical form of address and the list it routes to
`
}

func (c *classifyCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.keepTags, "keeptags", false, "keep +tag suffix when canonicalizing")
}

func (c *classifyCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	raw := f.Arg(0)
	if raw == "" {
		return usage("address required")
	}

	_, _, loader, err := openMailRoot()
	if err != nil {
		return fatal("Couldn't open mail root", err)
	}

	addressing := policy.Addressing{KeepPlusTags: c.keepTags}
	addr, err := addressing.Canonicalize(raw)
	if err != nil {
		return fatal("Invalid address", err)
	}
	list, err := loader.Current().Classify(addr)
	if err != nil {
		return fatal("Classification failed", err)
	}
	fmt.Printf("%s %s\n", addr.Canonical, list)

	return subcommands.ExitSuccess
}
