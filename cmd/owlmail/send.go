package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"

	"github.com/owlmail/owlmail/pkg/pipeline"
)

type sendCmd struct {
	resend string
	now    bool
}

func (*sendCmd) Name() string {
	return "send"
}

func (*sendCmd) Synopsis() string {
	return "queue a draft for delivery, or requeue a failed entry"
}

func (*sendCmd) Usage() string {
	return `send [-now] <draft.md> | send -resend <id>:
	queue a markdown draft into the outbox, or reset a failed outbox
	entry for another delivery attempt
`
}

func (s *sendCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&s.resend, "resend", "", "outbox entry ID to requeue")
	f.BoolVar(&s.now, "now", false, "dispatch pending entries immediately")
}

func (s *sendCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	draft := f.Arg(0)
	if draft == "" && s.resend == "" {
		return usage("draft file or -resend required")
	}

	conf, layout, loader, err := openMailRoot()
	if err != nil {
		return fatal("Couldn't open mail root", err)
	}
	var signer *pipeline.Signer
	if conf.Outbound.DKIMDomain != "" {
		material, err := pipeline.EnsureKeyMaterial(layout, conf.Outbound.DKIMSelector)
		if err != nil {
			return fatal("Couldn't load DKIM material", err)
		}
		if signer, err = pipeline.NewSigner(material, conf.Outbound.DKIMDomain); err != nil {
			return fatal("Couldn't build DKIM signer", err)
		}
	}
	outbox, err := pipeline.NewOutbox(layout, loader, conf, signer,
		pipeline.NewSMTPTransport(conf.Outbound))
	if err != nil {
		return fatal("Couldn't build outbox", err)
	}

	if s.resend != "" {
		if err := outbox.Resend(s.resend); err != nil {
			return fatal("Resend failed", err)
		}
		fmt.Printf("requeued %s\n", s.resend)
	}
	if draft != "" {
		path, err := outbox.QueueDraft(draft)
		if err != nil {
			return fatal("Couldn't queue draft", err)
		}
		fmt.Printf("queued %s\n", path)
	}
	if s.now {
		if err := outbox.DispatchPending(); err != nil {
			return fatal("Dispatch failed", err)
		}
	}

	return subcommands.ExitSuccess
}
