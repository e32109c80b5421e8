package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	netmail "net/mail"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gomessage "github.com/emersion/go-message"
	"github.com/rs/zerolog/log"

	"github.com/owlmail/owlmail/pkg/config"
	"github.com/owlmail/owlmail/pkg/message"
	"github.com/owlmail/owlmail/pkg/policy"
	"github.com/owlmail/owlmail/pkg/storage"
)

// ErrNotFailed reports a resend request for an entry that is not in
// the failed state.
var ErrNotFailed = errors.New("outbox entry is not failed")

// Outbox drives drafts through render, sign, queue, and the retry
// state machine to sent or failed.  Every transition is a durable
// sidecar mutation, so the machine survives restarts.
type Outbox struct {
	layout    *storage.Layout
	rules     *policy.Loader
	render    *Renderer
	signer    *Signer
	transport Transport
	backoff   []time.Duration
	domain    string
	history   bool

	entryLocks sync.Map // id -> *sync.Mutex
}

// NewOutbox builds the outbound pipeline.  The signer may be nil when
// no DKIM domain is configured; messages then go out unsigned.
func NewOutbox(layout *storage.Layout, rules *policy.Loader, cfg *config.Root, signer *Signer, transport Transport) (*Outbox, error) {
	backoff, err := cfg.BackoffSchedule()
	if err != nil {
		return nil, err
	}
	return &Outbox{
		layout:    layout,
		rules:     rules,
		render:    NewRenderer(cfg.Inbound.RenderMode),
		signer:    signer,
		transport: transport,
		backoff:   backoff,
		domain:    cfg.Outbound.DKIMDomain,
		history:   cfg.LogLevel == "debug",
	}, nil
}

// note appends a sidecar audit line, only when verbose logging is on.
func (o *Outbox) note(sc *message.Sidecar, event string) {
	if o.history {
		sc.AddHistory(event)
	}
}

// QueueDraft renders, signs, and queues one draft.  The draft file is
// read but never modified.  Render and signing failures surface
// immediately; nothing is written to the outbox on error.
func (o *Outbox) QueueDraft(draftPath string) (string, error) {
	draft, err := ParseDraft(draftPath)
	if err != nil {
		return "", err
	}
	settings := o.recipientSettings(draft.To[0])

	raw, err := o.assemble(draft, settings)
	if err != nil {
		return "", fmt.Errorf("rendering draft %s: %w", draft.ID, err)
	}
	if o.signer != nil {
		if raw, err = o.signer.Sign(raw); err != nil {
			return "", err
		}
	}

	if err := os.MkdirAll(o.layout.Outbox(), 0o770); err != nil {
		return "", err
	}
	emlName := message.OutboxFilename(draft.ID)
	emlPath := filepath.Join(o.layout.Outbox(), emlName)
	if err := storage.WriteAtomic(emlPath, raw); err != nil {
		return "", err
	}

	sc := message.New(draft.ID, emlName, "outbox", o.render.Mode(), "", raw, message.HeadersCache{
		From:    draft.From,
		To:      draft.To,
		Cc:      draft.Cc,
		Subject: draft.Subject,
		Date:    time.Now().UTC().Format(time.RFC1123Z),
	})
	now := time.Now().UTC().Truncate(time.Second)
	ob := sc.OutboundState()
	ob.NextAttemptAt = &now
	o.note(sc, "queued from draft "+filepath.Base(draftPath))
	if err := sc.Save(filepath.Join(o.layout.Outbox(), message.OutboxSidecarFilename(draft.ID))); err != nil {
		return "", err
	}

	log.Info().Str("module", "outbound").Str("id", draft.ID).
		Str("to", strings.Join(draft.To, ", ")).Msg("Draft queued")
	return emlPath, nil
}

// DispatchPending attempts every queued entry whose retry time has
// arrived.  One entry's failure never blocks the rest of the batch.
func (o *Outbox) DispatchPending() error {
	entries, err := os.ReadDir(o.layout.Outbox())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	now := time.Now().UTC()
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".yml") {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "."), ".yml")
		if err := o.dispatchEntry(id, now); err != nil {
			log.Error().Str("module", "outbound").Str("id", id).Err(err).
				Msg("Outbox entry dispatch failed")
		}
	}
	return nil
}

func (o *Outbox) dispatchEntry(id string, now time.Time) error {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sidecarPath := filepath.Join(o.layout.Outbox(), message.OutboxSidecarFilename(id))
	sc, err := message.Load(sidecarPath)
	if err != nil {
		return err
	}
	ob := sc.OutboundState()
	if ob.Status != message.StatusPending {
		return nil
	}
	if ob.NextAttemptAt != nil && ob.NextAttemptAt.After(now) {
		return nil
	}

	emlPath := filepath.Join(o.layout.Outbox(), sc.Filename)
	raw, err := os.ReadFile(emlPath)
	if err != nil {
		return err
	}
	if err := sc.VerifyHash(raw); err != nil {
		return err
	}

	from, err := envelopeAddress(sc.HeadersCache.From)
	if err != nil {
		return err
	}
	to, err := envelopeAddresses(append(sc.HeadersCache.To, sc.HeadersCache.Cc...))
	if err != nil {
		return err
	}

	sendErr := o.transport.Send(from, to, raw)
	switch {
	case sendErr == nil:
		return o.commitSent(sc, sidecarPath, emlPath)
	case PermanentSendError(sendErr):
		ob.Attempts++
		ob.Status = message.StatusFailed
		ob.LastError = sendErr.Error()
		ob.NextAttemptAt = nil
		sc.Touch()
		o.note(sc, "permanent failure: "+sendErr.Error())
		if err := sc.Save(sidecarPath); err != nil {
			return err
		}
		log.Warn().Str("module", "outbound").Str("id", sc.ID).Err(sendErr).
			Int("attempts", ob.Attempts).Msg("Delivery failed permanently")
		return nil
	default:
		ob.Attempts++
		ob.LastError = sendErr.Error()
		next := now.Add(o.backoffDelay(ob.Attempts)).Truncate(time.Second)
		ob.NextAttemptAt = &next
		sc.Touch()
		if err := sc.Save(sidecarPath); err != nil {
			return err
		}
		log.Info().Str("module", "outbound").Str("id", sc.ID).Err(sendErr).
			Int("attempts", ob.Attempts).Time("next", next).Msg("Delivery attempt failed")
		return nil
	}
}

// commitSent records success and moves the entry into sent/.  The
// status flips to sent before the move so a crash mid-commit cannot
// trigger a duplicate send; the reconciler reports any half-moved
// entry it finds.
func (o *Outbox) commitSent(sc *message.Sidecar, sidecarPath, emlPath string) error {
	ob := sc.OutboundState()
	ob.Attempts++
	ob.Status = message.StatusSent
	ob.LastError = ""
	ob.NextAttemptAt = nil
	sc.Touch()
	o.note(sc, "sent")
	if err := sc.Save(sidecarPath); err != nil {
		return err
	}
	if err := os.MkdirAll(o.layout.Sent(), 0o770); err != nil {
		return err
	}
	if err := os.Rename(emlPath, filepath.Join(o.layout.Sent(), filepath.Base(emlPath))); err != nil {
		return err
	}
	if err := os.Rename(sidecarPath, filepath.Join(o.layout.Sent(), filepath.Base(sidecarPath))); err != nil {
		return err
	}
	log.Info().Str("module", "outbound").Str("id", sc.ID).
		Int("attempts", ob.Attempts).Msg("Message sent")
	return nil
}

// Resend re-queues a failed entry for the next dispatch cycle.
// Attempt history is preserved.
func (o *Outbox) Resend(id string) error {
	lock := o.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sidecarPath := filepath.Join(o.layout.Outbox(), message.OutboxSidecarFilename(id))
	sc, err := message.Load(sidecarPath)
	if err != nil {
		return err
	}
	ob := sc.OutboundState()
	if ob.Status != message.StatusFailed {
		return fmt.Errorf("%w: %s is %s", ErrNotFailed, id, ob.Status)
	}
	now := time.Now().UTC().Truncate(time.Second)
	ob.Status = message.StatusPending
	ob.LastError = ""
	ob.NextAttemptAt = &now
	sc.Touch()
	o.note(sc, "manual resend")
	return sc.Save(sidecarPath)
}

// backoffDelay returns the wait before the next attempt after the
// given number of failures.  Past the end of the schedule the last
// interval repeats, so retries continue indefinitely.
func (o *Outbox) backoffDelay(attempts int) time.Duration {
	idx := attempts - 1
	if idx >= len(o.backoff) {
		idx = len(o.backoff) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return o.backoff[idx]
}

func (o *Outbox) lockFor(id string) *sync.Mutex {
	actual, _ := o.entryLocks.LoadOrStore(id, &sync.Mutex{})
	return actual.(*sync.Mutex)
}

// recipientSettings resolves the first recipient through the routing
// rules so composition honors the destination list's body_format,
// signature, and reply_to.
func (o *Outbox) recipientSettings(recipient string) policy.Settings {
	addr, err := (&policy.Addressing{}).Canonicalize(recipient)
	if err != nil {
		return policy.DefaultSettings(policy.ListAccepted)
	}
	rules := o.rules.Current()
	list, err := rules.Classify(addr)
	if err != nil {
		return policy.DefaultSettings(policy.ListAccepted)
	}
	switch list {
	case policy.ListSpam:
		return rules.Spam.Settings
	case policy.ListBanned:
		return rules.Banned.Settings
	case policy.ListAccepted:
		return rules.Accepted.Settings
	}
	return policy.DefaultSettings(policy.ListAccepted)
}

// assemble renders the draft body per the destination body format and
// wraps it in a MIME message.
func (o *Outbox) assemble(draft *Draft, settings policy.Settings) ([]byte, error) {
	body := draft.Body
	if settings.Signature != "" {
		body = strings.TrimRight(body, "\n") + "\n\n-- \n" + settings.Signature + "\n"
	}
	htmlBody := o.render.MarkdownHTML([]byte(body))
	plainBody := o.render.PlainText(htmlBody)
	if strings.TrimSpace(plainBody) == "" {
		plainBody = body
	}

	var buf bytes.Buffer
	var header gomessage.Header
	header.Set("From", draft.From)
	header.Set("To", strings.Join(draft.To, ", "))
	if len(draft.Cc) > 0 {
		header.Set("Cc", strings.Join(draft.Cc, ", "))
	}
	if settings.ReplyTo != "" {
		header.Set("Reply-To", settings.ReplyTo)
	}
	header.Set("Subject", draft.Subject)
	header.Set("Date", time.Now().UTC().Format(time.RFC1123Z))
	header.Set("Message-ID", fmt.Sprintf("<%s@%s>", draft.ID, o.messageIDHost(draft.From)))
	header.Set("MIME-Version", "1.0")

	switch settings.BodyFormat {
	case "plain":
		header.Set("Content-Type", "text/plain; charset=utf-8")
		w, err := gomessage.CreateWriter(&buf, header)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(plainBody)); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case "html":
		header.Set("Content-Type", "text/html; charset=utf-8")
		w, err := gomessage.CreateWriter(&buf, header)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(htmlBody)); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	default:
		header.Set("Content-Type", "multipart/alternative")
		w, err := gomessage.CreateWriter(&buf, header)
		if err != nil {
			return nil, err
		}
		var plainHeader gomessage.Header
		plainHeader.Set("Content-Type", "text/plain; charset=utf-8")
		pw, err := w.CreatePart(plainHeader)
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write([]byte(plainBody)); err != nil {
			return nil, err
		}
		pw.Close()
		var htmlHeader gomessage.Header
		htmlHeader.Set("Content-Type", "text/html; charset=utf-8")
		hw, err := w.CreatePart(htmlHeader)
		if err != nil {
			return nil, err
		}
		if _, err := hw.Write([]byte(htmlBody)); err != nil {
			return nil, err
		}
		hw.Close()
		if err := w.Close(); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func (o *Outbox) messageIDHost(from string) string {
	if o.domain != "" {
		return o.domain
	}
	if addr, err := netmail.ParseAddress(from); err == nil {
		if _, host, ok := strings.Cut(addr.Address, "@"); ok {
			return host
		}
	}
	return "localhost"
}

func envelopeAddress(display string) (string, error) {
	addr, err := netmail.ParseAddress(display)
	if err != nil {
		return "", fmt.Errorf("parsing address %q: %w", display, err)
	}
	return addr.Address, nil
}

func envelopeAddresses(displays []string) ([]string, error) {
	out := make([]string, 0, len(displays))
	for _, display := range displays {
		addr, err := envelopeAddress(display)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
