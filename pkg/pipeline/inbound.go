package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/jhillyerd/enmime/v2"
	"github.com/rs/zerolog/log"

	"github.com/owlmail/owlmail/pkg/config"
	"github.com/owlmail/owlmail/pkg/message"
	"github.com/owlmail/owlmail/pkg/policy"
	"github.com/owlmail/owlmail/pkg/storage"
	"github.com/owlmail/owlmail/pkg/stringutil"
)

// ErrTooLarge reports a message over the size cap of its destination.
// Oversize is a permanent rejection, never retried.
var ErrTooLarge = errors.New("message exceeds size cap")

// Inbound turns raw message bytes from the SMTP front door into
// durable on-disk state: routed .eml, sidecar, render artifacts, and
// content-addressed attachments.
type Inbound struct {
	layout     *storage.Layout
	rules      *policy.Loader
	addressing policy.Addressing
	render     *Renderer
	locks      *storage.HashLock

	quarantineCap    int64
	approvedCap      int64
	quarantineCapStr string
	approvedCapStr   string
}

// NewInbound builds the inbound pipeline from processed configuration.
func NewInbound(layout *storage.Layout, rules *policy.Loader, cfg *config.Root) (*Inbound, error) {
	quarantineCap, err := config.ParseSize(cfg.Inbound.MaxSizeQuarantine)
	if err != nil {
		return nil, fmt.Errorf("quarantine size cap: %w", err)
	}
	approvedCap, err := config.ParseSize(cfg.Inbound.MaxSizeApproved)
	if err != nil {
		return nil, fmt.Errorf("approved size cap: %w", err)
	}
	return &Inbound{
		layout:           layout,
		rules:            rules,
		addressing:       policy.Addressing{KeepPlusTags: cfg.Address.KeepPlusTags},
		render:           NewRenderer(cfg.Inbound.RenderMode),
		locks:            &storage.HashLock{},
		quarantineCap:    quarantineCap,
		approvedCap:      approvedCap,
		quarantineCapStr: cfg.Inbound.MaxSizeQuarantine,
		approvedCapStr:   cfg.Inbound.MaxSizeApproved,
	}, nil
}

// Deliver routes and stores one inbound message.  The returned path is
// the stored .eml.  Invalid input and oversize messages error without
// persisting anything.
func (p *Inbound) Deliver(sender string, raw []byte) (string, error) {
	addr, err := p.addressing.Canonicalize(sender)
	if err != nil {
		return "", err
	}
	list, err := p.rules.Current().Classify(addr)
	if err != nil {
		return "", err
	}
	if err := p.checkSize(list, int64(len(raw))); err != nil {
		return "", err
	}

	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parsing message: %w", err)
	}
	subject := env.GetHeader("Subject")
	id := message.NewID()

	folder := addr.Canonical
	lock := p.locks.ForFolder(string(list) + "/" + folder)
	lock.Lock()
	defer lock.Unlock()

	dir := p.layout.Sender(string(list), folder)
	if err := os.MkdirAll(dir, 0o770); err != nil {
		return "", err
	}

	emlName := message.Filename(subject, id)
	emlPath := filepath.Join(dir, emlName)
	if err := storage.WriteAtomic(emlPath, raw); err != nil {
		return "", err
	}

	htmlBody, err := p.renderBody(env)
	if err != nil {
		return "", err
	}
	plainBody := p.render.PlainText(htmlBody)
	if strings.TrimSpace(plainBody) == "" {
		plainBody = env.Text
	}

	htmlName := message.HTMLFilename(subject, id)
	txtName := message.TextFilename(subject, id)
	sc := message.New(id, emlName, string(list), p.render.Mode(), htmlName, raw, headersFrom(env, addr, subject))
	sc.Render.Plain = txtName
	sc.Spam = spamSummary(env)

	// Quarantined mail is kept whole; attachments are only extracted
	// once a message lands on a rule-bearing list.
	if list != policy.ListQuarantine {
		store := storage.NewAttachmentStore(p.layout.Attachments(string(list)))
		for _, part := range env.Attachments {
			name := part.FileName
			if name == "" {
				name = "attachment"
			}
			stored, err := store.Put(name, part.Content)
			if err != nil {
				return "", fmt.Errorf("storing attachment %q: %w", name, err)
			}
			sc.AddAttachment(stored.SHA256, name)
		}
	}

	if err := sc.Save(filepath.Join(dir, message.SidecarFilename(subject, id))); err != nil {
		return "", err
	}
	if err := storage.WriteAtomic(filepath.Join(dir, htmlName), []byte(htmlBody)); err != nil {
		return "", err
	}
	if err := storage.WriteAtomic(filepath.Join(dir, txtName), []byte(plainBody)); err != nil {
		return "", err
	}

	log.Info().Str("module", "inbound").Str("list", string(list)).
		Str("sender", folder).Str("id", id).Msg("Message delivered")
	return emlPath, nil
}

func (p *Inbound) checkSize(list policy.List, size int64) error {
	limit, configured := p.approvedCap, p.approvedCapStr
	if list == policy.ListQuarantine {
		limit, configured = p.quarantineCap, p.quarantineCapStr
	}
	if size > limit {
		return fmt.Errorf("%w: %d bytes over %s limit (%s)", ErrTooLarge, size, list, configured)
	}
	return nil
}

func (p *Inbound) renderBody(env *enmime.Envelope) (string, error) {
	input := env.HTML
	if input == "" {
		input = p.render.TextToHTML(env.Text)
	}
	return p.render.SanitizeHTML(input)
}

func headersFrom(env *enmime.Envelope, addr policy.Address, subject string) message.HeadersCache {
	h := message.HeadersCache{
		From:    addr.String(),
		Subject: subject,
		Date:    env.GetHeader("Date"),
	}
	if to, err := env.AddressList("To"); err == nil {
		h.To = stringutil.StringAddressList(to)
	}
	if cc, err := env.AddressList("Cc"); err == nil {
		h.Cc = stringutil.StringAddressList(cc)
	}
	return h
}

// spamSummary reads the content-score annotation the SMTP front door
// may have stamped on the message.  Absent or unparseable scores leave
// the sidecar block out entirely.
func spamSummary(env *enmime.Envelope) *message.SpamSummary {
	score := env.GetHeader("X-Spam-Score")
	if score == "" {
		score = env.GetHeader("X-Rspamd-Score")
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(score), 64)
	if err != nil {
		return nil
	}
	summary := &message.SpamSummary{Score: value}
	symbols := env.GetHeader("X-Spam-Symbols")
	if symbols == "" {
		symbols = env.GetHeader("X-Rspamd-Report")
	}
	for _, sym := range strings.Split(symbols, ",") {
		if sym = strings.TrimSpace(sym); sym != "" {
			summary.Symbols = append(summary.Symbols, sym)
		}
	}
	return summary
}
