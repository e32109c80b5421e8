package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/owlmail/owlmail/pkg/config"
)

// Transport delivers a fully rendered, signed message.  Errors are
// classified by PermanentSendError; everything else is retryable.
type Transport interface {
	Send(from string, to []string, raw []byte) error
}

// SMTPTransport relays through the configured smarthost.
type SMTPTransport struct {
	addr     string
	startTLS bool
	username string
	password string
}

func NewSMTPTransport(cfg config.Outbound) *SMTPTransport {
	return &SMTPTransport{
		addr:     net.JoinHostPort(cfg.SMTPHost, strconv.Itoa(cfg.SMTPPort)),
		startTLS: cfg.StartTLS,
		username: cfg.SMTPUsername,
		password: cfg.SMTPPassword,
	}
}

func (t *SMTPTransport) Send(from string, to []string, raw []byte) error {
	var (
		client *smtp.Client
		err    error
	)
	if t.startTLS {
		client, err = smtp.DialStartTLS(t.addr, nil)
	} else {
		client, err = smtp.Dial(t.addr)
	}
	if err != nil {
		return fmt.Errorf("connecting to %s: %w", t.addr, err)
	}
	defer client.Close()

	if t.username != "" {
		if err := client.Auth(sasl.NewPlainClient("", t.username, t.password)); err != nil {
			return fmt.Errorf("authenticating: %w", err)
		}
	}
	if err := client.SendMail(from, to, bytes.NewReader(raw)); err != nil {
		return err
	}
	return client.Quit()
}

// PermanentSendError reports whether the transport rejected the
// message permanently (5xx).  Connection problems and 4xx responses
// are transient and stay on the retry schedule.
func PermanentSendError(err error) bool {
	var smtpErr *smtp.SMTPError
	if errors.As(err, &smtpErr) {
		return !smtpErr.Temporary()
	}
	return false
}
