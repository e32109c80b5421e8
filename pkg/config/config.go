// Package config processes configuration from the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	prefix      = "owlmail"
	tableFormat = `Owlmail is configured via the environment. The following environment
variables can be used:

KEY	DEFAULT	REQUIRED	DESCRIPTION
{{range .}}{{usage_key .}}	{{usage_default .}}	{{usage_required .}}	{{usage_description .}}
{{end}}`
)

var (
	// Version of this build, set by main
	Version = ""

	// BuildDate for this build, set by main
	BuildDate = ""
)

// Root wraps all other configurations.
type Root struct {
	MailRoot string `required:"true" default:"/var/mail/owlmail" desc:"Mail root directory"`
	LogLevel string `required:"true" default:"info" desc:"debug, info, warn, or error"`
	Address  Address
	Inbound  Inbound
	Outbound Outbound
	Daemon   Daemon
}

// Address contains sender canonicalization policy.
type Address struct {
	KeepPlusTags bool `default:"false" desc:"Keep +tag suffix in sender folders"`
}

// Inbound contains inbound pipeline configuration.
type Inbound struct {
	MaxSizeQuarantine string `required:"true" default:"25M" desc:"Quarantine message size cap"`
	MaxSizeApproved   string `required:"true" default:"50M" desc:"Approved list message size cap"`
	RenderMode        string `required:"true" default:"strict" desc:"strict or styled HTML rendering"`
}

// Outbound contains outbound pipeline configuration.
type Outbound struct {
	SMTPHost     string   `required:"true" default:"127.0.0.1" desc:"Relay SMTP host"`
	SMTPPort     int      `required:"true" default:"25" desc:"Relay SMTP port"`
	SMTPUsername string   `desc:"Relay AUTH username"`
	SMTPPassword string   `desc:"Relay AUTH password"`
	StartTLS     bool     `default:"true" desc:"Use STARTTLS with the relay"`
	DKIMSelector string   `required:"true" default:"mail" desc:"DKIM selector"`
	DKIMDomain   string   `required:"true" default:"" desc:"DKIM signing domain"`
	RetryBackoff []string `required:"true" default:"1m,5m,15m,1h" desc:"Retry backoff schedule"`
}

// Daemon contains orchestrator configuration.
type Daemon struct {
	ReconcileInterval time.Duration `required:"true" default:"5m" desc:"Retention and retry sweep interval"`
	DebounceWindow    time.Duration `required:"true" default:"500ms" desc:"Watch event coalescing window"`
	MaxWorkers        int           `required:"true" default:"4" desc:"Pipeline worker pool size"`
	ShutdownGrace     time.Duration `required:"true" default:"15s" desc:"Grace period for in-flight work"`
}

// Process loads and parses configuration from the environment.
func Process() (*Root, error) {
	c := &Root{}
	if err := envconfig.Process(prefix, c); err != nil {
		return nil, err
	}
	if _, err := c.BackoffSchedule(); err != nil {
		return nil, err
	}
	if _, err := ParseSize(c.Inbound.MaxSizeQuarantine); err != nil {
		return nil, fmt.Errorf("max size quarantine: %w", err)
	}
	if _, err := ParseSize(c.Inbound.MaxSizeApproved); err != nil {
		return nil, fmt.Errorf("max size approved: %w", err)
	}
	return c, nil
}

// BackoffSchedule parses the configured retry delays.
func (r *Root) BackoffSchedule() ([]time.Duration, error) {
	out := make([]time.Duration, 0, len(r.Outbound.RetryBackoff))
	for _, s := range r.Outbound.RetryBackoff {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("retry backoff entry %q: %w", s, err)
		}
		out = append(out, d)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("retry backoff schedule is empty")
	}
	return out, nil
}

// ParseSize converts human readable byte sizes such as "25M" or "1KiB"
// into raw bytes.  Suffixes are interpreted using powers of two.
func ParseSize(input string) (int64, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return 0, fmt.Errorf("size value is empty")
	}
	split := len(trimmed)
	for i, ch := range trimmed {
		if ch < '0' || ch > '9' {
			split = i
			break
		}
	}
	digits, suffix := trimmed[:split], strings.ToLower(strings.TrimSpace(trimmed[split:]))
	if digits == "" {
		return 0, fmt.Errorf("size value %q is missing digits", input)
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid size value %q: %w", input, err)
	}
	var mult int64
	switch suffix {
	case "", "b":
		mult = 1
	case "k", "kb", "kib":
		mult = 1 << 10
	case "m", "mb", "mib":
		mult = 1 << 20
	case "g", "gb", "gib":
		mult = 1 << 30
	default:
		return 0, fmt.Errorf("unsupported size suffix %q", suffix)
	}
	if value > (1<<62)/mult {
		return 0, fmt.Errorf("size value %q overflows", input)
	}
	return value * mult, nil
}

// Usage prints out the envconfig usage to Stderr.
func Usage() {
	tabs := tabwriter.NewWriter(os.Stderr, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef(prefix, &Root{}, tabs, tableFormat); err != nil {
		log.Fatalf("Unable to parse env config: %v", err)
	}
	tabs.Flush()
}
