package pipeline

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/owlmail/owlmail/pkg/message"
)

// ErrInvalidDraft reports a draft that cannot be queued: missing
// front matter, missing recipients, or a malformed file name.
var ErrInvalidDraft = errors.New("invalid draft")

const frontMatterDelim = "---"

// Draft is an externally authored outbound message: a Markdown file
// named <id>.md with a YAML front matter header.
type Draft struct {
	ID      string
	Subject string   `yaml:"subject"`
	From    string   `yaml:"from"`
	To      []string `yaml:"to"`
	Cc      []string `yaml:"cc"`
	Body    string   `yaml:"-"`
}

// ParseDraft reads and validates a draft file.  The draft itself is
// never mutated; queueing copies its content into the outbox.
func ParseDraft(path string) (*Draft, error) {
	id := strings.TrimSuffix(filepath.Base(path), ".md")
	if !message.ValidID(id) {
		return nil, fmt.Errorf("%w: %s is not named by a message id", ErrInvalidDraft, filepath.Base(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	front, body, err := splitFrontMatter(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDraft, path, err)
	}
	d := &Draft{ID: id, Body: body}
	if err := yaml.Unmarshal(front, d); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidDraft, path, err)
	}
	if d.From == "" {
		return nil, fmt.Errorf("%w: %s: missing from", ErrInvalidDraft, path)
	}
	if len(d.To) == 0 {
		return nil, fmt.Errorf("%w: %s: no recipients", ErrInvalidDraft, path)
	}
	return d, nil
}

func splitFrontMatter(data []byte) (front []byte, body string, err error) {
	text := string(bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n")))
	if !strings.HasPrefix(text, frontMatterDelim+"\n") {
		return nil, "", errors.New("missing front matter")
	}
	rest := text[len(frontMatterDelim)+1:]
	end := strings.Index(rest, "\n"+frontMatterDelim)
	if end < 0 {
		return nil, "", errors.New("unterminated front matter")
	}
	front = []byte(rest[:end+1])
	body = rest[end+1+len(frontMatterDelim):]
	body = strings.TrimPrefix(body, "\n")
	return front, body, nil
}
