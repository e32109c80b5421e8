// Package pipeline implements the inbound delivery path, the outbound
// retry state machine, and the periodic reconciliation sweeps.  All
// state lives in the mail root; a restart recovers everything from
// disk.
package pipeline

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/k3a/html2text"
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
	"golang.org/x/net/html"
)

// Style values are filtered upstream by the CSS property allowlist.
var anyValue = regexp.MustCompile(`.*`)

// Render modes.  Strict drops all inline styling; styled preserves
// inline CSS limited to a safe property set.
const (
	RenderModeStrict = "strict"
	RenderModeStyled = "styled"
)

// Renderer produces the hidden display artifacts stored next to each
// message: sanitized HTML and extracted plaintext.
type Renderer struct {
	mode   string
	policy *bluemonday.Policy
}

func NewRenderer(mode string) *Renderer {
	policy := bluemonday.UGCPolicy().AllowElements("center")
	if mode == RenderModeStyled {
		policy = policy.AllowAttrs("style").Matching(anyValue).Globally()
	}
	return &Renderer{mode: mode, policy: policy}
}

func (r *Renderer) Mode() string { return r.mode }

// SanitizeHTML scrubs untrusted message HTML for display.  In styled
// mode inline style attributes survive with their property set
// filtered; in strict mode bluemonday strips them entirely.
func (r *Renderer) SanitizeHTML(input string) (string, error) {
	if r.mode == RenderModeStyled {
		filtered, err := filterStyleAttrs(input)
		if err != nil {
			return "", fmt.Errorf("filtering styles: %w", err)
		}
		input = filtered
	}
	return r.policy.Sanitize(input), nil
}

// PlainText extracts readable text from sanitized HTML.
func (r *Renderer) PlainText(sanitizedHTML string) string {
	return html2text.HTML2Text(sanitizedHTML)
}

// TextToHTML wraps a text/plain body for HTML display.
func (r *Renderer) TextToHTML(text string) string {
	escaped := html.EscapeString(strings.ReplaceAll(text, "\r\n", "\n"))
	return "<pre>" + escaped + "</pre>"
}

// MarkdownHTML renders a draft body to HTML.
func (r *Renderer) MarkdownHTML(markdown []byte) string {
	return string(blackfriday.Run(markdown))
}

// filterStyleAttrs rewrites style attributes through the CSS property
// filter, removing the attribute when nothing safe remains.
func filterStyleAttrs(input string) (string, error) {
	b := &bytes.Buffer{}
	if err := styleTagFilter(b, strings.NewReader(input)); err != nil {
		return "", err
	}
	return b.String(), nil
}

func styleTagFilter(w io.Writer, r io.Reader) error {
	bw := bufio.NewWriter(w)
	b := make([]byte, 0, 256)
	z := html.NewTokenizer(r)
	for {
		b = b[:0]
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			err := z.Err()
			if err == io.EOF {
				return bw.Flush()
			}
			return err
		case html.StartTagToken, html.SelfClosingTagToken:
			name, hasAttr := z.TagName()
			if !hasAttr {
				if _, err := bw.Write(z.Raw()); err != nil {
					return err
				}
				continue
			}
			b = append(b, '<')
			b = append(b, name...)
			for {
				key, val, more := z.TagAttr()
				strval := string(val)
				style := false
				if strings.ToLower(string(key)) == "style" {
					style = true
					strval = sanitizeStyle(strval)
				}
				if !style || strval != "" {
					b = append(b, ' ')
					b = append(b, key...)
					b = append(b, '=', '"')
					b = append(b, []byte(html.EscapeString(strval))...)
					b = append(b, '"')
				}
				if !more {
					break
				}
			}
			if tt == html.SelfClosingTagToken {
				b = append(b, '/')
			}
			if _, err := bw.Write(append(b, '>')); err != nil {
				return err
			}
		default:
			if _, err := bw.Write(z.Raw()); err != nil {
				return err
			}
		}
	}
}
