package pipeline

import (
	"bytes"
	"strings"

	"github.com/gorilla/css/scanner"
)

// Layout and typography properties that survive styled rendering.
// Anything else, notably url() carriers like background-image, is
// dropped.
var allowedProperties = map[string]struct{}{
	"align":            {},
	"background-color": {},
	"border":           {},
	"border-bottom":    {},
	"border-left":      {},
	"border-radius":    {},
	"border-right":     {},
	"border-top":       {},
	"box-sizing":       {},
	"clear":            {},
	"color":            {},
	"display":          {},
	"font-family":      {},
	"font-size":        {},
	"font-weight":      {},
	"height":           {},
	"line-height":      {},
	"margin":           {},
	"margin-bottom":    {},
	"margin-left":      {},
	"margin-right":     {},
	"margin-top":       {},
	"max-height":       {},
	"max-width":        {},
	"overflow":         {},
	"padding":          {},
	"padding-bottom":   {},
	"padding-left":     {},
	"padding-right":    {},
	"padding-top":      {},
	"table-layout":     {},
	"text-align":       {},
	"text-decoration":  {},
	"vertical-align":   {},
	"width":            {},
	"word-break":       {},
}

type styleState func(b *bytes.Buffer, t *scanner.Token) styleState

// sanitizeStyle filters an inline style value down to the allowed
// property set.  A scan error rejects the whole value.
func sanitizeStyle(input string) string {
	b := &bytes.Buffer{}
	scan := scanner.New(input)
	state := styleStart
	for {
		t := scan.Next()
		if t.Type == scanner.TokenEOF {
			return b.String()
		}
		if t.Type == scanner.TokenError {
			return ""
		}
		state = state(b, t)
		if state == nil {
			return ""
		}
	}
}

func styleStart(b *bytes.Buffer, t *scanner.Token) styleState {
	switch t.Type {
	case scanner.TokenIdent:
		if _, ok := allowedProperties[strings.ToLower(t.Value)]; !ok {
			return styleEat
		}
		b.WriteString(t.Value)
		return styleValid
	case scanner.TokenS:
		return styleStart
	}
	return styleEat
}

func styleEat(b *bytes.Buffer, t *scanner.Token) styleState {
	if t.Type == scanner.TokenChar && t.Value == ";" {
		return styleStart
	}
	return styleEat
}

func styleValid(b *bytes.Buffer, t *scanner.Token) styleState {
	state := styleValid
	if t.Type == scanner.TokenChar && t.Value == ";" {
		state = styleStart
	}
	b.WriteString(t.Value)
	return state
}
