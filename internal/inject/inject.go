// Package inject delivers finished transcripts to the user.
package inject

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/atotto/clipboard"
)

// Sink receives transcript text.
type Sink interface {
	Deliver(ctx context.Context, text string) error
}

// ErrNoClipboard means the platform has no usable clipboard utility.
var ErrNoClipboard = errors.New("clipboard unsupported on this system")

// Clipboard puts transcripts on the system clipboard.
type Clipboard struct {
	write       func(string) error
	unsupported bool
}

func NewClipboard() *Clipboard {
	return &Clipboard{write: clipboard.WriteAll, unsupported: clipboard.Unsupported}
}

func (c *Clipboard) Deliver(ctx context.Context, text string) error {
	if c.unsupported {
		return ErrNoClipboard
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.write(text)
}

// Tidy trims whitespace and capitalises the first letter.
func Tidy(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}
	r, size := utf8.DecodeRuneInString(text)
	return string(unicode.ToUpper(r)) + text[size:]
}
