package inject

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClipboardDeliver(t *testing.T) {
	var got string
	c := &Clipboard{write: func(s string) error { got = s; return nil }}

	require.NoError(t, c.Deliver(context.Background(), "hello"))
	assert.Equal(t, "hello", got)
}

func TestClipboardDeliverErrors(t *testing.T) {
	boom := errors.New("xclip missing")
	c := &Clipboard{write: func(string) error { return boom }}
	assert.ErrorIs(t, c.Deliver(context.Background(), "x"), boom)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, c.Deliver(ctx, "x"), context.Canceled)

	c = &Clipboard{unsupported: true}
	assert.ErrorIs(t, c.Deliver(context.Background(), "x"), ErrNoClipboard)
}

func TestTidy(t *testing.T) {
	tests := map[string]string{
		"":               "",
		"   ":            "",
		" hello world ":  "Hello world",
		"Already fine.":  "Already fine.",
		"élan is a word": "Élan is a word",
		"123 go":         "123 go",
	}
	for in, want := range tests {
		assert.Equal(t, want, Tidy(in), in)
	}
}
