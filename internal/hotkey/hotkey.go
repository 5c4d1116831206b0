// Package hotkey registers a system-wide key chord that drives listening.
package hotkey

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsupported is returned by New on platforms without a backend.
var ErrUnsupported = errors.New("global hotkeys are not supported on this platform")

// Manager defines the interface for global hotkey management
type Manager interface {
	Register(accel string, callback func(pressed bool)) error
	Unregister(accel string) error
	Close() error
}

// Modifier is a set of modifier keys.
type Modifier uint8

const (
	Ctrl Modifier = 1 << iota
	Alt
	Shift
	Super
)

// Chord is a parsed accelerator such as "Ctrl+Shift+Space".
type Chord struct {
	Mods Modifier
	Key  string // canonical key name, see Parse
}

func (c Chord) String() string {
	var parts []string
	for _, m := range []struct {
		mod  Modifier
		name string
	}{{Ctrl, "Ctrl"}, {Alt, "Alt"}, {Shift, "Shift"}, {Super, "Super"}} {
		if c.Mods&m.mod != 0 {
			parts = append(parts, m.name)
		}
	}
	return strings.Join(append(parts, c.Key), "+")
}

var modifierNames = map[string]Modifier{
	"ctrl":    Ctrl,
	"control": Ctrl,
	"alt":     Alt,
	"option":  Alt,
	"shift":   Shift,
	"super":   Super,
	"cmd":     Super,
	"command": Super,
	"meta":    Super,
}

var namedKeys = map[string]string{
	"space":  "Space",
	"enter":  "Return",
	"return": "Return",
	"tab":    "Tab",
	"esc":    "Escape",
	"escape": "Escape",
}

// Parse reads an accelerator of '+'-separated modifiers followed by exactly
// one key. Keys are a letter, a digit, F1-F12, Space, Return, Tab or Escape.
// Names are case-insensitive.
func Parse(accel string) (Chord, error) {
	var c Chord
	parts := strings.Split(accel, "+")
	for i, raw := range parts {
		p := strings.TrimSpace(raw)
		if p == "" {
			return Chord{}, fmt.Errorf("hotkey %q: empty component", accel)
		}
		lower := strings.ToLower(p)

		if i < len(parts)-1 {
			mod, ok := modifierNames[lower]
			if !ok {
				return Chord{}, fmt.Errorf("hotkey %q: unknown modifier %q", accel, p)
			}
			c.Mods |= mod
			continue
		}

		key, err := canonicalKey(lower)
		if err != nil {
			return Chord{}, fmt.Errorf("hotkey %q: %w", accel, err)
		}
		c.Key = key
	}
	return c, nil
}

func canonicalKey(lower string) (string, error) {
	if k, ok := namedKeys[lower]; ok {
		return k, nil
	}
	if len(lower) == 1 {
		ch := lower[0]
		if ch >= 'a' && ch <= 'z' {
			return strings.ToUpper(lower), nil
		}
		if ch >= '0' && ch <= '9' {
			return lower, nil
		}
	}
	if len(lower) >= 2 && lower[0] == 'f' {
		n, err := strconv.Atoi(lower[1:])
		if err == nil && n >= 1 && n <= 12 && strconv.Itoa(n) == lower[1:] {
			return "F" + lower[1:], nil
		}
	}
	return "", fmt.Errorf("unsupported key %q", lower)
}
