package hotkey

// Carbon virtual key codes (ANSI layout).
var carbonKeyCodes = map[string]uint32{
	"A": 0, "S": 1, "D": 2, "F": 3, "H": 4, "G": 5, "Z": 6, "X": 7, "C": 8, "V": 9,
	"B": 11, "Q": 12, "W": 13, "E": 14, "R": 15, "Y": 16, "T": 17,
	"1": 18, "2": 19, "3": 20, "4": 21, "6": 22, "5": 23, "9": 25, "7": 26, "8": 28, "0": 29,
	"O": 31, "U": 32, "I": 34, "P": 35, "L": 37, "J": 38, "K": 40, "N": 45, "M": 46,
	"Return": 36, "Tab": 48, "Space": 49, "Escape": 53,
	"F1": 122, "F2": 120, "F3": 99, "F4": 118, "F5": 96, "F6": 97,
	"F7": 98, "F8": 100, "F9": 101, "F10": 109, "F11": 103, "F12": 111,
}

// carbonChord maps a chord to a Carbon key code and modifier mask.
func carbonChord(c Chord) (code, mods uint32, ok bool) {
	code, ok = carbonKeyCodes[c.Key]
	if c.Mods&Super != 0 {
		mods |= 0x100 // cmdKey
	}
	if c.Mods&Shift != 0 {
		mods |= 0x200 // shiftKey
	}
	if c.Mods&Alt != 0 {
		mods |= 0x800 // optionKey
	}
	if c.Mods&Ctrl != 0 {
		mods |= 0x1000 // controlKey
	}
	return code, mods, ok
}

// x11Chord maps a chord to an X keysym name and modifier mask.
func x11Chord(c Chord) (keysym string, mods uint32) {
	switch {
	case c.Key == "Space":
		keysym = "space"
	case len(c.Key) == 1 && c.Key[0] >= 'A' && c.Key[0] <= 'Z':
		keysym = string(c.Key[0] + ('a' - 'A'))
	default:
		keysym = c.Key // digits, F-keys, Return, Tab, Escape share X names
	}
	if c.Mods&Shift != 0 {
		mods |= 1 << 0 // ShiftMask
	}
	if c.Mods&Ctrl != 0 {
		mods |= 1 << 2 // ControlMask
	}
	if c.Mods&Alt != 0 {
		mods |= 1 << 3 // Mod1Mask
	}
	if c.Mods&Super != 0 {
		mods |= 1 << 6 // Mod4Mask
	}
	return keysym, mods
}
