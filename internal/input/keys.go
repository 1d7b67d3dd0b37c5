package input

import "strings"

// keysymName resolves a client keyboard event's code/key pair to an X11
// keysym *name* string, suitable for passing to a named injection tool
// (xdotool key names, not numeric keysyms — the tool owns that mapping).
// Adapted from the host's own XTest keycode tables, re-expressed as
// names since the injection backend is invoked by name, not linked.
func keysymName(code, key string) string {
	if name, ok := codeNameMap[code]; ok {
		return name
	}
	if len(key) == 1 {
		return key
	}
	if name, ok := keyNameMap[strings.ToLower(key)]; ok {
		return name
	}
	return ""
}

var codeNameMap = map[string]string{
	"Backspace":    "BackSpace",
	"Tab":          "Tab",
	"Enter":        "Return",
	"NumpadEnter":  "KP_Enter",
	"Escape":       "Escape",
	"Delete":       "Delete",
	"Home":         "Home",
	"End":          "End",
	"PageUp":       "Page_Up",
	"PageDown":     "Page_Down",
	"ArrowLeft":    "Left",
	"ArrowUp":      "Up",
	"ArrowRight":   "Right",
	"ArrowDown":    "Down",
	"Insert":       "Insert",
	"ShiftLeft":    "Shift_L",
	"ShiftRight":   "Shift_R",
	"ControlLeft":  "Control_L",
	"ControlRight": "Control_R",
	"CapsLock":     "Caps_Lock",
	"AltLeft":      "Alt_L",
	"AltRight":     "Alt_R",
	"AltGraph":     "ISO_Level3_Shift",
	"MetaLeft":     "Super_L",
	"MetaRight":    "Super_R",
	"Space":        "space",
	"F1":           "F1", "F2": "F2", "F3": "F3", "F4": "F4",
	"F5": "F5", "F6": "F6", "F7": "F7", "F8": "F8",
	"F9": "F9", "F10": "F10", "F11": "F11", "F12": "F12",
	"PrintScreen": "Print",
	"ScrollLock":  "Scroll_Lock",
	"Pause":       "Pause",
	"NumLock":     "Num_Lock",
	"ContextMenu": "Menu",

	"KeyA": "a", "KeyB": "b", "KeyC": "c", "KeyD": "d",
	"KeyE": "e", "KeyF": "f", "KeyG": "g", "KeyH": "h",
	"KeyI": "i", "KeyJ": "j", "KeyK": "k", "KeyL": "l",
	"KeyM": "m", "KeyN": "n", "KeyO": "o", "KeyP": "p",
	"KeyQ": "q", "KeyR": "r", "KeyS": "s", "KeyT": "t",
	"KeyU": "u", "KeyV": "v", "KeyW": "w", "KeyX": "x",
	"KeyY": "y", "KeyZ": "z",

	"Digit0": "0", "Digit1": "1", "Digit2": "2", "Digit3": "3",
	"Digit4": "4", "Digit5": "5", "Digit6": "6", "Digit7": "7",
	"Digit8": "8", "Digit9": "9",

	"Minus": "minus", "Equal": "equal",
	"BracketLeft": "bracketleft", "BracketRight": "bracketright",
	"Backslash": "backslash", "Semicolon": "semicolon",
	"Quote": "apostrophe", "Backquote": "grave",
	"Comma": "comma", "Period": "period", "Slash": "slash",
}

var keyNameMap = map[string]string{
	"backspace":  "BackSpace",
	"tab":        "Tab",
	"enter":      "Return",
	"escape":     "Escape",
	"delete":     "Delete",
	"home":       "Home",
	"end":        "End",
	"pageup":     "Page_Up",
	"pagedown":   "Page_Down",
	"arrowleft":  "Left",
	"arrowup":    "Up",
	"arrowright": "Right",
	"arrowdown":  "Down",
	"insert":     "Insert",
	"shift":      "Shift_L",
	"control":    "Control_L",
	"alt":        "Alt_L",
	"meta":       "Super_L",
	" ":          "space",
}

// modifierKeysyms lists every keysym name the "kr" verb force-releases,
// per §4.6: a fixed list of modifiers and common "stuck" keys.
var modifierKeysyms = []string{
	"Shift_L", "Shift_R", "Control_L", "Control_R",
	"Alt_L", "Alt_R", "Super_L", "Super_R", "ISO_Level3_Shift",
	"Caps_Lock",
}

// isPrintableNonAlpha reports whether keysymName names a single
// printable character that is not an ASCII letter — the class of key
// that §4.6 routes through atomic typing instead of keydown/keyup.
func isPrintableNonAlpha(name string) bool {
	if len(name) != 1 {
		return false
	}
	r := rune(name[0])
	if r < 0x20 || r > 0x7e {
		return false
	}
	if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
		return false
	}
	return true
}
