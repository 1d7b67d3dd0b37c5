// Package input implements the InputRouter (§4.6): translation of
// client text verbs into side effects against the host X11 session via
// named external tools.
package input

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"streamdeskd/internal/types"
)

// pointerMask bit positions (§4.6).
const (
	maskLeft = 1 << iota
	maskMiddle
	maskRight
	maskBack
	maskForward
	_
	maskHScrollNeg
	maskHScrollPos
)

// Router owns the modifier/atomic-typing state machine and dispatches
// every client input verb to the injector.
type Router struct {
	injector types.EventInjector

	mu                sync.Mutex
	activeModifiers   map[string]bool
	atomicallyTyped   map[string]bool
	lastButtonMask    int
	lastResizeSuccess bool
	de                DesktopEnvironment
	dpiScale          float64

	clip   *ClipboardState
	upload *UploadState
}

// NewRouter builds a Router against the given injector, clipboard tool
// invoker, and upload root.
func NewRouter(injector types.EventInjector, clip *ClipboardState, upload *UploadState) *Router {
	return &Router{
		injector:        injector,
		activeModifiers: make(map[string]bool),
		atomicallyTyped: make(map[string]bool),
		dpiScale:        1.0,
		clip:            clip,
		upload:          upload,
	}
}

// SetDesktopEnvironment records the detected DE, used to pick the DPI tool
// chain on a subsequent "s,<dpi>" verb.
func (r *Router) SetDesktopEnvironment(de DesktopEnvironment) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.de = de
}

// SetDPI handles the "s,<dpi>" verb: picks the DE-specific tool chain and,
// on success, rescales the cursor proportionally (§4.6).
func (r *Router) SetDPI(dpi int) error {
	r.mu.Lock()
	de := r.de
	r.mu.Unlock()

	if err := SetDPI(de, dpi); err != nil {
		return err
	}

	r.mu.Lock()
	r.dpiScale = CursorScaleFor(dpi)
	r.mu.Unlock()
	return nil
}

// DPIScale returns the cursor-size scale factor from the last successful
// SetDPI call (1.0 if none has succeeded yet).
func (r *Router) DPIScale() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dpiScale
}

func isModifierKeysym(name string) bool {
	switch name {
	case "Shift_L", "Shift_R", "Control_L", "Control_R",
		"Alt_L", "Alt_R", "Super_L", "Super_R", "ISO_Level3_Shift":
		return true
	}
	return false
}

// KeyDown handles the "kd" verb.
func (r *Router) KeyDown(code, key string) error {
	name := keysymName(code, key)
	if name == "" {
		log.Warn().Str("code", code).Str("key", key).Msg("kd: unmapped key")
		return nil
	}

	r.mu.Lock()
	if isModifierKeysym(name) {
		r.activeModifiers[name] = true
		r.mu.Unlock()
		return r.injector.KeyEvent(name, true)
	}
	anyModifier := len(r.activeModifiers) > 0
	r.mu.Unlock()

	if !anyModifier {
		// The character to type is the client's key value when that is a
		// printable non-alpha character (keysym names such as "comma" are
		// not), else a single-character keysym name such as "1".
		typed := ""
		if isPrintableNonAlpha(key) {
			typed = key
		} else if isPrintableNonAlpha(name) {
			typed = name
		}
		if typed != "" {
			r.mu.Lock()
			r.atomicallyTyped[name] = true
			r.mu.Unlock()
			return r.injector.TypeText(typed)
		}
	}

	return r.injector.KeyEvent(name, true)
}

// KeyUp handles the "ku" verb. A keysym that was atomically typed on its
// matching keydown is a no-op here, per §4.6/§8's invariant.
func (r *Router) KeyUp(code, key string) error {
	name := keysymName(code, key)
	if name == "" {
		return nil
	}

	r.mu.Lock()
	if r.atomicallyTyped[name] {
		delete(r.atomicallyTyped, name)
		r.mu.Unlock()
		return nil
	}
	if isModifierKeysym(name) {
		delete(r.activeModifiers, name)
	}
	r.mu.Unlock()

	return r.injector.KeyEvent(name, false)
}

// KeyRepeat handles the "kr" verb: force-release the fixed modifier/
// stuck-key list.
func (r *Router) KeyRepeat() {
	r.mu.Lock()
	r.activeModifiers = make(map[string]bool)
	r.mu.Unlock()

	for _, name := range modifierKeysyms {
		if err := r.injector.KeyEvent(name, false); err != nil {
			log.Info().Str("keysym", name).Err(err).Msg("kr: release failed")
		}
	}
}

// Pointer handles the "m" verb: absolute move plus button-mask diff and
// scroll.
func (r *Router) Pointer(x, y, mask int, scroll float64) error {
	if err := r.injector.MouseMoveAbs(x, y); err != nil {
		return fmt.Errorf("input: mouse move failed: %w", err)
	}
	return r.applyMaskDiff(mask, scroll)
}

// PointerRelative handles the "m2" verb.
func (r *Router) PointerRelative(dx, dy int) error {
	return r.injector.MouseMoveRel(dx, dy)
}

func (r *Router) applyMaskDiff(mask int, scrollMagnitude float64) error {
	r.mu.Lock()
	prev := r.lastButtonMask
	r.lastButtonMask = mask
	r.mu.Unlock()

	diff := prev ^ mask

	if diff&maskLeft != 0 {
		if err := r.injector.MouseButton(1, mask&maskLeft != 0); err != nil {
			return err
		}
	}
	if diff&maskMiddle != 0 {
		if err := r.injector.MouseButton(2, mask&maskMiddle != 0); err != nil {
			return err
		}
	}
	if diff&maskRight != 0 {
		if err := r.injector.MouseButton(3, mask&maskRight != 0); err != nil {
			return err
		}
	}

	// Back/forward buttons only make sense when not also scrolling
	// (§4.6: "bit 3/4 with scroll_magnitude=0 is re-interpreted").
	if scrollMagnitude == 0 {
		if diff&maskBack != 0 && mask&maskBack != 0 {
			if err := r.injector.KeyEvent("Alt_L", true); err == nil {
				r.injector.KeyEvent("Left", true)
				r.injector.KeyEvent("Left", false)
				r.injector.KeyEvent("Alt_L", false)
			}
		}
		if diff&maskForward != 0 && mask&maskForward != 0 {
			if err := r.injector.KeyEvent("Alt_L", true); err == nil {
				r.injector.KeyEvent("Right", true)
				r.injector.KeyEvent("Right", false)
				r.injector.KeyEvent("Alt_L", false)
			}
		}
	}

	if mask&maskHScrollNeg != 0 || mask&maskHScrollPos != 0 {
		repeats := repeatCount(scrollMagnitude)
		dx := -1.0
		if mask&maskHScrollPos != 0 {
			dx = 1.0
		}
		for i := 0; i < repeats; i++ {
			r.injector.Scroll(dx, 0)
		}
	} else if scrollMagnitude != 0 {
		repeats := repeatCount(scrollMagnitude)
		for i := 0; i < repeats; i++ {
			r.injector.Scroll(0, scrollMagnitude)
		}
	}

	return nil
}

// repeatCount implements "Scroll events repeat max(1, magnitude) times".
func repeatCount(magnitude float64) int {
	m := int(magnitude)
	if m < 1 {
		m = 1
	}
	return m
}

// LastResizeSuccess reports whether the most recent resize request
// succeeded (§7 ResizeFailure).
func (r *Router) LastResizeSuccess() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastResizeSuccess
}

func (r *Router) setLastResizeSuccess(ok bool) {
	r.mu.Lock()
	r.lastResizeSuccess = ok
	r.mu.Unlock()
}

// Close releases the underlying injector.
func (r *Router) Close() {
	r.injector.Close()
}
