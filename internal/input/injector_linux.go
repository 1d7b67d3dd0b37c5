//go:build linux

package input

import (
	"fmt"
	"os/exec"
	"strconv"

	"github.com/rs/zerolog/log"
)

// ToolInjector implements types.EventInjector by shelling out to named
// X11 input tools, per spec's "key/mouse/clipboard tools accessed by
// name" framing: the injection backend is an external collaborator, not
// something this module links against directly.
type ToolInjector struct {
	primaryKeyTool string
	fallbackKeyTool string
	typeTool        string
	mouseTool       string
}

// NewToolInjector returns an injector that sends key events with xdotool
// and falls back to ydotool whenever the xdotool invocation fails (a
// non-zero exit or a launch error). Typing and mouse events use xdotool
// only.
func NewToolInjector() *ToolInjector {
	return &ToolInjector{
		primaryKeyTool:  "xdotool",
		fallbackKeyTool: "ydotool",
		typeTool:        "xdotool",
		mouseTool:       "xdotool",
	}
}

func (t *ToolInjector) runOrFallback(primaryArgs, fallbackArgs []string) error {
	cmd := exec.Command(t.primaryKeyTool, primaryArgs...)
	if err := cmd.Run(); err != nil {
		log.Info().Err(err).Str("tool", t.primaryKeyTool).Msg("primary input tool failed, trying fallback")
		fb := exec.Command(t.fallbackKeyTool, fallbackArgs...)
		if err2 := fb.Run(); err2 != nil {
			return fmt.Errorf("input: both %s and %s failed: %w", t.primaryKeyTool, t.fallbackKeyTool, err2)
		}
	}
	return nil
}

// KeyEvent issues a keydown/keyup for a named X11 keysym.
func (t *ToolInjector) KeyEvent(keysymName string, down bool) error {
	verb := "keydown"
	fbVerb := "key"
	if !down {
		verb = "keyup"
	}
	return t.runOrFallback(
		[]string{verb, "--clearmodifiers", keysymName},
		[]string{fbVerb, keysymName},
	)
}

// TypeText spawns the atomic type-tool invocation (§4.6's "atomically
// typed keys" policy).
func (t *ToolInjector) TypeText(text string) error {
	cmd := exec.Command(t.typeTool, "type", "--clearmodifiers", "--", text)
	return cmd.Run()
}

// MouseMoveAbs positions the pointer absolutely.
func (t *ToolInjector) MouseMoveAbs(x, y int) error {
	cmd := exec.Command(t.mouseTool, "mousemove", strconv.Itoa(x), strconv.Itoa(y))
	return cmd.Run()
}

// MouseMoveRel moves the pointer relative to its current position.
func (t *ToolInjector) MouseMoveRel(dx, dy int) error {
	cmd := exec.Command(t.mouseTool, "mousemove_relative", "--", strconv.Itoa(dx), strconv.Itoa(dy))
	return cmd.Run()
}

// MouseButton presses or releases a numbered mouse button.
func (t *ToolInjector) MouseButton(button int, down bool) error {
	verb := "mousedown"
	if !down {
		verb = "mouseup"
	}
	cmd := exec.Command(t.mouseTool, verb, strconv.Itoa(button))
	return cmd.Run()
}

// Scroll emits click(s) on the wheel buttons (4/5 vertical, 6/7
// horizontal) for one scroll step; the caller repeats per §4.6.
func (t *ToolInjector) Scroll(dx, dy float64) error {
	button := 4
	if dy > 0 {
		button = 5
	}
	if dx != 0 {
		button = 6
		if dx > 0 {
			button = 7
		}
	}
	cmd := exec.Command(t.mouseTool, "click", strconv.Itoa(button))
	return cmd.Run()
}

// Close releases any held resources. The tool-shelling injector holds
// none.
func (t *ToolInjector) Close() {}
