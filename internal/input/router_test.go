package input

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInjector struct {
	keyEvents  []string
	typedText  []string
	moves      [][2]int
	buttons    []int
}

func (f *fakeInjector) KeyEvent(name string, down bool) error {
	suffix := "up"
	if down {
		suffix = "down"
	}
	f.keyEvents = append(f.keyEvents, name+":"+suffix)
	return nil
}
func (f *fakeInjector) TypeText(text string) error {
	f.typedText = append(f.typedText, text)
	return nil
}
func (f *fakeInjector) MouseMoveAbs(x, y int) error { f.moves = append(f.moves, [2]int{x, y}); return nil }
func (f *fakeInjector) MouseMoveRel(dx, dy int) error { return nil }
func (f *fakeInjector) MouseButton(button int, down bool) error { f.buttons = append(f.buttons, button); return nil }
func (f *fakeInjector) Scroll(dx, dy float64) error { return nil }
func (f *fakeInjector) Close()                      {}

func TestKeyDownPrintableNonAlphaTypesAtomically(t *testing.T) {
	fi := &fakeInjector{}
	r := NewRouter(fi, nil, nil)

	err := r.KeyDown("Comma", ",")
	require.NoError(t, err)

	assert.Equal(t, []string{","}, fi.typedText)
	assert.Empty(t, fi.keyEvents)
}

func TestKeyUpIsNoOpAfterAtomicType(t *testing.T) {
	fi := &fakeInjector{}
	r := NewRouter(fi, nil, nil)

	require.NoError(t, r.KeyDown("Comma", ","))
	require.NoError(t, r.KeyUp("Comma", ","))

	assert.Empty(t, fi.keyEvents)
}

func TestKeyDownLetterUsesKeyEvent(t *testing.T) {
	fi := &fakeInjector{}
	r := NewRouter(fi, nil, nil)

	require.NoError(t, r.KeyDown("KeyA", "a"))
	assert.Equal(t, []string{"a:down"}, fi.keyEvents)
}

func TestKeyDownWithModifierHeldSkipsAtomicType(t *testing.T) {
	fi := &fakeInjector{}
	r := NewRouter(fi, nil, nil)

	require.NoError(t, r.KeyDown("ControlLeft", "Control"))
	require.NoError(t, r.KeyDown("Comma", ","))

	assert.Empty(t, fi.typedText)
}

func TestPointerMaskDiffPressesLeftButton(t *testing.T) {
	fi := &fakeInjector{}
	r := NewRouter(fi, nil, nil)

	require.NoError(t, r.Pointer(10, 20, maskLeft, 0))
	assert.Equal(t, []int{1}, fi.buttons)
}

func TestRepeatCountMinimumOne(t *testing.T) {
	assert.Equal(t, 1, repeatCount(0))
	assert.Equal(t, 3, repeatCount(3.4))
}
