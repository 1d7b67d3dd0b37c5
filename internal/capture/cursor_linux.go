//go:build linux

package capture

/*
#cgo pkg-config: x11 xfixes
#include <X11/Xlib.h>
#include <X11/extensions/Xfixes.h>
#include <stdlib.h>

typedef struct {
	Display *display;
	unsigned long last_serial;
} CursorWatch;

static CursorWatch* cursor_watch_init(const char *display_name) {
	CursorWatch *w = (CursorWatch*)calloc(1, sizeof(CursorWatch));
	if (!w) return NULL;
	w->display = XOpenDisplay(display_name);
	if (!w->display) { free(w); return NULL; }
	w->last_serial = 0;
	return w;
}

// cursor_watch_poll reads the current cursor image and reports via
// *changed whether its serial differs from the last-seen one.
static XFixesCursorImage* cursor_watch_poll(CursorWatch *w, int *changed) {
	XFixesCursorImage *cursor = XFixesGetCursorImage(w->display);
	*changed = 0;
	if (!cursor) return NULL;
	if (cursor->cursor_serial != w->last_serial) {
		w->last_serial = cursor->cursor_serial;
		*changed = 1;
	}
	return cursor;
}

static void cursor_watch_destroy(CursorWatch *w) {
	if (!w) return;
	XCloseDisplay(w->display);
	free(w);
}
*/
import "C"
import (
	"fmt"
	"image"
	"image/color"
	"time"
	"unsafe"
)

// pollInterval is the cadence the serial-diffed poll loop checks the
// current cursor image at. A real XFixesSelectCursorInput event stream
// would push changes instead of polling for them; this is a deliberate
// simplification (see DESIGN.md).
const pollInterval = 150 * time.Millisecond

// CursorWatcher implements input.CursorSource by polling XFixesGetCursorImage
// and reporting only when the cursor's serial number changes.
type CursorWatcher struct {
	w *C.CursorWatch
}

// NewCursorWatcher opens a dedicated X connection for cursor polling,
// independent of the XShm capture connection.
func NewCursorWatcher(displayName string) (*CursorWatcher, error) {
	cDisplay := C.CString(displayName)
	defer C.free(unsafe.Pointer(cDisplay))

	w := C.cursor_watch_init(cDisplay)
	if w == nil {
		return nil, fmt.Errorf("capture: cursor watch: failed to open display %s", displayName)
	}
	return &CursorWatcher{w: w}, nil
}

// Next blocks until the cursor image changes, then returns it cropped to
// its reported bounding box.
func (c *CursorWatcher) Next() (image.Image, error) {
	for {
		var changed C.int
		cursor := C.cursor_watch_poll(c.w, &changed)
		if cursor == nil {
			return nil, fmt.Errorf("capture: XFixesGetCursorImage failed")
		}
		if changed == 0 {
			C.XFree(unsafe.Pointer(cursor))
			time.Sleep(pollInterval)
			continue
		}

		w := int(cursor.width)
		h := int(cursor.height)
		img := image.NewRGBA(image.Rect(0, 0, w, h))

		pixels := unsafe.Slice((*C.ulong)(unsafe.Pointer(cursor.pixels)), w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				p := uint32(pixels[y*w+x])
				img.SetRGBA(x, y, color.RGBA{
					R: uint8(p),
					G: uint8(p >> 8),
					B: uint8(p >> 16),
					A: uint8(p >> 24),
				})
			}
		}
		C.XFree(unsafe.Pointer(cursor))
		return img, nil
	}
}

// Close releases the dedicated cursor-watch X connection.
func (c *CursorWatcher) Close() {
	C.cursor_watch_destroy(c.w)
}
