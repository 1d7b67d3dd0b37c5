// Package types holds the value types shared across the streaming engine:
// capture/audio settings, the wire-visible FrameID, and the small
// collaborator interfaces that isolate the engine from the native
// capture/encode/input libraries it drives.
package types

import (
	"image"
	"time"
)

// OutputMode selects the video payload shape (§3, §4.1).
type OutputMode int

const (
	OutputModeJPEG OutputMode = iota
	OutputModeStripedH264
)

// CaptureSettings is rebuilt on every (re)start of the video pipeline.
// It is a value type: SessionController diffs two instances field-by-field
// to decide whether a restart is required (§4.3).
type CaptureSettings struct {
	Width, Height int
	TargetFPS     int
	Mode          OutputMode

	// H264 knobs
	CRF              int
	Fullcolor        bool
	StreamingMode    bool // true = x264enc-striped (fullframe=false), false = x264enc (fullframe=true)
	UseCPU           bool
	PaintOverCRF     int
	PaintOverBurst   int
	UsePaintOverQual bool

	// JPEG knobs
	JPEGQuality          int
	PaintOverJPEGQuality int

	NativeCursorRendering bool
	CaptureCursor         bool

	VAAPIRenderNodeIndex int // derived from dri_node; -1 = unset
	WatermarkPath        string
	WatermarkLocation    int
}

// Encoder returns the wire-visible encoder tag for this settings value,
// distinguishing the two H264 "striped" spellings per spec.md §9's open
// question: x264enc (fullframe=true) vs x264enc-striped (fullframe=false).
func (c CaptureSettings) Encoder() string {
	switch c.Mode {
	case OutputModeJPEG:
		return "jpeg"
	case OutputModeStripedH264:
		if c.StreamingMode {
			return "x264enc-striped"
		}
		return "x264enc"
	default:
		return "unknown"
	}
}

// RestartDiff reports whether switching from prev to c requires a pipeline
// restart, per the field list in spec.md §4.3.
func (c CaptureSettings) RestartDiff(prev CaptureSettings) bool {
	if c.Encoder() != prev.Encoder() {
		return true
	}
	if c.Width != prev.Width || c.Height != prev.Height {
		return true
	}
	if c.TargetFPS != prev.TargetFPS {
		return true
	}
	if c.Mode == OutputModeStripedH264 {
		if c.CRF != prev.CRF || c.Fullcolor != prev.Fullcolor ||
			c.StreamingMode != prev.StreamingMode || c.UseCPU != prev.UseCPU {
			return true
		}
	}
	if c.PaintOverCRF != prev.PaintOverCRF ||
		c.PaintOverBurst != prev.PaintOverBurst ||
		c.UsePaintOverQual != prev.UsePaintOverQual {
		return true
	}
	if c.JPEGQuality != prev.JPEGQuality || c.PaintOverJPEGQuality != prev.PaintOverJPEGQuality {
		return true
	}
	if c.CaptureCursor != prev.CaptureCursor {
		return true
	}
	return false
}

// AudioSettings is rebuilt on every (re)start of the audio pipeline.
type AudioSettings struct {
	DeviceName    string
	SampleRate    int
	Channels      int
	BitrateBps    int
	FrameDuration time.Duration
	VBR           bool
}

// FrameID is the 16-bit monotonic counter attached to every encoded video
// payload. It wraps at 65536 (§3).
type FrameID uint16

// Next returns the next FrameID in sequence, wrapping modulo 2^16.
func (f FrameID) Next() FrameID { return f + 1 }

// ForwardDistance returns f - other in the forward (increasing) direction,
// wrap-aware across the 16-bit boundary:
// sent=10, acked=65530 => 16, not -65520.
func (f FrameID) ForwardDistance(other FrameID) int {
	return int(uint16(f) - uint16(other))
}

// Frame is a captured screen frame handed from the native capture library
// to the VideoPipeline adapter's callback. All bytes are owned by the
// caller; the adapter copies them before returning (§4.7, §9).
type Frame struct {
	Data   []byte
	Width  int
	Height int
	Stride int
}

// EncodedFrame is the opaque, already-self-framed payload the native
// capture/encode library hands back via callback. Its FrameID travels
// beside it as the callback's first argument; the CaptureBackend assigns
// it in both output modes (§4.1).
type EncodedFrame struct {
	Data  []byte
	IsKey bool
}

// OpusPacket is one encoded audio frame from the native audio capture
// library.
type OpusPacket struct {
	Data     []byte
	Duration time.Duration
}

// CaptureBackend is the external native screen-capture library's
// interface, as described in spec.md §1: start_capture(settings,
// callback) / stop_capture. The JPEG and striped-H264 variants are
// selected by CaptureSettings.Mode (a tagged variant), never by
// inheritance (§9 Design Notes); capture.LinuxCaptureBackend serves both
// modes in one type.
type CaptureBackend interface {
	Start(settings CaptureSettings, onFrame func(FrameID, EncodedFrame)) error
	Stop()
}

// AudioBackend is the external native audio-capture library's interface.
type AudioBackend interface {
	Start(settings AudioSettings, onPacket func(OpusPacket)) error
	Stop()
}

// DebugGrabber is optionally implemented by a CaptureBackend to provide a
// debug image for an operator-facing one-shot grab endpoint.
type DebugGrabber interface {
	GrabImage() (image.Image, error)
}

// EventInjector is the external X11 input injection backend's interface —
// key/mouse/clipboard tools accessed by name (§1, §4.6).
type EventInjector interface {
	KeyEvent(keysymName string, down bool) error
	MouseMoveAbs(x, y int) error
	MouseMoveRel(dx, dy int) error
	MouseButton(button int, down bool) error
	Scroll(dx, dy float64) error
	TypeText(text string) error
	Close()
}
