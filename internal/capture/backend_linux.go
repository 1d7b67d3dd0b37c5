//go:build linux

package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"streamdeskd/internal/encode"
	"streamdeskd/internal/types"
)

// numStripes is the number of horizontal bands the framebuffer is split
// into before encoding. A real capture library stripes dirty regions only;
// this adapter always re-encodes every stripe, which is a deliberate
// simplification over delta-stripe diffing (see DESIGN.md).
const numStripes = 4

// defaultFPS is used when a session never supplied a target framerate.
const defaultFPS = 30

// LinuxCaptureBackend implements types.CaptureBackend against an XShm
// capturer, in either JPEG or striped-H264 output mode depending on the
// CaptureSettings it is started with (§4.1, §9's capability-set dispatch).
type LinuxCaptureBackend struct {
	displayName string

	mu      sync.Mutex
	cap     *XshmCapturer
	stop    chan struct{}
	wg      sync.WaitGroup
	nextID  types.FrameID
	h264    map[int]*encode.H264Encoder
	running bool
}

// NewLinuxCaptureBackend builds a backend bound to an X display name; the
// XShm segment itself is opened lazily on Start.
func NewLinuxCaptureBackend(displayName string) *LinuxCaptureBackend {
	return &LinuxCaptureBackend{displayName: displayName}
}

// Start implements types.CaptureBackend.
func (b *LinuxCaptureBackend) Start(settings types.CaptureSettings, onFrame func(types.FrameID, types.EncodedFrame)) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return fmt.Errorf("capture backend already running")
	}

	capturer, err := NewCapturer(b.displayName, settings.CaptureCursor)
	if err != nil {
		return err
	}

	b.cap = capturer
	b.stop = make(chan struct{})
	b.nextID = 0
	b.running = true
	if settings.Mode == types.OutputModeStripedH264 {
		b.h264 = make(map[int]*encode.H264Encoder)
	}

	b.wg.Add(1)
	go b.captureLoop(settings, onFrame)
	return nil
}

// Stop implements types.CaptureBackend.
func (b *LinuxCaptureBackend) Stop() {
	b.mu.Lock()
	if !b.running {
		b.mu.Unlock()
		return
	}
	close(b.stop)
	b.running = false
	b.mu.Unlock()

	b.wg.Wait()

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, enc := range b.h264 {
		enc.Close()
	}
	b.h264 = nil
	if b.cap != nil {
		b.cap.Close()
		b.cap = nil
	}
}

// GrabImage implements types.DebugGrabber by delegating to the live XShm
// capturer, if one is currently attached.
func (b *LinuxCaptureBackend) GrabImage() (image.Image, error) {
	b.mu.Lock()
	cap := b.cap
	b.mu.Unlock()
	if cap == nil {
		return nil, fmt.Errorf("capture: no active backend")
	}
	return cap.GrabImage()
}

func (b *LinuxCaptureBackend) captureLoop(settings types.CaptureSettings, onFrame func(types.FrameID, types.EncodedFrame)) {
	defer b.wg.Done()

	fps := settings.TargetFPS
	if fps <= 0 {
		fps = defaultFPS
	}
	ticker := time.NewTicker(time.Second / time.Duration(fps))
	defer ticker.Stop()

	for {
		select {
		case <-b.stop:
			return
		case <-ticker.C:
			frame, err := b.cap.Grab()
			if err != nil {
				log.Warn().Err(err).Msg("capture: grab failed")
				continue
			}
			b.encodeAndEmit(settings, frame, onFrame)
		}
	}
}

// encodeAndEmit splits one captured frame into numStripes horizontal bands
// and hands each encoded band to onFrame with its own monotonic FrameID,
// mirroring a native capture library's per-stripe callback contract (§6).
func (b *LinuxCaptureBackend) encodeAndEmit(settings types.CaptureSettings, frame *types.Frame, onFrame func(types.FrameID, types.EncodedFrame)) {
	stripeHeight := frame.Height / numStripes
	if stripeHeight == 0 {
		stripeHeight = frame.Height
	}

	for i := 0; i < numStripes; i++ {
		yStart := i * stripeHeight
		yEnd := yStart + stripeHeight
		if i == numStripes-1 {
			yEnd = frame.Height
		}
		if yStart >= yEnd {
			continue
		}

		band := &types.Frame{
			Data:   frame.Data[yStart*frame.Stride : yEnd*frame.Stride],
			Width:  frame.Width,
			Height: yEnd - yStart,
			Stride: frame.Stride,
		}

		var encoded *types.EncodedFrame
		var err error
		switch settings.Mode {
		case types.OutputModeJPEG:
			encoded, err = b.encodeJPEGStripe(band, settings)
		default:
			encoded, err = b.encodeH264Stripe(i, band, settings)
		}
		if err != nil {
			log.Warn().Err(err).Int("stripe", i).Msg("capture: encode failed")
			continue
		}
		if encoded == nil {
			continue
		}

		id := b.nextID
		b.nextID = b.nextID.Next()
		onFrame(id, *encoded)
	}
}

func (b *LinuxCaptureBackend) encodeJPEGStripe(band *types.Frame, settings types.CaptureSettings) (*types.EncodedFrame, error) {
	img := bgraToImage(band.Data, band.Width, band.Height, band.Stride)

	quality := settings.JPEGQuality
	if quality <= 0 {
		quality = 80
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return &types.EncodedFrame{Data: buf.Bytes(), IsKey: true}, nil
}

func (b *LinuxCaptureBackend) encodeH264Stripe(stripeIdx int, band *types.Frame, settings types.CaptureSettings) (*types.EncodedFrame, error) {
	b.mu.Lock()
	enc, ok := b.h264[stripeIdx]
	if !ok {
		codec := "h264"
		var err error
		enc, err = encode.NewH264Encoder(band.Width, band.Height, settings.TargetFPS, settings.CRF, 0, codec)
		if err != nil {
			b.mu.Unlock()
			return nil, err
		}
		b.h264[stripeIdx] = enc
	}
	b.mu.Unlock()

	return enc.Encode(band)
}
