// Command streamdeskd is the thin wiring entrypoint: flag parsing,
// collaborator construction, and graceful shutdown around the
// session.Engine (teacher: cmd/bunghole/main.go).
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"streamdeskd/internal/audio"
	"streamdeskd/internal/capture"
	"streamdeskd/internal/config"
	"streamdeskd/internal/display"
	"streamdeskd/internal/input"
	"streamdeskd/internal/session"
	"streamdeskd/internal/types"
)

var (
	flagAddr       = flag.String("addr", ":8080", "HTTP/WebSocket listen address")
	flagDisplay    = flag.String("display", os.Getenv("DISPLAY"), "X11 display to capture")
	flagToken      = flag.String("token", "", "bearer token clients must present (required)")
	flagUploadRoot = flag.String("upload-root", filepath.Join(os.Getenv("HOME"), input.DefaultUploadRoot), "directory client file uploads are written under")
	flagStats      = flag.Bool("stats", false, "sets session.Config.Stats; the engine does not read it, so no throughput stats are logged")
	flagTLS        = flag.Bool("tls", false, "serve wss:// over an ephemeral self-signed certificate")

	flagAudioDevice = flag.String("audio-device-name", "output.monitor", "PulseAudio source name")

	flagFramerate     = flag.Int("framerate", 30, "initial capture framerate")
	flagCRF           = flag.Int("h264-crf", 25, "initial H264 CRF")
	flagJPEGQuality   = flag.Int("jpeg-quality", 80, "initial JPEG quality (1-100)")
	flagCaptureCursor = flag.Bool("capture-cursor", false, "composite the host cursor into captured frames")

	flagManualRes  = flag.Bool("manual-resolution", false, "lock to a fixed resolution instead of tracking client resize requests")
	flagManualW    = flag.Int("manual-width", 1920, "manual mode width")
	flagManualH    = flag.Int("manual-height", 1080, "manual mode height")
	flagScalingDPI = flag.Int("scaling-dpi", 96, "initial DPI applied to the host session")

	flagWatermarkPath     = flag.String("watermark-path", "", "optional watermark image path passed to the capture backend")
	flagWatermarkLocation = flag.Int("watermark-location", 0, "watermark placement (0-6)")

	flagDRINode       = flag.String("dri-node", "", "VA-API render node, e.g. /dev/dri/renderD128")
	flagFileTransfers = flag.String("file-transfers", "upload,download", "comma-separated subset of {upload,download}; parsed into config.Options, which the session engine does not consult (uploads are always accepted)")
)

func main() {
	flag.Parse()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if *flagToken == "" {
		log.Fatal().Msg("--token is required")
	}
	if *flagDisplay == "" {
		log.Fatal().Msg("no X display available — set --display or DISPLAY")
	}

	opts := config.Options{
		Addr:                   *flagAddr,
		Display:                *flagDisplay,
		Token:                  *flagToken,
		UploadRoot:             *flagUploadRoot,
		Stats:                  *flagStats,
		AudioDeviceName:        *flagAudioDevice,
		Framerate:              *flagFramerate,
		H264CRF:                *flagCRF,
		JPEGQuality:            *flagJPEGQuality,
		IsManualResolutionMode: *flagManualRes,
		ManualWidth:            *flagManualW,
		ManualHeight:           *flagManualH,
		ScalingDPI:             *flagScalingDPI,
		WatermarkPath:          *flagWatermarkPath,
		WatermarkLocation:      *flagWatermarkLocation,
		DRINode:                *flagDRINode,
		FileTransfers:          config.ParseFileTransfers(*flagFileTransfers),
	}

	if err := os.MkdirAll(opts.UploadRoot, 0o755); err != nil {
		log.Fatal().Err(err).Msg("creating upload root failed")
	}

	resizer := display.NewResizer(opts.Display, os.Getenv("XAUTHORITY"))

	defaultCS := types.CaptureSettings{
		Width:                opts.ManualWidth,
		Height:               opts.ManualHeight,
		TargetFPS:            opts.Framerate,
		Mode:                 types.OutputModeJPEG,
		CRF:                  opts.H264CRF,
		JPEGQuality:          opts.JPEGQuality,
		CaptureCursor:        *flagCaptureCursor,
		VAAPIRenderNodeIndex: opts.VAAPIRenderNodeIndex(),
		WatermarkPath:        opts.WatermarkPath,
		WatermarkLocation:    opts.WatermarkLocation,
	}
	if !opts.IsManualResolutionMode {
		defaultCS.Width, defaultCS.Height = 1024, 768
	}
	defaultAS := types.AudioSettings{
		DeviceName:    opts.AudioDeviceName,
		SampleRate:    48000,
		Channels:      2,
		BitrateBps:    64000,
		FrameDuration: 20 * time.Millisecond,
	}

	eng := session.New(session.Config{
		Addr:       opts.Addr,
		Token:      opts.Token,
		Stats:      opts.Stats,
		TLS:        *flagTLS,
		UploadRoot: opts.UploadRoot,

		NewVideoBackend: func(settings types.CaptureSettings) (types.CaptureBackend, error) {
			return capture.NewLinuxCaptureBackend(opts.Display), nil
		},
		NewAudioBackend: func(settings types.AudioSettings) (types.AudioBackend, error) {
			return audio.NewPulseAudioBackend()
		},
		NewInjector: func() types.EventInjector {
			return input.NewToolInjector()
		},
		NewClipboard: func() input.ClipboardSetter {
			return input.ToolClipboard{}
		},
		NewCursorSource: func() (input.CursorSource, error) {
			return capture.NewCursorWatcher(opts.Display)
		},
		ResizeDisplay: resizer.Resize,

		DesktopEnvironment: input.DetectDesktopEnvironment(os.Getenv("XDG_CURRENT_DESKTOP")),

		DefaultCaptureSettings: defaultCS,
		DefaultAudioSettings:   defaultAS,
		DefaultDPI:             opts.ScalingDPI,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info().Str("signal", sig.String()).Msg("shutting down")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := eng.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown")
		}
		cancel()
		os.Exit(0)
	}()

	if err := eng.ListenAndServe(ctx); err != nil {
		log.Fatal().Err(err).Msg("streamdeskd exited")
	}
}
