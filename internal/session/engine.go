package session

import (
	"context"
	"fmt"
	"image/png"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"streamdeskd/internal/broadcast"
	"streamdeskd/internal/gamepad"
	"streamdeskd/internal/input"
	selftls "streamdeskd/internal/tls"
	"streamdeskd/internal/types"
	"streamdeskd/internal/wire"
)

// pingInterval/pingTimeout are the WebSocket keepalive parameters (§6).
const (
	pingInterval = 20 * time.Second
	pingTimeout  = 20 * time.Second
)

// gamepadSocketDir holds the GamepadHub's interposer sockets; it is
// created by ListenAndServe before the hub starts.
const gamepadSocketDir = "/tmp/streamdeskd"

var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: false,
	CheckOrigin:       func(r *http.Request) bool { return true },
}

// VideoBackendFactory builds the native screen-capture collaborator for
// a given CaptureSettings' tagged variant (§9's capability-set dispatch).
type VideoBackendFactory func(settings types.CaptureSettings) (types.CaptureBackend, error)

// AudioBackendFactory builds the native audio-capture collaborator.
type AudioBackendFactory func(settings types.AudioSettings) (types.AudioBackend, error)

// DisplayResizer applies an X11 mode change (§6); an external
// collaborator accessed by name (e.g. xrandr).
type DisplayResizer func(w, h int) bool

// Config wires an Engine to its collaborators.
type Config struct {
	Addr  string
	Token string
	Stats bool
	TLS   bool

	UploadRoot string

	NewVideoBackend VideoBackendFactory
	NewAudioBackend AudioBackendFactory
	NewInjector     func() types.EventInjector
	NewClipboard    func() input.ClipboardSetter
	NewCursorSource func() (input.CursorSource, error)
	ResizeDisplay   DisplayResizer

	DesktopEnvironment input.DesktopEnvironment

	// DefaultCaptureSettings/DefaultAudioSettings seed a session's pipeline
	// state before its first SETTINGS verb arrives (§6: "initial + allowed
	// range"), and backstop any field a client's SETTINGS JSON omits.
	DefaultCaptureSettings types.CaptureSettings
	DefaultAudioSettings   types.AudioSettings

	// DefaultDPI is applied to each session's host display immediately on
	// connect when > 0 (§6 "scaling_dpi": "initial display").
	DefaultDPI int
}

// Engine is the process-global collaborator set the SessionController
// uses: the Broadcaster, the GamepadHub, and the reference-counted
// video/audio pipelines (§4.3, §4.7, §9 — "global process state ...
// explicit context, not ambient").
type Engine struct {
	cfg Config

	broadcaster *broadcast.Broadcaster
	gamepadHub  *gamepad.Hub

	mu           sync.Mutex
	sessions     map[string]*Session
	videoBackend types.CaptureBackend
	videoSettings types.CaptureSettings
	audioBackend types.AudioBackend
	videoRefs    int
	audioRefs    int

	dpiMu    sync.Mutex
	dpiScale float64

	cursorStop chan struct{}
}

// New builds an Engine; the GamepadHub sockets are opened by Start.
func New(cfg Config) *Engine {
	return &Engine{
		cfg:         cfg,
		broadcaster: broadcast.New(),
		gamepadHub:  gamepad.New(gamepadSocketDir),
		sessions:    make(map[string]*Session),
		dpiScale:    1.0,
		cursorStop:  make(chan struct{}),
	}
}

func (e *Engine) setDPIScale(v float64) {
	e.dpiMu.Lock()
	e.dpiScale = v
	e.dpiMu.Unlock()
}

func (e *Engine) getDPIScale() float64 {
	e.dpiMu.Lock()
	defer e.dpiMu.Unlock()
	return e.dpiScale
}

// ListenAndServe starts the gamepad sockets and the HTTP/WebSocket
// listener.
func (e *Engine) ListenAndServe(ctx context.Context) error {
	if err := os.MkdirAll(gamepadSocketDir, 0o755); err != nil {
		return fmt.Errorf("engine: gamepad socket dir: %w", err)
	}
	if err := e.gamepadHub.Start(ctx); err != nil {
		return fmt.Errorf("engine: gamepad hub start: %w", err)
	}

	if e.cfg.NewCursorSource != nil {
		go e.cursorWatchLoop()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", e.handleWebSocket)
	mux.HandleFunc("/debug/frame", e.handleDebugFrame)

	srv := &http.Server{Addr: e.cfg.Addr, Handler: mux}

	if e.cfg.TLS {
		tlsCfg, err := selftls.SelfSigned()
		if err != nil {
			return fmt.Errorf("engine: self-signed cert: %w", err)
		}
		srv.TLSConfig = tlsCfg
		log.Info().Str("addr", e.cfg.Addr).Msg("starting streamdeskd (wss)")
		return srv.ListenAndServeTLS("", "")
	}

	log.Info().Str("addr", e.cfg.Addr).Msg("starting streamdeskd")
	return srv.ListenAndServe()
}

// cursorWatchLoop is the background task described in §4.6: it blocks on
// the cursor watcher's change notifications for the lifetime of the
// process and broadcasts each new cursor image to every connected client.
func (e *Engine) cursorWatchLoop() {
	src, err := e.cfg.NewCursorSource()
	if err != nil {
		log.Warn().Err(err).Msg("cursor watcher unavailable")
		return
	}

	for {
		select {
		case <-e.cursorStop:
			return
		default:
		}

		img, err := src.Next()
		if err != nil {
			log.Warn().Err(err).Msg("cursor watcher failed")
			return
		}
		frame, err := input.EncodeCursorFrame(img, e.getDPIScale())
		if err != nil {
			log.Warn().Err(err).Msg("cursor encode failed")
			continue
		}
		e.broadcaster.NoteCursor([]byte(frame), true)
		e.broadcaster.Broadcast([]byte(frame), true)
	}
}

func (e *Engine) checkAuth(r *http.Request) bool {
	if e.cfg.Token == "" {
		return true
	}
	return r.Header.Get("Authorization") == "Bearer "+e.cfg.Token
}

func (e *Engine) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !e.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pingInterval + pingTimeout))
		return nil
	})

	id := uuid.New().String()
	injector := e.cfg.NewInjector()
	clipTool := e.cfg.NewClipboard()
	uploads, err := input.NewUploadState(e.cfg.UploadRoot)
	if err != nil {
		log.Error().Err(err).Msg("upload root init failed")
	}
	router := input.NewRouter(injector, input.NewClipboardState(clipTool), uploads)
	router.SetDesktopEnvironment(e.cfg.DesktopEnvironment)
	if e.cfg.DefaultDPI > 0 {
		if err := router.SetDPI(e.cfg.DefaultDPI); err != nil {
			log.Warn().Err(err).Int("dpi", e.cfg.DefaultDPI).Msg("initial DPI set failed")
		} else {
			e.setDPIScale(router.DPIScale())
		}
	}
	clipState := input.NewClipboardState(clipTool)

	sess := New(id, conn, e, router, clipState, uploads)

	e.mu.Lock()
	e.sessions[id] = sess
	e.mu.Unlock()
	e.broadcaster.Add(sess)

	go e.pingLoop(sess)

	sess.Run()

	e.broadcaster.Remove(id)
	e.mu.Lock()
	delete(e.sessions, id)
	e.mu.Unlock()

	e.pingTeardown(sess)
}

func (e *Engine) pingLoop(sess *Session) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-sess.Stop:
			return
		case <-ticker.C:
			sess.sendMu.Lock()
			err := sess.conn.WriteMessage(websocket.PingMessage, nil)
			sess.sendMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// pingTeardown implements §4.3's "on teardown, ping every other client
// with a short timeout" before deciding whether to stop pipelines: since
// the Broadcaster already removes dead clients via their own read loop,
// this reduces to checking the live session count.
func (e *Engine) pingTeardown(sess *Session) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if sess.videoRunning {
		e.videoRefs--
	}
	if sess.audioRunning {
		e.audioRefs--
	}
	if len(e.sessions) == 0 {
		e.stopVideoLocked()
		e.stopAudioLocked()
	}
}

// applyVideoSettings starts (or restarts with new settings) the shared
// video pipeline. Caller holds the Session's mutex, not the Engine's.
func (e *Engine) applyVideoSettings(settings types.CaptureSettings) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.videoBackend != nil {
		e.videoBackend.Stop()
		e.videoBackend = nil
	}

	backend, err := e.cfg.NewVideoBackend(settings)
	if err != nil {
		log.Error().Err(err).Msg("video pipeline start failed")
		return
	}

	// The new backend's FrameID counter restarts at 0; every connected
	// session's BackpressureController must zero its own send/ack state
	// in lockstep, or it'll measure the new sequence against stale IDs
	// from the pipeline that just stopped.
	for _, s := range e.sessions {
		s.backpressure.Reset()
	}

	e.videoSettings = settings
	e.videoBackend = backend
	e.videoRefs++

	tag := wireTagFor(settings)
	if err := backend.Start(settings, func(id types.FrameID, frame types.EncodedFrame) {
		e.onVideoFrame(tag, id, frame)
	}); err != nil {
		log.Error().Err(err).Msg("video pipeline start failed")
		e.videoBackend = nil
	}
}

func wireTagFor(settings types.CaptureSettings) byte {
	if settings.Mode == types.OutputModeJPEG {
		return 0x03
	}
	return 0x04
}

func (e *Engine) onVideoFrame(tag byte, id types.FrameID, frame types.EncodedFrame) {
	// The frame-id counter always advances so a gated-off client can
	// observe the gap and resync on the next keyframe (§4.4); the
	// broadcast itself is skipped only when every connected session's
	// gate is currently closed.
	payload := make([]byte, len(frame.Data))
	copy(payload, frame.Data)

	if !e.anySessionGateOpenLocked(id) {
		return
	}

	data := wire.EncodeVideoFrame(tag, uint16(id), payload)
	e.broadcaster.Broadcast(data, false)
}

// anySessionGateOpenLocked reports whether at least one connected
// session's BackpressureController currently allows a send, recording
// the send in each open session's RTT history as it goes (§4.4, §4.7).
func (e *Engine) anySessionGateOpenLocked(id types.FrameID) bool {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	if len(sessions) == 0 {
		return true
	}

	open := false
	for _, s := range sessions {
		if s.backpressure.Allow() {
			s.backpressure.RecordSend(id)
			open = true
		}
	}
	return open
}

func (e *Engine) maybeStopVideoLocked() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoRefs--
	if e.videoRefs <= 0 {
		e.stopVideoLocked()
	}
}

func (e *Engine) stopVideoLocked() {
	if e.videoBackend != nil {
		e.videoBackend.Stop()
		e.videoBackend = nil
	}
	e.videoRefs = 0
}

func (e *Engine) applyAudioSettings(settings types.AudioSettings) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.audioBackend != nil {
		e.audioBackend.Stop()
		e.audioBackend = nil
	}

	backend, err := e.cfg.NewAudioBackend(settings)
	if err != nil {
		log.Error().Err(err).Msg("audio pipeline start failed")
		return
	}
	e.audioBackend = backend
	e.audioRefs++

	if err := backend.Start(settings, func(pkt types.OpusPacket) {
		data := wire.EncodeAudioFrame(pkt.Data)
		e.broadcaster.Broadcast(data, false)
	}); err != nil {
		log.Error().Err(err).Msg("audio pipeline start failed")
		e.audioBackend = nil
	}
}

func (e *Engine) maybeStopAudioLocked() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audioRefs--
	if e.audioRefs <= 0 {
		e.stopAudioLocked()
	}
}

func (e *Engine) stopAudioLocked() {
	if e.audioBackend != nil {
		e.audioBackend.Stop()
		e.audioBackend = nil
	}
	e.audioRefs = 0
}

// resizeDisplay delegates to the configured DE-external resize tool.
func (e *Engine) resizeDisplay(w, h int) bool {
	if e.cfg.ResizeDisplay == nil {
		return false
	}
	return e.cfg.ResizeDisplay(w, h)
}

func (e *Engine) handleDebugFrame(w http.ResponseWriter, r *http.Request) {
	if !e.checkAuth(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	e.mu.Lock()
	backend := e.videoBackend
	e.mu.Unlock()

	grabber, ok := backend.(types.DebugGrabber)
	if !ok || backend == nil {
		http.Error(w, "no active capture backend to grab from", http.StatusServiceUnavailable)
		return
	}

	img, err := grabber.GrabImage()
	if err != nil {
		http.Error(w, fmt.Sprintf("grab failed: %v", err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	png.Encode(w, img)
}

// Shutdown tears every session down and stops global pipelines, in the
// teacher's order: sessions, then pipelines (§4.3/§5's cancellation
// order, "platform cleanup" handled by the caller).
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}

	e.mu.Lock()
	e.stopVideoLocked()
	e.stopAudioLocked()
	e.mu.Unlock()

	close(e.cursorStop)
	e.gamepadHub.Stop()
	return nil
}
