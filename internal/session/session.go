// Package session implements the SessionController (§4.3): the
// per-WebSocket state machine that applies client settings, serializes
// pipeline transitions, and forwards input verbs to the InputRouter.
package session

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"streamdeskd/internal/backpressure"
	"streamdeskd/internal/input"
	"streamdeskd/internal/types"
	"streamdeskd/internal/wire"
)

// clipboardPollInterval matches §4.6's "polls the clipboard every 500 ms".
const clipboardPollInterval = 500 * time.Millisecond

// State is one node of the SessionController state machine (§4.3).
type State int

const (
	StateConnected State = iota
	StateAwaitingSettings
	StateStreaming
	StateResizePending
	StatePaused
	StateTearingDown
)

const sendQueueDepth = 64

// Session is one connected client: one WebSocket, one state machine, one
// set of effective settings.
type Session struct {
	id     string
	conn   *websocket.Conn
	engine *Engine

	sendMu sync.Mutex
	outbox chan outboundMsg

	mu                sync.Mutex // serializes SETTINGS/SET_*/r,/START/STOP per §5
	state             State
	videoSettings     types.CaptureSettings
	haveVideoSettings bool
	audioSettings     types.AudioSettings
	videoRunning      bool
	audioRunning      bool
	lastResizeOK      bool

	router  *input.Router
	clip    *input.ClipboardState
	uploads *input.UploadState

	backpressure *backpressure.Controller

	Stop chan struct{}
	once sync.Once
}

type outboundMsg struct {
	data   []byte
	isText bool
}

// New wires a freshly accepted WebSocket connection into a Session.
func New(id string, conn *websocket.Conn, eng *Engine, router *input.Router, clip *input.ClipboardState, uploads *input.UploadState) *Session {
	s := &Session{
		id:           id,
		conn:         conn,
		engine:       eng,
		outbox:       make(chan outboundMsg, sendQueueDepth),
		state:        StateConnected,
		router:       router,
		clip:         clip,
		uploads:      uploads,
		backpressure: backpressure.New(),
		Stop:         make(chan struct{}),
	}
	go s.writePump()
	return s
}

// ID implements broadcast.Client.
func (s *Session) ID() string { return s.id }

// Send implements broadcast.Client: enqueues a message for the write
// pump, preserving per-client FIFO order (§5).
func (s *Session) Send(data []byte, isText bool) error {
	select {
	case s.outbox <- outboundMsg{data: data, isText: isText}:
		return nil
	default:
		return fmt.Errorf("session %s: send queue full", s.id)
	}
}

func (s *Session) writePump() {
	for {
		select {
		case <-s.Stop:
			return
		case msg, ok := <-s.outbox:
			if !ok {
				return
			}
			mt := websocket.BinaryMessage
			if msg.isText {
				mt = websocket.TextMessage
			}
			s.sendMu.Lock()
			err := s.conn.WriteMessage(mt, msg.data)
			s.sendMu.Unlock()
			if err != nil {
				log.Info().Str("session", s.id).Err(err).Msg("websocket write failed")
			}
		}
	}
}

// Run reads the WebSocket until it closes or a fatal protocol violation
// occurs, dispatching every frame to handleBinary/handleText.
func (s *Session) Run() {
	defer s.Close()

	s.Send([]byte(wire.BuildMode("websockets")), true)
	s.mu.Lock()
	s.state = StateAwaitingSettings
	s.mu.Unlock()

	if w, h, ok := s.engine.broadcaster.Resolution(); ok {
		s.Send([]byte(wire.BuildStreamResolution(w, h)), true)
	} else {
		d := s.engine.cfg.DefaultCaptureSettings
		s.Send([]byte(wire.BuildStreamResolution(d.Width, d.Height)), true)
	}

	go s.clipboardPollLoop()

	for {
		mt, data, err := s.conn.ReadMessage()
		if err != nil {
			return
		}
		switch mt {
		case websocket.TextMessage:
			s.handleText(string(data))
		case websocket.BinaryMessage:
			s.handleBinary(data)
		}
	}
}

func (s *Session) handleText(raw string) {
	switch {
	case strings.HasPrefix(raw, wire.FileUploadStartPrefix):
		s.handleUploadStart(raw)
		return
	case strings.HasPrefix(raw, wire.FileUploadEndPrefix):
		rel := strings.TrimPrefix(raw, wire.FileUploadEndPrefix)
		if err := s.uploads.End(rel); err != nil {
			log.Warn().Err(err).Str("rel", rel).Msg("upload end failed")
		}
		return
	case strings.HasPrefix(raw, wire.FileUploadErrorPrefix):
		rel := strings.TrimPrefix(raw, wire.FileUploadErrorPrefix)
		if err := s.uploads.Abort(rel); err != nil {
			log.Warn().Err(err).Str("rel", rel).Msg("upload abort failed")
		}
		return
	case strings.HasPrefix(raw, wire.FrameAckPrefix):
		idStr := strings.TrimSpace(strings.TrimPrefix(raw, wire.FrameAckPrefix))
		s.handleFrameAck(wire.Message{Verb: wire.VerbFrameAck, Args: []string{idStr}})
		return
	}

	msg := wire.ParseMessage(raw)
	switch msg.Verb {
	case wire.VerbSettings:
		s.handleSettings(msg)
	case wire.VerbClientFPS:
		s.handleClientFPS(msg)
	case wire.VerbStartVideo:
		s.setVideoRunning(true)
	case wire.VerbStopVideo:
		s.setVideoRunning(false)
	case wire.VerbStartAudio:
		s.setAudioRunning(true)
	case wire.VerbStopAudio:
		s.setAudioRunning(false)
	case wire.VerbResize:
		s.handleResize(msg.StrArg(0))
	case wire.VerbDPI:
		s.handleDPI(msg)
	case wire.VerbMouseAbs:
		s.handlePointer(msg)
	case wire.VerbMouseRel:
		s.handlePointerRel(msg)
	case wire.VerbKeyDown:
		s.router.KeyDown(msg.StrArg(0), msg.StrArg(1))
	case wire.VerbKeyUp:
		s.router.KeyUp(msg.StrArg(0), msg.StrArg(1))
	case wire.VerbKeyRepeat:
		s.router.KeyRepeat()
	case wire.VerbClipboardWrite:
		s.clip.SetSingleFrame(msg.StrArg(0), msg.StrArg(1))
	case wire.VerbClipWriteStart, wire.VerbClipReadStart:
		s.handleClipStart(msg)
	case wire.VerbClipWriteData, wire.VerbClipReadData:
		s.clip.AppendChunk(msg.StrArg(0))
	case wire.VerbClipWriteEnd, wire.VerbClipReadEnd:
		s.clip.EndChunked()
	case wire.VerbJoystick:
		s.handleJoystick(msg)
	case wire.VerbPong:
		// keepalive; no-op
	default:
		log.Info().Str("verb", msg.Verb).Msg("forwarded unknown verb")
	}
}

func (s *Session) handleBinary(data []byte) {
	if len(data) == 0 {
		return
	}
	switch data[0] {
	case wire.TagUploadChunk:
		chunk, err := wire.DecodeUploadChunk(data)
		if err != nil {
			log.Warn().Err(err).Msg("malformed upload chunk")
			return
		}
		if err := s.uploads.Append(chunk.RelPath, chunk.Data); err != nil {
			log.Warn().Err(err).Msg("upload append failed")
		}
	case wire.TagMicPCM:
		// Mic PCM is not replayed into PulseAudio; this session only
		// validates the framing and drops the payload.
		if _, err := wire.DecodeMicPCM(data); err != nil {
			log.Warn().Err(err).Msg("malformed mic pcm frame")
		}
	default:
		log.Warn().Uint8("tag", data[0]).Msg("unknown binary tag")
	}
}

func (s *Session) handleUploadStart(raw string) {
	rel, _, err := input.ParseUploadStart(raw)
	if err != nil {
		log.Warn().Err(err).Msg("malformed FILE_UPLOAD_START")
		return
	}
	if err := s.uploads.Start(rel); err != nil {
		log.Warn().Err(err).Str("rel", rel).Msg("upload start failed")
	}
}

// handleDPI handles the "s,<dpi>" verb (§4.6).
func (s *Session) handleDPI(msg wire.Message) {
	dpi, err := msg.IntArg(0)
	if err != nil {
		log.Warn().Err(err).Msg("malformed dpi request")
		return
	}
	if err := s.router.SetDPI(dpi); err != nil {
		log.Warn().Err(err).Int("dpi", dpi).Msg("dpi update failed")
		return
	}
	s.engine.setDPIScale(s.router.DPIScale())
}

// clipboardPollLoop broadcasts clipboard changes to every connected
// client every 500ms, chunking outbound payloads >= 750 KiB (§4.6).
func (s *Session) clipboardPollLoop() {
	ticker := time.NewTicker(clipboardPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.Stop:
			return
		case <-ticker.C:
			mime, data, changed := s.clip.PollChange()
			if !changed {
				continue
			}
			s.broadcastClipboardChange(mime, data)
		}
	}
}

func (s *Session) broadcastClipboardChange(mime string, data []byte) {
	b64 := base64.StdEncoding.EncodeToString(data)
	if !input.ShouldChunkOutbound(len(data)) {
		s.engine.broadcaster.Broadcast([]byte(wire.BuildClipboardOut(mime, b64)), true)
		return
	}

	s.engine.broadcaster.Broadcast([]byte(wire.BuildClipboardStart(mime, len(data))), true)
	const chunkSize = 256 * 1024
	for i := 0; i < len(b64); i += chunkSize {
		end := i + chunkSize
		if end > len(b64) {
			end = len(b64)
		}
		s.engine.broadcaster.Broadcast([]byte(wire.BuildClipboardData(b64[i:end])), true)
	}
	s.engine.broadcaster.Broadcast([]byte(wire.BuildClipboardFinish()), true)
}

func (s *Session) handleClipStart(msg wire.Message) {
	size, err := msg.IntArg(1)
	if err != nil {
		log.Warn().Err(err).Msg("malformed clipboard transfer start")
		return
	}
	s.clip.StartChunked(msg.StrArg(0), size)
}

func (s *Session) handleFrameAck(msg wire.Message) {
	id, err := msg.IntArg(0)
	if err != nil {
		log.Warn().Err(err).Msg("malformed CLIENT_FRAME_ACK")
		return
	}
	s.backpressure.RecordAck(types.FrameID(uint16(id)))
}

// handleClientFPS processes an "_f" client-render-fps report, the only
// source of BackpressureController's client_render_fps input.
func (s *Session) handleClientFPS(msg wire.Message) {
	fps, err := msg.FloatArg(0)
	if err != nil {
		log.Warn().Err(err).Msg("malformed _f report")
		return
	}
	s.backpressure.UpdateClientFPS(fps)
}

func (s *Session) handlePointer(msg wire.Message) {
	x, errX := msg.IntArg(0)
	y, errY := msg.IntArg(1)
	if errX != nil || errY != nil {
		log.Warn().Msg("malformed pointer event")
		return
	}
	mask, _ := msg.IntArg(2)
	scroll, _ := msg.FloatArg(3)
	s.router.Pointer(x, y, mask, scroll)
}

func (s *Session) handlePointerRel(msg wire.Message) {
	dx, errX := msg.IntArg(0)
	dy, errY := msg.IntArg(1)
	if errX != nil || errY != nil {
		return
	}
	s.router.PointerRelative(dx, dy)
}

func (s *Session) handleJoystick(msg wire.Message) {
	kind := msg.StrArg(0)
	slot, err := msg.IntArg(1)
	if err != nil {
		return
	}
	switch kind {
	case "b":
		idx, _ := msg.IntArg(2)
		val, _ := msg.FloatArg(3)
		s.engine.gamepadHub.SendEvent(slot, idx, val, true)
	case "a":
		idx, _ := msg.IntArg(2)
		val, _ := msg.FloatArg(3)
		s.engine.gamepadHub.SendEvent(slot, idx, val, false)
	case "d":
		// disconnect notice; slot stays up per §4.5 failure model.
	}
}

// handleSettings decodes a SETTINGS JSON payload and runs apply_settings
// (§4.3's contract).
func (s *Session) handleSettings(msg wire.Message) {
	var raw map[string]any
	if err := json.Unmarshal([]byte(msg.StrArg(0)), &raw); err != nil {
		log.Warn().Err(err).Msg("malformed SETTINGS json")
		return
	}

	next, audioNext := decodeSettings(raw, s.engine.cfg.DefaultCaptureSettings, s.engine.cfg.DefaultAudioSettings)

	s.mu.Lock()
	defer s.mu.Unlock()

	isInitial := !s.haveVideoSettings
	prev := s.videoSettings
	restart := isInitial || next.RestartDiff(prev)

	s.videoSettings = next
	s.audioSettings = audioNext
	s.haveVideoSettings = true
	s.backpressure.SetConfiguredFPS(float64(next.TargetFPS))

	if !restart {
		return
	}

	if !isInitial {
		s.engine.broadcaster.Broadcast([]byte(wire.BuildPipelineResetting()), true)
	}

	s.state = StateStreaming
	s.engine.applyVideoSettings(next)
	s.engine.applyAudioSettings(audioNext)
	s.videoRunning = true
	s.audioRunning = true
}

func decodeSettings(raw map[string]any, defaultCS types.CaptureSettings, defaultAS types.AudioSettings) (types.CaptureSettings, types.AudioSettings) {
	cs := defaultCS
	as := defaultAS

	if enc, ok := raw["webrtc_encoder"].(string); ok {
		switch enc {
		case "jpeg":
			cs.Mode = types.OutputModeJPEG
		case "x264enc":
			cs.Mode = types.OutputModeStripedH264
			cs.StreamingMode = false
		case "x264enc-striped":
			cs.Mode = types.OutputModeStripedH264
			cs.StreamingMode = true
		}
	}
	if fps, ok := raw["webrtc_videoFramerate"].(float64); ok {
		cs.TargetFPS = int(fps)
	}
	if q, ok := raw["pixelflux_jpeg_quality"].(float64); ok {
		cs.JPEGQuality = int(q)
	}
	if crf, ok := raw["h264_crf"].(float64); ok {
		cs.CRF = int(crf)
	}
	return cs, as
}

func (s *Session) setVideoRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.videoRunning = running
	if running {
		s.engine.applyVideoSettings(s.videoSettings)
	} else {
		s.engine.maybeStopVideoLocked()
	}
}

func (s *Session) setAudioRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audioRunning = running
	if running {
		s.engine.applyAudioSettings(s.audioSettings)
	} else {
		s.engine.maybeStopAudioLocked()
	}
}

// handleResize implements the "r,WxH" verb: ResizePending transition.
func (s *Session) handleResize(wh string) {
	w, h, ok := parseWxH(wh)
	if !ok || w <= 1 || h <= 1 {
		log.Warn().Str("wxh", wh).Msg("malformed or invalid resize request")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.state = StateResizePending
	wasRunning := s.videoRunning
	if wasRunning {
		s.engine.maybeStopVideoLocked()
	}

	ok = s.engine.resizeDisplay(w, h)
	s.lastResizeOK = ok
	if !ok {
		log.Error().Str("wxh", wh).Msg("resize failed")
		s.state = StateStreaming
		return
	}

	s.videoSettings.Width = w
	s.videoSettings.Height = h
	s.engine.broadcaster.NoteResolution(w, h)
	s.engine.broadcaster.Broadcast([]byte(wire.BuildStreamResolution(w, h)), true)

	if wasRunning {
		s.engine.applyVideoSettings(s.videoSettings)
	}
	s.state = StateStreaming
}

func parseWxH(s string) (int, int, bool) {
	var w, h int
	n, err := fmt.Sscanf(s, "%dx%d", &w, &h)
	if err != nil || n != 2 {
		return 0, 0, false
	}
	return w, h, true
}

// Close tears the session down: stop the pump and poll loop, close the
// socket, release the router. Whether global pipelines stop is decided
// afterwards by Engine.pingTeardown (§4.3, §5).
func (s *Session) Close() {
	s.once.Do(func() {
		close(s.Stop)
		s.conn.Close()
		if s.router != nil {
			s.router.Close()
		}
		log.Info().Str("session", s.id).Msg("session closed")
	})
}
