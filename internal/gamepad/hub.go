package gamepad

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rs/zerolog/log"
)

// queueDepth bounds each slot's pending-event queue so one stuck
// interposer client cannot grow memory unboundedly.
const queueDepth = 256

// drainGracePeriod is how long Hub.Stop waits for queues to empty before
// cancelling drain tasks outright (§4.5 failure model).
const drainGracePeriod = 2 * time.Second

type pendingEvent struct {
	ts      time.Time
	evType  uint16
	code    uint16
	value   int32
	jsType  uint8
	jsNum   uint8
	jsValue int16
}

type client struct {
	conn     net.Conn
	wordSize int // 0 until handshake completes
}

// slot is one virtual gamepad: a config cache and two listener sockets.
type slot struct {
	index  int
	cfg    InterposerConfig
	cfgRaw [InterposerConfigSize]byte

	jsPath    string
	eventPath string

	mu         sync.Mutex
	jsClients  map[net.Conn]*client
	evClients  map[net.Conn]*client

	queue  chan pendingEvent
	cancel context.CancelFunc
}

// Hub is the GamepadHub (§4.5): N pre-allocated slots, each listening on
// two Unix-domain sockets for interposer processes.
type Hub struct {
	prefix string
	slots  [NumSlots]*slot
	wg     sync.WaitGroup
}

// New creates a Hub whose socket paths are rooted at prefix (a directory
// that must already exist). Sockets are not opened until Start is called.
func New(prefix string) *Hub {
	h := &Hub{prefix: prefix}
	cfg := defaultConfig()
	raw := cfg.Encode()
	for i := 0; i < NumSlots; i++ {
		h.slots[i] = &slot{
			index:     i,
			cfg:       cfg,
			cfgRaw:    raw,
			jsPath:    filepath.Join(prefix, fmt.Sprintf("selkies_js%d.sock", i)),
			eventPath: filepath.Join(prefix, fmt.Sprintf("selkies_event%d.sock", 1000+i)),
			jsClients: make(map[net.Conn]*client),
			evClients: make(map[net.Conn]*client),
			queue:     make(chan pendingEvent, queueDepth),
		}
	}
	return h
}

// Start unlinks any stale socket files and opens all 2*NumSlots
// listeners, per §4.5.
func (h *Hub) Start(ctx context.Context) error {
	for _, s := range h.slots {
		if err := s.listen(ctx, &h.wg); err != nil {
			return fmt.Errorf("gamepad: slot %d: %w", s.index, err)
		}
	}
	return nil
}

// Stop drains each slot's queue with a capped wait, then cancels and
// unlinks sockets (§4.5 failure model).
func (h *Hub) Stop() {
	deadline := time.Now().Add(drainGracePeriod)
	for _, s := range h.slots {
		for len(s.queue) > 0 && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
	}
	for _, s := range h.slots {
		s.stop()
	}
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drainGracePeriod):
		log.Warn().Msg("gamepad hub drain grace period expired")
	}
}

// SendEvent implements SessionController's send_event(slot, idx, value,
// is_button) call (§4.5): translates the client index, builds both wire
// payloads, and enqueues them for fan-out.
func (h *Hub) SendEvent(slotIdx, clientIdx int, value float64, isButton bool) {
	if slotIdx < 0 || slotIdx >= NumSlots {
		return
	}
	s := h.slots[slotIdx]

	if isButton {
		if axis, hatVal, ok := clientDpadButtonToHat(clientIdx, value != 0); ok {
			s.enqueueAxis(axis, hatVal)
			return
		}
		if axis, ok := clientTriggerButtonToAxis(clientIdx); ok {
			var v int16
			if value != 0 {
				v = 32767
			}
			s.enqueueAxis(axis, v)
			return
		}
		idx, ok := clientButtonToInternal(clientIdx)
		if !ok {
			return
		}
		s.enqueueButton(idx, value != 0)
		return
	}

	// Analog axis straight through (client index == internal index).
	if clientIdx < 0 || clientIdx >= numAxes {
		return
	}
	s.enqueueAxis(clientIdx, int16(value))
}

func (s *slot) enqueueButton(idx int, pressed bool) {
	code, ok := btnEvdevCode(s.cfg, idx)
	if !ok {
		return
	}
	var jsVal int16
	if pressed {
		jsVal = 1
	}
	var v int32
	if pressed {
		v = 1
	}
	s.push(pendingEvent{
		ts: time.Now(), evType: evTypeKey, code: code, value: v,
		jsType: jsEventButton, jsNum: uint8(idx), jsValue: jsVal,
	})
}

func (s *slot) enqueueAxis(idx int, v int16) {
	code, ok := axisEvdevCode(s.cfg, idx)
	if !ok {
		return
	}
	s.push(pendingEvent{
		ts: time.Now(), evType: evTypeAbs, code: code, value: int32(v),
		jsType: jsEventAxis, jsNum: uint8(idx), jsValue: v,
	})
}

func (s *slot) push(ev pendingEvent) {
	select {
	case s.queue <- ev:
	default:
		log.Warn().Int("slot", s.index).Msg("gamepad event queue full, dropping")
	}
}

func (s *slot) listen(ctx context.Context, wg *sync.WaitGroup) error {
	jsLn, err := listenUnlinked(s.jsPath)
	if err != nil {
		return err
	}
	evLn, err := listenUnlinked(s.eventPath)
	if err != nil {
		jsLn.Close()
		return err
	}

	slotCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	wg.Add(3)
	go s.acceptLoop(slotCtx, wg, jsLn, &s.jsClients)
	go s.acceptLoop(slotCtx, wg, evLn, &s.evClients)
	go s.drainLoop(slotCtx, wg)

	go func() {
		<-slotCtx.Done()
		jsLn.Close()
		evLn.Close()
		os.Remove(s.jsPath)
		os.Remove(s.eventPath)
	}()

	return nil
}

func (s *slot) stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func listenUnlinked(path string) (net.Listener, error) {
	_ = os.Remove(path)
	ln, err := net.Listen("unix", path)
	if err != nil {
		return nil, err
	}
	if err := unix.Chmod(path, 0o770); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("chmod interposer socket failed")
	}
	return ln, nil
}

func (s *slot) acceptLoop(ctx context.Context, wg *sync.WaitGroup, ln net.Listener, set *map[net.Conn]*client) {
	defer wg.Done()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				log.Warn().Int("slot", s.index).Err(err).Msg("gamepad accept failed")
				return
			}
		}
		go s.handshake(ctx, conn, set)
	}
}

func (s *slot) handshake(ctx context.Context, conn net.Conn, set *map[net.Conn]*client) {
	if _, err := conn.Write(s.cfgRaw[:]); err != nil {
		log.Info().Int("slot", s.index).Err(err).Msg("interposer config write failed")
		conn.Close()
		return
	}

	var wordSizeByte [1]byte
	if _, err := conn.Read(wordSizeByte[:]); err != nil {
		log.Info().Int("slot", s.index).Err(err).Msg("interposer handshake read failed")
		conn.Close()
		return
	}
	wordSize := int(wordSizeByte[0])
	if wordSize != 4 && wordSize != 8 {
		log.Warn().Int("slot", s.index).Int("word_size", wordSize).Msg("interposer handshake protocol violation")
		conn.Close()
		return
	}

	c := &client{conn: conn, wordSize: wordSize}
	s.mu.Lock()
	(*set)[conn] = c
	s.mu.Unlock()

	<-ctx.Done()
	s.mu.Lock()
	delete(*set, conn)
	s.mu.Unlock()
	conn.Close()
}

func (s *slot) drainLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-s.queue:
			s.fanOut(ev)
		}
	}
}

func (s *slot) fanOut(ev pendingEvent) {
	js := EncodeJSEvent(uint32(ev.ts.UnixMilli()), ev.jsValue, ev.jsType, ev.jsNum)

	s.mu.Lock()
	jsTargets := make([]*client, 0, len(s.jsClients))
	for _, c := range s.jsClients {
		jsTargets = append(jsTargets, c)
	}
	evTargets := make([]*client, 0, len(s.evClients))
	for _, c := range s.evClients {
		evTargets = append(evTargets, c)
	}
	s.mu.Unlock()

	for _, c := range jsTargets {
		if _, err := c.conn.Write(js[:]); err != nil {
			log.Info().Int("slot", s.index).Err(err).Msg("js write failed")
		}
	}
	for _, c := range evTargets {
		payload := EncodeInputEventWithSyn(c.wordSize, ev.ts, ev.evType, ev.code, ev.value)
		if _, err := c.conn.Write(payload); err != nil {
			log.Info().Int("slot", s.index).Err(err).Msg("evdev write failed")
		}
	}
}
