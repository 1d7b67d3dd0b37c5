// Package backpressure implements the BackpressureController (§4.4): a
// per-session gate that halts video sends when the client has fallen too
// far behind, computed from FrameID ack round-trips.
package backpressure

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"streamdeskd/internal/types"
)

const (
	// rttHistorySize bounds the ack-timestamp lookup ring (§4.4, §5).
	rttHistorySize = 1000
	// rttSmoothingSamples bounds the smoothed-RTT ring buffer.
	rttSmoothingSamples = 20

	largeGapThreshold    = 32768
	allowedDesyncMs      = 2000
	latencyAdjThresholdMs = 50
	stallTimeout          = 4 * time.Second
	absurdDesyncThreshold = 10000

	// loopInterval is the controller's own re-evaluation cadence.
	loopInterval = 500 * time.Millisecond
)

type ackRecord struct {
	id   types.FrameID
	sent time.Time
}

// Controller tracks one session's send/ack state and exposes Allow() as
// the gate every video send consults before writing to the wire (§4.4).
type Controller struct {
	mu sync.Mutex

	sentID  types.FrameID
	ackedID types.FrameID
	haveAck bool

	lastAckUpdate time.Time

	rttSamples   []float64
	smoothedRTT  float64

	history    []ackRecord
	historyPos int

	clientRenderFPS float64
	configuredFPS   float64

	gateOpen bool

	limiter *rate.Limiter
}

// New returns a Controller with the gate open (optimistic start, per
// §4.4's "gate defaults true until evidence says otherwise").
func New() *Controller {
	return &Controller{
		gateOpen:      true,
		lastAckUpdate: time.Time{},
		limiter:       rate.NewLimiter(rate.Every(loopInterval), 1),
	}
}

// RecordSend notes that frame id was just handed to the wire, so its ack
// round-trip can later be measured.
func (c *Controller) RecordSend(id types.FrameID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentID = id
	if c.history == nil {
		c.history = make([]ackRecord, rttHistorySize)
	}
	c.history[c.historyPos] = ackRecord{id: id, sent: time.Now()}
	c.historyPos = (c.historyPos + 1) % rttHistorySize
}

// RecordAck processes a CLIENT_FRAME_ACK for the given FrameID, updating
// the smoothed RTT and re-evaluating the gate (§4.4 steps 1-10).
func (c *Controller) RecordAck(id types.FrameID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	c.ackedID = id
	c.haveAck = true
	c.lastAckUpdate = now

	if rtt, ok := c.lookupRTT(id, now); ok {
		c.pushRTTSample(rtt)
	}

	c.reevaluateLocked(now)
}

// UpdateClientFPS records a client-reported render FPS ("_f" verb) and
// re-evaluates the gate against it (§4.4 step 2).
func (c *Controller) UpdateClientFPS(fps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clientRenderFPS = fps
	c.reevaluateLocked(time.Now())
}

// SetConfiguredFPS records the session's currently configured target
// framerate, used as the §4.4 step 2 fallback when the client has not yet
// reported a usable render FPS.
func (c *Controller) SetConfiguredFPS(fps float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.configuredFPS = fps
}

// Reset zeroes the per-pipeline send/ack state — the FrameID counters and
// RTT history tied to the pipeline incarnation that just restarted — per
// §3's invariant that both counters zero before any new video frame.
// clientRenderFPS/configuredFPS survive a reset: they describe the client
// and session, not the pipeline instance.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sentID = 0
	c.ackedID = 0
	c.haveAck = false
	c.lastAckUpdate = time.Time{}
	c.rttSamples = nil
	c.smoothedRTT = 0
	c.history = nil
	c.historyPos = 0
	c.gateOpen = true
}

func (c *Controller) lookupRTT(id types.FrameID, now time.Time) (float64, bool) {
	for _, rec := range c.history {
		if rec.sent.IsZero() {
			continue
		}
		if rec.id == id {
			return float64(now.Sub(rec.sent).Milliseconds()), true
		}
	}
	return 0, false
}

func (c *Controller) pushRTTSample(sampleMs float64) {
	c.rttSamples = append(c.rttSamples, sampleMs)
	if len(c.rttSamples) > rttSmoothingSamples {
		c.rttSamples = c.rttSamples[len(c.rttSamples)-rttSmoothingSamples:]
	}
	sum := 0.0
	for _, s := range c.rttSamples {
		sum += s
	}
	c.smoothedRTT = sum / float64(len(c.rttSamples))
}

// reevaluateLocked implements the §4.4 gate algorithm. Caller holds mu.
func (c *Controller) reevaluateLocked(now time.Time) {
	if !c.haveAck {
		c.gateOpen = true
		return
	}

	// Step: stall detection — no ack in stallTimeout closes the gate.
	if !c.lastAckUpdate.IsZero() && now.Sub(c.lastAckUpdate) > stallTimeout {
		c.gateOpen = false
		return
	}

	// Step: fall back to the configured framerate when the client hasn't
	// reported a usable render FPS; gate open if neither is usable.
	effectiveFPS := c.clientRenderFPS
	if effectiveFPS <= 0 {
		effectiveFPS = c.configuredFPS
	}
	if effectiveFPS <= 0 {
		c.gateOpen = true
		return
	}

	desync := c.sentID.ForwardDistance(c.ackedID)

	// Wrap-aware large gap: treat near-full-range distances as the
	// small backward case they actually represent.
	if desync > largeGapThreshold {
		desync = desync - 65536
	}

	if desync > absurdDesyncThreshold {
		// Absurd reading — likely a stale or corrupted ack; don't trust
		// it enough to close the gate outright, but don't open blindly:
		// the gate keeps its previous state.
		return
	}

	desyncMs := float64(desync) / effectiveFPS * 1000.0

	allowed := float64(allowedDesyncMs)
	if c.smoothedRTT > latencyAdjThresholdMs {
		allowed += c.smoothedRTT
	}

	c.gateOpen = desyncMs <= allowed
}

// Allow reports whether the video pipeline may send another frame right
// now.
func (c *Controller) Allow() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gateOpen
}

// Tick re-evaluates the gate on the controller's own cadence, covering
// the case where no new ack has arrived but enough time has passed for a
// stall to be declared. Intended to be called from a 500ms loop per
// §4.4; no-ops if called faster than loopInterval allows.
func (c *Controller) Tick() {
	if !c.limiter.Allow() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reevaluateLocked(time.Now())
}

// SmoothedRTTMillis returns the current smoothed round-trip estimate in
// milliseconds.
func (c *Controller) SmoothedRTTMillis() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.smoothedRTT
}
