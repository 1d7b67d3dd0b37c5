package backpressure

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"streamdeskd/internal/types"
)

func TestGateOpenBeforeAnyAck(t *testing.T) {
	c := New()
	assert.True(t, c.Allow())
}

func TestGateOpenWhenClientFPSZero(t *testing.T) {
	c := New()
	c.RecordSend(types.FrameID(10))
	c.UpdateClientFPS(0)
	c.RecordAck(types.FrameID(10))
	assert.True(t, c.Allow())
}

func TestForwardDistanceWrapsAroundBoundary(t *testing.T) {
	sent := types.FrameID(10)
	acked := types.FrameID(65530)
	assert.Equal(t, 16, sent.ForwardDistance(acked))
}

func TestGateClosesOnLargeDesync(t *testing.T) {
	c := New()
	c.clientRenderFPS = 30
	c.haveAck = true
	c.sentID = types.FrameID(1000)
	c.ackedID = types.FrameID(0)
	c.reevaluateLocked(c.lastAckUpdate)
	assert.False(t, c.Allow())
}

func TestGateStaysOpenForSmallDesync(t *testing.T) {
	c := New()
	c.clientRenderFPS = 30
	c.haveAck = true
	c.sentID = types.FrameID(5)
	c.ackedID = types.FrameID(0)
	c.reevaluateLocked(c.lastAckUpdate)
	assert.True(t, c.Allow())
}
