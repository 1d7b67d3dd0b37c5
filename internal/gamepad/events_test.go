package gamepad

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestJSEventRoundTrip(t *testing.T) {
	buf := EncodeJSEvent(12345, -500, jsEventAxis, 3)
	timeMs, value, eventType, number := DecodeJSEvent(buf)
	assert.Equal(t, uint32(12345), timeMs)
	assert.Equal(t, int16(-500), value)
	assert.Equal(t, jsEventAxis, eventType)
	assert.Equal(t, uint8(3), number)
}

func TestInterposerConfigExactSize(t *testing.T) {
	cfg := defaultConfig()
	raw := cfg.Encode()
	assert.Len(t, raw, InterposerConfigSize)
}

func TestInterposerConfigBitIdenticalAcrossReconnects(t *testing.T) {
	cfg := defaultConfig()
	first := cfg.Encode()
	second := cfg.Encode()
	assert.Equal(t, first, second)
}

func TestEncodeInputEventWithSynAppendsSynReport(t *testing.T) {
	now := time.Now()
	payload := EncodeInputEventWithSyn(8, now, evTypeAbs, 0x00, 32767)
	assert.Len(t, payload, evdevEventSize64*2)
}

func TestEncodeInputEvent32BitWordSize(t *testing.T) {
	now := time.Now()
	payload := EncodeInputEvent(4, now, evTypeKey, 0x130, 1)
	assert.Len(t, payload, evdevEventSize32)
}
