package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"streamdeskd/internal/types"
)

func TestParseWxHValid(t *testing.T) {
	w, h, ok := parseWxH("1920x1080")
	require.True(t, ok)
	assert.Equal(t, 1920, w)
	assert.Equal(t, 1080, h)
}

func TestParseWxHRejectsMalformed(t *testing.T) {
	_, _, ok := parseWxH("not-a-resolution")
	assert.False(t, ok)
}

func TestDecodeSettingsDefaultsToJPEG(t *testing.T) {
	cs, _ := decodeSettings(map[string]any{}, types.CaptureSettings{}, types.AudioSettings{})
	assert.Equal(t, types.OutputModeJPEG, cs.Mode)
}

func TestDecodeSettingsSelectsStripedH264(t *testing.T) {
	cs, _ := decodeSettings(map[string]any{
		"webrtc_encoder":        "x264enc-striped",
		"webrtc_videoFramerate": float64(60),
	}, types.CaptureSettings{}, types.AudioSettings{})
	assert.Equal(t, types.OutputModeStripedH264, cs.Mode)
	assert.True(t, cs.StreamingMode)
	assert.Equal(t, 60, cs.TargetFPS)
	assert.Equal(t, "x264enc-striped", cs.Encoder())
}

func TestDecodeSettingsSameTwiceNoExtraRestart(t *testing.T) {
	raw := map[string]any{"webrtc_encoder": "jpeg", "pixelflux_jpeg_quality": float64(40)}
	a, _ := decodeSettings(raw, types.CaptureSettings{}, types.AudioSettings{})
	b, _ := decodeSettings(raw, types.CaptureSettings{}, types.AudioSettings{})
	assert.False(t, a.RestartDiff(b))
}
