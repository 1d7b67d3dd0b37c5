package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVideoFrameRoundTrip(t *testing.T) {
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	encoded := EncodeVideoFrame(TagJPEGStripe, 65530, payload)

	decoded, err := DecodeVideoFrame(encoded)
	require.NoError(t, err)
	assert.Equal(t, TagJPEGStripe, decoded.Tag)
	assert.Equal(t, uint16(65530), decoded.FrameID)
	assert.Equal(t, payload, decoded.Payload)
}

func TestDecodeVideoFrameTooShort(t *testing.T) {
	_, err := DecodeVideoFrame([]byte{0x03, 0x01})
	assert.Error(t, err)
}

func TestUploadChunkRoundTrip(t *testing.T) {
	raw := append([]byte{TagUploadChunk}, append([]byte("foo/bar.txt\x00"), []byte("hello")...)...)
	chunk, err := DecodeUploadChunk(raw)
	require.NoError(t, err)
	assert.Equal(t, "foo/bar.txt", chunk.RelPath)
	assert.Equal(t, []byte("hello"), chunk.Data)
}

func TestDecodeUploadChunkMissingTerminator(t *testing.T) {
	_, err := DecodeUploadChunk([]byte{TagUploadChunk, 'a', 'b'})
	assert.Error(t, err)
}

func TestParseMessageNoArgs(t *testing.T) {
	msg := ParseMessage("START_VIDEO")
	assert.Equal(t, "START_VIDEO", msg.Verb)
	assert.Empty(t, msg.Args)
}

func TestParseMessageWithArgs(t *testing.T) {
	msg := ParseMessage("m,100,200")
	assert.Equal(t, "m", msg.Verb)
	x, err := msg.IntArg(0)
	require.NoError(t, err)
	y, err := msg.IntArg(1)
	require.NoError(t, err)
	assert.Equal(t, 100, x)
	assert.Equal(t, 200, y)
}

func TestMessageIntArgMalformed(t *testing.T) {
	msg := ParseMessage("m,abc,200")
	_, err := msg.IntArg(0)
	assert.Error(t, err)
}

func TestBuildModeRoundTrip(t *testing.T) {
	assert.Equal(t, "MODE,x264enc-striped", BuildMode("x264enc-striped"))
}
