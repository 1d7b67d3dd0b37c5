package input

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClipboardTool struct {
	set  []string
	mime string
}

func (f *fakeClipboardTool) SetClipboard(mime string, data []byte) error {
	f.mime = mime
	f.set = append(f.set, string(data))
	return nil
}
func (f *fakeClipboardTool) ReadClipboard() (string, []byte, error) { return "text/plain", nil, nil }

func TestChunkedClipboardCompletesOnSizeMatch(t *testing.T) {
	tool := &fakeClipboardTool{}
	c := NewClipboardState(tool)

	c.StartChunked("image/png", 10)
	c.AppendChunk(base64.StdEncoding.EncodeToString([]byte("12345")))
	c.AppendChunk(base64.StdEncoding.EncodeToString([]byte("67890")))
	require.NoError(t, c.EndChunked())

	require.Len(t, tool.set, 1)
	assert.Equal(t, "1234567890", tool.set[0])
	assert.Equal(t, "image/png", tool.mime)
}

func TestChunkedClipboardDiscardsOnSizeMismatch(t *testing.T) {
	tool := &fakeClipboardTool{}
	c := NewClipboardState(tool)

	c.StartChunked("image/png", 100)
	c.AppendChunk(base64.StdEncoding.EncodeToString([]byte("short")))
	require.NoError(t, c.EndChunked())

	assert.Empty(t, tool.set)
}

func TestShouldChunkOutboundThreshold(t *testing.T) {
	assert.False(t, ShouldChunkOutbound(1024))
	assert.True(t, ShouldChunkOutbound(800*1024))
}
