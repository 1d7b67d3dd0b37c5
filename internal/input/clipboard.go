package input

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os/exec"
	"sync"

	"github.com/rs/zerolog/log"
)

// binaryChunkThreshold is the outbound-broadcast chunking threshold: 750
// KiB, per §4.6.
const binaryChunkThreshold = 750 * 1024

// ClipboardSetter pipes decoded clipboard bytes into the host clipboard
// tool with the given MIME type. It is the external clipboard-tool
// collaborator named in spec.md §1.
type ClipboardSetter interface {
	SetClipboard(mime string, data []byte) error
	ReadClipboard() (mime string, data []byte, err error)
}

// ToolClipboard shells out to xclip for clipboard get/set, matching the
// "tools accessed by name" framing used for input injection.
type ToolClipboard struct{}

// SetClipboard pipes data into xclip with the given MIME selection.
func (ToolClipboard) SetClipboard(mime string, data []byte) error {
	cmd := exec.Command("xclip", "-selection", "clipboard", "-t", mime)
	cmd.Stdin = bytes.NewReader(data)
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("input: xclip set failed: %w", err)
	}
	return nil
}

// ReadClipboard reads the current clipboard contents as plain text.
func (ToolClipboard) ReadClipboard() (string, []byte, error) {
	cmd := exec.Command("xclip", "-selection", "clipboard", "-o")
	out, err := cmd.Output()
	if err != nil {
		return "", nil, fmt.Errorf("input: xclip read failed: %w", err)
	}
	return "text/plain", out, nil
}

// transferBuffer accumulates a chunked clipboard transfer.
type transferBuffer struct {
	mime        string
	declared    int
	buf         bytes.Buffer
}

// ClipboardState owns the inbound chunked-transfer accumulator and the
// outbound change-poll state.
type ClipboardState struct {
	tool ClipboardSetter

	mu       sync.Mutex
	inbound  *transferBuffer
	lastSeen []byte
}

// NewClipboardState wraps a ClipboardSetter with the chunked-transfer
// state machine.
func NewClipboardState(tool ClipboardSetter) *ClipboardState {
	return &ClipboardState{tool: tool}
}

// SetSingleFrame handles the non-chunked "cw" verb: base64-decode and
// set immediately.
func (c *ClipboardState) SetSingleFrame(mime, b64 string) error {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		log.Warn().Err(err).Msg("cw: malformed base64")
		return nil
	}
	return c.tool.SetClipboard(mime, data)
}

// StartChunked handles "cws"/"cbs": begin an accumulation with a
// declared total size.
func (c *ClipboardState) StartChunked(mime string, declaredSize int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inbound = &transferBuffer{mime: mime, declared: declaredSize}
}

// AppendChunk handles "cwd"/"cbd": decode and append one base64 chunk.
func (c *ClipboardState) AppendChunk(b64 string) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		log.Warn().Err(err).Msg("clipboard chunk: malformed base64")
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inbound == nil {
		log.Warn().Msg("clipboard chunk received with no active transfer")
		return
	}
	c.inbound.buf.Write(data)
}

// EndChunked handles "cwe"/"cbe": verify accumulated size matches the
// declared size, then flush or discard per §8's invariant.
func (c *ClipboardState) EndChunked() error {
	c.mu.Lock()
	t := c.inbound
	c.inbound = nil
	c.mu.Unlock()

	if t == nil {
		log.Warn().Msg("clipboard transfer end with no active transfer")
		return nil
	}
	if t.buf.Len() != t.declared {
		log.Error().Int("received", t.buf.Len()).Int("declared", t.declared).
			Msg("clipboard transfer size mismatch, discarding")
		return nil
	}
	return c.tool.SetClipboard(t.mime, t.buf.Bytes())
}

// PollChange reads the current clipboard and returns (mime, data, true)
// if it differs from the last observed value (§4.6's 500ms poll).
func (c *ClipboardState) PollChange() (mime string, data []byte, changed bool) {
	mime, data, err := c.tool.ReadClipboard()
	if err != nil {
		return "", nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if bytes.Equal(data, c.lastSeen) {
		return "", nil, false
	}
	c.lastSeen = append([]byte(nil), data...)
	return mime, data, true
}

// ShouldChunkOutbound reports whether an outbound clipboard_binary
// broadcast must be split into clipboard_start/data/finish chunks.
func ShouldChunkOutbound(size int) bool {
	return size >= binaryChunkThreshold
}
