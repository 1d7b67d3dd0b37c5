// Package wire implements the single-WebSocket wire protocol: a small
// binary frame codec for media/file/mic payloads and a comma-delimited
// text verb grammar for everything else (§4.1).
package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Binary frame tags, server -> client.
const (
	TagAudio        byte = 0x01
	TagJPEGStripe   byte = 0x03
	TagH264Striped  byte = 0x04
)

// Binary frame tags, client -> server.
const (
	TagUploadChunk byte = 0x01
	TagMicPCM      byte = 0x02
)

// VideoFrame is the decoded form of a server->client binary video payload.
// JPEG/H264-striped frames both carry a wrapping FrameID as the first two
// bytes after the tag, little-endian.
type VideoFrame struct {
	Tag     byte
	FrameID uint16
	Payload []byte
}

// EncodeVideoFrame packs a tag + 16-bit FrameID + payload into one binary
// WebSocket message.
func EncodeVideoFrame(tag byte, frameID uint16, payload []byte) []byte {
	buf := make([]byte, 3+len(payload))
	buf[0] = tag
	binary.LittleEndian.PutUint16(buf[1:3], frameID)
	copy(buf[3:], payload)
	return buf
}

// DecodeVideoFrame parses a server->client binary video message.
func DecodeVideoFrame(data []byte) (VideoFrame, error) {
	if len(data) < 3 {
		return VideoFrame{}, fmt.Errorf("wire: video frame too short (%d bytes)", len(data))
	}
	return VideoFrame{
		Tag:     data[0],
		FrameID: binary.LittleEndian.Uint16(data[1:3]),
		Payload: data[3:],
	}, nil
}

// EncodeAudioFrame packs an Opus packet into a tagged binary message.
func EncodeAudioFrame(payload []byte) []byte {
	buf := make([]byte, 1+len(payload))
	buf[0] = TagAudio
	copy(buf[1:], payload)
	return buf
}

// UploadChunk is the decoded form of a client->server file-upload binary
// message: tag, then a null-terminated relative path, then raw bytes.
type UploadChunk struct {
	RelPath string
	Data    []byte
}

// DecodeUploadChunk parses a client->server 0x01 upload-chunk message.
func DecodeUploadChunk(data []byte) (UploadChunk, error) {
	if len(data) < 1 || data[0] != TagUploadChunk {
		return UploadChunk{}, fmt.Errorf("wire: not an upload chunk")
	}
	rest := data[1:]
	nul := bytes.IndexByte(rest, 0)
	if nul < 0 {
		return UploadChunk{}, fmt.Errorf("wire: upload chunk missing path terminator")
	}
	return UploadChunk{
		RelPath: string(rest[:nul]),
		Data:    rest[nul+1:],
	}, nil
}

// DecodeMicPCM parses a client->server 0x02 mic-PCM message, returning the
// raw PCM payload.
func DecodeMicPCM(data []byte) ([]byte, error) {
	if len(data) < 1 || data[0] != TagMicPCM {
		return nil, fmt.Errorf("wire: not a mic PCM message")
	}
	return data[1:], nil
}
