package gamepad

import (
	"encoding/binary"
	"time"
)

// JSEventSize is the wire size of a struct js_event: u32 time, i16 value,
// u8 type, u8 number (§4.5).
const JSEventSize = 8

// EncodeJSEvent packs a joystick event into its 8-byte little-endian
// wire form.
func EncodeJSEvent(timeMs uint32, value int16, eventType uint8, number uint8) [JSEventSize]byte {
	var buf [JSEventSize]byte
	binary.LittleEndian.PutUint32(buf[0:4], timeMs)
	binary.LittleEndian.PutUint16(buf[4:6], uint16(value))
	buf[6] = eventType
	buf[7] = number
	return buf
}

// DecodeJSEvent is the inverse of EncodeJSEvent, used by the round-trip
// test and any future decode path.
func DecodeJSEvent(buf [JSEventSize]byte) (timeMs uint32, value int16, eventType uint8, number uint8) {
	timeMs = binary.LittleEndian.Uint32(buf[0:4])
	value = int16(binary.LittleEndian.Uint16(buf[4:6]))
	eventType = buf[6]
	number = buf[7]
	return
}

// evdevEventSize32 / evdevEventSize64 are the wire sizes of struct
// input_event under 32-bit and 64-bit timeval layouts respectively:
// timeval (tv_sec, tv_usec) + u16 type + u16 code + i32 value.
const (
	evdevEventSize32 = 4 + 4 + 2 + 2 + 4
	evdevEventSize64 = 8 + 8 + 2 + 2 + 4
)

// EncodeInputEvent packs one input_event using the timeval word size
// selected by the interposer handshake byte (4 or 8), per §6.
func EncodeInputEvent(wordSize int, t time.Time, evType, code uint16, value int32) []byte {
	sec := t.Unix()
	usec := int64(t.Nanosecond() / 1000)

	if wordSize == 8 {
		buf := make([]byte, evdevEventSize64)
		binary.LittleEndian.PutUint64(buf[0:8], uint64(sec))
		binary.LittleEndian.PutUint64(buf[8:16], uint64(usec))
		binary.LittleEndian.PutUint16(buf[16:18], evType)
		binary.LittleEndian.PutUint16(buf[18:20], code)
		binary.LittleEndian.PutUint32(buf[20:24], uint32(value))
		return buf
	}
	buf := make([]byte, evdevEventSize32)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(sec))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(usec))
	binary.LittleEndian.PutUint16(buf[8:10], evType)
	binary.LittleEndian.PutUint16(buf[10:12], code)
	binary.LittleEndian.PutUint32(buf[12:16], uint32(value))
	return buf
}

// EncodeInputEventWithSyn appends a SYN_REPORT input_event after the
// primary event, as required by §4.5/§6 for every EVDEV write.
func EncodeInputEventWithSyn(wordSize int, t time.Time, evType, code uint16, value int32) []byte {
	primary := EncodeInputEvent(wordSize, t, evType, code, value)
	syn := EncodeInputEvent(wordSize, t, evTypeSyn, synReport, 0)
	return append(primary, syn...)
}
