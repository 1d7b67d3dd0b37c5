// Package gamepad implements the GamepadHub (§4.5): a fixed set of
// virtual-controller slots, each exposing two Unix-domain sockets that
// speak the Linux joystick/evdev interposer protocol (§6).
package gamepad

import "encoding/binary"

// NumSlots is the fixed number of pre-allocated gamepad slots (N=4, §4.5).
const NumSlots = 4

// InterposerConfigSize is the exact wire size of the configuration
// payload handed to every newly connected interposer client (§6).
const InterposerConfigSize = 1360

const (
	offsetName     = 0
	nameLen        = 255
	offsetPad      = 255
	offsetVendor   = 256
	offsetProduct  = 258
	offsetVersion  = 260
	offsetNumBtns  = 262
	offsetNumAxes  = 264
	offsetBtnMap   = 266
	btnMapLen      = 512
	offsetAxesMap  = 1290
	axesMapLen     = 64
	offsetTailPad  = 1354
	tailPadLen     = 6
)

// DefaultIdentity is the Xbox 360 controller identity every slot reports,
// per §6.
var DefaultIdentity = InterposerConfig{
	Name:    "Microsoft X-Box 360 pad",
	Vendor:  0x045e,
	Product: 0x028e,
	Version: 0x0114,
	NumBtns: 11,
	NumAxes: 8,
}

// InterposerConfig is the value type cached per slot and sent
// bit-identical on every interposer connection (§3).
type InterposerConfig struct {
	Name    string
	Vendor  uint16
	Product uint16
	Version uint16
	NumBtns uint16
	NumAxes uint16
	BtnMap  [btnMapLen]uint16
	AxesMap [axesMapLen]uint8
}

// Encode packs the config into the exact 1360-byte native-endian wire
// layout from §6.
func (c InterposerConfig) Encode() [InterposerConfigSize]byte {
	var buf [InterposerConfigSize]byte
	copy(buf[offsetName:offsetName+nameLen], c.Name)
	binary.NativeEndian.PutUint16(buf[offsetVendor:], c.Vendor)
	binary.NativeEndian.PutUint16(buf[offsetProduct:], c.Product)
	binary.NativeEndian.PutUint16(buf[offsetVersion:], c.Version)
	binary.NativeEndian.PutUint16(buf[offsetNumBtns:], c.NumBtns)
	binary.NativeEndian.PutUint16(buf[offsetNumAxes:], c.NumAxes)
	for i, v := range c.BtnMap {
		binary.NativeEndian.PutUint16(buf[offsetBtnMap+i*2:], v)
	}
	copy(buf[offsetAxesMap:offsetAxesMap+axesMapLen], c.AxesMap[:])
	// offsetTailPad..+tailPadLen left zero.
	_ = tailPadLen
	return buf
}

// defaultBtnMap/defaultAxesMap hold the evdev codes for the 11 buttons /
// 8 axes of DefaultIdentity; values beyond NumBtns/NumAxes are unused
// padding and stay zero.
func defaultConfig() InterposerConfig {
	cfg := DefaultIdentity
	// evdev BTN_* codes: SOUTH, EAST, NORTH, WEST, TL, TR, SELECT, START, MODE, THUMBL, THUMBR
	btnCodes := []uint16{0x130, 0x131, 0x133, 0x134, 0x136, 0x137, 0x13a, 0x13b, 0x13c, 0x13d, 0x13e}
	for i, code := range btnCodes {
		cfg.BtnMap[i] = code
	}
	// evdev ABS_* codes: X, Y, Z, RX, RY, RZ, HAT0X, HAT0Y
	axesCodes := []uint8{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x10, 0x11}
	copy(cfg.AxesMap[:], axesCodes)
	return cfg
}
