// Package gattcodec implements bit-exact encode/decode for the car GATT
// characteristic shapes (§4.1): u8, i8, bool, and string. Domain-specific
// clamping (steering range, battery range, ...) is the caller's
// responsibility; this package only enforces the wire-level bounds of each
// shape.
package gattcodec

import (
	"errors"
	"strings"
)

// ErrShortRead is returned when a decode call receives fewer bytes than its
// shape requires.
var ErrShortRead = errors.New("gattcodec: short read")

// Clamp restricts v to [lo, hi].
func Clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// EncodeU8 encodes an unsigned byte value, clamping to [0,255].
func EncodeU8(v int) []byte {
	return []byte{byte(Clamp(v, 0, 255))}
}

// DecodeU8 decodes a single unsigned byte.
func DecodeU8(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, ErrShortRead
	}
	return int(data[0]), nil
}

// EncodeI8 encodes a two's-complement signed byte, clamping to [-128,127].
func EncodeI8(v int) []byte {
	c := Clamp(v, -128, 127)
	return []byte{byte(int8(c))}
}

// DecodeI8 decodes a single two's-complement signed byte.
func DecodeI8(data []byte) (int, error) {
	if len(data) < 1 {
		return 0, ErrShortRead
	}
	return int(int8(data[0])), nil
}

// EncodeBool encodes a boolean as 0x01/0x00.
func EncodeBool(v bool) []byte {
	if v {
		return []byte{0x01}
	}
	return []byte{0x00}
}

// DecodeBool decodes a boolean; any nonzero byte is true.
func DecodeBool(data []byte) (bool, error) {
	if len(data) < 1 {
		return false, ErrShortRead
	}
	return data[0] != 0x00, nil
}

// EncodeString encodes a string as raw UTF-8 bytes with no terminator.
func EncodeString(s string) []byte {
	return []byte(s)
}

// DecodeString decodes raw bytes as UTF-8, substituting the replacement
// character for malformed sequences. An empty payload decodes to "".
func DecodeString(data []byte) (string, error) {
	return strings.ToValidUTF8(string(data), "�"), nil
}
