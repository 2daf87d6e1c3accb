package wire

import (
	"encoding/binary"
	"fmt"
	"strings"
)

const (
	// MaxLabelLength is the longest permitted label, per RFC 1035 §2.3.4.
	MaxLabelLength = 63
	// MaxNameLength bounds a decoded name, counting the separators between labels.
	MaxNameLength = 255
	// MaxPointerJumps is the most compression pointers followed while decoding one name
	// (RFC 9267 §2). Exceeding it fails the decode.
	MaxPointerJumps = 5

	pointerMask   = 0xC0
	pointerOffset = 0x3FFF
)

// decodeName decodes the possibly compressed name starting at offset. It returns the dot-joined
// name and the offset immediately following the name as it is written at offset, i.e. after the
// terminating zero byte or after the first compression pointer.
//
// Compression pointers must point strictly backward of the pointer being read, and at most
// MaxPointerJumps of them are followed.
func decodeName(msg []byte, offset int) (string, int, error) {
	name := make([]byte, 0, MaxNameLength)
	pos := offset
	next := -1
	jumps := 0

	for {
		if pos < 0 || pos >= len(msg) {
			return "", 0, fmt.Errorf("%w: name runs past end of message: offset=%d", ErrMalformed, pos)
		}

		length := int(msg[pos])

		switch {
		case length == 0:
			if next < 0 {
				next = pos + 1
			}

			return string(name), next, nil

		case length&pointerMask == pointerMask:
			if pos+1 >= len(msg) {
				return "", 0, fmt.Errorf("%w: truncated compression pointer: offset=%d", ErrMalformed, pos)
			}

			target := int(binary.BigEndian.Uint16(msg[pos:pos+2]) & pointerOffset)
			if target >= pos {
				return "", 0, fmt.Errorf(
					"%w: compression pointer is not backward: offset=%d target=%d",
					ErrMalformed,
					pos,
					target,
				)
			}

			jumps++
			if jumps > MaxPointerJumps {
				return "", 0, fmt.Errorf("%w: too many compression pointers: jumps=%d", ErrMalformed, jumps)
			}

			if next < 0 {
				next = pos + 2
			}
			pos = target

		case length > MaxLabelLength:
			// Also covers the reserved 0x40 and 0x80 label types.
			return "", 0, fmt.Errorf("%w: label length out of range: offset=%d len=%d", ErrMalformed, pos, length)

		default:
			grown := len(name) + length
			if len(name) > 0 {
				grown++
			}
			if grown > MaxNameLength {
				return "", 0, fmt.Errorf("%w: name exceeds %d bytes", ErrMalformed, MaxNameLength)
			}

			if pos+1+length > len(msg) {
				return "", 0, fmt.Errorf("%w: label runs past end of message: offset=%d len=%d", ErrMalformed, pos, length)
			}

			if len(name) > 0 {
				name = append(name, '.')
			}
			name = append(name, msg[pos+1:pos+1+length]...)
			pos += 1 + length
		}
	}
}

// EncodeName encodes a dot-separated name into uncompressed, length-prefixed wire form. A single
// trailing dot is accepted; the empty name encodes the root.
func EncodeName(name string) ([]byte, error) {
	name = strings.TrimSuffix(name, ".")
	if name == "" {
		return []byte{0}, nil
	}

	if len(name) > MaxNameLength {
		return nil, fmt.Errorf("wire: name exceeds %d bytes: len=%d", MaxNameLength, len(name))
	}

	buf := make([]byte, 0, len(name)+2)
	for _, label := range strings.Split(name, ".") {
		if len(label) == 0 || len(label) > MaxLabelLength {
			return nil, fmt.Errorf("wire: invalid label length: name=%s len=%d", name, len(label))
		}

		buf = append(buf, byte(len(label)))
		buf = append(buf, label...)
	}

	return append(buf, 0), nil
}
