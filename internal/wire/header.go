package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the size of the fixed DNS message header on the wire.
const HeaderSize = 12

// ErrMalformed is the sentinel wrapped by every decoding failure.
var ErrMalformed = errors.New("wire: malformed message")

// Header is the decoded RFC 1035 §4.1.1 message header.
//
//	|QR|   Opcode  |AA|TC|RD|RA|   Z    |   RCODE   |
//	  1      4       1  1  1  1    3          4
type Header struct {
	ID                 uint16
	Response           bool
	Opcode             uint8
	Authoritative      bool
	Truncated          bool
	RecursionDesired   bool
	RecursionAvailable bool
	Z                  uint8
	RCode              uint8
	QDCount            uint16
	ANCount            uint16
	NSCount            uint16
	ARCount            uint16
}

// DecodeHeader decodes the fixed header at the start of msg.
func DecodeHeader(msg []byte) (Header, error) {
	if len(msg) < HeaderSize {
		return Header{}, fmt.Errorf("%w: message shorter than header: len=%d", ErrMalformed, len(msg))
	}

	flags := binary.BigEndian.Uint16(msg[2:4])

	return Header{
		ID:                 binary.BigEndian.Uint16(msg[0:2]),
		Response:           flags>>15&0x1 == 1,
		Opcode:             uint8(flags >> 11 & 0xF),
		Authoritative:      flags>>10&0x1 == 1,
		Truncated:          flags>>9&0x1 == 1,
		RecursionDesired:   flags>>8&0x1 == 1,
		RecursionAvailable: flags>>7&0x1 == 1,
		Z:                  uint8(flags >> 4 & 0x7),
		RCode:              uint8(flags & 0xF),
		QDCount:            binary.BigEndian.Uint16(msg[4:6]),
		ANCount:            binary.BigEndian.Uint16(msg[6:8]),
		NSCount:            binary.BigEndian.Uint16(msg[8:10]),
		ARCount:            binary.BigEndian.Uint16(msg[10:12]),
	}, nil
}

// Pack serializes the header into its 12-byte wire form. Fields wider than their wire width are
// truncated to it.
func (h Header) Pack() []byte {
	var flags uint16

	if h.Response {
		flags |= 1 << 15
	}
	flags |= uint16(h.Opcode&0xF) << 11
	if h.Authoritative {
		flags |= 1 << 10
	}
	if h.Truncated {
		flags |= 1 << 9
	}
	if h.RecursionDesired {
		flags |= 1 << 8
	}
	if h.RecursionAvailable {
		flags |= 1 << 7
	}
	flags |= uint16(h.Z&0x7) << 4
	flags |= uint16(h.RCode & 0xF)

	buf := make([]byte, HeaderSize)
	binary.BigEndian.PutUint16(buf[0:2], h.ID)
	binary.BigEndian.PutUint16(buf[2:4], flags)
	binary.BigEndian.PutUint16(buf[4:6], h.QDCount)
	binary.BigEndian.PutUint16(buf[6:8], h.ANCount)
	binary.BigEndian.PutUint16(buf[8:10], h.NSCount)
	binary.BigEndian.PutUint16(buf[10:12], h.ARCount)

	return buf
}
