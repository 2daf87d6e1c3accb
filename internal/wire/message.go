package wire

import (
	"encoding/binary"
	"fmt"
)

// Question is the decoded RFC 1035 §4.1.2 question. It is comparable and is used verbatim as a
// cache key, so two questions are equal only if their names match byte for byte.
type Question struct {
	Name  string
	Type  uint16
	Class uint16
}

// String implements the Stringer interface for log output.
func (q Question) String() string {
	return fmt.Sprintf("%s/%d/%d", q.Name, q.Type, q.Class)
}

// Decode decodes the header and the first question of a DNS message. It returns the offset
// immediately following the question's class field, which is where the answer section begins.
//
// Only the first question is decoded; QDCOUNT is reported in the header but not enforced.
func Decode(msg []byte) (Header, Question, int, error) {
	header, err := DecodeHeader(msg)
	if err != nil {
		return Header{}, Question{}, 0, err
	}

	name, offset, err := decodeName(msg, HeaderSize)
	if err != nil {
		return Header{}, Question{}, 0, err
	}

	if offset+4 > len(msg) {
		return Header{}, Question{}, 0, fmt.Errorf(
			"%w: question missing type and class: offset=%d len=%d",
			ErrMalformed,
			offset,
			len(msg),
		)
	}

	question := Question{
		Name:  name,
		Type:  binary.BigEndian.Uint16(msg[offset : offset+2]),
		Class: binary.BigEndian.Uint16(msg[offset+2 : offset+4]),
	}

	return header, question, offset + 4, nil
}

// EncodeQuery builds a single-question message from a header and question. The header's QDCOUNT
// is forced to 1 and the other counts to 0.
func EncodeQuery(header Header, question Question) ([]byte, error) {
	name, err := EncodeName(question.Name)
	if err != nil {
		return nil, err
	}

	header.QDCount = 1
	header.ANCount, header.NSCount, header.ARCount = 0, 0, 0

	msg := append(header.Pack(), name...)
	msg = binary.BigEndian.AppendUint16(msg, question.Type)
	msg = binary.BigEndian.AppendUint16(msg, question.Class)

	return msg, nil
}

// WithID returns a copy of msg with its transaction ID replaced. Messages too short to carry an
// ID are copied unchanged.
func WithID(msg []byte, id uint16) []byte {
	out := make([]byte, len(msg))
	copy(out, msg)

	if len(out) >= 2 {
		binary.BigEndian.PutUint16(out[0:2], id)
	}

	return out
}
