package wire

import (
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeHeaderFlags(t *testing.T) {
	msg := []byte{0x12, 0x34, 0x81, 0x80, 0x00, 0x01, 0x00, 0x02, 0x00, 0x03, 0x00, 0x04}

	h, err := DecodeHeader(msg)
	require.NoError(t, err)

	assert.Equal(t, Header{
		ID:                 0x1234,
		Response:           true,
		RecursionDesired:   true,
		RecursionAvailable: true,
		QDCount:            1,
		ANCount:            2,
		NSCount:            3,
		ARCount:            4,
	}, h)
}

func TestHeaderPackRoundTrip(t *testing.T) {
	h := Header{
		ID:                 0xBEEF,
		Response:           true,
		Opcode:             5,
		Authoritative:      true,
		Truncated:          true,
		RecursionDesired:   false,
		RecursionAvailable: true,
		Z:                  5,
		RCode:              3,
		QDCount:            1,
		ANCount:            7,
		NSCount:            0,
		ARCount:            65535,
	}

	got, err := DecodeHeader(h.Pack())
	require.NoError(t, err)
	assert.Equal(t, h, got)
}

func TestDecodeShortHeader(t *testing.T) {
	for n := 0; n < HeaderSize; n++ {
		_, _, _, err := Decode(make([]byte, n))
		assert.ErrorIs(t, err, ErrMalformed, "len=%d", n)
	}
}

func TestDecodeQuery(t *testing.T) {
	question := Question{Name: "www.example.com", Type: 1, Class: 1}
	msg, err := EncodeQuery(Header{ID: 42, RecursionDesired: true}, question)
	require.NoError(t, err)

	h, q, offset, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, uint16(42), h.ID)
	assert.False(t, h.Response)
	assert.True(t, h.RecursionDesired)
	assert.Equal(t, uint16(1), h.QDCount)
	assert.Equal(t, question, q)
	assert.Equal(t, len(msg), offset)
}

func TestDecodeMissingTypeAndClass(t *testing.T) {
	msg, err := EncodeQuery(Header{ID: 1}, Question{Name: "example.com", Type: 1, Class: 1})
	require.NoError(t, err)

	for _, cut := range []int{1, 2, 3, 4} {
		_, _, _, err := Decode(msg[:len(msg)-cut])
		assert.ErrorIs(t, err, ErrMalformed, "cut=%d", cut)
	}
}

func TestDecodeEveryPrefix(t *testing.T) {
	m := new(dns.Msg)
	m.SetQuestion("a.fairly.long.name.example.org.", dns.TypeMX)
	msg, err := m.Pack()
	require.NoError(t, err)

	for n := 0; n < len(msg); n++ {
		assert.NotPanics(t, func() {
			_, _, _, err := Decode(msg[:n])
			assert.ErrorIs(t, err, ErrMalformed, "len=%d", n)
		})
	}

	_, q, _, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, Question{Name: "a.fairly.long.name.example.org", Type: dns.TypeMX, Class: dns.ClassINET}, q)
}

func TestDecodeQuestionPointingIntoHeader(t *testing.T) {
	// The count fields carry "\x03com\x00"; the question is "example" plus a pointer to it.
	msg := []byte{0x00, 0x07, 0x01, 0x00, 0x03, 'c', 'o', 'm', 0x00, 0x00, 0x00, 0x00}
	msg = append(msg, []byte("\x07example")...)
	msg = append(msg, 0xC0, 0x04, 0x00, 0x01, 0x00, 0x01)

	h, q, offset, err := Decode(msg)
	require.NoError(t, err)
	assert.Equal(t, uint16(7), h.ID)
	assert.Equal(t, Question{Name: "example.com", Type: 1, Class: 1}, q)
	assert.Equal(t, len(msg), offset)
}

func TestDecodeResponseFromLibrary(t *testing.T) {
	query := new(dns.Msg)
	query.SetQuestion("mail.example.com.", dns.TypeA)

	resp := new(dns.Msg)
	resp.SetReply(query)
	resp.Compress = true
	resp.Answer = append(resp.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: "mail.example.com.", Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: 60},
		A:   []byte{192, 0, 2, 1},
	})
	msg, err := resp.Pack()
	require.NoError(t, err)

	h, q, offset, err := Decode(msg)
	require.NoError(t, err)
	assert.True(t, h.Response)
	assert.Equal(t, uint16(1), h.ANCount)
	assert.Equal(t, "mail.example.com", q.Name)
	assert.Less(t, offset, len(msg))
}

func TestQuestionKeyIsCaseSensitive(t *testing.T) {
	lower := Question{Name: "example.com", Type: 1, Class: 1}
	upper := Question{Name: "EXAMPLE.com", Type: 1, Class: 1}

	keys := map[Question]int{lower: 1}
	_, ok := keys[upper]
	assert.False(t, ok)
}

func TestWithID(t *testing.T) {
	msg := []byte{0x00, 0x01, 0xAA}
	out := WithID(msg, 0xCAFE)

	assert.Equal(t, []byte{0xCA, 0xFE, 0xAA}, out)
	assert.Equal(t, []byte{0x00, 0x01, 0xAA}, msg)
	assert.Equal(t, []byte{0x01}, WithID([]byte{0x01}, 0xCAFE))
}

func TestAnswer(t *testing.T) {
	now := time.Now()

	_, err := NewAnswer(make([]byte, MaxRDataLength+1), time.Minute, now)
	assert.Error(t, err)

	answer, err := NewAnswer([]byte{1, 2, 3}, time.Minute, now)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, answer.Payload())
	assert.False(t, answer.Expired(now))
	assert.True(t, answer.Expired(now.Add(time.Minute)))
	assert.Equal(t, 30*time.Second, answer.Remaining(now.Add(30*time.Second)))
	assert.Equal(t, time.Duration(0), answer.Remaining(now.Add(time.Hour)))
}
