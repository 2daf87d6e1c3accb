package wire

import (
	"fmt"
	"time"
)

// MaxRDataLength is the largest payload an Answer holds: the RFC 1035 UDP message limit.
const MaxRDataLength = 512

// Answer is a cached result for one question. The payload is held in a fixed array so that an
// Answer is a plain value: copying it out of the cache never aliases cache memory.
type Answer struct {
	// Expiry is the instant after which the answer is stale. It is derived from time.Now and so
	// carries a monotonic clock reading; comparisons against another time.Now are immune to
	// wall clock adjustments.
	Expiry   time.Time
	RDLength uint16
	RData    [MaxRDataLength]byte
}

// NewAnswer creates an answer holding a copy of payload that expires ttl after now.
func NewAnswer(payload []byte, ttl time.Duration, now time.Time) (Answer, error) {
	if len(payload) > MaxRDataLength {
		return Answer{}, fmt.Errorf("wire: answer payload too large: len=%d max=%d", len(payload), MaxRDataLength)
	}

	answer := Answer{
		Expiry:   now.Add(ttl),
		RDLength: uint16(len(payload)),
	}
	copy(answer.RData[:], payload)

	return answer, nil
}

// Payload returns the meaningful prefix of the resource-data array.
func (a *Answer) Payload() []byte {
	return a.RData[:a.RDLength]
}

// Expired reports whether the answer's expiry is at or before now.
func (a *Answer) Expired(now time.Time) bool {
	return !now.Before(a.Expiry)
}

// Remaining returns the time left before expiry, floored at zero.
func (a *Answer) Remaining(now time.Time) time.Duration {
	if remaining := a.Expiry.Sub(now); remaining > 0 {
		return remaining
	}

	return 0
}
