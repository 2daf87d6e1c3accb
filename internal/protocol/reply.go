package protocol

import (
	"fmt"
	"math"
	"time"

	"github.com/miekg/dns"

	"dnscash/internal/wire"
)

// minimumTTL returns the smallest TTL across the answer, authority, and additional sections of a
// packed response. OPT pseudo-records carry no TTL and are skipped. A message with no records has
// a minimum TTL of zero.
func minimumTTL(msg []byte) (time.Duration, error) {
	var m dns.Msg
	if err := m.Unpack(msg); err != nil {
		return 0, fmt.Errorf("dns_cache: error unpacking response: err=%v", err)
	}

	minimum := uint32(math.MaxUint32)
	found := false

	for _, section := range [][]dns.RR{m.Answer, m.Ns, m.Extra} {
		for _, rr := range section {
			if rr.Header().Rrtype == dns.TypeOPT {
				continue
			}

			found = true
			if rr.Header().Ttl < minimum {
				minimum = rr.Header().Ttl
			}
		}
	}

	if !found {
		return 0, nil
	}

	return time.Duration(minimum) * time.Second, nil
}

// cachedReply builds the datagram sent to a client whose query hit the cache: the stored response
// with the client's transaction ID and every TTL lowered to the answer's remaining lifetime. If the
// stored message cannot be re-encoded within the UDP limit, only the transaction ID is patched.
func cachedReply(answer *wire.Answer, id uint16, now time.Time) []byte {
	payload := answer.Payload()

	var m dns.Msg
	if err := m.Unpack(payload); err != nil {
		return wire.WithID(payload, id)
	}

	m.Id = id
	remaining := uint32(answer.Remaining(now) / time.Second)

	for _, section := range [][]dns.RR{m.Answer, m.Ns, m.Extra} {
		for _, rr := range section {
			if rr.Header().Rrtype != dns.TypeOPT {
				rr.Header().Ttl = remaining
			}
		}
	}

	m.Compress = true
	packed, err := m.Pack()
	if err != nil || len(packed) > wire.MaxRDataLength {
		return wire.WithID(payload, id)
	}

	return packed
}
