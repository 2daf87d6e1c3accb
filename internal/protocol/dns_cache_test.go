package protocol

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dnscash/internal/data"
	"dnscash/internal/log"
	"dnscash/internal/metrics"
	"dnscash/internal/network"
	"dnscash/internal/wire"
)

var (
	upstreamAddr = &net.UDPAddr{IP: net.IPv4(192, 0, 2, 53), Port: 53}
	clientA      = &net.UDPAddr{IP: net.IPv4(198, 51, 100, 1), Port: 40000}
	clientB      = &net.UDPAddr{IP: net.IPv4(198, 51, 100, 2), Port: 40001}
)

type sentDatagram struct {
	peer net.Addr
	msg  []byte
}

// fakeTransport records outbound datagrams instead of writing them to a socket.
type fakeTransport struct {
	toPeers    []sentDatagram
	toUpstream [][]byte
	fail       bool
	mutex      sync.Mutex
}

func (f *fakeTransport) SendToPeer(peer net.Addr, msg []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.fail {
		return errors.New("write failed")
	}

	f.toPeers = append(f.toPeers, sentDatagram{peer, append([]byte(nil), msg...)})
	return nil
}

func (f *fakeTransport) SendToUpstream(msg []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()

	if f.fail {
		return errors.New("write failed")
	}

	f.toUpstream = append(f.toUpstream, append([]byte(nil), msg...))
	return nil
}

func (f *fakeTransport) UpstreamAddr() net.Addr {
	return upstreamAddr
}

// recordingProxyHook counts drops by reason.
type recordingProxyHook struct {
	metrics.NoopProxyHook
	drops map[metrics.DropReason]int
	mutex sync.Mutex
}

func (h *recordingProxyHook) EmitDrop(reason metrics.DropReason, addr net.Addr) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	if h.drops == nil {
		h.drops = make(map[metrics.DropReason]int)
	}
	h.drops[reason]++
}

type fixture struct {
	handler   *DNSCacheHandler
	transport *fakeTransport
	hook      *recordingProxyHook
	now       time.Time
}

func newFixture(opts DNSCacheOpts) *fixture {
	f := &fixture{
		transport: &fakeTransport{},
		hook:      &recordingProxyHook{},
		now:       time.Unix(1700000000, 0),
	}

	clock := func() time.Time { return f.now }
	opts.Clock = clock

	f.handler = &DNSCacheHandler{
		Transport: f.transport,
		Cache:     data.NewTLRUCache(16, true, data.TLRUCacheOpts{Clock: clock}),
		Pending:   data.NewPendingTable(data.PendingTableOpts{Clock: clock}),
		ProxyHook: f.hook,
		Logger:    log.NewNoopLogger(),
		Opts:      opts,
	}

	return f
}

func (f *fixture) handle(t *testing.T, peer net.Addr, msg []byte) error {
	t.Helper()

	return f.handler.Handle(context.Background(), &network.Datagram{
		Payload:  msg,
		Peer:     peer,
		Received: f.now,
	})
}

func packQuery(t *testing.T, id uint16, name string) []byte {
	t.Helper()

	m := new(dns.Msg)
	m.SetQuestion(name, dns.TypeA)
	m.Id = id

	msg, err := m.Pack()
	require.NoError(t, err)

	return msg
}

func packResponse(t *testing.T, id uint16, name string, ttl uint32, mutate func(*dns.Msg)) []byte {
	t.Helper()

	query := new(dns.Msg)
	query.SetQuestion(name, dns.TypeA)
	query.Id = id

	m := new(dns.Msg)
	m.SetReply(query)
	m.Answer = append(m.Answer, &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   net.IPv4(203, 0, 113, 7),
	})

	if mutate != nil {
		mutate(m)
	}

	msg, err := m.Pack()
	require.NoError(t, err)

	return msg
}

func questionFor(name string) wire.Question {
	return wire.Question{Name: name, Type: dns.TypeA, Class: dns.ClassINET}
}

func TestHandleMissForwardsVerbatim(t *testing.T) {
	f := newFixture(DNSCacheOpts{})
	query := packQuery(t, 0x1111, "www.example.com.")

	require.NoError(t, f.handle(t, clientA, query))

	require.Len(t, f.transport.toUpstream, 1)
	assert.Equal(t, query, f.transport.toUpstream[0])
	assert.Empty(t, f.transport.toPeers)
	assert.Equal(t, 1, f.handler.Pending.Len())
}

func TestHandleHitAnswersFromCache(t *testing.T) {
	f := newFixture(DNSCacheOpts{})
	stored := packResponse(t, 0x2222, "www.example.com.", 300, nil)

	answer, err := wire.NewAnswer(stored, 300*time.Second, f.now)
	require.NoError(t, err)
	f.handler.Cache.Add(questionFor("www.example.com"), answer)

	f.now = f.now.Add(100 * time.Second)
	require.NoError(t, f.handle(t, clientA, packQuery(t, 0x3333, "www.example.com.")))

	assert.Empty(t, f.transport.toUpstream, "cache hits are never forwarded")
	require.Len(t, f.transport.toPeers, 1)
	assert.Equal(t, clientA, f.transport.toPeers[0].peer)

	reply := new(dns.Msg)
	require.NoError(t, reply.Unpack(f.transport.toPeers[0].msg))
	assert.Equal(t, uint16(0x3333), reply.Id)
	assert.True(t, reply.Response)
	require.Len(t, reply.Answer, 1)
	assert.Equal(t, uint32(200), reply.Answer[0].Header().Ttl)
	assert.Equal(t, "203.0.113.7", reply.Answer[0].(*dns.A).A.String())
}

func TestHandleExpiredEntryIsForwarded(t *testing.T) {
	f := newFixture(DNSCacheOpts{})
	stored := packResponse(t, 1, "www.example.com.", 10, nil)

	answer, err := wire.NewAnswer(stored, 10*time.Second, f.now)
	require.NoError(t, err)
	f.handler.Cache.Add(questionFor("www.example.com"), answer)

	f.now = f.now.Add(10 * time.Second)
	require.NoError(t, f.handle(t, clientA, packQuery(t, 2, "www.example.com.")))

	assert.Len(t, f.transport.toUpstream, 1)
	assert.Empty(t, f.transport.toPeers)
}

func TestHandleRelaysAndCachesResponse(t *testing.T) {
	f := newFixture(DNSCacheOpts{})
	query := packQuery(t, 0x4444, "mail.example.com.")

	require.NoError(t, f.handle(t, clientA, query))
	require.NoError(t, f.handle(t, clientB, query))
	assert.Len(t, f.transport.toUpstream, 2, "concurrent misses are each forwarded")

	response := packResponse(t, 0x4444, "mail.example.com.", 60, nil)
	require.NoError(t, f.handle(t, upstreamAddr, response))

	require.Len(t, f.transport.toPeers, 2)
	assert.Equal(t, clientA, f.transport.toPeers[0].peer)
	assert.Equal(t, clientB, f.transport.toPeers[1].peer)
	assert.Equal(t, response, f.transport.toPeers[0].msg)
	assert.Equal(t, response, f.transport.toPeers[1].msg)
	assert.Equal(t, 0, f.handler.Pending.Len())

	cached, ok := f.handler.Cache.Get(questionFor("mail.example.com"))
	require.True(t, ok)
	assert.Equal(t, response, cached.Payload())
	assert.Equal(t, f.now.Add(60*time.Second), cached.Expiry)

	// A second identical response finds nobody waiting.
	require.NoError(t, f.handle(t, upstreamAddr, response))
	assert.Len(t, f.transport.toPeers, 2)
	assert.Equal(t, 1, f.hook.drops[metrics.DropUnsolicited])
}

func TestHandleDropsSpoofedResponse(t *testing.T) {
	f := newFixture(DNSCacheOpts{})
	require.NoError(t, f.handle(t, clientA, packQuery(t, 7, "example.com.")))

	spoofer := &net.UDPAddr{IP: net.IPv4(192, 0, 2, 99), Port: 53}
	require.NoError(t, f.handle(t, spoofer, packResponse(t, 7, "example.com.", 60, nil)))

	assert.Empty(t, f.transport.toPeers)
	assert.Equal(t, 1, f.handler.Pending.Len(), "the pending entry survives a spoofed response")
	assert.False(t, f.handler.Cache.Has(questionFor("example.com")))
	assert.Equal(t, 1, f.hook.drops[metrics.DropSpoofed])
}

func TestHandleDropsMalformed(t *testing.T) {
	f := newFixture(DNSCacheOpts{})

	for _, msg := range [][]byte{nil, {0x01}, make([]byte, 11), append(make([]byte, 12), 0xC0, 0x0C)} {
		assert.NoError(t, f.handle(t, clientA, msg))
	}

	assert.Empty(t, f.transport.toPeers)
	assert.Empty(t, f.transport.toUpstream)
	assert.Equal(t, 4, f.hook.drops[metrics.DropMalformed])
}

func TestHandleDoesNotCacheIneligibleResponses(t *testing.T) {
	tests := []struct {
		name   string
		ttl    uint32
		mutate func(*dns.Msg)
	}{
		{name: "nxdomain", ttl: 60, mutate: func(m *dns.Msg) { m.Rcode = dns.RcodeNameError }},
		{name: "truncated", ttl: 60, mutate: func(m *dns.Msg) { m.Truncated = true }},
		{name: "no answers", ttl: 60, mutate: func(m *dns.Msg) { m.Answer = nil }},
		{name: "zero ttl", ttl: 0},
		{name: "oversized", ttl: 60, mutate: func(m *dns.Msg) {
			for i := 0; i < 40; i++ {
				m.Answer = append(m.Answer, &dns.TXT{
					Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
					Txt: []string{"padding-padding-padding"},
				})
			}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(DNSCacheOpts{})
			require.NoError(t, f.handle(t, clientA, packQuery(t, 9, "example.com.")))

			response := packResponse(t, 9, "example.com.", tt.ttl, tt.mutate)
			require.NoError(t, f.handle(t, upstreamAddr, response))

			require.Len(t, f.transport.toPeers, 1, "ineligible responses are still relayed")
			assert.Equal(t, response, f.transport.toPeers[0].msg)
			assert.False(t, f.handler.Cache.Has(questionFor("example.com")))
		})
	}
}

func TestHandleClampsTTL(t *testing.T) {
	tests := []struct {
		name string
		ttl  uint32
		opts DNSCacheOpts
		want time.Duration
	}{
		{name: "raised to minimum", ttl: 5, opts: DNSCacheOpts{MinTTL: time.Minute}, want: time.Minute},
		{name: "capped at maximum", ttl: 86400, opts: DNSCacheOpts{MaxTTL: time.Hour}, want: time.Hour},
		{name: "unchanged", ttl: 120, opts: DNSCacheOpts{MinTTL: time.Second, MaxTTL: time.Hour}, want: 2 * time.Minute},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(tt.opts)
			require.NoError(t, f.handle(t, clientA, packQuery(t, 3, "example.com.")))
			require.NoError(t, f.handle(t, upstreamAddr, packResponse(t, 3, "example.com.", tt.ttl, nil)))

			cached, ok := f.handler.Cache.Get(questionFor("example.com"))
			require.True(t, ok)
			assert.Equal(t, f.now.Add(tt.want), cached.Expiry)
		})
	}
}

func TestHandleEndToEndMissThenHit(t *testing.T) {
	f := newFixture(DNSCacheOpts{})

	require.NoError(t, f.handle(t, clientA, packQuery(t, 100, "example.org.")))
	require.NoError(t, f.handle(t, upstreamAddr, packResponse(t, 100, "example.org.", 300, nil)))
	require.Len(t, f.transport.toUpstream, 1)

	require.NoError(t, f.handle(t, clientB, packQuery(t, 200, "example.org.")))
	assert.Len(t, f.transport.toUpstream, 1, "the second query is answered from cache")
	require.Len(t, f.transport.toPeers, 2)

	reply := new(dns.Msg)
	require.NoError(t, reply.Unpack(f.transport.toPeers[1].msg))
	assert.Equal(t, uint16(200), reply.Id)
	assert.Equal(t, clientB, f.transport.toPeers[1].peer)
}

func TestHandleReturnsTransportErrors(t *testing.T) {
	f := newFixture(DNSCacheOpts{})
	f.transport.fail = true

	assert.Error(t, f.handle(t, clientA, packQuery(t, 1, "example.com.")))

	f.transport.fail = false
	require.NoError(t, f.handle(t, clientA, packQuery(t, 2, "example.com.")))

	f.transport.fail = true
	assert.Error(t, f.handle(t, upstreamAddr, packResponse(t, 2, "example.com.", 60, nil)))
	assert.True(t, f.handler.Cache.Has(questionFor("example.com")), "relay failures do not prevent caching")
}

func TestCachedReplyFallsBackToIDPatch(t *testing.T) {
	answer, err := wire.NewAnswer([]byte{0x00, 0x00, 0xAB}, time.Minute, time.Now())
	require.NoError(t, err)

	assert.Equal(t, []byte{0xBE, 0xEF, 0xAB}, cachedReply(&answer, 0xBEEF, time.Now()))
}

func TestMinimumTTLSkipsOPT(t *testing.T) {
	msg := packResponse(t, 1, "example.com.", 300, func(m *dns.Msg) {
		m.Ns = append(m.Ns, &dns.NS{
			Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeNS, Class: dns.ClassINET, Ttl: 120},
			Ns:  "ns1.example.com.",
		})
		m.SetEdns0(4096, false)
	})

	ttl, err := minimumTTL(msg)
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, ttl)

	_, err = minimumTTL([]byte{1, 2, 3})
	assert.Error(t, err)
}
