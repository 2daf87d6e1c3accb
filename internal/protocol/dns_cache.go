package protocol

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/miekg/dns"
	"lib.kevinlin.info/aperture/lib"

	"dnscash/internal/data"
	"dnscash/internal/log"
	"dnscash/internal/metrics"
	"dnscash/internal/network"
	"dnscash/internal/wire"
)

// Transport is the datagram I/O surface the handler needs. It is satisfied by *network.UDPServer.
type Transport interface {
	// SendToPeer writes one datagram to a client.
	SendToPeer(peer net.Addr, msg []byte) error

	// SendToUpstream writes one datagram to the upstream resolver.
	SendToUpstream(msg []byte) error

	// UpstreamAddr is the only address from which responses are accepted.
	UpstreamAddr() net.Addr
}

// DNSCacheHandler is a DNS-protocol-aware datagram handler that answers client queries from a TLRU
// cache, forwards misses to the upstream resolver verbatim, and relays upstream responses verbatim
// to the clients that asked, caching them on the way through.
type DNSCacheHandler struct {
	Transport Transport
	Cache     *data.TLRUCache
	Pending   *data.PendingTable
	ProxyHook metrics.ProxyHook
	Logger    log.Logger
	Opts      DNSCacheOpts
}

// DNSCacheOpts formalizes configuration options for the cache handler.
type DNSCacheOpts struct {
	// MinTTL raises the lifetime of cached answers whose records expire sooner.
	MinTTL time.Duration
	// MaxTTL caps the lifetime of cached answers. Zero leaves lifetimes uncapped.
	MaxTTL time.Duration
	// Clock returns the current time. It defaults to time.Now.
	Clock func() time.Time
}

// Handle decodes a single datagram and dispatches it as either a client query or an upstream
// response. Malformed datagrams are dropped without a reply. An error is returned only when a
// datagram could not be written back out.
func (h *DNSCacheHandler) Handle(ctx context.Context, datagram *network.Datagram) error {
	header, question, _, err := wire.Decode(datagram.Payload)
	if err != nil {
		h.Logger.Debug(
			"dns_cache: dropping malformed datagram: addr=%s len=%d err=%v",
			datagram.Peer,
			len(datagram.Payload),
			err,
		)
		h.ProxyHook.EmitDrop(metrics.DropMalformed, datagram.Peer)

		return nil
	}

	if header.Response {
		return h.handleResponse(datagram, header, question)
	}

	return h.handleQuery(datagram, header, question)
}

// handleQuery answers a client query from cache, or registers the client as waiting and forwards
// the query unmodified to the upstream.
func (h *DNSCacheHandler) handleQuery(datagram *network.Datagram, header wire.Header, question wire.Question) error {
	peer := datagram.Peer
	h.ProxyHook.EmitRequestSize(int64(len(datagram.Payload)), peer)

	if answer, ok := h.Cache.Get(question); ok {
		h.ProxyHook.EmitCacheHit(peer)

		reply := cachedReply(&answer, header.ID, h.now())
		if err := h.Transport.SendToPeer(peer, reply); err != nil {
			h.ProxyHook.EmitError()
			return fmt.Errorf("dns_cache: error writing cached reply to client: question=%s err=%v", question, err)
		}

		h.Logger.Debug("dns_cache: served from cache: addr=%s id=%d question=%s", peer, header.ID, question)
		h.ProxyHook.EmitRTT(time.Since(datagram.Received), peer)

		return nil
	}

	h.ProxyHook.EmitCacheMiss(peer)

	key := data.PendingKey{ID: header.ID, Question: question}
	tracked := h.Pending.Register(key, peer)
	if !tracked {
		h.Logger.Warn(
			"dns_cache: unable to track pending query; forwarding anyway: addr=%s id=%d question=%s",
			peer,
			header.ID,
			question,
		)
	}

	upstreamTimer := lib.NewStopwatch()
	if err := h.Transport.SendToUpstream(datagram.Payload); err != nil {
		h.ProxyHook.EmitError()
		return fmt.Errorf("dns_cache: error forwarding query to upstream: question=%s err=%v", question, err)
	}

	h.Logger.Debug(
		"dns_cache: forwarded query to upstream: addr=%s id=%d question=%s tracked=%t write=%v",
		peer,
		header.ID,
		question,
		tracked,
		upstreamTimer.Elapsed(),
	)
	h.ProxyHook.EmitForward(peer, tracked)

	return nil
}

// handleResponse relays an upstream response to every client waiting on it and caches it when
// eligible. Responses from any other source, and responses nobody is waiting on, are dropped.
func (h *DNSCacheHandler) handleResponse(datagram *network.Datagram, header wire.Header, question wire.Question) error {
	upstream := h.Transport.UpstreamAddr()

	if !network.SameAddr(datagram.Peer, upstream) {
		h.Logger.Debug(
			"dns_cache: dropping response from non-upstream source: addr=%s upstream=%s",
			datagram.Peer,
			upstream,
		)
		h.ProxyHook.EmitDrop(metrics.DropSpoofed, datagram.Peer)

		return nil
	}

	h.ProxyHook.EmitResponseSize(int64(len(datagram.Payload)), upstream)

	waiters, created, ok := h.Pending.Take(data.PendingKey{ID: header.ID, Question: question})
	if !ok {
		h.Logger.Debug("dns_cache: dropping unsolicited response: id=%d question=%s", header.ID, question)
		h.ProxyHook.EmitDrop(metrics.DropUnsolicited, datagram.Peer)

		return nil
	}

	h.ProxyHook.EmitUpstreamLatency(h.now().Sub(created), upstream)

	var errs []error
	for _, waiter := range waiters {
		if err := h.Transport.SendToPeer(waiter, datagram.Payload); err != nil {
			errs = append(errs, err)
			continue
		}

		h.ProxyHook.EmitRTT(h.now().Sub(created), waiter)
	}

	h.ProxyHook.EmitRelay(len(waiters))
	h.Logger.Debug("dns_cache: relayed upstream response: id=%d question=%s waiters=%d", header.ID, question, len(waiters))

	h.cacheResponse(header, question, datagram.Payload)

	if len(errs) > 0 {
		h.ProxyHook.EmitError()
		return fmt.Errorf(
			"dns_cache: error relaying response to clients: failed=%d waiters=%d err=%v",
			len(errs),
			len(waiters),
			errors.Join(errs...),
		)
	}

	return nil
}

// cacheResponse stores a response that is successful, complete, non-empty, fits a UDP datagram,
// and has a positive minimum TTL. The lifetime is clamped to the configured bounds.
func (h *DNSCacheHandler) cacheResponse(header wire.Header, question wire.Question, payload []byte) {
	if header.RCode != dns.RcodeSuccess || header.Truncated || header.ANCount == 0 {
		return
	}

	if len(payload) > wire.MaxRDataLength {
		h.Logger.Debug("dns_cache: response too large to cache: question=%s len=%d", question, len(payload))
		return
	}

	ttl, err := minimumTTL(payload)
	if err != nil {
		h.Logger.Debug("dns_cache: unable to determine response TTL: question=%s err=%v", question, err)
		return
	}

	if ttl <= 0 {
		return
	}

	if ttl < h.Opts.MinTTL {
		ttl = h.Opts.MinTTL
	}

	if h.Opts.MaxTTL > 0 && ttl > h.Opts.MaxTTL {
		ttl = h.Opts.MaxTTL
	}

	answer, err := wire.NewAnswer(payload, ttl, h.now())
	if err != nil {
		return
	}

	h.Cache.Add(question, answer)
	h.Logger.Debug("dns_cache: cached response: question=%s ttl=%v", question, ttl)
}

func (h *DNSCacheHandler) now() time.Time {
	if h.Opts.Clock != nil {
		return h.Opts.Clock()
	}

	return time.Now()
}
