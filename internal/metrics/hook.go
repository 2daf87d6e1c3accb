package metrics

import (
	"net"
	"os"
	"strconv"
	"time"
)

// ConnectionIOHook is a metrics hook interface for reporting events related to I/O on the server's
// UDP socket.
type ConnectionIOHook interface {
	// EmitReadError reports the event that a socket read failed.
	EmitReadError(addr net.Addr)

	// EmitWriteError reports the event that a datagram write to addr failed.
	EmitWriteError(addr net.Addr)
}

// ProxyHook is a metrics hook interface for reporting events and latencies related to serving a
// client query, either from cache or by relaying an upstream response.
type ProxyHook interface {
	// EmitRequestSize reports the size of a client query on the wire.
	EmitRequestSize(bytes int64, client net.Addr)

	// EmitResponseSize reports the size of an upstream response on the wire.
	EmitResponseSize(bytes int64, upstream net.Addr)

	// EmitCacheHit reports a client query answered from cache.
	EmitCacheHit(client net.Addr)

	// EmitCacheMiss reports a client query that was not present in cache.
	EmitCacheMiss(client net.Addr)

	// EmitForward reports a client query forwarded to the upstream. Tracked is false when the
	// pending table could not record the client, so any response will not reach it.
	EmitForward(client net.Addr, tracked bool)

	// EmitRelay reports an upstream response fanned out to the given number of clients.
	EmitRelay(waiters int)

	// EmitDrop reports a datagram discarded without any outbound traffic.
	EmitDrop(reason DropReason, addr net.Addr)

	// EmitRTT reports the latency between receiving a datagram and writing the last reply it
	// produced.
	EmitRTT(latency time.Duration, client net.Addr)

	// EmitUpstreamLatency reports the time between forwarding a query and receiving the
	// corresponding upstream response.
	EmitUpstreamLatency(latency time.Duration, upstream net.Addr)

	// EmitError reports the occurrence of a critical error in the proxy lifecycle that causes
	// the request to not be correctly served.
	EmitError()
}

// PoolHook is a metrics hook interface for reporting worker pool behavior.
type PoolHook interface {
	// EmitQueueDepth reports the number of tasks waiting for a worker at the time of enqueue.
	EmitQueueDepth(depth int)

	// EmitTaskLatency reports how long a task waited in queue and how long it ran.
	EmitTaskLatency(wait time.Duration, run time.Duration)

	// EmitTaskError reports a task that returned an error or panicked.
	EmitTaskError(panicked bool)
}

// AsyncStatsdConnectionIOHook is an implementation of ConnectionIOHook that outputs metrics
// asynchronously to statsd.
type AsyncStatsdConnectionIOHook struct {
	client *StatsdClient
}

// AsyncStatsdProxyHook is an implementation of ProxyHook that outputs metrics asynchronously to
// statsd.
type AsyncStatsdProxyHook struct {
	client *StatsdClient
}

// AsyncStatsdPoolHook is an implementation of PoolHook that outputs metrics asynchronously to
// statsd.
type AsyncStatsdPoolHook struct {
	client *StatsdClient
}

// NoopConnectionIOHook implements the ConnectionIOHook interface but noops on all emissions.
type NoopConnectionIOHook struct{}

// NoopProxyHook implements the ProxyHook interface but noops on all emissions.
type NoopProxyHook struct{}

// NoopPoolHook implements the PoolHook interface but noops on all emissions.
type NoopPoolHook struct{}

// NewAsyncStatsdConnectionIOHook creates a new client with the specified statsd address, statsd
// sample rate, and version tag.
func NewAsyncStatsdConnectionIOHook(addr string, sampleRate float32, version string) (ConnectionIOHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdConnectionIOHook{client}, nil
}

// EmitReadError statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitReadError(addr net.Addr) {
	go h.client.Count("event.udp.read_error", 1, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// EmitWriteError statsd implementation.
func (h *AsyncStatsdConnectionIOHook) EmitWriteError(addr net.Addr) {
	go h.client.Count("event.udp.write_error", 1, map[string]string{
		"addr": ipFromAddr(addr),
	})
}

// NewNoopConnectionIOHook creates a noop implementation of ConnectionIOHook.
func NewNoopConnectionIOHook() ConnectionIOHook {
	return &NoopConnectionIOHook{}
}

// EmitReadError noops.
func (h *NoopConnectionIOHook) EmitReadError(addr net.Addr) {}

// EmitWriteError noops.
func (h *NoopConnectionIOHook) EmitWriteError(addr net.Addr) {}

// NewAsyncStatsdProxyHook creates a new client with the specified statsd address, sample rate, and
// version tag.
func NewAsyncStatsdProxyHook(addr string, sampleRate float32, version string) (ProxyHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdProxyHook{client}, nil
}

// EmitRequestSize statsd implementation
func (h *AsyncStatsdProxyHook) EmitRequestSize(bytes int64, client net.Addr) {
	go h.client.Size("size.proxy.request", bytes, map[string]string{
		"addr": ipFromAddr(client),
	})
}

// EmitResponseSize statsd implementation
func (h *AsyncStatsdProxyHook) EmitResponseSize(bytes int64, upstream net.Addr) {
	go h.client.Size("size.proxy.response", bytes, map[string]string{
		"addr": ipFromAddr(upstream),
	})
}

// EmitCacheHit statsd implementation
func (h *AsyncStatsdProxyHook) EmitCacheHit(client net.Addr) {
	go h.client.Count("event.cache.hit", 1, map[string]string{
		"addr": ipFromAddr(client),
	})
}

// EmitCacheMiss statsd implementation
func (h *AsyncStatsdProxyHook) EmitCacheMiss(client net.Addr) {
	go h.client.Count("event.cache.miss", 1, map[string]string{
		"addr": ipFromAddr(client),
	})
}

// EmitForward statsd implementation
func (h *AsyncStatsdProxyHook) EmitForward(client net.Addr, tracked bool) {
	go h.client.Count("event.proxy.forward", 1, map[string]string{
		"addr":    ipFromAddr(client),
		"tracked": strconv.FormatBool(tracked),
	})
}

// EmitRelay statsd implementation
func (h *AsyncStatsdProxyHook) EmitRelay(waiters int) {
	go func() {
		h.client.Count("event.proxy.relay", 1, nil)
		h.client.Gauge("gauge.proxy.relay_waiters", int64(waiters), nil)
	}()
}

// EmitDrop statsd implementation
func (h *AsyncStatsdProxyHook) EmitDrop(reason DropReason, addr net.Addr) {
	go h.client.Count("event.proxy.drop", 1, map[string]string{
		"addr":   ipFromAddr(addr),
		"reason": reason.String(),
	})
}

// EmitRTT statsd implementation
func (h *AsyncStatsdProxyHook) EmitRTT(latency time.Duration, client net.Addr) {
	go h.client.Timing("latency.proxy.tx_rtt", latency, map[string]string{
		"client": ipFromAddr(client),
	})
}

// EmitUpstreamLatency statsd implementation
func (h *AsyncStatsdProxyHook) EmitUpstreamLatency(latency time.Duration, upstream net.Addr) {
	go h.client.Timing("latency.proxy.tx_upstream", latency, map[string]string{
		"upstream": ipFromAddr(upstream),
	})
}

// EmitError statsd implementation
func (h *AsyncStatsdProxyHook) EmitError() {
	go h.client.Count("event.proxy.error", 1, nil)
}

// NewNoopProxyHook creates a noop implementation of ProxyHook.
func NewNoopProxyHook() ProxyHook {
	return &NoopProxyHook{}
}

// EmitRequestSize noops.
func (h *NoopProxyHook) EmitRequestSize(bytes int64, client net.Addr) {}

// EmitResponseSize noops.
func (h *NoopProxyHook) EmitResponseSize(bytes int64, upstream net.Addr) {}

// EmitCacheHit noops.
func (h *NoopProxyHook) EmitCacheHit(client net.Addr) {}

// EmitCacheMiss noops.
func (h *NoopProxyHook) EmitCacheMiss(client net.Addr) {}

// EmitForward noops.
func (h *NoopProxyHook) EmitForward(client net.Addr, tracked bool) {}

// EmitRelay noops.
func (h *NoopProxyHook) EmitRelay(waiters int) {}

// EmitDrop noops.
func (h *NoopProxyHook) EmitDrop(reason DropReason, addr net.Addr) {}

// EmitRTT noops.
func (h *NoopProxyHook) EmitRTT(latency time.Duration, client net.Addr) {}

// EmitUpstreamLatency noops.
func (h *NoopProxyHook) EmitUpstreamLatency(latency time.Duration, upstream net.Addr) {}

// EmitError noops.
func (h *NoopProxyHook) EmitError() {}

// NewAsyncStatsdPoolHook creates a new client with the specified statsd address, sample rate, and
// version tag.
func NewAsyncStatsdPoolHook(addr string, sampleRate float32, version string) (PoolHook, error) {
	client, err := statsdClientFactory(addr, sampleRate, version)
	if err != nil {
		return nil, err
	}

	return &AsyncStatsdPoolHook{client}, nil
}

// EmitQueueDepth statsd implementation
func (h *AsyncStatsdPoolHook) EmitQueueDepth(depth int) {
	go h.client.Gauge("gauge.pool.queue_depth", int64(depth), nil)
}

// EmitTaskLatency statsd implementation
func (h *AsyncStatsdPoolHook) EmitTaskLatency(wait time.Duration, run time.Duration) {
	go func() {
		h.client.Timing("latency.pool.task_wait", wait, nil)
		h.client.Timing("latency.pool.task_run", run, nil)
	}()
}

// EmitTaskError statsd implementation
func (h *AsyncStatsdPoolHook) EmitTaskError(panicked bool) {
	go h.client.Count("event.pool.task_error", 1, map[string]string{
		"panic": strconv.FormatBool(panicked),
	})
}

// NewNoopPoolHook creates a noop implementation of PoolHook.
func NewNoopPoolHook() PoolHook {
	return &NoopPoolHook{}
}

// EmitQueueDepth noops.
func (h *NoopPoolHook) EmitQueueDepth(depth int) {}

// EmitTaskLatency noops.
func (h *NoopPoolHook) EmitTaskLatency(wait time.Duration, run time.Duration) {}

// EmitTaskError noops.
func (h *NoopPoolHook) EmitTaskError(panicked bool) {}

// statsdClientFactory creates a configured StatsdClient with reasonable defaults for the given
// statsd server address, sample rate, and build version.
func statsdClientFactory(addr string, sampleRate float32, version string) (*StatsdClient, error) {
	hostname, err := os.Hostname()
	if err != nil {
		return nil, err
	}

	defaultTags := map[string]string{
		"host": hostname,
	}

	if version != "" {
		defaultTags["version"] = version
	}

	return NewStatsdClient(addr, "dnscash", defaultTags, sampleRate)
}

// ipFromAddr returns the IP address from a full net.Addr, or null if unavailable.
func ipFromAddr(addr net.Addr) string {
	switch networkAddr := addr.(type) {
	case *net.UDPAddr:
		return networkAddr.IP.String()
	case *net.TCPAddr:
		return networkAddr.IP.String()
	default:
		return "null"
	}
}
