// Package protocol concerns itself primarily with DNS protocol-specific business logic. It decides
// whether a datagram is a client query or an upstream response, answers queries from the cache
// where possible, forwards the rest to the upstream resolver, and relays upstream responses back to
// every client waiting on them.
package protocol
