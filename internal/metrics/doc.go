// Package metrics contains abstractions for emission of metrics generated throughout the lifetime
// of the application. Currently, the only supported metrics output engine is statsd.
//
// Metrics are generated at various points in a single datagram's lifecycle: when it is read off
// the socket, when a worker picks it up, when the cache is consulted, and when a reply is relayed.
// The emissions in this package are therefore structured around hooks: a hook interface defines
// methods that the server's logic routines invoke at those lifecycle points. Implementations of
// hook interfaces ship the metrics to a backend engine, decoupled from the business logic that
// triggers them.
package metrics
