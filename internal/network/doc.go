// Package network contains the UDP transport shared by clients and the upstream resolver. A single
// socket receives client queries and upstream responses alike; each datagram is copied out of the
// receive buffer and handed to a handler on a worker pool.
package network
