package network

import (
	"net"
	"time"
)

// Datagram is a single inbound UDP payload. The payload is owned by the datagram and is never
// reused by the receive loop.
type Datagram struct {
	Payload  []byte
	Peer     net.Addr
	Received time.Time
}

// SameAddr reports whether two addresses identify the same UDP endpoint. IPv4 addresses compare
// equal to their IPv4-mapped IPv6 forms.
func SameAddr(a net.Addr, b net.Addr) bool {
	if a == nil || b == nil {
		return a == b
	}

	udpA, okA := a.(*net.UDPAddr)
	udpB, okB := b.(*net.UDPAddr)
	if okA && okB {
		return udpA.IP.Equal(udpB.IP) && udpA.Port == udpB.Port && udpA.Zone == udpB.Zone
	}

	return a.Network() == b.Network() && a.String() == b.String()
}
