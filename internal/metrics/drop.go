//go:generate go run golang.org/x/tools/cmd/stringer -type=DropReason -linecomment=true

package metrics

// DropReason classifies a datagram that was discarded without producing any outbound traffic.
type DropReason int

const (
	// DropMalformed is a datagram that does not decode as a single-question DNS message.
	DropMalformed DropReason = iota // malformed
	// DropSpoofed is a response that did not originate from the upstream address.
	DropSpoofed // spoofed
	// DropUnsolicited is a response with no matching pending query, either late or never asked.
	DropUnsolicited // unsolicited
	// DropOverflow is a datagram rejected because the worker pool no longer accepts tasks.
	DropOverflow // overflow
)
