// Package wire decodes the parts of an RFC 1035 DNS message that the proxy needs to make caching
// decisions: the fixed 12-byte header and the single question that follows it. It is deliberately
// narrow. Resource records past the question are treated as opaque bytes and are never parsed
// here.
//
// Every decode routine is bounds checked against the input slice and signals failure with an
// error wrapping ErrMalformed; no input, however crafted, causes a panic.
package wire
