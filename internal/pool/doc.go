// Package pool runs short tasks on a fixed set of long-lived worker goroutines fed from a single
// unbounded FIFO queue. The worker count is derived from the machine's parallelism unless set
// explicitly, and workers may optionally be pinned to CPU cores.
package pool
