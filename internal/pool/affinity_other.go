//go:build !linux

package pool

import (
	"errors"
)

// setAffinity is unsupported outside Linux.
func setAffinity(core int) error {
	return errors.New("cpu affinity is unsupported on this platform")
}
