//go:build !unix

package coordination

import (
	"errors"
	"fmt"
	"os"
)

// tryLock falls back to an exclusive-create marker file where flock is not
// available. A crashed holder leaves the marker behind until removed.
func tryLock(path string) (unlock func(), err error) {
	marker := path + ".held"
	f, err := os.OpenFile(marker, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrLockBusy
		}
		return nil, fmt.Errorf("create lock marker: %w", err)
	}
	f.Close()
	return func() { _ = os.Remove(marker) }, nil
}
