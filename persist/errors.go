package persist

import (
	"context"
	"database/sql/driver"
	"net"

	"github.com/pkg/errors"
)

// IsTransient reports whether err looks like a passing I/O failure rather
// than an integrity problem. Transient failures are worth retrying.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, ErrNotFound) {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
