package retry

import (
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/wayfarer/wayfarer/internal/failure"
)

// Transient reports whether err is worth retrying: network errors, timeouts,
// and failures already tagged transient (429 and 5xx responses). Everything
// else, including auth failures, is permanent.
func Transient(err error) bool {
	if err == nil {
		return false
	}

	switch failure.KindOf(err) {
	case failure.KindTransient:
		return true
	case failure.KindUnknown:
		// untagged errors fall through to network classification
	default:
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
