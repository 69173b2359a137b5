package orchestrator

import (
	"errors"
	"fmt"
	"time"
)

// ErrNoActiveSession is returned by SendMessage when the tenant has no live
// handle in the registry.
var ErrNoActiveSession = errors.New("no active session for tenant")

// ErrDeliveryFailed marks a send that reached the network client but was not
// delivered (timeout or remote rejection). Not retried automatically.
var ErrDeliveryFailed = errors.New("message delivery failed")

// RateLimitedError is a normal, expected outcome of SendMessage: the guard
// rejected the attempt. Callers should back off for RetryAfter.
type RateLimitedError struct {
	Reason     string
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited (%s), retry after %s", e.Reason, e.RetryAfter)
}

// AsRateLimited unwraps err into a RateLimitedError, if it is one.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}
