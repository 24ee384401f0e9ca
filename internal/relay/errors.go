package relay

import (
	"errors"
	"fmt"
)

// ErrMissingToken is returned before any network call when no gateway bearer
// token is configured.
var ErrMissingToken = errors.New("OPENCLAW_GATEWAY_TOKEN not set")

// UnreachableError reports a transport-level failure talking to the gateway.
type UnreachableError struct {
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("gateway unreachable: %v", e.Err)
}

func (e *UnreachableError) Unwrap() error {
	return e.Err
}

// RejectedError carries a non-success gateway response verbatim.
type RejectedError struct {
	Status int
	Body   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.Status, e.Body)
}
