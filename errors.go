package dache

import (
	"errors"
	"fmt"

	"github.com/menismu/dache/routing"
)

// errNoMember is a transport-failure-shaped sentinel raised when a
// Bucket has no online member to select via Next(); it triggers the
// same retry path as any other host-side failure.
var errNoMember = errors.New("dache: bucket has no online member")

// ErrArgumentInvalid wraps a precondition violation: a blank key, an
// empty batch, a blank pattern. These are never retried and surface
// synchronously to the caller.
type ErrArgumentInvalid struct {
	Argument string
	Reason   string
}

func (e *ErrArgumentInvalid) Error() string {
	return fmt.Sprintf("dache: invalid argument %q: %s", e.Argument, e.Reason)
}

func argError(arg, reason string) error {
	return &ErrArgumentInvalid{Argument: arg, Reason: reason}
}

// ErrSerialization wraps a serializer failure on a single-item write.
// It is fatal for that call and is never retried.
type ErrSerialization struct {
	Key string
	Err error
}

func (e *ErrSerialization) Error() string {
	return fmt.Sprintf("dache: serialization failed for key %q: %v", e.Key, e.Err)
}

func (e *ErrSerialization) Unwrap() error { return e.Err }

// ErrNoCacheHostsAvailable is raised when every Bucket in the fleet is
// offline at lookup time. It is the only error the "retry forever"
// loop can surface on its own. It is the same sentinel the
// routing package's Table.Lookup returns, re-exported here so callers
// never need to import routing directly.
var ErrNoCacheHostsAvailable = routing.ErrNoCacheHostsAvailable
