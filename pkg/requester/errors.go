package requester

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates no matching local record
var ErrNotFound = errors.New("requester not found")

// UpstreamError describes a failed call to an upstream service. The
// summary is safe to relay to callers; upstream response bodies are not.
type UpstreamError struct {
	Target  string
	Status  int
	Summary string
}

func (e *UpstreamError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s upstream returned status %d: %s", e.Target, e.Status, e.Summary)
	}
	return fmt.Sprintf("%s upstream unreachable: %s", e.Target, e.Summary)
}

// AsUpstream unwraps err into an UpstreamError if it is one
func AsUpstream(err error) (*UpstreamError, bool) {
	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}
