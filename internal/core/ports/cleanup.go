package ports

import "context"

// Stoppable is the capability contract for transports that can be shut down
// (HTTP servers, listeners). Concrete types implement it explicitly; the
// cleanup registry dispatches through it rather than probing for methods.
type Stoppable interface {
	Stop(ctx context.Context) error
}
