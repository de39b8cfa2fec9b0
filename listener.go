package layersync

import "context"

// Listener is an endpoint that accepts requests
// and pushes jobs into a Store.
type Listener interface {
	// Name identifies the listener in logs.
	Name() string

	// Start begins accepting requests and returns
	// without waiting for the listener to end.
	Start(ctx context.Context) error

	// Stop ends accepting requests and waits
	// for running requests until ctx is done.
	Stop(ctx context.Context) error
}
