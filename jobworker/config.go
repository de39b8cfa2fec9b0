package jobworker

import (
	"time"

	"github.com/domonda/go-layersync/config"
	"github.com/domonda/go-layersync/source"
	"github.com/domonda/golog"
	rootlog "github.com/domonda/golog/log"
)

var log = rootlog.NewPackageLogger()

// DefaultReconnectInterval is the wait time between
// two attempts to restore a database connection.
const DefaultReconnectInterval = 5 * time.Second

// Options configure workers.
type Options struct {
	// Layers that jobs can reference by name.
	Layers config.Layers

	// ConnectURL of the target database.
	ConnectURL string

	// PersistentConnections keeps the database connection
	// open while a worker waits for jobs.
	PersistentConnections bool

	// ReconnectInterval defaults to DefaultReconnectInterval.
	ReconnectInterval time.Duration

	// Drivers open the sources of the layers,
	// defaults to source.DefaultDrivers().
	Drivers source.Drivers

	// Logger defaults to the package logger.
	Logger *golog.Logger

	// OnError is called for every unexpected error
	// that ends a worker.
	OnError func(error)
}

func (o Options) withDefaults() Options {
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = DefaultReconnectInterval
	}
	if o.Drivers == nil {
		o.Drivers = source.DefaultDrivers()
	}
	if o.Logger == nil {
		o.Logger = log
	}
	if o.OnError == nil {
		o.OnError = func(error) {}
	}
	return o
}
