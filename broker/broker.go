// Package broker wires a Store, a pool of worker threads
// and the listeners of a layersync process.
package broker

import (
	"context"
	"errors"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-layersync"
	"github.com/domonda/go-layersync/config"
	"github.com/domonda/go-layersync/httplistener"
	"github.com/domonda/go-layersync/jobworker"
	"github.com/domonda/go-layersync/source"
	"github.com/domonda/golog"
	rootlog "github.com/domonda/golog/log"
)

var log = rootlog.NewPackageLogger()

// Broker owns the startup and shutdown order
// of all components of a layersync process.
type Broker struct {
	config  *config.Config
	log     *golog.Logger
	drivers source.Drivers
	extra   []layersync.Listener

	mtx       sync.Mutex
	store     *layersync.Store
	pool      *jobworker.Pool
	listeners []layersync.Listener
}

// New returns a Broker for a validated config.
// A nil logger defaults to the package logger.
func New(cfg *config.Config, logger *golog.Logger) *Broker {
	if logger == nil {
		logger = log
	}
	return &Broker{
		config:  cfg,
		log:     logger,
		drivers: source.DefaultDrivers(),
	}
}

// SetDrivers replaces the source drivers used by the workers.
// Must be called before Start.
func (b *Broker) SetDrivers(drivers source.Drivers) {
	b.drivers = drivers
}

// AddListener adds a listener that is started and stopped
// together with the HTTP listener.
// Must be called before Start.
func (b *Broker) AddListener(l layersync.Listener) {
	b.extra = append(b.extra, l)
}

// Store returns the Store of a started Broker or nil.
func (b *Broker) Store() *layersync.Store {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return b.store
}

// Listeners returns the listeners of a started Broker.
func (b *Broker) Listeners() []layersync.Listener {
	b.mtx.Lock()
	defer b.mtx.Unlock()

	return append([]layersync.Listener(nil), b.listeners...)
}

// NumWorkers returns the number of running worker threads.
func (b *Broker) NumWorkers() int {
	b.mtx.Lock()
	pool := b.pool
	b.mtx.Unlock()

	if pool == nil {
		return 0
	}
	return pool.NumThreads()
}

// Start creates the Store, starts the worker threads
// and then all listeners.
// If a listener can't be started, everything started is stopped again.
func (b *Broker) Start(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	b.mtx.Lock()
	defer b.mtx.Unlock()

	if b.store != nil {
		return errs.New("broker already started")
	}

	store := layersync.NewStore(layersync.StoreConfig{
		MaxAgeDoneJobs:  b.config.MaxAgeDoneJobs,
		CleanupInterval: b.config.CleanupInterval,
		Logger:          b.log,
	})
	pool := jobworker.NewPool(store, jobworker.Options{
		Layers:                b.config.Layers,
		ConnectURL:            b.config.Database.ConnectURL(),
		PersistentConnections: b.config.PersistentConnections,
		ReconnectInterval:     b.config.ReconnectInterval,
		Drivers:               b.drivers,
		Logger:                b.log,
		OnError: func(err error) {
			b.log.Error("Worker thread ending with unexpected error").Err(err).Log()
		},
	})
	err = pool.StartThreads(ctx, b.config.NumWorkerThreads)
	if err != nil {
		store.Close()
		return err
	}

	var listeners []layersync.Listener
	if b.config.HTTP.Listen != "" {
		listeners = append(listeners, httplistener.New(store, httplistener.Config{
			Listen:         b.config.HTTP.Listen,
			Layers:         b.config.Layers,
			MaxAgeDoneJobs: b.config.MaxAgeDoneJobs,
			NumWorkers:     pool.NumThreads,
			Logger:         b.log,
		}))
	}
	listeners = append(listeners, b.extra...)

	var (
		startGroup errgroup.Group
		startedMtx sync.Mutex
		started    []layersync.Listener
	)
	for _, l := range listeners {
		startGroup.Go(func() error {
			err := l.Start(ctx)
			if err != nil {
				return errs.Errorf("can't start %s listener: %w", l.Name(), err)
			}
			startedMtx.Lock()
			started = append(started, l)
			startedMtx.Unlock()
			return nil
		})
	}
	err = startGroup.Wait()
	if err != nil {
		stopErr := shutdown(ctx, started, store, pool)
		return errors.Join(err, stopErr)
	}

	b.store = store
	b.pool = pool
	b.listeners = listeners

	b.log.Info("Broker started").
		Int("numWorkerThreads", b.config.NumWorkerThreads).
		Int("numListeners", len(listeners)).
		Int("numLayers", b.config.Layers.Len()).
		Log()
	return nil
}

// Stop stops all listeners, then quits the Store
// and waits for the worker threads to finish their current jobs.
// Returns the errors of the listeners and the
// unexpected errors that ended worker threads.
func (b *Broker) Stop(ctx context.Context) (err error) {
	defer errs.WrapWithFuncParams(&err, ctx)

	b.mtx.Lock()
	store, pool, listeners := b.store, b.pool, b.listeners
	b.store, b.pool, b.listeners = nil, nil, nil
	b.mtx.Unlock()

	if store == nil {
		return nil
	}

	b.log.Info("Stopping broker").Log()
	err = shutdown(ctx, listeners, store, pool)
	b.log.Info("Broker stopped").Log()
	return err
}

func shutdown(ctx context.Context, listeners []layersync.Listener, store *layersync.Store, pool *jobworker.Pool) error {
	var stopGroup errgroup.Group
	for _, l := range listeners {
		stopGroup.Go(func() error {
			err := l.Stop(ctx)
			if err != nil {
				return errs.Errorf("can't stop %s listener: %w", l.Name(), err)
			}
			return nil
		})
	}
	listenersErr := stopGroup.Wait()

	store.Quit()
	workersErr := pool.FinishThreads()
	storeErr := store.Close()

	return errors.Join(listenersErr, workersErr, storeErr)
}
