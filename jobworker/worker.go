package jobworker

import (
	"context"
	"errors"
	"time"

	"github.com/domonda/go-layersync"
	"github.com/domonda/go-layersync/jobworkerdb"
	"github.com/domonda/golog"
)

// Worker pops jobs from a Store and executes them
// using its own database connection.
type Worker struct {
	store *layersync.Store
	opts  Options
	conn  *jobworkerdb.Connection
	log   *golog.Logger
}

// NewWorker returns a Worker for the jobs of store.
// The Worker does not connect before it gets its first job.
func NewWorker(store *layersync.Store, opts Options) *Worker {
	opts = opts.withDefaults()
	return &Worker{
		store: store,
		opts:  opts,
		conn:  jobworkerdb.NewConnection(opts.ConnectURL, opts.Logger),
		log:   opts.Logger,
	}
}

// Run executes jobs until the Store is quit.
//
// Database and precondition errors only fail the job.
// Any other error fails the job and is returned,
// ending the worker.
func (w *Worker) Run(ctx context.Context) error {
	defer w.conn.Close(ctx)

	for {
		job, ok := w.store.TryPop()
		if !ok {
			if !w.opts.PersistentConnections {
				err := w.conn.Close(ctx)
				if err != nil {
					w.log.Warn("Error while closing idle database connection").Err(err).Log()
				}
			}
			job, ok = w.store.Pop()
			if !ok {
				return nil
			}
		}
		err := w.process(ctx, job)
		if err != nil {
			return err
		}
	}
}

func (w *Worker) process(ctx context.Context, job *layersync.Job) error {
	job.SetStatus(layersync.StatusInProcess)

	err := w.waitForConnection(ctx, job)
	if errors.Is(err, layersync.ErrClosed) {
		job.Fail("Shutting down before a database connection was available")
		return nil
	}
	if err != nil {
		job.Fail(err.Error())
		return err
	}
	job.SetMessage("")

	return w.dispatchJob(ctx, job)
}

// waitForConnection polls the database connection
// until it is usable or ctx is done.
// Returns layersync.ErrClosed if the Store is quit while waiting.
func (w *Worker) waitForConnection(ctx context.Context, job *layersync.Job) error {
	for attempt := 0; !w.conn.Reconnect(ctx, true); attempt++ {
		if attempt == 0 {
			job.SetMessage("waiting for a database connection")
			w.log.Info("Waiting for a database connection").
				UUID("jobID", job.ID()).
				Str("retryInterval", w.opts.ReconnectInterval.String()).
				Log()
		}
		timer := time.NewTimer(w.opts.ReconnectInterval)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		if w.store.IsQuit() {
			return layersync.ErrClosed
		}
	}
	return nil
}
