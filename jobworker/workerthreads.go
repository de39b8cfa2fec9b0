package jobworker

import (
	"context"
	"errors"
	"sync"

	"github.com/domonda/go-layersync"
)

// Pool runs worker threads that share one Store.
type Pool struct {
	store *layersync.Store
	opts  Options

	// mtx guards numRunningThreads, workerWaitGroup, and errs
	mtx               sync.Mutex
	numRunningThreads int
	workerWaitGroup   *sync.WaitGroup
	errs              []error
}

// NewPool returns a Pool for the jobs of store.
func NewPool(store *layersync.Store, opts Options) *Pool {
	return &Pool{
		store: store,
		opts:  opts.withDefaults(),
	}
}

// StartThreads starts numThreads workers, each with
// its own database connection.
// The passed context does not cancel the started threads,
// they end when the Store is quit.
func (p *Pool) StartThreads(ctx context.Context, numThreads int) error {
	if numThreads <= 0 {
		return errors.New("need at least 1 worker thread")
	}

	p.mtx.Lock()
	defer p.mtx.Unlock()

	if p.numRunningThreads > 0 {
		return errors.New("worker threads already running")
	}

	p.numRunningThreads = numThreads
	p.workerWaitGroup = new(sync.WaitGroup)
	p.workerWaitGroup.Add(numThreads)
	p.errs = nil

	ctx = context.WithoutCancel(ctx)
	for i := range numThreads {
		go p.workerThread(ctx, i, p.workerWaitGroup)
	}

	return nil
}

func (p *Pool) workerThread(ctx context.Context, threadIndex int, wg *sync.WaitGroup) {
	defer wg.Done()

	log, ctx := p.opts.Logger.With().
		Int("threadIndex", threadIndex).
		SubLoggerContext(ctx)

	log.Debug("Starting the worker thread").Log()

	opts := p.opts
	opts.Logger = log
	err := NewWorker(p.store, opts).Run(ctx)
	if err != nil {
		log.Error("Worker thread ended with error").Err(err).Log()
		p.mtx.Lock()
		p.errs = append(p.errs, err)
		p.numRunningThreads--
		p.mtx.Unlock()
		return
	}

	p.mtx.Lock()
	p.numRunningThreads--
	p.mtx.Unlock()

	log.Debug("Worker thread ended").Log()
}

// NumThreads returns the number of running worker threads.
func (p *Pool) NumThreads() int {
	p.mtx.Lock()
	defer p.mtx.Unlock()

	return p.numRunningThreads
}

// FinishThreads waits until all worker threads have ended.
// Worker threads end when the Store is quit,
// so Store.Quit has to be called before or concurrently.
// Returns the unexpected errors that ended worker threads.
func (p *Pool) FinishThreads() error {
	log.Debug("Finishing threads").Log()

	p.mtx.Lock()
	wg := p.workerWaitGroup
	p.mtx.Unlock()

	if wg == nil {
		return nil
	}
	wg.Wait()

	p.mtx.Lock()
	defer p.mtx.Unlock()

	p.workerWaitGroup = nil
	err := errors.Join(p.errs...)
	p.errs = nil

	p.opts.Logger.Info("Threads have finished").Log()
	return err
}
