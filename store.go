package layersync

import (
	"sort"
	"sync"
	"time"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-types/uu"
	"github.com/domonda/golog"
	rootlog "github.com/domonda/golog/log"
)

var log = rootlog.NewPackageLogger()

const (
	DefaultMaxAgeDoneJobs  = 30 * time.Minute
	DefaultCleanupInterval = 30 * time.Second
)

// StoreConfig configures the eviction of finished jobs.
type StoreConfig struct {
	// MaxAgeDoneJobs is the age after which jobs
	// in a terminal status are removed from the Store.
	MaxAgeDoneJobs time.Duration
	// CleanupInterval is the wait time between two eviction sweeps.
	CleanupInterval time.Duration
	// Logger defaults to the package logger if nil.
	Logger *golog.Logger
}

// Store owns all known jobs and the queue feeding the workers.
//
// Every job in the queue is also in the map,
// and stays there after being dequeued until it has been
// in a terminal status for longer than MaxAgeDoneJobs.
type Store struct {
	jobsMtx sync.Mutex
	jobs    map[uu.ID]*Job
	queue   *Queue[*Job]

	maxAgeDoneJobs time.Duration
	log            *golog.Logger

	stopSweep chan struct{}
	stopOnce  sync.Once
	sweepDone chan struct{}
}

// NewStore returns a Store and starts its background eviction sweep.
// Close must be called to stop the sweep.
func NewStore(config StoreConfig) *Store {
	if config.MaxAgeDoneJobs <= 0 {
		config.MaxAgeDoneJobs = DefaultMaxAgeDoneJobs
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}
	if config.Logger == nil {
		config.Logger = log
	}
	s := &Store{
		jobs:           make(map[uu.ID]*Job),
		queue:          NewQueue[*Job](),
		maxAgeDoneJobs: config.MaxAgeDoneJobs,
		log:            config.Logger,
		stopSweep:      make(chan struct{}),
		sweepDone:      make(chan struct{}),
	}
	go s.sweepLoop(config.CleanupInterval)
	return s
}

// Push registers job and enqueues it for the workers.
// The job can be looked up by its ID as soon as Push returns.
func (s *Store) Push(job *Job) (err error) {
	defer errs.WrapWithFuncParams(&err, job)

	if job == nil {
		return errs.New("can't push nil job")
	}
	if s.queue.IsQuit() {
		return ErrClosed
	}

	s.jobsMtx.Lock()
	s.jobs[job.ID()] = job
	s.jobsMtx.Unlock()

	if !s.queue.Push(job) {
		s.jobsMtx.Lock()
		delete(s.jobs, job.ID())
		s.jobsMtx.Unlock()
		return ErrClosed
	}

	s.log.Debug("Pushed job").
		UUID("jobID", job.ID()).
		Str("jobType", string(job.Type())).
		Str("layer", job.LayerName()).
		Log()
	return nil
}

// Pop blocks until a job is available and returns it with true,
// or returns false when the Store has been quit.
func (s *Store) Pop() (*Job, bool) {
	return s.queue.PopWait()
}

// TryPop returns the next queued job without blocking.
func (s *Store) TryPop() (*Job, bool) {
	return s.queue.PopNoWait()
}

// GetJob returns a snapshot of the job with id
// or ErrNotFound.
func (s *Store) GetJob(id uu.ID) (JobInfo, error) {
	s.jobsMtx.Lock()
	job, ok := s.jobs[id]
	s.jobsMtx.Unlock()

	if !ok {
		return JobInfo{}, ErrNotFound
	}
	return job.Info(), nil
}

// GetOrderedJobs returns snapshots of all jobs,
// the most recently added first.
func (s *Store) GetOrderedJobs() []JobInfo {
	s.jobsMtx.Lock()
	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.jobsMtx.Unlock()

	infos := make([]JobInfo, len(jobs))
	for i, job := range jobs {
		infos[i] = job.Info()
	}
	sort.SliceStable(infos, func(i, j int) bool {
		return infos[j].TimeAdded.Before(infos[i].TimeAdded)
	})
	return infos
}

// Stats counts all jobs by status.
func (s *Store) Stats() Stats {
	s.jobsMtx.Lock()
	defer s.jobsMtx.Unlock()

	var stats Stats
	for _, job := range s.jobs {
		stats.add(job.Status())
	}
	return stats
}

// QueueSize returns the number of jobs waiting for a worker.
func (s *Store) QueueSize() int {
	return s.queue.Size()
}

// NumJobs returns the number of jobs in the Store.
func (s *Store) NumJobs() int {
	s.jobsMtx.Lock()
	defer s.jobsMtx.Unlock()

	return len(s.jobs)
}

// Quit shuts down the queue.
// Workers blocked in Pop return immediately
// and all following pops return false.
func (s *Store) Quit() {
	s.queue.Quit()
}

// IsQuit returns true if Quit or Close has been called.
func (s *Store) IsQuit() bool {
	return s.queue.IsQuit()
}

// Close quits the Store, stops the eviction sweep
// and waits for it to end.
func (s *Store) Close() error {
	s.Quit()
	s.stopOnce.Do(func() { close(s.stopSweep) })
	<-s.sweepDone
	return nil
}

func (s *Store) sweepLoop(interval time.Duration) {
	defer close(s.sweepDone)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case now := <-ticker.C:
			s.removeFinishedBefore(now.Add(-s.maxAgeDoneJobs))
		case <-s.stopSweep:
			return
		}
	}
}

// removeFinishedBefore deletes all jobs that reached
// a terminal status before t and returns their number.
func (s *Store) removeFinishedBefore(t time.Time) int {
	s.jobsMtx.Lock()
	defer s.jobsMtx.Unlock()

	removed := 0
	for id, job := range s.jobs {
		if job.finishedBefore(t) {
			delete(s.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		s.log.Debug("Removed finished jobs").
			Int("numRemoved", removed).
			Int("numRemaining", len(s.jobs)).
			Log()
	}
	return removed
}
