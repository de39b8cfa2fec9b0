package layersync

import (
	"errors"
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/domonda/go-types/nullable"
	"github.com/domonda/go-types/uu"
)

// AttributeSet maps column names to the values a row must have
// to be matched. A nil value matches SQL NULL.
type AttributeSet map[string]*string

// Statistics of a job run.
type Statistics struct {
	NumPulled  int `json:"numPulled"`
	NumCreated int `json:"numCreated"`
	NumUpdated int `json:"numUpdated"`
	NumDeleted int `json:"numDeleted"`
	NumIgnored int `json:"numIgnored"`
}

// Job is one unit of work and its progress.
//
// A Job is mutated only by the worker that dequeued it
// and read concurrently by status queries,
// so every field access goes through mtx.
// Readers get a JobInfo snapshot.
type Job struct {
	mtx sync.RWMutex

	id            uu.ID
	jobType       JobType
	layerName     string
	filter        string
	attributeSets []AttributeSet
	timeAdded     time.Time

	status       Status
	timeFinished nullable.Time
	message      string
	errorMessage nullable.NonEmptyString
	stats        Statistics
}

// JobInfo is a point in time copy of a Job
// and the JSON representation of jobs.
type JobInfo struct {
	ID            uu.ID                   `json:"id"`
	TimeAdded     time.Time               `json:"timeAdded"`
	TimeFinished  nullable.Time           `json:"timeFinished"`
	Type          JobType                 `json:"type"`
	Status        Status                  `json:"status"`
	LayerName     string                  `json:"layerName"`
	Filter        string                  `json:"filter,omitempty"`
	AttributeSets []AttributeSet          `json:"attributeSets,omitempty"`
	Message       string                  `json:"message"`
	ErrorMessage  nullable.NonEmptyString `json:"errorMessage"`
	Statistics
}

func newJob(jobType JobType, layerName string) *Job {
	return &Job{
		id:        uu.IDv4(),
		jobType:   jobType,
		layerName: layerName,
		timeAdded: time.Now(),
		status:    StatusQueued,
	}
}

// NewPullJob creates a Job pulling the features of layerName
// that match the optional filter.
// The Job is not added to a Store.
func NewPullJob(layerName, filter string) (*Job, error) {
	if layerName == "" {
		return nil, errors.New("empty layerName")
	}
	job := newJob(JobTypePull, layerName)
	job.filter = filter
	return job, nil
}

// NewRemoveByAttributesJob creates a Job deleting all rows of the
// target table of layerName matching any of the attributeSets.
// The Job is not added to a Store.
func NewRemoveByAttributesJob(layerName string, attributeSets []AttributeSet) (*Job, error) {
	if layerName == "" {
		return nil, errors.New("empty layerName")
	}
	if len(attributeSets) == 0 {
		return nil, errors.New("no attributeSets")
	}
	for i, set := range attributeSets {
		if len(set) == 0 {
			return nil, fmt.Errorf("attributeSet %d is empty", i)
		}
	}
	job := newJob(JobTypeRemoveByAttributes, layerName)
	job.attributeSets = cloneAttributeSets(attributeSets)
	return job, nil
}

func cloneAttributeSets(sets []AttributeSet) []AttributeSet {
	if sets == nil {
		return nil
	}
	cloned := make([]AttributeSet, len(sets))
	for i, set := range sets {
		cloned[i] = maps.Clone(set)
	}
	return cloned
}

// ID of the job, immutable after creation.
func (j *Job) ID() uu.ID { return j.id }

// Type of the job, immutable after creation.
func (j *Job) Type() JobType { return j.jobType }

// LayerName of the job, immutable after creation.
func (j *Job) LayerName() string { return j.layerName }

// Filter of a pull job, immutable after creation.
func (j *Job) Filter() string { return j.filter }

// TimeAdded is the creation time of the job.
func (j *Job) TimeAdded() time.Time { return j.timeAdded }

// AttributeSets returns a copy of the attribute sets
// of a remove-by-attributes job.
func (j *Job) AttributeSets() []AttributeSet {
	return cloneAttributeSets(j.attributeSets)
}

func (j *Job) Status() Status {
	j.mtx.RLock()
	defer j.mtx.RUnlock()

	return j.status
}

// SetStatus moves the job to status.
// Transitions against the order queued, in_process, finished/failed
// and transitions out of a terminal status are ignored.
// The finish time is set on the first transition into a terminal status.
func (j *Job) SetStatus(status Status) {
	j.mtx.Lock()
	defer j.mtx.Unlock()

	j.setStatusLocked(status)
}

func (j *Job) setStatusLocked(status Status) {
	if !status.Valid() || j.status.IsTerminal() || status.rank() < j.status.rank() {
		return
	}
	j.status = status
	if status.IsTerminal() && j.timeFinished.IsNull() {
		j.timeFinished.Set(time.Now())
	}
}

// SetMessage sets the transient progress message.
func (j *Job) SetMessage(message string) {
	j.mtx.Lock()
	defer j.mtx.Unlock()

	j.message = message
}

// UpdateStatistics calls update with the statistics of the job
// while holding the job's lock.
func (j *Job) UpdateStatistics(update func(*Statistics)) {
	j.mtx.Lock()
	defer j.mtx.Unlock()

	update(&j.stats)
}

func (j *Job) Statistics() Statistics {
	j.mtx.RLock()
	defer j.mtx.RUnlock()

	return j.stats
}

// Finish sets the final statistics and message
// and moves the job to StatusFinished.
func (j *Job) Finish(stats Statistics, message string) {
	j.mtx.Lock()
	defer j.mtx.Unlock()

	if j.status.IsTerminal() {
		return
	}
	j.stats = stats
	j.message = message
	j.setStatusLocked(StatusFinished)
}

// Fail sets errorMessage and moves the job to StatusFailed.
func (j *Job) Fail(errorMessage string) {
	j.mtx.Lock()
	defer j.mtx.Unlock()

	if j.status.IsTerminal() {
		return
	}
	j.errorMessage = nullable.NonEmptyString(errorMessage)
	j.message = ""
	j.setStatusLocked(StatusFailed)
}

// finishedBefore returns true if the job is in a terminal
// status that was reached before t.
func (j *Job) finishedBefore(t time.Time) bool {
	j.mtx.RLock()
	defer j.mtx.RUnlock()

	return j.status.IsTerminal() && j.timeFinished.IsNotNull() && j.timeFinished.Get().Before(t)
}

// Info returns a snapshot of the job.
func (j *Job) Info() JobInfo {
	j.mtx.RLock()
	defer j.mtx.RUnlock()

	return JobInfo{
		ID:            j.id,
		TimeAdded:     j.timeAdded,
		TimeFinished:  j.timeFinished,
		Type:          j.jobType,
		Status:        j.status,
		LayerName:     j.layerName,
		Filter:        j.filter,
		AttributeSets: cloneAttributeSets(j.attributeSets),
		Message:       j.message,
		ErrorMessage:  j.errorMessage,
		Statistics:    j.stats,
	}
}

// String implements the fmt.Stringer interface.
// Valid to call on a nil receiver.
func (j *Job) String() string {
	if j == nil {
		return "nil Job"
	}
	return fmt.Sprintf("Job %s, type %s, layer '%s', status %s", j.id, j.jobType, j.layerName, j.Status())
}
