package layersync

import "fmt"

// JobType names the algorithm a worker runs for a Job.
type JobType string

const (
	JobTypePull               JobType = "pull"
	JobTypeRemoveByAttributes JobType = "removeByAttributes"
)

// Valid returns true if t is one of the known job types.
func (t JobType) Valid() bool {
	switch t {
	case JobTypePull, JobTypeRemoveByAttributes:
		return true
	}
	return false
}

// Validate returns an error if t is not a known job type.
func (t JobType) Validate() error {
	if !t.Valid() {
		return fmt.Errorf("invalid job type %q", string(t))
	}
	return nil
}

// Status of a Job.
// The order of the constants is the only allowed
// direction of transitions.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusInProcess Status = "in_process"
	StatusFinished  Status = "finished"
	StatusFailed    Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusQueued:
		return 0
	case StatusInProcess:
		return 1
	case StatusFinished, StatusFailed:
		return 2
	}
	return -1
}

// IsTerminal returns true for StatusFinished and StatusFailed.
func (s Status) IsTerminal() bool {
	return s == StatusFinished || s == StatusFailed
}

// Valid returns true if s is one of the known statuses.
func (s Status) Valid() bool {
	return s.rank() >= 0
}
