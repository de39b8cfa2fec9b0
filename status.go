package layersync

import (
	"fmt"
)

// Stats counts the jobs of a Store by status.
type Stats struct {
	NumQueued    int `json:"numQueued"`
	NumInProcess int `json:"numInProcess"`
	NumFinished  int `json:"numFinished"`
	NumFailed    int `json:"numFailed"`
}

// IsZero returns true if the receiver is nil
// or dereferenced equal to its zero value.
// Valid to call on a nil receiver.
func (s *Stats) IsZero() bool {
	return s == nil || *s == Stats{}
}

// Total number of counted jobs.
// Valid to call on a nil receiver.
func (s *Stats) Total() int {
	if s == nil {
		return 0
	}
	return s.NumQueued + s.NumInProcess + s.NumFinished + s.NumFailed
}

func (s *Stats) add(status Status) {
	switch status {
	case StatusQueued:
		s.NumQueued++
	case StatusInProcess:
		s.NumInProcess++
	case StatusFinished:
		s.NumFinished++
	case StatusFailed:
		s.NumFailed++
	}
}

// String implements the fmt.Stringer interface.
// Valid to call on a nil receiver.
func (s *Stats) String() string {
	if s == nil {
		return "nil Stats"
	}
	return fmt.Sprintf("Stats{NumQueued: %d, NumInProcess: %d, NumFinished: %d, NumFailed: %d}", s.NumQueued, s.NumInProcess, s.NumFinished, s.NumFailed)
}
