package jobworker

import "fmt"

// WorkerError is a violated precondition of a job,
// like a missing layer or a target table without primary key.
// It fails the job but not the worker.
type WorkerError struct {
	Message string
}

func (e *WorkerError) Error() string {
	return e.Message
}

func workerErrorf(format string, args ...any) error {
	return &WorkerError{Message: fmt.Sprintf(format, args...)}
}
