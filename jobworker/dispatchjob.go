package jobworker

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/domonda/go-errs"
	"github.com/domonda/go-layersync"
	"github.com/domonda/go-layersync/jobworkerdb"
	"github.com/domonda/golog"
)

// dispatchJob executes job and sets its terminal status.
// Only unexpected errors are returned.
func (w *Worker) dispatchJob(ctx context.Context, job *layersync.Job) error {
	log, ctx := w.log.With().
		UUID("jobID", job.ID()).
		Str("jobType", string(job.Type())).
		Str("layer", job.LayerName()).
		SubLoggerContext(ctx)

	log.Info("Starting job").Log()

	stats, message, err := w.doJob(ctx, log, job)
	if err == nil {
		job.Finish(stats, message)
		log.Info("Finished job: " + message).Log()
		return nil
	}

	var (
		dbErr     *jobworkerdb.DbError
		workerErr *WorkerError
	)
	switch {
	case errors.As(err, &workerErr):
		job.Fail(workerErr.Message)
		log.Warn("Job failed: " + workerErr.Message).Log()
		return nil

	case errors.As(err, &dbErr):
		job.Fail(dbErr.Error())
		msg := log.Error("Job failed with database error: "+dbErr.Message).
			Str("sqlState", dbErr.SQLState)
		if dbErr.Context != "" {
			msg = msg.Str("context", dbErr.Context)
		}
		msg.Err(err).Log()
		return nil
	}

	job.Fail(errHeadline(err))
	w.opts.OnError(err)
	log.Error("Unexpected job error, ending worker: " + errHeadline(err)).
		Err(err).
		Log()
	return err
}

func (w *Worker) doJob(ctx context.Context, log *golog.Logger, job *layersync.Job) (stats layersync.Statistics, message string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.Errorf("job worker panic: %w", errs.AsErrorWithDebugStack(r))
		}
	}()

	layer, ok := w.opts.Layers.Get(job.LayerName())
	if !ok {
		return stats, "", workerErrorf("Layer %q does not exist", job.LayerName())
	}

	switch job.Type() {
	case layersync.JobTypePull:
		stats, err = w.pull(ctx, log, job, &layer)
		return stats, pullSummary(stats), err
	case layersync.JobTypeRemoveByAttributes:
		stats, err = w.removeByAttributes(ctx, log, job, &layer)
		return stats, fmt.Sprintf("deleted %d", stats.NumDeleted), err
	}
	return stats, "", errs.Errorf("unsupported job type %q", job.Type())
}

// errHeadline returns the first line of the root cause of err.
func errHeadline(err error) string {
	headline := errs.Root(err).Error()
	if nl := strings.IndexByte(headline, '\n'); nl > 0 {
		headline = headline[:nl]
	}
	return strings.TrimSpace(headline)
}

func pullSummary(stats layersync.Statistics) string {
	summary := fmt.Sprintf("pulled %d, created %d, updated %d, deleted %d",
		stats.NumPulled,
		stats.NumCreated,
		stats.NumUpdated,
		stats.NumDeleted,
	)
	if stats.NumIgnored > 0 {
		summary += fmt.Sprintf(", ignored %d", stats.NumIgnored)
	}
	return summary
}
