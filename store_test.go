package layersync

import (
	"sync"
	"testing"
	"time"

	"github.com/domonda/go-types/uu"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(StoreConfig{
		MaxAgeDoneJobs:  time.Minute,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStorePushIsVisibleImmediately(t *testing.T) {
	store := newTestStore(t)

	job, err := NewPullJob("parcels", "")
	require.NoError(t, err)
	require.NoError(t, store.Push(job))

	info, err := store.GetJob(job.ID())
	require.NoError(t, err)
	assert.Equal(t, StatusQueued, info.Status)
	assert.Equal(t, 1, store.QueueSize())

	popped, ok := store.TryPop()
	require.True(t, ok)
	assert.Same(t, job, popped)

	_, err = store.GetJob(job.ID())
	assert.NoError(t, err, "dequeued jobs stay resolvable")
	assert.Equal(t, 0, store.QueueSize())
}

func TestStoreGetJobNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJob(uu.IDv4())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreOrderedJobsAndStats(t *testing.T) {
	store := newTestStore(t)

	var jobs []*Job
	for range 3 {
		job, err := NewPullJob("parcels", "")
		require.NoError(t, err)
		require.NoError(t, store.Push(job))
		jobs = append(jobs, job)
		time.Sleep(2 * time.Millisecond)
	}
	jobs[0].SetStatus(StatusInProcess)
	jobs[0].Fail("broken")
	jobs[1].SetStatus(StatusInProcess)

	ordered := store.GetOrderedJobs()
	require.Len(t, ordered, 3)
	assert.Equal(t, jobs[2].ID(), ordered[0].ID)
	assert.Equal(t, jobs[1].ID(), ordered[1].ID)
	assert.Equal(t, jobs[0].ID(), ordered[2].ID)

	stats := store.Stats()
	assert.Equal(t, Stats{NumQueued: 1, NumInProcess: 1, NumFailed: 1}, stats)
	assert.Equal(t, 3, stats.Total())
}

func TestStoreEviction(t *testing.T) {
	store := newTestStore(t)

	finished, err := NewPullJob("parcels", "")
	require.NoError(t, err)
	running, err := NewPullJob("parcels", "")
	require.NoError(t, err)
	require.NoError(t, store.Push(finished))
	require.NoError(t, store.Push(running))

	finished.SetStatus(StatusInProcess)
	finished.Finish(Statistics{}, "")
	running.SetStatus(StatusInProcess)

	finishedAt := finished.Info().TimeFinished.Get()

	// Sweep before the max age has passed
	assert.Equal(t, 0, store.removeFinishedBefore(finishedAt.Add(-time.Second)))
	_, err = store.GetJob(finished.ID())
	assert.NoError(t, err)

	// Sweep after the max age has passed
	assert.Equal(t, 1, store.removeFinishedBefore(finishedAt.Add(time.Second)))
	_, err = store.GetJob(finished.ID())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.GetJob(running.ID())
	assert.NoError(t, err, "jobs that are not terminal are never evicted")
}

func TestStoreSweepLoop(t *testing.T) {
	store := NewStore(StoreConfig{
		MaxAgeDoneJobs:  time.Millisecond,
		CleanupInterval: 5 * time.Millisecond,
	})
	defer store.Close()

	job, err := NewPullJob("parcels", "")
	require.NoError(t, err)
	require.NoError(t, store.Push(job))
	job.SetStatus(StatusInProcess)
	job.Finish(Statistics{}, "")

	require.Eventually(t, func() bool {
		_, err := store.GetJob(job.ID())
		return err != nil
	}, time.Second, 5*time.Millisecond)
}

func TestStoreQuitWakesPoppers(t *testing.T) {
	store := newTestStore(t)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := store.Pop()
			assert.False(t, ok)
		}()
	}
	time.Sleep(10 * time.Millisecond)
	store.Quit()
	wg.Wait()

	job, err := NewPullJob("parcels", "")
	require.NoError(t, err)
	assert.ErrorIs(t, store.Push(job), ErrClosed)
	_, err = store.GetJob(job.ID())
	assert.ErrorIs(t, err, ErrNotFound, "rejected jobs are not registered")
}
