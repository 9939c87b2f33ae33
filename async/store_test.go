package async

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sortitionfoundation/opendlp/errors"
	opendlptest "github.com/sortitionfoundation/opendlp/internal/testing"
)

func TestStoreCreateAndGetJob(t *testing.T) {
	db := opendlptest.CreateTestDB(t)
	store := NewStore(db)

	job, err := NewJob("selection.run", "run_abc", json.RawMessage(`{"task_id":"run_abc"}`))
	require.NoError(t, err)

	require.NoError(t, store.CreateJob(job))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, "selection.run", got.HandlerName)
	assert.Equal(t, "run_abc", got.Source)
	assert.Equal(t, JobStatusQueued, got.Status)
	assert.JSONEq(t, `{"task_id":"run_abc"}`, string(got.Payload))
	assert.Nil(t, got.Result)
	assert.Nil(t, got.StartedAt)
	assert.Nil(t, got.CompletedAt)
}

func TestStoreGetJobNotFound(t *testing.T) {
	db := opendlptest.CreateTestDB(t)
	store := NewStore(db)

	_, err := store.GetJob("job_missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestStoreUpdateJobLifecycle(t *testing.T) {
	db := opendlptest.CreateTestDB(t)
	store := NewStore(db)

	job, err := NewJob("selection.run", "run_xyz", nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(job))

	job.Start()
	require.NoError(t, store.UpdateJob(job))

	got, err := store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	job.Complete(json.RawMessage(`{"kind":"select"}`))
	require.NoError(t, store.UpdateJob(job))

	got, err = store.GetJob(job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, got.Status)
	assert.JSONEq(t, `{"kind":"select"}`, string(got.Result))
	require.NotNil(t, got.CompletedAt)
}

func TestStoreListJobsByStatus(t *testing.T) {
	db := opendlptest.CreateTestDB(t)
	store := NewStore(db)

	queued, err := NewJob("selection.run", "run_1", nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(queued))

	failed, err := NewJob("selection.run", "run_2", nil)
	require.NoError(t, err)
	failed.Fail(errors.New("boom"))
	require.NoError(t, store.CreateJob(failed))

	queuedStatus := JobStatusQueued
	jobs, err := store.ListJobs(&queuedStatus, 10)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, queued.ID, jobs[0].ID)

	all, err := store.ListJobs(nil, 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestStoreListActiveJobs(t *testing.T) {
	db := opendlptest.CreateTestDB(t)
	store := NewStore(db)

	queued, err := NewJob("selection.run", "run_q", nil)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(queued))

	running, err := NewJob("selection.run", "run_r", nil)
	require.NoError(t, err)
	running.Start()
	require.NoError(t, store.CreateJob(running))

	done, err := NewJob("selection.run", "run_d", nil)
	require.NoError(t, err)
	done.Complete(nil)
	require.NoError(t, store.CreateJob(done))

	active, err := store.ListActiveJobs(10)
	require.NoError(t, err)
	assert.Len(t, active, 2)
	for _, job := range active {
		assert.NotEqual(t, JobStatusCompleted, job.Status)
	}
}
