package selection

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sortitionfoundation/opendlp/errors"
)

func TestStoreCreateRunDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO selection_runs").
		WillReturnError(errors.New("disk I/O error"))

	store := NewStore(db)
	err = store.CreateRun(&RunRecord{
		TaskID:     "run_io",
		AssemblyID: "asm_1",
		UserID:     "user_1",
		TaskType:   TaskTypeLoad,
		Status:     StatusPending,
		Submission: SubmissionCreated,
		CreatedAt:  time.Now(),
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk I/O error")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreFailRunDatabaseError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE selection_runs").
		WillReturnError(errors.New("database is locked"))

	store := NewStore(db)
	updated, err := store.FailRun("run_locked", "boom", RunReport{})

	require.Error(t, err)
	assert.False(t, updated)
	assert.NoError(t, mock.ExpectationsWereMet())
}
