package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/stagehub/stages-api/internal/models"
)

func notificationRows(tasks ...*models.NotificationTask) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "request_id", "target_status", "recipient", "recipient_name", "note",
		"status", "attempts", "last_attempt_at", "last_error", "created_at",
	})
	for _, task := range tasks {
		rows.AddRow(task.ID, task.RequestID, task.TargetStatus, task.Recipient, task.RecipientName, task.Note,
			task.Status, task.Attempts, task.LastAttemptAt, task.LastError, task.CreatedAt)
	}
	return rows
}

func TestNotificationRepositoryEnqueueDefaults(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_tasks")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	task := &models.NotificationTask{
		RequestID:     "req-1",
		TargetStatus:  models.StatusAccepted,
		Recipient:     "awa@example.org",
		RecipientName: "Awa Traoré",
	}
	require.NoError(t, repo.Enqueue(context.Background(), task))
	require.NotEmpty(t, task.ID)
	require.Equal(t, models.NotificationQueued, task.Status)
	require.False(t, task.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryListDueUsesBackoff(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	now := time.Now().UTC()

	due := &models.NotificationTask{
		ID:           "t1",
		RequestID:    "req-1",
		TargetStatus: models.StatusPending,
		Recipient:    "awa@example.org",
		Status:       models.NotificationQueued,
		CreatedAt:    now,
	}
	mock.ExpectQuery(regexp.QuoteMeta("last_attempt_at + ($1::interval * POWER(2, attempts - 1)) <= $2")).
		WithArgs("60000 milliseconds", now).
		WillReturnRows(notificationRows(due))

	tasks, err := repo.ListDue(context.Background(), time.Minute, now, 50)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "t1", tasks[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkFailedStates(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notification_tasks")).
		WithArgs("t1", at, models.NotificationFailed, "connection refused").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkFailed(context.Background(), "t1", at, "connection refused", false))

	mock.ExpectExec(regexp.QuoteMeta("UPDATE notification_tasks")).
		WithArgs("t1", at, models.NotificationPermanentlyFailed, "invalid recipient").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.MarkFailed(context.Background(), "t1", at, "invalid recipient", true))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryMarkDelivered(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("SET status = 'DELIVERED', attempts = attempts + 1")).
		WithArgs("t1", at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.MarkDelivered(context.Background(), "t1", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNotificationRepositoryDeleteDelivered(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewNotificationRepository(db)
	before := time.Now().UTC().Add(-24 * time.Hour)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM notification_tasks WHERE status = 'DELIVERED' AND last_attempt_at < $1")).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 7))

	removed, err := repo.DeleteDelivered(context.Background(), before)
	require.NoError(t, err)
	require.EqualValues(t, 7, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}
