package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/stagehub/stages-api/internal/models"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func requestRows(requests ...*models.Request) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{
		"id", "owner_id", "reference_code", "first_name", "last_name", "email", "phone",
		"institution", "field_of_study", "study_level", "start_date", "end_date",
		"cv_path", "id_document_path", "cover_letter_path", "status", "notes", "created_at", "status_changed_at",
	})
	for _, r := range requests {
		rows.AddRow(r.ID, r.OwnerID, r.ReferenceCode, r.FirstName, r.LastName, r.Email, r.Phone,
			r.Institution, r.FieldOfStudy, r.StudyLevel, r.StartDate, r.EndDate,
			r.CVPath, r.IDDocumentPath, r.CoverLetterPath, r.Status, r.Notes, r.CreatedAt, r.StatusChangedAt)
	}
	return rows
}

func sampleRequest() *models.Request {
	return &models.Request{
		ID:              "req-1",
		OwnerID:         "stu-1",
		FirstName:       "Awa",
		LastName:        "Traoré",
		Email:           "awa@example.org",
		Phone:           "+22670000000",
		StartDate:       time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		EndDate:         time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		Status:          models.StatusDraft,
		CreatedAt:       time.Now().UTC(),
		StatusChangedAt: time.Now().UTC(),
	}
}

func TestRequestRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO internship_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	request := sampleRequest()
	request.ID = ""
	require.NoError(t, repo.Create(context.Background(), request))
	require.NotEmpty(t, request.ID)
	require.Equal(t, models.StatusDraft, request.Status)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id, reference_code")).
		WithArgs(request.ID).
		WillReturnRows(requestRows(request))

	found, err := repo.GetByID(context.Background(), request.ID)
	require.NoError(t, err)
	require.Equal(t, request.ID, found.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM internship_requests WHERE owner_id = $1 AND status IN ($2)")).
		WithArgs("stu-1", models.StatusPending).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	request := sampleRequest()
	request.Status = models.StatusPending
	mock.ExpectQuery("SELECT id, owner_id, reference_code.+WHERE owner_id = .+ORDER BY created_at DESC LIMIT 20 OFFSET 0").
		WithArgs("stu-1", models.StatusPending).
		WillReturnRows(requestRows(request))

	requests, total, err := repo.List(context.Background(), models.RequestFilter{
		OwnerID: "stu-1",
		Status:  []models.RequestStatus{models.StatusPending},
	})
	require.NoError(t, err)
	require.Equal(t, 1, total)
	require.Len(t, requests, 1)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryUpdateDraftGoneReturnsNoRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE internship_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateDraft(context.Background(), sampleRequest())
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApplyTransitionCommitsWithTask(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	changedAt := time.Now().UTC()
	refCode := "STG-2026-ABCDEF01"

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE internship_requests SET status = $1, status_changed_at = $2, reference_code = $3 WHERE id = $4 AND status = $5")).
		WithArgs(models.StatusPending, changedAt, refCode, "req-1", models.StatusDraft).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO notification_tasks")).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	task := &models.NotificationTask{
		RequestID:     "req-1",
		TargetStatus:  models.StatusPending,
		Recipient:     "awa@example.org",
		RecipientName: "Awa Traoré",
	}
	err := repo.ApplyTransition(context.Background(), ApplyTransitionParams{
		ID:             "req-1",
		ExpectedStatus: models.StatusDraft,
		NewStatus:      models.StatusPending,
		ReferenceCode:  &refCode,
		ChangedAt:      changedAt,
		Task:           task,
	})
	require.NoError(t, err)
	require.NotEmpty(t, task.ID)
	require.Equal(t, models.NotificationQueued, task.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryApplyTransitionLostRaceRollsBack(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	changedAt := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE internship_requests SET status = $1, status_changed_at = $2 WHERE id = $3 AND status = $4")).
		WithArgs(models.StatusAccepted, changedAt, "req-1", models.StatusPending).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.ApplyTransition(context.Background(), ApplyTransitionParams{
		ID:             "req-1",
		ExpectedStatus: models.StatusPending,
		NewStatus:      models.StatusAccepted,
		ChangedAt:      changedAt,
		Task:           &models.NotificationTask{RequestID: "req-1"},
	})
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryDeleteDraftGoneReturnsNoRows(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM internship_requests WHERE id = $1 AND owner_id = $2 AND status = 'DRAFT'")).
		WithArgs("req-1", "stu-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.DeleteDraft(context.Background(), "req-1", "stu-1")
	require.ErrorIs(t, err, sql.ErrNoRows)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequestRepositoryCountsByStatus(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()

	repo := NewRequestRepository(db)
	rows := sqlmock.NewRows([]string{"status", "count"}).
		AddRow("PENDING", 3).
		AddRow("ACCEPTED", 1)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT status, COUNT(*) AS count FROM internship_requests WHERE owner_id = $1 GROUP BY status")).
		WithArgs("stu-1").
		WillReturnRows(rows)

	counts, err := repo.CountsByStatus(context.Background(), "stu-1")
	require.NoError(t, err)
	require.Equal(t, 3, counts[models.StatusPending])
	require.Equal(t, 1, counts[models.StatusAccepted])
	require.NoError(t, mock.ExpectationsWereMet())
}
