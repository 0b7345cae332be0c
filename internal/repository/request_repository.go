package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stagehub/stages-api/internal/models"
)

const requestColumns = `id, owner_id, reference_code, first_name, last_name, email, phone,
       institution, field_of_study, study_level, start_date, end_date,
       cv_path, id_document_path, cover_letter_path, status, notes, created_at, status_changed_at`

// RequestRepository persists internship requests and their lifecycle state.
type RequestRepository struct {
	db *sqlx.DB
}

// NewRequestRepository constructs the repository.
func NewRequestRepository(db *sqlx.DB) *RequestRepository {
	return &RequestRepository{db: db}
}

// Create inserts a new request row.
func (r *RequestRepository) Create(ctx context.Context, request *models.Request) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	if request.Status == "" {
		request.Status = models.StatusDraft
	}
	now := time.Now().UTC()
	if request.CreatedAt.IsZero() {
		request.CreatedAt = now
	}
	if request.StatusChangedAt.IsZero() {
		request.StatusChangedAt = request.CreatedAt
	}
	const query = `INSERT INTO internship_requests
	(id, owner_id, reference_code, first_name, last_name, email, phone, institution, field_of_study, study_level,
	 start_date, end_date, cv_path, id_document_path, cover_letter_path, status, notes, created_at, status_changed_at)
	VALUES (:id, :owner_id, :reference_code, :first_name, :last_name, :email, :phone, :institution, :field_of_study, :study_level,
	 :start_date, :end_date, :cv_path, :id_document_path, :cover_letter_path, :status, :notes, :created_at, :status_changed_at)`
	if _, err := r.db.NamedExecContext(ctx, query, request); err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return nil
}

// GetByID fetches one request by identifier.
func (r *RequestRepository) GetByID(ctx context.Context, id string) (*models.Request, error) {
	query := fmt.Sprintf(`SELECT %s FROM internship_requests WHERE id = $1`, requestColumns)
	var request models.Request
	if err := r.db.GetContext(ctx, &request, query, id); err != nil {
		return nil, err
	}
	return &request, nil
}

// List returns requests matching the filter, newest first, plus the total count.
func (r *RequestRepository) List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error) {
	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)

	if filter.OwnerID != "" {
		args = append(args, filter.OwnerID)
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		conditions = append(conditions, fmt.Sprintf("(first_name ILIKE $%d OR last_name ILIKE $%d)", len(args), len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM internship_requests" + where
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count requests: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf("SELECT %s FROM internship_requests%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		requestColumns, where, limit, offset)

	var requests []models.Request
	if err := r.db.SelectContext(ctx, &requests, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list requests: %w", err)
	}
	return requests, total, nil
}

// UpdateDraft replaces the editable fields of a request still in DRAFT.
// Returns sql.ErrNoRows when the row is missing, owned by someone else,
// or no longer a draft.
func (r *RequestRepository) UpdateDraft(ctx context.Context, request *models.Request) error {
	const query = `UPDATE internship_requests SET
	first_name = :first_name, last_name = :last_name, email = :email, phone = :phone,
	institution = :institution, field_of_study = :field_of_study, study_level = :study_level,
	start_date = :start_date, end_date = :end_date
	WHERE id = :id AND owner_id = :owner_id AND status = 'DRAFT'`
	result, err := r.db.NamedExecContext(ctx, query, request)
	if err != nil {
		return fmt.Errorf("update draft: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check draft update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// UpdateDocumentPaths stores uploaded attachment pointers for a request.
func (r *RequestRepository) UpdateDocumentPaths(ctx context.Context, id string, cv, idDoc, coverLetter *string) error {
	set := make([]string, 0, 3)
	args := make([]interface{}, 0, 4)
	if cv != nil {
		args = append(args, *cv)
		set = append(set, fmt.Sprintf("cv_path = $%d", len(args)))
	}
	if idDoc != nil {
		args = append(args, *idDoc)
		set = append(set, fmt.Sprintf("id_document_path = $%d", len(args)))
	}
	if coverLetter != nil {
		args = append(args, *coverLetter)
		set = append(set, fmt.Sprintf("cover_letter_path = $%d", len(args)))
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, id)
	query := fmt.Sprintf("UPDATE internship_requests SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update document paths: %w", err)
	}
	return nil
}

// ApplyTransitionParams groups the inputs of a status transition. The write
// succeeds only when the persisted status still equals ExpectedStatus.
type ApplyTransitionParams struct {
	ID             string
	ExpectedStatus models.RequestStatus
	NewStatus      models.RequestStatus
	Note           *string
	ReferenceCode  *string
	ChangedAt      time.Time
	Task           *models.NotificationTask
}

// ApplyTransition is the only status writer. The optimistic-concurrency check
// and the outbox insert share one transaction: a committed status change always
// has its notification row, and a lost race surfaces as sql.ErrNoRows.
func (r *RequestRepository) ApplyTransition(ctx context.Context, params ApplyTransitionParams) error {
	if params.ChangedAt.IsZero() {
		params.ChangedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transition: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	set := []string{"status = $1", "status_changed_at = $2"}
	args := []interface{}{params.NewStatus, params.ChangedAt}
	if params.Note != nil {
		args = append(args, *params.Note)
		set = append(set, fmt.Sprintf("notes = $%d", len(args)))
	}
	if params.ReferenceCode != nil {
		args = append(args, *params.ReferenceCode)
		set = append(set, fmt.Sprintf("reference_code = $%d", len(args)))
	}
	args = append(args, params.ID, params.ExpectedStatus)
	query := fmt.Sprintf("UPDATE internship_requests SET %s WHERE id = $%d AND status = $%d",
		strings.Join(set, ", "), len(args)-1, len(args))

	result, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("apply transition: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check transition rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}

	if params.Task != nil {
		if err := insertNotificationTask(ctx, tx, params.Task); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transition: %w", err)
	}
	return nil
}

// DeleteDraft removes a request that is still a draft and owned by ownerID.
func (r *RequestRepository) DeleteDraft(ctx context.Context, id, ownerID string) error {
	const query = `DELETE FROM internship_requests WHERE id = $1 AND owner_id = $2 AND status = 'DRAFT'`
	result, err := r.db.ExecContext(ctx, query, id, ownerID)
	if err != nil {
		return fmt.Errorf("delete draft: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check draft delete rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// CountsByStatus returns exact per-status counts, optionally scoped to an owner.
func (r *RequestRepository) CountsByStatus(ctx context.Context, ownerID string) (map[models.RequestStatus]int, error) {
	query := "SELECT status, COUNT(*) AS count FROM internship_requests"
	args := []interface{}{}
	if ownerID != "" {
		query += " WHERE owner_id = $1"
		args = append(args, ownerID)
	}
	query += " GROUP BY status"

	rows := []struct {
		Status models.RequestStatus `db:"status"`
		Count  int                  `db:"count"`
	}{}
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("count requests by status: %w", err)
	}

	counts := make(map[models.RequestStatus]int, len(rows))
	for _, row := range rows {
		counts[row.Status] = row.Count
	}
	return counts, nil
}
