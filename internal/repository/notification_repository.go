package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/stagehub/stages-api/internal/models"
)

const notificationColumns = `id, request_id, target_status, recipient, recipient_name, note,
       status, attempts, last_attempt_at, last_error, created_at`

// NotificationRepository persists the outbox of pending email side effects.
type NotificationRepository struct {
	db *sqlx.DB
}

// NewNotificationRepository constructs the repository.
func NewNotificationRepository(db *sqlx.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func insertNotificationTask(ctx context.Context, tx sqlx.ExtContext, task *models.NotificationTask) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = models.NotificationQueued
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO notification_tasks
	(id, request_id, target_status, recipient, recipient_name, note, status, attempts, last_attempt_at, last_error, created_at)
	VALUES (:id, :request_id, :target_status, :recipient, :recipient_name, :note, :status, :attempts, :last_attempt_at, :last_error, :created_at)
	ON CONFLICT (id) DO NOTHING`
	if _, err := sqlx.NamedExecContext(ctx, tx, query, task); err != nil {
		return fmt.Errorf("enqueue notification task: %w", err)
	}
	return nil
}

// Enqueue inserts an outbox row. Idempotent on task id: re-enqueuing the same
// id is a no-op, tolerating at-least-once delivery across the tx boundary.
func (r *NotificationRepository) Enqueue(ctx context.Context, task *models.NotificationTask) error {
	return insertNotificationTask(ctx, r.db, task)
}

// ListDue returns queued tasks plus failed tasks whose backoff window elapsed.
// The backoff doubles with each attempt, starting from base.
func (r *NotificationRepository) ListDue(ctx context.Context, base time.Duration, now time.Time, limit int) ([]models.NotificationTask, error) {
	if limit <= 0 {
		limit = 50
	}
	query := fmt.Sprintf(`SELECT %s FROM notification_tasks
	WHERE status = 'QUEUED'
	   OR (status = 'FAILED' AND last_attempt_at + ($1::interval * POWER(2, attempts - 1)) <= $2)
	ORDER BY created_at ASC LIMIT %d`, notificationColumns, limit)

	var tasks []models.NotificationTask
	interval := fmt.Sprintf("%d milliseconds", base.Milliseconds())
	if err := r.db.SelectContext(ctx, &tasks, query, interval, now); err != nil {
		return nil, fmt.Errorf("list due notification tasks: %w", err)
	}
	return tasks, nil
}

// List returns outbox rows matching the filter, newest first, plus the total.
func (r *NotificationRepository) List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationTask, int, error) {
	conditions := make([]string, 0, 2)
	args := make([]interface{}, 0, 3)

	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.RequestID != "" {
		args = append(args, filter.RequestID)
		conditions = append(conditions, fmt.Sprintf("request_id = $%d", len(args)))
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM notification_tasks"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count notification tasks: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	query := fmt.Sprintf("SELECT %s FROM notification_tasks%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
		notificationColumns, where, limit, offset)

	var tasks []models.NotificationTask
	if err := r.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list notification tasks: %w", err)
	}
	return tasks, total, nil
}

// MarkDelivered records a successful send.
func (r *NotificationRepository) MarkDelivered(ctx context.Context, id string, at time.Time) error {
	const query = `UPDATE notification_tasks
	SET status = 'DELIVERED', attempts = attempts + 1, last_attempt_at = $2, last_error = NULL
	WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at); err != nil {
		return fmt.Errorf("mark notification delivered: %w", err)
	}
	return nil
}

// MarkFailed records a failed attempt, moving the task to its final state when
// permanent is set or attempts are exhausted.
func (r *NotificationRepository) MarkFailed(ctx context.Context, id string, at time.Time, sendErr string, permanent bool) error {
	status := models.NotificationFailed
	if permanent {
		status = models.NotificationPermanentlyFailed
	}
	const query = `UPDATE notification_tasks
	SET status = $3, attempts = attempts + 1, last_attempt_at = $2, last_error = $4
	WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, at, status, sendErr); err != nil {
		return fmt.Errorf("mark notification failed: %w", err)
	}
	return nil
}

// DeleteDelivered retires delivered rows older than the cutoff.
func (r *NotificationRepository) DeleteDelivered(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM notification_tasks WHERE status = 'DELIVERED' AND last_attempt_at < $1`
	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("delete delivered notification tasks: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check delivered delete rows: %w", err)
	}
	return rows, nil
}
