package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/stagehub/stages-api/internal/dto"
	"github.com/stagehub/stages-api/internal/models"
	"github.com/stagehub/stages-api/pkg/config"
	appErrors "github.com/stagehub/stages-api/pkg/errors"
	"github.com/stagehub/stages-api/pkg/mailer"
)

type notificationStore interface {
	ListDue(ctx context.Context, base time.Duration, now time.Time, limit int) ([]models.NotificationTask, error)
	List(ctx context.Context, filter models.NotificationFilter) ([]models.NotificationTask, int, error)
	MarkDelivered(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id string, at time.Time, sendErr string, permanent bool) error
	DeleteDelivered(ctx context.Context, before time.Time) (int64, error)
}

// DispatcherService drains the notification outbox: it picks up due tasks,
// renders and sends the email, and records the outcome. At-least-once
// delivery; a crash between send and MarkDelivered re-sends on the next sweep.
type DispatcherService struct {
	repo    notificationStore
	sender  mailer.Sender
	cfg     config.DispatcherConfig
	logger  *zap.Logger
	metrics *MetricsService
	now     func() time.Time

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewDispatcherService constructs the dispatcher.
func NewDispatcherService(repo notificationStore, sender mailer.Sender, cfg config.DispatcherConfig, logger *zap.Logger) *DispatcherService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DispatcherService{
		repo:   repo,
		sender: sender,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// WithMetrics attaches Prometheus instrumentation.
func (s *DispatcherService) WithMetrics(m *MetricsService) *DispatcherService {
	s.metrics = m
	return s
}

// Start launches the background sweep loop. Safe to call once; Stop shuts it
// down and waits for the in-flight sweep to finish.
func (s *DispatcherService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.loop(s.stop, s.done)
	s.logger.Info("notification dispatcher started",
		zap.Duration("sweep_interval", s.cfg.SweepInterval),
		zap.Int("max_attempts", s.cfg.MaxAttempts))
}

// Stop halts the sweep loop.
func (s *DispatcherService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	done := s.done
	s.mu.Unlock()
	<-done
	s.logger.Info("notification dispatcher stopped")
}

func (s *DispatcherService) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), s.cfg.SweepInterval)
			if _, err := s.DrainOnce(ctx); err != nil {
				s.logger.Error("notification sweep failed", zap.Error(err))
			}
			if s.cfg.Retention > 0 {
				if _, err := s.PurgeDelivered(ctx, s.cfg.Retention); err != nil {
					s.logger.Error("notification purge failed", zap.Error(err))
				}
			}
			cancel()
		}
	}
}

// DrainOnce processes one batch of due tasks and reports what happened.
// It is the unit the sweep loop runs and the admin drain endpoint exposes.
func (s *DispatcherService) DrainOnce(ctx context.Context) (dto.DrainResult, error) {
	var result dto.DrainResult
	now := s.now().UTC()
	tasks, err := s.repo.ListDue(ctx, s.cfg.RetryBackoff, now, s.cfg.BatchSize)
	if err != nil {
		return result, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list due notifications")
	}
	for i := range tasks {
		task := &tasks[i]
		result.Processed++
		s.deliver(ctx, task, &result)
	}
	s.metrics.ObserveSweep(time.Since(now))
	return result, nil
}

func (s *DispatcherService) deliver(ctx context.Context, task *models.NotificationTask, result *dto.DrainResult) {
	attemptAt := s.now().UTC()
	msg := renderNotification(task)
	sendErr := s.sender.Send(ctx, msg)
	if sendErr == nil {
		if err := s.repo.MarkDelivered(ctx, task.ID, attemptAt); err != nil {
			s.logger.Error("failed to mark notification delivered",
				zap.String("task_id", task.ID), zap.Error(err))
			return
		}
		result.Delivered++
		s.metrics.ObserveNotificationOutcome("delivered")
		s.logger.Info("notification delivered",
			zap.String("task_id", task.ID),
			zap.String("request_id", task.RequestID),
			zap.String("target_status", string(task.TargetStatus)))
		return
	}

	permanent := mailer.IsPermanent(sendErr) || task.Attempts+1 >= s.cfg.MaxAttempts
	if err := s.repo.MarkFailed(ctx, task.ID, attemptAt, sendErr.Error(), permanent); err != nil {
		s.logger.Error("failed to mark notification failed",
			zap.String("task_id", task.ID), zap.Error(err))
		return
	}
	if permanent {
		result.PermanentlyFailed++
		s.metrics.ObserveNotificationOutcome("permanently_failed")
		s.logger.Warn("notification permanently failed",
			zap.String("task_id", task.ID),
			zap.Int("attempts", task.Attempts+1),
			zap.Error(sendErr))
		return
	}
	result.Failed++
	s.metrics.ObserveNotificationOutcome("failed")
	s.logger.Warn("notification send failed, will retry",
		zap.String("task_id", task.ID),
		zap.Int("attempts", task.Attempts+1),
		zap.Error(sendErr))
}

// ListTasks exposes the outbox to administrators.
func (s *DispatcherService) ListTasks(ctx context.Context, query dto.NotificationQuery) ([]models.NotificationTask, int, error) {
	limit := query.PageSize
	if limit <= 0 {
		limit = 20
	}
	page := query.Page
	if page < 1 {
		page = 1
	}
	tasks, total, err := s.repo.List(ctx, models.NotificationFilter{
		Status:    query.Status,
		RequestID: query.RequestID,
		Limit:     limit,
		Offset:    (page - 1) * limit,
	})
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list notifications")
	}
	return tasks, total, nil
}

// PurgeDelivered removes delivered tasks older than the retention cutoff.
func (s *DispatcherService) PurgeDelivered(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteDelivered(ctx, s.now().UTC().Add(-retention))
}

// renderNotification builds the email for a task from its snapshot fields.
// The applicant-facing wording is French, matching the audience of the
// internship programme.
func renderNotification(task *models.NotificationTask) mailer.Message {
	msg := mailer.Message{
		To:     task.Recipient,
		ToName: task.RecipientName,
	}
	switch task.TargetStatus {
	case models.StatusPending:
		msg.Subject = "Votre demande de stage a bien été soumise"
		msg.Text = fmt.Sprintf(
			"Bonjour %s,\n\nVotre demande de stage a bien été enregistrée et sera examinée prochainement.\nVous recevrez un email dès qu'une décision aura été prise.\n\nCordialement,\nLe service des stages",
			task.RecipientName)
	case models.StatusAccepted:
		msg.Subject = "Votre demande de stage a été acceptée"
		msg.Text = fmt.Sprintf(
			"Bonjour %s,\n\nNous avons le plaisir de vous informer que votre demande de stage a été acceptée.%s\n\nCordialement,\nLe service des stages",
			task.RecipientName, renderNote(task.Note))
	case models.StatusRefused:
		msg.Subject = "Votre demande de stage a été refusée"
		msg.Text = fmt.Sprintf(
			"Bonjour %s,\n\nNous sommes au regret de vous informer que votre demande de stage n'a pas été retenue.%s\n\nCordialement,\nLe service des stages",
			task.RecipientName, renderNote(task.Note))
	default:
		msg.Subject = "Mise à jour de votre demande de stage"
		msg.Text = fmt.Sprintf(
			"Bonjour %s,\n\nLe statut de votre demande de stage a changé : %s.\n\nCordialement,\nLe service des stages",
			task.RecipientName, task.TargetStatus)
	}
	return msg
}

func renderNote(note *string) string {
	if note == nil || *note == "" {
		return ""
	}
	return "\n\nNote : " + *note
}
