package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/stagehub/stages-api/internal/dto"
	"github.com/stagehub/stages-api/internal/models"
	"github.com/stagehub/stages-api/internal/repository"
	appErrors "github.com/stagehub/stages-api/pkg/errors"
)

type requestStore interface {
	Create(ctx context.Context, request *models.Request) error
	GetByID(ctx context.Context, id string) (*models.Request, error)
	UpdateDraft(ctx context.Context, request *models.Request) error
	UpdateDocumentPaths(ctx context.Context, id string, cv, idDoc, coverLetter *string) error
	ApplyTransition(ctx context.Context, params repository.ApplyTransitionParams) error
	DeleteDraft(ctx context.Context, id, ownerID string) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

// RequestService enforces the request lifecycle state machine and pairs every
// committed transition with its queued notification.
type RequestService struct {
	repo      requestStore
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	metrics   *MetricsService
	now       func() time.Time
}

// NewRequestService constructs the service.
func NewRequestService(repo requestStore, audit auditLogger, validate *validator.Validate, logger *zap.Logger) *RequestService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestService{
		repo:      repo,
		audit:     audit,
		validator: validate,
		logger:    logger,
		now:       time.Now,
	}
}

// WithMetrics attaches Prometheus instrumentation.
func (s *RequestService) WithMetrics(m *MetricsService) *RequestService {
	s.metrics = m
	return s
}

// Create stores a new request for the acting student. With input.Submit the
// request goes straight to PENDING: it is created as a draft and submitted in
// the same call so the reference code and notification follow the same path
// as a manual submit.
func (s *RequestService) Create(ctx context.Context, actor *models.JWTClaims, input dto.CreateRequestInput) (*models.Request, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleStudent {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only students create internship requests")
	}
	request, err := s.buildRequest(actor.UserID, input)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, request); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create request")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestCreate, request.ID, request)

	if input.Submit {
		return s.Submit(ctx, actor, request.ID)
	}
	return request, nil
}

// Get loads one request, visible to its owner and to administrators only.
// A request hidden from the actor reads as not found rather than forbidden.
func (s *RequestService) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Request, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && request.OwnerID != actor.UserID {
		return nil, appErrors.ErrNotFound
	}
	return request, nil
}

// UpdateDraft replaces the editable fields of a draft. Only the owner may
// edit, and only while the request has not been submitted.
func (s *RequestService) UpdateDraft(ctx context.Context, actor *models.JWTClaims, id string, input dto.CreateRequestInput) (*models.Request, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.OwnerID != actor.UserID {
		if actor.IsAdmin() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "administrators may not edit request fields")
		}
		return nil, appErrors.ErrNotFound
	}
	if current.Status != models.StatusDraft {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "only drafts can be edited")
	}

	updated, err := s.buildRequest(actor.UserID, input)
	if err != nil {
		return nil, err
	}
	updated.ID = current.ID
	if err := s.repo.UpdateDraft(ctx, updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "draft was modified or submitted concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update draft")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestUpdate, current.ID, updated)
	return s.load(ctx, id)
}

// Submit moves a draft to PENDING, assigning the reference code exactly once
// and enqueuing the "submitted" notification in the same transaction.
func (s *RequestService) Submit(ctx context.Context, actor *models.JWTClaims, id string) (*models.Request, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.OwnerID != actor.UserID {
		if actor.IsAdmin() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owner submits a request")
		}
		return nil, appErrors.ErrNotFound
	}
	if request.Status != models.StatusDraft {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot submit a request in status %s", request.Status))
	}

	refCode := request.ReferenceCode
	if refCode == nil {
		code := s.newReferenceCode()
		refCode = &code
	}
	task := &models.NotificationTask{
		RequestID:     request.ID,
		TargetStatus:  models.StatusPending,
		Recipient:     request.Email,
		RecipientName: request.FullName(),
	}
	err = s.repo.ApplyTransition(ctx, repository.ApplyTransitionParams{
		ID:             request.ID,
		ExpectedStatus: models.StatusDraft,
		NewStatus:      models.StatusPending,
		ReferenceCode:  refCode,
		ChangedAt:      s.now().UTC(),
		Task:           task,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request was submitted concurrently")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to submit request")
	}
	s.metrics.ObserveTransition(string(models.StatusPending))
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestSubmit, request.ID, map[string]string{
		"status":         string(models.StatusPending),
		"reference_code": *refCode,
	})
	return s.load(ctx, id)
}

// Decide applies an administrator's accept/refuse verdict on a pending
// request. A lost optimistic race surfaces as a conflict, never a retry:
// the caller must reload before deciding again.
func (s *RequestService) Decide(ctx context.Context, actor *models.JWTClaims, id string, verdict dto.DecisionRequest) (*models.Request, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators decide requests")
	}
	target := models.RequestStatus(strings.ToUpper(string(verdict.Status)))
	if target != models.StatusAccepted && target != models.StatusRefused {
		return nil, appErrors.Clone(appErrors.ErrValidation, "status must be ACCEPTED or REFUSED")
	}

	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.OwnerID == actor.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "an owner may not decide their own request")
	}
	if request.Status != models.StatusPending {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition,
			fmt.Sprintf("cannot decide a request in status %s", request.Status))
	}

	note := optionalString(verdict.Note)
	task := &models.NotificationTask{
		RequestID:     request.ID,
		TargetStatus:  target,
		Recipient:     request.Email,
		RecipientName: request.FullName(),
		Note:          note,
	}
	err = s.repo.ApplyTransition(ctx, repository.ApplyTransitionParams{
		ID:             request.ID,
		ExpectedStatus: models.StatusPending,
		NewStatus:      target,
		Note:           note,
		ChangedAt:      s.now().UTC(),
		Task:           task,
	})
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "request was decided by another administrator")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply decision")
	}
	s.metrics.ObserveTransition(string(target))
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestDecision, request.ID, map[string]string{
		"status": string(target),
		"note":   verdict.Note,
	})
	return s.load(ctx, id)
}

// DeleteDraft removes a request that never left DRAFT. Submitted requests are
// retained for audit and cannot be deleted.
func (s *RequestService) DeleteDraft(ctx context.Context, actor *models.JWTClaims, id string) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	request, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if request.OwnerID != actor.UserID {
		if actor.IsAdmin() {
			return appErrors.Clone(appErrors.ErrForbidden, "only the owner deletes a draft")
		}
		return appErrors.ErrNotFound
	}
	if request.Status != models.StatusDraft {
		return appErrors.Clone(appErrors.ErrInvalidTransition, "only drafts can be deleted")
	}
	if err := s.repo.DeleteDraft(ctx, id, actor.UserID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrConflict, "draft was submitted or deleted concurrently")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete draft")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionRequestDelete, id, nil)
	return nil
}

// AttachDocuments stores uploaded attachment pointers on a request the actor
// owns. The request keeps only the opaque storage path.
func (s *RequestService) AttachDocuments(ctx context.Context, actor *models.JWTClaims, id string, cv, idDoc, coverLetter *string) (*models.Request, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	request, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if request.OwnerID != actor.UserID {
		if actor.IsAdmin() {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "administrators may not edit request fields")
		}
		return nil, appErrors.ErrNotFound
	}
	if request.Status.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "decided requests cannot be modified")
	}
	if err := s.repo.UpdateDocumentPaths(ctx, id, cv, idDoc, coverLetter); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to attach documents")
	}
	s.emitAudit(ctx, actor.UserID, models.AuditActionDocumentUpload, id, nil)
	return s.load(ctx, id)
}

func (s *RequestService) load(ctx context.Context, id string) (*models.Request, error) {
	request, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load request")
	}
	return request, nil
}

func (s *RequestService) buildRequest(ownerID string, input dto.CreateRequestInput) (*models.Request, error) {
	if err := s.validator.Struct(input); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid request payload")
	}
	start, end, err := parsePeriod(input.StartDate, input.EndDate)
	if err != nil {
		return nil, err
	}
	return &models.Request{
		OwnerID:      ownerID,
		FirstName:    strings.TrimSpace(input.FirstName),
		LastName:     strings.TrimSpace(input.LastName),
		Email:        strings.TrimSpace(input.Email),
		Phone:        strings.TrimSpace(input.Phone),
		Institution:  strings.TrimSpace(input.Institution),
		FieldOfStudy: strings.TrimSpace(input.FieldOfStudy),
		StudyLevel:   strings.TrimSpace(input.StudyLevel),
		StartDate:    start,
		EndDate:      end,
		Status:       models.StatusDraft,
	}, nil
}

func (s *RequestService) newReferenceCode() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("STG-%d-%08X", s.now().Year(), s.now().UnixNano()&0xFFFFFFFF)
	}
	return fmt.Sprintf("STG-%d-%s", s.now().Year(), strings.ToUpper(hex.EncodeToString(buf)))
}

func (s *RequestService) emitAudit(ctx context.Context, userID, action, resourceID string, payload interface{}) {
	if s.audit == nil {
		return
	}
	log := &models.AuditLog{
		UserID:     &userID,
		Action:     action,
		Resource:   "request",
		ResourceID: &resourceID,
		IPAddress:  "system",
		UserAgent:  "request-service",
	}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			log.NewValues = data
		}
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

// parsePeriod parses calendar dates and enforces a strictly positive period.
func parsePeriod(startRaw, endRaw string) (time.Time, time.Time, error) {
	start, err := time.Parse("2006-01-02", startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "start_date must be a valid YYYY-MM-DD date")
	}
	end, err := time.Parse("2006-01-02", endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "end_date must be a valid YYYY-MM-DD date")
	}
	if !start.Before(end) {
		return time.Time{}, time.Time{}, appErrors.Clone(appErrors.ErrValidation, "start_date must be strictly before end_date")
	}
	return start, end, nil
}

func optionalString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
