package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/stagehub/stages-api/internal/dto"
	"github.com/stagehub/stages-api/internal/models"
	"github.com/stagehub/stages-api/internal/repository"
	appErrors "github.com/stagehub/stages-api/pkg/errors"
)

type requestStoreStub struct {
	requests map[string]*models.Request
	tasks    []*models.NotificationTask

	transitionErr error
}

func newRequestStoreStub() *requestStoreStub {
	return &requestStoreStub{requests: make(map[string]*models.Request)}
}

func (s *requestStoreStub) Create(ctx context.Context, request *models.Request) error {
	if request.ID == "" {
		request.ID = uuid.NewString()
	}
	copy := *request
	s.requests[request.ID] = &copy
	return nil
}

func (s *requestStoreStub) GetByID(ctx context.Context, id string) (*models.Request, error) {
	if req, ok := s.requests[id]; ok {
		copy := *req
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *requestStoreStub) UpdateDraft(ctx context.Context, request *models.Request) error {
	current, ok := s.requests[request.ID]
	if !ok || current.Status != models.StatusDraft {
		return sql.ErrNoRows
	}
	updated := *request
	updated.Status = current.Status
	updated.OwnerID = current.OwnerID
	updated.CreatedAt = current.CreatedAt
	s.requests[request.ID] = &updated
	return nil
}

func (s *requestStoreStub) UpdateDocumentPaths(ctx context.Context, id string, cv, idDoc, coverLetter *string) error {
	req, ok := s.requests[id]
	if !ok {
		return sql.ErrNoRows
	}
	if cv != nil {
		req.CVPath = cv
	}
	if idDoc != nil {
		req.IDDocumentPath = idDoc
	}
	if coverLetter != nil {
		req.CoverLetterPath = coverLetter
	}
	return nil
}

func (s *requestStoreStub) ApplyTransition(ctx context.Context, params repository.ApplyTransitionParams) error {
	if s.transitionErr != nil {
		return s.transitionErr
	}
	req, ok := s.requests[params.ID]
	if !ok || req.Status != params.ExpectedStatus {
		return sql.ErrNoRows
	}
	req.Status = params.NewStatus
	req.StatusChangedAt = params.ChangedAt
	if params.ReferenceCode != nil {
		req.ReferenceCode = params.ReferenceCode
	}
	if params.Note != nil {
		req.Notes = params.Note
	}
	if params.Task != nil {
		s.tasks = append(s.tasks, params.Task)
	}
	return nil
}

func (s *requestStoreStub) DeleteDraft(ctx context.Context, id, ownerID string) error {
	req, ok := s.requests[id]
	if !ok || req.OwnerID != ownerID || req.Status != models.StatusDraft {
		return sql.ErrNoRows
	}
	delete(s.requests, id)
	return nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

func studentClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleStudent}
}

func adminClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleAdmin}
}

func validInput() dto.CreateRequestInput {
	return dto.CreateRequestInput{
		FirstName: "Awa",
		LastName:  "Traoré",
		Email:     "awa@example.org",
		Phone:     "+22670000000",
		StartDate: "2026-09-01",
		EndDate:   "2026-12-01",
	}
}

func errCode(t *testing.T, err error) string {
	t.Helper()
	require.Error(t, err)
	return appErrors.FromError(err).Code
}

func TestRequestServiceCreateDraft(t *testing.T) {
	repo := newRequestStoreStub()
	audit := &auditStub{}
	svc := NewRequestService(repo, audit, nil, nil)

	request, err := svc.Create(context.Background(), studentClaims("stu-1"), validInput())
	require.NoError(t, err)
	require.Equal(t, models.StatusDraft, request.Status)
	require.Equal(t, "stu-1", request.OwnerID)
	require.Nil(t, request.ReferenceCode)
	require.Empty(t, repo.tasks)
	require.Len(t, audit.logs, 1)
}

func TestRequestServiceCreateAndSubmit(t *testing.T) {
	repo := newRequestStoreStub()
	svc := NewRequestService(repo, &auditStub{}, nil, nil)

	input := validInput()
	input.Submit = true
	request, err := svc.Create(context.Background(), studentClaims("stu-1"), input)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, request.Status)
	require.NotNil(t, request.ReferenceCode)
	require.Regexp(t, `^STG-\d{4}-[0-9A-F]{8}$`, *request.ReferenceCode)
	require.Len(t, repo.tasks, 1)
	require.Equal(t, models.StatusPending, repo.tasks[0].TargetStatus)
	require.Equal(t, "awa@example.org", repo.tasks[0].Recipient)
}

func TestRequestServiceCreateRejectsAdmin(t *testing.T) {
	svc := NewRequestService(newRequestStoreStub(), &auditStub{}, nil, nil)

	_, err := svc.Create(context.Background(), adminClaims("adm-1"), validInput())
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestRequestServiceCreateRejectsInvertedPeriod(t *testing.T) {
	svc := NewRequestService(newRequestStoreStub(), &auditStub{}, nil, nil)

	input := validInput()
	input.StartDate = "2026-12-01"
	input.EndDate = "2026-09-01"
	_, err := svc.Create(context.Background(), studentClaims("stu-1"), input)
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))

	input.EndDate = input.StartDate
	_, err = svc.Create(context.Background(), studentClaims("stu-1"), input)
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
}

func TestRequestServiceSubmitAssignsReferenceOnce(t *testing.T) {
	repo := newRequestStoreStub()
	svc := NewRequestService(repo, &auditStub{}, nil, nil)

	created, err := svc.Create(context.Background(), studentClaims("stu-1"), validInput())
	require.NoError(t, err)

	submitted, err := svc.Submit(context.Background(), studentClaims("stu-1"), created.ID)
	require.NoError(t, err)
	require.Equal(t, models.StatusPending, submitted.Status)
	require.NotNil(t, submitted.ReferenceCode)
	require.Len(t, repo.tasks, 1)

	// Resubmitting a pending request must not reissue anything.
	_, err = svc.Submit(context.Background(), studentClaims("stu-1"), created.ID)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, errCode(t, err))
	require.Len(t, repo.tasks, 1)
}

func TestRequestServiceSubmitConflict(t *testing.T) {
	repo := newRequestStoreStub()
	svc := NewRequestService(repo, &auditStub{}, nil, nil)

	created, err := svc.Create(context.Background(), studentClaims("stu-1"), validInput())
	require.NoError(t, err)

	repo.transitionErr = sql.ErrNoRows
	_, err = svc.Submit(context.Background(), studentClaims("stu-1"), created.ID)
	require.Equal(t, appErrors.ErrConflict.Code, errCode(t, err))
	require.Empty(t, repo.tasks)
}

func TestRequestServiceDecide(t *testing.T) {
	repo := newRequestStoreStub()
	svc := NewRequestService(repo, &auditStub{}, nil, nil)

	created, err := svc.Create(context.Background(), studentClaims("stu-1"), validInput())
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), studentClaims("stu-1"), created.ID)
	require.NoError(t, err)

	decided, err := svc.Decide(context.Background(), adminClaims("adm-1"), created.ID, dto.DecisionRequest{
		Status: models.StatusAccepted,
		Note:   "bienvenue",
	})
	require.NoError(t, err)
	require.Equal(t, models.StatusAccepted, decided.Status)
	require.NotNil(t, decided.Notes)
	require.Equal(t, "bienvenue", *decided.Notes)

	require.Len(t, repo.tasks, 2)
	decision := repo.tasks[1]
	require.Equal(t, models.StatusAccepted, decision.TargetStatus)
	require.NotNil(t, decision.Note)
	require.Equal(t, "bienvenue", *decision.Note)
}

func TestRequestServiceDecideRequiresAdmin(t *testing.T) {
	repo := newRequestStoreStub()
	svc := NewRequestService(repo, &auditStub{}, nil, nil)

	created, err := svc.Create(context.Background(), studentClaims("stu-1"), validInput())
	require.NoError(t, err)

	_, err = svc.Decide(context.Background(), studentClaims("stu-1"), created.ID, dto.DecisionRequest{Status: models.StatusAccepted})
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestRequestServiceDecideOwnRequestForbidden(t *testing.T) {
	repo := newRequestStoreStub()
	svc := NewRequestService(repo, &auditStub{}, nil, nil)

	request := &models.Request{
		ID:      "req-1",
		OwnerID: "adm-1",
		Email:   "adm@example.org",
		Status:  models.StatusPending,
	}
	repo.requests[request.ID] = request

	_, err := svc.Decide(context.Background(), adminClaims("adm-1"), request.ID, dto.DecisionRequest{Status: models.StatusRefused})
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}

func TestRequestServiceDecideTerminalIsInvalid(t *testing.T) {
	repo := newRequestStoreStub()
	svc := NewRequestService(repo, &auditStub{}, nil, nil)

	request := &models.Request{
		ID:      "req-1",
		OwnerID: "stu-1",
		Email:   "awa@example.org",
		Status:  models.StatusAccepted,
	}
	repo.requests[request.ID] = request

	_, err := svc.Decide(context.Background(), adminClaims("adm-1"), request.ID, dto.DecisionRequest{Status: models.StatusRefused})
	require.Equal(t, appErrors.ErrInvalidTransition.Code, errCode(t, err))
	require.Empty(t, repo.tasks)
}

func TestRequestServiceDecideLostRaceIsConflict(t *testing.T) {
	repo := newRequestStoreStub()
	svc := NewRequestService(repo, &auditStub{}, nil, nil)

	request := &models.Request{
		ID:      "req-1",
		OwnerID: "stu-1",
		Email:   "awa@example.org",
		Status:  models.StatusPending,
	}
	repo.requests[request.ID] = request
	repo.transitionErr = sql.ErrNoRows

	_, err := svc.Decide(context.Background(), adminClaims("adm-1"), request.ID, dto.DecisionRequest{Status: models.StatusAccepted})
	require.Equal(t, appErrors.ErrConflict.Code, errCode(t, err))
	require.Empty(t, repo.tasks)
}

func TestRequestServiceGetScoping(t *testing.T) {
	repo := newRequestStoreStub()
	svc := NewRequestService(repo, &auditStub{}, nil, nil)

	created, err := svc.Create(context.Background(), studentClaims("stu-1"), validInput())
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), studentClaims("stu-2"), created.ID)
	require.Equal(t, appErrors.ErrNotFound.Code, errCode(t, err))

	got, err := svc.Get(context.Background(), adminClaims("adm-1"), created.ID)
	require.NoError(t, err)
	require.Equal(t, created.ID, got.ID)
}

func TestRequestServiceUpdateDraftOnly(t *testing.T) {
	repo := newRequestStoreStub()
	svc := NewRequestService(repo, &auditStub{}, nil, nil)

	created, err := svc.Create(context.Background(), studentClaims("stu-1"), validInput())
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), studentClaims("stu-1"), created.ID)
	require.NoError(t, err)

	_, err = svc.UpdateDraft(context.Background(), studentClaims("stu-1"), created.ID, validInput())
	require.Equal(t, appErrors.ErrInvalidTransition.Code, errCode(t, err))
}

func TestRequestServiceDeleteDraftOnly(t *testing.T) {
	repo := newRequestStoreStub()
	svc := NewRequestService(repo, &auditStub{}, nil, nil)

	created, err := svc.Create(context.Background(), studentClaims("stu-1"), validInput())
	require.NoError(t, err)
	require.NoError(t, svc.DeleteDraft(context.Background(), studentClaims("stu-1"), created.ID))

	submitted, err := svc.Create(context.Background(), studentClaims("stu-1"), validInput())
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), studentClaims("stu-1"), submitted.ID)
	require.NoError(t, err)

	err = svc.DeleteDraft(context.Background(), studentClaims("stu-1"), submitted.ID)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, errCode(t, err))
}
