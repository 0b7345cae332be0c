package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/stagehub/stages-api/internal/dto"
	"github.com/stagehub/stages-api/internal/middleware"
	"github.com/stagehub/stages-api/internal/models"
	"github.com/stagehub/stages-api/pkg/config"
	appErrors "github.com/stagehub/stages-api/pkg/errors"
)

type requestServiceMock struct {
	request *models.Request
	err     error

	decided dto.DecisionRequest
}

func (m *requestServiceMock) Create(ctx context.Context, actor *models.JWTClaims, input dto.CreateRequestInput) (*models.Request, error) {
	return m.request, m.err
}

func (m *requestServiceMock) Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Request, error) {
	return m.request, m.err
}

func (m *requestServiceMock) UpdateDraft(ctx context.Context, actor *models.JWTClaims, id string, input dto.CreateRequestInput) (*models.Request, error) {
	return m.request, m.err
}

func (m *requestServiceMock) Submit(ctx context.Context, actor *models.JWTClaims, id string) (*models.Request, error) {
	return m.request, m.err
}

func (m *requestServiceMock) Decide(ctx context.Context, actor *models.JWTClaims, id string, verdict dto.DecisionRequest) (*models.Request, error) {
	m.decided = verdict
	return m.request, m.err
}

func (m *requestServiceMock) DeleteDraft(ctx context.Context, actor *models.JWTClaims, id string) error {
	return m.err
}

func (m *requestServiceMock) AttachDocuments(ctx context.Context, actor *models.JWTClaims, id string, cv, idDoc, coverLetter *string) (*models.Request, error) {
	return m.request, m.err
}

type requestQueriesMock struct {
	requests []models.Request
	total    int
	stats    *dto.StatsResponse
	err      error

	query dto.RequestQuery
}

func (m *requestQueriesMock) List(ctx context.Context, actor *models.JWTClaims, query dto.RequestQuery) ([]models.Request, int, error) {
	m.query = query
	return m.requests, m.total, m.err
}

func (m *requestQueriesMock) Stats(ctx context.Context, actor *models.JWTClaims) (*dto.StatsResponse, error) {
	return m.stats, m.err
}

func newGinContext(method, path string, body []byte) (*gin.Context, *httptest.ResponseRecorder) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req, _ := http.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	c.Request = req
	return c, w
}

func newHandlerForTest(svc *requestServiceMock, queries *requestQueriesMock) *RequestHandler {
	return NewRequestHandler(svc, queries, nil, config.UploadsConfig{})
}

func TestRequestHandlerCreate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &requestServiceMock{request: &models.Request{ID: "req-1", Status: models.StatusDraft}}
	h := newHandlerForTest(svc, nil)

	payload, _ := json.Marshal(dto.CreateRequestInput{
		FirstName: "Awa",
		LastName:  "Traoré",
		Email:     "awa@example.org",
		Phone:     "+22670000000",
		StartDate: "2026-09-01",
		EndDate:   "2026-12-01",
	})
	c, w := newGinContext(http.MethodPost, "/requests", payload)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})

	h.Create(c)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestRequestHandlerCreateBadPayload(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newHandlerForTest(&requestServiceMock{}, nil)

	c, w := newGinContext(http.MethodPost, "/requests", []byte("{not json"))
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})

	h.Create(c)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRequestHandlerListParsesQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	queries := &requestQueriesMock{total: 42}
	h := newHandlerForTest(nil, queries)

	c, w := newGinContext(http.MethodGet, "/requests?status=pending,accepted&search=awa&page=2&page_size=10", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin})

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []models.RequestStatus{models.StatusPending, models.StatusAccepted}, queries.query.Status)
	require.Equal(t, "awa", queries.query.Search)
	require.Equal(t, 2, queries.query.Page)
	require.Equal(t, 10, queries.query.PageSize)

	var envelope struct {
		Pagination *models.Pagination `json:"pagination"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &envelope))
	require.NotNil(t, envelope.Pagination)
	require.Equal(t, 42, envelope.Pagination.TotalCount)
}

func TestRequestHandlerDecidePropagatesConflict(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &requestServiceMock{err: appErrors.ErrConflict}
	h := newHandlerForTest(svc, nil)

	payload, _ := json.Marshal(dto.DecisionRequest{Status: models.StatusAccepted, Note: "ok"})
	c, w := newGinContext(http.MethodPost, "/requests/req-1/decision", payload)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin})

	h.Decide(c)
	require.Equal(t, http.StatusConflict, w.Code)
	require.Equal(t, models.StatusAccepted, svc.decided.Status)
}

func TestRequestHandlerDeleteNoContent(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := newHandlerForTest(&requestServiceMock{}, nil)

	c, w := newGinContext(http.MethodDelete, "/requests/req-1", nil)
	c.Params = gin.Params{{Key: "id", Value: "req-1"}}
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})

	h.Delete(c)
	c.Writer.WriteHeaderNow()
	require.Equal(t, http.StatusNoContent, w.Code)
}

func TestRequestHandlerStats(t *testing.T) {
	gin.SetMode(gin.TestMode)
	queries := &requestQueriesMock{stats: &dto.StatsResponse{
		Total: 4,
		Counts: map[models.RequestStatus]int{
			models.StatusDraft:    0,
			models.StatusPending:  3,
			models.StatusAccepted: 1,
			models.StatusRefused:  0,
		},
	}}
	h := newHandlerForTest(nil, queries)

	c, w := newGinContext(http.MethodGet, "/requests/stats", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin})

	h.Stats(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"total":4`)
}
