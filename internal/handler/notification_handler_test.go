package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/stagehub/stages-api/internal/dto"
	"github.com/stagehub/stages-api/internal/middleware"
	"github.com/stagehub/stages-api/internal/models"
)

type notificationServiceMock struct {
	tasks  []models.NotificationTask
	total  int
	result dto.DrainResult
	err    error

	query   dto.NotificationQuery
	drained bool
}

func (m *notificationServiceMock) ListTasks(ctx context.Context, query dto.NotificationQuery) ([]models.NotificationTask, int, error) {
	m.query = query
	return m.tasks, m.total, m.err
}

func (m *notificationServiceMock) DrainOnce(ctx context.Context) (dto.DrainResult, error) {
	m.drained = true
	return m.result, m.err
}

func TestNotificationHandlerListRequiresAdmin(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &notificationServiceMock{}
	h := NewNotificationHandler(svc)

	c, w := newGinContext(http.MethodGet, "/notifications", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "stu-1", Role: models.RoleStudent})

	h.List(c)
	require.Equal(t, http.StatusForbidden, w.Code)
}

func TestNotificationHandlerListParsesQuery(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &notificationServiceMock{total: 2}
	h := NewNotificationHandler(svc)

	c, w := newGinContext(http.MethodGet, "/notifications?status=failed,permanently_failed&request_id=req-1", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin})

	h.List(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, []models.NotificationStatus{models.NotificationFailed, models.NotificationPermanentlyFailed}, svc.query.Status)
	require.Equal(t, "req-1", svc.query.RequestID)
}

func TestNotificationHandlerDrain(t *testing.T) {
	gin.SetMode(gin.TestMode)
	svc := &notificationServiceMock{result: dto.DrainResult{Processed: 3, Delivered: 2, Failed: 1}}
	h := NewNotificationHandler(svc)

	c, w := newGinContext(http.MethodPost, "/notifications/drain", nil)
	c.Set(middleware.ContextUserKey, &models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin})

	h.Drain(c)
	require.Equal(t, http.StatusOK, w.Code)
	require.True(t, svc.drained)
	require.Contains(t, w.Body.String(), `"processed":3`)
}
