package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stagehub/stages-api/internal/dto"
	"github.com/stagehub/stages-api/internal/models"
	appErrors "github.com/stagehub/stages-api/pkg/errors"
	"github.com/stagehub/stages-api/pkg/response"
)

type notificationService interface {
	ListTasks(ctx context.Context, query dto.NotificationQuery) ([]models.NotificationTask, int, error)
	DrainOnce(ctx context.Context) (dto.DrainResult, error)
}

// NotificationHandler exposes the notification outbox to administrators.
type NotificationHandler struct {
	service notificationService
}

// NewNotificationHandler constructs the handler.
func NewNotificationHandler(service notificationService) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// List godoc
// @Summary List notification tasks
// @Tags Notifications
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param request_id query string false "Filter by request"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /notifications [get]
func (h *NotificationHandler) List(c *gin.Context) {
	if claims := claimsFromContext(c); !claims.IsAdmin() {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	query := dto.NotificationQuery{
		RequestID: strings.TrimSpace(c.Query("request_id")),
		Page:      queryInt(c, "page"),
		PageSize:  queryInt(c, "page_size"),
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		for _, part := range strings.Split(rawStatus, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			query.Status = append(query.Status, models.NotificationStatus(part))
		}
	}
	tasks, total, err := h.service.ListTasks(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	page := query.Page
	if page < 1 {
		page = 1
	}
	response.JSON(c, http.StatusOK, tasks, &models.Pagination{
		Page:       page,
		PageSize:   len(tasks),
		TotalCount: total,
	})
}

// Drain godoc
// @Summary Run one outbox sweep immediately
// @Tags Notifications
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /notifications/drain [post]
func (h *NotificationHandler) Drain(c *gin.Context) {
	if claims := claimsFromContext(c); !claims.IsAdmin() {
		response.Error(c, appErrors.ErrForbidden)
		return
	}
	result, err := h.service.DrainOnce(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}
