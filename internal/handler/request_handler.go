package handler

import (
	"context"
	"fmt"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stagehub/stages-api/internal/dto"
	"github.com/stagehub/stages-api/internal/models"
	"github.com/stagehub/stages-api/pkg/config"
	appErrors "github.com/stagehub/stages-api/pkg/errors"
	"github.com/stagehub/stages-api/pkg/response"
	"github.com/stagehub/stages-api/pkg/storage"
)

type requestService interface {
	Create(ctx context.Context, actor *models.JWTClaims, input dto.CreateRequestInput) (*models.Request, error)
	Get(ctx context.Context, actor *models.JWTClaims, id string) (*models.Request, error)
	UpdateDraft(ctx context.Context, actor *models.JWTClaims, id string, input dto.CreateRequestInput) (*models.Request, error)
	Submit(ctx context.Context, actor *models.JWTClaims, id string) (*models.Request, error)
	Decide(ctx context.Context, actor *models.JWTClaims, id string, verdict dto.DecisionRequest) (*models.Request, error)
	DeleteDraft(ctx context.Context, actor *models.JWTClaims, id string) error
	AttachDocuments(ctx context.Context, actor *models.JWTClaims, id string, cv, idDoc, coverLetter *string) (*models.Request, error)
}

type requestQueries interface {
	List(ctx context.Context, actor *models.JWTClaims, query dto.RequestQuery) ([]models.Request, int, error)
	Stats(ctx context.Context, actor *models.JWTClaims) (*dto.StatsResponse, error)
}

// RequestHandler exposes REST endpoints for the internship request lifecycle.
type RequestHandler struct {
	service requestService
	queries requestQueries
	store   *storage.LocalStorage
	uploads config.UploadsConfig
}

// NewRequestHandler constructs the handler.
func NewRequestHandler(service requestService, queries requestQueries, store *storage.LocalStorage, uploads config.UploadsConfig) *RequestHandler {
	return &RequestHandler{service: service, queries: queries, store: store, uploads: uploads}
}

// Create godoc
// @Summary Create an internship request
// @Tags Requests
// @Accept json
// @Produce json
// @Param payload body dto.CreateRequestInput true "Request payload"
// @Success 201 {object} response.Envelope
// @Router /requests [post]
func (h *RequestHandler) Create(c *gin.Context) {
	var input dto.CreateRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}
	request, err := h.service.Create(c.Request.Context(), claimsFromContext(c), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, request)
}

// List godoc
// @Summary List internship requests
// @Tags Requests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param search query string false "Name search"
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /requests [get]
func (h *RequestHandler) List(c *gin.Context) {
	query := dto.RequestQuery{
		Search:   strings.TrimSpace(c.Query("search")),
		Page:     queryInt(c, "page"),
		PageSize: queryInt(c, "page_size"),
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		for _, part := range strings.Split(rawStatus, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			query.Status = append(query.Status, models.RequestStatus(part))
		}
	}
	requests, total, err := h.queries.List(c.Request.Context(), claimsFromContext(c), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	page := query.Page
	if page < 1 {
		page = 1
	}
	response.JSON(c, http.StatusOK, requests, &models.Pagination{
		Page:       page,
		PageSize:   len(requests),
		TotalCount: total,
	})
}

// Get godoc
// @Summary Get one internship request
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [get]
func (h *RequestHandler) Get(c *gin.Context) {
	request, err := h.service.Get(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Update godoc
// @Summary Update a draft request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.CreateRequestInput true "Request payload"
// @Success 200 {object} response.Envelope
// @Router /requests/{id} [put]
func (h *RequestHandler) Update(c *gin.Context) {
	var input dto.CreateRequestInput
	if err := c.ShouldBindJSON(&input); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid request payload"))
		return
	}
	request, err := h.service.UpdateDraft(c.Request.Context(), claimsFromContext(c), c.Param("id"), input)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Submit godoc
// @Summary Submit a draft for review
// @Tags Requests
// @Produce json
// @Param id path string true "Request ID"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/submit [post]
func (h *RequestHandler) Submit(c *gin.Context) {
	request, err := h.service.Submit(c.Request.Context(), claimsFromContext(c), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Decide godoc
// @Summary Accept or refuse a pending request
// @Tags Requests
// @Accept json
// @Produce json
// @Param id path string true "Request ID"
// @Param payload body dto.DecisionRequest true "Decision payload"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/decision [post]
func (h *RequestHandler) Decide(c *gin.Context) {
	var verdict dto.DecisionRequest
	if err := c.ShouldBindJSON(&verdict); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid decision payload"))
		return
	}
	request, err := h.service.Decide(c.Request.Context(), claimsFromContext(c), c.Param("id"), verdict)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

// Delete godoc
// @Summary Delete a draft request
// @Tags Requests
// @Param id path string true "Request ID"
// @Success 204
// @Router /requests/{id} [delete]
func (h *RequestHandler) Delete(c *gin.Context) {
	if err := h.service.DeleteDraft(c.Request.Context(), claimsFromContext(c), c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// Stats godoc
// @Summary Request counts by status
// @Tags Requests
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /requests/stats [get]
func (h *RequestHandler) Stats(c *gin.Context) {
	stats, err := h.queries.Stats(c.Request.Context(), claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// UploadDocuments godoc
// @Summary Attach CV, ID document and cover letter
// @Tags Requests
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Request ID"
// @Param cv formData file false "CV"
// @Param id_document formData file false "ID document"
// @Param cover_letter formData file false "Cover letter"
// @Success 200 {object} response.Envelope
// @Router /requests/{id}/documents [post]
func (h *RequestHandler) UploadDocuments(c *gin.Context) {
	id := c.Param("id")
	form, err := c.MultipartForm()
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid multipart payload"))
		return
	}

	var cv, idDoc, coverLetter *string
	for field, target := range map[string]**string{
		"cv":           &cv,
		"id_document":  &idDoc,
		"cover_letter": &coverLetter,
	} {
		files := form.File[field]
		if len(files) == 0 {
			continue
		}
		path, err := h.storeUpload(id, field, files[0])
		if err != nil {
			response.Error(c, err)
			return
		}
		*target = &path
	}
	if cv == nil && idDoc == nil && coverLetter == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "no document provided"))
		return
	}

	request, err := h.service.AttachDocuments(c.Request.Context(), claimsFromContext(c), id, cv, idDoc, coverLetter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, request, nil)
}

func (h *RequestHandler) storeUpload(requestID, field string, file *multipart.FileHeader) (string, error) {
	if file.Size > h.uploads.MaxFileSizeBytes {
		return "", appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("%s exceeds the maximum size of %d bytes", field, h.uploads.MaxFileSizeBytes))
	}
	contentType := file.Header.Get("Content-Type")
	if !h.mimeAllowed(contentType) {
		return "", appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("%s has unsupported content type %q", field, contentType))
	}

	src, err := file.Open()
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read upload")
	}
	defer src.Close()

	name := fmt.Sprintf("%s-%s%s", requestID, field, filepath.Ext(file.Filename))
	if _, err := h.store.SaveStream(name, src); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store upload")
	}
	return name, nil
}

func (h *RequestHandler) mimeAllowed(contentType string) bool {
	if len(h.uploads.AllowedMIMEs) == 0 {
		return true
	}
	for _, allowed := range h.uploads.AllowedMIMEs {
		if strings.EqualFold(allowed, contentType) {
			return true
		}
	}
	return false
}

func queryInt(c *gin.Context, key string) int {
	raw := c.Query(key)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return value
}
