package handler

import (
	"context"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/stagehub/stages-api/internal/dto"
	"github.com/stagehub/stages-api/internal/models"
	"github.com/stagehub/stages-api/internal/service"
	appErrors "github.com/stagehub/stages-api/pkg/errors"
	"github.com/stagehub/stages-api/pkg/response"
)

type exportService interface {
	Export(ctx context.Context, actor *models.JWTClaims, req dto.ExportRequest) (*service.ExportFile, error)
	Schedule(ctx context.Context, actor *models.JWTClaims, req dto.ExportRequest) (string, error)
	OpenStored(actor *models.JWTClaims, name string) (*os.File, error)
}

// ExportHandler streams request listings as CSV, PDF or XLSX.
type ExportHandler struct {
	service exportService
}

// NewExportHandler constructs the handler.
func NewExportHandler(service exportService) *ExportHandler {
	return &ExportHandler{service: service}
}

// Export godoc
// @Summary Export the request listing
// @Tags Exports
// @Produce octet-stream
// @Param format query string true "csv, pdf or xlsx"
// @Param status query string false "Comma separated statuses"
// @Success 200 {file} binary
// @Router /requests/export [get]
func (h *ExportHandler) Export(c *gin.Context) {
	req := dto.ExportRequest{Format: dto.ExportFormat(strings.ToLower(c.Query("format")))}
	if rawStatus := c.Query("status"); rawStatus != "" {
		for _, part := range strings.Split(rawStatus, ",") {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			req.Status = append(req.Status, models.RequestStatus(part))
		}
	}
	file, err := h.service.Export(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", `attachment; filename="`+file.Name+`"`)
	c.Data(http.StatusOK, file.ContentType, file.Data)
}

// Schedule godoc
// @Summary Queue a background export
// @Tags Exports
// @Accept json
// @Produce json
// @Param payload body dto.ExportRequest true "Export payload"
// @Success 202 {object} response.Envelope
// @Router /requests/export [post]
func (h *ExportHandler) Schedule(c *gin.Context) {
	var req dto.ExportRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid export payload"))
		return
	}
	filename, err := h.service.Schedule(c.Request.Context(), claimsFromContext(c), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusAccepted, gin.H{"file": filename}, nil)
}

// Download godoc
// @Summary Download a generated export
// @Tags Exports
// @Produce octet-stream
// @Param name path string true "Export file name"
// @Success 200 {file} binary
// @Router /requests/export/{name} [get]
func (h *ExportHandler) Download(c *gin.Context) {
	file, err := h.service.OpenStored(claimsFromContext(c), c.Param("name"))
	if err != nil {
		response.Error(c, err)
		return
	}
	defer file.Close()

	c.Header("Content-Disposition", `attachment; filename="`+c.Param("name")+`"`)
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, file); err != nil {
		_ = c.Error(err)
	}
}
