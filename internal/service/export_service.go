package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/stagehub/stages-api/internal/dto"
	"github.com/stagehub/stages-api/internal/models"
	appErrors "github.com/stagehub/stages-api/pkg/errors"
	"github.com/stagehub/stages-api/pkg/export"
	"github.com/stagehub/stages-api/pkg/jobs"
	"github.com/stagehub/stages-api/pkg/storage"
)

// exportFetchPageSize bounds how many rows one repository round trip loads
// while building an export dataset.
const exportFetchPageSize = 500

var exportContentTypes = map[dto.ExportFormat]string{
	dto.ExportFormatCSV:  "text/csv",
	dto.ExportFormatPDF:  "application/pdf",
	dto.ExportFormatXLSX: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// ExportFile is a rendered export ready to stream to the client.
type ExportFile struct {
	Name        string
	ContentType string
	Data        []byte
}

type exportJobPayload struct {
	Filename string
	Format   dto.ExportFormat
	Filter   models.RequestFilter
}

// ExportService renders request listings as CSV, PDF or XLSX files, either
// inline or through a background worker that writes to export storage.
type ExportService struct {
	repo   requestLister
	store  *storage.LocalStorage
	queue  *jobs.Queue
	csv    *export.CSVExporter
	pdf    *export.PDFExporter
	xlsx   *export.XLSXExporter
	logger *zap.Logger
	now    func() time.Time
}

// NewExportService constructs the service. The background queue is created
// here so the render handler stays private; call Start/Stop around the
// server lifecycle.
func NewExportService(repo requestLister, store *storage.LocalStorage, workers, retries int, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ExportService{
		repo:   repo,
		store:  store,
		csv:    export.NewCSVExporter(),
		pdf:    export.NewPDFExporter(),
		xlsx:   export.NewXLSXExporter("Demandes"),
		logger: logger,
		now:    time.Now,
	}
	s.queue = jobs.NewQueue("exports", s.handleExportJob, jobs.QueueConfig{
		Workers:    workers,
		MaxRetries: retries,
		Logger:     logger,
	})
	return s
}

// Start launches the export worker pool.
func (s *ExportService) Start(ctx context.Context) { s.queue.Start(ctx) }

// Stop drains the export worker pool.
func (s *ExportService) Stop() { s.queue.Stop() }

// Export renders a listing export inline. Students export their own rows,
// administrators everything.
func (s *ExportService) Export(ctx context.Context, actor *models.JWTClaims, req dto.ExportRequest) (*ExportFile, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !req.Format.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv, pdf or xlsx")
	}
	filter := s.scopedFilter(actor, req.Status)
	dataset, err := s.buildDataset(ctx, filter)
	if err != nil {
		return nil, err
	}
	data, err := s.render(req.Format, dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	return &ExportFile{
		Name:        s.filename(req.Format),
		ContentType: exportContentTypes[req.Format],
		Data:        data,
	}, nil
}

// Schedule queues an export for background generation and returns the file
// name it will be stored under.
func (s *ExportService) Schedule(ctx context.Context, actor *models.JWTClaims, req dto.ExportRequest) (string, error) {
	if actor == nil {
		return "", appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return "", appErrors.Clone(appErrors.ErrForbidden, "only administrators schedule exports")
	}
	if !req.Format.Valid() {
		return "", appErrors.Clone(appErrors.ErrValidation, "format must be csv, pdf or xlsx")
	}
	filename := s.filename(req.Format)
	err := s.queue.Enqueue(jobs.Job{
		ID:   uuid.NewString(),
		Type: "export",
		Payload: exportJobPayload{
			Filename: filename,
			Format:   req.Format,
			Filter:   s.scopedFilter(actor, req.Status),
		},
	})
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to schedule export")
	}
	return filename, nil
}

// OpenStored opens a previously generated export file for download.
func (s *ExportService) OpenStored(actor *models.JWTClaims, name string) (*os.File, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !actor.IsAdmin() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators download stored exports")
	}
	file, err := s.store.Open(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "export not found or not yet generated")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open export")
	}
	return file, nil
}

func (s *ExportService) handleExportJob(ctx context.Context, job jobs.Job) error {
	payload, ok := job.Payload.(exportJobPayload)
	if !ok {
		return fmt.Errorf("unexpected export payload %T", job.Payload)
	}
	dataset, err := s.buildDataset(ctx, payload.Filter)
	if err != nil {
		return err
	}
	data, err := s.render(payload.Format, dataset)
	if err != nil {
		return err
	}
	if _, err := s.store.Save(payload.Filename, data); err != nil {
		return fmt.Errorf("store export %s: %w", payload.Filename, err)
	}
	s.logger.Info("export generated",
		zap.String("file", payload.Filename),
		zap.Int("rows", len(dataset.Rows)))
	return nil
}

func (s *ExportService) scopedFilter(actor *models.JWTClaims, status []models.RequestStatus) models.RequestFilter {
	filter := models.RequestFilter{Status: status}
	if !actor.IsAdmin() {
		filter.OwnerID = actor.UserID
	}
	return filter
}

func (s *ExportService) buildDataset(ctx context.Context, filter models.RequestFilter) (export.Dataset, error) {
	dataset := export.Dataset{
		Headers: []string{
			"Référence", "Nom", "Prénom", "Email", "Téléphone",
			"Établissement", "Filière", "Niveau", "Début", "Fin", "Statut", "Créée le",
		},
	}
	filter.Limit = exportFetchPageSize
	for offset := 0; ; offset += exportFetchPageSize {
		filter.Offset = offset
		requests, total, err := s.repo.List(ctx, filter)
		if err != nil {
			return export.Dataset{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load requests for export")
		}
		for i := range requests {
			dataset.Rows = append(dataset.Rows, exportRow(&requests[i]))
		}
		if offset+len(requests) >= total || len(requests) == 0 {
			break
		}
	}
	return dataset, nil
}

func (s *ExportService) render(format dto.ExportFormat, dataset export.Dataset) ([]byte, error) {
	switch format {
	case dto.ExportFormatCSV:
		return s.csv.Render(dataset)
	case dto.ExportFormatPDF:
		return s.pdf.Render(dataset, "Demandes de stage")
	case dto.ExportFormatXLSX:
		return s.xlsx.Render(dataset)
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

func (s *ExportService) filename(format dto.ExportFormat) string {
	return fmt.Sprintf("demandes-%s.%s", s.now().UTC().Format("20060102-150405"), format)
}

func exportRow(r *models.Request) map[string]string {
	refCode := ""
	if r.ReferenceCode != nil {
		refCode = *r.ReferenceCode
	}
	return map[string]string{
		"Référence":     refCode,
		"Nom":           r.LastName,
		"Prénom":        r.FirstName,
		"Email":         r.Email,
		"Téléphone":     r.Phone,
		"Établissement": r.Institution,
		"Filière":       r.FieldOfStudy,
		"Niveau":        r.StudyLevel,
		"Début":         r.StartDate.Format("2006-01-02"),
		"Fin":           r.EndDate.Format("2006-01-02"),
		"Statut":        string(r.Status),
		"Créée le":      r.CreatedAt.Format("2006-01-02"),
	}
}
