package dto

import "github.com/stagehub/stages-api/internal/models"

// ExportFormat enumerates supported listing export formats.
type ExportFormat string

const (
	ExportFormatCSV  ExportFormat = "csv"
	ExportFormatPDF  ExportFormat = "pdf"
	ExportFormatXLSX ExportFormat = "xlsx"
)

// Valid reports whether the format is supported.
func (f ExportFormat) Valid() bool {
	switch f {
	case ExportFormatCSV, ExportFormatPDF, ExportFormatXLSX:
		return true
	}
	return false
}

// ExportRequest asks for a listing export.
type ExportRequest struct {
	Format ExportFormat           `json:"format"`
	Status []models.RequestStatus `json:"status,omitempty"`
}
