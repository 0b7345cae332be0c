package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stagehub/stages-api/internal/dto"
	"github.com/stagehub/stages-api/internal/models"
	appErrors "github.com/stagehub/stages-api/pkg/errors"
)

func exportFixture() []models.Request {
	code := "STG-2026-ABCDEF01"
	return []models.Request{{
		ID:            "req-1",
		OwnerID:       "stu-1",
		ReferenceCode: &code,
		FirstName:     "Awa",
		LastName:      "Traoré",
		Email:         "awa@example.org",
		Phone:         "+22670000000",
		Institution:   "Université de Ouagadougou",
		StartDate:     time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
		EndDate:       time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC),
		Status:        models.StatusPending,
	}}
}

func TestExportServiceRendersCSV(t *testing.T) {
	repo := &requestListerStub{requests: exportFixture()}
	svc := NewExportService(repo, nil, 1, 1, nil)

	file, err := svc.Export(context.Background(), adminClaims("adm-1"), dto.ExportRequest{Format: dto.ExportFormatCSV})
	require.NoError(t, err)
	require.Equal(t, "text/csv", file.ContentType)
	require.Contains(t, string(file.Data), "Référence")
	require.Contains(t, string(file.Data), "STG-2026-ABCDEF01")
	require.Contains(t, string(file.Data), "Traoré")
}

func TestExportServiceRendersXLSXAndPDF(t *testing.T) {
	repo := &requestListerStub{requests: exportFixture()}
	svc := NewExportService(repo, nil, 1, 1, nil)

	xlsx, err := svc.Export(context.Background(), adminClaims("adm-1"), dto.ExportRequest{Format: dto.ExportFormatXLSX})
	require.NoError(t, err)
	require.NotEmpty(t, xlsx.Data)

	pdf, err := svc.Export(context.Background(), adminClaims("adm-1"), dto.ExportRequest{Format: dto.ExportFormatPDF})
	require.NoError(t, err)
	require.NotEmpty(t, pdf.Data)
}

func TestExportServiceScopesStudents(t *testing.T) {
	repo := &requestListerStub{requests: exportFixture()}
	svc := NewExportService(repo, nil, 1, 1, nil)

	_, err := svc.Export(context.Background(), studentClaims("stu-1"), dto.ExportRequest{Format: dto.ExportFormatCSV})
	require.NoError(t, err)
	require.Equal(t, "stu-1", repo.filter.OwnerID)
}

func TestExportServiceRejectsUnknownFormat(t *testing.T) {
	svc := NewExportService(&requestListerStub{}, nil, 1, 1, nil)

	_, err := svc.Export(context.Background(), adminClaims("adm-1"), dto.ExportRequest{Format: "docx"})
	require.Equal(t, appErrors.ErrValidation.Code, errCode(t, err))
}

func TestExportServiceScheduleRequiresAdmin(t *testing.T) {
	svc := NewExportService(&requestListerStub{}, nil, 1, 1, nil)

	_, err := svc.Schedule(context.Background(), studentClaims("stu-1"), dto.ExportRequest{Format: dto.ExportFormatCSV})
	require.Equal(t, appErrors.ErrForbidden.Code, errCode(t, err))
}
