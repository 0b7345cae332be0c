package dto

import "github.com/stagehub/stages-api/internal/models"

// CreateRequestInput carries the student-provided fields for a new request.
// Dates use the YYYY-MM-DD calendar form; time of day is ignored.
type CreateRequestInput struct {
	FirstName    string `json:"first_name" validate:"required"`
	LastName     string `json:"last_name" validate:"required"`
	Email        string `json:"email" validate:"required,email"`
	Phone        string `json:"phone" validate:"required"`
	Institution  string `json:"institution"`
	FieldOfStudy string `json:"field_of_study"`
	StudyLevel   string `json:"study_level"`
	StartDate    string `json:"start_date" validate:"required,datetime=2006-01-02"`
	EndDate      string `json:"end_date" validate:"required,datetime=2006-01-02"`
	Submit       bool   `json:"submit"`
}

// DecisionRequest is an administrator's accept/refuse verdict.
type DecisionRequest struct {
	Status models.RequestStatus `json:"status" validate:"required"`
	Note   string               `json:"note"`
}

// RequestQuery constrains listing and search endpoints.
type RequestQuery struct {
	Status   []models.RequestStatus
	Search   string
	Page     int
	PageSize int
}

// StatsResponse reports exact request counts by status.
type StatsResponse struct {
	Total  int                          `json:"total"`
	Counts map[models.RequestStatus]int `json:"counts"`
}
