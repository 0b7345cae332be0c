package dto

import "github.com/stagehub/stages-api/internal/models"

// NotificationQuery constrains outbox listing endpoints.
type NotificationQuery struct {
	Status    []models.NotificationStatus
	RequestID string
	Page      int
	PageSize  int
}

// DrainResult summarises one dispatcher sweep.
type DrainResult struct {
	Processed         int `json:"processed"`
	Delivered         int `json:"delivered"`
	Failed            int `json:"failed"`
	PermanentlyFailed int `json:"permanently_failed"`
}
