package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/stagehub/stages-api/internal/dto"
	"github.com/stagehub/stages-api/internal/models"
	"github.com/stagehub/stages-api/pkg/config"
	appErrors "github.com/stagehub/stages-api/pkg/errors"
)

type requestLister interface {
	List(ctx context.Context, filter models.RequestFilter) ([]models.Request, int, error)
	CountsByStatus(ctx context.Context, ownerID string) (map[models.RequestStatus]int, error)
}

// QueryService answers read-only questions about requests. Students see only
// their own rows; administrators see everything. Counts are computed from the
// store on every call, never cached.
type QueryService struct {
	repo   requestLister
	cfg    config.QueryConfig
	logger *zap.Logger
}

// NewQueryService constructs the service.
func NewQueryService(repo requestLister, cfg config.QueryConfig, logger *zap.Logger) *QueryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueryService{repo: repo, cfg: cfg, logger: logger}
}

// List returns a page of requests visible to the actor, newest first.
// A page size above the configured maximum is rejected, not clamped.
func (s *QueryService) List(ctx context.Context, actor *models.JWTClaims, query dto.RequestQuery) ([]models.Request, int, error) {
	if actor == nil {
		return nil, 0, appErrors.ErrUnauthorized
	}
	pageSize := query.PageSize
	if pageSize <= 0 {
		pageSize = s.cfg.DefaultPageSize
	}
	if pageSize > s.cfg.MaxPageSize {
		return nil, 0, appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("page_size must not exceed %d", s.cfg.MaxPageSize))
	}
	page := query.Page
	if page < 1 {
		page = 1
	}
	for _, status := range query.Status {
		if !status.Valid() {
			return nil, 0, appErrors.Clone(appErrors.ErrValidation,
				fmt.Sprintf("unknown status %q", status))
		}
	}

	filter := models.RequestFilter{
		Status: query.Status,
		Search: query.Search,
		Limit:  pageSize,
		Offset: (page - 1) * pageSize,
	}
	if !actor.IsAdmin() {
		filter.OwnerID = actor.UserID
	}
	requests, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list requests")
	}
	return requests, total, nil
}

// Stats returns exact per-status counts over the rows the actor may see.
// Statuses with zero requests are present with an explicit zero.
func (s *QueryService) Stats(ctx context.Context, actor *models.JWTClaims) (*dto.StatsResponse, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	ownerID := ""
	if !actor.IsAdmin() {
		ownerID = actor.UserID
	}
	counts, err := s.repo.CountsByStatus(ctx, ownerID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count requests")
	}

	stats := &dto.StatsResponse{Counts: make(map[models.RequestStatus]int, 4)}
	for _, status := range []models.RequestStatus{models.StatusDraft, models.StatusPending, models.StatusAccepted, models.StatusRefused} {
		stats.Counts[status] = counts[status]
		stats.Total += counts[status]
	}
	return stats, nil
}
