package domain

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/creditkit/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	ActionCreditsGrant       = "credits.grant"
	ActionAccountRoleChanged = "account.role_changed"
	ActionAccountPlanChanged = "account.plan_changed"
	ActionAccountDeleted     = "account.deleted"
	ActionFlagCreated        = "feature_flag.created"
	ActionFlagToggled        = "feature_flag.toggled"
	ActionFlagDeleted        = "feature_flag.deleted"
	ActionFlagAssigned       = "feature_flag.assigned"
	ActionFlagUnassigned     = "feature_flag.unassigned"
)

type ListAuditLogRequest struct {
	pagination.Pagination
	Action     string
	TargetType string
	TargetID   string
	ActorType  string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

// Service appends audit rows. Passing a non-nil tx writes the row inside the
// caller's transaction.
type Service interface {
	AuditLog(ctx context.Context, tx *gorm.DB, actorType string, actorID *string, action string, targetType string, targetID *string, metadata map[string]any) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
