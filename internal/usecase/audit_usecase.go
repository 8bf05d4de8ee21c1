package usecase

import (
	"context"
	"time"

	"app/internal/domain/model"
	repo "app/internal/repository"
)

// 管理者向けの監査ログ閲覧。
type AuditUsecase struct {
	logs repo.AuditLogRepository
}

func NewAuditUsecase(logs repo.AuditLogRepository) *AuditUsecase {
	return &AuditUsecase{logs: logs}
}

type AuditLogOutput struct {
	ID           int64     `json:"id"`
	ActorUserID  int64     `json:"actor_user_id"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   int64     `json:"resource_id"`
	BeforeJSON   string    `json:"before_json"`
	AfterJSON    string    `json:"after_json"`
	CreatedAt    time.Time `json:"created_at"`
}

func (u *AuditUsecase) List(ctx context.Context, f repo.AuditLogFilter) ([]AuditLogOutput, error) {
	if f.Limit < 1 || f.Limit > 100 {
		return []AuditLogOutput{}, NewValidationError("invalid limit")
	}
	if f.Offset < 0 {
		return []AuditLogOutput{}, NewValidationError("invalid offset")
	}

	logs, err := u.logs.List(ctx, f)
	if err != nil {
		return []AuditLogOutput{}, err
	}

	outs := make([]AuditLogOutput, 0, len(logs))
	for _, l := range logs {
		outs = append(outs, toAuditLogOutput(l))
	}
	return outs, nil
}

func toAuditLogOutput(l model.AuditLog) AuditLogOutput {
	return AuditLogOutput{
		ID:           l.ID,
		ActorUserID:  l.ActorUserID,
		Action:       string(l.Action),
		ResourceType: string(l.ResourceType),
		ResourceID:   l.ResourceID,
		BeforeJSON:   l.BeforeJSON,
		AfterJSON:    l.AfterJSON,
		CreatedAt:    l.CreatedAt,
	}
}
