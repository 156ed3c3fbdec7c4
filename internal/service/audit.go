package service

import (
	"context"

	"realtime_chat/internal/domain"
	"realtime_chat/internal/repository"
	"realtime_chat/pkg/logger"
)

type AuditService interface {
	LogEvent(ctx context.Context, actorID, eventType, subjectID string, payload map[string]interface{}) error
	ListBySubject(ctx context.Context, subjectID string) ([]*domain.AuditLog, error)
}

type auditService struct {
	auditRepo repository.AuditRepository
	log       logger.Logger
}

func NewAuditService(auditRepo repository.AuditRepository, log logger.Logger) AuditService {
	return &auditService{
		auditRepo: auditRepo,
		log:       log,
	}
}

func (s *auditService) LogEvent(ctx context.Context, actorID, eventType, subjectID string, payload map[string]interface{}) error {
	if payload == nil {
		payload = make(map[string]interface{})
	}

	auditLog := &domain.AuditLog{
		ActorID:   actorID,
		EventType: eventType,
		SubjectID: subjectID,
		Payload:   payload,
	}

	return s.auditRepo.CreateLog(ctx, auditLog)
}

func (s *auditService) ListBySubject(ctx context.Context, subjectID string) ([]*domain.AuditLog, error) {
	return s.auditRepo.ListBySubject(ctx, subjectID)
}

// logAudit records an event without failing the caller's operation.
func logAudit(ctx context.Context, audit AuditService, log logger.Logger, actorID, eventType, subjectID string, payload map[string]interface{}) {
	if audit == nil {
		return
	}
	if err := audit.LogEvent(ctx, actorID, eventType, subjectID, payload); err != nil {
		log.Warn("Failed to write audit log", "error", err, "event_type", eventType, "subject_id", subjectID)
	}
}
