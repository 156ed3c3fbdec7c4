package repository

import (
	"context"

	"realtime_chat/internal/docstore"
	"realtime_chat/internal/domain"
	"realtime_chat/pkg/logger"
)

type AuditRepository interface {
	CreateLog(ctx context.Context, log *domain.AuditLog) error
	ListBySubject(ctx context.Context, subjectID string) ([]*domain.AuditLog, error)
}

type auditRepository struct {
	store docstore.Store
	log   logger.Logger
}

func NewAuditRepository(store docstore.Store, log logger.Logger) AuditRepository {
	return &auditRepository{store: store, log: log}
}

func (r *auditRepository) CreateLog(ctx context.Context, auditLog *domain.AuditLog) error {
	doc, err := r.store.Add(ctx, CollectionAuditLog, map[string]interface{}{
		"actor_id":   auditLog.ActorID,
		"event_type": auditLog.EventType,
		"subject_id": auditLog.SubjectID,
		"payload":    auditLog.Payload,
	})
	if err != nil {
		r.log.Error("Failed to create audit log", "error", err, "event_type", auditLog.EventType)
		return err
	}

	auditLog.ID = doc.ID
	auditLog.CreatedAt = doc.CreatedAt
	return nil
}

func (r *auditRepository) ListBySubject(ctx context.Context, subjectID string) ([]*domain.AuditLog, error) {
	docs, err := r.store.Get(ctx, docstore.Query{
		Collection: CollectionAuditLog,
		Where:      []docstore.Condition{docstore.Eq("subject_id", subjectID)},
	})
	if err != nil {
		r.log.Error("Failed to list audit log", "error", err, "subject_id", subjectID)
		return nil, err
	}

	logs := make([]*domain.AuditLog, 0, len(docs))
	for _, doc := range docs {
		logs = append(logs, &domain.AuditLog{
			ID:        doc.ID,
			ActorID:   getString(doc.Data, "actor_id"),
			EventType: getString(doc.Data, "event_type"),
			SubjectID: getString(doc.Data, "subject_id"),
			Payload:   getMap(doc.Data, "payload"),
			CreatedAt: doc.CreatedAt,
		})
	}
	return logs, nil
}
