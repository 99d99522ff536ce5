package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"sproutxp/internal/model"
)

// AuditRepo appends records to audit_logs. Rows are never updated or deleted.
type AuditRepo struct {
	dbPool *pgxpool.Pool
}

func NewAuditRepo(db *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{dbPool: db}
}

func (r *AuditRepo) Record(ctx context.Context, rec model.AuditRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("marshal audit details: %w", err)
	}

	// Redelivered bus messages carry the same id.
	query := `
		INSERT INTO audit_logs (id, actor_id, action, details, source_ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO NOTHING`
	_, err = r.dbPool.Exec(ctx, query, rec.ID, rec.ActorID, rec.Action, details, rec.SourceIP, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert audit record: %w", err)
	}
	return nil
}

// BusAuditSink hands audit records to the message bus; the audit worker persists them.
type BusAuditSink struct {
	bus MessageBus
}

func NewBusAuditSink(bus MessageBus) *BusAuditSink {
	return &BusAuditSink{bus: bus}
}

func (s *BusAuditSink) Record(_ context.Context, rec model.AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	return s.bus.Publish(model.TopicAuditRecords, data)
}
