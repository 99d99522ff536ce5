package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"sproutxp/internal/model"
)

type AuditStore interface {
	Record(ctx context.Context, rec model.AuditRecord) error
}

// AuditWorker listens on the "audit.records" NATS topic and persists audit records
// to the PostgreSQL audit_logs table.
type AuditWorker struct {
	store    AuditStore
	natsConn *nats.Conn
}

func NewAuditWorker(store AuditStore, nc *nats.Conn) *AuditWorker {
	return &AuditWorker{
		store:    store,
		natsConn: nc,
	}
}

// Run subscribes to "audit.records" and blocks until ctx is cancelled.
func (w *AuditWorker) Run(ctx context.Context) error {
	// QueueSubscribe spreads records across instances; each record reaches one worker.
	sub, err := w.natsConn.QueueSubscribe(model.TopicAuditRecords, "audit_group", func(m *nats.Msg) {
		w.handle(ctx, m.Data)
	})
	if err != nil {
		return fmt.Errorf("worker: failed to subscribe to NATS: %w", err)
	}

	slog.Info("Audit worker is running")

	<-ctx.Done()

	slog.Info("Audit worker received shutdown signal, draining subscription...")
	return sub.Drain()
}

func (w *AuditWorker) handle(ctx context.Context, data []byte) {
	var rec model.AuditRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		slog.Error("worker: failed to unmarshal audit record", "error", err)
		return
	}

	if err := w.store.Record(ctx, rec); err != nil {
		slog.Error("worker: failed to persist audit record",
			"audit_id", rec.ID,
			"actor_id", rec.ActorID,
			"error", err,
		)
		return
	}

	slog.Debug("worker: audit record persisted", "audit_id", rec.ID, "actor_id", rec.ActorID)
}

// Start implements the infrastructure.Server interface.
func (w *AuditWorker) Start(ctx context.Context) error {
	return w.Run(ctx)
}

// Stop implements the infrastructure.Server interface (no-op, shutdown is via ctx).
func (w *AuditWorker) Stop(ctx context.Context) error {
	return nil
}
