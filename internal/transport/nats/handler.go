package nats

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"sproutxp/internal/model"
	"sproutxp/internal/service"
)

// GrantCommand is the payload of a commands.grant_xp message. It is sent by trusted
// backend services, so the user is named in the message instead of a bearer token.
type GrantCommand struct {
	UserID   string `json:"userId"`
	SourceIP string `json:"sourceIp,omitempty"`
	model.GrantRequest
}

// Handler subscribes to NATS command topics and delegates to the XP service.
type Handler struct {
	svc  service.XPService
	nc   *nats.Conn
	subs []*nats.Subscription
}

func NewHandler(svc service.XPService, nc *nats.Conn) *Handler {
	return &Handler{svc: svc, nc: nc}
}

// Start subscribes to command topics and blocks until ctx is cancelled (graceful shutdown).
func (h *Handler) Start(ctx context.Context) error {
	sub, err := h.nc.QueueSubscribe(model.TopicGrantCommand, "xp_group", func(m *nats.Msg) {
		reply := h.handleGrant(ctx, m.Data)
		if m.Reply == "" {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			slog.Error("nats: failed to marshal grant reply", "error", err)
			return
		}
		if err := m.Respond(data); err != nil {
			slog.Warn("nats: failed to respond to grant command", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("nats: subscribe %s: %w", model.TopicGrantCommand, err)
	}
	h.subs = append(h.subs, sub)

	slog.Info("NATS command handler is running")

	<-ctx.Done()
	slog.Info("NATS command handler shutting down, draining subscriptions...")

	for _, s := range h.subs {
		_ = s.Drain()
	}
	return nil
}

// handleGrant never returns nil; failures are reported in the result's error field.
func (h *Handler) handleGrant(ctx context.Context, data []byte) *model.GrantResult {
	var cmd GrantCommand
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&cmd); err != nil {
		slog.Error("nats: failed to unmarshal grant command", "error", err)
		return &model.GrantResult{ErrorMessage: "invalid command payload"}
	}

	userID, err := uuid.Parse(cmd.UserID)
	if err != nil {
		return &model.GrantResult{ErrorMessage: "invalid userId"}
	}

	res, err := h.svc.Grant(ctx, service.GrantCommand{
		UserID:   userID,
		SourceIP: cmd.SourceIP,
		Request:  cmd.GrantRequest,
	})
	if err != nil {
		if !isClientError(err) {
			slog.Error("nats: grant failed", "user_id", userID, "error", err)
		}
		return &model.GrantResult{ErrorMessage: err.Error()}
	}
	return res
}

func isClientError(err error) bool {
	return errors.Is(err, service.ErrInvalidPlantID) ||
		errors.Is(err, service.ErrPlantNotFound) ||
		errors.Is(err, service.ErrInvalidXPAmount) ||
		errors.Is(err, service.ErrInvalidAction) ||
		errors.Is(err, service.ErrRateLimited)
}

func (h *Handler) Stop(ctx context.Context) error {
	for _, s := range h.subs {
		_ = s.Unsubscribe()
	}
	return nil
}
