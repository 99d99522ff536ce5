package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"sproutxp/internal/model"
	"sproutxp/internal/repository"
)

// XPService defines the XP operations. All transport layers (HTTP, NATS) depend on this
// interface, not on the concrete service.
type XPService interface {
	Grant(ctx context.Context, cmd GrantCommand) (*model.GrantResult, error)
	Account(ctx context.Context, userID uuid.UUID) (*model.XPAccount, error)
	CSRFToken(ctx context.Context, userID uuid.UUID) (string, error)
	IssueCSRFToken(ctx context.Context, userID uuid.UUID) (string, error)
	RateLimit() int
}

var (
	ErrInvalidPlantID  = errors.New("invalid plant id")
	ErrPlantNotFound   = errors.New("plant not found or not owned by user")
	ErrInvalidXPAmount = errors.New("invalid xp amount")
	ErrInvalidAction   = errors.New("invalid action")
	ErrRateLimited     = errors.New("rate limit exceeded")
)

// LedgerError is returned when the ledger rejected the grant without changing state.
type LedgerError struct {
	Message string
}

func (e *LedgerError) Error() string { return e.Message }

type Ledger interface {
	Grant(ctx context.Context, userID uuid.UUID, amount int, action string) (*model.GrantResult, error)
	Account(ctx context.Context, userID uuid.UUID) (*model.XPAccount, error)
}

type RateLimiter interface {
	Limited(ctx context.Context, userID uuid.UUID, action string) (bool, error)
	Limit() int
}

type PlantOwnership interface {
	Owns(ctx context.Context, userID, plantID uuid.UUID) (bool, error)
}

type AuditSink interface {
	Record(ctx context.Context, rec model.AuditRecord) error
}

// Dispatcher runs tasks detached from the request that submitted them.
type Dispatcher interface {
	SubmitDetached(task func(ctx context.Context)) error
}

type Sessions interface {
	CSRFToken(ctx context.Context, userID uuid.UUID) (string, error)
	IssueCSRFToken(ctx context.Context, userID uuid.UUID) (string, error)
}

type GrantCommand struct {
	UserID   uuid.UUID
	SourceIP string
	Request  model.GrantRequest
}

type Deps struct {
	Ledger     Ledger
	Limiter    RateLimiter
	Plants     PlantOwnership
	Audit      AuditSink
	Dispatcher Dispatcher
	Sessions   Sessions
	Bus        repository.MessageBus
}

type XP struct {
	ledger   Ledger
	limiter  RateLimiter
	plants   PlantOwnership
	audit    AuditSink
	dispatch Dispatcher
	sessions Sessions
	bus      repository.MessageBus
	now      func() time.Time
}

func NewXP(d Deps) *XP {
	bus := d.Bus
	if bus == nil {
		bus = repository.NopBus{}
	}
	return &XP{
		ledger:   d.Ledger,
		limiter:  d.Limiter,
		plants:   d.Plants,
		audit:    d.Audit,
		dispatch: d.Dispatcher,
		sessions: d.Sessions,
		bus:      bus,
		now:      time.Now,
	}
}

// Grant validates cmd, enforces ownership and the rate limit, records an audit entry and
// applies the grant to the ledger. Checks run in a fixed order and stop at the first failure.
func (s *XP) Grant(ctx context.Context, cmd GrantCommand) (*model.GrantResult, error) {
	plantID, err := ParsePlantID(cmd.Request.PlantID)
	if err != nil {
		return nil, err
	}

	owned, err := s.plants.Owns(ctx, cmd.UserID, plantID)
	if err != nil {
		return nil, fmt.Errorf("check plant ownership: %w", err)
	}
	if !owned {
		return nil, ErrPlantNotFound
	}

	amount, err := ParseXPAmount(cmd.Request.XPAmount)
	if err != nil {
		return nil, err
	}
	action, err := ParseAction(cmd.Request.Action)
	if err != nil {
		return nil, err
	}

	// Fail open: a broken limiter must not block grants.
	limited, err := s.limiter.Limited(ctx, cmd.UserID, action)
	if err != nil {
		slog.Warn("xp: rate limit check failed, allowing request",
			"user_id", cmd.UserID, "action", action, "error", err)
	} else if limited {
		return nil, ErrRateLimited
	}

	s.recordAudit(cmd, plantID, amount, action)

	res, err := s.ledger.Grant(ctx, cmd.UserID, amount, action)
	if err != nil {
		return nil, fmt.Errorf("grant xp: %w", err)
	}
	if !res.Success {
		msg := res.ErrorMessage
		if msg == "" {
			msg = "xp grant failed"
		}
		return nil, &LedgerError{Message: msg}
	}

	s.publishGranted(cmd.UserID, plantID, amount, action, res)
	return res, nil
}

func (s *XP) recordAudit(cmd GrantCommand, plantID uuid.UUID, amount int, action string) {
	rec := model.AuditRecord{
		ID:      uuid.New(),
		ActorID: cmd.UserID,
		Action:  "grant_xp",
		Details: map[string]any{
			"plant_id":  plantID.String(),
			"xp_amount": amount,
			"action":    action,
		},
		SourceIP:  cmd.SourceIP,
		CreatedAt: s.now().UTC(),
	}

	err := s.dispatch.SubmitDetached(func(ctx context.Context) {
		if err := s.audit.Record(ctx, rec); err != nil {
			slog.Error("audit: failed to record grant", "audit_id", rec.ID, "user_id", rec.ActorID, "error", err)
		}
	})
	if err != nil {
		slog.Error("audit: dispatch rejected", "audit_id", rec.ID, "user_id", rec.ActorID, "error", err)
	}
}

func (s *XP) publishGranted(userID, plantID uuid.UUID, amount int, action string, res *model.GrantResult) {
	event := model.GrantedEvent{
		UserID:    userID,
		PlantID:   plantID,
		Action:    action,
		XPAmount:  amount,
		NewXP:     res.NewXP,
		NewLevel:  res.NewLevel,
		LeveledUp: res.LeveledUp,
		CreatedAt: s.now().UTC(),
	}
	data, err := json.Marshal(event)
	if err != nil {
		slog.Error("xp: failed to marshal granted event", "error", err)
		return
	}

	if err := s.bus.Publish(model.TopicXPGranted, data); err != nil {
		slog.Warn("xp: failed to publish granted event", "user_id", userID, "error", err)
	}
	if res.LeveledUp {
		if err := s.bus.Publish(model.TopicXPLevelUp, data); err != nil {
			slog.Warn("xp: failed to publish level-up event", "user_id", userID, "error", err)
		}
	}
}

// Account returns the user's XP account; users without grants get a fresh level-1 account.
func (s *XP) Account(ctx context.Context, userID uuid.UUID) (*model.XPAccount, error) {
	acc, err := s.ledger.Account(ctx, userID)
	if errors.Is(err, repository.ErrAccountNotFound) {
		return &model.XPAccount{UserID: userID, TotalXP: 0, TotalLevel: 1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load xp account: %w", err)
	}
	return acc, nil
}

func (s *XP) CSRFToken(ctx context.Context, userID uuid.UUID) (string, error) {
	return s.sessions.CSRFToken(ctx, userID)
}

func (s *XP) IssueCSRFToken(ctx context.Context, userID uuid.UUID) (string, error) {
	return s.sessions.IssueCSRFToken(ctx, userID)
}

func (s *XP) RateLimit() int {
	return s.limiter.Limit()
}
