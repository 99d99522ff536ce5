package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	TopicXPGranted    = "xp.granted"
	TopicXPLevelUp    = "xp.level_up"
	TopicAuditRecords = "audit.records"
	TopicGrantCommand = "commands.grant_xp"
)

// GrantRequest is the decoded grant body. Fields stay loosely typed so that type errors are
// reported by the validator in the same order as range errors.
type GrantRequest struct {
	PlantID  any `json:"plantId"`
	XPAmount any `json:"xpAmount"`
	Action   any `json:"action"`
}

// GrantResult mirrors the row returned by grant_xp_atomic.
type GrantResult struct {
	Success      bool   `json:"success"`
	NewXP        int    `json:"newXp"`
	NewLevel     int    `json:"newLevel"`
	LeveledUp    bool   `json:"leveledUp"`
	ErrorMessage string `json:"error,omitempty"`
}

type AuditRecord struct {
	ID        uuid.UUID      `json:"id"`
	ActorID   uuid.UUID      `json:"actor_id"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details"`
	SourceIP  string         `json:"source_ip"`
	CreatedAt time.Time      `json:"created_at"`
}

type GrantedEvent struct {
	UserID    uuid.UUID `json:"user_id"`
	PlantID   uuid.UUID `json:"plant_id"`
	Action    string    `json:"action"`
	XPAmount  int       `json:"xp_amount"`
	NewXP     int       `json:"new_xp"`
	NewLevel  int       `json:"new_level"`
	LeveledUp bool      `json:"leveled_up"`
	CreatedAt time.Time `json:"created_at"`
}
