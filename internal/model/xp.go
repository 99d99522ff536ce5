package model

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// XPPerLevel is the width of one level band.
const XPPerLevel = 500

var ErrNonPositiveAmount = errors.New("xp amount must be a positive integer")

type XPAccount struct {
	UserID     uuid.UUID `json:"userId"`
	TotalXP    int       `json:"totalXp"`
	TotalLevel int       `json:"totalLevel"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// LevelFor returns floor(totalXP / XPPerLevel) + 1.
func LevelFor(totalXP int) int {
	if totalXP < 0 {
		return 1
	}
	return totalXP/XPPerLevel + 1
}

type GrantOutcome struct {
	NewXP     int
	NewLevel  int
	LeveledUp bool
}

// ApplyGrant computes the state of current after adding amount XP.
// A zero-value account stands for one that does not exist yet (0 XP, level 1).
func ApplyGrant(current XPAccount, amount int) (GrantOutcome, error) {
	if amount <= 0 {
		return GrantOutcome{}, ErrNonPositiveAmount
	}
	oldLevel := current.TotalLevel
	if oldLevel < 1 {
		oldLevel = 1
	}
	newXP := current.TotalXP + amount
	newLevel := LevelFor(newXP)
	return GrantOutcome{
		NewXP:     newXP,
		NewLevel:  newLevel,
		LeveledUp: newLevel > oldLevel,
	}, nil
}

type Progress struct {
	Level         int `json:"level"`
	XPIntoLevel   int `json:"xpIntoLevel"`
	XPToNextLevel int `json:"xpToNextLevel"`
}

func LevelProgress(totalXP int) Progress {
	if totalXP < 0 {
		totalXP = 0
	}
	into := totalXP % XPPerLevel
	return Progress{
		Level:         LevelFor(totalXP),
		XPIntoLevel:   into,
		XPToNextLevel: XPPerLevel - into,
	}
}
