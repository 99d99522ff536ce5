package service

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	MaxXPPerGrant   = 100
	MaxActionLength = 50
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ParsePlantID accepts a JSON string holding a UUID in canonical form.
func ParsePlantID(v any) (uuid.UUID, error) {
	s, ok := v.(string)
	if !ok {
		return uuid.Nil, ErrInvalidPlantID
	}
	if err := validate.Var(strings.ToLower(s), "required,uuid"); err != nil {
		return uuid.Nil, ErrInvalidPlantID
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, ErrInvalidPlantID
	}
	return id, nil
}

// ParseXPAmount accepts a JSON integer in [1, MaxXPPerGrant]. Fractions, strings and
// booleans are rejected.
func ParseXPAmount(v any) (int, error) {
	var n int64
	switch x := v.(type) {
	case json.Number:
		i, err := x.Int64()
		if err != nil {
			return 0, ErrInvalidXPAmount
		}
		n = i
	case float64:
		if x != math.Trunc(x) || math.IsInf(x, 0) {
			return 0, ErrInvalidXPAmount
		}
		n = int64(x)
	case int:
		n = int64(x)
	case int64:
		n = x
	default:
		return 0, ErrInvalidXPAmount
	}
	if n < math.MinInt32 || n > math.MaxInt32 {
		return 0, ErrInvalidXPAmount
	}
	amount := int(n)
	if err := validate.Var(amount, "gt=0,lte=100"); err != nil {
		return 0, ErrInvalidXPAmount
	}
	return amount, nil
}

// ParseAction accepts a non-empty string of at most MaxActionLength characters.
func ParseAction(v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", ErrInvalidAction
	}
	if err := validate.Var(s, "required,max=50"); err != nil {
		return "", ErrInvalidAction
	}
	return s, nil
}
