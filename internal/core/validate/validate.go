// Package validate provides shared validation functions.
package validate

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/hay-kot/criterio"
	"github.com/shopspring/decimal"
)

// MaxIDLength bounds user and task ids.
const MaxIDLength = 128

// ID validates a user or task id: non-empty, at most MaxIDLength bytes,
// with no whitespace and no path separators.
func ID(id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("id is required")
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("id exceeds %d characters", MaxIDLength)
	}
	for _, r := range id {
		if unicode.IsSpace(r) || r == '/' {
			return fmt.Errorf("id %q contains %q", id, r)
		}
	}
	return nil
}

// Reward validates a reward amount is not negative. A nil amount is valid.
func Reward(amount *decimal.Decimal) error {
	if amount != nil && amount.IsNegative() {
		return errors.New("reward must not be negative")
	}
	return nil
}

// IDField returns a criterio validator for an id.
func IDField(field, id string) error {
	return criterio.Run(field, id, ID)
}

// Identity validates a user and task id pair, reporting both fields.
func Identity(userID, taskID string) error {
	return criterio.ValidateStruct(
		IDField("user", userID),
		IDField("task", taskID),
	)
}
