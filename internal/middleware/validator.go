package middleware

import (
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

const (
	defaultLimit = 20
	maxLimit     = 100
)

// ValidateJobID checks that id is a canonical UUID
func ValidateJobID(id string) error {
	if id == "" {
		return fmt.Errorf("audit id cannot be empty")
	}
	if _, err := uuid.Parse(id); err != nil || len(id) != 36 {
		return fmt.Errorf("invalid audit id %q", id)
	}
	return nil
}

// ValidateLimit parses a pagination limit, clamping it to [1, 100]
func ValidateLimit(raw string) int {
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
