package users

import (
	"time"

	"github.com/google/uuid"
)

// User represents an account managed by the HR side of the platform.
// The access-control engine only cares about ID and IsBlocked; the rest
// exists for the admin surface.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	IsBlocked    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
