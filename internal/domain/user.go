package domain

import "time"

// User is the domain model for everyone who interacts with tickets.
// Admins triage and respond; regular users open tickets.
type User struct {
	ID           int64
	Name         string
	Email        string
	PasswordHash string
	Admin        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
