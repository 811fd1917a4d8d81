package types

import "time"

// User represents an account in the system, keyed by email.
type User struct {
	// ID is the unique identifier of the user.
	ID int `json:"id" db:"id"`

	// Email is the user's normalized (lowercased, trimmed) email
	// address. It is unique and serves as the login identity and the
	// token subject.
	Email string `json:"email" db:"email"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash"`

	// CreatedAt is the timestamp when the account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
