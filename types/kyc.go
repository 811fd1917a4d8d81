package types

import "time"

// KYC submission review states. StatusNotSubmitted is never stored; it
// is the status reported for a user with no submission row.
const (
	StatusNotSubmitted = "not_submitted"
	StatusPending      = "pending"
	StatusApproved     = "approved"
	StatusRejected     = "rejected"
)

// KYCSubmission is a user's identity-verification record. At most one
// exists per user, enforced by a unique constraint on UserEmail.
type KYCSubmission struct {
	ID int `json:"id" db:"id"`

	// UserEmail references the owning user. Unique.
	UserEmail string `json:"user_email" db:"user_email"`

	// BVN and NIN are 11-digit national identifier strings.
	BVN string `json:"bvn" db:"bvn"`
	NIN string `json:"nin" db:"nin"`

	// Address is the free-text residential address.
	Address string `json:"address" db:"address"`

	// Stored paths of the three uploaded documents.
	NINFrontImage string `json:"nin_front_image" db:"nin_front_image"`
	NINBackImage  string `json:"nin_back_image" db:"nin_back_image"`
	SelfieImage   string `json:"selfie_image" db:"selfie_image"`

	// Status is pending on creation and moved to approved/rejected by
	// the review pipeline.
	Status string `json:"status" db:"status"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
