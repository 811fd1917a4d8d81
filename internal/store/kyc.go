package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iwc-exchange/apiserver/types"
)

// KYCRepository handles persistence for KYC submissions.
type KYCRepository struct {
	db *sql.DB
}

func NewKYCRepository(db *sql.DB) *KYCRepository {
	return &KYCRepository{db: db}
}

func (r *KYCRepository) GetByEmail(ctx context.Context, email string) (types.KYCSubmission, error) {
	const query = `
		SELECT id, user_email, bvn, nin, address,
			nin_front_image, nin_back_image, selfie_image,
			status, created_at, updated_at
		FROM kyc_submissions
		WHERE user_email = $1`
	var sub types.KYCSubmission
	err := r.db.QueryRowContext(ctx, query, email).Scan(
		&sub.ID,
		&sub.UserEmail,
		&sub.BVN,
		&sub.NIN,
		&sub.Address,
		&sub.NINFrontImage,
		&sub.NINBackImage,
		&sub.SelfieImage,
		&sub.Status,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.KYCSubmission{}, ErrNotFound
		}
		return types.KYCSubmission{}, err
	}
	return sub, nil
}

func (r *KYCRepository) Create(ctx context.Context, sub types.KYCSubmission) (types.KYCSubmission, error) {
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	if sub.Status == "" {
		sub.Status = types.StatusPending
	}

	const query = `
		INSERT INTO kyc_submissions (
			user_email, bvn, nin, address,
			nin_front_image, nin_back_image, selfie_image,
			status, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`
	if err := r.db.QueryRowContext(
		ctx,
		query,
		sub.UserEmail,
		sub.BVN,
		sub.NIN,
		sub.Address,
		sub.NINFrontImage,
		sub.NINBackImage,
		sub.SelfieImage,
		sub.Status,
		sub.CreatedAt,
		sub.UpdatedAt,
	).Scan(&sub.ID); err != nil {
		if isUniqueViolation(err) {
			return types.KYCSubmission{}, ErrDuplicate
		}
		return types.KYCSubmission{}, err
	}
	return sub, nil
}
