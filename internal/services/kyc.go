package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/iwc-exchange/apiserver/internal/store"
	"github.com/iwc-exchange/apiserver/types"
)

const (
	identifierDigits = 11
	minAddressLength = 10

	// Channel the review pipeline consumes submission events from.
	submittedEventChannel = "kyc.submitted"
)

// Submission failure modes surfaced to the HTTP boundary. The message
// text is the response detail, so it is written for end users.
var (
	ErrInvalidBVN       = errors.New("BVN must be 11 digits")
	ErrInvalidNIN       = errors.New("NIN must be 11 digits")
	ErrInvalidAddress   = errors.New("Invalid address")
	ErrAlreadySubmitted = errors.New("KYC already submitted")
)

// IsValidationError reports whether err is a submission input failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidBVN) ||
		errors.Is(err, ErrInvalidNIN) ||
		errors.Is(err, ErrInvalidAddress)
}

// KYCRepository defines persistence operations for KYC submissions.
type KYCRepository interface {
	GetByEmail(ctx context.Context, email string) (types.KYCSubmission, error)
	Create(ctx context.Context, sub types.KYCSubmission) (types.KYCSubmission, error)
}

// DocumentStore persists uploaded identity documents.
type DocumentStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
}

// EventPublisher announces domain events to the review pipeline.
type EventPublisher interface {
	Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error)
}

// Document is an uploaded file buffered from a multipart request.
type Document struct {
	Filename    string
	ContentType string
	Data        []byte
}

// SubmissionInput is the parsed payload of a KYC submission.
type SubmissionInput struct {
	BVN     string
	NIN     string
	Address string

	NINFront Document
	NINBack  Document
	Selfie   Document
}

// KYCService encapsulates the identity-verification workflow.
type KYCService struct {
	repo      KYCRepository
	documents DocumentStore
	events    EventPublisher
	uploadDir string
}

// NewKYCService constructs a KYCService. events may be nil when no
// broker is configured; submission events are then skipped.
func NewKYCService(repo KYCRepository, documents DocumentStore, events EventPublisher, uploadDir string) *KYCService {
	return &KYCService{
		repo:      repo,
		documents: documents,
		events:    events,
		uploadDir: uploadDir,
	}
}

// Submit validates and records a KYC submission for email. The
// existence pre-check is a fast path; the unique constraint on
// user_email is what actually prevents concurrent duplicates, and its
// violation is reported as ErrAlreadySubmitted too.
func (s *KYCService) Submit(ctx context.Context, email string, input SubmissionInput) error {
	if err := validateSubmission(input); err != nil {
		return err
	}

	if _, err := s.repo.GetByEmail(ctx, email); err == nil {
		return ErrAlreadySubmitted
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	frontPath, err := s.storeDocument(ctx, input.NINFront)
	if err != nil {
		return fmt.Errorf("store nin front: %w", err)
	}
	backPath, err := s.storeDocument(ctx, input.NINBack)
	if err != nil {
		return fmt.Errorf("store nin back: %w", err)
	}
	selfiePath, err := s.storeDocument(ctx, input.Selfie)
	if err != nil {
		return fmt.Errorf("store selfie: %w", err)
	}

	if _, err := s.repo.Create(ctx, types.KYCSubmission{
		UserEmail:     email,
		BVN:           input.BVN,
		NIN:           input.NIN,
		Address:       input.Address,
		NINFrontImage: frontPath,
		NINBackImage:  backPath,
		SelfieImage:   selfiePath,
		Status:        types.StatusPending,
	}); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return ErrAlreadySubmitted
		}
		return err
	}

	s.publishSubmitted(ctx, email)
	return nil
}

// Status reports the review state of email's submission, or
// "not_submitted" when no submission exists.
func (s *KYCService) Status(ctx context.Context, email string) (string, error) {
	sub, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return types.StatusNotSubmitted, nil
		}
		return "", err
	}
	return sub.Status, nil
}

func validateSubmission(input SubmissionInput) error {
	if !isExactDigits(input.BVN, identifierDigits) {
		return ErrInvalidBVN
	}
	if !isExactDigits(input.NIN, identifierDigits) {
		return ErrInvalidNIN
	}
	if len(strings.TrimSpace(input.Address)) < minAddressLength {
		return ErrInvalidAddress
	}
	return nil
}

func isExactDigits(value string, length int) bool {
	if len(value) != length {
		return false
	}
	for _, r := range value {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// storeDocument writes doc under a collision-resistant key and returns
// the stored path: "<uploadDir>/<uuid>_<original-basename>".
func (s *KYCService) storeDocument(ctx context.Context, doc Document) (string, error) {
	name := fmt.Sprintf("%s_%s", uuid.New().String(), filepath.Base(doc.Filename))
	key := path.Join(s.uploadDir, name)
	if err := s.documents.Put(ctx, key, bytes.NewReader(doc.Data), int64(len(doc.Data)), doc.ContentType); err != nil {
		return "", err
	}
	return key, nil
}

type submittedEvent struct {
	Email       string    `json:"email"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// publishSubmitted is best-effort: the review pipeline can also poll,
// so a broker failure never fails the submission.
func (s *KYCService) publishSubmitted(ctx context.Context, email string) {
	if s.events == nil {
		return
	}
	payload, err := json.Marshal(submittedEvent{Email: email, SubmittedAt: time.Now().UTC()})
	if err != nil {
		log.Printf("kyc: marshal submitted event: %v", err)
		return
	}
	if _, err := s.events.Publish(ctx, submittedEventChannel, payload, nil); err != nil {
		log.Printf("kyc: publish submitted event: %v", err)
	}
}
