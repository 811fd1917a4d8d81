package services

import (
	"context"

	"github.com/iwc-exchange/apiserver/types"
)

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
}

// UserService encapsulates account use-cases.
type UserService struct {
	repo UserRepository
}

func NewUserService(repo UserRepository) *UserService {
	return &UserService{repo: repo}
}

func (s *UserService) GetByEmail(ctx context.Context, email string) (types.User, error) {
	return s.repo.GetByEmail(ctx, email)
}

func (s *UserService) Create(ctx context.Context, user types.User) (types.User, error) {
	return s.repo.Create(ctx, user)
}
