package users

import (
	"context"
	"errors"
)

// RepositoryPort defines data access methods for profiles.
type RepositoryPort interface {
	GetProfile(ctx context.Context, id int64) (ProfileRecord, error)
	ListProfiles(ctx context.Context) ([]ProfileRecord, error)
	SetApproval(ctx context.Context, id int64, approved bool) error
	AssignRole(ctx context.Context, id, roleID int64) error
	DeleteProfile(ctx context.Context, id int64) error
}

// ErrInvalidRole rejects role assignments to a non-positive id.
var ErrInvalidRole = errors.New("users: invalid role")

// Service handles profile business logic.
type Service struct {
	repo RepositoryPort
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Profile loads one profile.
func (s *Service) Profile(ctx context.Context, id int64) (Profile, error) {
	rec, err := s.repo.GetProfile(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return rec.ToProfile(), nil
}

// ListProfiles returns all profiles.
func (s *Service) ListProfiles(ctx context.Context) ([]Profile, error) {
	recs, err := s.repo.ListProfiles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Profile, len(recs))
	for i, rec := range recs {
		out[i] = rec.ToProfile()
	}
	return out, nil
}

// SetApproval approves or suspends a profile.
func (s *Service) SetApproval(ctx context.Context, id int64, approved bool) error {
	return s.repo.SetApproval(ctx, id, approved)
}

// AssignRole reassigns a profile to roleID.
func (s *Service) AssignRole(ctx context.Context, id, roleID int64) error {
	if roleID <= 0 {
		return ErrInvalidRole
	}
	return s.repo.AssignRole(ctx, id, roleID)
}

// DeleteProfile removes the profile row.
func (s *Service) DeleteProfile(ctx context.Context, id int64) error {
	return s.repo.DeleteProfile(ctx, id)
}
