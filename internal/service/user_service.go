package service

import (
	"context"
	"strings"

	"sologram/internal/auth"
	"sologram/internal/cache"
	"sologram/internal/models"
	"sologram/internal/repository"
)

type UserService struct {
	userRepo repository.UserRepository
}

type UpdateProfileInput struct {
	Username        *string `json:"username"`
	Bio             *string `json:"bio"`
	ProfileImageURL *string `json:"profile_image_url"`
}

func NewUserService(userRepo repository.UserRepository) *UserService {
	return &UserService{userRepo: userRepo}
}

// Profile loads a user profile, served from cache when warm.
func (s *UserService) Profile(ctx context.Context, uid string) (*models.UserProfile, error) {
	if uid == "" {
		return nil, models.NewValidationError("uid is required")
	}
	var profile models.UserProfile
	err := cache.Aside(ctx, cache.ProfileKey(uid), &profile, cache.ProfileTTL, func() error {
		p, err := s.userRepo.GetProfile(ctx, uid)
		if err != nil {
			return err
		}
		profile = *p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &profile, nil
}

// UpdateProfile merges the provided fields into the caller's profile. Email
// always tracks the authenticated identity.
func (s *UserService) UpdateProfile(ctx context.Context, ident *auth.Identity, input UpdateProfileInput) (*models.UserProfile, error) {
	if ident == nil {
		return nil, models.ErrNotSignedIn
	}
	profile, err := s.userRepo.GetProfile(ctx, ident.UID)
	if err != nil {
		return nil, err
	}
	profile.Email = ident.Email
	if input.Username != nil {
		username := strings.TrimSpace(*input.Username)
		if username == "" {
			return nil, models.NewValidationError("username must not be empty")
		}
		profile.Username = username
	}
	if input.Bio != nil {
		profile.Bio = strings.TrimSpace(*input.Bio)
	}
	if input.ProfileImageURL != nil {
		profile.ProfileImageURL = *input.ProfileImageURL
	}
	if err := s.userRepo.SaveProfile(ctx, profile); err != nil {
		return nil, err
	}
	cache.Invalidate(ctx, cache.ProfileKey(ident.UID))
	return profile, nil
}

// Users lists the user directory, excluding the caller. This backs the
// conversation-partner picker, where messaging yourself is pointless.
func (s *UserService) Users(ctx context.Context, ident *auth.Identity) ([]*models.UserProfile, error) {
	if ident == nil {
		return nil, models.ErrNotSignedIn
	}
	users, err := s.userRepo.FetchUsers(ctx)
	if err != nil {
		return nil, err
	}
	filtered := users[:0]
	for _, u := range users {
		if u.UID != ident.UID {
			filtered = append(filtered, u)
		}
	}
	return filtered, nil
}

func (s *UserService) SubscribeUsers(ctx context.Context) (*repository.UserSubscription, error) {
	return s.userRepo.SubscribeUsers(ctx)
}
