package repository

import (
	"context"
	"errors"
	"time"

	"sologram/internal/models"
	"sologram/internal/observability"
	"sologram/internal/store"
)

// UserRepository defines the interface for user profile operations
type UserRepository interface {
	GetProfile(ctx context.Context, uid string) (*models.UserProfile, error)
	SaveProfile(ctx context.Context, profile *models.UserProfile) error
	FetchUsers(ctx context.Context) ([]*models.UserProfile, error)
	SubscribeUsers(ctx context.Context) (*UserSubscription, error)
}

type userRepository struct {
	store store.Store
	log   *observability.RepoLogger
}

// NewUserRepository creates a new user repository
func NewUserRepository(st store.Store) UserRepository {
	return &userRepository{store: st, log: observability.NewRepoLogger(colUsers)}
}

// GetProfile loads a user profile. A missing document is not an error; it
// returns a zero profile carrying only the uid, matching first sign-in
// before the profile has been written.
func (r *userRepository) GetProfile(ctx context.Context, uid string) (*models.UserProfile, error) {
	defer observability.ObserveStoreOp("get", colUsers, time.Now())
	doc, err := r.store.Get(ctx, colUsers, uid)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &models.UserProfile{UID: uid}, nil
		}
		return nil, err
	}
	profile, ok := decodeProfile(doc)
	if !ok {
		observability.MalformedDocsDropped.WithLabelValues(colUsers).Inc()
		r.log.LogDropped(ctx, doc.ID, "missing required profile fields")
		return &models.UserProfile{UID: uid}, nil
	}
	return profile, nil
}

// SaveProfile writes the profile keyed by uid, creating or overwriting it.
func (r *userRepository) SaveProfile(ctx context.Context, profile *models.UserProfile) error {
	if profile.UID == "" {
		return models.NewValidationError("profile uid must not be empty")
	}
	defer observability.ObserveStoreOp("set", colUsers, time.Now())
	err := r.store.Set(ctx, colUsers, profile.UID, map[string]any{
		"uid":             profile.UID,
		"email":           profile.Email,
		"username":        profile.Username,
		"bio":             profile.Bio,
		"profileImageURL": profile.ProfileImageURL,
	})
	if err != nil {
		r.log.LogError(ctx, "set", err)
		return err
	}
	r.log.LogWrite(ctx, "set", map[string]any{"uid": profile.UID})
	return nil
}

func usersQuery() store.Query {
	return store.Query{OrderBy: "username", Desc: false}
}

func (r *userRepository) FetchUsers(ctx context.Context) ([]*models.UserProfile, error) {
	defer observability.ObserveStoreOp("query", colUsers, time.Now())
	docs, err := r.store.Query(ctx, colUsers, usersQuery())
	if err != nil {
		return nil, err
	}
	return r.materializeProfiles(ctx, docs), nil
}

// SubscribeUsers streams the full user directory on every change.
func (r *userRepository) SubscribeUsers(ctx context.Context) (*UserSubscription, error) {
	sub, err := r.store.Watch(ctx, colUsers, usersQuery())
	if err != nil {
		return nil, err
	}
	users := &UserSubscription{updates: make(chan []*models.UserProfile, 1), sub: sub}
	observability.ActiveSubscriptions.Inc()
	go func() {
		defer func() {
			observability.ActiveSubscriptions.Dec()
			close(users.updates)
		}()
		for docs := range sub.Updates() {
			select {
			case users.updates <- r.materializeProfiles(ctx, docs):
			case <-sub.Done():
				return
			}
		}
	}()
	return users, nil
}

func (r *userRepository) materializeProfiles(ctx context.Context, docs []store.Doc) []*models.UserProfile {
	profiles := make([]*models.UserProfile, 0, len(docs))
	for _, doc := range docs {
		profile, ok := decodeProfile(doc)
		if !ok {
			observability.MalformedDocsDropped.WithLabelValues(colUsers).Inc()
			r.log.LogDropped(ctx, doc.ID, "missing required profile fields")
			continue
		}
		profiles = append(profiles, profile)
	}
	return profiles
}

// UserSubscription is a live, typed view over the user directory.
type UserSubscription struct {
	updates chan []*models.UserProfile
	sub     *store.Subscription
}

// Updates returns the channel of materialized profile lists. Closed after
// Cancel.
func (s *UserSubscription) Updates() <-chan []*models.UserProfile { return s.updates }

// Cancel releases the underlying store listener. Idempotent.
func (s *UserSubscription) Cancel() { s.sub.Cancel() }

// Err reports the terminal subscription error, if any.
func (s *UserSubscription) Err() error { return s.sub.Err() }

func decodeProfile(doc store.Doc) (*models.UserProfile, bool) {
	uid, ok := strField(doc.Data, "uid")
	if !ok {
		return nil, false
	}
	username, ok := strField(doc.Data, "username")
	if !ok {
		return nil, false
	}
	return &models.UserProfile{
		UID:             uid,
		Email:           optStrField(doc.Data, "email"),
		Username:        username,
		Bio:             optStrField(doc.Data, "bio"),
		ProfileImageURL: optStrField(doc.Data, "profileImageURL"),
	}, true
}
