package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sologram/internal/models"
	"sologram/internal/repository"
	"sologram/internal/store/memory"
)

func strPtr(s string) *string { return &s }

func newUserService() *UserService {
	return NewUserService(repository.NewUserRepository(memory.New()))
}

func TestProfileMissingUserIsZeroValued(t *testing.T) {
	svc := newUserService()

	profile, err := svc.Profile(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, "ghost", profile.UID)
	assert.Empty(t, profile.Username)
}

func TestUpdateProfileRequiresIdentity(t *testing.T) {
	svc := newUserService()

	_, err := svc.UpdateProfile(context.Background(), nil, UpdateProfileInput{})
	assert.ErrorIs(t, err, models.ErrNotSignedIn)
}

func TestUpdateProfileMergesFields(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	_, err := svc.UpdateProfile(ctx, signIn("alice"), UpdateProfileInput{
		Username: strPtr("alice_w"),
		Bio:      strPtr("hello"),
	})
	require.NoError(t, err)

	// A partial update leaves the other fields alone.
	updated, err := svc.UpdateProfile(ctx, signIn("alice"), UpdateProfileInput{
		Bio: strPtr("updated bio"),
	})
	require.NoError(t, err)
	assert.Equal(t, "alice_w", updated.Username)
	assert.Equal(t, "updated bio", updated.Bio)
	assert.Equal(t, "alice@example.com", updated.Email)
}

func TestUpdateProfileRejectsBlankUsername(t *testing.T) {
	svc := newUserService()

	_, err := svc.UpdateProfile(context.Background(), signIn("alice"), UpdateProfileInput{
		Username: strPtr("   "),
	})
	require.Error(t, err)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
}

func TestUsersExcludesCaller(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	for _, uid := range []string{"alice", "bob", "carol"} {
		_, err := svc.UpdateProfile(ctx, signIn(uid), UpdateProfileInput{Username: strPtr("user-" + uid)})
		require.NoError(t, err)
	}

	users, err := svc.Users(ctx, signIn("alice"))
	require.NoError(t, err)
	require.Len(t, users, 2)
	for _, u := range users {
		assert.NotEqual(t, "alice", u.UID)
	}

	_, err = svc.Users(ctx, nil)
	assert.ErrorIs(t, err, models.ErrNotSignedIn)
}

func TestSubscribeUsersStreamsDirectory(t *testing.T) {
	svc := newUserService()
	ctx := context.Background()

	_, err := svc.UpdateProfile(ctx, signIn("alice"), UpdateProfileInput{Username: strPtr("alice_w")})
	require.NoError(t, err)

	sub, err := svc.SubscribeUsers(ctx)
	require.NoError(t, err)
	defer sub.Cancel()

	select {
	case profiles := <-sub.Updates():
		require.Len(t, profiles, 1)
		assert.Equal(t, "alice_w", profiles[0].Username)
	case <-time.After(2 * time.Second):
		t.Fatal("no directory update received")
	}

	_, err = svc.UpdateProfile(ctx, signIn("bob"), UpdateProfileInput{Username: strPtr("bob_b")})
	require.NoError(t, err)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case profiles := <-sub.Updates():
			if len(profiles) == 2 {
				return
			}
		case <-deadline:
			t.Fatal("directory never reflected the second user")
		}
	}
}
