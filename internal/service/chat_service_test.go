package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sologram/internal/models"
	"sologram/internal/notifications"
	"sologram/internal/repository"
	"sologram/internal/store/memory"
)

type chatServiceFixture struct {
	svc      *ChatService
	users    repository.UserRepository
	notifier *recordingNotifier
}

func newChatServiceFixture() *chatServiceFixture {
	st := memory.New()
	users := repository.NewUserRepository(st)
	notifier := &recordingNotifier{}
	svc := NewChatService(repository.NewChatRepository(st), users, notifier)
	return &chatServiceFixture{svc: svc, users: users, notifier: notifier}
}

func TestChatWithRequiresIdentity(t *testing.T) {
	f := newChatServiceFixture()

	_, err := f.svc.ChatWith(nil, "bob")
	assert.ErrorIs(t, err, models.ErrNotSignedIn)
}

func TestChatWithIsCommutative(t *testing.T) {
	f := newChatServiceFixture()

	fromAlice, err := f.svc.ChatWith(signIn("alice"), "bob")
	require.NoError(t, err)
	fromBob, err := f.svc.ChatWith(signIn("bob"), "alice")
	require.NoError(t, err)
	assert.Equal(t, fromAlice, fromBob)
}

func TestSendMessageNotifiesRecipient(t *testing.T) {
	f := newChatServiceFixture()
	ctx := context.Background()
	require.NoError(t, f.users.SaveProfile(ctx, &models.UserProfile{UID: "alice", Username: "alice_w"}))

	_, err := f.svc.SendMessage(ctx, signIn("alice"), "bob", "hello bob")
	require.NoError(t, err)

	events := f.notifier.recorded()
	require.Len(t, events, 1)
	assert.Equal(t, "bob", events[0].UID)
	assert.Equal(t, notifications.EventNewMessage, events[0].Event.Type)
	assert.Equal(t, "alice_bob", events[0].Event.ChatID)
	assert.Equal(t, "alice", events[0].Event.ActorUID)
	assert.Equal(t, "alice_w", events[0].Event.ActorUsername)
}

func TestSendMessageRejectsEmpty(t *testing.T) {
	f := newChatServiceFixture()

	_, err := f.svc.SendMessage(context.Background(), signIn("alice"), "bob", "  ")
	assert.ErrorIs(t, err, models.ErrEmptyMessage)
	assert.Empty(t, f.notifier.recorded())
}

func TestMessagesSharedBetweenParticipants(t *testing.T) {
	f := newChatServiceFixture()
	ctx := context.Background()

	_, err := f.svc.SendMessage(ctx, signIn("alice"), "bob", "hi")
	require.NoError(t, err)
	_, err = f.svc.SendMessage(ctx, signIn("bob"), "alice", "hey")
	require.NoError(t, err)

	// Both participants read the same conversation regardless of which
	// side resolves the id.
	fromAlice, err := f.svc.Messages(ctx, signIn("alice"), "bob")
	require.NoError(t, err)
	fromBob, err := f.svc.Messages(ctx, signIn("bob"), "alice")
	require.NoError(t, err)
	require.Len(t, fromAlice, 2)
	require.Len(t, fromBob, 2)
	assert.Equal(t, "hi", fromAlice[0].Text)
	assert.Equal(t, "alice", fromAlice[0].SenderID)
	assert.Equal(t, fromAlice[0].ID, fromBob[0].ID)
}

func TestSendMessageRejectsInvalidUID(t *testing.T) {
	f := newChatServiceFixture()

	_, err := f.svc.SendMessage(context.Background(), signIn("alice"), "bad_uid", "hi")
	require.Error(t, err)
	var appErr *models.AppError
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "VALIDATION_ERROR", appErr.Code)
}
