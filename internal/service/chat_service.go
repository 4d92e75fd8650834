package service

import (
	"context"

	"sologram/internal/auth"
	"sologram/internal/models"
	"sologram/internal/notifications"
	"sologram/internal/repository"
)

type ChatService struct {
	chatRepo repository.ChatRepository
	userRepo repository.UserRepository
	notifier Notifier
}

func NewChatService(chatRepo repository.ChatRepository, userRepo repository.UserRepository, notifier Notifier) *ChatService {
	return &ChatService{
		chatRepo: chatRepo,
		userRepo: userRepo,
		notifier: notifier,
	}
}

// ChatWith resolves the conversation id between the caller and another user.
func (s *ChatService) ChatWith(ident *auth.Identity, otherUID string) (string, error) {
	if ident == nil {
		return "", models.ErrNotSignedIn
	}
	return repository.ChatID(ident.UID, otherUID)
}

func (s *ChatService) Messages(ctx context.Context, ident *auth.Identity, otherUID string) ([]*models.Message, error) {
	chatID, err := s.ChatWith(ident, otherUID)
	if err != nil {
		return nil, err
	}
	return s.chatRepo.FetchMessages(ctx, chatID)
}

func (s *ChatService) SubscribeMessages(ctx context.Context, ident *auth.Identity, otherUID string) (*repository.MessageSubscription, error) {
	chatID, err := s.ChatWith(ident, otherUID)
	if err != nil {
		return nil, err
	}
	return s.chatRepo.SubscribeMessages(ctx, chatID)
}

// SendMessage appends a message to the conversation and notifies the other
// participant.
func (s *ChatService) SendMessage(ctx context.Context, ident *auth.Identity, otherUID, text string) (string, error) {
	chatID, err := s.ChatWith(ident, otherUID)
	if err != nil {
		return "", err
	}
	id, err := s.chatRepo.SendMessage(ctx, chatID, ident.UID, text)
	if err != nil {
		return "", err
	}
	if s.notifier != nil && otherUID != ident.UID {
		profile, _ := s.userRepo.GetProfile(ctx, ident.UID)
		_ = s.notifier.PublishUser(ctx, otherUID, notifications.Event{
			Type:          notifications.EventNewMessage,
			ChatID:        chatID,
			ActorUID:      ident.UID,
			ActorUsername: profileUsername(profile),
		})
	}
	return id, nil
}
