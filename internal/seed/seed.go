// Package seed populates the document store with realistic development data.
package seed

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"sologram/internal/models"
	"sologram/internal/repository"
	"sologram/internal/store"
)

// Seeder creates fake users, posts, comments, likes and chats through the
// same repositories the server uses.
type Seeder struct {
	userRepo repository.UserRepository
	postRepo repository.PostRepository
	chatRepo repository.ChatRepository
}

func NewSeeder(st store.Store) *Seeder {
	gofakeit.Seed(time.Now().UnixNano())
	return &Seeder{
		userRepo: repository.NewUserRepository(st),
		postRepo: repository.NewPostRepository(st),
		chatRepo: repository.NewChatRepository(st),
	}
}

func newUID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// SeedSocialMesh creates users, posts by those users, and a mesh of likes,
// comments, and conversations between them.
func (s *Seeder) SeedSocialMesh(ctx context.Context, numUsers, numPosts int) ([]*models.UserProfile, error) {
	users := make([]*models.UserProfile, 0, numUsers)
	for i := 0; i < numUsers; i++ {
		profile := &models.UserProfile{
			UID:             newUID(),
			Email:           gofakeit.Email(),
			Username:        gofakeit.Username(),
			Bio:             gofakeit.Sentence(8),
			ProfileImageURL: fmt.Sprintf("https://picsum.photos/seed/%s/200/200", gofakeit.UUID()),
		}
		if err := s.userRepo.SaveProfile(ctx, profile); err != nil {
			return nil, fmt.Errorf("seed user %d: %w", i, err)
		}
		users = append(users, profile)
	}

	postIDs := make([]string, 0, numPosts)
	for i := 0; i < numPosts; i++ {
		author := users[rand.Intn(len(users))]
		imageURL := fmt.Sprintf("https://picsum.photos/seed/%s/800/800", gofakeit.UUID())
		id, err := s.postRepo.CreatePost(ctx, imageURL, models.Author{
			UID:      author.UID,
			Email:    author.Email,
			Username: author.Username,
		})
		if err != nil {
			return nil, fmt.Errorf("seed post %d: %w", i, err)
		}
		postIDs = append(postIDs, id)
	}

	// Likes: each post gets a random subset of users.
	for _, postID := range postIDs {
		for _, u := range users {
			if rand.Intn(4) == 0 {
				if _, err := s.postRepo.ToggleLike(ctx, postID, u.UID); err != nil {
					return nil, fmt.Errorf("seed like on %s: %w", postID, err)
				}
			}
		}
	}

	// Comments: a few per post.
	for _, postID := range postIDs {
		for i := 0; i < rand.Intn(4); i++ {
			u := users[rand.Intn(len(users))]
			_, err := s.postRepo.AddComment(ctx, postID, models.CommentAuthor{
				UID:             u.UID,
				Username:        u.Username,
				ProfileImageURL: u.ProfileImageURL,
			}, gofakeit.Sentence(6))
			if err != nil {
				return nil, fmt.Errorf("seed comment on %s: %w", postID, err)
			}
		}
	}

	// Conversations between random pairs.
	for i := 0; i < numUsers; i++ {
		a := users[rand.Intn(len(users))]
		b := users[rand.Intn(len(users))]
		if a.UID == b.UID {
			continue
		}
		chatID, err := repository.ChatID(a.UID, b.UID)
		if err != nil {
			return nil, err
		}
		for j := 0; j < 2+rand.Intn(6); j++ {
			sender := a.UID
			if rand.Intn(2) == 0 {
				sender = b.UID
			}
			if _, err := s.chatRepo.SendMessage(ctx, chatID, sender, gofakeit.HipsterSentence(7)); err != nil {
				return nil, fmt.Errorf("seed chat %s: %w", chatID, err)
			}
		}
	}

	return users, nil
}
