package service

import (
	"context"
	"strings"

	"sologram/internal/auth"
	"sologram/internal/media"
	"sologram/internal/models"
	"sologram/internal/notifications"
	"sologram/internal/repository"
)

// Notifier publishes events to a user's notification stream. Delivery is
// best effort; a failed publish never fails the triggering operation.
type Notifier interface {
	PublishUser(ctx context.Context, uid string, event notifications.Event) error
}

type PostService struct {
	postRepo repository.PostRepository
	userRepo repository.UserRepository
	uploader media.Uploader
	notifier Notifier
}

type CreatePostInput struct {
	Image    []byte
	Filename string
}

func NewPostService(
	postRepo repository.PostRepository,
	userRepo repository.UserRepository,
	uploader media.Uploader,
	notifier Notifier,
) *PostService {
	return &PostService{
		postRepo: postRepo,
		userRepo: userRepo,
		uploader: uploader,
		notifier: notifier,
	}
}

func (s *PostService) Feed(ctx context.Context) ([]*models.Post, error) {
	return s.postRepo.FetchFeed(ctx)
}

func (s *PostService) AuthorFeed(ctx context.Context, authorUID string) ([]*models.Post, error) {
	if authorUID == "" {
		return nil, models.NewValidationError("author uid is required")
	}
	return s.postRepo.FetchAuthorFeed(ctx, authorUID)
}

func (s *PostService) SubscribeFeed(ctx context.Context) (*repository.FeedSubscription, error) {
	return s.postRepo.SubscribeFeed(ctx)
}

func (s *PostService) SubscribeAuthorFeed(ctx context.Context, authorUID string) (*repository.FeedSubscription, error) {
	if authorUID == "" {
		return nil, models.NewValidationError("author uid is required")
	}
	return s.postRepo.SubscribeAuthorFeed(ctx, authorUID)
}

// CreatePost uploads the image and writes the post with a denormalized
// author snapshot taken from the caller's profile at this moment.
func (s *PostService) CreatePost(ctx context.Context, ident *auth.Identity, input CreatePostInput) (*models.Post, error) {
	if ident == nil {
		return nil, models.ErrNotSignedIn
	}
	if len(input.Image) == 0 {
		return nil, models.NewValidationError("image payload is required")
	}

	imageURL, err := s.uploader.Upload(ctx, input.Image, input.Filename)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	profile, err := s.userRepo.GetProfile(ctx, ident.UID)
	if err != nil {
		return nil, err
	}
	author := models.Author{
		UID:      ident.UID,
		Email:    ident.Email,
		Username: usernameOrFallback(profile.Username, ident.Email),
	}

	id, err := s.postRepo.CreatePost(ctx, imageURL, author)
	if err != nil {
		return nil, err
	}
	return s.postRepo.GetPost(ctx, id)
}

// ToggleLike flips the caller's like on the post. The post author is
// notified when a like is added, never on removal or self-likes.
func (s *PostService) ToggleLike(ctx context.Context, ident *auth.Identity, postID string) (bool, error) {
	if ident == nil {
		return false, models.ErrNotSignedIn
	}
	liked, err := s.postRepo.ToggleLike(ctx, postID, ident.UID)
	if err != nil {
		return false, err
	}
	if liked && s.notifier != nil {
		if post, err := s.postRepo.GetPost(ctx, postID); err == nil && post.Author.UID != ident.UID {
			profile, _ := s.userRepo.GetProfile(ctx, ident.UID)
			_ = s.notifier.PublishUser(ctx, post.Author.UID, notifications.Event{
				Type:          notifications.EventPostLiked,
				PostID:        postID,
				ActorUID:      ident.UID,
				ActorUsername: profileUsername(profile),
			})
		}
	}
	return liked, nil
}

// DeletePost removes a post and its comments. Only the author may delete.
func (s *PostService) DeletePost(ctx context.Context, ident *auth.Identity, postID string) error {
	if ident == nil {
		return models.ErrNotSignedIn
	}
	post, err := s.postRepo.GetPost(ctx, postID)
	if err != nil {
		return err
	}
	if post.Author.UID != ident.UID {
		return models.NewForbiddenError("only the author can delete a post")
	}
	return s.postRepo.DeletePost(ctx, postID)
}

func (s *PostService) Comments(ctx context.Context, postID string) ([]*models.Comment, error) {
	return s.postRepo.FetchComments(ctx, postID)
}

// AddComment writes a comment carrying the caller's profile snapshot and
// notifies the post author.
func (s *PostService) AddComment(ctx context.Context, ident *auth.Identity, postID, text string) ([]*models.Comment, error) {
	if ident == nil {
		return nil, models.ErrNotSignedIn
	}
	if strings.TrimSpace(text) == "" {
		return nil, models.NewValidationError("comment text is required")
	}
	post, err := s.postRepo.GetPost(ctx, postID)
	if err != nil {
		return nil, err
	}

	profile, err := s.userRepo.GetProfile(ctx, ident.UID)
	if err != nil {
		return nil, err
	}
	author := models.CommentAuthor{
		UID:             ident.UID,
		Username:        usernameOrFallback(profile.Username, ident.Email),
		ProfileImageURL: profile.ProfileImageURL,
	}

	if _, err := s.postRepo.AddComment(ctx, postID, author, text); err != nil {
		return nil, err
	}
	if s.notifier != nil && post.Author.UID != ident.UID {
		_ = s.notifier.PublishUser(ctx, post.Author.UID, notifications.Event{
			Type:          notifications.EventPostCommented,
			PostID:        postID,
			ActorUID:      ident.UID,
			ActorUsername: author.Username,
		})
	}
	return s.postRepo.FetchComments(ctx, postID)
}

func usernameOrFallback(username, email string) string {
	if username != "" {
		return username
	}
	if at := strings.IndexByte(email, '@'); at > 0 {
		return email[:at]
	}
	return email
}

func profileUsername(profile *models.UserProfile) string {
	if profile == nil {
		return ""
	}
	return profile.Username
}
