package repository

import (
	"context"
	"errors"
	"time"

	"sologram/internal/models"
	"sologram/internal/observability"
	"sologram/internal/store"
)

const (
	colUsers = "users"
	colPosts = "posts"
)

func commentsCol(postID string) string {
	return colPosts + "/" + postID + "/comments"
}

// PostRepository defines the interface for post data operations
type PostRepository interface {
	CreatePost(ctx context.Context, imageURL string, author models.Author) (string, error)
	GetPost(ctx context.Context, id string) (*models.Post, error)
	FetchFeed(ctx context.Context) ([]*models.Post, error)
	FetchAuthorFeed(ctx context.Context, authorUID string) ([]*models.Post, error)
	SubscribeFeed(ctx context.Context) (*FeedSubscription, error)
	SubscribeAuthorFeed(ctx context.Context, authorUID string) (*FeedSubscription, error)
	ToggleLike(ctx context.Context, postID, uid string) (bool, error)
	AddComment(ctx context.Context, postID string, author models.CommentAuthor, text string) (string, error)
	FetchComments(ctx context.Context, postID string) ([]*models.Comment, error)
	DeletePost(ctx context.Context, id string) error
}

// postRepository implements PostRepository
type postRepository struct {
	store store.Store
	log   *observability.RepoLogger
}

// NewPostRepository creates a new post repository
func NewPostRepository(st store.Store) PostRepository {
	return &postRepository{store: st, log: observability.NewRepoLogger(colPosts)}
}

func feedQuery() store.Query {
	return store.Query{OrderBy: "timestamp", Desc: true}
}

func authorFeedQuery(authorUID string) store.Query {
	return store.Query{Field: "author.uid", Op: "==", Value: authorUID, OrderBy: "timestamp", Desc: true}
}

func (r *postRepository) CreatePost(ctx context.Context, imageURL string, author models.Author) (string, error) {
	defer observability.ObserveStoreOp("create", colPosts, time.Now())
	id, err := r.store.Add(ctx, colPosts, map[string]any{
		"imageUrl":  imageURL,
		"likes":     0,
		"likedBy":   []string{},
		"timestamp": store.ServerTimestamp,
		"author": map[string]any{
			"uid":      author.UID,
			"email":    author.Email,
			"username": author.Username,
		},
	})
	if err != nil {
		r.log.LogError(ctx, "create", err)
		return "", err
	}
	r.log.LogWrite(ctx, "create", map[string]any{"post_id": id, "author_uid": author.UID})
	return id, nil
}

func (r *postRepository) GetPost(ctx context.Context, id string) (*models.Post, error) {
	defer observability.ObserveStoreOp("get", colPosts, time.Now())
	doc, err := r.store.Get(ctx, colPosts, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, models.NewNotFoundError("post", id)
		}
		return nil, err
	}
	post, ok := decodePost(doc)
	if !ok {
		return nil, models.NewNotFoundError("post", id)
	}
	return post, nil
}

func (r *postRepository) FetchFeed(ctx context.Context) ([]*models.Post, error) {
	return r.fetchPosts(ctx, feedQuery())
}

func (r *postRepository) FetchAuthorFeed(ctx context.Context, authorUID string) ([]*models.Post, error) {
	return r.fetchPosts(ctx, authorFeedQuery(authorUID))
}

func (r *postRepository) fetchPosts(ctx context.Context, q store.Query) ([]*models.Post, error) {
	defer observability.ObserveStoreOp("query", colPosts, time.Now())
	docs, err := r.store.Query(ctx, colPosts, q)
	if err != nil {
		return nil, err
	}
	return r.materializePosts(ctx, docs), nil
}

// SubscribeFeed delivers the full post list, newest first, on every change.
// The caller owns the returned subscription and must Cancel it.
func (r *postRepository) SubscribeFeed(ctx context.Context) (*FeedSubscription, error) {
	return r.subscribePosts(ctx, feedQuery())
}

// SubscribeAuthorFeed is SubscribeFeed filtered server-side to one author.
func (r *postRepository) SubscribeAuthorFeed(ctx context.Context, authorUID string) (*FeedSubscription, error) {
	return r.subscribePosts(ctx, authorFeedQuery(authorUID))
}

func (r *postRepository) subscribePosts(ctx context.Context, q store.Query) (*FeedSubscription, error) {
	sub, err := r.store.Watch(ctx, colPosts, q)
	if err != nil {
		return nil, err
	}
	feed := &FeedSubscription{updates: make(chan []*models.Post, 1), sub: sub}
	observability.ActiveSubscriptions.Inc()
	go func() {
		defer func() {
			observability.ActiveSubscriptions.Dec()
			close(feed.updates)
		}()
		for docs := range sub.Updates() {
			select {
			case feed.updates <- r.materializePosts(ctx, docs):
			case <-sub.Done():
				return
			}
		}
	}()
	return feed, nil
}

func (r *postRepository) materializePosts(ctx context.Context, docs []store.Doc) []*models.Post {
	posts := make([]*models.Post, 0, len(docs))
	for _, doc := range docs {
		post, ok := decodePost(doc)
		if !ok {
			observability.MalformedDocsDropped.WithLabelValues(colPosts).Inc()
			r.log.LogDropped(ctx, doc.ID, "missing required post fields")
			continue
		}
		posts = append(posts, post)
	}
	return posts
}

// ToggleLike flips uid's membership in the post's likedBy set and rewrites
// the cached count from the new set, in one transaction against the
// authoritative copy. Toggle semantics: re-running the identical call
// yields the opposite state, never a double increment.
func (r *postRepository) ToggleLike(ctx context.Context, postID, uid string) (bool, error) {
	defer observability.ObserveStoreOp("toggle_like", colPosts, time.Now())

	var liked bool
	err := r.store.RunTransaction(ctx, func(tx store.Tx) error {
		doc, err := tx.Get(colPosts, postID)
		if err != nil {
			return err
		}
		likedBy := stringsField(doc.Data, "likedBy")
		if containsString(likedBy, uid) {
			likedBy = removeString(likedBy, uid)
			liked = false
		} else {
			likedBy = append(likedBy, uid)
			liked = true
		}
		// likes is always recomputed from likedBy, never incremented
		// independently, so the two cannot drift.
		return tx.Set(colPosts, postID, map[string]any{
			"likedBy": likedBy,
			"likes":   len(likedBy),
		})
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			observability.LikeTransactionFailures.Inc()
		}
		if errors.Is(err, store.ErrNotFound) {
			return false, models.NewNotFoundError("post", postID)
		}
		r.log.LogError(ctx, "toggle_like", err)
		return false, err
	}
	return liked, nil
}

func (r *postRepository) AddComment(ctx context.Context, postID string, author models.CommentAuthor, text string) (string, error) {
	col := commentsCol(postID)
	defer observability.ObserveStoreOp("create", col, time.Now())
	id, err := r.store.Add(ctx, col, map[string]any{
		"text":      text,
		"timestamp": store.ServerTimestamp,
		"userProfile": map[string]any{
			"uid":             author.UID,
			"username":        author.Username,
			"profileImageURL": author.ProfileImageURL,
		},
	})
	if err != nil {
		r.log.LogError(ctx, "add_comment", err)
		return "", err
	}
	return id, nil
}

func (r *postRepository) FetchComments(ctx context.Context, postID string) ([]*models.Comment, error) {
	col := commentsCol(postID)
	defer observability.ObserveStoreOp("query", col, time.Now())
	docs, err := r.store.Query(ctx, col, store.Query{OrderBy: "timestamp", Desc: true})
	if err != nil {
		return nil, err
	}
	comments := make([]*models.Comment, 0, len(docs))
	for _, doc := range docs {
		comment, ok := decodeComment(doc)
		if !ok {
			observability.MalformedDocsDropped.WithLabelValues(col).Inc()
			r.log.LogDropped(ctx, doc.ID, "missing required comment fields")
			continue
		}
		comments = append(comments, comment)
	}
	return comments, nil
}

// DeletePost removes the post and its comment sub-collection. The store has
// no server-side cascade, so the comments are enumerated and deleted here.
func (r *postRepository) DeletePost(ctx context.Context, id string) error {
	defer observability.ObserveStoreOp("delete", colPosts, time.Now())
	col := commentsCol(id)
	docs, err := r.store.Query(ctx, col, store.Query{})
	if err != nil {
		return err
	}
	for _, doc := range docs {
		if err := r.store.Delete(ctx, col, doc.ID); err != nil {
			return err
		}
	}
	if err := r.store.Delete(ctx, colPosts, id); err != nil {
		r.log.LogError(ctx, "delete", err)
		return err
	}
	r.log.LogWrite(ctx, "delete", map[string]any{"post_id": id, "comments_removed": len(docs)})
	return nil
}

// FeedSubscription is a live, typed view over the posts collection. Every
// update replaces the previous list wholesale.
type FeedSubscription struct {
	updates chan []*models.Post
	sub     *store.Subscription
}

// Updates returns the channel of materialized post lists. Closed after
// Cancel.
func (s *FeedSubscription) Updates() <-chan []*models.Post { return s.updates }

// Cancel releases the underlying store listener. Idempotent.
func (s *FeedSubscription) Cancel() { s.sub.Cancel() }

// Err reports the terminal subscription error, if any.
func (s *FeedSubscription) Err() error { return s.sub.Err() }

func decodePost(doc store.Doc) (*models.Post, bool) {
	imageURL, ok := strField(doc.Data, "imageUrl")
	if !ok {
		return nil, false
	}
	likes, ok := intField(doc.Data, "likes")
	if !ok {
		return nil, false
	}
	authorData, ok := mapField(doc.Data, "author")
	if !ok {
		return nil, false
	}
	uid, uidOK := strField(authorData, "uid")
	email, emailOK := strField(authorData, "email")
	username, usernameOK := strField(authorData, "username")
	if !uidOK || !emailOK || !usernameOK {
		return nil, false
	}
	ts, _ := timeField(doc.Data, "timestamp")
	return &models.Post{
		ID:        doc.ID,
		ImageURL:  imageURL,
		Author:    models.Author{UID: uid, Email: email, Username: username},
		Likes:     likes,
		LikedBy:   stringsField(doc.Data, "likedBy"),
		Timestamp: ts,
	}, true
}

func decodeComment(doc store.Doc) (*models.Comment, bool) {
	text, ok := strField(doc.Data, "text")
	if !ok {
		return nil, false
	}
	profile, ok := mapField(doc.Data, "userProfile")
	if !ok {
		return nil, false
	}
	uid, uidOK := strField(profile, "uid")
	username, usernameOK := strField(profile, "username")
	if !uidOK || !usernameOK {
		return nil, false
	}
	ts, ok := timeField(doc.Data, "timestamp")
	if !ok {
		return nil, false
	}
	return &models.Comment{
		ID:   doc.ID,
		Text: text,
		Author: models.CommentAuthor{
			UID:             uid,
			Username:        username,
			ProfileImageURL: optStrField(profile, "profileImageURL"),
		},
		Timestamp: ts,
	}, true
}
