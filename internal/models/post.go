package models

import "time"

// Post represents a photo post in the feed.
//
// Likes is a cached count derived from LikedBy; the repository recomputes
// both together in one transaction so Likes == len(LikedBy) holds after
// every mutation.
type Post struct {
	ID        string    `json:"id"`
	ImageURL  string    `json:"image_url"`
	Author    Author    `json:"author"`
	Likes     int       `json:"likes"`
	LikedBy   []string  `json:"liked_by"`
	Timestamp time.Time `json:"timestamp"`
}

// LikedByUser reports whether uid has liked the post. Membership in LikedBy
// is the source of truth, not the cached count.
func (p *Post) LikedByUser(uid string) bool {
	for _, id := range p.LikedBy {
		if id == uid {
			return true
		}
	}
	return false
}

// Comment is a child record of exactly one post. Immutable once created;
// removed only when the parent post is deleted.
type Comment struct {
	ID        string        `json:"id"`
	Text      string        `json:"text"`
	Author    CommentAuthor `json:"author"`
	Timestamp time.Time     `json:"timestamp"`
}
