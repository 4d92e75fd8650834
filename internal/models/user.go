// Package models contains data structures for the application's domain models.
package models

// UserProfile is the authoritative profile record stored in the users
// collection, keyed by the identity provider's uid. It is re-fetched
// wholesale on change; callers never patch individual fields.
type UserProfile struct {
	UID             string `json:"uid"`
	Email           string `json:"email"`
	Username        string `json:"username"`
	Bio             string `json:"bio"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
}

// Author is the snapshot of a profile embedded in a post at creation time.
// It is deliberately denormalized: old posts keep the username the author
// had when posting. Non-authoritative for profile display elsewhere.
type Author struct {
	UID      string `json:"uid"`
	Email    string `json:"email"`
	Username string `json:"username"`
}

// CommentAuthor is the profile snapshot embedded in a comment. Email is
// intentionally omitted.
type CommentAuthor struct {
	UID             string `json:"uid"`
	Username        string `json:"username"`
	ProfileImageURL string `json:"profile_image_url,omitempty"`
}
