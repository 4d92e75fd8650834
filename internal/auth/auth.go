// Package auth verifies session tokens against the external identity
// provider. The application never stores credentials; it only needs the
// current session's uid and email.
package auth

import "context"

// Identity is the verified session identity.
type Identity struct {
	UID   string
	Email string
}

// Verifier turns a bearer token into an Identity.
type Verifier interface {
	Verify(ctx context.Context, token string) (Identity, error)
}
