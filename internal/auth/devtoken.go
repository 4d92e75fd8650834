package auth

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"sologram/internal/models"
)

const (
	devIssuer   = "sologram-api"
	devAudience = "sologram-client"
)

// DevVerifier verifies locally issued HMAC tokens. Used in development and
// tests, where no identity provider is available.
type DevVerifier struct {
	secret []byte
}

// NewDevVerifier returns a verifier for tokens signed with secret.
func NewDevVerifier(secret string) *DevVerifier {
	return &DevVerifier{secret: []byte(secret)}
}

func (v *DevVerifier) Verify(_ context.Context, tokenString string) (Identity, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, models.NewUnauthorizedError("Invalid signing method")
		}
		return v.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, models.NewUnauthorizedError("Invalid or expired token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, models.NewUnauthorizedError("Invalid token claims")
	}

	if issuer, issuerOk := claims["iss"].(string); !issuerOk || issuer != devIssuer {
		return Identity{}, models.NewUnauthorizedError("Invalid token issuer")
	}
	if audience, audienceOk := claims["aud"].(string); !audienceOk || audience != devAudience {
		return Identity{}, models.NewUnauthorizedError("Invalid token audience")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Identity{}, models.NewUnauthorizedError("Invalid subject claim")
	}
	email, _ := claims["email"].(string)

	return Identity{UID: sub, Email: email}, nil
}

// IssueDevToken signs a development session token for uid.
func IssueDevToken(secret, uid, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"iss":   devIssuer,
		"aud":   devAudience,
		"sub":   uid,
		"email": email,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	})
	return token.SignedString([]byte(secret))
}
