// Package auth issues and verifies the JWTs used by the HTTP API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"cyclecal/internal/db"

	"github.com/go-chi/jwtauth/v5"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

const (
	claimUserID   = "user_id"
	claimUsername = "username"
	claimUserType = "user_type"
)

var ErrInvalidToken = errors.New("invalid token")

// TokenAuth signs tokens with an HMAC secret.
type TokenAuth struct {
	ja  *jwtauth.JWTAuth
	ttl time.Duration
	now func() time.Time
}

func NewTokenAuth(secret []byte, ttl time.Duration) *TokenAuth {
	return &TokenAuth{
		ja:  jwtauth.New("HS256", secret, nil),
		ttl: ttl,
		now: time.Now,
	}
}

// GenerateToken creates a new JWT token for a user
func (a *TokenAuth) GenerateToken(user *db.User) (string, error) {
	claims := map[string]interface{}{
		claimUserID:   user.ID,
		claimUsername: user.Username,
		claimUserType: string(user.Type),
	}
	jwtauth.SetIssuedAt(claims, a.now())
	jwtauth.SetExpiry(claims, a.now().Add(a.ttl))

	_, tokenString, err := a.ja.Encode(claims)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return tokenString, nil
}

// ParseToken verifies tokenString and returns the user it was issued for.
func (a *TokenAuth) ParseToken(tokenString string) (*db.User, error) {
	token, err := a.ja.Decode(tokenString)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if err := jwt.Validate(token); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return userFromClaims(token.PrivateClaims())
}

func userFromClaims(claims map[string]interface{}) (*db.User, error) {
	id, _ := claims[claimUserID].(string)
	username, _ := claims[claimUsername].(string)
	userType, _ := claims[claimUserType].(string)
	if username == "" || !db.UserType(userType).Valid() {
		return nil, fmt.Errorf("%w: missing claims", ErrInvalidToken)
	}
	return &db.User{ID: id, Username: username, Type: db.UserType(userType)}, nil
}
