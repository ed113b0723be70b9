package auth

import (
	"context"
	"net/http"

	"cyclecal/internal/db"

	"github.com/go-chi/jwtauth/v5"
	"go.uber.org/zap"
)

type contextKey string

const userContextKey contextKey = "user"

// Authenticator resolves the caller of a request from a bearer token or,
// for scripts, HTTP basic credentials checked against the user store.
type Authenticator struct {
	tokens   *TokenAuth
	userRepo db.UserRepository
	logger   *zap.Logger
}

func NewAuthenticator(tokens *TokenAuth, userRepo db.UserRepository, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		tokens:   tokens,
		userRepo: userRepo,
		logger:   logger,
	}
}

// Middleware rejects requests without valid credentials and stores the
// authenticated user in the request context.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := a.authenticate(r)
		if err != nil {
			a.logger.Debug("authentication failed", zap.String("path", r.URL.Path), zap.Error(err))
			w.Header().Set("WWW-Authenticate", `Bearer realm="cyclecal"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// RequireAdmin only lets admins through. It must run after Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		if !ok || user.Type != db.UserTypeAdmin {
			writeError(w, http.StatusForbidden, "admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) authenticate(r *http.Request) (*db.User, error) {
	if username, password, ok := r.BasicAuth(); ok {
		return a.userRepo.ValidateUser(r.Context(), username, password)
	}
	tokenString := jwtauth.TokenFromHeader(r)
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	return a.tokens.ParseToken(tokenString)
}

func WithUser(ctx context.Context, user *db.User) context.Context {
	return context.WithValue(ctx, userContextKey, user)
}

func UserFromContext(ctx context.Context) (*db.User, bool) {
	user, ok := ctx.Value(userContextKey).(*db.User)
	return user, ok && user != nil
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"message":"` + message + `","success":false}`))
}
