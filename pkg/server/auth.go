package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/upstwin/upstwin/pkg/log"
)

// instructorOnly restricts next to authenticated instructors. Tokens come
// from a Bearer Authorization header or the auth cookie.
func (s *Server) instructorOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if s.bypassAuth {
			next(w, r)
			return
		}

		var token string
		if authHeader := r.Header.Get("Authorization"); authHeader != "" {
			if !strings.HasPrefix(authHeader, "Bearer ") {
				log.Ctx(ctx).WarnContext(ctx, "invalid auth header")
				writeJSONError(w, "invalid auth header", http.StatusBadRequest)
				return
			}
			token = strings.TrimPrefix(authHeader, "Bearer ")
		} else if c, err := r.Cookie(authTokenCookie); err == nil {
			token = c.Value
		}
		if token == "" {
			writeJSONError(w, "unauthorized", http.StatusUnauthorized)
			return
		}

		email, err := s.authenticateToken(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}
		if !s.isInstructor(email) {
			log.Ctx(ctx).WarnContext(ctx, "not an instructor", slog.String("email", email))
			writeJSONError(w, "instructor access required", http.StatusForbidden)
			return
		}

		ctx = context.WithValue(ctx, emailContextKey, email)
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("instructor", email)))
		next(w, r.WithContext(ctx))
	}
}

func (s *Server) isInstructor(email string) bool {
	for _, e := range s.instructorEmails {
		if email == e {
			return true
		}
	}
	return false
}

// authenticateToken validates the token against the configured providers and
// returns the email claim.
func (s *Server) authenticateToken(ctx context.Context, token string) (string, error) {
	var errs []error

	for providerName, verifier := range s.oidcVerifiers {
		idToken, err := verifier(ctx, token)
		if err == nil {
			var claims struct {
				Email string `json:"email"`
			}
			err = idToken.Claims(&claims)
			if err == nil {
				return claims.Email, nil
			}
		}
		errs = append(errs, fmt.Errorf("%s verifier failed: %v", providerName, err))
	}

	if len(errs) > 0 {
		return "", errors.Join(errs...)
	}
	return "", errors.New("no valid audiences configured or token invalid")
}
