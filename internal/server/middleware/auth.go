package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"jwt-session-auth/internal/security"
	sessiondomain "jwt-session-auth/internal/session/domain"
	sessionservice "jwt-session-auth/internal/session/service"
	userdomain "jwt-session-auth/internal/user/domain"
)

// Signed-request headers. Both must be present for the signature check to run.
const (
	SignatureHeader  = "X-Signature"
	SignedDataHeader = "X-Signed-Data"
)

// SessionGate is the session surface the auth middleware needs.
type SessionGate interface {
	Lookup(ctx context.Context, compositeToken string) (*sessiondomain.Session, error)
	VerifySignature(ctx context.Context, compositeToken, data, signatureB64 string) error
	Touch(ctx context.Context, sessionID string) error
}

// TokenValidator resolves a bearer token to a user id.
type TokenValidator interface {
	Validate(ctx context.Context, tokenString string) (userID, jti string, err error)
}

// UserLoader fetches the user for a resolved id.
type UserLoader interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
}

// Auth guards protected routes. Requests pass only when the composite token
// maps to a valid session row, the embedded bearer token verifies, and the
// token's subject resolves to a known user. When both signed-request headers
// are present the signature is also checked against the session's public key.
// Any failure short-circuits with 401 (or 404 for a missing user) and the
// handler is never invoked.
func Auth(sessions SessionGate, tokens TokenValidator, users UserLoader, logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			composite := bearerCredential(r)
			if composite == "" {
				unauthenticated(w, "token not provided")
				return
			}

			_, bearer, err := sessiondomain.SplitCompositeToken(composite)
			if err != nil {
				unauthenticated(w, "invalid token format")
				return
			}

			session, err := sessions.Lookup(ctx, composite)
			if err != nil {
				if errors.Is(err, sessionservice.ErrInvalidSession) {
					unauthenticated(w, "invalid or expired token")
					return
				}
				internalError(w, logger, r, err)
				return
			}

			userID, _, err := tokens.Validate(ctx, bearer)
			if err != nil {
				switch {
				case errors.Is(err, security.ErrTokenExpired):
					unauthenticated(w, "token expired")
				case errors.Is(err, security.ErrInvalidToken):
					unauthenticated(w, "token invalid")
				default:
					// A blocklist store failure is not a verdict on the token.
					internalError(w, logger, r, err)
				}
				return
			}

			user, err := users.GetByID(ctx, userID)
			if err != nil {
				internalError(w, logger, r, err)
				return
			}
			if user == nil {
				writeError(w, http.StatusNotFound, "user not found")
				return
			}

			sig := r.Header.Get(SignatureHeader)
			data := r.Header.Get(SignedDataHeader)
			if sig != "" && data != "" {
				err := sessions.VerifySignature(ctx, composite, data, sig)
				switch {
				case err == nil:
				case errors.Is(err, security.ErrSignatureMismatch):
					unauthenticated(w, "invalid request signature")
					return
				default:
					internalError(w, logger, r, err)
					return
				}
			}

			if err := sessions.Touch(ctx, session.ID); err != nil {
				logger.Warn().Err(err).Str("session_id", session.ID).Msg("failed to touch session")
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(ctx, user, session)))
		})
	}
}

// bearerCredential extracts the credential from the Authorization header.
// Accepts "Bearer <token>" and a bare token for parity with clients that
// omit the scheme.
func bearerCredential(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	if rest, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(rest)
	}
	return header
}

func unauthenticated(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, message)
}

func internalError(w http.ResponseWriter, logger zerolog.Logger, r *http.Request, err error) {
	logger.Error().Err(err).
		Str("request_id", GetRequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg("auth middleware failure")
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status":  "error",
		"message": message,
	})
}
