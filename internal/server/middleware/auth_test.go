package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"jwt-session-auth/internal/security"
	sessiondomain "jwt-session-auth/internal/session/domain"
	userdomain "jwt-session-auth/internal/user/domain"
)

type fakeGate struct {
	session   *sessiondomain.Session
	verifyErr error
}

func (g *fakeGate) Lookup(ctx context.Context, compositeToken string) (*sessiondomain.Session, error) {
	return g.session, nil
}

func (g *fakeGate) VerifySignature(ctx context.Context, compositeToken, data, signatureB64 string) error {
	return g.verifyErr
}

func (g *fakeGate) Touch(ctx context.Context, sessionID string) error {
	return nil
}

type fakeValidator struct {
	userID string
	err    error
}

func (v *fakeValidator) Validate(ctx context.Context, tokenString string) (string, string, error) {
	return v.userID, "jti", v.err
}

type fakeUserLoader struct {
	user *userdomain.User
}

func (l *fakeUserLoader) GetByID(ctx context.Context, id string) (*userdomain.User, error) {
	return l.user, nil
}

func gateRequest(t *testing.T, tokens TokenValidator) (*httptest.ResponseRecorder, map[string]string) {
	t.Helper()

	session := &sessiondomain.Session{ID: "s1", CompositeToken: "nonce:bearer", Valid: true}
	gate := &fakeGate{session: session}
	users := &fakeUserLoader{user: &userdomain.User{ID: "u1", Status: userdomain.UserStatusActive}}

	var reached bool
	h := Auth(gate, tokens, users, zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reached = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer nonce:bearer")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK && reached {
		t.Error("handler ran despite gate failure")
	}

	var parsed map[string]string
	if rec.Body.Len() > 0 {
		if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
			t.Fatalf("unmarshal response %q: %v", rec.Body.String(), err)
		}
	}
	return rec, parsed
}

func TestAuth_TokenExpired(t *testing.T) {
	rec, resp := gateRequest(t, &fakeValidator{err: security.ErrTokenExpired})
	if rec.Code != http.StatusUnauthorized || resp["message"] != "token expired" {
		t.Errorf("status = %d, message = %q", rec.Code, resp["message"])
	}
}

func TestAuth_TokenInvalid(t *testing.T) {
	rec, resp := gateRequest(t, &fakeValidator{err: security.ErrInvalidToken})
	if rec.Code != http.StatusUnauthorized || resp["message"] != "token invalid" {
		t.Errorf("status = %d, message = %q", rec.Code, resp["message"])
	}
}

func TestAuth_BlocklistStoreFailureIsInternal(t *testing.T) {
	rec, resp := gateRequest(t, &fakeValidator{err: errors.New("redis: connection refused")})
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if resp["message"] != "internal server error" {
		t.Errorf("message = %q, want generic internal error", resp["message"])
	}
}

func TestAuth_ValidTokenPasses(t *testing.T) {
	rec, _ := gateRequest(t, &fakeValidator{userID: "u1"})
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}
