package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/rs/zerolog"

	"jwt-session-auth/internal/auth"
	"jwt-session-auth/internal/security"
	"jwt-session-auth/internal/server/middleware"
	sessionservice "jwt-session-auth/internal/session/service"
)

// AuthHandler serves the registration, login, and session lifecycle endpoints.
type AuthHandler struct {
	auth     *auth.Service
	sessions *sessionservice.Manager
	logger   zerolog.Logger
}

func NewAuthHandler(authSvc *auth.Service, sessions *sessionservice.Manager, logger zerolog.Logger) *AuthHandler {
	return &AuthHandler{auth: authSvc, sessions: sessions, logger: logger}
}

type registerRequest struct {
	Name                 string `json:"name"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
	DeviceID             string `json:"device_id"`
}

type tokenResponse struct {
	CompositeToken string `json:"composite_token"`
	PublicKey      string `json:"public_key"`
}

// Register creates a new user and issues a first session for the device.
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondValidation(w, map[string]string{"body": "invalid JSON body"})
		return
	}

	user, issued, err := h.auth.Register(r.Context(), auth.RegisterParams{
		Name:                 req.Name,
		Email:                req.Email,
		Password:             req.Password,
		PasswordConfirmation: req.PasswordConfirmation,
		DeviceID:             req.DeviceID,
		IPAddress:            clientIP(r),
		UserAgent:            r.UserAgent(),
	})
	if err != nil {
		var fieldErrs auth.FieldErrors
		if errors.As(err, &fieldErrs) {
			respondValidation(w, fieldErrs)
			return
		}
		h.internalError(w, r, err)
		return
	}

	respondSuccess(w, http.StatusCreated, map[string]any{
		"user":            h.auth.Hooks().TransformUser(user),
		"composite_token": issued.CompositeToken,
		"public_key":      issued.PublicKeyPEM,
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	DeviceID string `json:"device_id"`
}

// Login authenticates credentials and issues a session, replacing any
// existing session for the same device.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondValidation(w, map[string]string{"body": "invalid JSON body"})
		return
	}

	issued, err := h.auth.Login(r.Context(), auth.LoginParams{
		Email:     req.Email,
		Password:  req.Password,
		DeviceID:  req.DeviceID,
		IPAddress: clientIP(r),
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		var fieldErrs auth.FieldErrors
		switch {
		case errors.As(err, &fieldErrs):
			respondValidation(w, fieldErrs)
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "invalid credentials")
		default:
			h.internalError(w, r, err)
		}
		return
	}

	respondSuccess(w, http.StatusOK, tokenResponse{
		CompositeToken: issued.CompositeToken,
		PublicKey:      issued.PublicKeyPEM,
	})
}

// Token issues an additional session for the authenticated user on the
// current device. The existing session stays valid.
func (h *AuthHandler) Token(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	session, _ := middleware.GetSession(r.Context())
	if user == nil || session == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	issued, err := h.auth.IssueForUser(r.Context(), user.ID, session.DeviceID, clientIP(r), r.UserAgent())
	if err != nil {
		h.internalError(w, r, err)
		return
	}

	respondSuccess(w, http.StatusOK, tokenResponse{
		CompositeToken: issued.CompositeToken,
		PublicKey:      issued.PublicKeyPEM,
	})
}

// Logout invalidates the current session and blocklists its bearer token.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session, _ := middleware.GetSession(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	if err := h.sessions.Invalidate(r.Context(), session.CompositeToken); err != nil {
		if errors.Is(err, sessionservice.ErrInvalidSession) {
			respondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		h.internalError(w, r, err)
		return
	}

	respondSuccess(w, http.StatusOK, map[string]string{"message": "Successfully logged out"})
}

// Refresh supersedes the current session: the old row is invalidated and a
// brand-new session with a fresh token and key pair is returned.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, _ := middleware.GetSession(r.Context())
	if session == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	issued, err := h.sessions.Refresh(r.Context(), session.CompositeToken, clientIP(r), r.UserAgent())
	if err != nil {
		if errors.Is(err, sessionservice.ErrInvalidSession) {
			respondError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		h.internalError(w, r, err)
		return
	}

	respondSuccess(w, http.StatusOK, tokenResponse{
		CompositeToken: issued.CompositeToken,
		PublicKey:      issued.PublicKeyPEM,
	})
}

type verifySignatureRequest struct {
	Token     string `json:"token"`
	Data      string `json:"data"`
	Signature string `json:"signature"`
}

// VerifySignature checks a detached signature against the public key of the
// session named by the token in the request body.
func (h *AuthHandler) VerifySignature(w http.ResponseWriter, r *http.Request) {
	var req verifySignatureRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondValidation(w, map[string]string{"body": "invalid JSON body"})
		return
	}

	fields := make(map[string]string)
	if req.Token == "" {
		fields["token"] = "token is required"
	}
	if req.Data == "" {
		fields["data"] = "data is required"
	}
	if req.Signature == "" {
		fields["signature"] = "signature is required"
	}
	if len(fields) > 0 {
		respondValidation(w, fields)
		return
	}

	err := h.sessions.VerifySignature(r.Context(), req.Token, req.Data, req.Signature)
	switch {
	case err == nil:
		respondSuccess(w, http.StatusOK, map[string]bool{"verified": true})
	case errors.Is(err, sessionservice.ErrInvalidSession):
		respondError(w, http.StatusUnauthorized, "invalid or expired token")
	case errors.Is(err, security.ErrSignatureMismatch):
		respondError(w, http.StatusUnauthorized, "invalid request signature")
	default:
		h.internalError(w, r, err)
	}
}

// User returns the authenticated user's profile.
func (h *AuthHandler) User(w http.ResponseWriter, r *http.Request) {
	user, _ := middleware.GetUser(r.Context())
	if user == nil {
		respondError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	respondSuccess(w, http.StatusOK, map[string]any{
		"user": h.auth.Hooks().TransformUser(user),
	})
}

func (h *AuthHandler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error().Err(err).
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("path", r.URL.Path).
		Msg("handler failure")
	respondError(w, http.StatusInternalServerError, "internal server error")
}

// clientIP returns the remote address without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
