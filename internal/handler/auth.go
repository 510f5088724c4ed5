package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pavelanni/lyceum/internal/apierr"
	"github.com/pavelanni/lyceum/internal/auth"
	"github.com/pavelanni/lyceum/internal/model"
)

type claimsCtxKey struct{}

// requireAuth is middleware that checks for a valid, unrevoked bearer token.
func (h *Handler) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			writeError(w, r, apierr.Unauthenticated("Not authenticated"))
			return
		}
		claims, err := h.tokens.Parse(strings.TrimSpace(raw))
		if err != nil {
			slog.Debug("rejected token", "error", err)
			writeError(w, r, apierr.Unauthenticated("Could not validate credentials"))
			return
		}
		revoked, err := h.store.IsTokenRevoked(r.Context(), claims.ID)
		if err != nil {
			writeError(w, r, apierr.Persistence(err))
			return
		}
		if revoked {
			writeError(w, r, apierr.Unauthenticated("Token has been revoked"))
			return
		}
		user, err := h.store.GetUserByID(r.Context(), claims.Subject)
		if err != nil {
			writeError(w, r, apierr.Persistence(err))
			return
		}
		if user == nil {
			writeError(w, r, apierr.Unauthenticated("User no longer exists"))
			return
		}

		ctx := model.ContextWithUser(r.Context(), user)
		ctx = contextWithClaims(ctx, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requireRole returns middleware that checks the user has the given role.
func requireRole(role model.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user := currentUser(r)
			if user == nil {
				writeError(w, r, apierr.Unauthenticated("Not authenticated"))
				return
			}
			if user.Role != role {
				writeError(w, r, apierr.Forbidden("User is not a %s", strings.ToLower(string(role))))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type signupRequest struct {
	Name     string         `json:"name" validate:"required"`
	Email    string         `json:"email" validate:"required,email"`
	Password string         `json:"password" validate:"required,min=8"`
	Role     model.UserRole `json:"role" validate:"required,oneof=TEACHER STUDENT"`
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type tokenResponse struct {
	Token string      `json:"token"`
	Type  string      `json:"token_type"`
	User  *model.User `json:"user"`
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	var req signupRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}
	user := &model.User{
		Name:         strings.TrimSpace(req.Name),
		Email:        req.Email,
		PasswordHash: hash,
		Role:         req.Role,
	}
	if err := h.store.CreateUser(r.Context(), user); err != nil {
		writeError(w, r, err)
		return
	}
	h.writeToken(w, r, http.StatusCreated, user)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	user, err := h.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		writeError(w, r, apierr.Persistence(err))
		return
	}
	if user == nil || !auth.CheckPassword(user.PasswordHash, req.Password) {
		writeError(w, r, apierr.Unauthenticated("Invalid email or password"))
		return
	}
	slog.Info("user logged in", "user_id", user.ID, "role", user.Role)
	h.writeToken(w, r, http.StatusOK, user)
}

func (h *Handler) writeToken(w http.ResponseWriter, r *http.Request, status int, user *model.User) {
	token, _, err := h.tokens.Issue(user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, status, tokenResponse{Token: token, Type: "bearer", User: user})
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, currentUser(r))
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims != nil {
		if err := h.store.RevokeToken(r.Context(), claims.ID, claims.Subject, claims.ExpiresAt.Time); err != nil {
			writeError(w, r, apierr.Persistence(err))
			return
		}
	}
	writeDetail(w, r, http.StatusOK, "LoggedOut")
}

type fcmTokenRequest struct {
	Token string `json:"token" validate:"required"`
}

func (h *Handler) handleAddFCMToken(w http.ResponseWriter, r *http.Request) {
	var req fcmTokenRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := h.store.UpsertFCMToken(r.Context(), currentUser(r).ID, req.Token); err != nil {
		writeError(w, r, apierr.Persistence(err))
		return
	}
	writeDetail(w, r, http.StatusOK, "TokenSaved")
}

func contextWithClaims(ctx context.Context, c *auth.Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, c)
}

func claimsFromContext(ctx context.Context) *auth.Claims {
	c, _ := ctx.Value(claimsCtxKey{}).(*auth.Claims)
	return c
}
