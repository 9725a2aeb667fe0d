package http

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/School-ERP-Techneat/school-add-sub000/internal/auth"
	"github.com/School-ERP-Techneat/school-add-sub000/internal/crypto"
	"github.com/School-ERP-Techneat/school-add-sub000/internal/model"
	"github.com/School-ERP-Techneat/school-add-sub000/internal/repository"
)

const authCookieName = "accessToken"

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type principalSummary struct {
	ID         string `json:"id"`
	Kind       string `json:"kind"`
	SchoolCode string `json:"schoolCode"`
	Username   string `json:"username"`
	Name       string `json:"name,omitempty"`
	Email      string `json:"email,omitempty"`
	RoleID     string `json:"roleId"`
	Active     bool   `json:"active"`
	CreatedOn  int64  `json:"createdOn"`
}

type authResponse struct {
	AccessToken  string           `json:"accessToken"`
	RefreshToken string           `json:"refreshToken"`
	Principal    principalSummary `json:"principal"`
}

func summarize(p model.Principal) principalSummary {
	return principalSummary{
		ID:         p.ID,
		Kind:       string(p.Kind),
		SchoolCode: p.SchoolCode,
		Username:   p.Username,
		Name:       p.Name,
		Email:      p.Email,
		RoleID:     p.RoleID,
		Active:     p.Active,
		CreatedOn:  p.CreatedAt.Unix(),
	}
}

func (s *Server) setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(s.cfg.AccessTokenTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   s.cfg.IsProd(),
	})
}

func (s *Server) clearAuthCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		Secure:   s.cfg.IsProd(),
	})
}

func (s *Server) issueTokens(ctx context.Context, p model.Principal) (string, string, error) {
	accessToken, err := auth.NewAccessToken(s.cfg.JWTSecret, s.cfg.JWTIssuer, s.cfg.AccessTokenTTL, auth.Claims{
		PrincipalID: p.ID,
		Username:    p.Username,
		RoleID:      p.RoleID,
		SchoolCode:  p.SchoolCode,
	})
	if err != nil {
		return "", "", err
	}

	refreshToken, err := crypto.NewRefreshToken()
	if err != nil {
		return "", "", err
	}

	now := time.Now().UTC()
	session := model.RefreshSession{
		ID:          uuid.NewString(),
		PrincipalID: p.ID,
		TokenHash:   crypto.HashToken(refreshToken),
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.store.CreateRefreshSession(ctx, session); err != nil {
		return "", "", err
	}
	return accessToken, refreshToken, nil
}

// loginPrincipal is the single authentication path shared by all four
// principal kinds. schoolCode is empty only for school owners, whose login
// route carries no tenant segment.
func (s *Server) loginPrincipal(w http.ResponseWriter, r *http.Request, kind model.Kind, schoolCode string) {
	var req loginRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	req.Username = strings.TrimSpace(strings.ToLower(req.Username))

	p, err := s.store.GetPrincipalByUsername(r.Context(), kind, schoolCode, req.Username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_credentials")
			return
		}
		s.serverError(w, err, "finding principal")
		return
	}
	if err := crypto.CheckPassword(p.PasswordHash, req.Password); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}
	if !p.Active {
		writeError(w, http.StatusForbidden, "account_deactivated")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), p)
	if err != nil {
		s.serverError(w, err, "issuing tokens")
		return
	}

	s.setAuthCookie(w, accessToken)
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Principal:    summarize(p),
	})
}

func (s *Server) serverError(w http.ResponseWriter, err error, msg string) {
	s.log.WithError(err).Error(msg)
	writeError(w, http.StatusInternalServerError, "server_error")
}

// School owner signup and login.

type ownerSignupRequest struct {
	Name         string `json:"name" validate:"required"`
	Username     string `json:"username" validate:"required,min=4"`
	Email        string `json:"email" validate:"omitempty,email"`
	Password     string `json:"password" validate:"required,min=8"`
	LocationCode string `json:"locationCode" validate:"required,len=4,numeric"`
}

func (s *Server) handleOwnerSignup(w http.ResponseWriter, r *http.Request) {
	var req ownerSignupRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.serverError(w, err, "hashing password")
		return
	}

	owner := model.Principal{
		Username:     strings.TrimSpace(strings.ToLower(req.Username)),
		Name:         strings.TrimSpace(req.Name),
		Email:        strings.TrimSpace(strings.ToLower(req.Email)),
		PasswordHash: hash,
	}
	created, _, err := s.store.RegisterOwner(r.Context(), owner, req.LocationCode)
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			writeError(w, http.StatusBadRequest, "username_taken")
			return
		}
		s.serverError(w, err, "registering owner")
		return
	}

	writeJSON(w, http.StatusCreated, summarize(created))
}

func (s *Server) handleOwnerLogin(w http.ResponseWriter, r *http.Request) {
	s.loginPrincipal(w, r, model.KindSchoolOwner, "")
}

func (s *Server) handleAdminLogin(w http.ResponseWriter, r *http.Request) {
	s.loginPrincipal(w, r, model.KindAdmin, tenantFromContext(r.Context()))
}

func (s *Server) handleTeacherLogin(w http.ResponseWriter, r *http.Request) {
	s.loginPrincipal(w, r, model.KindTeacher, tenantFromContext(r.Context()))
}

func (s *Server) handleStudentLogin(w http.ResponseWriter, r *http.Request) {
	s.loginPrincipal(w, r, model.KindStudent, tenantFromContext(r.Context()))
}

// Refresh and logout.

type refreshRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	session, err := s.store.GetRefreshSession(r.Context(), crypto.HashToken(req.RefreshToken))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
			return
		}
		s.serverError(w, err, "loading refresh session")
		return
	}
	if session.RevokedAt != nil || session.ExpiresAt.Before(time.Now().UTC()) {
		writeError(w, http.StatusUnauthorized, "refresh_token_expired")
		return
	}

	p, err := s.store.GetPrincipalByID(r.Context(), session.PrincipalID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_refresh_token")
		return
	}
	if !p.Active {
		writeError(w, http.StatusForbidden, "account_deactivated")
		return
	}

	// Rotation: the presented token is spent either way.
	if err := s.store.RevokeRefreshSession(r.Context(), session.ID, time.Now().UTC()); err != nil {
		s.serverError(w, err, "revoking refresh session")
		return
	}

	accessToken, refreshToken, err := s.issueTokens(r.Context(), p)
	if err != nil {
		s.serverError(w, err, "issuing tokens")
		return
	}

	s.setAuthCookie(w, accessToken)
	writeJSON(w, http.StatusOK, authResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Principal:    summarize(p),
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	if err := s.store.RevokeRefreshSessionsByPrincipal(r.Context(), claims.PrincipalID, time.Now().UTC()); err != nil {
		s.serverError(w, err, "revoking refresh sessions")
		return
	}
	s.clearAuthCookie(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Self-service password change, shared by every principal kind.

type changePasswordRequest struct {
	OldPassword string `json:"oldPassword" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req changePasswordRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	p, err := s.store.GetPrincipalByID(r.Context(), claims.PrincipalID)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_token")
		return
	}
	if err := crypto.CheckPassword(p.PasswordHash, req.OldPassword); err != nil {
		writeError(w, http.StatusUnauthorized, "invalid_credentials")
		return
	}

	hash, err := crypto.HashPassword(req.NewPassword)
	if err != nil {
		s.serverError(w, err, "hashing password")
		return
	}
	if err := s.store.UpdatePassword(r.Context(), p.ID, hash); err != nil {
		s.serverError(w, err, "updating password")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
