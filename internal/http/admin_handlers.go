package http

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/School-ERP-Techneat/school-add-sub000/internal/crypto"
	"github.com/School-ERP-Techneat/school-add-sub000/internal/model"
	"github.com/School-ERP-Techneat/school-add-sub000/internal/repository"
)

type registerRequest struct {
	Username string `json:"username" validate:"required,min=4"`
	Password string `json:"password" validate:"required,min=8"`
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
}

func (req *registerRequest) normalize() {
	req.Username = strings.TrimSpace(strings.ToLower(req.Username))
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
}

func (s *Server) handleAdminRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	req.normalize()

	hash, err := crypto.HashPassword(req.Password)
	if err != nil {
		s.serverError(w, err, "hashing password")
		return
	}

	admin, _, err := s.store.RegisterAdmin(r.Context(), model.Principal{
		Kind:         model.KindAdmin,
		SchoolCode:   tenantFromContext(r.Context()),
		Username:     req.Username,
		Name:         req.Name,
		Email:        req.Email,
		PasswordHash: hash,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			writeError(w, http.StatusBadRequest, "username_taken")
			return
		}
		s.serverError(w, err, "registering admin")
		return
	}
	writeJSON(w, http.StatusCreated, summarize(admin))
}

// tenantPrincipal loads a principal by id and checks it is an active record
// of the given kind within the request's school. Anything else reads as not
// found; ids from other schools must be indistinguishable from absent ones.
func (s *Server) tenantPrincipal(r *http.Request, id string, kind model.Kind) (model.Principal, error) {
	p, err := s.store.GetPrincipalByID(r.Context(), id)
	if err != nil {
		return model.Principal{}, err
	}
	if p.Kind != kind || p.SchoolCode != tenantFromContext(r.Context()) {
		return model.Principal{}, repository.ErrNotFound
	}
	return p, nil
}

type principalUpdateRequest struct {
	Name     *string `json:"name"`
	Email    *string `json:"email" validate:"omitempty,email"`
	Username *string `json:"username" validate:"omitempty,min=4"`
}

func (s *Server) updatePrincipalByID(w http.ResponseWriter, r *http.Request, id string) {
	var req principalUpdateRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	if req.Username != nil {
		lowered := strings.TrimSpace(strings.ToLower(*req.Username))
		req.Username = &lowered
	}

	p, err := s.store.UpdatePrincipal(r.Context(), id, repository.PrincipalUpdate{
		Name:     req.Name,
		Email:    req.Email,
		Username: req.Username,
	})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrNotFound):
			writeError(w, http.StatusNotFound, "account_not_found")
		case errors.Is(err, repository.ErrDuplicate):
			writeError(w, http.StatusBadRequest, "username_taken")
		default:
			s.serverError(w, err, "updating principal")
		}
		return
	}
	writeJSON(w, http.StatusOK, summarize(p))
}

func (s *Server) handleAdminUpdate(w http.ResponseWriter, r *http.Request) {
	if _, err := s.tenantPrincipal(r, chi.URLParam(r, "adminId"), model.KindAdmin); err != nil {
		writeError(w, http.StatusNotFound, "account_not_found")
		return
	}
	s.updatePrincipalByID(w, r, chi.URLParam(r, "adminId"))
}

func (s *Server) handleAdminUpdateSelf(w http.ResponseWriter, r *http.Request) {
	claims := claimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	s.updatePrincipalByID(w, r, claims.PrincipalID)
}

func (s *Server) handleAdminDelete(w http.ResponseWriter, r *http.Request) {
	admin, err := s.tenantPrincipal(r, chi.URLParam(r, "adminId"), model.KindAdmin)
	if err != nil {
		writeError(w, http.StatusNotFound, "account_not_found")
		return
	}
	if err := s.store.DeletePrincipal(r.Context(), admin.ID); err != nil {
		s.serverError(w, err, "deleting admin")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
