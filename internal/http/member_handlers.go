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

func (s *Server) registerMember(w http.ResponseWriter, r *http.Request, kind model.Kind) {
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

	member, _, err := s.store.RegisterMember(r.Context(), model.Principal{
		Kind:         kind,
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
		s.serverError(w, err, "registering member")
		return
	}
	writeJSON(w, http.StatusCreated, summarize(member))
}

// deactivateMember soft-deletes: the row stays, logins and tokens stop
// working, and the username remains reserved within the school.
func (s *Server) deactivateMember(w http.ResponseWriter, r *http.Request, id string, kind model.Kind) {
	member, err := s.tenantPrincipal(r, id, kind)
	if err != nil {
		writeError(w, http.StatusNotFound, "account_not_found")
		return
	}
	if err := s.store.DeactivatePrincipal(r.Context(), member.ID); err != nil {
		s.serverError(w, err, "deactivating member")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deactivated"})
}

func (s *Server) handleTeacherRegister(w http.ResponseWriter, r *http.Request) {
	s.registerMember(w, r, model.KindTeacher)
}

func (s *Server) handleTeacherDelete(w http.ResponseWriter, r *http.Request) {
	s.deactivateMember(w, r, chi.URLParam(r, "teacherId"), model.KindTeacher)
}

func (s *Server) handleStudentRegister(w http.ResponseWriter, r *http.Request) {
	s.registerMember(w, r, model.KindStudent)
}

func (s *Server) handleStudentDelete(w http.ResponseWriter, r *http.Request) {
	s.deactivateMember(w, r, chi.URLParam(r, "studentId"), model.KindStudent)
}

func (s *Server) handleStudentMe(w http.ResponseWriter, r *http.Request) {
	self := selfFromContext(r.Context())
	if self == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}
	writeJSON(w, http.StatusOK, summarize(*self))
}

type studentSelfUpdateRequest struct {
	Name  *string `json:"name"`
	Email *string `json:"email" validate:"omitempty,email"`
}

func (s *Server) handleStudentMeUpdate(w http.ResponseWriter, r *http.Request) {
	self := selfFromContext(r.Context())
	if self == nil {
		writeError(w, http.StatusUnauthorized, "missing_token")
		return
	}

	var req studentSelfUpdateRequest
	if !s.decodeValid(w, r, &req) {
		return
	}
	if req.Email != nil {
		lowered := strings.TrimSpace(strings.ToLower(*req.Email))
		req.Email = &lowered
	}

	updated, err := s.store.UpdatePrincipal(r.Context(), self.ID, repository.PrincipalUpdate{
		Name:  req.Name,
		Email: req.Email,
	})
	if err != nil {
		s.serverError(w, err, "updating student")
		return
	}
	writeJSON(w, http.StatusOK, summarize(updated))
}
