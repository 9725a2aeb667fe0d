package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/School-ERP-Techneat/school-add-sub000/internal/model"
	"github.com/School-ERP-Techneat/school-add-sub000/internal/repository"
)

type schoolRequest struct {
	Name              string `json:"name" validate:"required"`
	Board             string `json:"board"`
	Medium            string `json:"medium"`
	SchoolType        string `json:"schoolType"`
	EstablishmentYear int    `json:"establishmentYear" validate:"omitempty,min=1800,max=2100"`
	Address           string `json:"address"`
}

type schoolResponse struct {
	Code              string `json:"schoolCode"`
	Name              string `json:"name"`
	Board             string `json:"board,omitempty"`
	Medium            string `json:"medium,omitempty"`
	SchoolType        string `json:"schoolType,omitempty"`
	EstablishmentYear int    `json:"establishmentYear,omitempty"`
	Address           string `json:"address,omitempty"`
	CreatedOn         int64  `json:"createdOn"`
	UpdatedOn         int64  `json:"updatedOn"`
}

func toSchoolResponse(sc model.School) schoolResponse {
	return schoolResponse{
		Code:              sc.Code,
		Name:              sc.Name,
		Board:             sc.Board,
		Medium:            sc.Medium,
		SchoolType:        sc.SchoolType,
		EstablishmentYear: sc.EstablishmentYear,
		Address:           sc.Address,
		CreatedOn:         sc.CreatedAt.Unix(),
		UpdatedOn:         sc.UpdatedAt.Unix(),
	}
}

func (s *Server) handleCreateSchool(w http.ResponseWriter, r *http.Request) {
	var req schoolRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	code := tenantFromContext(r.Context())
	now := time.Now().UTC()
	school, err := s.store.CreateSchool(r.Context(), model.School{
		Code:              code,
		Name:              req.Name,
		Board:             req.Board,
		Medium:            req.Medium,
		SchoolType:        req.SchoolType,
		EstablishmentYear: req.EstablishmentYear,
		Address:           req.Address,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			writeError(w, http.StatusBadRequest, "school_exists")
			return
		}
		s.serverError(w, err, "creating school")
		return
	}

	// Re-assert the owner bundles at school creation. The signup flow seeded
	// them already, so every call here is a no-op unless rows went missing;
	// seeding never overwrites existing grants.
	if err := s.seedOwnerGrants(r, code); err != nil {
		s.serverError(w, err, "seeding owner grants")
		return
	}

	writeJSON(w, http.StatusCreated, toSchoolResponse(school))
}

func (s *Server) seedOwnerGrants(r *http.Request, schoolCode string) error {
	for _, name := range []string{model.RoleSuperUser, model.RoleSchoolOwner} {
		role, err := s.store.FindOrCreateRole(r.Context(), name, schoolCode)
		if err != nil {
			return err
		}
		for _, module := range model.SuperUserSeedModules {
			if err := s.store.SeedPermission(r.Context(), role.ID, module, schoolCode, model.AllCapabilities()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Server) handleGetSchool(w http.ResponseWriter, r *http.Request) {
	school, err := s.store.GetSchool(r.Context(), tenantFromContext(r.Context()))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "school_not_found")
			return
		}
		s.serverError(w, err, "loading school")
		return
	}
	writeJSON(w, http.StatusOK, toSchoolResponse(school))
}

type schoolUpdateRequest struct {
	Name              *string `json:"name"`
	Board             *string `json:"board"`
	Medium            *string `json:"medium"`
	SchoolType        *string `json:"schoolType"`
	EstablishmentYear *int    `json:"establishmentYear" validate:"omitempty,min=1800,max=2100"`
	Address           *string `json:"address"`
}

func (s *Server) handleUpdateSchool(w http.ResponseWriter, r *http.Request) {
	var req schoolUpdateRequest
	if !s.decodeValid(w, r, &req) {
		return
	}

	school, err := s.store.UpdateSchool(r.Context(), tenantFromContext(r.Context()), repository.SchoolUpdate{
		Name:              req.Name,
		Board:             req.Board,
		Medium:            req.Medium,
		SchoolType:        req.SchoolType,
		EstablishmentYear: req.EstablishmentYear,
		Address:           req.Address,
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "school_not_found")
			return
		}
		s.serverError(w, err, "updating school")
		return
	}
	writeJSON(w, http.StatusOK, toSchoolResponse(school))
}
