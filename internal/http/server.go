package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/School-ERP-Techneat/school-add-sub000/internal/config"
	"github.com/School-ERP-Techneat/school-add-sub000/internal/model"
	"github.com/School-ERP-Techneat/school-add-sub000/internal/repository"
)

type Server struct {
	cfg      config.Config
	store    repository.Store
	cache    *permissionCache
	log      *logrus.Logger
	validate *validator.Validate
}

func NewServer(cfg config.Config, store repository.Store, redisClient *redis.Client, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.New()
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		cache:    newPermissionCache(redisClient, cfg.PermissionCacheTTL),
		log:      logger,
		validate: validator.New(),
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(s.recoverPanics)
	r.Use(s.requestLogger)
	r.Use(corsMiddleware(s.cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/school-owner", func(r chi.Router) {
			r.Post("/signup", s.handleOwnerSignup)
			r.Post("/login", s.handleOwnerLogin)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Post("/refresh", s.handleRefresh)
			r.With(s.authenticate).Post("/logout", s.handleLogout)
		})

		r.Route("/school/{schoolCode}", func(r chi.Router) {
			r.Use(s.tenantScope, s.authenticate)
			r.With(s.verifyAccess(model.RoleSchoolOwner)).Post("/", s.handleCreateSchool)
			r.With(s.verifyAccess(model.RoleSchoolOwner, model.RoleAdmin)).Get("/", s.handleGetSchool)
			r.With(s.verifyAccess(model.RoleSchoolOwner, model.RoleAdmin)).Put("/", s.handleUpdateSchool)
		})

		r.Route("/admin/{schoolCode}", func(r chi.Router) {
			r.Use(s.tenantScope)
			r.Post("/login", s.handleAdminLogin)
			r.Group(func(r chi.Router) {
				r.Use(s.authenticate)
				r.With(s.verifyAccess(model.RoleSchoolOwner)).Post("/register", s.handleAdminRegister)
				r.With(s.verifyAccess(model.RoleSchoolOwner)).Put("/account/{adminId}", s.handleAdminUpdate)
				r.With(s.verifyAccess(model.RoleSchoolOwner)).Delete("/account/{adminId}", s.handleAdminDelete)
				r.With(s.verifyAccess(model.RoleSchoolOwner, model.RoleAdmin)).Put("/account", s.handleAdminUpdateSelf)
				r.Put("/change-password", s.handleChangePassword)
			})
		})

		r.Route("/teacher/{schoolCode}", func(r chi.Router) {
			r.Use(s.tenantScope)
			r.Post("/login", s.handleTeacherLogin)
			r.Group(func(r chi.Router) {
				r.Use(s.authenticate)
				r.With(s.hasPermission(model.ModuleTeacher, model.ActionCreate)).Post("/register", s.handleTeacherRegister)
				r.With(s.hasPermission(model.ModuleTeacher, model.ActionDelete)).Delete("/{teacherId}", s.handleTeacherDelete)
			})
		})

		r.Route("/student/{schoolCode}", func(r chi.Router) {
			r.Use(s.tenantScope)
			r.Post("/login", s.handleStudentLogin)
			r.Group(func(r chi.Router) {
				r.Use(s.authenticate)
				r.With(s.hasPermission(model.ModuleStudent, model.ActionCreate)).Post("/register", s.handleStudentRegister)
				r.With(s.hasPermission(model.ModuleStudentDetails, model.ActionRead), s.requireStudentSelf).Get("/me", s.handleStudentMe)
				r.With(s.hasPermission(model.ModuleStudentDetails, model.ActionUpdate), s.requireStudentSelf).Patch("/me", s.handleStudentMeUpdate)
				r.With(s.hasPermission(model.ModuleStudent, model.ActionDelete)).Delete("/{studentId}", s.handleStudentDelete)
			})
		})

		r.Route("/permission/{schoolCode}", func(r chi.Router) {
			r.Use(s.tenantScope, s.authenticate, s.verifyAccess(model.RoleSchoolOwner, model.RoleAdmin))
			r.Post("/", s.handleCreateGrant)
			r.Get("/{roleId}", s.handleListGrants)
		})

		r.Route("/attendance/{schoolCode}", func(r chi.Router) {
			r.Use(s.tenantScope, s.authenticate)
			r.With(s.verifyAccess(model.RoleTeacher)).Post("/", s.handleRecordAttendance)
			r.With(s.verifyAccess(model.RoleTeacher, model.RoleAdmin)).Get("/student/{studentId}", s.handleListAttendance)
		})
	})

	return r
}

// helpers

func decodeJSON(r *http.Request, out interface{}) error {
	// Unknown body fields are deliberately ignored: a client-supplied
	// schoolCode in the body must never shadow the trusted path segment.
	return json.NewDecoder(r.Body).Decode(out)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

// decodeValid binds the JSON body and applies struct-tag validation,
// answering with a per-field 400 when the payload is malformed. Returns false
// when a response was already written.
func (s *Server) decodeValid(w http.ResponseWriter, r *http.Request, out interface{}) bool {
	if err := decodeJSON(r, out); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request")
		return false
	}
	if err := s.validate.Struct(out); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make(map[string]string, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields[strings.ToLower(fe.Field())] = fe.Tag()
			}
			writeJSON(w, http.StatusBadRequest, map[string]interface{}{
				"error":  "validation_failed",
				"fields": fields,
			})
			return false
		}
		writeError(w, http.StatusBadRequest, "validation_failed")
		return false
	}
	return true
}
