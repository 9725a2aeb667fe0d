package http

import (
	"context"
	"errors"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/School-ERP-Techneat/school-add-sub000/internal/auth"
	"github.com/School-ERP-Techneat/school-add-sub000/internal/model"
	"github.com/School-ERP-Techneat/school-add-sub000/internal/repository"
)

type (
	claimsKey struct{}
	tenantKey struct{}
	selfKey   struct{}
)

func claimsFromContext(ctx context.Context) *auth.Claims {
	value := ctx.Value(claimsKey{})
	claims, _ := value.(*auth.Claims)
	return claims
}

// tenantFromContext returns the trusted school code taken from the URL path.
// It is the only tenant identifier authorization decisions may compare
// against; anything a client placed in a request body is ignored.
func tenantFromContext(ctx context.Context) string {
	value := ctx.Value(tenantKey{})
	code, _ := value.(string)
	return code
}

func selfFromContext(ctx context.Context) *model.Principal {
	value := ctx.Value(selfKey{})
	p, _ := value.(*model.Principal)
	return p
}

// tenantScope copies the {schoolCode} path segment into the request context
// before any validation or handler runs.
func (s *Server) tenantScope(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		code := chi.URLParam(r, "schoolCode")
		if code == "" {
			writeError(w, http.StatusBadRequest, "missing_school_code")
			return
		}
		ctx := context.WithValue(r.Context(), tenantKey{}, code)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate verifies the bearer token (header or accessToken cookie) and
// attaches the decoded claims to the request context.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			if cookie, err := r.Cookie(authCookieName); err == nil {
				token = cookie.Value
			}
		}
		if token == "" {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}

		claims, err := auth.ParseToken(s.cfg.JWTSecret, token)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// verifyAccess is the coarse gate: the caller's role must be one of the named
// roles and must belong to the request's school. The tenant comparison is
// repeated in hasPermission on purpose; the two gates are composed
// independently and neither relies on the other having run.
func (s *Server) verifyAccess(roleNames ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(roleNames))
	for _, name := range roleNames {
		allowed[name] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil || claims.RoleID == "" {
				s.deny(w, "missing_role")
				return
			}

			role, err := s.store.GetRoleByID(r.Context(), claims.RoleID)
			if err != nil {
				if errors.Is(err, repository.ErrNotFound) {
					s.deny(w, "role_not_allowed")
					return
				}
				s.log.WithError(err).WithField("role_id", claims.RoleID).Error("role lookup failed")
				writeError(w, http.StatusInternalServerError, "server_error")
				return
			}
			if !allowed[role.Name] {
				s.deny(w, "role_not_allowed")
				return
			}
			if role.SchoolCode != tenantFromContext(r.Context()) {
				// Indistinguishable from a role denial so tenant existence
				// never leaks to an unauthorized caller.
				s.deny(w, "role_not_allowed")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// hasPermission is the fine gate: the caller's role must hold the named
// capability on the named module within the request's school.
func (s *Server) hasPermission(module model.Module, action model.Action) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := claimsFromContext(r.Context())
			if claims == nil || claims.RoleID == "" {
				s.deny(w, "missing_role")
				return
			}

			tenant := tenantFromContext(r.Context())
			if claims.SchoolCode != tenant {
				s.deny(w, "permission_denied")
				return
			}

			allowed, err := s.checkPermission(r.Context(), claims.RoleID, module, tenant, action)
			if err != nil {
				s.log.WithError(err).WithFields(logrus.Fields{
					"role_id":     claims.RoleID,
					"module":      module,
					"school_code": tenant,
				}).Error("permission lookup failed")
				writeError(w, http.StatusInternalServerError, "server_error")
				return
			}
			if !allowed {
				s.deny(w, "permission_denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// checkPermission consults the redis cache first and falls back to the store.
// Absence of a permission row is cached too, as an all-false capability set.
func (s *Server) checkPermission(ctx context.Context, roleID string, module model.Module, schoolCode string, action model.Action) (bool, error) {
	if caps, ok := s.cache.get(ctx, roleID, module, schoolCode); ok {
		return caps.Allows(action), nil
	}

	perm, err := s.store.GetPermission(ctx, roleID, module, schoolCode)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.cache.set(ctx, roleID, module, schoolCode, model.Capabilities{})
			return false, nil
		}
		return false, err
	}
	s.cache.set(ctx, roleID, module, schoolCode, perm.Capabilities)
	return perm.Allows(action), nil
}

// requireStudentSelf restricts a route to the student the token belongs to
// and stashes the loaded record for the handler.
func (s *Server) requireStudentSelf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims := claimsFromContext(r.Context())
		if claims == nil {
			writeError(w, http.StatusUnauthorized, "missing_token")
			return
		}
		p, err := s.store.GetPrincipalByID(r.Context(), claims.PrincipalID)
		if err != nil {
			s.deny(w, "permission_denied")
			return
		}
		if p.Kind != model.KindStudent || !p.Active || p.SchoolCode != tenantFromContext(r.Context()) {
			s.deny(w, "permission_denied")
			return
		}
		ctx := context.WithValue(r.Context(), selfKey{}, &p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) deny(w http.ResponseWriter, reason string) {
	authzDenials.WithLabelValues(reason).Inc()
	writeError(w, http.StatusUnauthorized, reason)
}

// corsMiddleware restricts cross-origin requests to an explicit allowlist
// with credentials enabled.
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Credentials", "true")
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start).String(),
		}).Info("request")
	})
}

func (s *Server) recoverPanics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.log.WithFields(logrus.Fields{
					"panic": err,
					"stack": string(debug.Stack()),
				}).Error("panic recovered")
				writeError(w, http.StatusInternalServerError, "server_error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
