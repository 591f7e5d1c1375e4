package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"qms/frontdesk-service/internal/audit"
	"qms/frontdesk-service/internal/logging"
	"qms/frontdesk-service/internal/models"
	"qms/frontdesk-service/internal/store"
)

type authContextKey struct{}

// StaffDirectory resolves the staff member behind a request credential.
type StaffDirectory interface {
	GetStaff(ctx context.Context, id string) (models.Staff, error)
}

// AuthMiddleware attaches the calling staff member to the request context.
// Public endpoints pass through anonymously when no valid credential is sent.
func AuthMiddleware(staff StaffDirectory, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		public := isPublicEndpoint(r)
		staffID := staffIDFromRequest(r)
		if staffID == "" {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing staff credentials")
			return
		}

		member, err := staff.GetStaff(r.Context(), staffID)
		if err != nil {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "unknown staff member")
				return
			}
			logging.FromContext(r.Context()).Error().Err(err).Msg("staff lookup failed")
			writeError(w, http.StatusInternalServerError, "internal_error", "staff lookup failed")
			return
		}
		if !member.Active {
			if public {
				next.ServeHTTP(w, r)
				return
			}
			writeError(w, http.StatusForbidden, "access_denied", "staff account is disabled")
			return
		}

		ctx := context.WithValue(r.Context(), authContextKey{}, member)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func staffFromContext(ctx context.Context) (models.Staff, bool) {
	member, ok := ctx.Value(authContextKey{}).(models.Staff)
	return member, ok
}

// actorFromRequest builds the audit identity of the caller. Anonymous
// callers are attributed to publicName.
func actorFromRequest(r *http.Request, publicName string) audit.Actor {
	member, ok := staffFromContext(r.Context())
	if !ok {
		return audit.Public(publicName, clientIP(r))
	}
	return audit.Actor{
		StaffID:   member.ID,
		FullName:  member.FullName,
		Role:      member.Role,
		IPAddress: clientIP(r),
	}
}

func requireStaff(w http.ResponseWriter, r *http.Request) bool {
	if _, ok := staffFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing staff credentials")
		return false
	}
	return true
}

func requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	member, ok := staffFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing staff credentials")
		return false
	}
	if member.Role != models.RoleAdmin {
		writeError(w, http.StatusForbidden, "access_denied", "admin role required")
		return false
	}
	return true
}

func staffIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get("X-Staff-ID"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	case "/api/appointments":
		return r.Method == http.MethodPost
	case "/api/queue":
		return r.Method == http.MethodGet && r.URL.Query().Get("view") != viewAdmin
	default:
		return r.Method == http.MethodOptions
	}
}
