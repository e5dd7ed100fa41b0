package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/interfaces"
)

// responseWriter wraps http.ResponseWriter to capture status code and bytes written.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += n
	return n, err
}

// recoveryMiddleware catches panics and returns 500.
func recoveryMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error().
						Str("panic", fmt.Sprintf("%v", rec)).
						Str("path", r.URL.Path).
						Msg("Panic recovered in HTTP handler")
					WriteError(w, http.StatusInternalServerError, "Internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// corsMiddleware adds CORS headers for hosted back-office UIs.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID, X-Correlation-ID, X-Tenant-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// correlationIDMiddleware extracts or generates a correlation ID.
func correlationIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corrID := r.Header.Get("X-Request-ID")
		if corrID == "" {
			corrID = r.Header.Get("X-Correlation-ID")
		}
		if corrID == "" {
			corrID = uuid.New().String()[:8]
		}
		w.Header().Set("X-Correlation-ID", corrID)
		next.ServeHTTP(w, r)
	})
}

// loggingMiddleware logs HTTP requests.
func loggingMiddleware(logger *common.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			dur := time.Since(start)
			corrID := w.Header().Get("X-Correlation-ID")

			event := logger.Trace()
			if rw.statusCode >= 500 {
				event = logger.Error()
			} else if rw.statusCode >= 400 {
				event = logger.Info()
			}

			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", rw.statusCode).
				Int("bytes", rw.bytesWritten).
				Dur("duration", dur).
				Str("correlation_id", corrID).
				Msg("HTTP request")
		})
	}
}

// tenantMiddleware resolves the tenant scope for a request and stores it in
// the context. Resolution precedence:
//  1. X-Tenant-ID header, matched against the tenant id exactly
//  2. request subdomain, matched against the tenant code case-insensitively
//  3. a tenant_id claim in a bearer token
//
// An unresolved request proceeds as super-admin with no tenant scope.
// A resolved but deactivated tenant is rejected.
func tenantMiddleware(logger *common.Logger, config *common.Config, tenants interfaces.TenantRegistry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID, err := resolveTenant(r, config, tenants)
			if err != nil {
				WriteDomainError(w, err)
				return
			}
			if tenantID != "" {
				r = r.WithContext(common.WithTenant(r.Context(), tenantID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func resolveTenant(r *http.Request, config *common.Config, tenants interfaces.TenantRegistry) (string, error) {
	ctx := r.Context()

	if headerID := strings.TrimSpace(r.Header.Get("X-Tenant-ID")); headerID != "" {
		tenant, err := tenants.GetByID(ctx, headerID)
		if err != nil {
			return "", err
		}
		if !tenant.IsActive {
			return "", common.E(common.KindTenantViolation, "tenant %s is deactivated", tenant.Code)
		}
		return tenant.ID, nil
	}

	if code := subdomain(r.Host); code != "" {
		tenant, err := tenants.GetByCode(ctx, code)
		if err == nil {
			if !tenant.IsActive {
				return "", common.E(common.KindTenantViolation, "tenant %s is deactivated", tenant.Code)
			}
			return tenant.ID, nil
		}
		if !common.IsKind(err, common.KindNotFound) {
			return "", err
		}
		// An unregistered subdomain falls through to the token claim.
	}

	if claimID := tenantClaim(r, config); claimID != "" {
		tenant, err := tenants.GetByID(ctx, claimID)
		if err != nil {
			return "", err
		}
		if !tenant.IsActive {
			return "", common.E(common.KindTenantViolation, "tenant %s is deactivated", tenant.Code)
		}
		return tenant.ID, nil
	}

	return "", nil
}

// subdomain extracts the left-most host label, or "" when the host has no
// subdomain (bare domains, localhost, IP addresses).
func subdomain(host string) string {
	if idx := strings.Index(host, ":"); idx >= 0 {
		host = host[:idx]
	}
	parts := strings.Split(host, ".")
	if len(parts) < 3 {
		return ""
	}
	for _, p := range parts {
		if p == "" {
			return ""
		}
	}
	// IP addresses have no subdomain.
	for _, c := range host {
		if (c < '0' || c > '9') && c != '.' {
			return parts[0]
		}
	}
	return ""
}

// tenantClaim extracts a tenant_id claim from a bearer token, returning ""
// when the header is absent or the token does not verify.
func tenantClaim(r *http.Request, config *common.Config) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return ""
	}
	if config.Auth.JWTSecret == "" {
		return ""
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(config.Auth.JWTSecret), nil
	})
	if err != nil || !token.Valid {
		return ""
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return ""
	}
	tenantID, _ := claims["tenant_id"].(string)
	return tenantID
}

// applyMiddleware wraps the mux in the standard middleware chain.
func applyMiddleware(mux http.Handler, logger *common.Logger, config *common.Config, tenants interfaces.TenantRegistry) http.Handler {
	handler := tenantMiddleware(logger, config, tenants)(mux)
	handler = loggingMiddleware(logger)(handler)
	handler = correlationIDMiddleware(handler)
	handler = corsMiddleware(handler)
	handler = recoveryMiddleware(logger)(handler)
	return handler
}
