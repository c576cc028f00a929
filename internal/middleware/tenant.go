package middleware

import (
	"net/http"
	"strings"

	"github.com/hearcrm/assistant-svc/internal/tenancy"
)

// Tenant ensures a valid tenant context exists for the request before any
// handler runs. Resolution order: API key, then trusted header.
func Tenant(tm *tenancy.Manager, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		var tenantID string

		// 1. Authorization header (API key)
		authHeader := r.Header.Get("Authorization")
		if strings.HasPrefix(authHeader, "Bearer "+tenancy.KeyPrefix) {
			apiKey := strings.TrimPrefix(authHeader, "Bearer ")
			tenant, err := tm.ValidateAPIKey(apiKey)
			if err != nil {
				http.Error(w, "Invalid API Key", http.StatusUnauthorized)
				return
			}
			tenantID = tenant.ID
		}

		// 2. X-Tenant-ID header. Meant for internal callers behind the
		// gateway; it only selects among declared tenants, never creates.
		if tenantID == "" {
			if reqTenantID := r.Header.Get("X-Tenant-ID"); reqTenantID != "" {
				tenant, err := tm.LoadTenant(reqTenantID)
				if err != nil {
					http.Error(w, "Invalid Tenant ID", http.StatusUnauthorized)
					return
				}
				tenantID = tenant.ID
			}
		}

		// 3. No tenant, no service.
		if tenantID == "" {
			http.Error(w, "Missing Tenant Context (API Key or X-Tenant-ID)", http.StatusUnauthorized)
			return
		}

		ctx = tenancy.WithTenant(ctx, tenantID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
