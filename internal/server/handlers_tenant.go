package server

import (
	"net/http"
	"strings"

	"github.com/crestfin/ledgercore/internal/common"
	"github.com/crestfin/ledgercore/internal/models"
)

// requireSuperAdmin rejects tenant-scoped requests to the directory
// surface. A tenant must not enumerate or modify other tenants.
func (s *Server) requireSuperAdmin(w http.ResponseWriter, r *http.Request) bool {
	if common.HasTenant(r.Context()) {
		WriteError(w, http.StatusForbidden, "Tenant directory requires super-admin scope")
		return false
	}
	return true
}

// handleTenants handles /api/tenants: POST creates, GET lists.
func (s *Server) handleTenants(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPost) {
		return
	}
	if !s.requireSuperAdmin(w, r) {
		return
	}

	if r.Method == http.MethodGet {
		tenants, err := s.app.Tenants.List(r.Context())
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"tenants": tenants,
			"count":   len(tenants),
		})
		return
	}

	var req models.Tenant
	if !DecodeJSON(w, r, &req) {
		return
	}
	tenant, err := s.app.Tenants.Create(r.Context(), &req)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusCreated, tenant)
}

// routeTenants dispatches /api/tenants/{id} and its activation toggles.
func (s *Server) routeTenants(w http.ResponseWriter, r *http.Request) {
	if !s.requireSuperAdmin(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/tenants/")
	switch {
	case strings.HasSuffix(rest, "/activate"):
		s.handleTenantSetActive(w, r, strings.TrimSuffix(rest, "/activate"), true)
	case strings.HasSuffix(rest, "/deactivate"):
		s.handleTenantSetActive(w, r, strings.TrimSuffix(rest, "/deactivate"), false)
	default:
		s.handleTenantByID(w, r, rest)
	}
}

func (s *Server) handleTenantByID(w http.ResponseWriter, r *http.Request, id string) {
	if !RequireMethod(w, r, http.MethodGet, http.MethodPut) {
		return
	}

	if r.Method == http.MethodGet {
		tenant, err := s.app.Tenants.GetByID(r.Context(), id)
		if err != nil {
			WriteDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, tenant)
		return
	}

	var req models.Tenant
	if !DecodeJSON(w, r, &req) {
		return
	}
	req.ID = id
	tenant, err := s.app.Tenants.Update(r.Context(), &req)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tenant)
}

func (s *Server) handleTenantSetActive(w http.ResponseWriter, r *http.Request, id string, active bool) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	tenant, err := s.app.Tenants.SetActive(r.Context(), id, active)
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, tenant)
}
