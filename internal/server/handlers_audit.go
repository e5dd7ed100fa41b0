package server

import (
	"net/http"
	"strconv"

	"github.com/crestfin/ledgercore/internal/models"
)

// handleAuditEvents handles GET /api/audit/events with optional
// entity_type+entity_id, event_type, start, end, and limit filters.
func (s *Server) handleAuditEvents(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query()
	limit := 0
	if v := query.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			WriteError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	start, ok := parseTimeParam(w, r, "start")
	if !ok {
		return
	}
	end, ok := parseTimeParam(w, r, "end")
	if !ok {
		return
	}

	var events []*models.AuditEvent
	var err error
	switch {
	case query.Get("entity_type") != "" && query.Get("entity_id") != "":
		events, err = s.app.Audit.GetEventsForEntity(r.Context(), query.Get("entity_type"), query.Get("entity_id"), limit)
	case query.Get("event_type") != "":
		var eventType models.EventType
		eventType, err = models.ParseEventType(query.Get("event_type"))
		if err == nil {
			events, err = s.app.Audit.GetEventsByType(r.Context(), eventType, start, end, limit)
		}
	default:
		events, err = s.app.Audit.GetAllEvents(r.Context(), start, end, limit)
	}
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"count":  len(events),
	})
}

// handleAuditVerify handles GET /api/audit/verify: a full chain
// verification pass over the visible scope.
func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}
	report, err := s.app.Audit.VerifyIntegrity(r.Context())
	if err != nil {
		WriteDomainError(w, err)
		return
	}
	WriteJSON(w, http.StatusOK, report)
}
