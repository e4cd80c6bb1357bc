package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/foreman/pkg/audit"
	"github.com/platinummonkey/foreman/pkg/events"
	"github.com/platinummonkey/foreman/pkg/httputil"
	"github.com/platinummonkey/foreman/pkg/observability"
)

// AuditHandlers serves the ADMIN-only audit log query surface.
type AuditHandlers struct {
	store  audit.Store
	logger *observability.Logger
}

// NewAuditHandlers creates the audit handlers.
func NewAuditHandlers(store audit.Store, logger *observability.Logger) *AuditHandlers {
	return &AuditHandlers{store: store, logger: logger}
}

// search handles GET /api/v1/audit.
func (h *AuditHandlers) search(w http.ResponseWriter, r *http.Request) {
	filter := audit.SearchFilter{
		ActorID:    httputil.ParseQueryString(r, "actor_id", ""),
		Action:     events.Action(httputil.ParseQueryString(r, "action", "")),
		EntityType: httputil.ParseQueryString(r, "entity_type", ""),
		EntityID:   httputil.ParseQueryString(r, "entity_id", ""),
	}
	if from, err := time.Parse(time.RFC3339, httputil.ParseQueryString(r, "from", "")); err == nil {
		filter.From = &from
	}
	if to, err := time.Parse(time.RFC3339, httputil.ParseQueryString(r, "to", "")); err == nil {
		filter.To = &to
	}
	filter.Limit, _ = httputil.ParseQueryInt(r, "limit", 0)
	filter.Offset, _ = httputil.ParseQueryInt(r, "offset", 0)

	records, err := h.store.Search(r.Context(), filter)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, records)
}

// get handles GET /api/v1/audit/{id}.
func (h *AuditHandlers) get(w http.ResponseWriter, r *http.Request) {
	record, err := h.store.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	httputil.WriteSuccess(w, record)
}
