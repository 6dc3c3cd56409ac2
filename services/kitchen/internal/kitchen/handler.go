package kitchen

import (
	"net/http"
	"strconv"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/fulfillment/pkg/enums/itemstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/ticketstatus"
	"github.com/appetiteclub/fulfillment/pkg/lib/auth"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/pkg/lib/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	aggregator   *Aggregator
	authenticate func(http.Handler) http.Handler
	logger       apt.Logger
	config       *apt.Config
	tlm          *telemetry.HTTP
}

func NewHandler(aggregator *Aggregator, authenticate func(http.Handler) http.Handler, config *apt.Config, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	if authenticate == nil {
		authenticate = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{
		aggregator:   aggregator,
		authenticate: authenticate,
		logger:       logger,
		config:       config,
		tlm:          telemetry.NewHTTP(telemetry.WithTracer(tracing.Tracer{})),
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/tickets", func(r chi.Router) {
		r.Use(h.authenticate)

		r.With(auth.RequireAdmin).Get("/", h.ListTickets)
		r.Get("/{id}", h.GetTicket)
		r.Get("/{id}/items", h.ListItems)
		r.Patch("/{id}/items/{itemID}/status", h.UpdateItemStatus)
		r.Get("/{id}/readiness", h.CheckReadiness)
		r.Patch("/{id}/ready", h.EvaluateReadiness)
		r.Patch("/{id}/complete", h.CompleteTicket)
	})
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

func (h *Handler) ListTickets(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListTickets")
	defer finish()
	log := h.log(r)
	ctx := r.Context()

	filter := TicketFilter{}

	if raw := r.URL.Query().Get("status"); raw != "" {
		status, ok := ticketstatus.ByName(raw)
		if !ok {
			apt.RespondError(w, http.StatusBadRequest, "Invalid status")
			return
		}
		filter.Status = &status
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			apt.RespondError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		filter.Limit = limit
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			apt.RespondError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		filter.Offset = offset
	}

	tickets, err := h.aggregator.ListTickets(ctx, filter)
	if err != nil {
		log.Error("cannot list tickets", "error", err)
		core.RespondErr(w, err, "Could not list tickets")
		return
	}

	apt.Respond(w, http.StatusOK, tickets, map[string]int{"count": len(tickets)})
}

func (h *Handler) GetTicket(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetTicket")
	defer finish()
	log := h.log(r)

	id, ok := h.parseUUID(w, r, "id", log)
	if !ok {
		return
	}

	ticket, err := h.aggregator.GetTicket(r.Context(), id)
	if err != nil {
		log.Debug("cannot get ticket", "id", id.String(), "error", err)
		core.RespondErr(w, err, "Could not get ticket")
		return
	}

	apt.RespondSuccess(w, ticket, linksFor(ticket)...)
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListItems")
	defer finish()
	log := h.log(r)

	id, ok := h.parseUUID(w, r, "id", log)
	if !ok {
		return
	}

	items, err := h.aggregator.ListItems(r.Context(), id)
	if err != nil {
		log.Debug("cannot list items", "id", id.String(), "error", err)
		core.RespondErr(w, err, "Could not list items")
		return
	}

	apt.Respond(w, http.StatusOK, items, map[string]int{"count": len(items)})
}

func (h *Handler) UpdateItemStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateItemStatus")
	defer finish()
	log := h.log(r)

	ticketID, ok := h.parseUUID(w, r, "id", log)
	if !ok {
		return
	}
	itemID, ok := h.parseUUID(w, r, "itemID", log)
	if !ok {
		return
	}

	status, ok := itemstatus.ByName(r.URL.Query().Get("status"))
	if !ok {
		apt.RespondError(w, http.StatusBadRequest, "Invalid or missing status")
		return
	}

	item, err := h.aggregator.UpdateItemStatus(r.Context(), ticketID, itemID, status)
	if err != nil {
		log.Info("cannot update item status", "ticket_id", ticketID.String(), "item_id", itemID.String(), "error", err)
		core.RespondErr(w, err, "Could not update item")
		return
	}

	apt.Respond(w, http.StatusOK, item, nil)
}

func (h *Handler) CheckReadiness(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CheckReadiness")
	defer finish()
	log := h.log(r)

	id, ok := h.parseUUID(w, r, "id", log)
	if !ok {
		return
	}
	target, ok := parseTarget(w, r)
	if !ok {
		return
	}

	readiness, err := h.aggregator.CheckReadiness(r.Context(), id, target)
	if err != nil {
		log.Debug("cannot check readiness", "id", id.String(), "error", err)
		core.RespondErr(w, err, "Could not check readiness")
		return
	}

	apt.Respond(w, http.StatusOK, readiness, nil)
}

func (h *Handler) EvaluateReadiness(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.EvaluateReadiness")
	defer finish()
	log := h.log(r)

	id, ok := h.parseUUID(w, r, "id", log)
	if !ok {
		return
	}
	target, ok := parseTarget(w, r)
	if !ok {
		return
	}

	readiness, err := h.aggregator.EvaluateTicketReadiness(r.Context(), id, target)
	if err != nil {
		log.Info("cannot evaluate readiness", "id", id.String(), "error", err)
		core.RespondErr(w, err, "Could not evaluate readiness")
		return
	}

	apt.Respond(w, http.StatusOK, readiness, nil)
}

func (h *Handler) CompleteTicket(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CompleteTicket")
	defer finish()
	log := h.log(r)

	id, ok := h.parseUUID(w, r, "id", log)
	if !ok {
		return
	}

	ticket, err := h.aggregator.CompleteTicket(r.Context(), id)
	if err != nil {
		log.Info("cannot complete ticket", "id", id.String(), "error", err)
		core.RespondErr(w, err, "Could not complete ticket")
		return
	}

	apt.RespondSuccess(w, ticket, linksFor(ticket)...)
}

func (h *Handler) parseUUID(w http.ResponseWriter, r *http.Request, param string, log apt.Logger) (uuid.UUID, bool) {
	raw := chi.URLParam(r, param)
	id, err := uuid.Parse(raw)
	if err != nil {
		log.Debug("invalid id", "param", param, "value", raw)
		apt.RespondError(w, http.StatusBadRequest, "Invalid "+param)
		return uuid.Nil, false
	}
	return id, true
}

// parseTarget defaults to READY when absent.
func parseTarget(w http.ResponseWriter, r *http.Request) (itemstatus.Status, bool) {
	raw := r.URL.Query().Get("target")
	if raw == "" {
		return itemstatus.Statuses.Ready, true
	}
	target, ok := itemstatus.ByName(raw)
	if !ok {
		apt.RespondError(w, http.StatusBadRequest, "Invalid target status")
		return itemstatus.Status{}, false
	}
	return target, true
}

func linksFor(t *Ticket) []apt.Link {
	return apt.NewLinkBuilder().
		AddRESTfulLinks(t).
		Custom("items", "/tickets/"+t.GetID().String()+"/items").
		Build()
}
