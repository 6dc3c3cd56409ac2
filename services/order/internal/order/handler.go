package order

import (
	"net/http"
	"strconv"
	"time"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/fulfillment/pkg/enums/orderstatus"
	"github.com/appetiteclub/fulfillment/pkg/enums/paymentstatus"
	"github.com/appetiteclub/fulfillment/pkg/lib/auth"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/pkg/lib/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type Handler struct {
	logger       apt.Logger
	config       *apt.Config
	tlm          *telemetry.HTTP
	workflow     *Workflow
	authenticate func(http.Handler) http.Handler
}

type HandlerDeps struct {
	Workflow *Workflow
	// Authenticate resolves the caller into an auth.Principal on the request
	// context. Usually auth.Authenticator.Middleware.
	Authenticate func(http.Handler) http.Handler
}

type createOrderRequest struct {
	Lines []LineInput `json:"lines"`
	DeliveryInfo
}

func NewHandler(hd HandlerDeps, config *apt.Config, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	authenticate := hd.Authenticate
	if authenticate == nil {
		authenticate = func(next http.Handler) http.Handler { return next }
	}

	return &Handler{
		config:       config,
		logger:       logger,
		tlm:          telemetry.NewHTTP(telemetry.WithTracer(tracing.Tracer{})),
		workflow:     hd.Workflow,
		authenticate: authenticate,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Use(h.authenticate)

		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/paginated", h.PageOrders)
		r.Get("/count", h.CountOrders)
		r.Get("/by-date-range", h.ListOrdersByDateRange)
		r.With(auth.RequireAdmin).Get("/admin/by-status", h.ListOrdersByStatus)

		r.Get("/{id}", h.GetOrder)
		r.Put("/{id}/status", h.UpdateOrderStatus)
		r.Put("/{id}/payment-status", h.UpdatePaymentStatus)
		r.Delete("/{id}", h.CancelOrder)
	})
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateOrder")
	defer finish()

	log := h.log(r)
	ctx := r.Context()

	var req createOrderRequest
	if err := core.DecodeJSON(r, &req); err != nil {
		log.Debug("cannot decode create order request", "error", err)
		core.RespondErr(w, err, "Could not create order")
		return
	}

	order, err := h.workflow.CreateOrder(ctx, principal(r), req.Lines, req.DeliveryInfo)
	if err != nil {
		log.Info("cannot create order", "error", err)
		core.RespondErr(w, err, "Could not create order")
		return
	}

	core.RespondCreated(w, order, linksFor(order)...)
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	order, err := h.workflow.GetOrder(r.Context(), principal(r), id)
	if err != nil {
		log.Debug("cannot get order", "id", id.String(), "error", err)
		core.RespondErr(w, err, "Could not get order")
		return
	}

	apt.RespondSuccess(w, order, linksFor(order)...)
}

func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrders")
	defer finish()

	log := h.log(r)

	orders, err := h.workflow.ListOrders(r.Context(), principal(r))
	if err != nil {
		log.Error("cannot list orders", "error", err)
		core.RespondErr(w, err, "Could not list orders")
		return
	}

	apt.Respond(w, http.StatusOK, orders, map[string]int{"count": len(orders)})
}

func (h *Handler) PageOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.PageOrders")
	defer finish()

	log := h.log(r)

	page, err := parsePage(r)
	if err != nil {
		core.RespondErr(w, err, "Could not page orders")
		return
	}

	result, err := h.workflow.PageOrders(r.Context(), principal(r), page)
	if err != nil {
		log.Error("cannot page orders", "error", err)
		core.RespondErr(w, err, "Could not page orders")
		return
	}

	meta := map[string]interface{}{
		"page":        result.Page,
		"size":        result.Size,
		"total":       result.Total,
		"total_pages": result.TotalPages,
	}
	apt.Respond(w, http.StatusOK, result.Orders, meta)
}

func (h *Handler) CountOrders(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CountOrders")
	defer finish()

	log := h.log(r)

	status, ok := orderstatus.ByName(r.URL.Query().Get("status"))
	if !ok {
		apt.RespondError(w, http.StatusBadRequest, "invalid or missing status")
		return
	}

	n, err := h.workflow.CountOrders(r.Context(), principal(r), status)
	if err != nil {
		log.Error("cannot count orders", "status", status.Code(), "error", err)
		core.RespondErr(w, err, "Could not count orders")
		return
	}

	apt.Respond(w, http.StatusOK, map[string]interface{}{"status": status.Code(), "count": n}, nil)
}

func (h *Handler) ListOrdersByDateRange(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrdersByDateRange")
	defer finish()

	log := h.log(r)

	from, err := parseTime(r.URL.Query().Get("from"))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "invalid from: "+err.Error())
		return
	}
	to, err := parseTime(r.URL.Query().Get("to"))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "invalid to: "+err.Error())
		return
	}

	orders, err := h.workflow.ListOrdersBetween(r.Context(), principal(r), from, to)
	if err != nil {
		log.Debug("cannot list orders by date range", "error", err)
		core.RespondErr(w, err, "Could not list orders")
		return
	}

	apt.Respond(w, http.StatusOK, orders, map[string]int{"count": len(orders)})
}

func (h *Handler) ListOrdersByStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.ListOrdersByStatus")
	defer finish()

	log := h.log(r)

	status, ok := orderstatus.ByName(r.URL.Query().Get("status"))
	if !ok {
		apt.RespondError(w, http.StatusBadRequest, "invalid or missing status")
		return
	}

	orders, err := h.workflow.ListByStatus(r.Context(), principal(r), status)
	if err != nil {
		log.Error("cannot list orders by status", "status", status.Code(), "error", err)
		core.RespondErr(w, err, "Could not list orders")
		return
	}

	apt.Respond(w, http.StatusOK, orders, map[string]int{"count": len(orders)})
}

func (h *Handler) UpdateOrderStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdateOrderStatus")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	status, ok := orderstatus.ByName(r.URL.Query().Get("status"))
	if !ok {
		apt.RespondError(w, http.StatusBadRequest, "invalid or missing status")
		return
	}

	order, err := h.workflow.ForceOrderStatus(r.Context(), principal(r), id, status)
	if err != nil {
		log.Info("cannot update order status", "id", id.String(), "status", status.Code(), "error", err)
		core.RespondErr(w, err, "Could not update order")
		return
	}

	apt.RespondSuccess(w, order, linksFor(order)...)
}

func (h *Handler) UpdatePaymentStatus(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.UpdatePaymentStatus")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	payment, ok := paymentstatus.ByName(r.URL.Query().Get("paymentStatus"))
	if !ok {
		apt.RespondError(w, http.StatusBadRequest, "invalid or missing paymentStatus")
		return
	}

	order, err := h.workflow.UpdatePaymentStatus(r.Context(), principal(r), id, payment)
	if err != nil {
		log.Info("cannot update payment status", "id", id.String(), "payment_status", payment.Code(), "error", err)
		core.RespondErr(w, err, "Could not update order")
		return
	}

	apt.RespondSuccess(w, order, linksFor(order)...)
}

func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CancelOrder")
	defer finish()

	log := h.log(r)

	id, ok := h.parseIDParam(w, r, log)
	if !ok {
		return
	}

	if _, err := h.workflow.CancelOrder(r.Context(), principal(r), id); err != nil {
		log.Info("cannot cancel order", "id", id.String(), "error", err)
		core.RespondErr(w, err, "Could not cancel order")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) parseIDParam(w http.ResponseWriter, r *http.Request, log apt.Logger) (uuid.UUID, bool) {
	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		log.Debug("invalid order id", "id", raw)
		apt.RespondError(w, http.StatusBadRequest, "Invalid order ID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

func linksFor(o *Order) []apt.Link {
	return apt.NewLinkBuilder().
		AddRESTfulLinks(o).
		Custom("payment-status", "/orders/"+o.GetID().String()+"/payment-status").
		Build()
}

func parsePage(r *http.Request) (Page, error) {
	q := r.URL.Query()
	page := Page{Number: 0, Size: defaultPageSize}
	if raw := q.Get("page"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return Page{}, core.ErrValidationf("invalid page %q", raw)
		}
		page.Number = n
	}
	if raw := q.Get("size"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return Page{}, core.ErrValidationf("invalid size %q", raw)
		}
		page.Size = n
	}
	return page, nil
}

// parseTime accepts RFC 3339 timestamps and bare ISO dates.
func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, core.ErrValidationf("value is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, core.ErrValidationf("unsupported time format %q", raw)
	}
	return t.UTC(), nil
}
