package payment

import (
	"io"
	"net/http"

	"github.com/appetiteclub/apt"
	"github.com/appetiteclub/apt/telemetry"
	"github.com/appetiteclub/fulfillment/pkg/lib/auth"
	"github.com/appetiteclub/fulfillment/pkg/lib/core"
	"github.com/appetiteclub/fulfillment/pkg/lib/tracing"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const SignatureHeader = "X-Razorpay-Signature"

type Handler struct {
	logger       apt.Logger
	tlm          *telemetry.HTTP
	reconciler   *Reconciler
	authenticate func(http.Handler) http.Handler
}

type HandlerDeps struct {
	Reconciler   *Reconciler
	Authenticate func(http.Handler) http.Handler
}

func NewHandler(hd HandlerDeps, logger apt.Logger) *Handler {
	if logger == nil {
		logger = apt.NewNoopLogger()
	}
	authenticate := hd.Authenticate
	if authenticate == nil {
		authenticate = func(next http.Handler) http.Handler { return next }
	}

	return &Handler{
		logger:       logger,
		tlm:          telemetry.NewHTTP(telemetry.WithTracer(tracing.Tracer{})),
		reconciler:   hd.Reconciler,
		authenticate: authenticate,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/payments", func(r chi.Router) {
		// The gateway signs webhooks; there is no bearer token to check.
		r.Post("/webhook", h.Webhook)

		r.Group(func(r chi.Router) {
			r.Use(h.authenticate)

			r.Post("/intents", h.CreateIntent)
			r.Post("/verify", h.Verify)
			r.Get("/{id}", h.GetPayment)
		})
	})
}

func (h *Handler) CreateIntent(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.CreateIntent")
	defer finish()

	log := h.log(r)

	var req IntentRequest
	if err := core.DecodeJSON(r, &req); err != nil {
		core.RespondErr(w, err, "Could not create payment")
		return
	}

	pay, err := h.reconciler.CreateIntent(r.Context(), principal(r), req)
	if err != nil {
		log.Info("cannot create payment intent", "order_id", req.OrderID, "error", err)
		core.RespondErr(w, err, "Could not create payment")
		return
	}

	core.RespondCreated(w, pay, linksFor(pay)...)
}

func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Verify")
	defer finish()

	log := h.log(r)

	var req VerifyRequest
	if err := core.DecodeJSON(r, &req); err != nil {
		core.RespondErr(w, err, "Could not verify payment")
		return
	}

	pay, err := h.reconciler.VerifyPayment(r.Context(), principal(r), req)
	if err != nil {
		log.Info("cannot verify payment", "provider_order_id", req.ProviderOrderID, "error", err)
		core.RespondErr(w, err, "Could not verify payment")
		return
	}

	apt.RespondSuccess(w, pay, linksFor(pay)...)
}

func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.Webhook")
	defer finish()

	log := h.log(r)

	payload, err := io.ReadAll(io.LimitReader(r.Body, core.MaxBodyBytes))
	if err != nil {
		apt.RespondError(w, http.StatusBadRequest, "Could not read webhook")
		return
	}

	if err := h.reconciler.HandleWebhook(r.Context(), payload, r.Header.Get(SignatureHeader)); err != nil {
		log.Info("cannot apply webhook", "error", err)
		core.RespondErr(w, err, "Could not apply webhook")
		return
	}

	apt.Respond(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
}

func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	w, r, finish := h.tlm.Start(w, r, "Handler.GetPayment")
	defer finish()

	log := h.log(r)

	raw := chi.URLParam(r, "id")
	id, err := uuid.Parse(raw)
	if err != nil {
		log.Debug("invalid payment id", "id", raw)
		apt.RespondError(w, http.StatusBadRequest, "Invalid payment ID")
		return
	}

	pay, err := h.reconciler.GetPayment(r.Context(), principal(r), id)
	if err != nil {
		log.Debug("cannot get payment", "id", raw, "error", err)
		core.RespondErr(w, err, "Could not get payment")
		return
	}

	apt.RespondSuccess(w, pay, linksFor(pay)...)
}

func (h *Handler) log(r *http.Request) apt.Logger {
	return h.logger.With("request_id", apt.RequestIDFrom(r.Context()))
}

func principal(r *http.Request) auth.Principal {
	p, _ := auth.PrincipalFrom(r.Context())
	return p
}

func linksFor(p *Payment) []apt.Link {
	return apt.NewLinkBuilder().
		AddRESTfulLinks(p).
		Custom("order", "/orders/"+p.OrderID).
		Build()
}
