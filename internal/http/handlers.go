package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ticketforge/event-payments/internal/config"
	"github.com/ticketforge/event-payments/internal/domain"
	"github.com/ticketforge/event-payments/internal/idempotency"
	"github.com/ticketforge/event-payments/internal/issuer"
	"github.com/ticketforge/event-payments/internal/observability"
	"github.com/ticketforge/event-payments/internal/payments"
	"github.com/ticketforge/event-payments/internal/reconciler"
)

// WebhookVerifier checks a raw payload's signature before anything parses it.
type WebhookVerifier interface {
	VerifyEvent(payload []byte, sigHeader string) (domain.GatewayEvent, error)
}

type Handlers struct {
	cfg        *config.Config
	orch       *payments.Orchestrator
	issuer     *issuer.Issuer
	reconciler *reconciler.Reconciler
	verifier   WebhookVerifier
	idemp      *idempotency.Idempotency
	logger     observability.Logger
}

func NewHandlers(cfg *config.Config, orch *payments.Orchestrator, iss *issuer.Issuer, rec *reconciler.Reconciler, verifier WebhookVerifier, idemp *idempotency.Idempotency, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:        cfg,
		orch:       orch,
		issuer:     iss,
		reconciler: rec,
		verifier:   verifier,
		idemp:      idemp,
		logger:     logger,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) []byte {
	data, _ := json.Marshal(v)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	return data
}

// writeDomainError maps the error taxonomy onto status codes. The gateway
// failure is deliberately distinct from validation failures so the storefront
// can offer a retry.
func (h *Handlers) writeDomainError(w http.ResponseWriter, err error) {
	var stock *domain.StockUnavailableError
	switch {
	case errors.As(err, &stock):
		shortages := make([]map[string]interface{}, len(stock.Shortages))
		for i, s := range stock.Shortages {
			shortages[i] = map[string]interface{}{
				"product_id": s.ProductID,
				"requested":  s.Requested,
				"available":  s.Available,
			}
		}
		writeJSON(w, http.StatusConflict, map[string]interface{}{
			"error":     "stock unavailable",
			"shortages": shortages,
		})
	case errors.Is(err, domain.ErrGatewayUnavailable):
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{"error": "payment gateway unavailable"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"error": "not found"})
	case errors.Is(err, domain.ErrInvalidState):
		writeJSON(w, http.StatusConflict, map[string]interface{}{"error": "invalid state"})
	case errors.Is(err, domain.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid input"})
	case errors.Is(err, domain.ErrSerializationFailure):
		writeJSON(w, http.StatusConflict, map[string]interface{}{"error": "conflict, try again"})
	default:
		h.logger.WithError(err).Error("internal error")
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": "internal error"})
	}
}

func paymentResponse(p *domain.Payment) map[string]interface{} {
	return map[string]interface{}{
		"id":              p.PublicID,
		"status":          p.Status,
		"amount":          p.Amount,
		"method":          p.Method,
		"refunded_amount": p.RefundedAmount,
		"gateway_token":   p.GatewayToken,
	}
}

func (h *Handlers) CreatePayment(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	var req struct {
		OwnerID uuid.UUID `json:"owner_id"`
		CartID  uuid.UUID `json:"cart_id"`
		Method  string    `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payment, err := h.orch.CreatePayment(r.Context(), req.OwnerID, req.CartID, req.Method)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	data := writeJSON(w, http.StatusCreated, paymentResponse(payment))
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusCreated, Result: data})
}

func (h *Handlers) Refund(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return
	}

	publicID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req struct {
		Amount float64 `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	payment, refunded, err := h.orch.Refund(r.Context(), publicID, req.Amount)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	resp := paymentResponse(payment)
	resp["refunded"] = refunded
	data := writeJSON(w, http.StatusOK, resp)
	h.idemp.Set(r.Context(), key, idempotency.Response{Status: http.StatusOK, Result: data})
}

func (h *Handlers) GetPayment(w http.ResponseWriter, r *http.Request) {
	publicID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	view, err := h.orch.GetPaymentStatus(r.Context(), publicID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// GatewayWebhook verifies the signature against the raw body, then hands the
// event to the reconciler. Handling errors are logged and acked; the gateway
// redelivers on non-2xx, and the reconciler is replay-safe either way.
func (h *Handlers) GatewayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	event, err := h.verifier.VerifyEvent(body, r.Header.Get("Stripe-Signature"))
	if err != nil {
		observability.WebhookEvents.WithLabelValues("unverified", "rejected").Inc()
		h.logger.WithError(err).Warn("webhook signature verification failed")
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	if err := h.reconciler.HandleGatewayEvent(r.Context(), event); err != nil {
		h.logger.WithError(err).WithField("event_id", event.ID).Error("webhook handling failed")
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) ScanTicket(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	ticket, err := h.issuer.ScanTicket(r.Context(), token)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":   ticket.Token,
		"status":  ticket.Status,
		"used_at": ticket.UsedAt,
	})
}

func (h *Handlers) CancelTicket(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	ticket, err := h.issuer.CancelTicket(r.Context(), token)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":  ticket.Token,
		"status": ticket.Status,
	})
}

// RefundTicketInvalidate marks one ticket Refunded and returns its seat to
// stock. The money side goes through the payment refund endpoint.
func (h *Handlers) RefundTicketInvalidate(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	ticket, err := h.issuer.RefundTicket(r.Context(), token)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":  ticket.Token,
		"status": ticket.Status,
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
