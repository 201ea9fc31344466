package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	redisadapter "github.com/giginhq/gig-settlement/internal/adapters/redis"
	"github.com/giginhq/gig-settlement/internal/config"
	"github.com/giginhq/gig-settlement/internal/domain"
	"github.com/giginhq/gig-settlement/internal/engine"
	"github.com/giginhq/gig-settlement/internal/idempotency"
	"github.com/giginhq/gig-settlement/internal/observability"
)

type Handlers struct {
	cfg    *config.Config
	svc    *engine.Service
	redis  *redisadapter.Cache
	idemp  *idempotency.Idempotency
	logger observability.Logger
}

func NewHandlers(cfg *config.Config, svc *engine.Service, redis *redisadapter.Cache, idemp *idempotency.Idempotency, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:    cfg,
		svc:    svc,
		redis:  redis,
		idemp:  idemp,
		logger: logger,
	}
}

// writeError maps domain sentinels onto HTTP statuses. Unrecognized errors
// stay 500 so the caller retries rather than treating them as final.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidFee):
		http.Error(w, "invalid fee", http.StatusBadRequest)
	case errors.Is(err, domain.ErrPaymentFailed):
		http.Error(w, "payment failed", http.StatusPaymentRequired)
	case errors.Is(err, domain.ErrPastGig),
		errors.Is(err, domain.ErrNotConfirmed),
		errors.Is(err, domain.ErrWindowNotOpen):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, domain.ErrStaleVersion),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrAlreadyConfirmed),
		errors.Is(err, domain.ErrDuplicateApplicant),
		errors.Is(err, domain.ErrGigClosed),
		errors.Is(err, domain.ErrAppsClosed),
		errors.Is(err, domain.ErrEscrowFinalized):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// replay serves the cached response for a repeated Idempotency-Key. It
// returns the key and whether the request was already handled.
func (h *Handlers) replay(w http.ResponseWriter, r *http.Request) (string, bool) {
	key := r.Header.Get("Idempotency-Key")
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		h.logger.Error("idempotency lookup failed", err)
		return key, false
	}
	if existing != nil {
		w.WriteHeader(existing.Status)
		w.Write(existing.Result)
		return key, true
	}
	return key, false
}

func (h *Handlers) record(r *http.Request, key string, status int, data []byte) {
	if err := h.idemp.Set(r.Context(), key, idempotency.Response{Status: status, Result: data}); err != nil {
		h.logger.Error("idempotency store failed", err)
	}
}

func gigID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "gigID"))
}

func parseSender(s string) (domain.Sender, bool) {
	switch domain.Sender(s) {
	case domain.SenderVenue, domain.SenderMusician:
		return domain.Sender(s), true
	default:
		return "", false
	}
}

func (h *Handlers) writeJSON(w http.ResponseWriter, r *http.Request, key string, status int, resp interface{}) {
	data, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	if key != "" {
		h.record(r, key, status, data)
	}
}

func (h *Handlers) Apply(w http.ResponseWriter, r *http.Request) {
	key, done := h.replay(w, r)
	if done {
		return
	}

	id, err := gigID(r)
	if err != nil {
		http.Error(w, "invalid gig id", http.StatusBadRequest)
		return
	}
	var req struct {
		PerformerID uuid.UUID `json:"performer_id"`
		Fee         string    `json:"fee"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.Apply(r.Context(), id, req.PerformerID, req.Fee); err != nil {
		writeError(w, err)
		return
	}
	observability.TransitionsTotal.WithLabelValues("apply", "ok").Inc()
	h.writeJSON(w, r, key, http.StatusCreated, map[string]interface{}{"status": domain.ApplicantPending})
}

func (h *Handlers) Invite(w http.ResponseWriter, r *http.Request) {
	key, done := h.replay(w, r)
	if done {
		return
	}

	id, err := gigID(r)
	if err != nil {
		http.Error(w, "invalid gig id", http.StatusBadRequest)
		return
	}
	var req struct {
		PerformerID uuid.UUID `json:"performer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.Invite(r.Context(), id, req.PerformerID); err != nil {
		writeError(w, err)
		return
	}
	observability.TransitionsTotal.WithLabelValues("invite", "ok").Inc()
	h.writeJSON(w, r, key, http.StatusCreated, map[string]interface{}{"status": domain.ApplicantPending})
}

func (h *Handlers) Negotiate(w http.ResponseWriter, r *http.Request) {
	key, done := h.replay(w, r)
	if done {
		return
	}

	id, err := gigID(r)
	if err != nil {
		http.Error(w, "invalid gig id", http.StatusBadRequest)
		return
	}
	var req struct {
		PerformerID uuid.UUID `json:"performer_id"`
		Fee         string    `json:"fee"`
		Sender      string    `json:"sender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sender, ok := parseSender(req.Sender)
	if !ok {
		http.Error(w, "invalid sender", http.StatusBadRequest)
		return
	}

	if err := h.svc.Negotiate(r.Context(), id, req.PerformerID, sender, req.Fee); err != nil {
		writeError(w, err)
		return
	}
	observability.TransitionsTotal.WithLabelValues("negotiate", "ok").Inc()
	h.writeJSON(w, r, key, http.StatusOK, map[string]interface{}{"status": domain.ApplicantNegotiating})
}

func (h *Handlers) Accept(w http.ResponseWriter, r *http.Request) {
	key, done := h.replay(w, r)
	if done {
		return
	}

	id, err := gigID(r)
	if err != nil {
		http.Error(w, "invalid gig id", http.StatusBadRequest)
		return
	}
	var req struct {
		PerformerID uuid.UUID `json:"performer_id"`
		Sender      string    `json:"sender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sender, ok := parseSender(req.Sender)
	if !ok {
		http.Error(w, "invalid sender", http.StatusBadRequest)
		return
	}

	// One accept at a time per gig. Concurrent accepts that slip past the
	// lock still lose on the version check.
	locked, err := h.redis.AcquireAcceptLock(r.Context(), id.String(), 30*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if !locked {
		http.Error(w, "accept already in progress", http.StatusConflict)
		return
	}
	defer h.redis.ReleaseAcceptLock(r.Context(), id.String())

	if err := h.svc.Accept(r.Context(), id, req.PerformerID, sender); err != nil {
		writeError(w, err)
		return
	}
	observability.TransitionsTotal.WithLabelValues("accept", "ok").Inc()
	h.writeJSON(w, r, key, http.StatusAccepted, map[string]interface{}{"gig_id": id})
}

func (h *Handlers) Decline(w http.ResponseWriter, r *http.Request) {
	key, done := h.replay(w, r)
	if done {
		return
	}

	id, err := gigID(r)
	if err != nil {
		http.Error(w, "invalid gig id", http.StatusBadRequest)
		return
	}
	var req struct {
		PerformerID uuid.UUID `json:"performer_id"`
		Sender      string    `json:"sender"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sender, ok := parseSender(req.Sender)
	if !ok {
		http.Error(w, "invalid sender", http.StatusBadRequest)
		return
	}

	if err := h.svc.Decline(r.Context(), id, req.PerformerID, sender); err != nil {
		writeError(w, err)
		return
	}
	observability.TransitionsTotal.WithLabelValues("decline", "ok").Inc()
	h.writeJSON(w, r, key, http.StatusOK, map[string]interface{}{"status": domain.ApplicantDeclined})
}

func (h *Handlers) Withdraw(w http.ResponseWriter, r *http.Request) {
	key, done := h.replay(w, r)
	if done {
		return
	}

	id, err := gigID(r)
	if err != nil {
		http.Error(w, "invalid gig id", http.StatusBadRequest)
		return
	}
	var req struct {
		PerformerID uuid.UUID `json:"performer_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.Withdraw(r.Context(), id, req.PerformerID); err != nil {
		writeError(w, err)
		return
	}
	observability.TransitionsTotal.WithLabelValues("withdraw", "ok").Inc()
	h.writeJSON(w, r, key, http.StatusOK, map[string]interface{}{"status": domain.ApplicantWithdrawn})
}

func (h *Handlers) Cancel(w http.ResponseWriter, r *http.Request) {
	key, done := h.replay(w, r)
	if done {
		return
	}

	id, err := gigID(r)
	if err != nil {
		http.Error(w, "invalid gig id", http.StatusBadRequest)
		return
	}
	var req struct {
		PerformerID uuid.UUID `json:"performer_id"`
		Reason      string    `json:"reason"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.svc.Cancel(r.Context(), id, req.PerformerID, req.Reason); err != nil {
		writeError(w, err)
		return
	}
	observability.TransitionsTotal.WithLabelValues("cancel", "ok").Inc()
	h.writeJSON(w, r, key, http.StatusOK, map[string]interface{}{"status": domain.ApplicantCancelled})
}

func (h *Handlers) FileDispute(w http.ResponseWriter, r *http.Request) {
	key, done := h.replay(w, r)
	if done {
		return
	}

	id, err := gigID(r)
	if err != nil {
		http.Error(w, "invalid gig id", http.StatusBadRequest)
		return
	}
	var req struct {
		FiledBy string `json:"filed_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	by, ok := parseSender(req.FiledBy)
	if !ok {
		http.Error(w, "invalid filed_by", http.StatusBadRequest)
		return
	}

	if err := h.svc.FileDispute(r.Context(), id, by); err != nil {
		writeError(w, err)
		return
	}
	observability.TransitionsTotal.WithLabelValues("dispute", "ok").Inc()
	h.writeJSON(w, r, key, http.StatusOK, map[string]interface{}{"escrow": domain.EscrowDisputed})
}

func (h *Handlers) MarkApplicantsViewed(w http.ResponseWriter, r *http.Request) {
	key, done := h.replay(w, r)
	if done {
		return
	}

	id, err := gigID(r)
	if err != nil {
		http.Error(w, "invalid gig id", http.StatusBadRequest)
		return
	}

	if err := h.svc.MarkApplicantsViewed(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	h.writeJSON(w, r, key, http.StatusOK, map[string]interface{}{"viewed": true})
}

func (h *Handlers) GetGig(w http.ResponseWriter, r *http.Request) {
	id, err := gigID(r)
	if err != nil {
		http.Error(w, "invalid gig id", http.StatusBadRequest)
		return
	}

	view, err := h.svc.View(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := map[string]interface{}{
		"gig":    view.Gig,
		"escrow": view.Escrow,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handlers) GetMessages(w http.ResponseWriter, r *http.Request) {
	convID, err := uuid.Parse(chi.URLParam(r, "convID"))
	if err != nil {
		http.Error(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	msgs, err := h.svc.Thread(r.Context(), convID)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"messages": msgs})
}

// PaymentCallback is the processor webhook for asynchronous capture results.
// Success finalizes the booking; failure reverts the applicant to negotiating.
func (h *Handlers) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		GigID       uuid.UUID `json:"gig_id"`
		PerformerID uuid.UUID `json:"performer_id"`
		Status      string    `json:"status"`
		PaymentRef  string    `json:"payment_ref"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var err error
	if req.Status == "SUCCEEDED" {
		err = h.svc.FinalizeCapture(r.Context(), req.GigID, req.PerformerID, req.PaymentRef)
	} else {
		err = h.svc.HandleCaptureFailure(r.Context(), req.GigID)
	}
	if err != nil && !errors.Is(err, domain.ErrConflict) {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
