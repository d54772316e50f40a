// Package api exposes the HTTP surface: cron trigger endpoints for the
// dispatcher and ghost detector, the signed payment webhook, and operator
// endpoints for queue inspection and circuit stats.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/auraops/relay/internal/breaker"
	"github.com/auraops/relay/internal/bridge"
	"github.com/auraops/relay/internal/db"
	"github.com/auraops/relay/internal/dispatch"
	"github.com/auraops/relay/internal/ghost"
	"github.com/auraops/relay/internal/metrics"
	"github.com/auraops/relay/internal/redis"
)

// Repository defines the database operations the handlers need.
type Repository interface {
	Enqueue(ctx context.Context, msg *db.QueuedMessage) error
	GetMessage(ctx context.Context, id uuid.UUID) (*db.QueuedMessage, error)
	ListFailed(ctx context.Context, tenantID string, limit, offset int) ([]*db.QueuedMessage, error)
	RecordActivity(ctx context.Context, conv *db.Conversation) error
	GetConversation(ctx context.Context, leadID uuid.UUID) (*db.Conversation, error)
}

// Dispatcher runs one queue drain cycle.
type Dispatcher interface {
	Run(ctx context.Context, now time.Time) (*dispatch.Summary, error)
}

// Detector runs one stale conversation sweep.
type Detector interface {
	Run(ctx context.Context, now time.Time) (*ghost.Summary, error)
}

// Deliverer sends with fallback rerouting.
type Deliverer interface {
	Deliver(ctx context.Context, req bridge.Request) (*bridge.Delivery, error)
}

// Ledger claims event ids for exactly-once webhook processing and idempotent
// enqueues. Release undoes a claim whose side effect could not be applied.
type Ledger interface {
	Reserve(ctx context.Context, eventID string, ttl time.Duration) (bool, error)
	ReserveValue(ctx context.Context, eventID, value string, ttl time.Duration) (string, bool, error)
	Release(ctx context.Context, eventID string) error
}

// CircuitStats reports breaker state for the operator endpoint.
type CircuitStats interface {
	StatsAll(ctx context.Context) ([]breaker.Stats, error)
}

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers
type Handler struct {
	logger     *zap.Logger
	repo       Repository
	dispatcher Dispatcher
	detector   Detector
	deliverer  Deliverer
	ledger     Ledger
	circuits   CircuitStats

	cronSecret    string
	webhookSecret string
}

// NewHandler creates a new API handler
func NewHandler(
	logger *zap.Logger,
	repo Repository,
	dispatcher Dispatcher,
	detector Detector,
	deliverer Deliverer,
	ledger Ledger,
	circuits CircuitStats,
	cronSecret, webhookSecret string,
) *Handler {
	return &Handler{
		logger:        logger,
		repo:          repo,
		dispatcher:    dispatcher,
		detector:      detector,
		deliverer:     deliverer,
		ledger:        ledger,
		circuits:      circuits,
		cronSecret:    cronSecret,
		webhookSecret: webhookSecret,
	}
}

// Router assembles the HTTP routes. limiter may be nil to disable per-tenant
// rate limiting.
func (h *Handler) Router(limiter *redis.RateLimiter) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(h.requestLogger)

	r.Get("/health", h.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		r.Use(CronAuthMiddleware(h.cronSecret, h.logger))
		r.Get("/v1/cron/process-queue", h.RunDispatch)
		r.Get("/v1/cron/ghosting-hunter", h.RunDetect)
	})

	r.Post("/v1/webhooks/payment", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, h.logger, TenantKeyFunc))
		r.Post("/v1/messages", h.EnqueueMessage)
		r.Get("/v1/messages/{id}", h.GetMessage)
		r.Get("/v1/queue/failed", h.ListFailed)
		r.Post("/v1/activity", h.RecordActivity)
		r.Get("/v1/breakers", h.CircuitStats)
	})

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration_ms", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RunDispatch handles GET /v1/cron/process-queue: one queue drain cycle.
func (h *Handler) RunDispatch(w http.ResponseWriter, r *http.Request) {
	summary, err := h.dispatcher.Run(r.Context(), time.Now())
	if err != nil {
		h.logger.Error("dispatch run failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Dispatch run failed", "")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// RunDetect handles GET /v1/cron/ghosting-hunter: one stale conversation sweep.
func (h *Handler) RunDetect(w http.ResponseWriter, r *http.Request) {
	summary, err := h.detector.Run(r.Context(), time.Now())
	if err != nil {
		h.logger.Error("ghost detection run failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Detection run failed", "")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// PaymentEvent is the signed payload posted by the payment provider.
type PaymentEvent struct {
	EventID  string  `json:"event_id"`
	TenantID string  `json:"tenant_id"`
	LeadID   string  `json:"lead_id"`
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// PaymentWebhook handles POST /v1/webhooks/payment. The body is authenticated
// with HMAC-SHA256 before any parsing, and the event id is claimed in the
// ledger before any side effect, so replays and concurrent duplicates each
// apply the confirmation flow at most once.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Unreadable body", "")
		return
	}

	if !ValidateSignature(body, r.Header.Get("X-Relay-Signature"), h.webhookSecret) {
		h.logger.Warn("payment webhook signature rejected",
			zap.String("remote_addr", r.RemoteAddr),
		)
		h.writeError(w, http.StatusUnauthorized, "invalid_signature", "Invalid signature", "")
		return
	}

	var event PaymentEvent
	if err := json.Unmarshal(body, &event); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if event.EventID == "" || event.TenantID == "" || event.LeadID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"event_id, tenant_id, and lead_id are required")
		return
	}

	leadID, err := uuid.Parse(event.LeadID)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid lead_id", "lead_id must be a UUID")
		return
	}

	conv, err := h.repo.GetConversation(ctx, leadID)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Conversation not found", "")
		return
	}

	claimed, err := h.ledger.Reserve(ctx, event.EventID, 0)
	if err != nil {
		h.logger.Error("idempotency reservation failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Idempotency check failed", "")
		return
	}
	if !claimed {
		metrics.RecordDuplicateEvent()
		h.logger.Info("duplicate payment event absorbed",
			zap.String("event_id", event.EventID),
		)
		writeJSON(w, http.StatusOK, map[string]any{"duplicate": true})
		return
	}

	// Payment counts as lead activity: the conversation reactivates and its
	// quiet-period clock restarts. If the mutation fails the claim is
	// released so the provider's retry is not answered as a duplicate.
	if err := h.repo.RecordActivity(ctx, conv); err != nil {
		h.logger.Error("failed to record payment activity", zap.Error(err))
		h.releaseClaim(ctx, event.EventID)
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to record activity", "")
		return
	}

	confirmation := paymentConfirmation(event)
	delivery, err := h.deliverer.Deliver(ctx, bridge.Request{
		Channel: conv.Channel,
		Target:  conv.Target,
		Email:   conv.Email,
		Body:    confirmation,
	})
	if err != nil {
		// Both routes failed: park the confirmation on the durable queue
		// so the dispatcher keeps trying.
		msg := &db.QueuedMessage{
			ID:          uuid.New(),
			TenantID:    event.TenantID,
			Target:      conv.Target,
			Channel:     conv.Channel,
			Body:        confirmation,
			Status:      db.StatusPending,
			MaxAttempts: db.DefaultMaxAttempts,
			NextRetryAt: time.Now(),
		}
		if qerr := h.repo.Enqueue(ctx, msg); qerr != nil {
			h.logger.Error("failed to queue payment confirmation",
				zap.Error(qerr),
				zap.String("event_id", event.EventID),
			)
			h.releaseClaim(ctx, event.EventID)
			h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to queue confirmation", "")
			return
		}
		metrics.RecordEnqueued(event.TenantID, conv.Channel)
		h.logger.Warn("payment confirmation queued for retry",
			zap.String("event_id", event.EventID),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, map[string]any{"queued": true, "message_id": msg.ID})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"delivery": delivery})
}

// releaseClaim undoes a ledger reservation after a failed mutation so the
// caller's retry is processed instead of absorbed as a duplicate.
func (h *Handler) releaseClaim(ctx context.Context, eventID string) {
	if err := h.ledger.Release(ctx, eventID); err != nil {
		h.logger.Error("failed to release event claim",
			zap.Error(err),
			zap.String("event_id", eventID),
		)
	}
}

func paymentConfirmation(event PaymentEvent) string {
	if event.Amount > 0 && event.Currency != "" {
		return fmt.Sprintf("We received your payment of %.2f %s. Thank you!", event.Amount, event.Currency)
	}
	return "We received your payment. Thank you!"
}

// EnqueueRequest is the body for the direct enqueue endpoint.
type EnqueueRequest struct {
	TenantID    string `json:"tenant_id"`
	Target      string `json:"target"`
	Channel     string `json:"channel"`
	Body        string `json:"body"`
	MaxAttempts int    `json:"max_attempts,omitempty"`
}

// EnqueueMessage handles POST /v1/messages: park a message on the durable
// retry queue for the next dispatch run. An Idempotency-Key header makes the
// call safe to retry; a repeated key returns the originally created message id
// without inserting a second row.
func (h *Handler) EnqueueMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req EnqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}

	if req.TenantID == "" || req.Target == "" || req.Channel == "" || req.Body == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"tenant_id, target, channel, and body are required")
		return
	}
	if !validChannel(req.Channel) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel",
			"channel must be whatsapp, sms, telegram, or email")
		return
	}

	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = db.DefaultMaxAttempts
	}

	msg := &db.QueuedMessage{
		ID:          uuid.New(),
		TenantID:    req.TenantID,
		Target:      req.Target,
		Channel:     req.Channel,
		Body:        req.Body,
		Status:      db.StatusPending,
		MaxAttempts: maxAttempts,
		NextRetryAt: time.Now(),
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey != "" {
		claimKey := "enqueue:" + idempotencyKey
		prev, fresh, err := h.ledger.ReserveValue(ctx, claimKey, msg.ID.String(), 0)
		if err != nil {
			h.logger.Error("idempotency reservation failed", zap.Error(err))
			h.writeError(w, http.StatusInternalServerError, "internal_error", "Idempotency check failed", "")
			return
		}
		if !fresh {
			metrics.RecordDuplicateEvent()
			writeJSON(w, http.StatusOK, map[string]any{"id": prev, "duplicate": true})
			return
		}
		if err := h.repo.Enqueue(ctx, msg); err != nil {
			h.logger.Error("failed to enqueue message", zap.Error(err))
			h.releaseClaim(ctx, claimKey)
			h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to enqueue message", "")
			return
		}
		metrics.RecordEnqueued(req.TenantID, req.Channel)
		writeJSON(w, http.StatusCreated, map[string]string{"id": msg.ID.String()})
		return
	}

	if err := h.repo.Enqueue(ctx, msg); err != nil {
		h.logger.Error("failed to enqueue message", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to enqueue message", "")
		return
	}

	metrics.RecordEnqueued(req.TenantID, req.Channel)
	writeJSON(w, http.StatusCreated, map[string]string{"id": msg.ID.String()})
}

// GetMessage handles GET /v1/messages/{id}
func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid message ID", "id must be a UUID")
		return
	}

	msg, err := h.repo.GetMessage(r.Context(), id)
	if err != nil {
		h.writeError(w, http.StatusNotFound, "not_found", "Message not found", "")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// ListFailed handles GET /v1/queue/failed: terminally failed messages for a tenant.
func (h *Handler) ListFailed(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenant_id")
	if tenantID == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing tenant_id", "tenant_id query parameter is required")
		return
	}

	limit := queryInt(r, "limit", 50)
	if limit > 100 {
		limit = 100
	}
	offset := queryInt(r, "offset", 0)

	msgs, err := h.repo.ListFailed(r.Context(), tenantID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list failed messages", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to list messages", "")
		return
	}
	if msgs == nil {
		msgs = []*db.QueuedMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs, "count": len(msgs)})
}

// ActivityRequest is the body for conversation activity ingestion.
type ActivityRequest struct {
	TenantID string  `json:"tenant_id"`
	LeadID   string  `json:"lead_id,omitempty"`
	Target   string  `json:"target"`
	Channel  string  `json:"channel"`
	Email    *string `json:"email,omitempty"`
}

// RecordActivity handles POST /v1/activity: a lead touched the conversation,
// so it reactivates and the quiet-period clock restarts.
func (h *Handler) RecordActivity(w http.ResponseWriter, r *http.Request) {
	var req ActivityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Malformed JSON body", err.Error())
		return
	}
	if req.TenantID == "" || req.Target == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing required fields",
			"tenant_id and target are required")
		return
	}
	if req.Channel != "" && !validChannel(req.Channel) {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid channel",
			"channel must be whatsapp, sms, telegram, or email")
		return
	}

	conv := &db.Conversation{
		TenantID: req.TenantID,
		Target:   req.Target,
		Channel:  req.Channel,
		Email:    req.Email,
	}
	if req.LeadID != "" {
		leadID, err := uuid.Parse(req.LeadID)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid lead_id", "lead_id must be a UUID")
			return
		}
		conv.LeadID = leadID
	}

	if err := h.repo.RecordActivity(r.Context(), conv); err != nil {
		h.logger.Error("failed to record activity", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to record activity", "")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

// CircuitStats handles GET /v1/breakers
func (h *Handler) CircuitStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.circuits.StatsAll(r.Context())
	if err != nil {
		h.logger.Error("failed to read circuit stats", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to read circuit stats", "")
		return
	}
	if stats == nil {
		stats = []breaker.Stats{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"circuits": stats})
}

func validChannel(channel string) bool {
	switch channel {
	case db.ChannelWhatsApp, db.ChannelSMS, db.ChannelTelegram, db.ChannelEmail:
		return true
	default:
		return false
	}
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	writeProblem(w, status, errType, title, detail)
}
