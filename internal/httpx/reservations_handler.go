package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-resource-saga.git/internal/events"
	"github.com/ariefcatur/go-resource-saga.git/internal/kafkax"
	"github.com/ariefcatur/go-resource-saga.git/internal/obs"
	"github.com/ariefcatur/go-resource-saga.git/internal/redisx"
	"github.com/ariefcatur/go-resource-saga.git/internal/saga"
)

// ReservationsHandler translator inbound HTTP -> Coordinator. Semua logika
// correctness ada di saga package; di sini cuma parse, panggil, mapping
// error ke status code, cache, publish event.
type ReservationsHandler struct {
	Coord   *saga.Coordinator
	Confirm saga.ConfirmFunc
	Redis   *redis.Client
	Metrics *obs.Metrics
	Service string

	// satu producer per topic, ikut pola service inventory
	ProducerCreated   kafkax.Publisher
	ProducerConfirmed kafkax.Publisher
	ProducerCancelled kafkax.Publisher

	DefaultTTL     time.Duration
	ConfirmTimeout time.Duration
}

type ReserveReq struct {
	Quantity    int64  `json:"quantity"`
	TTLSeconds  int64  `json:"ttl_seconds,omitempty"`
	RequestedBy string `json:"requested_by,omitempty"`
	WorkOrder   string `json:"work_order,omitempty"`
}

type ReservationResp struct {
	ReservationID string    `json:"reservation_id"`
	ResourceType  string    `json:"resource_type"`
	ResourceID    string    `json:"resource_id"`
	Quantity      int64     `json:"quantity"`
	Status        string    `json:"status"`
	RequestedBy   string    `json:"requested_by,omitempty"`
	WorkOrder     string    `json:"work_order,omitempty"`
	ExternalRef   string    `json:"external_ref,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

func toResp(res saga.Reservation) ReservationResp {
	return ReservationResp{
		ReservationID: res.ID,
		ResourceType:  string(res.Type),
		ResourceID:    res.ResourceID,
		Quantity:      res.Quantity,
		Status:        string(res.Status),
		RequestedBy:   res.RequestedBy,
		WorkOrder:     res.WorkOrder,
		ExternalRef:   res.ExternalRef,
		CreatedAt:     res.CreatedAt,
		ExpiresAt:     res.ExpiresAt,
	}
}

func (h *ReservationsHandler) Register(r *chi.Mux) {
	r.Post("/pools/{type}/{id}/reservations", h.reserve)
	r.Get("/pools/{type}/{id}", h.poolView)
	r.Post("/reservations/{id}/confirm", h.confirm)
	r.Post("/reservations/{id}/cancel", h.cancel)
	r.Get("/reservations/{id}", h.getReservation)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor mapping taksonomi error core ke HTTP status.
// 404 NotFound, 400 InsufficientAvailability/Rejected, 409 AlreadyTerminal,
// 503 Unreachable/ConflictRetryExhausted, sisanya 500.
func statusFor(err error) int {
	switch {
	case errors.Is(err, saga.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, saga.ErrInsufficientAvailability), errors.Is(err, saga.ErrRejected):
		return http.StatusBadRequest
	case errors.Is(err, saga.ErrAlreadyTerminal):
		return http.StatusConflict
	case errors.Is(err, saga.ErrUnreachable), errors.Is(err, saga.ErrConflictRetryExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeErr(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

func poolKeyFrom(r *http.Request) saga.PoolKey {
	return saga.PoolKey{
		Type: saga.ResourceType(chi.URLParam(r, "type")),
		ID:   chi.URLParam(r, "id"),
	}
}

func (h *ReservationsHandler) reserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.Quantity <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "quantity must be positive"})
		return
	}
	ttl := h.DefaultTTL
	if req.TTLSeconds > 0 {
		ttl = time.Duration(req.TTLSeconds) * time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	key := poolKeyFrom(r)
	res, err := h.Coord.ReserveFor(ctx, key, req.Quantity, ttl, req.RequestedBy, req.WorkOrder)
	if err != nil {
		h.countReserve(reserveResult(err))
		writeErr(w, err)
		return
	}
	h.countReserve("success")

	h.cacheReservation(ctx, res)
	h.invalidatePoolView(ctx, key)
	h.publish(h.ProducerCreated, events.EventReservationCreated, res, events.ReservationCreatedPayload{
		ReservationID: res.ID,
		ResourceType:  string(res.Type),
		ResourceID:    res.ResourceID,
		Quantity:      res.Quantity,
		RequestedBy:   res.RequestedBy,
		WorkOrder:     res.WorkOrder,
		ExpiresAt:     res.ExpiresAt,
	}, r.Header.Get("X-Request-Id"))

	writeJSON(w, http.StatusCreated, toResp(res))
}

type ConfirmReq struct {
	TimeoutSeconds int64 `json:"timeout_seconds,omitempty"`
}

func (h *ReservationsHandler) confirm(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	// body optional; timeout bisa di-override caller
	var req ConfirmReq
	_ = json.NewDecoder(r.Body).Decode(&req)
	timeout := h.ConfirmTimeout
	if req.TimeoutSeconds > 0 {
		timeout = time.Duration(req.TimeoutSeconds) * time.Second
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	res, err := h.Coord.Confirm(ctx, id, h.Confirm)
	if err != nil {
		h.countConfirm(confirmResult(err))
		writeErr(w, err)
		return
	}
	h.countConfirm("success")

	h.cacheReservation(ctx, res)
	h.invalidatePoolView(ctx, res.Pool())
	h.publish(h.ProducerConfirmed, events.EventReservationConfirmed, res, events.ReservationConfirmedPayload{
		ReservationID: res.ID,
		ResourceType:  string(res.Type),
		ResourceID:    res.ResourceID,
		Quantity:      res.Quantity,
		ExternalRef:   res.ExternalRef,
	}, r.Header.Get("X-Request-Id"))

	writeJSON(w, http.StatusOK, toResp(res))
}

func (h *ReservationsHandler) cancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if err := h.Coord.Cancel(ctx, id); err != nil {
		h.countCancel(cancelResult(err))
		writeErr(w, err)
		return
	}
	h.countCancel("success")

	res, err := h.Coord.Reservation(ctx, id)
	if err == nil {
		h.cacheReservation(ctx, res)
		h.invalidatePoolView(ctx, res.Pool())
		h.publish(h.ProducerCancelled, events.EventReservationCancelled, res, events.ReservationCancelledPayload{
			ReservationID: res.ID,
			ResourceType:  string(res.Type),
			ResourceID:    res.ResourceID,
			Quantity:      res.Quantity,
			Reason:        "CALLER_CANCELLED",
		}, r.Header.Get("X-Request-Id"))
	}

	writeJSON(w, http.StatusOK, map[string]string{"reservation_id": id, "status": string(saga.StatusCancelled)})
}

func (h *ReservationsHandler) getReservation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) coba cache
	if h.Redis != nil {
		key := fmt.Sprintf(redisx.KeyReservation, id)
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	// 2) fallback store
	res, err := h.Coord.Reservation(ctx, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	h.cacheReservation(ctx, res)
	writeJSON(w, http.StatusOK, toResp(res))
}

func (h *ReservationsHandler) poolView(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := poolKeyFrom(r)
	if h.Redis != nil {
		ck := fmt.Sprintf(redisx.KeyPoolView, key.Type, key.ID)
		if s, err := h.Redis.Get(ctx, ck).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	view, err := h.Coord.View(ctx, key)
	if err != nil {
		writeErr(w, err)
		return
	}
	if h.Redis != nil {
		if b, err := json.Marshal(view); err == nil {
			ck := fmt.Sprintf(redisx.KeyPoolView, key.Type, key.ID)
			_ = h.Redis.Set(ctx, ck, b, redisx.TTLPoolViewCache).Err()
		}
	}
	writeJSON(w, http.StatusOK, view)
}

// ---- helpers ----

func (h *ReservationsHandler) cacheReservation(ctx context.Context, res saga.Reservation) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(toResp(res))
	if err != nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyReservation, res.ID)
	_ = h.Redis.Set(ctx, key, b, redisx.TTLReservationCache).Err()
}

func (h *ReservationsHandler) invalidatePoolView(ctx context.Context, key saga.PoolKey) {
	if h.Redis == nil {
		return
	}
	_ = h.Redis.Del(ctx, fmt.Sprintf(redisx.KeyPoolView, key.Type, key.ID)).Err()
}

func (h *ReservationsHandler) publish(p kafkax.Publisher, eventType string, res saga.Reservation, payload any, trace string) {
	if p == nil {
		return
	}
	ev := events.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		TraceID:       trace,
		CorrelationID: res.ID,
		Payload:       kafkax.MustMarshal(payload),
	}
	p.Publish(events.PartitionKey(string(res.Type), res.ResourceID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}

func (h *ReservationsHandler) countReserve(result string) {
	if h.Metrics != nil {
		h.Metrics.ReserveTotal.WithLabelValues(result).Inc()
		if result == "conflict" {
			h.Metrics.ConflictRetries.Inc()
		}
	}
}

func (h *ReservationsHandler) countConfirm(result string) {
	if h.Metrics != nil {
		h.Metrics.ConfirmTotal.WithLabelValues(result).Inc()
		if result == "conflict" {
			h.Metrics.ConflictRetries.Inc()
		}
	}
}

func (h *ReservationsHandler) countCancel(result string) {
	if h.Metrics != nil {
		h.Metrics.CancelTotal.WithLabelValues(result).Inc()
	}
}

func reserveResult(err error) string {
	switch {
	case errors.Is(err, saga.ErrInsufficientAvailability):
		return "insufficient"
	case errors.Is(err, saga.ErrNotFound):
		return "not_found"
	case errors.Is(err, saga.ErrConflictRetryExhausted):
		return "conflict"
	default:
		return "error"
	}
}

func confirmResult(err error) string {
	switch {
	case errors.Is(err, saga.ErrRejected):
		return "rejected"
	case errors.Is(err, saga.ErrUnreachable):
		return "unreachable"
	case errors.Is(err, saga.ErrAlreadyTerminal):
		return "terminal"
	case errors.Is(err, saga.ErrNotFound):
		return "not_found"
	case errors.Is(err, saga.ErrConflictRetryExhausted):
		return "conflict"
	default:
		return "error"
	}
}

func cancelResult(err error) string {
	switch {
	case errors.Is(err, saga.ErrAlreadyTerminal):
		return "terminal"
	case errors.Is(err, saga.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
