package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/ariefcatur/go-resource-saga.git/internal/events"
	"github.com/ariefcatur/go-resource-saga.git/internal/obs"
	"github.com/ariefcatur/go-resource-saga.git/internal/saga"
)

type memPublisher struct {
	mu   sync.Mutex
	envs []events.Envelope
}

func (p *memPublisher) Publish(_, value []byte, _ ...kafkago.Header) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var env events.Envelope
	_ = json.Unmarshal(value, &env)
	p.envs = append(p.envs, env)
}

func (p *memPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.envs))
	for _, e := range p.envs {
		out = append(out, e.EventType)
	}
	return out
}

type fixture struct {
	router *chi.Mux
	coord  *saga.Coordinator
	store  *saga.MemStore
	h      *ReservationsHandler
	pub    *memPublisher
}

func newFixture(t *testing.T, confirm saga.ConfirmFunc) *fixture {
	t.Helper()
	store := saga.NewMemStore()
	coord := saga.NewCoordinator(store)
	pub := &memPublisher{}
	h := &ReservationsHandler{
		Coord:             coord,
		Confirm:           confirm,
		Service:           "resource-saga-api",
		ProducerCreated:   pub,
		ProducerConfirmed: pub,
		ProducerCancelled: pub,
		DefaultTTL:        time.Hour,
		ConfirmTimeout:    2 * time.Second,
	}
	r := chi.NewRouter()
	h.Register(r)
	return &fixture{router: r, coord: coord, store: store, h: h, pub: pub}
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) reserve(t *testing.T, key saga.PoolKey, qty int64) ReservationResp {
	t.Helper()
	rec := f.do(t, http.MethodPost, fmt.Sprintf("/pools/%s/%s/reservations", key.Type, key.ID), ReserveReq{Quantity: qty})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp ReservationResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func okConfirm(ctx context.Context, r saga.Reservation) (string, error) {
	return "txn-" + r.ID, nil
}

func TestReserveEndpoint(t *testing.T) {
	f := newFixture(t, okConfirm)
	key := saga.PoolKey{Type: saga.TypeStock, ID: "PART-001"}
	f.store.SeedPool(key, 45)

	rec := f.do(t, http.MethodPost, "/pools/stock/PART-001/reservations", ReserveReq{
		Quantity:    5,
		TTLSeconds:  600,
		RequestedBy: "maint-planner",
		WorkOrder:   "WO-778",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var resp ReservationResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.ReservationID)
	assert.Equal(t, "stock", resp.ResourceType)
	assert.Equal(t, "PART-001", resp.ResourceID)
	assert.Equal(t, string(saga.StatusPending), resp.Status)
	assert.Equal(t, "maint-planner", resp.RequestedBy)
	assert.Equal(t, "WO-778", resp.WorkOrder)
	assert.Equal(t, resp.CreatedAt.Add(600*time.Second), resp.ExpiresAt)

	assert.Equal(t, []string{events.EventReservationCreated}, f.pub.types())
}

func TestReserveBadRequests(t *testing.T) {
	f := newFixture(t, okConfirm)
	key := saga.PoolKey{Type: saga.TypeStock, ID: "PART-001"}
	f.store.SeedPool(key, 3)

	rec := f.do(t, http.MethodPost, "/pools/stock/PART-001/reservations", ReserveReq{Quantity: 0})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// melebihi availability -> 400
	rec = f.do(t, http.MethodPost, "/pools/stock/PART-001/reservations", ReserveReq{Quantity: 4})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// pool tidak ada -> 404
	rec = f.do(t, http.MethodPost, "/pools/stock/NOPE/reservations", ReserveReq{Quantity: 1})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Empty(t, f.pub.types(), "request gagal tidak boleh publish event")
}

func TestConfirmEndpoint(t *testing.T) {
	f := newFixture(t, okConfirm)
	key := saga.PoolKey{Type: saga.TypeBalance, ID: "1010"}
	f.store.SeedPool(key, 5000)

	res := f.reserve(t, key, 120)

	rec := f.do(t, http.MethodPost, "/reservations/"+res.ReservationID+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp ReservationResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, string(saga.StatusConfirmed), resp.Status)
	assert.Equal(t, "txn-"+res.ReservationID, resp.ExternalRef)

	assert.Equal(t, []string{events.EventReservationCreated, events.EventReservationConfirmed}, f.pub.types())

	// confirm kedua -> 409
	rec = f.do(t, http.MethodPost, "/reservations/"+res.ReservationID+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestConfirmRejectedMapsTo400AndCancels(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, r saga.Reservation) (string, error) {
		return "", fmt.Errorf("invalid payload: %w", saga.ErrRejected)
	})
	key := saga.PoolKey{Type: saga.TypeBalance, ID: "1010"}
	f.store.SeedPool(key, 100)

	res := f.reserve(t, key, 40)
	rec := f.do(t, http.MethodPost, "/reservations/"+res.ReservationID+"/confirm", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	got, err := f.coord.Reservation(context.Background(), res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusCancelled, got.Status)
}

func TestConfirmUnreachableMapsTo503(t *testing.T) {
	f := newFixture(t, func(ctx context.Context, r saga.Reservation) (string, error) {
		return "", fmt.Errorf("dial tcp: %w", saga.ErrUnreachable)
	})
	key := saga.PoolKey{Type: saga.TypeBalance, ID: "1010"}
	f.store.SeedPool(key, 100)

	res := f.reserve(t, key, 10)
	rec := f.do(t, http.MethodPost, "/reservations/"+res.ReservationID+"/confirm", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	// tetap PENDING, bisa di-retry
	got, err := f.coord.Reservation(context.Background(), res.ReservationID)
	require.NoError(t, err)
	assert.Equal(t, saga.StatusPending, got.Status)
}

func TestConfirmNotFound(t *testing.T) {
	f := newFixture(t, okConfirm)
	rec := f.do(t, http.MethodPost, "/reservations/deadbeef/confirm", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelEndpoint(t *testing.T) {
	f := newFixture(t, okConfirm)
	key := saga.PoolKey{Type: saga.TypeSlot, ID: "TECH-001"}
	f.store.SeedPool(key, 8)

	res := f.reserve(t, key, 2)

	rec := f.do(t, http.MethodPost, "/reservations/"+res.ReservationID+"/cancel", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	// cancel kedua -> 409, bukan silent success
	rec = f.do(t, http.MethodPost, "/reservations/"+res.ReservationID+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	assert.Equal(t, []string{events.EventReservationCreated, events.EventReservationCancelled}, f.pub.types())
}

func TestGetReservation(t *testing.T) {
	f := newFixture(t, okConfirm)
	key := saga.PoolKey{Type: saga.TypeStock, ID: "PART-001"}
	f.store.SeedPool(key, 10)

	res := f.reserve(t, key, 1)

	rec := f.do(t, http.MethodGet, "/reservations/"+res.ReservationID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ReservationResp
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, res.ReservationID, resp.ReservationID)

	rec = f.do(t, http.MethodGet, "/reservations/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// contendedStore selalu kalah CAS saat insert reservation.
type contendedStore struct{ *saga.MemStore }

func (s *contendedStore) CreateReservation(ctx context.Context, res saga.Reservation, poolVersion int64) error {
	return saga.ErrVersionConflict
}

func TestReserveConflictExhaustionCountsMetric(t *testing.T) {
	mem := saga.NewMemStore()
	key := saga.PoolKey{Type: saga.TypeStock, ID: "PART-001"}
	mem.SeedPool(key, 10)

	coord := saga.NewCoordinator(&contendedStore{mem})
	coord.RetryBudget = 2

	m := obs.NewMetricsWith(prometheus.NewRegistry())
	h := &ReservationsHandler{Coord: coord, Metrics: m, DefaultTTL: time.Hour}
	r := chi.NewRouter()
	h.Register(r)

	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(ReserveReq{Quantity: 1}))
	req := httptest.NewRequest(http.MethodPost, "/pools/stock/PART-001/reservations", &buf)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	// contention berlebih = transient -> 503
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.EqualValues(t, 1, testutil.ToFloat64(m.ConflictRetries))
	assert.EqualValues(t, 1, testutil.ToFloat64(m.ReserveTotal.WithLabelValues("conflict")))
}

func TestPoolViewEndpoint(t *testing.T) {
	f := newFixture(t, okConfirm)
	key := saga.PoolKey{Type: saga.TypeStock, ID: "PART-001"}
	f.store.SeedPool(key, 45)
	f.reserve(t, key, 5)

	rec := f.do(t, http.MethodGet, "/pools/stock/PART-001", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view saga.PoolView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.EqualValues(t, 45, view.Committed)
	assert.EqualValues(t, 5, view.Pending)
	assert.EqualValues(t, 40, view.Available)

	rec = f.do(t, http.MethodGet, "/pools/stock/NOPE", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
