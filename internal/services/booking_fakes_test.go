package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/smarttransit/flight-reservation-backend/internal/database"
	"github.com/smarttransit/flight-reservation-backend/internal/models"
	"github.com/smarttransit/flight-reservation-backend/pkg/distribution"
	"github.com/smarttransit/flight-reservation-backend/pkg/notify"
)

// ============================================================================
// IN-MEMORY STORE
// ============================================================================

// memoryReservationStore mirrors the SQL repository: unique identifiers and
// compare-and-set on status
type memoryReservationStore struct {
	mu           sync.Mutex
	reservations map[uuid.UUID]*models.Reservation
}

func newMemoryReservationStore() *memoryReservationStore {
	return &memoryReservationStore{reservations: make(map[uuid.UUID]*models.Reservation)}
}

func cloneReservation(r *models.Reservation) *models.Reservation {
	c := *r
	c.Itineraries = append(models.Itineraries(nil), r.Itineraries...)
	c.Passengers = append(models.Passengers(nil), r.Passengers...)
	c.StatusHistory = append([]models.StatusHistoryEntry(nil), r.StatusHistory...)
	c.ChangeLog = append([]models.ChangeLogEntry(nil), r.ChangeLog...)
	c.Pricing.Allocations = append([]models.PassengerAllocation(nil), r.Pricing.Allocations...)
	if r.RemoteOrderID != nil {
		v := *r.RemoteOrderID
		c.RemoteOrderID = &v
	}
	if r.LastSyncedAt != nil {
		v := *r.LastSyncedAt
		c.LastSyncedAt = &v
	}
	if r.LastProviderErr != nil {
		v := *r.LastProviderErr
		c.LastProviderErr = &v
	}
	return &c
}

func (m *memoryReservationStore) Insert(_ context.Context, res *models.Reservation, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.reservations {
		if existing.ReservationCode == res.ReservationCode || existing.BookingReference == res.BookingReference {
			return database.ErrDuplicateIdentifier
		}
	}
	stored := cloneReservation(res)
	stored.StatusHistory = []models.StatusHistoryEntry{{Status: res.Status, Reason: reason, ChangedAt: res.CreatedAt}}
	m.reservations[res.ID] = stored
	return nil
}

func (m *memoryReservationStore) GetByID(_ context.Context, id uuid.UUID) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.reservations[id]
	if !ok {
		return nil, nil
	}
	return cloneReservation(res), nil
}

func (m *memoryReservationStore) GetByCode(_ context.Context, code string) (*models.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, res := range m.reservations {
		if res.ReservationCode == code {
			return cloneReservation(res), nil
		}
	}
	return nil, nil
}

func (m *memoryReservationStore) ApplyUpdate(_ context.Context, u database.ReservationUpdate) error {
	if err := u.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.reservations[u.ID]
	if !ok || res.Status != u.ExpectedStatus {
		return database.ErrStaleReservation
	}

	res.Status = u.Status
	if u.RemoteOrderID != nil {
		v := *u.RemoteOrderID
		res.RemoteOrderID = &v
	}
	res.NeedsResync = u.NeedsResync
	if u.LastSyncedAt != nil {
		v := *u.LastSyncedAt
		res.LastSyncedAt = &v
	}
	if u.LastProviderErr != nil {
		if *u.LastProviderErr == "" {
			res.LastProviderErr = nil
		} else {
			v := *u.LastProviderErr
			res.LastProviderErr = &v
		}
	}
	res.Version++
	res.UpdatedAt = u.At
	if u.Status != u.ExpectedStatus {
		res.StatusHistory = append(res.StatusHistory, models.StatusHistoryEntry{Status: u.Status, Reason: u.Reason, ChangedAt: u.At})
	}
	return nil
}

func (m *memoryReservationStore) UpdateDetails(
	_ context.Context,
	id uuid.UUID,
	expectedVersion int,
	contact models.Contact,
	passengers models.Passengers,
	changes []models.ChangeLogEntry,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, ok := m.reservations[id]
	if !ok || res.Version != expectedVersion || res.Status != models.ReservationStatusConfirmed {
		return database.ErrStaleReservation
	}
	res.Contact = contact
	res.Passengers = append(models.Passengers(nil), passengers...)
	res.ChangeLog = append(res.ChangeLog, changes...)
	res.Version++
	return nil
}

func (m *memoryReservationStore) ListExpiredHolds(_ context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	return m.list(limit, func(r *models.Reservation) bool {
		return r.Status == models.ReservationStatusPending && r.HoldExpiresAt.Before(now)
	}), nil
}

func (m *memoryReservationStore) ListNeedingResync(_ context.Context, limit int) ([]uuid.UUID, error) {
	return m.list(limit, func(r *models.Reservation) bool { return r.NeedsResync }), nil
}

func (m *memoryReservationStore) ListDepartedConfirmed(_ context.Context, arrivedBefore time.Time, limit int) ([]uuid.UUID, error) {
	return m.list(limit, func(r *models.Reservation) bool {
		return r.Status == models.ReservationStatusConfirmed && r.LastArrival().Before(arrivedBefore)
	}), nil
}

func (m *memoryReservationStore) list(limit int, match func(*models.Reservation) bool) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uuid.UUID
	for id, res := range m.reservations {
		if len(ids) == limit {
			break
		}
		if match(res) {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *memoryReservationStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reservations)
}

// contextStore fails every call once the context is done, as database/sql does
type contextStore struct {
	*memoryReservationStore
}

func (c contextStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Reservation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.memoryReservationStore.GetByID(ctx, id)
}

func (c contextStore) ApplyUpdate(ctx context.Context, u database.ReservationUpdate) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.memoryReservationStore.ApplyUpdate(ctx, u)
}

// brokenUpdateStore accepts inserts and reads but fails every update
type brokenUpdateStore struct {
	*memoryReservationStore
	err error
}

func (b brokenUpdateStore) ApplyUpdate(context.Context, database.ReservationUpdate) error {
	return b.err
}

// ============================================================================
// PROVIDER, NOTIFIER, IDENTIFIERS
// ============================================================================

// fakeGateway confirms and cancels everything unless told otherwise
type fakeGateway struct {
	mu           sync.Mutex
	confirmFn    func(req *distribution.OrderRequest) distribution.Outcome
	cancelFn     func(remoteOrderID string) distribution.Outcome
	fetchFn      func(remoteOrderID string) (*distribution.OrderSnapshot, error)
	confirmed    []*distribution.OrderRequest
	cancelled    []string
	fetchedCount int
}

func (g *fakeGateway) Confirm(_ context.Context, req *distribution.OrderRequest) distribution.Outcome {
	g.mu.Lock()
	g.confirmed = append(g.confirmed, req)
	fn := g.confirmFn
	g.mu.Unlock()

	if fn != nil {
		return fn(req)
	}
	return distribution.Confirmed("ord_" + req.ClientReference)
}

func (g *fakeGateway) Cancel(_ context.Context, remoteOrderID string) distribution.Outcome {
	g.mu.Lock()
	g.cancelled = append(g.cancelled, remoteOrderID)
	fn := g.cancelFn
	g.mu.Unlock()

	if fn != nil {
		return fn(remoteOrderID)
	}
	return distribution.Confirmed(remoteOrderID)
}

func (g *fakeGateway) Fetch(_ context.Context, remoteOrderID string) (*distribution.OrderSnapshot, error) {
	g.mu.Lock()
	g.fetchedCount++
	fn := g.fetchFn
	g.mu.Unlock()

	if fn != nil {
		return fn(remoteOrderID)
	}
	return &distribution.OrderSnapshot{OrderID: remoteOrderID, Status: distribution.OrderStatusConfirmed}, nil
}

func (g *fakeGateway) setConfirm(outcome distribution.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.confirmFn = func(*distribution.OrderRequest) distribution.Outcome { return outcome }
}

func (g *fakeGateway) setCancel(outcome distribution.Outcome) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cancelFn = func(string) distribution.Outcome { return outcome }
}

func (g *fakeGateway) confirmCalls() []*distribution.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*distribution.OrderRequest(nil), g.confirmed...)
}

func (g *fakeGateway) cancelCalls() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.cancelled...)
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.ReservationEvent
	err    error
}

func (n *recordingNotifier) Publish(_ context.Context, event notify.ReservationEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, event)
	return nil
}

func (n *recordingNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	types := make([]string, len(n.events))
	for i, e := range n.events {
		types[i] = e.Type
	}
	return types
}

// scriptedCodes hands out the listed reservation codes in order, repeating the last
type scriptedCodes struct {
	mu    sync.Mutex
	codes []string
	calls int
}

func (c *scriptedCodes) NewReservationCode() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	i := c.calls
	if i >= len(c.codes) {
		i = len(c.codes) - 1
	}
	c.calls++
	return c.codes[i], nil
}

func (c *scriptedCodes) NewBookingReference() (string, error) {
	return NewIdentifierGenerator().NewBookingReference()
}

type recordingAuditor struct {
	mu         sync.Mutex
	lookups    []string // "<code>:<success>:<reason>"
	entities   []*uuid.UUID
	violations int
}

func (a *recordingAuditor) LogBookingLookup(_ context.Context, reservationID *uuid.UUID, code, _, _ string, success bool, reason string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entities = append(a.entities, reservationID)
	status := "fail"
	if success {
		status = "ok"
	}
	a.lookups = append(a.lookups, code+":"+status+":"+reason)
	return nil
}

func (a *recordingAuditor) LogRateLimitViolation(context.Context, string, string, string, time.Time) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.violations++
	return nil
}

// ============================================================================
// HARNESS
// ============================================================================

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type orchestratorHarness struct {
	svc      *BookingOrchestratorService
	store    *memoryReservationStore
	gateway  *fakeGateway
	notifier *recordingNotifier
	hook     *test.Hook
	now      time.Time
}

func newOrchestratorHarness(t *testing.T) *orchestratorHarness {
	t.Helper()
	logger, hook := test.NewNullLogger()

	h := &orchestratorHarness{
		store:    newMemoryReservationStore(),
		gateway:  &fakeGateway{},
		notifier: &recordingNotifier{},
		hook:     hook,
		now:      testEpoch,
	}
	h.svc = NewBookingOrchestratorService(h.store, h.gateway, h.notifier, NewIdentifierGenerator(), DefaultOrchestratorConfig(), logger)
	h.svc.now = func() time.Time { return h.now }
	t.Cleanup(h.svc.WaitForNotifications)
	return h
}

func (h *orchestratorHarness) advance(d time.Duration) {
	h.now = h.now.Add(d)
}

func (h *orchestratorHarness) reload(t *testing.T, id uuid.UUID) *models.Reservation {
	t.Helper()
	res, err := h.store.GetByID(context.Background(), id)
	if err != nil || res == nil {
		t.Fatalf("reservation %s not found: %v", id, err)
	}
	return res
}

// twoAdultRequest prices two adults at 250.00 plus a 49.99 fee, 299.99 USD in total
func twoAdultRequest(now time.Time) *models.CreateBookingRequest {
	departure := now.Add(72 * time.Hour)
	return &models.CreateBookingRequest{
		Offers: []models.Offer{{
			ID:       "off_lis_jfk",
			Currency: "USD",
			Segments: []models.Segment{{
				Carrier:      "TP",
				FlightNumber: "TP209",
				Origin:       "LIS",
				Destination:  "JFK",
				DepartureAt:  departure,
				ArrivalAt:    departure.Add(8 * time.Hour),
				Cabin:        "economy",
			}},
			Fares: []models.FareComponent{
				{PassengerType: models.PassengerTypeAdult, Count: 2, Base: 25000, Fees: []int64{4999}},
			},
		}},
		Passengers: []models.Passenger{
			{Type: models.PassengerTypeAdult, FirstName: "Ana", LastName: "Silva", DateOfBirth: "1990-04-12",
				Document: models.TravelDocument{Type: "passport", Number: "P1234567", IssuingCountry: "PT", ExpiresOn: "2031-01-01"}},
			{Type: models.PassengerTypeAdult, FirstName: "Joao", LastName: "Costa", DateOfBirth: "1988-09-30"},
		},
		Contact: models.Contact{Email: " Ana.Silva@Example.com ", Phone: "+351 912 345 678"},
	}
}
