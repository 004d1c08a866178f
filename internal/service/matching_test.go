package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petmily/walk-engine/internal/domain"
	"github.com/petmily/walk-engine/internal/notify"
	"github.com/petmily/walk-engine/internal/repo"
	"github.com/petmily/walk-engine/internal/service"
)

// memApplicationRepo is an in-memory repo.ApplicationRepo mirroring the
// Postgres implementation's semantics: one pending application per walker
// per booking, atomic accept-and-bind with sibling rejection.
type memApplicationRepo struct {
	mu       sync.Mutex
	bookings *memBookingRepo
	apps     map[uuid.UUID]domain.WalkerApplication
}

func newMemApplicationRepo(bookings *memBookingRepo) *memApplicationRepo {
	return &memApplicationRepo{
		bookings: bookings,
		apps:     make(map[uuid.UUID]domain.WalkerApplication),
	}
}

func (m *memApplicationRepo) Create(_ context.Context, app domain.WalkerApplication) (domain.WalkerApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.apps {
		if existing.BookingID == app.BookingID && existing.WalkerID == app.WalkerID &&
			existing.Status == domain.ApplicationPending {
			return domain.WalkerApplication{}, domain.ErrDuplicateApplication
		}
	}
	app.ID = uuid.New()
	app.Status = domain.ApplicationPending
	app.AppliedAt = time.Now()
	m.apps[app.ID] = app
	return app, nil
}

func (m *memApplicationRepo) GetByID(_ context.Context, id uuid.UUID) (domain.WalkerApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[id]
	if !ok {
		return domain.WalkerApplication{}, domain.ErrNotFound
	}
	return app, nil
}

func (m *memApplicationRepo) ListByBooking(_ context.Context, bookingID uuid.UUID) ([]domain.WalkerApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.WalkerApplication
	for _, app := range m.apps {
		if app.BookingID == bookingID {
			out = append(out, app)
		}
	}
	return out, nil
}

func (m *memApplicationRepo) AcceptAndBind(ctx context.Context, applicationID uuid.UUID) (domain.WalkerApplication, domain.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	app, ok := m.apps[applicationID]
	if !ok {
		return domain.WalkerApplication{}, domain.Booking{}, domain.ErrNotFound
	}
	if app.Status != domain.ApplicationPending {
		return domain.WalkerApplication{}, domain.Booking{}, domain.ErrAlreadyResolved
	}

	b, err := m.bookings.GetByID(ctx, app.BookingID)
	if err != nil {
		return domain.WalkerApplication{}, domain.Booking{}, err
	}
	if b.State != domain.BookingPending || b.WalkerID != nil {
		return domain.WalkerApplication{}, domain.Booking{}, domain.ErrNotOpen
	}

	now := time.Now()
	app.Status = domain.ApplicationConfirmed
	app.RespondedAt = &now
	m.apps[app.ID] = app

	for id, sibling := range m.apps {
		if sibling.BookingID == app.BookingID && sibling.ID != app.ID &&
			sibling.Status == domain.ApplicationPending {
			sibling.Status = domain.ApplicationRejected
			sibling.RespondedAt = &now
			m.apps[id] = sibling
		}
	}

	walker := app.WalkerID
	b.WalkerID = &walker
	if app.ProposedPrice != nil {
		price := *app.ProposedPrice
		b.Price = &price
	}
	b.Published = false
	b, err = m.bookings.Update(ctx, b)
	if err != nil {
		return domain.WalkerApplication{}, domain.Booking{}, err
	}
	return app, b, nil
}

func (m *memApplicationRepo) Resolve(_ context.Context, applicationID uuid.UUID, status domain.ApplicationStatus) (domain.WalkerApplication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	app, ok := m.apps[applicationID]
	if !ok {
		return domain.WalkerApplication{}, domain.ErrNotFound
	}
	if app.Status != domain.ApplicationPending {
		return domain.WalkerApplication{}, domain.ErrAlreadyResolved
	}
	now := time.Now()
	app.Status = status
	app.RespondedAt = &now
	m.apps[app.ID] = app
	return app, nil
}

var _ repo.ApplicationRepo = (*memApplicationRepo)(nil)

type matchingEnv struct {
	svc      *service.MatchingService
	bookings *memBookingRepo
	apps     *memApplicationRepo
	notifier *mockNotifier
}

func newMatchingEnv(t *testing.T) *matchingEnv {
	t.Helper()
	bookings := newMemBookingRepo()
	apps := newMemApplicationRepo(bookings)
	n := &mockNotifier{}
	svc := service.NewMatchingService(bookings, apps, n, service.NewKeyLock(), testLogger())
	return &matchingEnv{svc: svc, bookings: bookings, apps: apps, notifier: n}
}

// openRequest seeds a published open-request booking.
func (e *matchingEnv) openRequest(t *testing.T) domain.Booking {
	t.Helper()
	b := validBooking()
	b.WalkerID = nil
	b.Method = domain.MethodOpenRequest
	b.State = domain.BookingPending
	b.Published = true
	created, err := e.bookings.Create(context.Background(), b)
	require.NoError(t, err)
	return created
}

// ---- Apply -----------------------------------------------------------------

func TestMatchingService_Apply(t *testing.T) {
	env := newMatchingEnv(t)
	booking := env.openRequest(t)

	got, err := env.svc.Apply(context.Background(), domain.WalkerApplication{
		BookingID: booking.ID,
		WalkerID:  uuid.New(),
		Message:   "free that afternoon",
	})

	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationPending, got.Status)
	assert.Equal(t, 1, env.notifier.sent(notify.EventApplicationPlaced))
}

func TestMatchingService_Apply_NotOpen(t *testing.T) {
	env := newMatchingEnv(t)

	// A direct-selection booking is never open for applications.
	b := validBooking()
	b.State = domain.BookingPending
	created, err := env.bookings.Create(context.Background(), b)
	require.NoError(t, err)

	_, err = env.svc.Apply(context.Background(), domain.WalkerApplication{
		BookingID: created.ID,
		WalkerID:  uuid.New(),
	})

	assert.ErrorIs(t, err, domain.ErrNotOpen)
}

func TestMatchingService_Apply_Duplicate(t *testing.T) {
	env := newMatchingEnv(t)
	booking := env.openRequest(t)
	walker := uuid.New()

	app := domain.WalkerApplication{BookingID: booking.ID, WalkerID: walker}
	_, err := env.svc.Apply(context.Background(), app)
	require.NoError(t, err)

	_, err = env.svc.Apply(context.Background(), app)

	assert.ErrorIs(t, err, domain.ErrDuplicateApplication)
}

func TestMatchingService_Apply_OwnBooking(t *testing.T) {
	env := newMatchingEnv(t)
	booking := env.openRequest(t)

	_, err := env.svc.Apply(context.Background(), domain.WalkerApplication{
		BookingID: booking.ID,
		WalkerID:  booking.RequesterID,
	})

	assert.ErrorIs(t, err, domain.ErrValidation)
}

// ---- Respond ---------------------------------------------------------------

// TestMatchingService_Respond_AcceptBindsAndRejectsSiblings walks the full
// open-request flow: two walkers apply, the requester accepts one, the
// booking binds that walker and the other application is rejected.
func TestMatchingService_Respond_AcceptBindsAndRejectsSiblings(t *testing.T) {
	env := newMatchingEnv(t)
	ctx := context.Background()
	booking := env.openRequest(t)

	price := 28000.0
	app1, err := env.svc.Apply(ctx, domain.WalkerApplication{
		BookingID: booking.ID, WalkerID: uuid.New(), ProposedPrice: &price,
	})
	require.NoError(t, err)
	app2, err := env.svc.Apply(ctx, domain.WalkerApplication{
		BookingID: booking.ID, WalkerID: uuid.New(),
	})
	require.NoError(t, err)

	got, err := env.svc.Respond(ctx, app1.ID, booking.RequesterID, true)

	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationConfirmed, got.Status)

	bound, err := env.bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	require.NotNil(t, bound.WalkerID)
	assert.Equal(t, app1.WalkerID, *bound.WalkerID)
	require.NotNil(t, bound.Price)
	assert.Equal(t, price, *bound.Price)
	assert.False(t, bound.Published, "accepted booking leaves the pool")
	assert.Equal(t, domain.BookingPending, bound.State, "binding does not confirm; the walker does")

	sibling, err := env.apps.GetByID(ctx, app2.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationRejected, sibling.Status)
}

func TestMatchingService_Respond_Reject(t *testing.T) {
	env := newMatchingEnv(t)
	ctx := context.Background()
	booking := env.openRequest(t)

	app, err := env.svc.Apply(ctx, domain.WalkerApplication{BookingID: booking.ID, WalkerID: uuid.New()})
	require.NoError(t, err)

	got, err := env.svc.Respond(ctx, app.ID, booking.RequesterID, false)

	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationRejected, got.Status)

	// Rejecting one application leaves the booking open.
	b, err := env.bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	assert.True(t, b.OpenForApplications())
}

func TestMatchingService_Respond_NotRequester(t *testing.T) {
	env := newMatchingEnv(t)
	ctx := context.Background()
	booking := env.openRequest(t)

	app, err := env.svc.Apply(ctx, domain.WalkerApplication{BookingID: booking.ID, WalkerID: uuid.New()})
	require.NoError(t, err)

	_, err = env.svc.Respond(ctx, app.ID, uuid.New(), true)

	assert.ErrorIs(t, err, domain.ErrNoAccess)
}

// TestMatchingService_Respond_ConcurrentAcceptExactlyOne fires two accepts
// for different applications on the same booking at once. The per-booking
// lock plus the repo's pending-only guard mean exactly one wins.
func TestMatchingService_Respond_ConcurrentAcceptExactlyOne(t *testing.T) {
	env := newMatchingEnv(t)
	ctx := context.Background()
	booking := env.openRequest(t)

	app1, err := env.svc.Apply(ctx, domain.WalkerApplication{BookingID: booking.ID, WalkerID: uuid.New()})
	require.NoError(t, err)
	app2, err := env.svc.Apply(ctx, domain.WalkerApplication{BookingID: booking.ID, WalkerID: uuid.New()})
	require.NoError(t, err)

	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for _, id := range []uuid.UUID{app1.ID, app2.ID} {
		id := id
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.Respond(ctx, id, booking.RequesterID, true)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok, failed int
	for err := range errs {
		if err == nil {
			ok++
		} else {
			failed++
		}
	}
	assert.Equal(t, 1, ok, "exactly one accept must win")
	assert.Equal(t, 1, failed)

	b, err := env.bookings.GetByID(ctx, booking.ID)
	require.NoError(t, err)
	require.NotNil(t, b.WalkerID, "the booking ends bound to exactly one walker")
}

// ---- Withdraw --------------------------------------------------------------

func TestMatchingService_Withdraw(t *testing.T) {
	env := newMatchingEnv(t)
	ctx := context.Background()
	booking := env.openRequest(t)
	walker := uuid.New()

	app, err := env.svc.Apply(ctx, domain.WalkerApplication{BookingID: booking.ID, WalkerID: walker})
	require.NoError(t, err)

	got, err := env.svc.Withdraw(ctx, app.ID, walker)

	require.NoError(t, err)
	assert.Equal(t, domain.ApplicationWithdrawn, got.Status)
}

func TestMatchingService_Withdraw_NotOwn(t *testing.T) {
	env := newMatchingEnv(t)
	ctx := context.Background()
	booking := env.openRequest(t)

	app, err := env.svc.Apply(ctx, domain.WalkerApplication{BookingID: booking.ID, WalkerID: uuid.New()})
	require.NoError(t, err)

	_, err = env.svc.Withdraw(ctx, app.ID, uuid.New())

	assert.ErrorIs(t, err, domain.ErrNoAccess)
}

// ---- Publish & lists -------------------------------------------------------

func TestMatchingService_Publish_Republishes(t *testing.T) {
	env := newMatchingEnv(t)
	ctx := context.Background()

	b := validBooking()
	b.WalkerID = nil
	b.Method = domain.MethodOpenRequest
	b.State = domain.BookingPending
	b.Published = false
	created, err := env.bookings.Create(ctx, b)
	require.NoError(t, err)

	got, err := env.svc.Publish(ctx, created.ID, created.RequesterID)

	require.NoError(t, err)
	assert.True(t, got.Published)
}

func TestMatchingService_Publish_IneligibleNoOp(t *testing.T) {
	env := newMatchingEnv(t)
	ctx := context.Background()

	// Walker-selection bookings are never pool-eligible.
	b := validBooking()
	b.State = domain.BookingPending
	created, err := env.bookings.Create(ctx, b)
	require.NoError(t, err)

	got, err := env.svc.Publish(ctx, created.ID, created.RequesterID)

	require.NoError(t, err)
	assert.False(t, got.Published)
}

func TestMatchingService_ListApplications_RequesterOnly(t *testing.T) {
	env := newMatchingEnv(t)
	ctx := context.Background()
	booking := env.openRequest(t)

	_, err := env.svc.Apply(ctx, domain.WalkerApplication{BookingID: booking.ID, WalkerID: uuid.New()})
	require.NoError(t, err)

	apps, err := env.svc.ListApplications(ctx, booking.ID, booking.RequesterID)
	require.NoError(t, err)
	assert.Len(t, apps, 1)

	_, err = env.svc.ListApplications(ctx, booking.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNoAccess)
}
