package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/petmily/walk-engine/internal/domain"
	"github.com/petmily/walk-engine/internal/handler"
	"github.com/petmily/walk-engine/internal/middleware"
)

// Function-field mocks for the Servicer interfaces. Only the fields a test
// sets are callable; an unexpected call panics on the nil field, which is
// exactly what we want in a handler test.

type mockBookingSvc struct {
	create          func(ctx context.Context, b domain.Booking) (domain.Booking, error)
	confirm         func(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error)
	start           func(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error)
	complete        func(ctx context.Context, bookingID, actor uuid.UUID, closingNotes string) (domain.Booking, error)
	cancel          func(ctx context.Context, bookingID, actor uuid.UUID, reason string) (domain.Booking, error)
	getByID         func(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error)
	listByRequester func(ctx context.Context, requesterID uuid.UUID) ([]domain.Booking, error)
	listByWalker    func(ctx context.Context, walkerID uuid.UUID) ([]domain.Booking, error)
}

func (m *mockBookingSvc) Create(ctx context.Context, b domain.Booking) (domain.Booking, error) {
	return m.create(ctx, b)
}
func (m *mockBookingSvc) Confirm(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error) {
	return m.confirm(ctx, bookingID, actor)
}
func (m *mockBookingSvc) Start(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error) {
	return m.start(ctx, bookingID, actor)
}
func (m *mockBookingSvc) Complete(ctx context.Context, bookingID, actor uuid.UUID, closingNotes string) (domain.Booking, error) {
	return m.complete(ctx, bookingID, actor, closingNotes)
}
func (m *mockBookingSvc) Cancel(ctx context.Context, bookingID, actor uuid.UUID, reason string) (domain.Booking, error) {
	return m.cancel(ctx, bookingID, actor, reason)
}
func (m *mockBookingSvc) GetByID(ctx context.Context, bookingID uuid.UUID) (domain.Booking, error) {
	return m.getByID(ctx, bookingID)
}
func (m *mockBookingSvc) ListByRequester(ctx context.Context, requesterID uuid.UUID) ([]domain.Booking, error) {
	return m.listByRequester(ctx, requesterID)
}
func (m *mockBookingSvc) ListByWalker(ctx context.Context, walkerID uuid.UUID) ([]domain.Booking, error) {
	return m.listByWalker(ctx, walkerID)
}

var _ handler.BookingServicer = (*mockBookingSvc)(nil)

type mockMatchingSvc struct {
	publish          func(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error)
	listOpen         func(ctx context.Context, p domain.PaginationParams) ([]domain.Booking, int64, error)
	apply            func(ctx context.Context, app domain.WalkerApplication) (domain.WalkerApplication, error)
	respond          func(ctx context.Context, applicationID, actor uuid.UUID, accept bool) (domain.WalkerApplication, error)
	withdraw         func(ctx context.Context, applicationID, walkerID uuid.UUID) (domain.WalkerApplication, error)
	listApplications func(ctx context.Context, bookingID, actor uuid.UUID) ([]domain.WalkerApplication, error)
}

func (m *mockMatchingSvc) Publish(ctx context.Context, bookingID, actor uuid.UUID) (domain.Booking, error) {
	return m.publish(ctx, bookingID, actor)
}
func (m *mockMatchingSvc) ListOpen(ctx context.Context, p domain.PaginationParams) ([]domain.Booking, int64, error) {
	return m.listOpen(ctx, p)
}
func (m *mockMatchingSvc) Apply(ctx context.Context, app domain.WalkerApplication) (domain.WalkerApplication, error) {
	return m.apply(ctx, app)
}
func (m *mockMatchingSvc) Respond(ctx context.Context, applicationID, actor uuid.UUID, accept bool) (domain.WalkerApplication, error) {
	return m.respond(ctx, applicationID, actor, accept)
}
func (m *mockMatchingSvc) Withdraw(ctx context.Context, applicationID, walkerID uuid.UUID) (domain.WalkerApplication, error) {
	return m.withdraw(ctx, applicationID, walkerID)
}
func (m *mockMatchingSvc) ListApplications(ctx context.Context, bookingID, actor uuid.UUID) ([]domain.WalkerApplication, error) {
	return m.listApplications(ctx, bookingID, actor)
}

var _ handler.MatchingServicer = (*mockMatchingSvc)(nil)

type mockNegotiationSvc struct {
	propose       func(ctx context.Context, cr domain.ChangeRequest) (domain.ChangeRequest, error)
	respond       func(ctx context.Context, requestID, actor uuid.UUID, accept bool, responseNote string) (domain.ChangeRequest, error)
	listByBooking func(ctx context.Context, bookingID, actor uuid.UUID) ([]domain.ChangeRequest, error)
}

func (m *mockNegotiationSvc) Propose(ctx context.Context, cr domain.ChangeRequest) (domain.ChangeRequest, error) {
	return m.propose(ctx, cr)
}
func (m *mockNegotiationSvc) Respond(ctx context.Context, requestID, actor uuid.UUID, accept bool, responseNote string) (domain.ChangeRequest, error) {
	return m.respond(ctx, requestID, actor, accept, responseNote)
}
func (m *mockNegotiationSvc) ListByBooking(ctx context.Context, bookingID, actor uuid.UUID) ([]domain.ChangeRequest, error) {
	return m.listByBooking(ctx, bookingID, actor)
}

var _ handler.NegotiationServicer = (*mockNegotiationSvc)(nil)

type mockTrackingSvc struct {
	ingest             func(ctx context.Context, sessionID uuid.UUID, p domain.TrackPoint) error
	statistics         func(ctx context.Context, sessionID uuid.UUID) (domain.WalkStatistics, error)
	path               func(ctx context.Context, sessionID uuid.UUID) ([]domain.TrackPoint, domain.WalkStatistics, error)
	pointsSince        func(ctx context.Context, sessionID uuid.UUID, after time.Time) ([]domain.TrackPoint, error)
	requestTermination func(ctx context.Context, sessionID, requestedBy uuid.UUID, reason string) error
	recordPhoto        func(ctx context.Context, sessionID uuid.UUID, slot domain.PhotoSlot, uri string) error
}

func (m *mockTrackingSvc) Ingest(ctx context.Context, sessionID uuid.UUID, p domain.TrackPoint) error {
	return m.ingest(ctx, sessionID, p)
}
func (m *mockTrackingSvc) Statistics(ctx context.Context, sessionID uuid.UUID) (domain.WalkStatistics, error) {
	return m.statistics(ctx, sessionID)
}
func (m *mockTrackingSvc) Path(ctx context.Context, sessionID uuid.UUID) ([]domain.TrackPoint, domain.WalkStatistics, error) {
	return m.path(ctx, sessionID)
}
func (m *mockTrackingSvc) PointsSince(ctx context.Context, sessionID uuid.UUID, after time.Time) ([]domain.TrackPoint, error) {
	return m.pointsSince(ctx, sessionID, after)
}
func (m *mockTrackingSvc) RequestTermination(ctx context.Context, sessionID, requestedBy uuid.UUID, reason string) error {
	return m.requestTermination(ctx, sessionID, requestedBy, reason)
}
func (m *mockTrackingSvc) RecordPhoto(ctx context.Context, sessionID uuid.UUID, slot domain.PhotoSlot, uri string) error {
	return m.recordPhoto(ctx, sessionID, slot, uri)
}

var _ handler.TrackingServicer = (*mockTrackingSvc)(nil)

type mockEmergencySvc struct {
	raise         func(ctx context.Context, report domain.EmergencyReport) (domain.EmergencyReport, error)
	listByBooking func(ctx context.Context, bookingID uuid.UUID) ([]domain.EmergencyReport, error)
}

func (m *mockEmergencySvc) Raise(ctx context.Context, report domain.EmergencyReport) (domain.EmergencyReport, error) {
	return m.raise(ctx, report)
}
func (m *mockEmergencySvc) ListByBooking(ctx context.Context, bookingID uuid.UUID) ([]domain.EmergencyReport, error) {
	return m.listByBooking(ctx, bookingID)
}

var _ handler.EmergencyServicer = (*mockEmergencySvc)(nil)

// testServer bundles the mocks behind an identity-guarded router, the same
// shape main.go wires in production.
type testServer struct {
	http.Handler
	bookings    *mockBookingSvc
	matching    *mockMatchingSvc
	negotiation *mockNegotiationSvc
	tracking    *mockTrackingSvc
	emergencies *mockEmergencySvc
}

func newTestServer() *testServer {
	ts := &testServer{
		bookings:    &mockBookingSvc{},
		matching:    &mockMatchingSvc{},
		negotiation: &mockNegotiationSvc{},
		tracking:    &mockTrackingSvc{},
		emergencies: &mockEmergencySvc{},
	}
	s := handler.NewServer(ts.bookings, ts.matching, ts.negotiation, ts.tracking, ts.emergencies)
	ts.Handler = middleware.NewIdentityHandler()(s.Routes())
	return ts
}

// do performs a request as the given actor and returns the recorder.
func (ts *testServer) do(t *testing.T, method, target string, actor uuid.UUID, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("X-User-ID", actor.String())
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	ts.ServeHTTP(rec, req)
	return rec
}

// plainRequest builds a request without the identity header.
func plainRequest(t *testing.T, method, target string) (*http.Request, *httptest.ResponseRecorder) {
	t.Helper()
	return httptest.NewRequest(method, target, nil), httptest.NewRecorder()
}

// decodeBody decodes the recorder's JSON body into v.
func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}
