package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/metrics"
	"example.com/backstage/services/auctions/internal/models"
	"example.com/backstage/services/auctions/internal/notify"
	"example.com/backstage/services/auctions/internal/payments"
	"example.com/backstage/services/auctions/internal/repositories"
)

type memOutbox struct {
	mu     sync.Mutex
	events map[uuid.UUID]*models.OutboxEvent
	order  []uuid.UUID
	causes map[uuid.UUID]error
}

func newMemOutbox() *memOutbox {
	return &memOutbox{events: make(map[uuid.UUID]*models.OutboxEvent), causes: make(map[uuid.UUID]error)}
}

func (o *memOutbox) add(evs ...models.OutboxEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := range evs {
		ev := evs[i]
		o.events[ev.ID] = &ev
		o.order = append(o.order, ev.ID)
	}
}

func (o *memOutbox) status(id uuid.UUID) models.OutboxStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.events[id].Status
}

func (o *memOutbox) claim(match func(*models.OutboxEvent) bool) []models.OutboxEvent {
	var out []models.OutboxEvent
	for _, id := range o.order {
		ev := o.events[id]
		if ev.Status != models.OutboxPending || !match(ev) {
			continue
		}
		ev.Status = models.OutboxProcessing
		ev.Attempts++
		out = append(out, *ev)
	}
	return out
}

func (o *memOutbox) ClaimByIDs(_ context.Context, ids []uuid.UUID, _ time.Time) ([]models.OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	return o.claim(func(ev *models.OutboxEvent) bool { return want[ev.ID] }), nil
}

func (o *memOutbox) ClaimPending(_ context.Context, _ time.Time, _ time.Duration, _, _ int) ([]models.OutboxEvent, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.claim(func(*models.OutboxEvent) bool { return true }), nil
}

func (o *memOutbox) MarkProcessed(_ context.Context, id uuid.UUID, _ time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events[id].Status = models.OutboxProcessed
	return nil
}

func (o *memOutbox) MarkFailed(_ context.Context, ev models.OutboxEvent, cause error, maxAttempts int) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.causes[ev.ID] = cause
	if ev.Attempts >= maxAttempts {
		o.events[ev.ID].Status = models.OutboxFailed
	} else {
		o.events[ev.ID].Status = models.OutboxPending
	}
	return nil
}

func (o *memOutbox) CountByStatus(_ context.Context) (map[models.OutboxStatus]int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	counts := make(map[models.OutboxStatus]int64)
	for _, ev := range o.events {
		counts[ev.Status]++
	}
	return counts, nil
}

type sentNotification struct {
	event      string
	recipients []string
}

type captureNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
	err  error
}

func (n *captureNotifier) Notify(_ context.Context, event string, recipients []string, _ notify.Snapshot, _ map[string]any) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentNotification{event: event, recipients: recipients})
	return nil
}

func (n *captureNotifier) Close() error { return nil }

type stubDirectory struct {
	users  []models.User
	filter repositories.UserFilter
}

func (s *stubDirectory) FindUsers(_ context.Context, filter repositories.UserFilter) ([]models.User, error) {
	s.filter = filter
	return s.users, nil
}

type stubIndexer struct{ indexed []uuid.UUID }

func (s *stubIndexer) IndexAuctionResult(_ context.Context, a *models.Auction) error {
	s.indexed = append(s.indexed, a.ID)
	return nil
}

type stubSettler struct {
	settled []uuid.UUID
	txns    []*newrelic.Transaction
}

func (s *stubSettler) Settle(ctx context.Context, id uuid.UUID) error {
	s.settled = append(s.settled, id)
	s.txns = append(s.txns, newrelic.FromContext(ctx))
	return nil
}

// staticTracer hands out the same transaction for every call
type staticTracer struct {
	txn   *newrelic.Transaction
	names []string
}

func (s *staticTracer) StartTransaction(name string) *newrelic.Transaction {
	s.names = append(s.names, name)
	return s.txn
}
func (s *staticTracer) EndTransaction(*newrelic.Transaction)                    {}
func (s *staticTracer) RecordError(*newrelic.Transaction, error)                {}
func (s *staticTracer) AddAttribute(*newrelic.Transaction, string, interface{}) {}
func (s *staticTracer) Application() *newrelic.Application                      { return nil }
func (s *staticTracer) Close()                                                  {}

type dispatcherFixture struct {
	store    *memStore
	outbox   *memOutbox
	notifier *captureNotifier
	users    *stubDirectory
	payments *MockPayments
	settler  *stubSettler
	indexer  *stubIndexer
	metrics  *metrics.Metrics
	d        *Dispatcher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	f := &dispatcherFixture{
		store:    newMemStore(),
		outbox:   newMemOutbox(),
		notifier: &captureNotifier{},
		users:    &stubDirectory{},
		payments: new(MockPayments),
		settler:  &stubSettler{},
		indexer:  &stubIndexer{},
		metrics:  metrics.NewMetrics(),
	}
	f.d = NewDispatcher(f.outbox, f.store, f.users, f.notifier, f.payments, f.settler, f.indexer, f.metrics, nil,
		DispatcherConfig{MaxAttempts: 3, AnnounceBatch: 2, AdminRole: "admin"})
	return f
}

func event(t *testing.T, auctionID uuid.UUID, kind models.OutboxKind, p auction.Payload) models.OutboxEvent {
	t.Helper()
	body, err := json.Marshal(p)
	require.NoError(t, err)
	return models.OutboxEvent{ID: uuid.New(), AuctionID: auctionID, Kind: kind, Payload: body, Status: models.OutboxPending}
}

func TestEnqueueDeliversNotification(t *testing.T) {
	f := newDispatcherFixture(t)
	a := seedAuction(t, f.store, models.SaleModeStandard, models.StatusActive, nil)
	ev := event(t, a.ID, models.OutboxNotify, auction.Payload{Event: auction.EventOutbid, Recipients: []string{"alice"}})
	f.outbox.add(ev)

	f.d.Enqueue(context.Background(), []models.OutboxEvent{ev})
	require.NoError(t, f.d.Drain(context.Background()))

	require.Equal(t, []sentNotification{{event: auction.EventOutbid, recipients: []string{"alice"}}}, f.notifier.sent)
	require.Equal(t, models.OutboxProcessed, f.outbox.status(ev.ID))
	require.Equal(t, int64(1), f.metrics.GetCounters()[metrics.OutboxDispatched])
}

func TestFailedDeliveryIsRetriedThenParked(t *testing.T) {
	f := newDispatcherFixture(t)
	f.notifier.err = errors.New("broker unavailable")
	a := seedAuction(t, f.store, models.SaleModeStandard, models.StatusActive, nil)
	ev := event(t, a.ID, models.OutboxNotify, auction.Payload{Event: auction.EventNewBid, Recipients: []string{"seller"}})
	f.outbox.add(ev)

	for i := 0; i < 3; i++ {
		n, err := f.d.ProcessPending(context.Background())
		require.NoError(t, err)
		require.Equal(t, 1, n)
	}
	require.Equal(t, models.OutboxFailed, f.outbox.status(ev.ID))

	n, err := f.d.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Equal(t, int64(3), f.metrics.GetCounters()[metrics.OutboxFailed])
}

func TestAnnounceLiveBatchesRecipients(t *testing.T) {
	f := newDispatcherFixture(t)
	f.users.users = []models.User{{ID: "u1"}, {ID: "u2"}, {ID: "u3"}, {ID: "u4"}, {ID: "u5"}}
	a := seedAuction(t, f.store, models.SaleModeStandard, models.StatusActive, nil)
	ev := event(t, a.ID, models.OutboxAnnounceLive, auction.Payload{Event: auction.EventAuctionLive, UserID: a.SellerID})
	f.outbox.add(ev)

	_, err := f.d.ProcessPending(context.Background())
	require.NoError(t, err)

	require.Len(t, f.notifier.sent, 3)
	require.Equal(t, []string{"u5"}, f.notifier.sent[2].recipients)
	require.Equal(t, []string{"seller"}, f.users.filter.ExcludeIDs)
	require.Equal(t, []string{"admin"}, f.users.filter.ExcludeRoles)
	require.True(t, f.users.filter.ActiveOnly)
	require.True(t, f.users.filter.NotOptedOutOnly)
}

func TestAuthorizeBidderSkipsResolvedLoser(t *testing.T) {
	f := newDispatcherFixture(t)
	a := seedSold(t, f.store, "alice", 5000)
	ev := event(t, a.ID, models.OutboxAuthorizeBidder, auction.Payload{UserID: "bob"})
	f.outbox.add(ev)

	_, err := f.d.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.OutboxProcessed, f.outbox.status(ev.ID))
	f.payments.AssertNotCalled(t, "EnsureBidAuthorization", mock.Anything, mock.Anything, mock.Anything)
}

func TestAuthorizeBidderWithoutRateIsNotRetried(t *testing.T) {
	f := newDispatcherFixture(t)
	a := seedAuction(t, f.store, models.SaleModeStandard, models.StatusActive, nil)
	f.payments.On("EnsureBidAuthorization", mock.Anything, a.ID, "bob").Return(nil, payments.ErrNoCommissionRate)
	ev := event(t, a.ID, models.OutboxAuthorizeBidder, auction.Payload{UserID: "bob"})
	f.outbox.add(ev)

	_, err := f.d.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.OutboxProcessed, f.outbox.status(ev.ID))
	f.payments.AssertExpectations(t)
}

func TestSettleAndIndexRouting(t *testing.T) {
	f := newDispatcherFixture(t)
	a := seedSold(t, f.store, "alice", 5000)
	settle := event(t, a.ID, models.OutboxSettle, auction.Payload{UserID: "alice"})
	index := event(t, a.ID, models.OutboxIndexResult, auction.Payload{})
	f.outbox.add(settle, index)

	n, err := f.d.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.Equal(t, []uuid.UUID{a.ID}, f.settler.settled)
	require.Equal(t, []uuid.UUID{a.ID}, f.indexer.indexed)
}

func TestSideEffectsOfDeletedAuctionAreDropped(t *testing.T) {
	f := newDispatcherFixture(t)
	ev := event(t, uuid.New(), models.OutboxIndexResult, auction.Payload{})
	f.outbox.add(ev)

	_, err := f.d.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, models.OutboxProcessed, f.outbox.status(ev.ID))
	require.Empty(t, f.indexer.indexed)
}

func TestHandlersRunInsideTheEventTransaction(t *testing.T) {
	f := newDispatcherFixture(t)
	tracer := &staticTracer{txn: &newrelic.Transaction{}}
	f.d = NewDispatcher(f.outbox, f.store, f.users, f.notifier, f.payments, f.settler, f.indexer, f.metrics, tracer,
		DispatcherConfig{MaxAttempts: 3})
	a := seedSold(t, f.store, "alice", 5000)
	f.outbox.add(event(t, a.ID, models.OutboxSettle, auction.Payload{UserID: "alice"}))

	_, err := f.d.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"outbox/" + string(models.OutboxSettle)}, tracer.names)
	require.Len(t, f.settler.txns, 1)
	require.Same(t, tracer.txn, f.settler.txns[0])
}
