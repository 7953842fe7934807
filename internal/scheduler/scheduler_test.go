package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/auctions/config"
	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/metrics"
	"example.com/backstage/services/auctions/internal/models"
)

type MockJobStore struct {
	mock.Mock
}

func (m *MockJobStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledJob, error) {
	args := m.Called(ctx, now, limit)
	return args.Get(0).([]models.ScheduledJob), args.Error(1)
}

func (m *MockJobStore) Complete(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockJobStore) Release(ctx context.Context, job models.ScheduledJob, cause error, retryAt time.Time, maxAttempts int) error {
	return m.Called(ctx, job.ID, cause, retryAt, maxAttempts).Error(0)
}

func (m *MockJobStore) RequeueStale(ctx context.Context, lockedBefore time.Time, maxAttempts int) (int64, error) {
	args := m.Called(ctx, lockedBefore, maxAttempts)
	return args.Get(0).(int64), args.Error(1)
}

type MockLifecycle struct {
	mock.Mock
}

func (m *MockLifecycle) ActivateAuction(ctx context.Context, id uuid.UUID) error {
	return m.Called(ctx, id).Error(0)
}

func (m *MockLifecycle) CloseAuction(ctx context.Context, id uuid.UUID) (auction.CloseOutcome, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(auction.CloseOutcome), args.Error(1)
}

func (m *MockLifecycle) SweepEndingSoon(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockLifecycle) ExpireOffers(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

func (m *MockLifecycle) Reconcile(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}

type stubOutbox struct{}

func (stubOutbox) ProcessPending(context.Context) (int, error) { return 0, nil }

type stubSettlements struct{ settled int }

func (s stubSettlements) SettleOverdue(context.Context, time.Duration) (int, error) {
	return s.settled, nil
}

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestScheduler(t *testing.T, jobs *MockJobStore, lc *MockLifecycle, m *metrics.Metrics) *Scheduler {
	t.Helper()
	s, err := New(config.SchedulerConfig{BatchSize: 10, LeaseTimeout: time.Minute}, jobs, lc, stubOutbox{}, stubSettlements{settled: 1}, nil, m, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return now }
	return s
}

func TestFireDueJobsCompletesAndReleases(t *testing.T) {
	jobs := new(MockJobStore)
	lc := new(MockLifecycle)
	m := metrics.NewMetrics()
	s := newTestScheduler(t, jobs, lc, m)

	activate := models.ScheduledJob{ID: uuid.New(), AuctionID: uuid.New(), Kind: models.JobActivate, Status: models.JobRunning, Attempts: 1}
	end := models.ScheduledJob{ID: uuid.New(), AuctionID: uuid.New(), Kind: models.JobEnd, Status: models.JobRunning, Attempts: 1}
	boom := errors.New("database unavailable")

	jobs.On("ClaimDue", mock.Anything, now, 10).Return([]models.ScheduledJob{activate, end}, nil)
	lc.On("ActivateAuction", mock.Anything, activate.AuctionID).Return(nil)
	lc.On("CloseAuction", mock.Anything, end.AuctionID).Return(auction.CloseNoop, boom)
	jobs.On("Complete", mock.Anything, activate.ID).Return(nil)
	jobs.On("Release", mock.Anything, end.ID, boom, now.Add(30*time.Second), 10).Return(nil)

	fired, err := s.FireDueJobs(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fired)
	require.Equal(t, int64(1), m.GetCounters()[metrics.JobsFired])
	require.Equal(t, int64(1), m.GetCounters()[metrics.JobsFailed])

	jobs.AssertExpectations(t)
	lc.AssertExpectations(t)
}

func TestFireDueJobsPropagatesClaimError(t *testing.T) {
	jobs := new(MockJobStore)
	lc := new(MockLifecycle)
	s := newTestScheduler(t, jobs, lc, nil)

	jobs.On("ClaimDue", mock.Anything, now, 10).Return([]models.ScheduledJob(nil), errors.New("timeout"))

	_, err := s.FireDueJobs(context.Background())
	require.Error(t, err)
	lc.AssertNotCalled(t, "ActivateAuction", mock.Anything, mock.Anything)
}

func TestReconcileRequeuesReschedulesAndSettles(t *testing.T) {
	jobs := new(MockJobStore)
	lc := new(MockLifecycle)
	s := newTestScheduler(t, jobs, lc, nil)

	jobs.On("RequeueStale", mock.Anything, now.Add(-time.Minute), 10).Return(int64(2), nil)
	lc.On("Reconcile", mock.Anything).Return(3, nil)

	n, err := s.reconcile(context.Background())
	require.NoError(t, err)
	require.Equal(t, 6, n)
}

func TestPassesSkipUnconfiguredIntervals(t *testing.T) {
	s := newTestScheduler(t, new(MockJobStore), new(MockLifecycle), nil)
	for _, p := range s.passes() {
		require.Zero(t, p.interval, p.name)
	}
	require.Len(t, s.passes(), 5)
}

func TestFailedJobBacksOffAndStopsAtMaxAttempts(t *testing.T) {
	jobs := new(MockJobStore)
	lc := new(MockLifecycle)
	s, err := New(config.SchedulerConfig{BatchSize: 10, JobMaxAttempts: 4, JobRetryBackoff: time.Minute}, jobs, lc, stubOutbox{}, nil, nil, nil, nil)
	require.NoError(t, err)
	s.now = func() time.Time { return now }

	job := models.ScheduledJob{ID: uuid.New(), AuctionID: uuid.New(), Kind: models.JobEnd, Status: models.JobRunning, Attempts: 3}
	boom := errors.New("payment gateway down")

	jobs.On("ClaimDue", mock.Anything, now, 10).Return([]models.ScheduledJob{job}, nil)
	lc.On("CloseAuction", mock.Anything, job.AuctionID).Return(auction.CloseNoop, boom)
	jobs.On("Release", mock.Anything, job.ID, boom, now.Add(4*time.Minute), 4).Return(nil)

	fired, err := s.FireDueJobs(context.Background())
	require.NoError(t, err)
	require.Zero(t, fired)
	jobs.AssertExpectations(t)
}

func TestRetryDelayDoublesUpToCap(t *testing.T) {
	s := newTestScheduler(t, new(MockJobStore), new(MockLifecycle), nil)

	require.Equal(t, now.Add(30*time.Second), s.retryAt(1))
	require.Equal(t, now.Add(time.Minute), s.retryAt(2))
	require.Equal(t, now.Add(2*time.Minute), s.retryAt(3))
	require.Equal(t, now.Add(maxJobBackoff), s.retryAt(50))
}

type staticTracer struct {
	txn *newrelic.Transaction
}

func (s staticTracer) StartTransaction(string) *newrelic.Transaction           { return s.txn }
func (s staticTracer) EndTransaction(*newrelic.Transaction)                    {}
func (s staticTracer) RecordError(*newrelic.Transaction, error)                {}
func (s staticTracer) AddAttribute(*newrelic.Transaction, string, interface{}) {}
func (s staticTracer) Application() *newrelic.Application                      { return nil }
func (s staticTracer) Close()                                                  {}

func TestPassRunsInsideItsTransaction(t *testing.T) {
	txn := &newrelic.Transaction{}
	s, err := New(config.SchedulerConfig{}, new(MockJobStore), new(MockLifecycle), stubOutbox{}, nil, nil, nil, staticTracer{txn: txn})
	require.NoError(t, err)

	var seen *newrelic.Transaction
	s.runPass(context.Background(), pass{name: "ending-soon", run: func(ctx context.Context) (int, error) {
		seen = newrelic.FromContext(ctx)
		return 0, nil
	}})
	require.Same(t, txn, seen)
}
