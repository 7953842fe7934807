package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/models"
	"example.com/backstage/services/auctions/internal/repositories"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func int64p(v int64) *int64 { return &v }

// memStore is an in-memory AuctionStore with the same version check as the
// database repository
type memStore struct {
	mu        sync.Mutex
	auctions  map[uuid.UUID]*models.Auction
	intents   map[uuid.UUID][]auction.Intent
	conflicts int
	saves     int
}

func newMemStore() *memStore {
	return &memStore{
		auctions: make(map[uuid.UUID]*models.Auction),
		intents:  make(map[uuid.UUID][]auction.Intent),
	}
}

func (s *memStore) put(a *models.Auction) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[a.ID] = a.Clone()
}

func (s *memStore) current(id uuid.UUID) *models.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auctions[id].Clone()
}

func (s *memStore) recorded(id uuid.UUID) auction.Effects {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(auction.Effects(nil), s.intents[id]...)
}

func (s *memStore) Get(_ context.Context, id uuid.UUID) (*models.Auction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.auctions[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return a.Clone(), nil
}

func (s *memStore) Create(_ context.Context, a *models.Auction, intents []auction.Intent) ([]models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.auctions[a.ID] = a.Clone()
	return s.record(a.ID, intents), nil
}

func (s *memStore) Save(_ context.Context, a *models.Auction, expectedVersion int, intents []auction.Intent) ([]models.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflicts > 0 {
		s.conflicts--
		return nil, repositories.ErrVersionConflict
	}
	cur, ok := s.auctions[a.ID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return nil, repositories.ErrVersionConflict
	}
	s.auctions[a.ID] = a.Clone()
	s.saves++
	return s.record(a.ID, intents), nil
}

func (s *memStore) Delete(_ context.Context, a *models.Auction, expectedVersion int, intents []auction.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.auctions[a.ID]
	if !ok {
		return repositories.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return repositories.ErrVersionConflict
	}
	delete(s.auctions, a.ID)
	s.record(a.ID, intents)
	return nil
}

func (s *memStore) record(id uuid.UUID, intents []auction.Intent) []models.OutboxEvent {
	s.intents[id] = append(s.intents[id], intents...)
	var events []models.OutboxEvent
	for i, in := range intents {
		if in.IsJobIntent() {
			continue
		}
		body, _ := json.Marshal(in.Payload)
		events = append(events, models.OutboxEvent{
			ID:        uuid.New(),
			AuctionID: id,
			Position:  i,
			Kind:      in.OutboxKind(),
			Payload:   body,
			Status:    models.OutboxPending,
		})
	}
	return events
}

func (s *memStore) filter(match func(*models.Auction) bool) []models.Auction {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Auction
	for _, a := range s.auctions {
		if match(a) {
			out = append(out, *a.Clone())
		}
	}
	return out
}

func (s *memStore) ListEndingBetween(_ context.Context, from, to time.Time, _ int) ([]models.Auction, error) {
	return s.filter(func(a *models.Auction) bool {
		return a.Status == models.StatusActive && a.EndDate.After(from) && !a.EndDate.After(to)
	}), nil
}

func (s *memStore) ListWithOpenOffers(_ context.Context, _ int) ([]models.Auction, error) {
	return s.filter(func(a *models.Auction) bool {
		for _, o := range a.Offers {
			if o.Status == models.OfferPending || o.Status == models.OfferCountered {
				return true
			}
		}
		return false
	}), nil
}

func (s *memStore) ListMissingJobs(_ context.Context, now time.Time, _ int) ([]models.Auction, error) {
	return s.filter(func(a *models.Auction) bool {
		return (a.Status == models.StatusApproved && !a.StartDate.After(now)) ||
			(a.Status == models.StatusActive && !a.EndDate.After(now))
	}), nil
}

func (s *memStore) ListUnsettled(_ context.Context, olderThan time.Time, _ int) ([]models.Auction, error) {
	return s.filter(func(a *models.Auction) bool {
		if !a.Status.IsSold() {
			return false
		}
		switch a.PaymentStatus {
		case models.PaymentPending:
			return true
		case models.PaymentProcessing:
			return a.UpdatedAt.Before(olderThan)
		}
		return false
	}), nil
}

// recordingEnqueuer captures dispatched events instead of running them
type recordingEnqueuer struct {
	mu     sync.Mutex
	events []models.OutboxEvent
}

func (r *recordingEnqueuer) Enqueue(_ context.Context, events []models.OutboxEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, events...)
}

func (r *recordingEnqueuer) kinds() []models.OutboxKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.OutboxKind
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

func newTestService(t *testing.T, store *memStore) (*AuctionService, *recordingEnqueuer) {
	t.Helper()
	svc := NewAuctionService(store, nil, nil, 50)
	svc.now = func() time.Time { return t0.Add(time.Hour) }
	enq := &recordingEnqueuer{}
	svc.SetDispatcher(enq)
	return svc, enq
}

func seedAuction(t *testing.T, store *memStore, mode models.SaleMode, status models.Status, mutate func(*auction.CreateInput)) *models.Auction {
	t.Helper()
	in := auction.CreateInput{
		Title:        "Vintage road bike",
		Category:     "sports",
		SaleMode:     mode,
		StartPrice:   1000,
		BidIncrement: 100,
		StartDate:    t0,
		EndDate:      t0.Add(24 * time.Hour),
	}
	if mode == models.SaleModeBuyNow {
		in.BuyNowPrice = int64p(8000)
	}
	if mutate != nil {
		mutate(&in)
	}
	a, err := auction.New("seller", in, t0.Add(-time.Hour))
	require.NoError(t, err)
	a.Status = status
	store.put(a)
	return a
}
