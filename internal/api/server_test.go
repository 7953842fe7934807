package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/auctions/config"
	"example.com/backstage/services/auctions/internal/api/handlers"
	"example.com/backstage/services/auctions/internal/auction"
	"example.com/backstage/services/auctions/internal/metrics"
	"example.com/backstage/services/auctions/internal/models"
	"example.com/backstage/services/auctions/internal/search"
	"example.com/backstage/services/auctions/internal/services"
)

const testSecret = "test-secret"

type MockAuctions struct {
	mock.Mock
}

func (m *MockAuctions) auction(args mock.Arguments) (*models.Auction, error) {
	a, _ := args.Get(0).(*models.Auction)
	return a, args.Error(1)
}

func (m *MockAuctions) Create(ctx context.Context, actor services.Actor, in auction.CreateInput) (*models.Auction, error) {
	return m.auction(m.Called(ctx, actor, in))
}

func (m *MockAuctions) Get(ctx context.Context, id uuid.UUID) (*models.Auction, error) {
	return m.auction(m.Called(ctx, id))
}

func (m *MockAuctions) UpdateListing(ctx context.Context, id uuid.UUID, actor services.Actor, u auction.ListingUpdate) (*models.Auction, error) {
	return m.auction(m.Called(ctx, id, actor, u))
}

func (m *MockAuctions) Delete(ctx context.Context, id uuid.UUID, actor services.Actor) error {
	return m.Called(ctx, id, actor).Error(0)
}

func (m *MockAuctions) PlaceBid(ctx context.Context, id uuid.UUID, actor services.Actor, amount int64) (*models.Auction, error) {
	return m.auction(m.Called(ctx, id, actor, amount))
}

func (m *MockAuctions) BuyNow(ctx context.Context, id uuid.UUID, actor services.Actor) (*models.Auction, error) {
	return m.auction(m.Called(ctx, id, actor))
}

func (m *MockAuctions) MakeOffer(ctx context.Context, id uuid.UUID, actor services.Actor, amount int64, message string) (*models.Auction, *models.Offer, error) {
	args := m.Called(ctx, id, actor, amount, message)
	a, _ := args.Get(0).(*models.Auction)
	o, _ := args.Get(1).(*models.Offer)
	return a, o, args.Error(2)
}

func (m *MockAuctions) RespondToOffer(ctx context.Context, id, offerID uuid.UUID, actor services.Actor, resp auction.OfferResponse) (*models.Auction, error) {
	return m.auction(m.Called(ctx, id, offerID, actor, resp))
}

func (m *MockAuctions) RespondToCounter(ctx context.Context, id, offerID uuid.UUID, actor services.Actor, accept bool) (*models.Auction, error) {
	return m.auction(m.Called(ctx, id, offerID, actor, accept))
}

func (m *MockAuctions) WithdrawOffer(ctx context.Context, id, offerID uuid.UUID, actor services.Actor) (*models.Auction, error) {
	return m.auction(m.Called(ctx, id, offerID, actor))
}

func (m *MockAuctions) ReactivateOffer(ctx context.Context, id, offerID uuid.UUID, actor services.Actor) (*models.Auction, error) {
	return m.auction(m.Called(ctx, id, offerID, actor))
}

func (m *MockAuctions) Approve(ctx context.Context, id uuid.UUID, actor services.Actor) (*models.Auction, error) {
	return m.auction(m.Called(ctx, id, actor))
}

func (m *MockAuctions) Cancel(ctx context.Context, id uuid.UUID, actor services.Actor) (*models.Auction, error) {
	return m.auction(m.Called(ctx, id, actor))
}

func (m *MockAuctions) Reactivate(ctx context.Context, id uuid.UUID, actor services.Actor, newEnd *time.Time) (*models.Auction, error) {
	return m.auction(m.Called(ctx, id, actor, newEnd))
}

type stubResults struct {
	got search.ResultQuery
}

func (s *stubResults) SearchResults(_ context.Context, q search.ResultQuery) ([]map[string]interface{}, error) {
	s.got = q
	return []map[string]interface{}{{"auction_id": "a1"}}, nil
}

func newTestServer(t *testing.T, m *MockAuctions, results handlers.ResultSearcher) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := config.Config{
		Server: config.ServerConfig{MetricsEnabled: true},
		Auth:   config.AuthConfig{JWTSecret: testSecret, AdminRole: "admin"},
	}
	return NewServer(cfg, Dependencies{
		Auctions: m,
		Admin:    m,
		Results:  results,
		Metrics:  metrics.NewMetrics(),
	}).Router()
}

func token(t *testing.T, sub string, roles ...string) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"roles": roles,
		"exp":   time.Now().Add(time.Hour).Unix(),
	})
	signed, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(t *testing.T, r http.Handler, method, path, bearer string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBidTooLowReturnsMinimum(t *testing.T) {
	m := new(MockAuctions)
	r := newTestServer(t, m, nil)
	id := uuid.New()
	actor := services.Actor{ID: "buyer-1"}

	m.On("PlaceBid", mock.Anything, id, actor, int64(100)).Return(nil, auction.BidTooLow(150))

	w := do(t, r, http.MethodPost, "/api/v1/auctions/"+id.String()+"/bids", token(t, "buyer-1"), gin.H{"amount": 100})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	var resp handlers.ErrorResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "bid_too_low", resp.Error)
	require.Equal(t, int64(150), resp.Minimum)
	m.AssertExpectations(t)
}

func TestRequestsWithoutValidTokenAreRejected(t *testing.T) {
	m := new(MockAuctions)
	r := newTestServer(t, m, nil)
	path := "/api/v1/auctions/" + uuid.NewString()

	require.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, path, "", nil).Code)
	require.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, path, "not-a-jwt", nil).Code)

	forged := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"sub": "buyer-1"})
	signed, err := forged.SignedString([]byte("other-secret"))
	require.NoError(t, err)
	require.Equal(t, http.StatusUnauthorized, do(t, r, http.MethodGet, path, signed, nil).Code)

	m.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestDomainErrorsMapToStatus(t *testing.T) {
	m := new(MockAuctions)
	r := newTestServer(t, m, nil)
	missing, locked, busy := uuid.New(), uuid.New(), uuid.New()

	m.On("Get", mock.Anything, missing).Return(nil, auction.ErrAuctionNotFound)
	m.On("BuyNow", mock.Anything, locked, mock.Anything).Return(nil, auction.ErrSellerCannotParticipate)
	m.On("BuyNow", mock.Anything, busy, mock.Anything).Return(nil, auction.ErrConcurrentUpdate)

	tok := token(t, "buyer-1")
	require.Equal(t, http.StatusNotFound, do(t, r, http.MethodGet, "/api/v1/auctions/"+missing.String(), tok, nil).Code)
	require.Equal(t, http.StatusUnprocessableEntity, do(t, r, http.MethodPost, "/api/v1/auctions/"+locked.String()+"/buy-now", tok, nil).Code)
	require.Equal(t, http.StatusServiceUnavailable, do(t, r, http.MethodPost, "/api/v1/auctions/"+busy.String()+"/buy-now", tok, nil).Code)
	require.Equal(t, http.StatusBadRequest, do(t, r, http.MethodGet, "/api/v1/auctions/not-a-uuid", tok, nil).Code)
}

func TestCreateValidatesBody(t *testing.T) {
	m := new(MockAuctions)
	r := newTestServer(t, m, nil)

	w := do(t, r, http.MethodPost, "/api/v1/auctions", token(t, "seller-1"), gin.H{
		"title":       "Lathe",
		"category":    "tools",
		"sale_mode":   "lottery",
		"start_price": 1000,
		"start_date":  time.Now().Add(time.Hour),
		"end_date":    time.Now().Add(48 * time.Hour),
	})
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	m.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestAdminActorCarriesRole(t *testing.T) {
	m := new(MockAuctions)
	r := newTestServer(t, m, nil)
	id := uuid.New()
	admin := services.Actor{ID: "ops-1", IsAdmin: true}

	m.On("Approve", mock.Anything, id, admin).Return(&models.Auction{ID: id, Status: models.StatusApproved}, nil)

	w := do(t, r, http.MethodPost, "/api/v1/admin/auctions/"+id.String()+"/approve", token(t, "ops-1", "admin"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	m.AssertExpectations(t)
}

func TestResultsRouteIsNotAnAuctionID(t *testing.T) {
	m := new(MockAuctions)
	results := &stubResults{}
	r := newTestServer(t, m, results)

	w := do(t, r, http.MethodGet, "/api/v1/auctions/results?category=tools&size=5", token(t, "buyer-1"), nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "tools", results.got.Category)
	require.Equal(t, 5, results.got.Size)
	m.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestHealthIsPublic(t *testing.T) {
	r := newTestServer(t, new(MockAuctions), nil)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/health", "", nil).Code)
	require.Equal(t, http.StatusOK, do(t, r, http.MethodGet, "/metrics", "", nil).Code)
}
