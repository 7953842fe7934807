package notify

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/backstage/services/auctions/config"
	"example.com/backstage/services/auctions/internal/models"
)

func TestNewSelectsTransport(t *testing.T) {
	n, err := New(config.Config{Notify: config.NotifyConfig{Transport: "log"}})
	require.NoError(t, err)
	require.IsType(t, &LogNotifier{}, n)

	n, err = New(config.Config{})
	require.NoError(t, err)
	require.IsType(t, &LogNotifier{}, n)

	_, err = New(config.Config{Notify: config.NotifyConfig{Transport: "carrier-pigeon"}})
	require.Error(t, err)

	_, err = New(config.Config{Notify: config.NotifyConfig{Transport: "azure"}})
	require.Error(t, err)
}

func TestSnapshotOf(t *testing.T) {
	winner := "B"
	price := int64(4200)
	a := &models.Auction{
		ID:           uuid.New(),
		Title:        "Tractor",
		SellerID:     "seller",
		Status:       models.StatusSold,
		CurrentPrice: 4200,
		BidCount:     3,
		EndDate:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		WinnerID:     &winner,
		FinalPrice:   &price,
	}

	s := SnapshotOf(a)
	require.Equal(t, a.ID, s.ID)
	require.Equal(t, "B", *s.WinnerID)
	require.Equal(t, int64(4200), *s.FinalPrice)
	require.Equal(t, 3, s.BidCount)
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier()
	err := n.Notify(context.Background(), "outbid", []string{"A"}, Snapshot{ID: uuid.New()}, map[string]any{"amount": 10})
	require.NoError(t, err)
	require.NoError(t, n.Close())
	require.Equal(t, "auction.outbid", RoutingKey("outbid"))
}
