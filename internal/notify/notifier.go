package notify

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/backstage/services/auctions/config"
	"example.com/backstage/services/auctions/internal/models"
)

// Snapshot is the auction state attached to a notification
type Snapshot struct {
	ID           uuid.UUID     `json:"id"`
	Title        string        `json:"title"`
	SellerID     string        `json:"seller_id"`
	Category     string        `json:"category"`
	Status       models.Status `json:"status"`
	CurrentPrice int64         `json:"current_price"`
	BidCount     int           `json:"bid_count"`
	EndDate      time.Time     `json:"end_date"`
	WinnerID     *string       `json:"winner_id,omitempty"`
	FinalPrice   *int64        `json:"final_price,omitempty"`
}

// SnapshotOf captures the fields recipients need from a
func SnapshotOf(a *models.Auction) Snapshot {
	return Snapshot{
		ID:           a.ID,
		Title:        a.Title,
		SellerID:     a.SellerID,
		Category:     a.Category,
		Status:       a.Status,
		CurrentPrice: a.CurrentPrice,
		BidCount:     a.BidCount,
		EndDate:      a.EndDate,
		WinnerID:     a.WinnerID,
		FinalPrice:   a.FinalPrice,
	}
}

// Message is the wire body published for every notification
type Message struct {
	ID         uuid.UUID      `json:"id"`
	Event      string         `json:"event"`
	Recipients []string       `json:"recipients"`
	Auction    Snapshot       `json:"auction"`
	Data       map[string]any `json:"data,omitempty"`
	SentAt     time.Time      `json:"sent_at"`
}

// Notifier delivers notifications to the email/push pipeline
type Notifier interface {
	Notify(ctx context.Context, event string, recipients []string, snapshot Snapshot, extra map[string]any) error
	Close() error
}

func newMessage(event string, recipients []string, snapshot Snapshot, extra map[string]any) Message {
	return Message{
		ID:         uuid.New(),
		Event:      event,
		Recipients: recipients,
		Auction:    snapshot,
		Data:       extra,
		SentAt:     time.Now().UTC(),
	}
}

// New builds the notifier selected by cfg.Notify.Transport
func New(cfg config.Config) (Notifier, error) {
	switch strings.ToLower(cfg.Notify.Transport) {
	case "azure":
		return NewAzureNotifier(cfg.Azure)
	case "rabbitmq":
		return NewRabbitNotifier(cfg.RabbitMQ)
	case "", "log":
		return NewLogNotifier(), nil
	}
	return nil, errors.Errorf("unknown notify transport %q", cfg.Notify.Transport)
}

// LogNotifier writes notifications to the log only
type LogNotifier struct{}

// NewLogNotifier creates a log-only notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

// Notify logs the notification
func (LogNotifier) Notify(_ context.Context, event string, recipients []string, snapshot Snapshot, extra map[string]any) error {
	log.Info().
		Str("event", event).
		Strs("recipients", recipients).
		Str("auction_id", snapshot.ID.String()).
		Interface("data", extra).
		Msg("notification")
	return nil
}

// Close is a no-op
func (LogNotifier) Close() error {
	return nil
}
