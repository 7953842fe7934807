package models

import (
	"github.com/pkg/errors"
	"gorm.io/gorm"
)

// User is the read-only projection of the account service's users table
type User struct {
	ID                     string `gorm:"primaryKey" json:"id"`
	Email                  string `json:"email"`
	Name                   string `json:"name"`
	Role                   string `json:"role"`
	Active                 bool   `json:"active"`
	NotificationsOptOut    bool   `json:"notifications_opt_out"`
	PaymentCustomerID      string `json:"-"`
	DefaultPaymentMethodID string `json:"-"`
}

// CategoryCommissionRate is the read-only flat commission estimate per category
type CategoryCommissionRate struct {
	Category         string `gorm:"primaryKey" json:"category"`
	CommissionAmount int64  `gorm:"not null" json:"commission_amount"`
}

// SetupModels migrates the tables this service owns. Users and category rates
// belong to other services and are only read.
func SetupModels(db *gorm.DB) error {
	err := db.AutoMigrate(
		&Auction{},
		&PaymentAuthorization{},
		&ScheduledJob{},
		&OutboxEvent{},
	)
	if err != nil {
		return errors.Wrap(err, "failed to run auto migrations")
	}
	return nil
}
