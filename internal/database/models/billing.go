package models

import "time"

// Subscription mirrors a billing provider subscription for one billing entity
// (an organization id, or a user id when the user has no active organization).
type Subscription struct {
	Base
	EntityID         string     `gorm:"not null;index" json:"entity_id"`
	SubscriptionID   string     `gorm:"not null;uniqueIndex" json:"subscription_id"`
	CustomerID       string     `gorm:"index" json:"customer_id"`
	ProductID        string     `json:"product_id"`
	Status           string     `gorm:"not null" json:"status"`
	CurrentPeriodEnd *time.Time `json:"current_period_end,omitempty"`
	CanceledAt       *time.Time `json:"canceled_at,omitempty"`
}

func (Subscription) TableName() string {
	return "subscriptions"
}
