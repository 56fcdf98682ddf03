package models

// EmailEvent records a delivery event reported by the mail provider webhook.
type EmailEvent struct {
	Base
	MessageID string `gorm:"uniqueIndex;not null" json:"message_id"` // svix-id
	Type      string `gorm:"not null;index" json:"type"`
	EmailID   string `gorm:"index" json:"email_id"`
	Recipient string `gorm:"index" json:"recipient"`
	Payload   string `json:"-"`
}

func (EmailEvent) TableName() string {
	return "email_events"
}
