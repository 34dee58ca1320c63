package models

import "time"

// Chat statuses.
const (
	ChatAIPending = "ai_pending"
	ChatActive    = "active"
	ChatClosed    = "closed"
)

// Chat is one support conversation for a user.
type Chat struct {
	ID               string `gorm:"primaryKey;size:36"`
	UserID           int64  `gorm:"not null;index"`
	UserName         string `gorm:"size:128"`
	ManagerID        *int64
	Status           string `gorm:"size:16;default:ai_pending;index"`
	ManagerRequested bool   `gorm:"default:false"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
	ClosedAt         *time.Time
	ReopenedAt       *time.Time

	Messages []Message `gorm:"foreignKey:ChatID"`
}

// IsClosed reports whether the chat has ended.
func (c *Chat) IsClosed() bool {
	return c.Status == ChatClosed
}
