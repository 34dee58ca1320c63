package models

import "time"

// Message is one entry in a chat's history. SenderID is the numeric user
// or manager id as text, or one of "ai" and "system".
type Message struct {
	ID            string    `gorm:"primaryKey;size:36"`
	ChatID        string    `gorm:"size:36;not null;index"`
	SenderID      string    `gorm:"size:64;not null"`
	Text          string    `gorm:"type:text"`
	MediaType     string    `gorm:"size:16"`
	MediaFileID   string    `gorm:"size:255"`
	MediaMIMEType string    `gorm:"size:128"`
	MediaFileSize int64
	MediaCaption  string    `gorm:"type:text"`
	CreatedAt     time.Time `gorm:"index"`
}

// HasMedia reports whether the message carries an attachment.
func (m *Message) HasMedia() bool {
	return m.MediaFileID != ""
}
