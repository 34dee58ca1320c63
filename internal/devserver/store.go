package devserver

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zulandar/chatline/internal/models"
)

// historyLimit caps the messages replayed to a connecting client.
const historyLimit = 50

// Store persists chats and their messages.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

// NewStore wraps a migrated database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// LatestChat returns the user's most recent chat, or nil.
func (s *Store) LatestChat(userID int64) (*models.Chat, error) {
	var chat models.Chat
	err := s.db.Where("user_id = ?", userID).Order("created_at DESC").First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("devserver: latest chat for %d: %w", userID, err)
	}
	return &chat, nil
}

// ChatByID returns a chat, or nil when it does not exist.
func (s *Store) ChatByID(id string) (*models.Chat, error) {
	var chat models.Chat
	err := s.db.Where("id = ?", id).First(&chat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("devserver: chat %s: %w", id, err)
	}
	return &chat, nil
}

// CreateChat opens a new AI-pending chat.
func (s *Store) CreateChat(userID int64, userName string) (*models.Chat, error) {
	chat := models.Chat{
		ID:        uuid.NewString(),
		UserID:    userID,
		UserName:  userName,
		Status:    models.ChatAIPending,
		CreatedAt: s.now(),
	}
	if err := s.db.Create(&chat).Error; err != nil {
		return nil, fmt.Errorf("devserver: create chat for %d: %w", userID, err)
	}
	return &chat, nil
}

func (s *Store) update(id string, fields map[string]interface{}) error {
	if err := s.db.Model(&models.Chat{}).Where("id = ?", id).Updates(fields).Error; err != nil {
		return fmt.Errorf("devserver: update chat %s: %w", id, err)
	}
	return nil
}

// Close marks a chat closed.
func (s *Store) Close(id string) error {
	return s.update(id, map[string]interface{}{"status": models.ChatClosed, "closed_at": s.now()})
}

// ResetToAIPending hands a chat back to the assistant. History before the
// reset is no longer replayed.
func (s *Store) ResetToAIPending(id string) error {
	return s.update(id, map[string]interface{}{
		"status":            models.ChatAIPending,
		"closed_at":         nil,
		"manager_requested": false,
		"manager_id":        nil,
		"reopened_at":       s.now(),
	})
}

// Reopen returns a closed chat to the active state.
func (s *Store) Reopen(id string) error {
	return s.update(id, map[string]interface{}{
		"status":            models.ChatActive,
		"closed_at":         nil,
		"manager_requested": false,
		"reopened_at":       s.now(),
	})
}

// RequestManager flags a chat for operator pickup.
func (s *Store) RequestManager(id string) error {
	return s.update(id, map[string]interface{}{"status": models.ChatActive, "manager_requested": true})
}

// AssignManager records the operator who took a chat.
func (s *Store) AssignManager(id string, managerID int64) error {
	return s.update(id, map[string]interface{}{"manager_id": managerID})
}

// AddMessage stores a message, assigning its id and time.
func (s *Store) AddMessage(msg *models.Message) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.now()
	}
	if err := s.db.Create(msg).Error; err != nil {
		return fmt.Errorf("devserver: add message to %s: %w", msg.ChatID, err)
	}
	return nil
}

// History returns the messages shown to the client, oldest first. A
// reopened chat only replays what came after the reopen.
func (s *Store) History(chat *models.Chat) ([]models.Message, error) {
	q := s.db.Where("chat_id = ?", chat.ID)
	if chat.ReopenedAt != nil {
		q = q.Where("created_at >= ?", *chat.ReopenedAt)
	}
	var msgs []models.Message
	if err := q.Order("created_at ASC").Limit(historyLimit).Find(&msgs).Error; err != nil {
		return nil, fmt.Errorf("devserver: history for %s: %w", chat.ID, err)
	}
	return msgs, nil
}

// LastMessage returns the newest message of a chat, or nil.
func (s *Store) LastMessage(chatID string) (*models.Message, error) {
	var msg models.Message
	err := s.db.Where("chat_id = ?", chatID).Order("created_at DESC").First(&msg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("devserver: last message for %s: %w", chatID, err)
	}
	return &msg, nil
}
