package models

import "time"

// PendingStatus tracks whether a buffered message has reached an operator.
type PendingStatus string

const (
	PendingStatusPending   PendingStatus = "PENDING"
	PendingStatusDelivered PendingStatus = "DELIVERED"
)

// PendingMessage is a user message received while no operator was assigned.
// ID ordering is arrival ordering.
type PendingMessage struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	UserChatID    string        `gorm:"not null;index:idx_pending_user_status,priority:1" json:"user_chat_id"`
	UserMessageID int           `json:"user_message_id"`
	Kind          ContentKind   `gorm:"size:16;not null" json:"kind"`
	Text          string        `gorm:"type:text" json:"text"`
	FileID        string        `json:"file_id,omitempty"`
	Status        PendingStatus `gorm:"size:16;not null;index:idx_pending_user_status,priority:2" json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	DeliveredAt   *time.Time    `json:"delivered_at,omitempty"`
}
