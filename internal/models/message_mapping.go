package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ContentKind is the type of a relayed message.
type ContentKind string

const (
	KindText      ContentKind = "text"
	KindPhoto     ContentKind = "photo"
	KindVideo     ContentKind = "video"
	KindDocument  ContentKind = "document"
	KindVoice     ContentKind = "voice"
	KindAudio     ContentKind = "audio"
	KindSticker   ContentKind = "sticker"
	KindVideoNote ContentKind = "video_note"
)

// MessageMapping links the copy of a relayed message in the operator chat with
// its copy in the user chat, so replies and edits can cross the relay.
type MessageMapping struct {
	ID                string      `gorm:"primaryKey;type:uuid" json:"id"`
	OperatorChatID    string      `gorm:"not null;index:idx_mapping_operator_msg,priority:1" json:"operator_chat_id"`
	OperatorMessageID int         `gorm:"not null;index:idx_mapping_operator_msg,priority:2" json:"operator_message_id"`
	UserChatID        string      `gorm:"not null;index:idx_mapping_user_msg,priority:1" json:"user_chat_id"`
	UserMessageID     int         `gorm:"not null;index:idx_mapping_user_msg,priority:2" json:"user_message_id"`
	Kind              ContentKind `gorm:"size:16" json:"kind"`
	Payload           string      `gorm:"type:text" json:"payload"`
	// FileID is the transport file reference for media messages.
	FileID    *string   `json:"file_id,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// BeforeCreate generates the UUID primary key when it is not set.
func (m *MessageMapping) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	return nil
}
