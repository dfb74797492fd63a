package models

import "time"

// Session is one operator-user pairing. Rows are never deleted; ending a
// session only clears Active, so at most one row exists per pair.
type Session struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	OperatorChatID string     `gorm:"not null;uniqueIndex:idx_session_pair;index:idx_session_operator_active,priority:1" json:"operator_chat_id"`
	UserChatID     string     `gorm:"not null;uniqueIndex:idx_session_pair;index" json:"user_chat_id"`
	Active         bool       `gorm:"not null;default:true;index:idx_session_operator_active,priority:2" json:"active"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}
