package models

import (
	"time"

	"supportdesk/backend/internal/language"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Role distinguishes customers from support agents. It is fixed at creation.
type Role string

const (
	RoleUser     Role = "USER"
	RoleOperator Role = "OPERATOR"
)

// Participant is any chat identity known to the bot.
type Participant struct {
	ID          string `gorm:"primaryKey" json:"id"` // UUID
	ChatID      string `gorm:"uniqueIndex;not null" json:"chat_id"`
	Name        string `json:"name"`
	PhoneNumber string `gorm:"size:20" json:"phone_number"`
	Role        Role   `gorm:"size:16;not null;index" json:"role"`
	// Language is the language the participant reads bot messages in.
	Language language.Language `gorm:"size:8;not null" json:"language"`
	// Languages is the ordered set of languages an operator serves; for a user
	// it is the single primary language.
	Languages    pq.StringArray `gorm:"type:text[]" json:"languages"`
	Busy         bool           `gorm:"not null;default:false" json:"busy"`
	SessionEnded bool           `gorm:"not null;default:false" json:"session_ended"`
	Deleted      bool           `gorm:"not null;default:false;index" json:"deleted"`
	CreatedAt    time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// BeforeCreate generates the UUID primary key when it is not set.
func (p *Participant) BeforeCreate(tx *gorm.DB) (err error) {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return
}

// PhoneVerified reports whether the participant has shared a phone number.
func (p *Participant) PhoneVerified() bool { return p.PhoneNumber != "" }

// IsOperator is a shorthand for Role == RoleOperator.
func (p *Participant) IsOperator() bool { return p.Role == RoleOperator }

// ServedLanguages returns Languages parsed in stored order.
func (p *Participant) ServedLanguages() []language.Language {
	return language.ParseList(p.Languages)
}
