package chathub

import (
	"strings"

	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/models"
)

// EventKind classifies an inbound update.
type EventKind string

const (
	EventMessage  EventKind = "message" // text, command or media
	EventContact  EventKind = "contact"
	EventCallback EventKind = "callback"
	EventEdit     EventKind = "edit"
)

// Content is the relayable part of a message. Text holds the caption for media.
// An empty Kind means the message type is not supported.
type Content struct {
	Kind   models.ContentKind
	Text   string
	FileID string
}

func TextContent(text string) Content {
	return Content{Kind: models.KindText, Text: text}
}

// Contact is a shared phone number. OwnerChatID is the chat of the person the
// contact card belongs to, empty when the card has no account attached.
type Contact struct {
	PhoneNumber string
	OwnerChatID string
}

// Event is one inbound update, already decoded by the transport.
type Event struct {
	ChatID     string
	SenderName string
	Kind       EventKind
	// MessageID is the transport id of the message, or of the message carrying
	// the pressed button for callbacks.
	MessageID int
	// ReplyToID is the message being replied to in the sender's chat, 0 if none.
	ReplyToID int
	Content   Content
	Contact   *Contact
	Callback  Callback
}

// Command returns the bot command without its slash and bot-name suffix, or ""
// when the event is not a command.
func (e Event) Command() string {
	if e.Kind != EventMessage || e.Content.Kind != models.KindText || !strings.HasPrefix(e.Content.Text, "/") {
		return ""
	}
	cmd := strings.Fields(e.Content.Text)[0][1:]
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd)
}

// Callback is an inline-button action. The concrete types below are the only
// implementations.
type Callback interface {
	isCallback()
}

// ChooseLanguage sets the reading language of the participant.
type ChooseLanguage struct{ Language language.Language }

// LanguageCount starts served-language selection for Count languages.
type LanguageCount struct{ Count int }

// ToggleLanguage adds or removes a language from the selection in progress.
type ToggleLanguage struct{ Language language.Language }

// ConfirmLanguages saves the selection in progress.
type ConfirmLanguages struct{}

// ConfirmPhoneChange answers the phone replacement question.
type ConfirmPhoneChange struct{ Accept bool }

func (ChooseLanguage) isCallback()     {}
func (LanguageCount) isCallback()      {}
func (ToggleLanguage) isCallback()     {}
func (ConfirmLanguages) isCallback()   {}
func (ConfirmPhoneChange) isCallback() {}

// Keyboard is the markup attached to an outgoing message.
type Keyboard interface {
	isKeyboard()
}

// ContactRequest asks the user to share the phone number of the account.
type ContactRequest struct{}

// BeginButton offers /begin to an operator.
type BeginButton struct{}

// EndButton offers /end during a session.
type EndButton struct{}

// LanguageMenu lists every language as ChooseLanguage buttons.
type LanguageMenu struct{}

// LanguageCountMenu offers LanguageCount buttons from 1 to Max.
type LanguageCountMenu struct{ Max int }

// LanguageSelect shows ToggleLanguage buttons with Selected marked, plus a confirm button.
type LanguageSelect struct{ Selected []language.Language }

// PhoneChangeConfirm shows yes and no ConfirmPhoneChange buttons.
type PhoneChangeConfirm struct{}

// RemoveKeyboard hides a reply keyboard left by an earlier message.
type RemoveKeyboard struct{}

func (ContactRequest) isKeyboard()     {}
func (BeginButton) isKeyboard()        {}
func (EndButton) isKeyboard()          {}
func (LanguageMenu) isKeyboard()       {}
func (LanguageCountMenu) isKeyboard()  {}
func (LanguageSelect) isKeyboard()     {}
func (PhoneChangeConfirm) isKeyboard() {}
func (RemoveKeyboard) isKeyboard()     {}
