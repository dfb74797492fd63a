package chathub

import (
	"errors"
	"fmt"

	"supportdesk/backend/internal/models"
)

var (
	ErrUserNotFound     = errors.New("user not found")
	ErrOperatorNotFound = errors.New("operator not found")
)

// NotFoundError reports a participant that a routing step required but the
// directory does not know (or knows only as soft-deleted).
type NotFoundError struct {
	Role   models.Role
	ChatID string
}

func (e *NotFoundError) Error() string {
	if e.Role == models.RoleOperator {
		return fmt.Sprintf("operator %s not found", e.ChatID)
	}
	return fmt.Sprintf("user %s not found", e.ChatID)
}

// Is matches ErrOperatorNotFound or ErrUserNotFound depending on Role.
func (e *NotFoundError) Is(target error) bool {
	switch target {
	case ErrOperatorNotFound:
		return e.Role == models.RoleOperator
	case ErrUserNotFound:
		return e.Role != models.RoleOperator
	}
	return false
}

// SendError wraps a failed delivery to one chat.
type SendError struct {
	ChatID string
	Err    error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.ChatID, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }
