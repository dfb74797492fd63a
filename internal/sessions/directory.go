// Package sessions tracks which operator is paired with which user.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"supportdesk/backend/internal/locks"
	"supportdesk/backend/internal/models"
	"supportdesk/backend/internal/storage"

	"github.com/sirupsen/logrus"
)

// Directory is the session bookkeeping over a SessionStore. One operator may
// hold several active sessions; a user holds at most one.
type Directory struct {
	store storage.SessionStore
	pairs *locks.Keyed
	log   logrus.FieldLogger
}

func NewDirectory(store storage.SessionStore, log logrus.FieldLogger) *Directory {
	return &Directory{
		store: store,
		pairs: locks.NewKeyed(),
		log:   log,
	}
}

func pairKey(operatorChatID, userChatID string) string {
	return operatorChatID + "|" + userChatID
}

// FindActive returns the active session of the pair, or nil.
func (d *Directory) FindActive(ctx context.Context, operatorChatID, userChatID string) (*models.Session, error) {
	s, err := d.store.FindSession(ctx, operatorChatID, userChatID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if !s.Active {
		return nil, nil
	}
	return s, nil
}

// Establish reactivates the pair's session or creates it. A concurrent insert
// that loses the race on the unique pair index falls back to reactivation.
func (d *Directory) Establish(ctx context.Context, operatorChatID, userChatID string) error {
	unlock := d.pairs.Lock(pairKey(operatorChatID, userChatID))
	defer unlock()

	_, err := d.store.FindSession(ctx, operatorChatID, userChatID)
	switch {
	case err == nil:
		return d.activate(ctx, operatorChatID, userChatID)
	case !errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("find session %s/%s: %w", operatorChatID, userChatID, err)
	}

	err = d.store.CreateSession(ctx, &models.Session{
		OperatorChatID: operatorChatID,
		UserChatID:     userChatID,
		Active:         true,
		StartedAt:      time.Now(),
	})
	if errors.Is(err, storage.ErrDuplicate) {
		d.log.WithFields(logrus.Fields{"operator": operatorChatID, "user": userChatID}).
			Debug("session created concurrently, reactivating")
		return d.activate(ctx, operatorChatID, userChatID)
	}
	if err != nil {
		return fmt.Errorf("create session %s/%s: %w", operatorChatID, userChatID, err)
	}
	return nil
}

func (d *Directory) activate(ctx context.Context, operatorChatID, userChatID string) error {
	if err := d.store.ActivateSession(ctx, operatorChatID, userChatID); err != nil {
		return fmt.Errorf("activate session %s/%s: %w", operatorChatID, userChatID, err)
	}
	return nil
}

// EndByOperator deactivates all sessions of the operator and returns the users
// that were connected.
func (d *Directory) EndByOperator(ctx context.Context, operatorChatID string) ([]string, error) {
	users, err := d.store.DeactivateByOperator(ctx, operatorChatID)
	if err != nil {
		return nil, fmt.Errorf("end sessions of operator %s: %w", operatorChatID, err)
	}
	return users, nil
}

// EndByUser deactivates the user's session(s) and returns the operators that
// were connected.
func (d *Directory) EndByUser(ctx context.Context, userChatID string) ([]string, error) {
	ops, err := d.store.DeactivateByUser(ctx, userChatID)
	if err != nil {
		return nil, fmt.Errorf("end sessions of user %s: %w", userChatID, err)
	}
	return ops, nil
}

func (d *Directory) ActiveUsersFor(ctx context.Context, operatorChatID string) ([]string, error) {
	return d.store.ActiveUsers(ctx, operatorChatID)
}

// ActiveOperatorFor returns "" when the user is not in a session.
func (d *Directory) ActiveOperatorFor(ctx context.Context, userChatID string) (string, error) {
	return d.store.ActiveOperator(ctx, userChatID)
}
