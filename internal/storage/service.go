package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"supportdesk/backend/internal/language"
	"supportdesk/backend/internal/models"

	"github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// EventsChannel is the Redis pub/sub channel routing events are published on.
const EventsChannel = "support:events"

// Service implements Storage on PostgreSQL (GORM) and EventPublisher on Redis.
type Service struct {
	DB    *gorm.DB
	Redis *redis.Client
}

// NewStorageService Constructor. rdb may be nil, which disables event publishing.
func NewStorageService(db *gorm.DB, rdb *redis.Client) *Service {
	return &Service{
		DB:    db,
		Redis: rdb,
	}
}

var (
	_ Storage        = (*Service)(nil)
	_ EventPublisher = (*Service)(nil)
)

// Migrate creates or updates every table the bot uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Participant{},
		&models.Session{},
		&models.PendingMessage{},
		&models.MessageMapping{},
	)
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	default:
		return err
	}
}

func (s *Service) participants(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx).Model(&models.Participant{}).Where("deleted = ?", false)
}

// updateParticipant applies values to a live participant, ErrNotFound when no row matched.
func (s *Service) updateParticipant(ctx context.Context, chatID string, values map[string]interface{}) error {
	res := s.participants(ctx).Where("chat_id = ?", chatID).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Directory ---

func (s *Service) FindParticipant(ctx context.Context, chatID string) (*models.Participant, error) {
	var p models.Participant
	if err := s.participants(ctx).Where("chat_id = ?", chatID).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (s *Service) CreateParticipant(ctx context.Context, p *models.Participant) error {
	return translate(s.DB.WithContext(ctx).Create(p).Error)
}

func (s *Service) ListOperators(ctx context.Context) ([]models.Participant, error) {
	var ops []models.Participant
	err := s.participants(ctx).
		Where("role = ?", models.RoleOperator).
		Order("created_at asc").
		Find(&ops).Error
	return ops, err
}

func (s *Service) SetLanguage(ctx context.Context, chatID string, lang language.Language) error {
	values := map[string]interface{}{"language": lang}
	// A user serves nothing; their singleton set mirrors the chosen language.
	res := s.participants(ctx).Where("chat_id = ? AND role = ?", chatID, models.RoleUser).
		Update("languages", pq.StringArray{string(lang)})
	if res.Error != nil {
		return res.Error
	}
	return s.updateParticipant(ctx, chatID, values)
}

func (s *Service) SetServedLanguages(ctx context.Context, chatID string, langs []language.Language) error {
	return s.updateParticipant(ctx, chatID, map[string]interface{}{
		"languages": pq.StringArray(language.Strings(langs)),
	})
}

func (s *Service) SetPhone(ctx context.Context, chatID, phone string) error {
	return s.updateParticipant(ctx, chatID, map[string]interface{}{"phone_number": phone})
}

func (s *Service) SetBusy(ctx context.Context, chatID string, busy bool) error {
	return s.updateParticipant(ctx, chatID, map[string]interface{}{"busy": busy})
}

func (s *Service) SetSessionEnded(ctx context.Context, chatID string, ended bool) error {
	return s.updateParticipant(ctx, chatID, map[string]interface{}{"session_ended": ended})
}

func (s *Service) SoftDelete(ctx context.Context, chatID string) error {
	return s.updateParticipant(ctx, chatID, map[string]interface{}{"deleted": true, "busy": false})
}

func (s *Service) ClaimOperator(ctx context.Context, chatID string) (bool, error) {
	res := s.participants(ctx).
		Where("chat_id = ? AND role = ? AND busy = ?", chatID, models.RoleOperator, false).
		Update("busy", true)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Service) FindAvailableOperator(ctx context.Context, lang language.Language, requireNotBusy bool) (string, error) {
	q := s.participants(ctx).
		Where("role = ? AND session_ended = ?", models.RoleOperator, false).
		Where("? = ANY(languages)", string(lang))
	if requireNotBusy {
		q = q.Where("busy = ?", false)
	}

	var chatIDs []string
	if err := q.Order("created_at asc").Limit(1).Pluck("chat_id", &chatIDs).Error; err != nil {
		return "", err
	}
	if len(chatIDs) == 0 {
		return "", nil
	}
	return chatIDs[0], nil
}

// --- SessionStore ---

func (s *Service) FindSession(ctx context.Context, operatorChatID, userChatID string) (*models.Session, error) {
	var sess models.Session
	err := s.DB.WithContext(ctx).
		Where("operator_chat_id = ? AND user_chat_id = ?", operatorChatID, userChatID).
		First(&sess).Error
	if err != nil {
		return nil, translate(err)
	}
	return &sess, nil
}

func (s *Service) CreateSession(ctx context.Context, sess *models.Session) error {
	return translate(s.DB.WithContext(ctx).Create(sess).Error)
}

func (s *Service) ActivateSession(ctx context.Context, operatorChatID, userChatID string) error {
	res := s.DB.WithContext(ctx).Model(&models.Session{}).
		Where("operator_chat_id = ? AND user_chat_id = ?", operatorChatID, userChatID).
		Updates(map[string]interface{}{
			"active":     true,
			"started_at": time.Now(),
			"ended_at":   nil,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// deactivate ends the active sessions matching column = value and returns the
// counterpart chat ids read under a row lock.
func (s *Service) deactivate(ctx context.Context, column, value, counterpart string) ([]string, error) {
	var ids []string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []models.Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where(column+" = ? AND active = ?", value, true).
			Order("id asc").
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}

		pks := make([]uint, 0, len(rows))
		for _, r := range rows {
			pks = append(pks, r.ID)
			if counterpart == "user_chat_id" {
				ids = append(ids, r.UserChatID)
			} else {
				ids = append(ids, r.OperatorChatID)
			}
		}
		return tx.Model(&models.Session{}).Where("id IN ?", pks).
			Updates(map[string]interface{}{"active": false, "ended_at": time.Now()}).Error
	})
	return ids, err
}

func (s *Service) DeactivateByOperator(ctx context.Context, operatorChatID string) ([]string, error) {
	return s.deactivate(ctx, "operator_chat_id", operatorChatID, "user_chat_id")
}

func (s *Service) DeactivateByUser(ctx context.Context, userChatID string) ([]string, error) {
	return s.deactivate(ctx, "user_chat_id", userChatID, "operator_chat_id")
}

func (s *Service) ActiveUsers(ctx context.Context, operatorChatID string) ([]string, error) {
	var users []string
	err := s.DB.WithContext(ctx).Model(&models.Session{}).
		Where("operator_chat_id = ? AND active = ?", operatorChatID, true).
		Order("started_at asc").
		Pluck("user_chat_id", &users).Error
	return users, err
}

func (s *Service) ActiveOperator(ctx context.Context, userChatID string) (string, error) {
	var ops []string
	err := s.DB.WithContext(ctx).Model(&models.Session{}).
		Where("user_chat_id = ? AND active = ?", userChatID, true).
		Order("started_at desc").
		Limit(1).
		Pluck("operator_chat_id", &ops).Error
	if err != nil || len(ops) == 0 {
		return "", err
	}
	return ops[0], nil
}

// --- PendingStore ---

func (s *Service) AppendPending(ctx context.Context, m *models.PendingMessage) error {
	m.Status = models.PendingStatusPending
	return s.DB.WithContext(ctx).Create(m).Error
}

func (s *Service) TakePending(ctx context.Context, userChatID string) ([]models.PendingMessage, error) {
	var msgs []models.PendingMessage
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_chat_id = ? AND status = ?", userChatID, models.PendingStatusPending).
			Order("id asc").
			Find(&msgs).Error; err != nil {
			return err
		}
		if len(msgs) == 0 {
			return nil
		}

		ids := make([]uint, len(msgs))
		for i, m := range msgs {
			ids[i] = m.ID
		}
		return tx.Model(&models.PendingMessage{}).Where("id IN ?", ids).
			Updates(map[string]interface{}{
				"status":       models.PendingStatusDelivered,
				"delivered_at": time.Now(),
			}).Error
	})
	if err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Service) DiscardPending(ctx context.Context, userChatID string) (int64, error) {
	res := s.DB.WithContext(ctx).
		Where("user_chat_id = ? AND status = ?", userChatID, models.PendingStatusPending).
		Delete(&models.PendingMessage{})
	return res.RowsAffected, res.Error
}

func (s *Service) CountPending(ctx context.Context, userChatID string) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&models.PendingMessage{}).
		Where("user_chat_id = ? AND status = ?", userChatID, models.PendingStatusPending).
		Count(&n).Error
	return n, err
}

// --- MappingStore ---

func (s *Service) SaveMapping(ctx context.Context, m *models.MessageMapping) error {
	return s.DB.WithContext(ctx).Create(m).Error
}

func (s *Service) FindByUserMessage(ctx context.Context, userChatID string, userMessageID int) (*models.MessageMapping, error) {
	var m models.MessageMapping
	err := s.DB.WithContext(ctx).
		Where("user_chat_id = ? AND user_message_id = ?", userChatID, userMessageID).
		Order("created_at desc").
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *Service) FindByOperatorMessage(ctx context.Context, operatorChatID string, operatorMessageID int) ([]models.MessageMapping, error) {
	var out []models.MessageMapping
	err := s.DB.WithContext(ctx).
		Where("operator_chat_id = ? AND operator_message_id = ?", operatorChatID, operatorMessageID).
		Order("created_at asc").
		Find(&out).Error
	return out, err
}

// --- Redis ---

// PublishEvent publishes a routing event on EventsChannel. It is a no-op without Redis.
func (s *Service) PublishEvent(ctx context.Context, ev models.RoutingEvent) error {
	if s.Redis == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.Redis.Publish(ctx, EventsChannel, payload).Err()
}

// SubscribeEvents subscribes to EventsChannel. The caller closes the subscription.
func (s *Service) SubscribeEvents(ctx context.Context) (*redis.PubSub, error) {
	if s.Redis == nil {
		return nil, errors.New("storage: redis is not configured")
	}
	return s.Redis.Subscribe(ctx, EventsChannel), nil
}
