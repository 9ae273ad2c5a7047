// Package sqlstore implements registry/store.ChatStore on top of GORM. The
// postgres and sqlite plugins share it and differ only in dialect setup.
package sqlstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chirino/chat-service/internal/model"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// TimestampResolution is the finest time step both supported SQL dialects round-trip.
const TimestampResolution = time.Microsecond

// GormStore implements ChatStore using GORM.
type GormStore struct {
	db *gorm.DB
}

// New wraps an open GORM handle. The handle should be opened with TranslateError enabled.
func New(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// DB exposes the underlying handle (used by migrators and tests).
func (s *GormStore) DB() *gorm.DB { return s.db }

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func conversationNotFound(id uuid.UUID) error {
	return &registrystore.NotFoundError{Resource: "conversation", ID: id.String()}
}

// --- Users ---

func (s *GormStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*model.User, error) {
	for _, unique := range []struct{ column, value string }{{"email", email}, {"username", username}} {
		var existing int64
		if err := s.db.WithContext(ctx).Model(&model.User{}).
			Where(unique.column+" = ?", unique.value).
			Count(&existing).Error; err != nil {
			return nil, fmt.Errorf("failed to check existing users: %w", err)
		}
		if existing > 0 {
			return nil, registrystore.UserTaken(unique.column)
		}
	}

	now := time.Now().UTC()
	user := model.User{
		ID:           uuid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, registrystore.UserTaken("")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &user, nil
}

func (s *GormStore) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "user", ID: userID.String()}
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

func (s *GormStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &registrystore.NotFoundError{Resource: "user", ID: email}
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return &user, nil
}

// --- Conversations ---

func (s *GormStore) CreateConversation(ctx context.Context, userID uuid.UUID, initialMessage *string) (*model.Conversation, []model.Message, error) {
	text := registrystore.InitialMessage(initialMessage)
	now := registrystore.NextTimestamp(time.Time{}, time.Now(), TimestampResolution)
	conv := model.Conversation{
		ID:        uuid.New(),
		UserID:    userID,
		Title:     model.DeriveTitle(text),
		State:     model.StateActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	var messages []model.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&conv).Error; err != nil {
			return fmt.Errorf("failed to create conversation: %w", err)
		}
		if text == "" {
			return nil
		}
		msg := model.Message{
			ID:             uuid.New(),
			ConversationID: conv.ID,
			Role:           model.RoleUser,
			Content:        text,
			CreatedAt:      now,
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to create initial message: %w", err)
		}
		messages = append(messages, msg)
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return &conv, messages, nil
}

func (s *GormStore) GetConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) (*model.Conversation, error) {
	return s.ownedConversation(s.db.WithContext(ctx), userID, conversationID)
}

func (s *GormStore) ownedConversation(tx *gorm.DB, userID uuid.UUID, conversationID uuid.UUID) (*model.Conversation, error) {
	var conv model.Conversation
	err := tx.Where("id = ? AND user_id = ? AND state <> ?", conversationID, userID, model.StateArchived).
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, conversationNotFound(conversationID)
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return &conv, nil
}

func (s *GormStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]registrystore.ConversationSummary, error) {
	var rows []registrystore.ConversationSummary
	err := s.db.WithContext(ctx).
		Table("conversations AS c").
		Select("c.id, c.title, c.state, c.created_at, c.updated_at, " +
			"(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id) AS message_count").
		Where("c.user_id = ? AND c.state <> ?", userID, model.StateArchived).
		Order("c.updated_at DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if rows == nil {
		rows = []registrystore.ConversationSummary{}
	}
	return rows, nil
}

func (s *GormStore) RenameConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID, title string) (*model.Conversation, error) {
	normalized, err := registrystore.NormalizeTitle(title)
	if err != nil {
		return nil, err
	}
	res := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND user_id = ? AND state <> ?", conversationID, userID, model.StateArchived).
		Updates(map[string]any{"title": normalized, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return nil, fmt.Errorf("failed to rename conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, conversationNotFound(conversationID)
	}
	return s.GetConversation(ctx, userID, conversationID)
}

func (s *GormStore) BootstrapTitle(ctx context.Context, conversationID uuid.UUID, title string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND title = ? AND state <> ?", conversationID, model.DefaultConversationTitle, model.StateArchived).
		Updates(map[string]any{"title": title, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return false, fmt.Errorf("failed to set conversation title: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

func (s *GormStore) SoftDeleteConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) error {
	res := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("id = ? AND user_id = ? AND state <> ?", conversationID, userID, model.StateArchived).
		Updates(map[string]any{"state": model.StateArchived, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return fmt.Errorf("failed to archive conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return conversationNotFound(conversationID)
	}
	return nil
}

func (s *GormStore) ClearConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := s.ownedConversation(tx, userID, conversationID); err != nil {
			return err
		}
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
			Updates(map[string]any{"state": model.StateCleared, "updated_at": time.Now().UTC()}).Error; err != nil {
			return fmt.Errorf("failed to clear conversation: %w", err)
		}
		return nil
	})
}

// --- Messages ---

func (s *GormStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, role model.Role, content string, tokens *int) (*model.Message, error) {
	if !role.Valid() {
		return nil, &registrystore.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}
	var msg model.Message
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv model.Conversation
		if err := tx.Where("id = ? AND state <> ?", conversationID, model.StateArchived).First(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return conversationNotFound(conversationID)
			}
			return fmt.Errorf("failed to load conversation: %w", err)
		}

		var last []model.Message
		if err := tx.Where("conversation_id = ?", conversationID).
			Order("created_at DESC").Limit(1).Find(&last).Error; err != nil {
			return fmt.Errorf("failed to load last message: %w", err)
		}
		var prev time.Time
		if len(last) > 0 {
			prev = last[0].CreatedAt
		}

		msg = model.Message{
			ID:             uuid.New(),
			ConversationID: conversationID,
			Role:           role,
			Content:        content,
			Tokens:         tokens,
			CreatedAt:      registrystore.NextTimestamp(prev, time.Now(), TimestampResolution),
		}
		if err := tx.Create(&msg).Error; err != nil {
			return fmt.Errorf("failed to append message: %w", err)
		}
		if err := tx.Model(&model.Conversation{}).Where("id = ?", conversationID).
			Updates(map[string]any{"state": model.StateActive, "updated_at": msg.CreatedAt}).Error; err != nil {
			return fmt.Errorf("failed to touch conversation: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (s *GormStore) ListMessages(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) ([]model.Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	messages := []model.Message{}
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("created_at ASC").Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	return messages, nil
}

func (s *GormStore) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]model.Message, error) {
	messages := []model.Message{}
	if limit <= 0 {
		return messages, nil
	}
	if err := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID).
		Order("created_at DESC").Limit(limit).Find(&messages).Error; err != nil {
		return nil, fmt.Errorf("failed to load recent messages: %w", err)
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// --- Eviction ---

func (s *GormStore) FindEvictableConversationIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := s.db.WithContext(ctx).Model(&model.Conversation{}).
		Where("state = ? AND updated_at < ?", model.StateArchived, cutoff.UTC()).
		Order("updated_at ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("failed to find evictable conversations: %w", err)
	}
	return ids, nil
}

func (s *GormStore) HardDeleteConversations(ctx context.Context, conversationIDs []uuid.UUID) error {
	if len(conversationIDs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id IN ?", conversationIDs).Delete(&model.Message{}).Error; err != nil {
			return fmt.Errorf("failed to delete messages: %w", err)
		}
		if err := tx.Where("id IN ? AND state = ?", conversationIDs, model.StateArchived).
			Delete(&model.Conversation{}).Error; err != nil {
			return fmt.Errorf("failed to delete conversations: %w", err)
		}
		return nil
	})
}
