package metrics

import (
	"context"
	"time"

	"github.com/chirino/chat-service/internal/model"
	"github.com/chirino/chat-service/internal/registry/store"
	"github.com/chirino/chat-service/internal/security"
	"github.com/google/uuid"
)

// Wrap returns a ChatStore that records StoreLatency for every operation.
func Wrap(inner store.ChatStore) store.ChatStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.ChatStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency == nil {
		return
	}
	security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (m *metricsStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*model.User, error) {
	defer observe("create_user", time.Now())
	return m.inner.CreateUser(ctx, username, email, passwordHash)
}

func (m *metricsStore) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	defer observe("get_user", time.Now())
	return m.inner.GetUser(ctx, userID)
}

func (m *metricsStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	defer observe("find_user_by_email", time.Now())
	return m.inner.FindUserByEmail(ctx, email)
}

func (m *metricsStore) CreateConversation(ctx context.Context, userID uuid.UUID, initialMessage *string) (*model.Conversation, []model.Message, error) {
	defer observe("create_conversation", time.Now())
	return m.inner.CreateConversation(ctx, userID, initialMessage)
}

func (m *metricsStore) GetConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) (*model.Conversation, error) {
	defer observe("get_conversation", time.Now())
	return m.inner.GetConversation(ctx, userID, conversationID)
}

func (m *metricsStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]store.ConversationSummary, error) {
	defer observe("list_conversations", time.Now())
	return m.inner.ListConversations(ctx, userID)
}

func (m *metricsStore) RenameConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID, title string) (*model.Conversation, error) {
	defer observe("rename_conversation", time.Now())
	return m.inner.RenameConversation(ctx, userID, conversationID, title)
}

func (m *metricsStore) BootstrapTitle(ctx context.Context, conversationID uuid.UUID, title string) (bool, error) {
	defer observe("bootstrap_title", time.Now())
	return m.inner.BootstrapTitle(ctx, conversationID, title)
}

func (m *metricsStore) SoftDeleteConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) error {
	defer observe("soft_delete_conversation", time.Now())
	return m.inner.SoftDeleteConversation(ctx, userID, conversationID)
}

func (m *metricsStore) ClearConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) error {
	defer observe("clear_conversation", time.Now())
	return m.inner.ClearConversation(ctx, userID, conversationID)
}

func (m *metricsStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, role model.Role, content string, tokens *int) (*model.Message, error) {
	defer observe("append_message", time.Now())
	return m.inner.AppendMessage(ctx, conversationID, role, content, tokens)
}

func (m *metricsStore) ListMessages(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) ([]model.Message, error) {
	defer observe("list_messages", time.Now())
	return m.inner.ListMessages(ctx, userID, conversationID)
}

func (m *metricsStore) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]model.Message, error) {
	defer observe("recent_messages", time.Now())
	return m.inner.RecentMessages(ctx, conversationID, limit)
}

func (m *metricsStore) FindEvictableConversationIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	defer observe("find_evictable_conversations", time.Now())
	return m.inner.FindEvictableConversationIDs(ctx, cutoff, limit)
}

func (m *metricsStore) HardDeleteConversations(ctx context.Context, conversationIDs []uuid.UUID) error {
	defer observe("hard_delete_conversations", time.Now())
	return m.inner.HardDeleteConversations(ctx, conversationIDs)
}
