package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/chirino/chat-service/internal/config"
	"github.com/chirino/chat-service/internal/model"
	registrymigrate "github.com/chirino/chat-service/internal/registry/migrate"
	registrystore "github.com/chirino/chat-service/internal/registry/store"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// BSON dates carry millisecond precision.
const timestampResolution = time.Millisecond

func init() {
	registrystore.Register(registrystore.Plugin{
		Name: "mongo",
		Loader: func(ctx context.Context) (registrystore.ChatStore, error) {
			cfg := config.FromContext(ctx)
			opts := options.Client().ApplyURI(cfg.DBURL)
			if cfg.DBMaxOpenConns > 0 {
				opts.SetMaxPoolSize(uint64(cfg.DBMaxOpenConns))
			}
			if cfg.DBMaxIdleConns > 0 {
				opts.SetMinPoolSize(uint64(cfg.DBMaxIdleConns))
			}
			client, err := mongo.Connect(opts)
			if err != nil {
				return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
			}
			if err := client.Ping(ctx, nil); err != nil {
				return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
			}
			return &MongoStore{
				client: client,
				db:     client.Database(cfg.MongoDatabase),
			}, nil
		},
	})

	registrymigrate.Register(registrymigrate.Plugin{Order: 100, Datastore: "mongo", Migrator: &mongoMigrator{}})
}

type mongoMigrator struct{}

func (m *mongoMigrator) Name() string { return "mongo-schema" }
func (m *mongoMigrator) Migrate(ctx context.Context) error {
	cfg := config.FromContext(ctx)
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.DBURL))
	if err != nil {
		return fmt.Errorf("mongo migration: failed to connect: %w", err)
	}
	defer client.Disconnect(ctx)

	db := client.Database(cfg.MongoDatabase)

	collections := map[string][]mongo.IndexModel{
		"users": {
			{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
			{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		},
		"conversations": {
			{Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "updated_at", Value: -1}}},
			{Keys: bson.D{{Key: "state", Value: 1}, {Key: "updated_at", Value: 1}}},
		},
		"messages": {
			{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: 1}}},
		},
	}

	for name, indexes := range collections {
		// Ensure collection exists
		_ = db.CreateCollection(ctx, name)
		if _, err := db.Collection(name).Indexes().CreateMany(ctx, indexes); err != nil {
			return fmt.Errorf("mongo migration: failed to create indexes for %s: %w", name, err)
		}
	}

	return nil
}

// MongoStore implements ChatStore using MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// ForceImport is a no-op variable that can be referenced to ensure this package's init() runs.
var ForceImport = 0

// --- MongoDB document types ---

type userDoc struct {
	ID           string    `bson:"_id"`
	Username     string    `bson:"username"`
	Email        string    `bson:"email"`
	PasswordHash string    `bson:"password_hash"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

func (d userDoc) toModel() *model.User {
	return &model.User{
		ID:           strToUUID(d.ID),
		Username:     d.Username,
		Email:        d.Email,
		PasswordHash: d.PasswordHash,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
}

type convDoc struct {
	ID        string    `bson:"_id"`
	UserID    string    `bson:"user_id"`
	Title     string    `bson:"title"`
	State     string    `bson:"state"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d convDoc) toModel() *model.Conversation {
	return &model.Conversation{
		ID:        strToUUID(d.ID),
		UserID:    strToUUID(d.UserID),
		Title:     d.Title,
		State:     model.ConversationState(d.State),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type messageDoc struct {
	ID             string    `bson:"_id"`
	ConversationID string    `bson:"conversation_id"`
	Role           string    `bson:"role"`
	Content        string    `bson:"content"`
	Tokens         *int      `bson:"tokens,omitempty"`
	CreatedAt      time.Time `bson:"created_at"`
}

func (d messageDoc) toModel() model.Message {
	return model.Message{
		ID:             strToUUID(d.ID),
		ConversationID: strToUUID(d.ConversationID),
		Role:           model.Role(d.Role),
		Content:        d.Content,
		Tokens:         d.Tokens,
		CreatedAt:      d.CreatedAt,
	}
}

func (s *MongoStore) users() *mongo.Collection         { return s.db.Collection("users") }
func (s *MongoStore) conversations() *mongo.Collection { return s.db.Collection("conversations") }
func (s *MongoStore) messages() *mongo.Collection      { return s.db.Collection("messages") }

func uuidToStr(id uuid.UUID) string { return id.String() }
func strToUUID(s string) uuid.UUID  { u, _ := uuid.Parse(s); return u }

func conversationNotFound(id uuid.UUID) error {
	return &registrystore.NotFoundError{Resource: "conversation", ID: id.String()}
}

func notArchived() bson.M { return bson.M{"$ne": string(model.StateArchived)} }

// --- Users ---

func (s *MongoStore) CreateUser(ctx context.Context, username, email, passwordHash string) (*model.User, error) {
	for _, unique := range []struct{ field, value string }{{"email", email}, {"username", username}} {
		existing, err := s.users().CountDocuments(ctx, bson.M{unique.field: unique.value})
		if err != nil {
			return nil, fmt.Errorf("failed to check existing users: %w", err)
		}
		if existing > 0 {
			return nil, registrystore.UserTaken(unique.field)
		}
	}
	now := time.Now().UTC().Truncate(timestampResolution)
	doc := userDoc{
		ID:           uuidToStr(uuid.New()),
		Username:     username,
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if _, err := s.users().InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, registrystore.UserTaken("")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) GetUser(ctx context.Context, userID uuid.UUID) (*model.User, error) {
	return s.findUser(ctx, bson.M{"_id": uuidToStr(userID)}, userID.String())
}

func (s *MongoStore) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.findUser(ctx, bson.M{"email": email}, email)
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M, id string) (*model.User, error) {
	var doc userDoc
	if err := s.users().FindOne(ctx, filter).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, &registrystore.NotFoundError{Resource: "user", ID: id}
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	return doc.toModel(), nil
}

// --- Conversations ---

func (s *MongoStore) CreateConversation(ctx context.Context, userID uuid.UUID, initialMessage *string) (*model.Conversation, []model.Message, error) {
	text := registrystore.InitialMessage(initialMessage)
	now := registrystore.NextTimestamp(time.Time{}, time.Now(), timestampResolution)
	doc := convDoc{
		ID:        uuidToStr(uuid.New()),
		UserID:    uuidToStr(userID),
		Title:     model.DeriveTitle(text),
		State:     string(model.StateActive),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.conversations().InsertOne(ctx, doc); err != nil {
		return nil, nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	var messages []model.Message
	if text != "" {
		msg := messageDoc{
			ID:             uuidToStr(uuid.New()),
			ConversationID: doc.ID,
			Role:           string(model.RoleUser),
			Content:        text,
			CreatedAt:      now,
		}
		if _, err := s.messages().InsertOne(ctx, msg); err != nil {
			// No multi-document transaction on a standalone server; undo the conversation.
			if _, delErr := s.conversations().DeleteOne(ctx, bson.M{"_id": doc.ID}); delErr != nil {
				log.Error("Failed to roll back conversation", "conversationId", doc.ID, "err", delErr)
			}
			return nil, nil, fmt.Errorf("failed to create initial message: %w", err)
		}
		messages = append(messages, msg.toModel())
	}
	return doc.toModel(), messages, nil
}

func (s *MongoStore) GetConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) (*model.Conversation, error) {
	var doc convDoc
	err := s.conversations().FindOne(ctx, bson.M{
		"_id":     uuidToStr(conversationID),
		"user_id": uuidToStr(userID),
		"state":   notArchived(),
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, conversationNotFound(conversationID)
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	return doc.toModel(), nil
}

func (s *MongoStore) ListConversations(ctx context.Context, userID uuid.UUID) ([]registrystore.ConversationSummary, error) {
	cursor, err := s.conversations().Find(ctx,
		bson.M{"user_id": uuidToStr(userID), "state": notArchived()},
		options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	var docs []convDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}

	result := make([]registrystore.ConversationSummary, 0, len(docs))
	if len(docs) == 0 {
		return result, nil
	}
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	counts, err := s.countMessages(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, d := range docs {
		result = append(result, registrystore.ConversationSummary{
			ID:           strToUUID(d.ID),
			Title:        d.Title,
			State:        model.ConversationState(d.State),
			MessageCount: counts[d.ID],
			CreatedAt:    d.CreatedAt,
			UpdatedAt:    d.UpdatedAt,
		})
	}
	return result, nil
}

func (s *MongoStore) countMessages(ctx context.Context, conversationIDs []string) (map[string]int64, error) {
	cursor, err := s.messages().Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"conversation_id": bson.M{"$in": conversationIDs}}}},
		{{Key: "$group", Value: bson.M{"_id": "$conversation_id", "count": bson.M{"$sum": 1}}}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	var rows []struct {
		ID    string `bson:"_id"`
		Count int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to decode message counts: %w", err)
	}
	counts := make(map[string]int64, len(rows))
	for _, r := range rows {
		counts[r.ID] = r.Count
	}
	return counts, nil
}

func (s *MongoStore) RenameConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID, title string) (*model.Conversation, error) {
	normalized, err := registrystore.NormalizeTitle(title)
	if err != nil {
		return nil, err
	}
	res, err := s.conversations().UpdateOne(ctx,
		bson.M{"_id": uuidToStr(conversationID), "user_id": uuidToStr(userID), "state": notArchived()},
		bson.M{"$set": bson.M{"title": normalized, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return nil, fmt.Errorf("failed to rename conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return nil, conversationNotFound(conversationID)
	}
	return s.GetConversation(ctx, userID, conversationID)
}

func (s *MongoStore) BootstrapTitle(ctx context.Context, conversationID uuid.UUID, title string) (bool, error) {
	res, err := s.conversations().UpdateOne(ctx,
		bson.M{"_id": uuidToStr(conversationID), "title": model.DefaultConversationTitle, "state": notArchived()},
		bson.M{"$set": bson.M{"title": title, "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return false, fmt.Errorf("failed to set conversation title: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

func (s *MongoStore) SoftDeleteConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) error {
	res, err := s.conversations().UpdateOne(ctx,
		bson.M{"_id": uuidToStr(conversationID), "user_id": uuidToStr(userID), "state": notArchived()},
		bson.M{"$set": bson.M{"state": string(model.StateArchived), "updated_at": time.Now().UTC()}},
	)
	if err != nil {
		return fmt.Errorf("failed to archive conversation: %w", err)
	}
	if res.MatchedCount == 0 {
		return conversationNotFound(conversationID)
	}
	return nil
}

func (s *MongoStore) ClearConversation(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) error {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return err
	}
	if _, err := s.messages().DeleteMany(ctx, bson.M{"conversation_id": uuidToStr(conversationID)}); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := s.conversations().UpdateByID(ctx, uuidToStr(conversationID), bson.M{
		"$set": bson.M{"state": string(model.StateCleared), "updated_at": time.Now().UTC()},
	}); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}

// --- Messages ---

func (s *MongoStore) AppendMessage(ctx context.Context, conversationID uuid.UUID, role model.Role, content string, tokens *int) (*model.Message, error) {
	if !role.Valid() {
		return nil, &registrystore.ValidationError{Field: "role", Message: fmt.Sprintf("unknown role %q", role)}
	}
	convID := uuidToStr(conversationID)
	var conv convDoc
	if err := s.conversations().FindOne(ctx, bson.M{"_id": convID, "state": notArchived()}).Decode(&conv); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, conversationNotFound(conversationID)
		}
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	var prev time.Time
	var last messageDoc
	err := s.messages().FindOne(ctx, bson.M{"conversation_id": convID},
		options.FindOne().SetSort(bson.D{{Key: "created_at", Value: -1}})).Decode(&last)
	switch {
	case err == nil:
		prev = last.CreatedAt
	case !errors.Is(err, mongo.ErrNoDocuments):
		return nil, fmt.Errorf("failed to load last message: %w", err)
	}

	doc := messageDoc{
		ID:             uuidToStr(uuid.New()),
		ConversationID: convID,
		Role:           string(role),
		Content:        content,
		Tokens:         tokens,
		CreatedAt:      registrystore.NextTimestamp(prev, time.Now(), timestampResolution),
	}
	if _, err := s.messages().InsertOne(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to append message: %w", err)
	}
	if _, err := s.conversations().UpdateByID(ctx, convID, bson.M{
		"$set": bson.M{"state": string(model.StateActive), "updated_at": doc.CreatedAt},
	}); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}
	msg := doc.toModel()
	return &msg, nil
}

func (s *MongoStore) ListMessages(ctx context.Context, userID uuid.UUID, conversationID uuid.UUID) ([]model.Message, error) {
	if _, err := s.GetConversation(ctx, userID, conversationID); err != nil {
		return nil, err
	}
	return s.findMessages(ctx, conversationID, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

func (s *MongoStore) RecentMessages(ctx context.Context, conversationID uuid.UUID, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return []model.Message{}, nil
	}
	messages, err := s.findMessages(ctx, conversationID,
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (s *MongoStore) findMessages(ctx context.Context, conversationID uuid.UUID, opts *options.FindOptionsBuilder) ([]model.Message, error) {
	cursor, err := s.messages().Find(ctx, bson.M{"conversation_id": uuidToStr(conversationID)}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}
	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}
	messages := make([]model.Message, len(docs))
	for i, d := range docs {
		messages[i] = d.toModel()
	}
	return messages, nil
}

// --- Eviction ---

func (s *MongoStore) FindEvictableConversationIDs(ctx context.Context, cutoff time.Time, limit int) ([]uuid.UUID, error) {
	cursor, err := s.conversations().Find(ctx,
		bson.M{"state": string(model.StateArchived), "updated_at": bson.M{"$lt": cutoff.UTC()}},
		options.Find().
			SetSort(bson.D{{Key: "updated_at", Value: 1}}).
			SetLimit(int64(limit)).
			SetProjection(bson.M{"_id": 1}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to find evictable conversations: %w", err)
	}
	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode evictable conversations: %w", err)
	}
	ids := make([]uuid.UUID, len(docs))
	for i, d := range docs {
		ids[i] = strToUUID(d.ID)
	}
	return ids, nil
}

func (s *MongoStore) HardDeleteConversations(ctx context.Context, conversationIDs []uuid.UUID) error {
	if len(conversationIDs) == 0 {
		return nil
	}
	ids := make([]string, len(conversationIDs))
	for i, id := range conversationIDs {
		ids[i] = uuidToStr(id)
	}
	var targets []string
	if err := s.conversations().Distinct(ctx, "_id", bson.M{
		"_id":   bson.M{"$in": ids},
		"state": string(model.StateArchived),
	}).Decode(&targets); err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("failed to resolve archived conversations: %w", err)
	}
	if len(targets) == 0 {
		return nil
	}
	if _, err := s.messages().DeleteMany(ctx, bson.M{"conversation_id": bson.M{"$in": targets}}); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	if _, err := s.conversations().DeleteMany(ctx, bson.M{"_id": bson.M{"$in": targets}}); err != nil {
		return fmt.Errorf("failed to delete conversations: %w", err)
	}
	return nil
}
