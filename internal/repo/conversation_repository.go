package repo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"github.com/Phuc-Java/forum-sub000/internal/db"
	"github.com/Phuc-Java/forum-sub000/internal/model"
)

type conversationRepository struct {
	con        *mongo.Database
	collection string
	logger     *zap.Logger
}

// ConversationRepository resolves conversations for membership checks and
// the direct/group distinction.
type ConversationRepository interface {
	Get(ctx context.Context, conversationID string) (*model.Conversation, error)
}

func NewConversationRepository(mongo *mongo.Database, collection string, logger *zap.Logger) ConversationRepository {
	return &conversationRepository{
		con:        mongo,
		collection: collection,
		logger:     logger,
	}
}

// Get fetches a conversation document by ID. Returns (nil, nil) when the
// conversation does not exist.
func (r *conversationRepository) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := db.NewFilter().ObjectID("_id", conversationID).Build()
	if len(filter) == 0 {
		return nil, fmt.Errorf("invalid conversation ID format: %q", conversationID)
	}

	var conversation model.Conversation
	err := r.con.Collection(r.collection).FindOne(ctx, filter).Decode(&conversation)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			r.logger.Debug("conversation not found",
				zap.String("conversation_id", conversationID),
			)
			return nil, nil
		}
		r.logger.Error("failed to fetch conversation",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to fetch conversation: %w", err)
	}

	return &conversation, nil
}

func (r *conversationRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
