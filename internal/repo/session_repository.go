package repo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/Phuc-Java/forum-sub000/internal/model"
)

const (
	// Timeouts
	defaultWriteTimeout = 5 * time.Second
	defaultReadTimeout  = 10 * time.Second

	// One retry for idempotent participant mutations; a conflict that
	// survives it is surfaced as ErrConcurrentJoinRace.
	participantMutationAttempts = 2
)

type sessionRepository struct {
	con        *mongo.Database
	collection string
	logger     *zap.Logger
}

// SessionRepository mutates and queries durable CallSession records.
// Participant membership is mutated exclusively through AddParticipant and
// RemoveParticipant, which use atomic set operations; callers never compute
// and write back the full participants array.
type SessionRepository interface {
	Create(ctx context.Context, conversationID, initiatorID string, callType model.CallType, status model.CallStatus) (*model.CallSession, error)
	Get(ctx context.Context, sessionID string) (*model.CallSession, error)
	AddParticipant(ctx context.Context, sessionID, userID string) (*model.CallSession, error)
	RemoveParticipant(ctx context.Context, sessionID, userID string) (*model.CallSession, error)
	SetStatus(ctx context.Context, sessionID string, status model.CallStatus) error
	FindActiveByConversation(ctx context.Context, conversationID string) (*model.CallSession, error)
}

func NewSessionRepository(mongo *mongo.Database, collection string, logger *zap.Logger) SessionRepository {
	return &sessionRepository{
		con:        mongo,
		collection: collection,
		logger:     logger,
	}
}

// -----------------------------------------------------------------------------
// Create
// -----------------------------------------------------------------------------

func (r *sessionRepository) Create(ctx context.Context, conversationID, initiatorID string, callType model.CallType, status model.CallStatus) (*model.CallSession, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}
	if initiatorID == "" {
		return nil, ErrInvalidUserID
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	session := model.CallSession{
		ConversationID: conversationID,
		InitiatorID:    initiatorID,
		CallType:       callType,
		Status:         status,
		RoomID:         fmt.Sprintf("room_%s_%d", conversationID, now.UnixMilli()),
		Participants:   []string{initiatorID},
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	res, err := r.con.Collection(r.collection).InsertOne(ctx, session)
	if err != nil {
		r.logger.Error("failed to create call session",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to create call session: %w", err)
	}

	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		session.ID = oid
	}

	r.logger.Debug("call session created",
		zap.String("session_id", session.HexID()),
		zap.String("conversation_id", conversationID),
		zap.String("status", string(status)),
	)
	return &session, nil
}

// -----------------------------------------------------------------------------
// Get
// -----------------------------------------------------------------------------

func (r *sessionRepository) Get(ctx context.Context, sessionID string) (*model.CallSession, error) {
	oid, err := r.objectID(sessionID)
	if err != nil {
		return nil, err
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	var session model.CallSession
	err = r.con.Collection(r.collection).FindOne(ctx, bson.M{"_id": oid}).Decode(&session)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to fetch call session: %w", err)
	}
	return &session, nil
}

// -----------------------------------------------------------------------------
// AddParticipant
// -----------------------------------------------------------------------------

// AddParticipant joins userID into the session's participant set. The
// $addToSet update makes a duplicate join a no-op, and joining a ringing
// session flips it to ongoing in the same write, which is how a direct
// call's accept becomes visible to the caller's feed.
func (r *sessionRepository) AddParticipant(ctx context.Context, sessionID, userID string) (*model.CallSession, error) {
	oid, err := r.objectID(sessionID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	filter := bson.M{"_id": oid, "status": bson.M{"$ne": model.CallStatusEnded}}
	update := bson.M{
		"$addToSet": bson.M{"participants": userID},
		"$set": bson.M{
			"status":    model.CallStatusOngoing,
			"updatedAt": time.Now().UTC(),
		},
	}

	var lastErr error
	for attempt := 1; attempt <= participantMutationAttempts; attempt++ {
		res := r.con.Collection(r.collection).FindOneAndUpdate(
			ctx, filter, update,
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		)

		var session model.CallSession
		err := res.Decode(&session)
		if err == nil {
			r.logger.Debug("participant added",
				zap.String("session_id", sessionID),
				zap.String("user_id", userID),
				zap.Int("participants_count", len(session.Participants)),
			)
			return &session, nil
		}

		if err == mongo.ErrNoDocuments {
			// Either the session is gone or it has ended; both mean the
			// join target no longer exists for the caller.
			return nil, ErrSessionNotFound
		}

		lastErr = err
		r.logger.Warn("participant add conflicted, retrying",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return nil, fmt.Errorf("%w: %v", ErrConcurrentJoinRace, lastErr)
}

// -----------------------------------------------------------------------------
// RemoveParticipant
// -----------------------------------------------------------------------------

// RemoveParticipant pulls userID out of the participant set. If that drains
// an ongoing group session, the same leaver ends it in a follow-up
// conditional write, so an emptied room does not linger as ongoing.
func (r *sessionRepository) RemoveParticipant(ctx context.Context, sessionID, userID string) (*model.CallSession, error) {
	oid, err := r.objectID(sessionID)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrInvalidUserID
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	update := bson.M{
		"$pull": bson.M{"participants": userID},
		"$set":  bson.M{"updatedAt": time.Now().UTC()},
	}

	var lastErr error
	for attempt := 1; attempt <= participantMutationAttempts; attempt++ {
		res := r.con.Collection(r.collection).FindOneAndUpdate(
			ctx, bson.M{"_id": oid}, update,
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		)

		var session model.CallSession
		err := res.Decode(&session)
		if err == mongo.ErrNoDocuments {
			return nil, ErrSessionNotFound
		}
		if err != nil {
			lastErr = err
			r.logger.Warn("participant remove conflicted, retrying",
				zap.String("session_id", sessionID),
				zap.String("user_id", userID),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
			continue
		}

		if len(session.Participants) == 0 && session.Status == model.CallStatusOngoing {
			if endErr := r.endEmptied(ctx, oid); endErr != nil {
				r.logger.Warn("failed to end emptied session",
					zap.String("session_id", sessionID),
					zap.Error(endErr),
				)
			} else {
				session.Status = model.CallStatusEnded
			}
		}

		r.logger.Debug("participant removed",
			zap.String("session_id", sessionID),
			zap.String("user_id", userID),
			zap.Int("participants_count", len(session.Participants)),
		)
		return &session, nil
	}

	return nil, fmt.Errorf("%w: %v", ErrConcurrentJoinRace, lastErr)
}

// endEmptied flips an ongoing session with no participants left to ended.
// Conditional on both, so a concurrent late joiner wins over the sweep.
func (r *sessionRepository) endEmptied(ctx context.Context, oid primitive.ObjectID) error {
	now := time.Now().UTC()
	_, err := r.con.Collection(r.collection).UpdateOne(ctx,
		bson.M{
			"_id":          oid,
			"status":       model.CallStatusOngoing,
			"participants": bson.M{"$size": 0},
		},
		bson.M{"$set": bson.M{
			"status":    model.CallStatusEnded,
			"endedAt":   now,
			"updatedAt": now,
		}},
	)
	return err
}

// -----------------------------------------------------------------------------
// SetStatus
// -----------------------------------------------------------------------------

// SetStatus writes a status transition. The filter only matches statuses
// that may legally precede the target, so a write that would move the
// lifecycle backward surfaces as ErrStaleSessionConflict instead of
// clobbering a resolved call.
func (r *sessionRepository) SetStatus(ctx context.Context, sessionID string, status model.CallStatus) error {
	oid, err := r.objectID(sessionID)
	if err != nil {
		return err
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultWriteTimeout)
	defer cancel()

	now := time.Now().UTC()
	set := bson.M{"status": status, "updatedAt": now}
	if status == model.CallStatusEnded {
		set["endedAt"] = now
	}

	res, err := r.con.Collection(r.collection).UpdateOne(ctx,
		bson.M{"_id": oid, "status": bson.M{"$in": statusPredecessors(status)}},
		bson.M{"$set": set},
	)
	if err != nil {
		r.logger.Error("failed to set session status",
			zap.String("session_id", sessionID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to set session status: %w", err)
	}

	if res.MatchedCount == 0 {
		// Distinguish a missing session from a monotonicity violation.
		if _, getErr := r.Get(ctx, sessionID); getErr != nil {
			return getErr
		}
		r.logger.Debug("stale status transition rejected",
			zap.String("session_id", sessionID),
			zap.String("status", string(status)),
		)
		return ErrStaleSessionConflict
	}
	return nil
}

// statusPredecessors returns the statuses that may legally precede next.
// Re-writing the current status is included to keep replays idempotent.
func statusPredecessors(next model.CallStatus) []model.CallStatus {
	switch next {
	case model.CallStatusEnded:
		return []model.CallStatus{model.CallStatusRinging, model.CallStatusOngoing, model.CallStatusEnded}
	case model.CallStatusOngoing:
		return []model.CallStatus{model.CallStatusRinging, model.CallStatusOngoing}
	default:
		return []model.CallStatus{model.CallStatusRinging}
	}
}

// -----------------------------------------------------------------------------
// FindActiveByConversation
// -----------------------------------------------------------------------------

// FindActiveByConversation returns the newest non-ended session for a
// conversation, or nil when there is none. This is the authoritative check
// clients run before creating a session, so a stale local index can never
// split one conversation's call across two rooms.
func (r *sessionRepository) FindActiveByConversation(ctx context.Context, conversationID string) (*model.CallSession, error) {
	if conversationID == "" {
		return nil, ErrInvalidConversationID
	}

	ctx, cancel := r.ensureTimeout(ctx, defaultReadTimeout)
	defer cancel()

	filter := bson.M{
		"conversationId": conversationID,
		"status":         bson.M{"$in": []model.CallStatus{model.CallStatusRinging, model.CallStatusOngoing}},
	}
	opts := options.FindOne().SetSort(bson.M{"createdAt": -1})

	var session model.CallSession
	err := r.con.Collection(r.collection).FindOne(ctx, filter, opts).Decode(&session)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, nil
		}
		r.logger.Error("failed to query active session",
			zap.String("conversation_id", conversationID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to query active session: %w", err)
	}
	return &session, nil
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func (r *sessionRepository) objectID(sessionID string) (primitive.ObjectID, error) {
	if sessionID == "" {
		return primitive.NilObjectID, ErrInvalidSessionID
	}
	oid, err := primitive.ObjectIDFromHex(sessionID)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("invalid session ID format: %w", err)
	}
	return oid, nil
}

func (r *sessionRepository) ensureTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, hadDeadline := ctx.Deadline(); hadDeadline {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}
