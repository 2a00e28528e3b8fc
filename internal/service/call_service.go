package service

import (
	"context"

	"github.com/Phuc-Java/forum-sub000/internal/db"
	"github.com/Phuc-Java/forum-sub000/internal/model"
	"github.com/Phuc-Java/forum-sub000/internal/repo"
)

type CallService interface {
	// History returns ended sessions for a conversation, newest first.
	History(ctx context.Context, conversationID string, params db.PaginationParams) (*db.PaginatedResult[model.CallSession], error)

	// Active returns the newest non-ended session for a conversation, or
	// nil when the conversation has no live call.
	Active(ctx context.Context, conversationID string) (*model.CallSession, error)
}

type callService struct {
	history  *db.Repository[model.CallSession]
	sessions repo.SessionRepository
}

func NewCallService(history *db.Repository[model.CallSession], sessions repo.SessionRepository) CallService {
	return &callService{
		history:  history,
		sessions: sessions,
	}
}

func (s *callService) History(ctx context.Context, conversationID string, params db.PaginationParams) (*db.PaginatedResult[model.CallSession], error) {
	filter := db.NewFilter().
		Eq("conversationId", conversationID).
		Eq("status", model.CallStatusEnded).
		Build()

	if params.SortBy == "" {
		params.SortBy = "createdAt"
		params.SortDesc = true
	}

	return s.history.FindWithPagination(ctx, filter, params)
}

func (s *callService) Active(ctx context.Context, conversationID string) (*model.CallSession, error) {
	return s.sessions.FindActiveByConversation(ctx, conversationID)
}
