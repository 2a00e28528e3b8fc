package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Call types
type CallType string

const (
	CallTypeAudio CallType = "audio"
	CallTypeVideo CallType = "video"
)

// Valid reports whether t is a known call type.
func (t CallType) Valid() bool {
	return t == CallTypeAudio || t == CallTypeVideo
}

// Call lifecycle status. Transitions are monotonic:
// ringing -> ongoing -> ended, or ringing -> ended. Never backward.
type CallStatus string

const (
	CallStatusRinging CallStatus = "ringing"
	CallStatusOngoing CallStatus = "ongoing"
	CallStatusEnded   CallStatus = "ended"
)

// CanTransitionTo reports whether moving from s to next respects the
// monotonic lifecycle. Writing the current status again is allowed so that
// replayed mutations stay idempotent.
func (s CallStatus) CanTransitionTo(next CallStatus) bool {
	if s == next {
		return true
	}
	switch s {
	case CallStatusRinging:
		return next == CallStatusOngoing || next == CallStatusEnded
	case CallStatusOngoing:
		return next == CallStatusEnded
	default:
		return false
	}
}

// CallSession is the durable record of a call, stored in MongoDB and
// mutated only through the session repository. Ended sessions are kept as
// call history, never deleted.
type CallSession struct {
	ID             primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationID string             `json:"conversationId" bson:"conversationId"` // Owning conversation
	InitiatorID    string             `json:"initiatorId" bson:"initiatorId"`       // User who created the session
	CallType       CallType           `json:"callType" bson:"callType"`             // "audio" or "video"
	Status         CallStatus         `json:"status" bson:"status"`                 // ringing | ongoing | ended
	RoomID         string             `json:"roomId" bson:"roomId"`                 // Media transport room handle
	Participants   []string           `json:"participants" bson:"participants"`     // Users currently joined (set semantics)
	CreatedAt      time.Time          `json:"createdAt" bson:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt" bson:"updatedAt"`
	EndedAt        *time.Time         `json:"endedAt,omitempty" bson:"endedAt,omitempty"`
}

// HexID returns the session id as a hex string, or "" if unset.
func (s *CallSession) HexID() string {
	if s.ID.IsZero() {
		return ""
	}
	return s.ID.Hex()
}

// HasParticipant reports whether userID is currently joined.
func (s *CallSession) HasParticipant(userID string) bool {
	for _, id := range s.Participants {
		if id == userID {
			return true
		}
	}
	return false
}

// IncomingCallPrompt is the ephemeral "someone is calling you" state.
// At most one prompt is active per client; a fresher ringing session for
// the same conversation replaces an older one.
type IncomingCallPrompt struct {
	SessionID      string    `json:"sessionId"`
	ConversationID string    `json:"conversationId"`
	CallerID       string    `json:"callerId"`
	CallType       CallType  `json:"callType"`
	RoomID         string    `json:"roomId"`
	CreatedAt      time.Time `json:"createdAt"`

	// Accepted flips once the local user answered; it decides whether an
	// observed end is reported as "missed" or "rejected".
	Accepted bool `json:"-"`
}

// OngoingCallInfo is a conversation call index entry: the most recently
// observed ongoing session for a conversation. Advisory only - always
// re-validated against the session repository before it decides anything.
type OngoingCallInfo struct {
	SessionID    string   `json:"sessionId"`
	RoomID       string   `json:"roomId"`
	CallType     CallType `json:"callType"`
	Participants []string `json:"participants"`
}

// -----------------------------------------------------------------
// WebSocket Event Payloads - Client to Server
// -----------------------------------------------------------------

// StartCallPayload is sent to start (or, for groups, join) a call.
type StartCallPayload struct {
	ConversationID string   `json:"conversationId"`
	CallType       CallType `json:"callType"` // "audio" or "video"
}

// JoinCallPayload is sent to join a known ongoing session.
type JoinCallPayload struct {
	SessionID string `json:"sessionId"`
}

// -----------------------------------------------------------------
// WebSocket Event Payloads - Server to Client
// -----------------------------------------------------------------

// CallIncomingEvent notifies a client of an incoming call.
type CallIncomingEvent struct {
	SessionID      string   `json:"sessionId"`
	ConversationID string   `json:"conversationId"`
	CallerID       string   `json:"callerId"`
	CallType       CallType `json:"callType"`
	RoomID         string   `json:"roomId"`
	Timestamp      int64    `json:"timestamp"`
}

// CallStateEvent renders the client's local call state after a transition.
type CallStateEvent struct {
	Phase     string   `json:"phase"`
	SessionID string   `json:"sessionId,omitempty"`
	RoomID    string   `json:"roomId,omitempty"`
	CallType  CallType `json:"callType,omitempty"`
	Token     string   `json:"token,omitempty"` // Media transport credential, set while joined
	Timestamp int64    `json:"timestamp"`
}

// CallNoticeEvent carries a user-visible call notice (missed, rejected,
// transport failure, ...).
type CallNoticeEvent struct {
	SessionID string `json:"sessionId,omitempty"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
	Timestamp int64  `json:"timestamp"`
}

// CallErrorEvent reports a failed call intent back to its sender.
type CallErrorEvent struct {
	Code      string `json:"code"`
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
}
