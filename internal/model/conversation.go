package model

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Conversation kinds
const (
	ConversationDirect = "direct"
	ConversationGroup  = "group"
)

// Conversation represents a chat conversation in MongoDB. The call core
// only needs membership and the direct/group distinction; messages and
// settings belong to the messenger proper.
type Conversation struct {
	ID               primitive.ObjectID `json:"id" bson:"_id,omitempty"`
	ConversationType string             `json:"conversationType" bson:"conversation_type"`
	ParticipantIDs   []string           `json:"participantIds" bson:"participant_ids"`
	ConversationName string             `json:"conversationName" bson:"conversation_name"`
	CreatedBy        string             `json:"createdBy" bson:"created_by"`
	CreatedAt        time.Time          `json:"createdAt" bson:"created_at"`
	UpdatedAt        time.Time          `json:"updatedAt" bson:"updated_at"`
	IsActive         bool               `json:"isActive" bson:"is_active"`
}

// IsGroup reports whether the conversation is a group conversation.
func (c *Conversation) IsGroup() bool {
	return c.ConversationType == ConversationGroup
}

// HasParticipant reports whether userID is a member of the conversation.
func (c *Conversation) HasParticipant(userID string) bool {
	for _, id := range c.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}
