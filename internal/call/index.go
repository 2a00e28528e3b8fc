package call

import (
	"sync"

	"github.com/Phuc-Java/forum-sub000/internal/model"
)

// ConversationCallIndex caches the most recently observed ongoing session
// per conversation. Advisory only: it may be stale or empty without
// correctness loss, because every create-vs-join decision re-validates
// against the session repository first.
type ConversationCallIndex struct {
	mu      sync.RWMutex
	entries map[string]model.OngoingCallInfo
}

func NewConversationCallIndex() *ConversationCallIndex {
	return &ConversationCallIndex{
		entries: make(map[string]model.OngoingCallInfo),
	}
}

// Put records info as the ongoing call for a conversation.
func (x *ConversationCallIndex) Put(conversationID string, info model.OngoingCallInfo) {
	x.mu.Lock()
	x.entries[conversationID] = info
	x.mu.Unlock()
}

// Get returns the cached ongoing call for a conversation, if any.
func (x *ConversationCallIndex) Get(conversationID string) (model.OngoingCallInfo, bool) {
	x.mu.RLock()
	info, ok := x.entries[conversationID]
	x.mu.RUnlock()
	return info, ok
}

// DropSession removes the entry for a conversation, but only if it still
// points at sessionID. A late "ended" for an old session must not evict a
// newer call's entry.
func (x *ConversationCallIndex) DropSession(conversationID, sessionID string) {
	x.mu.Lock()
	if info, ok := x.entries[conversationID]; ok && info.SessionID == sessionID {
		delete(x.entries, conversationID)
	}
	x.mu.Unlock()
}

// Len returns the number of conversations with a cached ongoing call.
func (x *ConversationCallIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}
