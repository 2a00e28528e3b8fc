package call

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"

	"github.com/Phuc-Java/forum-sub000/internal/event"
	"github.com/Phuc-Java/forum-sub000/internal/model"
	"github.com/Phuc-Java/forum-sub000/internal/repo"
	"github.com/Phuc-Java/forum-sub000/internal/transport"
)

// fakeSessionStore is an in-memory repo.SessionRepository with the same
// conditional-write semantics as the MongoDB implementation.
type fakeSessionStore struct {
	mu       sync.Mutex
	sessions map[string]*model.CallSession

	createErr    error
	addErr       error
	setStatusErr error
	findErr      error
}

func newFakeSessionStore() *fakeSessionStore {
	return &fakeSessionStore{sessions: make(map[string]*model.CallSession)}
}

func cloneSession(s *model.CallSession) *model.CallSession {
	out := *s
	out.Participants = append([]string(nil), s.Participants...)
	return &out
}

func (f *fakeSessionStore) Create(ctx context.Context, conversationID, initiatorID string, callType model.CallType, status model.CallStatus) (*model.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.createErr != nil {
		return nil, f.createErr
	}

	now := time.Now()
	session := &model.CallSession{
		ID:             primitive.NewObjectID(),
		ConversationID: conversationID,
		InitiatorID:    initiatorID,
		CallType:       callType,
		Status:         status,
		RoomID:         fmt.Sprintf("room_%s_%d", conversationID, now.UnixMilli()),
		Participants:   []string{initiatorID},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	f.sessions[session.HexID()] = session
	return cloneSession(session), nil
}

func (f *fakeSessionStore) Get(ctx context.Context, sessionID string) (*model.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, repo.ErrSessionNotFound
	}
	return cloneSession(session), nil
}

func (f *fakeSessionStore) AddParticipant(ctx context.Context, sessionID, userID string) (*model.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.addErr != nil {
		return nil, f.addErr
	}

	session, ok := f.sessions[sessionID]
	if !ok || session.Status == model.CallStatusEnded {
		return nil, repo.ErrSessionNotFound
	}

	if !session.HasParticipant(userID) {
		session.Participants = append(session.Participants, userID)
	}
	session.Status = model.CallStatusOngoing
	session.UpdatedAt = time.Now()
	return cloneSession(session), nil
}

func (f *fakeSessionStore) RemoveParticipant(ctx context.Context, sessionID, userID string) (*model.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	session, ok := f.sessions[sessionID]
	if !ok {
		return nil, repo.ErrSessionNotFound
	}

	kept := session.Participants[:0]
	for _, id := range session.Participants {
		if id != userID {
			kept = append(kept, id)
		}
	}
	session.Participants = kept
	session.UpdatedAt = time.Now()

	if session.Status == model.CallStatusOngoing && len(session.Participants) == 0 {
		now := time.Now()
		session.Status = model.CallStatusEnded
		session.EndedAt = &now
	}
	return cloneSession(session), nil
}

func (f *fakeSessionStore) SetStatus(ctx context.Context, sessionID string, status model.CallStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setStatusErr != nil {
		return f.setStatusErr
	}

	session, ok := f.sessions[sessionID]
	if !ok {
		return repo.ErrSessionNotFound
	}
	if !session.Status.CanTransitionTo(status) {
		return repo.ErrStaleSessionConflict
	}

	session.Status = status
	session.UpdatedAt = time.Now()
	if status == model.CallStatusEnded && session.EndedAt == nil {
		now := time.Now()
		session.EndedAt = &now
	}
	return nil
}

func (f *fakeSessionStore) FindActiveByConversation(ctx context.Context, conversationID string) (*model.CallSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.findErr != nil {
		return nil, f.findErr
	}

	var newest *model.CallSession
	for _, session := range f.sessions {
		if session.ConversationID != conversationID || session.Status == model.CallStatusEnded {
			continue
		}
		if newest == nil || session.CreatedAt.After(newest.CreatedAt) {
			newest = session
		}
	}
	if newest == nil {
		return nil, nil
	}
	return cloneSession(newest), nil
}

// stored returns the raw record for assertions.
func (f *fakeSessionStore) stored(sessionID string) *model.CallSession {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[sessionID]
	if !ok {
		return nil
	}
	return cloneSession(session)
}

func (f *fakeSessionStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sessions)
}

// fakeConversations is an in-memory repo.ConversationRepository.
type fakeConversations struct {
	mu            sync.Mutex
	conversations map[string]*model.Conversation
}

func newFakeConversations() *fakeConversations {
	return &fakeConversations{conversations: make(map[string]*model.Conversation)}
}

func (f *fakeConversations) add(id, kind string, members ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.conversations[id] = &model.Conversation{
		ConversationType: kind,
		ParticipantIDs:   members,
		IsActive:         true,
	}
}

func (f *fakeConversations) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	conv, ok := f.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	out := *conv
	out.ParticipantIDs = append([]string(nil), conv.ParticipantIDs...)
	return &out, nil
}

// fakeTransport counts credential, join and leave calls and can inject
// failures or block inside RequestCredential.
type fakeTransport struct {
	mu         sync.Mutex
	credErr    error
	joinErr    error
	credCalls  int
	joinCalls  int
	leaveCalls int
	joined     map[string]map[string]struct{}

	// when set, RequestCredential blocks until the channel is closed
	block chan struct{}
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{joined: make(map[string]map[string]struct{})}
}

func (f *fakeTransport) RequestCredential(ctx context.Context, roomID, participantID, participantName string) (transport.Credential, error) {
	f.mu.Lock()
	f.credCalls++
	block := f.block
	err := f.credErr
	f.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return transport.Credential{}, err
	}
	return transport.Credential{
		Token:    "tok-" + roomID + "-" + participantID,
		URL:      "ws://media.test",
		Identity: participantID,
	}, nil
}

func (f *fakeTransport) Join(ctx context.Context, roomID string, cred transport.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.joinCalls++
	if f.joinErr != nil {
		return f.joinErr
	}
	room, ok := f.joined[roomID]
	if !ok {
		room = make(map[string]struct{})
		f.joined[roomID] = room
	}
	room[cred.Identity] = struct{}{}
	return nil
}

func (f *fakeTransport) Leave(roomID string, identity string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.leaveCalls++
	if room, ok := f.joined[roomID]; ok {
		delete(room, identity)
	}
}

func (f *fakeTransport) occupants(roomID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.joined[roomID])
}

func (f *fakeTransport) credentialCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.credCalls
}

type clearedPrompt struct {
	sessionID string
	reason    string
}

type callNotice struct {
	sessionID string
	reason    string
}

// recordingNotifier captures everything the coordinator surfaces.
type recordingNotifier struct {
	mu       sync.Mutex
	incoming []model.IncomingCallPrompt
	cleared  []clearedPrompt
	states   []Snapshot
	notices  []callNotice
}

func (n *recordingNotifier) IncomingCall(prompt model.IncomingCallPrompt) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.incoming = append(n.incoming, prompt)
}

func (n *recordingNotifier) PromptCleared(sessionID, reason string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cleared = append(n.cleared, clearedPrompt{sessionID: sessionID, reason: reason})
}

func (n *recordingNotifier) StateChanged(snap Snapshot) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.states = append(n.states, snap)
}

func (n *recordingNotifier) CallNotice(sessionID, reason, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, callNotice{sessionID: sessionID, reason: reason})
}

func (n *recordingNotifier) incomingCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.incoming)
}

func (n *recordingNotifier) lastCleared() (clearedPrompt, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.cleared) == 0 {
		return clearedPrompt{}, false
	}
	return n.cleared[len(n.cleared)-1], true
}

func (n *recordingNotifier) hasNotice(reason string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, notice := range n.notices {
		if notice.reason == reason {
			return true
		}
	}
	return false
}

// testRig bundles one user's coordinator with the shared fakes.
type testRig struct {
	coord    *Coordinator
	recon    *Reconciler
	notifier *recordingNotifier
}

func newTestRig(userID string, store *fakeSessionStore, convs *fakeConversations, media *fakeTransport) *testRig {
	notifier := &recordingNotifier{}
	coord := NewCoordinator(userID, "User "+userID, store, convs, media, notifier, zap.NewNop())
	return &testRig{
		coord:    coord,
		recon:    NewReconciler(coord, zap.NewNop()),
		notifier: notifier,
	}
}

func feedCreated(session *model.CallSession) event.FeedEvent {
	return event.FeedEvent{
		Collection: event.CollectionCallSessions,
		ChangeType: event.ChangeCreated,
		Record:     *session,
	}
}

func feedUpdated(session *model.CallSession) event.FeedEvent {
	return event.FeedEvent{
		Collection: event.CollectionCallSessions,
		ChangeType: event.ChangeUpdated,
		Record:     *session,
	}
}
