package call

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/Phuc-Java/forum-sub000/internal/event"
	"github.com/Phuc-Java/forum-sub000/internal/model"
	"github.com/Phuc-Java/forum-sub000/internal/repo"
	"github.com/Phuc-Java/forum-sub000/internal/transport"
)

// Snapshot is a point-in-time view of a client's local call state, handed
// to the presentation layer after every transition.
type Snapshot struct {
	Phase          Phase
	SessionID      string
	ConversationID string
	RoomID         string
	CallType       model.CallType
	Token          string
}

// InCall reports whether the client is bound to a call in any phase.
func (s Snapshot) InCall() bool {
	return s.Phase != PhaseIdle
}

// Notifier receives user-visible call updates. Implementations must not
// call back into the Coordinator; they run while its lock is held.
type Notifier interface {
	IncomingCall(prompt model.IncomingCallPrompt)
	PromptCleared(sessionID, reason string)
	StateChanged(snap Snapshot)
	CallNotice(sessionID, reason, message string)
}

// Coordinator is the per-client call orchestrator. It owns the local call
// state machine, the advisory conversation call index and the single
// active incoming-call prompt, validates every intent against the
// conversation's membership, and is the only component that mutates
// CallSession records or talks to the media transport.
//
// Intents execute as short serialized actions: while a credential request
// or room join is suspended, further call-affecting intents are rejected
// with ErrOperationInFlight rather than queued.
type Coordinator struct {
	userID   string
	userName string

	sessions      repo.SessionRepository
	conversations repo.ConversationRepository
	media         transport.Transport
	notifier      Notifier
	logger        *zap.Logger

	mu       sync.Mutex
	state    *LocalCallState
	index    *ConversationCallIndex
	prompt   *model.IncomingCallPrompt
	inFlight bool

	// metadata of the bound session, valid while state is non-idle
	conversationID string
	groupCall      bool
	roomID         string
	cred           transport.Credential
	hasCred        bool
}

func NewCoordinator(userID, userName string, sessions repo.SessionRepository, conversations repo.ConversationRepository, media transport.Transport, notifier Notifier, logger *zap.Logger) *Coordinator {
	return &Coordinator{
		userID:        userID,
		userName:      userName,
		sessions:      sessions,
		conversations: conversations,
		media:         media,
		notifier:      notifier,
		logger:        logger,
		state:         NewLocalCallState(),
		index:         NewConversationCallIndex(),
	}
}

// UserID returns the owning user's id.
func (c *Coordinator) UserID() string { return c.userID }

// Snapshot returns the current local call state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// Index exposes the advisory conversation call index.
func (c *Coordinator) Index() *ConversationCallIndex { return c.index }

// -----------------------------------------------------------------
// Public operations (intents from the presentation layer)
// -----------------------------------------------------------------

// StartCall begins a call in a conversation. Direct conversations ring the
// peer and wait for an accept; group calls are ambient, so the session is
// created ongoing (or joined if one already exists) and the client connects
// immediately.
func (c *Coordinator) StartCall(ctx context.Context, conversationID string, callType model.CallType) error {
	if !callType.Valid() {
		return ErrInvalidCallType
	}

	conv, err := c.requireMembership(ctx, conversationID)
	if err != nil {
		return err
	}

	if err := c.beginIdleOp(); err != nil {
		return err
	}

	if !conv.IsGroup() {
		return c.startDirect(ctx, conversationID, callType)
	}
	return c.startOrJoinGroup(ctx, conversationID, callType)
}

func (c *Coordinator) startDirect(ctx context.Context, conversationID string, callType model.CallType) error {
	// Ringing or ongoing, either blocks a second direct call.
	existing, err := c.sessions.FindActiveByConversation(ctx, conversationID)
	if err != nil {
		c.endOp()
		return err
	}
	if existing != nil {
		c.endOp()
		return ErrAlreadyInProgress
	}

	session, err := c.sessions.Create(ctx, conversationID, c.userID, callType, model.CallStatusRinging)
	if err != nil {
		c.endOp()
		return err
	}

	c.mu.Lock()
	c.state.StartRinging(session.HexID(), callType)
	c.bindLocked(session, false)
	c.notifier.StateChanged(c.snapshotLocked())
	c.inFlight = false
	c.mu.Unlock()

	c.logger.Info("direct call started",
		zap.String("session_id", session.HexID()),
		zap.String("conversation_id", conversationID),
		zap.String("call_type", string(callType)),
	)
	return nil
}

func (c *Coordinator) startOrJoinGroup(ctx context.Context, conversationID string, callType model.CallType) error {
	// The local index is advisory; the repository is the authoritative
	// existence check. Trusting the cache alone is how rooms split.
	active, err := c.sessions.FindActiveByConversation(ctx, conversationID)
	if err != nil {
		c.endOp()
		return err
	}

	if active != nil && active.Status == model.CallStatusOngoing {
		c.index.Put(conversationID, ongoingInfo(active))
		c.logger.Info("joining existing group call",
			zap.String("session_id", active.HexID()),
			zap.String("conversation_id", conversationID),
		)
		return c.joinExisting(ctx, active, true)
	}

	session, err := c.sessions.Create(ctx, conversationID, c.userID, callType, model.CallStatusOngoing)
	if err != nil {
		c.endOp()
		return err
	}
	c.index.Put(conversationID, ongoingInfo(session))

	c.logger.Info("group call started",
		zap.String("session_id", session.HexID()),
		zap.String("conversation_id", conversationID),
		zap.String("call_type", string(callType)),
	)
	return c.connect(ctx, session, true, false)
}

// JoinCall joins a known ongoing session by id. The session's status is
// re-checked against the repository, never assumed from the caller's cache.
func (c *Coordinator) JoinCall(ctx context.Context, sessionID string) error {
	session, err := c.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != model.CallStatusOngoing {
		return repo.ErrSessionNotFound
	}

	conv, err := c.requireMembership(ctx, session.ConversationID)
	if err != nil {
		return err
	}

	if err := c.beginIdleOp(); err != nil {
		return err
	}

	c.index.Put(session.ConversationID, ongoingInfo(session))
	return c.joinExisting(ctx, session, conv.IsGroup())
}

// joinExisting adds self to an ongoing session and connects. Callers hold
// the in-flight guard.
func (c *Coordinator) joinExisting(ctx context.Context, session *model.CallSession, group bool) error {
	updated, err := c.sessions.AddParticipant(ctx, session.HexID(), c.userID)
	if err != nil {
		c.endOp()
		if errors.Is(err, repo.ErrSessionNotFound) {
			// The call ended between lookup and join.
			c.index.DropSession(session.ConversationID, session.HexID())
		}
		return err
	}

	c.index.Put(updated.ConversationID, ongoingInfo(updated))
	return c.connect(ctx, updated, group, false)
}

// AcceptIncomingCall answers the active prompt. There is no RINGING phase
// on the receiving side: the client goes straight to CONNECTING, and adding
// self to a ringing direct session flips it ongoing, which is the signal
// the caller's reconciler is waiting for.
func (c *Coordinator) AcceptIncomingCall(ctx context.Context) error {
	c.mu.Lock()
	if c.prompt == nil {
		c.mu.Unlock()
		return ErrNoIncomingCall
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrOperationInFlight
	}
	if c.state.Phase() != PhaseIdle {
		c.mu.Unlock()
		return ErrAlreadyInProgress
	}
	c.prompt.Accepted = true
	p := *c.prompt
	c.prompt = nil
	c.inFlight = true
	c.notifier.PromptCleared(p.SessionID, event.ReasonAnswered)
	c.mu.Unlock()

	conv, err := c.conversations.Get(ctx, p.ConversationID)
	if err != nil {
		c.endOp()
		return err
	}
	group := conv != nil && conv.IsGroup()

	updated, err := c.sessions.AddParticipant(ctx, p.SessionID, c.userID)
	if err != nil {
		c.endOp()
		if errors.Is(err, repo.ErrSessionNotFound) {
			c.notifier.CallNotice(p.SessionID, event.ReasonMissed, "The call has already ended")
		}
		return err
	}

	c.index.Put(updated.ConversationID, ongoingInfo(updated))
	c.logger.Info("incoming call accepted",
		zap.String("session_id", p.SessionID),
		zap.String("caller_id", p.CallerID),
	)
	return c.connect(ctx, updated, group, false)
}

// RejectIncomingCall dismisses the active prompt. For a direct call the
// session is ended outright - there is no one left to ring. For a group
// call nothing shared changes; one declined invitation must never affect
// the session for everyone else.
func (c *Coordinator) RejectIncomingCall(ctx context.Context) error {
	c.mu.Lock()
	if c.prompt == nil {
		c.mu.Unlock()
		return ErrNoIncomingCall
	}
	p := *c.prompt
	c.prompt = nil
	c.notifier.PromptCleared(p.SessionID, event.ReasonRejected)
	c.mu.Unlock()

	conv, err := c.conversations.Get(ctx, p.ConversationID)
	if err != nil {
		return err
	}
	if conv != nil && conv.IsGroup() {
		c.logger.Info("group call invitation dismissed",
			zap.String("session_id", p.SessionID),
		)
		return nil
	}

	err = c.sessions.SetStatus(ctx, p.SessionID, model.CallStatusEnded)
	if err != nil && !errors.Is(err, repo.ErrStaleSessionConflict) && !errors.Is(err, repo.ErrSessionNotFound) {
		return err
	}
	c.logger.Info("direct call rejected",
		zap.String("session_id", p.SessionID),
		zap.String("caller_id", p.CallerID),
	)
	return nil
}

// LeaveCall exits the bound call. In a group call only this client leaves;
// the session stays ongoing for everyone else. For a direct call leaving
// is ending.
func (c *Coordinator) LeaveCall(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Phase() == PhaseIdle {
		c.mu.Unlock()
		return nil
	}
	if c.inFlight {
		c.mu.Unlock()
		return ErrOperationInFlight
	}
	if !c.groupCall {
		c.mu.Unlock()
		return c.EndCall(ctx)
	}
	sessionID := c.state.BoundSessionID()
	c.mu.Unlock()

	if _, err := c.sessions.RemoveParticipant(ctx, sessionID, c.userID); err != nil && !errors.Is(err, repo.ErrSessionNotFound) {
		return err
	}

	c.mu.Lock()
	c.teardownLocked()
	c.notifier.StateChanged(c.snapshotLocked())
	c.mu.Unlock()

	c.logger.Info("left group call", zap.String("session_id", sessionID))
	return nil
}

// EndCall terminates the bound session for everyone. It always succeeds
// locally: the client is reset to idle and the room is left even when the
// remote status write fails, so a lost connection can never strand the
// client in a call phase.
func (c *Coordinator) EndCall(ctx context.Context) error {
	c.mu.Lock()
	sessionID := c.state.BoundSessionID()
	if sessionID == "" {
		c.mu.Unlock()
		return nil
	}
	c.teardownLocked()
	c.notifier.StateChanged(c.snapshotLocked())
	c.mu.Unlock()

	if err := c.sessions.SetStatus(ctx, sessionID, model.CallStatusEnded); err != nil {
		if errors.Is(err, repo.ErrStaleSessionConflict) || errors.Is(err, repo.ErrSessionNotFound) {
			// Someone already resolved this call.
			return nil
		}
		c.logger.Warn("end call status write failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
		c.notifier.CallNotice(sessionID, event.ReasonEndWriteFailed, "Call ended locally; the server could not be updated")
		return nil
	}

	c.logger.Info("call ended", zap.String("session_id", sessionID))
	return nil
}

// -----------------------------------------------------------------
// Transport callbacks
// -----------------------------------------------------------------

// TransportInterrupted records a transient media disconnect. A disconnect
// caused by a local leave or end arrives after the state is already idle
// and falls through the guard.
func (c *Coordinator) TransportInterrupted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Interrupted() {
		c.notifier.StateChanged(c.snapshotLocked())
	}
}

// TransportResumed records a recovered media connection.
func (c *Coordinator) TransportResumed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Phase() == PhaseReconnecting && c.state.Connected() {
		c.notifier.StateChanged(c.snapshotLocked())
	}
}

// -----------------------------------------------------------------
// Connection flow
// -----------------------------------------------------------------

// connect drives a session into CONNECTING and then performs the only two
// suspending steps of the design: credential acquisition and room join.
// Exactly one credential request is issued per successful transition to
// CONNECTING. The caller holds the in-flight guard; it is cleared here.
func (c *Coordinator) connect(ctx context.Context, session *model.CallSession, group, viaRinging bool) error {
	sessionID := session.HexID()

	c.mu.Lock()
	if !viaRinging {
		if !c.state.StartConnecting(sessionID, session.CallType) {
			c.mu.Unlock()
			c.endOp()
			return ErrAlreadyInProgress
		}
	}
	c.bindLocked(session, group)
	c.notifier.StateChanged(c.snapshotLocked())
	c.mu.Unlock()

	cred, err := c.media.RequestCredential(ctx, session.RoomID, c.userID, c.userName)
	if err != nil {
		c.abortConnect(ctx, sessionID, session.RoomID, group)
		return fmt.Errorf("%w: %v", ErrTokenAcquisition, err)
	}

	if err := c.media.Join(ctx, session.RoomID, cred); err != nil {
		c.abortConnect(ctx, sessionID, session.RoomID, group)
		return fmt.Errorf("%w: %v", ErrTokenAcquisition, err)
	}

	c.mu.Lock()
	if !c.state.IsBound(sessionID) {
		// The call was ended while we were joining; give the seat back.
		c.mu.Unlock()
		c.media.Leave(session.RoomID, cred.Identity)
		c.endOp()
		return nil
	}
	c.state.Connected()
	c.cred = cred
	c.hasCred = true
	c.inFlight = false
	c.notifier.StateChanged(c.snapshotLocked())
	c.mu.Unlock()

	c.logger.Info("call connected",
		zap.String("session_id", sessionID),
		zap.String("room_id", session.RoomID),
	)
	return nil
}

// abortConnect rolls an in-flight connection back to idle and undoes the
// shared membership this client contributed, so a failed join never leaves
// a ghost participant (or, for a direct call, a dangling ring).
func (c *Coordinator) abortConnect(ctx context.Context, sessionID, roomID string, group bool) {
	c.mu.Lock()
	wasBound := c.state.IsBound(sessionID)
	c.teardownLocked()
	c.notifier.StateChanged(c.snapshotLocked())
	c.mu.Unlock()

	if !wasBound {
		return
	}

	if group {
		if _, err := c.sessions.RemoveParticipant(ctx, sessionID, c.userID); err != nil && !errors.Is(err, repo.ErrSessionNotFound) {
			c.logger.Warn("failed to back out of session after transport failure",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	} else {
		if err := c.sessions.SetStatus(ctx, sessionID, model.CallStatusEnded); err != nil && !errors.Is(err, repo.ErrStaleSessionConflict) && !errors.Is(err, repo.ErrSessionNotFound) {
			c.logger.Warn("failed to end session after transport failure",
				zap.String("session_id", sessionID),
				zap.Error(err),
			)
		}
	}

	c.notifier.CallNotice(sessionID, event.ReasonTransportFailed, "Could not join the call room")
	c.logger.Warn("connect aborted",
		zap.String("session_id", sessionID),
		zap.String("room_id", roomID),
	)
}

// -----------------------------------------------------------------
// Internal helpers
// -----------------------------------------------------------------

func (c *Coordinator) requireMembership(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := c.conversations.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv == nil {
		return nil, ErrConversationNotFound
	}
	if !conv.HasParticipant(c.userID) {
		return nil, ErrPermissionDenied
	}
	return conv, nil
}

// beginIdleOp claims the in-flight guard for an operation that requires an
// idle state machine.
func (c *Coordinator) beginIdleOp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inFlight {
		return ErrOperationInFlight
	}
	if c.state.Phase() != PhaseIdle {
		return ErrAlreadyInProgress
	}
	c.inFlight = true
	return nil
}

func (c *Coordinator) endOp() {
	c.mu.Lock()
	c.inFlight = false
	c.mu.Unlock()
}

// bindLocked records the bound session's metadata alongside the state
// machine. Caller holds c.mu.
func (c *Coordinator) bindLocked(session *model.CallSession, group bool) {
	c.conversationID = session.ConversationID
	c.groupCall = group
	c.roomID = session.RoomID
}

// teardownLocked leaves the media room, releases the credential and resets
// the state machine. Caller holds c.mu. Safe no matter the current phase.
func (c *Coordinator) teardownLocked() {
	if c.hasCred {
		c.media.Leave(c.roomID, c.cred.Identity)
		c.cred = transport.Credential{}
		c.hasCred = false
	}
	c.state.Reset()
	c.conversationID = ""
	c.groupCall = false
	c.roomID = ""
	c.inFlight = false
}

func (c *Coordinator) snapshotLocked() Snapshot {
	snap := Snapshot{
		Phase:          c.state.Phase(),
		SessionID:      c.state.BoundSessionID(),
		ConversationID: c.conversationID,
		RoomID:         c.roomID,
		CallType:       c.state.CallType(),
	}
	if c.hasCred {
		snap.Token = c.cred.Token
	}
	return snap
}

func ongoingInfo(session *model.CallSession) model.OngoingCallInfo {
	participants := make([]string, len(session.Participants))
	copy(participants, session.Participants)
	return model.OngoingCallInfo{
		SessionID:    session.HexID(),
		RoomID:       session.RoomID,
		CallType:     session.CallType,
		Participants: participants,
	}
}
