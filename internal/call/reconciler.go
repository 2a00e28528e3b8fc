package call

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Phuc-Java/forum-sub000/internal/event"
	"github.com/Phuc-Java/forum-sub000/internal/model"
)

var (
	reconcilerQueueSize  = 256                    // per-client feed buffer
	reconcilerEnqueueTTL = 500 * time.Millisecond // timeout before dropping a feed event
)

// Reconciler translates the unordered, at-least-once change feed into
// state machine and index updates for one client. A single goroutine
// drains a single queue, which makes "no concurrent transition processing"
// structural: every rule in apply runs alone.
//
// Events may arrive duplicated or out of order across records; every rule
// here is idempotent, and an `ended` observed before a late-delivered
// `created` leaves the client idle, never stuck ringing.
type Reconciler struct {
	coord  *Coordinator
	events chan event.FeedEvent
	logger *zap.Logger
}

func NewReconciler(coord *Coordinator, logger *zap.Logger) *Reconciler {
	return &Reconciler{
		coord:  coord,
		events: make(chan event.FeedEvent, reconcilerQueueSize),
		logger: logger,
	}
}

// Enqueue offers a feed event to this client's queue. Under sustained
// backpressure the event is dropped after a short wait; the feed is
// at-least-once and the next delivery or an authoritative lookup repairs
// the miss.
func (r *Reconciler) Enqueue(ev event.FeedEvent) bool {
	select {
	case r.events <- ev:
		return true
	case <-time.After(reconcilerEnqueueTTL):
		r.logger.Warn("reconciler queue full, dropping feed event",
			zap.String("user_id", r.coord.UserID()),
			zap.String("session_id", ev.Record.HexID()),
		)
		return false
	}
}

// Run drains the queue until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-r.events:
			r.Apply(ctx, ev)
		}
	}
}

// Apply processes one feed event synchronously.
func (r *Reconciler) Apply(ctx context.Context, ev event.FeedEvent) {
	se, err := event.Classify(ev)
	if err != nil {
		r.logger.Debug("ignoring feed event", zap.Error(err))
		return
	}

	switch e := se.(type) {
	case event.SessionCreated:
		r.applyCreated(ctx, e.Record)
	case event.SessionUpdated:
		r.applyUpdated(ctx, e.Record, e.ToStatus)
	}
}

// applyCreated handles a newly observed session. A ringing session from
// someone else in one of the client's conversations raises an incoming
// call prompt; anything else only feeds the advisory index.
func (r *Reconciler) applyCreated(ctx context.Context, rec model.CallSession) {
	c := r.coord

	if rec.Status == model.CallStatusOngoing {
		c.index.Put(rec.ConversationID, ongoingInfo(&rec))
	}
	if rec.Status != model.CallStatusRinging || rec.InitiatorID == c.userID {
		return
	}

	conv, err := c.conversations.Get(ctx, rec.ConversationID)
	if err != nil {
		r.logger.Warn("membership lookup failed for incoming call",
			zap.String("conversation_id", rec.ConversationID),
			zap.Error(err),
		)
		return
	}
	if conv == nil || !conv.HasParticipant(c.userID) {
		return
	}

	prompt := model.IncomingCallPrompt{
		SessionID:      rec.HexID(),
		ConversationID: rec.ConversationID,
		CallerID:       rec.InitiatorID,
		CallType:       rec.CallType,
		RoomID:         rec.RoomID,
		CreatedAt:      rec.CreatedAt,
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prompt != nil {
		if c.prompt.SessionID == prompt.SessionID {
			// Re-delivered create; the prompt already exists.
			return
		}
		// Last writer for a conversation wins: a stale prompt must not
		// block a fresher call.
		if c.prompt.ConversationID == prompt.ConversationID && c.prompt.CreatedAt.After(prompt.CreatedAt) {
			return
		}
		c.notifier.PromptCleared(c.prompt.SessionID, event.ReasonSuperseded)
	}

	c.prompt = &prompt
	c.notifier.IncomingCall(prompt)
	r.logger.Info("incoming call prompt raised",
		zap.String("session_id", prompt.SessionID),
		zap.String("caller_id", prompt.CallerID),
	)
}

func (r *Reconciler) applyUpdated(ctx context.Context, rec model.CallSession, toStatus model.CallStatus) {
	switch toStatus {
	case model.CallStatusOngoing:
		r.applyOngoing(ctx, rec)
	case model.CallStatusEnded:
		r.applyEnded(rec)
	case model.CallStatusRinging:
		// A ringing update reaches us when the create event was lost;
		// treat it the same way.
		r.applyCreated(ctx, rec)
	}
}

// applyOngoing refreshes the index and, on the caller side, drives the
// guarded RINGING -> CONNECTING transition. The state machine's token
// latch makes a duplicate delivery a no-op, so one call never requests two
// credentials or joins the room twice.
func (r *Reconciler) applyOngoing(ctx context.Context, rec model.CallSession) {
	c := r.coord
	sessionID := rec.HexID()

	c.index.Put(rec.ConversationID, ongoingInfo(&rec))

	c.mu.Lock()

	if c.prompt != nil && c.prompt.SessionID == sessionID && !c.prompt.Accepted && !rec.HasParticipant(c.userID) {
		// Another device answered this call.
		c.prompt = nil
		c.notifier.PromptCleared(sessionID, event.ReasonAnsweredElsewhere)
	}

	if !c.state.PromoteRinging(sessionID) {
		c.mu.Unlock()
		return
	}
	c.inFlight = true
	c.mu.Unlock()

	r.logger.Info("call answered, connecting",
		zap.String("session_id", sessionID),
	)

	if err := c.connect(ctx, &rec, false, true); err != nil {
		r.logger.Warn("caller-side connect failed",
			zap.String("session_id", sessionID),
			zap.Error(err),
		)
	}
}

// applyEnded collapses every local trace of the session: index entry,
// prompt, and - if this client is bound to it - the whole call, whatever
// phase it is in. Covers cancel-before-accept and hang-up mid-call alike.
func (r *Reconciler) applyEnded(rec model.CallSession) {
	c := r.coord
	sessionID := rec.HexID()

	c.index.DropSession(rec.ConversationID, sessionID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prompt != nil && c.prompt.SessionID == sessionID {
		reason := event.ReasonMissed
		if c.prompt.Accepted {
			reason = event.ReasonRejected
		}
		c.prompt = nil
		c.notifier.PromptCleared(sessionID, reason)
		c.notifier.CallNotice(sessionID, reason, "Call ended before you joined")
	}

	if c.state.IsBound(sessionID) {
		c.teardownLocked()
		c.notifier.StateChanged(c.snapshotLocked())
		r.logger.Info("bound session ended by feed",
			zap.String("session_id", sessionID),
		)
	}
}
