package call

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Phuc-Java/forum-sub000/internal/event"
	"github.com/Phuc-Java/forum-sub000/internal/model"
	"github.com/Phuc-Java/forum-sub000/internal/repo"
)

func TestStartDirectCallRings(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("conv-1", model.ConversationDirect, "alice", "bob")

	rig := newTestRig("alice", store, convs, media)

	if err := rig.coord.StartCall(context.Background(), "conv-1", model.CallTypeVideo); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}

	snap := rig.coord.Snapshot()
	if snap.Phase != PhaseRinging {
		t.Fatalf("expected phase ringing, got %s", snap.Phase)
	}
	if snap.SessionID == "" {
		t.Fatal("expected a bound session id")
	}

	stored := store.stored(snap.SessionID)
	if stored == nil {
		t.Fatal("session not persisted")
	}
	if stored.Status != model.CallStatusRinging {
		t.Fatalf("expected ringing status, got %s", stored.Status)
	}
	if len(stored.Participants) != 1 || stored.Participants[0] != "alice" {
		t.Fatalf("expected participants [alice], got %v", stored.Participants)
	}

	// The caller must not touch the media transport until the callee answers.
	if media.credentialCalls() != 0 {
		t.Fatalf("expected no credential requests while ringing, got %d", media.credentialCalls())
	}
}

func TestStartDirectCallBlockedByActiveSession(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("conv-1", model.ConversationDirect, "alice", "bob")

	caller := newTestRig("alice", store, convs, media)
	if err := caller.coord.StartCall(context.Background(), "conv-1", model.CallTypeAudio); err != nil {
		t.Fatalf("first StartCall failed: %v", err)
	}

	other := newTestRig("bob", store, convs, media)
	err := other.coord.StartCall(context.Background(), "conv-1", model.CallTypeAudio)
	if !errors.Is(err, ErrAlreadyInProgress) {
		t.Fatalf("expected ErrAlreadyInProgress, got %v", err)
	}
	if store.count() != 1 {
		t.Fatalf("expected a single session, got %d", store.count())
	}
}

func TestStartCallValidation(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("conv-1", model.ConversationDirect, "alice", "bob")

	rig := newTestRig("mallory", store, convs, media)

	if err := rig.coord.StartCall(context.Background(), "conv-1", "screenshare"); !errors.Is(err, ErrInvalidCallType) {
		t.Fatalf("expected ErrInvalidCallType, got %v", err)
	}
	if err := rig.coord.StartCall(context.Background(), "conv-1", model.CallTypeAudio); !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := rig.coord.StartCall(context.Background(), "missing", model.CallTypeAudio); !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestStartGroupCallConnectsImmediately(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("team", model.ConversationGroup, "alice", "bob", "carol")

	rig := newTestRig("alice", store, convs, media)

	if err := rig.coord.StartCall(context.Background(), "team", model.CallTypeVideo); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}

	snap := rig.coord.Snapshot()
	if snap.Phase != PhaseConnected {
		t.Fatalf("expected phase connected, got %s", snap.Phase)
	}
	if snap.Token == "" {
		t.Fatal("expected a media token in the snapshot")
	}

	stored := store.stored(snap.SessionID)
	if stored.Status != model.CallStatusOngoing {
		t.Fatalf("group session should be created ongoing, got %s", stored.Status)
	}
	if media.credentialCalls() != 1 {
		t.Fatalf("expected exactly one credential request, got %d", media.credentialCalls())
	}
	if media.occupants(stored.RoomID) != 1 {
		t.Fatalf("expected alice in the room, occupants=%d", media.occupants(stored.RoomID))
	}
}

func TestStartGroupCallJoinsExistingSession(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("team", model.ConversationGroup, "alice", "bob")

	first := newTestRig("alice", store, convs, media)
	if err := first.coord.StartCall(context.Background(), "team", model.CallTypeVideo); err != nil {
		t.Fatalf("alice StartCall failed: %v", err)
	}

	// Bob also presses "start call": he must land in alice's session, not a
	// second room.
	second := newTestRig("bob", store, convs, media)
	if err := second.coord.StartCall(context.Background(), "team", model.CallTypeVideo); err != nil {
		t.Fatalf("bob StartCall failed: %v", err)
	}

	if store.count() != 1 {
		t.Fatalf("expected one session for the conversation, got %d", store.count())
	}

	snap := second.coord.Snapshot()
	stored := store.stored(snap.SessionID)
	if !stored.HasParticipant("alice") || !stored.HasParticipant("bob") {
		t.Fatalf("expected both participants, got %v", stored.Participants)
	}
	if media.occupants(stored.RoomID) != 2 {
		t.Fatalf("expected both occupants in one room, got %d", media.occupants(stored.RoomID))
	}
}

func TestJoinCallRequiresOngoingSession(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("conv-1", model.ConversationDirect, "alice", "bob")

	caller := newTestRig("alice", store, convs, media)
	if err := caller.coord.StartCall(context.Background(), "conv-1", model.CallTypeAudio); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	sessionID := caller.coord.Snapshot().SessionID

	joiner := newTestRig("bob", store, convs, media)
	if err := joiner.coord.JoinCall(context.Background(), sessionID); !errors.Is(err, repo.ErrSessionNotFound) {
		t.Fatalf("joining a ringing session should fail with ErrSessionNotFound, got %v", err)
	}
	if err := joiner.coord.JoinCall(context.Background(), "unknown"); !errors.Is(err, repo.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound for unknown id, got %v", err)
	}
}

// Full direct call: alice rings, the feed raises bob's prompt, bob accepts,
// the resulting ongoing event promotes alice, both end up connected in the
// same room with one credential each.
func TestDirectCallEndToEnd(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("conv-1", model.ConversationDirect, "alice", "bob")

	alice := newTestRig("alice", store, convs, media)
	bob := newTestRig("bob", store, convs, media)

	ctx := context.Background()

	if err := alice.coord.StartCall(ctx, "conv-1", model.CallTypeVideo); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	sessionID := alice.coord.Snapshot().SessionID

	// Feed delivers the create to both sides.
	ringing := store.stored(sessionID)
	alice.recon.Apply(ctx, feedCreated(ringing))
	bob.recon.Apply(ctx, feedCreated(ringing))

	if alice.notifier.incomingCount() != 0 {
		t.Fatal("the initiator must not get a prompt for their own call")
	}
	if bob.notifier.incomingCount() != 1 {
		t.Fatalf("expected one prompt for bob, got %d", bob.notifier.incomingCount())
	}

	if err := bob.coord.AcceptIncomingCall(ctx); err != nil {
		t.Fatalf("AcceptIncomingCall failed: %v", err)
	}
	if bob.coord.Snapshot().Phase != PhaseConnected {
		t.Fatalf("bob should be connected, got %s", bob.coord.Snapshot().Phase)
	}

	// The accept flipped the record ongoing; the feed tells alice.
	ongoing := store.stored(sessionID)
	if ongoing.Status != model.CallStatusOngoing {
		t.Fatalf("accept should flip the session ongoing, got %s", ongoing.Status)
	}
	alice.recon.Apply(ctx, feedUpdated(ongoing))

	if alice.coord.Snapshot().Phase != PhaseConnected {
		t.Fatalf("alice should be connected, got %s", alice.coord.Snapshot().Phase)
	}
	if media.occupants(ongoing.RoomID) != 2 {
		t.Fatalf("expected both occupants, got %d", media.occupants(ongoing.RoomID))
	}
	if media.credentialCalls() != 2 {
		t.Fatalf("expected one credential per participant, got %d", media.credentialCalls())
	}

	// A re-delivered ongoing event must not trigger a second credential.
	alice.recon.Apply(ctx, feedUpdated(ongoing))
	if media.credentialCalls() != 2 {
		t.Fatalf("replayed ongoing event requested another credential: %d", media.credentialCalls())
	}
}

func TestAcceptWithoutPrompt(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()

	rig := newTestRig("bob", store, convs, media)
	if err := rig.coord.AcceptIncomingCall(context.Background()); !errors.Is(err, ErrNoIncomingCall) {
		t.Fatalf("expected ErrNoIncomingCall, got %v", err)
	}
}

func TestAcceptAfterCallerHungUp(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("conv-1", model.ConversationDirect, "alice", "bob")

	alice := newTestRig("alice", store, convs, media)
	bob := newTestRig("bob", store, convs, media)
	ctx := context.Background()

	if err := alice.coord.StartCall(ctx, "conv-1", model.CallTypeAudio); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	sessionID := alice.coord.Snapshot().SessionID
	bob.recon.Apply(ctx, feedCreated(store.stored(sessionID)))

	// Alice cancels before bob answers, but the ended event has not reached
	// bob yet.
	if err := alice.coord.EndCall(ctx); err != nil {
		t.Fatalf("EndCall failed: %v", err)
	}

	err := bob.coord.AcceptIncomingCall(ctx)
	if !errors.Is(err, repo.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if !bob.notifier.hasNotice(event.ReasonMissed) {
		t.Fatal("expected a missed-call notice")
	}
	if bob.coord.Snapshot().Phase != PhaseIdle {
		t.Fatalf("bob should stay idle, got %s", bob.coord.Snapshot().Phase)
	}
}

func TestRejectDirectCallEndsSession(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("conv-1", model.ConversationDirect, "alice", "bob")

	alice := newTestRig("alice", store, convs, media)
	bob := newTestRig("bob", store, convs, media)
	ctx := context.Background()

	if err := alice.coord.StartCall(ctx, "conv-1", model.CallTypeAudio); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	sessionID := alice.coord.Snapshot().SessionID
	bob.recon.Apply(ctx, feedCreated(store.stored(sessionID)))

	if err := bob.coord.RejectIncomingCall(ctx); err != nil {
		t.Fatalf("RejectIncomingCall failed: %v", err)
	}

	if got := store.stored(sessionID).Status; got != model.CallStatusEnded {
		t.Fatalf("rejecting a direct call should end the session, got %s", got)
	}
	cleared, ok := bob.notifier.lastCleared()
	if !ok || cleared.reason != event.ReasonRejected {
		t.Fatalf("expected prompt cleared with reason rejected, got %+v", cleared)
	}
}

func TestRejectGroupInviteLeavesSessionAlone(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("team", model.ConversationGroup, "alice", "bob", "carol")

	ctx := context.Background()

	// A ringing record in a group conversation still prompts members.
	session, err := store.Create(ctx, "team", "alice", model.CallTypeVideo, model.CallStatusRinging)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	bob := newTestRig("bob", store, convs, media)
	bob.recon.Apply(ctx, feedCreated(session))
	if bob.notifier.incomingCount() != 1 {
		t.Fatalf("expected one prompt, got %d", bob.notifier.incomingCount())
	}

	if err := bob.coord.RejectIncomingCall(ctx); err != nil {
		t.Fatalf("RejectIncomingCall failed: %v", err)
	}

	// One declined invitation must not end the call for everyone else.
	if got := store.stored(session.HexID()).Status; got != model.CallStatusRinging {
		t.Fatalf("group session mutated by a reject: %s", got)
	}
}

func TestLeaveGroupCallKeepsSessionForOthers(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("team", model.ConversationGroup, "alice", "bob")

	alice := newTestRig("alice", store, convs, media)
	bob := newTestRig("bob", store, convs, media)
	ctx := context.Background()

	if err := alice.coord.StartCall(ctx, "team", model.CallTypeVideo); err != nil {
		t.Fatalf("alice StartCall failed: %v", err)
	}
	if err := bob.coord.StartCall(ctx, "team", model.CallTypeVideo); err != nil {
		t.Fatalf("bob StartCall failed: %v", err)
	}
	sessionID := bob.coord.Snapshot().SessionID

	if err := bob.coord.LeaveCall(ctx); err != nil {
		t.Fatalf("LeaveCall failed: %v", err)
	}

	stored := store.stored(sessionID)
	if stored.Status != model.CallStatusOngoing {
		t.Fatalf("session should stay ongoing after one participant leaves, got %s", stored.Status)
	}
	if stored.HasParticipant("bob") {
		t.Fatal("bob should be removed from the participants set")
	}
	if bob.coord.Snapshot().Phase != PhaseIdle {
		t.Fatalf("bob should be idle, got %s", bob.coord.Snapshot().Phase)
	}
	if alice.coord.Snapshot().Phase != PhaseConnected {
		t.Fatalf("alice should be unaffected, got %s", alice.coord.Snapshot().Phase)
	}
}

func TestLastParticipantLeavingEndsGroupSession(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("team", model.ConversationGroup, "alice", "bob")

	alice := newTestRig("alice", store, convs, media)
	ctx := context.Background()

	if err := alice.coord.StartCall(ctx, "team", model.CallTypeVideo); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	sessionID := alice.coord.Snapshot().SessionID

	if err := alice.coord.LeaveCall(ctx); err != nil {
		t.Fatalf("LeaveCall failed: %v", err)
	}

	stored := store.stored(sessionID)
	if stored.Status != model.CallStatusEnded {
		t.Fatalf("emptied session should end, got %s", stored.Status)
	}
	if stored.EndedAt == nil {
		t.Fatal("ended session should carry an end timestamp")
	}
}

func TestLeaveDirectCallEndsIt(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("conv-1", model.ConversationDirect, "alice", "bob")

	alice := newTestRig("alice", store, convs, media)
	bob := newTestRig("bob", store, convs, media)
	ctx := context.Background()

	if err := alice.coord.StartCall(ctx, "conv-1", model.CallTypeAudio); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	sessionID := alice.coord.Snapshot().SessionID
	bob.recon.Apply(ctx, feedCreated(store.stored(sessionID)))
	if err := bob.coord.AcceptIncomingCall(ctx); err != nil {
		t.Fatalf("AcceptIncomingCall failed: %v", err)
	}

	if err := bob.coord.LeaveCall(ctx); err != nil {
		t.Fatalf("LeaveCall failed: %v", err)
	}

	if got := store.stored(sessionID).Status; got != model.CallStatusEnded {
		t.Fatalf("leaving a direct call should end it, got %s", got)
	}
}

func TestEndCallAlwaysResetsLocally(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("team", model.ConversationGroup, "alice")

	rig := newTestRig("alice", store, convs, media)
	ctx := context.Background()

	if err := rig.coord.StartCall(ctx, "team", model.CallTypeAudio); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}
	sessionID := rig.coord.Snapshot().SessionID
	roomID := store.stored(sessionID).RoomID

	store.mu.Lock()
	store.setStatusErr = errors.New("primary stepped down")
	store.mu.Unlock()

	if err := rig.coord.EndCall(ctx); err != nil {
		t.Fatalf("EndCall must succeed locally, got %v", err)
	}

	if rig.coord.Snapshot().Phase != PhaseIdle {
		t.Fatalf("expected idle after EndCall, got %s", rig.coord.Snapshot().Phase)
	}
	if media.occupants(roomID) != 0 {
		t.Fatal("the media room seat should be released")
	}
	if !rig.notifier.hasNotice(event.ReasonEndWriteFailed) {
		t.Fatal("expected a notice about the failed status write")
	}
}

func TestCredentialFailureBacksOutOfSession(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	media.credErr = errors.New("media server unreachable")
	convs.add("team", model.ConversationGroup, "alice")

	rig := newTestRig("alice", store, convs, media)
	ctx := context.Background()

	err := rig.coord.StartCall(ctx, "team", model.CallTypeVideo)
	if !errors.Is(err, ErrTokenAcquisition) {
		t.Fatalf("expected ErrTokenAcquisition, got %v", err)
	}

	if rig.coord.Snapshot().Phase != PhaseIdle {
		t.Fatalf("expected idle after failed connect, got %s", rig.coord.Snapshot().Phase)
	}
	if !rig.notifier.hasNotice(event.ReasonTransportFailed) {
		t.Fatal("expected a transport failure notice")
	}

	// Backing out emptied the session, which ends it.
	active, err := store.FindActiveByConversation(ctx, "team")
	if err != nil {
		t.Fatalf("FindActiveByConversation failed: %v", err)
	}
	if active != nil {
		t.Fatalf("expected no active session after back-out, got %+v", active)
	}
}

func TestTransportInterruptionCycle(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	convs.add("team", model.ConversationGroup, "alice")

	rig := newTestRig("alice", store, convs, media)
	ctx := context.Background()

	// Interruptions outside a connected call fall through the guard.
	rig.coord.TransportInterrupted()
	if rig.coord.Snapshot().Phase != PhaseIdle {
		t.Fatalf("interrupt while idle must not change the phase, got %s", rig.coord.Snapshot().Phase)
	}

	if err := rig.coord.StartCall(ctx, "team", model.CallTypeVideo); err != nil {
		t.Fatalf("StartCall failed: %v", err)
	}

	rig.coord.TransportInterrupted()
	if rig.coord.Snapshot().Phase != PhaseReconnecting {
		t.Fatalf("expected reconnecting, got %s", rig.coord.Snapshot().Phase)
	}

	// The session stays bound through the interruption; no new credential.
	if media.credentialCalls() != 1 {
		t.Fatalf("reconnecting must not mint a new credential, got %d", media.credentialCalls())
	}

	rig.coord.TransportResumed()
	if rig.coord.Snapshot().Phase != PhaseConnected {
		t.Fatalf("expected connected after resume, got %s", rig.coord.Snapshot().Phase)
	}
}

func TestIntentRejectedWhileConnectInFlight(t *testing.T) {
	store := newFakeSessionStore()
	convs := newFakeConversations()
	media := newFakeTransport()
	media.block = make(chan struct{})
	convs.add("team", model.ConversationGroup, "alice", "bob")

	rig := newTestRig("alice", store, convs, media)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- rig.coord.StartCall(ctx, "team", model.CallTypeVideo)
	}()

	// Wait until the connect is suspended inside the credential request.
	deadline := time.After(2 * time.Second)
	for media.credentialCalls() == 0 {
		select {
		case <-deadline:
			t.Fatal("credential request never started")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if err := rig.coord.LeaveCall(ctx); !errors.Is(err, ErrOperationInFlight) {
		t.Fatalf("expected ErrOperationInFlight from LeaveCall, got %v", err)
	}
	if err := rig.coord.StartCall(ctx, "team", model.CallTypeVideo); !errors.Is(err, ErrOperationInFlight) {
		t.Fatalf("expected ErrOperationInFlight from StartCall, got %v", err)
	}

	close(media.block)
	if err := <-done; err != nil {
		t.Fatalf("suspended StartCall failed: %v", err)
	}
	if rig.coord.Snapshot().Phase != PhaseConnected {
		t.Fatalf("expected connected, got %s", rig.coord.Snapshot().Phase)
	}
}
