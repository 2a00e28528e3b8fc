package call

import "github.com/Phuc-Java/forum-sub000/internal/model"

// Phase is the client-local call phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseRinging
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseRinging:
		return "ringing"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

// LocalCallState is the per-client state machine. Every transition is
// guarded and reports whether it applied, so replayed feed events fall
// through as no-ops instead of double-driving the machine.
//
// Not safe for concurrent use; the coordinator serializes access.
type LocalCallState struct {
	phase          Phase
	boundSessionID string
	callType       model.CallType

	// tokenRequested latches once a credential request has been issued for
	// the bound session. It blocks a re-delivered "ongoing" event from
	// triggering a second credential request and a second room join.
	tokenRequested bool
}

func NewLocalCallState() *LocalCallState {
	return &LocalCallState{phase: PhaseIdle}
}

func (s *LocalCallState) Phase() Phase             { return s.phase }
func (s *LocalCallState) BoundSessionID() string   { return s.boundSessionID }
func (s *LocalCallState) CallType() model.CallType { return s.callType }
func (s *LocalCallState) IsBound(sessionID string) bool {
	return s.boundSessionID != "" && s.boundSessionID == sessionID
}

// StartRinging binds a freshly created ringing session. IDLE -> RINGING.
func (s *LocalCallState) StartRinging(sessionID string, callType model.CallType) bool {
	if s.phase != PhaseIdle {
		return false
	}
	s.phase = PhaseRinging
	s.boundSessionID = sessionID
	s.callType = callType
	s.tokenRequested = false
	return true
}

// StartConnecting binds a session and marks the credential request as
// issued. IDLE -> CONNECTING.
func (s *LocalCallState) StartConnecting(sessionID string, callType model.CallType) bool {
	if s.phase != PhaseIdle {
		return false
	}
	s.phase = PhaseConnecting
	s.boundSessionID = sessionID
	s.callType = callType
	s.tokenRequested = true
	return true
}

// PromoteRinging drives the caller-side RINGING -> CONNECTING transition
// when the feed reports the bound session went ongoing. The guard requires
// all three of: still ringing, the event targets the bound session, and no
// credential request already issued.
func (s *LocalCallState) PromoteRinging(sessionID string) bool {
	if s.phase != PhaseRinging || !s.IsBound(sessionID) || s.tokenRequested {
		return false
	}
	s.phase = PhaseConnecting
	s.tokenRequested = true
	return true
}

// Connected records the transport reporting a live connection.
// CONNECTING -> CONNECTED, or RECONNECTING -> CONNECTED.
func (s *LocalCallState) Connected() bool {
	if s.phase != PhaseConnecting && s.phase != PhaseReconnecting {
		return false
	}
	s.phase = PhaseConnected
	return true
}

// Interrupted records a transient transport disconnect.
// CONNECTED -> RECONNECTING.
func (s *LocalCallState) Interrupted() bool {
	if s.phase != PhaseConnected {
		return false
	}
	s.phase = PhaseReconnecting
	return true
}

// Reset collapses any phase back to IDLE and clears the bound session.
// Reports whether there was anything to reset.
func (s *LocalCallState) Reset() bool {
	if s.phase == PhaseIdle && s.boundSessionID == "" {
		return false
	}
	s.phase = PhaseIdle
	s.boundSessionID = ""
	s.callType = ""
	s.tokenRequested = false
	return true
}
