package event

import "encoding/json"

// Call intents - Client to Server
const (
	// EventCallStart - start a call, or join the ambient call of a group
	EventCallStart = "call:start"

	// EventCallJoin - join a known ongoing session by id
	EventCallJoin = "call:join"

	// EventCallAccept - accept the active incoming call prompt
	EventCallAccept = "call:accept"

	// EventCallReject - dismiss the active incoming call prompt
	EventCallReject = "call:reject"

	// EventCallLeave - leave the bound call (group: others keep talking)
	EventCallLeave = "call:leave"

	// EventCallEnd - end the bound session for everyone
	EventCallEnd = "call:end"

	// EventCallInterrupted - the client's media connection dropped
	EventCallInterrupted = "call:interrupted"

	// EventCallResumed - the client's media connection recovered
	EventCallResumed = "call:resumed"
)

// Call events - Server to Client
const (
	// EventCallIncoming - an incoming call prompt became active
	EventCallIncoming = "call:incoming"

	// EventCallPromptCleared - the incoming call prompt was dismissed
	EventCallPromptCleared = "call:prompt_cleared"

	// EventCallState - the local call state changed
	EventCallState = "call:state"

	// EventCallNotice - user-visible call notice (missed, rejected, ...)
	EventCallNotice = "call:notice"

	// EventCallError - a call intent failed
	EventCallError = "call:error"
)

// Prompt-cleared / notice reasons
const (
	ReasonAnswered          = "answered"
	ReasonAnsweredElsewhere = "answered_elsewhere"
	ReasonRejected          = "rejected"
	ReasonMissed            = "missed"
	ReasonSuperseded        = "superseded"
	ReasonTransportFailed   = "transport_failed"
	ReasonEndWriteFailed    = "end_write_failed"
)

// WsEvent is the websocket envelope exchanged with presentation clients.
type WsEvent struct {
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
}
