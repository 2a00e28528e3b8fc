package hub

import (
	"encoding/json"
	"time"

	"github.com/Phuc-Java/forum-sub000/internal/call"
	"github.com/Phuc-Java/forum-sub000/internal/event"
	"github.com/Phuc-Java/forum-sub000/internal/model"
)

// -----------------------------------------------------------------
// Notification Methods - Coordinator call.Notifier implementation
// -----------------------------------------------------------------

// The coordinator invokes these while holding its own lock, so they must
// only marshal and enqueue. SafeSend never blocks past its timeout.

// IncomingCall pushes the active incoming call prompt to the client.
func (c *Client) IncomingCall(prompt model.IncomingCallPrompt) {
	c.push(event.EventCallIncoming, model.CallIncomingEvent{
		SessionID:      prompt.SessionID,
		ConversationID: prompt.ConversationID,
		CallerID:       prompt.CallerID,
		CallType:       prompt.CallType,
		RoomID:         prompt.RoomID,
		Timestamp:      time.Now().UnixMilli(),
	})
}

// PromptCleared tells the client its incoming call prompt went away.
func (c *Client) PromptCleared(sessionID, reason string) {
	c.push(event.EventCallPromptCleared, model.CallNoticeEvent{
		SessionID: sessionID,
		Reason:    reason,
		Timestamp: time.Now().UnixMilli(),
	})
}

// StateChanged renders the new local call state to the client.
func (c *Client) StateChanged(snap call.Snapshot) {
	c.push(event.EventCallState, model.CallStateEvent{
		Phase:     snap.Phase.String(),
		SessionID: snap.SessionID,
		RoomID:    snap.RoomID,
		CallType:  snap.CallType,
		Token:     snap.Token,
		Timestamp: time.Now().UnixMilli(),
	})
}

// CallNotice surfaces a user-visible call notice (missed, rejected, ...).
func (c *Client) CallNotice(sessionID, reason, message string) {
	c.push(event.EventCallNotice, model.CallNoticeEvent{
		SessionID: sessionID,
		Reason:    reason,
		Message:   message,
		Timestamp: time.Now().UnixMilli(),
	})
}

func (c *Client) push(eventName string, body any) {
	payload, _ := json.Marshal(body)
	c.SafeSend(event.WsEvent{Event: eventName, Payload: payload}, sendTimeout)
}
