package call

import "errors"

var (
	// ErrAlreadyInProgress - a direct call was started while one is already
	// ringing or ongoing for the conversation, or the client is not idle.
	ErrAlreadyInProgress = errors.New("a call is already in progress")

	// ErrPermissionDenied - the acting user is not a participant of the
	// target conversation. No mutation is attempted.
	ErrPermissionDenied = errors.New("not a participant of this conversation")

	// ErrOperationInFlight - another call operation on this client is still
	// waiting on the transport; re-entrant intents are rejected, not queued.
	ErrOperationInFlight = errors.New("another call operation is in flight")

	// ErrNoIncomingCall - accept/reject arrived with no active prompt.
	ErrNoIncomingCall = errors.New("no incoming call prompt is active")

	// ErrTokenAcquisition - the transport credential or room join failed;
	// local state has been reset to idle and the intent may be retried.
	ErrTokenAcquisition = errors.New("could not join the call room")

	// ErrInvalidCallType - the requested call type is not audio or video.
	ErrInvalidCallType = errors.New("call type must be audio or video")

	// ErrConversationNotFound - the target conversation does not exist.
	ErrConversationNotFound = errors.New("conversation not found")
)
