package repo

import "errors"

var (
	// ErrSessionNotFound - the session does not exist or has already ended.
	ErrSessionNotFound = errors.New("call session not found or already ended")

	// ErrStaleSessionConflict - a status write would violate the monotonic
	// ringing -> ongoing -> ended lifecycle. Never retried: someone already
	// resolved this call.
	ErrStaleSessionConflict = errors.New("stale session status transition rejected")

	// ErrConcurrentJoinRace - a participant mutation kept conflicting after
	// its retry budget was exhausted.
	ErrConcurrentJoinRace = errors.New("participant mutation conflict persisted after retry")

	ErrInvalidSessionID      = errors.New("invalid session ID: cannot be empty")
	ErrInvalidConversationID = errors.New("invalid conversation ID: cannot be empty")
	ErrInvalidUserID         = errors.New("invalid user ID: cannot be empty")
)
