package transport

import (
	"context"
	"errors"
)

var (
	// ErrCredentialUnavailable - a room credential could not be issued.
	ErrCredentialUnavailable = errors.New("transport credential unavailable")

	// ErrRoomJoin - the signaling-level room join failed.
	ErrRoomJoin = errors.New("transport room join failed")
)

// Credential grants one participant access to one media room.
type Credential struct {
	Token    string `json:"token"`
	URL      string `json:"url"`      // Media server websocket URL
	Identity string `json:"identity"` // Participant identity baked into the token
}

// Transport is the boundary to the external media service. The call core
// only acquires credentials and tracks room membership at the signaling
// level; audio and video ride the client's own connection to the media
// server and are opaque here.
type Transport interface {
	RequestCredential(ctx context.Context, roomID, participantID, participantName string) (Credential, error)

	// Join confirms room access for a credential. Returning nil means the
	// transport considers the participant connected.
	Join(ctx context.Context, roomID string, cred Credential) error

	// Leave releases the participant's seat in the room. Idempotent.
	Leave(roomID string, identity string)
}
