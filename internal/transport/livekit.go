package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const defaultTokenTTL = 24 * time.Hour

// LiveKit issues LiveKit-compatible room access tokens and tracks
// signaling-level room membership. Tokens are HS256 JWTs carrying a video
// grant, the shape the LiveKit server expects.
type LiveKit struct {
	apiKey    string
	apiSecret string
	wsURL     string
	tokenTTL  time.Duration
	logger    *zap.Logger

	mu     sync.Mutex
	joined map[string]map[string]struct{} // roomID -> identities
}

func NewLiveKit(apiKey, apiSecret, wsURL string, tokenTTL time.Duration, logger *zap.Logger) *LiveKit {
	if tokenTTL <= 0 {
		tokenTTL = defaultTokenTTL
	}
	return &LiveKit{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		wsURL:     wsURL,
		tokenTTL:  tokenTTL,
		logger:    logger,
		joined:    make(map[string]map[string]struct{}),
	}
}

// RequestCredential mints an access token granting roomID to the
// participant. One credential is issued per successful transition into a
// call; the caller is responsible for releasing it with Leave.
func (l *LiveKit) RequestCredential(ctx context.Context, roomID, participantID, participantName string) (Credential, error) {
	if l.apiKey == "" || l.apiSecret == "" {
		return Credential{}, fmt.Errorf("%w: missing API credentials", ErrCredentialUnavailable)
	}
	if roomID == "" || participantID == "" {
		return Credential{}, fmt.Errorf("%w: room and participant are required", ErrCredentialUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return Credential{}, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"iss":  l.apiKey,
		"sub":  participantID,
		"name": participantName,
		"nbf":  now.Unix(),
		"exp":  now.Add(l.tokenTTL).Unix(),
		"video": map[string]interface{}{
			"room":           roomID,
			"roomJoin":       true,
			"canPublish":     true,
			"canSubscribe":   true,
			"canPublishData": true,
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(l.apiSecret))
	if err != nil {
		l.logger.Error("failed to sign room token",
			zap.String("room_id", roomID),
			zap.String("participant_id", participantID),
			zap.Error(err),
		)
		return Credential{}, fmt.Errorf("%w: %v", ErrCredentialUnavailable, err)
	}

	l.logger.Debug("room credential issued",
		zap.String("room_id", roomID),
		zap.String("participant_id", participantID),
	)
	return Credential{Token: token, URL: l.wsURL, Identity: participantID}, nil
}

// Join registers the credential holder as present in the room. The media
// path itself is between the client and the LiveKit server; a nil return
// here means signaling considers the participant connected.
func (l *LiveKit) Join(ctx context.Context, roomID string, cred Credential) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRoomJoin, err)
	}
	if roomID == "" || cred.Token == "" {
		return fmt.Errorf("%w: missing room or credential", ErrRoomJoin)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	room, ok := l.joined[roomID]
	if !ok {
		room = make(map[string]struct{})
		l.joined[roomID] = room
	}
	room[cred.Identity] = struct{}{}

	l.logger.Debug("room joined",
		zap.String("room_id", roomID),
		zap.String("identity", cred.Identity),
		zap.Int("occupants", len(room)),
	)
	return nil
}

// Leave drops the identity from the room's occupancy. Safe to call for a
// room or identity that was never joined.
func (l *LiveKit) Leave(roomID string, identity string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, ok := l.joined[roomID]
	if !ok {
		return
	}
	delete(room, identity)
	if len(room) == 0 {
		delete(l.joined, roomID)
	}

	l.logger.Debug("room left",
		zap.String("room_id", roomID),
		zap.String("identity", identity),
	)
}

// Occupancy returns the number of signaling-level occupants of a room.
func (l *LiveKit) Occupancy(roomID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.joined[roomID])
}
