package model

// MonitorResponse is the payload of the monitor stats endpoint.
type MonitorResponse struct {
	Status      string          `json:"status"`
	Connections ConnectionStats `json:"connections"`
	Clients     []ClientInfo    `json:"clients"`
	FeedAlive   bool            `json:"feedAlive"`
	PhaseCount  map[string]int  `json:"phaseCount"`
}

// ConnectionStats summarizes connected clients by call involvement.
type ConnectionStats struct {
	TotalConnected int `json:"totalConnected"`
	TotalIdle      int `json:"totalIdle"`
	TotalInCall    int `json:"totalInCall"`
}

// ClientInfo describes one connected client and its call state.
type ClientInfo struct {
	ClientID       string `json:"clientId"`
	UserID         string `json:"userId"`
	Phase          string `json:"phase"`
	SessionID      string `json:"sessionId,omitempty"`
	ConversationID string `json:"conversationId,omitempty"`
}
