package hub

import (
	"github.com/Phuc-Java/forum-sub000/internal/call"
	"github.com/Phuc-Java/forum-sub000/internal/model"
)

// MonitorService provides methods to gather hub statistics
type MonitorService struct {
	hub       *Hub
	feedAlive func() bool
}

// NewMonitorService creates a new monitor service. feedAlive reports
// whether the change feed watcher currently holds an open stream.
func NewMonitorService(hub *Hub, feedAlive func() bool) *MonitorService {
	return &MonitorService{hub: hub, feedAlive: feedAlive}
}

// GetStats gathers and returns all hub statistics
func (ms *MonitorService) GetStats() model.MonitorResponse {
	connectionStats, clients, phaseCount := ms.collect()

	// Determine overall health status
	status := "healthy"
	if !ms.feedAlive() {
		status = "degraded"
	} else if connectionStats.TotalConnected == 0 {
		status = "idle"
	}

	return model.MonitorResponse{
		Status:      status,
		Connections: connectionStats,
		Clients:     clients,
		FeedAlive:   ms.feedAlive(),
		PhaseCount:  phaseCount,
	}
}

func (ms *MonitorService) collect() (model.ConnectionStats, []model.ClientInfo, map[string]int) {
	ms.hub.onlineUsersMu.RLock()
	defer ms.hub.onlineUsersMu.RUnlock()

	stats := model.ConnectionStats{
		TotalConnected: len(ms.hub.onlineUsers),
	}
	clients := make([]model.ClientInfo, 0, len(ms.hub.onlineUsers))
	phaseCount := map[string]int{
		call.PhaseIdle.String():         0,
		call.PhaseRinging.String():      0,
		call.PhaseConnecting.String():   0,
		call.PhaseConnected.String():    0,
		call.PhaseReconnecting.String(): 0,
	}

	for _, client := range ms.hub.onlineUsers {
		snap := client.coord.Snapshot()

		if snap.InCall() {
			stats.TotalInCall++
		} else {
			stats.TotalIdle++
		}
		phaseCount[snap.Phase.String()]++

		clients = append(clients, model.ClientInfo{
			ClientID:       client.ID,
			UserID:         client.userID,
			Phase:          snap.Phase.String(),
			SessionID:      snap.SessionID,
			ConversationID: snap.ConversationID,
		})
	}

	return stats, clients, phaseCount
}
