package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/Phuc-Java/forum-sub000/internal/configuration"
)

// MonitorRouters sets up monitoring API routes
func MonitorRouters(router *gin.Engine, container *configuration.Container) {
	monitorGroup := router.Group("/hd/api/monitor")
	{
		// GET /hd/api/monitor/stats - Get hub statistics
		monitorGroup.GET("/stats", container.MonitorHandler.GetHubStats)
	}
}
