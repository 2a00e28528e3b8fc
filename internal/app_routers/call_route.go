package approuters

import (
	"github.com/gin-gonic/gin"

	"github.com/Phuc-Java/forum-sub000/internal/configuration"
)

// CallRouters sets up call history and credential API routes
func CallRouters(router *gin.Engine, container *configuration.Container) {
	callRoute := router.Group("/hd/api/calls")
	{
		callRoute.GET("/history/:conversationId", container.CallHandler.GetHistory)
		callRoute.GET("/active/:conversationId", container.CallHandler.GetActive)
		callRoute.POST("/token", container.CallHandler.IssueToken)
	}
}
