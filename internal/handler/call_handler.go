package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/Phuc-Java/forum-sub000/internal/db"
	"github.com/Phuc-Java/forum-sub000/internal/service"
	"github.com/Phuc-Java/forum-sub000/internal/transport"
)

type CallHandler interface {
	GetHistory(c *gin.Context)
	GetActive(c *gin.Context)
	IssueToken(c *gin.Context)
}

type callHandler struct {
	service service.CallService
	media   transport.Transport
}

func NewCallHandler(service service.CallService, media transport.Transport) CallHandler {
	return &callHandler{
		service: service,
		media:   media,
	}
}

// GetHistory returns ended call sessions of a conversation, newest first.
// @Summary Get call history for a conversation
// @Tags Calls
// @Produce json
// @Router /api/calls/history/{conversationId} [get]
func (h *callHandler) GetHistory(c *gin.Context) {
	conversationID := c.Param("conversationId")
	page := c.DefaultQuery("page", "1")
	pageNumber, err := strconv.ParseInt(page, 10, 64)
	if err != nil || pageNumber < 1 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid page number",
		})
		return
	}

	result, err := h.service.History(c.Request.Context(), conversationID, db.PaginationParams{
		Page:     pageNumber,
		PageSize: 20,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get call history",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"HttpStatusCode": http.StatusOK,
		"ResponseBody":   result,
		"IsSuccess":      true,
		"Message":        "Call history retrieved successfully",
	})
}

// GetActive returns the live call session of a conversation, if any. The
// body is null when the conversation has no ringing or ongoing call.
// @Summary Get the active call of a conversation
// @Tags Calls
// @Produce json
// @Router /api/calls/active/{conversationId} [get]
func (h *callHandler) GetActive(c *gin.Context) {
	conversationID := c.Param("conversationId")

	session, err := h.service.Active(c.Request.Context(), conversationID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to look up active call",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"HttpStatusCode": http.StatusOK,
		"ResponseBody":   session,
		"IsSuccess":      true,
		"Message":        "Active call retrieved successfully",
	})
}

type tokenRequest struct {
	RoomID   string `json:"roomId" binding:"required"`
	UserID   string `json:"userId" binding:"required"`
	UserName string `json:"userName"`
}

// IssueToken mints a media room credential outside the signaling flow,
// used by clients reconnecting to a room they are already a member of.
// @Summary Issue a media room token
// @Tags Calls
// @Accept json
// @Produce json
// @Router /api/calls/token [post]
func (h *callHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "roomId and userId are required",
		})
		return
	}

	name := req.UserName
	if name == "" {
		name = req.UserID
	}

	cred, err := h.media.RequestCredential(c.Request.Context(), req.RoomID, req.UserID, name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to issue token",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"HttpStatusCode": http.StatusOK,
		"ResponseBody":   cred,
		"IsSuccess":      true,
		"Message":        "Token issued successfully",
	})
}
