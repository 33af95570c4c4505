package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

const (
	opHTTPCreateAnswer = "server.create_answer"
	opHTTPUpdateAnswer = "server.update_answer"
	opHTTPAddComment   = "server.add_comment"
)

type createAnswerPayload struct {
	Content    string `json:"content" binding:"required"`
	QuestionID string `json:"questionId" binding:"required"`
}

type contentPayload struct {
	Content string `json:"content" binding:"required"`
}

func (h *httpHandler) handleListAnswers(c *gin.Context) {
	views, err := h.questions.ListAnswers(c.Request.Context(), c.Param("id"), viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"answers": views})
}

func (h *httpHandler) handleCreateAnswer(c *gin.Context) {
	var payload createAnswerPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.invalidRequest(c, opHTTPCreateAnswer, err)
		return
	}
	view, err := h.questions.CreateAnswer(c.Request.Context(), payload.QuestionID, viewerID(c), payload.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleUpdateAnswer(c *gin.Context) {
	var payload contentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.invalidRequest(c, opHTTPUpdateAnswer, err)
		return
	}
	view, err := h.questions.UpdateAnswer(c.Request.Context(), c.Param("id"), viewerID(c), payload.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleDeleteAnswer(c *gin.Context) {
	if err := h.questions.DeleteAnswer(c.Request.Context(), c.Param("id"), viewerID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleVoteAnswer(c *gin.Context) {
	direction, ok := h.bindVoteBody(c)
	if !ok {
		return
	}
	state, err := h.questions.VoteAnswer(c.Request.Context(), c.Param("id"), viewerID(c), direction)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *httpHandler) handleUnvoteAnswer(c *gin.Context) {
	direction, ok := h.bindVoteQuery(c)
	if !ok {
		return
	}
	state, err := h.questions.UnvoteAnswer(c.Request.Context(), c.Param("id"), viewerID(c), direction)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *httpHandler) handleAcceptAnswer(c *gin.Context) {
	view, err := h.questions.AcceptAnswer(c.Request.Context(), c.Param("id"), viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleAddComment(c *gin.Context) {
	var payload contentPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.invalidRequest(c, opHTTPAddComment, err)
		return
	}
	comment, err := h.questions.AddComment(c.Request.Context(), c.Param("id"), viewerID(c), payload.Content)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, comment)
}
