package server

import (
	"net/http"

	"github.com/MarcoPoloResearchLab/qna/internal/questions"
	"github.com/MarcoPoloResearchLab/qna/internal/tags"
	"github.com/MarcoPoloResearchLab/qna/internal/votes"
	"github.com/gin-gonic/gin"
)

const (
	opHTTPListQuestions  = "server.list_questions"
	opHTTPCreateQuestion = "server.create_question"
	opHTTPUpdateQuestion = "server.update_question"
	opHTTPVote           = "server.vote"
	opHTTPListTags       = "server.list_tags"
)

type listQuestionsQuery struct {
	Tag    string `form:"tag"`
	Search string `form:"search"`
	Sort   string `form:"sort"`
	Page   int    `form:"page" binding:"omitempty,min=1"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

type createQuestionPayload struct {
	Title       string   `json:"title" binding:"required"`
	Description string   `json:"description" binding:"required"`
	Tags        []string `json:"tags"`
}

type updateQuestionPayload struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
	Status      *string   `json:"status"`
}

type votePayload struct {
	VoteType string `json:"voteType" binding:"required,votetype"`
}

type voteQuery struct {
	VoteType string `form:"voteType" binding:"required,votetype"`
}

type listTagsQuery struct {
	Prefix string `form:"prefix"`
	Limit  int    `form:"limit" binding:"omitempty,min=1,max=100"`
}

func (h *httpHandler) handleListQuestions(c *gin.Context) {
	var query listQuestionsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.invalidRequest(c, opHTTPListQuestions, err)
		return
	}
	sortOrder, err := questions.ParseSort(query.Sort)
	if err != nil {
		h.respondError(c, err)
		return
	}
	result, err := h.questions.ListQuestions(c.Request.Context(), questions.ListFilter{
		Tag:      query.Tag,
		Search:   query.Search,
		Sort:     sortOrder,
		Page:     query.Page,
		Limit:    query.Limit,
		ViewerID: viewerID(c),
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *httpHandler) handleGetQuestion(c *gin.Context) {
	view, err := h.questions.GetQuestion(c.Request.Context(), c.Param("id"), viewerID(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleCreateQuestion(c *gin.Context) {
	var payload createQuestionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.invalidRequest(c, opHTTPCreateQuestion, err)
		return
	}
	view, err := h.questions.CreateQuestion(c.Request.Context(), questions.QuestionInput{
		AuthorID:    viewerID(c),
		Title:       payload.Title,
		Description: payload.Description,
		Tags:        payload.Tags,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, view)
}

func (h *httpHandler) handleUpdateQuestion(c *gin.Context) {
	var payload updateQuestionPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.invalidRequest(c, opHTTPUpdateQuestion, err)
		return
	}
	update := questions.QuestionUpdate{
		Title:       payload.Title,
		Description: payload.Description,
		Tags:        payload.Tags,
	}
	if payload.Status != nil {
		status, err := questions.ParseStatus(*payload.Status)
		if err != nil {
			h.respondError(c, err)
			return
		}
		update.Status = &status
	}
	view, err := h.questions.UpdateQuestion(c.Request.Context(), c.Param("id"), viewerID(c), update)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h *httpHandler) handleDeleteQuestion(c *gin.Context) {
	if err := h.questions.DeleteQuestion(c.Request.Context(), c.Param("id"), viewerID(c)); err != nil {
		h.respondError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) handleVoteQuestion(c *gin.Context) {
	direction, ok := h.bindVoteBody(c)
	if !ok {
		return
	}
	state, err := h.questions.VoteQuestion(c.Request.Context(), c.Param("id"), viewerID(c), direction)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *httpHandler) handleUnvoteQuestion(c *gin.Context) {
	direction, ok := h.bindVoteQuery(c)
	if !ok {
		return
	}
	state, err := h.questions.UnvoteQuestion(c.Request.Context(), c.Param("id"), viewerID(c), direction)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *httpHandler) handleListTags(c *gin.Context) {
	var query listTagsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.invalidRequest(c, opHTTPListTags, err)
		return
	}
	result, err := tags.List(c.Request.Context(), h.db, query.Prefix, query.Limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"tags": result})
}

func (h *httpHandler) bindVoteBody(c *gin.Context) (votes.Direction, bool) {
	var payload votePayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		h.invalidRequest(c, opHTTPVote, err)
		return "", false
	}
	return votes.Direction(payload.VoteType), true
}

func (h *httpHandler) bindVoteQuery(c *gin.Context) (votes.Direction, bool) {
	var query voteQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		h.invalidRequest(c, opHTTPVote, err)
		return "", false
	}
	return votes.Direction(query.VoteType), true
}
