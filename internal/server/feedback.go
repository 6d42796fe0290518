package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/contentfin/internal/authorization"
	feedbackdomain "github.com/smallbiznis/contentfin/internal/feedback/domain"
	"github.com/smallbiznis/contentfin/pkg/db/pagination"
)

type submitFeedbackRequest struct {
	FeedbackType    string         `json:"feedback_type"`
	TargetType      string         `json:"target_type"`
	TargetID        *string        `json:"target_id"`
	Payload         map[string]any `json:"payload"`
	Description     string         `json:"description"`
	Priority        string         `json:"priority"`
	BusinessImpact  *string        `json:"business_impact"`
	ExpectedOutcome *string        `json:"expected_outcome"`
}

type submitFeedbackResponse struct {
	ID             snowflake.ID          `json:"id"`
	Status         feedbackdomain.Status `json:"status"`
	ImpactAnalysis json.RawMessage       `json:"impact_analysis"`
}

type reviewFeedbackRequest struct {
	Notes string `json:"notes"`
}

type searchFeedbackQuery struct {
	PageToken    string `form:"page_token"`
	PageSize     int    `form:"page_size"`
	Status       string `form:"status"`
	FeedbackType string `form:"feedback_type"`
	TargetType   string `form:"target_type"`
	TargetID     string `form:"target_id"`
	ActorID      string `form:"actor_id"`
	ActorRole    string `form:"actor_role"`
	Priority     string `form:"priority"`
	Query        string `form:"q"`
	CreatedFrom  string `form:"created_from"`
	CreatedTo    string `form:"created_to"`
	Order        string `form:"order"`
}

func (s *Server) SubmitFeedback(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req submitFeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	event, err := s.feedbackSvc.Submit(c.Request.Context(), feedbackdomain.SubmitRequest{
		Actor:           actor,
		FeedbackType:    feedbackdomain.FeedbackType(strings.TrimSpace(req.FeedbackType)),
		TargetType:      feedbackdomain.TargetType(strings.TrimSpace(req.TargetType)),
		TargetID:        req.TargetID,
		Payload:         req.Payload,
		Description:     req.Description,
		Priority:        feedbackdomain.Priority(strings.TrimSpace(req.Priority)),
		BusinessImpact:  req.BusinessImpact,
		ExpectedOutcome: req.ExpectedOutcome,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, submitFeedbackResponse{
		ID:             event.ID,
		Status:         event.Status,
		ImpactAnalysis: json.RawMessage(event.ImpactAnalysis),
	})
}

func (s *Server) SearchFeedback(c *gin.Context) {
	if !s.allow(c, authorization.ObjectFeedback, authorization.ActionFeedbackView) {
		return
	}

	var query searchFeedbackQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	createdFrom, err := parseOptionalTime(query.CreatedFrom, false)
	if err != nil {
		AbortWithError(c, newValidationError("created_from", "invalid_created_from", "invalid created_from"))
		return
	}
	createdTo, err := parseOptionalTime(query.CreatedTo, true)
	if err != nil {
		AbortWithError(c, newValidationError("created_to", "invalid_created_to", "invalid created_to"))
		return
	}

	var ascending bool
	switch strings.ToLower(strings.TrimSpace(query.Order)) {
	case "", "desc":
	case "asc":
		ascending = true
	default:
		AbortWithError(c, newValidationError("order", "invalid_order", "order must be asc or desc"))
		return
	}

	resp, err := s.feedbackSvc.Search(c.Request.Context(), feedbackdomain.SearchRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Status:       feedbackdomain.Status(strings.TrimSpace(query.Status)),
		FeedbackType: feedbackdomain.FeedbackType(strings.TrimSpace(query.FeedbackType)),
		TargetType:   feedbackdomain.TargetType(strings.TrimSpace(query.TargetType)),
		TargetID:     strings.TrimSpace(query.TargetID),
		ActorID:      strings.TrimSpace(query.ActorID),
		ActorRole:    strings.TrimSpace(query.ActorRole),
		Priority:     feedbackdomain.Priority(strings.TrimSpace(query.Priority)),
		Query:        strings.TrimSpace(query.Query),
		CreatedFrom:  createdFrom,
		CreatedTo:    createdTo,
		Ascending:    ascending,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.Events, "page_info": resp.PageInfo})
}

func (s *Server) FeedbackSummary(c *gin.Context) {
	if !s.allow(c, authorization.ObjectFeedback, authorization.ActionFeedbackView) {
		return
	}

	summary, err := s.feedbackSvc.Summary(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": summary})
}

func (s *Server) GetFeedback(c *gin.Context) {
	if !s.allow(c, authorization.ObjectFeedback, authorization.ActionFeedbackView) {
		return
	}

	id, ok := feedbackIDParam(c)
	if !ok {
		return
	}

	event, err := s.feedbackSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event})
}

func (s *Server) AnalyzeFeedbackImpact(c *gin.Context) {
	if !s.allow(c, authorization.ObjectFeedback, authorization.ActionFeedbackView) {
		return
	}

	id, ok := feedbackIDParam(c)
	if !ok {
		return
	}

	analysis, err := s.feedbackSvc.AnalyzeImpact(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": analysis})
}

func (s *Server) ApproveFeedback(c *gin.Context) {
	s.reviewFeedback(c, s.feedbackSvc.Approve)
}

func (s *Server) RejectFeedback(c *gin.Context) {
	s.reviewFeedback(c, s.feedbackSvc.Reject)
}

type reviewFunc func(ctx context.Context, id snowflake.ID, actor feedbackdomain.Actor, notes string) (feedbackdomain.FeedbackEvent, error)

func (s *Server) reviewFeedback(c *gin.Context, review reviewFunc) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, ok := feedbackIDParam(c)
	if !ok {
		return
	}

	var req reviewFeedbackRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	event, err := review(c.Request.Context(), id, actor, strings.TrimSpace(req.Notes))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event})
}

func (s *Server) ApplyFeedback(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	id, ok := feedbackIDParam(c)
	if !ok {
		return
	}

	event, err := s.feedbackSvc.Apply(c.Request.Context(), id, actor)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": event})
}

// allow runs the authorization gate inline for handlers that authorize
// before reading the request.
func (s *Server) allow(c *gin.Context, object, action string) bool {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return false
	}
	if err := s.authzSvc.Authorize(c.Request.Context(), actor.ID, actor.Role, object, action); err != nil {
		AbortWithError(c, err)
		return false
	}
	return true
}

func feedbackIDParam(c *gin.Context) (snowflake.ID, bool) {
	id, err := snowflake.ParseString(strings.TrimSpace(c.Param("id")))
	if err != nil || id == 0 {
		AbortWithError(c, ErrNotFound)
		return 0, false
	}
	return id, true
}
