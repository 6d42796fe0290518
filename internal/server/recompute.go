package server

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	recomputedomain "github.com/smallbiznis/contentfin/internal/recompute/domain"
	"github.com/smallbiznis/contentfin/pkg/telemetry/correlation"
	"gorm.io/gorm"
)

type recomputeRequest struct {
	ContentIDs []string `json:"content_ids"`
	All        bool     `json:"all"`
	From       string   `json:"from"`
	To         string   `json:"to"`
	AsOf       string   `json:"as_of"`
	Reason     string   `json:"reason"`
}

// RequestRecompute queues recomputation of the named content, or of all
// content when All is set. The worker drains the queue.
func (s *Server) RequestRecompute(c *gin.Context) {
	actor, ok := actorFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req recomputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if req.All == (len(req.ContentIDs) > 0) {
		AbortWithError(c, newValidationError("content_ids", "invalid_content_ids", "provide content_ids or all, not both"))
		return
	}

	from, err := parseOptionalTime(req.From, false)
	if err != nil {
		AbortWithError(c, newValidationError("from", "invalid_from", "invalid from"))
		return
	}
	to, err := parseOptionalTime(req.To, false)
	if err != nil {
		AbortWithError(c, newValidationError("to", "invalid_to", "invalid to"))
		return
	}
	asOf, err := parseOptionalTime(req.AsOf, false)
	if err != nil {
		AbortWithError(c, newValidationError("as_of", "invalid_as_of", "invalid as_of"))
		return
	}

	ctx := c.Request.Context()
	contentIDs := req.ContentIDs
	if req.All {
		contentIDs, err = s.factReader.ListContentIDs(ctx)
		if err != nil {
			AbortWithError(c, err)
			return
		}
	}

	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = fmt.Sprintf("manual recompute by %s", actor.ID)
	}
	runID := correlation.NewRunID()

	reqs := make([]recomputedomain.EnqueueRequest, 0, len(contentIDs))
	for _, contentID := range contentIDs {
		reqs = append(reqs, recomputedomain.EnqueueRequest{
			ContentID:  contentID,
			RangeStart: from,
			RangeEnd:   to,
			AsOf:       asOf,
			Reason:     reason,
			SourceType: recomputedomain.SourceManual,
			SourceID:   runID,
		})
	}

	var queued int
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		queued, err = s.recomputeSvc.Enqueue(ctx, tx, reqs...)
		return err
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"run_id": runID, "queued": queued})
}
