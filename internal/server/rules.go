package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/contentfin/internal/kpi"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
)

type resolveRuleQuery struct {
	RuleType string `form:"rule_type"`
	TargetID string `form:"target_id"`
	AsOf     string `form:"as_of"`
}

func (s *Server) ResolveRule(c *gin.Context) {
	var query resolveRuleQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ruleType := ruledomain.RuleType(strings.ToLower(strings.TrimSpace(query.RuleType)))
	if !ruleType.Valid() {
		AbortWithError(c, ruledomain.ErrInvalidRuleType)
		return
	}

	asOf := s.clock.Now().UTC()
	parsed, err := parseOptionalTime(query.AsOf, false)
	if err != nil {
		AbortWithError(c, newValidationError("as_of", "invalid_as_of", "invalid as_of"))
		return
	}
	if parsed != nil {
		asOf = parsed.UTC()
	}

	rule, err := s.ruleSvc.Resolve(c.Request.Context(), ruleType, strings.TrimSpace(query.TargetID), asOf)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": rule})
}

func (s *Server) ListDefinitions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": kpi.Definitions()})
}
