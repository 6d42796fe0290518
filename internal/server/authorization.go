package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	feedbackdomain "github.com/smallbiznis/contentfin/internal/feedback/domain"
	obscontext "github.com/smallbiznis/contentfin/internal/observability/context"
)

const (
	HeaderActorID   = "X-Actor-ID"
	HeaderActorRole = "X-Actor-Role"

	contextActorKey = "actor"
)

// ActorRequired reads the stakeholder identity from request headers. The
// caller is trusted to have authenticated the actor upstream.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actorID := strings.TrimSpace(c.GetHeader(HeaderActorID))
		role := strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderActorRole)))
		if actorID == "" || role == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		actor := feedbackdomain.Actor{ID: actorID, Role: role}
		c.Set(contextActorKey, actor)

		ctx := obscontext.WithActor(c.Request.Context(), "user", actorID)
		ctx = obscontext.WithActorRole(ctx, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), actor.ID, actor.Role, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func actorFromContext(c *gin.Context) (feedbackdomain.Actor, bool) {
	value, ok := c.Get(contextActorKey)
	if !ok {
		return feedbackdomain.Actor{}, false
	}
	actor, ok := value.(feedbackdomain.Actor)
	return actor, ok && actor.ID != ""
}
