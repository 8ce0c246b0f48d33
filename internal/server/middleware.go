package server

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/brokerdesk/callbonus/internal/actorctx"
	"github.com/brokerdesk/callbonus/pkg/telemetry/correlation"
)

const (
	HeaderRequestID = "X-Request-ID"
	HeaderActorID   = "X-Actor-ID"
	HeaderActorName = "X-Actor-Name"
	HeaderActorRole = "X-Actor-Role"
)

// RequestID propagates the caller's request id or mints one, and carries it
// through the request context as the correlation id.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := strings.TrimSpace(c.GetHeader(HeaderRequestID))
		if rid == "" {
			rid = uuid.NewString()
		}

		ctx := correlation.ContextWithCorrelationID(c.Request.Context(), rid)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, rid)
		c.Next()
	}
}

// ActorRequired resolves the acting user from identity headers set by the
// authenticating proxy and stores it on the request context.
func (s *Server) ActorRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorctx.Actor{
			ID:   strings.TrimSpace(c.GetHeader(HeaderActorID)),
			Name: strings.TrimSpace(c.GetHeader(HeaderActorName)),
			Role: strings.TrimSpace(c.GetHeader(HeaderActorRole)),
		}
		if actor.ID == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		switch actor.Role {
		case actorctx.RoleAdmin, actorctx.RoleAffiliateManager, actorctx.RoleAgent:
		default:
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Request = c.Request.WithContext(actorctx.WithActor(c.Request.Context(), actor))
		c.Next()
	}
}

// authorizeAction gates a route on an RBAC policy check before the handler
// runs. Services repeat the check with richer ownership context.
func (s *Server) authorizeAction(object, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, ok := actorctx.FromContext(c.Request.Context())
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		if err := s.authzSvc.Authorize(c.Request.Context(), actor, object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}
