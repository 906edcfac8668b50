package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/jengzang/trip-planner-go/internal/auth"
	"github.com/jengzang/trip-planner-go/pkg/response"
)

// ContextKeyActor holds the auth.Actor of a request
const ContextKeyActor = "actor"

// Auth rejects requests without a valid bearer token
func Auth(tokens *auth.Tokens) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor, err := tokens.Parse(extractToken(c))
		if err != nil {
			response.Unauthorized(c, "Invalid or missing token")
			return
		}
		c.Set(ContextKeyActor, actor)
		c.Next()
	}
}

// CurrentActor returns the actor set by Auth, or the anonymous actor
func CurrentActor(c *gin.Context) auth.Actor {
	v, _ := c.Get(ContextKeyActor)
	actor, _ := v.(auth.Actor)
	return actor
}

func extractToken(c *gin.Context) string {
	token := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
