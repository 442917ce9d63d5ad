package gateway

import (
	"net/http"
	"strings"

	"github.com/example/mealdelivery/pkg/models"
	"github.com/example/mealdelivery/pkg/order"
	"github.com/gin-gonic/gin"
)

// Identity is asserted by the upstream auth proxy and trusted as given.
const (
	headerUserID   = "X-User-ID"
	headerUserRole = "X-User-Role"

	actorKey = "actor"
)

func identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := strings.TrimSpace(c.GetHeader(headerUserID))
		role := models.Role(strings.ToUpper(strings.TrimSpace(c.GetHeader(headerUserRole))))
		if userID == "" || (role != models.RoleAdmin && role != models.RoleCustomer) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid identity"})
			return
		}
		c.Set(actorKey, order.Actor{UserID: userID, Role: role})
		c.Next()
	}
}

func requireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		actor := actorFrom(c)
		for _, r := range roles {
			if actor.Role == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient role"})
	}
}

func actorFrom(c *gin.Context) order.Actor {
	v, _ := c.Get(actorKey)
	actor, _ := v.(order.Actor)
	return actor
}
