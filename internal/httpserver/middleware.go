package httpserver

import (
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"marketplace-checkout/internal/checkout"
	"marketplace-checkout/internal/domain"
)

const (
	flowCtxKey      = "checkout.flow"
	sessionIDCtxKey = "checkout.session_id"
)

// sessionMiddleware loads the session named in the path and writes it back
// once the handler has run.
func sessionMiddleware(store sessionStore, logger *log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, errorBody("bad_request", "session id required"))
			return
		}
		flow, err := store.Get(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				c.AbortWithStatusJSON(http.StatusNotFound, errorBody("session_not_found", "checkout session not found"))
				return
			}
			logger.Printf("load session %s: %v", id, err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody("internal", "internal error"))
			return
		}
		c.Set(flowCtxKey, flow)
		c.Set(sessionIDCtxKey, id)

		c.Next()

		if c.GetBool(deletedCtxKey) {
			return
		}
		if err := store.Save(c.Request.Context(), id, flow); err != nil {
			logger.Printf("save session %s: %v", id, err)
		}
	}
}

const deletedCtxKey = "checkout.deleted"

func flowFrom(c *gin.Context) *checkout.Flow {
	return c.MustGet(flowCtxKey).(*checkout.Flow)
}

func sessionIDFrom(c *gin.Context) string {
	return c.GetString(sessionIDCtxKey)
}
