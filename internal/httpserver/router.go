package httpserver

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"marketplace-checkout/internal/checkout"
)

type sessionStore interface {
	Create(ctx context.Context) (string, *checkout.Flow, error)
	Get(ctx context.Context, id string) (*checkout.Flow, error)
	Save(ctx context.Context, id string, flow *checkout.Flow) error
	Delete(ctx context.Context, id string) error
}

// Deps are the collaborators the router needs.
type Deps struct {
	Sessions    sessionStore
	Ready       []ReadyCheck
	CORSOrigins []string
}

// buildRouter wires routes for the API.
func buildRouter(logger *log.Logger, deps Deps) (*gin.Engine, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session store is required")
	}
	corsMiddleware, err := corsFor(deps.CORSOrigins)
	if err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.LoggerWithWriter(logger.Writer()), gin.Recovery(), corsMiddleware)

	router.GET("/healthz", healthHandler)
	router.GET("/readyz", readyHandler(deps.Ready))

	h := &handlers{sessions: deps.Sessions, logger: logger}

	sessions := router.Group("/api/checkout/sessions")
	sessions.POST("", h.createSession)

	s := sessions.Group("/:id", sessionMiddleware(deps.Sessions, logger))
	s.GET("", h.getSession)
	s.DELETE("", h.deleteSession)

	s.POST("/cart/items", h.addItem)
	s.PUT("/cart/items/:itemId", h.updateItem)
	s.DELETE("/cart/items/:itemId", h.removeItem)
	s.DELETE("/cart", h.clearCart)

	s.POST("/step", h.changeStep)
	s.POST("/delivery/location", h.pickLocation)
	s.POST("/delivery", h.submitDelivery)

	s.POST("/login", h.login)
	s.POST("/logout", h.logout)

	s.GET("/payment/gateways", h.gateways)
	s.POST("/payment/select", h.selectPayment)
	s.POST("/payment/dismiss", h.dismissPayment)
	s.POST("/payment/confirm", h.confirmPayment)
	s.GET("/payment/return", h.gatewayReturn)

	s.GET("/orders", h.listOrders)
	s.GET("/orders/:orderId", h.getOrder)

	return router, nil
}

func corsFor(origins []string) (gin.HandlerFunc, error) {
	cfg := cors.Config{
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
	} else {
		cfg.AllowOrigins = origins
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cors config: %w", err)
	}
	return cors.New(cfg), nil
}
