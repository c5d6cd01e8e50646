package httpserver

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"marketplace-checkout/internal/checkout"
	"marketplace-checkout/internal/domain"
	"marketplace-checkout/internal/marketplace"
)

type handlers struct {
	sessions sessionStore
	logger   *log.Logger
}

type addItemRequest struct {
	ID       int64           `json:"id" binding:"required,gt=0"`
	Name     string          `json:"name" binding:"required"`
	Price    decimal.Decimal `json:"price"`
	Image    string          `json:"image"`
	Quantity int             `json:"quantity" binding:"gte=0"`
}

type updateItemRequest struct {
	Quantity *int `json:"quantity" binding:"required"`
}

type stepRequest struct {
	Step string `json:"step" binding:"required"`
}

type locationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Token    string `json:"token"`
}

type selectPaymentRequest struct {
	Gateway string `json:"gateway" binding:"required"`
	Bank    string `json:"bank"`
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody("bad_request", msg))
}

func (h *handlers) createSession(c *gin.Context) {
	id, flow, err := h.sessions.Create(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id, "session": flow.Summary()})
}

func (h *handlers) getSession(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"id": sessionIDFrom(c), "session": flowFrom(c).Summary()})
}

func (h *handlers) deleteSession(c *gin.Context) {
	if err := h.sessions.Delete(c.Request.Context(), sessionIDFrom(c)); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Set(deletedCtxKey, true)
	c.Status(http.StatusNoContent)
}

func (h *handlers) addItem(c *gin.Context) {
	var req addItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid item")
		return
	}
	if req.Price.IsNegative() {
		badRequest(c, "price must not be negative")
		return
	}
	flow := flowFrom(c)
	flow.AddItem(domain.Product{ID: req.ID, Name: req.Name, Price: req.Price, Image: req.Image, Quantity: req.Quantity})
	c.JSON(http.StatusOK, gin.H{"session": flow.Summary()})
}

func (h *handlers) updateItem(c *gin.Context) {
	itemID, ok := int64Param(c, "itemId")
	if !ok {
		return
	}
	var req updateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "quantity required")
		return
	}
	flow := flowFrom(c)
	flow.UpdateItem(itemID, *req.Quantity)
	c.JSON(http.StatusOK, gin.H{"session": flow.Summary()})
}

func (h *handlers) removeItem(c *gin.Context) {
	itemID, ok := int64Param(c, "itemId")
	if !ok {
		return
	}
	flow := flowFrom(c)
	flow.RemoveItem(itemID)
	c.JSON(http.StatusOK, gin.H{"session": flow.Summary()})
}

func (h *handlers) clearCart(c *gin.Context) {
	flow := flowFrom(c)
	flow.ClearCart()
	c.JSON(http.StatusOK, gin.H{"session": flow.Summary()})
}

func (h *handlers) changeStep(c *gin.Context) {
	var req stepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "step required")
		return
	}
	step := checkout.Step(strings.TrimSpace(req.Step))
	if !step.Valid() {
		badRequest(c, "unknown step")
		return
	}
	flow := flowFrom(c)
	if err := flow.GoTo(step); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": flow.Summary()})
}

func (h *handlers) pickLocation(c *gin.Context) {
	var req locationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid location")
		return
	}
	flow := flowFrom(c)
	if err := flow.PickLocation(req.Latitude, req.Longitude); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": flow.Summary()})
}

func (h *handlers) submitDelivery(c *gin.Context) {
	var form domain.DeliveryInfo
	if err := c.ShouldBindJSON(&form); err != nil {
		badRequest(c, "invalid delivery details")
		return
	}
	flow := flowFrom(c)
	res, err := flow.SubmitDelivery(c.Request.Context(), form)
	if err != nil {
		if errors.Is(err, domain.ErrAuthRequired) {
			body := errorBody("auth_required", "Please log in to continue.")
			c.JSON(http.StatusUnauthorized, gin.H{"code": body.Code, "error": body.Message, "pending_action": checkout.ActionSubmitDelivery})
			return
		}
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"delivery": res.Delivery, "cart_id": res.CartID, "session": flow.Summary()})
}

func (h *handlers) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid login request")
		return
	}
	flow := flowFrom(c)
	var (
		res *checkout.AuthResult
		err error
	)
	switch {
	case strings.TrimSpace(req.Token) != "":
		res, err = flow.Authenticate(c.Request.Context(), req.Token)
	case strings.TrimSpace(req.Username) != "" && req.Password != "":
		res, err = flow.Login(c.Request.Context(), req.Username, req.Password)
	default:
		badRequest(c, "username and password, or token, required")
		return
	}
	if err != nil {
		var apiErr *marketplace.APIError
		if errors.As(err, &apiErr) && apiErr.IsClientError() {
			c.JSON(http.StatusUnauthorized, errorBody("invalid_credentials", "Invalid username or password."))
			return
		}
		if errors.Is(err, checkout.ErrTokenRequired) {
			writeError(c, h.logger, err)
			return
		}
		writeError(c, h.logger, &upstreamError{message: "Login is unavailable right now. Please try again.", err: err})
		return
	}
	out := gin.H{"authenticated": true, "session": flow.Summary()}
	if res.Replayed != "" {
		out["replayed"] = res.Replayed
	}
	if res.Delivery != nil {
		out["delivery"] = res.Delivery
	}
	if res.ReplayErr != nil {
		_, body := classify(res.ReplayErr)
		out["replay_error"] = body
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) logout(c *gin.Context) {
	flow := flowFrom(c)
	flow.Logout()
	c.JSON(http.StatusOK, gin.H{"session": flow.Summary()})
}

func (h *handlers) gateways(c *gin.Context) {
	list, warning := flowFrom(c).Gateways(c.Request.Context())
	out := gin.H{"gateways": list}
	if warning != "" {
		out["warning"] = warning
	}
	c.JSON(http.StatusOK, out)
}

func (h *handlers) selectPayment(c *gin.Context) {
	var req selectPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "gateway required")
		return
	}
	flow := flowFrom(c)
	if err := flow.SelectPayment(req.Gateway, req.Bank); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": flow.Summary()})
}

func (h *handlers) dismissPayment(c *gin.Context) {
	flow := flowFrom(c)
	flow.DismissPayment()
	c.JSON(http.StatusOK, gin.H{"session": flow.Summary()})
}

func (h *handlers) confirmPayment(c *gin.Context) {
	flow := flowFrom(c)
	out, err := flow.ConfirmPayment(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": out, "session": flow.Summary()})
}

func (h *handlers) gatewayReturn(c *gin.Context) {
	flow := flowFrom(c)
	view := flow.GatewayReturn(c.Request.URL.Query())
	c.JSON(http.StatusOK, gin.H{"confirmation": view, "session": flow.Summary()})
}

func (h *handlers) listOrders(c *gin.Context) {
	orders, err := flowFrom(c).Orders(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, backendReadError(err))
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": orders})
}

func (h *handlers) getOrder(c *gin.Context) {
	id, ok := int64Param(c, "orderId")
	if !ok {
		return
	}
	order, err := flowFrom(c).Order(c.Request.Context(), id)
	if err != nil {
		writeError(c, h.logger, backendReadError(err))
		return
	}
	c.JSON(http.StatusOK, order)
}

// backendReadError turns a failed order read into something classify knows.
func backendReadError(err error) error {
	if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrAuthRequired) {
		return err
	}
	var apiErr *marketplace.APIError
	if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
		return domain.ErrAuthRequired
	}
	return &upstreamError{message: "Could not load orders. Please try again.", err: err}
}

func int64Param(c *gin.Context, name string) (int64, bool) {
	v, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || v <= 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return v, true
}
