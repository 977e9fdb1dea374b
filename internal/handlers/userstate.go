package handlers

import (
	"encoding/json"
	"fmt"

	"github.com/gin-gonic/gin"

	"github.com/artemuse/gallery-backend/internal/apierr"
	"github.com/artemuse/gallery-backend/internal/services"
)

type UserStateHandler struct {
	userStateService services.UserStateService
}

func NewUserStateHandler(userStateService services.UserStateService) *UserStateHandler {
	return &UserStateHandler{userStateService: userStateService}
}

// GET /api/user/data
func (uh *UserStateHandler) GetData(c *gin.Context) {
	view, err := uh.userStateService.GetState(c.Request.Context())
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"userData": view})
}

// POST /api/user/cart
func (uh *UserStateHandler) SetCart(c *gin.Context) {
	var body struct {
		Cart json.RawMessage `json:"cart"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, apierr.InvalidArgument(fmt.Errorf("cart must be an array")))
		return
	}
	cart, err := uh.userStateService.ReplaceCart(c.Request.Context(), body.Cart)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"cart": cart})
}

// POST /api/user/wishlist
func (uh *UserStateHandler) SetWishlist(c *gin.Context) {
	var body struct {
		Wishlist json.RawMessage `json:"wishlist"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, apierr.InvalidArgument(fmt.Errorf("wishlist must be an array")))
		return
	}
	wishlist, err := uh.userStateService.ReplaceWishlist(c.Request.Context(), body.Wishlist)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"wishlist": wishlist})
}

// POST /api/user/register-event
func (uh *UserStateHandler) RegisterEvent(c *gin.Context) {
	var body struct {
		EventID string `json:"eventId"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, apierr.InvalidArgument(fmt.Errorf("eventId is required")))
		return
	}
	events, already, err := uh.userStateService.RegisterForEvent(c.Request.Context(), body.EventID)
	if err != nil {
		RespondError(c, err)
		return
	}
	message := "Registered for event"
	if already {
		message = "Already registered"
	}
	RespondOK(c, gin.H{"message": message, "events": events})
}

// POST /api/user/order
func (uh *UserStateHandler) PlaceOrder(c *gin.Context) {
	var body struct {
		Items json.RawMessage `json:"items"`
	}
	// The body is optional: no body means "order the current cart".
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			RespondError(c, apierr.InvalidArgument(fmt.Errorf("malformed request body")))
			return
		}
	}
	order, cart, orders, err := uh.userStateService.PlaceOrder(c.Request.Context(), body.Items)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"order": order, "cart": cart, "orders": orders})
}
