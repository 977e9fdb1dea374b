package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/artemuse/gallery-backend/internal/apierr"
	"github.com/artemuse/gallery-backend/internal/logger"
	"github.com/artemuse/gallery-backend/internal/repos"
	"github.com/artemuse/gallery-backend/internal/requestdata"
	"github.com/artemuse/gallery-backend/internal/types"
)

// UserStateService owns every mutation of the per-user aggregate: cart and
// wishlist replacement, idempotent event registration, and the cart-to-order
// transition. All operations are scoped to the identity resolved onto the
// context by the auth middleware.
//
// Cart and wishlist follow replace-whole-collection semantics with
// last-write-wins between concurrent sessions of the same user; there is no
// version token. PlaceOrder appends the order and clears the cart in a single
// row update, so no reader can observe one without the other.
type UserStateService interface {
	GetState(ctx context.Context) (*types.UserStateView, error)
	ReplaceCart(ctx context.Context, items json.RawMessage) (json.RawMessage, error)
	ReplaceWishlist(ctx context.Context, items json.RawMessage) (json.RawMessage, error)
	RegisterForEvent(ctx context.Context, eventID string) ([]string, bool, error)
	PlaceOrder(ctx context.Context, overrideItems json.RawMessage) (*types.Order, json.RawMessage, json.RawMessage, error)
}

type userStateService struct {
	db       *gorm.DB
	log      *logger.Logger
	userRepo repos.UserRepo
	cache    StateCache
}

func NewUserStateService(db *gorm.DB, log *logger.Logger, userRepo repos.UserRepo, cache StateCache) UserStateService {
	serviceLog := log.With("service", "UserStateService")
	return &userStateService{
		db:       db,
		log:      serviceLog,
		userRepo: userRepo,
		cache:    cache,
	}
}

func (us *userStateService) GetState(ctx context.Context) (*types.UserStateView, error) {
	userID, err := identityFrom(ctx)
	if err != nil {
		return nil, err
	}
	if us.cache != nil {
		if view, ok := us.cache.GetView(ctx, userID); ok {
			return view, nil
		}
	}
	user, err := us.loadUser(ctx, nil, userID)
	if err != nil {
		return nil, err
	}
	view := viewOf(user)
	if us.cache != nil {
		us.cache.SetView(ctx, userID, view)
	}
	return view, nil
}

func (us *userStateService) ReplaceCart(ctx context.Context, items json.RawMessage) (json.RawMessage, error) {
	return us.replaceCollection(ctx, "cart", items)
}

func (us *userStateService) ReplaceWishlist(ctx context.Context, items json.RawMessage) (json.RawMessage, error) {
	return us.replaceCollection(ctx, "wishlist", items)
}

func (us *userStateService) replaceCollection(ctx context.Context, column string, items json.RawMessage) (json.RawMessage, error) {
	userID, err := identityFrom(ctx)
	if err != nil {
		return nil, err
	}
	if err := ensureJSONArray(items); err != nil {
		return nil, apierr.InvalidArgument(fmt.Errorf("%s must be an array", column))
	}
	user, err := us.userRepo.UpdateFields(ctx, nil, userID, map[string]interface{}{
		column: datatypes.JSON(items),
	})
	if err != nil {
		return nil, us.mapStorageError(err, userID)
	}
	if us.cache != nil {
		us.cache.Invalidate(ctx, userID)
	}
	if column == "wishlist" {
		return normalizeArray(user.Wishlist), nil
	}
	return normalizeArray(user.Cart), nil
}

func (us *userStateService) RegisterForEvent(ctx context.Context, eventID string) ([]string, bool, error) {
	userID, err := identityFrom(ctx)
	if err != nil {
		return nil, false, err
	}
	eventID = strings.TrimSpace(eventID)
	if eventID == "" {
		return nil, false, apierr.InvalidArgument(fmt.Errorf("eventId is required"))
	}

	var events []string
	var already bool
	txErr := us.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := us.loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		current := []string(user.Events)
		for _, id := range current {
			if id == eventID {
				already = true
				events = current
				return nil
			}
		}
		next := append(current, eventID)
		updated, err := us.userRepo.UpdateFields(ctx, tx, userID, map[string]interface{}{
			"events": datatypes.NewJSONSlice(next),
		})
		if err != nil {
			return us.mapStorageError(err, userID)
		}
		events = []string(updated.Events)
		return nil
	})
	if txErr != nil {
		return nil, false, us.mapStorageError(txErr, userID)
	}
	if !already && us.cache != nil {
		us.cache.Invalidate(ctx, userID)
	}
	if events == nil {
		events = []string{}
	}
	return events, already, nil
}

func (us *userStateService) PlaceOrder(ctx context.Context, overrideItems json.RawMessage) (*types.Order, json.RawMessage, json.RawMessage, error) {
	userID, err := identityFrom(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	var order types.Order
	var cart, orders json.RawMessage
	txErr := us.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, err := us.loadUser(ctx, tx, userID)
		if err != nil {
			return err
		}

		// An override that is not an array falls back to the stored cart,
		// matching the lenient item-source selection callers rely on.
		source := normalizeArray(user.Cart)
		if ensureJSONArray(overrideItems) == nil {
			source = overrideItems
		}

		order = types.Order{
			ID:       newOrderID(),
			Items:    source,
			Total:    sumPrices(source),
			PlacedAt: time.Now().UnixMilli(),
			Status:   types.OrderStatusPlaced,
		}

		var history []json.RawMessage
		if len(user.Orders) > 0 {
			if err := json.Unmarshal(user.Orders, &history); err != nil {
				us.log.Warn("Order history undecodable, rebuilding", "error", err, "user_id", userID)
				history = nil
			}
		}
		orderJSON, err := json.Marshal(order)
		if err != nil {
			return fmt.Errorf("failed to encode order: %w", err)
		}
		history = append(history, orderJSON)
		historyJSON, err := json.Marshal(history)
		if err != nil {
			return fmt.Errorf("failed to encode order history: %w", err)
		}

		// Single UPDATE: the appended order and the emptied cart commit
		// together or not at all.
		updated, err := us.userRepo.UpdateFields(ctx, tx, userID, map[string]interface{}{
			"orders": datatypes.JSON(historyJSON),
			"cart":   datatypes.JSON("[]"),
		})
		if err != nil {
			return us.mapStorageError(err, userID)
		}
		cart = normalizeArray(updated.Cart)
		orders = normalizeArray(updated.Orders)
		return nil
	})
	if txErr != nil {
		return nil, nil, nil, us.mapStorageError(txErr, userID)
	}
	if us.cache != nil {
		us.cache.Invalidate(ctx, userID)
	}
	us.log.Info("Order placed", "user_id", userID, "order_id", order.ID, "total", order.Total)
	return &order, cart, orders, nil
}

func (us *userStateService) loadUser(ctx context.Context, tx *gorm.DB, userID uuid.UUID) (*types.User, error) {
	user, err := us.userRepo.Get(ctx, tx, userID)
	if err != nil {
		return nil, us.mapStorageError(err, userID)
	}
	return user, nil
}

// A resolved session without a backing aggregate is an integrity fault, not a
// user mistake; it still surfaces as NotFound.
func (us *userStateService) mapStorageError(err error, userID uuid.UUID) error {
	if err == nil {
		return nil
	}
	var ae *apierr.Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		us.log.Error("Aggregate missing for resolved identity", "user_id", userID)
		return apierr.NotFound(fmt.Errorf("user not found"))
	}
	us.log.Error("Storage failure", "error", err, "user_id", userID)
	return apierr.Internal(err)
}

func identityFrom(ctx context.Context) (uuid.UUID, error) {
	rd := requestdata.GetRequestData(ctx)
	if rd == nil || rd.UserID == uuid.Nil {
		return uuid.Nil, apierr.Unauthorized(fmt.Errorf("no identity resolved on request"))
	}
	return rd.UserID, nil
}

func viewOf(user *types.User) *types.UserStateView {
	events := []string(user.Events)
	if events == nil {
		events = []string{}
	}
	return &types.UserStateView{
		ID:       user.ID,
		Name:     user.Name,
		Email:    user.Email,
		Verified: user.Verified,
		Cart:     normalizeArray(user.Cart),
		Wishlist: normalizeArray(user.Wishlist),
		Events:   events,
		Orders:   normalizeArray(user.Orders),
	}
}

// ensureJSONArray accepts exactly a JSON array. JSON null decodes into a nil
// slice without error, so the leading byte is checked explicitly.
func ensureJSONArray(raw json.RawMessage) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '[' {
		return fmt.Errorf("expected a JSON array")
	}
	var probe []json.RawMessage
	if err := json.Unmarshal(trimmed, &probe); err != nil {
		return err
	}
	return nil
}

func normalizeArray(raw []byte) json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("[]")
	}
	return json.RawMessage(raw)
}

// sumPrices totals the price field across the item source. A missing or
// non-numeric price contributes zero rather than failing the order; numeric
// strings are honored.
func sumPrices(items json.RawMessage) float64 {
	var decoded []map[string]interface{}
	if err := json.Unmarshal(items, &decoded); err != nil {
		return 0
	}
	var total float64
	for _, item := range decoded {
		total += coercePrice(item["price"])
	}
	return total
}

func coercePrice(val interface{}) float64 {
	switch v := val.(type) {
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
			return f
		}
		return 0
	default:
		return 0
	}
}

func newOrderID() string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("ord_%d_%s", time.Now().UnixMilli(), suffix)
}
