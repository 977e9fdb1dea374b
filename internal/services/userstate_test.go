package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/artemuse/gallery-backend/internal/apierr"
	"github.com/artemuse/gallery-backend/internal/logger"
	"github.com/artemuse/gallery-backend/internal/repos"
	"github.com/artemuse/gallery-backend/internal/requestdata"
	"github.com/artemuse/gallery-backend/internal/types"
)

func testLogger() *logger.Logger {
	return &logger.Logger{SugaredLogger: zap.NewNop().Sugar()}
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.ReplaceAll(t.Name(), "/", "_")
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := gormDB.AutoMigrate(&types.User{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return gormDB
}

func seedUser(t *testing.T, gormDB *gorm.DB) *types.User {
	t.Helper()
	user := &types.User{
		ID:       uuid.New(),
		Email:    "ines@example.com",
		Name:     "Ines",
		Verified: true,
		Cart:     datatypes.JSON("[]"),
		Wishlist: datatypes.JSON("[]"),
		Events:   datatypes.NewJSONSlice([]string{}),
		Orders:   datatypes.JSON("[]"),
	}
	if err := gormDB.Create(user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

func newTestService(t *testing.T) (UserStateService, *gorm.DB, *types.User, context.Context) {
	t.Helper()
	gormDB := testDB(t)
	log := testLogger()
	userRepo := repos.NewUserRepo(gormDB, log)
	svc := NewUserStateService(gormDB, log, userRepo, nil)
	user := seedUser(t, gormDB)
	ctx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: user.ID})
	return svc, gormDB, user, ctx
}

func TestReplaceCartThenRead(t *testing.T) {
	svc, _, _, ctx := newTestService(t)

	cart := json.RawMessage(`[{"id":"a","name":"Dusk Study","price":100},{"id":"b","name":"Harbor","price":250}]`)
	stored, err := svc.ReplaceCart(ctx, cart)
	if err != nil {
		t.Fatalf("ReplaceCart: %v", err)
	}

	view, err := svc.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}

	var want, gotStored, gotRead []map[string]interface{}
	if err := json.Unmarshal(cart, &want); err != nil {
		t.Fatalf("decode input: %v", err)
	}
	if err := json.Unmarshal(stored, &gotStored); err != nil {
		t.Fatalf("decode stored: %v", err)
	}
	if err := json.Unmarshal(view.Cart, &gotRead); err != nil {
		t.Fatalf("decode read: %v", err)
	}
	if len(gotStored) != len(want) || len(gotRead) != len(want) {
		t.Fatalf("cart length mismatch: stored=%d read=%d want=%d", len(gotStored), len(gotRead), len(want))
	}
	for i := range want {
		if gotRead[i]["id"] != want[i]["id"] {
			t.Fatalf("cart order changed at %d: got=%v want=%v", i, gotRead[i]["id"], want[i]["id"])
		}
	}
	if len(view.Wishlist) == 0 || string(view.Wishlist) != "[]" {
		t.Fatalf("wishlist touched by cart replace: %s", view.Wishlist)
	}
}

func TestReplaceCartRejectsNonArray(t *testing.T) {
	svc, gormDB, user, ctx := newTestService(t)

	if _, err := svc.ReplaceCart(ctx, json.RawMessage(`{"id":"a"}`)); err == nil {
		t.Fatal("expected InvalidArgument for object payload")
	} else {
		var ae *apierr.Error
		if !errors.As(err, &ae) || ae.Code != apierr.CodeInvalidArgument {
			t.Fatalf("wrong error kind: %v", err)
		}
	}
	if _, err := svc.ReplaceCart(ctx, json.RawMessage(`null`)); err == nil {
		t.Fatal("expected InvalidArgument for null payload")
	}
	if _, err := svc.ReplaceCart(ctx, nil); err == nil {
		t.Fatal("expected InvalidArgument for missing payload")
	}

	var stored types.User
	if err := gormDB.First(&stored, "id = ?", user.ID).Error; err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if string(stored.Cart) != "[]" {
		t.Fatalf("cart mutated by rejected payload: %s", stored.Cart)
	}
}

func TestReplaceWishlistIndependentOfCart(t *testing.T) {
	svc, _, _, ctx := newTestService(t)

	if _, err := svc.ReplaceCart(ctx, json.RawMessage(`[{"id":"a","price":10}]`)); err != nil {
		t.Fatalf("ReplaceCart: %v", err)
	}
	wishlist, err := svc.ReplaceWishlist(ctx, json.RawMessage(`[{"id":"w1","price":75}]`))
	if err != nil {
		t.Fatalf("ReplaceWishlist: %v", err)
	}
	var got []map[string]interface{}
	if err := json.Unmarshal(wishlist, &got); err != nil {
		t.Fatalf("decode wishlist: %v", err)
	}
	if len(got) != 1 || got[0]["id"] != "w1" {
		t.Fatalf("unexpected wishlist: %s", wishlist)
	}

	view, err := svc.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	var cart []map[string]interface{}
	if err := json.Unmarshal(view.Cart, &cart); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if len(cart) != 1 || cart[0]["id"] != "a" {
		t.Fatalf("cart disturbed by wishlist replace: %s", view.Cart)
	}
}

func TestRegisterForEventIdempotent(t *testing.T) {
	svc, _, _, ctx := newTestService(t)

	events, already, err := svc.RegisterForEvent(ctx, "E7")
	if err != nil {
		t.Fatalf("first RegisterForEvent: %v", err)
	}
	if already {
		t.Fatal("first registration reported as already registered")
	}
	if len(events) != 1 || events[0] != "E7" {
		t.Fatalf("unexpected events after first call: %v", events)
	}

	events, already, err = svc.RegisterForEvent(ctx, "E7")
	if err != nil {
		t.Fatalf("second RegisterForEvent: %v", err)
	}
	if !already {
		t.Fatal("second registration not reported as already registered")
	}
	count := 0
	for _, id := range events {
		if id == "E7" {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("event id duplicated: %v", events)
	}
}

func TestRegisterForEventRequiresEventID(t *testing.T) {
	svc, _, _, ctx := newTestService(t)

	for _, eventID := range []string{"", "   "} {
		_, _, err := svc.RegisterForEvent(ctx, eventID)
		var ae *apierr.Error
		if !errors.As(err, &ae) || ae.Code != apierr.CodeInvalidArgument {
			t.Fatalf("eventID=%q: wrong error: %v", eventID, err)
		}
	}
}

func TestPlaceOrderFromCart(t *testing.T) {
	svc, _, _, ctx := newTestService(t)

	cart := json.RawMessage(`[{"id":"a","price":100},{"id":"b","price":250}]`)
	if _, err := svc.ReplaceCart(ctx, cart); err != nil {
		t.Fatalf("ReplaceCart: %v", err)
	}

	order, clearedCart, orders, err := svc.PlaceOrder(ctx, nil)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.Total != 350 {
		t.Fatalf("total: got=%v want=350", order.Total)
	}
	if order.Status != types.OrderStatusPlaced {
		t.Fatalf("status: got=%q want=%q", order.Status, types.OrderStatusPlaced)
	}
	if !strings.HasPrefix(order.ID, "ord_") {
		t.Fatalf("order id shape: %q", order.ID)
	}
	var snapshot []map[string]interface{}
	if err := json.Unmarshal(order.Items, &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if len(snapshot) != 2 {
		t.Fatalf("snapshot length: got=%d want=2", len(snapshot))
	}
	if string(clearedCart) != "[]" {
		t.Fatalf("cart not cleared: %s", clearedCart)
	}
	var history []types.Order
	if err := json.Unmarshal(orders, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 1 || history[0].ID != order.ID {
		t.Fatalf("history: %v", history)
	}

	// The cleared cart and appended order must both be visible on re-read.
	view, err := svc.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	if string(view.Cart) != "[]" {
		t.Fatalf("persisted cart not empty: %s", view.Cart)
	}
	if err := json.Unmarshal(view.Orders, &history); err != nil {
		t.Fatalf("decode persisted history: %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("persisted history length: got=%d want=1", len(history))
	}
}

func TestPlaceOrderAppendsToHistory(t *testing.T) {
	svc, _, _, ctx := newTestService(t)

	var ids []string
	for i := 0; i < 3; i++ {
		if _, err := svc.ReplaceCart(ctx, json.RawMessage(`[{"id":"x","price":10}]`)); err != nil {
			t.Fatalf("ReplaceCart %d: %v", i, err)
		}
		order, _, _, err := svc.PlaceOrder(ctx, nil)
		if err != nil {
			t.Fatalf("PlaceOrder %d: %v", i, err)
		}
		ids = append(ids, order.ID)
	}

	view, err := svc.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	var history []types.Order
	if err := json.Unmarshal(view.Orders, &history); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history length: got=%d want=3", len(history))
	}
	for i, order := range history {
		if order.ID != ids[i] {
			t.Fatalf("history order changed at %d: got=%q want=%q", i, order.ID, ids[i])
		}
	}
}

func TestPlaceOrderWithOverrideItems(t *testing.T) {
	svc, _, _, ctx := newTestService(t)

	if _, err := svc.ReplaceCart(ctx, json.RawMessage(`[{"id":"a","price":100}]`)); err != nil {
		t.Fatalf("ReplaceCart: %v", err)
	}
	override := json.RawMessage(`[{"id":"z","price":40},{"id":"y","price":2}]`)
	order, clearedCart, _, err := svc.PlaceOrder(ctx, override)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.Total != 42 {
		t.Fatalf("total from override: got=%v want=42", order.Total)
	}
	// Even with an override the cart empties.
	if string(clearedCart) != "[]" {
		t.Fatalf("cart not cleared: %s", clearedCart)
	}
}

func TestPlaceOrderPriceCoercion(t *testing.T) {
	cases := []struct {
		name  string
		items string
		want  float64
	}{
		{name: "numeric_string", items: `[{"id":"a","price":"19.5"}]`, want: 19.5},
		{name: "missing_price", items: `[{"id":"a"}]`, want: 0},
		{name: "junk_price", items: `[{"id":"a","price":"not a number"}]`, want: 0},
		{name: "mixed", items: `[{"id":"a","price":100},{"id":"b","price":"25"},{"id":"c","price":null}]`, want: 125},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc, _, _, ctx := newTestService(t)
			order, _, _, err := svc.PlaceOrder(ctx, json.RawMessage(tc.items))
			if err != nil {
				t.Fatalf("PlaceOrder: %v", err)
			}
			if order.Total != tc.want {
				t.Fatalf("total: got=%v want=%v", order.Total, tc.want)
			}
		})
	}
}

func TestMissingAggregateIsNotFound(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: uuid.New()})

	if _, err := svc.GetState(ctx); apierr.StatusOf(err) != 404 {
		t.Fatalf("GetState: expected 404, got %v", err)
	}
	if _, _, _, err := svc.PlaceOrder(ctx, nil); apierr.StatusOf(err) != 404 {
		t.Fatalf("PlaceOrder: expected 404, got %v", err)
	}
	if _, _, err := svc.RegisterForEvent(ctx, "E1"); apierr.StatusOf(err) != 404 {
		t.Fatalf("RegisterForEvent: expected 404, got %v", err)
	}
	if _, err := svc.ReplaceCart(ctx, json.RawMessage(`[]`)); apierr.StatusOf(err) != 404 {
		t.Fatalf("ReplaceCart: expected 404, got %v", err)
	}
}

func TestOperationsRequireIdentity(t *testing.T) {
	svc, _, _, _ := newTestService(t)
	ctx := context.Background()

	checks := []struct {
		name string
		call func() error
	}{
		{"GetState", func() error { _, err := svc.GetState(ctx); return err }},
		{"ReplaceCart", func() error { _, err := svc.ReplaceCart(ctx, json.RawMessage(`[]`)); return err }},
		{"ReplaceWishlist", func() error { _, err := svc.ReplaceWishlist(ctx, json.RawMessage(`[]`)); return err }},
		{"RegisterForEvent", func() error { _, _, err := svc.RegisterForEvent(ctx, "E1"); return err }},
		{"PlaceOrder", func() error { _, _, _, err := svc.PlaceOrder(ctx, nil); return err }},
	}
	for _, check := range checks {
		t.Run(check.name, func(t *testing.T) {
			err := check.call()
			var ae *apierr.Error
			if !errors.As(err, &ae) || ae.Code != apierr.CodeUnauthorized {
				t.Fatalf("expected unauthorized, got %v", err)
			}
		})
	}
}

type fakeCache struct {
	views map[uuid.UUID]*types.UserStateView
	hits  int
}

func newFakeCache() *fakeCache {
	return &fakeCache{views: map[uuid.UUID]*types.UserStateView{}}
}

func (fc *fakeCache) GetView(_ context.Context, userID uuid.UUID) (*types.UserStateView, bool) {
	view, ok := fc.views[userID]
	if ok {
		fc.hits++
	}
	return view, ok
}

func (fc *fakeCache) SetView(_ context.Context, userID uuid.UUID, view *types.UserStateView) {
	fc.views[userID] = view
}

func (fc *fakeCache) Invalidate(_ context.Context, userID uuid.UUID) {
	delete(fc.views, userID)
}

func TestGetStateCacheReadThroughAndInvalidation(t *testing.T) {
	gormDB := testDB(t)
	log := testLogger()
	userRepo := repos.NewUserRepo(gormDB, log)
	cache := newFakeCache()
	svc := NewUserStateService(gormDB, log, userRepo, cache)
	user := seedUser(t, gormDB)
	ctx := requestdata.WithRequestData(context.Background(), &requestdata.RequestData{UserID: user.ID})

	if _, err := svc.GetState(ctx); err != nil {
		t.Fatalf("first GetState: %v", err)
	}
	if _, err := svc.GetState(ctx); err != nil {
		t.Fatalf("second GetState: %v", err)
	}
	if cache.hits != 1 {
		t.Fatalf("cache hits: got=%d want=1", cache.hits)
	}

	if _, err := svc.ReplaceCart(ctx, json.RawMessage(`[{"id":"a","price":5}]`)); err != nil {
		t.Fatalf("ReplaceCart: %v", err)
	}
	view, err := svc.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState after mutation: %v", err)
	}
	var cart []map[string]interface{}
	if err := json.Unmarshal(view.Cart, &cart); err != nil {
		t.Fatalf("decode cart: %v", err)
	}
	if len(cart) != 1 {
		t.Fatal("mutation served stale cache entry")
	}
}
