package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// User is the per-identity aggregate and the sole unit of consistency.
// Cart, wishlist and order history live as jsonb columns on the single row so
// that multi-field mutations (notably order placement) commit in one UPDATE.
//
// Cart and wishlist are stored verbatim as the caller sent them; only the
// outer array shape is validated at the boundary. Events is a set of event
// ids kept duplicate-free by the service.
type User struct {
	ID        uuid.UUID                   `gorm:"type:uuid;primaryKey" json:"id"`
	Email     string                      `gorm:"uniqueIndex;not null;column:email" json:"email"`
	Name      string                      `gorm:"not null;column:name" json:"name"`
	Verified  bool                        `gorm:"not null;default:false;column:verified" json:"verified"`
	Cart      datatypes.JSON              `gorm:"type:jsonb;column:cart" json:"cart"`
	Wishlist  datatypes.JSON              `gorm:"type:jsonb;column:wishlist" json:"wishlist"`
	Events    datatypes.JSONSlice[string] `gorm:"type:jsonb;column:events" json:"events"`
	Orders    datatypes.JSON              `gorm:"type:jsonb;column:orders" json:"orders"`
	CreatedAt time.Time                   `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time                   `gorm:"not null" json:"updated_at"`
}

func (User) TableName() string {
	return "user"
}

// UserStateView is the aggregate as returned to its owner: everything except
// credentials and bookkeeping timestamps.
type UserStateView struct {
	ID       uuid.UUID       `json:"id"`
	Name     string          `json:"name"`
	Email    string          `json:"email"`
	Verified bool            `json:"verified"`
	Cart     json.RawMessage `json:"cart"`
	Wishlist json.RawMessage `json:"wishlist"`
	Events   []string        `json:"events"`
	Orders   json.RawMessage `json:"orders"`
}
