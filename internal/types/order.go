package types

import "encoding/json"

const OrderStatusPlaced = "PLACED"

// Order is an immutable record appended to the user's order history at
// placement time. Items is the snapshot of the line items exactly as they
// were in the source collection; Total is computed once at placement and
// never recalculated.
type Order struct {
	ID       string          `json:"id"`
	Items    json.RawMessage `json:"items"`
	Total    float64         `json:"total"`
	PlacedAt int64           `json:"placedAt"`
	Status   string          `json:"status"`
}
