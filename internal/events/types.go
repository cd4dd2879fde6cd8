package events

import "time"

// Event enumerates topics published inside the process.
type Event string

const (
	EventTrailingRepriced Event = "trailing.repriced"
	EventTrailingRemoved  Event = "trailing.removed"
	EventOrderFilled      Event = "order.filled"
	EventNotification     Event = "notification"
)

// StreamTopics are forwarded to websocket clients.
var StreamTopics = []Event{EventTrailingRepriced, EventTrailingRemoved, EventOrderFilled, EventNotification}

// Envelope tags a payload with its topic.
type Envelope struct {
	Type    Event `json:"type"`
	Payload any   `json:"payload"`
}

// TrailingRepriced is published after an exchange accepted a new price.
type TrailingRepriced struct {
	TrailingID     string    `json:"trailing_id"`
	OldOrderID     int64     `json:"old_order_id"`
	NewOrderID     int64     `json:"new_order_id"`
	Side           string    `json:"side"`
	OldPrice       float64   `json:"old_price"`
	NewPrice       float64   `json:"new_price"`
	ReferencePrice float64   `json:"reference_price"`
	MarketPrice    float64   `json:"market_price"`
	At             time.Time `json:"at"`
}

// TrailingRemoved is published when an entry leaves the registry.
type TrailingRemoved struct {
	TrailingID string    `json:"trailing_id"`
	OrderID    int64     `json:"order_id"`
	Side       string    `json:"side"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}

// Removal reasons.
const (
	ReasonUnknownOrder = "order_gone"
	ReasonUser         = "user_stopped"
	ReasonOrderChanged = "order_changed"
)

// OrderFilled is published for every trade the fill monitor reports.
type OrderFilled struct {
	TradeID  int64     `json:"trade_id"`
	OrderID  int64     `json:"order_id"`
	Side     string    `json:"side"`
	Price    float64   `json:"price"`
	Quantity float64   `json:"quantity"`
	At       time.Time `json:"at"`
}

// Notification mirrors a push message for stream clients.
type Notification struct {
	Title string    `json:"title"`
	Body  string    `json:"body"`
	At    time.Time `json:"at"`
}
