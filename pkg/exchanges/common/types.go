package common

import (
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Side denotes order side.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"SELL" style input.
func ParseSide(s string) (Side, bool) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, true
	case SideSell:
		return SideSell, true
	}
	return "", false
}

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderType denotes the order types this module places.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// TimeInForce captures TIF semantics.
type TimeInForce string

const (
	TIFGTC TimeInForce = "GTC" // Good Till Cancelled
	TIFIOC TimeInForce = "IOC" // Immediate Or Cancel
)

// Raw Binance order statuses.
const (
	StatusNew             = "NEW"
	StatusPartiallyFilled = "PARTIALLY_FILLED"
	StatusFilled          = "FILLED"
	StatusCanceled        = "CANCELED"
)

// Order is a resting order as reported by the exchange. Numeric fields keep
// the exchange's decimal strings.
type Order struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId,omitempty"`
	Side          Side   `json:"side"`
	Type          string `json:"type"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Time          int64  `json:"time"`
}

func (o Order) PriceDecimal() decimal.Decimal    { return ParseDecimal(o.Price) }
func (o Order) QuantityDecimal() decimal.Decimal { return ParseDecimal(o.OrigQty) }
func (o Order) PriceFloat() float64              { return o.PriceDecimal().InexactFloat64() }
func (o Order) QuantityFloat() float64           { return o.QuantityDecimal().InexactFloat64() }

// Trade is an account fill (myTrades).
type Trade struct {
	ID              int64  `json:"id"`
	Symbol          string `json:"symbol"`
	OrderID         int64  `json:"orderId"`
	Price           string `json:"price"`
	Qty             string `json:"qty"`
	QuoteQty        string `json:"quoteQty"`
	Commission      string `json:"commission"`
	CommissionAsset string `json:"commissionAsset"`
	Time            int64  `json:"time"`
	IsBuyer         bool   `json:"isBuyer"`
	IsMaker         bool   `json:"isMaker"`
}

// Side derives the account's side of the fill.
func (t Trade) Side() Side {
	if t.IsBuyer {
		return SideBuy
	}
	return SideSell
}

func (t Trade) PriceDecimal() decimal.Decimal      { return ParseDecimal(t.Price) }
func (t Trade) QuantityDecimal() decimal.Decimal   { return ParseDecimal(t.Qty) }
func (t Trade) CommissionDecimal() decimal.Decimal { return ParseDecimal(t.Commission) }

// NewOrder is the exchange acknowledgement of a placed order.
type NewOrder struct {
	Symbol        string `json:"symbol"`
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	TransactTime  int64  `json:"transactTime"`
	Price         string `json:"price"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Status        string `json:"status"`
	Type          string `json:"type"`
	Side          Side   `json:"side"`
}

// AccountInfo holds balances and permissions.
type AccountInfo struct {
	CanTrade   bool      `json:"canTrade"`
	UpdateTime int64     `json:"updateTime"`
	Balances   []Balance `json:"balances"`
}

// Balance represents an asset balance.
type Balance struct {
	Asset  string `json:"asset"`
	Free   string `json:"free"`
	Locked string `json:"locked"`
}

func (b Balance) FreeDecimal() decimal.Decimal   { return ParseDecimal(b.Free) }
func (b Balance) LockedDecimal() decimal.Decimal { return ParseDecimal(b.Locked) }
func (b Balance) Total() decimal.Decimal         { return b.FreeDecimal().Add(b.LockedDecimal()) }

// Balance returns the named asset, or an empty balance when the account holds none.
func (a AccountInfo) Balance(asset string) Balance {
	for _, b := range a.Balances {
		if b.Asset == asset {
			return b
		}
	}
	return Balance{Asset: asset, Free: "0", Locked: "0"}
}

// ParseDecimal parses an exchange numeric string. Malformed input yields zero.
func ParseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return decimal.Zero
	}
	return d
}

// FormatFloat renders v without exponent for request parameters.
func FormatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
