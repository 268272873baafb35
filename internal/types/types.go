// README: Common value objects shared across modules.
package types

// ID is an opaque identifier for users, workers, and requests.
type ID string

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Money is an integer amount in the smallest unit of the currency.
// XOF has no subunits, so Amount is whole francs.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// XOF wraps an amount in the platform currency.
func XOF(amount int64) Money {
	return Money{Amount: amount, Currency: "XOF"}
}
