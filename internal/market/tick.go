package market

// Tick is one raw price observation for an asset. Ask and Bid fall back to
// Price when the upstream omits quotes.
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	Ask    float64 `json:"ask"`
	Bid    float64 `json:"bid"`
}
