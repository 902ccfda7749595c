package broker

import "time"

// CreateOperationRequest opens a binary bet. Monetary values travel as
// integer USD cents; duration in milliseconds.
type CreateOperationRequest struct {
	ID                   string `json:"id"`
	Direction            string `json:"direction"`
	BetValueUSDCents     int64  `json:"bet_value_usd_cents"`
	DurationMilliseconds int64  `json:"duration_milliseconds"`
	StartTimeUTC         string `json:"start_time_utc"`
	TickerSymbol         string `json:"ticker_symbol"`
	AccountType          string `json:"account_type"`
	Currency             string `json:"currency"`
}

type createOperationResponse struct {
	ID string `json:"id"`
}

// OperationStatus is the authoritative settlement record. Status becomes
// "processed" once settled; Result is then "gain" or "loss" in whatever
// casing the backend felt like that day.
type OperationStatus struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Result         string `json:"result"`
	ProfitUSDCents int64  `json:"profit_usd_cents"`
}

type balanceResponse struct {
	Balance  float64 `json:"balance"`
	Currency string  `json:"currency"`
}

// Bar is one historical OHLC bar as served by the candles endpoint.
type Bar struct {
	TimeStamp string  `json:"time_stamp"`
	Symbol    string  `json:"symbol"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    float64 `json:"volume"`
}

// Unix converts the bar's ISO timestamp to unix seconds. Zero on parse
// failure.
func (b Bar) Unix() int64 {
	t, err := time.Parse(time.RFC3339, b.TimeStamp)
	if err != nil {
		return 0
	}
	return t.Unix()
}

type historyResponse struct {
	Values []Bar `json:"values"`
}

// Asset describes a tradable instrument and its betting constraints.
type Asset struct {
	ID                    string  `json:"id"`
	Symbol                string  `json:"symbol"`
	Name                  string  `json:"name"`
	IsActive              bool    `json:"is_active"`
	ProfitPayout          float64 `json:"profit_payout"`
	MinTradeValue         float64 `json:"min_trade_value"`
	MaxTradeValue         float64 `json:"max_trade_value"`
	BetTimeSecondsOptions []int64 `json:"bet_time_seconds_options"`
}

type assetsResponse struct {
	Results []Asset `json:"results"`
}
