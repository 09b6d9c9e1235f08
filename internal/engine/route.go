package engine

import (
	"marketdata/internal/asset"
	"marketdata/internal/series"
)

// Provider names as registered with the engine.
const (
	Yahoo        = "yahoo"
	CoinGecko    = "coingecko"
	AlphaVantage = "alphavantage"
	TwelveData   = "twelvedata"
)

// Route returns the providers to try for a class and interval, best first.
// Keyed sources lead for sub-hourly FX because the chart API keeps little
// intraday history.
func Route(class asset.Class, iv series.Interval) []string {
	switch class {
	case asset.ForexPair:
		if iv.SubHourly() {
			return []string{TwelveData, AlphaVantage, Yahoo}
		}
		return []string{Yahoo, TwelveData, AlphaVantage}
	case asset.Crypto:
		return []string{CoinGecko, Yahoo, AlphaVantage, TwelveData}
	case asset.Fiat, asset.Metal:
		return []string{Yahoo, AlphaVantage, TwelveData}
	default:
		return []string{Yahoo, TwelveData, AlphaVantage}
	}
}
