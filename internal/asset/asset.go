// Package asset classifies symbols into asset classes from static membership
// tables. Tables are built once and never mutated afterwards.
package asset

import (
	"fmt"
	"strings"
)

// Class is the category of an instrument; it drives provider routing and
// symbol translation.
type Class string

const (
	Fiat      Class = "FIAT"
	Crypto    Class = "CRYPTO"
	Metal     Class = "METAL"
	Commodity Class = "COMMODITY"
	Index     Class = "INDEX"
	ForexPair Class = "FOREX_PAIR"
	Equity    Class = "EQUITY"
	ETF       Class = "ETF"
)

// Quote is the currency every single-asset leg is denominated in.
const Quote = "USD"

// Lists is the configurable form of the membership tables.
type Lists struct {
	Fiat        []string `yaml:"fiat" json:"fiat"`
	Crypto      []string `yaml:"crypto" json:"crypto"`
	Metals      []string `yaml:"metals" json:"metals"`
	Commodities []string `yaml:"commodities" json:"commodities"`
	Indices     []string `yaml:"indices" json:"indices"`
	ForexPairs  []string `yaml:"forex_pairs" json:"forex_pairs"`
	ETFs        []string `yaml:"etfs" json:"etfs"`
	Equities    []string `yaml:"equities" json:"equities"`
}

// DefaultLists mirrors the instrument universe the fetcher ships with.
func DefaultLists() Lists {
	return Lists{
		Fiat: []string{"USD", "EUR", "LYD", "GBP", "JPY", "AUD", "CAD", "CHF", "CNY", "HKD", "NZD",
			"SAR", "AED", "EGP", "TRY", "ZAR", "RUB", "INR", "BRL", "MXN", "SGD"},
		Crypto: []string{"BTC", "ETH", "USDT", "XRP", "BNB", "ADA", "SOL", "DOT", "DOGE", "MATIC",
			"LTC", "SHIB", "AVAX", "UNI", "LINK", "XLM", "BCH", "ATOM", "CRO", "FIL"},
		Metals:      []string{"XAU", "XAG", "XPT", "XPD", "HG"},
		Commodities: []string{"CL", "NG", "BZ", "HO", "RB", "ZC", "ZS", "KE", "ZW", "CC", "CT", "KC", "SB", "JO", "LBS"},
		Indices:     []string{"^GSPC", "^DJI", "^IXIC", "^FTSE", "^GDAXI", "^FCHI", "^N225", "^HSI", "^TNX", "^VIX"},
		ForexPairs: []string{
			"EURUSD", "GBPUSD", "USDJPY", "AUDUSD", "USDCAD", "USDCHF", "NZDUSD",
			"EURGBP", "EURJPY", "GBPJPY", "AUDJPY", "CADJPY", "CHFJPY", "EURAUD",
			"EURCHF", "GBPAUD", "GBPCAD", "GBPCHF", "AUDCAD", "AUDCHF", "CADCHF",
			"USDSAR", "USDAED", "USDEGP", "USDTRY", "USDZAR", "USDRUB", "USDINR",
		},
		ETFs: []string{"SPY", "QQQ", "IWM", "DIA", "VTI", "VEA", "VWO", "AGG", "BND", "VNQ",
			"GLD", "SLV", "XLE", "XLF", "XLK", "XLV", "XLY", "XLP"},
		Equities: []string{"AAPL", "MSFT", "GOOGL", "AMZN", "TSLA", "META", "NVDA", "NFLX", "PYPL", "INTC",
			"JNJ", "V", "PG", "JPM", "WMT", "DIS", "BAC", "PFE", "KO", "MRK"},
	}
}

// Tables is the immutable lookup built from Lists.
type Tables struct {
	classOf map[string]Class
	members map[Class][]string
}

// classOrder decides which class wins when a symbol is listed twice.
var classOrder = []Class{ForexPair, Crypto, Fiat, Metal, Commodity, Index, ETF, Equity}

// NewTables validates and freezes the lists. Empty lists fall back to the
// defaults for that class.
func NewTables(l Lists) (*Tables, error) {
	def := DefaultLists()
	pick := func(v, fallback []string) []string {
		if len(v) == 0 {
			return fallback
		}
		return v
	}
	byClass := map[Class][]string{
		Fiat:      pick(l.Fiat, def.Fiat),
		Crypto:    pick(l.Crypto, def.Crypto),
		Metal:     pick(l.Metals, def.Metals),
		Commodity: pick(l.Commodities, def.Commodities),
		Index:     pick(l.Indices, def.Indices),
		ForexPair: pick(l.ForexPairs, def.ForexPairs),
		ETF:       pick(l.ETFs, def.ETFs),
		Equity:    pick(l.Equities, def.Equities),
	}

	t := &Tables{classOf: map[string]Class{}, members: map[Class][]string{}}
	for _, c := range classOrder {
		for _, raw := range byClass[c] {
			s := Normalize(raw)
			if s == "" {
				return nil, fmt.Errorf("asset: empty symbol in %s list", c)
			}
			if c == ForexPair && len(s) != 6 {
				return nil, fmt.Errorf("asset: forex pair %q must be six letters", raw)
			}
			t.members[c] = append(t.members[c], s)
			if _, dup := t.classOf[s]; !dup {
				t.classOf[s] = c
			}
		}
	}
	return t, nil
}

// MustDefaultTables returns tables built from DefaultLists.
func MustDefaultTables() *Tables {
	t, err := NewTables(DefaultLists())
	if err != nil {
		panic(err)
	}
	return t
}

// Normalize upper-cases and trims a symbol.
func Normalize(s string) string { return strings.ToUpper(strings.TrimSpace(s)) }

// Classify returns the asset class of a symbol. Unlisted six-letter symbols
// made of two listed fiat codes are forex pairs; anything else unlisted is
// treated as an equity.
func (t *Tables) Classify(symbol string) Class {
	s := Normalize(symbol)
	if c, ok := t.classOf[s]; ok {
		return c
	}
	if base, quote, ok := t.SplitPair(s); ok && base != quote {
		return ForexPair
	}
	return Equity
}

// Known reports whether the symbol appears in any list.
func (t *Tables) Known(symbol string) bool {
	_, ok := t.classOf[Normalize(symbol)]
	return ok
}

// SplitPair splits a six-letter symbol into two fiat codes.
func (t *Tables) SplitPair(symbol string) (base, quote string, ok bool) {
	s := Normalize(symbol)
	if len(s) != 6 {
		return "", "", false
	}
	base, quote = s[:3], s[3:]
	if t.classOf[base] != Fiat || t.classOf[quote] != Fiat {
		return "", "", false
	}
	return base, quote, true
}

// Members returns a copy of the symbols listed under class c.
func (t *Tables) Members(c Class) []string {
	out := make([]string, len(t.members[c]))
	copy(out, t.members[c])
	return out
}
