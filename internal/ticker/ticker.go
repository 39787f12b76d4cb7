// Package ticker handles symbol ticker validation and mapping exchange
// suffixes onto chart-widget symbols.
package ticker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// tickerRegex matches a base symbol with an optional exchange suffix.
// Examples: AAPL, BRK.B, 6503.T, VOW3.DE
var tickerRegex = regexp.MustCompile(`^([A-Z0-9][A-Z0-9\-]{0,14})(?:\.([A-Z]{1,3}))?$`)

var tokyoBase = regexp.MustCompile(`^\d+$`)
var londonBase = regexp.MustCompile(`^[A-Z]+$`)

// ErrInvalidTicker is returned for a ticker that does not parse.
var ErrInvalidTicker = errors.New("ticker: invalid format")

// Exchange describes a suffix the chart widget understands.
type Exchange struct {
	Prefix    string
	Supported bool
}

// exchanges maps ticker suffixes to chart prefixes. Tokyo and London have
// no coverage in the free widget.
var exchanges = map[string]Exchange{
	"T":  {Prefix: "TSE", Supported: false},
	"L":  {Prefix: "LSE", Supported: false},
	"DE": {Prefix: "XETRA", Supported: true},
	"PA": {Prefix: "EURONEXT", Supported: true},
	"AX": {Prefix: "ASX", Supported: true},
	"TO": {Prefix: "TSX", Supported: true},
	"NS": {Prefix: "NSE", Supported: true},
}

// Ticker is a parsed ticker.
type Ticker struct {
	Symbol string `json:"symbol"`
	Base   string `json:"base"`
	Suffix string `json:"suffix,omitempty"`
}

// Parse normalizes s to upper case and validates it.
func Parse(s string) (*Ticker, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	m := tickerRegex.FindStringSubmatch(sym)
	if m == nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTicker, s)
	}
	return &Ticker{Symbol: sym, Base: m[1], Suffix: m[2]}, nil
}

// ChartSymbol returns the EXCHANGE:BASE form for known suffixes and the
// ticker unchanged otherwise. US tickers carry no suffix.
func (t *Ticker) ChartSymbol() string {
	ex, ok := exchanges[t.Suffix]
	if !ok {
		return t.Symbol
	}
	switch t.Suffix {
	case "T":
		if !tokyoBase.MatchString(t.Base) {
			return t.Symbol
		}
	case "L":
		if !londonBase.MatchString(t.Base) {
			return t.Symbol
		}
	}
	return ex.Prefix + ":" + t.Base
}

// ChartSupported reports whether the free chart widget covers the ticker.
func (t *Ticker) ChartSupported() bool {
	if ex, ok := exchanges[t.Suffix]; ok {
		return ex.Supported
	}
	return true
}

// ChartSymbol parses s and maps it, returning s unchanged when it does not
// parse.
func ChartSymbol(s string) string {
	t, err := Parse(s)
	if err != nil {
		return s
	}
	return t.ChartSymbol()
}
