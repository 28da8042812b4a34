package cache

import (
	"net/url"
	"strings"
)

// Namespace names an artifact class. Each class shares the configured TTL.
type Namespace string

const (
	NamespacePrices     Namespace = "prices"
	NamespacePrediction Namespace = "prediction"
	NamespaceBacktest   Namespace = "backtest"
	NamespaceReport     Namespace = "report"
)

// Key identifies a cached artifact: its class, the symbol, and every
// parameter that changes the result, in a fixed order.
type Key struct {
	Namespace Namespace
	Symbol    string
	Params    []string
}

// NewKey builds a Key with the symbol upper-cased.
func NewKey(ns Namespace, symbol string, params ...string) Key {
	return Key{Namespace: ns, Symbol: strings.ToUpper(symbol), Params: params}
}

// String serialises the key as namespace:SYMBOL[:param...]. Components are
// query-escaped so a ':' inside a parameter cannot collide with another key.
func (k Key) String() string {
	var b strings.Builder
	b.WriteString(url.QueryEscape(string(k.Namespace)))
	b.WriteByte(':')
	b.WriteString(url.QueryEscape(k.Symbol))
	for _, p := range k.Params {
		b.WriteByte(':')
		b.WriteString(url.QueryEscape(p))
	}
	return b.String()
}
