package ingest

import "strings"

// krakenAssetAliases maps our canonical base-asset codes to the codes
// Kraken's wire protocol still emits for certain legacy assets.
var krakenAssetAliases = map[string]string{
	"BTC": "XBT",
}

var krakenAssetAliasesReverse = invert(krakenAssetAliases)

func invert(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[v] = k
	}
	return out
}

// ToExchangeSymbol converts a canonical "BASE/QUOTE" display symbol (e.g.
// "BTC/USD") into the form the exchange expects on the wire ("XBT/USD").
func ToExchangeSymbol(display string) string {
	base, quote, ok := splitPair(display)
	if !ok {
		return display
	}
	if alias, ok := krakenAssetAliases[base]; ok {
		base = alias
	}
	return base + "/" + quote
}

// ToDisplaySymbol converts an exchange-wire symbol back into our canonical
// display form.
func ToDisplaySymbol(exchangeSymbol string) string {
	base, quote, ok := splitPair(exchangeSymbol)
	if !ok {
		return exchangeSymbol
	}
	if canon, ok := krakenAssetAliasesReverse[base]; ok {
		base = canon
	}
	return base + "/" + quote
}

func splitPair(symbol string) (base, quote string, ok bool) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	parts := strings.SplitN(symbol, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
