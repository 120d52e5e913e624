package symbols

import "strings"

// ToCanonical converts exchange-specific pair formats to the canonical
// BASE-QUOTE form, uppercase with a dash separator and BTC instead of XBT.
// Currently supported exchanges: coinbase, kraken.
func ToCanonical(exchange, pair string) string {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	switch strings.ToLower(exchange) {
	case "coinbase":
		// already BASE-QUOTE
	case "kraken":
		pair = strings.ReplaceAll(pair, "/", "-")
		if strings.HasPrefix(pair, "XBT") {
			pair = "BTC" + pair[3:]
		}
		pair = strings.Replace(pair, "-XBT", "-BTC", 1)
	default:
		pair = strings.ReplaceAll(pair, "/", "-")
	}
	return pair
}

// ToKraken converts a canonical pair back to Kraken's slash separated form
// with XBT instead of BTC, as expected by the subscription API.
func ToKraken(pair string) string {
	pair = strings.ToUpper(strings.TrimSpace(pair))
	if strings.HasPrefix(pair, "BTC") {
		pair = "XBT" + pair[3:]
	}
	pair = strings.Replace(pair, "-BTC", "-XBT", 1)
	return strings.ReplaceAll(pair, "-", "/")
}
