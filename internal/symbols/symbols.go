// Package symbols maps between raw exchange codes and suffixed symbols.
package symbols

// Symbol maps a stock code to its exchange-suffixed symbol. Six-digit codes
// are suffixed by prefix rules (51/50/60 → .XSHG, 00/15/16/30 → .XSHE);
// eight-character sz/sh codes are re-mapped to the six-digit suffixed form.
// Anything else passes through unchanged.
func Symbol(code string) string {
	switch len(code) {
	case 6:
		switch code[:2] {
		case "51", "50", "60":
			return code + ".XSHG"
		case "00", "15", "16", "30":
			return code + ".XSHE"
		}
	case 8:
		switch code[:2] {
		case "sz":
			return code[2:8] + ".XSHE"
		case "sh":
			return code[2:8] + ".XSHG"
		}
	}
	return code
}

// Code strips known prefixes and suffixes from a symbol by length: 6 chars
// pass through, 8 chars drop the leading two, 11 chars keep the first six.
func Code(symbol string) string {
	switch len(symbol) {
	case 6:
		return symbol
	case 8:
		return symbol[2:]
	case 11:
		return symbol[:6]
	default:
		return symbol
	}
}
