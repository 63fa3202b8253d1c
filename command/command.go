package command

import (
	"math/big"
	"regexp"
	"strings"
)

// payPattern recognises a case-insensitive /pay trigger followed by an
// unsigned decimal amount. Trailing text after the number (including a unit
// suffix such as "sol") is ignored.
var payPattern = regexp.MustCompile(`(?i)/pay\s+(\d+(?:\.\d+)?)`)

// Pay is an authorization intent extracted from free-form comment text.
type Pay struct {
	// Amount is the normalised decimal amount, always positive.
	Amount string
}

// ParsePay scans text for a /pay command and returns the extracted intent.
// When a comment contains multiple /pay occurrences only the first one is
// honoured. A match with a non-positive amount is treated as no command.
func ParsePay(text string) (Pay, bool) {
	match := payPattern.FindStringSubmatch(text)
	if match == nil {
		return Pay{}, false
	}
	amount := normaliseAmount(match[1])
	if amount == "" {
		return Pay{}, false
	}
	return Pay{Amount: amount}, true
}

// normaliseAmount strips redundant leading zeros and rejects non-positive
// values. It returns "" when the amount is not a usable positive decimal.
func normaliseAmount(raw string) string {
	value, ok := new(big.Rat).SetString(raw)
	if !ok || value.Sign() <= 0 {
		return ""
	}
	intPart, fracPart, hasFrac := strings.Cut(raw, ".")
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	if !hasFrac {
		return intPart
	}
	fracPart = strings.TrimRight(fracPart, "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}
