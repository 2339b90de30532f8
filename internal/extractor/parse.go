package extractor

import (
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var numericToken = regexp.MustCompile(`\d+(?:\.\d+)?`)

var separatorStripper = strings.NewReplacer(
	",", "",
	"\u00a0", "",
	"\u202f", "",
	" ", "",
	"\t", "",
	"\n", "",
	"\r", "",
)

// ParsePrice extracts the first numeric token from text after dropping
// thousands separators and whitespace. Currency symbols fall outside the token.
func ParsePrice(text string) (decimal.Decimal, bool) {
	cleaned := separatorStripper.Replace(text)
	token := numericToken.FindString(cleaned)
	if token == "" {
		return decimal.Decimal{}, false
	}
	price, err := decimal.NewFromString(token)
	if err != nil || price.IsNegative() {
		return decimal.Decimal{}, false
	}
	return price, true
}
