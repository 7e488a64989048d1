package postgres

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MoneyOID is the OID of the built-in money type.
const MoneyOID uint32 = 790

var moneyReplacer = strings.NewReplacer(",", "", "$", "")

// ParseMoney parses the text form of a money value, for example "$1,234.50"
// or "-$0.99", as an exact decimal.
func ParseMoney(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(moneyReplacer.Replace(strings.TrimSpace(s)))
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid money value %q: %w", s, err)
	}

	return d, nil
}

// DecodeMoney is the DecodeFunc for money columns. NULL decodes to nil,
// anything else to a decimal.Decimal.
func DecodeMoney(src []byte) (any, error) {
	if src == nil {
		return nil, nil
	}

	return ParseMoney(string(src))
}
