package chain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

const nativeDecimals = 18

// ToWei converts a native-token amount ("1.5" MATIC) to wei. Digits past the
// 18th decimal are truncated.
func ToWei(amount decimal.Decimal) (*big.Int, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("chain: amount must be positive, got %s", amount)
	}
	wei := amount.Shift(nativeDecimals).Truncate(0)
	if !wei.IsPositive() {
		return nil, fmt.Errorf("chain: amount %s is below one wei", amount)
	}
	return wei.BigInt(), nil
}

// ParseWei parses a decimal wei string as stored in the database.
func ParseWei(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, fmt.Errorf("chain: invalid wei amount %q", s)
	}
	return v, nil
}

// FormatEther renders wei as a native-token decimal string.
func FormatEther(wei *big.Int) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -nativeDecimals).String()
}
