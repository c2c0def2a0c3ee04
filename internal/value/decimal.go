package value

import (
	"fmt"
	"math/big"
	"strings"
)

// Add returns a + b. Plain decimal literals are added exactly, keeping the
// larger scale of the two operands (1.50 + 2 = 3.50). Literals written with
// an exponent fall back to float64 arithmetic.
func Add(a, b Value) (Value, error) {
	la, ok := a.Literal()
	if !ok {
		return Null, fmt.Errorf("value: add: left operand is %s, not a number", a.Kind())
	}
	lb, ok := b.Literal()
	if !ok {
		return Null, fmt.Errorf("value: add: right operand is %s, not a number", b.Kind())
	}

	ua, sa, okA := splitDecimal(la)
	ub, sb, okB := splitDecimal(lb)
	if !okA || !okB {
		fa, _ := a.Float64()
		fb, _ := b.Float64()
		sum, err := finiteFloat(fa + fb)
		if err != nil {
			return Null, fmt.Errorf("value: add %s + %s: %w", la, lb, err)
		}
		return sum, nil
	}

	scale := max(sa, sb)
	ua = rescale(ua, sa, scale)
	ub = rescale(ub, sb, scale)
	return Value{kind: KindNumber, str: formatDecimal(new(big.Int).Add(ua, ub), scale)}, nil
}

// splitDecimal parses a literal without exponent into its unscaled integer
// and scale: "-1.50" -> (-150, 2).
func splitDecimal(lit string) (*big.Int, int, bool) {
	if strings.ContainsAny(lit, "eE") {
		return nil, 0, false
	}
	intPart, frac, _ := strings.Cut(lit, ".")
	n, ok := new(big.Int).SetString(intPart+frac, 10)
	if !ok {
		return nil, 0, false
	}
	return n, len(frac), true
}

func rescale(n *big.Int, from, to int) *big.Int {
	if from == to {
		return n
	}
	factor := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(to-from)), nil)
	return new(big.Int).Mul(n, factor)
}

func formatDecimal(n *big.Int, scale int) string {
	neg := n.Sign() < 0
	digits := new(big.Int).Abs(n).String()
	if scale > 0 {
		if len(digits) <= scale {
			digits = strings.Repeat("0", scale-len(digits)+1) + digits
		}
		cut := len(digits) - scale
		digits = digits[:cut] + "." + digits[cut:]
	}
	if neg {
		return "-" + digits
	}
	return digits
}
