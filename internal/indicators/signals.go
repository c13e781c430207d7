package indicators

// Relation compares two aligned indicator values: +1 when a is above b,
// -1 when below, 0 when equal.
func Relation(a, b float64) int {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}

// RSIRecovery reports an oversold exit at the final bar: RSI rising from
// at-or-below the oversold line through it.
func RSIRecovery(rsi []float64, oversold float64) bool {
	n := len(rsi)
	return n >= 2 && rsi[n-2] <= oversold && rsi[n-1] > oversold
}

// RSIRollover reports an overbought exit at the final bar: RSI falling
// from at-or-above the overbought line through it.
func RSIRollover(rsi []float64, overbought float64) bool {
	n := len(rsi)
	return n >= 2 && rsi[n-2] >= overbought && rsi[n-1] < overbought
}
