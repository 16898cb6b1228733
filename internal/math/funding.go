package math

// ComputeFundingPayment returns the signed funding payment for a position.
//
// positionValue = size * indexPrice / 1e6
// payment       = positionValue * rate / 1e6, sign-flipped for shorts.
//
// A positive result means the position pays; negative means it receives.
// With a positive rate, longs pay and shorts receive.
func ComputeFundingPayment(size, indexPrice, rate, sideSign int64) (int64, error) {
	positionValue, err := MulE6(size, indexPrice)
	if err != nil {
		return 0, err
	}

	payment, err := MulE6(positionValue, rate)
	if err != nil {
		return 0, err
	}

	return Mul(payment, sideSign)
}
