// Package lnurl covers the LNURL-pay side of the bridge: amount bounds,
// the wallet-facing metadata array, wire types and LNURL bech32 encoding.
package lnurl

import "fmt"

// Bounds is the receivable amount window in millisatoshi, fixed at
// startup. Min <= Max is enforced by config validation.
type Bounds struct {
	Min uint64
	Max uint64
}

// AmountError reports a requested amount outside the configured bounds,
// carrying the violated bound for the wallet-facing reason string.
type AmountError struct {
	Requested uint64
	Bound     uint64
	Below     bool
}

func (e *AmountError) Error() string {
	if e.Below {
		return fmt.Sprintf("`amount` below minimum: %d<%d", e.Requested, e.Bound)
	}
	return fmt.Sprintf("`amount` above maximum: %d>%d", e.Requested, e.Bound)
}

// Validate checks a requested millisatoshi amount against the bounds.
func (b Bounds) Validate(amountMsat uint64) error {
	if amountMsat < b.Min {
		return &AmountError{Requested: amountMsat, Bound: b.Min, Below: true}
	}
	if amountMsat > b.Max {
		return &AmountError{Requested: amountMsat, Bound: b.Max}
	}
	return nil
}
