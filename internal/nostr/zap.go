package nostr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// NIP-57 event kinds
const (
	KindZapRequest = 9734
	KindZapReceipt = 9735
)

// Zap request protocol violations. Wrapped with context by VerifyZapRequest;
// match with errors.Is.
var (
	ErrWrongKind      = errors.New("zap request has wrong kind")
	ErrNoTags         = errors.New("zap request must have tags")
	ErrAmountMismatch = errors.New("zap request amount does not match query amount")
	ErrTooManyETags   = errors.New("zap request must have 0 or 1 e tags")
	ErrMissingPTag    = errors.New("zap request must have exactly one p tag")
	ErrTooManyPTags   = errors.New("zap request must have exactly one p tag")
	ErrTooManyBigP    = errors.New("zap request has too many P tags")
	ErrInvalidBigP    = errors.New("invalid pubkey in P tag")
	ErrBigPMismatch   = errors.New("P tag must be equal to the zap request pubkey")
	ErrInvalidACoord  = errors.New("invalid a tag coordinate")
	ErrMissingRelays  = errors.New("zap request must have a relays tag")
	ErrMissingValue   = errors.New("missing tag value")
)

// VerifyZapRequest checks an already signature-verified event against the
// NIP-57 zap request rules, given the amount the caller requested in the
// invoice query. The verdict is independent of tag order; the first
// violation found aborts the check.
func VerifyZapRequest(evt *Event, amountMsat uint64) error {
	if evt.Kind != KindZapRequest {
		return fmt.Errorf("%w: %d", ErrWrongKind, evt.Kind)
	}
	if len(evt.Tags) == 0 {
		return ErrNoTags
	}

	var (
		eTag      bool
		pTag      bool
		relaysTag bool
		bigP      string
	)
	for _, tag := range evt.Tags {
		if len(tag) == 0 {
			continue
		}
		switch tag[0] {
		case "amount":
			if len(tag) < 2 {
				return fmt.Errorf("%w in amount tag", ErrMissingValue)
			}
			zapAmount, err := strconv.ParseUint(tag[1], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid amount tag value: %w", err)
			}
			if zapAmount != amountMsat {
				return fmt.Errorf("%w: %d!=%d", ErrAmountMismatch, amountMsat, zapAmount)
			}
		case "relays":
			if len(tag) >= 2 {
				relaysTag = true
			}
		case "a":
			if len(tag) < 2 {
				return fmt.Errorf("%w in a tag", ErrMissingValue)
			}
			if err := validateACoordinate(tag[1]); err != nil {
				return err
			}
		case "e":
			if eTag {
				return ErrTooManyETags
			}
			eTag = true
		case "p":
			if pTag {
				return ErrTooManyPTags
			}
			pTag = true
		case "P":
			if bigP != "" {
				return ErrTooManyBigP
			}
			if len(tag) < 2 {
				return fmt.Errorf("%w in P tag", ErrMissingValue)
			}
			if !isPubKeyHex(tag[1]) {
				return fmt.Errorf("%w: %q", ErrInvalidBigP, tag[1])
			}
			bigP = tag[1]
		}
	}

	if !pTag {
		return ErrMissingPTag
	}
	if bigP != "" && bigP != evt.PubKey {
		return ErrBigPMismatch
	}
	if !relaysTag {
		return ErrMissingRelays
	}
	return nil
}

// validateACoordinate checks a parameterized-replaceable-event coordinate
// of the form kind:pubkey[:identifier].
func validateACoordinate(coord string) error {
	parts := strings.Split(coord, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return fmt.Errorf("%w: %q", ErrInvalidACoord, coord)
	}
	if _, err := strconv.ParseUint(parts[0], 10, 16); err != nil {
		return fmt.Errorf("%w: invalid kind %q", ErrInvalidACoord, parts[0])
	}
	if !isPubKeyHex(parts[1]) {
		return fmt.Errorf("%w: invalid pubkey %q", ErrInvalidACoord, parts[1])
	}
	return nil
}

func isPubKeyHex(s string) bool {
	return len(s) == 64 && isHex(s)
}

// BuildZapReceipt constructs an unsigned kind 9735 receipt for a settled
// zap invoice. requestJSON is the zap request exactly as it appeared in
// the invoice description; it is carried verbatim in the description tag
// so wallets can check the description hash. paidAt stamps created_at
// when nonzero. preimage may be empty.
func BuildZapReceipt(bolt11, preimage string, request *Event, requestJSON string, paidAt int64) *Event {
	tags := [][]string{}
	if p := request.TagValue("p"); p != "" {
		tags = append(tags, []string{"p", p})
	}
	tags = append(tags, []string{"P", request.PubKey})
	if e := request.TagValue("e"); e != "" {
		tags = append(tags, []string{"e", e})
	}
	if a := request.TagValue("a"); a != "" {
		tags = append(tags, []string{"a", a})
	}
	tags = append(tags, []string{"bolt11", bolt11})
	tags = append(tags, []string{"description", requestJSON})
	if preimage != "" {
		tags = append(tags, []string{"preimage", preimage})
	}

	return &Event{
		CreatedAt: paidAt,
		Kind:      KindZapReceipt,
		Tags:      tags,
		Content:   "",
	}
}
