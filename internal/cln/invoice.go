package cln

import (
	"context"
	"encoding/json"
	"strconv"
)

// AmountOrAny is the amount_msat argument of the invoice call: either a
// fixed millisatoshi amount or "any", letting the payer choose. The two
// shapes are enumerated explicitly rather than inferred.
type AmountOrAny struct {
	msat uint64
	any  bool
}

// Msat returns a fixed millisatoshi amount.
func Msat(amount uint64) AmountOrAny {
	return AmountOrAny{msat: amount}
}

// Any returns the payer-chooses-amount marker.
func Any() AmountOrAny {
	return AmountOrAny{any: true}
}

func (a AmountOrAny) MarshalJSON() ([]byte, error) {
	if a.any {
		return []byte(`"any"`), nil
	}
	return []byte(strconv.FormatUint(a.msat, 10)), nil
}

func (a *AmountOrAny) UnmarshalJSON(data []byte) error {
	if string(data) == `"any"` {
		*a = Any()
		return nil
	}
	var msat uint64
	if err := json.Unmarshal(data, &msat); err != nil {
		return err
	}
	*a = Msat(msat)
	return nil
}

// InvoiceRequest are the invoice call parameters the bridge uses.
// DescHashOnly keeps the description out of the bolt11 string; the
// watcher recovers it from the settlement notification instead.
type InvoiceRequest struct {
	AmountMsat   AmountOrAny `json:"amount_msat"`
	Description  string      `json:"description"`
	Label        string      `json:"label"`
	DescHashOnly bool        `json:"deschashonly"`
}

// InvoiceResponse is the subset of the invoice result the bridge reads.
type InvoiceResponse struct {
	Bolt11      string `json:"bolt11"`
	PaymentHash string `json:"payment_hash"`
	ExpiresAt   uint64 `json:"expires_at"`
}

// Invoice mints a new invoice.
func (c *Client) Invoice(ctx context.Context, req *InvoiceRequest) (*InvoiceResponse, error) {
	var resp InvoiceResponse
	if err := c.Call(ctx, "invoice", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PaymentNotification is the waitanyinvoice result for a settled invoice.
// PayIndex and PaidAt are pointers: old or foreign notifications may omit
// them and the watcher falls back accordingly.
type PaymentNotification struct {
	Label              string  `json:"label"`
	Description        string  `json:"description"`
	PaymentHash        string  `json:"payment_hash"`
	Status             string  `json:"status"`
	PayIndex           *uint64 `json:"pay_index,omitempty"`
	PaidAt             *uint64 `json:"paid_at,omitempty"`
	PaymentPreimage    string  `json:"payment_preimage,omitempty"`
	Bolt11             string  `json:"bolt11,omitempty"`
	AmountReceivedMsat uint64  `json:"amount_received_msat,omitempty"`
}

type waitAnyInvoiceRequest struct {
	LastPayIndex uint64  `json:"lastpay_index"`
	Timeout      *uint64 `json:"timeout,omitempty"`
}

// WaitAnyInvoice long-polls for the next settlement after lastPayIndex.
// No timeout is set: the call blocks until a payment occurs or ctx is
// cancelled.
func (c *Client) WaitAnyInvoice(ctx context.Context, lastPayIndex uint64) (*PaymentNotification, error) {
	var resp PaymentNotification
	req := waitAnyInvoiceRequest{LastPayIndex: lastPayIndex}
	if err := c.Call(ctx, "waitanyinvoice", &req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
