package lnurl

// PayConfig is the LNURL-pay discovery response (LUD-06, NIP-57 fields).
// Metadata is the JSON-serialized metadata array, itself a string field.
type PayConfig struct {
	Callback       string  `json:"callback"`
	MaxSendable    uint64  `json:"maxSendable"`
	MinSendable    uint64  `json:"minSendable"`
	Metadata       string  `json:"metadata"`
	Tag            string  `json:"tag"`
	CommentAllowed *uint64 `json:"commentAllowed,omitempty"`
	AllowsNostr    bool    `json:"allowsNostr"`
	NostrPubkey    string  `json:"nostrPubkey,omitempty"`
}

// PayResponse is the invoice callback response.
type PayResponse struct {
	PR     string   `json:"pr"`
	Routes []string `json:"routes"`
}

// ErrorResponse is the LNURL error envelope.
type ErrorResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

// NewError builds the standard LNURL error envelope.
func NewError(reason string) ErrorResponse {
	return ErrorResponse{Status: "ERROR", Reason: reason}
}
