package lnurl

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Metadata is the LNURL-pay metadata array: a list of [mime-type, value]
// pairs, serialized as a JSON string inside the pay config and hashed
// into the invoice description.
type Metadata [][]string

// JSON serializes the metadata array without HTML escaping. The same
// string is served in the pay config and hashed into the invoice
// description, so the two must be byte-identical.
func (m Metadata) JSON() string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(m)
	return strings.TrimSuffix(buf.String(), "\n")
}

// DefaultMetadata is the metadata for the anonymous pay endpoint.
func DefaultMetadata(description string) Metadata {
	return Metadata{{"text/plain", description}}
}

// UserMetadata builds the metadata array for a directory user. The
// description falls back to defaultDescription when the user has none.
// isEmail selects text/email over text/identifier for the address entry;
// unset means identifier. host must include the port when non-standard.
func UserMetadata(user string, description *string, isEmail *bool, defaultDescription, host string) Metadata {
	desc := defaultDescription
	if description != nil {
		desc = *description
	}
	md := Metadata{{"text/plain", desc}}

	addrKind := "text/identifier"
	if isEmail != nil && *isEmail {
		addrKind = "text/email"
	}
	md = append(md, []string{addrKind, user + "@" + host})
	return md
}
