// Package nostr implements the slice of the Nostr protocol the bridge
// needs: NIP-01 events with Schnorr signatures, zap request verification
// and zap receipt construction (NIP-57).
package nostr

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// Event represents a Nostr event (NIP-01)
type Event struct {
	ID        string     `json:"id"`
	PubKey    string     `json:"pubkey"`
	CreatedAt int64      `json:"created_at"`
	Kind      int        `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

var errMalformedEvent = errors.New("malformed event")

// ParseEvent decodes a serialized event and checks its structural fields.
// It does NOT verify the signature; use ValidateEventSignature for that.
func ParseEvent(data []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if len(evt.ID) != 64 || !isHex(evt.ID) {
		return nil, fmt.Errorf("%w: bad event id", errMalformedEvent)
	}
	if len(evt.PubKey) != 64 || !isHex(evt.PubKey) {
		return nil, fmt.Errorf("%w: bad pubkey", errMalformedEvent)
	}
	if len(evt.Sig) != 128 || !isHex(evt.Sig) {
		return nil, fmt.Errorf("%w: bad signature", errMalformedEvent)
	}
	return &evt, nil
}

// Serialize returns the JSON encoding of the event.
func (evt *Event) Serialize() string {
	b, _ := json.Marshal(evt)
	return string(b)
}

// ComputeID calculates the NIP-01 event ID:
// sha256 of [0, pubkey, created_at, kind, tags, content]
func (evt *Event) ComputeID() string {
	serialized := fmt.Sprintf(`[0,"%s",%d,%d,%s,%s]`,
		evt.PubKey,
		evt.CreatedAt,
		evt.Kind,
		mustJSON(evt.Tags),
		mustJSON(evt.Content),
	)
	hash := sha256.Sum256([]byte(serialized))
	return hex.EncodeToString(hash[:])
}

// Sign fills in PubKey, ID and Sig from the given key. CreatedAt is
// stamped with the current time when unset.
func (evt *Event) Sign(priv *btcec.PrivateKey) error {
	if priv == nil {
		return errors.New("sign event: no private key")
	}
	if evt.CreatedAt == 0 {
		evt.CreatedAt = time.Now().Unix()
	}
	if evt.Tags == nil {
		evt.Tags = [][]string{}
	}
	evt.PubKey = PubKeyHex(priv)
	evt.ID = evt.ComputeID()

	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	sig, err := schnorr.Sign(priv, idBytes)
	if err != nil {
		return fmt.Errorf("sign event: %w", err)
	}
	evt.Sig = hex.EncodeToString(sig.Serialize())
	return nil
}

// ValidateEventSignature verifies the Schnorr signature and that the ID
// matches the event contents.
func ValidateEventSignature(evt *Event) bool {
	if len(evt.Sig) != 128 || len(evt.PubKey) != 64 {
		return false
	}
	if evt.ComputeID() != evt.ID {
		return false
	}

	sigBytes, err := hex.DecodeString(evt.Sig)
	if err != nil {
		return false
	}
	pubKeyBytes, err := hex.DecodeString(evt.PubKey)
	if err != nil {
		return false
	}
	idBytes, err := hex.DecodeString(evt.ID)
	if err != nil {
		return false
	}

	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return false
	}
	pubKey, err := schnorr.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}

	return sig.Verify(idBytes, pubKey)
}

// TagValue returns the first value of the first tag with the given name,
// or "" if absent.
func (evt *Event) TagValue(name string) string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1]
		}
	}
	return ""
}

// Relays returns the relay URLs of the event's "relays" tag, nil if the
// tag is absent or empty.
func (evt *Event) Relays() []string {
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == "relays" {
			return tag[1:]
		}
	}
	return nil
}

// PubKeyHex returns the x-only public key of priv, hex encoded the way
// Nostr expects (no 02/03 prefix).
func PubKeyHex(priv *btcec.PrivateKey) string {
	return hex.EncodeToString(schnorr.SerializePubKey(priv.PubKey()))
}

// ParsePrivateKeyHex decodes a 32-byte hex private key.
func ParsePrivateKeyHex(s string) (*btcec.PrivateKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid private key hex: %w", err)
	}
	if len(b) != 32 {
		return nil, errors.New("private key must be 32 bytes")
	}
	priv, _ := btcec.PrivKeyFromBytes(b)
	return priv, nil
}

// ShortID truncates ID/pubkey to 12 chars for logging
func ShortID(id string) string {
	if len(id) >= 12 {
		return id[:12]
	}
	return id
}

func isHex(s string) bool {
	_, err := hex.DecodeString(s)
	return err == nil
}

// mustJSON marshals without HTML escaping: NIP-01 ID computation hashes
// the raw characters, so "&" must not become "\u0026".
func mustJSON(v interface{}) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
	return strings.TrimSuffix(buf.String(), "\n")
}
