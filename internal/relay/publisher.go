// Package relay publishes signed events to Nostr relays over ephemeral
// websocket connections: dial, EVENT, wait for the OK, hang up.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"clnaddress/internal/nostr"
)

const (
	defaultDialTimeout = 5 * time.Second
	defaultOkTimeout   = 10 * time.Second
)

// Publisher fans an event out to a list of relays. A failure on one
// relay never aborts the others.
type Publisher struct {
	DialTimeout time.Duration
	OkTimeout   time.Duration
}

// NewPublisher returns a publisher with default timeouts.
func NewPublisher() *Publisher {
	return &Publisher{DialTimeout: defaultDialTimeout, OkTimeout: defaultOkTimeout}
}

// Publish sends evt to every relay in the list and waits for each
// relay's OK. It returns an error only when no relay accepted the event;
// partial failures are logged.
func (p *Publisher) Publish(ctx context.Context, relays []string, evt *nostr.Event) error {
	var urls []string
	seen := make(map[string]bool)
	for _, r := range relays {
		normalized := nostr.NormalizeRelayURL(r)
		if normalized == "" {
			slog.Warn("skipping invalid relay url", "relay", r)
			continue
		}
		if !seen[normalized] {
			seen[normalized] = true
			urls = append(urls, normalized)
		}
	}
	if len(urls) == 0 {
		return errors.New("no usable relay urls")
	}

	var wg sync.WaitGroup
	var accepted atomic.Int64
	for _, u := range urls {
		wg.Add(1)
		go func(relayURL string) {
			defer wg.Done()
			if err := p.publishToRelay(ctx, relayURL, evt); err != nil {
				slog.Warn("could not publish event to relay",
					"relay", relayURL, "event_id", nostr.ShortID(evt.ID), "err", err)
				return
			}
			accepted.Add(1)
		}(u)
	}
	wg.Wait()

	if accepted.Load() == 0 {
		return fmt.Errorf("event %s rejected by all %d relays", nostr.ShortID(evt.ID), len(urls))
	}
	return nil
}

func (p *Publisher) publishToRelay(ctx context.Context, relayURL string, evt *nostr.Event) error {
	dialCtx, cancel := context.WithTimeout(ctx, p.DialTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, relayURL, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON([]interface{}{"EVENT", evt}); err != nil {
		return fmt.Errorf("send: %w", err)
	}

	// Wait for ["OK", <id>, <accepted>, <reason>]
	deadline := time.Now().Add(p.OkTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	conn.SetReadDeadline(deadline)
	for {
		var msg []interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			return fmt.Errorf("awaiting ok: %w", err)
		}
		if len(msg) < 3 {
			continue
		}
		msgType, _ := msg[0].(string)
		if msgType != "OK" {
			continue
		}
		eventID, _ := msg[1].(string)
		if eventID != evt.ID {
			continue
		}
		ok, _ := msg[2].(bool)
		if !ok {
			reason := ""
			if len(msg) >= 4 {
				reason, _ = msg[3].(string)
			}
			return fmt.Errorf("relay rejected event: %s", reason)
		}
		slog.Debug("event accepted by relay", "relay", relayURL, "event_id", nostr.ShortID(evt.ID))
		return nil
	}
}
