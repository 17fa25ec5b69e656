package main

import (
	"context"
	"log/slog"

	"github.com/btcsuite/btcd/btcec/v2"

	"clnaddress/internal/cln"
	"clnaddress/internal/cursor"
	"clnaddress/internal/nostr"
)

// settlementWaiter is the long-poll side of the lightningd client.
type settlementWaiter interface {
	WaitAnyInvoice(ctx context.Context, lastPayIndex uint64) (*cln.PaymentNotification, error)
}

// receiptPublisher sends a signed event to a set of relays.
type receiptPublisher interface {
	Publish(ctx context.Context, relays []string, evt *nostr.Event) error
}

// ZapWatcher consumes the node's settlement stream and turns settled zap
// invoices into signed zap receipts published to the relays named in the
// originating request. Exactly one watcher runs per process; it owns the
// resume cursor.
//
// The cursor is persisted BEFORE the receipt is published: a crash after
// persisting loses that receipt, a crash before it replays the
// settlement and duplicates the receipt. Delivery is therefore neither
// exactly-once nor strictly at-least-once; this is the accepted
// trade-off.
type ZapWatcher struct {
	rpc          settlementWaiter
	cursor       *cursor.Store
	priv         *btcec.PrivateKey
	publisher    receiptPublisher
	lastPayIndex uint64
	log          *slog.Logger
}

// NewZapWatcher wires a watcher resuming from lastPayIndex.
func NewZapWatcher(rpc settlementWaiter, cur *cursor.Store, priv *btcec.PrivateKey, pub receiptPublisher, lastPayIndex uint64) *ZapWatcher {
	return &ZapWatcher{
		rpc:          rpc,
		cursor:       cur,
		priv:         priv,
		publisher:    pub,
		lastPayIndex: lastPayIndex,
		log:          slog.Default().With("component", "zap_watcher"),
	}
}

// Run loops until ctx is cancelled. Production wiring passes a context
// that lives until process exit; tests cancel it to stop the loop. Every
// per-settlement failure is logged and skipped, never fatal. The
// long-poll RPC call itself is retried immediately on error, without
// backoff, matching the upstream design.
func (w *ZapWatcher) Run(ctx context.Context) error {
	w.log.Debug("starting zap watcher", "lastpay_index", w.lastPayIndex)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		notification, err := w.rpc.WaitAnyInvoice(ctx, w.lastPayIndex)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.log.Warn("error waiting on invoices", "err", err)
			continue
		}
		if err := w.process(ctx, notification); err != nil {
			return err
		}
	}
}

// process handles one settlement notification.
func (w *ZapWatcher) process(ctx context.Context, n *cln.PaymentNotification) error {
	settlementsSeenTotal.Add(1)

	// Advance and persist the cursor before anything else so a crash
	// mid-iteration does not reprocess this settlement.
	if n.PayIndex != nil {
		w.lastPayIndex = *n.PayIndex
	} else {
		w.lastPayIndex++
	}
	if err := w.cursor.Save(w.lastPayIndex); err != nil {
		return err
	}

	zapRequest, err := nostr.ParseEvent([]byte(n.Description))
	if err != nil || zapRequest.Kind != nostr.KindZapRequest {
		// Not a zap payment
		w.log.Debug("settlement is not a zap", "pay_index", w.lastPayIndex)
		return nil
	}

	if n.Bolt11 == "" {
		w.log.Warn("no bolt11 found for zap receipt", "pay_index", w.lastPayIndex)
		return nil
	}

	var paidAt int64
	if n.PaidAt != nil {
		paidAt = int64(*n.PaidAt)
	}
	receipt := nostr.BuildZapReceipt(n.Bolt11, n.PaymentPreimage, zapRequest, n.Description, paidAt)
	if err := receipt.Sign(w.priv); err != nil {
		w.log.Warn("could not sign zap receipt", "err", err)
		zapReceiptsDroppedTotal.Add(1)
		return nil
	}

	relays := zapRequest.Relays()
	if len(relays) == 0 {
		w.log.Warn("no relays included in zap request", "event_id", nostr.ShortID(zapRequest.ID))
		zapReceiptsDroppedTotal.Add(1)
		return nil
	}

	if err := w.publisher.Publish(ctx, relays, receipt); err != nil {
		w.log.Warn("could not send zap receipt", "err", err)
		zapReceiptsDroppedTotal.Add(1)
		return nil
	}
	zapReceiptsPublishedTotal.Add(1)
	w.log.Debug("published zap receipt",
		"event_id", nostr.ShortID(receipt.ID), "relays", len(relays))
	return nil
}
