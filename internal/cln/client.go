// Package cln is a minimal JSON-RPC client for lightningd's unix socket,
// covering the two calls the bridge needs: invoice and waitanyinvoice.
package cln

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"
)

// Client is a single JSON-RPC connection to lightningd. Calls are
// serialized; HTTP handlers are expected to dial their own short-lived
// client per request, while the zap watcher holds one open for the
// lifetime of the process.
type Client struct {
	mu     sync.Mutex
	conn   net.Conn
	dec    *json.Decoder
	nextID uint64
}

// RPCError is an error object returned by lightningd.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("lightningd rpc error %d: %s", e.Code, e.Message)
}

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type response struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RPCError       `json:"error"`
}

// Dial connects to the lightning-rpc socket at path.
func Dial(ctx context.Context, path string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "unix", path)
	if err != nil {
		return nil, fmt.Errorf("dial lightning rpc: %w", err)
	}
	return &Client{conn: conn, dec: json.NewDecoder(conn)}, nil
}

// Close closes the underlying socket.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Call performs one JSON-RPC call, decoding the result into result when
// non-nil. There is no call timeout: waitanyinvoice is expected to block
// until a payment settles. Cancelling ctx unblocks the read by expiring
// the connection deadline.
func (c *Client) Call(ctx context.Context, method string, params, result any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	req := request{JSONRPC: "2.0", ID: c.nextID, Method: method, Params: params}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", method, err)
	}
	// lightningd delimits frames with a double newline
	payload = append(payload, '\n', '\n')

	stop := context.AfterFunc(ctx, func() {
		c.conn.SetDeadline(time.Now())
	})
	defer stop()

	if _, err := c.conn.Write(payload); err != nil {
		return fmt.Errorf("%s: write: %w", method, err)
	}

	for {
		var resp response
		if err := c.dec.Decode(&resp); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%s: read: %w", method, err)
		}
		// Skip stray frames from earlier abandoned calls.
		if resp.ID != req.ID {
			continue
		}
		if resp.Error != nil {
			return resp.Error
		}
		if result != nil {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return fmt.Errorf("%s: decode result: %w", method, err)
			}
		}
		return nil
	}
}
