package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"clnaddress/internal/cln"
	"clnaddress/internal/directory"
	"clnaddress/internal/nostr"
)

// fakeInvoicer stands in for the lightningd connection a handler dials.
type fakeInvoicer struct {
	resp   *cln.InvoiceResponse
	err    error
	gotReq *cln.InvoiceRequest
	closed bool
}

func (f *fakeInvoicer) Invoice(ctx context.Context, req *cln.InvoiceRequest) (*cln.InvoiceResponse, error) {
	f.gotReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeInvoicer) Close() error {
	f.closed = true
	return nil
}

func testConfig(t *testing.T, withZapper bool) *Config {
	t.Helper()
	cfg := &Config{
		Listen:            "localhost:9797",
		BaseURL:           "https://ln.example.com",
		RPCPath:           "/tmp/lightning-rpc",
		DataDir:           t.TempDir(),
		MinReceivableMsat: 1000,
		MaxReceivableMsat: 100000000,
		Description:       "Thank you :)",
	}
	if withZapper {
		cfg.NostrPrivKey = "a3f1c3b74d9c2e85f60cfa6a491ad8e8ffea5e7f02c353d55e6859e1a0f3a111"
	}
	if err := cfg.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	return cfg
}

func testServer(t *testing.T, cfg *Config, rpc *fakeInvoicer) *server {
	t.Helper()
	users, err := directory.Load(filepath.Join(cfg.DataDir, "users.json"))
	if err != nil {
		t.Fatalf("load users: %v", err)
	}
	s := newServer(cfg, users)
	s.dialRPC = func(ctx context.Context) (invoiceRPC, error) {
		if rpc == nil {
			return nil, errors.New("no rpc in this test")
		}
		return rpc, nil
	}
	return s
}

func doRequest(s *server, method, target string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, r)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
}

func errorReason(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Status string `json:"status"`
		Reason string `json:"reason"`
	}
	decodeBody(t, w, &resp)
	if resp.Status != "ERROR" {
		t.Errorf("status = %q, want ERROR", resp.Status)
	}
	return resp.Reason
}

func TestPayConfigAnonymous(t *testing.T) {
	s := testServer(t, testConfig(t, true), nil)

	w := doRequest(s, "GET", "/lnurlp")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var cfg struct {
		Callback    string `json:"callback"`
		MaxSendable uint64 `json:"maxSendable"`
		MinSendable uint64 `json:"minSendable"`
		Metadata    string `json:"metadata"`
		Tag         string `json:"tag"`
		AllowsNostr bool   `json:"allowsNostr"`
		NostrPubkey string `json:"nostrPubkey"`
	}
	decodeBody(t, w, &cfg)

	if cfg.Callback != "https://ln.example.com/invoice" {
		t.Errorf("callback = %q", cfg.Callback)
	}
	if cfg.Tag != "payRequest" {
		t.Errorf("tag = %q", cfg.Tag)
	}
	if cfg.MinSendable != 1000 || cfg.MaxSendable != 100000000 {
		t.Errorf("bounds = %d..%d", cfg.MinSendable, cfg.MaxSendable)
	}
	if cfg.Metadata != `[["text/plain","Thank you :)"]]` {
		t.Errorf("metadata = %s", cfg.Metadata)
	}
	if !cfg.AllowsNostr {
		t.Error("allowsNostr should be set with a zapper key configured")
	}
	if len(cfg.NostrPubkey) != 64 {
		t.Errorf("nostrPubkey = %q", cfg.NostrPubkey)
	}
}

func TestPayConfigWithoutZapper(t *testing.T) {
	s := testServer(t, testConfig(t, false), nil)

	w := doRequest(s, "GET", "/lnurlp")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	var cfg map[string]any
	decodeBody(t, w, &cfg)
	if cfg["allowsNostr"] != false {
		t.Error("allowsNostr should be false without a zapper key")
	}
	if _, ok := cfg["nostrPubkey"]; ok {
		t.Error("nostrPubkey should be omitted without a zapper key")
	}
}

func TestPayConfigUser(t *testing.T) {
	s := testServer(t, testConfig(t, false), nil)
	isEmail := true
	if _, err := s.users.Add("alice", directory.Meta{IsEmail: &isEmail}); err != nil {
		t.Fatal(err)
	}

	w := doRequest(s, "GET", "/.well-known/lnurlp/alice")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var cfg struct {
		Callback string `json:"callback"`
		Metadata string `json:"metadata"`
	}
	decodeBody(t, w, &cfg)
	if cfg.Callback != "https://ln.example.com/invoice/alice" {
		t.Errorf("callback = %q", cfg.Callback)
	}
	want := `[["text/plain","Thank you :)"],["text/email","alice@ln.example.com"]]`
	if cfg.Metadata != want {
		t.Errorf("metadata = %s, want %s", cfg.Metadata, want)
	}
}

func TestPayConfigUnknownUser(t *testing.T) {
	s := testServer(t, testConfig(t, false), nil)

	w := doRequest(s, "GET", "/.well-known/lnurlp/bob")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if reason := errorReason(t, w); reason != "user `bob` not found" {
		t.Errorf("reason = %q", reason)
	}
}

func TestInvoiceAnonymous(t *testing.T) {
	rpc := &fakeInvoicer{resp: &cln.InvoiceResponse{Bolt11: "lnbc10u1fake"}}
	s := testServer(t, testConfig(t, false), rpc)

	w := doRequest(s, "GET", "/invoice?amount=21000")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	var resp struct {
		PR     string   `json:"pr"`
		Routes []string `json:"routes"`
	}
	decodeBody(t, w, &resp)
	if resp.PR != "lnbc10u1fake" {
		t.Errorf("pr = %q", resp.PR)
	}
	if resp.Routes == nil || len(resp.Routes) != 0 {
		t.Errorf("routes = %v, want empty array", resp.Routes)
	}

	if rpc.gotReq == nil {
		t.Fatal("invoice RPC was never called")
	}
	if rpc.gotReq.Description != `[["text/plain","Thank you :)"]]` {
		t.Errorf("description = %s", rpc.gotReq.Description)
	}
	if !rpc.gotReq.DescHashOnly {
		t.Error("deschashonly must be set so the bolt11 carries the hash")
	}
	if rpc.gotReq.Label == "" {
		t.Error("label must be set")
	}
	if b, _ := json.Marshal(rpc.gotReq.AmountMsat); string(b) != "21000" {
		t.Errorf("amount = %s", b)
	}
	if !rpc.closed {
		t.Error("rpc connection should be closed after the request")
	}
}

func TestInvoiceUserDescription(t *testing.T) {
	rpc := &fakeInvoicer{resp: &cln.InvoiceResponse{Bolt11: "lnbc1"}}
	s := testServer(t, testConfig(t, false), rpc)
	desc := "Pay me"
	if _, err := s.users.Add("carol", directory.Meta{Description: &desc}); err != nil {
		t.Fatal(err)
	}

	w := doRequest(s, "GET", "/invoice/carol?amount=21000")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	want := `[["text/plain","Pay me"],["text/identifier","carol@ln.example.com"]]`
	if rpc.gotReq.Description != want {
		t.Errorf("description = %s, want %s", rpc.gotReq.Description, want)
	}
}

func TestInvoiceUnknownUser(t *testing.T) {
	s := testServer(t, testConfig(t, false), nil)
	w := doRequest(s, "GET", "/invoice/ghost?amount=21000")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestInvoiceAmountValidation(t *testing.T) {
	cases := []struct {
		name       string
		target     string
		wantReason string
	}{
		{
			name:       "missing amount",
			target:     "/invoice",
			wantReason: "invalid `amount` parameter",
		},
		{
			name:       "malformed amount",
			target:     "/invoice?amount=sats",
			wantReason: "invalid `amount` parameter",
		},
		{
			name:       "negative amount",
			target:     "/invoice?amount=-5",
			wantReason: "invalid `amount` parameter",
		},
		{
			name:       "below minimum",
			target:     "/invoice?amount=999",
			wantReason: "`amount` below minimum: 999<1000",
		},
		{
			name:       "above maximum",
			target:     "/invoice?amount=100000001",
			wantReason: "`amount` above maximum: 100000001>100000000",
		},
	}

	s := testServer(t, testConfig(t, false), nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := doRequest(s, "GET", tc.target)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d", w.Code)
			}
			if reason := errorReason(t, w); reason != tc.wantReason {
				t.Errorf("reason = %q, want %q", reason, tc.wantReason)
			}
		})
	}
}

func signedZapRequestQuery(t *testing.T, amount string, relays bool) string {
	t.Helper()
	tags := [][]string{
		{"p", strings.Repeat("ab", 32)},
		{"amount", amount},
	}
	if relays {
		tags = append(tags, []string{"relays", "wss://relay.example.com"})
	}
	evt := &nostr.Event{Kind: nostr.KindZapRequest, Tags: tags}
	if err := evt.Sign(watcherKey(t)); err != nil {
		t.Fatal(err)
	}
	return evt.Serialize()
}

func TestInvoiceZap(t *testing.T) {
	rpc := &fakeInvoicer{resp: &cln.InvoiceResponse{Bolt11: "lnbc1zap"}}
	s := testServer(t, testConfig(t, true), rpc)

	zapJSON := signedZapRequestQuery(t, "21000", true)
	r := httptest.NewRequest("GET", "/invoice", nil)
	q := r.URL.Query()
	q.Set("amount", "21000")
	q.Set("nostr", zapJSON)
	r.URL.RawQuery = q.Encode()

	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	// The invoice description must be the zap request exactly as the
	// wallet sent it, or the description hash check fails on their side.
	if rpc.gotReq.Description != zapJSON {
		t.Errorf("description = %s, want the query value verbatim", rpc.gotReq.Description)
	}
}

func TestInvoiceZapNotConfigured(t *testing.T) {
	s := testServer(t, testConfig(t, false), nil)

	r := httptest.NewRequest("GET", "/invoice", nil)
	q := r.URL.Query()
	q.Set("amount", "21000")
	q.Set("nostr", signedZapRequestQuery(t, "21000", true))
	r.URL.RawQuery = q.Encode()

	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
	if reason := errorReason(t, w); reason != "Nostr Zaps not configured" {
		t.Errorf("reason = %q", reason)
	}
}

func TestInvoiceZapBadSignature(t *testing.T) {
	s := testServer(t, testConfig(t, true), nil)

	var evt nostr.Event
	if err := json.Unmarshal([]byte(signedZapRequestQuery(t, "21000", true)), &evt); err != nil {
		t.Fatal(err)
	}
	evt.Content = "tampered"

	r := httptest.NewRequest("GET", "/invoice", nil)
	q := r.URL.Query()
	q.Set("amount", "21000")
	q.Set("nostr", evt.Serialize())
	r.URL.RawQuery = q.Encode()

	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, r)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if reason := errorReason(t, w); reason != "invalid zap request signature" {
		t.Errorf("reason = %q", reason)
	}
}

func TestInvoiceZapRuleViolations(t *testing.T) {
	s := testServer(t, testConfig(t, true), nil)

	cases := []struct {
		name   string
		nostr  string
		reason string
	}{
		{
			name:   "missing relays",
			nostr:  signedZapRequestQuery(t, "21000", false),
			reason: "relays",
		},
		{
			name:   "amount mismatch",
			nostr:  signedZapRequestQuery(t, "42", true),
			reason: "amount",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/invoice", nil)
			q := r.URL.Query()
			q.Set("amount", "21000")
			q.Set("nostr", tc.nostr)
			r.URL.RawQuery = q.Encode()

			w := httptest.NewRecorder()
			s.routes().ServeHTTP(w, r)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			if reason := errorReason(t, w); !strings.Contains(reason, tc.reason) {
				t.Errorf("reason = %q, want mention of %q", reason, tc.reason)
			}
		})
	}
}

func TestInvoiceRPCFailure(t *testing.T) {
	rpc := &fakeInvoicer{err: &cln.RPCError{Code: -1, Message: "lightningd is down"}}
	s := testServer(t, testConfig(t, false), rpc)

	w := doRequest(s, "GET", "/invoice?amount=21000")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", w.Code)
	}
	if reason := errorReason(t, w); !strings.Contains(reason, "lightningd is down") {
		t.Errorf("reason = %q", reason)
	}
}

func TestQRCode(t *testing.T) {
	s := testServer(t, testConfig(t, false), nil)

	w := doRequest(s, "GET", "/lnurlp/qr")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.HasPrefix(w.Body.Bytes(), []byte("\x89PNG")) {
		t.Error("body is not a PNG")
	}
}

func adminRequest(s *server, target string, body string, remoteAddr string) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", target, strings.NewReader(body))
	if remoteAddr != "" {
		r.RemoteAddr = remoteAddr
	}
	w := httptest.NewRecorder()
	s.routes().ServeHTTP(w, r)
	return w
}

func TestAdminLoopbackOnly(t *testing.T) {
	s := testServer(t, testConfig(t, false), nil)

	// httptest.NewRequest fills in a non-loopback remote address.
	w := adminRequest(s, "/admin/adduser", `"alice"`, "")
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want forbidden for remote callers", w.Code)
	}
}

func TestAdminAddUserShapes(t *testing.T) {
	s := testServer(t, testConfig(t, false), nil)

	cases := []struct {
		name string
		body string
		user string
	}{
		{name: "string", body: `"alice"`, user: "alice"},
		{name: "array", body: `["bob", true, "my shop"]`, user: "bob"},
		{name: "object", body: `{"user":"carol","is_email":"false","description":"hi"}`, user: "carol"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := adminRequest(s, "/admin/adduser", tc.body, "127.0.0.1:5555")
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
			}
			var resp struct {
				Mode string `json:"mode"`
				User string `json:"user"`
			}
			decodeBody(t, w, &resp)
			if resp.Mode != "added" || resp.User != tc.user {
				t.Errorf("resp = %+v", resp)
			}
			if _, ok := s.users.Lookup(tc.user); !ok {
				t.Errorf("%s not in directory after add", tc.user)
			}
		})
	}

	// Re-adding reports an update.
	w := adminRequest(s, "/admin/adduser", `"alice"`, "127.0.0.1:5555")
	var resp struct {
		Mode string `json:"mode"`
	}
	decodeBody(t, w, &resp)
	if resp.Mode != "updated" {
		t.Errorf("mode = %q, want updated", resp.Mode)
	}
}

func TestAdminAddUserBadArgs(t *testing.T) {
	s := testServer(t, testConfig(t, false), nil)
	w := adminRequest(s, "/admin/adduser", `42`, "127.0.0.1:5555")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAdminDelUser(t *testing.T) {
	s := testServer(t, testConfig(t, false), nil)
	if _, err := s.users.Add("alice", directory.Meta{}); err != nil {
		t.Fatal(err)
	}

	w := adminRequest(s, "/admin/deluser", `{"user":"alice"}`, "127.0.0.1:5555")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if _, ok := s.users.Lookup("alice"); ok {
		t.Error("alice should be gone")
	}

	w = adminRequest(s, "/admin/deluser", `"alice"`, "127.0.0.1:5555")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for unknown user", w.Code)
	}
}

func TestHealth(t *testing.T) {
	s := testServer(t, testConfig(t, false), nil)
	w := doRequest(s, "GET", "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}
