package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	qrcode "github.com/skip2/go-qrcode"

	"clnaddress/internal/cln"
	"clnaddress/internal/directory"
	"clnaddress/internal/lnurl"
	"clnaddress/internal/nostr"
)

const maxAdminBodySize = 32 * 1024

// invoiceRPC is the slice of the lightningd client the handlers use.
type invoiceRPC interface {
	Invoice(ctx context.Context, req *cln.InvoiceRequest) (*cln.InvoiceResponse, error)
	Close() error
}

type server struct {
	cfg   *Config
	users *directory.Store

	// dialRPC opens a fresh short-lived connection per request;
	// connections are never shared across handlers.
	dialRPC func(ctx context.Context) (invoiceRPC, error)
}

func newServer(cfg *Config, users *directory.Store) *server {
	return &server{
		cfg:   cfg,
		users: users,
		dialRPC: func(ctx context.Context) (invoiceRPC, error) {
			return cln.Dial(ctx, cfg.RPCPath)
		},
	}
}

func (s *server) routes() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/lnurlp", s.payConfigHandler).Methods("GET")
	r.HandleFunc("/lnurlp/qr", s.qrHandler).Methods("GET")
	r.HandleFunc("/.well-known/lnurlp/{user}", s.payConfigHandler).Methods("GET")
	r.HandleFunc("/invoice", s.invoiceHandler).Methods("GET")
	r.HandleFunc("/invoice/{user}", s.invoiceHandler).Methods("GET")
	r.HandleFunc("/health", healthHandler).Methods("GET")
	r.HandleFunc("/metrics", metricsHandler).Methods("GET")

	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(loopbackOnly)
	admin.HandleFunc("/adduser", s.addUserHandler).Methods("POST")
	admin.HandleFunc("/deluser", s.delUserHandler).Methods("POST")

	r.Use(RequestLoggingMiddleware)
	return r
}

// payConfigHandler serves the LNURL-pay discovery response for both the
// anonymous endpoint and /.well-known/lnurlp/{user}.
func (s *server) payConfigHandler(w http.ResponseWriter, r *http.Request) {
	user, hasUser := mux.Vars(r)["user"]

	var callback string
	var metadata lnurl.Metadata
	if hasUser {
		md, err := s.userMetadata(user)
		if err != nil {
			writeLNURLError(w, r, http.StatusNotFound, err.Error())
			return
		}
		metadata = md
		callback = s.cfg.BaseURLJoin("invoice", user)
	} else {
		metadata = lnurl.DefaultMetadata(s.cfg.Description)
		callback = s.cfg.BaseURLJoin("invoice")
	}

	cfg := lnurl.PayConfig{
		Callback:    callback,
		MaxSendable: s.cfg.Bounds().Max,
		MinSendable: s.cfg.Bounds().Min,
		Metadata:    metadata.JSON(),
		Tag:         "payRequest",
		AllowsNostr: s.cfg.zapper != nil,
	}
	if s.cfg.zapper != nil {
		cfg.NostrPubkey = s.cfg.zapper.pubHex
	}
	writeJSON(w, http.StatusOK, cfg)
}

// invoiceHandler is the LNURL-pay callback: validates the amount and the
// optional zap request, then mints an invoice over a fresh RPC
// connection.
func (s *server) invoiceHandler(w http.ResponseWriter, r *http.Request) {
	log := LoggerFromContext(r.Context())
	user, hasUser := mux.Vars(r)["user"]

	amount, err := strconv.ParseUint(r.URL.Query().Get("amount"), 10, 64)
	if err != nil {
		writeLNURLError(w, r, http.StatusBadRequest, "invalid `amount` parameter")
		return
	}
	if err := s.cfg.Bounds().Validate(amount); err != nil {
		writeLNURLError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	var description string
	if zapRequestJSON := r.URL.Query().Get("nostr"); zapRequestJSON != "" {
		if s.cfg.zapper == nil {
			writeLNURLError(w, r, http.StatusBadRequest, "Nostr Zaps not configured")
			return
		}
		zapRequest, err := nostr.ParseEvent([]byte(zapRequestJSON))
		if err != nil {
			writeLNURLError(w, r, http.StatusInternalServerError, err.Error())
			return
		}
		if !nostr.ValidateEventSignature(zapRequest) {
			writeLNURLError(w, r, http.StatusInternalServerError, "invalid zap request signature")
			return
		}
		if err := nostr.VerifyZapRequest(zapRequest, amount); err != nil {
			writeLNURLError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		log.Debug("verified zap request", "event_id", nostr.ShortID(zapRequest.ID))
		// The wallet hashes the exact string it sent; pass it through
		// untouched so the description hash matches.
		description = zapRequestJSON
	} else if hasUser {
		md, err := s.userMetadata(user)
		if err != nil {
			writeLNURLError(w, r, http.StatusNotFound, err.Error())
			return
		}
		description = md.JSON()
	} else {
		description = lnurl.DefaultMetadata(s.cfg.Description).JSON()
	}

	rpc, err := s.dialRPC(r.Context())
	if err != nil {
		writeLNURLError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	defer rpc.Close()

	amountOrAny := cln.Any()
	if amount > 0 {
		amountOrAny = cln.Msat(amount)
	}
	resp, err := rpc.Invoice(r.Context(), &cln.InvoiceRequest{
		AmountMsat:   amountOrAny,
		Description:  description,
		Label:        uuid.NewString(),
		DescHashOnly: true,
	})
	if err != nil {
		writeLNURLError(w, r, http.StatusInternalServerError, err.Error())
		return
	}

	invoicesIssuedTotal.Add(1)
	writeJSON(w, http.StatusOK, lnurl.PayResponse{PR: resp.Bolt11, Routes: []string{}})
}

// qrHandler renders the service's LNURL as a QR code PNG.
func (s *server) qrHandler(w http.ResponseWriter, r *http.Request) {
	encoded, err := lnurl.Encode(s.cfg.BaseURLJoin("lnurlp"))
	if err != nil {
		writeLNURLError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	png, err := qrcode.Encode(encoded, qrcode.Medium, 256)
	if err != nil {
		writeLNURLError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(png)
}

func (s *server) addUserHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAdminBodySize))
	if err != nil {
		writeLNURLError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, meta, err := directory.DecodeAddArgs(body)
	if err != nil {
		writeLNURLError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	updated, err := s.users.Add(user, meta)
	if err != nil {
		writeLNURLError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	mode := "added"
	if updated {
		mode = "updated"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":        mode,
		"user":        user,
		"is_email":    meta.IsEmail,
		"description": meta.Description,
	})
}

func (s *server) delUserHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxAdminBodySize))
	if err != nil {
		writeLNURLError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	user, err := directory.DecodeNameArgs(body)
	if err != nil {
		writeLNURLError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	meta, err := s.users.Remove(user)
	if err != nil {
		if errors.Is(err, directory.ErrUnknownUser) {
			writeLNURLError(w, r, http.StatusNotFound, err.Error())
			return
		}
		writeLNURLError(w, r, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user":     user,
		"metadata": meta,
	})
}

// userMetadata builds the metadata array for a directory user.
func (s *server) userMetadata(user string) (lnurl.Metadata, error) {
	meta, ok := s.users.Lookup(user)
	if !ok {
		return nil, &unknownUserError{user: user}
	}
	return lnurl.UserMetadata(user, meta.Description, meta.IsEmail, s.cfg.Description, s.cfg.Host()), nil
}

type unknownUserError struct {
	user string
}

func (e *unknownUserError) Error() string {
	return "user `" + e.user + "` not found"
}

// loopbackOnly gates the admin endpoints to local callers.
func loopbackOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			writeLNURLError(w, r, http.StatusForbidden, "admin endpoints are local only")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeLNURLError(w http.ResponseWriter, r *http.Request, status int, reason string) {
	LoggerFromContext(r.Context()).Debug("lnurl error", "status", status, "reason", reason)
	writeJSON(w, status, lnurl.NewError(reason))
}
