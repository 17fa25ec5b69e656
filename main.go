package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"clnaddress/internal/cln"
	"clnaddress/internal/cursor"
	"clnaddress/internal/directory"
	"clnaddress/internal/lnurl"
	"clnaddress/internal/relay"
)

const (
	usersFilename    = "users.json"
	payIndexFilename = "payindex.json"
)

func main() {
	InitLogger()

	cfg, err := LoadConfig()
	if err != nil {
		slog.Error("error parsing options", "err", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("error creating data directory", "dir", cfg.DataDir, "err", err)
		os.Exit(1)
	}

	users, err := directory.Load(filepath.Join(cfg.DataDir, usersFilename))
	if err != nil {
		slog.Error("could not read users file", "err", err)
		os.Exit(1)
	}

	payIndex := cursor.New(filepath.Join(cfg.DataDir, payIndexFilename))
	lastPayIndex, err := payIndex.Load()
	if err != nil {
		slog.Error("could not read pay index file", "err", err)
		os.Exit(1)
	}

	if cfg.zapper != nil {
		go runZapWatcher(cfg, payIndex, lastPayIndex)
	}

	s := newServer(cfg, users)

	slog.Info("starting lnurlp server",
		"listen", cfg.Listen, "base_url", cfg.BaseURLJoin())
	if encoded, err := lnurl.Encode(cfg.BaseURLJoin("lnurlp")); err == nil {
		slog.Info("LNURL", "lnurl", encoded)
	}

	srv := &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.routes(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		slog.Error("error running server", "err", err)
		os.Exit(1)
	}
}

// runZapWatcher connects the watcher to lightningd and runs it for the
// lifetime of the process.
func runZapWatcher(cfg *Config, payIndex *cursor.Store, lastPayIndex uint64) {
	ctx := context.Background()
	rpc, err := cln.Dial(ctx, cfg.RPCPath)
	if err != nil {
		slog.Error("zap watcher could not connect to lightningd", "err", err)
		os.Exit(1)
	}
	defer rpc.Close()

	watcher := NewZapWatcher(rpc, payIndex, cfg.zapper.priv, relay.NewPublisher(), lastPayIndex)
	if err := watcher.Run(ctx); err != nil {
		slog.Error("error running zap watcher", "err", err)
		os.Exit(1)
	}
}
