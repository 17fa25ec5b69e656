package main

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"clnaddress/internal/lnurl"
	"clnaddress/internal/nostr"
)

// Config is the startup configuration, immutable after Load. Values come
// from an optional YAML file (CLNADDRESS_CONFIG) with environment
// variables taking precedence.
type Config struct {
	Listen            string `env:"CLNADDRESS_LISTEN" yaml:"listen"`
	BaseURL           string `env:"CLNADDRESS_BASE_URL" yaml:"base_url"`
	RPCPath           string `env:"CLN_RPC_PATH" yaml:"rpc_path"`
	DataDir           string `env:"CLNADDRESS_DATA_DIR" yaml:"data_dir"`
	MinReceivableMsat uint64 `env:"CLNADDRESS_MIN_RECEIVABLE" yaml:"min_receivable_msat"`
	MaxReceivableMsat uint64 `env:"CLNADDRESS_MAX_RECEIVABLE" yaml:"max_receivable_msat"`
	Description       string `env:"CLNADDRESS_DESCRIPTION" yaml:"description"`
	NostrPrivKey      string `env:"CLNADDRESS_NOSTR_PRIVKEY" yaml:"nostr_privkey"`

	// Derived on Load
	baseURL *url.URL
	bounds  lnurl.Bounds
	zapper  *zapperKeys
}

// defaultConfig is the bottom configuration layer. Defaults live here
// rather than in envDefault tags: env.Parse applies tag defaults whenever
// the variable is unset, which would clobber values read from the file.
func defaultConfig() Config {
	return Config{
		Listen:            "localhost:9797",
		DataDir:           "clnaddress-data",
		MaxReceivableMsat: 100000000000,
		Description:       "Thank you :)",
	}
}

// zapperKeys is the dispatcher keypair used to sign zap receipts. nil
// zapper on Config means zaps are not configured.
type zapperKeys struct {
	priv   *btcec.PrivateKey
	pubHex string
}

// LoadConfig layers the configuration bottom-up: built-in defaults,
// then the optional YAML config file, then environment variables, and
// validates the result. env.Parse only touches fields whose variable is
// actually set, so file values survive unless overridden.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CLNADDRESS_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if _, err := net.ResolveTCPAddr("tcp", c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}

	if c.BaseURL == "" {
		return errors.New("please specify a base URL (CLNADDRESS_BASE_URL)")
	}
	raw := c.BaseURL
	if !strings.HasSuffix(raw, "/") {
		raw += "/"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid base URL, missing host part: %s", raw)
	}
	c.baseURL = u

	if c.RPCPath == "" {
		return errors.New("please specify the lightning-rpc socket path (CLN_RPC_PATH)")
	}

	if c.MinReceivableMsat > c.MaxReceivableMsat {
		return fmt.Errorf("min receivable %d is greater than max receivable %d",
			c.MinReceivableMsat, c.MaxReceivableMsat)
	}
	c.bounds = lnurl.Bounds{Min: c.MinReceivableMsat, Max: c.MaxReceivableMsat}

	if c.NostrPrivKey != "" {
		priv, err := nostr.ParsePrivateKeyHex(strings.TrimPrefix(c.NostrPrivKey, "0x"))
		if err != nil {
			return fmt.Errorf("nostr privkey: %w", err)
		}
		c.zapper = &zapperKeys{priv: priv, pubHex: nostr.PubKeyHex(priv)}
	}

	return nil
}

// Bounds returns the configured receivable window.
func (c *Config) Bounds() lnurl.Bounds { return c.bounds }

// BaseURLJoin resolves a path relative to the configured base URL.
func (c *Config) BaseURLJoin(parts ...string) string {
	return c.baseURL.JoinPath(parts...).String()
}

// Host returns the base URL host, including the port when present.
func (c *Config) Host() string { return c.baseURL.Host }
