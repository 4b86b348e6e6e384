package linehouse

import (
	"time"

	"github.com/linehouse/linehouse/lineerror"
)

// Protocol selects the transport variant. The set is closed: dispatch is done
// by tag, not by caller-provided implementations.
type Protocol string

const (
	ProtocolTCP   Protocol = "tcp"
	ProtocolTCPS  Protocol = "tcps"
	ProtocolHTTP  Protocol = "http"
	ProtocolHTTPS Protocol = "https"
)

// Config holds the configuration options for a Sender.
//
// Only Address is required. Every other field has a sensible default applied
// by New. The config is immutable for the lifetime of the Sender built from
// it.
type Config struct {
	// Address is a comma-separated list of host:port pairs. With several
	// addresses the sender rotates between them and skips hosts that
	// recently failed.
	Address string

	// Protocol is one of tcp, tcps, http, https (default: tcp).
	Protocol Protocol

	// TLS trust mode for tcps/https. Default is the platform trust store;
	// CACertPath/CACertPEM switch to an explicit root bundle; SkipVerify
	// disables verification entirely.
	CACertPath string
	CACertPEM  []byte
	SkipVerify bool

	// AuthKeyID and AuthToken hold the TCP signing credential: the key id
	// the server knows the public key under, and the base64url-encoded
	// P-256 private scalar. Both empty disables the handshake.
	AuthKeyID string
	AuthToken string

	// HTTP credential: User+Password for basic auth, or Token for bearer.
	// Setting both is a configuration error.
	User     string
	Password string
	Token    string

	// Timeouts. RetryTimeout bounds the total retry budget of one HTTP
	// flush; -1 disables retries. MinThroughput (bytes/sec) extends the
	// per-request deadline for large bodies.
	ConnectTimeout time.Duration // default 15s
	WriteTimeout   time.Duration // TCP, default 1m
	RequestTimeout time.Duration // HTTP, default 10s
	RetryTimeout   time.Duration // HTTP, default 10s
	MinThroughput  int           // HTTP, default 100 KiB/s

	// RetryableStatuses overrides which HTTP responses count as transient.
	RetryableStatuses []int

	// RequestPath of the HTTP ingestion endpoint (default "/write").
	RequestPath string

	// Auto-flush watermarks, evaluated after each completed row. Zero picks
	// the default, -1 disables the individual watermark.
	// DisableAutoFlush turns the whole policy off: flushing then happens
	// only on explicit Flush calls.
	DisableAutoFlush bool
	FlushRows        int           // default 600
	FlushBytes       int           // default disabled
	FlushInterval    time.Duration // default 1s

	// Buffer limits.
	MaxBufferSize int // default 16 MiB
	MaxNameLength int // default 127

	// GzipBody compresses HTTP request bodies.
	GzipBody bool

	// SpillDir enables the on-disk spill journal for failed flushes.
	SpillDir string

	// Debug enables stdlib log diagnostics. The library logs nothing
	// otherwise.
	Debug bool
}

const (
	defaultFlushRows     = 600
	defaultFlushInterval = time.Second
	defaultRetryTimeout  = 10 * time.Second
)

func confError(descr string) error {
	return lineerror.NewCustom(lineerror.CodeInvalidValue, "Bad sender config", descr)
}

// withDefaults validates cross-field constraints and fills in defaults.
func (c Config) withDefaults() (Config, error) {
	if c.Address == "" {
		return c, confError("address is required")
	}

	if c.Protocol == "" {
		c.Protocol = ProtocolTCP
	}
	switch c.Protocol {
	case ProtocolTCP, ProtocolTCPS, ProtocolHTTP, ProtocolHTTPS:
	default:
		return c, confError("unknown protocol " + string(c.Protocol))
	}

	isHTTP := c.Protocol == ProtocolHTTP || c.Protocol == ProtocolHTTPS

	if isHTTP {
		if (c.User != "" || c.Password != "") && c.Token != "" {
			return c, confError("basic and bearer credentials are mutually exclusive")
		}
		if c.AuthKeyID != "" || c.AuthToken != "" {
			return c, confError("signing key is a TCP credential, use user/password or token over HTTP")
		}
	} else {
		if c.User != "" || c.Password != "" || c.Token != "" {
			return c, confError("user/password/token are HTTP credentials, use a signing key over TCP")
		}
		if (c.AuthKeyID == "") != (c.AuthToken == "") {
			return c, confError("signing key needs both key id and token")
		}
	}

	if (c.CACertPath != "" || len(c.CACertPEM) > 0 || c.SkipVerify) &&
		c.Protocol != ProtocolTCPS && c.Protocol != ProtocolHTTPS {
		return c, confError("TLS options need a tcps or https protocol")
	}
	if (c.CACertPath != "" || len(c.CACertPEM) > 0) && c.SkipVerify {
		return c, confError("custom CA and skip-verify are mutually exclusive")
	}

	if isHTTP {
		switch {
		case c.RetryTimeout == 0:
			c.RetryTimeout = defaultRetryTimeout
		case c.RetryTimeout < 0:
			c.RetryTimeout = 0
		}
	}

	switch {
	case c.FlushRows == 0:
		c.FlushRows = defaultFlushRows
	case c.FlushRows < 0:
		c.FlushRows = 0
	}
	switch {
	case c.FlushInterval == 0:
		c.FlushInterval = defaultFlushInterval
	case c.FlushInterval < 0:
		c.FlushInterval = 0
	}
	if c.FlushBytes < 0 {
		c.FlushBytes = 0
	}

	return c, nil
}
