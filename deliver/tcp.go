package deliver

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log"
	"net"
	"strings"
	"syscall"
	"time"

	"github.com/vkcom/engine-go/srvfunc"

	"github.com/linehouse/linehouse/destination"
	"github.com/linehouse/linehouse/lineerror"
)

const (
	defaultConnectTimeout   = 15 * time.Second
	defaultWriteTimeout     = time.Minute
	defaultHandshakeTimeout = 15 * time.Second
)

// TCPConf configures a TCPSender. Immutable after NewTCP.
type TCPConf struct {
	Dst *destination.Setting

	// TLS is the prepared client config, nil for a plain socket.
	TLS *tls.Config

	// Auth enables the challenge/response handshake when non-nil.
	Auth *AuthKey

	ConnectTimeout time.Duration
	WriteTimeout   time.Duration

	Debug bool
}

// TCPSender streams buffer contents over a single long-lived socket. There is
// no per-row acknowledgement on this transport: delivery success is inferred
// from the absence of a write error.
//
// Not safe for concurrent use.
type TCPSender struct {
	conf TCPConf

	conn net.Conn
	srv  destination.ServerHostPort

	// wroteSinceAuth distinguishes an authentication rejection (the server
	// silently closes after the handshake, observed as a reset on the first
	// write) from an ordinary connection failure later on.
	wroteSinceAuth bool
}

// NewTCP prepares a sender. No network I/O happens until Connect or the
// first Flush.
func NewTCP(conf TCPConf) *TCPSender {
	if conf.ConnectTimeout == 0 {
		conf.ConnectTimeout = defaultConnectTimeout
	}
	if conf.WriteTimeout == 0 {
		conf.WriteTimeout = defaultWriteTimeout
	}
	return &TCPSender{conf: conf}
}

// Connect dials the next available server, wraps the socket in TLS when
// configured and performs the signing handshake when a key is present.
// Calling Connect with a live connection is a no-op.
func (s *TCPSender) Connect() error {
	if s.conn != nil {
		return nil
	}

	srv, ok := s.conf.Dst.ChooseNextServer()
	if !ok {
		return lineerror.NewCustom(lineerror.CodeConnect, "No servers available", "")
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.conf.ConnectTimeout)
	defer cancel()

	conn, err := srvfunc.CachingDialer(ctx, "tcp", string(srv))
	if err != nil {
		s.conf.Dst.TempDisableHost(srv)
		return lineerror.NewCustom(lineerror.CodeConnect, "Could not connect", err.Error())
	}

	if s.conf.TLS != nil {
		cfg := s.conf.TLS.Clone()
		if cfg.ServerName == "" && !cfg.InsecureSkipVerify {
			host := string(srv)
			if idx := strings.LastIndexByte(host, ':'); idx >= 0 {
				host = host[:idx]
			}
			cfg.ServerName = host
		}

		tlsConn := tls.Client(conn, cfg)
		tlsConn.SetDeadline(time.Now().Add(defaultHandshakeTimeout))
		if err := tlsConn.Handshake(); err != nil {
			conn.Close()
			s.conf.Dst.TempDisableHost(srv)
			return lineerror.NewCustom(lineerror.CodeTLS, "TLS handshake failed", err.Error())
		}
		tlsConn.SetDeadline(time.Time{})
		conn = tlsConn
	}

	s.conn = conn
	s.srv = srv
	s.wroteSinceAuth = true

	if s.conf.Auth != nil {
		s.wroteSinceAuth = false
		if err := s.authenticate(); err != nil {
			s.closeConn()
			return err
		}
	}

	if s.conf.Debug {
		log.Printf("Connected to %s", srv)
	}

	return nil
}

// authenticate runs the challenge/response handshake: key id out, one
// newline-terminated challenge in, base64 signature out. The server never
// acknowledges: a bad signature shows up as a reset on the first write.
// I/O failures here are plain connection faults, the rejection itself is
// only visible later.
func (s *TCPSender) authenticate() error {
	s.conn.SetDeadline(time.Now().Add(defaultHandshakeTimeout))
	defer s.conn.SetDeadline(time.Time{})

	if _, err := io.WriteString(s.conn, s.conf.Auth.KeyID+"\n"); err != nil {
		return lineerror.NewCustom(lineerror.CodeConnect, "Could not send key id", err.Error())
	}

	rd := bufio.NewReader(s.conn)
	line, err := rd.ReadString('\n')
	if err != nil {
		return lineerror.NewCustom(lineerror.CodeConnect, "Could not read challenge", err.Error())
	}

	sig, err := s.conf.Auth.SignChallenge([]byte(line[:len(line)-1]))
	if err != nil {
		return err
	}

	if _, err := io.WriteString(s.conn, sig+"\n"); err != nil {
		return lineerror.NewCustom(lineerror.CodeConnect, "Could not send signature", err.Error())
	}

	return nil
}

// Flush writes body in a single blocking write. On any error the connection
// is dropped and the caller keeps the buffer, so it can reconnect and resend.
func (s *TCPSender) Flush(body []byte) error {
	if len(body) == 0 {
		return nil
	}

	if err := s.Connect(); err != nil {
		return err
	}

	s.conn.SetWriteDeadline(time.Now().Add(s.conf.WriteTimeout))

	start := time.Now()
	n, err := s.conn.Write(body)
	if err != nil || n < len(body) {
		authSuspect := !s.wroteSinceAuth && isConnReset(err)
		s.closeConn()
		s.conf.Dst.TempDisableHost(s.srv)

		if authSuspect {
			return lineerror.NewCustom(lineerror.CodeAuthRejected, "Server closed connection after auth handshake", "signature was likely rejected")
		}
		descr := "short write"
		if err != nil {
			descr = err.Error()
		}
		return lineerror.NewCustom(lineerror.CodeWriteAbort, "Could not send buffer", descr)
	}

	s.wroteSinceAuth = true

	if s.conf.Debug {
		log.Printf("Sent %d bytes to %s for %s", len(body), s.srv, time.Since(start))
	}

	return nil
}

// Close releases the connection. The sender may be reused: the next Flush
// reconnects.
func (s *TCPSender) Close() error {
	s.closeConn()
	return nil
}

func (s *TCPSender) closeConn() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func isConnReset(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
