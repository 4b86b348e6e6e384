package deliver

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"math/rand"
	"net"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"
	"github.com/valyala/fasthttp"
	"github.com/vkcom/engine-go/srvfunc"

	"github.com/linehouse/linehouse/destination"
	"github.com/linehouse/linehouse/lineerror"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultRetryMinDelay  = 10 * time.Millisecond
	defaultRetryMaxDelay  = time.Second
	defaultMinThroughput  = 100 << 10 // bytes per second

	contentTypeLine = "text/plain; charset=utf-8"
)

// DefaultRetryableStatuses lists server responses treated as transient
// overload: internal errors and the assorted timeout/overload codes.
var DefaultRetryableStatuses = []int{500, 503, 504, 507, 509, 523, 524, 529, 599}

// HTTPConf configures an HTTPSender. Immutable after NewHTTP.
type HTTPConf struct {
	Dst *destination.Setting

	// TLS switches the scheme to https when non-nil.
	TLS *tls.Config

	// AuthHeader is a prebuilt Authorization value ("Basic …" or
	// "Bearer …"), empty for no authentication.
	AuthHeader string

	// Path of the ingestion endpoint, e.g. "/write".
	Path string

	ConnectTimeout time.Duration
	RequestTimeout time.Duration

	// MinThroughput extends the per-request deadline for large bodies:
	// deadline = RequestTimeout + len(body)/MinThroughput.
	MinThroughput int

	// RetryTimeout bounds the total time spent retrying one flush.
	// Zero disables retries entirely.
	RetryTimeout  time.Duration
	RetryMinDelay time.Duration
	RetryMaxDelay time.Duration

	// RetryableStatuses overrides DefaultRetryableStatuses.
	RetryableStatuses []int

	// GzipBody compresses request bodies and sets Content-Encoding.
	GzipBody bool

	Debug bool
}

// HTTPSender delivers each flush as one POST whose body is the raw buffer
// content. Transient failures are retried with exponential backoff; every
// retry resubmits identical bytes, so delivery is at-least-once.
//
// Not safe for concurrent use.
type HTTPSender struct {
	conf   HTTPConf
	client *fasthttp.Client
	scheme string
}

// serverError is the diagnostics document ingestion endpoints put into
// rejection bodies.
type serverError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Line    int    `json:"line"`
	ErrorID string `json:"errorId"`
}

// NewHTTP prepares a sender. No network I/O happens until the first Flush.
func NewHTTP(conf HTTPConf) *HTTPSender {
	if conf.Path == "" {
		conf.Path = "/write"
	}
	if conf.ConnectTimeout == 0 {
		conf.ConnectTimeout = defaultConnectTimeout
	}
	if conf.RequestTimeout == 0 {
		conf.RequestTimeout = defaultRequestTimeout
	}
	if conf.MinThroughput == 0 {
		conf.MinThroughput = defaultMinThroughput
	}
	if conf.RetryMinDelay == 0 {
		conf.RetryMinDelay = defaultRetryMinDelay
	}
	if conf.RetryMaxDelay == 0 {
		conf.RetryMaxDelay = defaultRetryMaxDelay
	}
	if conf.RetryableStatuses == nil {
		conf.RetryableStatuses = DefaultRetryableStatuses
	}

	scheme := "http"
	if conf.TLS != nil {
		scheme = "https"
	}

	connectTimeout := conf.ConnectTimeout
	return &HTTPSender{
		conf:   conf,
		scheme: scheme,
		client: &fasthttp.Client{
			TLSConfig:           conf.TLS,
			MaxIdleConnDuration: time.Minute,
			Dial: func(addr string) (net.Conn, error) {
				ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
				defer cancel()
				return srvfunc.CachingDialer(ctx, "tcp", addr)
			},
		},
	}
}

// Connect is a no-op: HTTP connections are established per request and kept
// alive by the client.
func (s *HTTPSender) Connect() error {
	return nil
}

// Flush posts body, retrying transient failures until the retry budget runs
// out. The caller keeps the buffer until a terminal outcome and clears it on
// success or non-retryable rejection.
func (s *HTTPSender) Flush(body []byte) error {
	if len(body) == 0 {
		return nil
	}

	if s.conf.GzipBody {
		var err error
		if body, err = gzipBody(body); err != nil {
			return err
		}
	}

	retryDeadline := time.Now().Add(s.conf.RetryTimeout)
	delay := s.conf.RetryMinDelay

	for attempt := 0; ; attempt++ {
		srv, ok := s.conf.Dst.ChooseNextServer()
		if !ok {
			return lineerror.NewCustom(lineerror.CodeConnect, "No servers available", "")
		}

		retryable, err := s.post(srv, body)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}

		s.conf.Dst.TempDisableHost(srv)

		if s.conf.RetryTimeout == 0 || time.Now().Add(delay).After(retryDeadline) {
			if attempt == 0 {
				return err
			}
			return lineerror.NewCustom(lineerror.CodeRetryTimeout, "Retries exhausted",
				fmt.Sprintf("%d attempts, last error: %s", attempt+1, err.Error()))
		}

		if s.conf.Debug {
			log.Printf("Retrying flush in %s after: %s", delay, err.Error())
		}

		jitter := time.Duration(rand.Int63n(int64(10 * time.Millisecond)))
		time.Sleep(delay + jitter)

		delay *= 2
		if delay > s.conf.RetryMaxDelay {
			delay = s.conf.RetryMaxDelay
		}
	}
}

func (s *HTTPSender) post(srv destination.ServerHostPort, body []byte) (retryable bool, err error) {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(fmt.Sprintf("%s://%s%s", s.scheme, srv, s.conf.Path))
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(contentTypeLine)
	if s.conf.AuthHeader != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, s.conf.AuthHeader)
	}
	if s.conf.GzipBody {
		req.Header.Set(fasthttp.HeaderContentEncoding, "gzip")
	}
	req.SetBodyRaw(body)

	grace := time.Duration(len(body)) * time.Second / time.Duration(s.conf.MinThroughput)
	deadline := time.Now().Add(s.conf.RequestTimeout + grace)

	start := time.Now()
	if err := s.client.DoDeadline(req, resp, deadline); err != nil {
		return true, lineerror.NewCustom(lineerror.CodeConnect, "Could not post buffer", err.Error())
	}

	code := resp.StatusCode()

	if code >= 200 && code < 300 {
		if s.conf.Debug {
			log.Printf("Sent %d bytes to %s for %s", len(body), srv, time.Since(start))
		}
		return false, nil
	}

	for _, retryCode := range s.conf.RetryableStatuses {
		if code == retryCode {
			return true, lineerror.NewCustom(lineerror.CodeWriteAbort,
				fmt.Sprintf("Server returned HTTP code %d", code), "")
		}
	}

	if code == fasthttp.StatusUnauthorized || code == fasthttp.StatusForbidden {
		return false, lineerror.NewCustom(lineerror.CodeAuthRejected,
			fmt.Sprintf("Server rejected credentials with HTTP code %d", code), "")
	}

	return false, lineerror.NewCustom(lineerror.CodeServerRejected,
		fmt.Sprintf("Server returned HTTP code %d", code), rejectionDescr(resp.Body()))
}

// rejectionDescr extracts human-readable diagnostics from an error body,
// falling back to the raw (truncated) body when it is not the usual JSON
// document.
func rejectionDescr(body []byte) string {
	var se serverError
	if err := json.Unmarshal(body, &se); err == nil && se.Message != "" {
		if se.Line > 0 {
			return fmt.Sprintf("%s (line %d)", se.Message, se.Line)
		}
		return se.Message
	}

	if len(body) > 1024 {
		body = body[:1024]
	}
	return string(body)
}

// Close drops idle keep-alive connections.
func (s *HTTPSender) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func gzipBody(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return nil, lineerror.NewCustom(lineerror.CodeWriteAbort, "Could not compress body", err.Error())
	}
	if err := zw.Close(); err != nil {
		return nil, lineerror.NewCustom(lineerror.CodeWriteAbort, "Could not compress body", err.Error())
	}
	return buf.Bytes(), nil
}
