package linehouse

import (
	"time"

	"github.com/linehouse/linehouse/buffer"
	"github.com/linehouse/linehouse/deliver"
	"github.com/linehouse/linehouse/destination"
	"github.com/linehouse/linehouse/lineerror"
	"github.com/linehouse/linehouse/spill"
)

// transport is the capability set shared by the two sender variants.
type transport interface {
	Connect() error
	Flush(body []byte) error
	Close() error
}

// Sender buffers rows and delivers them to the configured server.
//
// Rows are built with Table followed by Symbol and column calls and closed
// with At or AtNow. Completed rows accumulate in an internal buffer which is
// sent on Flush, or automatically when a configured watermark (bytes, rows or
// elapsed time) is reached. Auto-flush runs synchronously inside the
// row-closing call: a blocking network write blocks the caller, there is no
// background goroutine.
//
// A Sender owns at most one connection and is not safe for concurrent use.
type Sender struct {
	conf Config

	buf       *buffer.Buffer
	transport transport
	journal   *spill.Journal

	lastFlush time.Time
	closed    bool
}

// New builds a Sender from conf. No network I/O happens here: the connection
// is established lazily on the first flush, or eagerly via Connect.
func New(conf Config) (*Sender, error) {
	conf, err := conf.withDefaults()
	if err != nil {
		return nil, err
	}

	dst, err := destination.Parse(conf.Address)
	if err != nil {
		return nil, confError(err.Error())
	}

	tlsConf := deliver.TLSConf{Mode: deliver.TLSDisabled}
	if conf.Protocol == ProtocolTCPS || conf.Protocol == ProtocolHTTPS {
		switch {
		case conf.SkipVerify:
			tlsConf.Mode = deliver.TLSInsecureSkipVerify
		case conf.CACertPath != "" || len(conf.CACertPEM) > 0:
			tlsConf.Mode = deliver.TLSCustomCA
			tlsConf.CACertPath = conf.CACertPath
			tlsConf.CACertPEM = conf.CACertPEM
		default:
			tlsConf.Mode = deliver.TLSVerify
		}
	}
	tlsCfg, err := tlsConf.Build()
	if err != nil {
		return nil, err
	}

	s := &Sender{
		conf: conf,
		buf: buffer.New(buffer.Conf{
			MaxBufSize: conf.MaxBufferSize,
			MaxNameLen: conf.MaxNameLength,
		}),
		lastFlush: time.Now(),
	}

	switch conf.Protocol {
	case ProtocolTCP, ProtocolTCPS:
		var key *deliver.AuthKey
		if conf.AuthKeyID != "" {
			if key, err = deliver.ParseAuthKey(conf.AuthKeyID, conf.AuthToken); err != nil {
				return nil, err
			}
		}
		s.transport = deliver.NewTCP(deliver.TCPConf{
			Dst:            dst,
			TLS:            tlsCfg,
			Auth:           key,
			ConnectTimeout: conf.ConnectTimeout,
			WriteTimeout:   conf.WriteTimeout,
			Debug:          conf.Debug,
		})

	case ProtocolHTTP, ProtocolHTTPS:
		authHeader := ""
		if conf.Token != "" {
			authHeader = deliver.BearerAuthHeader(conf.Token)
		} else if conf.User != "" {
			authHeader = deliver.BasicAuthHeader(conf.User, conf.Password)
		}
		s.transport = deliver.NewHTTP(deliver.HTTPConf{
			Dst:               dst,
			TLS:               tlsCfg,
			AuthHeader:        authHeader,
			Path:              conf.RequestPath,
			ConnectTimeout:    conf.ConnectTimeout,
			RequestTimeout:    conf.RequestTimeout,
			MinThroughput:     conf.MinThroughput,
			RetryTimeout:      conf.RetryTimeout,
			RetryableStatuses: conf.RetryableStatuses,
			GzipBody:          conf.GzipBody,
			Debug:             conf.Debug,
		})
	}

	if conf.SpillDir != "" {
		if s.journal, err = spill.Open(conf.SpillDir); err != nil {
			return nil, err
		}
	}

	return s, nil
}

var errClosed = lineerror.NewCustom(lineerror.CodeRowOrder, "Sender is closed", "")

// Table starts a new row, implicitly closing the previous one.
func (s *Sender) Table(name string) error {
	if s.closed {
		return errClosed
	}
	return s.buf.Table(name)
}

// Symbol appends a tag. Tags must come before columns.
func (s *Sender) Symbol(name, value string) error {
	return s.buf.Symbol(name, value)
}

// StringColumn appends a string field.
func (s *Sender) StringColumn(name, value string) error {
	return s.buf.StringColumn(name, value)
}

// Int64Column appends an integer field.
func (s *Sender) Int64Column(name string, value int64) error {
	return s.buf.Int64Column(name, value)
}

// Float64Column appends a float field.
func (s *Sender) Float64Column(name string, value float64) error {
	return s.buf.Float64Column(name, value)
}

// BoolColumn appends a boolean field.
func (s *Sender) BoolColumn(name string, value bool) error {
	return s.buf.BoolColumn(name, value)
}

// TimestampColumn appends a timestamp field.
func (s *Sender) TimestampColumn(name string, value time.Time) error {
	return s.buf.TimestampColumn(name, value)
}

// At closes the row with an explicit timestamp and runs the auto-flush
// policy.
func (s *Sender) At(ts time.Time) error {
	if err := s.buf.At(ts); err != nil {
		return err
	}
	return s.maybeAutoFlush()
}

// AtNow closes the row with a server-assigned timestamp and runs the
// auto-flush policy.
func (s *Sender) AtNow() error {
	if err := s.buf.AtNow(); err != nil {
		return err
	}
	return s.maybeAutoFlush()
}

// maybeAutoFlush flushes when a watermark is hit. It only decides; the I/O is
// the same synchronous Flush the caller could do.
func (s *Sender) maybeAutoFlush() error {
	if s.conf.DisableAutoFlush {
		return nil
	}

	due := (s.conf.FlushBytes > 0 && s.buf.Len() >= s.conf.FlushBytes) ||
		(s.conf.FlushRows > 0 && s.buf.Rows() >= s.conf.FlushRows) ||
		(s.conf.FlushInterval > 0 && s.buf.Rows() > 0 && time.Since(s.lastFlush) >= s.conf.FlushInterval)

	if !due {
		return nil
	}
	return s.Flush()
}

// Connect eagerly establishes the connection (and runs the TCP handshake).
// Optional: the first Flush connects on demand.
func (s *Sender) Connect() error {
	if s.closed {
		return errClosed
	}
	return s.transport.Connect()
}

// Flush sends all buffered rows. A row still under construction is closed
// first with a server-assigned timestamp. On success the buffer is emptied;
// on any failure it is left byte-identical so the caller can retry, inspect
// or Spill it.
func (s *Sender) Flush() error {
	if s.closed {
		return errClosed
	}
	if err := s.buf.CloseRow(); err != nil {
		return err
	}
	if s.buf.Rows() == 0 {
		s.lastFlush = time.Now()
		return nil
	}

	if err := s.transport.Flush(s.buf.Bytes()); err != nil {
		return err
	}

	s.buf.Reset()
	s.lastFlush = time.Now()
	return nil
}

// Len returns the byte size of buffered (completed) rows.
func (s *Sender) Len() int {
	return s.buf.Len()
}

// Rows returns the number of buffered rows.
func (s *Sender) Rows() int {
	return s.buf.Rows()
}

// Reset discards all buffered rows without sending them.
func (s *Sender) Reset() {
	s.buf.Reset()
}

// Spill appends the buffered rows to the on-disk journal and empties the
// buffer. Needs SpillDir configured.
func (s *Sender) Spill() error {
	if s.journal == nil {
		return confError("spilling needs SpillDir configured")
	}
	if err := s.buf.CloseRow(); err != nil {
		return err
	}
	if s.buf.Rows() == 0 {
		return nil
	}
	if err := s.journal.Write(s.buf.Bytes()); err != nil {
		return err
	}
	s.buf.Reset()
	return nil
}

// Recover replays spilled flushes through the transport, oldest first.
// Frames that were sent are removed from the journal; the first failure
// stops the replay and keeps the rest on disk.
func (s *Sender) Recover() error {
	if s.journal == nil {
		return confError("recovery needs SpillDir configured")
	}
	if s.closed {
		return errClosed
	}
	return s.journal.Replay(s.transport.Flush)
}

// Close releases the connection and the journal. Buffered rows are not
// flushed: call Flush first if they must be delivered.
func (s *Sender) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	err := s.transport.Close()
	if s.journal != nil {
		if jerr := s.journal.Close(); err == nil {
			err = jerr
		}
	}
	return err
}
