package buffer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/linehouse/linehouse/lineerror"
)

const (
	// DefaultMaxBufSize caps how much unflushed data a buffer may hold.
	DefaultMaxBufSize = 16 << 20

	initialBufSize = 64 << 10
)

type rowState int

const (
	stateClosed  rowState = iota // no row under construction
	stateTable                   // table name written, nothing else yet
	stateSymbols                 // at least one tag written
	stateColumns                 // at least one column written
)

// Conf holds buffer limits. Zero values select the defaults.
type Conf struct {
	MaxBufSize int
	MaxNameLen int
}

// Buffer accumulates newline-terminated protocol lines.
//
// Rows are built with Table followed by Symbol/column calls and closed with
// At or AtNow. Any error mid-row truncates the buffer back to the row start,
// so the visible content is always a sequence of complete lines and the
// caller can carry on with the next row.
//
// A Buffer is not safe for concurrent use.
type Buffer struct {
	conf Conf

	b        []byte
	rows     int
	rowStart int // length of the completed-rows region
	state    rowState
}

func New(conf Conf) *Buffer {
	if conf.MaxBufSize == 0 {
		conf.MaxBufSize = DefaultMaxBufSize
	}
	if conf.MaxNameLen == 0 {
		conf.MaxNameLen = DefaultMaxNameLen
	}
	return &Buffer{
		conf: conf,
		b:    make([]byte, 0, initialBufSize),
	}
}

// Len returns the byte length of completed rows. A row under construction is
// not counted.
func (b *Buffer) Len() int {
	return b.rowStart
}

// Rows returns the number of completed rows pending flush.
func (b *Buffer) Rows() int {
	return b.rows
}

// InProgress reports whether a row is currently under construction.
func (b *Buffer) InProgress() bool {
	return b.state != stateClosed
}

// Bytes returns the completed-rows region. The slice is only valid until the
// next append.
func (b *Buffer) Bytes() []byte {
	return b.b[:b.rowStart]
}

// Reset discards all content, completed rows included.
func (b *Buffer) Reset() {
	b.b = b.b[:0]
	b.rows = 0
	b.rowStart = 0
	b.state = stateClosed
}

// rollback discards the row under construction and fails it with err.
func (b *Buffer) rollback(err error) error {
	b.b = b.b[:b.rowStart]
	b.state = stateClosed
	return err
}

func orderError(descr string) error {
	return lineerror.NewCustom(lineerror.CodeRowOrder, "Row calls out of order", descr)
}

// CloseRow terminates the row under construction, if any, with a
// server-assigned timestamp. Rows are closed implicitly this way when a new
// row is begun or the buffer is flushed.
func (b *Buffer) CloseRow() error {
	switch b.state {
	case stateClosed:
		return nil
	case stateTable:
		return b.rollback(lineerror.NewCustom(lineerror.CodeInvalidValue, "Empty row", "a row needs at least one tag or column"))
	}
	return b.closeRow()
}

// Table starts a new row, implicitly closing the previous one.
func (b *Buffer) Table(name string) error {
	if err := b.CloseRow(); err != nil {
		return err
	}
	if err := ValidateTableName(name, b.conf.MaxNameLen); err != nil {
		return err
	}
	b.b = appendNameEscaped(b.b, name)
	b.state = stateTable
	return b.checkCap()
}

// Symbol appends a tag. Tags must come before any column.
func (b *Buffer) Symbol(name, value string) error {
	if b.state != stateTable && b.state != stateSymbols {
		if b.state == stateClosed {
			return orderError("Symbol called before Table")
		}
		return b.rollback(orderError("Symbol called after a column"))
	}
	if err := ValidateColumnName(name, b.conf.MaxNameLen); err != nil {
		return b.rollback(err)
	}
	b.b = append(b.b, ',')
	b.b = appendNameEscaped(b.b, name)
	b.b = append(b.b, '=')
	b.b = appendTagValueEscaped(b.b, value)
	b.state = stateSymbols
	return b.checkCap()
}

// StringColumn appends a double-quoted string field.
func (b *Buffer) StringColumn(name, value string) error {
	if err := b.beginColumn(name); err != nil {
		return err
	}
	b.b = appendStringFieldEscaped(b.b, value)
	return b.checkCap()
}

// Int64Column appends an integer field ('i' suffix on the wire).
func (b *Buffer) Int64Column(name string, value int64) error {
	if err := b.beginColumn(name); err != nil {
		return err
	}
	b.b = strconv.AppendInt(b.b, value, 10)
	b.b = append(b.b, 'i')
	return b.checkCap()
}

// Float64Column appends a float field using the shortest representation that
// parses back to the same value.
func (b *Buffer) Float64Column(name string, value float64) error {
	if err := b.beginColumn(name); err != nil {
		return err
	}
	b.b = strconv.AppendFloat(b.b, value, 'g', -1, 64)
	return b.checkCap()
}

// BoolColumn appends a boolean field ('t' or 'f' on the wire).
func (b *Buffer) BoolColumn(name string, value bool) error {
	if err := b.beginColumn(name); err != nil {
		return err
	}
	if value {
		b.b = append(b.b, 't')
	} else {
		b.b = append(b.b, 'f')
	}
	return b.checkCap()
}

// TimestampColumn appends a timestamp field as epoch microseconds with a 't'
// suffix. The designated row timestamp is set with At instead.
func (b *Buffer) TimestampColumn(name string, value time.Time) error {
	if err := b.beginColumn(name); err != nil {
		return err
	}
	b.b = strconv.AppendInt(b.b, value.UnixNano()/int64(time.Microsecond), 10)
	b.b = append(b.b, 't')
	return b.checkCap()
}

func (b *Buffer) beginColumn(name string) error {
	switch b.state {
	case stateClosed:
		return orderError("column called before Table")
	case stateTable, stateSymbols:
		b.b = append(b.b, ' ')
	case stateColumns:
		b.b = append(b.b, ',')
	}
	if err := ValidateColumnName(name, b.conf.MaxNameLen); err != nil {
		return b.rollback(err)
	}
	b.b = appendNameEscaped(b.b, name)
	b.b = append(b.b, '=')
	b.state = stateColumns
	return nil
}

// At closes the row with an explicit timestamp, written as epoch nanoseconds.
func (b *Buffer) At(ts time.Time) error {
	if err := b.beginClose(); err != nil {
		return err
	}
	b.b = append(b.b, ' ')
	b.b = strconv.AppendInt(b.b, ts.UnixNano(), 10)
	return b.closeRow()
}

// AtNow closes the row leaving timestamp assignment to the server.
func (b *Buffer) AtNow() error {
	if err := b.beginClose(); err != nil {
		return err
	}
	return b.closeRow()
}

func (b *Buffer) beginClose() error {
	switch b.state {
	case stateClosed:
		return orderError("At called before Table")
	case stateTable:
		return b.rollback(lineerror.NewCustom(lineerror.CodeInvalidValue, "Empty row", "a row needs at least one tag or column"))
	}
	return nil
}

func (b *Buffer) closeRow() error {
	b.b = append(b.b, '\n')
	if len(b.b) > b.conf.MaxBufSize {
		return b.rollback(overflowError(len(b.b), b.conf.MaxBufSize))
	}
	b.rowStart = len(b.b)
	b.rows++
	b.state = stateClosed
	return nil
}

// checkCap fails and rolls back the in-progress row once it cannot possibly
// fit, instead of letting a huge value grow the buffer unboundedly before the
// row is closed.
func (b *Buffer) checkCap() error {
	if len(b.b) >= b.conf.MaxBufSize {
		return b.rollback(overflowError(len(b.b), b.conf.MaxBufSize))
	}
	return nil
}

func overflowError(got, limit int) error {
	return lineerror.NewCustom(lineerror.CodeBufferOverflow, "Buffer overflow",
		fmt.Sprintf("%d bytes pending, limit is %d: flush before appending more rows", got, limit))
}
