// Package spill keeps flush bodies that could not be delivered in an on-disk
// journal, so that a crashing or restarting caller does not lose them. Frames
// are lz4-compressed and crc-checked; replay pushes them back through the
// active transport.
package spill

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/pierrec/lz4"

	"github.com/linehouse/linehouse/lineerror"
)

const (
	ErrCodeOpen    = 600
	ErrCodeWrite   = 601
	ErrCodeCorrupt = 602

	journalName = "pending.spill"
	lockName    = "run.lock"

	frameHeaderSize = 13 // flags + dataLen + rawLen + crc
	flagRaw         = 1  // frame stored uncompressed (lz4 gave no gain)

	maxFrameSize = 64 << 20
)

var fileHeader = []byte("#linehouse-spill-v1\n")

// Journal is an append-only spill file. A lock file guards the directory
// against concurrent instances.
type Journal struct {
	dir string

	mu     sync.Mutex
	fp     *os.File
	lockFp *os.File
}

// Open creates or reopens the journal in dir. The directory is created if
// missing.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0777); err != nil {
		return nil, lineerror.NewCustom(ErrCodeOpen, "Could not create spill dir", err.Error())
	}

	lockFp, err := os.OpenFile(filepath.Join(dir, lockName), os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		return nil, lineerror.NewCustom(ErrCodeOpen, "Could not create lock file", err.Error())
	}
	if err := syscall.Flock(int(lockFp.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFp.Close()
		return nil, lineerror.NewCustom(ErrCodeOpen, "Another instance is already spilling to this dir", err.Error())
	}

	fp, err := os.OpenFile(filepath.Join(dir, journalName), os.O_CREATE|os.O_RDWR, 0666)
	if err != nil {
		lockFp.Close()
		return nil, lineerror.NewCustom(ErrCodeOpen, "Could not open journal", err.Error())
	}

	j := &Journal{dir: dir, fp: fp, lockFp: lockFp}
	if err := j.checkHeader(); err != nil {
		j.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) checkHeader() error {
	st, err := j.fp.Stat()
	if err != nil {
		return lineerror.NewCustom(ErrCodeOpen, "Could not stat journal", err.Error())
	}

	if st.Size() == 0 {
		if _, err := j.fp.Write(fileHeader); err != nil {
			return lineerror.NewCustom(ErrCodeWrite, "Could not write journal header", err.Error())
		}
		return nil
	}

	hdr := make([]byte, len(fileHeader))
	if _, err := j.fp.ReadAt(hdr, 0); err != nil || string(hdr) != string(fileHeader) {
		return lineerror.NewCustom(ErrCodeCorrupt, "Journal has unknown header", j.fp.Name())
	}

	if _, err := j.fp.Seek(0, io.SeekEnd); err != nil {
		return lineerror.NewCustom(ErrCodeOpen, "Could not seek journal", err.Error())
	}
	return nil
}

// Write appends one flush body as a single frame and syncs it to disk.
func (j *Journal) Write(body []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.writeFrame(body)
}

// writeFrame is Write without the lock, for use from rewrite.
func (j *Journal) writeFrame(body []byte) error {
	if len(body) == 0 {
		return nil
	}
	if len(body) > maxFrameSize {
		return lineerror.NewCustom(ErrCodeWrite, "Spill body too large", fmt.Sprintf("%d bytes, limit %d", len(body), maxFrameSize))
	}
	if j.fp == nil {
		return lineerror.NewCustom(ErrCodeWrite, "Journal is closed", "")
	}

	frame := make([]byte, frameHeaderSize, frameHeaderSize+lz4.CompressBlockBound(len(body)))
	compressed := frame[frameHeaderSize:cap(frame)]

	n, _ := lz4.CompressBlock(body, compressed, nil)
	if n == 0 || n >= len(body) {
		// incompressible, store as is
		frame[0] = flagRaw
		frame = append(frame, body...)
		n = len(body)
	} else {
		frame = frame[:frameHeaderSize+n]
	}

	binary.LittleEndian.PutUint32(frame[1:5], uint32(n))
	binary.LittleEndian.PutUint32(frame[5:9], uint32(len(body)))
	binary.LittleEndian.PutUint32(frame[9:13], crc32.Update(0, crc32.IEEETable, body))

	if _, err := j.fp.Write(frame); err != nil {
		return lineerror.NewCustom(ErrCodeWrite, "Could not write journal frame", err.Error())
	}
	if err := j.fp.Sync(); err != nil {
		return lineerror.NewCustom(ErrCodeWrite, "Could not sync journal", err.Error())
	}
	return nil
}

// Pending returns the number of frames waiting for replay.
func (j *Journal) Pending() (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	frames, err := j.readFrames()
	if err != nil {
		return 0, err
	}
	return len(frames), nil
}

// Replay feeds every pending frame to send, oldest first. Frames accepted by
// send are removed from the journal; on the first send error the remaining
// frames (the failed one included) are kept and the error is returned.
func (j *Journal) Replay(send func([]byte) error) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	frames, err := j.readFrames()
	if err != nil {
		return err
	}

	for i, body := range frames {
		if err := send(body); err != nil {
			// the send error is the one the caller can act on; the
			// survivor rewrite is best effort
			j.rewrite(frames[i:])
			return err
		}
	}

	return j.rewrite(nil)
}

func (j *Journal) readFrames() ([][]byte, error) {
	if j.fp == nil {
		return nil, lineerror.NewCustom(ErrCodeOpen, "Journal is closed", "")
	}

	st, err := j.fp.Stat()
	if err != nil {
		return nil, lineerror.NewCustom(ErrCodeOpen, "Could not stat journal", err.Error())
	}

	raw := make([]byte, st.Size()-int64(len(fileHeader)))
	if len(raw) == 0 {
		return nil, nil
	}
	if _, err := j.fp.ReadAt(raw, int64(len(fileHeader))); err != nil {
		return nil, lineerror.NewCustom(ErrCodeOpen, "Could not read journal", err.Error())
	}

	var frames [][]byte
	for off := 0; off < len(raw); {
		if len(raw)-off < frameHeaderSize {
			return nil, corruptError(j.fp.Name(), off, "truncated frame header")
		}

		flags := raw[off]
		dataLen := int(binary.LittleEndian.Uint32(raw[off+1 : off+5]))
		rawLen := int(binary.LittleEndian.Uint32(raw[off+5 : off+9]))
		crc := binary.LittleEndian.Uint32(raw[off+9 : off+13])
		off += frameHeaderSize

		if dataLen <= 0 || rawLen <= 0 || rawLen > maxFrameSize || len(raw)-off < dataLen {
			return nil, corruptError(j.fp.Name(), off, "bad frame length")
		}

		var body []byte
		if flags&flagRaw != 0 {
			body = append([]byte(nil), raw[off:off+dataLen]...)
		} else {
			body = make([]byte, rawLen)
			n, err := lz4.UncompressBlock(raw[off:off+dataLen], body)
			if err != nil || n != rawLen {
				return nil, corruptError(j.fp.Name(), off, "frame does not decompress")
			}
		}
		off += dataLen

		if crc32.Update(0, crc32.IEEETable, body) != crc {
			return nil, corruptError(j.fp.Name(), off, "crc mismatch")
		}

		frames = append(frames, body)
	}

	return frames, nil
}

// rewrite replaces journal content with the given frames: truncate to the
// header and append the survivors again.
func (j *Journal) rewrite(frames [][]byte) error {
	if err := j.fp.Truncate(int64(len(fileHeader))); err != nil {
		return lineerror.NewCustom(ErrCodeWrite, "Could not truncate journal", err.Error())
	}
	if _, err := j.fp.Seek(0, io.SeekEnd); err != nil {
		return lineerror.NewCustom(ErrCodeWrite, "Could not seek journal", err.Error())
	}

	for _, body := range frames {
		if err := j.writeFrame(body); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the journal and the directory lock. Pending frames stay on
// disk for the next Open.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.fp != nil {
		j.fp.Close()
		j.fp = nil
	}
	if j.lockFp != nil {
		syscall.Flock(int(j.lockFp.Fd()), syscall.LOCK_UN)
		j.lockFp.Close()
		j.lockFp = nil
	}
	return nil
}

func corruptError(name string, off int, why string) error {
	return lineerror.NewCustom(ErrCodeCorrupt, "Journal is corrupt",
		fmt.Sprintf("%s at offset %d: %s", name, off, why))
}
