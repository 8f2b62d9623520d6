package protocol

import (
	"errors"
	"io"
)

const readChunkSize = 32 * 1024

type frameSizer interface {
	FrameSize(buf []byte) int
}

// frameScanner lets the reader skip Decode until a frame can be complete,
// resuming the search where the previous one stopped.
type frameScanner interface {
	ScanFrame(buf []byte, from int) (complete bool, next int)
}

// Reader accumulates bytes from a stream until the codec yields a frame.
//
// ReadFrame returns io.EOF once the stream ends on a frame boundary and
// io.ErrUnexpectedEOF if it ends inside a frame. Malformed frames are
// reported with an error wrapping ErrMalformed; the reader stays usable.
type Reader struct {
	src      io.Reader
	codec    Codec
	maxFrame int

	buf     []byte
	chunk   []byte
	err     error
	scanned int
}

// NewReader returns a Reader over src. A maxFrame of zero waits for a
// terminator indefinitely.
func NewReader(src io.Reader, codec Codec, maxFrame int) *Reader {
	return &Reader{
		src:      src,
		codec:    codec,
		maxFrame: maxFrame,
		chunk:    make([]byte, readChunkSize),
	}
}

func (r *Reader) ReadFrame() (Frame, error) {
	for {
		if len(r.buf) > 0 {
			if r.mayBeComplete() {
				f, rest, err := r.codec.Decode(r.buf)
				if !errors.Is(err, ErrIncomplete) {
					r.buf = append(r.buf[:0], rest...)
					r.scanned = 0
					return f, err
				}
			}
			if r.tooLarge() {
				return nil, ErrFrameTooLarge
			}
		}

		if r.err != nil {
			if errors.Is(r.err, io.EOF) && len(r.buf) > 0 {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, r.err
		}

		n, err := r.src.Read(r.chunk)
		r.buf = append(r.buf, r.chunk[:n]...)
		if err != nil {
			r.err = err
		}
	}
}

// Buffered reports how many bytes are held without forming a frame yet.
func (r *Reader) Buffered() int {
	return len(r.buf)
}

func (r *Reader) mayBeComplete() bool {
	s, ok := r.codec.(frameScanner)
	if !ok {
		return true
	}
	complete, next := s.ScanFrame(r.buf, r.scanned)
	r.scanned = next
	return complete
}

func (r *Reader) tooLarge() bool {
	if r.maxFrame <= 0 {
		return false
	}
	if s, ok := r.codec.(frameSizer); ok {
		if size := s.FrameSize(r.buf); size > r.maxFrame {
			return true
		}
	}
	return len(r.buf) > r.maxFrame
}
