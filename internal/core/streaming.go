package core

// streaming.go wraps submission file readers for decoding.
//
// Files exported from spreadsheet tools on Windows often start with a UTF-8
// byte order mark, which encoding/json rejects. Invalid UTF-8 inside strings
// is already replaced with U+FFFD by the decoder, so only the BOM needs
// handling here. Byte counts drive parse-stage progress.

import (
	"bufio"
	"bytes"
	"io"
	"sync/atomic"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// SkipBOM returns a reader positioned after a leading UTF-8 BOM, if any.
func SkipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

// CountingReader tracks bytes read for progress reporting.
type CountingReader struct {
	reader io.Reader
	read   atomic.Int64
	Total  int64 // 0 if unknown
}

// NewCountingReader creates a counting reader with optional total size.
func NewCountingReader(r io.Reader, total int64) *CountingReader {
	return &CountingReader{reader: r, Total: total}
}

func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// BytesRead returns the number of bytes consumed so far.
func (r *CountingReader) BytesRead() int64 {
	return r.read.Load()
}

// Percent returns read progress (0-100), or 0 if the total is unknown.
func (r *CountingReader) Percent() int {
	if r.Total <= 0 {
		return 0
	}
	p := int(r.read.Load() * 100 / r.Total)
	if p > 100 {
		p = 100
	}
	return p
}

// WrapForDecoding counts raw bytes and strips the BOM.
// The counter sits below the BOM skipper so Percent reflects file size.
func WrapForDecoding(r io.Reader, total int64) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r, total)
	return SkipBOM(counter), counter
}
