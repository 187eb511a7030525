package core

// chunk.go reassembles uploaded files from sequenced byte chunks.
//
// Chunks are tagged with (token, file name, sequence). The total count is
// never announced; the client stops sending and calls finalize. Writes for
// one token are serialized by a per-token lock so retried or reordered
// requests cannot interleave. Different tokens never contend.
//
// Layout on disk: <dir>/<token>/<file name>.

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultMaxPendingChunks bounds how many out-of-order chunks are buffered per file.
const DefaultMaxPendingChunks = 64

// Chunk is one piece of an uploaded file.
type Chunk struct {
	Token    string
	FileName string
	Seq      int
	Data     []byte
}

// UploadedFile is a fully assembled file awaiting finalize.
type UploadedFile struct {
	Name string
	Path string
	Size int64
}

// ChunkAssembler writes chunks to disk in sequence order.
type ChunkAssembler struct {
	dir        string
	maxChunk   int64
	maxPending int

	locks keyedMutex

	mu      sync.Mutex
	uploads map[string]*chunkUpload
}

type chunkUpload struct {
	files   map[string]*chunkFile
	touched time.Time
}

type chunkFile struct {
	next    int
	size    int64
	pending map[int][]byte
}

// NewChunkAssembler creates an assembler rooted at dir.
// maxChunk <= 0 disables the per-chunk size limit.
func NewChunkAssembler(dir string, maxChunk int64) (*ChunkAssembler, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk dir: %w", err)
	}
	return &ChunkAssembler{
		dir:        dir,
		maxChunk:   maxChunk,
		maxPending: DefaultMaxPendingChunks,
		uploads:    make(map[string]*chunkUpload),
	}, nil
}

// ValidateToken checks that an upload token is a UUID.
func ValidateToken(token string) error {
	if token == "" {
		return invalidInput("upload token is required")
	}
	if _, err := uuid.Parse(token); err != nil {
		return invalidInput("malformed upload token %q", token)
	}
	return nil
}

func validateFileName(name string) error {
	if name == "" {
		return invalidInput("file name is required")
	}
	if name != filepath.Base(name) || name == "." || name == ".." {
		return invalidInput("file name %q must not contain a path", name)
	}
	return nil
}

// WriteChunk stores one chunk. Chunk 0 creates the file and restarts it if
// chunks were already written; later chunks append. Chunks ahead of the
// expected sequence are buffered until the gap closes. Any other chunk below
// the expected sequence is a retry and is ignored.
//
// Any I/O failure discards the whole upload and returns ErrUploadAborted.
func (a *ChunkAssembler) WriteChunk(ctx context.Context, c Chunk) error {
	if err := ValidateToken(c.Token); err != nil {
		return err
	}
	if err := validateFileName(c.FileName); err != nil {
		return err
	}
	if c.Seq < 0 {
		return invalidInput("negative chunk sequence %d", c.Seq)
	}
	if a.maxChunk > 0 && int64(len(c.Data)) > a.maxChunk {
		return invalidInput("chunk of %d bytes exceeds limit of %d", len(c.Data), a.maxChunk)
	}

	unlock := a.locks.Lock(c.Token)
	defer unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	up := a.upload(c.Token, true)
	up.touched = time.Now()

	f, ok := up.files[c.FileName]
	if !ok {
		f = &chunkFile{pending: make(map[int][]byte)}
		up.files[c.FileName] = f
	}

	switch {
	case c.Seq == 0 && f.next > 0:
		slog.Debug("upload restarted", "upload_token", c.Token, "file", c.FileName, "discarded_chunks", f.next+len(f.pending))
		f.next, f.size = 0, 0
		clear(f.pending)
	case c.Seq < f.next:
		slog.Debug("duplicate chunk ignored", "upload_token", c.Token, "file", c.FileName, "seq", c.Seq)
		return nil
	case c.Seq > f.next:
		if _, dup := f.pending[c.Seq]; dup {
			return nil
		}
		if len(f.pending) >= a.maxPending {
			return invalidInput("too many out-of-order chunks for %s", c.FileName)
		}
		f.pending[c.Seq] = append([]byte(nil), c.Data...)
		return nil
	}

	if err := a.appendChunk(c.Token, c.FileName, f, c.Data); err != nil {
		a.abort(c.Token)
		return fmt.Errorf("%w: %v", ErrUploadAborted, err)
	}
	for {
		data, ok := f.pending[f.next]
		if !ok {
			break
		}
		delete(f.pending, f.next)
		if err := a.appendChunk(c.Token, c.FileName, f, data); err != nil {
			a.abort(c.Token)
			return fmt.Errorf("%w: %v", ErrUploadAborted, err)
		}
	}
	return nil
}

// appendChunk writes data at the end of the file and advances the sequence.
// Caller holds the token lock.
func (a *ChunkAssembler) appendChunk(token, name string, f *chunkFile, data []byte) error {
	dir := filepath.Join(a.dir, token)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_APPEND
	if f.next == 0 {
		flags = os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	}
	fh, err := os.OpenFile(filepath.Join(dir, name), flags, 0o644)
	if err != nil {
		return err
	}
	n, err := fh.Write(data)
	if cerr := fh.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	f.size += int64(n)
	f.next++
	return nil
}

// Files returns the assembled files for a token in name order.
// Fails if there are none or if any file still has a gap.
func (a *ChunkAssembler) Files(token string) ([]UploadedFile, error) {
	if err := ValidateToken(token); err != nil {
		return nil, err
	}

	unlock := a.locks.Lock(token)
	defer unlock()

	up := a.upload(token, false)
	if up == nil || len(up.files) == 0 {
		return nil, invalidInput("no files uploaded for token %s", token)
	}

	names := make([]string, 0, len(up.files))
	for name := range up.files {
		names = append(names, name)
	}
	sort.Strings(names)

	files := make([]UploadedFile, 0, len(names))
	for _, name := range names {
		f := up.files[name]
		if f.next == 0 || len(f.pending) > 0 {
			return nil, fmt.Errorf("%w: %s is missing chunk %d", ErrIncompleteUpload, name, f.next)
		}
		files = append(files, UploadedFile{
			Name: name,
			Path: filepath.Join(a.dir, token, name),
			Size: f.size,
		})
	}
	return files, nil
}

// Discard removes all state and files for a token.
func (a *ChunkAssembler) Discard(token string) error {
	if err := ValidateToken(token); err != nil {
		return err
	}
	unlock := a.locks.Lock(token)
	defer unlock()
	return a.removeLocked(token)
}

// Sweep removes uploads that have not received a chunk within maxAge,
// including directories left behind by a previous process.
func (a *ChunkAssembler) Sweep(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return 0, fmt.Errorf("read chunk dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	var errs []error
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() || ValidateToken(e.Name()) != nil {
			continue
		}
		token := e.Name()
		seen[token] = true

		unlock := a.locks.Lock(token)
		stale := false
		if up := a.upload(token, false); up != nil {
			stale = up.touched.Before(cutoff)
		} else if info, err := e.Info(); err == nil {
			stale = info.ModTime().Before(cutoff)
		}
		if stale {
			if err := a.removeLocked(token); err != nil {
				errs = append(errs, err)
			} else {
				removed++
			}
		}
		unlock()
	}

	// Uploads holding only buffered chunks have no directory yet.
	a.mu.Lock()
	var memOnly []string
	for token := range a.uploads {
		if !seen[token] {
			memOnly = append(memOnly, token)
		}
	}
	a.mu.Unlock()

	for _, token := range memOnly {
		unlock := a.locks.Lock(token)
		if up := a.upload(token, false); up != nil && up.touched.Before(cutoff) {
			if err := a.removeLocked(token); err != nil {
				errs = append(errs, err)
			} else {
				removed++
			}
		}
		unlock()
	}
	return removed, errors.Join(errs...)
}

// abort drops an upload after an I/O failure. Caller holds the token lock.
func (a *ChunkAssembler) abort(token string) {
	if err := a.removeLocked(token); err != nil {
		slog.Warn("failed to clean aborted upload", "upload_token", token, "error", err)
	}
}

func (a *ChunkAssembler) removeLocked(token string) error {
	a.mu.Lock()
	delete(a.uploads, token)
	a.mu.Unlock()
	return os.RemoveAll(filepath.Join(a.dir, token))
}

func (a *ChunkAssembler) upload(token string, create bool) *chunkUpload {
	a.mu.Lock()
	defer a.mu.Unlock()

	up, ok := a.uploads[token]
	if !ok && create {
		up = &chunkUpload{files: make(map[string]*chunkFile)}
		a.uploads[token] = up
	}
	return up
}

// keyedMutex hands out one mutex per key and frees it when unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

// Lock blocks until key is held and returns its unlock function.
func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*refMutex)
	}
	m, ok := k.locks[key]
	if !ok {
		m = &refMutex{}
		k.locks[key] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}

// size returns the number of live keys.
func (k *keyedMutex) size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.locks)
}
