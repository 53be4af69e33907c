package log

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/zstd"

	"boiding.ai/internal/sim/authority"
)

const (
	fileSuffix = ".jsonl.zst"
	hourLayout = "2006-01-02-15"

	// The encoder holds data until flushed; bound how much a crash can lose.
	flushEvery    = 256
	flushInterval = time.Second
)

// JSONLZstdWriter appends JSON lines to hourly zstd files named
// <prefix>-YYYY-MM-DD-HH.jsonl.zst under baseDir. Reopening an existing hour
// appends a new zstd frame, which readers decode transparently.
type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu        sync.Mutex
	curHour   string
	f         *os.File
	enc       *zstd.Encoder
	w         *bufio.Writer
	pending   int
	lastFlush time.Time

	onClose func(path string)

	written atomic.Uint64
	failed  atomic.Uint64
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{baseDir: baseDir, prefix: prefix, now: time.Now}
}

func (w *JSONLZstdWriter) Write(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		w.failed.Add(1)
		return err
	}

	w.mu.Lock()
	closed, err := w.writeLocked(b)
	w.mu.Unlock()
	w.notify(closed)
	if err != nil {
		w.failed.Add(1)
	}
	return err
}

// OnClose registers fn to be called with the path of every file the writer
// finishes, on rotation and on Close. fn runs outside the writer's lock.
func (w *JSONLZstdWriter) OnClose(fn func(path string)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onClose = fn
}

func (w *JSONLZstdWriter) writeLocked(b []byte) (closed string, err error) {
	now := w.now()
	if hour := now.UTC().Format(hourLayout); hour != w.curHour {
		closed, err = w.rotateLocked(hour)
		if err != nil {
			return closed, err
		}
	}
	if _, err := w.w.Write(b); err != nil {
		return closed, err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return closed, err
	}
	w.written.Add(1)
	w.pending++
	if w.pending >= flushEvery || now.Sub(w.lastFlush) >= flushInterval {
		return closed, w.flushLocked(now)
	}
	return closed, nil
}

// Flush pushes buffered lines through the encoder to the file.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked(w.now())
}

func (w *JSONLZstdWriter) flushLocked(now time.Time) error {
	if w.w == nil {
		return nil
	}
	w.pending = 0
	w.lastFlush = now
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	closed, err := w.closeLocked()
	w.mu.Unlock()
	w.notify(closed)
	return err
}

func (w *JSONLZstdWriter) Written() uint64 { return w.written.Load() }
func (w *JSONLZstdWriter) Failed() uint64  { return w.failed.Load() }

func (w *JSONLZstdWriter) notify(path string) {
	if path == "" {
		return
	}
	w.mu.Lock()
	fn := w.onClose
	w.mu.Unlock()
	if fn != nil {
		fn(path)
	}
}

func (w *JSONLZstdWriter) rotateLocked(hour string) (string, error) {
	closed, err := w.closeLocked()
	if err != nil {
		return closed, err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return closed, err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return closed, err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return closed, err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 64*1024)
	w.curHour = hour
	w.pending = 0
	w.lastFlush = w.now()
	return closed, nil
}

// closeLocked finishes the current file and returns its path, or "" when no
// file was open.
func (w *JSONLZstdWriter) closeLocked() (string, error) {
	if w.f == nil {
		return "", nil
	}
	path := w.f.Name()
	var err error
	if w.w != nil {
		err = w.w.Flush()
		w.w = nil
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	w.curHour = ""
	return path, err
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s%s", w.prefix, hour, fileSuffix))
}

// Journal records every message the authority processed. It is write-only
// at runtime; nothing is restored from it at boot.
type Journal struct{ w *JSONLZstdWriter }

func NewJournal(dataDir string) *Journal {
	return &Journal{w: NewJSONLZstdWriter(JournalDir(dataDir), "journal")}
}

func JournalDir(dataDir string) string { return filepath.Join(dataDir, "journal") }

func (j *Journal) WriteEntry(e authority.JournalEntry) error { return j.w.Write(e) }
func (j *Journal) Flush() error                              { return j.w.Flush() }
func (j *Journal) Close() error                              { return j.w.Close() }
func (j *Journal) Written() uint64                           { return j.w.Written() }
func (j *Journal) Failed() uint64                            { return j.w.Failed() }

// OnSegmentClosed registers fn for every journal file that is finished.
func (j *Journal) OnSegmentClosed(fn func(path string)) { j.w.OnClose(fn) }

// JournalFiles lists journal files in dir, oldest first.
func JournalFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ReadJournal streams the entries of one journal file to fn, stopping at the
// first error fn returns.
func ReadJournal(path string, fn func(authority.JournalEntry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var e authority.JournalEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	// The newest file may still be open, ending mid-frame.
	if err := sc.Err(); err != nil && !errors.Is(err, io.ErrUnexpectedEOF) {
		return err
	}
	return nil
}
