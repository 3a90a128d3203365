// Package log writes the append-only move audit trail: JSON lines,
// zstd-compressed, rotated hourly.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"gridhold.gg/internal/engine"
)

type JSONLZstdWriter struct {
	baseDir  string
	prefix   string
	onRotate func(path string)

	mu      sync.Mutex
	curHour string
	curPath string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
	}
}

// OnRotate registers a callback invoked with the path of each finished log
// file, after it is flushed and closed. Must be set before the first Write.
func (w *JSONLZstdWriter) OnRotate(fn func(path string)) {
	w.onRotate = fn
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := time.Now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	dir := filepath.Dir(w.pathForHour(hour))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	w.curPath = w.pathForHour(hour)
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
		if w.onRotate != nil {
			w.onRotate(w.curPath)
		}
	}
	w.w = nil
	w.curHour = ""
	w.curPath = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// MoveLog records every committed move. Write errors are reported through
// onErr rather than failing the move itself.
type MoveLog struct {
	w     *JSONLZstdWriter
	onErr func(error)
}

func NewMoveLog(baseDir string, onErr func(error)) *MoveLog {
	return &MoveLog{
		w:     NewJSONLZstdWriter(baseDir, "moves"),
		onErr: onErr,
	}
}

// OnRotate registers a callback for finished log files, typically an offsite
// mirror enqueue. Must be set before the first move is logged.
func (l *MoveLog) OnRotate(fn func(path string)) {
	l.w.OnRotate(fn)
}

func (l *MoveLog) LogMove(e engine.MoveEntry) {
	if err := l.w.Write(e); err != nil && l.onErr != nil {
		l.onErr(err)
	}
}

func (l *MoveLog) Close() error {
	return l.w.Close()
}
