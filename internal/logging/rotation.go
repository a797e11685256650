package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
)

// RotatingWriter is a size-based log file rotator that also tags the
// previous streaming attempt's log by session id. A GFN session typically
// runs to completion well under the size-rotation threshold, so without
// session tagging a failed attempt's log is usually still sitting
// unrotated in the active file when the next `run` appends to it — making
// post-mortem diagnosis of "why did session X end" impossible once a
// second attempt has started. It implements io.Writer and is safe for
// concurrent use.
type RotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	filePath   string
	maxSize    int64 // bytes
	maxBackups int
	written    int64

	sessionBackups []string // oldest first
}

// NewRotatingWriter creates a writer that rotates when maxSizeMB is exceeded.
// maxBackups controls how many old log files to keep.
func NewRotatingWriter(filePath string, maxSizeMB int, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = 50
	}
	if maxBackups <= 0 {
		maxBackups = 3
	}

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	rw := &RotatingWriter{
		filePath:   filePath,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
	}

	if err := rw.openFile(); err != nil {
		return nil, err
	}

	return rw, nil
}

// Write implements io.Writer. Rotates the file if maxSize is exceeded.
func (rw *RotatingWriter) Write(p []byte) (int, error) {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.written+int64(len(p)) > rw.maxSize {
		if err := rw.rotate(); err != nil {
			return 0, fmt.Errorf("log rotation: %w", err)
		}
	}

	n, err := rw.file.Write(p)
	rw.written += int64(n)
	return n, err
}

// Reopen closes and reopens the log file without tagging or discarding its
// current contents, for an external log-rotation tool that has already
// moved the file out from under us.
func (rw *RotatingWriter) Reopen() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file != nil {
		rw.file.Close()
	}
	return rw.openFile()
}

// RotateForSession tags the current log file with sessionID and opens a
// fresh one in its place, so a completed streaming attempt's log survives
// the next one starting. Backups beyond maxBackups are pruned oldest
// first, same retention budget as the size-based numeric rotation.
func (rw *RotatingWriter) RotateForSession(sessionID string) error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file != nil {
		rw.file.Close()
	}

	backupPath := fmt.Sprintf("%s.session-%s", rw.filePath, sanitizeSessionTag(sessionID))
	if err := os.Rename(rw.filePath, backupPath); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("tag previous session log: %w", err)
		}
	} else {
		rw.sessionBackups = append(rw.sessionBackups, backupPath)
		for len(rw.sessionBackups) > rw.maxBackups {
			os.Remove(rw.sessionBackups[0])
			rw.sessionBackups = rw.sessionBackups[1:]
		}
	}

	return rw.openFile()
}

// sanitizeSessionTag strips path separators out of a server-assigned
// session id before it becomes part of a filename.
func sanitizeSessionTag(id string) string {
	if id == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\':
			return '_'
		default:
			return r
		}
	}, id)
}

// Close closes the underlying file.
func (rw *RotatingWriter) Close() error {
	rw.mu.Lock()
	defer rw.mu.Unlock()

	if rw.file != nil {
		return rw.file.Close()
	}
	return nil
}

// TeeWriter returns an io.Writer that writes to both w1 and w2.
func TeeWriter(w1, w2 io.Writer) io.Writer {
	return io.MultiWriter(w1, w2)
}

var activeRotator atomic.Pointer[RotatingWriter]

// SetActiveRotator registers the file rotator cmd/gfn-client opened so the
// streaming core can tag attempt boundaries without holding a direct
// reference to it. A nil rw (no --log-file configured) makes
// RotateForSession a no-op.
func SetActiveRotator(rw *RotatingWriter) {
	activeRotator.Store(rw)
}

// RotateForSession tags the active log file's contents with sessionID, if
// a rotator was registered via SetActiveRotator. Called when a streaming
// attempt with a known session id ends, so the file tagged with that id
// holds that attempt's log.
func RotateForSession(sessionID string) {
	rw := activeRotator.Load()
	if rw == nil {
		return
	}
	if err := rw.RotateForSession(sessionID); err != nil {
		slog.Default().Warn("failed to tag previous session log", "error", err, "sessionId", sessionID)
	}
}

func (rw *RotatingWriter) openFile() error {
	f, err := os.OpenFile(rw.filePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	rw.file = f
	rw.written = info.Size()
	return nil
}

func (rw *RotatingWriter) rotate() error {
	if rw.file != nil {
		rw.file.Close()
	}

	// Shift existing backups: .3 → delete, .2 → .3, .1 → .2
	for i := rw.maxBackups; i >= 2; i-- {
		src := rw.backupName(i - 1)
		dst := rw.backupName(i)
		if i == rw.maxBackups {
			os.Remove(dst)
		}
		os.Rename(src, dst)
	}

	// Rename current log to .1
	os.Rename(rw.filePath, rw.backupName(1))

	return rw.openFile()
}

func (rw *RotatingWriter) backupName(index int) string {
	if index == 0 {
		return rw.filePath
	}
	return fmt.Sprintf("%s.%d", rw.filePath, index)
}
