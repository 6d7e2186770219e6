package logger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// archiveStamp names rotated audit files so they sort lexically by age
// and can be matched back to a settlement window during an audit.
const archiveStamp = "20060102T150405"

// rotatingWriter is the sink behind the audit logger. The active file
// keeps a fixed path so collectors can tail it; full files are archived
// next to it as <name>-<timestamp><ext> and pruned by count and age.
type rotatingWriter struct {
	mu         sync.Mutex
	file       *os.File
	path       string
	maxSize    int64
	maxBackups int
	maxAge     time.Duration
	size       int64
}

func newRotatingWriter(path string, maxSizeMB, maxBackups, maxAgeDays int) (*rotatingWriter, error) {
	if path == "" {
		return nil, errors.New("path is required")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 100
	}
	if maxBackups <= 0 {
		maxBackups = 7
	}
	if maxAgeDays <= 0 {
		maxAgeDays = 30
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &rotatingWriter{
		path:       path,
		maxSize:    int64(maxSizeMB) * 1024 * 1024,
		maxBackups: maxBackups,
		maxAge:     time.Duration(maxAgeDays) * 24 * time.Hour,
	}, nil
}

func (w *rotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureFile(); err != nil {
		return 0, err
	}
	if w.maxSize > 0 && w.size+int64(len(p)) > w.maxSize {
		if err := w.rotate(); err != nil {
			return 0, err
		}
		if err := w.ensureFile(); err != nil {
			return 0, err
		}
	}
	n, err := w.file.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *rotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	w.size = 0
	return err
}

func (w *rotatingWriter) ensureFile() error {
	if w.file != nil {
		return nil
	}
	file, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat audit log: %w", err)
	}
	w.file = file
	w.size = info.Size()
	return nil
}

// rotate archives the active file under a timestamped name and prunes
// old archives. Written audit entries are never truncated or overwritten.
func (w *rotatingWriter) rotate() error {
	if w.file != nil {
		_ = w.file.Close()
		w.file = nil
	}
	w.size = 0

	archive := w.archiveName(time.Now())
	if _, err := os.Stat(w.path); err == nil {
		if err := os.Rename(w.path, archive); err != nil {
			return fmt.Errorf("archive audit log: %w", err)
		}
	}

	w.prune()
	return nil
}

// archiveName builds <dir>/<name>-<stamp><ext> next to the active file.
func (w *rotatingWriter) archiveName(now time.Time) string {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	candidate := filepath.Join(dir, fmt.Sprintf("%s-%s%s", name, now.Format(archiveStamp), ext))
	// Two rotations within one second would collide on the stamp.
	for seq := 1; ; seq++ {
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%s.%d%s", name, now.Format(archiveStamp), seq, ext))
	}
}

// prune drops archives beyond maxBackups (oldest first) and archives
// older than maxAge, whichever removes more.
func (w *rotatingWriter) prune() {
	archives := w.listArchives()
	if len(archives) == 0 {
		return
	}
	// Lexical order equals age order thanks to the timestamp format.
	sort.Strings(archives)

	if w.maxBackups > 0 && len(archives) > w.maxBackups {
		for _, path := range archives[:len(archives)-w.maxBackups] {
			_ = os.Remove(path)
		}
		archives = archives[len(archives)-w.maxBackups:]
	}

	if w.maxAge <= 0 {
		return
	}
	cutoff := time.Now().Add(-w.maxAge)
	for _, path := range archives {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}

func (w *rotatingWriter) listArchives() []string {
	dir := filepath.Dir(w.path)
	base := filepath.Base(w.path)
	ext := filepath.Ext(base)
	name := strings.TrimSuffix(base, ext)
	matches, err := filepath.Glob(filepath.Join(dir, name+"-*"+ext))
	if err != nil {
		return nil
	}
	return matches
}
