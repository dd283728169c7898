package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gofrs/flock"
	"go.uber.org/zap"

	"github.com/harrywu96/AniverseGateway-sub001/internal/subtitle"
)

const (
	lockSuffix     = ".lock"
	lockRetryDelay = 50 * time.Millisecond
)

var unsafeName = regexp.MustCompile(`[^\p{L}\p{N}._-]+`)

// FileSink writes translated documents below a directory
type FileSink struct {
	dir    string
	logger *zap.Logger
}

func NewFileSink(dir string, logger *zap.Logger) *FileSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileSink{dir: dir, logger: logger.With(zap.String("component", "storage"))}
}

// Dir returns the output directory
func (s *FileSink) Dir() string {
	return s.dir
}

// Save renders doc and writes it as "<name>.<task>.<ext>", returning the
// path relative to the output directory
func (s *FileSink) Save(ctx context.Context, taskID, name string, doc *subtitle.Document) (string, error) {
	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	rel := fmt.Sprintf("%s.%s.%s", SafeName(name), short, doc.Format)
	full, err := Resolve(s.dir, rel)
	if err != nil {
		return "", err
	}
	if err := WriteFile(ctx, full, []byte(subtitle.Render(doc))); err != nil {
		return "", err
	}
	s.logger.Info("output written", zap.String("task_id", taskID), zap.String("path", rel))
	return rel, nil
}

// Open returns the contents of an output file
func (s *FileSink) Open(rel string) ([]byte, error) {
	full, err := Resolve(s.dir, rel)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(full)
}

// WriteFile atomically replaces path with data while holding an advisory
// lock, so concurrent writers of the same output never interleave
func WriteFile(ctx context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	lock := flock.New(path + lockSuffix)
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", path)
	}
	defer lock.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write output: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("write output: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace output: %w", err)
	}
	return nil
}

// SafeName strips the extension and any path or shell-hostile characters
// from an uploaded file name
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.TrimSuffix(name, filepath.Ext(name))
	name = strings.Trim(unsafeName.ReplaceAllString(name, "_"), "._")
	if name == "" {
		return "subtitle"
	}
	return name
}
