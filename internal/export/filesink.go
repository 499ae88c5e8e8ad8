package export

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/banshee-data/weccap/internal/db"
	"github.com/banshee-data/weccap/internal/monitoring"
	"github.com/banshee-data/weccap/internal/recording"
	"github.com/banshee-data/weccap/internal/security"
	"github.com/banshee-data/weccap/internal/timeutil"
)

var logger = monitoring.Logger("export")

// ErrSinkFull is logged when a finished recording cannot be queued.
var ErrSinkFull = errors.New("export queue full")

// History stores a row for every written artifact.
type History interface {
	RecordExport(ctx context.Context, rec db.ExportRecord) error
}

// FileSink writes finished recordings into a directory. Export only queues;
// Run does the encoding and writing. Failures are logged and never reach the
// recording session.
type FileSink struct {
	dir     string
	opts    Options
	history History
	clock   timeutil.Clock
	queue   chan recording.Capture

	written atomic.Uint64
	failed  atomic.Uint64
}

// NewFileSink creates a sink writing into dir. history may be nil.
func NewFileSink(dir string, opts Options, history History, queueSize int) (*FileSink, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if dir == "" {
		return nil, fmt.Errorf("export directory not configured")
	}
	if queueSize <= 0 {
		queueSize = 16
	}
	return &FileSink{
		dir:     dir,
		opts:    opts,
		history: history,
		clock:   timeutil.RealClock{},
		queue:   make(chan recording.Capture, queueSize),
	}, nil
}

// SetClock replaces the clock used for archive timestamps and history rows.
func (s *FileSink) SetClock(c timeutil.Clock) { s.clock = c }

// Dir returns the export directory.
func (s *FileSink) Dir() string { return s.dir }

// Options returns the artifact encoding.
func (s *FileSink) Options() Options { return s.opts }

// Export queues c for writing.
func (s *FileSink) Export(c recording.Capture) {
	select {
	case s.queue <- c:
	default:
		s.failed.Add(1)
		logger.Error("export dropped", "id", c.ID, "name", c.Name, "err", ErrSinkFull)
	}
}

// Run writes queued recordings until ctx is done, then drains whatever is
// already queued before returning.
func (s *FileSink) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}
	for {
		select {
		case c := <-s.queue:
			s.write(ctx, c)
		case <-ctx.Done():
			for {
				select {
				case c := <-s.queue:
					s.write(context.Background(), c)
				default:
					return nil
				}
			}
		}
	}
}

func (s *FileSink) write(ctx context.Context, c recording.Capture) {
	path, art, err := s.WriteCapture(c)
	if err != nil {
		s.failed.Add(1)
		logger.Error("export failed", "id", c.ID, "name", c.Name, "err", err)
		return
	}
	s.written.Add(1)
	logger.Info("export written", "id", c.ID, "path", path, "records", art.Records, "bytes", len(art.Data))

	if s.history == nil {
		return
	}
	rec := db.ExportRecord{
		ID:          c.ID,
		SessionName: c.Name,
		FileName:    filepath.Base(path),
		Format:      art.Format,
		Records:     art.Records,
		Bytes:       int64(len(art.Data)),
		CreatedAt:   s.clock.Now(),
	}
	if err := s.history.RecordExport(ctx, rec); err != nil {
		logger.Warn("export history not recorded", "id", c.ID, "err", err)
	}
}

// WriteCapture encodes c and writes it synchronously, returning the final
// path. An existing file is never overwritten: the recording ID is appended
// to the name instead.
func (s *FileSink) WriteCapture(c recording.Capture) (string, Artifact, error) {
	modified := c.StoppedAt
	if modified.IsZero() {
		modified = s.clock.Now()
	}
	art, err := Encode(s.opts, c.Name, c.Stream, modified)
	if err != nil {
		return "", Artifact{}, err
	}

	path, err := security.ExportPath(s.dir, art.FileName)
	if err != nil {
		return "", Artifact{}, err
	}
	if _, err := os.Stat(path); err == nil {
		path, err = security.ExportPath(s.dir, withSuffix(art.FileName, shortID(c.ID)))
		if err != nil {
			return "", Artifact{}, err
		}
	}
	if err := writeFileAtomic(path, art.Data); err != nil {
		return "", Artifact{}, err
	}
	art.FileName = filepath.Base(path)
	return path, art, nil
}

// Stats reports how many artifacts were written and how many failed.
func (s *FileSink) Stats() (written, failed uint64) {
	return s.written.Load(), s.failed.Load()
}

func withSuffix(name, suffix string) string {
	ext := filepath.Ext(name)
	return strings.TrimSuffix(name, ext) + "_" + suffix + ext
}

func shortID(id string) string {
	id = strings.ReplaceAll(id, "-", "")
	if len(id) > 8 {
		return id[:8]
	}
	if id == "" {
		return "dup"
	}
	return id
}

// writeFileAtomic writes to a temporary file in the same directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".weccap-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
