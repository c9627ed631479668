// Package journal keeps one append-only diagnostic log per report.
package journal

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sentimentjester/jester/internal/model"
)

const timeLayout = "2006-01-02 15:04:05"

type Journal struct {
	dir string

	mx   sync.Mutex
	open map[*Stream]struct{}
}

func New(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating log dir: %w", err)
	}
	return &Journal{dir: dir, open: make(map[*Stream]struct{})}, nil
}

func (j *Journal) Path(id string) string {
	return filepath.Join(j.dir, id+".log")
}

// Open returns an append stream for report id. The stream stays tracked
// until it is closed by its owner or by CloseAll.
func (j *Journal) Open(id string) (*Stream, error) {
	f, err := os.OpenFile(j.Path(id), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log of %s: %w", id, err)
	}
	s := &Stream{f: f, now: time.Now}
	s.release = func() {
		j.mx.Lock()
		delete(j.open, s)
		j.mx.Unlock()
	}
	j.mx.Lock()
	j.open[s] = struct{}{}
	j.mx.Unlock()
	return s, nil
}

// Read returns the whole log of report id or model.ErrNotFound.
func (j *Journal) Read(id string) ([]byte, error) {
	b, err := os.ReadFile(j.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("log of %s: %w", id, model.ErrNotFound)
	}
	return b, err
}

// Remove deletes the log of report id. A missing log is not an error.
func (j *Journal) Remove(id string) error {
	err := os.Remove(j.Path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// CloseAll closes every stream still open.
func (j *Journal) CloseAll() error {
	j.mx.Lock()
	streams := make([]*Stream, 0, len(j.open))
	for s := range j.open {
		streams = append(streams, s)
	}
	j.mx.Unlock()

	var errs []error
	for _, s := range streams {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}

// OpenStreams reports the number of streams not closed yet.
func (j *Journal) OpenStreams() int {
	j.mx.Lock()
	defer j.mx.Unlock()
	return len(j.open)
}

// Stream serializes writers of one report log. Writes after Close are
// dropped.
type Stream struct {
	mx      sync.Mutex
	f       *os.File
	closed  bool
	now     func() time.Time
	release func()
	once    sync.Once
	err     error
}

// Printf writes one timestamped line.
func (s *Stream) Printf(format string, args ...any) {
	s.write(fmt.Sprintf(format, args...))
}

// Line writes one line of collector output tagged by its source.
func (s *Stream) Line(source, line string) {
	s.write("[" + source + "] " + line)
}

func (s *Stream) write(msg string) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if s.closed {
		return
	}
	_, _ = fmt.Fprintf(s.f, "%s %s\n", s.now().Format(timeLayout), msg)
}

// Close closes the stream exactly once, later calls return the first
// result.
func (s *Stream) Close() error {
	s.once.Do(func() {
		s.mx.Lock()
		s.closed = true
		s.err = s.f.Close()
		s.mx.Unlock()
		s.release()
	})
	return s.err
}
