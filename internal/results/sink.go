// Package results writes per-entity statistics as JSON lines.
package results

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JakeFAU/contributor-crawler/internal/crawler"
)

// Line is one record of the results file.
type Line struct {
	RecordedAt time.Time `json:"recorded_at"`
	crawler.EntityStats
}

// FileSink appends one JSON object per entity to a file. Resumed runs append
// to the same file.
type FileSink struct {
	mu     sync.Mutex
	closer io.Closer
	buf    *bufio.Writer
	enc    *json.Encoder
	now    func() time.Time
}

// Open creates parent directories and opens path for appending. A path of "-"
// writes to stdout.
func Open(path string) (*FileSink, error) {
	if path == "" {
		return nil, errors.New("results path is required")
	}
	if path == "-" {
		return newSink(os.Stdout, nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create results dir for %s: %w", path, err)
	}
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open results file %s: %w", path, err)
	}
	return newSink(f, f), nil
}

// NewWriterSink writes to w. Close flushes but does not close w.
func NewWriterSink(w io.Writer) *FileSink {
	return newSink(w, nil)
}

func newSink(w io.Writer, closer io.Closer) *FileSink {
	buf := bufio.NewWriter(w)
	return &FileSink{closer: closer, buf: buf, enc: json.NewEncoder(buf), now: time.Now}
}

// Write appends stats and flushes so a crash loses at most the current line.
func (s *FileSink) Write(ctx context.Context, stats crawler.EntityStats) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(Line{RecordedAt: s.now().UTC(), EntityStats: stats}); err != nil {
		return fmt.Errorf("encode result for %s: %w", stats.Entity, err)
	}
	if err := s.buf.Flush(); err != nil {
		return fmt.Errorf("flush results: %w", err)
	}
	return nil
}

// Close flushes buffered output and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.buf.Flush()
	if s.closer != nil {
		err = errors.Join(err, s.closer.Close())
		s.closer = nil
	}
	return err
}
