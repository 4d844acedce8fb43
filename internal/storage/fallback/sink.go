// Package fallback appends records the store could not take to a JSON-lines
// file for manual reconciliation.
package fallback

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("fallback sink closed")

// Entry is one line of the fallback file.
type Entry struct {
	Kind      crawler.Kind    `json:"kind"`
	Outcome   crawler.Outcome `json:"outcome"`
	Record    crawler.Record  `json:"record"`
	WrittenAt time.Time       `json:"written_at"`
}

// Sink is an append-only JSON-lines file.
type Sink struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	path string
	now  func() time.Time
}

// Open creates path's directory and opens the file for appending.
func Open(path string) (*Sink, error) {
	if path == "" {
		return nil, errors.New("fallback path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create fallback dir: %w", err)
	}
	// #nosec G304 -- path comes from operator configuration.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open fallback file: %w", err)
	}
	return &Sink{file: f, enc: json.NewEncoder(f), path: path, now: time.Now}, nil
}

// Path returns the file being appended to.
func (s *Sink) Path() string { return s.path }

// Write appends rec with the outcome that sent it here.
func (s *Sink) Write(rec crawler.Record, outcome crawler.Outcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	entry := Entry{Kind: rec.Kind(), Outcome: outcome, Record: rec, WrittenAt: s.now().UTC()}
	if err := s.enc.Encode(entry); err != nil {
		return fmt.Errorf("append fallback record: %w", err)
	}
	return nil
}

// Close syncs and closes the file. It is safe to call more than once.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	f := s.file
	s.file = nil
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync fallback file: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close fallback file: %w", err)
	}
	return nil
}
