// Package snapshot keeps best-effort copies of the pages deals came from. Writes
// happen on a background goroutine and never block or fail the caller.
package snapshot

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/dealnews-crawler/internal/crawler"
	"github.com/JakeFAU/dealnews-crawler/internal/metrics"
)

// ErrClosed is reported when Persist is called after Close.
var ErrClosed = errors.New("snapshot store closed")

const (
	maxNameLen   = 140
	hashSuffix   = 12
	contentType  = "text/html; charset=utf-8"
	writeTimeout = 30 * time.Second
)

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// Config controls the snapshot store.
type Config struct {
	Enabled bool
	Buffer  int
}

type job struct {
	ctx  context.Context
	name string
	url  string
	body []byte
}

// Store writes page bodies to a blob backend.
type Store struct {
	blobs  crawler.BlobStore
	logger *zap.Logger
	jobs   chan job
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// New starts the background writer. A disabled store accepts and ignores
// every Persist call.
func New(blobs crawler.BlobStore, cfg Config, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics.Init()
	s := &Store{logger: logger.Named("snapshot"), done: make(chan struct{})}
	if !cfg.Enabled || blobs == nil {
		close(s.done)
		return s
	}
	buffer := cfg.Buffer
	if buffer <= 0 {
		buffer = 64
	}
	s.blobs = blobs
	s.jobs = make(chan job, buffer)
	go s.run()
	return s
}

// Enabled reports whether snapshots are written.
func (s *Store) Enabled() bool { return s.jobs != nil }

// Persist queues body for writing under a name derived from url. It returns
// immediately; a full buffer drops the snapshot.
func (s *Store) Persist(ctx context.Context, url string, body []byte) {
	if s.jobs == nil {
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Debug("snapshot dropped", zap.String("url", url), zap.Error(ErrClosed))
		return
	}
	j := job{ctx: context.WithoutCancel(ctx), name: Filename(url), url: url, body: body}
	select {
	case s.jobs <- j:
	default:
		metrics.ObserveSnapshot("dropped")
		s.logger.Warn("snapshot buffer full; dropping", zap.String("url", url))
	}
}

func (s *Store) run() {
	defer close(s.done)
	for j := range s.jobs {
		s.write(j)
	}
}

func (s *Store) write(j job) {
	ctx, cancel := context.WithTimeout(j.ctx, writeTimeout)
	defer cancel()
	uri, err := s.blobs.PutObject(ctx, j.name, contentType, bytes.NewReader(j.body))
	if err != nil {
		metrics.ObserveSnapshot("error")
		s.logger.Warn("snapshot write failed", zap.String("url", j.url), zap.Error(err))
		return
	}
	metrics.ObserveSnapshot("ok")
	s.logger.Debug("snapshot saved", zap.String("url", j.url), zap.String("uri", uri))
}

// Close stops accepting snapshots and waits for queued ones to be written.
func (s *Store) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.closed = true
	if s.jobs != nil {
		close(s.jobs)
	}
	s.mu.Unlock()
	<-s.done
}

// Filename derives a deterministic, filesystem-safe name from url: the scheme
// is stripped, unsafe runs become "_", and names longer than 140 characters
// are cut and suffixed with a short hash of the full url.
func Filename(url string) string {
	name := url
	if _, rest, ok := strings.Cut(name, "://"); ok {
		name = rest
	}
	name = unsafeChars.ReplaceAllString(name, "_")
	if name == "" {
		name = "unknown"
	}
	if len(name) > maxNameLen {
		sum := sha256.Sum256([]byte(url))
		name = name[:maxNameLen-hashSuffix-1] + "_" + hex.EncodeToString(sum[:])[:hashSuffix]
	}
	return name + ".html"
}
