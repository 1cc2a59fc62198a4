package indexwriter

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/mesh-intelligence/panoptikon-gw/internal/apierr"
	"github.com/mesh-intelligence/panoptikon-gw/internal/sqlconn"
)

// Supervisor owns one Writer per database key, spawning them lazily and
// periodically health-checking them. It is a constructed value rather than
// a package-level singleton (see DESIGN.md's "no global mutable state"
// decision), unlike the OnceLock<Mutex<...>> SUPERVISOR in the original.
type Supervisor struct {
	dataRoot string
	cfg      Config

	mu      sync.Mutex
	writers map[string]*supervisedWriter

	healthCheckInterval time.Duration
	stop                chan struct{}
	wg                  sync.WaitGroup
}

type supervisedWriter struct {
	writer           *Writer
	consecutiveFails int
}

// NewSupervisor constructs a Supervisor and starts its background health
// check loop. Call Stop to shut everything down.
func NewSupervisor(dataRoot string, cfg Config, healthCheckInterval time.Duration) *Supervisor {
	s := &Supervisor{
		dataRoot:            dataRoot,
		cfg:                 cfg,
		writers:             make(map[string]*supervisedWriter),
		healthCheckInterval: healthCheckInterval,
		stop:                make(chan struct{}),
	}
	s.wg.Add(1)
	go s.healthCheckLoop()
	return s
}

// WriterFor returns the Writer for dbKey, spawning one on first use.
func (s *Supervisor) WriterFor(ctx context.Context, dbKey string) (*Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sw, ok := s.writers[dbKey]; ok {
		return sw.writer, nil
	}

	paths, err := sqlconn.Resolve(s.dataRoot, dbKey)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindInternal, "resolving paths for "+dbKey, err)
	}

	writer := New(dbKey, paths, s.cfg, s.removeDeadLocked)
	s.writers[dbKey] = &supervisedWriter{writer: writer}
	return writer, nil
}

// removeDeadLocked is passed to Writer.New as its onDead callback; it takes
// the Supervisor's own lock, so it must never be called while already
// holding it.
func (s *Supervisor) removeDeadLocked(dbKey string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.writers, dbKey)
}

// Stop stops every writer and the health check loop.
func (s *Supervisor) Stop() {
	close(s.stop)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for key, sw := range s.writers {
		sw.writer.Stop()
		delete(s.writers, key)
	}
}

func (s *Supervisor) healthCheckLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.healthCheckAll()
		}
	}
}

// healthCheckAll pings every writer's database files on disk and with a
// read-only SELECT 1, escalating to Stop+removal after three consecutive
// failures. Mirrors HealthCheck in the original IndexDbSupervisor.
func (s *Supervisor) healthCheckAll() {
	s.mu.Lock()
	keys := make([]string, 0, len(s.writers))
	for k := range s.writers {
		keys = append(keys, k)
	}
	s.mu.Unlock()

	for _, key := range keys {
		s.healthCheckOne(key)
	}
}

const maxConsecutiveHealthFailures = 3

func (s *Supervisor) healthCheckOne(dbKey string) {
	paths, err := sqlconn.Resolve(s.dataRoot, dbKey)
	if err != nil {
		s.recordFailure(dbKey)
		return
	}

	if _, err := os.Stat(paths.IndexFile); err != nil {
		s.recordFailure(dbKey)
		return
	}
	if _, err := os.Stat(paths.StorageFile); err != nil {
		s.recordFailure(dbKey)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := sqlconn.Open(ctx, paths, sqlconn.ReadOnly)
	if err != nil {
		s.recordFailure(dbKey)
		return
	}
	defer db.Close()

	var one int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&one); err != nil {
		s.recordFailure(dbKey)
		return
	}

	s.mu.Lock()
	if sw, ok := s.writers[dbKey]; ok {
		sw.consecutiveFails = 0
	}
	s.mu.Unlock()
}

func (s *Supervisor) recordFailure(dbKey string) {
	s.mu.Lock()
	sw, ok := s.writers[dbKey]
	if !ok {
		s.mu.Unlock()
		return
	}
	sw.consecutiveFails++
	escalate := sw.consecutiveFails >= maxConsecutiveHealthFailures
	if escalate {
		delete(s.writers, dbKey)
	}
	s.mu.Unlock()

	if escalate {
		log.Printf("indexwriter supervisor: %s failed %d consecutive health checks, stopping writer", dbKey, sw.consecutiveFails)
		sw.writer.Stop()
	}
}
