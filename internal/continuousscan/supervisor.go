package continuousscan

import (
	"context"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mesh-intelligence/panoptikon-gw/internal/apierr"
	"github.com/mesh-intelligence/panoptikon-gw/internal/config"
	"github.com/mesh-intelligence/panoptikon-gw/internal/filescan"
)

const resyncInterval = 5 * time.Minute

// WriterForFunc resolves the Writer Actor for a db key, letting the
// Supervisor stay independent of indexwriter.Supervisor's concrete type.
type WriterForFunc func(ctx context.Context, dbKey string) (WriterHandle, error)

// Supervisor owns one Continuous-Scan Actor per database key that has
// continuous_filescan enabled, starting and stopping them as on-disk
// configuration changes. Constructed explicitly (NewSupervisor), never a
// package-level singleton.
type Supervisor struct {
	dataRoot  string
	writerFor WriterForFunc
	logger    *log.Logger

	mu     sync.Mutex
	actors map[string]*Actor

	watcher *fsnotify.Watcher
	notify  chan string
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewSupervisor constructs a Supervisor and starts its resync loop.
func NewSupervisor(dataRoot string, writerFor WriterForFunc, logger *log.Logger) *Supervisor {
	if logger == nil {
		logger = log.Default()
	}
	s := &Supervisor{
		dataRoot:  dataRoot,
		writerFor: writerFor,
		logger:    logger,
		actors:    make(map[string]*Actor),
		notify:    make(chan string, 16),
		stop:      make(chan struct{}),
	}

	indexDir := filepath.Join(dataRoot, "index")
	if w, err := fsnotify.NewWatcher(); err == nil {
		if err := w.Add(indexDir); err == nil {
			s.watcher = w
		} else {
			_ = w.Close()
			logger.Printf("continuousscan: watching %s failed: %v", indexDir, err)
		}
	}

	s.wg.Add(1)
	go s.loop()
	return s
}

// NotifyConfigChanged lets a config editor trigger an immediate reconcile
// for one db key without waiting for the filesystem event.
func (s *Supervisor) NotifyConfigChanged(dbKey string) {
	select {
	case s.notify <- dbKey:
	default:
	}
}

// PauseForJob synchronously pauses the continuous-scan actor for dbKey, if
// one is running, so a FolderRescan/FolderUpdate job never races with it.
func (s *Supervisor) PauseForJob(ctx context.Context, dbKey string) error {
	s.mu.Lock()
	a, ok := s.actors[dbKey]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	return a.Pause(ctx)
}

// ResumeAfterJob resumes the continuous-scan actor for dbKey after a job
// that called PauseForJob has finished.
func (s *Supervisor) ResumeAfterJob(dbKey string) {
	s.mu.Lock()
	a, ok := s.actors[dbKey]
	s.mu.Unlock()
	if ok {
		a.Resume()
	}
}

// Reconcile walks index/*/index.db, loads each database's system config,
// and starts or stops actors so the running set matches
// continuous_filescan.enabled across the board — ported from
// resync_from_disk.
func (s *Supervisor) Reconcile(ctx context.Context) error {
	indexDir := filepath.Join(s.dataRoot, "index")
	entries, err := os.ReadDir(indexDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apierr.Wrap(apierr.KindInternal, "reading index directory", err)
	}

	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		dbKey := e.Name()
		if _, err := os.Stat(filepath.Join(indexDir, dbKey, "index.db")); err != nil {
			continue
		}
		seen[dbKey] = true

		sysCfg, err := config.LoadSystemConfig(s.dataRoot, dbKey)
		if err != nil {
			s.logger.Printf("continuousscan: loading config for %s: %v", dbKey, err)
			continue
		}
		s.applyDesiredState(ctx, dbKey, sysCfg)
	}

	s.mu.Lock()
	for dbKey, a := range s.actors {
		if !seen[dbKey] {
			a.Stop()
			delete(s.actors, dbKey)
		}
	}
	s.mu.Unlock()

	return nil
}

func (s *Supervisor) applyDesiredState(ctx context.Context, dbKey string, sysCfg config.SystemConfig) {
	s.mu.Lock()
	existing, running := s.actors[dbKey]
	s.mu.Unlock()

	if !sysCfg.ContinuousFilescan.Enabled {
		if running {
			existing.Stop()
			s.mu.Lock()
			delete(s.actors, dbKey)
			s.mu.Unlock()
		}
		return
	}

	if running {
		existing.NotifyConfigChanged(actorConfigFrom(dbKey, sysCfg))
		return
	}

	writer, err := s.writerFor(ctx, dbKey)
	if err != nil {
		s.logger.Printf("continuousscan: resolving writer for %s: %v", dbKey, err)
		return
	}

	a := NewActor(actorConfigFrom(dbKey, sysCfg), writer, s.logger)
	s.mu.Lock()
	s.actors[dbKey] = a
	s.mu.Unlock()
}

func actorConfigFrom(dbKey string, sysCfg config.SystemConfig) Config {
	cfg := Config{
		DBKey:        dbKey,
		IncludeRoots: sysCfg.ContinuousFilescan.IncludedFolders,
		ExcludeRoots: sysCfg.ExcludedFolders,
		Extensions: filescan.ExtensionSet{
			Images: sysCfg.ScanImages,
			Video:  sysCfg.ScanVideo,
			Audio:  sysCfg.ScanAudio,
			HTML:   sysCfg.ScanHTML,
			PDF:    sysCfg.ScanPDF,
		},
	}
	if sysCfg.ContinuousFilescan.PollIntervalSec != nil {
		cfg.PollIntervalSecs = *sysCfg.ContinuousFilescan.PollIntervalSec
	}
	return cfg
}

// Stop stops every running actor and the resync loop.
func (s *Supervisor) Stop() {
	close(s.stop)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actors {
		a.Stop()
	}
	if s.watcher != nil {
		_ = s.watcher.Close()
	}
}

func (s *Supervisor) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(resyncInterval)
	defer ticker.Stop()

	var fsEvents <-chan fsnotify.Event
	if s.watcher != nil {
		fsEvents = s.watcher.Events
	}

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Reconcile(context.Background())
		case dbKey := <-s.notify:
			sysCfg, err := config.LoadSystemConfig(s.dataRoot, dbKey)
			if err != nil {
				s.logger.Printf("continuousscan: loading config for %s: %v", dbKey, err)
				continue
			}
			s.applyDesiredState(context.Background(), dbKey, sysCfg)
		case _, ok := <-fsEvents:
			if !ok {
				return
			}
			_ = s.Reconcile(context.Background())
		}
	}
}
