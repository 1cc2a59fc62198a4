// Package continuousscan implements the Continuous-Scan Actor and
// Supervisor: a per-database background watcher that keeps the index
// synced to the filesystem between explicit rescans, ported from
// ContinuousScanActor/ContinuousScanSupervisor in
// gateway/src/jobs/continuous_scan.rs.
package continuousscan

import (
	"context"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mesh-intelligence/panoptikon-gw/internal/filescan"
	"github.com/mesh-intelligence/panoptikon-gw/internal/indexwriter"
)

// Config describes one db key's continuous-scan setup, the Go rendering of
// the TOML continuous_filescan table plus the folder lists it scans.
type Config struct {
	DBKey            string
	IncludeRoots     []string
	ExcludeRoots     []string
	Extensions       filescan.ExtensionSet
	PollIntervalSecs uint64 // 0 means use fsnotify instead of polling
	NumWorkers       int
}

// fileWork is one path queued for off-actor processing. remove marks an
// fsnotify Remove/Rename event, which must be re-statted by the worker
// before anything is deleted rather than deleted on the event alone.
type fileWork struct {
	path   string
	epoch  uint64
	remove bool
}

// workResult is what a worker reports back after stat+hash (or re-stat on a
// remove candidate): the write itself is deferred to the actor goroutine so
// the epoch re-check happens immediately before the write, never on the
// worker. upsert selects which write applyResult issues: true for
// UpdateFileData, false for DeleteFileByPath.
type workResult struct {
	path   string
	data   indexwriter.FileScanData
	upsert bool
	epoch  uint64
	err    error
}

// actorMsg is the Continuous-Scan Actor's mailbox message set, playing the
// role of ContinuousScanMessage.
type actorMsg struct {
	pause        bool
	resume       bool
	reconfigure  *Config
	fsEvent      *fsnotify.Event
	workerResult *workResult
	stop         bool
	stopDone     chan struct{}
}

// Actor owns one database's continuous-scan state. All mutable state
// (epoch, paused) is only ever touched by run(), so the epoch-gating check
// in applyResult is race-free without a lock.
type Actor struct {
	cfg    Config
	dbKey  string // immutable snapshot of cfg.DBKey at construction, safe to read from any goroutine
	writer WriterHandle
	logger *log.Logger

	mailbox chan actorMsg
	work    chan fileWork

	epoch  uint64
	paused bool

	// scanID/scanStats track the open file_scans sentinel row, per
	// spec.md:113 ("creates a continuous file_scans row on start, closes
	// it on stop, and replaces it on resume"). Both are only ever touched
	// by run(), same as epoch/paused.
	scanID    int64
	scanStats indexwriter.FileScanUpdate

	watcher  *fsnotify.Watcher
	stopPoll chan struct{}

	// pollCfg mirrors cfg for pollLoop's goroutine, which runs independently
	// of run() and so can't read cfg directly without a race.
	pollCfg atomic.Pointer[Config]
}

// WriterHandle is the subset of indexwriter.Writer the actor needs to
// record scan progress and apply file updates.
type WriterHandle interface {
	Submit(ctx context.Context, op indexwriter.WriteOp) (any, error)
}

// NewActor constructs and starts a Continuous-Scan Actor for one db key.
func NewActor(cfg Config, writer WriterHandle, logger *log.Logger) *Actor {
	if logger == nil {
		logger = log.Default()
	}
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = 2
	}
	a := &Actor{
		cfg:     cfg,
		dbKey:   cfg.DBKey,
		writer:  writer,
		logger:  logger,
		mailbox: make(chan actorMsg, 32),
		work:    make(chan fileWork, 256),
	}

	if id, err := openScanRow(writer, cfg); err != nil {
		logger.Printf("continuousscan: opening initial file scan row for %s failed: %v", cfg.DBKey, err)
	} else {
		a.scanID = id
	}

	for i := 0; i < cfg.NumWorkers; i++ {
		go a.worker()
	}

	a.pollCfg.Store(&cfg)
	if cfg.PollIntervalSecs > 0 {
		a.stopPoll = make(chan struct{})
		go a.pollLoop()
	} else if w, err := fsnotify.NewWatcher(); err == nil {
		a.watcher = w
		for _, root := range cfg.IncludeRoots {
			if addErr := w.Add(root); addErr != nil {
				logger.Printf("continuousscan: watch %s failed: %v", root, addErr)
			}
		}
		go a.watchLoop()
	} else {
		logger.Printf("continuousscan: fsnotify unavailable for %s, falling back to no FS watch: %v", cfg.DBKey, err)
	}

	go a.run()
	return a
}

// continuousScanPath is the file_scans.path sentinel that marks a row as a
// continuous-scan row rather than a one-shot folder scan.
const continuousScanPath = "<continuous>"

// openScanRow inserts a fresh open file_scans row for a db key's continuous
// scan, labelled with the continuousScanPath sentinel.
func openScanRow(writer WriterHandle, _ Config) (int64, error) {
	v, err := writer.Submit(context.Background(), indexwriter.AddFileScan(continuousScanPath))
	if err != nil {
		return 0, err
	}
	id, _ := v.(int64)
	return id, nil
}

// closeScanRow closes the actor's open scan row with its accumulated stats
// and resets the stats counter, called on pause and stop.
func (a *Actor) closeScanRow() {
	if a.scanID == 0 {
		return
	}
	if _, err := a.writer.Submit(context.Background(), indexwriter.CloseFileScan(a.scanID, a.scanStats)); err != nil {
		a.logger.Printf("continuousscan: closing file scan %d for %s failed: %v", a.scanID, a.dbKey, err)
	}
	a.scanID = 0
	a.scanStats = indexwriter.FileScanUpdate{}
}

// Pause stops dispatching new work and bumps the epoch so any in-flight
// worker result for previously dispatched paths is dropped, matching the
// original's pause handler.
func (a *Actor) Pause(ctx context.Context) error {
	done := make(chan struct{})
	select {
	case a.mailbox <- actorMsg{pause: true, stopDone: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Resume clears paused without touching the epoch, per the documented
// divergence from the original (see the project's design notes).
func (a *Actor) Resume() {
	a.mailbox <- actorMsg{resume: true}
}

// NotifyConfigChanged pushes an updated Config to the actor.
func (a *Actor) NotifyConfigChanged(cfg Config) {
	select {
	case a.mailbox <- actorMsg{reconfigure: &cfg}:
	default:
	}
}

// Stop halts the actor and its worker pool and watcher.
func (a *Actor) Stop() {
	done := make(chan struct{})
	a.mailbox <- actorMsg{stop: true, stopDone: done}
	<-done
}

func (a *Actor) run() {
	for msg := range a.mailbox {
		switch {
		case msg.stop:
			a.closeScanRow()
			if a.watcher != nil {
				_ = a.watcher.Close()
			}
			if a.stopPoll != nil {
				close(a.stopPoll)
			}
			close(a.work)
			if msg.stopDone != nil {
				close(msg.stopDone)
			}
			return
		case msg.pause:
			a.paused = true
			a.epoch++
			a.closeScanRow()
			if msg.stopDone != nil {
				close(msg.stopDone)
			}
		case msg.resume:
			a.paused = false
			if id, err := openScanRow(a.writer, a.cfg); err != nil {
				a.logger.Printf("continuousscan: reopening file scan row for %s failed: %v", a.dbKey, err)
			} else {
				a.scanID = id
			}
		case msg.reconfigure != nil:
			a.cfg = *msg.reconfigure
			cfgCopy := a.cfg
			a.pollCfg.Store(&cfgCopy)
		case msg.fsEvent != nil:
			a.dispatchEvent(*msg.fsEvent)
		case msg.workerResult != nil:
			a.applyResult(*msg.workerResult)
		}
	}
}

// dispatchEvent maps one fsnotify event onto queued work, applying the
// extension/exclude filters here since this only ever runs on the actor's
// own goroutine (cfg is safe to read directly). Remove and Rename are
// queued as remove candidates: the worker re-stats before deleting, per the
// "never delete solely on FS event" rule, since a quick remove+recreate
// (editors doing atomic saves, for instance) must resolve to an upsert, not
// a delete.
func (a *Actor) dispatchEvent(event fsnotify.Event) {
	if a.paused {
		return
	}
	path := event.Name
	if isExcluded(path, a.cfg.ExcludeRoots) {
		return
	}

	remove := event.Op&(fsnotify.Remove|fsnotify.Rename) != 0
	if !remove && !a.cfg.Extensions.Allows(filepath.Ext(path)) {
		return
	}

	w := fileWork{path: path, epoch: a.epoch, remove: remove}
	select {
	case a.work <- w:
	default:
		a.logger.Printf("continuousscan: worker pool saturated for %s, dropping event for %s", a.dbKey, path)
	}
}

// applyResult re-checks the epoch on the actor's own goroutine immediately
// before issuing the write, dropping any result computed before a pause.
// Apart from opening and closing the scan row, this is the only place a
// continuous-scan write is submitted.
func (a *Actor) applyResult(r workResult) {
	if a.paused || r.epoch != a.epoch {
		return
	}
	if r.err != nil {
		a.logger.Printf("continuousscan: stat/hash for %s failed: %v", r.path, r.err)
		a.scanStats.Errors++
		return
	}

	if r.upsert {
		res, err := a.writer.Submit(context.Background(), indexwriter.UpdateFileData(r.data, a.scanID))
		if err != nil {
			a.logger.Printf("continuousscan: writing %s failed: %v", r.data.Path, err)
			a.scanStats.Errors++
			return
		}
		if up, ok := res.(indexwriter.FileUpsertResult); ok {
			switch {
			case up.FileInserted && up.ItemInserted:
				a.scanStats.NewFiles++
				a.scanStats.NewItems++
			case up.FileInserted:
				a.scanStats.NewFiles++
			default:
				a.scanStats.UnchangedFiles++
			}
		}
		return
	}

	if _, err := a.writer.Submit(context.Background(), indexwriter.DeleteFileByPath(r.path)); err != nil {
		a.logger.Printf("continuousscan: deleting %s failed: %v", r.path, err)
		a.scanStats.Errors++
		return
	}
	a.scanStats.MarkedUnavailable++
}

// worker only performs the off-actor work (stat + hash, or a re-stat on a
// remove candidate); it never submits a write itself, since only the actor
// goroutine may do so after re-checking the epoch.
func (a *Actor) worker() {
	for w := range a.work {
		if !w.remove {
			data, err := statAndHash(w.path)
			a.report(workResult{path: w.path, data: data, upsert: true, epoch: w.epoch, err: err})
			continue
		}

		// A Remove/Rename event only means the old path might be gone; it
		// may already have been replaced (atomic save, rename-over-rename).
		// Re-stat before trusting the event.
		if _, err := os.Stat(w.path); err != nil {
			if os.IsNotExist(err) {
				a.report(workResult{path: w.path, upsert: false, epoch: w.epoch})
			} else {
				a.report(workResult{path: w.path, upsert: false, epoch: w.epoch, err: err})
			}
			continue
		}
		data, err := statAndHash(w.path)
		a.report(workResult{path: w.path, data: data, upsert: true, epoch: w.epoch, err: err})
	}
}

func (a *Actor) report(r workResult) {
	select {
	case a.mailbox <- actorMsg{workerResult: &r}:
	default:
	}
}

func isExcluded(path string, excludeRoots []string) bool {
	for _, ex := range excludeRoots {
		if path == ex || strings.HasPrefix(path, ex+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

func (a *Actor) watchLoop() {
	for {
		select {
		case event, ok := <-a.watcher.Events:
			if !ok {
				return
			}
			select {
			case a.mailbox <- actorMsg{fsEvent: &event}:
			default:
				a.logger.Printf("continuousscan: mailbox saturated for %s, dropping fs event for %s", a.dbKey, event.Name)
			}
		case err, ok := <-a.watcher.Errors:
			if !ok {
				return
			}
			a.logger.Printf("continuousscan: watcher error for %s: %v", a.dbKey, err)
		}
	}
}

// pollLoop stands in for fsnotify on mounts where it's unreliable (network
// shares, per spec.md §4.7): it walks every include root on each tick and
// feeds every file it finds through the same dispatch path an fsnotify
// event would, relying on the Writer Actor's own unchanged-hash fast path
// to make repeated dispatch of already-indexed files cheap.
func (a *Actor) pollLoop() {
	cfg := a.pollCfg.Load()
	ticker := time.NewTicker(time.Duration(cfg.PollIntervalSecs) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopPoll:
			return
		case <-ticker.C:
			for _, root := range a.pollCfg.Load().IncludeRoots {
				_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
					if err != nil || d.IsDir() {
						return nil
					}
					select {
					case a.mailbox <- actorMsg{fsEvent: &fsnotify.Event{Name: path, Op: fsnotify.Write}}:
					case <-a.stopPoll:
						return filepath.SkipAll
					}
					return nil
				})
			}
		}
	}
}
