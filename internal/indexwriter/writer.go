// Package indexwriter implements the Writer Actor and Writer Supervisor:
// the single-writer-per-database mailbox that serializes every mutation to
// a tenant's index.db/storage.db pair. Ported from the actor design in
// gateway/src/db/index_writer.rs, rendered as a goroutine reading a
// buffered channel instead of a ractor Actor.
package indexwriter

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/mesh-intelligence/panoptikon-gw/internal/apierr"
	"github.com/mesh-intelligence/panoptikon-gw/internal/sqlconn"
)

// WriteOp is a single unit of work submitted to a Writer. It runs inside a
// transaction already begun with BEGIN IMMEDIATE; returning an error rolls
// the transaction back.
type WriteOp func(ctx context.Context, tx *sql.Tx) (any, error)

// Config controls idle eviction and mailbox sizing, mirroring
// IndexDbWriterState's idle_timeout field plus the mailbox bound spec.md
// adds for backpressure.
type Config struct {
	IdleTimeout       time.Duration
	IdleCheckInterval time.Duration
	MailboxSize       int
	Logger            *log.Logger
}

// DefaultConfig matches the defaults named in the core spec: a five-minute
// idle timeout checked once a minute, a 64-entry mailbox.
func DefaultConfig() Config {
	return Config{
		IdleTimeout:       5 * time.Minute,
		IdleCheckInterval: time.Minute,
		MailboxSize:       64,
		Logger:            log.Default(),
	}
}

type writeRequest struct {
	op    WriteOp
	reply chan writeResult
}

type writeResult struct {
	value any
	err   error
}

// Writer owns the single cached write connection for one database key. All
// access to conn happens on the actor goroutine in run(), so no mutex
// guards it.
type Writer struct {
	dbKey  string
	paths  sqlconn.Paths
	cfg    Config
	mbox   chan writeRequest
	stop   chan struct{}
	done   chan struct{}
	onDead func(dbKey string)

	conn     *sql.DB
	lastUsed time.Time
}

// New spawns a Writer goroutine for dbKey. onDead is stored on the Writer
// but no code path in this package calls it: on a corrupt database or a
// lost connection the writer only drops its cached connection (see
// dropConnOn) and keeps serving, and the Supervisor is not notified.
func New(dbKey string, paths sqlconn.Paths, cfg Config, onDead func(string)) *Writer {
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	w := &Writer{
		dbKey:  dbKey,
		paths:  paths,
		cfg:    cfg,
		mbox:   make(chan writeRequest, cfg.MailboxSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
		onDead: onDead,
	}
	go w.run()
	return w
}

// Submit enqueues op and blocks until it has been executed, honoring ctx
// cancellation both while waiting for mailbox space and while waiting for
// the result.
func (w *Writer) Submit(ctx context.Context, op WriteOp) (any, error) {
	reply := make(chan writeResult, 1)
	select {
	case w.mbox <- writeRequest{op: op, reply: reply}:
	case <-ctx.Done():
		return nil, apierr.Wrap(apierr.KindCancelled, "submit cancelled while enqueuing", ctx.Err())
	case <-w.done:
		return nil, apierr.New(apierr.KindInternal, "writer actor has stopped")
	}

	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, apierr.Wrap(apierr.KindCancelled, "submit cancelled while waiting for result", ctx.Err())
	}
}

// SubmitWithDeadline is Submit but returns apierr.ErrBusy without
// enqueuing if the mailbox has no room before deadline, matching the
// Writer Actor's backpressure contract in the core spec.
func (w *Writer) SubmitWithDeadline(ctx context.Context, deadline time.Time, op WriteOp) (any, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()

	reply := make(chan writeResult, 1)
	select {
	case w.mbox <- writeRequest{op: op, reply: reply}:
	case <-timer.C:
		return nil, apierr.ErrBusy
	case <-ctx.Done():
		return nil, apierr.Wrap(apierr.KindCancelled, "submit cancelled while enqueuing", ctx.Err())
	case <-w.done:
		return nil, apierr.New(apierr.KindInternal, "writer actor has stopped")
	}

	select {
	case res := <-reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, apierr.Wrap(apierr.KindCancelled, "submit cancelled while waiting for result", ctx.Err())
	}
}

// Stop shuts down the writer's goroutine, closing its connection if open.
func (w *Writer) Stop() {
	select {
	case <-w.stop:
	default:
		close(w.stop)
	}
	<-w.done
}

func (w *Writer) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.cfg.IdleCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stop:
			w.closeConn()
			return

		case req := <-w.mbox:
			w.handle(req)

		case <-ticker.C:
			w.idleCheck()
		}
	}
}

func (w *Writer) handle(req writeRequest) {
	conn, err := w.ensureConn()
	if err != nil {
		req.reply <- writeResult{err: apierr.Wrap(apierr.KindInternal, "opening write connection", err)}
		return
	}

	value, err := w.withTransaction(conn, req.op)
	req.reply <- writeResult{value: value, err: err}
}

// withTransaction begins immediate, runs op, and commits or rolls back.
// On a corrupt-database or io-lost error at any transaction boundary the
// cached connection is dropped so the next request reopens fresh, matching
// with_transaction in the original.
func (w *Writer) withTransaction(conn *sql.DB, op WriteOp) (any, error) {
	tx, err := conn.Begin()
	if err != nil {
		w.dropConnOn(err)
		return nil, fmt.Errorf("begin immediate: %w", err)
	}

	value, opErr := op(context.Background(), tx)
	if opErr != nil {
		_ = tx.Rollback()
		w.dropConnOn(opErr)
		return nil, opErr
	}

	if err := tx.Commit(); err != nil {
		w.dropConnOn(err)
		return nil, fmt.Errorf("commit: %w", err)
	}

	w.lastUsed = time.Now()
	return value, nil
}

func (w *Writer) dropConnOn(err error) {
	if isFatalConnErr(err) {
		w.closeConn()
	}
}

func isFatalConnErr(err error) bool {
	return apierr.Is(err, apierr.KindDatabaseCorrupt) || apierr.Is(err, apierr.KindIOLost)
}

func (w *Writer) ensureConn() (*sql.DB, error) {
	if w.conn != nil {
		return w.conn, nil
	}
	conn, err := sqlconn.Open(context.Background(), w.paths, sqlconn.IndexWrite)
	if err != nil {
		return nil, err
	}
	w.conn = conn
	w.lastUsed = time.Now()
	return w.conn, nil
}

func (w *Writer) idleCheck() {
	if w.conn == nil {
		return
	}
	if time.Since(w.lastUsed) < w.cfg.IdleTimeout {
		return
	}
	w.cfg.Logger.Printf("indexwriter[%s]: closing idle connection", w.dbKey)
	w.closeConn()
}

func (w *Writer) closeConn() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
}
