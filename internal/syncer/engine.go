// Package syncer drains the till's outbox to the cloud.
//
// Delivery is at-least-once: a batch is marked sent only after the cloud
// acknowledged it, so a push that fails or times out is sent again on the
// next run with the same item identifiers. The cloud applies batches
// idempotently, which turns at-least-once into effectively-once.
//
// The engine never blocks till operations. It reads a batch, releases the
// store, pushes over the network, and only then takes the store again to
// mark the batch sent.
//
// One drain runs at a time per database file, across processes: a run holds
// the store's sync lease for the duration of each push and renews it per
// batch. A daemon started with Run also watches the outbox sequence, so
// commits made by other processes wake it without a push of their own.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/roach88/tillpos/internal/domain"
	"github.com/roach88/tillpos/internal/logging"
	"github.com/roach88/tillpos/internal/store"
	"github.com/roach88/tillpos/internal/syncwire"
)

// Defaults.
const (
	DefaultInterval  = 30 * time.Second
	DefaultBatchSize = 100
	DefaultTimeout   = 15 * time.Second
	DefaultWatch     = 2 * time.Second

	// leaseSlack is how long a lease outlives the push it covers, so a
	// crashed holder blocks other drains for at most timeout+leaseSlack.
	leaseSlack = 30 * time.Second
)

// ErrRunInProgress is returned by RunOnce while another run, in this
// process or another one sharing the database, is draining.
var ErrRunInProgress = errors.New("sync run already in progress")

// Pusher sends one batch to the cloud.
type Pusher interface {
	Push(ctx context.Context, req syncwire.PushRequest) (syncwire.PushResponse, error)
}

// RejectedError is a batch the cloud answered with success=false.
type RejectedError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RejectedError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("push rejected (%d %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("push rejected (%s): %s", e.Code, e.Message)
}

// Status is the advisory connectivity indicator shown on the till.
type Status struct {
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
	LastError   string    `json:"last_error,omitempty"`
	Pending     int       `json:"pending"`
	Online      bool      `json:"online"`
}

// Engine drains the outbox in batches.
//
// Thread-safety model:
//   - PushNow(), Status(): safe from any goroutine
//   - RunOnce(): safe from any goroutine; concurrent calls get ErrRunInProgress
//   - Run(): call from one goroutine
type Engine struct {
	store     *store.Store
	pusher    Pusher
	clock     domain.Clock
	logger    *logrus.Logger
	interval  time.Duration
	watch     time.Duration
	batchSize int
	timeout   time.Duration
	owner     string

	running atomic.Bool
	signal  chan struct{} // buffered, size 1: coalesces PushNow calls

	mu     sync.Mutex
	status Status
}

// Option configures an Engine.
type Option func(*Engine)

// WithInterval sets how often Run drains without being asked.
func WithInterval(d time.Duration) Option {
	return func(e *Engine) { e.interval = d }
}

// WithWatch sets how often Run polls the outbox for entries appended by
// other processes. Zero disables polling.
func WithWatch(d time.Duration) Option {
	return func(e *Engine) { e.watch = d }
}

// WithBatchSize sets the maximum number of entries per push.
func WithBatchSize(n int) Option {
	return func(e *Engine) { e.batchSize = n }
}

// WithTimeout bounds a single push.
func WithTimeout(d time.Duration) Option {
	return func(e *Engine) { e.timeout = d }
}

// WithClock sets the clock used for sent_at and status times.
func WithClock(c domain.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *logrus.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New creates an Engine that drains st through p.
func New(st *store.Store, p Pusher, opts ...Option) *Engine {
	e := &Engine{
		store:     st,
		pusher:    p,
		clock:     domain.SystemClock{},
		logger:    logging.Discard(),
		interval:  DefaultInterval,
		watch:     DefaultWatch,
		batchSize: DefaultBatchSize,
		timeout:   DefaultTimeout,
		owner:     uuid.NewString(),
		signal:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.batchSize <= 0 {
		e.batchSize = DefaultBatchSize
	}
	return e
}

// PushNow asks Run to drain as soon as possible. Calls made while a wakeup
// is already pending collapse into it.
func (e *Engine) PushNow() {
	select {
	case e.signal <- struct{}{}:
	default:
	}
}

// Run drains on start, on every interval tick, on PushNow and whenever the
// outbox sequence moves, until ctx is cancelled. Push failures are logged and
// retried on the next wakeup; they never stop the loop.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.WithFields(logrus.Fields{
		"interval":   e.interval.String(),
		"watch":      e.watch.String(),
		"batch_size": e.batchSize,
	}).Info("sync engine starting")

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	var watch <-chan time.Time
	if e.watch > 0 {
		w := time.NewTicker(e.watch)
		defer w.Stop()
		watch = w.C
	}

	for {
		seen, _ := e.lastSeq(ctx)
		if _, err := e.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) && ctx.Err() == nil {
			e.logger.WithError(err).Debug("sync run ended early")
		}

		if !e.wait(ctx, ticker.C, watch, seen) {
			e.logger.Info("sync engine stopped")
			return ctx.Err()
		}
	}
}

// wait blocks until the next drain is due. It returns false once ctx is done.
func (e *Engine) wait(ctx context.Context, tick, watch <-chan time.Time, seen int64) bool {
	for {
		select {
		case <-ctx.Done():
			return false
		case <-tick:
			return true
		case <-e.signal:
			return true
		case <-watch:
			if seq, ok := e.lastSeq(ctx); ok && seq != seen {
				return true
			}
		}
	}
}

func (e *Engine) lastSeq(ctx context.Context) (int64, bool) {
	seq, err := e.store.LastSyncSeq(ctx)
	if err != nil {
		logging.LogError(e.logger, "syncer", "lastSeq", "read outbox sequence", nil, err)
		return 0, false
	}
	return seq, true
}

// RunOnce drains the outbox until it is empty or a push fails, and returns
// how many entries were acknowledged. Entries of a failed push stay queued.
func (e *Engine) RunOnce(ctx context.Context) (int, error) {
	if !e.running.CompareAndSwap(false, true) {
		return 0, ErrRunInProgress
	}
	defer e.running.Store(false)

	if err := e.claim(ctx); err != nil {
		return 0, err
	}
	defer e.release()

	sent := 0
	for {
		entries, err := e.store.PendingSyncLog(ctx, e.batchSize)
		if err != nil {
			return sent, e.fail(ctx, err, 0)
		}
		if len(entries) == 0 {
			e.refreshPending(ctx)
			return sent, nil
		}
		if sent > 0 {
			if err := e.claim(ctx); err != nil {
				return sent, err
			}
		}

		e.mu.Lock()
		e.status.LastAttempt = e.clock.Now()
		e.mu.Unlock()

		if err := e.push(ctx, entries); err != nil {
			return sent, e.fail(ctx, err, len(entries))
		}

		ids := make([]string, len(entries))
		for i, entry := range entries {
			ids[i] = entry.ID
		}
		if _, err := e.store.MarkSent(ctx, ids, e.clock.Now()); err != nil {
			// The batch reached the cloud; it is resent next run and
			// applied idempotently there.
			return sent, e.fail(ctx, err, len(entries))
		}
		sent += len(entries)

		e.mu.Lock()
		e.status.LastSuccess = e.clock.Now()
		e.status.LastError = ""
		e.status.Online = true
		e.mu.Unlock()

		e.logger.WithFields(logrus.Fields{
			"count":     len(entries),
			"first_seq": entries[0].Seq,
			"last_seq":  entries[len(entries)-1].Seq,
		}).Debug("sync batch acknowledged")

		if len(entries) < e.batchSize {
			e.refreshPending(ctx)
			return sent, nil
		}
	}
}

// claim takes or renews the store's drain lease for one more push. The
// lease is shared with other processes, so it runs on wall-clock time.
func (e *Engine) claim(ctx context.Context) error {
	ok, err := e.store.AcquireSyncLease(ctx, e.owner, time.Now(), e.timeout+leaseSlack)
	if err != nil {
		return e.fail(ctx, err, 0)
	}
	if !ok {
		e.logger.WithField("owner", e.owner).Debug("outbox drained by another process")
		return ErrRunInProgress
	}
	return nil
}

// release frees the lease even when the run's context was cancelled.
func (e *Engine) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.store.ReleaseSyncLease(ctx, e.owner); err != nil {
		logging.LogError(e.logger, "syncer", "release", "release sync lease", nil, err)
	}
}

func (e *Engine) push(ctx context.Context, entries []domain.SyncLogEntry) error {
	pushCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.pusher.Push(pushCtx, syncwire.NewRequest(entries))
	if err != nil {
		return err
	}
	if !resp.Success {
		rej := &RejectedError{Code: syncwire.CodeInternal, Message: "unsuccessful response"}
		if resp.Error != nil {
			rej.Code, rej.Message = resp.Error.Code, resp.Error.Message
		}
		return rej
	}
	return nil
}

func (e *Engine) fail(ctx context.Context, err error, batch int) error {
	e.mu.Lock()
	e.status.LastError = err.Error()
	e.status.Online = false
	e.mu.Unlock()
	e.refreshPending(ctx)

	e.logger.WithFields(logrus.Fields{
		"module":     "syncer",
		"batch_size": batch,
	}).WithError(err).Warn("sync push failed; entries stay queued")
	return err
}

func (e *Engine) refreshPending(ctx context.Context) {
	n, err := e.store.PendingCount(ctx)
	if err != nil {
		logging.LogError(e.logger, "syncer", "refreshPending", "pending count", nil, err)
		return
	}
	e.mu.Lock()
	e.status.Pending = n
	e.mu.Unlock()
}

// Status returns the latest connectivity indicator.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// Prune deletes acknowledged entries older than retention. Unsent entries
// are never pruned.
func (e *Engine) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	n, err := e.store.PruneSyncLog(ctx, e.clock.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		e.logger.WithField("count", n).Info("pruned sent sync entries")
	}
	return n, nil
}
