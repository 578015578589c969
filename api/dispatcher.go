package api

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	log "github.com/sirupsen/logrus"

	"github.com/idejanristic/tierListMaker/domain"
)

var (
	// ErrSaturated is returned when a worker queue stayed full for the whole
	// handoff timeout.
	ErrSaturated = errors.New("event dispatcher saturated")
	// ErrDispatcherClosed is returned after Close.
	ErrDispatcherClosed = errors.New("event dispatcher closed")
)

// CommitFunc is called by the worker that owns a board after every event
// that committed a new state, in commit order.
type CommitFunc func(userID string, board *domain.Board, st domain.State)

// PublishCommits returns a CommitFunc that wakes the user's streams and,
// when store is not nil, stores the committed snapshot.
func PublishCommits(broker *Broker, store SnapshotStore, logger *log.Logger) CommitFunc {
	return func(userID string, board *domain.Board, st domain.State) {
		if broker != nil {
			broker.Notify(userID)
		}
		if store == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := store.Store(ctx, userID, domain.NewSnapshot(board.Registry(), st)); err != nil && logger != nil {
			logger.WithFields(log.Fields{"user": userID, "version": st.Version}).Errorf("publish snapshot: %v", err)
		}
	}
}

// BatchResult is the outcome of one submitted batch.
type BatchResult struct {
	State   domain.State
	Applied int
}

type eventJob struct {
	userID string
	board  *domain.Board
	events []domain.Event
	reply  chan BatchResult
}

// Dispatcher serialises events per board. Each user is pinned to one worker
// goroutine, so the events of a board are applied one at a time and in the
// order they were accepted.
type Dispatcher struct {
	shards   []chan eventJob
	handoff  time.Duration
	onCommit CommitFunc
	log      *log.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewDispatcher starts workers goroutines, each with a queue of buffer jobs.
func NewDispatcher(workers, buffer int, handoff time.Duration, logger *log.Logger, onCommit CommitFunc) *Dispatcher {
	if logger == nil {
		panic("Logger is not initialized")
	}
	if workers <= 0 {
		workers = 1
	}
	if buffer < 0 {
		buffer = 0
	}
	d := &Dispatcher{
		shards:   make([]chan eventJob, workers),
		handoff:  handoff,
		onCommit: onCommit,
		log:      logger,
	}
	for i := range d.shards {
		d.shards[i] = make(chan eventJob, buffer)
		d.wg.Add(1)
		go d.worker(i, d.shards[i])
	}
	logger.Infof("event dispatcher started, workers: %d, buffer: %d, handoff: %v", workers, buffer, handoff)
	return d
}

func (d *Dispatcher) worker(id int, jobs <-chan eventJob) {
	defer d.wg.Done()
	for j := range jobs {
		var res BatchResult
		res.State = j.board.State()
		for _, ev := range j.events {
			st, changed := j.board.Apply(ev)
			res.State = st
			if !changed {
				continue
			}
			res.Applied++
			if d.onCommit != nil {
				d.onCommit(j.userID, j.board, st)
			}
		}
		d.log.WithFields(log.Fields{
			"user":    j.userID,
			"worker":  id,
			"events":  len(j.events),
			"applied": res.Applied,
			"version": res.State.Version,
		}).Debug("event batch applied")
		j.reply <- res
	}
}

// Submit queues events for the board of userID and waits until they have
// been applied or ctx is done. Events already handed to a worker are applied
// even if ctx ends first.
func (d *Dispatcher) Submit(ctx context.Context, userID string, board *domain.Board, events []domain.Event) (BatchResult, error) {
	job := eventJob{userID: userID, board: board, events: events, reply: make(chan BatchResult, 1)}
	if err := d.enqueue(job); err != nil {
		return BatchResult{}, err
	}
	select {
	case res := <-job.reply:
		return res, nil
	case <-ctx.Done():
		return BatchResult{}, ctx.Err()
	}
}

func (d *Dispatcher) enqueue(job eventJob) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	ch := d.shards[d.shardFor(job.userID)]

	select {
	case ch <- job:
		return nil
	default:
	}
	if d.handoff <= 0 {
		return ErrSaturated
	}
	timer := time.NewTimer(d.handoff)
	defer timer.Stop()
	select {
	case ch <- job:
		return nil
	case <-timer.C:
		return ErrSaturated
	}
}

func (d *Dispatcher) shardFor(userID string) int {
	return int(xxhash.Sum64String(userID) % uint64(len(d.shards)))
}

// Close stops accepting events, lets workers drain their queues and waits
// for them to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	for _, ch := range d.shards {
		close(ch)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

// Closed reports whether Close has been called.
func (d *Dispatcher) Closed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}
