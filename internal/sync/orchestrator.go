// Package sync coordinates draining of the offline operation queue.
// The orchestrator owns the single-flight sync loop: every trigger
// source (manual call, reconnect, background wake, polling tick,
// post-enqueue nudge) funnels into one consumer loop guarded by one
// syncing flag, so no two passes can interleave.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/opsquill/fieldops/backend/internal/logging"
	"github.com/opsquill/fieldops/backend/internal/models"
	"github.com/opsquill/fieldops/backend/internal/sync/connectivity"
	"github.com/opsquill/fieldops/backend/internal/sync/events"
	"github.com/opsquill/fieldops/backend/internal/sync/queue"
	"github.com/opsquill/fieldops/backend/internal/sync/trigger"
)

// Processor dispatches one queue item to the remote API. Satisfied by
// *processor.Processor.
type Processor interface {
	Process(ctx context.Context, item *models.QueueItem) error
}

// Result summarizes one sync pass, or explains why no pass ran.
type Result struct {
	Synced  int  `json:"synced"`
	Failed  int  `json:"failed"`
	Skipped bool `json:"skipped,omitempty"`
	Offline bool `json:"offline,omitempty"`
}

// triggerKind identifies the source of an internal sync trigger.
type triggerKind int

const (
	triggerOnline triggerKind = iota + 1
	triggerWake
	triggerEnqueue
)

const (
	// DefaultPollInterval is the fallback polling cadence when no other
	// trigger fires.
	DefaultPollInterval = 30 * time.Second
	// DefaultDebounceDelay coalesces bursts of enqueues and lets a fresh
	// connection stabilize before syncing.
	DefaultDebounceDelay = 2 * time.Second
)

// Options holds the orchestrator's injected dependencies and tuning.
type Options struct {
	Queue        *queue.Manager
	Processor    Processor
	Connectivity *connectivity.Monitor
	// Wake is optional; nil or an unsupported listener leaves the
	// polling fallback in charge of background catch-up.
	Wake trigger.Listener
	// Bus is the shared event bus; used to observe enqueues and to
	// report per-item progress.
	Bus *events.Bus

	PollInterval  time.Duration
	DebounceDelay time.Duration
}

// Orchestrator drives the queue drain. Each instance owns its mutable
// state; construct one per store, with explicit Start/Stop lifecycle.
type Orchestrator struct {
	queue *queue.Manager
	proc  Processor
	conn  *connectivity.Monitor
	wake  trigger.Listener
	bus   *events.Bus

	pollInterval  time.Duration
	debounceDelay time.Duration

	mu      sync.Mutex
	syncing bool
	running bool

	triggers chan triggerKind
	// stopCh is replaced on each Start; read it under mu.
	stopCh    chan struct{}
	wg        sync.WaitGroup
	connSubID int
	busSubID  int
}

// New creates an Orchestrator. Queue, Processor and Connectivity are
// required; Wake and Bus are optional.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		queue:         opts.Queue,
		proc:          opts.Processor,
		conn:          opts.Connectivity,
		wake:          opts.Wake,
		bus:           opts.Bus,
		pollInterval:  opts.PollInterval,
		debounceDelay: opts.DebounceDelay,
		triggers:      make(chan triggerKind, 8),
		stopCh:        make(chan struct{}),
	}
	if o.pollInterval <= 0 {
		o.pollInterval = DefaultPollInterval
	}
	if o.debounceDelay <= 0 {
		o.debounceDelay = DefaultDebounceDelay
	}
	return o
}

// Start wires the trigger sources and launches the consumer loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = true
	// Fresh stop channel each start so the orchestrator can be
	// restarted after Stop.
	o.stopCh = make(chan struct{})
	stopCh := o.stopCh
	o.mu.Unlock()

	o.connSubID = o.conn.Subscribe(func(online bool) {
		if online {
			o.push(triggerOnline)
		}
	})

	if o.bus != nil {
		o.busSubID = o.bus.Subscribe(func(e events.Event) {
			// Coalesce bursts of enqueues into one pass; offline enqueues
			// wait for the reconnect or polling trigger instead.
			if e.Type == events.Enqueued && o.conn.IsOnline() {
				o.push(triggerEnqueue)
			}
		})
	}

	if o.wake != nil && o.wake.Supported() {
		if err := o.wake.Start(ctx, func() { o.push(triggerWake) }); err != nil {
			// Registration is best-effort: a dead wake channel must not
			// take the polling fallback down with it.
			logging.Warn("Background wake registration failed",
				map[string]interface{}{"error": err.Error()})
		}
	}

	o.wg.Add(1)
	go o.run(ctx, stopCh)

	logging.Info("Sync orchestrator started",
		map[string]interface{}{"poll_interval": o.pollInterval.String()})
	return nil
}

// Stop tears down the trigger sources and waits for the consumer loop.
// A pass in flight finishes its current item and then exits.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return
	}
	o.running = false
	close(o.stopCh)
	o.mu.Unlock()

	o.conn.Unsubscribe(o.connSubID)
	if o.bus != nil {
		o.bus.Unsubscribe(o.busSubID)
	}
	if o.wake != nil {
		o.wake.Stop()
	}
	o.wg.Wait()

	logging.Info("Sync orchestrator stopped", nil)
}

// push hands a trigger to the consumer loop without blocking. A full
// channel means a pass is already due; triggers coalesce.
func (o *Orchestrator) push(t triggerKind) {
	select {
	case o.triggers <- t:
	default:
	}
}

// run is the single consumer loop all triggers funnel through.
func (o *Orchestrator) run(ctx context.Context, stopCh <-chan struct{}) {
	defer o.wg.Done()

	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return

		case t := <-o.triggers:
			if t == triggerOnline || t == triggerEnqueue {
				if !o.debounce(ctx, stopCh) {
					return
				}
			}
			o.runPass(ctx)

		case <-ticker.C:
			counts, err := o.queue.Counts()
			if err != nil {
				logging.Error("Polling tick failed to read queue counts", err)
				continue
			}
			// Failed items are eligible for dequeue just like pending ones.
			if counts.Pending+counts.Failed == 0 {
				continue
			}
			o.runPass(ctx)
		}
	}
}

// debounce waits out a burst of triggers, restarting the delay on each
// further debounced trigger. A wake trigger is never debounced and cuts
// the wait short. Returns false when shut down mid-wait.
func (o *Orchestrator) debounce(ctx context.Context, stopCh <-chan struct{}) bool {
	timer := time.NewTimer(o.debounceDelay)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return true
		case t := <-o.triggers:
			if t == triggerWake {
				return true
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(o.debounceDelay)
		case <-ctx.Done():
			return false
		case <-stopCh:
			return false
		}
	}
}

func (o *Orchestrator) runPass(ctx context.Context) {
	res, err := o.Sync(ctx)
	if err != nil {
		logging.Error("Sync pass aborted", err,
			map[string]interface{}{"synced": res.Synced, "failed": res.Failed})
		return
	}
	if res.Skipped || res.Offline {
		return
	}
	if res.Synced > 0 || res.Failed > 0 {
		logging.Info("Sync pass complete",
			map[string]interface{}{"synced": res.Synced, "failed": res.Failed})
	}
}

// Sync runs one drain pass. It returns {Offline: true} without
// touching any item when the device is offline, and {Skipped: true}
// when a pass is already in flight (single-flight). Per-item failures
// are recorded on the item and never abort the batch; only queue/store
// failures and cancellation do.
func (o *Orchestrator) Sync(ctx context.Context) (*Result, error) {
	if !o.conn.IsOnline() {
		return &Result{Offline: true}, nil
	}

	o.mu.Lock()
	if o.syncing {
		o.mu.Unlock()
		return &Result{Skipped: true}, nil
	}
	o.syncing = true
	stopCh := o.stopCh
	o.mu.Unlock()

	defer func() {
		o.mu.Lock()
		o.syncing = false
		o.mu.Unlock()
	}()

	res := &Result{}

	// Each pass attempts each item at most once: an item that fails
	// here stays in the queue for later passes, but this pass skips
	// past it and keeps draining the rest.
	var attempted []string

	for {
		// Cooperative cancellation boundary: checked between items, so
		// an in-flight call always settles and records its outcome.
		select {
		case <-ctx.Done():
			return res, ctx.Err()
		case <-stopCh:
			return res, nil
		default:
		}

		item, err := o.queue.DequeueNext(attempted...)
		if err != nil {
			return res, err
		}
		if item == nil {
			break
		}
		attempted = append(attempted, string(item.ID))

		if err := o.queue.MarkSyncing(string(item.ID)); err != nil {
			return res, err
		}
		o.publish(events.ProcessingStart, item)

		// The item's call runs on a detached context so cancellation
		// takes effect between items, never mid-request.
		perr := o.proc.Process(context.WithoutCancel(ctx), item)
		if perr == nil {
			if err := o.queue.MarkSuccess(string(item.ID)); err != nil {
				return res, err
			}
			res.Synced++
			o.publish(events.ProcessingComplete, item)
			continue
		}

		// The failed/dead transition and its event are the manager's.
		if err := o.queue.MarkFailed(string(item.ID), perr); err != nil {
			return res, err
		}
		res.Failed++
		logging.Warn("Queue item attempt failed",
			map[string]interface{}{
				"item_id": string(item.ID),
				"kind":    string(item.Kind),
				"attempt": item.RetryCount + 1,
				"error":   perr.Error(),
			})
	}

	return res, nil
}

func (o *Orchestrator) publish(t events.Type, item *models.QueueItem) {
	if o.bus == nil {
		return
	}
	o.bus.Publish(events.Event{
		Type:            t,
		ItemID:          string(item.ID),
		Kind:            item.Kind,
		RelatedEntityID: item.RelatedEntityID,
		RetryCount:      item.RetryCount,
	})
}
