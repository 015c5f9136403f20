package consumer

import (
	"context"
	"fmt"
	"sync"

	"github.com/chris-alexander-pop/eventuate-tram-go/eventuate"
	"github.com/chris-alexander-pop/eventuate-tram-go/pkg/logger"
	"golang.org/x/sync/errgroup"
)

// swimlaneTask is one queued unit of work: a message to run through the
// chain, and the completion callback that reports the outcome back to
// the broker consumer for offset tracking (§4.4).
type swimlaneTask struct {
	ctx      context.Context
	msg      eventuate.Message
	complete func(error)
}

// swimlane is a single-writer FIFO dispatcher for one partition (§3,
// §4.4). At most one worker goroutine runs its loop at a time; the
// queue is drained strictly in enqueue order.
type swimlane struct {
	mu      sync.Mutex
	queue   []swimlaneTask
	running bool
	stopped bool
	cancel  context.CancelFunc
	done    chan struct{}

	chain Next
}

func newSwimlane(chain Next) *swimlane {
	return &swimlane{chain: chain}
}

// dispatch enqueues task and, if no worker is currently running,
// starts one (§4.4 "Dispatch"). Returns false if the swimlane is
// stopped, in which case the caller treats the message as dropped (it
// will be redelivered since its offset was never committed).
func (s *swimlane) dispatch(task swimlaneTask) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return false
	}
	s.queue = append(s.queue, task)

	if !s.running {
		s.running = true
		ctx, cancel := context.WithCancel(context.Background())
		s.cancel = cancel
		s.done = make(chan struct{})
		go s.run(ctx)
	}
	return true
}

// run is the worker loop. It dequeues strictly in order, invoking the
// chain for each task, until the queue is observed empty under the
// mutex -- the two-phase check from §4.4 that eliminates the race
// between a producer enqueuing and the worker deciding to exit.
func (s *swimlane) run(ctx context.Context) {
	defer close(s.done)

	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		task := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		if ctx.Err() != nil {
			logger.L().WarnContext(task.ctx, "swimlane stopped before message was started, abandoning",
				"message_id", task.msg.ID())
			task.complete(ctx.Err())
			continue
		}

		err := s.invoke(ctx, task)
		task.complete(err)
		if err != nil {
			// §4.4: the worker exits without advancing past this message.
			// The swimlane marks itself stopped, so later dispatch calls
			// are rejected, and completes every task still queued behind
			// the failed one with an error, without running it.
			logger.L().ErrorContext(task.ctx, "handler chain failed, swimlane worker exiting",
				"message_id", task.msg.ID(), "error", err)
			s.mu.Lock()
			s.running = false
			s.stopped = true
			abandoned := s.queue
			s.queue = nil
			s.mu.Unlock()
			for _, t := range abandoned {
				t.complete(fmt.Errorf("swimlane halted after an earlier message failed: %w", err))
			}
			return
		}
	}
}

// invoke runs task through the chain under a context derived from
// task.ctx (preserving any values/deadline the broker attached) but
// also canceled when workerCtx is, so forceCancel can interrupt an
// already-running handler rather than only blocking future dispatches.
func (s *swimlane) invoke(workerCtx context.Context, task swimlaneTask) (err error) {
	taskCtx, cancel := context.WithCancel(task.ctx)
	defer cancel()
	stop := context.AfterFunc(workerCtx, cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			logger.L().ErrorContext(task.ctx, "handler chain panicked", "message_id", task.msg.ID(), "panic", r)
			err = recoveredPanicError(r)
		}
	}()
	return s.chain(taskCtx, task.msg)
}

// stop marks the swimlane stopped so future dispatch calls are
// rejected, then waits for any running worker to return. If cancelNow
// is true (CancelCurrent shutdown mode) the worker's context is
// canceled immediately; otherwise (WaitForCompletion) the in-flight
// task is left to finish on its own and forceCancel is the only way to
// interrupt it later. Idempotent after the first call (§4.4, §8
// "idempotent shutdown").
func (s *swimlane) stop(cancelNow bool) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel := s.cancel
	done := s.done
	wasRunning := s.running
	s.mu.Unlock()

	if cancelNow && cancel != nil {
		cancel()
	}
	if wasRunning && done != nil {
		<-done
	}
}

// forceCancel cancels the worker's context regardless of shutdown
// mode. Used to escalate a WaitForCompletion shutdown past its
// configured timeout (SPEC_FULL.md "WithShutdownTimeout").
func (s *swimlane) forceCancel() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// swimlaneSet is the lazily-populated partitionNumber -> swimlane
// mapping owned by one subscription's broker consumer (§4.4). It is
// populated only through RecordHandler calls, which the Broker makes
// one at a time, so map access needs no synchronization beyond that
// ownership discipline; see §5.
type swimlaneSet struct {
	chain  Next
	lanes  map[int32]*swimlane
}

func newSwimlaneSet(chain Next) *swimlaneSet {
	return &swimlaneSet{chain: chain, lanes: make(map[int32]*swimlane)}
}

func (s *swimlaneSet) laneFor(partition int32) *swimlane {
	lane, ok := s.lanes[partition]
	if !ok {
		lane = newSwimlane(s.chain)
		s.lanes[partition] = lane
	}
	return lane
}

// dispatch routes task to the swimlane for partition, creating it if
// necessary.
func (s *swimlaneSet) dispatch(partition int32, task swimlaneTask) bool {
	return s.laneFor(partition).dispatch(task)
}

// stopAll stops every swimlane concurrently so a wait-for-completion
// shutdown's latency is bounded by the slowest single lane, not the
// sum of all of them (§5).
func (s *swimlaneSet) stopAll(cancelNow bool) {
	var g errgroup.Group
	for _, lane := range s.lanes {
		lane := lane
		g.Go(func() error {
			lane.stop(cancelNow)
			return nil
		})
	}
	_ = g.Wait()
}

// forceCancelAll cancels every swimlane's worker context regardless of
// shutdown mode; see swimlane.forceCancel.
func (s *swimlaneSet) forceCancelAll() {
	for _, lane := range s.lanes {
		lane.forceCancel()
	}
}

type panicError struct{ value any }

func recoveredPanicError(v any) error { return &panicError{value: v} }

func (e *panicError) Error() string {
	return fmt.Sprintf("panic recovered in handler chain: %v", e.value)
}
