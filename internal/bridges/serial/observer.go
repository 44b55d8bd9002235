package serial

import (
	"fmt"
	"sync"
	"sync/atomic"
)

// defaultObserverQueueSize is the outcome buffer of an AsyncObserver.
const defaultObserverQueueSize = 100

// AsyncObserver moves outcome handling off the engine goroutine.
//
// Outcomes are queued to a single worker. When the queue is full the outcome
// is dropped and counted so the engine never blocks on slow I/O.
type AsyncObserver struct {
	name    string
	next    OutcomeObserver
	queue   chan Outcome
	done    *closeOnce
	wg      sync.WaitGroup
	logger  Logger
	dropped atomic.Uint64
}

// NewAsyncObserver starts a worker delivering outcomes to next.
func NewAsyncObserver(name string, next OutcomeObserver, queueSize int, logger Logger) *AsyncObserver {
	if queueSize <= 0 {
		queueSize = defaultObserverQueueSize
	}
	if logger == nil {
		logger = noopLogger{}
	}
	a := &AsyncObserver{
		name:   name,
		next:   next,
		queue:  make(chan Outcome, queueSize),
		done:   newCloseOnce(),
		logger: logger,
	}
	a.wg.Add(1)
	go a.worker()
	return a
}

// OnOutcome queues o without blocking.
func (a *AsyncObserver) OnOutcome(o Outcome) {
	select {
	case <-a.done.Done():
		a.dropped.Add(1)
		return
	default:
	}

	select {
	case a.queue <- o:
	default:
		a.dropped.Add(1)
		a.logger.Warn("outcome queue full, dropping outcome",
			"observer", a.name,
			"device", o.DeviceID,
			"metric", o.MetricName,
			"status", string(o.Status),
		)
	}
}

// Dropped returns the number of outcomes dropped so far.
func (a *AsyncObserver) Dropped() uint64 {
	return a.dropped.Load()
}

// Close stops the worker after delivering already queued outcomes.
func (a *AsyncObserver) Close() {
	a.done.Close()
	a.wg.Wait()
}

func (a *AsyncObserver) worker() {
	defer a.wg.Done()
	for {
		select {
		case o := <-a.queue:
			a.deliver(o)
		case <-a.done.Done():
			for {
				select {
				case o := <-a.queue:
					a.deliver(o)
				default:
					return
				}
			}
		}
	}
}

func (a *AsyncObserver) deliver(o Outcome) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("outcome observer panicked", "observer", a.name, "panic", fmt.Sprint(r))
		}
	}()
	a.next.OnOutcome(o)
}
